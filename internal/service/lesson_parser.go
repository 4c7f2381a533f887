package service

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/jangxam/api/internal/model"
)

var ErrUnparseable = errors.New("generated text does not contain a lesson plan")

// text accepts the loose shapes models emit for prose fields: a string, a
// list of strings, a number or a nested object.
type text string

func (t *text) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = text(strings.TrimSpace(s))
		return nil
	}
	var list []text
	if err := json.Unmarshal(data, &list); err == nil {
		parts := make([]string, 0, len(list))
		for _, item := range list {
			if item != "" {
				parts = append(parts, string(item))
			}
		}
		*t = text(strings.Join(parts, "\n"))
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*t = text(strconv.FormatFloat(n, 'f', -1, 64))
		return nil
	}
	if string(data) == "null" {
		*t = ""
		return nil
	}
	*t = text(strings.TrimSpace(string(data)))
	return nil
}

type rawStep struct {
	Teacher  text `json:"enseignant"`
	Students text `json:"eleves"`
}

type rawProgress struct {
	Situation      rawStep `json:"miseEnSituation"`
	PriorKnowledge rawStep `json:"explorationAcquis"`
	Construction   rawStep `json:"constructionSavoir"`
	Deepening      rawStep `json:"approfondissement"`
	Production     rawStep `json:"production"`
	Evaluation     rawStep `json:"evaluation"`
}

type rawMultipleChoice struct {
	Question      text   `json:"question"`
	Options       []text `json:"options"`
	CorrectAnswer text   `json:"reponseCorrecte"`
}

type rawFillInTheBlank struct {
	Text   text `json:"texte"`
	Answer text `json:"reponse"`
}

type rawApplication struct {
	Instructions text `json:"consigne"`
	SampleAnswer text `json:"exempleReponse"`
}

type rawExercises struct {
	MultipleChoice *rawMultipleChoice `json:"qcm"`
	FillInTheBlank *rawFillInTheBlank `json:"texteATrous"`
	Application    *rawApplication    `json:"exerciceApplication"`
}

type rawLessonPlan struct {
	Title                 text          `json:"titre"`
	Level                 text          `json:"niveau"`
	Stage                 text          `json:"etape"`
	Activities            text          `json:"activites"`
	Number                text          `json:"numero"`
	Duration              text          `json:"duree"`
	Date                  text          `json:"date"`
	BaseCompetency        text          `json:"competenceBase"`
	Tier                  text          `json:"palier"`
	LearningObjective     text          `json:"objectifApprentissage"`
	LearningObjectiveAlt  text          `json:"objectifDApprentissage"`
	SpecificObjectives    text          `json:"objectifsSpecifiques"`
	SpecificObjectivesAlt text          `json:"objectifSpecifique"`
	Content               text          `json:"contenu"`
	TeachingMethods       text          `json:"moyensPedagogiques"`
	Materials             text          `json:"moyensMateriels"`
	Documentation         text          `json:"documentation"`
	LessonObjective       text          `json:"objectifLecon"`
	LessonObjectiveAlt    text          `json:"objectifDeLaLecon"`
	Progress              *rawProgress  `json:"deroulementLecon"`
	Exercises             *rawExercises `json:"exercices"`
}

// ParseLessonPlan extracts a lesson plan from generated text. The whole text
// is tried as JSON first, then the outermost {...} fragment. Anything else is
// ErrUnparseable.
func ParseLessonPlan(generated string, req *model.LessonPlanRequest, now time.Time) (*model.LessonPlan, error) {
	trimmed := trimCodeFence(generated)
	if trimmed == "" {
		return nil, ErrUnparseable
	}

	var raw rawLessonPlan
	if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
		fragment, ok := extractJSONObject(trimmed)
		if !ok {
			return nil, ErrUnparseable
		}
		raw = rawLessonPlan{}
		if err := json.Unmarshal([]byte(fragment), &raw); err != nil {
			return nil, ErrUnparseable
		}
	}

	return raw.toLessonPlan(req, now), nil
}

func (r *rawLessonPlan) toLessonPlan(req *model.LessonPlanRequest, now time.Time) *model.LessonPlan {
	plan := &model.LessonPlan{
		Title:              first(r.Title, req.Title),
		Level:              first(r.Level, req.Level),
		Stage:              first(r.Stage, req.Stage),
		Activities:         first(r.Activities, req.Activities),
		Number:             first(r.Number, req.Number),
		Duration:           first(r.Duration, req.Duration),
		Date:               first(r.Date, req.Date, now.Format("2006-01-02")),
		BaseCompetency:     string(r.BaseCompetency),
		Tier:               first(r.Tier, req.Tier),
		LearningObjective:  first(r.LearningObjective, string(r.LearningObjectiveAlt)),
		SpecificObjectives: first(r.SpecificObjectives, string(r.SpecificObjectivesAlt)),
		Content:            string(r.Content),
		TeachingMethods:    string(r.TeachingMethods),
		Materials:          string(r.Materials),
		Documentation:      string(r.Documentation),
		LessonObjective:    first(r.LessonObjective, string(r.LessonObjectiveAlt)),
	}

	if p := r.Progress; p != nil {
		plan.Progress = model.LessonProgress{
			Situation:      p.Situation.toStep(),
			PriorKnowledge: p.PriorKnowledge.toStep(),
			Construction:   p.Construction.toStep(),
			Deepening:      p.Deepening.toStep(),
			Production:     p.Production.toStep(),
			Evaluation:     p.Evaluation.toStep(),
		}
	}

	plan.Exercises.MultipleChoice.Options = []string{"", "", "", ""}
	if e := r.Exercises; e != nil {
		if q := e.MultipleChoice; q != nil {
			plan.Exercises.MultipleChoice.Question = string(q.Question)
			plan.Exercises.MultipleChoice.CorrectAnswer = string(q.CorrectAnswer)
			if len(q.Options) > 0 {
				options := make([]string, len(q.Options))
				for i, o := range q.Options {
					options[i] = string(o)
				}
				plan.Exercises.MultipleChoice.Options = options
			}
		}
		if f := e.FillInTheBlank; f != nil {
			plan.Exercises.FillInTheBlank = model.FillInTheBlank{Text: string(f.Text), Answer: string(f.Answer)}
		}
		if a := e.Application; a != nil {
			plan.Exercises.Application = model.ApplicationExercise{Instructions: string(a.Instructions), SampleAnswer: string(a.SampleAnswer)}
		}
	}

	return plan
}

func (s rawStep) toStep() model.TeachingStep {
	return model.TeachingStep{Teacher: string(s.Teacher), Students: string(s.Students)}
}

// first returns the first non-empty value.
func first(primary text, fallbacks ...string) string {
	if primary != "" {
		return string(primary)
	}
	for _, f := range fallbacks {
		if f = strings.TrimSpace(f); f != "" {
			return f
		}
	}
	return ""
}

// extractJSONObject returns the span from the first '{' to the last '}'.
func extractJSONObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

func trimCodeFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
