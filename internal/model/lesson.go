package model

// LessonPlanRequest describes the lesson plan ("fiche pédagogique") to draft
type LessonPlanRequest struct {
	Level      string `json:"level" validate:"required,max=100"`
	Title      string `json:"title" validate:"required,max=300"`
	Stage      string `json:"stage,omitempty" validate:"max=100"`
	Activities string `json:"activities,omitempty" validate:"max=300"`
	Number     string `json:"number,omitempty" validate:"max=20"`
	Duration   string `json:"duration,omitempty" validate:"max=50"`
	Date       string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Tier       string `json:"tier,omitempty" validate:"max=100"`
}

// TeachingStep pairs teacher and student activities for one lesson phase
type TeachingStep struct {
	Teacher  string `json:"teacher"`
	Students string `json:"students"`
}

// LessonProgress is the six-phase lesson sequence
type LessonProgress struct {
	Situation      TeachingStep `json:"situation"`
	PriorKnowledge TeachingStep `json:"priorKnowledge"`
	Construction   TeachingStep `json:"construction"`
	Deepening      TeachingStep `json:"deepening"`
	Production     TeachingStep `json:"production"`
	Evaluation     TeachingStep `json:"evaluation"`
}

type MultipleChoice struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
}

type FillInTheBlank struct {
	Text   string `json:"text"`
	Answer string `json:"answer"`
}

type ApplicationExercise struct {
	Instructions string `json:"instructions"`
	SampleAnswer string `json:"sampleAnswer"`
}

type Exercises struct {
	MultipleChoice MultipleChoice      `json:"multipleChoice"`
	FillInTheBlank FillInTheBlank      `json:"fillInTheBlank"`
	Application    ApplicationExercise `json:"application"`
}

// LessonPlan is a structured lesson plan following the Senegalese curriculum
type LessonPlan struct {
	Title              string         `json:"title"`
	Level              string         `json:"level"`
	Stage              string         `json:"stage"`
	Activities         string         `json:"activities"`
	Number             string         `json:"number"`
	Duration           string         `json:"duration"`
	Date               string         `json:"date"`
	BaseCompetency     string         `json:"baseCompetency"`
	Tier               string         `json:"tier"`
	LearningObjective  string         `json:"learningObjective"`
	SpecificObjectives string         `json:"specificObjectives"`
	Content            string         `json:"content"`
	TeachingMethods    string         `json:"teachingMethods"`
	Materials          string         `json:"materials"`
	Documentation      string         `json:"documentation"`
	LessonObjective    string         `json:"lessonObjective"`
	Progress           LessonProgress `json:"progress"`
	Exercises          Exercises      `json:"exercises"`
}
