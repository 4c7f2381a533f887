package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jangxam/api/internal/model"
)

// TextGenerator produces free text from a prompt
type TextGenerator interface {
	GenerateText(ctx context.Context, credential, prompt string) (string, error)
}

// LessonService drafts lesson plans with a text generation model
type LessonService struct {
	generator TextGenerator
	now       func() time.Time
	log       zerolog.Logger
}

func NewLessonService(generator TextGenerator, log zerolog.Logger) *LessonService {
	return &LessonService{
		generator: generator,
		now:       time.Now,
		log:       log.With().Str("component", "lessons").Logger(),
	}
}

// Generate drafts a lesson plan for req. Output the parser cannot read is
// reported as ErrUnparseable.
func (s *LessonService) Generate(ctx context.Context, credential string, req *model.LessonPlanRequest) (*model.LessonPlan, error) {
	generated, err := s.generator.GenerateText(ctx, credential, buildLessonPrompt(req))
	if err != nil {
		return nil, fmt.Errorf("lesson generation failed: %w", err)
	}

	plan, err := ParseLessonPlan(generated, req, s.now())
	if err != nil {
		s.log.Warn().Int("response_len", len(generated)).Str("title", req.Title).Msg("unparseable lesson plan")
		return nil, err
	}

	s.log.Info().Str("title", plan.Title).Str("level", plan.Level).Msg("lesson plan generated")
	return plan, nil
}

func buildLessonPrompt(req *model.LessonPlanRequest) string {
	return fmt.Sprintf(`Génère une fiche pédagogique détaillée conforme au programme scolaire sénégalais pour le niveau %[1]s, avec le titre "%[2]s".
Adapte les contenus à la réalité éducative du Sénégal en intégrant des exemples du quotidien, des références culturelles et des contextes locaux.

Format requis:
- Étape: %[3]s
- Niveau: %[1]s (Préciser le contexte scolaire)
- Activités: %[4]s
- N°: %[5]s
- Durée: %[6]s
- Date: %[7]s

Inclure:
- Compétence de base: Identifier la compétence à développer selon les référentiels sénégalais.
- Palier %[8]s: Identifier la compétence à développer dans le palier selon les référentiels sénégalais.
- Objectif d'apprentissage (OA): Définir l'objectif global de la leçon.
- Objectif spécifique (OS): Détail des compétences précises à acquérir.
- Contenu: Présenter les notions abordées.
- Moyens pédagogiques: Indiquer les méthodes utilisées (discussion, observation, jeux éducatifs, etc.).
- Moyens matériels: Mentionner les ressources nécessaires (ardoises, images, contes africains, objets du quotidien, etc.).
- Documentation: Lister les documents de référence utilisés (manuel scolaire, guide pédagogique, etc.).
- Objectif de la leçon: Expliquer ce que les élèves doivent être capables de faire après la leçon.

Déroulement de la leçon:
Structuré en 6 étapes (mise en situation, exploration des acquis, construction du savoir, approfondissement, production, évaluation) avec pour chacune les activités de l'enseignant et des élèves.

Exercices:
- QCM avec question et 4 options (une correcte)
- Texte à trous
- Exercice d'application avec exemple de réponse correcte

Réponds uniquement en JSON avec les clés: titre, niveau, etape, activites, numero, duree, date, competenceBase, palier, objectifApprentissage, objectifsSpecifiques, contenu, moyensPedagogiques, moyensMateriels, documentation, objectifLecon, deroulementLecon {miseEnSituation, explorationAcquis, constructionSavoir, approfondissement, production, evaluation: {enseignant, eleves}}, exercices {qcm {question, options, reponseCorrecte}, texteATrous {texte, reponse}, exerciceApplication {consigne, exempleReponse}}.`,
		req.Level, req.Title, req.Stage, req.Activities, req.Number, req.Duration, req.Date, req.Tier)
}
