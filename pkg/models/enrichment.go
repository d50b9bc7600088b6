package models

// Difficulty labels form a closed set; anything else the model emits is
// coerced to intermedio.
const (
	DifficultyPrincipiante = "principiante"
	DifficultyIntermedio   = "intermedio"
	DifficultyAvanzado     = "avanzado"
)

// NormalizeDifficulty maps an arbitrary model-emitted label into the
// closed difficulty set.
func NormalizeDifficulty(label string) string {
	switch label {
	case DifficultyPrincipiante, DifficultyIntermedio, DifficultyAvanzado:
		return label
	default:
		return DifficultyIntermedio
	}
}

// ExerciseEnrichment is the structured expansion of a terse exercise
// description. It replaces the free-text instructions of every row that
// shares the enriched exercise name.
type ExerciseEnrichment struct {
	Summary        string           `json:"summary"`
	Steps          []EnrichmentStep `json:"steps"`
	KeyPoints      []string         `json:"key_points"`
	CommonMistakes []string         `json:"common_mistakes"`
	MuscleGroups   []string         `json:"muscle_groups"`
	Difficulty     string           `json:"difficulty"`
	Equipment      []string         `json:"equipment"`
}

// EnrichmentStep is one ordered step of an enriched exercise.
type EnrichmentStep struct {
	Title       string `json:"title"`
	Instruction string `json:"instruction"`
	Cue         string `json:"cue"`
	DurationSec *int   `json:"duration_sec,omitempty"`
}
