package analysis

import (
	"fmt"
	"strings"

	"github.com/anavarrete/formcoach/pkg/models"
)

// buildAssessmentPrompt asks the model to grade the recorded technique and
// report issues as a JSON document matching assessmentPayload.
func buildAssessmentPrompt(technique *models.Technique, media []models.MediaItem) string {
	var sb strings.Builder

	sb.WriteString("You are an expert ")
	sb.WriteString(technique.Sport)
	sb.WriteString(" coach. Review the attached recordings of a player performing the technique \"")
	sb.WriteString(technique.Name)
	sb.WriteString("\"")
	if technique.Description != "" {
		sb.WriteString(" (")
		sb.WriteString(technique.Description)
		sb.WriteString(")")
	}
	sb.WriteString(".\n\n")

	sb.WriteString("Recordings:\n")
	for i, m := range media {
		angle := "unspecified angle"
		if m.CameraAngle != nil && *m.CameraAngle != "" {
			angle = *m.CameraAngle
		}
		fmt.Fprintf(&sb, "%d. %s (%s, %s)\n", i+1, m.Filename, strings.ToLower(m.Type), angle)
	}

	sb.WriteString(`
Assess the player's execution and respond with a single JSON object:
{
  "score": <integer 0-10, overall technique quality>,
  "tier": "<one of: beginner, developing, solid, advanced>",
  "summary": "<2-3 sentence overall assessment>",
  "issues": [
    {
      "title": "<short issue name>",
      "detail": "<what is wrong and how to correct it>",
      "severity": "<one of: low, medium, high>"
    }
  ]
}

List the issues in order of impact on performance. Respond with the JSON
object only, no surrounding text.`)

	return sb.String()
}
