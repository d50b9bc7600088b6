package plan

import (
	"fmt"
	"strings"

	"github.com/anavarrete/formcoach/pkg/models"
)

// buildPlanPrompt asks the model for a weekly training plan addressing the
// issues found in the assessment.
func buildPlanPrompt(technique *models.Technique, assessment *models.Assessment, weeks int) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "You are an expert %s coach. A player was assessed on the technique %q with score %d/10.\n",
		technique.Sport, technique.Name, assessment.Score)
	fmt.Fprintf(&sb, "Assessment summary: %s\n", assessment.Summary)

	if len(assessment.Issues) > 0 {
		sb.WriteString("Issues to correct, by impact:\n")
		for i, issue := range assessment.Issues {
			fmt.Fprintf(&sb, "%d. %s (%s): %s\n", i+1, issue.Title, issue.Severity, issue.Detail)
		}
	}

	fmt.Fprintf(&sb, `
Design a %d-week training plan with 3 training days per week that corrects
these issues progressively. Reuse the same drill across days where repetition
helps, using its exact same name each time. Respond with a single JSON object:
{
  "weeks": [
    {
      "week": <1-based week number>,
      "days": [
        {
          "day": <1-based day number within the week>,
          "exercises": [
            {"name": "<short drill name>", "description": "<sets, reps and focus>"}
          ]
        }
      ]
    }
  ]
}

Respond with the JSON object only, no surrounding text.`, weeks)

	return sb.String()
}

// buildEnrichmentPrompt asks for coaching detail for one batch of exercises.
// The response must keep the input order so answers can be matched back by
// position.
func buildEnrichmentPrompt(names []string, descriptions map[string]string) string {
	var sb strings.Builder

	sb.WriteString("You are a sports training expert. Provide detailed coaching material for the following exercises:\n")
	for i, name := range names {
		fmt.Fprintf(&sb, "%d. %s", i+1, name)
		if desc := descriptions[name]; desc != "" {
			fmt.Fprintf(&sb, " (%s)", desc)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, `
Respond with a single JSON object holding exactly %d entries in the same
order as the list above:
{
  "exercises": [
    {
      "summary": "<one sentence purpose>",
      "steps": [
        {"title": "<step name>", "instruction": "<how to perform it>", "cue": "<coaching cue>", "duration_sec": <seconds or null>}
      ],
      "key_points": ["<technique point>"],
      "common_mistakes": ["<mistake to avoid>"],
      "muscle_groups": ["<muscle group>"],
      "difficulty": "<one of: principiante, intermedio, avanzado>",
      "equipment": ["<required equipment, empty if none>"]
    }
  ]
}

Respond with the JSON object only, no surrounding text.`, len(names))

	return sb.String()
}

// buildIllustrationPrompt describes the wanted exercise illustration.
func buildIllustrationPrompt(name, description string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Clean instructional illustration of an athlete performing the exercise %q", name)
	if description != "" {
		fmt.Fprintf(&sb, " (%s)", description)
	}
	sb.WriteString(". Flat vector style, neutral background, side view, no text.")
	return sb.String()
}
