package rationale

import (
	"encoding/json"
	"strings"
)

type rationaleJSON struct {
	Rationale  string   `json:"rationale"`
	Confidence string   `json:"confidence"`
	NextSteps  []string `json:"next_steps"`
}

// parseResponse extracts the rationale fields from a completion. Models
// often wrap JSON in prose or code fences, so the outermost object is cut
// out before decoding. ok is false when no usable JSON was found.
func parseResponse(response string) (rationaleJSON, bool) {
	var parsed rationaleJSON

	body := strings.TrimSpace(response)
	body = strings.TrimPrefix(body, "```json")
	body = strings.TrimPrefix(body, "```")
	body = strings.TrimSuffix(body, "```")

	start := strings.Index(body, "{")
	end := strings.LastIndex(body, "}")
	if start < 0 || end <= start {
		return parsed, false
	}

	if err := json.Unmarshal([]byte(body[start:end+1]), &parsed); err != nil {
		return parsed, false
	}
	parsed.Rationale = strings.TrimSpace(parsed.Rationale)
	if parsed.Rationale == "" {
		return parsed, false
	}

	parsed.Confidence = validateConfidence(parsed.Confidence)

	steps := parsed.NextSteps[:0]
	for _, s := range parsed.NextSteps {
		if s = strings.TrimSpace(s); s != "" {
			steps = append(steps, s)
		}
	}
	parsed.NextSteps = steps

	return parsed, true
}

func validateConfidence(c string) string {
	switch strings.ToLower(strings.TrimSpace(c)) {
	case "low":
		return "low"
	case "high":
		return "high"
	default:
		return "medium"
	}
}
