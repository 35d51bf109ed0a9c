package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/esg-extract/internal/resilience"
)

var trailingCommaRE = regexp.MustCompile(`,\s*([}\]])`)

// cleanJSON strips markdown fences and any prose around the outermost
// object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}

// repairJSON is the single structural repair attempted on model output:
// fences and prose removed, trailing commas dropped.
func repairJSON(text string) string {
	return trailingCommaRE.ReplaceAllString(cleanJSON(text), "$1")
}

// decodeModelJSON unmarshals text into v, trying once more after repair.
// Output that is still malformed is an extraction-quality error.
func decodeModelJSON(text string, v any) error {
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), v); err == nil {
		return nil
	}
	if err := json.Unmarshal([]byte(repairJSON(text)), v); err != nil {
		return resilience.NewQualityError(eris.Wrap(err, "extract: malformed model JSON"))
	}
	return nil
}
