package provider

import (
	"encoding/json"
	"strings"
)

// ParseJSON extracts a JSON object from a model reply. Models wrap JSON
// in prose or markdown fences often enough that a plain Unmarshal is not
// reliable: this strips fences, then takes the outermost {...} span.
func ParseJSON(reply string, out interface{}) error {
	s := strings.TrimSpace(reply)
	if after, ok := strings.CutPrefix(s, "```json"); ok {
		s = after
	} else if after, ok := strings.CutPrefix(s, "```"); ok {
		s = after
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return json.Unmarshal([]byte(s), out)
}

// ParseOrDefault parses a JSON-shaped reply into a map, returning the
// fallback untouched when the reply is not parseable. Callers that need
// a guaranteed shape (emotion scores, structured analyses) use this so a
// chatty model never breaks the pipeline.
func ParseOrDefault(reply string, fallback map[string]interface{}) map[string]interface{} {
	var parsed map[string]interface{}
	if err := ParseJSON(reply, &parsed); err != nil || parsed == nil {
		return fallback
	}
	return parsed
}
