package pipeline

import "strings"

// extractJSON attempts to extract a JSON object from a model response that
// may contain extra text around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start != -1 && end != -1 && end > start {
		return s[start : end+1]
	}
	return s
}
