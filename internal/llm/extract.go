package llm

import "strings"

// ExtractJSON pulls a JSON document out of a completion. Models often
// wrap JSON in markdown fences or lead with prose, so this strips
// ```json fences first and otherwise trims to the outermost braces or
// brackets.
func ExtractJSON(content string) string {
	content = strings.TrimSpace(content)

	if fenced := extractFenced(content); fenced != "" {
		content = fenced
	}

	start := strings.IndexAny(content, "{[")
	if start < 0 {
		return ""
	}

	var end int
	switch content[start] {
	case '{':
		end = strings.LastIndex(content, "}")
	case '[':
		end = strings.LastIndex(content, "]")
	}
	if end <= start {
		return ""
	}
	return content[start : end+1]
}

func extractFenced(content string) string {
	open := strings.Index(content, "```")
	if open < 0 {
		return ""
	}
	rest := content[open+3:]
	if nl := strings.Index(rest, "\n"); nl >= 0 {
		// Skip a language tag like "json" on the fence line.
		rest = rest[nl+1:]
	}
	closeIdx := strings.Index(rest, "```")
	if closeIdx < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:closeIdx])
}
