package ai

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var preambles = []string{
	"here's a possible description:",
	"here is a possible description:",
	"here's a description:",
	"here is a description:",
	"here's the description:",
	"here is the description:",
	"description:",
}

func fallbackDescription(title, author string) string {
	return fmt.Sprintf("A book titled %q by %s.", title, author)
}

// cleanDescription drops a chatty lead-in and wrapping quotes.
func cleanDescription(raw string) string {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	for _, p := range preambles {
		if i := strings.Index(lower, p); i >= 0 {
			s = strings.TrimSpace(s[i+len(p):])
			break
		}
	}
	if len(s) > 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	return strings.TrimSpace(s)
}

// extractStrings finds the outermost JSON string array in model output,
// tolerating code fences and prose around it. Anything unparsable yields nil.
func extractStrings(raw string) []string {
	s := stripFence(raw)
	start, end := strings.IndexByte(s, '['), strings.LastIndexByte(s, ']')
	if start < 0 || end <= start {
		return nil
	}
	var out []string
	if err := json.UnmarshalFromString(s[start:end+1], &out); err != nil {
		return nil
	}
	kept := out[:0]
	for _, v := range out {
		if v = strings.TrimSpace(v); v != "" {
			kept = append(kept, v)
		}
	}
	return kept
}

func stripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= 2 {
		return ""
	}
	return strings.TrimSpace(strings.Join(lines[1:len(lines)-1], "\n"))
}

func quoteList(items []string, limit int) string {
	if len(items) > limit {
		items = items[:limit]
	}
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = fmt.Sprintf("%q", it)
	}
	return strings.Join(quoted, ", ")
}
