// Package planparse extracts a JSON plan object from free-form model
// output. Models are not held to a strict output contract, so this is a
// best-effort heuristic: a fenced json block is preferred, then the first
// balanced top-level object. Callers must treat a false result as "plan not
// ready", not as an error in the text.
package planparse

import (
	"encoding/json"
	"strings"
)

// Extract returns the first JSON object found in text. ok is false when no
// complete, valid object is present (including truncated output and
// unterminated fences).
func Extract(text string) (json.RawMessage, bool) {
	if candidate, ok := fromFence(text); ok {
		return candidate, true
	}
	return fromBraces(text)
}

// Ready reports whether text contains a complete plan object.
func Ready(text string) bool {
	_, ok := Extract(text)
	return ok
}

func fromFence(text string) (json.RawMessage, bool) {
	for _, marker := range []string{"```json", "```JSON"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		rest := text[start+len(marker):]
		end := strings.Index(rest, "```")
		if end < 0 {
			// Unterminated fence: the model is still streaming or gave up.
			continue
		}
		candidate := strings.TrimSpace(rest[:end])
		if json.Valid([]byte(candidate)) && strings.HasPrefix(candidate, "{") {
			return json.RawMessage(candidate), true
		}
	}
	return nil, false
}

// fromBraces scans for the first balanced top-level object, honoring JSON
// string and escape rules so braces inside strings do not miscount.
func fromBraces(text string) (json.RawMessage, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth := 0
		inString := false
		escaped := false
		for i := start; i < len(text); i++ {
			c := text[i]
			switch {
			case escaped:
				escaped = false
			case c == '\\' && inString:
				escaped = true
			case c == '"':
				inString = !inString
			case inString:
			case c == '{':
				depth++
			case c == '}':
				depth--
				if depth == 0 {
					candidate := text[start : i+1]
					if json.Valid([]byte(candidate)) {
						return json.RawMessage(candidate), true
					}
					i = len(text)
				}
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start = start + 1 + next
	}
	return nil, false
}
