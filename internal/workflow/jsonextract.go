// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject scans text for the first balanced {...} region that
// parses as a JSON object. Models sometimes wrap their JSON in prose or emit
// several JSON-looking blocks; on a parse failure the scan resumes at the
// next opening brace.
func ExtractJSONObject(text string) (json.RawMessage, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return nil, false
	}

	start := strings.IndexByte(t, '{')
	if start < 0 {
		return nil, false
	}

	depth := 0
	inStr := false
	esc := false

	for i := start; i < len(t); i++ {
		ch := t[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case ch == '\\':
				esc = true
			case ch == '"':
				inStr = false
			}
			continue
		}

		switch ch {
		case '"':
			inStr = true
		case '{':
			depth++
		case '}':
			depth--
			if depth != 0 {
				continue
			}
			candidate := t[start : i+1]
			if json.Valid([]byte(candidate)) && strings.HasPrefix(strings.TrimSpace(candidate), "{") {
				return json.RawMessage(candidate), true
			}
			// Not valid JSON; try again from the next brace.
			next := strings.IndexByte(t[i+1:], '{')
			if next < 0 {
				return nil, false
			}
			start = i + 1 + next
			i = start - 1
			inStr = false
			esc = false
		}
	}
	return nil, false
}
