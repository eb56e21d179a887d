// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"fmt"
	"strings"
)

// ParseUserRules turns per-run free-text rule lines into structured user
// rules. Lines get positional ids U-001, U-002, ... so adjudication output
// is stable for equal inputs. The prefix "module:<name>: <text>" selects
// module scope; everything else is project scoped.
func ParseUserRules(lines []string) []UserRule {
	out := make([]UserRule, 0, len(lines))
	n := 0
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		n++

		title := line
		scope := ScopeProject
		module := ""

		if strings.HasPrefix(strings.ToLower(line), "module:") {
			rest := line[len("module:"):]
			mod, text, ok := strings.Cut(rest, ":")
			if ok && strings.TrimSpace(mod) != "" && strings.TrimSpace(text) != "" {
				scope = ScopeModule
				module = strings.TrimSpace(mod)
				title = strings.TrimSpace(text)
			}
		}

		out = append(out, UserRule{
			ID:     fmt.Sprintf("U-%03d", n),
			Title:  title,
			Scope:  scope,
			Module: module,
		})
	}
	return out
}
