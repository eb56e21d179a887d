// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"fmt"
	"strings"
)

// findConflict returns the first global rule that conflicts with the user
// rule, or nil. A conflict is an id collision or a title collision
// (case-insensitive, trimmed).
func findConflict(ur UserRule, globals []GlobalRule) *GlobalRule {
	for i := range globals {
		gr := &globals[i]
		if ur.ID == gr.ID {
			return gr
		}
		if strings.EqualFold(strings.TrimSpace(ur.Title), strings.TrimSpace(gr.Title)) {
			return gr
		}
	}
	return nil
}

// Decide adjudicates user rules against the global catalog. It is pure and
// deterministic: input order is preserved in every output list, and module
// buckets appear in order of first appearance.
func Decide(globals []GlobalRule, userRules []UserRule) ProjectRuleSet {
	accepted := make([]RuleDecision, 0, len(userRules))
	rejected := make([]RuleDecision, 0)

	for _, ur := range userRules {
		conflict := findConflict(ur, globals)
		if conflict != nil {
			rejected = append(rejected, RuleDecision{
				Rule:     ur,
				Accepted: false,
				RejectedReason: fmt.Sprintf(
					"conflicts with global rule %q (%q): global rules take precedence",
					conflict.ID, conflict.Title,
				),
				ConflictingGlobalRuleID: conflict.ID,
			})
			continue
		}
		accepted = append(accepted, RuleDecision{Rule: ur, Accepted: true})
	}

	projectScoped := make([]UserRule, 0, len(accepted))
	moduleOrder := make([]string, 0)
	moduleBuckets := make(map[string][]UserRule)

	for _, dec := range accepted {
		r := dec.Rule
		// A module rule with no module name is not dropped; it degrades to
		// project scope.
		if r.Scope == ScopeModule && r.Module != "" {
			if _, ok := moduleBuckets[r.Module]; !ok {
				moduleOrder = append(moduleOrder, r.Module)
			}
			moduleBuckets[r.Module] = append(moduleBuckets[r.Module], r)
			continue
		}
		projectScoped = append(projectScoped, r)
	}

	moduleSets := make([]ModuleRuleSet, 0, len(moduleOrder))
	for _, mod := range moduleOrder {
		moduleSets = append(moduleSets, ModuleRuleSet{Module: mod, Rules: moduleBuckets[mod]})
	}

	globalsCopy := make([]GlobalRule, len(globals))
	copy(globalsCopy, globals)

	return ProjectRuleSet{
		GlobalRules:            globalsCopy,
		AcceptedUserRules:      accepted,
		RejectedUserRules:      rejected,
		ModuleRuleSets:         moduleSets,
		ProjectScopedUserRules: projectScoped,
	}
}
