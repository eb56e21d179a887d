// SPDX-License-Identifier: Apache-2.0

// Package rules adjudicates user-submitted rules against the immutable
// platform rule catalog. Everything here is a value object: construction is
// pure and results are never mutated, so rule sets are safe to share across
// concurrently executing runs.
package rules

type Scope string

const (
	ScopeProject Scope = "project"
	ScopeModule  Scope = "module"
)

type Severity string

const (
	SeverityMust   Severity = "must"
	SeverityShould Severity = "should"
)

// GlobalRule is a platform-defined constraint. Global rules always win and
// are copied verbatim into every adjudicated rule set.
type GlobalRule struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Scope       Scope    `json:"scope" yaml:"scope"`
}

// UserRule is a caller-supplied constraint. Module-scoped rules carry the
// module name they target; a module rule without a module name degrades to
// project scope during adjudication.
type UserRule struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Scope       Scope  `json:"scope"`
	Module      string `json:"module,omitempty"`
}

// RuleDecision wraps a user rule with its accept/reject outcome.
type RuleDecision struct {
	Rule                    UserRule `json:"rule"`
	Accepted                bool     `json:"accepted"`
	RejectedReason          string   `json:"rejected_reason,omitempty"`
	ConflictingGlobalRuleID string   `json:"conflicting_global_rule_id,omitempty"`
}

// ModuleRuleSet groups accepted module-scoped rules by module name.
type ModuleRuleSet struct {
	Module string     `json:"module"`
	Rules  []UserRule `json:"rules"`
}

// ProjectRuleSet is the adjudication result: the verbatim global catalog,
// every user rule sorted into accepted/rejected, and convenience groupings
// by scope. Built once per run and serialized into the run state.
type ProjectRuleSet struct {
	GlobalRules            []GlobalRule    `json:"global_rules"`
	AcceptedUserRules      []RuleDecision  `json:"accepted_user_rules"`
	RejectedUserRules      []RuleDecision  `json:"rejected_user_rules"`
	ModuleRuleSets         []ModuleRuleSet `json:"module_rule_sets"`
	ProjectScopedUserRules []UserRule      `json:"project_scoped_user_rules"`
}
