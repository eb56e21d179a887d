// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// builtinCatalog is the platform rule set. Kept as a plain literal so it is
// easy to review and extend; deployments can replace it with a YAML file via
// LoadCatalog.
var builtinCatalog = []GlobalRule{
	{
		ID:          "G-001",
		Title:       "No arbitrary code execution",
		Description: "Generated code must never use eval(), exec(), or equivalent dynamic-execution primitives unless explicitly sandboxed.",
		Severity:    SeverityMust,
		Scope:       ScopeProject,
	},
	{
		ID:          "G-002",
		Title:       "Respect license compatibility",
		Description: "All third-party dependencies introduced by the engineer agent must have licenses compatible with the project license.",
		Severity:    SeverityMust,
		Scope:       ScopeProject,
	},
	{
		ID:          "G-003",
		Title:       "No secrets in source code",
		Description: "API keys, passwords, tokens, and other credentials must never appear as literals in source files.",
		Severity:    SeverityMust,
		Scope:       ScopeProject,
	},
	{
		ID:          "G-004",
		Title:       "Follow project coding style",
		Description: "Generated code should conform to the linter and formatter configuration already present in the repository.",
		Severity:    SeverityShould,
		Scope:       ScopeProject,
	},
	{
		ID:          "G-005",
		Title:       "Module test coverage required",
		Description: "Every new module must include at least one unit-test file covering its public interface.",
		Severity:    SeverityShould,
		Scope:       ScopeModule,
	},
}

// GlobalCatalog returns a copy of the built-in platform rules.
func GlobalCatalog() []GlobalRule {
	out := make([]GlobalRule, len(builtinCatalog))
	copy(out, builtinCatalog)
	return out
}

// LoadCatalog reads a YAML rule catalog from path. An empty path returns the
// built-in catalog.
func LoadCatalog(path string) ([]GlobalRule, error) {
	if path == "" {
		return GlobalCatalog(), nil
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule catalog: %w", err)
	}

	var doc struct {
		GlobalRules []GlobalRule `yaml:"global_rules"`
	}
	if err := yaml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse rule catalog: %w", err)
	}
	if len(doc.GlobalRules) == 0 {
		return nil, fmt.Errorf("rule catalog %s defines no global_rules", path)
	}

	for i, gr := range doc.GlobalRules {
		if gr.ID == "" || gr.Title == "" {
			return nil, fmt.Errorf("rule catalog %s: entry %d missing id or title", path, i)
		}
	}

	return doc.GlobalRules, nil
}
