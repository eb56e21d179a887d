// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseUserRulesPositionalIDs(t *testing.T) {
	rules := ParseUserRules([]string{"first rule", "  ", "second rule"})

	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].ID != "U-001" || rules[1].ID != "U-002" {
		t.Fatalf("unexpected ids: %s, %s", rules[0].ID, rules[1].ID)
	}
	if rules[0].Scope != ScopeProject {
		t.Fatalf("expected project scope, got %s", rules[0].Scope)
	}
}

func TestParseUserRulesModulePrefix(t *testing.T) {
	rules := ParseUserRules([]string{"module:storage: always use prepared statements"})

	if len(rules) != 1 {
		t.Fatalf("expected 1 rule, got %d", len(rules))
	}
	r := rules[0]
	if r.Scope != ScopeModule || r.Module != "storage" {
		t.Fatalf("expected module scope on storage, got %+v", r)
	}
	if r.Title != "always use prepared statements" {
		t.Fatalf("unexpected title: %q", r.Title)
	}
}

func TestParseUserRulesMalformedModulePrefixStaysProject(t *testing.T) {
	rules := ParseUserRules([]string{"module: : empty name", "module:no-rule-text:"})

	for _, r := range rules {
		if r.Scope != ScopeProject {
			t.Fatalf("expected project scope for %q, got %s", r.Title, r.Scope)
		}
	}
}

func TestLoadCatalogBuiltin(t *testing.T) {
	globals, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(globals) != 5 || globals[0].ID != "G-001" {
		t.Fatalf("unexpected builtin catalog: %+v", globals)
	}
}

func TestLoadCatalogFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	body := `global_rules:
  - id: G-100
    title: Pin dependency versions
    description: Lockfiles are mandatory.
    severity: must
    scope: project
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	globals, err := LoadCatalog(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(globals) != 1 || globals[0].ID != "G-100" || globals[0].Severity != SeverityMust {
		t.Fatalf("unexpected catalog: %+v", globals)
	}
}

func TestLoadCatalogRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("global_rules: []\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	if _, err := LoadCatalog(path); err == nil {
		t.Fatal("expected error for empty catalog")
	}
}
