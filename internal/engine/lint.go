// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"regexp"
	"strings"

	"github.com/crewforge/crewd/internal/workflow"
)

// Violation is one rule breach found in generated output.
type Violation struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Path     string `json:"path"`
	Detail   string `json:"detail"`
}

// Linter inspects generated files for rule breaches after the engineer has
// produced them. Best effort: a quiet linter never blocks a run.
type Linter interface {
	Lint(files []workflow.File) []Violation
}

// RegexLinter is a pattern-based linter covering the enforceable subset of
// the built-in rule catalog. Style and coverage rules have no reliable
// textual signal and are intentionally not checked here.
type RegexLinter struct{}

var (
	dynamicExecRe = regexp.MustCompile(`(?m)\b(?:eval|exec)\s*\(`)
	newFunctionRe = regexp.MustCompile(`new\s+Function\s*\(`)

	secretAssignRe = regexp.MustCompile(`(?i)(?:api[_-]?key|secret|password|token)\s*[:=]\s*["'][^"']{8,}["']`)
	openaiKeyRe    = regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`)
	googleKeyRe    = regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`)

	fsWriteRe = regexp.MustCompile(`(?m)\b(?:os\.remove|os\.rmdir|shutil\.rmtree|fs\.unlink|fs\.rmdir|fs\.writeFileSync)\s*\(`)
)

var dependencyManifests = map[string]bool{
	"package.json":     true,
	"requirements.txt": true,
	"pyproject.toml":   true,
	"go.mod":           true,
	"gemfile":          true,
	"cargo.toml":       true,
}

func (RegexLinter) Lint(files []workflow.File) []Violation {
	var out []Violation
	for _, f := range files {
		base := strings.ToLower(f.Path)
		if i := strings.LastIndexByte(base, '/'); i >= 0 {
			base = base[i+1:]
		}

		if dynamicExecRe.MatchString(f.Content) || newFunctionRe.MatchString(f.Content) {
			out = append(out, Violation{
				RuleID:   "G-001",
				Severity: "must",
				Path:     f.Path,
				Detail:   "dynamic code execution primitive in generated file",
			})
		}

		if dependencyManifests[base] {
			out = append(out, Violation{
				RuleID:   "G-002",
				Severity: "must",
				Path:     f.Path,
				Detail:   "dependency manifest introduced; verify license compatibility",
			})
		}

		if secretAssignRe.MatchString(f.Content) ||
			openaiKeyRe.MatchString(f.Content) ||
			googleKeyRe.MatchString(f.Content) {
			out = append(out, Violation{
				RuleID:   "G-003",
				Severity: "must",
				Path:     f.Path,
				Detail:   "credential-like literal in generated file",
			})
		}

		if fsWriteRe.MatchString(f.Content) {
			out = append(out, Violation{
				RuleID:   "G-001",
				Severity: "must",
				Path:     f.Path,
				Detail:   "destructive filesystem call in generated file",
			})
		}
	}
	return out
}
