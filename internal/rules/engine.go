// SPDX-License-Identifier: MPL-2.0

// Package rules rewrites assembled bundle lists with user-defined rules.
//
// Rules live in HCL files and fire against list entries with project and
// session facts in scope. Evaluation repeats in priority order until a full
// pass changes nothing; a hard pass cap guards against rule sets that never
// settle.
package rules

import (
	"context"
	"errors"
	"time"

	"launchkit-cli/pkg/bundlelist"
)

var (
	// ErrRuleInvalid is returned by Load when a rule file cannot be parsed
	// or a rule definition is malformed. No rule from the set fires.
	ErrRuleInvalid = errors.New("invalid rule definition")

	// ErrNotConverged is returned by Run when the rule set keeps changing
	// the list after the maximum number of passes.
	ErrNotConverged = errors.New("rule evaluation did not converge")
)

type (
	// Engine loads rule sets and applies them to bundle lists. The assembly
	// pipeline depends only on this interface.
	Engine interface {
		// Load parses and validates the given rule files. Any definition
		// problem fails the whole load.
		Load(paths []string) (*RuleSet, error)

		// Run applies the rule set to the list until it reaches a fixed
		// point. Each call evaluates in a fresh session; no state survives
		// between calls.
		Run(ctx context.Context, set *RuleSet, list *bundlelist.List, facts Facts) error
	}

	// Facts is the read-only context visible to rule expressions.
	Facts struct {
		Project ProjectFacts
		Session SessionFacts
	}

	// ProjectFacts describes the project whose list is being assembled,
	// in scope as "project".
	ProjectFacts struct {
		Namespace string
		Name      string
		Version   string
	}

	// SessionFacts describes the assembly run itself, in scope as
	// "session".
	SessionFacts struct {
		Tool      string
		Version   string
		StartedAt time.Time
	}

	// RuleSet is a validated, ordered collection of rules produced by Load.
	RuleSet struct {
		rules []*rule
		files []string
	}
)

// Len returns the number of rules in the set.
func (s *RuleSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Files returns the rule file paths the set was loaded from.
func (s *RuleSet) Files() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.files))
	copy(out, s.files)
	return out
}
