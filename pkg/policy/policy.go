// Copyright 2025 Certen Protocol
//
// Package policy gates generation requests and their outputs against rules
// that catch destructive intent, prompt injection, leaked secrets, and
// dangerous generated constructs. A critical violation fails closed: the
// gate blocks rather than merely warns.
package policy

import (
	"context"
	"regexp"
	"strings"
)

// Severity ranks how serious a violation is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Phase is when a rule runs relative to generation.
type Phase string

const (
	PhasePre  Phase = "pre_generation"
	PhasePost Phase = "post_generation"
)

// Violation is one rule's finding against one piece of text.
type Violation struct {
	RuleID   string
	Phase    Phase
	Severity Severity
	Message  string
}

// Result aggregates every violation found during one gate evaluation.
type Result struct {
	Violations []Violation
}

// HasCritical reports whether any violation is critical.
func (r Result) HasCritical() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ErrorCount returns the number of error-or-worse violations.
func (r Result) ErrorCount() int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == SeverityError || v.Severity == SeverityCritical {
			n++
		}
	}
	return n
}

// Rule inspects one piece of text and reports any violations it finds.
type Rule interface {
	ID() string
	Phase() Phase
	Check(ctx context.Context, text string) []Violation
}

// Gate runs a set of rules and fails closed on any critical violation.
type Gate struct {
	rules []Rule
}

// New returns a Gate with the given rules. Use DefaultRules() for the
// standard catalog.
func New(rules ...Rule) *Gate {
	return &Gate{rules: rules}
}

// Evaluate runs every registered rule for phase against text.
func (g *Gate) Evaluate(ctx context.Context, phase Phase, text string) Result {
	var result Result
	for _, r := range g.rules {
		if r.Phase() != phase {
			continue
		}
		result.Violations = append(result.Violations, r.Check(ctx, text)...)
	}
	return result
}

// Check runs Evaluate and returns an error when the result has any
// critical violation.
func (g *Gate) Check(ctx context.Context, phase Phase, text string) (Result, error) {
	result := g.Evaluate(ctx, phase, text)
	if result.HasCritical() {
		return result, &criticalViolationError{result}
	}
	return result, nil
}

type criticalViolationError struct {
	result Result
}

func (e *criticalViolationError) Error() string {
	for _, v := range e.result.Violations {
		if v.Severity == SeverityCritical {
			return "policy: critical violation [" + v.RuleID + "]: " + v.Message
		}
	}
	return "policy: critical violation"
}

// regexRule is a simple pattern-matching rule shared by most of the default
// catalog below.
type regexRule struct {
	id       string
	phase    Phase
	severity Severity
	pattern  *regexp.Regexp
	message  string
}

func (r regexRule) ID() string   { return r.id }
func (r regexRule) Phase() Phase { return r.phase }

func (r regexRule) Check(ctx context.Context, text string) []Violation {
	if r.pattern.MatchString(text) {
		return []Violation{{RuleID: r.id, Phase: r.phase, Severity: r.severity, Message: r.message}}
	}
	return nil
}

// DefaultRules returns the standard pre- and post-generation rule catalog.
func DefaultRules() []Rule {
	return []Rule{
		regexRule{
			id:       "destructive_intent",
			phase:    PhasePre,
			severity: SeverityCritical,
			pattern:  regexp.MustCompile(`(?i)\b(rm\s+-rf|drop\s+table|delete\s+from|format\s+c:|:(){ :|:& };:|(delete|destroy|wipe|erase)\s+(all|every)\s+(files?|data)(\s+(in|on|from)\s+the\s+system)?|(delete|destroy|wipe|erase)\s+the\s+(system|disk|drive|database))\b`),
			message:  "prompt requests a destructive operation",
		},
		regexRule{
			id:       "prompt_injection",
			phase:    PhasePre,
			severity: SeverityError,
			pattern:  regexp.MustCompile(`(?i)ignore (all )?(previous|above) instructions`),
			message:  "prompt attempts to override system instructions",
		},
		regexRule{
			id:       "pii_request",
			phase:    PhasePre,
			severity: SeverityWarning,
			pattern:  regexp.MustCompile(`(?i)\b(social security number|ssn|credit card number|passport number)\b`),
			message:  "prompt references personally identifiable information",
		},
		regexRule{
			id:       "secret_in_prompt",
			phase:    PhasePre,
			severity: SeverityCritical,
			pattern:  regexp.MustCompile(`(?i)\b(api[_-]?key|secret[_-]?key|private[_-]?key)\s*[:=]\s*\S{8,}`),
			message:  "prompt embeds what looks like a live credential",
		},
		regexRule{
			id:       "banned_construct",
			phase:    PhasePost,
			severity: SeverityCritical,
			pattern:  regexp.MustCompile(`\b(eval|exec)\s*\(|os\.system\s*\(|subprocess\.call\s*\(`),
			message:  "generated code uses a banned dynamic-execution construct",
		},
		regexRule{
			id:       "hardcoded_credential",
			phase:    PhasePost,
			severity: SeverityError,
			pattern:  regexp.MustCompile(`(?i)(password|api_key|secret)\s*=\s*["'][^"']{6,}["']`),
			message:  "generated code hardcodes what looks like a credential",
		},
		regexRule{
			id:       "sql_string_concat",
			phase:    PhasePost,
			severity: SeverityWarning,
			pattern:  regexp.MustCompile(`(?i)(SELECT|INSERT|UPDATE|DELETE)\b.*["']\s*\+`),
			message:  "generated code builds SQL via string concatenation",
		},
	}
}

// QuotePreview is used by callers that want to log a violation's matched
// text without dumping the whole candidate.
func QuotePreview(text string, max int) string {
	t := strings.TrimSpace(text)
	if len(t) <= max {
		return t
	}
	return t[:max] + "..."
}
