// Package redact masks personally identifiable information in text.
//
// Every match is replaced with the single fixed token "[REDACTED]" rather
// than a typed placeholder: downstream consumers (prompts, memory, logs)
// must not be able to infer what category of PII was removed. The token
// matches none of the detection patterns, so redaction is idempotent.
package redact

import (
	"context"
	"fmt"
	"regexp"

	"go.opentelemetry.io/otel/attribute"

	wardenotel "github.com/wardenhq/warden/internal/otel"
	"github.com/wardenhq/warden/internal/rules"
	"github.com/wardenhq/warden/patterns"
)

var tracer = wardenotel.Tracer("github.com/wardenhq/warden/internal/redact")

// Token is the replacement string for every detected PII span.
const Token = "[REDACTED]"

// Redactor applies compiled PII patterns to text.
type Redactor struct {
	patterns []compiledRule
}

type compiledRule struct {
	name    string
	pattern *regexp.Regexp
}

// Option configures a Redactor.
type Option func(*config)

type config struct {
	ruleFile string
	extra    []rules.Rule
}

// WithRuleFile layers an operator rule file over the embedded defaults.
// A missing file is silently skipped.
func WithRuleFile(path string) Option {
	return func(c *config) { c.ruleFile = path }
}

// WithRules appends rules on top of defaults and any rule file.
func WithRules(rs []rules.Rule) Option {
	return func(c *config) { c.extra = rs }
}

// New creates a Redactor. Without options it uses the embedded default
// patterns (national ID and mobile number formats).
func New(opts ...Option) (*Redactor, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	defaults := rules.MustParse(patterns.PIIYAML()).Rules

	var fileRules []rules.Rule
	if cfg.ruleFile != "" {
		f, err := rules.LoadFile(cfg.ruleFile)
		if err != nil {
			return nil, fmt.Errorf("loading redaction rules: %w", err)
		}
		if f != nil {
			fileRules = f.Rules
		}
	}

	merged := rules.Merge(defaults, fileRules, cfg.extra)

	compiled, err := compile(merged)
	if err != nil {
		return nil, err
	}
	return &Redactor{patterns: compiled}, nil
}

// MustNew is like New but panics on error. The embedded defaults are expected
// to always compile.
func MustNew(opts ...Option) *Redactor {
	r, err := New(opts...)
	if err != nil {
		panic(fmt.Sprintf("redact.New: %v", err))
	}
	return r
}

func compile(rs []rules.Rule) ([]compiledRule, error) {
	var compiled []compiledRule
	for _, r := range rs {
		if r.Kind != rules.KindRegex {
			return nil, fmt.Errorf("redaction rule %q must be kind regex, got %q", r.Name, r.Kind)
		}
		for _, p := range r.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("compiling pattern in rule %q: %w", r.Name, err)
			}
			compiled = append(compiled, compiledRule{name: r.Name, pattern: re})
		}
	}
	return compiled, nil
}

// Apply replaces all PII matches in text with Token and reports how many
// replacements were made. Applying the result again is a no-op.
func (r *Redactor) Apply(ctx context.Context, text string) (string, int) {
	_, span := tracer.Start(ctx, "redact.apply")
	defer span.End()

	total := 0
	for _, cr := range r.patterns {
		matches := cr.pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		total += len(matches)
		text = cr.pattern.ReplaceAllString(text, Token)
	}

	span.SetAttributes(attribute.Int("redact.match_count", total))
	return text, total
}

// Detect reports whether text contains any PII match without modifying it.
func (r *Redactor) Detect(text string) bool {
	for _, cr := range r.patterns {
		if cr.pattern.MatchString(text) {
			return true
		}
	}
	return false
}
