// Package planner classifies incoming queries before any retrieval happens.
//
// A query is screened against three rule categories: injection (attempts to
// override system behavior), leakage (attempts to unmask or exfiltrate PII),
// and cross-tenant (attempts to read another tenant's data). Matching is
// case-insensitive over a whitespace-normalized copy of the query. When
// several categories match, injection wins over leakage, which wins over
// cross-tenant, so the most severe intent drives the refusal.
package planner

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	wardenotel "github.com/wardenhq/warden/internal/otel"
	"github.com/wardenhq/warden/internal/rules"
	"github.com/wardenhq/warden/patterns"
)

var tracer = wardenotel.Tracer("github.com/wardenhq/warden/internal/planner")

// Intent is the classified disposition of a query.
type Intent string

const (
	IntentNormal      Intent = "normal"
	IntentInjection   Intent = "injection"
	IntentLeakage     Intent = "leakage"
	IntentCrossTenant Intent = "cross_tenant"
)

// PublicScope is the shared corpus scope included in every retrieval plan.
const PublicScope = "public"

// Plan is the outcome of classifying one query for one tenant.
type Plan struct {
	Query       string   // original query text
	Tenant      string   // requesting tenant
	Intent      Intent   // most severe matched intent
	MatchedRule string   // rule name that fired, empty for normal queries
	Matched     string   // the phrase or expanded template that matched
	Scope       []string // retrieval scope, always exactly {tenant, public}
}

// phraseEntry is a lowercased literal with its owning rule name.
type phraseEntry struct {
	rule   string
	phrase string
}

// Planner holds compiled rule sets for a fixed tenant population.
type Planner struct {
	tenants     []string
	injection   []phraseEntry
	leakage     []phraseEntry
	crossTenant map[string][]phraseEntry // requesting tenant → expanded templates
	allTenants  []phraseEntry            // templates without a placeholder
}

// Option configures a Planner.
type Option func(*config)

type config struct {
	ruleFile    string
	injection   []rules.Rule
	leakage     []rules.Rule
	crossTenant []rules.Rule
}

// WithRuleFile layers an operator rule file over the embedded defaults.
// Rules whose names match an embedded rule replace it in its category; new
// phrase rules join the injection set and new template rules the cross-tenant
// set. A missing file is silently skipped.
func WithRuleFile(path string) Option {
	return func(c *config) { c.ruleFile = path }
}

// WithInjectionRules appends injection rules on top of the defaults.
func WithInjectionRules(rs []rules.Rule) Option {
	return func(c *config) { c.injection = rs }
}

// WithLeakageRules appends leakage rules on top of the defaults.
func WithLeakageRules(rs []rules.Rule) Option {
	return func(c *config) { c.leakage = rs }
}

// WithCrossTenantRules appends cross-tenant template rules on top of the defaults.
func WithCrossTenantRules(rs []rules.Rule) Option {
	return func(c *config) { c.crossTenant = rs }
}

// New creates a Planner for the given closed tenant set.
func New(tenants []string, opts ...Option) (*Planner, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}

	injection := rules.MustParse(patterns.InjectionYAML()).Rules
	leakage := rules.MustParse(patterns.LeakageYAML()).Rules
	crossTenant := rules.MustParse(patterns.CrossTenantYAML()).Rules

	if cfg.ruleFile != "" {
		f, err := rules.LoadFile(cfg.ruleFile)
		if err != nil {
			return nil, fmt.Errorf("loading planner rules: %w", err)
		}
		if f != nil {
			injection, leakage, crossTenant = layerFile(injection, leakage, crossTenant, f.Rules)
		}
	}

	injection = rules.Merge(injection, cfg.injection)
	leakage = rules.Merge(leakage, cfg.leakage)
	crossTenant = rules.Merge(crossTenant, cfg.crossTenant)

	p := &Planner{tenants: append([]string(nil), tenants...)}

	var err error
	if p.injection, err = compilePhrases(injection); err != nil {
		return nil, fmt.Errorf("injection rules: %w", err)
	}
	if p.leakage, err = compilePhrases(leakage); err != nil {
		return nil, fmt.Errorf("leakage rules: %w", err)
	}
	if err := p.compileTemplates(crossTenant); err != nil {
		return nil, fmt.Errorf("cross-tenant rules: %w", err)
	}

	return p, nil
}

// MustNew is like New but panics on error. The embedded defaults are expected
// to always compile.
func MustNew(tenants []string, opts ...Option) *Planner {
	p, err := New(tenants, opts...)
	if err != nil {
		panic(fmt.Sprintf("planner.New: %v", err))
	}
	return p
}

// layerFile distributes an override file's rules into the three categories.
// Known names replace in place; new rules route by kind.
func layerFile(injection, leakage, crossTenant, overrides []rules.Rule) ([]rules.Rule, []rules.Rule, []rules.Rule) {
	names := func(rs []rules.Rule) map[string]bool {
		m := make(map[string]bool, len(rs))
		for _, r := range rs {
			m[r.Name] = true
		}
		return m
	}
	inInjection, inLeakage, inCrossTenant := names(injection), names(leakage), names(crossTenant)

	for _, r := range overrides {
		switch {
		case inInjection[r.Name]:
			injection = rules.Merge(injection, []rules.Rule{r})
		case inLeakage[r.Name]:
			leakage = rules.Merge(leakage, []rules.Rule{r})
		case inCrossTenant[r.Name]:
			crossTenant = rules.Merge(crossTenant, []rules.Rule{r})
		case r.Kind == rules.KindTemplate:
			crossTenant = append(crossTenant, r)
		case r.Kind == rules.KindPhrase:
			injection = append(injection, r)
		}
	}
	return injection, leakage, crossTenant
}

func compilePhrases(rs []rules.Rule) ([]phraseEntry, error) {
	var entries []phraseEntry
	for _, r := range rs {
		if r.Kind != rules.KindPhrase {
			return nil, fmt.Errorf("rule %q must be kind phrase, got %q", r.Name, r.Kind)
		}
		for _, p := range r.Patterns {
			entries = append(entries, phraseEntry{rule: r.Name, phrase: Normalize(p)})
		}
	}
	return entries, nil
}

// compileTemplates expands {tenant} templates once per requesting tenant.
// For requester T the expansion covers every tenant except T, so references
// to one's own data never trip the cross-tenant rules.
func (p *Planner) compileTemplates(rs []rules.Rule) error {
	p.crossTenant = make(map[string][]phraseEntry, len(p.tenants))
	for _, r := range rs {
		if r.Kind != rules.KindTemplate {
			return fmt.Errorf("rule %q must be kind template, got %q", r.Name, r.Kind)
		}
		for _, pat := range r.Patterns {
			if !strings.Contains(pat, rules.TenantPlaceholder) {
				p.allTenants = append(p.allTenants, phraseEntry{rule: r.Name, phrase: Normalize(pat)})
				continue
			}
			for _, requester := range p.tenants {
				for _, other := range p.tenants {
					if other == requester {
						continue
					}
					expanded := strings.ReplaceAll(pat, rules.TenantPlaceholder, other)
					p.crossTenant[requester] = append(p.crossTenant[requester], phraseEntry{
						rule:   r.Name,
						phrase: Normalize(expanded),
					})
				}
			}
		}
	}
	return nil
}

// Classify screens a query for the given tenant and returns its plan.
// The returned scope is always exactly the requesting tenant plus the public
// corpus, regardless of what the query asked for.
func (p *Planner) Classify(ctx context.Context, query, tenant string) Plan {
	_, span := tracer.Start(ctx, "planner.classify")
	defer span.End()

	plan := Plan{
		Query:  query,
		Tenant: tenant,
		Intent: IntentNormal,
		Scope:  []string{tenant, PublicScope},
	}

	normalized := Normalize(query)

	if rule, phrase, ok := matchPhrases(normalized, p.injection); ok {
		plan.Intent = IntentInjection
		plan.MatchedRule, plan.Matched = rule, phrase
	} else if rule, phrase, ok := matchPhrases(normalized, p.leakage); ok {
		plan.Intent = IntentLeakage
		plan.MatchedRule, plan.Matched = rule, phrase
	} else if rule, phrase, ok := p.matchCrossTenant(normalized, tenant); ok {
		plan.Intent = IntentCrossTenant
		plan.MatchedRule, plan.Matched = rule, phrase
	}

	span.SetAttributes(
		attribute.String("plan.intent", string(plan.Intent)),
		attribute.String("plan.matched_rule", plan.MatchedRule),
	)
	return plan
}

func matchPhrases(normalized string, entries []phraseEntry) (rule, phrase string, ok bool) {
	for _, e := range entries {
		if strings.Contains(normalized, e.phrase) {
			return e.rule, e.phrase, true
		}
	}
	return "", "", false
}

func (p *Planner) matchCrossTenant(normalized, tenant string) (rule, phrase string, ok bool) {
	if rule, phrase, ok := matchPhrases(normalized, p.crossTenant[tenant]); ok {
		return rule, phrase, true
	}
	return matchPhrases(normalized, p.allTenants)
}

// Normalize lowercases text and collapses all whitespace runs to single
// spaces so rule phrases match regardless of spacing or case.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
