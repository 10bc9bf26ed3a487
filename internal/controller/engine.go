// Package controller orchestrates the query pipeline: mask, classify,
// retrieve, guard, generate, and log.
//
// The pipeline fails secure. Any refusal condition terminates the run
// immediately with the fixed refusal text for its reason; later stages never
// execute. Transient infrastructure failures surface as errors, not
// refusals, so callers can retry without a policy event on record. Memory is
// written only after the decision is final, and every completed or refused
// query leaves one signed record in the decision log.
package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/guard"
	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/internal/memory"
	wardenotel "github.com/wardenhq/warden/internal/otel"
	"github.com/wardenhq/warden/internal/planner"
	"github.com/wardenhq/warden/internal/retrieval"
)

var tracer = wardenotel.Tracer("github.com/wardenhq/warden/internal/controller")

// Generation defaults, matching the answering (not summarization) path.
const (
	defaultTemperature = 0.0
	defaultMaxTokens   = 400
)

// Masker redacts PII spans in text.
type Masker interface {
	Apply(ctx context.Context, text string) (string, int)
}

// Request is one query to process.
type Request struct {
	Tenant string
	Query  string
	// Remember persists the exchange to conversation memory after the
	// decision is final. Single-shot callers leave it false.
	Remember bool
}

// Engine wires the pipeline stages together.
type Engine struct {
	planner     *planner.Planner
	retriever   *retrieval.Retriever
	guard       *guard.Guard
	masker      Masker
	mem         *memory.Manager
	provider    llm.Provider
	model       string
	temperature float64
	maxTokens   int
	auditLog    *audit.Store
}

// Option configures an Engine.
type Option func(*Engine)

// WithGenerationParams overrides the answer temperature and token cap.
func WithGenerationParams(temperature float64, maxTokens int) Option {
	return func(e *Engine) {
		e.temperature = temperature
		e.maxTokens = maxTokens
	}
}

// WithAuditLog attaches the signed decision log. Without it decisions are
// still returned but not persisted.
func WithAuditLog(store *audit.Store) Option {
	return func(e *Engine) { e.auditLog = store }
}

// New creates an Engine over the given collaborators.
func New(
	p *planner.Planner,
	r *retrieval.Retriever,
	g *guard.Guard,
	masker Masker,
	mem *memory.Manager,
	provider llm.Provider,
	model string,
	opts ...Option,
) *Engine {
	e := &Engine{
		planner:     p,
		retriever:   r,
		guard:       g,
		masker:      masker,
		mem:         mem,
		provider:    provider,
		model:       model,
		temperature: defaultTemperature,
		maxTokens:   defaultMaxTokens,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Query runs one request through the full pipeline and returns its decision.
// A non-nil error means a transient failure; no decision was reached and
// nothing was written to memory.
func (e *Engine) Query(ctx context.Context, req Request) (*Decision, error) {
	ctx, span := tracer.Start(ctx, "controller.query",
		trace.WithAttributes(attribute.String("tenant_id", req.Tenant)))
	defer span.End()

	started := time.Now()

	// Mask the query before anything else sees it; the raw form is never
	// classified, retrieved against, logged, or remembered.
	maskedQuery, queryRedactions := e.masker.Apply(ctx, req.Query)

	memMode, err := e.mem.Mode(ctx, req.Tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: reading memory mode: %v", ErrGeneration, err)
	}

	plan := e.planner.Classify(ctx, maskedQuery, req.Tenant)

	decision := &Decision{
		Status:          StatusAnswer,
		Intent:          plan.Intent,
		MatchedRule:     plan.MatchedRule,
		MemoryMode:      memMode,
		Redactions:      queryRedactions,
		RetrievedDocIDs: []string{},
	}

	switch plan.Intent {
	case planner.IntentInjection:
		return e.finalizeRefusal(ctx, req, maskedQuery, decision, ReasonInjectionDetected, started)
	case planner.IntentLeakage:
		return e.finalizeRefusal(ctx, req, maskedQuery, decision, ReasonLeakageRisk, started)
	case planner.IntentCrossTenant:
		return e.finalizeRefusal(ctx, req, maskedQuery, decision, ReasonAccessDenied, started)
	}

	hits, err := e.retriever.Retrieve(ctx, maskedQuery, req.Tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	guarded := e.guard.Apply(ctx, req.Tenant, hits)
	decision.DroppedHits = guarded.Dropped
	decision.Redactions += guarded.Redactions

	// Candidates existed but none survived the access re-check. Distinct
	// from an empty index result, which proceeds with no evidence.
	if guarded.DroppedAll {
		return e.finalizeRefusal(ctx, req, maskedQuery, decision, ReasonAccessDenied, started)
	}

	memCtx, err := e.mem.Context(ctx, req.Tenant)
	if err != nil {
		return nil, fmt.Errorf("%w: reading memory: %v", ErrGeneration, err)
	}

	resp, err := e.provider.Generate(ctx, &llm.Request{
		Model: e.model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildUserPrompt(memCtx, maskedQuery, guarded.Hits)},
		},
		Temperature: e.temperature,
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		e.appendAudit(ctx, req, maskedQuery, decision, "error", started)
		return nil, fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	for _, h := range guarded.Hits {
		decision.RetrievedDocIDs = append(decision.RetrievedDocIDs, h.DocID)
	}
	decision.Output = resp.Content
	decision.Model = resp.Model
	decision.TokensPrompt = resp.InputTokens
	decision.TokensOutput = resp.OutputTokens

	return e.finalize(ctx, req, maskedQuery, decision, started)
}

// finalizeRefusal stamps the fixed refusal text and finalizes the decision.
func (e *Engine) finalizeRefusal(ctx context.Context, req Request, maskedQuery string, d *Decision, reason RefusalReason, started time.Time) (*Decision, error) {
	d.Status = StatusRefuse
	d.Reason = reason
	d.Output = RefusalMessage(reason)
	d.RetrievedDocIDs = []string{}
	return e.finalize(ctx, req, maskedQuery, d, started)
}

// finalize closes out a decision: latency, decision log, and (only now)
// conversation memory.
func (e *Engine) finalize(ctx context.Context, req Request, maskedQuery string, d *Decision, started time.Time) (*Decision, error) {
	d.LatencyMS = time.Since(started).Milliseconds()

	log.Info().
		Str("tenant_id", req.Tenant).
		Str("final_decision", string(d.Status)).
		Str("refusal_reason", string(d.Reason)).
		Str("intent", string(d.Intent)).
		Int("retrieved_count", len(d.RetrievedDocIDs)).
		Int64("latency_ms", d.LatencyMS).
		Msg("query_decided")

	e.appendAudit(ctx, req, maskedQuery, d, string(d.Status), started)

	if req.Remember {
		if err := e.mem.Record(ctx, req.Tenant, maskedQuery, d.Output); err != nil {
			log.Warn().Err(err).Str("tenant_id", req.Tenant).Msg("memory_write_failed")
		}
	}
	return d, nil
}

// appendAudit writes the signed decision record. Logging failures are
// surfaced but do not change the decision already made.
func (e *Engine) appendAudit(ctx context.Context, req Request, maskedQuery string, d *Decision, outcome string, started time.Time) {
	if e.auditLog == nil {
		return
	}

	rec := &audit.Record{
		TenantID:        req.Tenant,
		Query:           maskedQuery,
		MemoryMode:      string(d.MemoryMode),
		Intent:          string(d.Intent),
		MatchedRule:     d.MatchedRule,
		Scope:           []string{req.Tenant, "public"},
		RetrievedDocIDs: d.RetrievedDocIDs,
		AllowedDocIDs:   d.RetrievedDocIDs,
		DroppedHits:     d.DroppedHits,
		Redactions:      d.Redactions,
		FinalDecision:   outcome,
		RefusalReason:   string(d.Reason),
		Model:           d.Model,
		TokensPrompt:    d.TokensPrompt,
		TokensOutput:    d.TokensOutput,
		LatencyMS:       time.Since(started).Milliseconds(),
	}
	if err := e.auditLog.Append(ctx, rec); err != nil {
		log.Error().Err(err).Str("tenant_id", req.Tenant).Msg("decision_log_write_failed")
	}
}

// IsTransient reports whether err is a retryable generation failure rather
// than a policy outcome.
func IsTransient(err error) bool {
	return errors.Is(err, ErrGeneration)
}
