package cmd

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/acl"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/controller"
	"github.com/wardenhq/warden/internal/guard"
	"github.com/wardenhq/warden/internal/llm"
	"github.com/wardenhq/warden/internal/memory"
	"github.com/wardenhq/warden/internal/planner"
	"github.com/wardenhq/warden/internal/redact"
	"github.com/wardenhq/warden/internal/retrieval"
)

// pipeline bundles every long-lived component behind the CLI commands.
type pipeline struct {
	cfg       *config.Config
	access    *acl.Store
	index     *retrieval.Store
	memStore  *memory.Store
	mem       *memory.Manager
	decisions *audit.Store
	engine    *controller.Engine
}

// buildPipeline loads config and constructs the full query pipeline.
// Every returned pipeline must be released with Close.
func buildPipeline() (*pipeline, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	cfg.WarnIfDefaultKeys()

	access, err := acl.LoadFile(cfg.ACLPath)
	if err != nil {
		return nil, fmt.Errorf("loading access table: %w", err)
	}

	index, err := retrieval.NewStore(cfg.IndexDBPath())
	if err != nil {
		return nil, err
	}

	memStore, err := memory.NewStore(cfg.MemoryDBPath())
	if err != nil {
		index.Close()
		return nil, err
	}

	decisions, err := audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		index.Close()
		memStore.Close()
		return nil, err
	}

	provider, err := llm.New(llm.Config{
		Provider:      cfg.LLMProvider,
		Model:         cfg.LLMModel,
		APIKey:        cfg.LLMAPIKey,
		BaseURL:       cfg.LLMBaseURL,
		OllamaBaseURL: cfg.OllamaBaseURL,
	})
	if err != nil {
		index.Close()
		memStore.Close()
		decisions.Close()
		return nil, err
	}

	var plannerOpts []planner.Option
	var redactOpts []redact.Option
	if cfg.PatternsFile != "" {
		plannerOpts = append(plannerOpts, planner.WithRuleFile(cfg.PatternsFile))
		redactOpts = append(redactOpts, redact.WithRuleFile(cfg.PatternsFile))
	}
	plan, err := planner.New(cfg.Tenants, plannerOpts...)
	if err != nil {
		index.Close()
		memStore.Close()
		decisions.Close()
		return nil, fmt.Errorf("building planner: %w", err)
	}
	masker, err := redact.New(redactOpts...)
	if err != nil {
		index.Close()
		memStore.Close()
		decisions.Close()
		return nil, fmt.Errorf("building redactor: %w", err)
	}

	mem := memory.NewManager(memStore, masker, provider, cfg.LLMModel)

	engine := controller.New(
		plan,
		retrieval.NewRetriever(index, retrieval.WithTopK(cfg.TopK)),
		guard.New(access, masker),
		masker,
		mem,
		provider,
		cfg.LLMModel,
		controller.WithAuditLog(decisions),
	)

	return &pipeline{
		cfg:       cfg,
		access:    access,
		index:     index,
		memStore:  memStore,
		mem:       mem,
		decisions: decisions,
		engine:    engine,
	}, nil
}

// Close releases every store the pipeline holds open.
func (p *pipeline) Close() {
	p.index.Close()
	p.memStore.Close()
	p.decisions.Close()
}

// Reindex re-ingests the corpus manifest into the retrieval index. It
// satisfies trigger.Reindexer for scheduled runs in serve mode.
func (p *pipeline) Reindex(ctx context.Context) error {
	manifest, err := retrieval.LoadManifest(p.cfg.ManifestPath)
	if err != nil {
		return err
	}
	report, err := p.index.Ingest(ctx, manifestBaseDir(p.cfg.ManifestPath), manifest, p.access)
	if err != nil {
		return err
	}
	log.Info().Int("documents", report.Documents).Int("chunks", report.Chunks).
		Int("skipped", report.Skipped).Msg("reindex_complete")
	return nil
}

// manifestBaseDir resolves document paths relative to the manifest location.
func manifestBaseDir(manifestPath string) string {
	return filepath.Dir(manifestPath)
}
