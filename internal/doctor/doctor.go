// Package doctor provides health checks for warden configuration and runtime.
// Used by `warden doctor` before first deployment and in CI.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/wardenhq/warden/internal/acl"
	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/planner"
	"github.com/wardenhq/warden/internal/retrieval"
)

// CheckResult is a single doctor check outcome.
type CheckResult struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Status   string `json:"status"` // pass, warn, fail
	Message  string `json:"message"`
	Fix      string `json:"fix,omitempty"`
}

// Summary tallies pass/warn/fail counts.
type Summary struct {
	Pass int `json:"pass"`
	Warn int `json:"warn"`
	Fail int `json:"fail"`
}

// Report is the complete doctor output.
type Report struct {
	Status  string        `json:"status"` // worst of all checks
	Checks  []CheckResult `json:"checks"`
	Summary Summary       `json:"summary"`
}

// Options controls which check categories to run.
type Options struct {
	SkipUpstream bool // Skip LLM connectivity checks (for CI/offline)
}

// Run executes all doctor checks and returns a report.
func Run(ctx context.Context, opts Options) *Report {
	report := &Report{}

	cfg, err := config.Load()
	if err != nil {
		report.Checks = append(report.Checks, CheckResult{
			Name: "config_load", Category: "config", Status: "fail",
			Message: fmt.Sprintf("Cannot load config: %v", err),
			Fix:     "Check WARDEN_* env vars and warden.config.yaml",
		})
	} else {
		report.Checks = append(report.Checks, checkDataDir(cfg))
		report.Checks = append(report.Checks, checkSigningKey(cfg))
		report.Checks = append(report.Checks, checkAccessTable(cfg))
		report.Checks = append(report.Checks, checkManifest(cfg))
		report.Checks = append(report.Checks, checkPatterns(cfg))
		report.Checks = append(report.Checks, checkIndex(cfg))
		report.Checks = append(report.Checks, checkDecisionLog(cfg))
		if !opts.SkipUpstream {
			report.Checks = append(report.Checks, checkLLMUpstream(ctx, cfg))
		}
	}

	for _, c := range report.Checks {
		switch c.Status {
		case "pass":
			report.Summary.Pass++
		case "warn":
			report.Summary.Warn++
		case "fail":
			report.Summary.Fail++
		}
	}

	report.Status = "pass"
	if report.Summary.Warn > 0 {
		report.Status = "warn"
	}
	if report.Summary.Fail > 0 {
		report.Status = "fail"
	}
	return report
}

func checkDataDir(cfg *config.Config) CheckResult {
	if err := cfg.EnsureDataDir(); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.DataDir, err),
			Fix:     "Ensure directory exists and is writable",
		}
	}
	testFile := filepath.Join(cfg.DataDir, ".doctor-write-test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return CheckResult{
			Name: "data_dir_writable", Category: "config", Status: "fail",
			Message: fmt.Sprintf("%s not writable: %v", cfg.DataDir, err),
		}
	}
	_ = os.Remove(testFile)
	return CheckResult{
		Name: "data_dir_writable", Category: "config", Status: "pass",
		Message: fmt.Sprintf("%s (writable)", cfg.DataDir),
	}
}

func checkSigningKey(cfg *config.Config) CheckResult {
	if cfg.UsingDefaultSigningKey() {
		return CheckResult{
			Name: "signing_key", Category: "config", Status: "warn",
			Message: "Using generated default",
			Fix:     "Set WARDEN_SIGNING_KEY for production",
		}
	}
	return CheckResult{
		Name: "signing_key", Category: "config", Status: "pass", Message: "Configured",
	}
}

func checkAccessTable(cfg *config.Config) CheckResult {
	store, err := acl.LoadFile(cfg.ACLPath)
	if err != nil {
		return CheckResult{
			Name: "access_table", Category: "corpus", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.ACLPath, err),
			Fix:     "Provide a doc_id,tenant_id,visibility CSV at acl_path",
		}
	}
	return CheckResult{
		Name: "access_table", Category: "corpus", Status: "pass",
		Message: fmt.Sprintf("%s (%d entries)", cfg.ACLPath, store.Len()),
	}
}

func checkManifest(cfg *config.Config) CheckResult {
	rows, err := retrieval.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return CheckResult{
			Name: "manifest", Category: "corpus", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.ManifestPath, err),
			Fix:     "Provide a doc_id,tenant,path CSV at manifest_path",
		}
	}
	missing := 0
	base := filepath.Dir(cfg.ManifestPath)
	for _, row := range rows {
		if _, err := os.Stat(filepath.Join(base, row.Path)); err != nil {
			missing++
		}
	}
	if missing > 0 {
		return CheckResult{
			Name: "manifest", Category: "corpus", Status: "warn",
			Message: fmt.Sprintf("%s (%d rows, %d files missing)", cfg.ManifestPath, len(rows), missing),
			Fix:     "Missing files are skipped at index time",
		}
	}
	return CheckResult{
		Name: "manifest", Category: "corpus", Status: "pass",
		Message: fmt.Sprintf("%s (%d rows)", cfg.ManifestPath, len(rows)),
	}
}

func checkPatterns(cfg *config.Config) CheckResult {
	if cfg.PatternsFile == "" {
		return CheckResult{
			Name: "patterns", Category: "rules", Status: "pass",
			Message: "Embedded defaults",
		}
	}
	if _, err := planner.New(cfg.Tenants, planner.WithRuleFile(cfg.PatternsFile)); err != nil {
		return CheckResult{
			Name: "patterns", Category: "rules", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.PatternsFile, err),
		}
	}
	return CheckResult{
		Name: "patterns", Category: "rules", Status: "pass",
		Message: cfg.PatternsFile,
	}
}

func checkIndex(cfg *config.Config) CheckResult {
	store, err := retrieval.NewStore(cfg.IndexDBPath())
	if err != nil {
		return CheckResult{
			Name: "index_db", Category: "storage", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.IndexDBPath(), err),
		}
	}
	defer store.Close()

	docs, chunks, err := store.Stats(context.Background())
	if err != nil {
		return CheckResult{
			Name: "index_db", Category: "storage", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.IndexDBPath(), err),
		}
	}
	if docs == 0 {
		return CheckResult{
			Name: "index_db", Category: "storage", Status: "warn",
			Message: "Index is empty",
			Fix:     "Run 'warden index' to ingest the corpus",
		}
	}
	return CheckResult{
		Name: "index_db", Category: "storage", Status: "pass",
		Message: fmt.Sprintf("%d documents, %d chunks", docs, chunks),
	}
}

func checkDecisionLog(cfg *config.Config) CheckResult {
	store, err := audit.NewStore(cfg.AuditDBPath(), cfg.SigningKey)
	if err != nil {
		return CheckResult{
			Name: "decision_log", Category: "storage", Status: "fail",
			Message: fmt.Sprintf("%s: %v", cfg.AuditDBPath(), err),
		}
	}
	defer store.Close()

	report, err := store.Verify(context.Background())
	if err != nil {
		return CheckResult{
			Name: "decision_log", Category: "storage", Status: "fail",
			Message: fmt.Sprintf("verification failed: %v", err),
		}
	}
	if len(report.Tampered) > 0 {
		return CheckResult{
			Name: "decision_log", Category: "storage", Status: "fail",
			Message: fmt.Sprintf("%d of %d records tampered", len(report.Tampered), report.Checked),
		}
	}
	return CheckResult{
		Name: "decision_log", Category: "storage", Status: "pass",
		Message: fmt.Sprintf("%d records, all signatures valid", report.Checked),
	}
}

func checkLLMUpstream(ctx context.Context, cfg *config.Config) CheckResult {
	var url string
	switch cfg.LLMProvider {
	case "ollama":
		url = cfg.OllamaBaseURL + "/api/tags"
	default:
		if cfg.LLMAPIKey == "" {
			return CheckResult{
				Name: "llm_upstream", Category: "llm", Status: "fail",
				Message: "No API key configured",
				Fix:     "Set WARDEN_LLM_API_KEY or OPENAI_API_KEY",
			}
		}
		if cfg.LLMBaseURL == "" {
			return CheckResult{
				Name: "llm_upstream", Category: "llm", Status: "pass",
				Message: fmt.Sprintf("openai/%s (key configured)", cfg.LLMModel),
			}
		}
		url = cfg.LLMBaseURL
	}

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return CheckResult{
			Name: "llm_upstream", Category: "llm", Status: "fail",
			Message: fmt.Sprintf("%s: %v", url, err),
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return CheckResult{
			Name: "llm_upstream", Category: "llm", Status: "fail",
			Message: fmt.Sprintf("%s unreachable: %v", url, err),
			Fix:     "Check the endpoint is running and the URL is correct",
		}
	}
	resp.Body.Close()
	return CheckResult{
		Name: "llm_upstream", Category: "llm", Status: "pass",
		Message: fmt.Sprintf("%s/%s reachable", cfg.LLMProvider, cfg.LLMModel),
	}
}
