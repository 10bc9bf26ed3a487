// Package config holds operator-level configuration for a warden installation.
//
// This is infrastructure config set by whoever deploys warden, NOT end-user
// state: data directory, corpus manifest and ACL table locations, decision-log
// signing key, retrieval depth, and LLM endpoints. Set via env vars (WARDEN_*)
// or a config file (warden.config.yaml). Tenant identity is supplied per
// request and is never part of this config.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/wardenhq/warden/internal/cryptoutil"
)

// Viper keys. Each maps to an env var with the WARDEN_ prefix
// (e.g. "signing_key" → WARDEN_SIGNING_KEY) and to a YAML field
// in warden.config.yaml.
const (
	KeyDataDir       = "data_dir"
	KeySigningKey    = "signing_key"
	KeyManifestPath  = "manifest_path"
	KeyACLPath       = "acl_path"
	KeyPatternsFile  = "patterns_file"
	KeyTopK          = "top_k"
	KeyTenants       = "tenants"
	KeyLLMProvider   = "llm_provider"
	KeyLLMModel      = "llm_model"
	KeyLLMAPIKey     = "llm_api_key"
	KeyLLMBaseURL    = "llm_base_url"
	KeyOllamaBaseURL = "ollama_base_url"
	KeyReindexCron   = "reindex_cron"
	KeyRateLimitRPS  = "rate_limit_rps"
)

// Defaults that do NOT involve crypto material. The signing key intentionally
// has no baked-in default — when unset we generate a deterministic per-machine
// fallback and warn loudly.
const (
	DefaultManifestPath = "data/manifest.csv"
	DefaultACLPath      = "data/tenant_acl.csv"
	DefaultTopK         = 6
	DefaultLLMProvider  = "openai"
	DefaultLLMModel     = "gpt-4o-mini"
	DefaultOllamaURL    = "http://localhost:11434"
	DefaultRateLimitRPS = 10
)

// DefaultTenants is the closed tenant set served when none is configured.
var DefaultTenants = []string{"U1", "U2", "U3", "U4"}

// Config holds resolved operator-level configuration for a warden process.
type Config struct {
	DataDir       string   // Base directory for all state (~/.warden)
	SigningKey    string   // HMAC-SHA256 key for decision-log signing (≥32 bytes)
	ManifestPath  string   // Corpus manifest CSV (doc_id, tenant, path)
	ACLPath       string   // Access control CSV (doc_id, tenant_id, visibility)
	PatternsFile  string   // Optional rule-file override for the planner
	TopK          int      // Retrieval depth
	Tenants       []string // Closed tenant set
	LLMProvider   string   // "openai" or "ollama"
	LLMModel      string
	LLMAPIKey     string // Falls back to OPENAI_API_KEY for quickstart
	LLMBaseURL    string // Optional OpenAI-compatible endpoint override
	OllamaBaseURL string
	ReindexCron   string // Optional cron spec for periodic re-indexing in serve mode
	RateLimitRPS  int    // Per-tenant request rate in serve mode; 0 disables limiting

	usingDefaultSigningKey bool
}

// UsingDefaultSigningKey returns true if the signing key was derived (not set explicitly).
func (c *Config) UsingDefaultSigningKey() bool {
	return c.usingDefaultSigningKey
}

// IndexDBPath returns the full path to the corpus index SQLite database.
func (c *Config) IndexDBPath() string {
	return filepath.Join(c.DataDir, "index.db")
}

// MemoryDBPath returns the full path to the conversation memory SQLite database.
func (c *Config) MemoryDBPath() string {
	return filepath.Join(c.DataDir, "memory.db")
}

// AuditDBPath returns the full path to the decision-log SQLite database.
func (c *Config) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func (c *Config) EnsureDataDir() error {
	return os.MkdirAll(c.DataDir, 0o700)
}

// WarnIfDefaultKeys logs a warning when the signing key is not explicitly set.
func (c *Config) WarnIfDefaultKeys() {
	if c.usingDefaultSigningKey {
		log.Warn().Msg("Using generated default WARDEN_SIGNING_KEY — set via env var or config file for production")
	}
}

func init() {
	viper.SetEnvPrefix("WARDEN")
	viper.AutomaticEnv()
	viper.SetDefault(KeyManifestPath, DefaultManifestPath)
	viper.SetDefault(KeyACLPath, DefaultACLPath)
	viper.SetDefault(KeyTopK, DefaultTopK)
	viper.SetDefault(KeyLLMProvider, DefaultLLMProvider)
	viper.SetDefault(KeyLLMModel, DefaultLLMModel)
	viper.SetDefault(KeyOllamaBaseURL, DefaultOllamaURL)
	viper.SetDefault(KeyRateLimitRPS, DefaultRateLimitRPS)
}

// Load reads configuration from Viper (which merges env vars, config file,
// and defaults) and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		DataDir:       resolveDataDir(),
		SigningKey:    viper.GetString(KeySigningKey),
		ManifestPath:  viper.GetString(KeyManifestPath),
		ACLPath:       viper.GetString(KeyACLPath),
		PatternsFile:  viper.GetString(KeyPatternsFile),
		TopK:          viper.GetInt(KeyTopK),
		Tenants:       viper.GetStringSlice(KeyTenants),
		LLMProvider:   viper.GetString(KeyLLMProvider),
		LLMModel:      viper.GetString(KeyLLMModel),
		LLMAPIKey:     viper.GetString(KeyLLMAPIKey),
		LLMBaseURL:    viper.GetString(KeyLLMBaseURL),
		OllamaBaseURL: viper.GetString(KeyOllamaBaseURL),
		ReindexCron:   viper.GetString(KeyReindexCron),
		RateLimitRPS:  viper.GetInt(KeyRateLimitRPS),
	}

	if len(cfg.Tenants) == 0 {
		cfg.Tenants = append([]string(nil), DefaultTenants...)
	}
	if cfg.LLMAPIKey == "" {
		cfg.LLMAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.SigningKey == "" {
		cfg.SigningKey = deriveDefaultKey(cfg.DataDir, "decision-signing")
		cfg.usingDefaultSigningKey = true
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func resolveDataDir() string {
	if dir := viper.GetString(KeyDataDir); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".warden"
	}
	return filepath.Join(home, ".warden")
}

// deriveDefaultKey produces a deterministic 32-byte fallback key from the data
// directory path and a salt. This is NOT cryptographically strong — it exists
// solely so `warden index && warden query` works out of the box while still
// signing decision records with a per-machine-unique key.
func deriveDefaultKey(dataDir, salt string) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("warden:%s:%s", dataDir, salt)))
	return hex.EncodeToString(h[:])
}

func (c *Config) validate() error {
	if err := validateSigningKey(c.SigningKey); err != nil {
		return err
	}
	if c.TopK <= 0 {
		return fmt.Errorf("top_k must be positive")
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("rate_limit_rps must not be negative")
	}
	switch c.LLMProvider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("llm_provider must be openai or ollama (got %q)", c.LLMProvider)
	}
	for _, t := range c.Tenants {
		if t == "" {
			return fmt.Errorf("tenants must not contain empty entries")
		}
		if t == "public" {
			return fmt.Errorf(`"public" is a shared scope, not a tenant`)
		}
	}
	return nil
}

// validateSigningKey accepts either ≥32 raw bytes or ≥64 hex characters
// (decoded length ≥32 for HMAC-SHA256).
func validateSigningKey(key string) error {
	n := len(key)
	if n >= 64 && n%2 == 0 && cryptoutil.IsHexString(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) < 32 {
			return fmt.Errorf("signing_key hex must decode to at least 32 bytes: %w", err)
		}
		return nil
	}
	if n >= 32 {
		return nil
	}
	return fmt.Errorf("signing_key must be at least 32 bytes or 64+ hex characters (got %d); set WARDEN_SIGNING_KEY", n)
}
