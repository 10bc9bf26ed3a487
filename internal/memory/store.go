// Package memory implements per-tenant conversation memory.
//
// Turns are stored in SQLite, strictly partitioned by tenant. Three modes
// exist: none (stateless), buffer (a sliding window of recent turns), and
// summary (an LLM-maintained running summary). All content is redacted
// before it is written; raw PII never reaches disk.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	wardenotel "github.com/wardenhq/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/wardenhq/warden/internal/memory")

// Mode selects how conversation history is kept for a tenant.
type Mode string

const (
	ModeNone    Mode = "none"
	ModeBuffer  Mode = "buffer"
	ModeSummary Mode = "summary"
)

// ErrUnknownMode is returned for mode strings outside the known set.
var ErrUnknownMode = errors.New("unknown memory mode")

// ParseMode validates a mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNone, ModeBuffer, ModeSummary:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

const schema = `
CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant TEXT NOT NULL,
    role TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_turns_tenant ON turns(tenant, id);

CREATE TABLE IF NOT EXISTS summaries (
    tenant TEXT PRIMARY KEY,
    content TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS memory_modes (
    tenant TEXT PRIMARY KEY,
    mode TEXT NOT NULL
);
`

// Turn is one stored conversation message.
type Turn struct {
	ID        int64     `json:"id"`
	Tenant    string    `json:"tenant"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists conversation turns, summaries, and per-tenant modes.
type Store struct {
	db *sql.DB
}

// NewStore creates a memory store, initializing the schema.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening memory database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating memory schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// AppendTurn stores one message for a tenant.
func (s *Store) AppendTurn(ctx context.Context, tenant, role, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (tenant, role, content, created_at) VALUES (?, ?, ?, ?)`,
		tenant, role, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("appending turn for %s: %w", tenant, err)
	}
	return nil
}

// RecentTurns returns up to limit of the tenant's newest turns in
// chronological order.
func (s *Store) RecentTurns(ctx context.Context, tenant string, limit int) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant, role, content, created_at FROM (
		     SELECT id, tenant, role, content, created_at
		     FROM turns WHERE tenant = ? ORDER BY id DESC LIMIT ?
		 ) ORDER BY id ASC`,
		tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("reading turns for %s: %w", tenant, err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Tenant, &t.Role, &t.Content, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// TrimTurns evicts the tenant's oldest turns, keeping the newest keep rows.
func (s *Store) TrimTurns(ctx context.Context, tenant string, keep int) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM turns WHERE tenant = ? AND id NOT IN (
		     SELECT id FROM turns WHERE tenant = ? ORDER BY id DESC LIMIT ?
		 )`,
		tenant, tenant, keep)
	if err != nil {
		return fmt.Errorf("trimming turns for %s: %w", tenant, err)
	}
	return nil
}

// SetSummary replaces the tenant's running summary.
func (s *Store) SetSummary(ctx context.Context, tenant, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO summaries (tenant, content, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(tenant) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		tenant, content, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("writing summary for %s: %w", tenant, err)
	}
	return nil
}

// Summary returns the tenant's running summary, or "" when none exists.
func (s *Store) Summary(ctx context.Context, tenant string) (string, error) {
	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM summaries WHERE tenant = ?`, tenant).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading summary for %s: %w", tenant, err)
	}
	return content, nil
}

// SetMode persists the tenant's memory mode.
func (s *Store) SetMode(ctx context.Context, tenant string, mode Mode) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_modes (tenant, mode) VALUES (?, ?)
		 ON CONFLICT(tenant) DO UPDATE SET mode = excluded.mode`,
		tenant, string(mode))
	if err != nil {
		return fmt.Errorf("setting memory mode for %s: %w", tenant, err)
	}
	return nil
}

// ModeFor returns the tenant's memory mode, defaulting to buffer.
func (s *Store) ModeFor(ctx context.Context, tenant string) (Mode, error) {
	var mode string
	err := s.db.QueryRowContext(ctx,
		`SELECT mode FROM memory_modes WHERE tenant = ?`, tenant).Scan(&mode)
	if errors.Is(err, sql.ErrNoRows) {
		return ModeBuffer, nil
	}
	if err != nil {
		return "", fmt.Errorf("reading memory mode for %s: %w", tenant, err)
	}
	return ParseMode(mode)
}

// Clear deletes all turns and the summary for a tenant. The mode survives.
func (s *Store) Clear(ctx context.Context, tenant string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning clear transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE tenant = ?`, tenant); err != nil {
		return fmt.Errorf("clearing turns for %s: %w", tenant, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM summaries WHERE tenant = ?`, tenant); err != nil {
		return fmt.Errorf("clearing summary for %s: %w", tenant, err)
	}
	return tx.Commit()
}
