// Package audit provides the HMAC-signed decision log.
//
// Every query — answered, refused, or failed — produces one Record that is
// signed (HMAC-SHA256) and persisted in SQLite. The stored query text is the
// masked form; raw PII never enters the log. Records can be listed per
// tenant, exported as JSONL, and verified for tampering after the fact.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	wardenotel "github.com/wardenhq/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/wardenhq/warden/internal/audit")

// ErrRecordNotFound is returned when a decision record does not exist.
var ErrRecordNotFound = errors.New("decision record not found")

// Record is the audit entry for a single query decision.
type Record struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	TenantID        string    `json:"tenant_id"`
	Query           string    `json:"query"` // masked form
	MemoryMode      string    `json:"memory_mode"`
	Intent          string    `json:"intent"`
	MatchedRule     string    `json:"matched_rule,omitempty"`
	Scope           []string  `json:"scope"`
	RetrievedDocIDs []string  `json:"retrieved_doc_ids"`
	AllowedDocIDs   []string  `json:"allowed_doc_ids"`
	DroppedHits     int       `json:"dropped_hits"`
	Redactions      int       `json:"redactions"`
	FinalDecision   string    `json:"final_decision"` // "answer", "refuse", "error"
	RefusalReason   string    `json:"refusal_reason,omitempty"`
	Model           string    `json:"model,omitempty"`
	TokensPrompt    int       `json:"tokens_prompt"`
	TokensOutput    int       `json:"tokens_completion"`
	LatencyMS       int64     `json:"latency_ms"`
	Signature       string    `json:"signature"`
}

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
    id TEXT PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL,
    tenant_id TEXT NOT NULL,
    final_decision TEXT NOT NULL,
    refusal_reason TEXT NOT NULL DEFAULT '',
    record_json TEXT NOT NULL,
    signature TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_tenant ON decisions(tenant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_decisions_outcome ON decisions(final_decision);
`

// Store persists HMAC-signed decision records in SQLite.
type Store struct {
	db     *sql.DB
	signer *Signer
}

// NewStore creates a decision-log store with HMAC signing.
func NewStore(dbPath, signingKey string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening audit database: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating audit schema: %w", err)
	}

	signer, err := NewSigner(signingKey)
	if err != nil {
		return nil, fmt.Errorf("creating signer: %w", err)
	}
	return &Store{db: db, signer: signer}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Append signs and persists a decision record, assigning its ID and
// timestamp if unset.
func (s *Store) Append(ctx context.Context, rec *Record) error {
	ctx, span := tracer.Start(ctx, "audit.append",
		trace.WithAttributes(
			attribute.String("tenant_id", rec.TenantID),
			attribute.String("audit.final_decision", rec.FinalDecision),
		))
	defer span.End()

	if rec.ID == "" {
		rec.ID = "dec_" + uuid.New().String()[:12]
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}

	rec.Signature = ""
	unsigned, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling decision record: %w", err)
	}
	signature, err := s.signer.Sign(unsigned)
	if err != nil {
		return fmt.Errorf("signing decision record: %w", err)
	}
	rec.Signature = signature

	signed, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling signed record: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, timestamp, tenant_id, final_decision, refusal_reason, record_json, signature)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Timestamp, rec.TenantID, rec.FinalDecision, rec.RefusalReason, string(signed), signature)
	if err != nil {
		return fmt.Errorf("storing decision record: %w", err)
	}

	span.SetAttributes(attribute.String("audit.record_id", rec.ID))
	return nil
}

// Get retrieves a decision record by ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var recordJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM decisions WHERE id = ?`, id).Scan(&recordJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading decision record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling decision record: %w", err)
	}
	return &rec, nil
}

// List returns the tenant's newest records, newest first. An empty tenant
// lists across all tenants.
func (s *Store) List(ctx context.Context, tenant string, limit int) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "audit.list")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT record_json FROM decisions WHERE (? = '' OR tenant_id = ?)
	          ORDER BY timestamp DESC, id DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, tenant, tenant, limit)
	if err != nil {
		return nil, fmt.Errorf("listing decision records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("scanning decision record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling decision record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ListRange returns the tenant's records within [since, until), newest
// first. A zero since or until leaves that bound open; an empty tenant
// lists across all tenants.
func (s *Store) ListRange(ctx context.Context, tenant string, since, until time.Time, limit int) ([]Record, error) {
	ctx, span := tracer.Start(ctx, "audit.list_range")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	query := `SELECT record_json FROM decisions
	          WHERE (? = '' OR tenant_id = ?)`
	args := []interface{}{tenant, tenant}
	if !since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, since)
	}
	if !until.IsZero() {
		query += ` AND timestamp < ?`
		args = append(args, until)
	}
	query += ` ORDER BY timestamp DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing decision records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return nil, fmt.Errorf("scanning decision record: %w", err)
		}
		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			return nil, fmt.Errorf("unmarshaling decision record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// VerifyReport summarizes a tamper check over the log.
type VerifyReport struct {
	Checked  int
	Valid    int
	Tampered []string // IDs whose signature no longer matches
}

// Verify re-computes every record's signature and reports mismatches.
func (s *Store) Verify(ctx context.Context) (*VerifyReport, error) {
	ctx, span := tracer.Start(ctx, "audit.verify")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `SELECT id, record_json, signature FROM decisions`)
	if err != nil {
		return nil, fmt.Errorf("reading decision records: %w", err)
	}
	defer rows.Close()

	report := &VerifyReport{}
	for rows.Next() {
		var id, recordJSON, signature string
		if err := rows.Scan(&id, &recordJSON, &signature); err != nil {
			return nil, fmt.Errorf("scanning decision record: %w", err)
		}
		report.Checked++

		var rec Record
		if err := json.Unmarshal([]byte(recordJSON), &rec); err != nil {
			report.Tampered = append(report.Tampered, id)
			continue
		}
		rec.Signature = ""
		unsigned, err := json.Marshal(&rec)
		if err != nil || !s.signer.Verify(unsigned, signature) {
			report.Tampered = append(report.Tampered, id)
			continue
		}
		report.Valid++
	}

	span.SetAttributes(
		attribute.Int("audit.checked", report.Checked),
		attribute.Int("audit.tampered", len(report.Tampered)),
	)
	return report, rows.Err()
}

// ExportJSONL streams the tenant's records to w as one JSON object per line,
// oldest first. An empty tenant exports the whole log.
func (s *Store) ExportJSONL(ctx context.Context, w io.Writer, tenant string) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record_json FROM decisions WHERE (? = '' OR tenant_id = ?)
		 ORDER BY timestamp ASC, id ASC`, tenant, tenant)
	if err != nil {
		return 0, fmt.Errorf("exporting decision records: %w", err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var recordJSON string
		if err := rows.Scan(&recordJSON); err != nil {
			return count, fmt.Errorf("scanning decision record: %w", err)
		}
		if _, err := io.WriteString(w, recordJSON+"\n"); err != nil {
			return count, fmt.Errorf("writing export line: %w", err)
		}
		count++
	}
	return count, rows.Err()
}
