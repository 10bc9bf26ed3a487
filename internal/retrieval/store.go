// Package retrieval implements the tenant-scoped corpus index.
//
// Documents are chunked and stored in SQLite with FTS5 full-text search.
// Every chunk row carries the owning tenant and visibility copied from the
// access table at index time, so scope filtering happens inside the search
// query itself rather than after the fact.
package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	wardenotel "github.com/wardenhq/warden/internal/otel"
)

var tracer = wardenotel.Tracer("github.com/wardenhq/warden/internal/retrieval")

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    doc_id TEXT PRIMARY KEY,
    tenant TEXT NOT NULL,
    visibility TEXT NOT NULL,
    path TEXT NOT NULL DEFAULT '',
    indexed_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
    chunk_id TEXT PRIMARY KEY,
    doc_id TEXT NOT NULL,
    tenant TEXT NOT NULL,
    visibility TEXT NOT NULL,
    seq INTEGER NOT NULL,
    text TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_tenant ON chunks(tenant);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_id);
`

const ftsSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    text,
    content=chunks,
    content_rowid=rowid
);

CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
END;

CREATE TRIGGER IF NOT EXISTS chunks_au AFTER UPDATE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, text) VALUES ('delete', old.rowid, old.text);
    INSERT INTO chunks_fts(rowid, text) VALUES (new.rowid, new.text);
END;
`

// Hit is a single retrieval result with its provenance metadata.
type Hit struct {
	DocID      string  `json:"doc_id"`
	ChunkID    string  `json:"chunk_id"`
	Tenant     string  `json:"tenant"`
	Visibility string  `json:"visibility"`
	Path       string  `json:"path,omitempty"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Searcher is the index interface consumed by the scoped retriever.
type Searcher interface {
	Search(ctx context.Context, query string, scopes []string, topK int) ([]Hit, error)
}

// Store persists chunked documents in SQLite with FTS5 full-text search.
type Store struct {
	db      *sql.DB
	hasFTS5 bool
}

// NewStore creates an index store, initializing the schema and FTS5 tables.
// FTS5 is optional; if the SQLite build doesn't support it, search degrades
// to LIKE queries over chunk text.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating index schema: %w", err)
	}

	hasFTS5 := true
	if _, err := db.ExecContext(context.Background(), ftsSchema); err != nil {
		hasFTS5 = false
	}

	return &Store{db: db, hasFTS5: hasFTS5}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Search runs a full-text query restricted to the given tenant scopes and
// returns up to topK hits ordered by descending score.
func (s *Store) Search(ctx context.Context, query string, scopes []string, topK int) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "retrieval.search",
		trace.WithAttributes(attribute.StringSlice("retrieval.scopes", scopes)))
	defer span.End()

	if len(scopes) == 0 || topK <= 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(scopes))
	placeholders = placeholders[:len(placeholders)-1]

	var sqlQuery string
	var args []interface{}

	if s.hasFTS5 {
		sqlQuery = fmt.Sprintf(`SELECT c.doc_id, c.chunk_id, c.tenant, c.visibility, c.text,
		            COALESCE(d.path, ''), bm25(chunks_fts) AS rank
		     FROM chunks c
		     JOIN chunks_fts f ON c.rowid = f.rowid
		     LEFT JOIN documents d ON d.doc_id = c.doc_id
		     WHERE f.chunks_fts MATCH ? AND c.tenant IN (%s)
		     ORDER BY rank LIMIT ?`, placeholders)
		args = append(args, ftsQuery(query))
	} else {
		sqlQuery = fmt.Sprintf(`SELECT c.doc_id, c.chunk_id, c.tenant, c.visibility, c.text,
		            COALESCE(d.path, ''), 0.0 AS rank
		     FROM chunks c
		     LEFT JOIN documents d ON d.doc_id = c.doc_id
		     WHERE c.text LIKE ? AND c.tenant IN (%s)
		     LIMIT ?`, placeholders)
		args = append(args, "%"+query+"%")
	}
	for _, scope := range scopes {
		args = append(args, scope)
	}
	args = append(args, topK)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		var rank float64
		if err := rows.Scan(&h.DocID, &h.ChunkID, &h.Tenant, &h.Visibility, &h.Text, &h.Path, &rank); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		h.Score = rankToScore(rank)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hits: %w", err)
	}

	span.SetAttributes(attribute.Int("retrieval.hit_count", len(hits)))
	return hits, nil
}

// rankToScore maps a bm25 rank (lower is better, usually negative) into
// (0, 1) with better matches closer to 1 so scores sort descending.
func rankToScore(rank float64) float64 {
	return 1.0 / (1.0 + math.Exp(rank))
}

// ftsQuery quotes each term so user text cannot inject FTS5 query syntax.
// Terms are OR-joined for recall; bm25 ranking rewards multi-term matches.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	quoted := make([]string, 0, len(fields))
	for _, f := range fields {
		quoted = append(quoted, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	if len(quoted) == 0 {
		return `""`
	}
	return strings.Join(quoted, " OR ")
}

// Stats reports document and chunk counts, used by the index CLI output.
func (s *Store) Stats(ctx context.Context) (docs, chunks int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&docs); err != nil {
		return 0, 0, fmt.Errorf("counting documents: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&chunks); err != nil {
		return 0, 0, fmt.Errorf("counting chunks: %w", err)
	}
	return docs, chunks, nil
}

// upsertDocument replaces a document and all of its chunks in one transaction,
// so repeated indexing runs never duplicate data.
func (s *Store) upsertDocument(ctx context.Context, doc Document, chunks []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning index transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_id = ?`, doc.DocID); err != nil {
		return fmt.Errorf("clearing chunks for %s: %w", doc.DocID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO documents (doc_id, tenant, visibility, path, indexed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(doc_id) DO UPDATE SET
		     tenant = excluded.tenant,
		     visibility = excluded.visibility,
		     path = excluded.path,
		     indexed_at = excluded.indexed_at`,
		doc.DocID, doc.Tenant, doc.Visibility, doc.Path, doc.IndexedAt); err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.DocID, err)
	}

	for i, text := range chunks {
		chunkID := fmt.Sprintf("%s_chunk_%d", doc.DocID, i)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (chunk_id, doc_id, tenant, visibility, seq, text)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			chunkID, doc.DocID, doc.Tenant, doc.Visibility, i, text); err != nil {
			return fmt.Errorf("inserting chunk %s: %w", chunkID, err)
		}
	}

	return tx.Commit()
}
