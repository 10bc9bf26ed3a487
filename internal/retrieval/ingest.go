package retrieval

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wardenhq/warden/internal/acl"
)

// Document is the indexed metadata for one corpus entry.
type Document struct {
	DocID      string
	Tenant     string
	Visibility string
	Path       string
	IndexedAt  time.Time
}

// ManifestRow is one line of the corpus manifest CSV (doc_id, tenant, path).
type ManifestRow struct {
	DocID  string
	Tenant string
	Path   string
}

// LoadManifest reads a corpus manifest CSV from disk.
func LoadManifest(path string) ([]ManifestRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening manifest %s: %w", path, err)
	}
	defer f.Close()
	return parseManifest(f)
}

func parseManifest(r io.Reader) ([]ManifestRow, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading manifest header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"doc_id", "tenant", "path"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("manifest missing column %q", required)
		}
	}

	var rows []ManifestRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading manifest row: %w", err)
		}
		get := func(name string) string {
			idx := cols[name]
			if idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}
		row := ManifestRow{DocID: get("doc_id"), Tenant: get("tenant"), Path: get("path")}
		if row.DocID == "" || row.Path == "" {
			return nil, fmt.Errorf("manifest row with empty doc_id or path")
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// IngestReport summarizes one indexing run.
type IngestReport struct {
	Documents int
	Chunks    int
	Skipped   int
}

// Ingest chunks every manifest document and upserts it into the store.
// The access table is authoritative for each document's tenant and
// visibility; documents absent from it fall back to the manifest tenant,
// public only when that tenant is the shared scope. Repeated runs are
// idempotent. Missing document files are skipped with a warning rather
// than failing the whole run.
func (s *Store) Ingest(ctx context.Context, baseDir string, manifest []ManifestRow, access *acl.Store) (*IngestReport, error) {
	ctx, span := tracer.Start(ctx, "retrieval.ingest")
	defer span.End()

	report := &IngestReport{}
	now := time.Now().UTC()

	for _, row := range manifest {
		content, err := os.ReadFile(filepath.Join(baseDir, row.Path))
		if err != nil {
			log.Warn().Err(err).Str("doc_id", row.DocID).Str("path", row.Path).
				Msg("skipping unreadable document")
			report.Skipped++
			continue
		}

		doc := Document{
			DocID:     row.DocID,
			Path:      row.Path,
			IndexedAt: now,
		}
		if entry, ok := access.Lookup(row.DocID); ok {
			doc.Tenant = entry.Tenant
			doc.Visibility = entry.Visibility
			if doc.Tenant == acl.Wildcard {
				doc.Tenant = "public"
			}
		} else {
			doc.Tenant = acl.NormalizeTenant(row.Tenant)
			if doc.Tenant == "public" {
				doc.Visibility = acl.VisibilityPublic
			} else {
				doc.Visibility = acl.VisibilityPrivate
			}
		}

		chunks := Chunk(string(content), DefaultChunkSize, DefaultChunkOverlap)
		if len(chunks) == 0 {
			report.Skipped++
			continue
		}
		if err := s.upsertDocument(ctx, doc, chunks); err != nil {
			return nil, err
		}

		report.Documents++
		report.Chunks += len(chunks)
	}

	log.Info().Int("documents", report.Documents).Int("chunks", report.Chunks).
		Int("skipped", report.Skipped).Msg("corpus_indexed")
	span.SetAttributes(
		attribute.Int("ingest.documents", report.Documents),
		attribute.Int("ingest.chunks", report.Chunks),
	)
	return report, nil
}
