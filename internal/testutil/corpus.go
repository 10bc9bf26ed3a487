package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// CorpusDoc is one document to materialize in a test corpus.
type CorpusDoc struct {
	DocID  string
	Tenant string
	Text   string
}

// WriteCorpus materializes documents under dir and writes manifest.csv next
// to them. It returns the manifest path.
func WriteCorpus(t testing.TB, dir string, docs []CorpusDoc) string {
	t.Helper()

	var manifest strings.Builder
	manifest.WriteString("doc_id,tenant,path\n")
	for _, d := range docs {
		name := d.DocID + ".txt"
		if err := os.WriteFile(filepath.Join(dir, name), []byte(d.Text), 0o644); err != nil {
			t.Fatalf("writing corpus doc %s: %v", d.DocID, err)
		}
		manifest.WriteString(d.DocID + "," + d.Tenant + "," + name + "\n")
	}

	path := filepath.Join(dir, "manifest.csv")
	if err := os.WriteFile(path, []byte(manifest.String()), 0o644); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}
	return path
}

// WriteAccessCSV writes an access table CSV with the given rows, each
// "doc_id,tenant_id,visibility", and returns its path.
func WriteAccessCSV(t testing.TB, dir string, rows []string) string {
	t.Helper()

	content := "doc_id,tenant_id,visibility\n" + strings.Join(rows, "\n") + "\n"
	path := filepath.Join(dir, "access.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing access table: %v", err)
	}
	return path
}
