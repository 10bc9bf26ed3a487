// Package acl implements the access control store mapping documents to the
// tenants permitted to read them.
//
// The table is loaded once at startup and is read-only for the process
// lifetime, so lookups need no locking. Every lookup is explicit
// found-vs-not-found: a document with no entry is denied to everyone.
// Malformed or duplicate rows are a fatal configuration error — the process
// must refuse to serve queries rather than run with an incomplete table.
package acl

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Wildcard marks an entry readable by every tenant.
const Wildcard = "*"

// Visibility values accepted in the ACL table.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// ErrMalformedTable is wrapped by all load-time configuration errors.
var ErrMalformedTable = errors.New("malformed ACL table")

// Entry is the access record for a single document.
type Entry struct {
	DocID      string
	Tenant     string // owning tenant, or Wildcard for public documents
	Visibility string
}

// Store holds the immutable doc_id → entry mapping.
type Store struct {
	entries map[string]Entry
}

// LoadFile reads a CSV ACL table (header: doc_id,tenant_id,visibility) from
// disk. Duplicate doc_id rows and unknown visibility values are fatal.
func LoadFile(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening ACL table %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses a CSV ACL table from r.
func Load(r io.Reader) (*Store, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrMalformedTable, err)
	}
	cols, err := headerIndex(header)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]Entry)
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedTable, line, err)
		}

		entry, err := parseRow(record, cols)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrMalformedTable, line, err)
		}
		if _, exists := entries[entry.DocID]; exists {
			return nil, fmt.Errorf("%w: line %d: duplicate entry for doc %q", ErrMalformedTable, line, entry.DocID)
		}
		entries[entry.DocID] = entry
	}

	return &Store{entries: entries}, nil
}

// NewStore builds a store from pre-parsed entries. Duplicate doc IDs are fatal.
func NewStore(rows []Entry) (*Store, error) {
	entries := make(map[string]Entry, len(rows))
	for _, e := range rows {
		if e.DocID == "" {
			return nil, fmt.Errorf("%w: empty doc_id", ErrMalformedTable)
		}
		if _, exists := entries[e.DocID]; exists {
			return nil, fmt.Errorf("%w: duplicate entry for doc %q", ErrMalformedTable, e.DocID)
		}
		entries[e.DocID] = e
	}
	return &Store{entries: entries}, nil
}

func headerIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"doc_id", "tenant_id", "visibility"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrMalformedTable, required)
		}
	}
	return cols, nil
}

func parseRow(record []string, cols map[string]int) (Entry, error) {
	get := func(name string) string {
		idx := cols[name]
		if idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	entry := Entry{
		DocID:      get("doc_id"),
		Tenant:     NormalizeTenant(get("tenant_id")),
		Visibility: strings.ToLower(get("visibility")),
	}
	if entry.DocID == "" {
		return Entry{}, fmt.Errorf("empty doc_id")
	}
	if entry.Tenant == "" {
		return Entry{}, fmt.Errorf("empty tenant_id for doc %q", entry.DocID)
	}
	switch entry.Visibility {
	case VisibilityPublic, VisibilityPrivate:
	default:
		return Entry{}, fmt.Errorf("unknown visibility %q for doc %q", entry.Visibility, entry.DocID)
	}
	// Public rows are readable by everyone regardless of how the tenant
	// column spells it.
	if entry.Visibility == VisibilityPublic || entry.Tenant == "public" {
		entry.Tenant = Wildcard
		entry.Visibility = VisibilityPublic
	}
	return entry, nil
}

// NormalizeTenant maps manifest tenant spellings to the canonical tenant set:
// "U1_research" → "U1", "PUB" → "public". Unknown values pass through.
func NormalizeTenant(tenant string) string {
	t := strings.TrimSpace(tenant)
	if t == "PUB" || strings.EqualFold(t, "public") || t == Wildcard {
		return "public"
	}
	if idx := strings.IndexByte(t, '_'); idx > 0 {
		return t[:idx]
	}
	return t
}

// Lookup returns the entry for docID and whether it exists. Callers must
// treat "not found" as deny.
func (s *Store) Lookup(docID string) (Entry, bool) {
	e, ok := s.entries[docID]
	return e, ok
}

// Allowed reports whether tenant may read docID. Missing entries and unknown
// tenants resolve to deny, never to allow.
func (s *Store) Allowed(docID, tenant string) bool {
	e, ok := s.entries[docID]
	if !ok {
		return false
	}
	if e.Tenant == Wildcard || e.Visibility == VisibilityPublic {
		return true
	}
	return tenant != "" && e.Tenant == tenant
}

// Len returns the number of loaded entries.
func (s *Store) Len() int {
	return len(s.entries)
}
