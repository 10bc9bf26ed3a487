package acl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTable = `doc_id,tenant_id,visibility
U1_notes,U1,private
U2_notes,U2,private
PUB_safety,PUB,public
U3_data,U3_research,private
`

func TestLoad_AllowsOwnerAndPublic(t *testing.T) {
	store, err := Load(strings.NewReader(sampleTable))
	require.NoError(t, err)
	require.Equal(t, 4, store.Len())

	assert.True(t, store.Allowed("U1_notes", "U1"))
	assert.False(t, store.Allowed("U1_notes", "U2"))

	// Public docs readable by every tenant.
	assert.True(t, store.Allowed("PUB_safety", "U1"))
	assert.True(t, store.Allowed("PUB_safety", "U4"))
}

func TestLoad_NormalizesTenantSuffix(t *testing.T) {
	store, err := Load(strings.NewReader(sampleTable))
	require.NoError(t, err)

	e, ok := store.Lookup("U3_data")
	require.True(t, ok)
	assert.Equal(t, "U3", e.Tenant)
	assert.True(t, store.Allowed("U3_data", "U3"))
	assert.False(t, store.Allowed("U3_data", "U1"))
}

func TestAllowed_MissingEntryDenies(t *testing.T) {
	store, err := Load(strings.NewReader(sampleTable))
	require.NoError(t, err)

	assert.False(t, store.Allowed("ghost_doc", "U1"))
	_, ok := store.Lookup("ghost_doc")
	assert.False(t, ok)
}

func TestAllowed_EmptyTenantDenies(t *testing.T) {
	store, err := Load(strings.NewReader(sampleTable))
	require.NoError(t, err)
	assert.False(t, store.Allowed("U1_notes", ""))
}

func TestLoad_DuplicateDocFatal(t *testing.T) {
	table := "doc_id,tenant_id,visibility\nd1,U1,private\nd1,U2,private\n"
	_, err := Load(strings.NewReader(table))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedTable)
}

func TestLoad_UnknownVisibilityFatal(t *testing.T) {
	table := "doc_id,tenant_id,visibility\nd1,U1,internal\n"
	_, err := Load(strings.NewReader(table))
	assert.ErrorIs(t, err, ErrMalformedTable)
}

func TestLoad_MissingColumnFatal(t *testing.T) {
	table := "doc_id,visibility\nd1,private\n"
	_, err := Load(strings.NewReader(table))
	assert.ErrorIs(t, err, ErrMalformedTable)
}

func TestNewStore_Duplicate(t *testing.T) {
	_, err := NewStore([]Entry{
		{DocID: "d1", Tenant: "U1", Visibility: VisibilityPrivate},
		{DocID: "d1", Tenant: "U2", Visibility: VisibilityPrivate},
	})
	assert.ErrorIs(t, err, ErrMalformedTable)
}
