package doctor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/testutil"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	manifest := testutil.WriteCorpus(t, dir, []testutil.CorpusDoc{
		{DocID: "PUB_notes", Tenant: "public", Text: "shared lab notes"},
	})
	access := testutil.WriteAccessCSV(t, dir, []string{"PUB_notes,*,public"})

	t.Setenv("WARDEN_DATA_DIR", filepath.Join(dir, "state"))
	t.Setenv("WARDEN_MANIFEST_PATH", manifest)
	t.Setenv("WARDEN_ACL_PATH", access)
	t.Setenv("WARDEN_SIGNING_KEY", testutil.TestSigningKey)
	return dir
}

func statusOf(report *Report, name string) string {
	for _, c := range report.Checks {
		if c.Name == name {
			return c.Status
		}
	}
	return ""
}

func TestRun_HealthySetup(t *testing.T) {
	setupEnv(t)

	report := Run(context.Background(), Options{SkipUpstream: true})

	assert.Equal(t, 0, report.Summary.Fail)
	assert.Equal(t, "pass", statusOf(report, "data_dir_writable"))
	assert.Equal(t, "pass", statusOf(report, "signing_key"))
	assert.Equal(t, "pass", statusOf(report, "access_table"))
	assert.Equal(t, "pass", statusOf(report, "manifest"))
	assert.Equal(t, "pass", statusOf(report, "decision_log"))

	// Nothing indexed yet.
	assert.Equal(t, "warn", statusOf(report, "index_db"))
	assert.Equal(t, "warn", report.Status)
}

func TestRun_MissingAccessTable(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("WARDEN_ACL_PATH", filepath.Join(dir, "does-not-exist.csv"))

	report := Run(context.Background(), Options{SkipUpstream: true})

	require.Equal(t, "fail", statusOf(report, "access_table"))
	assert.Equal(t, "fail", report.Status)
}

func TestRun_DefaultSigningKeyWarns(t *testing.T) {
	setupEnv(t)
	t.Setenv("WARDEN_SIGNING_KEY", "")

	report := Run(context.Background(), Options{SkipUpstream: true})

	assert.Equal(t, "warn", statusOf(report, "signing_key"))
}

func TestRun_MissingManifestFilesWarn(t *testing.T) {
	dir := setupEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.csv"),
		[]byte("doc_id,tenant,path\nU1_ghost,U1,ghost.txt\n"), 0o644))

	report := Run(context.Background(), Options{SkipUpstream: true})
	assert.Equal(t, "warn", statusOf(report, "manifest"))
}
