package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/controller"
	"github.com/wardenhq/warden/internal/memory"
	"github.com/wardenhq/warden/internal/redact"
	"github.com/wardenhq/warden/internal/tenant"
	"github.com/wardenhq/warden/internal/testutil"
)

type fakeEngine struct {
	decision *controller.Decision
	err      error
	lastReq  controller.Request
}

func (f *fakeEngine) Query(ctx context.Context, req controller.Request) (*controller.Decision, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.decision, nil
}

type serverEnv struct {
	handler   http.Handler
	engine    *fakeEngine
	decisions *audit.Store
}

func newServerEnv(t *testing.T) *serverEnv {
	t.Helper()
	dir := t.TempDir()

	decisions, err := audit.NewStore(filepath.Join(dir, "audit.db"), testutil.TestSigningKey)
	require.NoError(t, err)
	t.Cleanup(func() { decisions.Close() })

	memStore, err := memory.NewStore(filepath.Join(dir, "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { memStore.Close() })
	mem := memory.NewManager(memStore, redact.MustNew(), nil, "")

	engine := &fakeEngine{decision: &controller.Decision{
		Status: controller.StatusAnswer,
		Output: "forty-two",
	}}

	srv := NewServer(engine, decisions, mem,
		map[string]string{"key-u1": "U1", "key-u2": "U2"},
		WithRegistry(tenant.FromIDs([]string{"U1", "U2"}, 0)),
	)
	return &serverEnv{handler: srv.Routes(), engine: engine, decisions: decisions}
}

func (e *serverEnv) do(method, path, key string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if key != "" {
		req.Header.Set("X-Warden-Key", key)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth_NoAuth(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestQuery_RequiresAuth(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(http.MethodPost, "/v1/query", "", map[string]string{"query": "hello"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(http.MethodPost, "/v1/query", "wrong-key", map[string]string{"query": "hello"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestQuery_TenantFromAPIKey(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(http.MethodPost, "/v1/query", "key-u2",
		map[string]interface{}{"query": "what is the answer?", "remember": true})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "U2", env.engine.lastReq.Tenant)
	assert.Equal(t, "what is the answer?", env.engine.lastReq.Query)
	assert.True(t, env.engine.lastReq.Remember)

	var d controller.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	assert.Equal(t, "forty-two", d.Output)
}

func TestQuery_EmptyQueryRejected(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(http.MethodPost, "/v1/query", "key-u1", map[string]string{"query": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuery_TransientFailureIs503(t *testing.T) {
	env := newServerEnv(t)
	env.engine.err = controller.ErrGeneration

	rec := env.do(http.MethodPost, "/v1/query", "key-u1", map[string]string{"query": "hello"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDecisions_ScopedToCaller(t *testing.T) {
	env := newServerEnv(t)
	ctx := context.Background()

	require.NoError(t, env.decisions.Append(ctx, &audit.Record{TenantID: "U1", FinalDecision: "answer"}))
	require.NoError(t, env.decisions.Append(ctx, &audit.Record{TenantID: "U2", FinalDecision: "refuse"}))

	rec := env.do(http.MethodGet, "/v1/decisions", "key-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Decisions []audit.Record `json:"decisions"`
		Count     int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 1, resp.Count)
	assert.Equal(t, "U1", resp.Decisions[0].TenantID)
}

func TestDecisions_TimeRangeFilter(t *testing.T) {
	env := newServerEnv(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, env.decisions.Append(ctx, &audit.Record{
			TenantID: "U1", FinalDecision: "answer",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	rec := env.do(http.MethodGet,
		"/v1/decisions?since=2026-08-01T12:30:00Z&until=2026-08-01T13:30:00Z", "key-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Decisions []audit.Record `json:"decisions"`
		Count     int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	rec = env.do(http.MethodGet, "/v1/decisions?since=yesterday", "key-u1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDecisionGet_CrossTenantHidden(t *testing.T) {
	env := newServerEnv(t)
	ctx := context.Background()

	recU2 := &audit.Record{TenantID: "U2", FinalDecision: "answer"}
	require.NoError(t, env.decisions.Append(ctx, recU2))

	rec := env.do(http.MethodGet, "/v1/decisions/"+recU2.ID, "key-u1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/v1/decisions/"+recU2.ID, "key-u2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDecisionsVerify(t *testing.T) {
	env := newServerEnv(t)
	require.NoError(t, env.decisions.Append(context.Background(),
		&audit.Record{TenantID: "U1", FinalDecision: "answer"}))

	rec := env.do(http.MethodGet, "/v1/decisions/verify", "key-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var report audit.VerifyReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Valid)
}

func TestMemoryMode_RoundTrip(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(http.MethodGet, "/v1/memory/mode", "key-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"buffer"`)

	rec = env.do(http.MethodPost, "/v1/memory/mode", "key-u1", map[string]string{"mode": "none"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/v1/memory/mode", "key-u1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"none"`)
}

func TestMemoryMode_InvalidRejected(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(http.MethodPost, "/v1/memory/mode", "key-u1", map[string]string{"mode": "episodic"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMemoryClear(t *testing.T) {
	env := newServerEnv(t)

	rec := env.do(http.MethodPost, "/v1/memory/clear", "key-u1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimit_UnknownTenantForbidden(t *testing.T) {
	env := newServerEnv(t)

	// key maps to a tenant the registry does not know
	srv := NewServer(env.engine, env.decisions,
		memory.NewManager(mustMemStore(t), redact.MustNew(), nil, ""),
		map[string]string{"key-ghost": "U9"},
		WithRegistry(tenant.FromIDs([]string{"U1"}, 0)),
	)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewBufferString(`{"query":"hi"}`))
	req.Header.Set("X-Warden-Key", "key-ghost")
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func mustMemStore(t *testing.T) *memory.Store {
	t.Helper()
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}
