package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/api"
	mw "github.com/kiranshivaraju/enaupload/internal/api/middleware"
	"github.com/kiranshivaraju/enaupload/internal/config"
	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/internal/registry/mock"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/internal/templates"
	"github.com/kiranshivaraju/enaupload/internal/uploader"
	"github.com/kiranshivaraju/enaupload/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultTemplate = `center_name: UNI
study:
  alias: study-{}
  title: default study
  status: ADD
sample:
  alias: sample-{}
  taxon_id: 9606
  status: ADD
`

// ─── run() config validation tests ──────────────────────────────────────────

func TestRun_FailsOnMissingConfig(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestRun_FailsOnInvalidDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "not-a-valid-url")
	t.Setenv("REGISTRY_ADAPTER", "mock")
	t.Setenv("REDIS_URL", "")

	err := run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect database")
}

func TestShutdownTimeout(t *testing.T) {
	assert.Equal(t, 30*time.Second, shutdownTimeout)
}

// ─── template selection ─────────────────────────────────────────────────────

func TestOpenTemplates_FSWithoutCache(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yml"), []byte(defaultTemplate), 0o600))

	ts, err := openTemplates(context.Background(), config.TemplatesConfig{Driver: "fs", Dir: dir}, nil)
	require.NoError(t, err)
	assert.IsType(t, &templates.FSStore{}, ts)

	doc, err := ts.Load(context.Background(), "default")
	require.NoError(t, err)
	assert.Equal(t, "UNI", doc["center_name"])
}

// ─── wiring ─────────────────────────────────────────────────────────────────

func newTestServer(t *testing.T) (*httptest.Server, *store.MemoryStore) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default.yml"), []byte(defaultTemplate), 0o600))

	cfg := &config.Config{
		Registry:  config.RegistryConfig{UseDevEndpoint: true, DataDir: t.TempDir()},
		RateLimit: config.RateLimitConfig{RequestsPerMinute: 60},
	}
	st := store.NewMemoryStore()
	ts, err := openTemplates(context.Background(), config.TemplatesConfig{Driver: "fs", Dir: dir}, nil)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	uploader.NewMetrics(reg)

	a := newApp(st, nil, ts, registry.NewEnvironment(cfg.Registry), mock.NewAdapter(), cfg)
	srv := httptest.NewServer(api.NewRouter(a.dependencies(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))))
	t.Cleanup(srv.Close)
	return srv, st
}

func issueKey(t *testing.T, st store.Store, scopes ...string) string {
	t.Helper()
	ctx := context.Background()
	user := &models.User{ID: uuid.New(), Username: "user-" + uuid.NewString()[:8]}
	require.NoError(t, st.CreateUser(ctx, user))
	key, raw, err := mw.IssueKey(user.ID, "test", scopes)
	require.NoError(t, err)
	require.NoError(t, st.CreateAPIKey(ctx, key))
	return raw
}

func call(t *testing.T, srv *httptest.Server, method, path, key string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDependencies_HealthWithoutCache(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := call(t, srv, "GET", "/api/v1/health", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			Status   string            `json:"status"`
			Services map[string]string `json:"services"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Data.Status)
	assert.Equal(t, map[string]string{"database": "ok"}, body.Data.Services)
}

func TestDependencies_Metrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := call(t, srv, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDependencies_SubmitFlow(t *testing.T) {
	srv, st := newTestServer(t)
	key := issueKey(t, st)

	resp := call(t, srv, "POST", "/api/v1/jobs", key, map[string]any{})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Data struct {
			ID     uuid.UUID `json:"id"`
			Status string    `json:"status"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	assert.Equal(t, "QUEUED", created.Data.Status)

	// No cache configured: the status endpoint reads the store.
	resp = call(t, srv, "GET", "/api/v1/jobs/"+created.Data.ID.String()+"/status", key, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status struct {
		Data struct {
			Source string `json:"source"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "store", status.Data.Source)

	// Submit scope cannot reach the admin routes.
	resp = call(t, srv, "GET", "/api/v1/admin/environment", key, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := issueKey(t, st, models.ScopeAdmin)
	resp = call(t, srv, "PUT", "/api/v1/admin/environment", admin, map[string]any{"use_dev_endpoint": false})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
