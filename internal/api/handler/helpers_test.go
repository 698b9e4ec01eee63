package handler_test

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

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/api/handler"
	mw "github.com/kiranshivaraju/enaupload/internal/api/middleware"
	"github.com/kiranshivaraju/enaupload/internal/config"
	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/internal/registry/mock"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/internal/submission"
	"github.com/kiranshivaraju/enaupload/internal/templates"
	"github.com/kiranshivaraju/enaupload/pkg/models"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 17, 9, 30, 15, 123456000, time.UTC)

const stamp = "20240517093015123456"

// fakeStatusCache is an in-memory status mirror.
type fakeStatusCache struct {
	jobs     map[uuid.UUID]string
	analyses map[uuid.UUID]string
}

func (c *fakeStatusCache) GetJobStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	s, ok := c.jobs[id]
	return s, ok, nil
}

func (c *fakeStatusCache) GetAnalysisStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	s, ok := c.analyses[id]
	return s, ok, nil
}

type harness struct {
	st       *store.MemoryStore
	jobs     *submission.JobService
	analyses *submission.AnalysisService
	adapter  *mock.Adapter
	env      *registry.Environment
	cache    *fakeStatusCache
	dataDir  string
	user     *models.User
	router   http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemoryStore()
	ts := templates.NewMemoryStore(map[string]map[string]any{"default": {
		"center_name": "UNI",
		"checklist":   "ERC000011",
		"study":       map[string]any{"alias": "study-{}", "title": "default study", "status": "ADD"},
		"sample":      map[string]any{"alias": "sample-{}", "taxon_id": 9606, "status": "ADD"},
		"experiment":  map[string]any{"alias": "exp-{}", "status": "ADD"},
		"run":         map[string]any{"alias": "run-{}", "status": "ADD"},
		"analysis":    map[string]any{"name": "asm-{}", "program": "spades"},
	}})
	engine := templates.NewEngine(ts, templates.WithClock(func() time.Time { return fixedNow }))
	env := registry.NewEnvironment(config.RegistryConfig{
		UseDevEndpoint: true,
		SubmitURL:      "https://www.ebi.ac.uk/ena/submit/drop-box/submit/?auth=ENA",
		DevSubmitURL:   "https://wwwdev.ebi.ac.uk/ena/submit/drop-box/submit/?auth=ENA",
		BrowserURL:     "https://www.ebi.ac.uk/ena/browser/view",
		DevBrowserURL:  "https://wwwdev.ebi.ac.uk/ena/browser/view",
	})
	adapter := mock.NewAdapter()
	dir := t.TempDir()

	user := &models.User{ID: uuid.New(), Username: "submitter", CreatedAt: fixedNow, UpdatedAt: fixedNow}
	require.NoError(t, st.CreateUser(context.Background(), user))

	h := &harness{
		st:       st,
		jobs:     submission.NewJobService(st, engine, env, nil),
		analyses: submission.NewAnalysisService(st, engine, adapter, dir, nil),
		adapter:  adapter,
		env:      env,
		cache:    &fakeStatusCache{jobs: map[uuid.UUID]string{}, analyses: map[uuid.UUID]string{}},
		dataDir:  dir,
		user:     user,
	}
	h.router = h.routes()
	return h
}

// routes mounts every handler behind a stand-in for Authenticate that
// signs requests in as h.user with both scopes.
func (h *harness) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := mw.SetUserID(r.Context(), h.user.ID)
			ctx = mw.SetScopes(ctx, []string{models.ScopeSubmit, models.ScopeAdmin})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})

	r.Post("/jobs", handler.NewCreateJobHandler(h.jobs))
	r.Get("/jobs", handler.NewListJobsHandler(h.jobs))
	r.Post("/jobs/shortcuts/{shortcut}", handler.NewCreateShortcutHandler(h.jobs))
	r.Post("/jobs/release-all", handler.NewReleaseAllHandler(h.jobs))
	r.Get("/jobs/{jobID}", handler.NewGetJobHandler(h.jobs))
	r.Get("/jobs/{jobID}/status", handler.NewJobStatusHandler(h.jobs, h.cache))
	r.Get("/jobs/{jobID}/children", handler.NewJobChildrenHandler(h.jobs))
	r.Post("/jobs/{jobID}/enqueue", handler.NewEnqueueJobHandler(h.jobs))
	r.Post("/jobs/{jobID}/release", handler.NewReleaseJobHandler(h.jobs))
	r.Post("/jobs/{jobID}/cancel", handler.NewCancelJobHandler(h.jobs))
	r.Post("/jobs/{jobID}/modify", handler.NewModifyJobHandler(h.jobs))

	r.Get("/files", handler.NewListFilesHandler(h.jobs))
	r.Get("/files/{fileID}", handler.NewGetFileHandler(h.jobs))

	r.Post("/analysis", handler.NewCreateAnalysisHandler(h.analyses))
	r.Get("/analysis", handler.NewListAnalysisHandler(h.analyses))
	r.Get("/analysis/{analysisID}", handler.NewGetAnalysisHandler(h.analyses))
	r.Delete("/analysis/{analysisID}", handler.NewDeleteAnalysisHandler(h.analyses))
	r.Get("/analysis/{analysisID}/status", handler.NewAnalysisStatusHandler(h.analyses, h.cache))
	r.Post("/analysis/{analysisID}/enqueue", handler.NewEnqueueAnalysisHandler(h.analyses))
	r.Get("/analysis/{analysisID}/manifest", handler.NewAnalysisManifestHandler(h.analyses))
	r.Post("/analysis/{analysisID}/validate", handler.NewValidateAnalysisHandler(h.analyses))

	r.Post("/analysis-files", handler.NewCreateAnalysisFileHandler(h.analyses))
	r.Get("/analysis-files", handler.NewListAnalysisFilesHandler(h.analyses))
	r.Get("/analysis-files/{fileID}", handler.NewGetAnalysisFileHandler(h.analyses))
	r.Delete("/analysis-files/{fileID}", handler.NewDeleteAnalysisFileHandler(h.analyses))

	r.Get("/admin/environment", handler.NewGetEnvironmentHandler(h.env))
	r.Put("/admin/environment", handler.NewSetEnvironmentHandler(h.env))
	r.Post("/admin/keys", handler.NewCreateKeyHandler(h.st))
	r.Get("/admin/keys", handler.NewListKeysHandler(h.st))
	r.Delete("/admin/keys/{keyID}", handler.NewRevokeKeyHandler(h.st))
	return r
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

// createJob posts a job and returns its decoded representation.
func (h *harness) createJob(t *testing.T, in map[string]any) map[string]any {
	t.Helper()
	w := h.do(t, "POST", "/jobs", in)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return data[map[string]any](t, w)
}

// submit drives a job through the uploader transitions with result.
func (h *harness) submit(t *testing.T, id string, result map[string]any) {
	t.Helper()
	ctx := context.Background()
	jobID := uuid.MustParse(id)
	require.NoError(t, h.st.UpdateJobStatus(ctx, jobID, models.StatusRunning))
	require.NoError(t, h.st.UpdateJobStatus(ctx, jobID, models.StatusSubmitted,
		store.WithResult(result), store.WithRawResult("<RECEIPT/>")))
}

func (h *harness) writeFile(t *testing.T, name, body string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.dataDir, name), []byte(body), 0o644))
	return name
}

func data[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var body struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Data
}

type meta struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasNext bool `json:"has_next"`
}

func collection[T any](t *testing.T, w *httptest.ResponseRecorder) (T, meta) {
	t.Helper()
	var body struct {
		Data T    `json:"data"`
		Meta meta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Data, body.Meta
}

type apiError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func errorOf(t *testing.T, w *httptest.ResponseRecorder) apiError {
	t.Helper()
	var body struct {
		Error apiError `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body.Error
}
