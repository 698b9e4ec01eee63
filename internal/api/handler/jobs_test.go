package handler_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateJob(t *testing.T) {
	h := newHarness(t)

	job := h.createJob(t, map[string]any{
		"data": map[string]any{"sample": map[string]any{"alias": "x-{}", "taxon_id": 10090}},
	})

	assert.Equal(t, "QUEUED", job["status"])
	assert.Equal(t, "ADD", job["action"])
	assert.Equal(t, "default", job["template"])
	assert.Equal(t, h.user.ID.String(), job["owner"])
	assert.Equal(t, map[string]any{}, job["links"])

	data := job["data"].(map[string]any)
	sample := data["sample"].(map[string]any)
	assert.Equal(t, "x-"+stamp, sample["alias"])
	assert.Equal(t, float64(10090), sample["taxon_id"])
	assert.NotContains(t, data, "analysis")
}

func TestCreateJob_Errors(t *testing.T) {
	tests := []struct {
		name   string
		body   any
		status int
		code   string
		field  string
	}{
		{"invalid json", "{not json", http.StatusBadRequest, "INVALID_REQUEST", ""},
		{"unknown ignore", map[string]any{"ignore": []string{"studies"}}, http.StatusBadRequest, "VALIDATION_ERROR", "ignore"},
		{"bad file type", map[string]any{"files": []string{"reads.txt"}}, http.StatusBadRequest, "VALIDATION_ERROR", "files"},
		{"unknown template", map[string]any{"template": "nope"}, http.StatusBadRequest, "TEMPLATE_NOT_FOUND", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			w := h.do(t, "POST", "/jobs", tt.body)

			assert.Equal(t, tt.status, w.Code)
			e := errorOf(t, w)
			assert.Equal(t, tt.code, e.Code)
			if tt.field != "" {
				assert.Equal(t, tt.field, e.Details["field"])
			}
		})
	}
}

func TestCreateShortcut(t *testing.T) {
	h := newHarness(t)

	w := h.do(t, "POST", "/jobs/shortcuts/ser", map[string]any{})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	job := data[map[string]any](t, w)
	assert.Equal(t, []any{"study"}, job["ignore"])

	w = h.do(t, "POST", "/jobs/shortcuts/analysis", map[string]any{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListJobs_Filters(t *testing.T) {
	h := newHarness(t)
	first := h.createJob(t, map[string]any{})
	h.createJob(t, map[string]any{"files": []string{"reads_1.fastq.gz"}})
	h.submit(t, first["id"].(string), map[string]any{
		"study": map[string]any{"alias": "study-" + stamp, "accession": "PRJEB0001", "status": "ADDED"},
	})

	w := h.do(t, "GET", "/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	jobs, m := collection[[]map[string]any](t, w)
	assert.Len(t, jobs, 2)
	assert.Equal(t, meta{Page: 1, Limit: 20, Total: 2}, m)

	w = h.do(t, "GET", "/jobs?status=SUBMITTED", nil)
	jobs, _ = collection[[]map[string]any](t, w)
	require.Len(t, jobs, 1)
	assert.Equal(t, first["id"], jobs[0]["id"])
	assert.Equal(t, map[string]any{"study": "https://wwwdev.ebi.ac.uk/ena/browser/view/PRJEB0001"}, jobs[0]["links"])

	w = h.do(t, "GET", "/jobs?study=jeb0001", nil)
	jobs, _ = collection[[]map[string]any](t, w)
	require.Len(t, jobs, 1)
	assert.Equal(t, first["id"], jobs[0]["id"])

	w = h.do(t, "GET", "/jobs?files=reads_1", nil)
	jobs, _ = collection[[]map[string]any](t, w)
	require.Len(t, jobs, 1)
	assert.NotEqual(t, first["id"], jobs[0]["id"])

	w = h.do(t, "GET", "/jobs?limit=1&page=1&owner=me", nil)
	jobs, m = collection[[]map[string]any](t, w)
	assert.Len(t, jobs, 1)
	assert.Equal(t, meta{Page: 1, Limit: 1, Total: 2, HasNext: true}, m)

	w = h.do(t, "GET", "/jobs?status=DONE", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, "GET", "/jobs?action=DELETE", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetJob(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})

	w := h.do(t, "GET", "/jobs/"+job["id"].(string), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, job["id"], data[map[string]any](t, w)["id"])

	w = h.do(t, "GET", "/jobs/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RESOURCE_NOT_FOUND", errorOf(t, w).Code)

	w = h.do(t, "GET", "/jobs/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEnqueueJob(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})
	id := job["id"].(string)
	h.submit(t, id, map[string]any{"study": map[string]any{"accession": "PRJEB1"}})

	w := h.do(t, "POST", "/jobs/"+id+"/enqueue", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "REQUEUE_NOT_ALLOWED", errorOf(t, w).Code)

	w = h.do(t, "POST", "/jobs/"+id+"/enqueue?force=true", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	requeued := data[map[string]any](t, w)
	assert.Equal(t, "QUEUED", requeued["status"])
	assert.Nil(t, requeued["result"])
}

func TestEnqueueJob_RunningNeedsForce(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})
	id := job["id"].(string)
	require.NoError(t, h.st.UpdateJobStatus(context.Background(), uuid.MustParse(id), models.StatusRunning))

	w := h.do(t, "POST", "/jobs/"+id+"/enqueue", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	e := errorOf(t, w)
	assert.Equal(t, "REQUEUE_NOT_ALLOWED", e.Code)
	assert.Contains(t, e.Message, "running")

	w = h.do(t, "POST", "/jobs/"+id+"/enqueue?force=true", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "QUEUED", data[map[string]any](t, w)["status"])
}

func TestDeriveJobs(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})
	id := job["id"].(string)
	h.submit(t, id, map[string]any{
		"study":  map[string]any{"alias": "study-" + stamp, "accession": "PRJEB1", "status": "ADDED"},
		"sample": map[string]any{"alias": "sample-" + stamp, "accession": "ERS1", "status": "ADDED"},
	})

	w := h.do(t, "POST", "/jobs/"+id+"/release", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	release := data[map[string]any](t, w)
	assert.Equal(t, "RELEASE", release["action"])
	assert.Equal(t, "QUEUED", release["status"])
	assert.Equal(t, id, release["parent"])
	assert.Equal(t, h.user.ID.String(), release["owner"])

	w = h.do(t, "POST", "/jobs/"+id+"/cancel", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "CANCEL", data[map[string]any](t, w)["action"])

	w = h.do(t, "POST", "/jobs/"+id+"/modify", map[string]any{
		"data": map[string]any{"study": map[string]any{"title": "better title"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	modify := data[map[string]any](t, w)
	assert.Equal(t, "MODIFY", modify["action"])
	modData := modify["data"].(map[string]any)
	assert.Equal(t, "better title", modData["study"].(map[string]any)["title"])
	assert.NotContains(t, modData, "sample")

	w = h.do(t, "POST", "/jobs/"+id+"/modify", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, data[map[string]any](t, w)["data"], "sample")

	w = h.do(t, "GET", "/jobs/"+id+"/children", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data[[]map[string]any](t, w), 4)

	w = h.do(t, "POST", "/jobs/"+uuid.NewString()+"/release", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = h.do(t, "GET", "/jobs/"+uuid.NewString()+"/children", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReleaseAll(t *testing.T) {
	h := newHarness(t)
	a := h.createJob(t, map[string]any{})
	h.createJob(t, map[string]any{})
	h.submit(t, a["id"].(string), map[string]any{"study": map[string]any{"accession": "PRJEB1"}})

	w := h.do(t, "POST", "/jobs/release-all", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	released := data[[]map[string]any](t, w)
	require.Len(t, released, 1)
	assert.Equal(t, a["id"], released[0]["parent"])

	w = h.do(t, "POST", "/jobs/release-all", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Empty(t, data[[]map[string]any](t, w))
}

func TestJobStatus(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})
	id := job["id"].(string)

	w := h.do(t, "GET", "/jobs/"+id+"/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := data[map[string]any](t, w)
	assert.Equal(t, "QUEUED", got["status"])
	assert.Equal(t, "store", got["source"])

	h.cache.jobs[uuid.MustParse(id)] = "RUNNING"
	w = h.do(t, "GET", "/jobs/"+id+"/status", nil)
	got = data[map[string]any](t, w)
	assert.Equal(t, "RUNNING", got["status"])
	assert.Equal(t, "cache", got["source"])

	w = h.do(t, "GET", "/jobs/"+uuid.NewString()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
