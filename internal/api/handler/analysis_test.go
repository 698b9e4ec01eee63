package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) createAnalysis(t *testing.T, jobID string) map[string]any {
	t.Helper()
	w := h.do(t, "POST", "/analysis", map[string]any{"job": jobID, "data": map[string]any{"name": "asm"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return data[map[string]any](t, w)
}

func TestCreateAnalysis(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})

	w := h.do(t, "POST", "/analysis", map[string]any{"job": job["id"], "data": map[string]any{"coverage": 40}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	aj := data[map[string]any](t, w)

	assert.Equal(t, "DRAFT", aj["status"])
	assert.Equal(t, job["id"], aj["job"])
	assert.Equal(t, map[string]any{"name": "asm-" + stamp, "program": "spades", "coverage": float64(40)}, aj["data"])

	w = h.do(t, "POST", "/analysis", map[string]any{"data": map[string]any{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "job", errorOf(t, w).Details["field"])

	w = h.do(t, "POST", "/analysis", map[string]any{"job": uuid.NewString()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "job", errorOf(t, w).Details["field"])
}

func TestListAndGetAnalysis(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})
	other := h.createJob(t, map[string]any{})
	aj := h.createAnalysis(t, job["id"].(string))
	h.createAnalysis(t, other["id"].(string))

	w := h.do(t, "GET", "/analysis", nil)
	require.Equal(t, http.StatusOK, w.Code)
	all, m := collection[[]map[string]any](t, w)
	assert.Len(t, all, 2)
	assert.Equal(t, 2, m.Total)

	w = h.do(t, "GET", "/analysis?job="+job["id"].(string), nil)
	filtered, _ := collection[[]map[string]any](t, w)
	require.Len(t, filtered, 1)
	assert.Equal(t, aj["id"], filtered[0]["id"])

	w = h.do(t, "GET", "/analysis?status=QUEUED", nil)
	queued, _ := collection[[]map[string]any](t, w)
	assert.Empty(t, queued)

	w = h.do(t, "GET", "/analysis?job=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, "GET", "/analysis/"+aj["id"].(string), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, aj["id"], data[map[string]any](t, w)["id"])

	w = h.do(t, "GET", "/analysis/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnqueueAndDeleteAnalysis(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})
	aj := h.createAnalysis(t, job["id"].(string))
	id := aj["id"].(string)

	w := h.do(t, "DELETE", "/analysis/"+id, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DELETE_NOT_ALLOWED", errorOf(t, w).Code)

	w = h.do(t, "POST", "/analysis/"+id+"/enqueue", nil)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	assert.Equal(t, "QUEUED", data[map[string]any](t, w)["status"])

	w = h.do(t, "DELETE", "/analysis/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, "GET", "/analysis/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEnqueueAnalysis_SubmittedNeedsForce(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})
	aj := h.createAnalysis(t, job["id"].(string))
	id := uuid.MustParse(aj["id"].(string))

	ctx := context.Background()
	for _, s := range []models.Status{models.StatusQueued, models.StatusRunning, models.StatusSubmitted} {
		require.NoError(t, h.st.UpdateAnalysisJobStatus(ctx, id, s))
	}

	w := h.do(t, "POST", "/analysis/"+id.String()+"/enqueue", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "REQUEUE_NOT_ALLOWED", errorOf(t, w).Code)

	w = h.do(t, "POST", "/analysis/"+id.String()+"/enqueue?force=1", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestAnalysisManifestAndValidate(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})
	h.submit(t, job["id"].(string), map[string]any{
		"experiment": map[string]any{"accession": "ERX1", "study_alias": "study-1", "sample_alias": "sample-1"},
		"run":        map[string]any{"accession": "ERR1"},
	})
	aj := h.createAnalysis(t, job["id"].(string))
	id := aj["id"].(string)

	w := h.do(t, "GET", "/analysis/"+id+"/manifest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, data[map[string]any](t, w)["manifest"], "ERROR generating manifest: ")

	w = h.do(t, "POST", "/analysis/"+id+"/validate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "manifest", errorOf(t, w).Details["field"])

	w = h.do(t, "POST", "/analysis-files", map[string]any{
		"job": id, "file_name": h.writeFile(t, "asm.fa", ">c\nA\n"), "file_type": "fasta",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	want := "STUDY study-1\nSAMPLE sample-1\nRUN_REF ERR1\nNAME asm\nPROGRAM spades\nFASTA asm.fa\n"
	w = h.do(t, "GET", "/analysis/"+id+"/manifest", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, want, data[map[string]any](t, w)["manifest"])

	w = h.do(t, "POST", "/analysis/"+id+"/validate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := data[map[string]any](t, w)
	assert.Equal(t, id, report["job"])
	assert.Equal(t, want, report["manifest"])
	validation := report["validation"].(map[string]any)
	assert.NotEmpty(t, validation["INFO"])

	h.adapter.ValidateAnalysisFunc = func(context.Context, *models.AnalysisJob, string) (string, error) {
		return "", errors.New("java not found")
	}
	w = h.do(t, "POST", "/analysis/"+id+"/validate", nil)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorOf(t, w).Code)
}

func TestAnalysisFiles(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})
	aj := h.createAnalysis(t, job["id"].(string))
	id := aj["id"].(string)
	h.writeFile(t, "asm.fa", ">c\nA\n")

	w := h.do(t, "POST", "/analysis-files", map[string]any{"job": id, "file_name": "asm.fa", "file_type": "FASTA"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	file := data[map[string]any](t, w)
	assert.Equal(t, "FASTA", file["file_type"])
	assert.Equal(t, "7c9aa4342244117a22417eeafa0bb8fa", file["md5sum"])
	fileID := file["id"].(string)

	w = h.do(t, "POST", "/analysis-files", map[string]any{"job": id, "file_name": "asm.fa", "file_type": "FASTA"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, "POST", "/analysis-files", map[string]any{"job": id, "file_name": "missing.fa", "file_type": "FASTA"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "File missing.fa does not exist.", errorOf(t, w).Message)

	w = h.do(t, "POST", "/analysis-files", map[string]any{"job": id, "file_name": "asm.fa", "file_type": "GFF"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "file_type", errorOf(t, w).Details["field"])

	w = h.do(t, "POST", "/analysis-files", map[string]any{"file_name": "asm.fa", "file_type": "FASTA"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, "GET", "/analysis-files?job="+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, data[[]map[string]any](t, w), 1)

	w = h.do(t, "GET", "/analysis-files/"+fileID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "asm.fa", data[map[string]any](t, w)["file_name"])

	w = h.do(t, "DELETE", "/analysis-files/"+fileID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = h.do(t, "GET", "/analysis-files/"+fileID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAnalysisStatus(t *testing.T) {
	h := newHarness(t)
	job := h.createJob(t, map[string]any{})
	aj := h.createAnalysis(t, job["id"].(string))
	id := aj["id"].(string)

	w := h.do(t, "GET", "/analysis/"+id+"/status", nil)
	got := data[map[string]any](t, w)
	assert.Equal(t, "DRAFT", got["status"])
	assert.Equal(t, "store", got["source"])

	h.cache.analyses[uuid.MustParse(id)] = "SUBMITTED"
	w = h.do(t, "GET", "/analysis/"+id+"/status", nil)
	got = data[map[string]any](t, w)
	assert.Equal(t, "SUBMITTED", got["status"])
	assert.Equal(t, "cache", got["source"])
}
