package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/api/response"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/internal/submission"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// AnalysisService is the part of submission.AnalysisService the analysis
// endpoints use.
type AnalysisService interface {
	Create(ctx context.Context, owner uuid.UUID, in submission.CreateAnalysisInput) (*models.AnalysisJob, error)
	Get(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	List(ctx context.Context, filter store.AnalysisJobFilter) ([]*models.AnalysisJob, int, error)
	Enqueue(ctx context.Context, id uuid.UUID, force bool) (*models.AnalysisJob, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Manifest(ctx context.Context, id uuid.UUID) (string, error)
	Validate(ctx context.Context, id uuid.UUID) (*submission.ValidationReport, error)

	AddFile(ctx context.Context, analysisJobID uuid.UUID, fileName, fileType string) (*models.AnalysisFile, error)
	GetFile(ctx context.Context, id uuid.UUID) (*models.AnalysisFile, error)
	ListFiles(ctx context.Context, analysisJobID uuid.UUID) ([]*models.AnalysisFile, error)
	DeleteFile(ctx context.Context, id uuid.UUID) error
}

var _ AnalysisService = (*submission.AnalysisService)(nil)

// NewCreateAnalysisHandler returns an http.HandlerFunc for POST /api/v1/analysis.
func NewCreateAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := actor(w, r)
		if !ok {
			return
		}
		var in submission.CreateAnalysisInput
		if !decode(w, r, &in) {
			return
		}
		aj, err := svc.Create(r.Context(), owner, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, aj)
	}
}

// NewListAnalysisHandler returns an http.HandlerFunc for
// GET /api/v1/analysis[?status=&job=].
func NewListAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := queryID(w, r, "job")
		if !ok {
			return
		}
		page, limit := pagination(r)
		filter := store.AnalysisJobFilter{JobID: jobID, Page: page, Limit: limit}
		if s := r.URL.Query().Get("status"); s != "" {
			status, err := models.ParseStatus(s)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			filter.Status = status
		}
		jobs, total, err := svc.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, jobs, response.NewMeta(page, limit, total))
	}
}

// NewGetAnalysisHandler returns an http.HandlerFunc for
// GET /api/v1/analysis/{analysisID}.
func NewGetAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "analysisID")
		if !ok {
			return
		}
		aj, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, aj)
	}
}

// NewDeleteAnalysisHandler returns an http.HandlerFunc for
// DELETE /api/v1/analysis/{analysisID}.
func NewDeleteAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "analysisID")
		if !ok {
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewEnqueueAnalysisHandler returns an http.HandlerFunc for
// POST /api/v1/analysis/{analysisID}/enqueue[?force=true].
// SUBMITTED and RUNNING analysis jobs answer 409 unless force=true is given.
func NewEnqueueAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "analysisID")
		if !ok {
			return
		}
		aj, err := svc.Enqueue(r.Context(), id, queryBool(r, "force"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, aj)
	}
}

// NewAnalysisManifestHandler returns an http.HandlerFunc for
// GET /api/v1/analysis/{analysisID}/manifest.
func NewAnalysisManifestHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "analysisID")
		if !ok {
			return
		}
		m, err := svc.Manifest(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, map[string]any{"id": id, "manifest": m})
	}
}

// NewValidateAnalysisHandler returns an http.HandlerFunc for
// POST /api/v1/analysis/{analysisID}/validate.
func NewValidateAnalysisHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "analysisID")
		if !ok {
			return
		}
		report, err := svc.Validate(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, report)
	}
}

// NewCreateAnalysisFileHandler returns an http.HandlerFunc for
// POST /api/v1/analysis-files.
func NewCreateAnalysisFileHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JobID    uuid.UUID `json:"job"`
			FileName string    `json:"file_name"`
			FileType string    `json:"file_type"`
		}
		if !decode(w, r, &req) {
			return
		}
		if req.JobID == uuid.Nil {
			response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", "job is required",
				map[string]string{"field": "job"})
			return
		}
		file, err := svc.AddFile(r.Context(), req.JobID, req.FileName, req.FileType)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, file)
	}
}

// NewListAnalysisFilesHandler returns an http.HandlerFunc for
// GET /api/v1/analysis-files[?job=<id>].
func NewListAnalysisFilesHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, ok := queryID(w, r, "job")
		if !ok {
			return
		}
		id := uuid.Nil
		if jobID != nil {
			id = *jobID
		}
		files, err := svc.ListFiles(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, files)
	}
}

// NewGetAnalysisFileHandler returns an http.HandlerFunc for
// GET /api/v1/analysis-files/{fileID}.
func NewGetAnalysisFileHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "fileID")
		if !ok {
			return
		}
		file, err := svc.GetFile(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, file)
	}
}

// NewDeleteAnalysisFileHandler returns an http.HandlerFunc for
// DELETE /api/v1/analysis-files/{fileID}.
func NewDeleteAnalysisFileHandler(svc AnalysisService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "fileID")
		if !ok {
			return
		}
		if err := svc.DeleteFile(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewAnalysisStatusHandler returns an http.HandlerFunc for
// GET /api/v1/analysis/{analysisID}/status.
func NewAnalysisStatusHandler(svc AnalysisService, c StatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "analysisID")
		if !ok {
			return
		}
		if c != nil {
			if status, hit, err := c.GetAnalysisStatus(r.Context(), id); err == nil && hit {
				response.JSON(w, statusResponse{ID: id, Status: status, Source: "cache"})
				return
			}
		}
		aj, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, statusResponse{ID: id, Status: string(aj.Status), Source: "store"})
	}
}
