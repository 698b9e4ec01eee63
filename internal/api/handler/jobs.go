package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/api/response"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/internal/submission"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// JobService is the part of submission.JobService the job endpoints use.
type JobService interface {
	Create(ctx context.Context, owner uuid.UUID, in submission.CreateJobInput) (*models.Job, error)
	CreateShortcut(ctx context.Context, owner uuid.UUID, shortcut string, in submission.CreateJobInput) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
	Enqueue(ctx context.Context, id uuid.UUID, force bool) (*models.Job, error)
	Release(ctx context.Context, id, actor uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, id, actor uuid.UUID) (*models.Job, error)
	Modify(ctx context.Context, id, actor uuid.UUID, data map[string]any) (*models.Job, error)
	ReleaseAll(ctx context.Context, actor uuid.UUID) ([]*models.Job, error)
	Children(ctx context.Context, id uuid.UUID) ([]*models.Job, error)
	Links(job *models.Job) map[string]string
}

var _ JobService = (*submission.JobService)(nil)

// StatusCache is the read side of the uploader's status mirror.
type StatusCache interface {
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)
	GetAnalysisStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)
}

// jobView adds registry browser links to a job.
type jobView struct {
	*models.Job
	Links map[string]string `json:"links"`
}

func viewJob(svc JobService, job *models.Job) jobView {
	return jobView{Job: job, Links: svc.Links(job)}
}

func viewJobs(svc JobService, jobs []*models.Job) []jobView {
	out := make([]jobView, len(jobs))
	for i, j := range jobs {
		out[i] = viewJob(svc, j)
	}
	return out
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := actor(w, r)
		if !ok {
			return
		}
		var in submission.CreateJobInput
		if !decode(w, r, &in) {
			return
		}
		job, err := svc.Create(r.Context(), owner, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, viewJob(svc, job))
	}
}

// NewCreateShortcutHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/shortcuts/{shortcut}.
func NewCreateShortcutHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := actor(w, r)
		if !ok {
			return
		}
		shortcut := chi.URLParam(r, "shortcut")
		if _, known := submission.Shortcuts[shortcut]; !known {
			response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", "Unknown shortcut "+shortcut, nil)
			return
		}
		var in submission.CreateJobInput
		if !decode(w, r, &in) {
			return
		}
		job, err := svc.CreateShortcut(r.Context(), owner, shortcut, in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, viewJob(svc, job))
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
// Filters: status, action, files, <schema> (accession substring),
// <schema>_alias (alias substring), page, limit.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page, limit := pagination(r)
		filter := store.JobFilter{
			Files: q.Get("files"),
			Page:  page,
			Limit: limit,
		}
		if s := q.Get("status"); s != "" {
			status, err := models.ParseStatus(s)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			filter.Status = status
		}
		if a := q.Get("action"); a != "" {
			action, err := models.ParseAction(a)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			filter.Action = action
		}
		if q.Get("owner") == "me" {
			owner, ok := actor(w, r)
			if !ok {
				return
			}
			filter.Owner = &owner
		}
		for _, schema := range models.Schemas {
			if v := q.Get(schema); v != "" {
				if filter.Accession == nil {
					filter.Accession = map[string]string{}
				}
				filter.Accession[schema] = v
			}
			if v := q.Get(schema + "_alias"); v != "" {
				if filter.Alias == nil {
					filter.Alias = map[string]string{}
				}
				filter.Alias[schema] = v
			}
		}

		jobs, total, err := svc.List(r.Context(), filter)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Collection(w, viewJobs(svc, jobs), response.NewMeta(page, limit, total))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}
		job, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, viewJob(svc, job))
	}
}

// NewEnqueueJobHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/enqueue[?force=true].
// SUBMITTED jobs and jobs the uploader is still RUNNING answer 409 unless
// force=true is given.
func NewEnqueueJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}
		job, err := svc.Enqueue(r.Context(), id, queryBool(r, "force"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Accepted(w, viewJob(svc, job))
	}
}

type deriveFunc func(ctx context.Context, id, actor uuid.UUID) (*models.Job, error)

func newDeriveHandler(svc JobService, derive deriveFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := actor(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}
		job, err := derive(r.Context(), id, user)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, viewJob(svc, job))
	}
}

// NewReleaseJobHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/release.
func NewReleaseJobHandler(svc JobService) http.HandlerFunc {
	return newDeriveHandler(svc, svc.Release)
}

// NewCancelJobHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return newDeriveHandler(svc, svc.Cancel)
}

// NewModifyJobHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/modify. The body is {"data": {...}}; an absent
// data object clones every section unchanged.
func NewModifyJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := actor(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}
		var req struct {
			Data map[string]any `json:"data"`
		}
		if r.ContentLength != 0 && !decode(w, r, &req) {
			return
		}
		job, err := svc.Modify(r.Context(), id, user, req.Data)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, viewJob(svc, job))
	}
}

// NewReleaseAllHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/release-all.
func NewReleaseAllHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := actor(w, r)
		if !ok {
			return
		}
		jobs, err := svc.ReleaseAll(r.Context(), user)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.Created(w, viewJobs(svc, jobs))
	}
}

// NewJobChildrenHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/children.
func NewJobChildrenHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}
		jobs, err := svc.Children(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, viewJobs(svc, jobs))
	}
}

type statusResponse struct {
	ID     uuid.UUID `json:"id"`
	Status string    `json:"status"`
	Source string    `json:"source"`
}

// NewJobStatusHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/status. The cache mirror is consulted first; a
// miss, an error or a nil cache falls back to the store.
func NewJobStatusHandler(svc JobService, c StatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r, "jobID")
		if !ok {
			return
		}
		if c != nil {
			if status, hit, err := c.GetJobStatus(r.Context(), id); err == nil && hit {
				response.JSON(w, statusResponse{ID: id, Status: status, Source: "cache"})
				return
			}
		}
		job, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, statusResponse{ID: id, Status: string(job.Status), Source: "store"})
	}
}
