package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a conditional status update finds the
// row in a status the target cannot be reached from.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrDeleteNotAllowed is returned when deleting an analysis job that is no
// longer QUEUED.
var ErrDeleteNotAllowed = errors.New("delete is not allowed")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	// ListAPIKeys lists the active keys of userID, or of every user when
	// userID is uuid.Nil.
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	// ListJobsByStatus returns jobs in processing order: created_at, then id.
	ListJobsByStatus(ctx context.Context, status models.Status) ([]*models.Job, error)
	ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.Job, error)
	// ListReleasableJobs returns SUBMITTED ADD jobs without a RELEASE child.
	ListReleasableJobs(ctx context.Context) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...JobUpdateOption) error

	UpsertFile(ctx context.Context, file *models.File) (*models.File, error)
	GetFile(ctx context.Context, id uuid.UUID) (*models.File, error)
	ListFiles(ctx context.Context, filter FileFilter) ([]*models.File, int, error)

	CreateAnalysisJob(ctx context.Context, job *models.AnalysisJob) error
	GetAnalysisJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error)
	ListAnalysisJobs(ctx context.Context, filter AnalysisJobFilter) ([]*models.AnalysisJob, int, error)
	ListAnalysisJobsByStatus(ctx context.Context, status models.Status) ([]*models.AnalysisJob, error)
	UpdateAnalysisJobStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...JobUpdateOption) error
	DeleteAnalysisJob(ctx context.Context, id uuid.UUID) error

	CreateAnalysisFile(ctx context.Context, file *models.AnalysisFile) error
	GetAnalysisFile(ctx context.Context, id uuid.UUID) (*models.AnalysisFile, error)
	// ListAnalysisFiles lists the files of analysisJobID, or all files when
	// analysisJobID is uuid.Nil. Ordered by created_at.
	ListAnalysisFiles(ctx context.Context, analysisJobID uuid.UUID) ([]*models.AnalysisFile, error)
	DeleteAnalysisFile(ctx context.Context, id uuid.UUID) error
}

// JobFilter narrows ListJobs. Zero values mean "no constraint". String
// matches are case-insensitive substring matches.
type JobFilter struct {
	Status models.Status
	Action models.Action
	Owner  *uuid.UUID
	Files  string
	// Accession maps a schema name to a substring of result.<schema>.accession.
	Accession map[string]string
	// Alias maps a schema name to a substring of submission.<schema>.alias.
	Alias map[string]string
	Page  int
	Limit int
}

type FileFilter struct {
	JobID *uuid.UUID
	Page  int
	Limit int
}

type AnalysisJobFilter struct {
	Status models.Status
	JobID  *uuid.UUID
	Page   int
	Limit  int
}

type jobUpdateParams struct {
	Force         bool
	Result        map[string]any
	HasResult     bool
	RawResult     *string
	Submission    map[string]any
	HasSubmission bool
	RawSubmission *string
}

// JobUpdateOption configures UpdateJobStatus and UpdateAnalysisJobStatus.
type JobUpdateOption func(*jobUpdateParams)

// WithForce widens the allowed source statuses (see models.JobTransitionSources).
func WithForce() JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Force = true
	}
}

func WithResult(result map[string]any) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Result = result
		p.HasResult = true
	}
}

func WithRawResult(raw string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.RawResult = &raw
	}
}

// WithSubmission records the payload that was sent to the registry. Ignored
// for analysis jobs.
func WithSubmission(submission map[string]any, raw string) JobUpdateOption {
	return func(p *jobUpdateParams) {
		p.Submission = submission
		p.HasSubmission = true
		p.RawSubmission = &raw
	}
}

func applyOptions(opts []JobUpdateOption) *jobUpdateParams {
	params := &jobUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}
	return params
}

// resetsOutcome reports whether entering status clears previous outcome
// fields, keeping QUEUED and RUNNING rows free of stale results.
func resetsOutcome(to models.Status) bool {
	return to == models.StatusQueued || to == models.StatusRunning
}

// normalizePage clamps pagination the same way for every implementation.
func normalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}

func statusStrings(list []models.Status) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = string(s)
	}
	return out
}
