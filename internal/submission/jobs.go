package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/pkg/merge"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// Templater applies templates to new jobs. *templates.Engine satisfies it.
type Templater interface {
	Apply(ctx context.Context, job *models.Job) error
	ApplyAnalysis(ctx context.Context, aj *models.AnalysisJob) error
}

// Shortcuts maps a single-schema creation endpoint to the schemas it ignores.
var Shortcuts = map[string][]string{
	"study":      {"sample", "experiment", "run"},
	"sample":     {"study", "experiment", "run"},
	"experiment": {"study", "sample", "run"},
	"run":        {"study", "sample", "experiment"},
	"ser":        {"study"},
}

// CreateJobInput is the user-supplied part of a new Job.
type CreateJobInput struct {
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
	Ignore   []string       `json:"ignore"`
	Files    []string       `json:"files"`
}

// JobService implements the job operations behind the API.
type JobService struct {
	store     store.Store
	templates Templater
	env       *registry.Environment
	logger    *slog.Logger
}

func NewJobService(st store.Store, tmpl Templater, env *registry.Environment, logger *slog.Logger) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{store: st, templates: tmpl, env: env, logger: logger}
}

// Create validates in, applies its template and persists a QUEUED ADD job.
func (s *JobService) Create(ctx context.Context, owner uuid.UUID, in CreateJobInput) (*models.Job, error) {
	ignore := make([]string, 0, len(in.Ignore))
	for _, name := range in.Ignore {
		if !models.IsSchema(name) {
			return nil, invalid("ignore", "%q is not one of %s", name, strings.Join(models.Schemas, ", "))
		}
		ignore = append(ignore, name)
	}
	files := make([]string, 0, len(in.Files))
	for _, f := range in.Files {
		if strings.TrimSpace(f) == "" {
			return nil, invalid("files", "file names must not be empty")
		}
		if _, err := models.DetectFileType(f); err != nil {
			return nil, invalid("files", "%v", err)
		}
		files = append(files, f)
	}
	data := merge.Copy(in.Data)
	if data == nil {
		data = map[string]any{}
	}

	job := &models.Job{
		ID:       uuid.New(),
		Owner:    &owner,
		Status:   models.StatusQueued,
		Action:   models.ActionAdd,
		Template: in.Template,
		Data:     data,
		Ignore:   ignore,
		Files:    files,
	}
	if err := s.templates.Apply(ctx, job); err != nil {
		return nil, fmt.Errorf("applying template: %w", err)
	}
	if len(job.Files) > 0 && !job.HasRun() {
		return nil, invalid("files", "files were given but the run section is missing or ignored")
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.logger.Info("job created", "job_id", job.ID, "template", job.Template, "ignore", job.Ignore)
	return job, nil
}

// CreateShortcut creates a job that submits only the schemas selected by
// shortcut (see Shortcuts). Any ignore list in the input is replaced.
func (s *JobService) CreateShortcut(ctx context.Context, owner uuid.UUID, shortcut string, in CreateJobInput) (*models.Job, error) {
	ignore, ok := Shortcuts[shortcut]
	if !ok {
		return nil, invalid("shortcut", "unknown shortcut %q", shortcut)
	}
	in.Ignore = append([]string(nil), ignore...)
	return s.Create(ctx, owner, in)
}

func (s *JobService) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *JobService) List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	return s.store.ListJobs(ctx, filter)
}

// Enqueue puts a job back into the upload queue. Submitted and running jobs
// are only re-queued with force.
func (s *JobService) Enqueue(ctx context.Context, id uuid.UUID, force bool) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !force && (job.Status == models.StatusSubmitted || job.Status == models.StatusRunning) {
		return nil, ErrRequeueNotAllowed
	}

	var opts []store.JobUpdateOption
	if force {
		opts = append(opts, store.WithForce())
	}
	if err := s.store.UpdateJobStatus(ctx, id, models.StatusQueued, opts...); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, ErrRequeueNotAllowed
		}
		return nil, fmt.Errorf("re-queueing job: %w", err)
	}
	s.logger.Info("job re-queued", "job_id", id, "force", force, "previous_status", job.Status)
	return s.store.GetJob(ctx, id)
}

// Release queues a RELEASE of every record of job id that has an accession.
func (s *JobService) Release(ctx context.Context, id, actor uuid.UUID) (*models.Job, error) {
	return s.derive(ctx, id, actor, models.ActionRelease, nil, models.FilterNoneAccession())
}

// Cancel queues a CANCEL of every record of job id that has an accession.
func (s *JobService) Cancel(ctx context.Context, id, actor uuid.UUID) (*models.Job, error) {
	return s.derive(ctx, id, actor, models.ActionCancel, nil, models.FilterNoneAccession())
}

// Modify queues a MODIFY of job id. When data is non-nil only the schemas it
// names are resubmitted, with data merged over the accepted records.
func (s *JobService) Modify(ctx context.Context, id, actor uuid.UUID, data map[string]any) (*models.Job, error) {
	return s.derive(ctx, id, actor, models.ActionModify, data)
}

func (s *JobService) derive(ctx context.Context, id, actor uuid.UUID, action models.Action, data map[string]any, opts ...models.CloneOption) (*models.Job, error) {
	source, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	clone, err := source.Clone(actor, action, opts...)
	if err != nil {
		return nil, err
	}
	if data != nil {
		for _, schema := range models.Schemas {
			if _, keep := data[schema]; !keep {
				delete(clone.Data, schema)
			}
		}
		clone.Data = merge.Merge(clone.Data, data)
	}

	if err := s.store.CreateJob(ctx, clone); err != nil {
		return nil, fmt.Errorf("creating %s job: %w", strings.ToLower(string(action)), err)
	}
	s.logger.Info("derived job created", "job_id", clone.ID, "parent_id", id, "action", action)
	return clone, nil
}

// ReleaseAll queues a RELEASE for every submitted ADD job that has not been
// released yet and returns the new jobs.
func (s *JobService) ReleaseAll(ctx context.Context, actor uuid.UUID) ([]*models.Job, error) {
	jobs, err := s.store.ListReleasableJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing releasable jobs: %w", err)
	}
	released := make([]*models.Job, 0, len(jobs))
	for _, job := range jobs {
		clone, err := s.Release(ctx, job.ID, actor)
		if err != nil {
			return released, fmt.Errorf("releasing job %s: %w", job.ID, err)
		}
		released = append(released, clone)
	}
	return released, nil
}

func (s *JobService) Children(ctx context.Context, id uuid.UUID) ([]*models.Job, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListChildren(ctx, id)
}

// Links maps each accepted schema of job to its page in the registry browser
// of the active environment.
func (s *JobService) Links(job *models.Job) map[string]string {
	return job.Links(s.env.BrowserURL())
}

func (s *JobService) GetFile(ctx context.Context, id uuid.UUID) (*models.File, error) {
	return s.store.GetFile(ctx, id)
}

func (s *JobService) ListFiles(ctx context.Context, filter store.FileFilter) ([]*models.File, int, error) {
	return s.store.ListFiles(ctx, filter)
}
