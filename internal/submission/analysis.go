package submission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/manifest"
	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/internal/registry/webin"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// Validator dry-runs an analysis submission.
type Validator interface {
	ValidateAnalysis(ctx context.Context, aj *models.AnalysisJob, manifest string) (string, error)
}

// CreateAnalysisInput is the user-supplied part of a new AnalysisJob.
type CreateAnalysisInput struct {
	JobID    uuid.UUID      `json:"job"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data"`
}

// ValidationReport pairs an analysis job with its parsed validator output.
type ValidationReport struct {
	JobID      uuid.UUID        `json:"job"`
	Manifest   string           `json:"manifest"`
	Validation webin.Validation `json:"validation"`
}

// AnalysisService implements the analysis job operations behind the API.
type AnalysisService struct {
	store     store.Store
	templates Templater
	validator Validator
	dataDir   string
	logger    *slog.Logger
}

// NewAnalysisService creates an AnalysisService. Relative analysis file names
// are looked up under dataDir.
func NewAnalysisService(st store.Store, tmpl Templater, validator Validator, dataDir string, logger *slog.Logger) *AnalysisService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AnalysisService{store: st, templates: tmpl, validator: validator, dataDir: dataDir, logger: logger}
}

// Create persists a DRAFT analysis job for an existing Job, with the
// template's analysis section merged under the given data.
func (s *AnalysisService) Create(ctx context.Context, owner uuid.UUID, in CreateAnalysisInput) (*models.AnalysisJob, error) {
	if in.JobID == uuid.Nil {
		return nil, invalid("job", "job is required")
	}
	if _, err := s.store.GetJob(ctx, in.JobID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, invalid("job", "job %s does not exist", in.JobID)
		}
		return nil, err
	}

	aj := &models.AnalysisJob{
		ID:       uuid.New(),
		Owner:    &owner,
		JobID:    in.JobID,
		Status:   models.StatusDraft,
		Template: in.Template,
		Data:     in.Data,
	}
	if err := s.templates.ApplyAnalysis(ctx, aj); err != nil {
		return nil, fmt.Errorf("applying template: %w", err)
	}
	if err := s.store.CreateAnalysisJob(ctx, aj); err != nil {
		return nil, fmt.Errorf("creating analysis job: %w", err)
	}
	s.logger.Info("analysis job created", "analysis_job_id", aj.ID, "job_id", aj.JobID)
	return aj, nil
}

func (s *AnalysisService) Get(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	return s.store.GetAnalysisJob(ctx, id)
}

func (s *AnalysisService) List(ctx context.Context, filter store.AnalysisJobFilter) ([]*models.AnalysisJob, int, error) {
	return s.store.ListAnalysisJobs(ctx, filter)
}

// Enqueue moves a draft or failed analysis job into the upload queue.
// Submitted and running analysis jobs are only re-queued with force.
func (s *AnalysisService) Enqueue(ctx context.Context, id uuid.UUID, force bool) (*models.AnalysisJob, error) {
	aj, err := s.store.GetAnalysisJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if !force && (aj.Status == models.StatusSubmitted || aj.Status == models.StatusRunning) {
		return nil, ErrRequeueNotAllowed
	}

	var opts []store.JobUpdateOption
	if force {
		opts = append(opts, store.WithForce())
	}
	if err := s.store.UpdateAnalysisJobStatus(ctx, id, models.StatusQueued, opts...); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) {
			return nil, ErrRequeueNotAllowed
		}
		return nil, fmt.Errorf("queueing analysis job: %w", err)
	}
	s.logger.Info("analysis job queued", "analysis_job_id", id, "force", force)
	return s.store.GetAnalysisJob(ctx, id)
}

// Delete removes a QUEUED analysis job and its files.
func (s *AnalysisService) Delete(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteAnalysisJob(ctx, id)
}

// Manifest renders the manifest the uploader would submit for analysis job
// id right now. Generation failures come back inline (see manifest.IsError).
func (s *AnalysisService) Manifest(ctx context.Context, id uuid.UUID) (string, error) {
	aj, err := s.store.GetAnalysisJob(ctx, id)
	if err != nil {
		return "", err
	}
	return s.manifest(ctx, aj)
}

func (s *AnalysisService) manifest(ctx context.Context, aj *models.AnalysisJob) (string, error) {
	job, err := s.store.GetJob(ctx, aj.JobID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", err
	}
	var children []*models.Job
	if job != nil {
		if children, err = s.store.ListChildren(ctx, job.ID); err != nil {
			return "", err
		}
	}
	files, err := s.store.ListAnalysisFiles(ctx, aj.ID)
	if err != nil {
		return "", err
	}
	return manifest.Build(aj, job, children, files), nil
}

// Validate runs the registry validator on the current manifest.
func (s *AnalysisService) Validate(ctx context.Context, id uuid.UUID) (*ValidationReport, error) {
	aj, err := s.store.GetAnalysisJob(ctx, id)
	if err != nil {
		return nil, err
	}
	text, err := s.manifest(ctx, aj)
	if err != nil {
		return nil, err
	}
	if manifest.IsError(text) {
		return nil, invalid("manifest", "%s", text)
	}

	out, err := s.validator.ValidateAnalysis(ctx, aj, text)
	if err != nil {
		return nil, err
	}
	return &ValidationReport{JobID: aj.ID, Manifest: text, Validation: webin.ParseValidation(out)}, nil
}

// AddFile attaches a file on disk to an analysis job, recording its MD5.
func (s *AnalysisService) AddFile(ctx context.Context, analysisJobID uuid.UUID, fileName, fileType string) (*models.AnalysisFile, error) {
	if fileName == "" {
		return nil, invalid("file_name", "file_name is required")
	}
	ft, err := models.ParseAnalysisFileType(fileType)
	if err != nil {
		return nil, invalid("file_type", "%v", err)
	}

	path := fileName
	if !filepath.IsAbs(path) && s.dataDir != "" {
		path = filepath.Join(s.dataDir, path)
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return nil, invalid("file_name", "File %s does not exist.", fileName)
	}
	sum, err := registry.FileMD5(path)
	if err != nil {
		return nil, fmt.Errorf("checksumming %s: %w", fileName, err)
	}

	f := &models.AnalysisFile{
		ID:            uuid.New(),
		AnalysisJobID: analysisJobID,
		FileName:      fileName,
		FileType:      ft,
		MD5Sum:        sum,
	}
	if err := s.store.CreateAnalysisFile(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *AnalysisService) GetFile(ctx context.Context, id uuid.UUID) (*models.AnalysisFile, error) {
	return s.store.GetAnalysisFile(ctx, id)
}

func (s *AnalysisService) ListFiles(ctx context.Context, analysisJobID uuid.UUID) ([]*models.AnalysisFile, error) {
	return s.store.ListAnalysisFiles(ctx, analysisJobID)
}

func (s *AnalysisService) DeleteFile(ctx context.Context, id uuid.UUID) error {
	return s.store.DeleteAnalysisFile(ctx, id)
}
