// Package uploader drains the QUEUED jobs and analysis jobs into the registry.
// Each cycle claims one job at a time, hands it to the registry adapter and
// records the outcome. Failed jobs are never retried automatically; they stay
// in ERROR until someone re-queues them.
//
// A submission handed to the adapter is never cancelled: shutdown waits for
// it, bounded only by the adapter's own timeouts.
package uploader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/cache"
	"github.com/kiranshivaraju/enaupload/internal/manifest"
	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/internal/store"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// ErrAlreadyRunning is returned by Start and Run while a loop is active.
var ErrAlreadyRunning = errors.New("uploader already running")

// ErrLeaseLost ends a cycle whose upload lease expired or was taken over.
var ErrLeaseLost = errors.New("upload lease lost")

// NoFilesMessage is stored as raw_result of an analysis job enqueued without files.
const NoFilesMessage = "Analysis job has no assigned files!"

// EmptyResultMessage prefixes raw_result of a job the adapter accepted
// without returning any result.
const EmptyResultMessage = "registry reported success but returned no accession"

const statusTTL = 30 * time.Minute

// StatusCache mirrors job statuses for cheap polling by clients.
type StatusCache interface {
	SetJobStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
	SetAnalysisStatus(ctx context.Context, jobID uuid.UUID, status string, ttl time.Duration) error
}

// Stats summarises one upload cycle.
type Stats struct {
	Submitted         int
	Failed            int
	AnalysesSubmitted int
	AnalysesFailed    int
	// Skipped is set when another process held the upload lease.
	Skipped bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the pause between the end of one cycle and the next.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.interval = d }
}

// WithThrottle sets the pause between two submissions within a cycle.
func WithThrottle(d time.Duration) Option {
	return func(s *Scheduler) { s.throttle = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLease makes every cycle hold cache.UploaderLockKey, so processes
// sharing one store never upload concurrently. The lease is renewed to ttl
// before every job; a cycle that cannot renew it stops.
func WithLease(l cache.Locker, ttl time.Duration) Option {
	return func(s *Scheduler) {
		s.locker = l
		s.lockTTL = ttl
	}
}

func WithStatusCache(c StatusCache) Option {
	return func(s *Scheduler) { s.statuses = c }
}

func WithMetrics(m *Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// Scheduler polls the store for queued work.
type Scheduler struct {
	store   store.Store
	adapter registry.Adapter
	logger  *slog.Logger

	interval time.Duration
	throttle time.Duration
	locker   cache.Locker
	lockTTL  time.Duration
	statuses StatusCache
	metrics  *Metrics

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler. The default interval is 5s with no throttle.
func New(st store.Store, adapter registry.Adapter, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:    st,
		adapter:  adapter,
		logger:   slog.Default(),
		interval: 5 * time.Second,
		lockTTL:  10 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the poll loop in the background. The loop ends when ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.loop(loopCtx)
	}()

	s.logger.Info("uploader started",
		"interval", s.interval.String(),
		"throttle", s.throttle.String(),
		"lease", s.locker != nil,
	)
	return nil
}

// Stop cancels the loop and waits for the submission in progress, if any,
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("uploader stopped")
}

// Run is Start followed by a blocking wait for ctx to end.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		stats, err := s.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("upload cycle failed", "error", err)
		} else if stats.Submitted+stats.Failed+stats.AnalysesSubmitted+stats.AnalysesFailed > 0 {
			s.logger.Info("upload cycle finished",
				"submitted", stats.Submitted,
				"failed", stats.Failed,
				"analyses_submitted", stats.AnalysesSubmitted,
				"analyses_failed", stats.AnalysesFailed,
			)
		}
		timer.Reset(s.interval)
	}
}

// RunOnce processes every job that is QUEUED when the cycle starts, then
// every QUEUED analysis job.
func (s *Scheduler) RunOnce(ctx context.Context) (Stats, error) {
	var stats Stats

	var token string
	if s.locker != nil {
		t, ok, err := s.locker.AcquireLock(ctx, cache.UploaderLockKey, s.lockTTL)
		if err != nil {
			return stats, fmt.Errorf("acquiring upload lease: %w", err)
		}
		if !ok {
			stats.Skipped = true
			s.metrics.cycle(true)
			s.logger.Debug("upload lease held elsewhere, skipping cycle")
			return stats, nil
		}
		token = t
		defer func() {
			if err := s.locker.ReleaseLock(context.WithoutCancel(ctx), cache.UploaderLockKey, token); err != nil {
				s.logger.Warn("releasing upload lease", "error", err)
			}
		}()
	}
	s.metrics.cycle(false)

	jobs, err := s.store.ListJobsByStatus(ctx, models.StatusQueued)
	if err != nil {
		return stats, fmt.Errorf("listing queued jobs: %w", err)
	}
	first := true
	for _, job := range jobs {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if !first && !s.pause(ctx) {
			return stats, ctx.Err()
		}
		if err := s.renew(ctx, token); err != nil {
			return stats, err
		}
		switch s.processJob(ctx, job) {
		case models.StatusSubmitted:
			stats.Submitted++
			first = false
		case models.StatusError:
			stats.Failed++
			first = false
		}
	}

	analyses, err := s.store.ListAnalysisJobsByStatus(ctx, models.StatusQueued)
	if err != nil {
		return stats, fmt.Errorf("listing queued analysis jobs: %w", err)
	}
	for _, aj := range analyses {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if !first && !s.pause(ctx) {
			return stats, ctx.Err()
		}
		if err := s.renew(ctx, token); err != nil {
			return stats, err
		}
		switch s.processAnalysis(ctx, aj) {
		case models.StatusSubmitted:
			stats.AnalysesSubmitted++
			first = false
		case models.StatusError:
			stats.AnalysesFailed++
			first = false
		}
	}
	return stats, nil
}

// renew extends the cycle's lease before the next job is claimed.
func (s *Scheduler) renew(ctx context.Context, token string) error {
	if s.locker == nil {
		return nil
	}
	err := s.locker.RenewLock(ctx, cache.UploaderLockKey, token, s.lockTTL)
	if errors.Is(err, cache.ErrLockNotHeld) {
		s.logger.Warn("upload lease expired mid-cycle, stopping")
		return ErrLeaseLost
	}
	if err != nil {
		return fmt.Errorf("renewing upload lease: %w", err)
	}
	return nil
}

// pause waits for the throttle delay. It reports false if ctx ended first.
func (s *Scheduler) pause(ctx context.Context) bool {
	if s.throttle <= 0 {
		return true
	}
	t := time.NewTimer(s.throttle)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// processJob submits a single job. It returns the status the job ended in,
// or "" when the job was not claimed.
func (s *Scheduler) processJob(ctx context.Context, job *models.Job) (final models.Status) {
	logger := s.logger.With("job_id", job.ID, "action", job.Action)
	// Once claimed, the job runs to completion regardless of shutdown.
	persist := context.WithoutCancel(ctx)

	claimed := false
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while submitting job", "error", r, "stack", string(debug.Stack()))
			if !claimed {
				final = ""
				return
			}
			final = s.failJob(persist, logger, job.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := s.store.UpdateJobStatus(ctx, job.ID, models.StatusRunning); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			logger.Info("job no longer queued, skipping")
		} else {
			logger.Error("claiming job", "error", err)
		}
		return ""
	}
	claimed = true
	s.mirrorJob(persist, job.ID, models.StatusRunning)
	logger.Info("submitting job")

	start := time.Now()
	res, err := s.adapter.SubmitRecord(persist, job)
	took := time.Since(start)
	if err != nil {
		s.metrics.submission(kindJob, outcomeError, took)
		return s.failJob(persist, logger, job.ID, failureText(err))
	}
	if len(res.Result) == 0 {
		s.metrics.submission(kindJob, outcomeError, took)
		return s.failJob(persist, logger, job.ID, emptyResultText(res.RawResult))
	}

	for i := range res.Files {
		f := res.Files[i]
		f.JobID = job.ID
		if _, err := s.store.UpsertFile(persist, &f); err != nil {
			logger.Error("recording submitted file", "file", f.FileName, "error", err)
		}
	}

	err = s.store.UpdateJobStatus(persist, job.ID, models.StatusSubmitted,
		store.WithResult(res.Result),
		store.WithRawResult(res.RawResult),
		store.WithSubmission(res.Submission, res.RawSubmission),
	)
	if err != nil {
		logger.Error("recording submission result", "error", err)
		s.metrics.submission(kindJob, outcomeError, took)
		return s.failJob(persist, logger, job.ID, fmt.Sprintf("recording result: %v", err))
	}
	s.mirrorJob(persist, job.ID, models.StatusSubmitted)
	s.metrics.submission(kindJob, outcomeSubmitted, took)
	logger.Info("job submitted", "duration_ms", took.Milliseconds())
	return models.StatusSubmitted
}

func (s *Scheduler) failJob(ctx context.Context, logger *slog.Logger, id uuid.UUID, detail string) models.Status {
	logger.Warn("job failed", "detail", detail)
	if err := s.store.UpdateJobStatus(ctx, id, models.StatusError, store.WithRawResult(detail)); err != nil {
		logger.Error("marking job failed", "error", err)
	}
	s.mirrorJob(ctx, id, models.StatusError)
	return models.StatusError
}

// processAnalysis builds the manifest of aj and submits it.
func (s *Scheduler) processAnalysis(ctx context.Context, aj *models.AnalysisJob) (final models.Status) {
	logger := s.logger.With("analysis_job_id", aj.ID, "job_id", aj.JobID)
	persist := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while submitting analysis job", "error", r, "stack", string(debug.Stack()))
			final = s.failAnalysis(persist, logger, aj.ID, fmt.Sprintf("panic: %v", r))
		}
	}()

	files, err := s.store.ListAnalysisFiles(ctx, aj.ID)
	if err != nil {
		logger.Error("listing analysis files", "error", err)
		return ""
	}
	if len(files) == 0 {
		return s.failAnalysis(persist, logger, aj.ID, NoFilesMessage)
	}

	if err := s.store.UpdateAnalysisJobStatus(ctx, aj.ID, models.StatusRunning); err != nil {
		if errors.Is(err, store.ErrInvalidTransition) || errors.Is(err, store.ErrNotFound) {
			logger.Info("analysis job no longer queued, skipping")
		} else {
			logger.Error("claiming analysis job", "error", err)
		}
		return ""
	}
	s.mirrorAnalysis(persist, aj.ID, models.StatusRunning)

	text, err := s.manifestFor(persist, aj, files)
	if err != nil {
		return s.failAnalysis(persist, logger, aj.ID, err.Error())
	}
	if manifest.IsError(text) {
		return s.failAnalysis(persist, logger, aj.ID, text)
	}

	logger.Info("submitting analysis job")
	start := time.Now()
	res, err := s.adapter.SubmitAnalysis(persist, aj, text)
	took := time.Since(start)
	if err != nil {
		s.metrics.submission(kindAnalysis, outcomeError, took)
		return s.failAnalysis(persist, logger, aj.ID, failureText(err))
	}
	if len(res.Result) == 0 {
		s.metrics.submission(kindAnalysis, outcomeError, took)
		return s.failAnalysis(persist, logger, aj.ID, emptyResultText(res.RawResult))
	}

	err = s.store.UpdateAnalysisJobStatus(persist, aj.ID, models.StatusSubmitted,
		store.WithResult(res.Result),
		store.WithRawResult(res.RawResult),
	)
	if err != nil {
		logger.Error("recording analysis result", "error", err)
		s.metrics.submission(kindAnalysis, outcomeError, took)
		return s.failAnalysis(persist, logger, aj.ID, fmt.Sprintf("recording result: %v", err))
	}
	s.mirrorAnalysis(persist, aj.ID, models.StatusSubmitted)
	s.metrics.submission(kindAnalysis, outcomeSubmitted, took)
	logger.Info("analysis job submitted", "duration_ms", took.Milliseconds())
	return models.StatusSubmitted
}

// manifestFor loads the referenced job and its lineage. A missing job is
// left to manifest.Build to report.
func (s *Scheduler) manifestFor(ctx context.Context, aj *models.AnalysisJob, files []*models.AnalysisFile) (string, error) {
	job, err := s.store.GetJob(ctx, aj.JobID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("loading job %s: %w", aj.JobID, err)
	}
	var children []*models.Job
	if job != nil {
		children, err = s.store.ListChildren(ctx, job.ID)
		if err != nil {
			return "", fmt.Errorf("loading children of job %s: %w", job.ID, err)
		}
	}
	return manifest.Build(aj, job, children, files), nil
}

func (s *Scheduler) failAnalysis(ctx context.Context, logger *slog.Logger, id uuid.UUID, detail string) models.Status {
	logger.Warn("analysis job failed", "detail", detail)
	if err := s.store.UpdateAnalysisJobStatus(ctx, id, models.StatusError, store.WithRawResult(detail)); err != nil {
		logger.Error("marking analysis job failed", "error", err)
	}
	s.mirrorAnalysis(ctx, id, models.StatusError)
	return models.StatusError
}

func (s *Scheduler) mirrorJob(ctx context.Context, id uuid.UUID, status models.Status) {
	if s.statuses != nil {
		_ = s.statuses.SetJobStatus(ctx, id, string(status), statusTTL)
	}
}

func (s *Scheduler) mirrorAnalysis(ctx context.Context, id uuid.UUID, status models.Status) {
	if s.statuses != nil {
		_ = s.statuses.SetAnalysisStatus(ctx, id, string(status), statusTTL)
	}
}

func emptyResultText(raw string) string {
	if raw == "" {
		return EmptyResultMessage
	}
	return EmptyResultMessage + "\n" + raw
}

// failureText is what ends up in raw_result of a failed job.
func failureText(err error) string {
	var se *registry.SubmissionError
	if errors.As(err, &se) && se.Detail != "" {
		return se.Detail
	}
	return err.Error()
}
