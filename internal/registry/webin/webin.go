// Package webin submits analysis manifests through the webin command line
// client.
package webin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"time"

	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

var accessionRe = regexp.MustCompile(`ERZ[0-9]+`)

type Config struct {
	JavaPath string
	Jar      string
	Context  string
	Username string
	Password string
	Timeout  time.Duration
	// TempDir receives the manifest files; empty means os.TempDir().
	TempDir string
}

// Runner implements registry.AnalysisSubmitter.
type Runner struct {
	cfg    Config
	env    *registry.Environment
	logger *slog.Logger
}

func NewRunner(cfg Config, env *registry.Environment, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Context == "" {
		cfg.Context = "genome"
	}
	return &Runner{cfg: cfg, env: env, logger: logger}
}

// SubmitAnalysis runs webin-cli in submit mode. The first ERZ accession in
// the output becomes the result; output without one still counts as success.
func (r *Runner) SubmitAnalysis(ctx context.Context, job *models.AnalysisJob, manifest string) (*registry.AnalysisResult, error) {
	args := []string{"-submit", "-ascp"}
	if r.env.Staging() {
		args = append(args, "-test")
	}

	out, err := r.run(ctx, manifest, args...)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &registry.SubmissionError{Detail: out, Err: err}
		}
		return nil, registry.Fail(err)
	}

	res := &registry.AnalysisResult{Result: map[string]any{}, RawResult: out}
	if acc := accessionRe.FindString(out); acc != "" {
		res.Result["accession"] = acc
		r.logger.Info("analysis accessioned", "analysis_job_id", job.ID, "accession", acc)
	} else {
		r.logger.Warn("no accession in webin output", "analysis_job_id", job.ID)
	}
	return res, nil
}

// ValidateAnalysis runs webin-cli in validate mode against the test service
// and returns its combined output, whatever the exit status.
func (r *Runner) ValidateAnalysis(ctx context.Context, job *models.AnalysisJob, manifest string) (string, error) {
	out, err := r.run(ctx, manifest, "-validate", "-ascp", "-test")
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, nil
		}
		return out, registry.Fail(err)
	}
	r.logger.Debug("analysis validated", "analysis_job_id", job.ID)
	return out, nil
}

func (r *Runner) run(ctx context.Context, manifest string, mode ...string) (string, error) {
	mf, err := os.CreateTemp(r.cfg.TempDir, "manifest-*.txt")
	if err != nil {
		return "", fmt.Errorf("creating manifest file: %w", err)
	}
	defer os.Remove(mf.Name())

	if _, err := mf.WriteString(manifest); err != nil {
		mf.Close()
		return "", fmt.Errorf("writing manifest file: %w", err)
	}
	if err := mf.Close(); err != nil {
		return "", fmt.Errorf("writing manifest file: %w", err)
	}

	if r.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Timeout)
		defer cancel()
	}

	args := []string{
		"-jar", r.cfg.Jar,
		"-context", r.cfg.Context,
		"-username", r.cfg.Username,
		"-password", r.cfg.Password,
		"-manifest", mf.Name(),
	}
	args = append(args, mode...)

	cmd := exec.CommandContext(ctx, r.cfg.JavaPath, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.WaitDelay = time.Second

	err = cmd.Run()
	out := buf.String()
	if ctx.Err() != nil {
		return out, fmt.Errorf("webin-cli did not finish within %s: %w", r.cfg.Timeout, ctx.Err())
	}
	return out, err
}

var _ registry.AnalysisSubmitter = (*Runner)(nil)
