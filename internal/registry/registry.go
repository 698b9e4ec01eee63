// Package registry defines the boundary between the uploader and the remote
// archive: the Adapter contract, its result types and the switch between the
// production and staging endpoints.
package registry

import (
	"context"
	"fmt"

	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// RecordSubmitter submits study/sample/experiment/run records.
type RecordSubmitter interface {
	SubmitRecord(ctx context.Context, job *models.Job) (*RecordResult, error)
}

// AnalysisSubmitter submits and validates analysis manifests.
type AnalysisSubmitter interface {
	SubmitAnalysis(ctx context.Context, job *models.AnalysisJob, manifest string) (*AnalysisResult, error)
	ValidateAnalysis(ctx context.Context, job *models.AnalysisJob, manifest string) (string, error)
}

// Adapter is everything the uploader and the API need from a registry.
// Calls are synchronous and may block for minutes; implementations enforce
// their own timeouts. Every failure is returned as a *SubmissionError.
type Adapter interface {
	RecordSubmitter
	AnalysisSubmitter
}

// RecordResult is the outcome of a successful record submission.
type RecordResult struct {
	// Result maps each submitted schema to its record merged with the
	// registry receipt (alias, accession, submission_date, status).
	Result        map[string]any
	RawResult     string
	Submission    map[string]any
	RawSubmission string
	// Files lists the run files that were transferred, with checksums.
	Files []models.File
}

// AnalysisResult is the outcome of a successful analysis submission. Result
// is empty when the registry output carried no accession.
type AnalysisResult struct {
	Result    map[string]any
	RawResult string
}

// SubmissionError is the single failure type adapters return. Detail is the
// human readable text stored in raw_result.
type SubmissionError struct {
	Detail string
	Err    error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil && e.Detail == "" {
		return "submission failed: " + e.Err.Error()
	}
	return "submission failed: " + e.Detail
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// Failf builds a SubmissionError with a formatted detail.
func Failf(format string, args ...any) *SubmissionError {
	return &SubmissionError{Detail: fmt.Sprintf(format, args...)}
}

// Fail wraps err, using its text as the detail.
func Fail(err error) *SubmissionError {
	return &SubmissionError{Detail: err.Error(), Err: err}
}

// Composite serves records and analyses from separate backends.
type Composite struct {
	Records  RecordSubmitter
	Analyses AnalysisSubmitter
}

func (c *Composite) SubmitRecord(ctx context.Context, job *models.Job) (*RecordResult, error) {
	return c.Records.SubmitRecord(ctx, job)
}

func (c *Composite) SubmitAnalysis(ctx context.Context, job *models.AnalysisJob, manifest string) (*AnalysisResult, error) {
	return c.Analyses.SubmitAnalysis(ctx, job, manifest)
}

func (c *Composite) ValidateAnalysis(ctx context.Context, job *models.AnalysisJob, manifest string) (string, error) {
	return c.Analyses.ValidateAnalysis(ctx, job, manifest)
}

var _ Adapter = (*Composite)(nil)
