package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/pkg/merge"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// Adapter satisfies registry.Adapter for testing and for the "mock" registry mode.
type Adapter struct {
	SubmitRecordFunc     func(ctx context.Context, job *models.Job) (*registry.RecordResult, error)
	SubmitAnalysisFunc   func(ctx context.Context, job *models.AnalysisJob, manifest string) (*registry.AnalysisResult, error)
	ValidateAnalysisFunc func(ctx context.Context, job *models.AnalysisJob, manifest string) (string, error)

	mu       sync.Mutex
	records  []uuid.UUID
	analyses []uuid.UUID
}

func (m *Adapter) SubmitRecord(ctx context.Context, job *models.Job) (*registry.RecordResult, error) {
	m.mu.Lock()
	m.records = append(m.records, job.ID)
	m.mu.Unlock()
	if m.SubmitRecordFunc != nil {
		return m.SubmitRecordFunc(ctx, job)
	}
	return &registry.RecordResult{Result: map[string]any{}}, nil
}

func (m *Adapter) SubmitAnalysis(ctx context.Context, job *models.AnalysisJob, manifest string) (*registry.AnalysisResult, error) {
	m.mu.Lock()
	m.analyses = append(m.analyses, job.ID)
	m.mu.Unlock()
	if m.SubmitAnalysisFunc != nil {
		return m.SubmitAnalysisFunc(ctx, job, manifest)
	}
	return &registry.AnalysisResult{Result: map[string]any{}}, nil
}

func (m *Adapter) ValidateAnalysis(ctx context.Context, job *models.AnalysisJob, manifest string) (string, error) {
	if m.ValidateAnalysisFunc != nil {
		return m.ValidateAnalysisFunc(ctx, job, manifest)
	}
	return "", nil
}

// RecordCalls returns the job ids passed to SubmitRecord, in call order.
func (m *Adapter) RecordCalls() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.records...)
}

// AnalysisCalls returns the analysis job ids passed to SubmitAnalysis.
func (m *Adapter) AnalysisCalls() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]uuid.UUID(nil), m.analyses...)
}

// NewAdapter returns an Adapter that accepts everything, assigning sequential
// fake accessions to every record whose status matches the job action.
func NewAdapter() *Adapter {
	var seq atomic.Int64
	next := func(prefix string) string {
		return fmt.Sprintf("%s%07d", prefix, seq.Add(1))
	}
	prefixes := map[string]string{"study": "PRJEB", "sample": "ERS", "experiment": "ERX", "run": "ERR"}

	return &Adapter{
		SubmitRecordFunc: func(_ context.Context, job *models.Job) (*registry.RecordResult, error) {
			now := time.Now().UTC().Format(time.RFC3339)
			res := &registry.RecordResult{Result: map[string]any{}, Submission: map[string]any{}}
			var receipt []string
			for _, schema := range models.Schemas {
				if job.Ignores(schema) {
					continue
				}
				sec, ok := merge.Section(job.Data, schema)
				if !ok {
					continue
				}
				row := merge.Copy(sec)
				if strings.EqualFold(fmt.Sprint(row["status"]), string(job.Action)) {
					res.Submission[schema] = merge.Copy(sec)
					if job.Action == models.ActionAdd {
						row["accession"] = next(prefixes[schema])
					}
					row["submission_date"] = now
					row["status"] = job.Action.Outcome()
					receipt = append(receipt, fmt.Sprintf(`<%s alias="%v" accession="%v"/>`, strings.ToUpper(schema), row["alias"], row["accession"]))
				}
				res.Result[schema] = row
			}
			if len(res.Submission) == 0 {
				return nil, registry.Failf("there is no schema submitted having %s as action in its status", job.Action)
			}
			res.RawResult = `<RECEIPT success="true">` + strings.Join(receipt, "") + `</RECEIPT>`
			res.RawSubmission = fmt.Sprintf(`<SUBMISSION><ACTIONS><ACTION><%s/></ACTION></ACTIONS></SUBMISSION>`, job.Action)
			return res, nil
		},
		SubmitAnalysisFunc: func(_ context.Context, job *models.AnalysisJob, manifest string) (*registry.AnalysisResult, error) {
			acc := next("ERZ")
			return &registry.AnalysisResult{
				Result:    map[string]any{"accession": acc},
				RawResult: "The following analysis accession was assigned to the submission: " + acc,
			}, nil
		},
		ValidateAnalysisFunc: func(_ context.Context, _ *models.AnalysisJob, _ string) (string, error) {
			return "INFO : The submission has been validated successfully.", nil
		},
	}
}

// NewFailingAdapter returns an Adapter that always fails with detail.
func NewFailingAdapter(detail string) *Adapter {
	return &Adapter{
		SubmitRecordFunc: func(_ context.Context, _ *models.Job) (*registry.RecordResult, error) {
			return nil, &registry.SubmissionError{Detail: detail}
		},
		SubmitAnalysisFunc: func(_ context.Context, _ *models.AnalysisJob, _ string) (*registry.AnalysisResult, error) {
			return nil, &registry.SubmissionError{Detail: detail}
		},
		ValidateAnalysisFunc: func(_ context.Context, _ *models.AnalysisJob, _ string) (string, error) {
			return "ERROR: " + detail, nil
		},
	}
}

// NewSlowAdapter returns an accepting Adapter whose submissions take delay.
// Like an HTTP call, a submission gives up early when ctx is cancelled.
func NewSlowAdapter(delay time.Duration) *Adapter {
	fast := NewAdapter()
	wait := func(ctx context.Context) error {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return registry.Fail(ctx.Err())
		case <-t.C:
			return nil
		}
	}
	return &Adapter{
		SubmitRecordFunc: func(ctx context.Context, job *models.Job) (*registry.RecordResult, error) {
			if err := wait(ctx); err != nil {
				return nil, err
			}
			return fast.SubmitRecordFunc(ctx, job)
		},
		SubmitAnalysisFunc: func(ctx context.Context, job *models.AnalysisJob, manifest string) (*registry.AnalysisResult, error) {
			if err := wait(ctx); err != nil {
				return nil, err
			}
			return fast.SubmitAnalysisFunc(ctx, job, manifest)
		},
		ValidateAnalysisFunc: fast.ValidateAnalysisFunc,
	}
}

// Compile-time check that Adapter implements registry.Adapter.
var _ registry.Adapter = (*Adapter)(nil)
