package models

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/pkg/merge"
)

// DefaultTemplate is used when a Job or AnalysisJob names no template.
const DefaultTemplate = "default"

// ErrInvalidCloneAction is returned when cloning into an action that cannot
// derive from an existing submission.
var ErrInvalidCloneAction = errors.New("clone action must be MODIFY, CANCEL or RELEASE")

// Job is the primary submission unit. The API creates it QUEUED; the uploader
// moves it to RUNNING and then SUBMITTED or ERROR. Follow-up actions never
// mutate a Job, they clone it into a child that references it as Parent.
type Job struct {
	ID            uuid.UUID      `db:"id"             json:"id"`
	Owner         *uuid.UUID     `db:"owner_id"       json:"owner,omitempty"`
	Status        Status         `db:"status"         json:"status"`
	Action        Action         `db:"action"         json:"action"`
	Template      string         `db:"template"       json:"template"`
	Data          map[string]any `db:"data"           json:"data"`
	Ignore        []string       `db:"ignore"         json:"ignore"`
	Files         []string       `db:"files"          json:"files"`
	Submission    map[string]any `db:"submission"     json:"submission,omitempty"`
	RawSubmission string         `db:"raw_submission" json:"raw_submission,omitempty"`
	Result        map[string]any `db:"result"         json:"result,omitempty"`
	RawResult     string         `db:"raw_result"     json:"raw_result,omitempty"`
	Parent        *uuid.UUID     `db:"parent_id"      json:"parent,omitempty"`
	CreatedAt     time.Time      `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"     json:"updated_at"`
}

// Ignores reports whether schema is excluded from this submission.
func (j *Job) Ignores(schema string) bool {
	for _, s := range j.Ignore {
		if s == schema {
			return true
		}
	}
	return false
}

// HasRun reports whether the run section takes part in the submission, which
// is the only case in which Files are consulted.
func (j *Job) HasRun() bool {
	_, ok := j.Data["run"]
	return ok && !j.Ignores("run")
}

// Links maps every accepted schema to its page in the registry browser.
func (j *Job) Links(browserURL string) map[string]string {
	links := map[string]string{}
	if len(j.Result) == 0 {
		return links
	}
	base := strings.TrimRight(browserURL, "/")
	for _, schema := range Schemas {
		rec, ok := merge.Section(j.Result, schema)
		if !ok {
			continue
		}
		if acc, ok := rec["accession"].(string); ok && acc != "" {
			links[schema] = base + "/" + acc
		}
	}
	return links
}

type cloneParams struct {
	status              Status
	filterNoneAccession bool
}

// CloneOption configures Job.Clone.
type CloneOption func(*cloneParams)

// WithStatus sets the status of the cloned job (QUEUED by default).
func WithStatus(s Status) CloneOption {
	return func(p *cloneParams) {
		p.status = s
	}
}

// FilterNoneAccession drops schema sections that were never accepted by the
// registry (their accession is null). Used for CANCEL and RELEASE.
func FilterNoneAccession() CloneOption {
	return func(p *cloneParams) {
		p.filterNoneAccession = true
	}
}

// Clone derives a new job from j for a follow-up action. The accepted records
// in j.Result are stamped with the new action in their status field and merged
// over j.Data, so the next submission references the existing registry records.
// Outcome fields of the clone start empty. j itself is left untouched.
func (j *Job) Clone(actor uuid.UUID, action Action, opts ...CloneOption) (*Job, error) {
	switch action {
	case ActionModify, ActionCancel, ActionRelease:
	case ActionAdd:
		return nil, fmt.Errorf("%w: got %s", ErrInvalidCloneAction, action)
	default:
		return nil, fmt.Errorf("%w: got %q", ErrInvalidCloneAction, action)
	}

	params := cloneParams{status: StatusQueued}
	for _, opt := range opts {
		opt(&params)
	}

	stamped := merge.Copy(j.Result)
	for _, entry := range stamped {
		if rec, ok := entry.(map[string]any); ok {
			rec["status"] = string(action)
		}
	}
	data := merge.Merge(j.Data, stamped)

	if params.filterNoneAccession {
		for key, entry := range data {
			rec, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			if acc, present := rec["accession"]; present && acc == nil {
				delete(data, key)
			}
		}
	}

	now := time.Now().UTC()
	owner := actor
	parent := j.ID
	return &Job{
		ID:        uuid.New(),
		Owner:     &owner,
		Status:    params.status,
		Action:    action,
		Template:  j.Template,
		Data:      data,
		Ignore:    append([]string(nil), j.Ignore...),
		Files:     append([]string(nil), j.Files...),
		Parent:    &parent,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// File is a data file attached to a Job's run section.
type File struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	JobID     uuid.UUID `db:"job_id"     json:"job"`
	FileName  string    `db:"file_name"  json:"file_name"`
	FileType  string    `db:"file_type"  json:"file_type"`
	MD5Sum    string    `db:"md5sum"     json:"md5sum"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RunFileTypes are the accepted run file formats.
var RunFileTypes = []string{"bam", "cram", "fastq"}

// DetectFileType derives the run file type from the file extension, looking
// through a trailing .gz.
func DetectFileType(name string) (string, error) {
	base := name
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, ".gz")
	dot := strings.LastIndex(base, ".")
	if dot <= 0 || dot == len(base)-1 {
		return "", fmt.Errorf("cannot determine file type: %s", name)
	}
	ext := strings.ToLower(base[dot+1:])
	switch ext {
	case "fq":
		return "fastq", nil
	case "bam", "cram", "fastq":
		return ext, nil
	default:
		return "", fmt.Errorf("unsupported file type %q: %s", ext, name)
	}
}
