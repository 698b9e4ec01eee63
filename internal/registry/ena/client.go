// Package ena submits study, sample, experiment and run records to the ENA
// drop-box service.
package ena

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/pkg/merge"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// Sentinel errors wrapped inside registry.SubmissionError.
var (
	ErrRegistryUnreachable = errors.New("registry unreachable")
	ErrRegistryTimeout     = errors.New("registry timeout")
	ErrRegistryResponse    = errors.New("unexpected registry response")
)

type Config struct {
	Username    string
	Password    string
	ToolName    string
	ToolVersion string
	// DataDir resolves relative run file paths.
	DataDir string
	Timeout time.Duration
}

// Client implements registry.RecordSubmitter.
type Client struct {
	cfg      Config
	env      *registry.Environment
	client   *http.Client
	transfer FileTransfer
	taxonomy Taxonomy
	logger   *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTaxonomy enables taxon id and scientific name lookups for samples.
func WithTaxonomy(t Taxonomy) Option {
	return func(c *Client) { c.taxonomy = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func NewClient(cfg Config, env *registry.Environment, transfer FileTransfer, opts ...Option) *Client {
	c := &Client{
		cfg:      cfg,
		env:      env,
		client:   &http.Client{Timeout: cfg.Timeout},
		transfer: transfer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SubmitRecord posts every schema record of job whose status equals the job
// action, and returns the records merged with the registry receipt.
func (c *Client) SubmitRecord(ctx context.Context, job *models.Job) (*registry.RecordResult, error) {
	records, targets := selectRecords(job)
	if len(targets) == 0 {
		return nil, registry.Failf("there is no schema submitted having %s as action in its status", job.Action)
	}

	center := str(job.Data["center_name"])
	if center == "" {
		return nil, registry.Failf("center is not defined; please specify 'center_name' in the data")
	}
	checklist := str(job.Data["checklist"])
	if checklist == "" {
		return nil, registry.Failf("checklist is not defined; please specify 'checklist' in the data")
	}

	var (
		files    []runFile
		uploaded []models.File
	)
	if job.Action == models.ActionAdd || job.Action == models.ActionModify {
		if _, ok := targets["run"]; ok {
			var err error
			files, uploaded, err = c.prepareRun(ctx, job, targets["run"])
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				delete(targets, "run")
			}
		}
		if rec, ok := targets["sample"]; ok {
			if err := resolveSample(ctx, c.taxonomy, rec); err != nil {
				return nil, registry.Fail(err)
			}
		}
		if len(targets) == 0 {
			return nil, registry.Failf("nothing left to submit once runs without files were dropped")
		}
	}

	var docs []document
	if job.Action == models.ActionAdd || job.Action == models.ActionModify {
		for _, schema := range models.Schemas {
			rec, ok := targets[schema]
			if !ok {
				continue
			}
			body, err := buildSchema(schema, rec, center, checklist, files)
			if err != nil {
				return nil, registry.Fail(err)
			}
			docs = append(docs, document{Schema: schema, Body: body})
		}
	}

	subXML, err := buildSubmission("enaupload-"+job.ID.String(), job.Action, targets, center, c.cfg.ToolName, c.cfg.ToolVersion)
	if err != nil {
		return nil, registry.Fail(err)
	}

	submission := make(map[string]any, len(targets))
	for schema, rec := range targets {
		submission[schema] = rec
	}

	url := c.env.SubmitURL()
	c.logger.Info("submitting records", "job_id", job.ID, "action", job.Action, "endpoint", url, "schemas", len(targets))

	body, err := c.post(ctx, url, subXML, docs)
	if err != nil {
		return nil, err
	}

	rcpt, err := parseReceipt(body)
	if err != nil {
		return nil, &registry.SubmissionError{Detail: err.Error()}
	}
	if job.Action == models.ActionRelease {
		for kind, accs := range rcpt.released() {
			c.logger.Info("accessions released", "job_id", job.ID, "type", kind, "accessions", accs)
		}
	}

	return &registry.RecordResult{
		Result:        applyReceipt(job.Action, records, targets, rcpt),
		RawResult:     string(body),
		Submission:    submission,
		RawSubmission: string(subXML),
		Files:         uploaded,
	}, nil
}

// selectRecords copies every schema section taking part in the job, and the
// subset whose status names the job action.
func selectRecords(job *models.Job) (records, targets map[string]map[string]any) {
	records = map[string]map[string]any{}
	targets = map[string]map[string]any{}
	for _, schema := range models.Schemas {
		if job.Ignores(schema) {
			continue
		}
		sec, ok := merge.Section(job.Data, schema)
		if !ok {
			continue
		}
		rec := merge.Copy(sec)
		records[schema] = rec
		if strings.EqualFold(str(rec["status"]), string(job.Action)) {
			targets[schema] = rec
		}
	}
	return records, targets
}

func (c *Client) resolvePath(p string) string {
	if filepath.IsAbs(p) || c.cfg.DataDir == "" {
		return filepath.Clean(p)
	}
	return filepath.Join(c.cfg.DataDir, p)
}

// prepareRun checksums and transfers the job files and records them on the
// run record.
func (c *Client) prepareRun(ctx context.Context, job *models.Job, rec map[string]any) ([]runFile, []models.File, error) {
	if len(job.Files) == 0 {
		return nil, nil, nil
	}

	var (
		files    []runFile
		uploaded []models.File
		uploads  []Upload
	)
	for _, name := range job.Files {
		path := c.resolvePath(name)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			return nil, nil, registry.Failf("file does not exist: %s", name)
		}
		fileType, err := models.DetectFileType(path)
		if err != nil {
			return nil, nil, registry.Fail(err)
		}
		sum, err := registry.FileMD5(path)
		if err != nil {
			return nil, nil, registry.Fail(err)
		}
		base := filepath.Base(path)
		files = append(files, runFile{Name: base, Type: fileType, Checksum: sum})
		uploads = append(uploads, Upload{Name: base, Path: path})
		uploaded = append(uploaded, models.File{JobID: job.ID, FileName: path, FileType: fileType, MD5Sum: sum})
	}

	names := make([]any, len(files))
	types := make([]any, len(files))
	sums := make([]any, len(files))
	for i, f := range files {
		names[i], types[i], sums[i] = f.Name, f.Type, f.Checksum
	}
	rec["file_name"] = names
	rec["file_type"] = types
	rec["file_checksum"] = sums

	if c.transfer != nil {
		if err := c.transfer.Upload(ctx, uploads); err != nil {
			return nil, nil, registry.Fail(err)
		}
	}
	return files, uploaded, nil
}

func (c *Client) post(ctx context.Context, url string, submission []byte, docs []document) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := writePart(mw, "SUBMISSION", "submission.xml", submission); err != nil {
		return nil, registry.Fail(err)
	}
	for _, d := range docs {
		if err := writePart(mw, strings.ToUpper(d.Schema), d.Schema+".xml", d.Body); err != nil {
			return nil, registry.Fail(err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, registry.Fail(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return nil, registry.Fail(fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.SetBasicAuth(c.cfg.Username, c.cfg.Password)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, registry.Fail(classifyError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, registry.Fail(fmt.Errorf("reading receipt: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &registry.SubmissionError{
			Detail: fmt.Sprintf("registry returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
			Err:    ErrRegistryResponse,
		}
	}
	return body, nil
}

func writePart(mw *multipart.Writer, field, filename string, body []byte) error {
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	_, err = part.Write(body)
	return err
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrRegistryTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrRegistryTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrRegistryUnreachable, err)
}

var _ registry.RecordSubmitter = (*Client)(nil)
