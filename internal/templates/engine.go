package templates

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/enaupload/pkg/merge"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// Placeholder is replaced by a per-application timestamp in alias values.
const Placeholder = "{}"

// Engine applies templates to jobs.
type Engine struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source used for alias timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// NewEngine creates an Engine backed by store.
func NewEngine(store Store, opts ...Option) *Engine {
	e := &Engine{store: store, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Timestamp renders t as YYYYMMDDhhmmss followed by six digits of microseconds.
func Timestamp(t time.Time) string {
	return t.Format("20060102150405") + fmt.Sprintf("%06d", t.Nanosecond()/1000)
}

// Apply resolves job.Template (defaulting to "default"), drops the sections
// listed in job.Ignore from it, merges job.Data over the rest, stamps alias
// placeholders and keeps only the recognised data sections. The job is
// modified in memory only.
func (e *Engine) Apply(ctx context.Context, job *models.Job) error {
	name := job.Template
	if name == "" {
		name = models.DefaultTemplate
	}
	tmpl, err := e.store.Load(ctx, name)
	if err != nil {
		e.logger.Warn("template not loaded", "template", name, "error", err)
		return err
	}

	for _, section := range job.Ignore {
		delete(tmpl, section)
	}

	data := merge.Merge(tmpl, job.Data)

	ts := Timestamp(e.now())
	for _, schema := range models.Schemas {
		sec, ok := data[schema].(map[string]any)
		if !ok {
			continue
		}
		for key, value := range sec {
			s, ok := value.(string)
			if !ok || !strings.HasSuffix(key, "alias") {
				continue
			}
			sec[key] = strings.ReplaceAll(s, Placeholder, ts)
		}
	}

	for key := range data {
		if !models.IsDataSection(key) {
			delete(data, key)
		}
	}

	job.Template = name
	job.Data = data
	e.logger.Debug("template applied", "job_id", job.ID, "template", name)
	return nil
}

// ApplyAnalysis merges the template's "analysis" section under aj.Data and
// stamps the placeholder in the name field.
func (e *Engine) ApplyAnalysis(ctx context.Context, aj *models.AnalysisJob) error {
	name := aj.Template
	if name == "" {
		name = models.DefaultTemplate
	}
	tmpl, err := e.store.Load(ctx, name)
	if err != nil {
		e.logger.Warn("template not loaded", "template", name, "error", err)
		return err
	}

	data := merge.Copy(aj.Data)
	if section, ok := merge.Section(tmpl, "analysis"); ok {
		data = merge.Merge(section, aj.Data)
	}
	if data == nil {
		data = map[string]any{}
	}
	if s, ok := data["name"].(string); ok {
		data["name"] = strings.ReplaceAll(s, Placeholder, Timestamp(e.now()))
	}

	aj.Template = name
	aj.Data = data
	e.logger.Debug("analysis template applied", "analysis_job_id", aj.ID, "template", name)
	return nil
}
