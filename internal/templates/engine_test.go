package templates_test

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/templates"
	"github.com/kiranshivaraju/enaupload/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultYAML = `
center_name: UGENT
checklist: ERC000011
study:
  alias: study-{}
  title: default study
sample:
  alias: default-{}
  checklist: ERC000011
  taxon_id: 0009606
experiment:
  alias: exp-{}
  study_alias: study-{}
  sample_alias: default-{}
analysis:
  name: assembly-{}
  coverage: 30
unrelated:
  key: value
`

func writeTemplate(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yml"), []byte(body), 0o644))
}

func newEngine(t *testing.T, now time.Time) *templates.Engine {
	t.Helper()
	dir := t.TempDir()
	writeTemplate(t, dir, "default", defaultYAML)
	return templates.NewEngine(templates.NewFSStore(dir), templates.WithClock(func() time.Time { return now }))
}

func TestApply_OverrideAliasWinsAndTemplateFillsGaps(t *testing.T) {
	engine := newEngine(t, time.Now())
	job := &models.Job{
		ID:   uuid.New(),
		Data: map[string]any{"sample": map[string]any{"alias": "x-{}", "taxon_id": 9606.0}},
	}

	require.NoError(t, engine.Apply(context.Background(), job))

	sample := job.Data["sample"].(map[string]any)
	assert.Equal(t, "ERC000011", sample["checklist"])
	assert.Equal(t, 9606.0, sample["taxon_id"])
	assert.Regexp(t, regexp.MustCompile(`^x-\d{20}$`), sample["alias"])
	assert.Equal(t, "default", job.Template)
}

func TestApply_OneTimestampPerCall(t *testing.T) {
	now := time.Date(2024, 3, 5, 14, 7, 9, 123456789, time.UTC)
	engine := newEngine(t, now)
	job := &models.Job{}

	require.NoError(t, engine.Apply(context.Background(), job))

	ts := "20240305140709123456"
	exp := job.Data["experiment"].(map[string]any)
	assert.Equal(t, "exp-"+ts, exp["alias"])
	assert.Equal(t, "study-"+ts, exp["study_alias"])
	assert.Equal(t, "default-"+ts, exp["sample_alias"])
	assert.Equal(t, "study-"+ts, job.Data["study"].(map[string]any)["alias"])
}

func TestApply_IgnoreAndPrune(t *testing.T) {
	engine := newEngine(t, time.Now())
	job := &models.Job{
		Ignore: []string{"study", "experiment"},
		Data:   map[string]any{"extra": "dropped"},
	}

	require.NoError(t, engine.Apply(context.Background(), job))

	assert.NotContains(t, job.Data, "study")
	assert.NotContains(t, job.Data, "experiment")
	assert.NotContains(t, job.Data, "analysis")
	assert.NotContains(t, job.Data, "unrelated")
	assert.NotContains(t, job.Data, "extra")
	assert.Equal(t, "UGENT", job.Data["center_name"])
	assert.Equal(t, "0009606", job.Data["sample"].(map[string]any)["taxon_id"], "scalars stay as source text")
}

func TestApply_NonAliasPlaceholderUntouched(t *testing.T) {
	engine := newEngine(t, time.Now())
	job := &models.Job{
		Data: map[string]any{"study": map[string]any{"title": "t-{}"}},
	}
	require.NoError(t, engine.Apply(context.Background(), job))
	assert.Equal(t, "t-{}", job.Data["study"].(map[string]any)["title"])
}

func TestApply_TemplateNotFound(t *testing.T) {
	engine := newEngine(t, time.Now())
	job := &models.Job{Template: "missing", Data: map[string]any{"sample": map[string]any{"alias": "a"}}}

	err := engine.Apply(context.Background(), job)
	assert.ErrorIs(t, err, templates.ErrTemplateNotFound)
	assert.Equal(t, map[string]any{"sample": map[string]any{"alias": "a"}}, job.Data, "job untouched on failure")
}

func TestApply_RejectsPathNames(t *testing.T) {
	engine := newEngine(t, time.Now())
	for _, name := range []string{"../default", "a/b", `a\b`, ".."} {
		err := engine.Apply(context.Background(), &models.Job{Template: name})
		assert.ErrorIs(t, err, templates.ErrTemplateNotFound, name)
	}
}

func TestApplyAnalysis(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 6000, time.UTC)
	engine := newEngine(t, now)
	aj := &models.AnalysisJob{Data: map[string]any{"coverage": "45", "program": "spades"}}

	require.NoError(t, engine.ApplyAnalysis(context.Background(), aj))

	assert.Equal(t, "assembly-20240102030405000006", aj.Data["name"])
	assert.Equal(t, "45", aj.Data["coverage"])
	assert.Equal(t, "spades", aj.Data["program"])
	assert.Equal(t, "default", aj.Template)
}

func TestApplyAnalysis_NoAnalysisSection(t *testing.T) {
	store := templates.NewMemoryStore(map[string]map[string]any{"bare": {"sample": map[string]any{}}})
	engine := templates.NewEngine(store)
	aj := &models.AnalysisJob{Template: "bare", Data: map[string]any{"name": "n"}}

	require.NoError(t, engine.ApplyAnalysis(context.Background(), aj))
	assert.Equal(t, map[string]any{"name": "n"}, aj.Data)
}

func TestTimestamp(t *testing.T) {
	ts := templates.Timestamp(time.Date(2023, 12, 31, 23, 59, 58, 999999999, time.UTC))
	assert.Equal(t, "20231231235958999999", ts)
}

func TestDecode(t *testing.T) {
	doc, err := templates.Decode([]byte("base: &b\n  a: 1\nother: *b\nlist: [1, true, ~]\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1"}, doc["base"])
	assert.Equal(t, map[string]any{"a": "1"}, doc["other"])
	assert.Equal(t, []any{"1", "true", "~"}, doc["list"])

	doc, err = templates.Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, doc)

	_, err = templates.Decode([]byte("- a\n- b\n"))
	assert.Error(t, err)
}
