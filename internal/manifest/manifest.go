// Package manifest consolidates a Job's lineage results and renders the text
// manifest consumed by the analysis submission tool.
package manifest

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/enaupload/pkg/merge"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// ErrorPrefix marks a manifest body that is a generation failure rather than
// a usable manifest.
const ErrorPrefix = "ERROR generating manifest: "

// GenerationError describes why a manifest could not be produced.
type GenerationError struct {
	Detail string
}

func (e *GenerationError) Error() string {
	return "generating manifest: " + e.Detail
}

func failf(format string, args ...any) error {
	return &GenerationError{Detail: fmt.Sprintf(format, args...)}
}

// ConsolidateResult starts from job.Result and merges the result of every
// child that did not fail, oldest first, so later actions supersede earlier
// ones while untouched fields survive. Inputs are not modified.
func ConsolidateResult(job *models.Job, children []*models.Job) map[string]any {
	ordered := make([]*models.Job, 0, len(children))
	for _, c := range children {
		if c == nil || c.Status == models.StatusError || len(c.Result) == 0 {
			continue
		}
		ordered = append(ordered, c)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	acc := merge.Copy(job.Result)
	if acc == nil {
		acc = map[string]any{}
	}
	for _, c := range ordered {
		acc = merge.Merge(acc, c.Result)
	}
	return acc
}

// Generate renders the manifest for aj. job is the Job aj references and
// children are job's lineage children.
func Generate(aj *models.AnalysisJob, job *models.Job, children []*models.Job, files []*models.AnalysisFile) (string, error) {
	if job == nil {
		return "", failf("analysis job %s has no referenced job", aj.ID)
	}
	result := ConsolidateResult(job, children)
	if len(result) == 0 {
		return "", failf("job %s has no registry result", job.ID)
	}

	var b strings.Builder
	if _, ok := result["experiment"]; ok {
		exp, ok := result["experiment"].(map[string]any)
		if !ok {
			return "", failf("experiment result is not a mapping")
		}
		study, err := requiredField(exp, "experiment", "study_alias")
		if err != nil {
			return "", err
		}
		sample, err := requiredField(exp, "experiment", "sample_alias")
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "STUDY %s\n", study)
		fmt.Fprintf(&b, "SAMPLE %s\n", sample)
	}
	if _, ok := result["run"]; ok {
		run, ok := result["run"].(map[string]any)
		if !ok {
			return "", failf("run result is not a mapping")
		}
		acc, err := requiredField(run, "run", "accession")
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "RUN_REF %s\n", acc)
	}

	keys := make([]string, 0, len(aj.Data))
	for k := range aj.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s %v\n", strings.ToUpper(k), aj.Data[k])
	}

	if len(files) == 0 {
		return "", failf("analysis job %s has no files", aj.ID)
	}
	for _, f := range files {
		fmt.Fprintf(&b, "%s %s\n", f.FileType, f.FileName)
	}
	return b.String(), nil
}

func requiredField(rec map[string]any, section, field string) (string, error) {
	v, ok := rec[field]
	if !ok || v == nil {
		return "", failf("%s result has no %s", section, field)
	}
	s := fmt.Sprint(v)
	if s == "" {
		return "", failf("%s result has an empty %s", section, field)
	}
	return s, nil
}

// Build is Generate with failures rendered inline: the returned body either
// is the manifest or starts with ErrorPrefix.
func Build(aj *models.AnalysisJob, job *models.Job, children []*models.Job, files []*models.AnalysisFile) string {
	text, err := Generate(aj, job, children, files)
	if err != nil {
		var gerr *GenerationError
		if errors.As(err, &gerr) {
			return ErrorPrefix + gerr.Detail
		}
		return ErrorPrefix + err.Error()
	}
	return text
}

// IsError reports whether body is a failed generation.
func IsError(body string) bool {
	return strings.HasPrefix(body, ErrorPrefix)
}
