package webin

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/internal/config"
	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeJava writes a shell script standing in for the java binary.
func fakeJava(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "java")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func newRunner(t *testing.T, javaPath string, staging bool, timeout time.Duration) *Runner {
	t.Helper()
	env := registry.NewEnvironment(config.RegistryConfig{UseDevEndpoint: staging})
	return NewRunner(Config{
		JavaPath: javaPath,
		Jar:      "/opt/webin-cli.jar",
		Username: "Webin-1",
		Password: "secret",
		Timeout:  timeout,
		TempDir:  t.TempDir(),
	}, env, nil)
}

func analysisJob() *models.AnalysisJob {
	return &models.AnalysisJob{ID: uuid.New(), Status: models.StatusRunning}
}

func TestSubmitAnalysis_Accession(t *testing.T) {
	java := fakeJava(t, `echo "$@"
echo "INFO : The submission has been completed successfully. The following analysis accession was assigned to the submission: ERZ1234567"`)
	r := newRunner(t, java, true, 5*time.Second)

	res, err := r.SubmitAnalysis(context.Background(), analysisJob(), "STUDY study-1\n")
	require.NoError(t, err)

	assert.Equal(t, "ERZ1234567", res.Result["accession"])
	assert.Contains(t, res.RawResult, "-context genome -username Webin-1 -password secret -manifest")
	assert.Contains(t, res.RawResult, "-submit -ascp -test")
}

func TestSubmitAnalysis_ProductionOmitsTestFlag(t *testing.T) {
	java := fakeJava(t, `echo "$@"`)
	r := newRunner(t, java, false, 5*time.Second)

	res, err := r.SubmitAnalysis(context.Background(), analysisJob(), "STUDY study-1\n")
	require.NoError(t, err)
	assert.NotContains(t, res.RawResult, "-test")
	assert.Empty(t, res.Result)
}

func TestSubmitAnalysis_ManifestPassedToCLI(t *testing.T) {
	// Prints the manifest file named after -manifest.
	java := fakeJava(t, `while [ $# -gt 0 ]; do
  if [ "$1" = "-manifest" ]; then cat "$2"; fi
  shift
done`)
	r := newRunner(t, java, true, 5*time.Second)

	res, err := r.SubmitAnalysis(context.Background(), analysisJob(), "STUDY study-1\nRUN_REF ERR1\n")
	require.NoError(t, err)
	assert.Equal(t, "STUDY study-1\nRUN_REF ERR1\n", res.RawResult)
}

func TestSubmitAnalysis_NonZeroExit(t *testing.T) {
	java := fakeJava(t, `echo "ERROR: Invalid manifest file"
echo "more detail" >&2
exit 2`)
	r := newRunner(t, java, true, 5*time.Second)

	_, err := r.SubmitAnalysis(context.Background(), analysisJob(), "")
	var se *registry.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Detail, "ERROR: Invalid manifest file")
	assert.Contains(t, se.Detail, "more detail")
}

func TestSubmitAnalysis_Timeout(t *testing.T) {
	java := fakeJava(t, `exec sleep 5`)
	r := newRunner(t, java, true, 100*time.Millisecond)

	start := time.Now()
	_, err := r.SubmitAnalysis(context.Background(), analysisJob(), "")
	var se *registry.SubmissionError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Detail, "did not finish")
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestSubmitAnalysis_MissingBinary(t *testing.T) {
	r := newRunner(t, filepath.Join(t.TempDir(), "no-java"), true, time.Second)

	_, err := r.SubmitAnalysis(context.Background(), analysisJob(), "")
	var se *registry.SubmissionError
	require.ErrorAs(t, err, &se)
}

func TestValidateAnalysis_ReturnsOutputOnFailure(t *testing.T) {
	java := fakeJava(t, `echo "$@"
echo "ERROR: Submission validation failed"
exit 3`)
	r := newRunner(t, java, false, 5*time.Second)

	out, err := r.ValidateAnalysis(context.Background(), analysisJob(), "")
	require.NoError(t, err)
	assert.Contains(t, out, "-validate -ascp -test")
	assert.Contains(t, out, "ERROR: Submission validation failed")
}

func TestParseValidation(t *testing.T) {
	reportDir, err := os.MkdirTemp("/tmp", "webin-report-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(reportDir) })
	require.NoError(t, os.WriteFile(filepath.Join(reportDir, "reads.fastq.report"), []byte("line one\nline two\n"), 0o644))

	reportFile := filepath.Join(reportDir, "reads.fastq.report")
	missing := "/tmp/enaupload-missing-" + uuid.NewString()

	out := strings.Join([]string{
		"INFO : Connecting to FTP server. Uploading files",
		"ERROR: Invalid fastq file. See report " + reportDir,
		"ERROR: Invalid header. Report in " + reportFile + ", please check",
		"ERROR: Gone. See " + missing,
		"plain line",
	}, "\n")

	v := ParseValidation(out)

	assert.Len(t, v.Out, 5)
	assert.Equal(t, [][]string{{"Connecting to FTP server", "Uploading files"}}, v.Info)
	assert.Equal(t, []string{
		"Invalid fastq file",
		"See report " + reportDir,
		"Invalid header",
		"Report in " + reportFile + ", please check",
		"Gone",
		"See " + missing,
	}, v.Error)
	assert.Equal(t, []string{"line one", "line two"}, v.Reports[reportFile])
	assert.Equal(t, []string{ReportNotFound}, v.Reports[missing])
	assert.NotContains(t, v.Reports, reportDir)
}

func TestParseValidation_Empty(t *testing.T) {
	v := ParseValidation("")
	assert.Equal(t, []string{""}, v.Out)
	assert.Empty(t, v.Info)
	assert.Empty(t, v.Error)
	assert.Empty(t, v.Reports)
}
