package webin

import (
	"bufio"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ReportNotFound stands in for a report path the output names but the
// filesystem no longer has.
const ReportNotFound = "ERROR: not found"

var reportRe = regexp.MustCompile(`(/tmp/[^," ]+)`)

// Validation is the structured view of a webin-cli validate run.
type Validation struct {
	Out     []string            `json:"OUT"`
	Info    [][]string          `json:"INFO"`
	Error   []string            `json:"ERROR"`
	Reports map[string][]string `json:"REPORTS"`
}

// ParseValidation splits webin output into INFO sentences, ERROR sentences
// and the contents of every report file or directory an ERROR points at.
func ParseValidation(out string) Validation {
	v := Validation{
		Out:     strings.Split(out, "\n"),
		Info:    [][]string{},
		Error:   []string{},
		Reports: map[string][]string{},
	}

	for _, line := range v.Out {
		switch {
		case strings.HasPrefix(line, "INFO"):
			v.Info = append(v.Info, strings.Split(strings.Replace(line, "INFO : ", "", 1), ". "))
		case strings.HasPrefix(line, "ERROR"):
			for _, sentence := range strings.Split(strings.Replace(line, "ERROR: ", "", 1), ". ") {
				if m := reportRe.FindStringSubmatch(sentence); m != nil {
					collectReports(v.Reports, m[1])
				}
				v.Error = append(v.Error, sentence)
			}
		}
	}
	return v
}

func collectReports(reports map[string][]string, path string) {
	info, err := os.Stat(path)
	if err != nil {
		reports[path] = []string{ReportNotFound}
		return
	}
	if !info.IsDir() {
		reports[path] = readLines(path)
		return
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		reports[path] = []string{ReportNotFound}
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p := filepath.Join(path, e.Name())
		reports[p] = readLines(p)
	}
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return []string{ReportNotFound}
	}
	defer f.Close()

	lines := []string{}
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}
