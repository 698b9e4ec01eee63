package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnalysisJob is a secondary submission (for example a genome assembly) that
// references the records of an accepted Job. It is created DRAFT and only
// enters the upload queue when explicitly enqueued.
type AnalysisJob struct {
	ID        uuid.UUID      `db:"id"         json:"id"`
	Owner     *uuid.UUID     `db:"owner_id"   json:"owner,omitempty"`
	JobID     uuid.UUID      `db:"job_id"     json:"job"`
	Status    Status         `db:"status"     json:"status"`
	Template  string         `db:"template"   json:"template"`
	Data      map[string]any `db:"data"       json:"data"`
	Result    map[string]any `db:"result"     json:"result,omitempty"`
	RawResult string         `db:"raw_result" json:"raw_result,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// Accession returns the accession assigned by the registry, if any.
func (a *AnalysisJob) Accession() string {
	acc, _ := a.Result["accession"].(string)
	return acc
}

// AnalysisFile is a file referenced by an analysis manifest.
type AnalysisFile struct {
	ID            uuid.UUID `db:"id"              json:"id"`
	AnalysisJobID uuid.UUID `db:"analysis_job_id" json:"job"`
	FileName      string    `db:"file_name"       json:"file_name"`
	FileType      string    `db:"file_type"       json:"file_type"`
	MD5Sum        string    `db:"md5sum"          json:"md5sum"`
	CreatedAt     time.Time `db:"created_at"      json:"created_at"`
}

// AnalysisFileTypes are the manifest file types accepted by the registry.
var AnalysisFileTypes = []string{
	"FASTA",
	"CHROMOSOME_LIST",
	"FLATFILE",
	"AGP",
	"UNLOCALISED_LIST",
	"BAM",
	"CRAM",
	"FASTQ",
}

// ParseAnalysisFileType normalises and validates a manifest file type.
func ParseAnalysisFileType(s string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(s))
	for _, t := range AnalysisFileTypes {
		if t == upper {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown analysis file type %q", s)
}
