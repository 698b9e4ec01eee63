package cache

import (
	"fmt"

	"github.com/google/uuid"
)

// UploaderLockKey guards the upload cycle across server processes.
const UploaderLockKey = "uploader:lock"

func JobStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:%s", jobID)
}

func AnalysisStatusKey(jobID uuid.UUID) string {
	return fmt.Sprintf("analysis:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func TemplateKey(name string) string {
	return fmt.Sprintf("template:%s", name)
}
