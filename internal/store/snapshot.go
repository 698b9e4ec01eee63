package store

import (
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// Snapshot is the full state of a MemoryStore in a JSON-friendly shape.
type Snapshot struct {
	Users         []*models.User         `json:"users"`
	APIKeys       []apiKeyRecord         `json:"api_keys"`
	Jobs          []*models.Job          `json:"jobs"`
	Files         []*models.File         `json:"files"`
	AnalysisJobs  []*models.AnalysisJob  `json:"analysis_jobs"`
	AnalysisFiles []*models.AnalysisFile `json:"analysis_files"`
}

// apiKeyRecord keeps the fields models.APIKey hides from JSON.
type apiKeyRecord struct {
	ID         uuid.UUID  `json:"id"`
	UserID     uuid.UUID  `json:"user_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"key_hash"`
	KeyPrefix  string     `json:"key_prefix"`
	Scopes     []string   `json:"scopes"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ExportState returns a deep copy of the store contents.
func (m *MemoryStore) ExportState() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var s Snapshot
	for _, u := range m.users {
		cp := *u
		s.Users = append(s.Users, &cp)
	}
	for _, k := range m.keys {
		s.APIKeys = append(s.APIKeys, apiKeyRecord{
			ID: k.ID, UserID: k.UserID, Name: k.Name, KeyHash: k.KeyHash, KeyPrefix: k.KeyPrefix,
			Scopes: append([]string(nil), k.Scopes...), LastUsedAt: k.LastUsedAt, DeletedAt: k.DeletedAt,
			CreatedAt: k.CreatedAt, UpdatedAt: k.UpdatedAt,
		})
	}
	for _, j := range m.jobs {
		s.Jobs = append(s.Jobs, copyJob(j))
	}
	for _, f := range m.files {
		cp := *f
		s.Files = append(s.Files, &cp)
	}
	for _, a := range m.analysisJobs {
		s.AnalysisJobs = append(s.AnalysisJobs, copyAnalysisJob(a))
	}
	for _, f := range m.analysisFiles {
		cp := *f
		s.AnalysisFiles = append(s.AnalysisFiles, &cp)
	}
	return s
}

// ImportState replaces the store contents with s.
func (m *MemoryStore) ImportState(s Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = map[uuid.UUID]*models.User{}
	m.keys = map[uuid.UUID]*models.APIKey{}
	m.jobs = map[uuid.UUID]*models.Job{}
	m.files = map[uuid.UUID]*models.File{}
	m.analysisJobs = map[uuid.UUID]*models.AnalysisJob{}
	m.analysisFiles = map[uuid.UUID]*models.AnalysisFile{}
	for _, u := range s.Users {
		cp := *u
		m.users[u.ID] = &cp
	}
	for _, k := range s.APIKeys {
		m.keys[k.ID] = &models.APIKey{
			ID: k.ID, UserID: k.UserID, Name: k.Name, KeyHash: k.KeyHash, KeyPrefix: k.KeyPrefix,
			Scopes: append([]string(nil), k.Scopes...), LastUsedAt: k.LastUsedAt, DeletedAt: k.DeletedAt,
			CreatedAt: k.CreatedAt, UpdatedAt: k.UpdatedAt,
		}
	}
	for _, j := range s.Jobs {
		m.jobs[j.ID] = copyJob(j)
	}
	for _, f := range s.Files {
		cp := *f
		m.files[f.ID] = &cp
	}
	for _, a := range s.AnalysisJobs {
		m.analysisJobs[a.ID] = copyAnalysisJob(a)
	}
	for _, f := range s.AnalysisFiles {
		cp := *f
		m.analysisFiles[f.ID] = &cp
	}
}
