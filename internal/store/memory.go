package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/pkg/merge"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// MemoryStore implements Store in process memory. It backs tests, the
// "memory" database driver and, through snapshots, SQLiteStore.
// Every value crossing the API boundary is copied.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]*models.User
	keys          map[uuid.UUID]*models.APIKey
	jobs          map[uuid.UUID]*models.Job
	files         map[uuid.UUID]*models.File
	analysisJobs  map[uuid.UUID]*models.AnalysisJob
	analysisFiles map[uuid.UUID]*models.AnalysisFile
	now           func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         map[uuid.UUID]*models.User{},
		keys:          map[uuid.UUID]*models.APIKey{},
		jobs:          map[uuid.UUID]*models.Job{},
		files:         map[uuid.UUID]*models.File{},
		analysisJobs:  map[uuid.UUID]*models.AnalysisJob{},
		analysisFiles: map[uuid.UUID]*models.AnalysisFile{},
		now:           func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// --- Users ---

func (m *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; ok {
		return ErrDuplicateKey
	}
	for _, u := range m.users {
		if u.Username == user.Username {
			return ErrDuplicateKey
		}
	}
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// --- API Keys ---

func copyAPIKey(k *models.APIKey) *models.APIKey {
	cp := *k
	cp.Scopes = append([]string(nil), k.Scopes...)
	return &cp
}

func (m *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.APIKey
	for _, k := range m.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			out = append(out, copyAPIKey(k))
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok {
		return ErrNotFound
	}
	now := m.now()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	return nil
}

func (m *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := m.users[key.UserID]; !ok {
		return ErrNotFound
	}
	m.keys[key.ID] = copyAPIKey(key)
	return nil
}

func (m *MemoryStore) ListAPIKeys(_ context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.APIKey{}
	for _, k := range m.keys {
		if k.DeletedAt != nil || (userID != uuid.Nil && k.UserID != userID) {
			continue
		}
		out = append(out, copyAPIKey(k))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := m.now()
	k.DeletedAt = &now
	k.UpdatedAt = now
	return nil
}

// --- Jobs ---

func copyJob(j *models.Job) *models.Job {
	cp := *j
	cp.Data = merge.Copy(j.Data)
	cp.Result = merge.Copy(j.Result)
	cp.Submission = merge.Copy(j.Submission)
	cp.Ignore = append([]string(nil), j.Ignore...)
	cp.Files = append([]string(nil), j.Files...)
	return &cp
}

func (m *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func sectionString(doc map[string]any, schema, field string) string {
	sec, ok := merge.Section(doc, schema)
	if !ok {
		return ""
	}
	s, _ := sec[field].(string)
	return s
}

func matchJob(j *models.Job, f JobFilter) bool {
	if f.Status != "" && j.Status != f.Status {
		return false
	}
	if f.Action != "" && j.Action != f.Action {
		return false
	}
	if f.Owner != nil && (j.Owner == nil || *j.Owner != *f.Owner) {
		return false
	}
	if f.Files != "" && !containsFold(strings.Join(j.Files, " "), f.Files) {
		return false
	}
	for schema, v := range f.Accession {
		if !containsFold(sectionString(j.Result, schema, "accession"), v) {
			return false
		}
	}
	for schema, v := range f.Alias {
		if !containsFold(sectionString(j.Submission, schema, "alias"), v) {
			return false
		}
	}
	return true
}

func newestFirst(a, b time.Time, idA, idB uuid.UUID) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA.String() > idB.String()
}

func oldestFirst(a, b time.Time, idA, idB uuid.UUID) bool {
	if !a.Equal(b) {
		return a.Before(b)
	}
	return idA.String() < idB.String()
}

func paginate[T any](items []T, page, limit int) []T {
	limit, offset := normalizePage(page, limit)
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func (m *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.Job
	for _, j := range m.jobs {
		if matchJob(j, filter) {
			matched = append(matched, j)
		}
	}
	sort.Slice(matched, func(i, k int) bool {
		return newestFirst(matched[i].CreatedAt, matched[k].CreatedAt, matched[i].ID, matched[k].ID)
	})
	pageItems := paginate(matched, filter.Page, filter.Limit)
	out := make([]*models.Job, len(pageItems))
	for i, j := range pageItems {
		out[i] = copyJob(j)
	}
	return out, len(matched), nil
}

func (m *MemoryStore) ListJobsByStatus(_ context.Context, status models.Status) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Job{}
	for _, j := range m.jobs {
		if j.Status == status {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return oldestFirst(out[i].CreatedAt, out[k].CreatedAt, out[i].ID, out[k].ID)
	})
	return out, nil
}

func (m *MemoryStore) ListChildren(_ context.Context, parentID uuid.UUID) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.Job{}
	for _, j := range m.jobs {
		if j.Parent != nil && *j.Parent == parentID {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return oldestFirst(out[i].CreatedAt, out[k].CreatedAt, out[i].ID, out[k].ID)
	})
	return out, nil
}

func (m *MemoryStore) ListReleasableJobs(_ context.Context) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	released := map[uuid.UUID]bool{}
	for _, j := range m.jobs {
		if j.Parent != nil && j.Action == models.ActionRelease {
			released[*j.Parent] = true
		}
	}
	out := []*models.Job{}
	for _, j := range m.jobs {
		if j.Status == models.StatusSubmitted && j.Action == models.ActionAdd && !released[j.ID] {
			out = append(out, copyJob(j))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return oldestFirst(out[i].CreatedAt, out[k].CreatedAt, out[i].ID, out[k].ID)
	})
	return out, nil
}

func (m *MemoryStore) UpdateJobStatus(_ context.Context, id uuid.UUID, to models.Status, opts ...JobUpdateOption) error {
	params := applyOptions(opts)
	sources := models.JobTransitionSources(to, params.Force)

	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if !models.ContainsStatus(sources, j.Status) {
		return ErrInvalidTransition
	}

	j.Status = to
	j.UpdatedAt = m.now()
	if resetsOutcome(to) {
		j.Result = nil
		j.RawResult = ""
		j.Submission = nil
		j.RawSubmission = ""
	}
	if params.HasResult {
		j.Result = merge.Copy(params.Result)
	}
	if params.RawResult != nil {
		j.RawResult = *params.RawResult
	}
	if params.HasSubmission {
		j.Submission = merge.Copy(params.Submission)
	}
	if params.RawSubmission != nil {
		j.RawSubmission = *params.RawSubmission
	}
	return nil
}

// --- Files ---

func (m *MemoryStore) UpsertFile(_ context.Context, file *models.File) (*models.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, f := range m.files {
		if f.FileName == file.FileName {
			f.JobID = file.JobID
			f.FileType = file.FileType
			f.MD5Sum = file.MD5Sum
			cp := *f
			return &cp, nil
		}
	}
	cp := *file
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.files[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MemoryStore) GetFile(_ context.Context, id uuid.UUID) (*models.File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) ListFiles(_ context.Context, filter FileFilter) ([]*models.File, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.File
	for _, f := range m.files {
		if filter.JobID != nil && f.JobID != *filter.JobID {
			continue
		}
		cp := *f
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, k int) bool {
		return newestFirst(matched[i].CreatedAt, matched[k].CreatedAt, matched[i].ID, matched[k].ID)
	})
	return paginate(matched, filter.Page, filter.Limit), len(matched), nil
}

// --- Analysis Jobs ---

func copyAnalysisJob(a *models.AnalysisJob) *models.AnalysisJob {
	cp := *a
	cp.Data = merge.Copy(a.Data)
	cp.Result = merge.Copy(a.Result)
	return &cp
}

func (m *MemoryStore) CreateAnalysisJob(_ context.Context, job *models.AnalysisJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analysisJobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	if _, ok := m.jobs[job.JobID]; !ok {
		return ErrNotFound
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = m.now()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	m.analysisJobs[job.ID] = copyAnalysisJob(job)
	return nil
}

func (m *MemoryStore) GetAnalysisJob(_ context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.analysisJobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAnalysisJob(a), nil
}

func (m *MemoryStore) ListAnalysisJobs(_ context.Context, filter AnalysisJobFilter) ([]*models.AnalysisJob, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matched []*models.AnalysisJob
	for _, a := range m.analysisJobs {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.JobID != nil && a.JobID != *filter.JobID {
			continue
		}
		matched = append(matched, copyAnalysisJob(a))
	}
	sort.Slice(matched, func(i, k int) bool {
		return newestFirst(matched[i].CreatedAt, matched[k].CreatedAt, matched[i].ID, matched[k].ID)
	})
	return paginate(matched, filter.Page, filter.Limit), len(matched), nil
}

func (m *MemoryStore) ListAnalysisJobsByStatus(_ context.Context, status models.Status) ([]*models.AnalysisJob, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.AnalysisJob{}
	for _, a := range m.analysisJobs {
		if a.Status == status {
			out = append(out, copyAnalysisJob(a))
		}
	}
	sort.Slice(out, func(i, k int) bool {
		return oldestFirst(out[i].CreatedAt, out[k].CreatedAt, out[i].ID, out[k].ID)
	})
	return out, nil
}

func (m *MemoryStore) UpdateAnalysisJobStatus(_ context.Context, id uuid.UUID, to models.Status, opts ...JobUpdateOption) error {
	params := applyOptions(opts)
	sources := models.AnalysisTransitionSources(to, params.Force)

	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analysisJobs[id]
	if !ok {
		return ErrNotFound
	}
	if !models.ContainsStatus(sources, a.Status) {
		return ErrInvalidTransition
	}

	a.Status = to
	a.UpdatedAt = m.now()
	if resetsOutcome(to) {
		a.Result = nil
		a.RawResult = ""
	}
	if params.HasResult {
		a.Result = merge.Copy(params.Result)
	}
	if params.RawResult != nil {
		a.RawResult = *params.RawResult
	}
	return nil
}

func (m *MemoryStore) DeleteAnalysisJob(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analysisJobs[id]
	if !ok {
		return ErrNotFound
	}
	if a.Status != models.StatusQueued {
		return ErrDeleteNotAllowed
	}
	delete(m.analysisJobs, id)
	for fid, f := range m.analysisFiles {
		if f.AnalysisJobID == id {
			delete(m.analysisFiles, fid)
		}
	}
	return nil
}

// --- Analysis Files ---

func (m *MemoryStore) CreateAnalysisFile(_ context.Context, file *models.AnalysisFile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analysisJobs[file.AnalysisJobID]; !ok {
		return ErrNotFound
	}
	for _, f := range m.analysisFiles {
		if f.ID == file.ID || (f.AnalysisJobID == file.AnalysisJobID && f.FileName == file.FileName) {
			return ErrDuplicateKey
		}
	}
	if file.CreatedAt.IsZero() {
		file.CreatedAt = m.now()
	}
	cp := *file
	m.analysisFiles[file.ID] = &cp
	return nil
}

func (m *MemoryStore) GetAnalysisFile(_ context.Context, id uuid.UUID) (*models.AnalysisFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.analysisFiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryStore) ListAnalysisFiles(_ context.Context, analysisJobID uuid.UUID) ([]*models.AnalysisFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*models.AnalysisFile{}
	for _, f := range m.analysisFiles {
		if analysisJobID != uuid.Nil && f.AnalysisJobID != analysisJobID {
			continue
		}
		cp := *f
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, k int) bool {
		return oldestFirst(out[i].CreatedAt, out[k].CreatedAt, out[i].ID, out[k].ID)
	})
	return out, nil
}

func (m *MemoryStore) DeleteAnalysisFile(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analysisFiles[id]; !ok {
		return ErrNotFound
	}
	delete(m.analysisFiles, id)
	return nil
}
