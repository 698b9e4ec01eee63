package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// encodeDoc turns a document into a JSONB parameter; nil stays SQL NULL.
func encodeDoc(doc map[string]any) ([]byte, error) {
	if doc == nil {
		return nil, nil
	}
	return json.Marshal(doc)
}

func decodeDoc(raw []byte) (map[string]any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, username, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Username, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, username, created_at, updated_at FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by username: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()
	keys := []*models.APIKey{}
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, nonNil(key.Scopes), key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if userID == uuid.Nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, owner_id, status, action, template, data, ignore, files, submission,
	raw_submission, result, raw_result, parent_id, created_at, updated_at`

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j                        models.Job
		status, action           string
		data, submission, result []byte
	)
	if err := row.Scan(&j.ID, &j.Owner, &status, &action, &j.Template, &data, &j.Ignore, &j.Files,
		&submission, &j.RawSubmission, &result, &j.RawResult, &j.Parent, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = models.Status(status)
	j.Action = models.Action(action)
	var err error
	if j.Data, err = decodeDoc(data); err != nil {
		return nil, fmt.Errorf("decode job data: %w", err)
	}
	if j.Data == nil {
		j.Data = map[string]any{}
	}
	if j.Submission, err = decodeDoc(submission); err != nil {
		return nil, fmt.Errorf("decode job submission: %w", err)
	}
	if j.Result, err = decodeDoc(result); err != nil {
		return nil, fmt.Errorf("decode job result: %w", err)
	}
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()
	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	data := job.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := encodeDoc(data)
	if err != nil {
		return fmt.Errorf("encode job data: %w", err)
	}
	submissionJSON, err := encodeDoc(job.Submission)
	if err != nil {
		return fmt.Errorf("encode job submission: %w", err)
	}
	resultJSON, err := encodeDoc(job.Result)
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		job.ID, job.Owner, string(job.Status), string(job.Action), job.Template, dataJSON,
		nonNil(job.Ignore), nonNil(job.Files), submissionJSON, job.RawSubmission, resultJSON,
		job.RawResult, job.Parent, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	// Build WHERE clause dynamically
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argIdx))
		args = append(args, string(filter.Action))
		argIdx++
	}
	if filter.Owner != nil {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argIdx))
		args = append(args, *filter.Owner)
		argIdx++
	}
	if filter.Files != "" {
		conditions = append(conditions, fmt.Sprintf("strpos(lower(array_to_string(files, ' ')), lower($%d)) > 0", argIdx))
		args = append(args, filter.Files)
		argIdx++
	}
	for schema, v := range filter.Accession {
		conditions = append(conditions, fmt.Sprintf(
			"strpos(lower(COALESCE(result -> $%d::text ->> 'accession', '')), lower($%d)) > 0", argIdx, argIdx+1))
		args = append(args, schema, v)
		argIdx += 2
	}
	for schema, v := range filter.Alias {
		conditions = append(conditions, fmt.Sprintf(
			"strpos(lower(COALESCE(submission -> $%d::text ->> 'alias', '')), lower($%d)) > 0", argIdx, argIdx+1))
		args = append(args, schema, v)
		argIdx += 2
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	limit, offset := normalizePage(filter.Page, filter.Limit)
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := scanJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *PostgresStore) ListJobsByStatus(ctx context.Context, status models.Status) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = $1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list jobs by status: %w", err)
	}
	return scanJobs(rows)
}

func (s *PostgresStore) ListChildren(ctx context.Context, parentID uuid.UUID) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE parent_id = $1 ORDER BY created_at, id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return scanJobs(rows)
}

func (s *PostgresStore) ListReleasableJobs(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs j
		 WHERE j.status = 'SUBMITTED' AND j.action = 'ADD'
		   AND NOT EXISTS (SELECT 1 FROM jobs c WHERE c.parent_id = j.id AND c.action = 'RELEASE')
		 ORDER BY j.created_at, j.id`)
	if err != nil {
		return nil, fmt.Errorf("list releasable jobs: %w", err)
	}
	return scanJobs(rows)
}

// assignments is an ordered SET list where a later value for a column
// replaces an earlier one.
type assignments struct {
	cols []string
	vals []any
}

func (a *assignments) set(col string, val any) {
	for i, c := range a.cols {
		if c == col {
			a.vals[i] = val
			return
		}
	}
	a.cols = append(a.cols, col)
	a.vals = append(a.vals, val)
}

// conditionalStatusUpdate moves row id of table to status `to` only when its
// current status is one of sources.
func (s *PostgresStore) conditionalStatusUpdate(ctx context.Context, table string, id uuid.UUID,
	to models.Status, sources []models.Status, set *assignments) error {
	if len(sources) == 0 {
		return ErrInvalidTransition
	}
	query := fmt.Sprintf("UPDATE %s SET status = $3, updated_at = $4", table)
	args := []any{id, statusStrings(sources), string(to), time.Now().UTC()}
	argIdx := 5
	for i, col := range set.cols {
		query += fmt.Sprintf(", %s = $%d", col, argIdx)
		args = append(args, set.vals[i])
		argIdx++
	}
	query += " WHERE id = $1 AND status = ANY($2)"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s status: %w", table, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", table), id).Scan(&exists); err != nil {
		return fmt.Errorf("check %s: %w", table, err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...JobUpdateOption) error {
	params := applyOptions(opts)
	set := &assignments{}
	if resetsOutcome(to) {
		set.set("result", nil)
		set.set("raw_result", "")
		set.set("submission", nil)
		set.set("raw_submission", "")
	}
	if params.HasResult {
		raw, err := encodeDoc(params.Result)
		if err != nil {
			return fmt.Errorf("encode job result: %w", err)
		}
		set.set("result", raw)
	}
	if params.RawResult != nil {
		set.set("raw_result", *params.RawResult)
	}
	if params.HasSubmission {
		raw, err := encodeDoc(params.Submission)
		if err != nil {
			return fmt.Errorf("encode job submission: %w", err)
		}
		set.set("submission", raw)
	}
	if params.RawSubmission != nil {
		set.set("raw_submission", *params.RawSubmission)
	}
	return s.conditionalStatusUpdate(ctx, "jobs", id, to, models.JobTransitionSources(to, params.Force), set)
}

// --- Files ---

const fileColumns = `id, job_id, file_name, file_type, md5sum, created_at`

func scanFile(row rowScanner) (*models.File, error) {
	var f models.File
	if err := row.Scan(&f.ID, &f.JobID, &f.FileName, &f.FileType, &f.MD5Sum, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) UpsertFile(ctx context.Context, file *models.File) (*models.File, error) {
	id := file.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	created := file.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	f, err := scanFile(s.pool.QueryRow(ctx,
		`INSERT INTO files (`+fileColumns+`) VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (file_name) DO UPDATE SET
		   job_id = EXCLUDED.job_id,
		   file_type = EXCLUDED.file_type,
		   md5sum = EXCLUDED.md5sum
		 RETURNING `+fileColumns,
		id, file.JobID, file.FileName, file.FileType, file.MD5Sum, created))
	if err != nil {
		if isForeignKeyError(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("upsert file: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) GetFile(ctx context.Context, id uuid.UUID) (*models.File, error) {
	f, err := scanFile(s.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) ListFiles(ctx context.Context, filter FileFilter) ([]*models.File, int, error) {
	where := "TRUE"
	args := []any{}
	argIdx := 1
	if filter.JobID != nil {
		where = "job_id = $1"
		args = append(args, *filter.JobID)
		argIdx++
	}

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM files WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count files: %w", err)
	}

	limit, offset := normalizePage(filter.Page, filter.Limit)
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM files WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		fileColumns, where, argIdx, argIdx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	files := []*models.File{}
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, f)
	}
	return files, total, rows.Err()
}

// --- Analysis Jobs ---

const analysisJobColumns = `id, owner_id, job_id, status, template, data, result, raw_result, created_at, updated_at`

func scanAnalysisJob(row rowScanner) (*models.AnalysisJob, error) {
	var (
		a            models.AnalysisJob
		status       string
		data, result []byte
	)
	if err := row.Scan(&a.ID, &a.Owner, &a.JobID, &status, &a.Template, &data, &result,
		&a.RawResult, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.Status = models.Status(status)
	var err error
	if a.Data, err = decodeDoc(data); err != nil {
		return nil, fmt.Errorf("decode analysis data: %w", err)
	}
	if a.Data == nil {
		a.Data = map[string]any{}
	}
	if a.Result, err = decodeDoc(result); err != nil {
		return nil, fmt.Errorf("decode analysis result: %w", err)
	}
	return &a, nil
}

func scanAnalysisJobs(rows pgx.Rows) ([]*models.AnalysisJob, error) {
	defer rows.Close()
	out := []*models.AnalysisJob{}
	for rows.Next() {
		a, err := scanAnalysisJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis job: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateAnalysisJob(ctx context.Context, job *models.AnalysisJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	data := job.Data
	if data == nil {
		data = map[string]any{}
	}
	dataJSON, err := encodeDoc(data)
	if err != nil {
		return fmt.Errorf("encode analysis data: %w", err)
	}
	resultJSON, err := encodeDoc(job.Result)
	if err != nil {
		return fmt.Errorf("encode analysis result: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_jobs (`+analysisJobColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Owner, job.JobID, string(job.Status), job.Template, dataJSON, resultJSON,
		job.RawResult, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("create analysis job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysisJob(ctx context.Context, id uuid.UUID) (*models.AnalysisJob, error) {
	a, err := scanAnalysisJob(s.pool.QueryRow(ctx,
		`SELECT `+analysisJobColumns+` FROM analysis_jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis job: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAnalysisJobs(ctx context.Context, filter AnalysisJobFilter) ([]*models.AnalysisJob, int, error) {
	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.JobID != nil {
		conditions = append(conditions, fmt.Sprintf("job_id = $%d", argIdx))
		args = append(args, *filter.JobID)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM analysis_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count analysis jobs: %w", err)
	}

	limit, offset := normalizePage(filter.Page, filter.Limit)
	args = append(args, limit, offset)
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s FROM analysis_jobs WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		analysisJobColumns, where, argIdx, argIdx+1), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list analysis jobs: %w", err)
	}
	out, err := scanAnalysisJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (s *PostgresStore) ListAnalysisJobsByStatus(ctx context.Context, status models.Status) ([]*models.AnalysisJob, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+analysisJobColumns+` FROM analysis_jobs WHERE status = $1 ORDER BY created_at, id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list analysis jobs by status: %w", err)
	}
	return scanAnalysisJobs(rows)
}

func (s *PostgresStore) UpdateAnalysisJobStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...JobUpdateOption) error {
	params := applyOptions(opts)
	set := &assignments{}
	if resetsOutcome(to) {
		set.set("result", nil)
		set.set("raw_result", "")
	}
	if params.HasResult {
		raw, err := encodeDoc(params.Result)
		if err != nil {
			return fmt.Errorf("encode analysis result: %w", err)
		}
		set.set("result", raw)
	}
	if params.RawResult != nil {
		set.set("raw_result", *params.RawResult)
	}
	return s.conditionalStatusUpdate(ctx, "analysis_jobs", id, to, models.AnalysisTransitionSources(to, params.Force), set)
}

func (s *PostgresStore) DeleteAnalysisJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analysis_jobs WHERE id = $1 AND status = 'QUEUED'`, id)
	if err != nil {
		return fmt.Errorf("delete analysis job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := s.GetAnalysisJob(ctx, id); err != nil {
		return err
	}
	return ErrDeleteNotAllowed
}

// --- Analysis Files ---

const analysisFileColumns = `id, analysis_job_id, file_name, file_type, md5sum, created_at`

func scanAnalysisFile(row rowScanner) (*models.AnalysisFile, error) {
	var f models.AnalysisFile
	if err := row.Scan(&f.ID, &f.AnalysisJobID, &f.FileName, &f.FileType, &f.MD5Sum, &f.CreatedAt); err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *PostgresStore) CreateAnalysisFile(ctx context.Context, file *models.AnalysisFile) error {
	if file.CreatedAt.IsZero() {
		file.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO analysis_files (`+analysisFileColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		file.ID, file.AnalysisJobID, file.FileName, file.FileType, file.MD5Sum, file.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		return fmt.Errorf("create analysis file: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAnalysisFile(ctx context.Context, id uuid.UUID) (*models.AnalysisFile, error) {
	f, err := scanAnalysisFile(s.pool.QueryRow(ctx,
		`SELECT `+analysisFileColumns+` FROM analysis_files WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get analysis file: %w", err)
	}
	return f, nil
}

func (s *PostgresStore) ListAnalysisFiles(ctx context.Context, analysisJobID uuid.UUID) ([]*models.AnalysisFile, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if analysisJobID == uuid.Nil {
		rows, err = s.pool.Query(ctx,
			`SELECT `+analysisFileColumns+` FROM analysis_files ORDER BY created_at, id`)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+analysisFileColumns+` FROM analysis_files WHERE analysis_job_id = $1 ORDER BY created_at, id`,
			analysisJobID)
	}
	if err != nil {
		return nil, fmt.Errorf("list analysis files: %w", err)
	}
	defer rows.Close()

	files := []*models.AnalysisFile{}
	for rows.Next() {
		f, err := scanAnalysisFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis file: %w", err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}

func (s *PostgresStore) DeleteAnalysisFile(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM analysis_files WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete analysis file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}
