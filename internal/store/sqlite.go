package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/enaupload/pkg/models"
	_ "modernc.org/sqlite" // pure go sqlite driver
)

// SQLiteStore is a single-node Store: state lives in an embedded MemoryStore
// and is snapshotted into SQLite after every successful write, then reloaded
// on open.
type SQLiteStore struct {
	*MemoryStore
	db   *sql.DB
	mu   sync.Mutex
	path string
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) the database at path and loads its state.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		path = "enaupload.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create state table: %w", err)
	}
	s := &SQLiteStore{MemoryStore: NewMemoryStore(), db: db, path: path}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot Snapshot
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		target := snapshotBucket(&snapshot, bucket)
		if target == nil {
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("read state: %w", err)
	}
	if found {
		s.ImportState(snapshot)
	}
	return nil
}

var sqliteBuckets = []string{"users", "api_keys", "jobs", "files", "analysis_jobs", "analysis_files"}

func snapshotBucket(snap *Snapshot, bucket string) any {
	switch bucket {
	case "users":
		return &snap.Users
	case "api_keys":
		return &snap.APIKeys
	case "jobs":
		return &snap.Jobs
	case "files":
		return &snap.Files
	case "analysis_jobs":
		return &snap.AnalysisJobs
	case "analysis_files":
		return &snap.AnalysisFiles
	default:
		return nil
	}
}

func (s *SQLiteStore) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.ExportState()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range sqliteBuckets {
		data, err := json.Marshal(snapshotBucket(&snapshot, bucket))
		if err != nil {
			return fmt.Errorf("encode %s: %w", bucket, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state (bucket, payload) VALUES (?, ?)
			 ON CONFLICT(bucket) DO UPDATE SET payload = excluded.payload`, bucket, data); err != nil {
			return fmt.Errorf("write %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteStore) after(ctx context.Context, err error) error {
	if err != nil {
		return err
	}
	return s.persist(ctx)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	return s.after(ctx, s.MemoryStore.CreateUser(ctx, user))
}

func (s *SQLiteStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	return s.after(ctx, s.MemoryStore.UpdateAPIKeyLastUsed(ctx, id))
}

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	return s.after(ctx, s.MemoryStore.CreateAPIKey(ctx, key))
}

func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	return s.after(ctx, s.MemoryStore.RevokeAPIKey(ctx, id))
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *models.Job) error {
	return s.after(ctx, s.MemoryStore.CreateJob(ctx, job))
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...JobUpdateOption) error {
	return s.after(ctx, s.MemoryStore.UpdateJobStatus(ctx, id, to, opts...))
}

func (s *SQLiteStore) UpsertFile(ctx context.Context, file *models.File) (*models.File, error) {
	f, err := s.MemoryStore.UpsertFile(ctx, file)
	if err := s.after(ctx, err); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *SQLiteStore) CreateAnalysisJob(ctx context.Context, job *models.AnalysisJob) error {
	return s.after(ctx, s.MemoryStore.CreateAnalysisJob(ctx, job))
}

func (s *SQLiteStore) UpdateAnalysisJobStatus(ctx context.Context, id uuid.UUID, to models.Status, opts ...JobUpdateOption) error {
	return s.after(ctx, s.MemoryStore.UpdateAnalysisJobStatus(ctx, id, to, opts...))
}

func (s *SQLiteStore) DeleteAnalysisJob(ctx context.Context, id uuid.UUID) error {
	return s.after(ctx, s.MemoryStore.DeleteAnalysisJob(ctx, id))
}

func (s *SQLiteStore) CreateAnalysisFile(ctx context.Context, file *models.AnalysisFile) error {
	return s.after(ctx, s.MemoryStore.CreateAnalysisFile(ctx, file))
}

func (s *SQLiteStore) DeleteAnalysisFile(ctx context.Context, id uuid.UUID) error {
	return s.after(ctx, s.MemoryStore.DeleteAnalysisFile(ctx, id))
}
