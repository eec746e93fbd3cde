package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/casualjim/delver/research"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var _ Store = (*sqliteStore)(nil)

type sqliteStore struct {
	db *sql.DB
	// modernc sqlite allows a single writer, serialize writes in-process
	// instead of bouncing on SQLITE_BUSY.
	mu sync.Mutex
}

// Sqlite opens (or creates) the database at the given path. Use ":memory:"
// for an ephemeral store.
func Sqlite(path string) (Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps :memory: databases alive and sidesteps
	// writer contention on file databases.
	db.SetMaxOpenConns(1)

	s := &sqliteStore{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);

	CREATE TABLE IF NOT EXISTS tasks (
		job_id TEXT NOT NULL,
		id TEXT NOT NULL,
		status TEXT NOT NULL,
		data TEXT NOT NULL,
		PRIMARY KEY (job_id, id),
		FOREIGN KEY (job_id) REFERENCES jobs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_job ON tasks(job_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) CreateJob(ctx context.Context, job *research.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO jobs (id, status, created_at, data) VALUES (?, ?, ?, ?)",
		job.ID.String(), string(job.Status), job.CreatedAt.String(), string(data),
	)
	return err
}

func (s *sqliteStore) GetJob(ctx context.Context, id uuid.UUID) (*research.Job, error) {
	var data string
	err := s.db.QueryRowContext(ctx, "SELECT data FROM jobs WHERE id = ?", id.String()).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{What: "job", ID: id.String()}
	}
	if err != nil {
		return nil, err
	}

	var job research.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &job, nil
}

func (s *sqliteStore) ListJobs(ctx context.Context) ([]*research.Job, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT data FROM jobs ORDER BY created_at DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*research.Job
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var job research.Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			return nil, fmt.Errorf("decode job: %w", err)
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (s *sqliteStore) SaveJob(ctx context.Context, job *research.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE jobs SET status = ?, data = ? WHERE id = ?",
		string(job.Status), string(data), job.ID.String(),
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{What: "job", ID: job.ID.String()}
	}
	return nil
}

func (s *sqliteStore) InsertTasks(ctx context.Context, tasks []research.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, task := range tasks {
		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("encode task %s: %w", task.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tasks (job_id, id, status, data) VALUES (?, ?, ?, ?)",
			task.JobID.String(), task.ID, string(task.Status), string(data),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) GetTask(ctx context.Context, jobID uuid.UUID, taskID string) (*research.Task, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		"SELECT data FROM tasks WHERE job_id = ? AND id = ?",
		jobID.String(), taskID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{What: "task", ID: taskID}
	}
	if err != nil {
		return nil, err
	}

	var task research.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", taskID, err)
	}
	return &task, nil
}

func (s *sqliteStore) TasksForJob(ctx context.Context, jobID uuid.UUID) ([]research.Task, error) {
	// rowid preserves insert order, which is plan order.
	rows, err := s.db.QueryContext(ctx,
		"SELECT data FROM tasks WHERE job_id = ? ORDER BY rowid",
		jobID.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []research.Task
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var task research.Task
		if err := json.Unmarshal([]byte(data), &task); err != nil {
			return nil, fmt.Errorf("decode task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *sqliteStore) SaveTask(ctx context.Context, task *research.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		"UPDATE tasks SET status = ?, data = ? WHERE job_id = ? AND id = ?",
		string(task.Status), string(data), task.JobID.String(), task.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &NotFoundError{What: "task", ID: task.ID}
	}
	return nil
}
