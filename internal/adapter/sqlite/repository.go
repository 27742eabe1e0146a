package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/cwygoda/haul/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id         TEXT PRIMARY KEY,
    state      TEXT NOT NULL,
    data       TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
CREATE TABLE IF NOT EXISTS queue (
    seq        INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id     TEXT NOT NULL,
    pushed_at  DATETIME NOT NULL
);
`

// DefaultPollInterval is how often Pop re-checks an empty queue.
const DefaultPollInterval = 500 * time.Millisecond

// Repository implements domain.JobStore and domain.Queue on one SQLite file.
// The queue is strict FIFO by insertion sequence.
type Repository struct {
	db           *sql.DB
	pollInterval time.Duration
	log          *zap.Logger
}

// New creates a new SQLite repository, initializing the schema if needed.
func New(dbPath string, log *zap.Logger) (*Repository, error) {
	if log == nil {
		log = zap.NewNop()
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}

	return &Repository{db: db, pollInterval: DefaultPollInterval, log: log}, nil
}

// SetPollInterval changes how often Pop polls an empty queue.
func (r *Repository) SetPollInterval(d time.Duration) {
	if d > 0 {
		r.pollInterval = d
	}
}

// Close closes the database connection.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Put upserts the full job record in a single statement.
func (r *Repository) Put(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, state, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET state = excluded.state, data = excluded.data, updated_at = excluded.updated_at`,
		job.ID, string(job.State), string(data), job.CreatedAt, time.Now().UTC(),
	)
	return err
}

// Get retrieves a job by ID.
func (r *Repository) Get(ctx context.Context, id string) (*domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// List streams jobs ordered by creation time, newest first. Rows that do
// not decode to a valid job are logged and skipped.
func (r *Repository) List(ctx context.Context) iter.Seq2[*domain.Job, error] {
	return func(yield func(*domain.Job, error) bool) {
		rows, err := r.db.QueryContext(ctx, `SELECT id, data FROM jobs ORDER BY created_at DESC`)
		if err != nil {
			yield(nil, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			var id, data string
			if err := rows.Scan(&id, &data); err != nil {
				yield(nil, err)
				return
			}
			job, err := decodeJob(data)
			if err != nil {
				r.log.Warn("skipping invalid job record", zap.String("job_id", id), zap.Error(err))
				continue
			}
			if !yield(job, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, err)
		}
	}
}

// Push appends a job ID to the queue.
func (r *Repository) Push(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO queue (job_id, pushed_at) VALUES (?, ?)`, id, time.Now().UTC())
	return err
}

// Pop removes and returns the oldest queued ID, polling until timeout.
func (r *Repository) Pop(ctx context.Context, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		var id string
		err := r.db.QueryRowContext(ctx,
			`DELETE FROM queue WHERE seq = (SELECT MIN(seq) FROM queue) RETURNING job_id`,
		).Scan(&id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return "", err
		}

		wait := time.Until(deadline)
		if wait <= 0 {
			return "", domain.ErrQueueEmpty
		}
		if wait > r.pollInterval {
			wait = r.pollInterval
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// QueueLen reports the number of pending IDs.
func (r *Repository) QueueLen(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue`).Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeJob(data)
}

func decodeJob(data string) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", domain.ErrInvalidJob, err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}
