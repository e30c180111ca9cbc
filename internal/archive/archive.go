// Package archive keeps a write-behind SQLite record of terminal jobs.
//
// It exists for auditability: the in-memory store trims history to the
// retention window, while operators still want to answer "what did job X
// do last week". The scheduler never reads the archive back; a process
// restart always starts with an empty queue and store.
package archive

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"recq/internal/eventbus"
	"recq/internal/jobs"
	rtsup "recq/internal/runtime/supervisor"
	"recq/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// ErrDisabled is returned by queries when no archive is open.
var ErrDisabled = errors.New("archive disabled")

type Config struct {
	Path        string
	BusyTimeout time.Duration
}

// Record is one archived terminal job.
type Record struct {
	JobID               string            `json:"jobId"`
	Status              string            `json:"status"`
	Folder              string            `json:"folder"`
	RecordingsTotal     int               `json:"recordingsTotal"`
	RecordingsCompleted int               `json:"recordingsCompleted"`
	RecordingsFailed    int               `json:"recordingsFailed"`
	CreatedAt           time.Time         `json:"createdAt"`
	StartedAt           *time.Time        `json:"startedAt,omitempty"`
	CompletedAt         *time.Time        `json:"completedAt,omitempty"`
	Error               string            `json:"error,omitempty"`
	Results             []jobs.TaskResult `json:"results"`
	Metadata            map[string]any    `json:"metadata,omitempty"`
}

// Service owns the archive database and the bus-fed writer goroutine.
type Service struct {
	db  *sql.DB
	log logx.Logger
	sup *rtsup.Supervisor
}

// Open creates/migrates the archive database.
func Open(cfg Config, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("archive path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Service{db: db, log: log.With(logx.String("comp", "archive"))}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

// Start subscribes to job lifecycle events and archives every terminal one.
// Inserts are best-effort: a failed write logs and moves on.
func (s *Service) Start(ctx context.Context, bus eventbus.Bus) {
	if bus == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.sup = rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)

	events, unsub := bus.Subscribe(64)
	s.sup.GoRestart("writer", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return c.Err()
			case e, ok := <-events:
				if !ok {
					return nil
				}
				if e.Type != jobs.EventCompleted && e.Type != jobs.EventFailed {
					continue
				}
				je, ok := e.Data.(jobs.Event)
				if !ok {
					continue
				}
				if err := s.Append(c, je.Job); err != nil {
					s.log.Warn("archive append failed",
						logx.String("job", je.Job.ID), logx.Err(err))
				}
			}
		}
	})
}

// Stop waits for the writer to finish pending inserts.
func (s *Service) Stop(ctx context.Context) {
	if s.sup == nil {
		return
	}
	s.sup.Cancel()
	_ = s.sup.Wait(ctx)
}

// Append records one terminal job. Re-archiving the same id overwrites it,
// so replayed events stay harmless.
func (s *Service) Append(ctx context.Context, job jobs.Job) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}

	results, err := json.Marshal(job.Results)
	if err != nil {
		results = []byte("[]")
	}
	if job.Results == nil {
		results = []byte("[]")
	}
	metadata := []byte("{}")
	if job.Metadata != nil {
		if b, err := json.Marshal(job.Metadata); err == nil {
			metadata = b
		}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(job_id, status, folder, recordings_total, recordings_completed, recordings_failed,
		                  created_at, started_at, completed_at, error, results, metadata)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(job_id) DO UPDATE SET
		   status=excluded.status, recordings_completed=excluded.recordings_completed,
		   recordings_failed=excluded.recordings_failed, completed_at=excluded.completed_at,
		   error=excluded.error, results=excluded.results`,
		job.ID, string(job.Status), job.Folder,
		job.RecordingsTotal, job.RecordingsCompleted, job.RecordingsFailed,
		job.CreatedAt.Format(time.RFC3339Nano), nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.Error, string(results), string(metadata),
	)
	return err
}

// Recent returns the limit most recently completed archived jobs.
func (s *Service) Recent(ctx context.Context, limit int) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, status, folder, recordings_total, recordings_completed, recordings_failed,
		        created_at, started_at, completed_at, error, results, metadata
		 FROM jobs ORDER BY completed_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, limit)
	for rows.Next() {
		var (
			rec                  Record
			createdAt            string
			startedAt, completed sql.NullString
			results, metadata    string
		)
		if err := rows.Scan(&rec.JobID, &rec.Status, &rec.Folder,
			&rec.RecordingsTotal, &rec.RecordingsCompleted, &rec.RecordingsFailed,
			&createdAt, &startedAt, &completed, &rec.Error, &results, &metadata); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		rec.StartedAt = parseNullTime(startedAt)
		rec.CompletedAt = parseNullTime(completed)
		if err := json.Unmarshal([]byte(results), &rec.Results); err != nil {
			rec.Results = []jobs.TaskResult{}
		}
		_ = json.Unmarshal([]byte(metadata), &rec.Metadata)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Vacuum reclaims space after deletes. Called from the maintenance sweep.
func (s *Service) Vacuum(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

func (s *Service) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339Nano)
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}
