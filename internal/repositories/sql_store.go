package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"gifmill/internal/models"
	"gifmill/internal/pkg/errors"
)

// SQLStore is the database/sql metrics store used with SQLite for
// development and single-node installs.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

// NewSQLStore wraps an already migrated handle.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) RecordJob(ctx context.Context, m *models.JobMetric) error {
	m.TruncateOptions()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO job_metrics (tool, task_id, status, error_message, input_type, input_width,
			input_height, input_frames, input_size_bytes, output_size_bytes, processing_time_ms, options, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.Tool, nullable(m.TaskID), m.Status, nullable(m.ErrorMessage), nullable(m.InputType),
		m.InputWidth, m.InputHeight, m.InputFrames, m.InputSizeBytes, m.OutputSizeBytes,
		m.ProcessingMS, nullable(m.Options), m.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "repositories.RecordJob", "insert job metric")
	}
	if id, err := res.LastInsertId(); err == nil {
		m.ID = id
	}
	return nil
}

func (s *SQLStore) InsertAPILog(ctx context.Context, l *models.APILog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO api_log (ip, country, user_agent, path, method, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		l.IP, nullable(l.Country), nullable(l.UserAgent), l.Path, l.Method, l.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return errors.Wrap(err, "repositories.InsertAPILog", "insert api log")
	}
	if id, err := res.LastInsertId(); err == nil {
		l.ID = id
	}
	return nil
}

func (s *SQLStore) Summary(ctx context.Context, since time.Time) ([]ToolSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool, status, COUNT(*), COALESCE(AVG(processing_time_ms), 0)
		 FROM job_metrics
		 WHERE created_at >= ?
		 GROUP BY tool, status
		 ORDER BY tool, status`,
		since.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, errors.Wrap(err, "repositories.Summary", "query job metrics")
	}
	defer rows.Close()

	var out []ToolSummary
	for rows.Next() {
		var t ToolSummary
		if err := rows.Scan(&t.Tool, &t.Status, &t.Count, &t.AvgProcessingMS); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
