package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gifmill/internal/httpkit"
	"gifmill/internal/models"
	"gifmill/internal/pkg/errors"
)

// ToolSummary aggregates job_metrics rows per tool and status.
type ToolSummary struct {
	Tool            string  `json:"tool"`
	Status          string  `json:"status"`
	Count           int64   `json:"count"`
	AvgProcessingMS float64 `json:"avg_processing_time_ms"`
}

// MetricsRepository writes job_metrics and api_log rows to Postgres.
type MetricsRepository struct {
	db *pgxpool.Pool
}

func NewMetricsRepository(db *pgxpool.Pool) *MetricsRepository {
	return &MetricsRepository{db: db}
}

func (r *MetricsRepository) RecordJob(ctx context.Context, m *models.JobMetric) error {
	m.TruncateOptions()
	err := r.db.QueryRow(ctx, `
		INSERT INTO job_metrics (tool, task_id, status, error_message, input_type, input_width,
			input_height, input_frames, input_size_bytes, output_size_bytes, processing_time_ms, options)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING id, created_at
	`, m.Tool, nullable(m.TaskID), m.Status, nullable(m.ErrorMessage), nullable(m.InputType),
		m.InputWidth, m.InputHeight, m.InputFrames, m.InputSizeBytes, m.OutputSizeBytes,
		m.ProcessingMS, nullable(m.Options)).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		if httpkit.IsUndefinedTable(err) {
			return errors.Wrap(err, "repositories.RecordJob", "job_metrics missing; run gifctl migrate")
		}
		return errors.Wrap(err, "repositories.RecordJob", "insert job metric")
	}
	return nil
}

func (r *MetricsRepository) InsertAPILog(ctx context.Context, l *models.APILog) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO api_log (ip, country, user_agent, path, method)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id, created_at
	`, l.IP, nullable(l.Country), nullable(l.UserAgent), l.Path, l.Method).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "repositories.InsertAPILog", "insert api log")
	}
	return nil
}

func (r *MetricsRepository) Summary(ctx context.Context, since time.Time) ([]ToolSummary, error) {
	rows, err := r.db.Query(ctx, `
		SELECT tool, status, COUNT(*), COALESCE(AVG(processing_time_ms), 0)
		FROM job_metrics
		WHERE created_at >= $1
		GROUP BY tool, status
		ORDER BY tool, status
	`, since)
	if err != nil {
		return nil, errors.Wrap(err, "repositories.Summary", "query job metrics")
	}
	defer rows.Close()

	var out []ToolSummary
	for rows.Next() {
		var s ToolSummary
		if err := rows.Scan(&s.Tool, &s.Status, &s.Count, &s.AvgProcessingMS); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *MetricsRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

// Stat exposes pool statistics for the deep health check.
func (r *MetricsRepository) Stat() *pgxpool.Stat {
	return r.db.Stat()
}

func (r *MetricsRepository) Close() error {
	r.db.Close()
	return nil
}

// nullable maps "" to NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
