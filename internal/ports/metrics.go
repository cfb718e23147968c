package ports

import (
	"context"

	"gifmill/internal/models"
)

// MetricsRecorder persists one row per executor run.
type MetricsRecorder interface {
	RecordJob(ctx context.Context, m *models.JobMetric) error
}

// RequestLogWriter persists inbound API requests.
type RequestLogWriter interface {
	InsertAPILog(ctx context.Context, l *models.APILog) error
}

// CountryResolver maps a client IP to an ISO country code.
type CountryResolver interface {
	CountryCode(ip string) (string, error)
}

// NopMetrics drops everything. Used when METRICS_DRIVER=none.
type NopMetrics struct{}

func (NopMetrics) RecordJob(context.Context, *models.JobMetric) error { return nil }
func (NopMetrics) InsertAPILog(context.Context, *models.APILog) error { return nil }
