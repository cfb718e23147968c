package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gifmill/internal/config"
	"gifmill/internal/ports"
)

// Store is what the api, worker and gifctl need from the metrics database.
type Store interface {
	ports.MetricsRecorder
	ports.RequestLogWriter
	Summary(ctx context.Context, since time.Time) ([]ToolSummary, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*MetricsRepository)(nil)
	_ Store = (*SQLStore)(nil)
	_ Store = NopStore{}
)

// Open returns the store selected by cfg.MetricsDriver.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.MetricsDriver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		return NewMetricsRepository(pool), nil
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	case "none", "":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown metrics driver: %s", cfg.MetricsDriver)
	}
}

// NopStore discards metrics.
type NopStore struct{ ports.NopMetrics }

func (NopStore) Summary(context.Context, time.Time) ([]ToolSummary, error) { return nil, nil }
func (NopStore) Ping(context.Context) error                                { return nil }
func (NopStore) Close() error                                              { return nil }
