package worker

import (
	"time"

	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/observability"
	"gifmill/internal/pkg/logger"
	"gifmill/internal/ports"
	"gifmill/internal/worker/processor"
)

type Deps struct {
	Broker       *jobs.Broker
	Orchestrator *jobs.Orchestrator
	Executor     *media.Executor
	Fetcher      processor.Fetcher
	SP           ports.StorageProvider
	Metrics      *observability.Metrics
	Log          *logger.Logger

	// Concurrency is the number of consumer goroutines, each holding at
	// most one message.
	Concurrency   int
	TimeLimit     time.Duration
	SoftTimeLimit time.Duration
	// PopTimeout bounds each BRPOP so shutdown is noticed.
	PopTimeout time.Duration
}
