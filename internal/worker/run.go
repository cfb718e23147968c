package worker

import (
	"context"
	"sync"
	"time"

	"gifmill/internal/jobs"
	"gifmill/internal/pkg/logger"
	"gifmill/internal/worker/processor"
)

// Run consumes the queue with d.Concurrency goroutines until ctx is done.
// In-flight tasks finish before Run returns.
func Run(ctx context.Context, d Deps) error {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("worker")

	p := processor.New(processor.Deps{
		Orchestrator:  d.Orchestrator,
		Executor:      d.Executor,
		Fetcher:       d.Fetcher,
		SP:            d.SP,
		Metrics:       d.Metrics,
		TimeLimit:     d.TimeLimit,
		SoftTimeLimit: d.SoftTimeLimit,
		Log:           log,
	})

	n := d.Concurrency
	if n <= 0 {
		n = 2
	}
	popTimeout := d.PopTimeout
	if popTimeout <= 0 {
		popTimeout = 5 * time.Second
	}

	log.Info("worker started", "concurrency", n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			consume(ctx, d.Broker, p, popTimeout, log.WithFields(map[string]any{"slot": slot}))
		}(i)
	}
	wg.Wait()
	log.Info("worker stopped")
	return ctx.Err()
}

func consume(ctx context.Context, b *jobs.Broker, p *processor.Processor, popTimeout time.Duration, log *logger.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msg, err := b.Pop(ctx, popTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("queue pop error, retrying", "error", err.Error())
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if msg == nil {
			continue
		}

		taskLog := log.WithTaskID(msg.ID)
		taskLog.Info("processing task", "kind", string(msg.Kind), "queued_ms", time.Since(msg.EnqueuedAt).Milliseconds())
		start := time.Now()

		// A started task runs to completion even when shutdown begins.
		if err := p.Process(context.WithoutCancel(ctx), *msg); err != nil {
			taskLog.Error("task failed", "error", err.Error(), "duration_ms", time.Since(start).Milliseconds())
			continue
		}
		taskLog.Info("task completed", "duration_ms", time.Since(start).Milliseconds())
	}
}
