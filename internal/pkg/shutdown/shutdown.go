// Package shutdown coordinates long-running services and their cleanup in
// the api and worker processes.
package shutdown

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gifmill/internal/pkg/logger"
)

// Manager owns a root context, the services started under it and the cleanup
// hooks run when it ends.
type Manager struct {
	log     *logger.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	handlers []Handler
	firstErr error

	services sync.WaitGroup
	once     sync.Once
	done     chan struct{}
}

// Handler is a cleanup step run during shutdown.
type Handler struct {
	Name    string
	Cleanup func(ctx context.Context) error
}

// NewManager creates a manager. timeout bounds cleanup plus service drain.
func NewManager(log *logger.Logger, timeout time.Duration) *Manager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		log:     log,
		timeout: timeout,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Context is canceled as soon as shutdown starts.
func (m *Manager) Context() context.Context { return m.ctx }

// Register adds a cleanup hook. Hooks run in reverse registration order.
func (m *Manager) Register(name string, cleanup func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, Handler{Name: name, Cleanup: cleanup})
	m.log.Debug("registered shutdown handler", "name", name)
}

// RegisterSimple adds a hook without context or error.
func (m *Manager) RegisterSimple(name string, cleanup func()) {
	m.Register(name, func(context.Context) error {
		cleanup()
		return nil
	})
}

// Go runs a service until the manager context ends. A service returning a
// real error triggers shutdown of everything else.
func (m *Manager) Go(name string, run func(ctx context.Context) error) {
	m.services.Add(1)
	go func() {
		defer m.services.Done()
		err := run(m.ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			m.log.Debug("service stopped", "name", name)
			return
		}
		m.log.Error("service failed", "name", name, "error", err.Error())
		m.mu.Lock()
		if m.firstErr == nil {
			m.firstErr = err
		}
		m.mu.Unlock()
		m.cancel()
	}()
}

// Wait blocks until SIGINT/SIGTERM or a failed service, then shuts down.
// It returns the first service error, if any.
func (m *Manager) Wait() error {
	sigCtx, stop := signal.NotifyContext(m.ctx, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	<-sigCtx.Done()
	if m.ctx.Err() == nil {
		m.log.Info("shutdown signal received")
	}
	m.Shutdown()

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.firstErr
}

// Shutdown cancels services, runs hooks and waits for services to drain.
// Safe to call more than once.
func (m *Manager) Shutdown() {
	m.once.Do(func() {
		m.cancel()

		m.mu.Lock()
		handlers := make([]Handler, len(m.handlers))
		copy(handlers, m.handlers)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		m.log.Info("starting graceful shutdown", "handlers", len(handlers), "timeout", m.timeout.String())

		for i := len(handlers) - 1; i >= 0; i-- {
			h := handlers[i]
			start := time.Now()
			if err := h.Cleanup(ctx); err != nil {
				m.log.Error("shutdown handler failed",
					"name", h.Name,
					"error", err.Error(),
					"duration_ms", time.Since(start).Milliseconds(),
				)
				continue
			}
			m.log.Debug("shutdown handler completed", "name", h.Name, "duration_ms", time.Since(start).Milliseconds())
		}

		drained := make(chan struct{})
		go func() {
			m.services.Wait()
			close(drained)
		}()
		select {
		case <-drained:
			m.log.Info("graceful shutdown completed")
		case <-ctx.Done():
			m.log.Warn("shutdown timeout exceeded, abandoning running services")
		}
		close(m.done)
	})
}

// Done is closed when Shutdown has finished.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}
