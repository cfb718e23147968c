// Package observability exposes task and request metrics through
// OpenTelemetry with a Prometheus exporter.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "gifmill"

// InitMetrics installs a global MeterProvider backed by a Prometheus
// registry. It returns the /metrics handler and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), provider.Shutdown, nil
}

// Metrics holds the instruments shared by the API and the worker.
type Metrics struct {
	tasks        metric.Int64Counter
	taskDuration metric.Float64Histogram
	inFlight     metric.Int64UpDownCounter
	submissions  metric.Int64Counter
	requests     metric.Int64Counter
}

// NewMetrics creates the instruments on the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(meterName))
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	m, _ := newMetrics(noop.NewMeterProvider().Meter(meterName))
	return m
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.tasks, err = meter.Int64Counter("gifmill.tasks",
		metric.WithDescription("Tasks finished by the worker, by kind and outcome")); err != nil {
		return nil, err
	}
	if m.taskDuration, err = meter.Float64Histogram("gifmill.task.duration",
		metric.WithDescription("Task wall time"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600)); err != nil {
		return nil, err
	}
	if m.inFlight, err = meter.Int64UpDownCounter("gifmill.tasks.in_flight",
		metric.WithDescription("Tasks currently running")); err != nil {
		return nil, err
	}
	if m.submissions, err = meter.Int64Counter("gifmill.submissions",
		metric.WithDescription("Task submissions by the API, by kind and result")); err != nil {
		return nil, err
	}
	if m.requests, err = meter.Int64Counter("gifmill.http.requests",
		metric.WithDescription("HTTP requests by route, method and status")); err != nil {
		return nil, err
	}
	return &m, nil
}

// TaskStarted counts a task as in flight. Call the returned func with the
// outcome when it ends.
func (m *Metrics) TaskStarted(ctx context.Context, kind string) func(outcome string) {
	start := time.Now()
	kindAttr := attribute.String("kind", kind)
	m.inFlight.Add(ctx, 1, metric.WithAttributes(kindAttr))
	return func(outcome string) {
		attrs := metric.WithAttributes(kindAttr, attribute.String("outcome", outcome))
		m.inFlight.Add(ctx, -1, metric.WithAttributes(kindAttr))
		m.tasks.Add(ctx, 1, attrs)
		m.taskDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

// Submitted counts one API submission; err decides the result label.
func (m *Metrics) Submitted(ctx context.Context, kind string, err error) {
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	m.submissions.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind), attribute.String("result", result)))
}

func (m *Metrics) Request(ctx context.Context, method, route string, status int) {
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.Int("status", status),
	))
}

// RegisterQueueDepth reports depth as an observable gauge, read on scrape.
// Errors from depth skip the observation.
func RegisterQueueDepth(depth func(ctx context.Context) (int64, error)) error {
	_, err := otel.Meter(meterName).Int64ObservableGauge("gifmill.queue.depth",
		metric.WithDescription("Messages waiting in the task queue"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			n, err := depth(ctx)
			if err != nil {
				return nil
			}
			obs.Observe(n)
			return nil
		}),
	)
	return err
}
