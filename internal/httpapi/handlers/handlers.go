// Package handlers implements the HTTP endpoints. Job endpoints only save
// inputs and submit tasks; the worker does the processing.
package handlers

import (
	"context"
	"net/url"

	"gifmill/internal/jobs"
	"gifmill/internal/observability"
	"gifmill/internal/pkg/logger"
	"gifmill/internal/ports"
	"gifmill/internal/status"
)

// Fetcher is the part of the remote fetcher the API uses. CheckURL runs on
// every submitted URL; Fetch only backs the synchronous metadata probe.
type Fetcher interface {
	CheckURL(raw string) (*url.URL, error)
	Fetch(ctx context.Context, raw, workDir string, maxBytes int64) (string, error)
}

// Pinger is anything the deep health check can reach.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Orchestrator *jobs.Orchestrator
	Resolver     *status.Resolver
	Fetcher      Fetcher
	Queue        Pinger
	Store        Pinger
	SP           ports.StorageProvider
	Metrics      *observability.Metrics
	// Root is the upload folder; every served path must stay inside it.
	Root             string
	MaxContentLength int64
	Version          string
	Log              *logger.Logger
}

type Handler struct {
	orch     *jobs.Orchestrator
	resolver *status.Resolver
	fetcher  Fetcher
	queue    Pinger
	store    Pinger
	sp       ports.StorageProvider
	metrics  *observability.Metrics
	root     string
	maxBytes int64
	version  string
	log      *logger.Logger
}

func New(d Deps) *Handler {
	if d.Metrics == nil {
		d.Metrics = observability.Nop()
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	return &Handler{
		orch:     d.Orchestrator,
		resolver: d.Resolver,
		fetcher:  d.Fetcher,
		queue:    d.Queue,
		store:    d.Store,
		sp:       d.SP,
		metrics:  d.Metrics,
		root:     d.Root,
		maxBytes: d.MaxContentLength,
		version:  d.Version,
		log:      d.Log.WithComponent("api"),
	}
}
