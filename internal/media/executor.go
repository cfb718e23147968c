// Package media implements the GIF and video operations run by the worker.
// Every operation goes through Executor.Run, which waits for inputs,
// validates the artifact, records one JobMetric and removes the inputs.
package media

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"gifmill/internal/models"
	"gifmill/internal/pkg/errors"
	"gifmill/internal/pkg/logger"
	"gifmill/internal/ports"
)

// MinOutputSize is the smallest artifact accepted as a real result.
const MinOutputSize = 1024

// Tool names as they appear in job_metrics.tool.
const (
	ToolVideoToGIF    = "video-to-gif"
	ToolGIFMaker      = "gif-maker"
	ToolResize        = "resize"
	ToolCrop          = "crop"
	ToolOptimize      = "optimize"
	ToolReverse       = "reverse"
	ToolAddText       = "add-text"
	ToolAddTextLayers = "add-text-layers"
)

// InputKind is recorded as job_metrics.input_type and picks the wait policy.
type InputKind string

const (
	InputVideo  InputKind = "video"
	InputGIF    InputKind = "gif"
	InputImages InputKind = "images"
)

// Tools runs external binaries. *ToolRunner is the production implementation.
type Tools interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
	RunTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error)
	Available(name string) bool
}

// SecondaryStatus describes the optional artifact next to the main result.
type SecondaryStatus string

const (
	SecondaryNotAttempted SecondaryStatus = "not_attempted"
	SecondaryFailed       SecondaryStatus = "failed"
	SecondarySucceeded    SecondaryStatus = "succeeded"
)

// Secondary is an extra artifact (the MP4 of convert-video). Its failure
// never fails the job.
type Secondary struct {
	Status SecondaryStatus `json:"status"`
	Path   string          `json:"path,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// InputStats feed the metric row.
type InputStats struct {
	Width  int
	Height int
	Frames int
}

// Outcome is what an operation hands back. Path is absolute.
type Outcome struct {
	Path      string
	Secondary *Secondary
	Meta      map[string]any
	Input     InputStats
}

// Invocation describes one executor run for the wrapper.
type Invocation struct {
	Tool      string
	TaskID    string
	InputType InputKind
	Inputs    []string
	// Options is the human readable option string stored with the metric.
	Options string
}

type waitPolicy struct {
	tries    int
	interval time.Duration
}

// Config carries the executor settings taken from the process config.
type Config struct {
	Root            string
	Budget          Budget
	AudioMuxTimeout time.Duration
	FontDir         string
}

type Executor struct {
	cfg     Config
	tools   Tools
	metrics ports.MetricsRecorder
	fonts   *FontBook
	log     *logger.Logger

	videoWait waitPolicy
	imageWait waitPolicy
}

func NewExecutor(cfg Config, tools Tools, metrics ports.MetricsRecorder, log *logger.Logger) *Executor {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if cfg.AudioMuxTimeout <= 0 {
		cfg.AudioMuxTimeout = 60 * time.Second
	}
	if cfg.Budget.MaxFrames <= 0 {
		cfg.Budget.MaxFrames = 300
	}
	if cfg.Budget.MaxPixels <= 0 {
		cfg.Budget.MaxPixels = 800 * 800
	}
	log = log.WithComponent("media")
	return &Executor{
		cfg:       cfg,
		tools:     tools,
		metrics:   metrics,
		fonts:     NewFontBook(cfg.FontDir, log),
		log:       log,
		videoWait: waitPolicy{tries: 3, interval: time.Second},
		imageWait: waitPolicy{tries: 5, interval: 100 * time.Millisecond},
	}
}

// Root is the upload root every artifact lives under.
func (e *Executor) Root() string { return e.cfg.Root }

// Rel turns an absolute artifact path into the form stored in results.
func (e *Executor) Rel(path string) string {
	rel, err := filepath.Rel(e.cfg.Root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

// Run executes fn with the inputs that exist. For image inputs missing files
// are skipped; for the rest a missing input fails the run.
func (e *Executor) Run(ctx context.Context, inv Invocation, fn func(ctx context.Context, inputs []string) (*Outcome, error)) (*Outcome, error) {
	start := time.Now()
	log := e.log.FromContext(ctx).WithTool(inv.Tool)

	metric := &models.JobMetric{
		Tool:      inv.Tool,
		TaskID:    inv.TaskID,
		InputType: string(inv.InputType),
		Options:   inv.Options,
	}
	defer e.removeInputs(log, inv.Inputs)

	inputs, err := e.waitInputs(ctx, log, inv)
	if err == nil {
		for _, p := range inputs {
			if st, serr := os.Stat(p); serr == nil {
				metric.InputSizeBytes += st.Size()
			}
		}
	}

	var out *Outcome
	if err == nil {
		out, err = fn(ctx, inputs)
	}
	if err == nil {
		metric.InputWidth, metric.InputHeight, metric.InputFrames = out.Input.Width, out.Input.Height, out.Input.Frames
		var size int64
		size, err = ValidateOutput(out.Path)
		metric.OutputSizeBytes = size
	}
	metric.ProcessingMS = time.Since(start).Milliseconds()

	if err != nil {
		metric.Status = models.MetricStatusFailure
		metric.ErrorMessage = err.Error()
		e.record(log, metric)
		log.Warn("operation failed", "error", err.Error(), "duration_ms", metric.ProcessingMS)
		return nil, err
	}

	metric.Status = models.MetricStatusSuccess
	e.record(log, metric)
	log.Info("operation finished",
		"output", e.Rel(out.Path),
		"output_bytes", metric.OutputSizeBytes,
		"duration_ms", metric.ProcessingMS,
	)
	return out, nil
}

// ValidateOutput checks that path exists and is a real artifact.
func ValidateOutput(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil || st.IsDir() || st.Size() < MinOutputSize {
		return 0, errors.OutputInvalid(path)
	}
	return st.Size(), nil
}

func (e *Executor) waitInputs(ctx context.Context, log *logger.Logger, inv Invocation) ([]string, error) {
	policy := e.imageWait
	if inv.InputType == InputVideo {
		policy = e.videoWait
	}

	var found []string
	for _, p := range inv.Inputs {
		if waitFor(ctx, p, policy) {
			found = append(found, p)
			continue
		}
		if inv.InputType == InputImages {
			log.Warn("input missing, skipping", "input", filepath.Base(p))
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.NotFound("input file", filepath.Base(p))
	}
	return found, nil
}

func waitFor(ctx context.Context, path string, policy waitPolicy) bool {
	for i := 0; i < policy.tries; i++ {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		if i == policy.tries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(policy.interval):
		}
	}
	return false
}

func (e *Executor) record(log *logger.Logger, m *models.JobMetric) {
	m.TruncateOptions()
	// The task context may already be cancelled by the time limit.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.metrics.RecordJob(ctx, m); err != nil {
		log.Warn("metric write failed", "error", err.Error())
	}
}

func (e *Executor) removeInputs(log *logger.Logger, inputs []string) {
	for _, p := range inputs {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("input cleanup failed", "input", filepath.Base(p), "error", err.Error())
		}
	}
}

// OutputPath names a fresh artifact in dir, e.g. resized_<hex>.gif.
func OutputPath(dir, prefix, ext string) string {
	return filepath.Join(dir, prefix+"_"+strings.ReplaceAll(uuid.NewString(), "-", "")+ext)
}
