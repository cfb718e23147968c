// Package processor runs one queued task: it marks the record, dispatches
// to the operation, stores the result and moves chains and chords along.
package processor

import (
	"context"
	stderrors "errors"
	"time"

	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/observability"
	"gifmill/internal/pkg/errors"
	"gifmill/internal/pkg/logger"
	"gifmill/internal/ports"
)

type Deps struct {
	Orchestrator *jobs.Orchestrator
	Executor     *media.Executor
	Fetcher      Fetcher
	SP           ports.StorageProvider
	Metrics      *observability.Metrics
	// TimeLimit cancels a task; SoftTimeLimit only logs a warning.
	TimeLimit     time.Duration
	SoftTimeLimit time.Duration
	Log           *logger.Logger
}

type Processor struct {
	orch      *jobs.Orchestrator
	store     *jobs.Store
	exec      *media.Executor
	metrics   *observability.Metrics
	timeLimit time.Duration
	softLimit time.Duration
	log       *logger.Logger

	inputHandler  *InputHandler
	outputHandler *OutputHandler
	cleanup       *Cleanup
}

func New(d Deps) *Processor {
	log := d.Log
	if log == nil {
		log = logger.NewDefault()
	}
	log = log.WithComponent("processor")

	metrics := d.Metrics
	if metrics == nil {
		metrics = observability.Nop()
	}
	if d.TimeLimit <= 0 {
		d.TimeLimit = 10 * time.Minute
	}
	if d.SoftTimeLimit <= 0 || d.SoftTimeLimit > d.TimeLimit {
		d.SoftTimeLimit = d.TimeLimit * 9 / 10
	}

	root := d.Executor.Root()
	return &Processor{
		orch:          d.Orchestrator,
		store:         d.Orchestrator.Store(),
		exec:          d.Executor,
		metrics:       metrics,
		timeLimit:     d.TimeLimit,
		softLimit:     d.SoftTimeLimit,
		log:           log,
		inputHandler:  NewInputHandler(d.Fetcher, log),
		outputHandler: NewOutputHandler(root, d.SP, log),
		cleanup:       NewCleanup(root, log),
	}
}

// Process runs msg to completion and returns the task error, if any. The
// error is already recorded; callers only log it.
func (p *Processor) Process(ctx context.Context, msg jobs.Message) error {
	ctx = logger.ContextWithTaskID(ctx, msg.ID)
	log := p.log.FromContext(ctx).With("kind", string(msg.Kind))
	done := p.metrics.TaskStarted(ctx, string(msg.Kind))

	// Bookkeeping must survive the task deadline.
	bookCtx := context.WithoutCancel(ctx)

	if err := p.store.Started(bookCtx, msg.ID); err != nil {
		log.Warn("failed to mark task started", "error", err.Error())
	}

	taskCtx, cancel := context.WithTimeout(ctx, p.timeLimit)
	defer cancel()
	soft := time.AfterFunc(p.softLimit, func() {
		log.Warn("task exceeded soft time limit", "soft_limit", p.softLimit.String())
	})
	res, err := p.dispatch(taskCtx, msg)
	soft.Stop()

	if err != nil {
		if stderrors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			err = errors.Timeout("task "+string(msg.Kind), err)
		}
		f := p.failTask(bookCtx, msg, err)
		done(outcomeLabel(err, f))
		return err
	}

	if err := p.store.Succeed(bookCtx, msg.ID, res); err != nil {
		log.Error("failed to store task result", "error", err.Error())
		f := jobs.Failure{Kind: jobs.FailureInternal, Message: err.Error()}
		p.orch.Abort(bookCtx, msg, f)
		done(string(f.Kind))
		return err
	}
	if err := p.orch.Advance(bookCtx, msg, res); err != nil {
		log.Error("failed to advance workflow", "error", err.Error())
		p.orch.Abort(bookCtx, msg, jobs.FailureFrom(err))
	}
	done(outcomeLabel(nil, jobs.Failure{}))
	return nil
}

func (p *Processor) dispatch(ctx context.Context, msg jobs.Message) (jobs.Result, error) {
	switch msg.Kind {
	case jobs.KindFetch:
		var a jobs.FetchArgs
		if err := msg.DecodeArgs(&a); err != nil {
			return jobs.Result{}, err
		}
		path, err := p.inputHandler.Download(ctx, a)
		if err != nil {
			return jobs.Result{}, err
		}
		return p.outputHandler.Downloaded(path), nil

	case jobs.KindConvertVideo:
		req, err := parseConvert(msg)
		if err != nil {
			return jobs.Result{}, err
		}
		return p.register(ctx)(p.exec.ConvertVideo(ctx, msg.ID, req))

	case jobs.KindCreateFromImages:
		req, err := parseCreate(msg)
		if err != nil {
			return jobs.Result{}, err
		}
		return p.register(ctx)(p.exec.CreateFromImages(ctx, msg.ID, req))

	case jobs.KindResize:
		req, err := parseResize(msg)
		if err != nil {
			return jobs.Result{}, err
		}
		return p.register(ctx)(p.exec.Resize(ctx, msg.ID, req))

	case jobs.KindCrop:
		req, err := parseCrop(msg)
		if err != nil {
			return jobs.Result{}, err
		}
		return p.register(ctx)(p.exec.Crop(ctx, msg.ID, req))

	case jobs.KindOptimize:
		req, err := parseOptimize(msg)
		if err != nil {
			return jobs.Result{}, err
		}
		return p.register(ctx)(p.exec.Optimize(ctx, msg.ID, req))

	case jobs.KindReverse:
		req, err := parseReverse(msg)
		if err != nil {
			return jobs.Result{}, err
		}
		return p.register(ctx)(p.exec.Reverse(ctx, msg.ID, req))

	case jobs.KindAddText, jobs.KindAddTextLayers:
		return p.addText(ctx, msg)

	case jobs.KindRouteResize:
		var a jobs.RouteResizeArgs
		if err := msg.DecodeArgs(&a); err != nil {
			return jobs.Result{}, err
		}
		in, err := requireInput(msg)
		if err != nil {
			return jobs.Result{}, err
		}
		if a.Resize.OutputDir == "" {
			a.Resize.OutputDir = outputDir("", in)
		}
		return p.orch.RouteResize(ctx, in, a)

	case jobs.KindOrchestrateFromURLs:
		var a jobs.OrchestrateArgs
		if err := msg.DecodeArgs(&a); err != nil {
			return jobs.Result{}, err
		}
		return p.orch.OrchestrateFromURLs(ctx, a)
	}
	return jobs.Result{}, errors.Internalf("unknown task kind %q", msg.Kind)
}

func (p *Processor) addText(ctx context.Context, msg jobs.Message) (jobs.Result, error) {
	var a jobs.AddTextArgs
	if err := msg.DecodeArgs(&a); err != nil {
		return jobs.Result{}, err
	}
	in, err := requireInput(msg)
	if err != nil {
		return jobs.Result{}, err
	}
	layers := make([]media.TextLayer, len(a.Layers))
	for i, l := range a.Layers {
		layers[i] = l.TextLayer
	}
	req := media.AddTextRequest{
		Input:     in,
		OutputDir: outputDir(a.OutputDir, in),
		Layers:    layers,
		Resolve: func(ctx context.Context, input string) ([]media.TextLayer, error) {
			return p.inputHandler.Layers(ctx, input, a.Layers)
		},
	}
	if msg.Kind == jobs.KindAddText {
		return p.register(ctx)(p.exec.AddText(ctx, msg.ID, req))
	}
	return p.register(ctx)(p.exec.AddTextLayers(ctx, msg.ID, req))
}

// register adapts an executor call into a task result.
func (p *Processor) register(ctx context.Context) func(*media.Outcome, error) (jobs.Result, error) {
	return func(out *media.Outcome, err error) (jobs.Result, error) {
		if err != nil {
			return jobs.Result{}, err
		}
		return p.outputHandler.Register(ctx, out), nil
	}
}

func (p *Processor) failTask(ctx context.Context, msg jobs.Message, cause error) jobs.Failure {
	log := p.log.FromContext(ctx)

	f := jobs.FailureFrom(cause)
	f.Message = truncate(f.Message, maxFailureText)

	var appErr *errors.Error
	if errors.As(cause, &appErr) {
		log.Error("task failed",
			"code", string(appErr.Code),
			"op", appErr.Op,
			"failure_kind", string(f.Kind),
			"error", cause.Error(),
		)
	} else {
		log.LogError(ctx, "task failed", cause, "failure_kind", string(f.Kind))
	}

	if err := p.store.Fail(ctx, msg.ID, f); err != nil {
		log.WithError(err).Warn("failed to store task failure")
	}
	p.orch.Abort(ctx, msg, f)
	p.cleanup.AfterFailure(msg)
	return f
}
