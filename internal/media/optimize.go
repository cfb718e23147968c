package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"gifmill/internal/pkg/errors"
)

type OptimizeRequest struct {
	Input          string
	OutputDir      string
	Quality        int
	Colors         int
	Lossy          int
	Dither         bool
	OptimizeFrames bool
}

func (r OptimizeRequest) Options() string {
	return fmt.Sprintf("quality=%d; colors=%d; lossy=%d; dither=%t; optimize_frames=%t",
		r.Quality, r.Colors, r.Lossy, r.Dither, r.OptimizeFrames)
}

// OptimizePlan is what the quality tier turns the request into.
type OptimizePlan struct {
	Colors int
	Lossy  int
	Level  int
}

// PlanOptimize maps quality onto gifsicle settings.
func PlanOptimize(quality, colors, lossy int) OptimizePlan {
	if colors <= 0 || colors > 256 {
		colors = 256
	}
	lossy = max(0, lossy)
	switch {
	case quality >= 95:
		return OptimizePlan{Colors: min(colors, 200), Lossy: 0, Level: 2}
	case quality >= 80:
		return OptimizePlan{Colors: min(colors, 128), Lossy: lossy / 3, Level: 2}
	case quality >= 60:
		return OptimizePlan{Colors: min(colors, 64), Lossy: lossy, Level: 3}
	default:
		return OptimizePlan{Colors: min(colors, 32), Lossy: min(100, 2*lossy), Level: 3}
	}
}

func gifsicleArgs(p OptimizePlan, req OptimizeRequest, in, out string) []string {
	args := []string{
		"--optimize=" + strconv.Itoa(p.Level),
		"--colors=" + strconv.Itoa(p.Colors),
	}
	if p.Lossy > 0 {
		args = append(args, "--lossy="+strconv.Itoa(p.Lossy))
	}
	if req.Dither {
		args = append(args, "--dither")
	}
	args = append(args, "--no-extensions", "--no-comments", "--no-names")
	if req.OptimizeFrames {
		args = append(args, "--optimize-frames")
	}
	return append(args, "--interlace", in, "-o", out)
}

// CompressionRatio is the percentage saved, rounded to two decimals.
func CompressionRatio(orig, optimized int64) float64 {
	if orig <= 0 {
		return 0
	}
	r := float64(orig-optimized) / float64(orig) * 100
	return math.Round(r*100) / 100
}

// Optimize shrinks a GIF with gifsicle, or with an in-process palette
// re-encode when gifsicle is missing or fails.
func (e *Executor) Optimize(ctx context.Context, taskID string, req OptimizeRequest) (*Outcome, error) {
	inv := Invocation{
		Tool:      ToolOptimize,
		TaskID:    taskID,
		InputType: InputGIF,
		Inputs:    []string{req.Input},
		Options:   req.Options(),
	}
	return e.Run(ctx, inv, func(ctx context.Context, _ []string) (*Outcome, error) {
		return e.optimize(ctx, req)
	})
}

func (e *Executor) optimize(ctx context.Context, req OptimizeRequest) (*Outcome, error) {
	log := e.log.FromContext(ctx).WithTool(ToolOptimize)

	ok, err := IsGIFFile(req.Input)
	if err != nil {
		return nil, errors.NotFound("input file", filepath.Base(req.Input))
	}
	if !ok {
		return nil, errors.Validation("Uploaded file is not a valid GIF.")
	}
	// Size is taken now: the wrapper removes the input once we return.
	st, err := os.Stat(req.Input)
	if err != nil {
		return nil, err
	}
	origSize := st.Size()

	dir := req.OutputDir
	if dir == "" {
		dir = filepath.Dir(req.Input)
	}
	out := OutputPath(dir, "optimized", ".gif")
	plan := PlanOptimize(req.Quality, req.Colors, req.Lossy)

	var stats InputStats
	method := "gifsicle"
	if _, err := e.tools.Run(ctx, "gifsicle", gifsicleArgs(plan, req, req.Input, out)...); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("gifsicle unavailable or failed, using palette fallback", "error", err.Error())
		_ = os.Remove(out)
		method = "fallback"
		if stats, err = e.fallbackOptimize(req.Input, out, plan, req.Dither); err != nil {
			return nil, err
		}
	} else if info, perr := ProbeGIF(req.Input); perr == nil {
		stats = InputStats{Width: info.Width, Height: info.Height, Frames: info.Frames}
	}

	optSt, err := os.Stat(out)
	if err != nil {
		return nil, errors.OutputInvalid(out)
	}
	return &Outcome{
		Path:  out,
		Input: stats,
		Meta: map[string]any{
			"compression_ratio": CompressionRatio(origSize, optSt.Size()),
			"original_size":     origSize,
			"optimized_size":    optSt.Size(),
			"method":            method,
		},
	}, nil
}

func (e *Executor) fallbackOptimize(in, out string, plan OptimizePlan, dither bool) (InputStats, error) {
	anim, err := decodeGIFInput(in)
	if err != nil {
		return InputStats{}, err
	}
	b := anim.Bounds()
	stats := InputStats{Width: b.Dx(), Height: b.Dy(), Frames: anim.Len()}
	e.cfg.Budget.SampleFrames(anim)
	if err := EncodeFile(out, anim, EncodeOptions{Colors: plan.Colors, Dither: dither}); err != nil {
		return stats, errors.Processing("media.Optimize", "failed to write GIF", err)
	}
	return stats, nil
}
