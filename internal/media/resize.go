package media

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/disintegration/imaging"

	"gifmill/internal/pkg/errors"
)

type ResizeRequest struct {
	Input      string
	OutputDir  string
	Width      int
	Height     int
	KeepAspect bool
	// InputType is video when the GIF came out of convert-video.
	InputType InputKind
}

func (r ResizeRequest) Options() string {
	return fmt.Sprintf("size=%dx%d; keep_aspect=%t", r.Width, r.Height, r.KeepAspect)
}

// FitAspect shrinks one side of w x h so the box matches srcW:srcH.
func FitAspect(srcW, srcH, w, h int) (int, int) {
	if srcW <= 0 || srcH <= 0 || w <= 0 || h <= 0 {
		return w, h
	}
	ar := float64(srcW) / float64(srcH)
	if float64(w)/float64(h) > ar {
		w = int(float64(h) * ar)
	} else {
		h = int(float64(w) / ar)
	}
	return max(1, w), max(1, h)
}

// Resize resamples every frame to the requested size.
func (e *Executor) Resize(ctx context.Context, taskID string, req ResizeRequest) (*Outcome, error) {
	kind := req.InputType
	if kind == "" {
		kind = InputGIF
	}
	inv := Invocation{
		Tool:      ToolResize,
		TaskID:    taskID,
		InputType: kind,
		Inputs:    []string{req.Input},
		Options:   req.Options(),
	}
	return e.Run(ctx, inv, func(ctx context.Context, _ []string) (*Outcome, error) {
		return e.resize(ctx, req)
	})
}

func (e *Executor) resize(ctx context.Context, req ResizeRequest) (*Outcome, error) {
	if req.Width <= 0 || req.Height <= 0 {
		return nil, errors.Validation("Width and height must be positive.")
	}
	anim, err := decodeGIFInput(req.Input)
	if err != nil {
		return nil, err
	}
	b := anim.Bounds()
	stats := InputStats{Width: b.Dx(), Height: b.Dy(), Frames: anim.Len()}

	w, h := req.Width, req.Height
	if req.KeepAspect {
		w, h = FitAspect(b.Dx(), b.Dy(), w, h)
	}
	w, h = e.cfg.Budget.FitDims(w, h)
	e.cfg.Budget.SampleFrames(anim)

	for i, f := range anim.Frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		anim.Frames[i] = imaging.Resize(f, w, h, imaging.Lanczos)
	}
	return e.writeGIF(req.OutputDir, req.Input, "resized", anim, EncodeOptions{}, stats)
}

// decodeGIFInput checks the signature before decoding.
func decodeGIFInput(path string) (*Animation, error) {
	ok, err := IsGIFFile(path)
	if err != nil {
		return nil, errors.NotFound("input file", filepath.Base(path))
	}
	if !ok {
		return nil, errors.Validation("Uploaded file is not a valid GIF.")
	}
	anim, err := DecodeFile(path)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.CodeValidation, "media.decode", "Uploaded file is not a valid GIF.")
	}
	return anim, nil
}

func (e *Executor) writeGIF(dir, input, prefix string, anim *Animation, opt EncodeOptions, stats InputStats) (*Outcome, error) {
	if dir == "" {
		dir = filepath.Dir(input)
	}
	out := OutputPath(dir, prefix, ".gif")
	if err := EncodeFile(out, anim, opt); err != nil {
		return nil, errors.Processing("media.writeGIF", "failed to write GIF", err)
	}
	return &Outcome{Path: out, Input: stats}, nil
}
