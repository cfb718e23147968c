package media

import (
	"context"
	"fmt"
	"slices"
)

type ReverseRequest struct {
	Input     string
	OutputDir string
}

// ReverseAnimation flips frame order and delays in place.
func ReverseAnimation(a *Animation) {
	slices.Reverse(a.Frames)
	for len(a.DelaysMS) < len(a.Frames) {
		a.DelaysMS = append(a.DelaysMS, delayAt(a.DelaysMS, len(a.DelaysMS)))
	}
	slices.Reverse(a.DelaysMS)
}

// Reverse plays the animation backwards and keeps its loop count.
func (e *Executor) Reverse(ctx context.Context, taskID string, req ReverseRequest) (*Outcome, error) {
	inv := Invocation{
		Tool:      ToolReverse,
		TaskID:    taskID,
		InputType: InputGIF,
		Inputs:    []string{req.Input},
	}
	return e.Run(ctx, inv, func(ctx context.Context, _ []string) (*Outcome, error) {
		anim, err := decodeGIFInput(req.Input)
		if err != nil {
			return nil, err
		}
		b := anim.Bounds()
		stats := InputStats{Width: b.Dx(), Height: b.Dy(), Frames: anim.Len()}
		e.cfg.Budget.SampleFrames(anim)
		ReverseAnimation(anim)
		e.log.FromContext(ctx).Debug("reversed", "frames", anim.Len(), "size", fmt.Sprintf("%dx%d", b.Dx(), b.Dy()))
		return e.writeGIF(req.OutputDir, req.Input, "reversed", anim, EncodeOptions{}, stats)
	})
}
