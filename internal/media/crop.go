package media

import (
	"context"
	"fmt"
	"image"
	"strings"

	"github.com/disintegration/imaging"

	"gifmill/internal/pkg/errors"
)

// Crop presets.
const (
	PresetFree   = "free"
	PresetSquare = "square"
	Preset4x3    = "4:3"
	Preset16x9   = "16:9"
	Preset3x2    = "3:2"
	Preset2x1    = "2:1"
	PresetGolden = "golden"
)

var presetRatios = map[string]float64{
	Preset4x3:    4.0 / 3.0,
	Preset16x9:   16.0 / 9.0,
	Preset3x2:    3.0 / 2.0,
	Preset2x1:    2.0,
	PresetGolden: 1.618,
}

type CropRequest struct {
	Input     string
	OutputDir string
	X, Y      int
	Width     int
	Height    int
	Preset    string
}

func (r CropRequest) Options() string {
	return fmt.Sprintf("x=%d; y=%d; size=%dx%d; preset=%s", r.X, r.Y, r.Width, r.Height, r.Preset)
}

// PresetSize fits preset's ratio inside the requested w x h box. A missing
// box means the whole srcW x srcH canvas. Free (or unknown) presets return
// the box unchanged; ClampRect then keeps it on the canvas.
func PresetSize(preset string, srcW, srcH, w, h int) (int, int) {
	if w <= 0 || h <= 0 {
		w, h = srcW, srcH
	}
	preset = strings.ToLower(strings.TrimSpace(preset))
	if preset == PresetSquare {
		side := min(w, h)
		return side, side
	}
	ratio, ok := presetRatios[preset]
	if !ok {
		return w, h
	}
	if float64(w)/float64(h) > ratio {
		return int(float64(h) * ratio), h
	}
	return w, int(float64(w) / ratio)
}

// ClampRect keeps the crop box inside the canvas.
func ClampRect(srcW, srcH, x, y, w, h int) image.Rectangle {
	x = max(0, min(x, srcW-w))
	y = max(0, min(y, srcH-h))
	w = min(w, srcW-x)
	h = min(h, srcH-y)
	return image.Rect(x, y, x+w, y+h)
}

// Crop cuts the same rectangle out of every frame.
func (e *Executor) Crop(ctx context.Context, taskID string, req CropRequest) (*Outcome, error) {
	inv := Invocation{
		Tool:      ToolCrop,
		TaskID:    taskID,
		InputType: InputGIF,
		Inputs:    []string{req.Input},
		Options:   req.Options(),
	}
	return e.Run(ctx, inv, func(ctx context.Context, _ []string) (*Outcome, error) {
		return e.crop(ctx, req)
	})
}

func (e *Executor) crop(ctx context.Context, req CropRequest) (*Outcome, error) {
	anim, err := decodeGIFInput(req.Input)
	if err != nil {
		return nil, err
	}
	b := anim.Bounds()
	stats := InputStats{Width: b.Dx(), Height: b.Dy(), Frames: anim.Len()}

	w, h := PresetSize(req.Preset, b.Dx(), b.Dy(), req.Width, req.Height)
	if w <= 0 || h <= 0 {
		return nil, errors.Validation("Crop width and height must be positive.")
	}
	rect := ClampRect(b.Dx(), b.Dy(), req.X, req.Y, w, h)
	if rect.Empty() {
		return nil, errors.Validation("Crop area is outside the image.")
	}

	e.cfg.Budget.SampleFrames(anim)
	for i, f := range anim.Frames {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		anim.Frames[i] = imaging.Crop(f, rect)
	}
	return e.writeGIF(req.OutputDir, req.Input, "cropped", anim, EncodeOptions{}, stats)
}
