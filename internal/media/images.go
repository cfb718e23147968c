package media

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"gifmill/internal/pkg/errors"
)

// Effect names accepted by gif-maker.
const (
	EffectFade = "fade"
	EffectZoom = "zoom"
)

// effectSteps is the number of sub-frames an effect expands a source into.
const effectSteps = 6

type CreateFromImagesRequest struct {
	Inputs          []string
	OutputDir       string
	FrameDurationMS int
	// FrameDurations is used when it has one entry per usable image.
	FrameDurations []int
	LoopCount      int
	Quality        string
	Effects        []string
}

func (r CreateFromImagesRequest) Options() string {
	return fmt.Sprintf("n=%d; frame_ms=%d; quality=%s; loop=%d; effects=%s",
		len(r.Inputs), r.FrameDurationMS, r.Quality, r.LoopCount, strings.Join(r.Effects, ","))
}

type qualityTier struct {
	colors  int
	dither  bool
	enhance bool
}

func tierFor(q string) qualityTier {
	switch strings.ToLower(q) {
	case "low":
		return qualityTier{colors: 128, dither: true}
	case "high", "ultra":
		return qualityTier{colors: 256, enhance: true}
	default:
		return qualityTier{colors: 256, dither: true, enhance: true}
	}
}

// CreateFromImages assembles still images into an animation. Unreadable or
// tiny inputs are skipped; nothing usable left is a validation error.
func (e *Executor) CreateFromImages(ctx context.Context, taskID string, req CreateFromImagesRequest) (*Outcome, error) {
	inv := Invocation{
		Tool:      ToolGIFMaker,
		TaskID:    taskID,
		InputType: InputImages,
		Inputs:    req.Inputs,
		Options:   req.Options(),
	}
	return e.Run(ctx, inv, func(ctx context.Context, inputs []string) (*Outcome, error) {
		return e.createFromImages(ctx, req, inputs)
	})
}

func (e *Executor) createFromImages(ctx context.Context, req CreateFromImagesRequest, inputs []string) (*Outcome, error) {
	log := e.log.FromContext(ctx).WithTool(ToolGIFMaker)
	tier := tierFor(req.Quality)

	// Effects are indexed by position in req.Inputs, so skipped images do
	// not shift them onto their neighbours.
	index := make(map[string]int, len(req.Inputs))
	for i, p := range req.Inputs {
		if _, ok := index[p]; !ok {
			index[p] = i
		}
	}

	var (
		frames  []*image.NRGBA
		effects []string
	)
	for _, p := range inputs {
		if st, err := os.Stat(p); err != nil || st.Size() < MinOutputSize {
			log.Warn("skipping undersized image", "input", filepath.Base(p))
			continue
		}
		img, err := imaging.Open(p, imaging.AutoOrientation(true))
		if err != nil {
			log.Warn("skipping unreadable image", "input", filepath.Base(p), "error", err.Error())
			continue
		}
		frames = append(frames, flatten(img))
		effects = append(effects, effectAt(req.Effects, index[p]))
	}
	if len(frames) == 0 {
		return nil, errors.Validation("No valid images to create GIF.")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	size := frames[0].Bounds()
	stats := InputStats{Width: size.Dx(), Height: size.Dy(), Frames: len(frames)}
	for i, f := range frames {
		if f.Bounds().Dx() != size.Dx() || f.Bounds().Dy() != size.Dy() {
			f = imaging.Resize(f, size.Dx(), size.Dy(), imaging.Lanczos)
		}
		if tier.enhance {
			f = enhance(f)
		}
		frames[i] = f
	}

	durations := frameDurations(req, len(frames))
	anim := &Animation{LoopCount: req.LoopCount}
	for i, f := range frames {
		switch effects[i] {
		case EffectFade:
			appendSubFrames(anim, fadeFrames(f), durations[i])
		case EffectZoom:
			appendSubFrames(anim, zoomFrames(f), durations[i])
		default:
			anim.Frames = append(anim.Frames, f)
			anim.DelaysMS = append(anim.DelaysMS, durations[i])
		}
	}
	e.cfg.Budget.Apply(anim)

	dir := req.OutputDir
	if dir == "" {
		dir = filepath.Dir(inputs[0])
	}
	out := OutputPath(dir, "output", ".gif")
	if err := EncodeFile(out, anim, EncodeOptions{Colors: tier.colors, Dither: tier.dither}); err != nil {
		return nil, errors.Processing("media.CreateFromImages", "failed to write GIF", err)
	}
	return &Outcome{Path: out, Input: stats}, nil
}

func frameDurations(req CreateFromImagesRequest, n int) []int {
	out := make([]int, n)
	if len(req.FrameDurations) == n {
		for i, d := range req.FrameDurations {
			out[i] = max(d, 20)
		}
		return out
	}
	d := req.FrameDurationMS
	if d == 0 {
		d = 100
	}
	d = max(d, 100)
	for i := range out {
		out[i] = d
	}
	return out
}

// effectAt returns the normalised effect for source image i, or "" when
// none was given.
func effectAt(effects []string, i int) string {
	if i < 0 || i >= len(effects) {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(effects[i]))
}

func appendSubFrames(a *Animation, subs []*image.NRGBA, durationMS int) {
	d := max(durationMS/len(subs), 20)
	for _, s := range subs {
		a.Frames = append(a.Frames, s)
		a.DelaysMS = append(a.DelaysMS, d)
	}
}

// flatten composites img onto white so transparent pixels do not end up as
// the palette's transparent index.
func flatten(img image.Image) *image.NRGBA {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

func enhance(img *image.NRGBA) *image.NRGBA {
	out := imaging.Sharpen(img, 0.6)
	out = imaging.AdjustContrast(out, 10)
	return imaging.AdjustBrightness(out, 5)
}

func fadeFrames(img *image.NRGBA) []*image.NRGBA {
	b := img.Bounds()
	white := imaging.New(b.Dx(), b.Dy(), color.White)
	out := make([]*image.NRGBA, 0, effectSteps)
	for step := 0; step < effectSteps; step++ {
		opacity := 1 - float64(step)/5
		out = append(out, imaging.Overlay(img, white, image.Pt(0, 0), opacity))
	}
	return out
}

func zoomFrames(img *image.NRGBA) []*image.NRGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	out := make([]*image.NRGBA, 0, effectSteps)
	for step := 0; step < effectSteps; step++ {
		pct := 0.1 * (1 - float64(step)/5)
		dx, dy := int(float64(w)*pct), int(float64(h)*pct)
		if dx == 0 && dy == 0 {
			out = append(out, img)
			continue
		}
		cropped := imaging.Crop(img, image.Rect(dx, dy, w-dx, h-dy))
		out = append(out, imaging.Resize(cropped, w, h, imaging.Lanczos))
	}
	return out
}
