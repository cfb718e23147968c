package media

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// Budget caps the work done per animation: frames beyond MaxFrames are
// sampled with a stride and frames larger than MaxPixels are downscaled.
type Budget struct {
	MaxFrames int
	MaxPixels int
}

// Stride is ceil(n / MaxFrames), at least 1.
func (b Budget) Stride(n int) int {
	if b.MaxFrames <= 0 || n <= b.MaxFrames {
		return 1
	}
	return (n + b.MaxFrames - 1) / b.MaxFrames
}

// Scale is sqrt(MaxPixels / (w*h)) clamped to [0.2, 1].
func (b Budget) Scale(w, h int) float64 {
	total := w * h
	if b.MaxPixels <= 0 || total <= b.MaxPixels {
		return 1
	}
	s := math.Sqrt(float64(b.MaxPixels) / float64(total))
	return math.Max(0.2, math.Min(1, s))
}

// BudgetResult tells which original frame each kept frame came from.
type BudgetResult struct {
	Stride int
	Scale  float64
	// Source[i] is the original index of kept frame i.
	Source []int
}

// Apply samples and downscales a in place.
func (b Budget) Apply(a *Animation) BudgetResult {
	res := BudgetResult{Stride: b.Stride(a.Len()), Source: b.SampleFrames(a)}
	res.Scale = b.Downscale(a)
	return res
}

// SampleFrames keeps every Stride-th frame. Kept frames absorb the delays of
// the frames skipped after them so total duration is preserved. It returns
// the original index of each kept frame.
func (b Budget) SampleFrames(a *Animation) []int {
	stride := b.Stride(a.Len())
	var source []int
	if stride == 1 {
		for i := range a.Frames {
			source = append(source, i)
		}
		return source
	}

	var frames []*image.NRGBA
	var delays []int
	for i := 0; i < a.Len(); i += stride {
		sum := 0
		for j := i; j < i+stride && j < a.Len(); j++ {
			sum += delayAt(a.DelaysMS, j)
		}
		frames = append(frames, a.Frames[i])
		delays = append(delays, sum)
		source = append(source, i)
	}
	a.Frames, a.DelaysMS = frames, delays
	return source
}

// Downscale shrinks every frame by Scale and returns the factor used.
func (b Budget) Downscale(a *Animation) float64 {
	bounds := a.Bounds()
	scale := b.Scale(bounds.Dx(), bounds.Dy())
	if scale >= 1 {
		return 1
	}
	w := max(1, int(float64(bounds.Dx())*scale))
	h := max(1, int(float64(bounds.Dy())*scale))
	for i, f := range a.Frames {
		a.Frames[i] = imaging.Resize(f, w, h, imaging.Lanczos)
	}
	return scale
}

// FitDims scales a requested output size down to the pixel budget.
func (b Budget) FitDims(w, h int) (int, int) {
	s := b.Scale(w, h)
	if s >= 1 {
		return w, h
	}
	return max(1, int(float64(w)*s)), max(1, int(float64(h)*s))
}
