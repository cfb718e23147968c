package media

import (
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gifmill/internal/models"
	"gifmill/internal/pkg/logger"
)

// noisyImage returns w x h random pixels so encoded files stay above the
// minimum artifact size.
func noisyImage(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	return img
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

// writeGIF writes frames of noise with the given delays (centiseconds).
func writeNoisyGIF(t *testing.T, path string, w, h int, delays []int, loop int) {
	t.Helper()
	g := &gif.GIF{LoopCount: loop}
	for i, d := range delays {
		src := noisyImage(w, h, int64(i+1))
		pal := Quantize(src, 256)
		g.Image = append(g.Image, ToPaletted(src, pal, false))
		g.Delay = append(g.Delay, d)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := gif.EncodeAll(f, g); err != nil {
		t.Fatal(err)
	}
}

func solidAnimation(n, w, h int, c color.NRGBA) *Animation {
	a := &Animation{}
	for i := 0; i < n; i++ {
		f := image.NewNRGBA(image.Rect(0, 0, w, h))
		for p := 0; p < len(f.Pix); p += 4 {
			f.Pix[p], f.Pix[p+1], f.Pix[p+2], f.Pix[p+3] = c.R, c.G, c.B, c.A
		}
		a.Frames = append(a.Frames, f)
		a.DelaysMS = append(a.DelaysMS, 100)
	}
	return a
}

type recordedMetrics struct {
	mu   sync.Mutex
	rows []*models.JobMetric
}

func (r *recordedMetrics) RecordJob(_ context.Context, m *models.JobMetric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, m)
	return nil
}

func (r *recordedMetrics) all() []*models.JobMetric {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*models.JobMetric(nil), r.rows...)
}

type toolCall struct {
	name string
	args []string
}

// fakeTools records invocations and delegates to handle.
type fakeTools struct {
	mu     sync.Mutex
	calls  []toolCall
	handle func(name string, args []string) ([]byte, error)
}

func (f *fakeTools) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return f.RunTimeout(ctx, time.Minute, name, args...)
}

func (f *fakeTools) RunTimeout(_ context.Context, _ time.Duration, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, toolCall{name: name, args: args})
	f.mu.Unlock()
	if f.handle == nil {
		return nil, nil
	}
	return f.handle(name, args)
}

func (f *fakeTools) Available(string) bool { return true }

func (f *fakeTools) callsTo(name string) []toolCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []toolCall
	for _, c := range f.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

func newTestExecutor(t *testing.T, tools Tools) (*Executor, *recordedMetrics, string) {
	t.Helper()
	root := t.TempDir()
	metrics := &recordedMetrics{}
	e := NewExecutor(Config{Root: root, Budget: Budget{MaxFrames: 300, MaxPixels: 640000}}, tools, metrics, logger.Discard())
	e.videoWait = waitPolicy{tries: 1}
	e.imageWait = waitPolicy{tries: 1}
	return e, metrics, root
}

func workDir(t *testing.T, root string) string {
	t.Helper()
	dir := filepath.Join(root, "user_uploads", "job")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func writeBytes(t *testing.T, path string, n int) {
	t.Helper()
	if err := os.WriteFile(path, make([]byte, n), 0o644); err != nil {
		t.Fatal(err)
	}
}
