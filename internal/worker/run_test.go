package worker

import (
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/pkg/logger"
)

type noTools struct{}

func (noTools) Run(context.Context, string, ...string) ([]byte, error) { return nil, nil }
func (noTools) RunTimeout(context.Context, time.Duration, string, ...string) ([]byte, error) {
	return nil, nil
}
func (noTools) Available(string) bool { return false }

type offlineFetcher struct{}

func (offlineFetcher) Fetch(context.Context, string, string, int64) (string, error) {
	return "", errors.New("offline")
}

// writeStripedGIF writes frames of varied stripes, large enough to pass
// output validation once reversed.
func writeStripedGIF(t *testing.T, path string) {
	t.Helper()
	pal := make(color.Palette, 0, 256)
	for i := 0; i < 256; i++ {
		pal = append(pal, color.RGBA{R: uint8(i), G: uint8(255 - i), B: uint8(i * 7), A: 255})
	}
	g := &gif.GIF{}
	for f := 0; f < 4; f++ {
		img := image.NewPaletted(image.Rect(0, 0, 64, 64), pal)
		for i := range img.Pix {
			img.Pix[i] = uint8((i*31 + f*17 + i*i) % 256)
		}
		g.Image = append(g.Image, img)
		g.Delay = append(g.Delay, 10)
	}
	out, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if err := gif.EncodeAll(out, g); err != nil {
		t.Fatal(err)
	}
}

func TestRunProcessesQueueAndStops(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	root := t.TempDir()
	log := logger.Discard()
	store := jobs.NewStore(rdb, time.Hour)
	broker := jobs.NewBroker(rdb, "test:queue", store, log)
	orch := jobs.NewOrchestrator(rdb, broker, store, root, log)

	dir, err := jobs.NewWorkDir(root)
	if err != nil {
		t.Fatal(err)
	}
	in := filepath.Join(dir, "in.gif")
	writeStripedGIF(t, in)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, Deps{
			Broker:       broker,
			Orchestrator: orch,
			Executor:     media.NewExecutor(media.Config{Root: root}, noTools{}, nil, log),
			Fetcher:      offlineFetcher{},
			Log:          log,
			Concurrency:  2,
			TimeLimit:    time.Minute,
			PopTimeout:   time.Second,
		})
	}()

	id, err := orch.Submit(context.Background(), jobs.Task{Kind: jobs.KindReverse, Inputs: []string{in}})
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		rec, err := store.Get(context.Background(), id)
		if err != nil {
			t.Fatal(err)
		}
		if rec != nil && (rec.State == jobs.StateSuccess || rec.State == jobs.StateFailure) {
			if rec.State != jobs.StateSuccess {
				t.Fatalf("task failed: %+v", rec.Failure)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("task never finished")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}
