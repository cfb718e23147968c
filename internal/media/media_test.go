package media

import (
	"context"
	"image"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"golang.org/x/image/font/basicfont"

	"gifmill/internal/models"
	"gifmill/internal/pkg/errors"
)

func TestCreateFromImages(t *testing.T) {
	e, metrics, root := newTestExecutor(t, &fakeTools{})
	dir := workDir(t, root)

	var inputs []string
	for i := 0; i < 3; i++ {
		p := filepath.Join(dir, "frame"+string(rune('a'+i))+".png")
		writePNG(t, p, noisyImage(100, 100, int64(i)))
		inputs = append(inputs, p)
	}

	out, err := e.CreateFromImages(context.Background(), "task-1", CreateFromImagesRequest{
		Inputs:          inputs,
		OutputDir:       dir,
		FrameDurationMS: 200,
		LoopCount:       0,
	})
	if err != nil {
		t.Fatalf("CreateFromImages: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(out.Path), "output_") {
		t.Errorf("unexpected output name %s", out.Path)
	}

	anim, err := DecodeFile(out.Path)
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	if anim.Len() != 3 {
		t.Errorf("frames = %d, want 3", anim.Len())
	}
	for i, d := range anim.DelaysMS {
		if d != 200 {
			t.Errorf("frame %d delay = %d, want 200", i, d)
		}
	}
	if anim.LoopCount != 0 {
		t.Errorf("LoopCount = %d, want 0", anim.LoopCount)
	}
	if b := anim.Bounds(); b.Dx() != 100 || b.Dy() != 100 {
		t.Errorf("size = %v", b)
	}

	for _, p := range inputs {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("input %s not removed", filepath.Base(p))
		}
	}
	rows := metrics.all()
	if len(rows) != 1 || rows[0].Status != models.MetricStatusSuccess || rows[0].Tool != ToolGIFMaker {
		t.Fatalf("unexpected metrics %+v", rows)
	}
	if rows[0].InputFrames != 3 || rows[0].OutputSizeBytes < MinOutputSize || rows[0].TaskID != "task-1" {
		t.Errorf("unexpected metric row %+v", rows[0])
	}
}

func TestCreateFromImagesNoValidInputs(t *testing.T) {
	e, metrics, root := newTestExecutor(t, &fakeTools{})
	dir := workDir(t, root)

	tiny := filepath.Join(dir, "tiny.png")
	writeBytes(t, tiny, 10)
	missing := filepath.Join(dir, "missing.png")

	_, err := e.CreateFromImages(context.Background(), "task-2", CreateFromImagesRequest{
		Inputs:    []string{tiny, missing},
		OutputDir: dir,
	})
	if !errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "No valid images to create GIF.") {
		t.Errorf("unexpected message %v", err)
	}
	rows := metrics.all()
	if len(rows) != 1 || rows[0].Status != models.MetricStatusFailure {
		t.Fatalf("expected one failure metric, got %+v", rows)
	}
}

func TestFrameDurations(t *testing.T) {
	tests := []struct {
		name string
		req  CreateFromImagesRequest
		n    int
		want []int
	}{
		{"per frame floored", CreateFromImagesRequest{FrameDurations: []int{10, 50, 300}}, 3, []int{20, 50, 300}},
		{"length mismatch uses default", CreateFromImagesRequest{FrameDurations: []int{10}, FrameDurationMS: 250}, 2, []int{250, 250}},
		{"zero means 100", CreateFromImagesRequest{}, 2, []int{100, 100}},
		{"floor at 100", CreateFromImagesRequest{FrameDurationMS: 40}, 1, []int{100}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := frameDurations(tt.req, tt.n); !slices.Equal(got, tt.want) {
				t.Errorf("frameDurations = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEffectsExpandFrames(t *testing.T) {
	src := noisyImage(40, 30, 9)
	for name, frames := range map[string][]*image.NRGBA{"fade": fadeFrames(src), "zoom": zoomFrames(src)} {
		if len(frames) != effectSteps {
			t.Errorf("%s: %d frames, want %d", name, len(frames), effectSteps)
		}
		for _, f := range frames {
			if f.Bounds().Dx() != 40 || f.Bounds().Dy() != 30 {
				t.Errorf("%s: frame size %v", name, f.Bounds())
			}
		}
	}

	a := &Animation{}
	appendSubFrames(a, fadeFrames(src), 60)
	if a.DelaysMS[0] != 20 {
		t.Errorf("sub-frame delay = %d, want the 20ms floor", a.DelaysMS[0])
	}
}

func TestCreateFromImagesEffectPerImage(t *testing.T) {
	tests := []struct {
		name       string
		tinyFirst  bool
		effects    []string
		wantFrames int
	}{
		{"mixed", false, []string{"fade", "", "zoom"}, 6 + 1 + 6},
		{"fade on first only", false, []string{"fade"}, 6 + 1 + 1},
		{"none", false, nil, 3},
		{"case and spaces", false, []string{" Zoom ", "none", ""}, 6 + 1 + 1},
		// The skipped first image keeps its slot, so "fade" is not applied.
		{"skipped image keeps index", true, []string{"fade", "zoom", ""}, 6 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _, root := newTestExecutor(t, &fakeTools{})
			dir := workDir(t, root)

			var inputs []string
			for i := 0; i < 3; i++ {
				p := filepath.Join(dir, "img"+string(rune('a'+i))+".png")
				if i == 0 && tt.tinyFirst {
					writeBytes(t, p, 10)
				} else {
					writePNG(t, p, noisyImage(60, 40, int64(i+1)))
				}
				inputs = append(inputs, p)
			}

			out, err := e.CreateFromImages(context.Background(), "task-fx", CreateFromImagesRequest{
				Inputs:    inputs,
				OutputDir: dir,
				Effects:   tt.effects,
			})
			if err != nil {
				t.Fatalf("CreateFromImages: %v", err)
			}
			anim, err := DecodeFile(out.Path)
			if err != nil {
				t.Fatal(err)
			}
			if anim.Len() != tt.wantFrames {
				t.Errorf("frames = %d, want %d", anim.Len(), tt.wantFrames)
			}
		})
	}
}

func TestPresetSize(t *testing.T) {
	tests := []struct {
		preset       string
		srcW, srcH   int
		w, h         int
		wantW, wantH int
	}{
		{PresetSquare, 400, 300, 100, 100, 100, 100},
		{PresetSquare, 400, 300, 120, 80, 80, 80},
		{Preset16x9, 400, 300, 100, 100, 100, 56},
		{Preset4x3, 400, 300, 100, 100, 100, 75},
		{Preset3x2, 400, 300, 90, 200, 90, 60},
		{Preset2x1, 400, 300, 300, 100, 200, 100},
		{PresetGolden, 400, 300, 200, 200, 200, 123},
		{PresetFree, 400, 300, 50, 60, 50, 60},
		{"unknown", 400, 300, 50, 60, 50, 60},
		// No box falls back to the whole canvas.
		{Preset4x3, 400, 200, 0, 0, 266, 200},
		{PresetSquare, 80, 60, 0, 0, 60, 60},
	}
	for _, tt := range tests {
		w, h := PresetSize(tt.preset, tt.srcW, tt.srcH, tt.w, tt.h)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("PresetSize(%s, %dx%d, %dx%d) = %dx%d, want %dx%d",
				tt.preset, tt.srcW, tt.srcH, tt.w, tt.h, w, h, tt.wantW, tt.wantH)
		}
	}

	// Within the requested box, every ratio preset keeps its ratio.
	for _, p := range []string{Preset4x3, Preset16x9, Preset3x2, Preset2x1, PresetGolden} {
		w, h := PresetSize(p, 1920, 1080, 300, 300)
		if w > 300 || h > 300 {
			t.Errorf("%s: %dx%d leaves the 300x300 box", p, w, h)
		}
		if got, want := float64(w)/float64(h), presetRatios[p]; math.Abs(got-want)/want > 0.02 {
			t.Errorf("%s: ratio %.3f, want %.3f", p, got, want)
		}
	}
}

func TestCropPresetUsesRequestedBox(t *testing.T) {
	e, _, root := newTestExecutor(t, &fakeTools{})
	dir := workDir(t, root)
	in := filepath.Join(dir, "in.gif")
	writeNoisyGIF(t, in, 160, 120, []int{10, 10}, 0)

	out, err := e.Crop(context.Background(), "task-crop-169", CropRequest{
		Input: in, OutputDir: dir, X: 10, Y: 10, Width: 100, Height: 100, Preset: Preset16x9,
	})
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}
	anim, err := DecodeFile(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	if b := anim.Bounds(); b.Dx() != 100 || b.Dy() != 56 {
		t.Errorf("cropped size = %v, want 100x56", b)
	}
}

func TestClampRect(t *testing.T) {
	tests := []struct {
		name       string
		x, y, w, h int
		want       image.Rectangle
	}{
		{"inside", 10, 10, 50, 50, image.Rect(10, 10, 60, 60)},
		{"past right edge", 90, 0, 50, 50, image.Rect(50, 0, 100, 50)},
		{"negative origin", -5, -5, 20, 20, image.Rect(0, 0, 20, 20)},
		{"larger than canvas", 0, 0, 500, 500, image.Rect(0, 0, 100, 80)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClampRect(100, 80, tt.x, tt.y, tt.w, tt.h); got != tt.want {
				t.Errorf("ClampRect = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCrop(t *testing.T) {
	e, metrics, root := newTestExecutor(t, &fakeTools{})
	dir := workDir(t, root)
	in := filepath.Join(dir, "in.gif")
	writeNoisyGIF(t, in, 80, 60, []int{10, 20, 30}, 0)

	out, err := e.Crop(context.Background(), "task-crop", CropRequest{Input: in, OutputDir: dir, Preset: PresetSquare})
	if err != nil {
		t.Fatalf("Crop: %v", err)
	}
	anim, err := DecodeFile(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	if b := anim.Bounds(); b.Dx() != 60 || b.Dy() != 60 {
		t.Errorf("cropped size = %v, want 60x60", b)
	}
	if !slices.Equal(anim.DelaysMS, []int{100, 200, 300}) {
		t.Errorf("delays = %v", anim.DelaysMS)
	}
	if rows := metrics.all(); len(rows) != 1 || rows[0].InputWidth != 80 || rows[0].InputHeight != 60 {
		t.Errorf("unexpected metrics %+v", rows)
	}
}

func TestFitAspect(t *testing.T) {
	tests := []struct {
		srcW, srcH, w, h int
		wantW, wantH     int
	}{
		{400, 200, 100, 100, 100, 50},
		{200, 400, 100, 100, 50, 100},
		{300, 300, 120, 60, 60, 60},
	}
	for _, tt := range tests {
		w, h := FitAspect(tt.srcW, tt.srcH, tt.w, tt.h)
		if w != tt.wantW || h != tt.wantH {
			t.Errorf("FitAspect(%d,%d,%d,%d) = %dx%d, want %dx%d", tt.srcW, tt.srcH, tt.w, tt.h, w, h, tt.wantW, tt.wantH)
		}
	}
}

func TestResizeKeepsTimingAndLoop(t *testing.T) {
	e, _, root := newTestExecutor(t, &fakeTools{})
	dir := workDir(t, root)
	in := filepath.Join(dir, "in.gif")
	writeNoisyGIF(t, in, 64, 32, []int{5, 7}, 3)

	out, err := e.Resize(context.Background(), "task-resize", ResizeRequest{Input: in, OutputDir: dir, Width: 48, Height: 48, KeepAspect: true})
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(out.Path), "resized_") {
		t.Errorf("unexpected name %s", out.Path)
	}
	anim, err := DecodeFile(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	if b := anim.Bounds(); b.Dx() != 48 || b.Dy() != 24 {
		t.Errorf("size = %v, want 48x24", b)
	}
	if !slices.Equal(anim.DelaysMS, []int{50, 70}) || anim.LoopCount != 3 {
		t.Errorf("delays %v loop %d", anim.DelaysMS, anim.LoopCount)
	}
}

func TestResizeRejectsNonGIF(t *testing.T) {
	e, metrics, root := newTestExecutor(t, &fakeTools{})
	dir := workDir(t, root)
	in := filepath.Join(dir, "in.gif")
	writePNG(t, in, noisyImage(20, 20, 1))

	_, err := e.Resize(context.Background(), "t", ResizeRequest{Input: in, Width: 10, Height: 10})
	if !errors.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if rows := metrics.all(); len(rows) != 1 || rows[0].Status != models.MetricStatusFailure {
		t.Errorf("expected one failure row, got %+v", rows)
	}
}

func TestMissingInputIsNotFound(t *testing.T) {
	e, _, root := newTestExecutor(t, &fakeTools{})
	_, err := e.Reverse(context.Background(), "t", ReverseRequest{Input: filepath.Join(root, "nope.gif")})
	if !errors.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestReverseInvolution(t *testing.T) {
	a := solidAnimation(4, 4, 4, color.NRGBA{A: 255})
	a.DelaysMS = []int{10, 20, 30, 40}
	for i, f := range a.Frames {
		f.Pix[0] = uint8(i)
	}
	orig := slices.Clone(a.Frames)

	ReverseAnimation(a)
	if !slices.Equal(a.DelaysMS, []int{40, 30, 20, 10}) || a.Frames[0] != orig[3] {
		t.Fatalf("reverse did not flip order: %v", a.DelaysMS)
	}
	ReverseAnimation(a)
	if !slices.Equal(a.DelaysMS, []int{10, 20, 30, 40}) || !slices.Equal(a.Frames, orig) {
		t.Errorf("reverse twice is not identity: %v", a.DelaysMS)
	}
}

func TestReverseFile(t *testing.T) {
	e, _, root := newTestExecutor(t, &fakeTools{})
	dir := workDir(t, root)
	in := filepath.Join(dir, "in.gif")
	writeNoisyGIF(t, in, 40, 40, []int{10, 20, 30}, 2)

	out, err := e.Reverse(context.Background(), "t", ReverseRequest{Input: in, OutputDir: dir})
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	anim, err := DecodeFile(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(anim.DelaysMS, []int{300, 200, 100}) || anim.LoopCount != 2 {
		t.Errorf("delays %v loop %d", anim.DelaysMS, anim.LoopCount)
	}
}

func TestPlanOptimize(t *testing.T) {
	tests := []struct {
		quality, colors, lossy int
		want                   OptimizePlan
	}{
		{100, 256, 60, OptimizePlan{Colors: 200, Lossy: 0, Level: 2}},
		{85, 256, 60, OptimizePlan{Colors: 128, Lossy: 20, Level: 2}},
		{70, 32, 60, OptimizePlan{Colors: 32, Lossy: 60, Level: 3}},
		{30, 256, 60, OptimizePlan{Colors: 32, Lossy: 100, Level: 3}},
		{30, 256, 20, OptimizePlan{Colors: 32, Lossy: 40, Level: 3}},
	}
	for _, tt := range tests {
		if got := PlanOptimize(tt.quality, tt.colors, tt.lossy); got != tt.want {
			t.Errorf("PlanOptimize(%d,%d,%d) = %+v, want %+v", tt.quality, tt.colors, tt.lossy, got, tt.want)
		}
	}
}

func TestOptimizeWithGifsicle(t *testing.T) {
	tools := &fakeTools{}
	tools.handle = func(name string, args []string) ([]byte, error) {
		// copy the input to -o, shaving some bytes to look optimized
		in, out := args[len(args)-3], args[len(args)-1]
		data, err := os.ReadFile(in)
		if err != nil {
			return nil, err
		}
		return nil, os.WriteFile(out, data[:len(data)*3/4], 0o644)
	}
	e, _, root := newTestExecutor(t, tools)
	dir := workDir(t, root)
	in := filepath.Join(dir, "in.gif")
	writeNoisyGIF(t, in, 64, 64, []int{10, 10}, 0)
	st, _ := os.Stat(in)

	out, err := e.Optimize(context.Background(), "t", OptimizeRequest{Input: in, OutputDir: dir, Quality: 70, Colors: 256, Lossy: 30, Dither: true})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	calls := tools.callsTo("gifsicle")
	if len(calls) != 1 {
		t.Fatalf("expected one gifsicle call, got %d", len(calls))
	}
	args := strings.Join(calls[0].args, " ")
	for _, want := range []string{"--optimize=3", "--colors=64", "--lossy=30", "--dither", "--no-extensions", "--interlace"} {
		if !strings.Contains(args, want) {
			t.Errorf("gifsicle args %q missing %s", args, want)
		}
	}
	if out.Meta["method"] != "gifsicle" {
		t.Errorf("method = %v", out.Meta["method"])
	}
	if out.Meta["original_size"] != st.Size() {
		t.Errorf("original_size = %v, want %d", out.Meta["original_size"], st.Size())
	}
	if ratio, _ := out.Meta["compression_ratio"].(float64); ratio < 24 || ratio > 26 {
		t.Errorf("compression_ratio = %v, want about 25", out.Meta["compression_ratio"])
	}
}

func TestOptimizeFallback(t *testing.T) {
	tools := &fakeTools{handle: func(name string, args []string) ([]byte, error) {
		return nil, errors.Processing("media.ToolRunner", "gifsicle is not installed", io.EOF)
	}}
	e, metrics, root := newTestExecutor(t, tools)
	dir := workDir(t, root)
	in := filepath.Join(dir, "in.gif")
	writeNoisyGIF(t, in, 64, 64, []int{10, 10, 10}, 0)

	out, err := e.Optimize(context.Background(), "t", OptimizeRequest{Input: in, OutputDir: dir, Quality: 40, Colors: 256})
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if out.Meta["method"] != "fallback" {
		t.Errorf("method = %v", out.Meta["method"])
	}
	anim, err := DecodeFile(out.Path)
	if err != nil {
		t.Fatal(err)
	}
	if anim.Len() != 3 {
		t.Errorf("frames = %d", anim.Len())
	}
	if rows := metrics.all(); len(rows) != 1 || rows[0].Status != models.MetricStatusSuccess {
		t.Errorf("unexpected metrics %+v", rows)
	}
}

func TestCompressionRatio(t *testing.T) {
	if got := CompressionRatio(1000, 250); got != 75 {
		t.Errorf("ratio = %v", got)
	}
	if got := CompressionRatio(0, 10); got != 0 {
		t.Errorf("ratio with empty original = %v", got)
	}
}

func TestValidateSegments(t *testing.T) {
	tests := []struct {
		name     string
		segs     []Segment
		duration float64
		want     []Segment
		wantErr  bool
	}{
		{"sorted stable", []Segment{{4, 5}, {0, 1}, {2, 3}}, 10, []Segment{{0, 1}, {2, 3}, {4, 5}}, false},
		{"touching is fine", []Segment{{0, 2}, {2, 4}}, 10, []Segment{{0, 2}, {2, 4}}, false},
		{"overlap", []Segment{{0, 3}, {2, 4}}, 10, nil, true},
		{"negative start", []Segment{{-1, 2}}, 10, nil, true},
		{"empty window", []Segment{{3, 3}}, 10, nil, true},
		{"past duration", []Segment{{8, 12}}, 10, nil, true},
		{"unknown duration", []Segment{{8, 12}}, 0, []Segment{{8, 12}}, false},
		{"none", nil, 10, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateSegments(tt.segs, tt.duration)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsValidation(err) {
				t.Errorf("expected validation code, got %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConvertVideo(t *testing.T) {
	tools := &fakeTools{}
	tools.handle = func(name string, args []string) ([]byte, error) {
		switch name {
		case "ffprobe":
			if slices.Contains(args, "format=duration") {
				return []byte("12.5\n"), nil
			}
			return []byte("audio\n"), nil
		case "ffmpeg":
			return nil, os.WriteFile(args[len(args)-1], make([]byte, 4096), 0o644)
		}
		return nil, nil
	}
	e, metrics, root := newTestExecutor(t, tools)
	dir := workDir(t, root)
	in := filepath.Join(dir, "clip.mp4")
	writeBytes(t, in, 2048)

	out, err := e.ConvertVideo(context.Background(), "task-v", ConvertVideoRequest{
		Input:        in,
		OutputDir:    dir,
		Segments:     []Segment{{5, 6}, {1, 2}},
		FPS:          12,
		Width:        320,
		Height:       180,
		IncludeAudio: true,
	})
	if err != nil {
		t.Fatalf("ConvertVideo: %v", err)
	}

	ffmpeg := tools.callsTo("ffmpeg")
	if len(ffmpeg) != 2 {
		t.Fatalf("expected gif and mp4 encodes, got %d", len(ffmpeg))
	}
	gifArgs := strings.Join(ffmpeg[0].args, " ")
	if !strings.Contains(gifArgs, "select='between(t,1,2)+between(t,5,6)',setpts=N/FRAME_RATE/TB,fps=12,scale=320:180:flags=lanczos") {
		t.Errorf("unexpected gif filter: %s", gifArgs)
	}
	mp4Args := strings.Join(ffmpeg[1].args, " ")
	if !strings.Contains(mp4Args, "-c:v libx264") || !strings.Contains(mp4Args, "-c:a aac") {
		t.Errorf("unexpected mp4 args: %s", mp4Args)
	}
	if out.Secondary == nil || out.Secondary.Status != SecondarySucceeded || !strings.HasSuffix(out.Secondary.Path, ".mp4") {
		t.Errorf("secondary = %+v", out.Secondary)
	}
	if strings.HasPrefix(out.Secondary.Path, "/") {
		t.Errorf("secondary path must be relative: %s", out.Secondary.Path)
	}
	if rows := metrics.all(); len(rows) != 1 || rows[0].Tool != ToolVideoToGIF || rows[0].InputType != "video" {
		t.Errorf("unexpected metrics %+v", rows)
	}
}

func TestConvertVideoAudioFailureKeepsGIF(t *testing.T) {
	tools := &fakeTools{}
	tools.handle = func(name string, args []string) ([]byte, error) {
		switch name {
		case "ffprobe":
			return []byte(""), nil
		case "ffmpeg":
			return nil, os.WriteFile(args[len(args)-1], make([]byte, 4096), 0o644)
		}
		return nil, nil
	}
	e, _, root := newTestExecutor(t, tools)
	dir := workDir(t, root)
	in := filepath.Join(dir, "clip.mp4")
	writeBytes(t, in, 2048)

	b := 0.1
	out, err := e.ConvertVideo(context.Background(), "t", ConvertVideoRequest{
		Input: in, OutputDir: dir, Start: 1, Duration: 3, FPS: 10, Width: 100, Height: 100,
		IncludeAudio: true, Brightness: &b,
	})
	if err != nil {
		t.Fatalf("ConvertVideo: %v", err)
	}
	if out.Secondary.Status != SecondaryFailed {
		t.Errorf("secondary = %+v", out.Secondary)
	}
	args := strings.Join(tools.callsTo("ffmpeg")[0].args, " ")
	if !strings.Contains(args, "-ss 1 -t 3") || !strings.Contains(args, "eq=brightness=0.1:contrast=1,fps=10") {
		t.Errorf("unexpected args %s", args)
	}
}

func TestConvertVideoRejectsSmallOutput(t *testing.T) {
	tools := &fakeTools{handle: func(name string, args []string) ([]byte, error) {
		return nil, os.WriteFile(args[len(args)-1], []byte("GIF89a"), 0o644)
	}}
	e, _, root := newTestExecutor(t, tools)
	dir := workDir(t, root)
	in := filepath.Join(dir, "clip.mp4")
	writeBytes(t, in, 2048)

	_, err := e.ConvertVideo(context.Background(), "t", ConvertVideoRequest{Input: in, Duration: 1, Width: 10, Height: 10})
	if !errors.IsCode(err, errors.CodeOutputInvalid) {
		t.Fatalf("expected output invalid, got %v", err)
	}
}

func TestFrameRange(t *testing.T) {
	end := 0.9
	tests := []struct {
		name           string
		start          float64
		end            *float64
		delay, frames  int
		wantS, wantEnd int
	}{
		{"explicit end", 0, &end, 100, 10, 0, 9},
		{"open end", 0.2, nil, 100, 10, 2, 9},
		{"zero delay means 10fps", 0.5, nil, 0, 20, 5, 19},
		{"50ms frames", 0.5, &end, 50, 40, 10, 18},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, e := FrameRange(tt.start, tt.end, tt.delay, tt.frames)
			if s != tt.wantS || e != tt.wantEnd {
				t.Errorf("FrameRange = %d..%d, want %d..%d", s, e, tt.wantS, tt.wantEnd)
			}
		})
	}
}

func TestWrapText(t *testing.T) {
	face := basicfont.Face7x13
	tests := []struct {
		text  string
		width int
		want  []string
	}{
		{"hello world foo", 77, []string{"hello world", "foo"}},
		{"one\ntwo three", 200, []string{"one", "two three"}},
		{"supercalifragilistic", 20, []string{"supercalifragilistic"}},
		{"", 100, nil},
	}
	for _, tt := range tests {
		if got := WrapText(tt.text, face, tt.width); !slices.Equal(got, tt.want) {
			t.Errorf("WrapText(%q, %d) = %q, want %q", tt.text, tt.width, got, tt.want)
		}
	}
}

func TestDrawLayerFrameRange(t *testing.T) {
	e, _, _ := newTestExecutor(t, &fakeTools{})
	anim := solidAnimation(10, 80, 40, color.NRGBA{A: 255})
	budget := e.cfg.Budget.Apply(anim)

	layer := TextLayer{Text: "Hi", FontSize: 20, StartFrame: 2, EndFrame: 4}.withDefaults()
	if err := e.drawLayer(anim, layer, budget); err != nil {
		t.Fatalf("drawLayer: %v", err)
	}
	for i, f := range anim.Frames {
		drawn := hasLightPixel(f)
		if want := i >= 2 && i <= 4; drawn != want {
			t.Errorf("frame %d drawn=%v, want %v", i, drawn, want)
		}
	}
}

func TestDrawLayerFadeStartsInvisible(t *testing.T) {
	e, _, _ := newTestExecutor(t, &fakeTools{})
	anim := solidAnimation(5, 80, 40, color.NRGBA{A: 255})
	budget := e.cfg.Budget.Apply(anim)

	layer := TextLayer{Text: "Hi", FontSize: 20, StartFrame: 0, EndFrame: 4, AnimationStyle: AnimFade}.withDefaults()
	if err := e.drawLayer(anim, layer, budget); err != nil {
		t.Fatal(err)
	}
	if hasLightPixel(anim.Frames[0]) {
		t.Error("fade must start fully transparent")
	}
	if !hasLightPixel(anim.Frames[4]) {
		t.Error("fade must end opaque")
	}
}

func TestDrawLayerRejectsBadColor(t *testing.T) {
	e, _, _ := newTestExecutor(t, &fakeTools{})
	anim := solidAnimation(1, 10, 10, color.NRGBA{A: 255})
	layer := TextLayer{Text: "x", Color: "#zzz"}.withDefaults()
	if err := e.drawLayer(anim, layer, BudgetResult{Scale: 1}); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestAddTextAutoFitShrinks(t *testing.T) {
	e, _, _ := newTestExecutor(t, &fakeTools{})
	layer := TextLayer{Text: "a very long caption that wraps onto many lines", FontSize: 60}.withDefaults()
	block := e.layout(layer, 100, 60, 1)
	defer block.face.Close()
	if float64(block.height) > 0.95*60 && block.lineHeight > 10 {
		t.Errorf("auto-fit left block height %d on a 60px canvas", block.height)
	}
}

func TestAddText(t *testing.T) {
	e, metrics, root := newTestExecutor(t, &fakeTools{})
	dir := workDir(t, root)
	in := filepath.Join(dir, "in.gif")
	writeNoisyGIF(t, in, 60, 40, []int{10, 10, 10, 10}, 0)

	out, err := e.AddText(context.Background(), "t", AddTextRequest{
		Input:     in,
		OutputDir: dir,
		Layers:    []TextLayer{{Text: "Café", FontSize: 14, StrokeWidth: 1, EndFrame: -1}},
	})
	if err != nil {
		t.Fatalf("AddText: %v", err)
	}
	if !strings.HasPrefix(filepath.Base(out.Path), "text_") {
		t.Errorf("unexpected name %s", out.Path)
	}
	if rows := metrics.all(); len(rows) != 1 || rows[0].Tool != ToolAddText {
		t.Errorf("unexpected metrics %+v", rows)
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in      string
		want    color.NRGBA
		wantErr bool
	}{
		{"#fff", color.NRGBA{255, 255, 255, 255}, false},
		{"#ff000080", color.NRGBA{255, 0, 0, 128}, false},
		{"Black", color.NRGBA{0, 0, 0, 255}, false},
		{"#12345", color.NRGBA{}, true},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseColor(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestClassify(t *testing.T) {
	dir := t.TempDir()

	gifPath := filepath.Join(dir, "a.bin")
	writeNoisyGIF(t, gifPath, 8, 8, []int{10}, 0)
	pngPath := filepath.Join(dir, "b.bin")
	writePNG(t, pngPath, noisyImage(8, 8, 1))
	mp4Path := filepath.Join(dir, "c.bin")
	mp4 := append([]byte{0, 0, 0, 0x18}, []byte("ftypmp42\x00\x00\x00\x00isommp42")...)
	mp4 = append(mp4, make([]byte, 64)...)
	if err := os.WriteFile(mp4Path, mp4, 0o644); err != nil {
		t.Fatal(err)
	}
	txtPath := filepath.Join(dir, "d.bin")
	if err := os.WriteFile(txtPath, []byte("just some text"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := map[string]Classification{gifPath: GIFInput, pngPath: ImageInput, mp4Path: VideoInput, txtPath: OtherInput}
	for path, want := range tests {
		got, err := Classify(path)
		if err != nil {
			t.Fatalf("Classify(%s): %v", filepath.Base(path), err)
		}
		if got != want {
			t.Errorf("Classify(%s) = %s, want %s", filepath.Base(path), got, want)
		}
	}
}

func TestProbeGIF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "p.gif")
	writeNoisyGIF(t, path, 16, 8, []int{10, 20, 30}, 0)

	info, err := ProbeGIF(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Frames != 3 || info.FirstDelayMS != 100 || info.DurationMS != 600 || info.Width != 16 {
		t.Errorf("unexpected info %+v", info)
	}
	if info.Duration() != 0.6 {
		t.Errorf("Duration() = %v", info.Duration())
	}
}

func hasLightPixel(f *image.NRGBA) bool {
	for p := 0; p < len(f.Pix); p += 4 {
		if f.Pix[p] > 128 && f.Pix[p+1] > 128 && f.Pix[p+2] > 128 {
			return true
		}
	}
	return false
}
