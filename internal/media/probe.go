package media

import (
	"bufio"
	"context"
	"fmt"
	"image/gif"
	"os"
	"strconv"
	"strings"

	"gifmill/internal/pkg/errors"
)

// GIFInfo summarises an animation without compositing it.
type GIFInfo struct {
	Width        int `json:"width"`
	Height       int `json:"height"`
	Frames       int `json:"frame_count"`
	FirstDelayMS int `json:"first_delay_ms"`
	DurationMS   int `json:"duration_ms"`
	LoopCount    int `json:"loop_count"`
}

// Duration returns the total play time in seconds.
func (g GIFInfo) Duration() float64 { return float64(g.DurationMS) / 1000 }

// ProbeGIF reads frame count and timing from the GIF at path.
func ProbeGIF(path string) (GIFInfo, error) {
	ok, err := IsGIFFile(path)
	if err != nil {
		return GIFInfo{}, errors.NotFound("gif", path)
	}
	if !ok {
		return GIFInfo{}, errors.Validation("Uploaded file is not a valid GIF.")
	}
	f, err := os.Open(path)
	if err != nil {
		return GIFInfo{}, err
	}
	defer f.Close()

	g, err := gif.DecodeAll(bufio.NewReader(f))
	if err != nil {
		return GIFInfo{}, errors.WrapWithCode(err, errors.CodeValidation, "media.ProbeGIF", "Uploaded file is not a valid GIF.")
	}
	info := GIFInfo{
		Width:     g.Config.Width,
		Height:    g.Config.Height,
		Frames:    len(g.Image),
		LoopCount: g.LoopCount,
	}
	for i, d := range g.Delay {
		if i == 0 {
			info.FirstDelayMS = d * 10
		}
		info.DurationMS += d * 10
	}
	return info, nil
}

// ProbeDuration asks ffprobe for the container duration in seconds.
func ProbeDuration(ctx context.Context, tools Tools, path string) (float64, error) {
	out, err := tools.Run(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, err
	}
	d, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration %q: %w", strings.TrimSpace(string(out)), err)
	}
	return d, nil
}

// HasAudio reports whether the first audio stream exists.
func HasAudio(ctx context.Context, tools Tools, path string) (bool, error) {
	out, err := tools.Run(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_type",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return false, err
	}
	return strings.Contains(string(out), "audio"), nil
}
