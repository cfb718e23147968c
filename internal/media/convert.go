package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gifmill/internal/pkg/errors"
)

// Segment is a [Start, End) window of the source video in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type ConvertVideoRequest struct {
	Input     string
	OutputDir string
	// Segments wins over Start/Duration when present.
	Segments     []Segment
	Start        float64
	Duration     float64
	FPS          int
	Width        int
	Height       int
	IncludeAudio bool
	Brightness   *float64
	Contrast     *float64
}

// Options renders the metric option string.
func (r ConvertVideoRequest) Options() string {
	return fmt.Sprintf("fps=%d; size=%dx%d; start=%g; duration=%g; segments=%d; audio=%t",
		r.FPS, r.Width, r.Height, r.Start, r.Duration, len(r.Segments), r.IncludeAudio)
}

// ValidateSegments sorts segs by start (stable) and rejects negative starts,
// empty windows, overlaps and windows past duration. duration <= 0 skips
// the upper bound check.
func ValidateSegments(segs []Segment, duration float64) ([]Segment, error) {
	if len(segs) == 0 {
		return nil, errors.Validation("At least one segment is required.")
	}
	sorted := make([]Segment, len(segs))
	copy(sorted, segs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	for i, s := range sorted {
		if s.Start < 0 {
			return nil, errors.Validationf("Segment %d starts before the beginning of the video.", i+1)
		}
		if s.End <= s.Start {
			return nil, errors.Validationf("Segment %d must end after it starts.", i+1)
		}
		if duration > 0 && s.End > duration+0.001 {
			return nil, errors.Validationf("Segment %d ends after the video (%.2fs).", i+1, duration)
		}
		if i > 0 && s.Start < sorted[i-1].End {
			return nil, errors.Validation("Segments must not overlap.")
		}
	}
	return sorted, nil
}

// ConvertVideo turns a video into a GIF. With IncludeAudio an MP4 with audio
// is attempted as well; its outcome lands in Secondary.
func (e *Executor) ConvertVideo(ctx context.Context, taskID string, req ConvertVideoRequest) (*Outcome, error) {
	inv := Invocation{
		Tool:      ToolVideoToGIF,
		TaskID:    taskID,
		InputType: InputVideo,
		Inputs:    []string{req.Input},
		Options:   req.Options(),
	}
	return e.Run(ctx, inv, func(ctx context.Context, _ []string) (*Outcome, error) {
		return e.convertVideo(ctx, req)
	})
}

func (e *Executor) convertVideo(ctx context.Context, req ConvertVideoRequest) (*Outcome, error) {
	if req.FPS <= 0 {
		req.FPS = 10
	}
	if req.Width <= 0 || req.Height <= 0 {
		return nil, errors.Validation("Width and height must be positive.")
	}

	segs := req.Segments
	if len(segs) > 0 {
		duration, err := ProbeDuration(ctx, e.tools, req.Input)
		if err != nil {
			e.log.FromContext(ctx).Warn("duration probe failed, skipping bound check", "error", err.Error())
			duration = 0
		}
		if segs, err = ValidateSegments(segs, duration); err != nil {
			return nil, err
		}
	} else {
		if req.Start < 0 || req.Duration <= 0 {
			return nil, errors.Validation("Start must be >= 0 and duration must be positive.")
		}
	}

	dir := req.OutputDir
	if dir == "" {
		dir = filepath.Dir(req.Input)
	}
	gifPath := OutputPath(dir, "output", ".gif")
	args := gifArgs(req, segs, gifPath)
	if _, err := e.tools.Run(ctx, "ffmpeg", args...); err != nil {
		return nil, err
	}

	out := &Outcome{
		Path:      gifPath,
		Input:     InputStats{Width: req.Width, Height: req.Height},
		Secondary: &Secondary{Status: SecondaryNotAttempted},
	}
	if req.IncludeAudio {
		out.Secondary = e.muxAudio(ctx, req, segs, dir)
	}
	return out, nil
}

func videoFilters(req ConvertVideoRequest) []string {
	var filters []string
	if req.Brightness != nil || req.Contrast != nil {
		b, c := 0.0, 1.0
		if req.Brightness != nil {
			b = *req.Brightness
		}
		if req.Contrast != nil {
			c = *req.Contrast
		}
		filters = append(filters, "eq=brightness="+ftoa(b)+":contrast="+ftoa(c))
	}
	return filters
}

func selectExpr(segs []Segment) string {
	parts := make([]string, len(segs))
	for i, s := range segs {
		parts[i] = "between(t," + ftoa(s.Start) + "," + ftoa(s.End) + ")"
	}
	return "'" + strings.Join(parts, "+") + "'"
}

func gifArgs(req ConvertVideoRequest, segs []Segment, out string) []string {
	scale := fmt.Sprintf("scale=%d:%d:flags=lanczos", req.Width, req.Height)
	fps := "fps=" + strconv.Itoa(req.FPS)

	if len(segs) == 0 {
		vf := append(videoFilters(req), fps, scale)
		return []string{
			"-ss", ftoa(req.Start), "-t", ftoa(req.Duration),
			"-i", req.Input,
			"-vf", strings.Join(vf, ","),
			"-y", out,
		}
	}
	vf := append([]string{"select=" + selectExpr(segs), "setpts=N/FRAME_RATE/TB"}, videoFilters(req)...)
	vf = append(vf, fps, scale)
	return []string{"-i", req.Input, "-vf", strings.Join(vf, ","), "-y", out}
}

func mp4Args(req ConvertVideoRequest, segs []Segment, out string) []string {
	scale := fmt.Sprintf("scale=%d:%d:flags=lanczos", req.Width, req.Height)
	tail := []string{"-c:v", "libx264", "-pix_fmt", "yuv420p", "-c:a", "aac", "-movflags", "+faststart", "-y", out}

	if len(segs) == 0 {
		vf := append(videoFilters(req), scale)
		args := []string{"-ss", ftoa(req.Start), "-t", ftoa(req.Duration), "-i", req.Input, "-vf", strings.Join(vf, ",")}
		return append(args, tail...)
	}
	sel := selectExpr(segs)
	vf := append([]string{"select=" + sel, "setpts=N/FRAME_RATE/TB"}, videoFilters(req)...)
	vf = append(vf, scale)
	args := []string{
		"-i", req.Input,
		"-vf", strings.Join(vf, ","),
		"-af", "aselect=" + sel + ",asetpts=N/SR/TB",
	}
	return append(args, tail...)
}

func (e *Executor) muxAudio(ctx context.Context, req ConvertVideoRequest, segs []Segment, dir string) *Secondary {
	log := e.log.FromContext(ctx).WithTool(ToolVideoToGIF)

	ok, err := HasAudio(ctx, e.tools, req.Input)
	if err != nil {
		log.Warn("audio probe failed", "error", err.Error())
		return &Secondary{Status: SecondaryFailed, Error: errors.UserMessage(err, "audio probe failed")}
	}
	if !ok {
		return &Secondary{Status: SecondaryFailed, Error: "source has no audio stream"}
	}

	mp4Path := OutputPath(dir, "output", ".mp4")
	if _, err := e.tools.RunTimeout(ctx, e.cfg.AudioMuxTimeout, "ffmpeg", mp4Args(req, segs, mp4Path)...); err != nil {
		_ = os.Remove(mp4Path)
		log.Warn("mp4 with audio failed", "error", err.Error())
		return &Secondary{Status: SecondaryFailed, Error: "mp4 encoding failed"}
	}
	if _, err := ValidateOutput(mp4Path); err != nil {
		_ = os.Remove(mp4Path)
		return &Secondary{Status: SecondaryFailed, Error: "mp4 output invalid"}
	}
	return &Secondary{Status: SecondarySucceeded, Path: e.Rel(mp4Path)}
}

func ftoa(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
