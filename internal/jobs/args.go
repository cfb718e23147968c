package jobs

import "gifmill/internal/media"

// FetchArgs downloads URL into Dir.
type FetchArgs struct {
	URL      string `json:"url"`
	Dir      string `json:"dir"`
	MaxBytes int64  `json:"max_bytes"`
}

type ConvertVideoArgs struct {
	OutputDir    string          `json:"output_dir"`
	Segments     []media.Segment `json:"segments,omitempty"`
	Start        float64         `json:"start"`
	Duration     float64         `json:"duration"`
	FPS          int             `json:"fps"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	IncludeAudio bool            `json:"include_audio"`
	Brightness   *float64        `json:"brightness,omitempty"`
	Contrast     *float64        `json:"contrast,omitempty"`
}

type CreateFromImagesArgs struct {
	OutputDir       string   `json:"output_dir"`
	FrameDurationMS int      `json:"frame_duration"`
	FrameDurations  []int    `json:"frame_durations,omitempty"`
	LoopCount       int      `json:"loop_count"`
	Quality         string   `json:"quality"`
	Effects         []string `json:"effects,omitempty"`
}

type ResizeArgs struct {
	OutputDir  string          `json:"output_dir"`
	Width      int             `json:"width"`
	Height     int             `json:"height"`
	KeepAspect bool            `json:"keep_aspect"`
	InputType  media.InputKind `json:"input_type,omitempty"`
}

type CropArgs struct {
	OutputDir string `json:"output_dir"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Preset    string `json:"preset"`
}

type OptimizeArgs struct {
	OutputDir      string `json:"output_dir"`
	Quality        int    `json:"quality"`
	Colors         int    `json:"colors"`
	Lossy          int    `json:"lossy"`
	Dither         bool   `json:"dither"`
	OptimizeFrames bool   `json:"optimize_frames"`
}

type ReverseArgs struct {
	OutputDir string `json:"output_dir"`
}

// LayerSpec is a text layer. When Timed is set the worker turns StartTime
// and EndTime (seconds) into frame indices once it can probe the GIF;
// otherwise StartFrame and EndFrame are used as given.
type LayerSpec struct {
	media.TextLayer
	Timed     bool     `json:"timed,omitempty"`
	StartTime float64  `json:"start_time"`
	EndTime   *float64 `json:"end_time,omitempty"`
	// FontURL is fetched through the URL guard before rendering.
	FontURL string `json:"font_url,omitempty"`
}

type AddTextArgs struct {
	OutputDir string      `json:"output_dir"`
	Layers    []LayerSpec `json:"layers"`
}

// RouteResizeArgs carries the resize request plus what a video needs to be
// turned into a GIF first.
type RouteResizeArgs struct {
	Resize ResizeArgs `json:"resize"`
	// Video conversion defaults: 10s from the start at 10fps.
	Convert ConvertVideoArgs `json:"convert"`
}

// OrchestrateArgs is the gif-maker-from-URLs request.
type OrchestrateArgs struct {
	URLs     []string             `json:"urls"`
	MaxBytes int64                `json:"max_bytes"`
	Create   CreateFromImagesArgs `json:"create"`
}
