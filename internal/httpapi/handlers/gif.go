package handlers

import (
	"net/http"

	"gifmill/internal/httpkit"
	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/pkg/errors"
)

type videoRequest struct {
	URL          string          `json:"url"`
	StartTime    float64         `json:"start_time"`
	Duration     float64         `json:"duration"`
	FPS          int             `json:"fps"`
	Width        int             `json:"width"`
	Height       int             `json:"height"`
	IncludeAudio bool            `json:"include_audio"`
	Segments     []media.Segment `json:"segments"`
	Brightness   *float64        `json:"brightness"`
	Contrast     *float64        `json:"contrast"`
}

func defaultVideoRequest() videoRequest {
	return videoRequest{Duration: 10, FPS: 10, Width: 480, Height: 360}
}

func (v videoRequest) validate() error {
	switch {
	case v.FPS <= 0:
		return errors.ValidationField("fps", "fps must be positive")
	case v.Width <= 0 || v.Height <= 0:
		return errors.Validation("width and height must be positive")
	case len(v.Segments) == 0 && v.Duration <= 0:
		return errors.ValidationField("duration", "duration must be positive")
	case v.StartTime < 0:
		return errors.ValidationField("start_time", "start_time must not be negative")
	}
	return nil
}

func (v videoRequest) args(dir string) jobs.ConvertVideoArgs {
	return jobs.ConvertVideoArgs{
		OutputDir:    dir,
		Segments:     v.Segments,
		Start:        v.StartTime,
		Duration:     v.Duration,
		FPS:          v.FPS,
		Width:        v.Width,
		Height:       v.Height,
		IncludeAudio: v.IncludeAudio,
		Brightness:   v.Brightness,
		Contrast:     v.Contrast,
	}
}

func videoFromForm(f httpkit.Form) (videoRequest, error) {
	v := defaultVideoRequest()
	var err error
	if v.StartTime, err = f.Float("start_time", v.StartTime); err != nil {
		return v, err
	}
	if v.Duration, err = f.Float("duration", v.Duration); err != nil {
		return v, err
	}
	if v.FPS, err = f.Int("fps", v.FPS); err != nil {
		return v, err
	}
	if v.Width, err = f.Int("width", v.Width); err != nil {
		return v, err
	}
	if v.Height, err = f.Int("height", v.Height); err != nil {
		return v, err
	}
	if v.Brightness, err = f.OptionalFloat("brightness"); err != nil {
		return v, err
	}
	if v.Contrast, err = f.OptionalFloat("contrast"); err != nil {
		return v, err
	}
	if err = f.JSON("segments", &v.Segments); err != nil {
		return v, err
	}
	v.IncludeAudio = f.Bool("include_audio", false)
	v.URL = f.String("url", "")
	return v, nil
}

// VideoToGIF accepts a video upload or URL (multipart, or JSON with a url)
// and submits the conversion.
func (h *Handler) VideoToGIF(w http.ResponseWriter, r *http.Request) (err error) {
	ctx := r.Context()

	var req videoRequest
	if isJSON(r) {
		req = defaultVideoRequest()
		if err := decodeJSON(r, &req); err != nil {
			return err
		}
		if req.URL == "" {
			return errors.Validation("No URL provided")
		}
	} else {
		if err := parseForm(r); err != nil {
			return err
		}
		if req, err = videoFromForm(httpkit.NewForm(r)); err != nil {
			return err
		}
	}
	if err := req.validate(); err != nil {
		return err
	}

	dir, err := h.workDir()
	if err != nil {
		return err
	}
	defer h.discardOnError(ctx, dir, &err)

	op := jobs.Task{Kind: jobs.KindConvertVideo, Args: req.args(dir)}
	var id string
	if req.URL != "" {
		var fetch jobs.Task
		if fetch, err = h.fetchStage(req.URL, dir); err == nil {
			id, err = h.orch.SubmitChain(ctx, fetch, op)
		}
	} else {
		var path string
		if path, err = saveUpload(r, "file", dir, videoExtensions); err == nil {
			op.Inputs = []string{path}
			id, err = h.orch.Submit(ctx, op)
		}
	}
	return h.accepted(w, r, jobs.KindConvertVideo, id, err)
}

// GIFMaker builds a GIF from uploaded images, or from image URLs through
// the download-then-build orchestration.
func (h *Handler) GIFMaker(w http.ResponseWriter, r *http.Request) (err error) {
	ctx := r.Context()
	if err := parseForm(r); err != nil {
		return err
	}
	form := httpkit.NewForm(r)

	create := jobs.CreateFromImagesArgs{Quality: form.String("quality", "high")}
	if create.FrameDurationMS, err = form.Int("frame_duration", 500); err != nil {
		return err
	}
	if create.LoopCount, err = form.Int("loop_count", 0); err != nil {
		return err
	}
	// Malformed per-frame durations and effects fall back to the defaults.
	if form.JSON("frame_durations", &create.FrameDurations) != nil {
		create.FrameDurations = nil
	}
	if form.JSON("effects", &create.Effects) != nil {
		create.Effects = nil
	}

	if urls := form.Values("urls"); len(urls) > 0 {
		for _, u := range urls {
			if _, err := h.fetcher.CheckURL(u); err != nil {
				return h.accepted(w, r, jobs.KindOrchestrateFromURLs, "", err)
			}
		}
		id, err := h.orch.Submit(ctx, jobs.Task{
			Kind: jobs.KindOrchestrateFromURLs,
			Args: jobs.OrchestrateArgs{URLs: urls, MaxBytes: h.maxBytes, Create: create},
		})
		return h.accepted(w, r, jobs.KindOrchestrateFromURLs, id, err)
	}

	files := uploaded(r, "files")
	if len(files) == 0 {
		return errors.Validation("No files provided")
	}
	dir, err := h.workDir()
	if err != nil {
		return err
	}
	defer h.discardOnError(ctx, dir, &err)

	var images []string
	for _, fh := range files {
		if fh.Filename == "" || !allowedFile(fh.Filename, imageExtensions) {
			continue
		}
		path, err := saveFile(fh, dir, imageExtensions)
		if err != nil {
			return err
		}
		images = append(images, path)
	}
	if len(images) == 0 {
		return errors.Validation("No valid images or URLs provided")
	}

	create.OutputDir = dir
	id, err := h.orch.Submit(ctx, jobs.Task{Kind: jobs.KindCreateFromImages, Inputs: images, Args: create})
	return h.accepted(w, r, jobs.KindCreateFromImages, id, err)
}

// Resize resizes an uploaded GIF. A URL may point at a GIF or a video; the
// worker decides which after the download.
func (h *Handler) Resize(w http.ResponseWriter, r *http.Request) (err error) {
	ctx := r.Context()
	if err := parseForm(r); err != nil {
		return err
	}
	form := httpkit.NewForm(r)

	resize := jobs.ResizeArgs{KeepAspect: form.Bool("maintain_aspect_ratio", true)}
	if resize.Width, err = form.Int("width", 300); err != nil {
		return err
	}
	if resize.Height, err = form.Int("height", 300); err != nil {
		return err
	}
	if resize.Width <= 0 || resize.Height <= 0 {
		return errors.Validation("width and height must be positive")
	}

	dir, err := h.workDir()
	if err != nil {
		return err
	}
	defer h.discardOnError(ctx, dir, &err)
	resize.OutputDir = dir

	var id string
	if form.Has("url") {
		var fetch jobs.Task
		if fetch, err = h.fetchStage(form.String("url", ""), dir); err == nil {
			id, err = h.orch.SubmitChain(ctx, fetch, jobs.Task{
				Kind: jobs.KindRouteResize,
				Args: jobs.RouteResizeArgs{
					Resize:  resize,
					Convert: jobs.ConvertVideoArgs{OutputDir: dir, Duration: 10, FPS: 10, Width: resize.Width, Height: resize.Height},
				},
			})
		}
		return h.accepted(w, r, jobs.KindRouteResize, id, err)
	}

	id, err = h.submitOnInput(ctx, r, dir, gifExtensions, jobs.Task{Kind: jobs.KindResize, Args: resize})
	return h.accepted(w, r, jobs.KindResize, id, err)
}

func (h *Handler) Crop(w http.ResponseWriter, r *http.Request) (err error) {
	ctx := r.Context()
	if err := parseForm(r); err != nil {
		return err
	}
	form := httpkit.NewForm(r)

	crop := jobs.CropArgs{Preset: form.String("aspect_ratio", media.PresetFree)}
	if crop.X, err = form.Int("x", 0); err != nil {
		return err
	}
	if crop.Y, err = form.Int("y", 0); err != nil {
		return err
	}
	if crop.Width, err = form.Int("width", 100); err != nil {
		return err
	}
	if crop.Height, err = form.Int("height", 100); err != nil {
		return err
	}
	if crop.X < 0 || crop.Y < 0 || crop.Width <= 0 || crop.Height <= 0 {
		return errors.Validation("Crop rectangle must have a non-negative origin and a positive size")
	}

	dir, err := h.workDir()
	if err != nil {
		return err
	}
	defer h.discardOnError(ctx, dir, &err)
	crop.OutputDir = dir

	id, err := h.submitOnInput(ctx, r, dir, gifExtensions, jobs.Task{Kind: jobs.KindCrop, Args: crop})
	return h.accepted(w, r, jobs.KindCrop, id, err)
}

func (h *Handler) Optimize(w http.ResponseWriter, r *http.Request) (err error) {
	ctx := r.Context()
	if err := parseForm(r); err != nil {
		return err
	}
	form := httpkit.NewForm(r)

	opt := jobs.OptimizeArgs{Dither: form.String("dither", "floyd-steinberg") != "none"}
	if opt.Quality, err = form.Int("quality", 80); err != nil {
		return err
	}
	if opt.Colors, err = form.Int("colors", 256); err != nil {
		return err
	}
	if opt.Lossy, err = form.Int("lossy", 0); err != nil {
		return err
	}
	level, err := form.Int("optimize_level", 3)
	if err != nil {
		return err
	}
	opt.OptimizeFrames = level > 0
	if opt.Quality < 1 || opt.Quality > 100 {
		return errors.ValidationField("quality", "quality must be between 1 and 100")
	}
	if opt.Colors < 2 || opt.Colors > 256 {
		return errors.ValidationField("colors", "colors must be between 2 and 256")
	}

	dir, err := h.workDir()
	if err != nil {
		return err
	}
	defer h.discardOnError(ctx, dir, &err)
	opt.OutputDir = dir

	id, err := h.submitOnInput(ctx, r, dir, gifExtensions, jobs.Task{Kind: jobs.KindOptimize, Args: opt})
	return h.accepted(w, r, jobs.KindOptimize, id, err)
}

func (h *Handler) Reverse(w http.ResponseWriter, r *http.Request) (err error) {
	ctx := r.Context()
	if err := parseForm(r); err != nil {
		return err
	}

	dir, err := h.workDir()
	if err != nil {
		return err
	}
	defer h.discardOnError(ctx, dir, &err)

	id, err := h.submitOnInput(ctx, r, dir, gifExtensions, jobs.Task{
		Kind: jobs.KindReverse,
		Args: jobs.ReverseArgs{OutputDir: dir},
	})
	return h.accepted(w, r, jobs.KindReverse, id, err)
}
