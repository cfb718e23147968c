package processor

import (
	"context"
	"path/filepath"

	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/pkg/logger"
)

// Fetcher downloads remote media into a working directory.
type Fetcher interface {
	Fetch(ctx context.Context, raw, workDir string, maxBytes int64) (string, error)
}

// fontMaxBytes caps font downloads.
const fontMaxBytes = 20 << 20

// InputHandler materialises what a task needs before it reaches an
// executor: remote downloads, fonts and frame ranges.
type InputHandler struct {
	fetcher Fetcher
	log     *logger.Logger
}

func NewInputHandler(fetcher Fetcher, log *logger.Logger) *InputHandler {
	return &InputHandler{fetcher: fetcher, log: log}
}

// Download runs a fetch task.
func (ih *InputHandler) Download(ctx context.Context, args jobs.FetchArgs) (string, error) {
	return ih.fetcher.Fetch(ctx, args.URL, args.Dir, args.MaxBytes)
}

// Layers turns layer specs into drawable layers for the GIF at input.
// Timed layers get their frame range from the GIF timing. A font_url that
// cannot be fetched falls back to the font family.
func (ih *InputHandler) Layers(ctx context.Context, input string, layerSpecs []jobs.LayerSpec) ([]media.TextLayer, error) {
	info, err := media.ProbeGIF(input)
	if err != nil {
		return nil, err
	}
	log := ih.log.FromContext(ctx)

	layers := make([]media.TextLayer, 0, len(layerSpecs))
	for i, ls := range layerSpecs {
		layer := ls.TextLayer
		if ls.Timed {
			layer.StartFrame, layer.EndFrame = media.FrameRange(ls.StartTime, ls.EndTime, info.FirstDelayMS, info.Frames)
			log.Debug("layer frame range", "layer", i, "start_frame", layer.StartFrame, "end_frame", layer.EndFrame)
		}
		layer.FontPath = ""
		if ls.FontURL != "" {
			path, err := ih.fetcher.Fetch(ctx, ls.FontURL, filepath.Dir(input), fontMaxBytes)
			if err != nil {
				log.Warn("font download failed, using family", "layer", i, "font_family", layer.FontFamily)
			} else {
				layer.FontPath = path
			}
		}
		layers = append(layers, layer)
	}
	return layers, nil
}
