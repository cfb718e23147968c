package processor

import (
	"path/filepath"

	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/pkg/errors"
)

// The parse helpers decode a message into an executor request. A message
// without the input its kind needs is a wiring bug, not a user error.

func requireInput(msg jobs.Message) (string, error) {
	in := firstInput(msg)
	if in == "" {
		return "", errors.Internalf("%s task %s has no input", msg.Kind, msg.ID)
	}
	return in, nil
}

func parseConvert(msg jobs.Message) (media.ConvertVideoRequest, error) {
	var a jobs.ConvertVideoArgs
	if err := msg.DecodeArgs(&a); err != nil {
		return media.ConvertVideoRequest{}, err
	}
	in, err := requireInput(msg)
	if err != nil {
		return media.ConvertVideoRequest{}, err
	}
	return media.ConvertVideoRequest{
		Input:        in,
		OutputDir:    outputDir(a.OutputDir, in),
		Segments:     a.Segments,
		Start:        a.Start,
		Duration:     a.Duration,
		FPS:          a.FPS,
		Width:        a.Width,
		Height:       a.Height,
		IncludeAudio: a.IncludeAudio,
		Brightness:   a.Brightness,
		Contrast:     a.Contrast,
	}, nil
}

func parseCreate(msg jobs.Message) (media.CreateFromImagesRequest, error) {
	var a jobs.CreateFromImagesArgs
	if err := msg.DecodeArgs(&a); err != nil {
		return media.CreateFromImagesRequest{}, err
	}
	return media.CreateFromImagesRequest{
		Inputs:          msg.Inputs,
		OutputDir:       outputDir(a.OutputDir, firstInput(msg)),
		FrameDurationMS: a.FrameDurationMS,
		FrameDurations:  a.FrameDurations,
		LoopCount:       a.LoopCount,
		Quality:         a.Quality,
		Effects:         a.Effects,
	}, nil
}

func parseResize(msg jobs.Message) (media.ResizeRequest, error) {
	var a jobs.ResizeArgs
	if err := msg.DecodeArgs(&a); err != nil {
		return media.ResizeRequest{}, err
	}
	in, err := requireInput(msg)
	if err != nil {
		return media.ResizeRequest{}, err
	}
	return media.ResizeRequest{
		Input:      in,
		OutputDir:  outputDir(a.OutputDir, in),
		Width:      a.Width,
		Height:     a.Height,
		KeepAspect: a.KeepAspect,
		InputType:  a.InputType,
	}, nil
}

func parseCrop(msg jobs.Message) (media.CropRequest, error) {
	var a jobs.CropArgs
	if err := msg.DecodeArgs(&a); err != nil {
		return media.CropRequest{}, err
	}
	in, err := requireInput(msg)
	if err != nil {
		return media.CropRequest{}, err
	}
	return media.CropRequest{
		Input:     in,
		OutputDir: outputDir(a.OutputDir, in),
		X:         a.X,
		Y:         a.Y,
		Width:     a.Width,
		Height:    a.Height,
		Preset:    a.Preset,
	}, nil
}

func parseOptimize(msg jobs.Message) (media.OptimizeRequest, error) {
	var a jobs.OptimizeArgs
	if err := msg.DecodeArgs(&a); err != nil {
		return media.OptimizeRequest{}, err
	}
	in, err := requireInput(msg)
	if err != nil {
		return media.OptimizeRequest{}, err
	}
	return media.OptimizeRequest{
		Input:          in,
		OutputDir:      outputDir(a.OutputDir, in),
		Quality:        a.Quality,
		Colors:         a.Colors,
		Lossy:          a.Lossy,
		Dither:         a.Dither,
		OptimizeFrames: a.OptimizeFrames,
	}, nil
}

func parseReverse(msg jobs.Message) (media.ReverseRequest, error) {
	var a jobs.ReverseArgs
	if err := msg.DecodeArgs(&a); err != nil {
		return media.ReverseRequest{}, err
	}
	in, err := requireInput(msg)
	if err != nil {
		return media.ReverseRequest{}, err
	}
	return media.ReverseRequest{Input: in, OutputDir: outputDir(a.OutputDir, in)}, nil
}

// outputDir defaults to the input's directory, which is the job's working
// directory for every stage.
func outputDir(dir, input string) string {
	if dir != "" {
		return dir
	}
	return filepath.Dir(input)
}
