package handlers

import (
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"

	"gifmill/internal/httpkit"
	"gifmill/internal/media"
	"gifmill/internal/pkg/errors"
)

func (h *Handler) TaskStatus(w http.ResponseWriter, r *http.Request) error {
	id := strings.TrimSpace(chi.URLParam(r, "taskId"))
	if id == "" {
		return errors.ValidationField("task_id", "task id is required")
	}
	st, err := h.resolver.Resolve(r.Context(), id)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, st)
	return nil
}

type metadataResponse struct {
	Duration   float64 `json:"duration"`
	FrameCount int     `json:"frame_count"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// GIFMetadata probes a GIF synchronously. The input is deleted afterwards.
func (h *Handler) GIFMetadata(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()
	if err := parseForm(r); err != nil {
		return err
	}
	form := httpkit.NewForm(r)

	dir, err := h.workDir()
	if err != nil {
		return err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			h.log.FromContext(ctx).Warn("failed to remove metadata probe directory", "dir", dir, "error", err)
		}
	}()

	var path string
	if form.Has("url") {
		path, err = h.fetcher.Fetch(ctx, form.String("url", ""), dir, h.maxBytes)
	} else {
		path, err = saveUpload(r, "file", dir, gifExtensions)
	}
	if err != nil {
		return err
	}

	info, err := media.ProbeGIF(path)
	if err != nil {
		return err
	}
	httpkit.WriteJSON(w, http.StatusOK, metadataResponse{
		Duration:   info.Duration(),
		FrameCount: info.Frames,
		Width:      info.Width,
		Height:     info.Height,
	})
	return nil
}
