package processor

import (
	"context"
	"path/filepath"
	"strings"

	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/pkg/logger"
	"gifmill/internal/ports"
	"gifmill/internal/storage"
)

// OutputHandler turns executor outcomes into task results and mirrors the
// artifacts to the storage provider when one is configured.
type OutputHandler struct {
	root string
	sp   ports.StorageProvider
	log  *logger.Logger
}

func NewOutputHandler(root string, sp ports.StorageProvider, log *logger.Logger) *OutputHandler {
	return &OutputHandler{root: root, sp: sp, log: log}
}

// rel returns path relative to the upload root, slash separated.
func (oh *OutputHandler) rel(path string) string {
	if !filepath.IsAbs(path) {
		return filepath.ToSlash(path)
	}
	r, err := filepath.Rel(oh.root, path)
	if err != nil || strings.HasPrefix(r, "..") {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(r)
}

// Downloaded is the result of a fetch stage. Downloads are intermediate
// and never mirrored.
func (oh *OutputHandler) Downloaded(path string) jobs.Result {
	return jobs.Value(oh.rel(path))
}

// Register builds the result for out and mirrors the primary artifact and
// a succeeded secondary one. Mirror failures are logged only; the local
// file stays the source of truth.
func (oh *OutputHandler) Register(ctx context.Context, out *media.Outcome) jobs.Result {
	res := jobs.Value(oh.rel(out.Path))
	res.Meta = out.Meta
	if out.Secondary != nil {
		sec := *out.Secondary
		if sec.Path != "" {
			sec.Path = oh.rel(sec.Path)
		}
		res.Secondary = &sec
	}

	oh.mirror(ctx, res.Path)
	if res.Secondary != nil && res.Secondary.Status == media.SecondarySucceeded {
		oh.mirror(ctx, res.Secondary.Path)
	}
	return res
}

func (oh *OutputHandler) mirror(ctx context.Context, rel string) {
	if oh.sp == nil || rel == "" {
		return
	}
	log := oh.log.FromContext(ctx)
	put, err := storage.Publish(ctx, oh.sp, oh.root, rel)
	if err != nil {
		log.Warn("artifact mirror failed", "provider", oh.sp.Provider(), "artifact", rel, "error", err.Error())
		return
	}
	log.Debug("artifact mirrored", "provider", oh.sp.Provider(), "artifact", rel, "object_key", put.ObjectKey, "size", put.Size)
}
