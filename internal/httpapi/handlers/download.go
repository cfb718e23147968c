package handlers

import (
	"bufio"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"gifmill/internal/media"
	"gifmill/internal/pkg/errors"
)

var inlineExtensions = newExtSet("mp4", "webm", "mov", "gif", "png", "jpg", "jpeg", "webp")

// resolve maps a relative artifact path onto the upload root. ok is false
// when the result would leave the root.
func (h *Handler) resolve(rel string) (string, bool) {
	root, err := filepath.Abs(h.root)
	if err != nil {
		return "", false
	}
	full := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, full)
	if err != nil || r == "." || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}

func disposition(kind, name string) string {
	return mime.FormatMediaType(kind, map[string]string{"filename": name})
}

// DownloadResult serves any artifact under the root; media types are shown
// inline, everything else is an attachment.
func (h *Handler) DownloadResult(w http.ResponseWriter, r *http.Request) error {
	rel := chi.URLParam(r, "*")
	full, ok := h.resolve(rel)
	if !ok {
		return errors.Validation("Invalid file path")
	}
	kind := "attachment"
	if allowedFile(rel, inlineExtensions) {
		kind = "inline"
	}
	return h.serve(w, r, artifact{rel: rel, full: full, disposition: disposition(kind, filepath.Base(full))})
}

// Download serves finished GIFs inline and MP4s as attachments. GIFs must
// carry GIF magic.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) error {
	rel := chi.URLParam(r, "*")
	if rel == "" || strings.Contains(rel, "..") || strings.HasPrefix(rel, "/") {
		return errors.Validation("Invalid filename")
	}
	full, ok := h.resolve(rel)
	if !ok {
		return errors.New(errors.CodeForbidden, "Access denied")
	}

	a := artifact{rel: rel, full: full}
	switch strings.ToLower(filepath.Ext(rel)) {
	case ".gif":
		a.contentType = "image/gif"
		a.disposition = disposition("inline", filepath.Base(full))
		a.check = media.HasGIFMagic
	case ".mp4":
		a.contentType = "video/mp4"
		a.disposition = disposition("attachment", filepath.Base(full))
	default:
		return errors.Validation("Unsupported file type")
	}
	w.Header().Set("Cache-Control", "no-cache")
	return h.serve(w, r, a)
}

type artifact struct {
	rel         string
	full        string
	contentType string
	disposition string
	// check validates the first bytes before anything is written.
	check func(head []byte) bool
}

const headLen = 6

// serve writes a from the upload folder, or from the artifact mirror when
// the local copy has already been swept.
func (h *Handler) serve(w http.ResponseWriter, r *http.Request, a artifact) error {
	f, err := os.Open(a.full)
	if err != nil {
		if os.IsNotExist(err) {
			return h.serveMirror(w, r, a)
		}
		return errors.Wrap(err, "handlers.serve", "open artifact")
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil || st.IsDir() {
		return errors.New(errors.CodeNotFound, "File not found")
	}
	if a.check != nil {
		head := make([]byte, headLen)
		n, _ := io.ReadFull(f, head)
		if !a.check(head[:n]) {
			return errors.Validation("Invalid GIF file")
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return errors.Wrap(err, "handlers.serve", "rewind artifact")
		}
	}

	if a.contentType != "" {
		w.Header().Set("Content-Type", a.contentType)
	}
	w.Header().Set("Content-Disposition", a.disposition)
	http.ServeContent(w, r, st.Name(), st.ModTime(), f)
	return nil
}

func (h *Handler) serveMirror(w http.ResponseWriter, r *http.Request, a artifact) error {
	if h.sp == nil {
		return errors.New(errors.CodeNotFound, "File not found")
	}
	rc, ct, size, err := h.sp.GetObject(r.Context(), filepath.ToSlash(a.rel))
	if err != nil {
		h.log.FromContext(r.Context()).Debug("artifact missing from mirror", "path", a.rel, "provider", h.sp.Provider(), "error", err)
		return errors.New(errors.CodeNotFound, "File not found")
	}
	defer rc.Close()

	br := bufio.NewReader(rc)
	if a.check != nil {
		head, _ := br.Peek(headLen)
		if !a.check(head) {
			return errors.Validation("Invalid GIF file")
		}
	}

	if a.contentType == "" {
		a.contentType = ct
	}
	if a.contentType == "" {
		a.contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", a.contentType)
	w.Header().Set("Content-Disposition", a.disposition)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, br)
	return nil
}
