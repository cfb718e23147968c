package handlers

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"gifmill/internal/fetcher"
	"gifmill/internal/httpkit"
	"gifmill/internal/jobs"
	"gifmill/internal/pkg/errors"
)

type extSet map[string]struct{}

func newExtSet(exts ...string) extSet {
	s := make(extSet, len(exts))
	for _, e := range exts {
		s[e] = struct{}{}
	}
	return s
}

var (
	imageExtensions = newExtSet("png", "jpg", "jpeg", "gif", "bmp", "webp", "apng", "heic", "heif", "mng", "jp2", "avif", "jxl", "pdf")
	videoExtensions = newExtSet("mp4", "avi", "mov", "webm", "mkv", "flv")
	gifExtensions   = newExtSet("gif")
)

func sortedKeys(s extSet) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func allowedFile(name string, exts extSet) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	_, ok := exts[ext]
	return ok
}

const multipartMemory = 32 << 20

// parseForm reads a multipart or urlencoded body. A body over the size
// limit keeps its *http.MaxBytesError so it maps to 413.
func parseForm(r *http.Request) error {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var err error
	if ct == "multipart/form-data" {
		err = r.ParseMultipartForm(multipartMemory)
	} else {
		err = r.ParseForm()
	}
	if err == nil {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return err
	}
	return errors.Validation("Failed to read form data. The upload may be too large or incomplete.")
}

func isJSON(r *http.Request) bool {
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return ct == "application/json"
}

// decodeJSON decodes the request body, keeping size errors intact.
func decodeJSON(r *http.Request, v any) error {
	if err := httpkit.DecodeJSON(r, v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return err
		}
		return errors.Validation("Invalid or missing JSON body")
	}
	return nil
}

// workDir creates the per-request directory under <root>/user_uploads.
func (h *Handler) workDir() (string, error) {
	return jobs.NewWorkDir(h.root)
}

// discardOnError removes dir when the request failed before a task took
// ownership of it.
func (h *Handler) discardOnError(ctx context.Context, dir string, err *error) {
	if *err == nil {
		return
	}
	if rmErr := os.RemoveAll(dir); rmErr != nil {
		h.log.FromContext(ctx).Warn("failed to remove working directory", "dir", dir, "error", rmErr)
	}
}

// fetchStage checks raw without touching the network and returns the task
// that downloads it into dir. The worker repeats the full check with DNS.
func (h *Handler) fetchStage(raw, dir string) (jobs.Task, error) {
	if _, err := h.fetcher.CheckURL(raw); err != nil {
		return jobs.Task{}, err
	}
	return jobs.Task{
		Kind: jobs.KindFetch,
		Args: jobs.FetchArgs{URL: strings.TrimSpace(raw), Dir: dir, MaxBytes: h.maxBytes},
	}, nil
}

// uploaded returns the multipart files sent under key.
func uploaded(r *http.Request, key string) []*multipart.FileHeader {
	if r.MultipartForm == nil {
		return nil
	}
	return r.MultipartForm.File[key]
}

// saveUpload stores the single file sent under key.
func saveUpload(r *http.Request, key, dir string, exts extSet) (string, error) {
	files := uploaded(r, key)
	if len(files) == 0 {
		return "", errors.Validation("No file provided")
	}
	return saveFile(files[0], dir, exts)
}

// saveFile writes fh into dir under a sanitised name. Name clashes get a
// short random prefix so earlier uploads are not overwritten.
func saveFile(fh *multipart.FileHeader, dir string, exts extSet) (string, error) {
	if fh.Filename == "" {
		return "", errors.Validation("No file selected")
	}
	if !allowedFile(fh.Filename, exts) {
		return "", errors.Validationf("Invalid file type: %s", filepath.Base(fh.Filename))
	}

	name := fetcher.SanitizeFilename(fh.Filename)
	if filepath.Ext(name) == "" {
		name = "upload" + strings.ToLower(filepath.Ext(fh.Filename))
	}
	dst := filepath.Join(dir, name)
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(dir, uuid.NewString()[:8]+"_"+name)
	}

	src, err := fh.Open()
	if err != nil {
		return "", errors.Wrap(err, "handlers.saveFile", "open upload")
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return "", errors.Wrap(err, "handlers.saveFile", "create upload file")
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return "", errors.Wrap(err, "handlers.saveFile", "write upload file")
	}
	if n == 0 {
		_ = os.Remove(dst)
		return "", errors.Validationf("Failed to save uploaded file: %s. Please try again.", name)
	}
	return dst, nil
}

// submitOnInput runs op on the request's single input: the uploaded file,
// or the download of url when one is given.
func (h *Handler) submitOnInput(ctx context.Context, r *http.Request, dir string, exts extSet, op jobs.Task) (string, error) {
	form := httpkit.NewForm(r)
	if form.Has("url") {
		fetch, err := h.fetchStage(form.String("url", ""), dir)
		if err != nil {
			return "", err
		}
		return h.orch.SubmitChain(ctx, fetch, op)
	}
	path, err := saveUpload(r, "file", dir, exts)
	if err != nil {
		return "", err
	}
	op.Inputs = []string{path}
	return h.orch.Submit(ctx, op)
}

// accepted records the submission and writes 202 {task_id}.
func (h *Handler) accepted(w http.ResponseWriter, r *http.Request, kind jobs.Kind, id string, err error) error {
	h.metrics.Submitted(r.Context(), string(kind), err)
	if err != nil {
		return err
	}
	h.log.FromContext(r.Context()).Info("task submitted", "kind", string(kind), "task_id", id)
	httpkit.Accepted(w, id)
	return nil
}
