package processor

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"gifmill/internal/jobs"
	"gifmill/internal/pkg/logger"
)

// Cleanup tidies up after failed tasks. Executors already delete their own
// inputs; what is left are inputs of tasks that never reached an executor
// and working directories that ended up empty.
type Cleanup struct {
	root string
	log  *logger.Logger
}

func NewCleanup(root string, log *logger.Logger) *Cleanup {
	return &Cleanup{root: root, log: log}
}

// AfterFailure removes the inputs msg owned and drops their directories
// when empty. Paths outside the upload root are never touched.
func (c *Cleanup) AfterFailure(msg jobs.Message) {
	dirs := map[string]bool{}
	for _, in := range msg.Inputs {
		if !withinRoot(c.root, in) {
			continue
		}
		if err := os.Remove(in); err != nil && !os.IsNotExist(err) {
			c.log.Warn("input cleanup failed", "input", filepath.Base(in), "error", err.Error())
		}
		dirs[filepath.Dir(in)] = true
	}
	var args jobs.FetchArgs
	if msg.Kind == jobs.KindFetch && msg.DecodeArgs(&args) == nil && args.Dir != "" {
		dirs[args.Dir] = true
	}
	for dir := range dirs {
		c.removeIfEmpty(dir)
	}
}

func (c *Cleanup) removeIfEmpty(dir string) {
	if !withinRoot(c.root, dir) || filepath.Dir(dir) != filepath.Join(c.root, jobs.UploadsDir) {
		return
	}
	err := os.Remove(dir)
	if err == nil || os.IsNotExist(err) {
		return
	}
	// Another stage still owns files here.
	if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
		return
	}
	c.log.Warn("working dir cleanup failed", "dir", filepath.Base(dir), "error", err.Error())
}
