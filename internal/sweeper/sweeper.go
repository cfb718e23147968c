// Package sweeper reclaims stale per-job working directories under the
// upload root.
package sweeper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gifmill/internal/jobs"
	"gifmill/internal/pkg/logger"
)

// Result counts one sweep.
type Result struct {
	Scanned int `json:"scanned"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

type Sweeper struct {
	root     string
	maxAge   time.Duration
	interval time.Duration
	log      *logger.Logger
}

// New sweeps <root>/user_uploads. Zero durations fall back to 2h max age
// and a 1h interval.
func New(root string, maxAge, interval time.Duration, log *logger.Logger) *Sweeper {
	if maxAge <= 0 {
		maxAge = 2 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{root: root, maxAge: maxAge, interval: interval, log: log.WithComponent("sweeper")}
}

func (s *Sweeper) dir() string { return filepath.Join(s.root, jobs.UploadsDir) }

// Sweep removes every working directory whose mtime is older than the max
// age at now. Plain files and symlinks in the uploads dir are left alone.
func (s *Sweeper) Sweep(now time.Time) Result {
	var res Result
	base := s.dir()
	entries, err := os.ReadDir(base)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("uploads dir unreadable", "dir", base, "error", err.Error())
		}
		return res
	}

	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		res.Scanned++
		path := filepath.Join(base, e.Name())
		if !within(base, path) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			res.Failed++
			continue
		}
		if now.Sub(info.ModTime()) <= s.maxAge {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			res.Failed++
			s.log.Warn("failed to remove stale working dir", "dir", e.Name(), "error", err.Error())
			continue
		}
		res.Removed++
	}

	if res.Removed > 0 || res.Failed > 0 {
		s.log.Info("sweep finished", "scanned", res.Scanned, "removed", res.Removed, "failed", res.Failed)
	}
	return res
}

// Run sweeps once immediately, then on every interval until ctx ends.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("sweeper started", "max_age", s.maxAge.String(), "interval", s.interval.String())
	s.Sweep(time.Now())

	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-t.C:
			s.Sweep(now)
		}
	}
}

func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}
