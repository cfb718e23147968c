package media

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"gifmill/internal/pkg/errors"
	"gifmill/internal/pkg/logger"
)

// stderrTail bounds how much tool stderr ends up in errors and logs.
const stderrTail = 2048

// ToolRunner runs external binaries (ffmpeg, ffprobe, gifsicle, yt-dlp)
// under a per-invocation timeout.
type ToolRunner struct {
	Timeout time.Duration
	log     *logger.Logger
}

func NewToolRunner(timeout time.Duration, log *logger.Logger) *ToolRunner {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &ToolRunner{Timeout: timeout, log: log.WithComponent("tools")}
}

// Run executes name with args and returns stdout.
func (t *ToolRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return t.RunTimeout(ctx, t.Timeout, name, args...)
}

// RunTimeout is Run with an explicit limit, used for the audio mux step.
func (t *ToolRunner) RunTimeout(ctx context.Context, timeout time.Duration, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := t.log.FromContext(ctx).WithTool(name)
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	err := cmd.Run()
	elapsed := time.Since(start)
	if err == nil {
		log.Debug("tool finished", "args", strings.Join(args, " "), "duration_ms", elapsed.Milliseconds())
		return stdout.Bytes(), nil
	}

	tail := lastBytes(stderr.String(), stderrTail)
	if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Error("tool timed out", "timeout", timeout.String(), "stderr", tail)
		return nil, errors.Processing("media.ToolRunner", fmt.Sprintf("%s timed out after %s", name, timeout), err)
	}
	var execErr *exec.Error
	if stderrors.As(err, &execErr) {
		return nil, errors.Processing("media.ToolRunner", fmt.Sprintf("%s is not installed", name), err).
			WithField("missing_tool", name)
	}
	log.Error("tool failed", "error", err.Error(), "stderr", tail, "duration_ms", elapsed.Milliseconds())
	return nil, errors.Processing("media.ToolRunner", fmt.Sprintf("%s failed: %s", name, tail), err)
}

// Available reports whether name is on PATH.
func (t *ToolRunner) Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func lastBytes(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
