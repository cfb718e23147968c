package processor

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"gifmill/internal/jobs"
)

// maxFailureText caps failure messages stored in task records.
const maxFailureText = 2000

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// withinRoot reports whether path lies under root.
func withinRoot(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != "." && !strings.HasPrefix(rel, "..")
}

// outcomeLabel is the metrics label for a finished task.
func outcomeLabel(err error, f jobs.Failure) string {
	switch {
	case err == nil:
		return "success"
	case stderrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return string(f.Kind)
	}
}

func firstInput(msg jobs.Message) string {
	if len(msg.Inputs) == 0 {
		return ""
	}
	return msg.Inputs[0]
}
