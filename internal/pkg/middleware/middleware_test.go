package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gifmill/internal/models"
	"gifmill/internal/pkg/errors"
	"gifmill/internal/pkg/logger"
)

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return body
}

func TestRequestID(t *testing.T) {
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Context().Value(logger.RequestIDKey)
		if reqID == nil || reqID == "" {
			t.Error("expected request ID in context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates new request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		reqID := rec.Header().Get(RequestIDHeader)
		if len(reqID) != 36 {
			t.Errorf("expected uuid request ID, got %q", reqID)
		}
	})

	t.Run("preserves existing request ID", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set(RequestIDHeader, "existing-id-123")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if got := rec.Header().Get(RequestIDHeader); got != "existing-id-123" {
			t.Errorf("expected preserved request ID, got %s", got)
		}
	})
}

func TestLoggingLevels(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{"success logs info", http.StatusAccepted, "INFO"},
		{"client error logs warn", http.StatusBadRequest, "WARN"},
		{"server error logs error", http.StatusServiceUnavailable, "ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logBuf bytes.Buffer
			log := logger.New(logger.Config{Level: "info", Format: "json", Output: &logBuf})
			handler := Logging(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))

			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/resize", nil))

			out := logBuf.String()
			if !strings.Contains(out, `"level":"`+tt.level+`"`) {
				t.Errorf("expected level %s, got %s", tt.level, out)
			}
			if !strings.Contains(out, "request completed") {
				t.Errorf("expected completion log, got %s", out)
			}
		})
	}
}

func TestRecovery(t *testing.T) {
	var logBuf bytes.Buffer
	log := logger.New(logger.Config{Level: "error", Format: "json", Output: &logBuf})

	handler := Recovery(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/crop", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["code"] != "INTERNAL_ERROR" || body["error"] != GenericErrorMessage {
		t.Errorf("unexpected body %v", body)
	}
	if !strings.Contains(logBuf.String(), "panic recovered") {
		t.Errorf("expected panic to be logged, got %s", logBuf.String())
	}
}

func TestTimeout(t *testing.T) {
	handler := Timeout(20 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/gif-metadata", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("expected 504, got %d", rec.Code)
	}
}

func TestMaxBodySize(t *testing.T) {
	log := logger.Discard()
	handler := MaxBodySize(16)(WrapHandler(log, func(w http.ResponseWriter, r *http.Request) error {
		if _, err := io.ReadAll(r.Body); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	}))

	tests := []struct {
		name       string
		body       string
		hideLength bool
		wantStatus int
	}{
		{"small body", "tiny", false, http.StatusNoContent},
		{"declared oversize", strings.Repeat("x", 64), false, http.StatusRequestEntityTooLarge},
		{"streamed oversize", strings.Repeat("x", 64), true, http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/optimize", strings.NewReader(tt.body))
			if tt.hideLength {
				req.ContentLength = -1
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	handler := RateLimit(2)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	send := func(addr string) int {
		req := httptest.NewRequest("POST", "/reverse", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("203.0.113.7:5000"); code != http.StatusAccepted {
			t.Fatalf("request %d: expected 202, got %d", i, code)
		}
	}
	if code := send("203.0.113.7:5001"); code != http.StatusTooManyRequests {
		t.Errorf("expected 429 once the burst is spent, got %d", code)
	}
	if code := send("198.51.100.1:5000"); code != http.StatusAccepted {
		t.Errorf("other clients must keep their own budget, got %d", code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := RateLimit(0)(next)
	for i := 0; i < 20; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/crop", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected no limiting, got %d", rec.Code)
		}
	}
}

type fakeLogStore struct {
	got chan *models.APILog
}

func (f *fakeLogStore) InsertAPILog(_ context.Context, l *models.APILog) error {
	f.got <- l
	return nil
}

type fakeGeo struct{}

func (fakeGeo) CountryCode(string) (string, error) { return "NL", nil }

func TestRequestLog(t *testing.T) {
	store := &fakeLogStore{got: make(chan *models.APILog, 4)}
	handler := RequestLog(logger.Discard(), store, fakeGeo{}, "/api/")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	skipped := httptest.NewRequest("GET", "/health", nil)
	handler.ServeHTTP(httptest.NewRecorder(), skipped)

	req := httptest.NewRequest("POST", "/api/resize", nil)
	req.RemoteAddr = "203.0.113.9:1234"
	req.Header.Set("User-Agent", "curl/8")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	select {
	case entry := <-store.got:
		if entry.Path != "/api/resize" || entry.IP != "203.0.113.9" || entry.Country != "NL" || entry.UserAgent != "curl/8" {
			t.Errorf("unexpected entry %+v", entry)
		}
	case <-time.After(time.Second):
		t.Fatal("request log entry not written")
	}

	select {
	case entry := <-store.got:
		t.Errorf("unexpected extra entry %+v", entry)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWrapHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
		wantMsg    string
	}{
		{"validation", errors.Validation("No URL provided"), http.StatusBadRequest, "No URL provided", ""},
		{"fetch", errors.FetchFailed("fetcher.download", io.ErrUnexpectedEOF), http.StatusBadRequest, errors.FetchFailedMessage, ""},
		{"internal is masked", errors.Internal("disk exploded at /srv/x"), http.StatusInternalServerError, GenericErrorMessage, ""},
		{"plain error is masked", io.EOF, http.StatusInternalServerError, GenericErrorMessage, ""},
		{"queue unavailable", errors.QueueUnavailable(io.EOF), http.StatusServiceUnavailable, "queue_unavailable",
			"Background queue is currently unavailable. Please retry shortly."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := WrapHandler(logger.Discard(), func(w http.ResponseWriter, r *http.Request) error {
				return tt.err
			})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest("POST", "/resize", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			body := decodeBody(t, rec)
			if body["error"] != tt.wantError {
				t.Errorf("expected error %q, got %q", tt.wantError, body["error"])
			}
			if body["message"] != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, body["message"])
			}
		})
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrapResponseWriter(rec)

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusBadRequest)
	if rw.status != http.StatusCreated {
		t.Errorf("expected first status to stick, got %d", rw.status)
	}
	n, _ := rw.Write([]byte("hello"))
	if n != 5 || rw.size != 5 {
		t.Errorf("expected size 5, got n=%d size=%d", n, rw.size)
	}
}
