package httpkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"gifmill/internal/pkg/errors"
)

func TestCORS(t *testing.T) {
	handler := CORS(CORSOptions{AllowedOrigins: []string{"https://app.example/", " "}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }))

	tests := []struct {
		name       string
		method     string
		origin     string
		preflight  bool
		wantStatus int
		wantAllow  string
	}{
		{"allowed origin", "GET", "https://app.example", false, http.StatusOK, "https://app.example"},
		{"unknown origin", "GET", "https://evil.example", false, http.StatusOK, ""},
		{"preflight", "OPTIONS", "https://app.example", true, http.StatusNoContent, "https://app.example"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/resize", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("allow origin = %q, want %q", got, tt.wantAllow)
			}
		})
	}
}

func TestWriteErrBody(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrBody(rec, http.StatusBadRequest, ErrorBody{Error: "No file part"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] != "No file part" || len(body) != 1 {
		t.Errorf("unexpected body %v", body)
	}
}

func TestForm(t *testing.T) {
	vals := url.Values{
		"width":    {"320"},
		"fps":      {"12.0"},
		"bad":      {"abc"},
		"start":    {"1.5"},
		"keep":     {"false"},
		"urls":     {"https://a.example/1.png", "", "https://a.example/2.png"},
		"segments": {`[{"start":0,"end":2}]`},
		"broken":   {`[{`},
	}
	req := httptest.NewRequest("POST", "/x", strings.NewReader(vals.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if err := req.ParseForm(); err != nil {
		t.Fatal(err)
	}
	f := NewForm(req)

	if n, err := f.Int("width", 480); err != nil || n != 320 {
		t.Errorf("width = %d, %v", n, err)
	}
	if n, err := f.Int("fps", 10); err != nil || n != 12 {
		t.Errorf("fps = %d, %v", n, err)
	}
	if n, err := f.Int("height", 360); err != nil || n != 360 {
		t.Errorf("height default = %d, %v", n, err)
	}
	if _, err := f.Int("bad", 0); !errors.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
	if v, err := f.OptionalFloat("start"); err != nil || v == nil || *v != 1.5 {
		t.Errorf("start = %v, %v", v, err)
	}
	if v, err := f.OptionalFloat("end"); err != nil || v != nil {
		t.Errorf("end should be absent, got %v, %v", v, err)
	}
	if f.Bool("keep", true) {
		t.Error("keep should be false")
	}
	if !f.Bool("missing", true) {
		t.Error("missing bool should use default")
	}
	if got := f.Values("urls"); len(got) != 2 {
		t.Errorf("urls = %v", got)
	}

	var segs []map[string]float64
	if err := f.JSON("segments", &segs); err != nil || len(segs) != 1 || segs[0]["end"] != 2 {
		t.Errorf("segments = %v, %v", segs, err)
	}
	if err := f.JSON("broken", &segs); !errors.IsValidation(err) {
		t.Errorf("expected validation error for broken JSON, got %v", err)
	}
}
