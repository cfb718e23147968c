package gdrive

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

func TestEscapeQuery(t *testing.T) {
	if got := escapeQuery(`it's\here`); got != `it\'s\\here` {
		t.Errorf("escapeQuery = %q", got)
	}
}

func TestGetObjectLooksUpByName(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/files") && r.Method == http.MethodGet:
			gotQuery = r.URL.Query().Get("q")
			_ = json.NewEncoder(w).Encode(map[string]any{"files": []map[string]string{{"id": "drive-id-1"}}})
		case strings.HasSuffix(r.URL.Path, "/files/drive-id-1"):
			w.Header().Set("Content-Type", "image/gif")
			_, _ = w.Write([]byte("GIF89a"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	svc, err := drive.NewService(ctx, option.WithHTTPClient(srv.Client()), option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatal(err)
	}
	c := NewClient(svc, "folder-1")

	rc, ct, _, err := c.GetObject(ctx, "user_uploads/w/out.gif")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "GIF89a" || ct != "image/gif" {
		t.Errorf("body=%q ct=%q", body, ct)
	}
	if !strings.Contains(gotQuery, "name = 'user_uploads/w/out.gif'") || !strings.Contains(gotQuery, "'folder-1' in parents") {
		t.Errorf("unexpected query %q", gotQuery)
	}
}
