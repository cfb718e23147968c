package localfs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gifmill/internal/ports"
)

func TestPutGetDelete(t *testing.T) {
	root := t.TempDir()
	fs := New(root)
	ctx := context.Background()

	out, err := fs.PutObject(ctx, ports.PutObjectInput{
		ObjectKey: "user_uploads/abc/out.gif",
		Reader:    strings.NewReader("GIF89a-payload"),
	})
	if err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if out.Size != 14 || out.ObjectKey != "user_uploads/abc/out.gif" {
		t.Errorf("unexpected output %+v", out)
	}

	rc, ct, size, err := fs.GetObject(ctx, "user_uploads/abc/out.gif")
	if err != nil {
		t.Fatalf("GetObject failed: %v", err)
	}
	body, _ := io.ReadAll(rc)
	rc.Close()
	if string(body) != "GIF89a-payload" || size != 14 || ct != "image/gif" {
		t.Errorf("got body=%q size=%d ct=%q", body, size, ct)
	}

	if err := fs.DeleteObject(ctx, "user_uploads/abc/out.gif"); err != nil {
		t.Fatalf("DeleteObject failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "user_uploads/abc/out.gif")); !os.IsNotExist(err) {
		t.Errorf("expected file removed, stat err=%v", err)
	}
}

func TestPutSameFileIsNoop(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "user_uploads", "w", "a.gif")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("GIF89a-original"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	out, err := New(root).PutObject(context.Background(), ports.PutObjectInput{ObjectKey: "user_uploads/w/a.gif", Reader: f})
	if err != nil {
		t.Fatalf("PutObject failed: %v", err)
	}
	if out.Size != 15 {
		t.Errorf("size = %d", out.Size)
	}
	got, _ := os.ReadFile(p)
	if string(got) != "GIF89a-original" {
		t.Errorf("file was rewritten: %q", got)
	}
}

func TestRejectsEscapingKeys(t *testing.T) {
	fs := New(t.TempDir())
	for _, key := range []string{"", "../etc/passwd", "a/../../b"} {
		if _, _, _, err := fs.GetObject(context.Background(), key); err == nil {
			t.Errorf("expected error for key %q", key)
		}
	}
}
