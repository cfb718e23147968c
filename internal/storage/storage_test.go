package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"gifmill/internal/config"
)

func TestNewProvider(t *testing.T) {
	cfg := config.Default()
	cfg.UploadFolder = t.TempDir()

	p, err := NewProvider(context.Background(), &cfg)
	if err != nil {
		t.Fatalf("NewProvider failed: %v", err)
	}
	if p.Provider() != "localfs" {
		t.Errorf("provider = %s", p.Provider())
	}

	cfg.Storage.Provider = "gdrive"
	if _, err := NewProvider(context.Background(), &cfg); err == nil {
		t.Error("expected error for gdrive without credentials")
	}

	cfg.Storage.Provider = "s3"
	if _, err := NewProvider(context.Background(), &cfg); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestPublishLocalIsInPlace(t *testing.T) {
	cfg := config.Default()
	cfg.UploadFolder = t.TempDir()
	rel := "user_uploads/job/out.gif"
	full := filepath.Join(cfg.UploadFolder, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte("GIF89a....."), 0o644); err != nil {
		t.Fatal(err)
	}

	p, err := NewProvider(context.Background(), &cfg)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Publish(context.Background(), p, cfg.UploadRoot(), rel)
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
	if out.ObjectKey != rel || out.Size != 11 {
		t.Errorf("unexpected output %+v", out)
	}
}
