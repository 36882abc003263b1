package config

import "testing"

func TestLoad_RequiresDatabaseAndSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost/filecove")
	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("default listen addr = %q", cfg.ListenAddr)
	}
	if cfg.MaxUploadSize != 100*1024*1024 {
		t.Errorf("default max upload = %d", cfg.MaxUploadSize)
	}
	if cfg.StorageBackend != "local" {
		t.Errorf("default backend = %q", cfg.StorageBackend)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/filecove")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LISTEN_ADDR", ":9999")
	t.Setenv("STORAGE_BACKEND", "s3")
	t.Setenv("S3_BUCKET", "my-bucket")
	t.Setenv("S3_USE_SSL", "true")
	t.Setenv("MAX_UPLOAD_SIZE", "1048576")
	t.Setenv("PREVIEW_WORKERS", "8")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("listen addr = %q", cfg.ListenAddr)
	}
	if cfg.StorageBackend != "s3" || cfg.S3Bucket != "my-bucket" || !cfg.S3UseSSL {
		t.Errorf("s3 config not applied: %+v", cfg)
	}
	if cfg.MaxUploadSize != 1048576 {
		t.Errorf("max upload = %d", cfg.MaxUploadSize)
	}
	if cfg.PreviewWorkers != 8 {
		t.Errorf("preview workers = %d", cfg.PreviewWorkers)
	}
}

func TestLoad_BadNumbersFallBack(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/filecove")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("MAX_UPLOAD_SIZE", "not-a-number")
	t.Setenv("S3_USE_SSL", "not-a-bool")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.MaxUploadSize != 100*1024*1024 {
		t.Errorf("bad int should fall back to default, got %d", cfg.MaxUploadSize)
	}
	if cfg.S3UseSSL {
		t.Error("bad bool should fall back to default")
	}
}
