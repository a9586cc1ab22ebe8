package main

import (
	"archive/tar"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/mtzanidakis/realtymesh/internal/config"
	"github.com/mtzanidakis/realtymesh/internal/store"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1610612736, "1.5 GB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatSize(tt.bytes); got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

// createTestArchive builds a zstd-compressed tar with the given entries.
func createTestArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tar.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}
	tw := tar.NewWriter(zw)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	zw.Close()
	return path
}

func TestScanArchive(t *testing.T) {
	path := createTestArchive(t, map[string]string{
		"store/realtymesh.db":      "db",
		"./config/realtymesh.yaml": "yaml",
		"other/file.txt":           "ignored",
	})
	names, err := scanArchive(path, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Errorf("expected 2 known entries, got %v", names)
	}

	if _, err := scanArchive("/nonexistent/file.tar.zst", ""); err == nil {
		t.Error("expected error for missing archive")
	}

	bad := filepath.Join(t.TempDir(), "bad.tar.zst")
	os.WriteFile(bad, []byte("not zstd data"), 0o644)
	if _, err := scanArchive(bad, ""); err == nil {
		t.Error("expected error for invalid zstd data")
	}
}

func TestRestoreBackupOverwrite(t *testing.T) {
	path := createTestArchive(t, map[string]string{
		"config/realtymesh.yaml": "web:\n  port: 9090\n",
	})
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config", "realtymesh.yaml")

	n, err := restoreBackup(path, filepath.Join(dir, "data.db"), cfgPath, "", false)
	if err != nil || n != 1 {
		t.Fatalf("restore: n=%d err=%v", n, err)
	}
	if data, _ := os.ReadFile(cfgPath); string(data) != "web:\n  port: 9090\n" {
		t.Errorf("unexpected config %q", data)
	}

	_, err = restoreBackup(path, filepath.Join(dir, "data.db"), cfgPath, "", false)
	if err == nil || !strings.Contains(err.Error(), "--overwrite") {
		t.Errorf("expected overwrite refusal, got %v", err)
	}
	if _, err := restoreBackup(path, filepath.Join(dir, "data.db"), cfgPath, "", true); err != nil {
		t.Errorf("overwrite restore: %v", err)
	}

	empty := createTestArchive(t, map[string]string{"other/file.txt": "x"})
	if _, err := restoreBackup(empty, filepath.Join(dir, "data.db"), cfgPath, "", true); err == nil {
		t.Error("expected error for archive without known entries")
	}
}

func TestBackupRoundTrip(t *testing.T) {
	src := t.TempDir()
	db, err := store.New(config.StoreConfig{Path: filepath.Join(src, "realtymesh.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := db.SaveRun(&store.Run{
		ID:      "run-1",
		Source:  "api",
		Request: json.RawMessage(`{"location":"Goa"}`),
		Roles:   []string{"buyer"},
		Status:  store.RunCompleted,
	}); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(src, "realtymesh.yaml")
	os.WriteFile(cfgPath, []byte("nats:\n  enabled: false\n"), 0o644)

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	n, err := writeBackup(archive, db, cfgPath, "")
	if err != nil || n != 2 {
		t.Fatalf("backup: n=%d err=%v", n, err)
	}

	dst := t.TempDir()
	storePath := filepath.Join(dst, "data", "realtymesh.db")
	n, err = restoreBackup(archive, storePath, filepath.Join(dst, "realtymesh.yaml"), "", false)
	if err != nil || n != 2 {
		t.Fatalf("restore: n=%d err=%v", n, err)
	}

	restored, err := store.New(config.StoreConfig{Path: storePath})
	if err != nil {
		t.Fatal(err)
	}
	defer restored.Close()
	run, err := restored.GetRun("run-1")
	if err != nil || run == nil {
		t.Fatalf("expected restored run, got %v (%v)", run, err)
	}
	if string(run.Request) != `{"location":"Goa"}` {
		t.Errorf("unexpected request %s", run.Request)
	}
	if data, _ := os.ReadFile(filepath.Join(dst, "realtymesh.yaml")); string(data) != "nats:\n  enabled: false\n" {
		t.Errorf("unexpected config %q", data)
	}
}

func TestBackupWithoutConfig(t *testing.T) {
	db, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "realtymesh.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	n, err := writeBackup(archive, db, filepath.Join(t.TempDir(), "missing.yaml"), "")
	if err != nil || n != 1 {
		t.Fatalf("backup: n=%d err=%v", n, err)
	}
	names, err := scanArchive(archive, "")
	if err != nil || len(names) != 1 || names[0] != entryStore {
		t.Errorf("expected store entry only, got %v (%v)", names, err)
	}
}

func TestEncryptedBackup(t *testing.T) {
	db, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "realtymesh.db")})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	if _, err := writeBackup(archive, db, "", "s3cret"); err != nil {
		t.Fatal(err)
	}

	if _, err := scanArchive(archive, ""); err == nil || !strings.Contains(err.Error(), "--passphrase") {
		t.Errorf("expected passphrase error, got %v", err)
	}
	if _, err := scanArchive(archive, "wrong"); err == nil {
		t.Error("expected error for wrong passphrase")
	}

	storePath := filepath.Join(t.TempDir(), "restored.db")
	n, err := restoreBackup(archive, storePath, filepath.Join(t.TempDir(), "cfg.yaml"), "s3cret", false)
	if err != nil || n != 1 {
		t.Fatalf("restore: n=%d err=%v", n, err)
	}
	if _, err := os.Stat(storePath); err != nil {
		t.Errorf("expected restored store: %v", err)
	}
}
