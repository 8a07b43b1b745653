package cas

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/pgzip"
)

func buildArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func digestOf(b []byte) string {
	sum := sha256.Sum256(b)
	return "sha256-" + hex.EncodeToString(sum[:])
}

func TestExpandFetchAndExtract(t *testing.T) {
	archive := buildArchive(t, map[string]string{
		"pkg/root/hello.txt": "hello world",
		"pkg/root/nested/a":  "a",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	cacheDir := t.TempDir()
	s, err := New(filepath.Join(t.TempDir(), "project"), cacheDir)
	if err != nil {
		t.Fatal(err)
	}

	desc := Descriptor{
		Name:        "libx",
		URLs:        []string{srv.URL},
		Integrity:   digestOf(archive),
		StripPrefix: "pkg/root",
	}
	if err := s.Expand(context.Background(), []Descriptor{desc}); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(filepath.Join(s.DepPath("libx"), "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Errorf("got %q", got)
	}
	if _, err := os.Stat(s.depMarkerPath("libx")); err != nil {
		t.Errorf("marker file missing: %v", err)
	}
}

func TestExpandIntegrityMismatch(t *testing.T) {
	archive := buildArchive(t, map[string]string{"a": "a"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	s, err := New(filepath.Join(t.TempDir(), "project"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	desc := Descriptor{
		Name:      "libx",
		URLs:      []string{srv.URL},
		Integrity: "sha256-" + hex.EncodeToString(make([]byte, 32)),
	}
	if err := s.Expand(context.Background(), []Descriptor{desc}); err == nil {
		t.Fatal("expected integrity mismatch error")
	}
	if _, err := os.Stat(s.DepPath("libx")); !os.IsNotExist(err) {
		t.Errorf("dep path should not exist after a failed fetch")
	}
}

func TestExpandLocalOverride(t *testing.T) {
	overrideDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(overrideDir, "marker"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := New(filepath.Join(t.TempDir(), "project"), t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	desc := Descriptor{Name: "libx", OverridePath: overrideDir}
	if err := s.Expand(context.Background(), []Descriptor{desc}); err != nil {
		t.Fatal(err)
	}
	target, err := os.Readlink(s.DepPath("libx"))
	if err != nil {
		t.Fatal(err)
	}
	if target != overrideDir {
		t.Errorf("symlink target = %q, want %q", target, overrideDir)
	}
}
