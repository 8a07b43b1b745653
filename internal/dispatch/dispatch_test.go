package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.starlark.net/starlark"
)

func TestTaskExitCodeNone(t *testing.T) {
	code, err := taskExitCode(starlark.None)
	if err != nil {
		t.Fatalf("taskExitCode(None) error: %v", err)
	}
	if code != 0 {
		t.Fatalf("taskExitCode(None) = %d; want 0", code)
	}
}

func TestTaskExitCodeInt(t *testing.T) {
	for _, tc := range []struct {
		in   int64
		want int
	}{
		{0, 0},
		{7, 7},
		{255, 255},
		{256, 0},   // truncates to the low 8 bits
		{-1, 255},  // two's complement truncation
	} {
		code, err := taskExitCode(starlark.MakeInt64(tc.in))
		if err != nil {
			t.Fatalf("taskExitCode(%d) error: %v", tc.in, err)
		}
		if code != tc.want {
			t.Fatalf("taskExitCode(%d) = %d; want %d", tc.in, code, tc.want)
		}
	}
}

func TestTaskExitCodeRejectsOtherTypes(t *testing.T) {
	if _, err := taskExitCode(starlark.String("nope")); err == nil {
		t.Fatalf("taskExitCode(string) did not error")
	}
}

func TestDiscoverScriptsWalksAncestorAspectDirs(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, ".aspect"))
	mustWriteFile(t, filepath.Join(root, ".aspect", "build.axl"), "")

	sub := filepath.Join(root, "pkg", "nested")
	mustMkdirAll(t, filepath.Join(sub, ".aspect"))
	mustWriteFile(t, filepath.Join(sub, ".aspect", "test.axl"), "")
	// A file without the script extension must not be picked up.
	mustWriteFile(t, filepath.Join(sub, ".aspect", "README.md"), "")

	got, err := discoverScripts(sub, root)
	if err != nil {
		t.Fatalf("discoverScripts() error: %v", err)
	}

	want := []string{".aspect/build.axl", "pkg/nested/.aspect/test.axl"}
	if !stringSlicesEqual(got, want) {
		t.Fatalf("discoverScripts() = %v; want %v", got, want)
	}
}

func TestDiscoverScriptsDoesNotRecurseIntoNestedAspectSubdirs(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, ".aspect", "util"))
	mustWriteFile(t, filepath.Join(root, ".aspect", "top.axl"), "")
	mustWriteFile(t, filepath.Join(root, ".aspect", "util", "inner.axl"), "")

	got, err := discoverScripts(root, root)
	if err != nil {
		t.Fatalf("discoverScripts() error: %v", err)
	}

	want := []string{".aspect/top.axl"}
	if !stringSlicesEqual(got, want) {
		t.Fatalf("discoverScripts() = %v; want %v (nested dirs under .aspect are only reachable via load())", got, want)
	}
}

func TestDiscoverScriptsNoAspectDirsReturnsEmpty(t *testing.T) {
	root := t.TempDir()
	got, err := discoverScripts(root, root)
	if err != nil {
		t.Fatalf("discoverScripts() error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("discoverScripts() = %v; want empty", got)
	}
}

// TestRunVersionCommand exercises the full dispatcher against a bare project
// (no manifest, no scripts) to confirm the built-in version subcommand works
// end to end without requiring any .axl fixtures.
func TestRunVersionCommand(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, ".git"))

	code := Run(context.Background(), Options{
		WorkDir:  root,
		Args:     []string{"version"},
		CacheDir: t.TempDir(),
	})
	if code != 0 {
		t.Fatalf("Run(version) = %d; want 0", code)
	}
}

func TestRunUnknownCommandFails(t *testing.T) {
	root := t.TempDir()
	mustMkdirAll(t, filepath.Join(root, ".git"))

	code := Run(context.Background(), Options{
		WorkDir:  root,
		Args:     []string{"this-task-does-not-exist"},
		CacheDir: t.TempDir(),
	})
	if code == 0 {
		t.Fatalf("Run(unknown command) = 0; want nonzero")
	}
}

func mustMkdirAll(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(path, 0o755); err != nil {
		t.Fatalf("MkdirAll(%s) error: %v", path, err)
	}
}

func mustWriteFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s) error: %v", path, err)
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
