package moduledesc

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEvaluateDeclaresDeps(t *testing.T) {
	repoRoot := t.TempDir()
	e := New(repoRoot)
	script := `
axl_dep(
    name = "libx",
    integrity = "sha256-abcd",
    urls = ["https://example.invalid/libx.tar.gz"],
    dev = True,
    strip_prefix = "pkg",
)
use_tasks(path = ".aspect/tasks.axl", symbol = "build")
`
	store, err := e.Evaluate("MODULE.aspect", script)
	if err != nil {
		t.Fatal(err)
	}
	deps := store.Dependencies()
	if len(deps) != 1 || deps[0].Name != "libx" {
		t.Fatalf("deps = %+v", deps)
	}
	if deps[0].StripPrefix != "pkg" {
		t.Errorf("strip_prefix = %q", deps[0].StripPrefix)
	}
	if len(store.TaskUsages) != 1 || store.TaskUsages[0].Symbol != "build" {
		t.Fatalf("task usages = %+v", store.TaskUsages)
	}
}

func TestEvaluateRejectsNonDev(t *testing.T) {
	e := New(t.TempDir())
	_, err := e.Evaluate("MODULE.aspect", `axl_dep(name="x", integrity="sha256-a", urls=["https://x/y.tar.gz"], dev=False)`)
	if err == nil {
		t.Fatal("expected non-dev dependency to be rejected")
	}
}

func TestEvaluateRejectsDuplicateDep(t *testing.T) {
	e := New(t.TempDir())
	script := `
axl_dep(name="x", integrity="sha256-a", urls=["https://x/y.tar.gz"], dev=True)
axl_dep(name="x", integrity="sha256-b", urls=["https://x/z.tar.gz"], dev=True)
`
	if _, err := e.Evaluate("MODULE.aspect", script); err == nil {
		t.Fatal("expected duplicate axl_dep to be rejected")
	}
}

func TestEvaluateRejectsDefAndLambda(t *testing.T) {
	e := New(t.TempDir())
	if _, err := e.Evaluate("MODULE.aspect", "def f():\n    pass\n"); err == nil {
		t.Fatal("expected def to be rejected")
	}
	if _, err := e.Evaluate("MODULE.aspect", "f = lambda: 1\n"); err == nil {
		t.Fatal("expected lambda to be rejected")
	}
	if _, err := e.Evaluate("MODULE.aspect", "load('./x.axl', 'y')\n"); err == nil {
		t.Fatal("expected load to be rejected")
	}
}

func TestLocalPathOverride(t *testing.T) {
	repoRoot := t.TempDir()
	overrideDir := filepath.Join(repoRoot, "vendor", "libx")
	if err := os.MkdirAll(overrideDir, 0o755); err != nil {
		t.Fatal(err)
	}
	e := New(repoRoot)
	script := `
axl_dep(name="libx", integrity="sha256-a", urls=["https://x/y.tar.gz"], dev=True)
local_path_override(dep_name="libx", path="vendor/libx")
`
	store, err := e.Evaluate("MODULE.aspect", script)
	if err != nil {
		t.Fatal(err)
	}
	deps := store.Dependencies()
	if deps[0].Override != overrideDir {
		t.Errorf("override = %q, want %q", deps[0].Override, overrideDir)
	}
}

func TestLocalPathOverrideUnknownDep(t *testing.T) {
	e := New(t.TempDir())
	if _, err := e.Evaluate("MODULE.aspect", `local_path_override(dep_name="nope", path=".")`); err == nil {
		t.Fatal("expected an error for an undeclared dependency")
	}
}
