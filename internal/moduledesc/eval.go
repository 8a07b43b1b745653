// Package moduledesc evaluates a project's dependency-manifest script
// (MODULE.aspect) under a restricted dialect — no def, lambda, or load — to
// produce a set of external module descriptors and the root's declared
// task-usage list (spec.md §3, §4.3).
package moduledesc

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/axl-run/axl/internal/cas"
)

// Dependency is one axl_dep(...) declaration.
type Dependency struct {
	Name        string
	URLs        []string
	Integrity   string
	StripPrefix string
	Dev         bool
	Override    string // absolute local path, empty if not overridden
}

// TaskUsage is a (script-relative path, exported symbol) pair declared by
// the manifest, naming a root task to surface in the command tree.
type TaskUsage struct {
	ScriptPath string
	Symbol     string
}

// ModuleStore accumulates the globals' side effects while evaluating one
// manifest script.
type ModuleStore struct {
	RepoRoot   string
	deps       map[string]*Dependency
	TaskUsages []TaskUsage
}

func newModuleStore(repoRoot string) *ModuleStore {
	return &ModuleStore{RepoRoot: repoRoot, deps: map[string]*Dependency{}}
}

// Dependencies returns the declared dependencies sorted by name, for
// deterministic iteration.
func (s *ModuleStore) Dependencies() []Dependency {
	out := make([]Dependency, 0, len(s.deps))
	for _, d := range s.deps {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// AsDescriptors adapts the declared dependencies into cas.Descriptor values.
func (s *ModuleStore) AsDescriptors() []cas.Descriptor {
	deps := s.Dependencies()
	out := make([]cas.Descriptor, 0, len(deps))
	for _, d := range deps {
		out = append(out, cas.Descriptor{
			Name:         d.Name,
			URLs:         d.URLs,
			Integrity:    d.Integrity,
			StripPrefix:  d.StripPrefix,
			OverridePath: d.Override,
		})
	}
	return out
}

func (s *ModuleStore) axlDep(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name        string
		integrity   string
		urls        *starlark.List
		dev         bool
		stripPrefix string
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"name", &name,
		"integrity", &integrity,
		"urls", &urls,
		"dev", &dev,
		"strip_prefix?", &stripPrefix,
	); err != nil {
		return nil, err
	}
	if !dev {
		return nil, fmt.Errorf("axl_dep does not support transitive (non-dev) dependencies yet")
	}
	urlStrings, err := unpackStringList(urls)
	if err != nil {
		return nil, fmt.Errorf("urls: %w", err)
	}
	for _, u := range urlStrings {
		if !strings.HasSuffix(u, ".tar.gz") {
			return nil, fmt.Errorf("only .tar.gz archives are supported at the moment, got %q", u)
		}
	}
	if _, exists := s.deps[name]; exists {
		return nil, fmt.Errorf("duplicate axl_dep %q was declared previously", name)
	}
	s.deps[name] = &Dependency{
		Name:        name,
		URLs:        urlStrings,
		Integrity:   integrity,
		StripPrefix: stripPrefix,
		Dev:         true,
	}
	return starlark.None, nil
}

func (s *ModuleStore) localPathOverride(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var depName, path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"dep_name", &depName,
		"path", &path,
	); err != nil {
		return nil, err
	}
	dep, ok := s.deps[depName]
	if !ok {
		return nil, fmt.Errorf("axl_dep %q is not declared", depName)
	}
	if dep.Override != "" {
		return nil, fmt.Errorf("axl_dep %q already has an override", depName)
	}
	abs := filepath.Join(s.RepoRoot, path)
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %q: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path %q is not a directory", path)
	}
	dep.Override = abs
	return starlark.None, nil
}

func (s *ModuleStore) useTasks(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, symbol string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"path", &path,
		"symbol", &symbol,
	); err != nil {
		return nil, err
	}
	s.TaskUsages = append(s.TaskUsages, TaskUsage{ScriptPath: path, Symbol: symbol})
	return starlark.None, nil
}

func unpackStringList(l *starlark.List) ([]string, error) {
	if l == nil {
		return nil, nil
	}
	out := make([]string, 0, l.Len())
	iter := l.Iterate()
	defer iter.Done()
	var v starlark.Value
	for iter.Next(&v) {
		s, ok := starlark.AsString(v)
		if !ok {
			return nil, fmt.Errorf("expected a list of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

// Evaluator evaluates MODULE.aspect-shaped scripts for one project root.
type Evaluator struct {
	RepoRoot string
}

// New returns an Evaluator rooted at repoRoot.
func New(repoRoot string) *Evaluator {
	return &Evaluator{RepoRoot: repoRoot}
}

// Evaluate parses and runs the manifest script named name, returning the
// accumulated ModuleStore.
func (e *Evaluator) Evaluate(name, script string) (*ModuleStore, error) {
	if err := checkDialect(name, script); err != nil {
		return nil, err
	}
	store := newModuleStore(e.RepoRoot)
	thread := &starlark.Thread{Name: name}
	predeclared := starlark.StringDict{
		"axl_dep":             starlark.NewBuiltin("axl_dep", store.axlDep),
		"local_path_override": starlark.NewBuiltin("local_path_override", store.localPathOverride),
		"use_tasks":           starlark.NewBuiltin("use_tasks", store.useTasks),
	}
	if _, err := starlark.ExecFile(thread, name, script, predeclared); err != nil {
		return nil, err
	}
	return store, nil
}

// checkDialect rejects def, lambda, and load statements: the manifest
// dialect enables only plain top-level statements and expressions
// (spec.md §4.3).
func checkDialect(name, script string) error {
	f, err := syntax.Parse(name, script, 0)
	if err != nil {
		return err
	}
	return checkStmts(f.Stmts)
}

func checkStmts(stmts []syntax.Stmt) error {
	for _, stmt := range stmts {
		if err := checkStmt(stmt); err != nil {
			return err
		}
	}
	return nil
}

func checkStmt(stmt syntax.Stmt) error {
	switch s := stmt.(type) {
	case *syntax.DefStmt:
		return fmt.Errorf("%s: function definitions are not allowed in MODULE.aspect", s.Span())
	case *syntax.LoadStmt:
		return fmt.Errorf("%s: load(...) is not allowed in MODULE.aspect", s.Span())
	case *syntax.IfStmt:
		if err := checkExpr(s.Cond); err != nil {
			return err
		}
		if err := checkStmts(s.True); err != nil {
			return err
		}
		return checkStmts(s.False)
	case *syntax.ForStmt:
		if err := checkExpr(s.X); err != nil {
			return err
		}
		return checkStmts(s.Body)
	case *syntax.WhileStmt:
		if err := checkExpr(s.Cond); err != nil {
			return err
		}
		return checkStmts(s.Body)
	case *syntax.AssignStmt:
		if err := checkExpr(s.LHS); err != nil {
			return err
		}
		return checkExpr(s.RHS)
	case *syntax.ExprStmt:
		return checkExpr(s.X)
	case *syntax.ReturnStmt:
		if s.Result != nil {
			return checkExpr(s.Result)
		}
		return nil
	case *syntax.BranchStmt:
		return nil
	default:
		return nil
	}
}

func checkExpr(expr syntax.Expr) error {
	switch e := expr.(type) {
	case nil:
		return nil
	case *syntax.LambdaExpr:
		return fmt.Errorf("%s: lambda expressions are not allowed in MODULE.aspect", e.Span())
	case *syntax.CallExpr:
		if err := checkExpr(e.Fn); err != nil {
			return err
		}
		for _, a := range e.Args {
			if err := checkExpr(a); err != nil {
				return err
			}
		}
		return nil
	case *syntax.BinaryExpr:
		if err := checkExpr(e.X); err != nil {
			return err
		}
		return checkExpr(e.Y)
	case *syntax.UnaryExpr:
		return checkExpr(e.X)
	case *syntax.DotExpr:
		return checkExpr(e.X)
	case *syntax.IndexExpr:
		if err := checkExpr(e.X); err != nil {
			return err
		}
		return checkExpr(e.Y)
	case *syntax.SliceExpr:
		return checkExpr(e.X)
	case *syntax.ParenExpr:
		return checkExpr(e.X)
	case *syntax.CondExpr:
		if err := checkExpr(e.Cond); err != nil {
			return err
		}
		if err := checkExpr(e.True); err != nil {
			return err
		}
		return checkExpr(e.False)
	case *syntax.ListExpr:
		for _, x := range e.List {
			if err := checkExpr(x); err != nil {
				return err
			}
		}
		return nil
	case *syntax.TupleExpr:
		for _, x := range e.List {
			if err := checkExpr(x); err != nil {
				return err
			}
		}
		return nil
	case *syntax.DictExpr:
		for _, entry := range e.List {
			if err := checkExpr(entry); err != nil {
				return err
			}
		}
		return nil
	case *syntax.DictEntry:
		if err := checkExpr(e.Key); err != nil {
			return err
		}
		return checkExpr(e.Value)
	case *syntax.Comprehension:
		return fmt.Errorf("%s: comprehensions are not allowed in MODULE.aspect", e.Span())
	default:
		return nil
	}
}
