package script

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.starlark.net/starlark"
	"golang.org/x/xerrors"

	"github.com/axl-run/axl/internal/axlerr"
	"github.com/axl-run/axl/internal/loadpath"
)

// EvaluatedScript is the frozen result of successfully evaluating one script
// (spec.md §3). Bindings survive until the process ends.
type EvaluatedScript struct {
	// Specifier is the module-qualified identity, `@<module>//<relative-path>`.
	Specifier string
	Bindings  starlark.StringDict
}

// Tasks returns the exported *Task values. They come from a map over
// Bindings, so their order is not defined.
func (s *EvaluatedScript) Tasks() []struct {
	Symbol string
	Task   *Task
} {
	var out []struct {
		Symbol string
		Task   *Task
	}
	for name, v := range s.Bindings {
		if t, ok := v.(*Task); ok {
			out = append(out, struct {
				Symbol string
				Task   *Task
			}{Symbol: name, Task: t})
		}
	}
	return out
}

// Evaluator holds the project root, the deps root, and the static globals
// set extended with domain capabilities (spec.md §4.4). One Evaluator must
// be used from a single goroutine only: the load cache and load stack are
// scoped to evaluator-local state on one blocking-thread goroutine, never
// observable from script code (spec.md §9's "Global mutable state").
type Evaluator struct {
	ProjectRoot string
	DepsRoot    string
	globals     starlark.StringDict

	mu        sync.Mutex // guards cache and loadStack
	cache     map[string]*EvaluatedScript
	loadStack []string
}

// New returns an Evaluator rooted at projectRoot, resolving external modules
// under depsRoot.
func New(projectRoot, depsRoot string) *Evaluator {
	return &Evaluator{
		ProjectRoot: projectRoot,
		DepsRoot:    depsRoot,
		globals:     Globals(),
		cache:       map[string]*EvaluatedScript{},
	}
}

// Eval implements the pipeline of spec.md §4.4: sanitize, join+normalize,
// push the load stack, parse+evaluate, pop, freeze.
func (e *Evaluator) Eval(relativeScriptPath string) (*EvaluatedScript, error) {
	p, err := loadpath.Parse(relativeScriptPath)
	if err != nil {
		return nil, err
	}
	if p.Kind == loadpath.KindModuleSpecifier {
		return nil, &axlerr.InvalidLoadPath{Path: relativeScriptPath, Reason: "scripts cannot be loaded directly from external modules at top level"}
	}

	abs, err := loadpath.JoinConfined(e.ProjectRoot, p.Subpath)
	if err != nil {
		return nil, err
	}
	abs = filepath.Clean(abs)
	if !strings.HasPrefix(abs, filepath.Clean(e.ProjectRoot)+string(filepath.Separator)) && abs != e.ProjectRoot {
		return nil, &axlerr.EscapesModuleRoot{Path: abs, ModuleRoot: e.ProjectRoot}
	}

	return e.evalAbsolute("", abs, e.ProjectRoot, e.ProjectRoot)
}

// evalAbsolute parses and evaluates the script at absPath, whose owning
// module is named moduleName (empty for the root project) rooted at
// moduleRoot. scriptDir is the directory relative loads resolve against.
func (e *Evaluator) evalAbsolute(moduleName, absPath, moduleRoot, scriptDir string) (*EvaluatedScript, error) {
	specifier, err := moduleSpecifier(moduleName, moduleRoot, absPath)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if cached, ok := e.cache[specifier]; ok {
		e.mu.Unlock()
		return cached, nil
	}
	for _, onStack := range e.loadStack {
		if onStack == absPath {
			stack := append(append([]string{}, e.loadStack...), absPath)
			e.mu.Unlock()
			return nil, &axlerr.CycleDetected{Stack: stack}
		}
	}
	e.loadStack = append(e.loadStack, absPath)
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.loadStack = e.loadStack[:len(e.loadStack)-1]
		e.mu.Unlock()
	}()

	src, err := os.ReadFile(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &axlerr.FileNotFound{Path: absPath}
		}
		return nil, xerrors.Errorf("reading %s: %w", absPath, err)
	}

	thread := &starlark.Thread{Name: absPath}
	thread.SetLocal("axl.loader", &loaderContext{
		eval:       e,
		scriptDir:  filepath.Dir(absPath),
		moduleName: moduleName,
		moduleRoot: moduleRoot,
	})
	thread.Load = e.load

	globals, err := starlark.ExecFileOptions(dialectOptions(), thread, absPath, src, e.globals)
	if err != nil {
		return nil, xerrors.Errorf("evaluating %s: %w", absPath, err)
	}
	globals.Freeze()

	result := &EvaluatedScript{Specifier: specifier, Bindings: globals}

	e.mu.Lock()
	e.cache[specifier] = result
	e.mu.Unlock()

	return result, nil
}

// loaderContext is attached to each thread as thread-local state so the
// `load()` builtin (thread.Load, called by Starlark-Go's ExecFileOptions)
// knows which module/script it is resolving relative to.
type loaderContext struct {
	eval       *Evaluator
	scriptDir  string
	moduleName string
	moduleRoot string
}

// load implements starlark.Thread.Load: resolving a `load(...)` string per
// spec.md §4.4's three-form dispatch.
func (e *Evaluator) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	lc, _ := thread.Local("axl.loader").(*loaderContext)
	if lc == nil {
		return nil, xerrors.New("internal error: load() called without a loader context")
	}

	p, err := loadpath.Parse(module)
	if err != nil {
		return nil, err
	}

	var (
		targetModuleRoot string
		targetModuleName string
		base             string
	)
	switch p.Kind {
	case loadpath.KindModuleSpecifier:
		targetModuleRoot = filepath.Join(e.DepsRoot, p.Module)
		targetModuleName = p.Module
		base = targetModuleRoot
	case loadpath.KindModuleSubpath:
		targetModuleRoot = lc.moduleRoot
		targetModuleName = lc.moduleName
		base = lc.moduleRoot
	case loadpath.KindRelativePath:
		targetModuleRoot = lc.moduleRoot
		targetModuleName = lc.moduleName
		base = lc.scriptDir
	}

	resolved, err := loadpath.JoinConfined(base, p.Subpath)
	if err != nil {
		return nil, err
	}
	resolved = filepath.Clean(resolved)
	if !strings.HasPrefix(resolved, filepath.Clean(targetModuleRoot)+string(filepath.Separator)) && resolved != targetModuleRoot {
		return nil, &axlerr.EscapesModuleRoot{Path: resolved, ModuleRoot: targetModuleRoot}
	}

	if p.Kind == loadpath.KindModuleSpecifier {
		info, statErr := os.Stat(targetModuleRoot)
		if statErr != nil {
			return nil, &axlerr.FileNotFound{Path: targetModuleRoot}
		}
		if !info.IsDir() {
			return nil, xerrors.Errorf("module %q root at %s exists but is not a directory", p.Module, targetModuleRoot)
		}
	}
	if fi, statErr := os.Stat(resolved); statErr != nil || fi.IsDir() {
		return nil, &axlerr.FileNotFound{Path: resolved}
	}

	result, err := e.evalAbsolute(targetModuleName, resolved, targetModuleRoot, filepath.Dir(resolved))
	if err != nil {
		return nil, err
	}
	return result.Bindings, nil
}

// moduleSpecifier forms the `@<module>//<relative-path>` cache key. The
// empty moduleName denotes the root project, rendered as `@//<relative-path>`.
func moduleSpecifier(moduleName, moduleRoot, absPath string) (string, error) {
	rel, err := filepath.Rel(moduleRoot, absPath)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if moduleName == "" {
		return "@//" + rel, nil
	}
	return "@" + moduleName + "//" + rel, nil
}
