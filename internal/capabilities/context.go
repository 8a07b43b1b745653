package capabilities

import "go.starlark.net/starlark"

// TaskContext is the single argument passed to a task's implementation
// callable (spec.md §4.4/§9): one TaskContext is allocated per invocation
// and `implementation(context)` is evaluated against it. The capability
// surface (fs/env/process/bazel/http/template/wasm) is reachable only
// through this object, never as a top-level script global.
type TaskContext struct {
	methodTable
	args  starlark.Value
	std   *Std
	tmpl  *Templates
	wasm  *WASM
	bazel starlark.Value // the ctx.bazel capability, set by internal/dispatch; None for contexts constructed without one.
}

var _ starlark.Value = (*TaskContext)(nil)
var _ starlark.HasAttrs = (*TaskContext)(nil)

// NewTaskContext builds the per-invocation context. bazel may be nil, in
// which case `ctx.bazel` reads as None (e.g. during dry-run argument
// validation, which has no build-tool integration to offer).
func NewTaskContext(projectRoot string, args starlark.Value, bazel starlark.Value) *TaskContext {
	if bazel == nil {
		bazel = starlark.None
	}
	tc := &TaskContext{
		args:  args,
		std:   NewStd(projectRoot),
		tmpl:  NewTemplates(),
		wasm:  NewWASM(),
		bazel: bazel,
	}
	tc.methodTable = methodTable{
		"http": starlark.NewBuiltin("ctx.http", tc.http),
	}
	return tc
}

func (tc *TaskContext) String() string        { return "<ConfigContext>" }
func (tc *TaskContext) Type() string          { return "ConfigContext" }
func (tc *TaskContext) Freeze()               {}
func (tc *TaskContext) Truth() starlark.Bool  { return starlark.True }
func (tc *TaskContext) Hash() (uint32, error) { return unhashable("ConfigContext") }

func (tc *TaskContext) Attr(name string) (starlark.Value, error) {
	switch name {
	case "std":
		return tc.std, nil
	case "template":
		return tc.tmpl, nil
	case "wasm":
		return tc.wasm, nil
	case "args":
		return tc.args, nil
	case "bazel":
		return tc.bazel, nil
	}
	return tc.methodTable.Attr(name)
}

func (tc *TaskContext) AttrNames() []string {
	return append([]string{"std", "template", "wasm", "args", "bazel"}, tc.methodTable.AttrNames()...)
}

func (tc *TaskContext) http(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return NewHTTP(), nil
}
