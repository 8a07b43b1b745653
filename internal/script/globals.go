package script

import (
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Globals returns the static predeclared environment shared by every script
// evaluation: the `task` and `args.*` constructors, and the record/fragment
// type constructors (spec.md §4.4). The domain capability surface
// (filesystem, environment, process, streams, HTTP, templates, WASM, Bazel
// integration) is NOT part of this static set — those are only reachable
// through the task-context object a task implementation receives when
// invoked (internal/dispatch). The top level only predeclares `task`/`args`/
// type markers; capabilities are reached through `ctx.*` at call time.
func Globals() starlark.StringDict {
	return starlark.StringDict{
		"task":     starlark.NewBuiltin("task", taskBuiltin),
		"args":     argsModule(),
		"struct":   starlark.NewBuiltin("struct", starlarkstruct.Make),
		"record":   starlark.NewBuiltin("record", starlarkstruct.Make),
		"fragment": starlark.NewBuiltin("fragment", fragmentBuiltin),
	}
}

// fragmentBuiltin constructs a tagged struct-like value used by scripts to
// compose partial configuration that a task later merges with others.
// Fragments are plain frozen structs whose constructor name is "fragment"
// instead of "struct"; the name shows when a value is printed, but `type(x)`
// reports "struct" for both.
var fragmentConstructor starlark.Value = starlark.String("fragment")

func fragmentBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	return starlarkstruct.FromKeywords(fragmentConstructor, kwargs), nil
}
