// Package taskargs converts parsed command-line argument values into typed
// Starlark values keyed by declared task parameter names (spec.md §4.6).
package taskargs

import (
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/axl-run/axl/internal/axlerr"
	"github.com/axl-run/axl/internal/script"
)

// Values is the resolved command-line argument, keyed by flag/parameter name
// as produced by internal/cmdtree's cobra binding.
type Values struct {
	Strings     map[string]string
	Bools       map[string]bool
	Ints        map[string]int64
	UInts       map[string]uint64
	Positionals map[string][]string
}

// Marshal builds the `ctx.args` struct a task implementation receives: one
// field per declared parameter, converted to its script type, with the
// spec's documented zero-value defaults standing in for anything absent from
// parsed. Positional and trailing-variadic parameters become lists.
func Marshal(task *script.Task, parsed Values) (starlark.Value, error) {
	fields := make([]starlark.Tuple, 0, len(task.Args))
	for _, entry := range task.Args {
		v, err := marshalOne(entry.Name, entry.Arg, parsed)
		if err != nil {
			return nil, err
		}
		fields = append(fields, starlark.Tuple{starlark.String(entry.Name), v})
	}
	return starlarkstruct.FromKeywords(starlarkstruct.Default, fields), nil
}

func marshalOne(name string, arg *script.TaskArg, parsed Values) (starlark.Value, error) {
	switch arg.Kind {
	case script.ArgString:
		if v, ok := parsed.Strings[name]; ok {
			return starlark.String(v), nil
		}
		return starlark.String(arg.DefaultString), nil

	case script.ArgBoolean:
		if v, ok := parsed.Bools[name]; ok {
			return starlark.Bool(v), nil
		}
		return starlark.Bool(arg.DefaultBool), nil

	case script.ArgInt:
		if v, ok := parsed.Ints[name]; ok {
			return starlark.MakeInt64(v), nil
		}
		return starlark.MakeInt(int(arg.DefaultInt)), nil

	case script.ArgUInt:
		if v, ok := parsed.UInts[name]; ok {
			return starlark.MakeUint64(v), nil
		}
		return starlark.MakeUint64(uint64(arg.DefaultUInt)), nil

	case script.ArgPositional, script.ArgTrailingVarArgs:
		values := parsed.Positionals[name]
		if values == nil && arg.HasDefaultList {
			values = arg.DefaultList
		}
		out := make([]starlark.Value, 0, len(values))
		for _, s := range values {
			out = append(out, starlark.String(s))
		}
		return starlark.NewList(out), nil

	default:
		return nil, &axlerr.TaskArgumentMismatch{Param: name, Reason: "unknown argument kind"}
	}
}
