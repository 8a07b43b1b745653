package script

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/axl-run/axl/internal/axlerr"
)

// MaxTaskGroups is the maximum depth of a task's declared group path
// (spec.md §3).
const MaxTaskGroups = 8

// ArgKind distinguishes the parameter declaration shapes a task can declare
// (spec.md §3).
type ArgKind int

const (
	ArgString ArgKind = iota
	ArgBoolean
	ArgInt
	ArgUInt
	ArgPositional
	ArgTrailingVarArgs
)

// TaskArg is one parameter declaration produced by the `args.*` globals.
// It is immutable once constructed, so Freeze is a no-op.
type TaskArg struct {
	Kind ArgKind

	Required bool

	DefaultString string
	DefaultBool   bool
	DefaultInt    int32
	DefaultUInt   uint32

	// Positional-only fields.
	Minimum, Maximum uint32
	DefaultList      []string
	HasDefaultList   bool
}

var _ starlark.Value = (*TaskArg)(nil)

func (a *TaskArg) String() string {
	switch a.Kind {
	case ArgString:
		return "<args.TaskArg: string>"
	case ArgBoolean:
		return "<args.TaskArg: boolean>"
	case ArgInt:
		return "<args.TaskArg: int>"
	case ArgUInt:
		return "<args.TaskArg: uint>"
	case ArgPositional:
		return "<args.TaskArg: positional>"
	default:
		return "<args.TaskArg: trailing variable arguments>"
	}
}
func (a *TaskArg) Type() string          { return "args.TaskArg" }
func (a *TaskArg) Freeze()               {}
func (a *TaskArg) Truth() starlark.Bool  { return starlark.True }
func (a *TaskArg) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable: args.TaskArg") }

// argsModule returns the predeclared `args` namespace: the positional,
// trailing_var_args, string, boolean, int, and uint constructors
// (spec.md §3).
func argsModule() *starlarkstruct.Module {
	return &starlarkstruct.Module{
		Name: "args",
		Members: starlark.StringDict{
			"positional":        starlark.NewBuiltin("args.positional", argsPositional),
			"trailing_var_args": starlark.NewBuiltin("args.trailing_var_args", argsTrailingVarArgs),
			"string":            starlark.NewBuiltin("args.string", argsString),
			"boolean":           starlark.NewBuiltin("args.boolean", argsBoolean),
			"int":               starlark.NewBuiltin("args.int", argsInt),
			"uint":              starlark.NewBuiltin("args.uint", argsUInt),
		},
	}
}

func argsPositional(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		minimum, maximum int
		def              *starlark.List
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"minimum?", &minimum,
		"maximum?", &maximum,
		"default?", &def,
	); err != nil {
		return nil, err
	}
	if maximum == 0 && def == nil {
		maximum = 1
	}
	ta := &TaskArg{Kind: ArgPositional, Minimum: uint32(minimum), Maximum: uint32(maximum)}
	if def != nil {
		list, err := unpackStringList(def)
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		ta.DefaultList = list
		ta.HasDefaultList = true
	}
	return ta, nil
}

func argsTrailingVarArgs(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return &TaskArg{Kind: ArgTrailingVarArgs}, nil
}

func argsString(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var required bool
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "required?", &required, "default?", &def); err != nil {
		return nil, err
	}
	if required && def != starlark.None {
		return nil, &axlerr.TaskArgumentMismatch{Param: "string", Reason: "`required` and `default` are both set"}
	}
	s := ""
	if def != starlark.None {
		v, ok := starlark.AsString(def)
		if !ok {
			return nil, fmt.Errorf("default: expected string")
		}
		s = v
	}
	return &TaskArg{Kind: ArgString, Required: required, DefaultString: s}, nil
}

func argsBoolean(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var required bool
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "required?", &required, "default?", &def); err != nil {
		return nil, err
	}
	if required && def != starlark.None {
		return nil, &axlerr.TaskArgumentMismatch{Param: "boolean", Reason: "`required` and `default` are both set"}
	}
	val := false
	if b, ok := def.(starlark.Bool); ok {
		val = bool(b)
	}
	return &TaskArg{Kind: ArgBoolean, Required: required, DefaultBool: val}, nil
}

func argsInt(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var required bool
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "required?", &required, "default?", &def); err != nil {
		return nil, err
	}
	if required && def != starlark.None {
		return nil, &axlerr.TaskArgumentMismatch{Param: "int", Reason: "`required` and `default` are both set"}
	}
	var val int32
	if def != starlark.None {
		i, ok := def.(starlark.Int)
		if !ok {
			return nil, fmt.Errorf("default: expected int")
		}
		v, ok := i.Int64()
		if !ok {
			return nil, fmt.Errorf("default: int out of range")
		}
		val = int32(v)
	}
	return &TaskArg{Kind: ArgInt, Required: required, DefaultInt: val}, nil
}

func argsUInt(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var required bool
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "required?", &required, "default?", &def); err != nil {
		return nil, err
	}
	if required && def != starlark.None {
		return nil, &axlerr.TaskArgumentMismatch{Param: "uint", Reason: "`required` and `default` are both set"}
	}
	var val uint32
	if def != starlark.None {
		i, ok := def.(starlark.Int)
		if !ok {
			return nil, fmt.Errorf("default: expected int")
		}
		v, ok := i.Uint64()
		if !ok {
			return nil, fmt.Errorf("default: uint out of range")
		}
		val = uint32(v)
	}
	return &TaskArg{Kind: ArgUInt, Required: required, DefaultUInt: val}, nil
}

func unpackStringList(l *starlark.List) ([]string, error) {
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

// ArgEntry is one (name, declaration) pair, preserving the declaration
// order of the `args = {...}` dict literal (spec.md §3's "ordered mapping").
type ArgEntry struct {
	Name string
	Arg  *TaskArg
}

// Task is an exported task definition (spec.md §3).
type Task struct {
	Implementation starlark.Value
	Args           []ArgEntry
	Description    string
	Groups         []string

	frozen bool
}

var _ starlark.Value = (*Task)(nil)

func (t *Task) String() string          { return "<task>" }
func (t *Task) Type() string            { return "task" }
func (t *Task) Truth() starlark.Bool    { return starlark.True }
func (t *Task) Hash() (uint32, error)   { return 0, fmt.Errorf("unhashable: task") }
func (t *Task) Freeze() {
	if t.frozen {
		return
	}
	t.frozen = true
	t.Implementation.Freeze()
}

// ArgByName looks up a declared parameter by name.
func (t *Task) ArgByName(name string) (*TaskArg, bool) {
	for _, e := range t.Args {
		if e.Name == name {
			return e.Arg, true
		}
	}
	return nil, false
}

func taskBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		implementation starlark.Value
		argsDict       *starlark.Dict
		description    string
		groups         *starlark.List
	)
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"implementation", &implementation,
		"args?", &argsDict,
		"description?", &description,
		"groups?", &groups,
	); err != nil {
		return nil, err
	}
	if _, ok := implementation.(starlark.Callable); !ok {
		return nil, fmt.Errorf("task: implementation must be callable, got %s", implementation.Type())
	}

	var entries []ArgEntry
	if argsDict != nil {
		seenTrailing := false
		for _, item := range argsDict.Items() {
			name, ok := starlark.AsString(item[0])
			if !ok {
				return nil, fmt.Errorf("task: args keys must be strings")
			}
			ta, ok := item[1].(*TaskArg)
			if !ok {
				return nil, fmt.Errorf("task: args[%q] must be an args.* value", name)
			}
			if ta.Kind == ArgTrailingVarArgs {
				if seenTrailing {
					return nil, &axlerr.TaskArgumentMismatch{Param: name, Reason: "only one trailing_var_args parameter is permitted"}
				}
				seenTrailing = true
			}
			entries = append(entries, ArgEntry{Name: name, Arg: ta})
		}
	}

	groupPath, err := unpackStringList(emptyListIfNil(groups))
	if err != nil {
		return nil, fmt.Errorf("groups: %w", err)
	}
	if len(groupPath) > MaxTaskGroups {
		return nil, &axlerr.TooDeeplyNested{GroupPath: groupPath, Max: MaxTaskGroups}
	}

	return &Task{
		Implementation: implementation,
		Args:           entries,
		Description:    description,
		Groups:         groupPath,
	}, nil
}

func emptyListIfNil(l *starlark.List) *starlark.List {
	if l == nil {
		return starlark.NewList(nil)
	}
	return l
}
