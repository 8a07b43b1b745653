package cmdtree

import (
	"github.com/spf13/cobra"

	"github.com/axl-run/axl/internal/script"
	"github.com/axl-run/axl/internal/taskargs"
)

// BindArgs declares one cobra flag per task.TaskArg on cmd: strings,
// booleans, ints, and uints become named flags (required ones with no
// default), while positional and trailing_var_args parameters consume
// cmd's positional argument slots.
func BindArgs(cmd *cobra.Command, task *script.Task) *boundArgs {
	b := &boundArgs{
		strings: map[string]*string{},
		bools:   map[string]*bool{},
		ints:    map[string]*int64{},
		uints:   map[string]*uint64{},
	}
	for _, entry := range task.Args {
		name, arg := entry.Name, entry.Arg
		switch arg.Kind {
		case script.ArgString:
			v := new(string)
			cmd.Flags().StringVar(v, name, arg.DefaultString, describeRequired(arg.Required))
			b.strings[name] = v
		case script.ArgBoolean:
			v := new(bool)
			cmd.Flags().BoolVar(v, name, arg.DefaultBool, describeRequired(arg.Required))
			b.bools[name] = v
		case script.ArgInt:
			v := new(int64)
			cmd.Flags().Int64Var(v, name, int64(arg.DefaultInt), describeRequired(arg.Required))
			b.ints[name] = v
		case script.ArgUInt:
			v := new(uint64)
			cmd.Flags().Uint64Var(v, name, uint64(arg.DefaultUInt), describeRequired(arg.Required))
			b.uints[name] = v
		case script.ArgPositional, script.ArgTrailingVarArgs:
			b.positionalNames = append(b.positionalNames, name)
		}
		if arg.Required {
			cmd.MarkFlagRequired(name)
		}
	}
	return b
}

func describeRequired(required bool) string {
	if required {
		return "(required)"
	}
	return ""
}

// boundArgs holds the pointers cobra fills in during parse, for later
// extraction into taskargs.Values.
type boundArgs struct {
	strings         map[string]*string
	bools           map[string]*bool
	ints            map[string]*int64
	uints           map[string]*uint64
	positionalNames []string
}

// Values extracts the parsed flag values plus the command's positional
// arguments, distributed across the task's declared positional/
// trailing_var_args parameters in declaration order: every parameter but the
// last consumes exactly one argument, and the last one collects the rest
// (mirroring how a single `positional`/`trailing_var_args` parameter
// normally appears alone, per spec.md §3).
func (b *boundArgs) Values(positionalArgs []string) taskargs.Values {
	v := taskargs.Values{
		Strings:     map[string]string{},
		Bools:       map[string]bool{},
		Ints:        map[string]int64{},
		UInts:       map[string]uint64{},
		Positionals: map[string][]string{},
	}
	for k, p := range b.strings {
		v.Strings[k] = *p
	}
	for k, p := range b.bools {
		v.Bools[k] = *p
	}
	for k, p := range b.ints {
		v.Ints[k] = *p
	}
	for k, p := range b.uints {
		v.UInts[k] = *p
	}

	remaining := positionalArgs
	for i, name := range b.positionalNames {
		if i == len(b.positionalNames)-1 {
			v.Positionals[name] = remaining
			remaining = nil
			continue
		}
		if len(remaining) == 0 {
			break
		}
		v.Positionals[name] = remaining[:1]
		remaining = remaining[1:]
	}
	return v
}
