package capabilities

import (
	"os"
	"sort"

	"go.starlark.net/starlark"
)

// Env is the `ctx.std.env` capability: read-only access to the invoking
// process's environment, exposing a lookup and a full-listing operation.
type Env struct {
	methodTable
}

var _ starlark.Value = (*Env)(nil)
var _ starlark.HasAttrs = (*Env)(nil)

func NewEnv() *Env {
	e := &Env{}
	e.methodTable = methodTable{
		"get":  starlark.NewBuiltin("env.get", e.get),
		"all":  starlark.NewBuiltin("env.all", e.all),
		"has":  starlark.NewBuiltin("env.has", e.has),
	}
	return e
}

func (e *Env) String() string        { return "<env>" }
func (e *Env) Type() string          { return "env" }
func (e *Env) Freeze()               {}
func (e *Env) Truth() starlark.Bool  { return starlark.True }
func (e *Env) Hash() (uint32, error) { return unhashable("env") }

func (e *Env) get(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	var def starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(name); ok {
		return starlark.String(v), nil
	}
	return def, nil
}

func (e *Env) has(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name); err != nil {
		return nil, err
	}
	_, ok := os.LookupEnv(name)
	return starlark.Bool(ok), nil
}

func (e *Env) all(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	environ := os.Environ()
	sort.Strings(environ)
	d := starlark.NewDict(len(environ))
	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				d.SetKey(starlark.String(kv[:i]), starlark.String(kv[i+1:]))
				break
			}
		}
	}
	return d, nil
}
