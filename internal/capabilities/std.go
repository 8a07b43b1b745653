package capabilities

import "go.starlark.net/starlark"

// Std is the `ctx.std` attribute: the fs/env/process namespace bundle.
type Std struct {
	fs      *FS
	env     *Env
	process *Process
}

var _ starlark.Value = (*Std)(nil)
var _ starlark.HasAttrs = (*Std)(nil)

func NewStd(projectRoot string) *Std {
	return &Std{
		fs:      NewFS(projectRoot),
		env:     NewEnv(),
		process: NewProcess(),
	}
}

func (s *Std) String() string        { return "<std>" }
func (s *Std) Type() string          { return "std" }
func (s *Std) Freeze()               {}
func (s *Std) Truth() starlark.Bool  { return starlark.True }
func (s *Std) Hash() (uint32, error) { return unhashable("std") }

func (s *Std) Attr(name string) (starlark.Value, error) {
	switch name {
	case "fs":
		return s.fs, nil
	case "env":
		return s.env, nil
	case "process":
		return s.process, nil
	}
	return nil, nil
}

func (s *Std) AttrNames() []string { return []string{"fs", "env", "process"} }
