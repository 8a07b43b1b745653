package capabilities

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"go.starlark.net/starlark"
)

// Process is the `ctx.std.process` capability: the single `command(program)`
// entry point for running child processes from a task.
type Process struct {
	methodTable
}

var _ starlark.Value = (*Process)(nil)
var _ starlark.HasAttrs = (*Process)(nil)

func NewProcess() *Process {
	p := &Process{}
	p.methodTable = methodTable{
		"command": starlark.NewBuiltin("process.command", p.command),
	}
	return p
}

func (p *Process) String() string        { return "<process>" }
func (p *Process) Type() string          { return "process" }
func (p *Process) Freeze()               {}
func (p *Process) Truth() starlark.Bool  { return starlark.True }
func (p *Process) Hash() (uint32, error) { return unhashable("process") }

func (p *Process) command(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var program string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "program", &program); err != nil {
		return nil, err
	}
	return NewCommand(program), nil
}

// stdioMode is the stdin/stdout/stderr mode: "null", "piped", or "inherit".
type stdioMode int

const (
	stdioInherit stdioMode = iota
	stdioNull
	stdioPiped
)

func parseStdioMode(name, io string) (stdioMode, error) {
	switch io {
	case "null":
		return stdioNull, nil
	case "piped":
		return stdioPiped, nil
	case "inherit":
		return stdioInherit, nil
	default:
		return 0, fmt.Errorf("invalid %s type %q", name, io)
	}
}

// Command is the mutable builder returned by process.command(), chaining
// arg/args/env/current_dir/stdin/stdout/stderr/spawn methods, each
// returning `this`.
type Command struct {
	methodTable
	cmd    *exec.Cmd
	stdin  stdioMode
	stdout stdioMode
	stderr stdioMode
}

var _ starlark.Value = (*Command)(nil)
var _ starlark.HasAttrs = (*Command)(nil)

func NewCommand(program string) *Command {
	c := &Command{cmd: exec.Command(program), stdin: stdioInherit, stdout: stdioInherit, stderr: stdioInherit}
	c.methodTable = methodTable{
		"arg":         starlark.NewBuiltin("command.arg", c.arg),
		"args":        starlark.NewBuiltin("command.args", c.argsMethod),
		"env":         starlark.NewBuiltin("command.env", c.env),
		"current_dir": starlark.NewBuiltin("command.current_dir", c.currentDir),
		"stdin":       starlark.NewBuiltin("command.stdin", c.stdinMethod),
		"stdout":      starlark.NewBuiltin("command.stdout", c.stdoutMethod),
		"stderr":      starlark.NewBuiltin("command.stderr", c.stderrMethod),
		"spawn":       starlark.NewBuiltin("command.spawn", c.spawn),
	}
	return c
}

func (c *Command) String() string        { return "<command>" }
func (c *Command) Type() string          { return "command" }
func (c *Command) Freeze()               {}
func (c *Command) Truth() starlark.Bool  { return starlark.True }
func (c *Command) Hash() (uint32, error) { return unhashable("command") }

func (c *Command) arg(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var a string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "arg", &a); err != nil {
		return nil, err
	}
	c.cmd.Args = append(c.cmd.Args, a)
	return c, nil
}

func (c *Command) argsMethod(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var list *starlark.List
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "args", &list); err != nil {
		return nil, err
	}
	extra, err := unpackStringListValue(list)
	if err != nil {
		return nil, err
	}
	c.cmd.Args = append(c.cmd.Args, extra...)
	return c, nil
}

func (c *Command) env(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var key string
	var val starlark.Value = starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "key", &key, "value", &val); err != nil {
		return nil, err
	}
	if len(c.cmd.Env) == 0 {
		c.cmd.Env = append([]string{}, os.Environ()...)
	}
	if val == starlark.None {
		c.cmd.Env = removeEnvKey(c.cmd.Env, key)
		return c, nil
	}
	v, ok := starlark.AsString(val)
	if !ok {
		return nil, fmt.Errorf("env: value must be a string or None")
	}
	c.cmd.Env = append(removeEnvKey(c.cmd.Env, key), key+"="+v)
	return c, nil
}

func removeEnvKey(environ []string, key string) []string {
	out := environ[:0:0]
	prefix := key + "="
	for _, kv := range environ {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func (c *Command) currentDir(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "dir", &dir); err != nil {
		return nil, err
	}
	c.cmd.Dir = dir
	return c, nil
}

func (c *Command) stdinMethod(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var io string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "io", &io); err != nil {
		return nil, err
	}
	mode, err := parseStdioMode("stdin", io)
	if err != nil {
		return nil, err
	}
	c.stdin = mode
	return c, nil
}

func (c *Command) stdoutMethod(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var io string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "io", &io); err != nil {
		return nil, err
	}
	mode, err := parseStdioMode("stdout", io)
	if err != nil {
		return nil, err
	}
	c.stdout = mode
	return c, nil
}

func (c *Command) stderrMethod(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var io string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "io", &io); err != nil {
		return nil, err
	}
	mode, err := parseStdioMode("stderr", io)
	if err != nil {
		return nil, err
	}
	c.stderr = mode
	return c, nil
}

func (c *Command) spawn(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}

	var stdoutPipe io.ReadCloser
	var stderrPipe io.ReadCloser
	var stdinPipe io.WriteCloser
	var err error

	switch c.stdin {
	case stdioNull:
		c.cmd.Stdin = nil
	case stdioInherit:
		c.cmd.Stdin = os.Stdin
	case stdioPiped:
		stdinPipe, err = c.cmd.StdinPipe()
		if err != nil {
			return nil, err
		}
	}
	switch c.stdout {
	case stdioNull:
		c.cmd.Stdout = nil
	case stdioInherit:
		c.cmd.Stdout = os.Stdout
	case stdioPiped:
		stdoutPipe, err = c.cmd.StdoutPipe()
		if err != nil {
			return nil, err
		}
	}
	switch c.stderr {
	case stdioNull:
		c.cmd.Stderr = nil
	case stdioInherit:
		c.cmd.Stderr = os.Stderr
	case stdioPiped:
		stderrPipe, err = c.cmd.StderrPipe()
		if err != nil {
			return nil, err
		}
	}

	if err := c.cmd.Start(); err != nil {
		return nil, err
	}

	return NewChild(c.cmd, stdinPipe, stdoutPipe, stderrPipe), nil
}

func unpackStringListValue(l *starlark.List) ([]string, error) {
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

// Child wraps a running *exec.Cmd.
type Child struct {
	methodTable
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     io.ReadCloser
	stderr     io.ReadCloser
	stdoutUsed bool
	stderrUsed bool
	waited     bool
	waitErr    error
}

var _ starlark.Value = (*Child)(nil)
var _ starlark.HasAttrs = (*Child)(nil)

func NewChild(cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.ReadCloser) *Child {
	c := &Child{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}
	c.methodTable = methodTable{
		"stdout": starlark.NewBuiltin("child.stdout", c.stdoutMethod),
		"stderr": starlark.NewBuiltin("child.stderr", c.stderrMethod),
		"stdin":  starlark.NewBuiltin("child.stdin", c.stdinMethod),
		"kill":   starlark.NewBuiltin("child.kill", c.kill),
		"wait":   starlark.NewBuiltin("child.wait", c.wait),
	}
	return c
}

func (c *Child) String() string        { return fmt.Sprintf("<child pid:%d>", c.cmd.Process.Pid) }
func (c *Child) Type() string          { return "child" }
func (c *Child) Freeze()               {}
func (c *Child) Truth() starlark.Bool  { return starlark.True }
func (c *Child) Hash() (uint32, error) { return unhashable("child") }

func (c *Child) Attr(name string) (starlark.Value, error) {
	if name == "id" {
		return starlark.MakeInt(c.cmd.Process.Pid), nil
	}
	return c.methodTable.Attr(name)
}

func (c *Child) AttrNames() []string {
	return append([]string{"id"}, c.methodTable.AttrNames()...)
}

func (c *Child) stdoutMethod(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if c.stdout == nil {
		return nil, fmt.Errorf(`stdout is not available. spawn the process with stdout("piped").`)
	}
	if c.stdoutUsed {
		return nil, fmt.Errorf("stdout already taken")
	}
	c.stdoutUsed = true
	return NewReadable(c.stdout), nil
}

func (c *Child) stderrMethod(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if c.stderr == nil {
		return nil, fmt.Errorf(`stderr is not available. spawn the process with stderr("piped").`)
	}
	if c.stderrUsed {
		return nil, fmt.Errorf("stderr already taken")
	}
	c.stderrUsed = true
	return NewReadable(c.stderr), nil
}

func (c *Child) stdinMethod(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if c.stdin == nil {
		return nil, fmt.Errorf(`stdin is not available. spawn the process with stdin("piped").`)
	}
	w := c.stdin
	c.stdin = nil
	return NewWritable(w), nil
}

func (c *Child) kill(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := c.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return nil, err
	}
	return starlark.None, nil
}

func (c *Child) wait(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if !c.waited {
		c.waited = true
		c.waitErr = c.cmd.Wait()
	}
	code := 0
	if c.cmd.ProcessState != nil {
		code = c.cmd.ProcessState.ExitCode()
	} else if c.waitErr != nil {
		code = -1
	}
	return starlark.MakeInt(code), nil
}
