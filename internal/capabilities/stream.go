package capabilities

import (
	"bufio"
	"io"

	"go.starlark.net/starlark"
)

// Readable is the `ctx.std.stream.Readable` capability wrapping an
// io.ReadCloser, used for a running child process's stdout/stderr handle.
type Readable struct {
	methodTable
	r      io.ReadCloser
	br     *bufio.Reader
	closed bool
}

var _ starlark.Value = (*Readable)(nil)
var _ starlark.HasAttrs = (*Readable)(nil)

func NewReadable(r io.ReadCloser) *Readable {
	s := &Readable{r: r, br: bufio.NewReader(r)}
	s.methodTable = methodTable{
		"read_line": starlark.NewBuiltin("stream.read_line", s.readLine),
		"read_all":  starlark.NewBuiltin("stream.read_all", s.readAll),
		"close":     starlark.NewBuiltin("stream.close", s.close),
	}
	return s
}

func (s *Readable) String() string        { return "<stream.Readable>" }
func (s *Readable) Type() string          { return "stream.Readable" }
func (s *Readable) Freeze()               {}
func (s *Readable) Truth() starlark.Bool  { return starlark.True }
func (s *Readable) Hash() (uint32, error) { return unhashable("stream.Readable") }

// readLine returns None at end of stream.
func (s *Readable) readLine(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	line, err := s.br.ReadString('\n')
	if err != nil && line == "" {
		if err == io.EOF {
			return starlark.None, nil
		}
		return nil, err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return starlark.String(line), nil
}

func (s *Readable) readAll(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(s.br)
	if err != nil {
		return nil, err
	}
	return starlark.String(data), nil
}

func (s *Readable) close(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	if s.closed {
		return starlark.None, nil
	}
	s.closed = true
	return starlark.None, s.r.Close()
}

// Writable wraps an io.WriteCloser (a spawned command's piped stdin).
type Writable struct {
	methodTable
	w      io.WriteCloser
	closed bool
}

var _ starlark.Value = (*Writable)(nil)
var _ starlark.HasAttrs = (*Writable)(nil)

func NewWritable(w io.WriteCloser) *Writable {
	s := &Writable{w: w}
	s.methodTable = methodTable{
		"write": starlark.NewBuiltin("stream.write", s.write),
		"close": starlark.NewBuiltin("stream.close", s.close),
	}
	return s
}

func (s *Writable) String() string        { return "<stream.Writable>" }
func (s *Writable) Type() string          { return "stream.Writable" }
func (s *Writable) Freeze()               {}
func (s *Writable) Truth() starlark.Bool  { return starlark.True }
func (s *Writable) Hash() (uint32, error) { return unhashable("stream.Writable") }

func (s *Writable) write(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var data string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "data", &data); err != nil {
		return nil, err
	}
	n, err := io.WriteString(s.w, data)
	if err != nil {
		return nil, err
	}
	return starlark.MakeInt(n), nil
}

func (s *Writable) close(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	if s.closed {
		return starlark.None, nil
	}
	s.closed = true
	return starlark.None, s.w.Close()
}
