package capabilities

import (
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"

	"github.com/axl-run/axl/internal/axlerr"
)

// FS is the `ctx.std.fs` capability: filesystem operations confined to the
// project root.
type FS struct {
	methodTable
	root string
}

var _ starlark.Value = (*FS)(nil)
var _ starlark.HasAttrs = (*FS)(nil)

func NewFS(root string) *FS {
	fs := &FS{root: root}
	fs.methodTable = methodTable{
		"read_file":  starlark.NewBuiltin("fs.read_file", fs.readFile),
		"write_file": starlark.NewBuiltin("fs.write_file", fs.writeFile),
		"exists":     starlark.NewBuiltin("fs.exists", fs.exists),
		"mkdir_all":  starlark.NewBuiltin("fs.mkdir_all", fs.mkdirAll),
		"list_dir":   starlark.NewBuiltin("fs.list_dir", fs.listDir),
		"remove":     starlark.NewBuiltin("fs.remove", fs.remove),
	}
	return fs
}

func (f *FS) String() string        { return "<fs>" }
func (f *FS) Type() string          { return "fs" }
func (f *FS) Freeze()               {}
func (f *FS) Truth() starlark.Bool  { return starlark.True }
func (f *FS) Hash() (uint32, error) { return unhashable("fs") }

// confine resolves a script-supplied relative path against the capability's
// root, refusing any result that would escape it.
func (f *FS) confine(rel string) (string, error) {
	abs := filepath.Join(f.root, rel)
	abs = filepath.Clean(abs)
	rootClean := filepath.Clean(f.root)
	if abs != rootClean && !strings.HasPrefix(abs, rootClean+string(filepath.Separator)) {
		return "", &axlerr.EscapesModuleRoot{Path: abs, ModuleRoot: rootClean}
	}
	return abs, nil
}

func (f *FS) readFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	abs, err := f.confine(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	return starlark.String(data), nil
}

func (f *FS) writeFile(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, content string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "content", &content); err != nil {
		return nil, err
	}
	abs, err := f.confine(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

func (f *FS) exists(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	abs, err := f.confine(path)
	if err != nil {
		return nil, err
	}
	_, statErr := os.Stat(abs)
	return starlark.Bool(statErr == nil), nil
}

func (f *FS) mkdirAll(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	abs, err := f.confine(path)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// DirEntry carries one directory listing entry: path, is_file, is_dir.
type DirEntry struct {
	Path  string
	IsDir bool
}

var _ starlark.Value = (*DirEntry)(nil)
var _ starlark.HasAttrs = (*DirEntry)(nil)

func (d *DirEntry) String() string        { return "<fs.DirEntry path:" + d.Path + ">" }
func (d *DirEntry) Type() string          { return "fs.DirEntry" }
func (d *DirEntry) Freeze()               {}
func (d *DirEntry) Truth() starlark.Bool  { return starlark.True }
func (d *DirEntry) Hash() (uint32, error) { return unhashable("fs.DirEntry") }
func (d *DirEntry) Attr(name string) (starlark.Value, error) {
	switch name {
	case "path":
		return starlark.String(d.Path), nil
	case "is_file":
		return starlark.Bool(!d.IsDir), nil
	case "is_dir":
		return starlark.Bool(d.IsDir), nil
	}
	return nil, nil
}
func (d *DirEntry) AttrNames() []string { return []string{"path", "is_file", "is_dir"} }

func (f *FS) listDir(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path?", &path); err != nil {
		return nil, err
	}
	abs, err := f.confine(path)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	out := make([]starlark.Value, 0, len(entries))
	for _, e := range entries {
		out = append(out, &DirEntry{Path: filepath.Join(path, e.Name()), IsDir: e.IsDir()})
	}
	return starlark.NewList(out), nil
}

func (f *FS) remove(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	abs, err := f.confine(path)
	if err != nil {
		return nil, err
	}
	if err := os.RemoveAll(abs); err != nil {
		return nil, err
	}
	return starlark.None, nil
}
