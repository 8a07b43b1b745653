package capabilities

import (
	"fmt"

	"go.starlark.net/starlark"
)

// WASM is the `ctx.wasm` capability. A complete WebAssembly host embeds a
// full interpreter with WASI, memory read/write, and function call
// marshalling; no WebAssembly runtime appears anywhere in the retrieved
// example pack, so there is no grounded third-party engine to wire here
// (see DESIGN.md). This exposes only `load`, which reports a clear
// unsupported-operation error rather than silently no-opping, so a script
// that reaches for WASM support fails loudly instead of behaving as if the
// call succeeded. Calling exported functions and touching linear memory are
// not exposed.
type WASM struct {
	methodTable
}

var _ starlark.Value = (*WASM)(nil)
var _ starlark.HasAttrs = (*WASM)(nil)

func NewWASM() *WASM {
	w := &WASM{}
	w.methodTable = methodTable{
		"load": starlark.NewBuiltin("wasm.load", w.load),
	}
	return w
}

func (w *WASM) String() string        { return "<wasm>" }
func (w *WASM) Type() string          { return "wasm" }
func (w *WASM) Freeze()               {}
func (w *WASM) Truth() starlark.Bool  { return starlark.True }
func (w *WASM) Hash() (uint32, error) { return unhashable("wasm") }

func (w *WASM) load(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("wasm: no WebAssembly runtime is available in this build (wasm.load %q)", path)
}
