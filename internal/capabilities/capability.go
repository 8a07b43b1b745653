// Package capabilities implements the script-exposed capability surface
// named in spec.md §1/§4.4/§9: filesystem, environment, process, streams,
// HTTP, templates, WASM, and Bazel integration. Each capability is a
// polymorphic, heap-allocated value exposing a fixed method set — tagged
// variants distinguished by their Starlark type string, not a class
// hierarchy, per spec.md §9's "Dynamic dispatch of script-exposed
// capabilities" note. None of them reenter the evaluator: they operate on
// the host filesystem/network/process table directly and return plain
// Starlark values.
package capabilities

import (
	"fmt"
	"sort"

	"go.starlark.net/starlark"
)

// methodTable implements the Attr/AttrNames half of starlark.HasAttrs for
// every capability object below: each one's behavior is a fixed set of
// bound builtins, not fields.
type methodTable map[string]*starlark.Builtin

func (m methodTable) Attr(name string) (starlark.Value, error) {
	if b, ok := m[name]; ok {
		return b, nil
	}
	return nil, nil
}

func (m methodTable) AttrNames() []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func unhashable(typ string) (uint32, error) {
	return 0, fmt.Errorf("unhashable: %s", typ)
}
