package capabilities

import (
	"bytes"
	"fmt"
	"text/template"

	"go.starlark.net/starlark"
)

// Templates is the `ctx.template` capability: three entry points
// (handlebars/jinja2/liquid-named, for script compatibility) that all
// render through the standard library's text/template, since no templating
// library appears anywhere in the retrieved example pack (see DESIGN.md).
type Templates struct {
	methodTable
}

var _ starlark.Value = (*Templates)(nil)
var _ starlark.HasAttrs = (*Templates)(nil)

func NewTemplates() *Templates {
	t := &Templates{}
	render := starlark.NewBuiltin("template.render", t.render)
	t.methodTable = methodTable{
		"handlebars": render,
		"jinja2":     render,
		"liquid":     render,
	}
	return t
}

func (t *Templates) String() string        { return "<template>" }
func (t *Templates) Type() string          { return "template" }
func (t *Templates) Freeze()               {}
func (t *Templates) Truth() starlark.Bool  { return starlark.True }
func (t *Templates) Hash() (uint32, error) { return unhashable("template") }

func (t *Templates) render(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var tmplSrc string
	var data *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "template", &tmplSrc, "data?", &data); err != nil {
		return nil, err
	}

	goData, err := starlarkDictToGo(data)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New("template").Parse(tmplSrc)
	if err != nil {
		return nil, fmt.Errorf("template: parse: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, goData); err != nil {
		return nil, fmt.Errorf("template: render: %w", err)
	}
	return starlark.String(buf.String()), nil
}

// starlarkDictToGo converts a starlark.Dict with string keys to a
// map[string]interface{} whose values are plain Go types, matching how the
// original flattens script values to serde_json before handing them to a
// template engine.
func starlarkDictToGo(d *starlark.Dict) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if d == nil {
		return out, nil
	}
	for _, item := range d.Items() {
		k, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("template: data keys must be strings")
		}
		v, err := starlarkValueToGo(item[1])
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func starlarkValueToGo(v starlark.Value) (interface{}, error) {
	switch x := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(x), nil
	case starlark.Int:
		i, ok := x.Int64()
		if !ok {
			return x.String(), nil
		}
		return i, nil
	case starlark.Float:
		return float64(x), nil
	case starlark.String:
		return string(x), nil
	case *starlark.List:
		out := make([]interface{}, 0, x.Len())
		iter := x.Iterate()
		defer iter.Done()
		var item starlark.Value
		for iter.Next(&item) {
			gv, err := starlarkValueToGo(item)
			if err != nil {
				return nil, err
			}
			out = append(out, gv)
		}
		return out, nil
	case *starlark.Dict:
		return starlarkDictToGo(x)
	default:
		return v.String(), nil
	}
}
