package capabilities

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"go.starlark.net/starlark"
)

// HTTP is the `ctx.http()` capability: get/post/download. The evaluator has
// no coroutine scheduler of its own, so each call blocks the invoking
// goroutine until the request completes.
type HTTP struct {
	methodTable
	client *http.Client
}

var _ starlark.Value = (*HTTP)(nil)
var _ starlark.HasAttrs = (*HTTP)(nil)

func NewHTTP() *HTTP {
	h := &HTTP{client: &http.Client{}}
	h.methodTable = methodTable{
		"get":      starlark.NewBuiltin("http.get", h.get),
		"post":     starlark.NewBuiltin("http.post", h.post),
		"download": starlark.NewBuiltin("http.download", h.download),
	}
	return h
}

func (h *HTTP) String() string        { return "<http>" }
func (h *HTTP) Type() string          { return "http" }
func (h *HTTP) Freeze()               {}
func (h *HTTP) Truth() starlark.Bool  { return starlark.True }
func (h *HTTP) Hash() (uint32, error) { return unhashable("http") }

func unpackHeaders(d *starlark.Dict) (map[string]string, error) {
	out := map[string]string{}
	if d == nil {
		return out, nil
	}
	for _, item := range d.Items() {
		k, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("headers: keys must be strings")
		}
		v, ok := starlark.AsString(item[1])
		if !ok {
			return nil, fmt.Errorf("headers: values must be strings")
		}
		out[k] = v
	}
	return out, nil
}

func (h *HTTP) doRequest(method, url string, headers map[string]string, body string) (*HTTPResponse, error) {
	var reqBody io.Reader
	if body != "" {
		reqBody = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var hdrs []HTTPHeader
	for k, vs := range resp.Header {
		for _, v := range vs {
			hdrs = append(hdrs, HTTPHeader{Name: k, Value: v})
		}
	}
	return &HTTPResponse{Status: resp.StatusCode, Body: string(data), Headers: hdrs}, nil
}

func (h *HTTP) get(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var url string
	var headers *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &url, "headers?", &headers); err != nil {
		return nil, err
	}
	hdrs, err := unpackHeaders(headers)
	if err != nil {
		return nil, err
	}
	resp, err := h.doRequest(http.MethodGet, url, hdrs, "")
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *HTTP) post(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var url, data string
	var headers *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &url, "headers?", &headers, "data", &data); err != nil {
		return nil, err
	}
	hdrs, err := unpackHeaders(headers)
	if err != nil {
		return nil, err
	}
	resp, err := h.doRequest(http.MethodPost, url, hdrs, data)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (h *HTTP) download(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var url, output string
	var mode int
	var headers *starlark.Dict
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "url", &url, "output", &output, "mode", &mode, "headers?", &headers); err != nil {
		return nil, err
	}
	hdrs, err := unpackHeaders(headers)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range hdrs {
		req.Header.Set(k, v)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(mode))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return nil, err
	}

	var respHdrs []HTTPHeader
	for k, vs := range resp.Header {
		for _, v := range vs {
			respHdrs = append(respHdrs, HTTPHeader{Name: k, Value: v})
		}
	}
	return &HTTPResponse{Status: resp.StatusCode, Headers: respHdrs}, nil
}

// HTTPHeader is one (name, value) pair preserving repeated-header order.
type HTTPHeader struct {
	Name  string
	Value string
}

// HTTPResponse exposes status/body/headers attributes, grounded in
// the HTTP response.
type HTTPResponse struct {
	Status  int
	Body    string
	Headers []HTTPHeader
}

var _ starlark.Value = (*HTTPResponse)(nil)
var _ starlark.HasAttrs = (*HTTPResponse)(nil)

func (r *HTTPResponse) String() string        { return fmt.Sprintf("<http_response %d>", r.Status) }
func (r *HTTPResponse) Type() string          { return "http_response" }
func (r *HTTPResponse) Freeze()               {}
func (r *HTTPResponse) Truth() starlark.Bool  { return starlark.True }
func (r *HTTPResponse) Hash() (uint32, error) { return unhashable("http_response") }

func (r *HTTPResponse) Attr(name string) (starlark.Value, error) {
	switch name {
	case "status":
		return starlark.MakeInt(r.Status), nil
	case "body":
		return starlark.String(r.Body), nil
	case "headers":
		var out []starlark.Value
		for _, h := range r.Headers {
			out = append(out, starlark.Tuple{starlark.String(h.Name), starlark.String(h.Value)})
		}
		return starlark.NewList(out), nil
	}
	return nil, nil
}

func (r *HTTPResponse) AttrNames() []string { return []string{"status", "body", "headers"} }
