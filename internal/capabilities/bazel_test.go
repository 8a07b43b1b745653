package capabilities

import (
	"context"
	"testing"

	"go.starlark.net/starlark"

	"github.com/axl-run/axl/internal/bazelbuild"
)

func TestBazelBuildRequiresVerb(t *testing.T) {
	b := NewBazel(context.Background(), "bazel", nil)
	thread := &starlark.Thread{}
	_, err := starlark.Call(thread, mustAttr(t, b, "build"), nil, nil)
	if err == nil {
		t.Fatalf("bazel.build() with no args did not error")
	}
}

func TestBazelBuildRejectsNonStringTargets(t *testing.T) {
	b := NewBazel(context.Background(), "bazel", nil)
	thread := &starlark.Thread{}
	args := starlark.Tuple{}
	kwargs := []starlark.Tuple{
		{starlark.String("verb"), starlark.String("build")},
		{starlark.String("targets"), starlark.NewList([]starlark.Value{starlark.MakeInt(1)})},
	}
	_, err := starlark.Call(thread, mustAttr(t, b, "build"), args, kwargs)
	if err == nil {
		t.Fatalf("bazel.build(targets=[1]) did not error")
	}
}

func TestBazelTypeAndTruth(t *testing.T) {
	b := NewBazel(context.Background(), "", nil)
	if b.Type() != "bazel" {
		t.Fatalf("Type() = %q; want %q", b.Type(), "bazel")
	}
	if !bool(b.Truth()) {
		t.Fatalf("Truth() = false; want true")
	}
	if _, err := b.Hash(); err == nil {
		t.Fatalf("Hash() did not error (bazel capability objects must be unhashable)")
	}
}

func TestBuildStatusValueFailureWithCode(t *testing.T) {
	code := 3
	v := buildStatusValue(bazelbuild.BuildStatus{Success: false, Code: &code})
	st, ok := v.(interface{ Attr(string) (starlark.Value, error) })
	if !ok {
		t.Fatalf("buildStatusValue() result has no Attr method")
	}
	success, err := st.Attr("success")
	if err != nil {
		t.Fatalf("Attr(success) error: %v", err)
	}
	if success != starlark.Bool(false) {
		t.Fatalf("success = %v; want false", success)
	}
	codeVal, err := st.Attr("code")
	if err != nil {
		t.Fatalf("Attr(code) error: %v", err)
	}
	if codeVal.(starlark.Int).String() != "3" {
		t.Fatalf("code = %v; want 3", codeVal)
	}
}

func TestBuildStatusValueNoCodeIsNone(t *testing.T) {
	v := buildStatusValue(bazelbuild.BuildStatus{Success: true})
	st := v.(interface{ Attr(string) (starlark.Value, error) })
	codeVal, err := st.Attr("code")
	if err != nil {
		t.Fatalf("Attr(code) error: %v", err)
	}
	if codeVal != starlark.None {
		t.Fatalf("code = %v; want None", codeVal)
	}
}

func TestEventStreamIterationYieldsFrames(t *testing.T) {
	b := bazelbuild.NewBroadcaster[bazelbuild.RawEvent]()
	sub := b.Subscribe()
	b.Send(bazelbuild.RawEvent{Payload: []byte("abc")})
	b.Send(bazelbuild.RawEvent{Payload: []byte("def"), LastMessage: true})

	stream := newEventStream(sub)
	iter := stream.Iterate()
	defer iter.Done()

	var got []string
	var v starlark.Value
	for iter.Next(&v) {
		frame := v.(*eventFrame)
		got = append(got, frame.payload)
	}
	if len(got) != 2 || got[0] != "abc" || got[1] != "def" {
		t.Fatalf("iterated payloads = %v; want [abc def]", got)
	}
}

func TestEventFrameAttrs(t *testing.T) {
	f := newEventFrame(bazelbuild.RawEvent{Payload: []byte("payload"), LastMessage: true})
	payload, err := f.Attr("payload")
	if err != nil {
		t.Fatalf("Attr(payload) error: %v", err)
	}
	if payload != starlark.String("payload") {
		t.Fatalf("payload = %v; want %q", payload, "payload")
	}
	last, err := f.Attr("last_message")
	if err != nil {
		t.Fatalf("Attr(last_message) error: %v", err)
	}
	if last != starlark.Bool(true) {
		t.Fatalf("last_message = %v; want true", last)
	}
}

func mustAttr(t *testing.T, v starlark.HasAttrs, name string) starlark.Value {
	t.Helper()
	attr, err := v.Attr(name)
	if err != nil {
		t.Fatalf("Attr(%s) error: %v", name, err)
	}
	return attr
}
