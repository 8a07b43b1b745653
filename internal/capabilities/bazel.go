package capabilities

import (
	"context"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/axl-run/axl/internal/bazelbuild"
	"github.com/axl-run/axl/internal/bazelbuild/sink"
)

// Bazel is the `ctx.bazel` capability: the single `build(...)` entry point
// that spawns a build-tool session (spec.md §4.7). internal/dispatch passes
// the same Bazel instance into every task's context, so ctx.bazel is set for
// every task (capabilities/context.go).
type Bazel struct {
	methodTable
	ctx       context.Context
	uploader  *sink.GRPCConfig
	buildTool string
}

var _ starlark.Value = (*Bazel)(nil)
var _ starlark.HasAttrs = (*Bazel)(nil)

// NewBazel constructs the ctx.bazel object. uploader is nil when no remote
// collector is configured, in which case build() only runs the mandatory
// tracing sink.
func NewBazel(ctx context.Context, buildTool string, uploader *sink.GRPCConfig) *Bazel {
	b := &Bazel{ctx: ctx, uploader: uploader, buildTool: buildTool}
	b.methodTable = methodTable{
		"build": starlark.NewBuiltin("bazel.build", b.build),
	}
	return b
}

func (b *Bazel) String() string        { return "<bazel>" }
func (b *Bazel) Type() string          { return "bazel" }
func (b *Bazel) Freeze()               {}
func (b *Bazel) Truth() starlark.Bool  { return starlark.True }
func (b *Bazel) Hash() (uint32, error) { return unhashable("bazel") }

// build spawns one Bazel/Aspect CLI invocation and returns the Build object
// scripts drive via build_events()/execution_logs()/workspace_events()/
// try_wait()/wait() (spec.md §4.7's "Session lifecycle" and §3's task-facing
// Build API).
func (b *Bazel) build(thread *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		verb                string
		targets             *starlark.List
		flags               *starlark.List
		startupFlags        *starlark.List
		currentDir          string
		wantBuildEvents     = true
		wantWorkspaceEvents bool
		wantExecutionLog    bool
		inheritStdout       = true
		inheritStderr       = true
	)
	if err := starlark.UnpackArgs(bi.Name(), args, kwargs,
		"verb", &verb,
		"targets?", &targets,
		"flags?", &flags,
		"startup_flags?", &startupFlags,
		"current_dir?", &currentDir,
		"build_events?", &wantBuildEvents,
		"workspace_events?", &wantWorkspaceEvents,
		"execution_log?", &wantExecutionLog,
		"inherit_stdout?", &inheritStdout,
		"inherit_stderr?", &inheritStderr,
	); err != nil {
		return nil, err
	}

	targetList, err := optionalStringList(targets)
	if err != nil {
		return nil, fmt.Errorf("bazel.build: targets: %w", err)
	}
	flagList, err := optionalStringList(flags)
	if err != nil {
		return nil, fmt.Errorf("bazel.build: flags: %w", err)
	}
	startupList, err := optionalStringList(startupFlags)
	if err != nil {
		return nil, fmt.Errorf("bazel.build: startup_flags: %w", err)
	}

	var sinks []bazelbuild.Sink
	sinks = append(sinks, &sink.Tracing{})
	if b.uploader != nil {
		sinks = append(sinks, sink.NewGRPC(*b.uploader))
	}

	session, err := bazelbuild.Spawn(b.ctx, bazelbuild.SpawnOptions{
		Verb:                verb,
		Targets:             targetList,
		Flags:               flagList,
		StartupFlags:        startupList,
		CurrentDir:          currentDir,
		WantBuildEvents:     wantBuildEvents,
		Sinks:               sinks,
		WantWorkspaceEvents: wantWorkspaceEvents,
		WantExecutionLog:    wantExecutionLog,
		InheritStdout:       inheritStdout,
		InheritStderr:       inheritStderr,
		BuildTool:           b.buildTool,
	})
	if err != nil {
		return nil, err
	}
	return NewBuild(session), nil
}

func optionalStringList(l *starlark.List) ([]string, error) {
	if l == nil {
		return nil, nil
	}
	return unpackStringListValue(l)
}

// Build wraps a *bazelbuild.Session, the task-facing object returned by
// bazel.build(...).
type Build struct {
	methodTable
	session *bazelbuild.Session
}

var _ starlark.Value = (*Build)(nil)
var _ starlark.HasAttrs = (*Build)(nil)

func NewBuild(session *bazelbuild.Session) *Build {
	b := &Build{session: session}
	b.methodTable = methodTable{
		"build_events":     starlark.NewBuiltin("build.build_events", b.buildEvents),
		"execution_logs":   starlark.NewBuiltin("build.execution_logs", b.executionLogs),
		"workspace_events": starlark.NewBuiltin("build.workspace_events", b.workspaceEvents),
		"try_wait":         starlark.NewBuiltin("build.try_wait", b.tryWait),
		"wait":             starlark.NewBuiltin("build.wait", b.wait),
	}
	return b
}

func (b *Build) String() string        { return "<build>" }
func (b *Build) Type() string          { return "build" }
func (b *Build) Freeze()               {}
func (b *Build) Truth() starlark.Bool  { return starlark.True }
func (b *Build) Hash() (uint32, error) { return unhashable("build") }

func (b *Build) buildEvents(thread *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(bi.Name(), args, kwargs); err != nil {
		return nil, err
	}
	sub, err := b.session.BuildEvents()
	if err != nil {
		return nil, err
	}
	return newEventStream(sub), nil
}

func (b *Build) executionLogs(thread *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(bi.Name(), args, kwargs); err != nil {
		return nil, err
	}
	sub, err := b.session.ExecutionLogEvents()
	if err != nil {
		return nil, err
	}
	return newEventStream(sub), nil
}

func (b *Build) workspaceEvents(thread *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(bi.Name(), args, kwargs); err != nil {
		return nil, err
	}
	sub, err := b.session.WorkspaceEvents()
	if err != nil {
		return nil, err
	}
	return newEventStream(sub), nil
}

func (b *Build) tryWait(thread *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(bi.Name(), args, kwargs); err != nil {
		return nil, err
	}
	status, err := b.session.TryWait()
	if err != nil {
		return nil, err
	}
	if status == nil {
		return starlark.None, nil
	}
	return buildStatusValue(*status), nil
}

func (b *Build) wait(thread *starlark.Thread, bi *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(bi.Name(), args, kwargs); err != nil {
		return nil, err
	}
	status, err := b.session.Wait()
	if err != nil {
		return nil, err
	}
	return buildStatusValue(status), nil
}

func buildStatusValue(status bazelbuild.BuildStatus) starlark.Value {
	code := starlark.Value(starlark.None)
	if status.Code != nil {
		code = starlark.MakeInt(*status.Code)
	}
	return starlarkstruct.FromKeywords(starlarkstruct.Default, []starlark.Tuple{
		{starlark.String("success"), starlark.Bool(status.Success)},
		{starlark.String("code"), code},
	})
}

// eventFrame is the Starlark value yielded by an eventStream iterator: one
// decoded-at-the-framing-level build event, left opaque past that per
// spec.md §1's non-goal on interpreting payload semantics.
type eventFrame struct {
	methodTable
	payload     string
	lastMessage bool
}

var _ starlark.Value = (*eventFrame)(nil)
var _ starlark.HasAttrs = (*eventFrame)(nil)

func newEventFrame(ev bazelbuild.RawEvent) *eventFrame {
	f := &eventFrame{payload: string(ev.Payload), lastMessage: ev.LastMessage}
	return f
}

func (f *eventFrame) String() string        { return "<build_event>" }
func (f *eventFrame) Type() string          { return "build_event" }
func (f *eventFrame) Freeze()               {}
func (f *eventFrame) Truth() starlark.Bool  { return starlark.True }
func (f *eventFrame) Hash() (uint32, error) { return unhashable("build_event") }

func (f *eventFrame) Attr(name string) (starlark.Value, error) {
	switch name {
	case "payload":
		return starlark.String(f.payload), nil
	case "last_message":
		return starlark.Bool(f.lastMessage), nil
	}
	return f.methodTable.Attr(name)
}

func (f *eventFrame) AttrNames() []string {
	return append([]string{"payload", "last_message"}, f.methodTable.AttrNames()...)
}

// eventStream adapts a *bazelbuild.Subscriber to starlark.Iterable, so a
// script writes `for event in build.build_events():` directly. Each call to
// Iterate starts from wherever the subscriber's queue currently stands: the
// subscriber, not the stream, is the iteration cursor (spec.md §4.7's "fresh
// lazy iterator bound to the broadcaster" contract, matching the
// async Stream wrapping a watch/mpsc receiver).
type eventStream struct {
	sub *bazelbuild.Subscriber[bazelbuild.RawEvent]
}

var _ starlark.Value = (*eventStream)(nil)
var _ starlark.Iterable = (*eventStream)(nil)

func newEventStream(sub *bazelbuild.Subscriber[bazelbuild.RawEvent]) *eventStream {
	return &eventStream{sub: sub}
}

func (s *eventStream) String() string        { return "<build_event_stream>" }
func (s *eventStream) Type() string          { return "build_event_stream" }
func (s *eventStream) Freeze()               {}
func (s *eventStream) Truth() starlark.Bool  { return starlark.True }
func (s *eventStream) Hash() (uint32, error) { return unhashable("build_event_stream") }

func (s *eventStream) Iterate() starlark.Iterator { return &eventIterator{sub: s.sub} }

type eventIterator struct {
	sub  *bazelbuild.Subscriber[bazelbuild.RawEvent]
	done bool // set once a last_message frame has been yielded
}

func (it *eventIterator) Next(p *starlark.Value) bool {
	if it.done {
		return false
	}
	ev, ok := it.sub.Recv()
	if !ok {
		return false
	}
	*p = newEventFrame(ev)
	if ev.LastMessage {
		it.done = true
	}
	return true
}

func (it *eventIterator) Done() {}
