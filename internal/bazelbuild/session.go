package bazelbuild

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/axl-run/axl/internal/axlerr"
)

var tracer = otel.Tracer("github.com/axl-run/axl/internal/bazelbuild")

// Sink is a worker that subscribes to the build-event broadcaster at
// session creation and runs until the broadcaster closes (spec.md §4.7
// step 3). Implementations live in internal/bazelbuild/sink.
type Sink interface {
	Run(ctx context.Context, sub *Subscriber[RawEvent]) error
}

// SpawnOptions configures one build session (spec.md §4.7 "Session
// lifecycle"), a Go rendering of Build::spawn's parameter list.
type SpawnOptions struct {
	Verb    string
	Targets []string

	WantBuildEvents     bool
	Sinks               []Sink
	WantExecutionLog    bool
	WantWorkspaceEvents bool

	Flags         []string
	StartupFlags  []string
	InheritStdout bool
	InheritStderr bool
	CurrentDir    string

	// BuildTool is the child binary to invoke; defaults to "bazel".
	BuildTool string
	// TempDir overrides the directory named pipes are created under,
	// defaulting to os.TempDir().
	TempDir string
}

// BuildStatus is returned by Wait: success plus the child's numeric exit
// code when the OS reports one (spec.md §4.7).
type BuildStatus struct {
	Success bool
	Code    *int
}

// Session owns a spawned build-tool child process and up to three decoded
// event streams, their reader threads, sink workers, and an entered tracing
// span (spec.md §3's "Build session"). The session owns the child until
// Wait is called.
type Session struct {
	cmd  *exec.Cmd
	span trace.Span

	buildEvents     *Broadcaster[RawEvent]
	workspaceEvents *Broadcaster[RawEvent]
	execLogEvents   *Broadcaster[RawEvent]

	readers  *errgroup.Group
	sinks    *errgroup.Group
	sinkCtx  context.Context
	sinkStop context.CancelFunc

	// exited is closed by a dedicated goroutine the instant cmd.Wait()
	// returns; it is the single caller of cmd.Wait so TryWait can poll it
	// without risking the "Wait called twice" panic os/exec raises.
	exited  chan struct{}
	waitErr error // result of cmd.Wait(), excluding *exec.ExitError

	waitOnce sync.Once
	joinErr  error
	waitStat BuildStatus
}

// Pid queries the child build tool for its server PID via a short
// synchronous invocation (spec.md §4.7 step 1), a Go port of Build::pid.
func Pid(buildTool string) (int, error) {
	if buildTool == "" {
		buildTool = "bazel"
	}
	out, err := exec.Command(buildTool, "info", "server_pid").Output()
	if err != nil {
		return 0, xerrors.Errorf("determining %s server pid: %w", buildTool, err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(out)))
	if err != nil {
		return 0, xerrors.Errorf("parsing %s server pid %q: %w", buildTool, strings.TrimSpace(string(out)), err)
	}
	return pid, nil
}

func debugMode() bool {
	return os.Getenv("ASPECT_DEBUG") != ""
}

// Spawn implements spec.md §4.7's "Session lifecycle": query the build
// tool's PID, open the requested named-pipe streams and their reader
// threads, spawn sink workers (including the mandatory tracing sink), then
// spawn the child with stream-control flags wired to the FIFOs.
func Spawn(ctx context.Context, opts SpawnOptions) (*Session, error) {
	buildTool := opts.BuildTool
	if buildTool == "" {
		buildTool = "bazel"
	}
	tmpDir := opts.TempDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}

	pid, err := Pid(buildTool)
	if err != nil {
		return nil, err
	}

	_, span := tracer.Start(ctx, "ctx.bazel.build", trace.WithAttributes(
		attribute.Bool("build_events", opts.WantBuildEvents),
		attribute.Bool("workspace_events", opts.WantWorkspaceEvents),
		attribute.Bool("execution_logs", opts.WantExecutionLog),
		attribute.StringSlice("flags", opts.Flags),
	))

	if debugMode() {
		log.Printf("axl: running %s", formatCommand(opts.StartupFlags, opts.Verb, opts.Flags, opts.Targets))
	}

	cmd := exec.Command(buildTool, opts.StartupFlags...)
	cmd.Args = append(cmd.Args, opts.Verb)
	if opts.CurrentDir != "" {
		cmd.Dir = opts.CurrentDir
	}

	readers, readerCtx := errgroup.WithContext(ctx)
	sinkCtx, sinkStop := context.WithCancel(ctx)
	sinks, sinkGroupCtx := errgroup.WithContext(sinkCtx)

	s := &Session{
		cmd:      cmd,
		span:     span,
		readers:  readers,
		sinks:    sinks,
		sinkCtx:  sinkGroupCtx,
		sinkStop: sinkStop,
	}

	if opts.WantBuildEvents {
		path := filepath.Join(tmpDir, fmt.Sprintf("axl-build-events-%d.pipe", pid))
		pipe, err := NewPipe(path, pid, "build-events")
		if err != nil {
			sinkStop()
			return nil, err
		}
		s.buildEvents = NewBroadcaster[RawEvent]()
		readers.Go(func() error { return pumpPipe(readerCtx, pipe, s.buildEvents, "build-events") })

		cmd.Args = append(cmd.Args,
			"--build_event_publish_all_actions",
			"--build_event_binary_file_upload_mode=fully_async",
			"--build_event_binary_file", path,
		)

		// Every declared sink subscribes in real-time mode at session
		// creation (spec.md §4.7 step 3); the mandatory tracing sink is one
		// of opts.Sinks by construction (capabilities.Bazel's build always
		// prepends it before calling Spawn).
		for _, sink := range opts.Sinks {
			sink := sink
			sub := s.buildEvents.Subscribe()
			sinks.Go(func() error { return sink.Run(sinkGroupCtx, sub) })
		}
	}

	if opts.WantWorkspaceEvents {
		path := filepath.Join(tmpDir, fmt.Sprintf("axl-workspace-events-%d.pipe", pid))
		pipe, err := NewPipe(path, pid, "workspace-events")
		if err != nil {
			sinkStop()
			return nil, err
		}
		s.workspaceEvents = NewBroadcaster[RawEvent]()
		readers.Go(func() error { return pumpPipe(readerCtx, pipe, s.workspaceEvents, "workspace-events") })
		cmd.Args = append(cmd.Args, "--experimental_workspace_rules_log_file", path)
	}

	if opts.WantExecutionLog {
		path := filepath.Join(tmpDir, fmt.Sprintf("axl-exec-log-%d.pipe", pid))
		s.execLogEvents = NewBroadcaster[RawEvent]()
		readers.Go(func() error {
			f, err := OpenStreamingFile(path, pid, "execution-log")
			if err != nil {
				s.execLogEvents.Close()
				return err
			}
			return pumpReader(readerCtx, f, s.execLogEvents, "execution-log")
		})
		cmd.Args = append(cmd.Args, "--execution_log_compact_file", path)
	}

	cmd.Args = append(cmd.Args, opts.Flags...)
	cmd.Args = append(cmd.Args, "--")
	cmd.Args = append(cmd.Args, opts.Targets...)

	if opts.InheritStdout {
		cmd.Stdout = os.Stdout
	}
	if opts.InheritStderr {
		cmd.Stderr = os.Stderr
	}
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		sinkStop()
		span.End()
		return nil, xerrors.Errorf("spawning %s: %w", buildTool, err)
	}

	s.exited = make(chan struct{})
	go func() {
		s.waitErr = s.cmd.Wait()
		close(s.exited)
	}()

	return s, nil
}

// BuildEvents returns a fresh lazy iterator bound to the build-event
// broadcaster. Each call yields an independent subscriber (spec.md §4.7).
func (s *Session) BuildEvents() (*Subscriber[RawEvent], error) {
	if s.buildEvents == nil {
		return nil, fmt.Errorf("call Spawn with WantBuildEvents=true in order to receive build events")
	}
	return s.buildEvents.Subscribe(), nil
}

// WorkspaceEvents returns a fresh subscriber to the workspace-rule event
// stream.
func (s *Session) WorkspaceEvents() (*Subscriber[RawEvent], error) {
	if s.workspaceEvents == nil {
		return nil, fmt.Errorf("call Spawn with WantWorkspaceEvents=true in order to receive workspace events")
	}
	return s.workspaceEvents.Subscribe(), nil
}

// ExecutionLogEvents returns a fresh subscriber to the execution-log stream.
func (s *Session) ExecutionLogEvents() (*Subscriber[RawEvent], error) {
	if s.execLogEvents == nil {
		return nil, fmt.Errorf("call Spawn with WantExecutionLog=true in order to receive execution log events")
	}
	return s.execLogEvents.Subscribe(), nil
}

// TryWait polls the child non-blockingly, returning (nil, nil) when the
// child has not yet exited. It does not perform the stream/sink joins that
// Wait does: callers that see a non-nil status should still call Wait to
// observe end-of-stream on every subscriber.
func (s *Session) TryWait() (*BuildStatus, error) {
	select {
	case <-s.exited:
	default:
		return nil, nil
	}
	if s.waitErr != nil {
		if _, ok := s.waitErr.(*exec.ExitError); !ok {
			return nil, xerrors.Errorf("waiting for child: %w", s.waitErr)
		}
	}
	status := exitStatus(s.cmd)
	return &status, nil
}

// Wait blocks on child exit, joins the reader threads (closing every
// broadcaster so sinks observe disconnect), joins every sink worker, and
// only then exits the span (spec.md §4.7's session lifecycle, §5's
// wait-never-deadlocks guarantee).
func (s *Session) Wait() (BuildStatus, error) {
	s.waitOnce.Do(func() {
		<-s.exited

		// Readers observe broken-pipe once the child process (and thus its
		// open fds) goes away, and call Close on their broadcaster; joining
		// them here guarantees that has happened before sinks are joined.
		readerErr := s.readers.Wait()

		sinkErr := s.sinks.Wait()
		s.sinkStop()

		s.span.End()

		s.waitStat = exitStatus(s.cmd)

		switch {
		case s.waitErr != nil:
			if _, ok := s.waitErr.(*exec.ExitError); !ok {
				s.joinErr = xerrors.Errorf("waiting for child: %w", s.waitErr)
				return
			}
		case readerErr != nil:
			s.joinErr = xerrors.Errorf("build event stream: %w", readerErr)
			return
		case sinkErr != nil:
			s.joinErr = xerrors.Errorf("build event sink: %w", sinkErr)
			return
		}
	})
	return s.waitStat, s.joinErr
}

func exitStatus(cmd *exec.Cmd) BuildStatus {
	ps := cmd.ProcessState
	if ps == nil {
		return BuildStatus{}
	}
	code := ps.ExitCode()
	return BuildStatus{Success: ps.Success(), Code: &code}
}

// pumpPipe decodes length-delimited frames off r until BrokenPipe or ctx is
// canceled, broadcasting each and closing b on exit so subscribers observe
// end-of-stream (spec.md §4.7's "Decoding"/"Broadcaster" contracts). The
// frame carrying last_message=true also terminates the pump.
func pumpPipe(ctx context.Context, p *Pipe, b *Broadcaster[RawEvent], stream string) error {
	defer b.Close()
	defer p.Close()
	return pumpReader(ctx, p, b, stream)
}

func pumpReader(ctx context.Context, r interface{ Read([]byte) (int, error) }, b *Broadcaster[RawEvent], stream string) error {
	defer b.Close()
	fr := newFrameReader(readerFunc(r.Read), stream)
	for {
		if ctx.Err() != nil {
			return nil
		}
		ev, err := fr.next()
		if err != nil {
			var bp *axlerr.BrokenPipe
			if isBrokenPipeErr(err, &bp) {
				return nil
			}
			return err
		}
		b.Send(ev)
		if ev.LastMessage {
			return nil
		}
	}
}

func isBrokenPipeErr(err error, target **axlerr.BrokenPipe) bool {
	if bp, ok := err.(*axlerr.BrokenPipe); ok {
		*target = bp
		return true
	}
	return false
}

// readerFunc adapts a Read method value to io.Reader.
type readerFunc func([]byte) (int, error)

func (f readerFunc) Read(p []byte) (int, error) { return f(p) }

func formatCommand(startupFlags []string, verb string, flags, targets []string) string {
	parts := append([]string{"bazel"}, startupFlags...)
	parts = append(parts, verb)
	parts = append(parts, flags...)
	parts = append(parts, "--")
	parts = append(parts, targets...)
	return strings.Join(parts, " ")
}
