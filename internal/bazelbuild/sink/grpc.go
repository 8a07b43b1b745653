package sink

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/xerrors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/credentials/oauth"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/axl-run/axl/internal/bazelbuild"
)

// GRPCConfig configures one uploader sink (spec.md §4.8).
type GRPCConfig struct {
	// Endpoint is the collector's "host:port" gRPC target.
	Endpoint string
	// Metadata is attached to every RPC (spec.md §6's "transport
	// authentication headers"), e.g. {"x-api-key": "..."}.
	Metadata map[string]string
	// Token, if non-empty, is wired as a static oauth2 per-RPC credential
	// (spec.md §4.8's "attached via an interceptor").
	Token string
	// Insecure disables TLS for local/test collectors.
	Insecure bool
}

// GRPC forwards one build session's broadcast build events to a remote
// collector over a bidirectional streaming RPC: open a stream, push many
// events, read acks concurrently. It implements bazelbuild.Sink.
type GRPC struct {
	cfg GRPCConfig
}

func NewGRPC(cfg GRPCConfig) *GRPC { return &GRPC{cfg: cfg} }

var _ bazelbuild.Sink = (*GRPC)(nil)

const publishBuildToolEventStreamMethod = "/google.devtools.build.v1.PublishBuildEvent/PublishBuildToolEventStream"
const publishLifecycleEventMethod = "/google.devtools.build.v1.PublishBuildEvent/PublishLifecycleEvent"

// Run dials the collector, issues the enqueued/invocation-started lifecycle
// frames, then concurrently forwards every broadcast event as a numbered
// stream request while draining acks, and finally issues
// invocation-finished/build-finished (spec.md §4.8).
func (g *GRPC) Run(ctx context.Context, sub *bazelbuild.Subscriber[bazelbuild.RawEvent]) error {
	dialOpts := []grpc.DialOption{grpc.WithDefaultCallOptions(grpc.ForceCodec(rawCodec{}))}
	if g.cfg.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if g.cfg.Token != "" {
		dialOpts = append(dialOpts, grpc.WithPerRPCCredentials(oauth.TokenSource{
			TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: g.cfg.Token}),
		}))
	}

	conn, err := grpc.Dial(g.cfg.Endpoint, dialOpts...)
	if err != nil {
		return xerrors.Errorf("sink: dialing %s: %w", g.cfg.Endpoint, err)
	}
	defer conn.Close()

	if len(g.cfg.Metadata) > 0 {
		md := metadata.New(g.cfg.Metadata)
		ctx = metadata.NewOutgoingContext(ctx, md)
	}

	buildID := uuid.NewString()
	invocationID := uuid.NewString()

	if err := g.publishLifecycle(ctx, conn, &lifecycleRequest{
		BuildID: buildID, InvocationID: invocationID, Kind: lifecycleEnqueued,
	}); err != nil {
		return xerrors.Errorf("sink: publishing build-enqueued: %w", err)
	}
	if err := g.publishLifecycle(ctx, conn, &lifecycleRequest{
		BuildID: buildID, InvocationID: invocationID, Kind: lifecycleInvocationStarted,
	}); err != nil {
		return xerrors.Errorf("sink: publishing invocation-started: %w", err)
	}

	stream, err := conn.NewStream(ctx, &grpc.StreamDesc{
		StreamName:    "PublishBuildToolEventStream",
		ClientStreams: true,
		ServerStreams: true,
	}, publishBuildToolEventStreamMethod)
	if err != nil {
		return xerrors.Errorf("sink: opening event stream: %w", err)
	}

	var wg sync.WaitGroup
	var ackErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		ackErr = drainAcks(stream)
	}()

	sendErr := forwardEvents(stream, sub, buildID, invocationID)
	if closeErr := stream.CloseSend(); closeErr != nil && sendErr == nil {
		sendErr = closeErr
	}
	wg.Wait()

	if sendErr != nil {
		return xerrors.Errorf("sink: forwarding build events: %w", sendErr)
	}
	if ackErr != nil {
		return xerrors.Errorf("sink: receiving acks: %w", ackErr)
	}

	// The unconditional success/exit-code-0 status is the documented
	// behavior; spec.md §9 leaves reflecting the child's actual exit code
	// here as an implementer's call (see DESIGN.md).
	if err := g.publishLifecycle(ctx, conn, &lifecycleRequest{
		BuildID: buildID, InvocationID: invocationID, Kind: lifecycleInvocationFinished,
		Success: true,
	}); err != nil {
		return xerrors.Errorf("sink: publishing invocation-finished: %w", err)
	}
	if err := g.publishLifecycle(ctx, conn, &lifecycleRequest{
		BuildID: buildID, InvocationID: invocationID, Kind: lifecycleBuildFinished,
	}); err != nil {
		return xerrors.Errorf("sink: publishing build-finished: %w", err)
	}
	return nil
}

func (g *GRPC) publishLifecycle(ctx context.Context, conn *grpc.ClientConn, req *lifecycleRequest) error {
	in := &rawMessage{bytes: req.marshal()}
	out := &rawMessage{}
	return conn.Invoke(ctx, publishLifecycleEventMethod, in, out)
}

// forwardEvents sends every broadcast event as a strictly increasing
// sequence number starting at 1, stopping at the event marked last_message
// (spec.md §4.8, §5's "N numbered build-tool events (strictly increasing)").
func forwardEvents(stream grpc.ClientStream, sub *bazelbuild.Subscriber[bazelbuild.RawEvent], buildID, invocationID string) error {
	var seq uint64
	for {
		event, ok := sub.Recv()
		if !ok {
			return nil
		}
		seq++
		req := &streamRequest{
			BuildID:      buildID,
			InvocationID: invocationID,
			SequenceNum:  seq,
			Payload:      event.Payload,
			LastMessage:  event.LastMessage,
		}
		if err := stream.SendMsg(&rawMessage{bytes: req.marshal()}); err != nil {
			return err
		}
		if event.LastMessage {
			return nil
		}
	}
}

// drainAcks reads acknowledgements off the server stream until it ends;
// malformed acks are skipped and do not abort the drain (spec.md §4.8's
// "receive acknowledgements from the server stream" contract has no
// backpressure role here, per spec.md §9's stated TODO on backpressure).
func drainAcks(stream grpc.ClientStream) error {
	for {
		out := &rawMessage{}
		if err := stream.RecvMsg(out); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return grpcStreamDone(err)
		}
		if _, err := unmarshalStreamResponse(out.bytes); err != nil {
			continue
		}
	}
}

func grpcStreamDone(err error) error {
	if err == nil {
		return nil
	}
	// grpc.ClientStream.RecvMsg returns io.EOF once the server half-closes
	// (drainAcks handles that); a Canceled status is also treated as a clean
	// end rather than a sink failure.
	if st, ok := statusFromError(err); ok && st == "Canceled" {
		return nil
	}
	return err
}

func statusFromError(err error) (string, bool) {
	s, ok := status.FromError(err)
	if !ok {
		return "", false
	}
	return s.Code().String(), true
}
