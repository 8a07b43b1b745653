// Package sink implements the broadcast-subscribing workers named in
// spec.md §4.8/§4.9: a gRPC uploader that forwards build events to a remote
// collector with lifecycle framing, and a tracing sink that maps events to
// structured spans. Both subscribe in real-time mode at session creation
// (spec.md §4.7 step 3) and run until their subscription disconnects.
package sink

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// lifecycleKind distinguishes the four-frame lifecycle sequence spec.md
// §4.8 describes (enqueued, invocation-started, invocation-finished,
// build-finished) from a numbered build-tool event frame. This package does
// not reuse Bazel's public BES wire schema: the inner build-event payload
// spec.md treats as opaque has no bearing on how the uploader frames its
// own requests to the collector, so the envelope below is this sink's own
// minimal protobuf-shaped wire format, encoded with protowire the same way
// internal/bazelbuild/decode.go scans frames.
type lifecycleKind int32

const (
	lifecycleEnqueued lifecycleKind = iota
	lifecycleInvocationStarted
	lifecycleInvocationFinished
	lifecycleBuildFinished
)

// lifecycleRequest is one PublishLifecycleEvent-equivalent frame.
type lifecycleRequest struct {
	BuildID      string
	InvocationID string
	Kind         lifecycleKind

	// Set only for lifecycleInvocationFinished.
	Success      bool
	ExitCode     int32
	ErrorMessage string
}

const (
	fieldLifecycleBuildID      = protowire.Number(1)
	fieldLifecycleInvocationID = protowire.Number(2)
	fieldLifecycleKind         = protowire.Number(3)
	fieldLifecycleSuccess      = protowire.Number(4)
	fieldLifecycleExitCode     = protowire.Number(5)
	fieldLifecycleErrorMessage = protowire.Number(6)
)

func (r *lifecycleRequest) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldLifecycleBuildID, protowire.BytesType)
	b = protowire.AppendString(b, r.BuildID)
	b = protowire.AppendTag(b, fieldLifecycleInvocationID, protowire.BytesType)
	b = protowire.AppendString(b, r.InvocationID)
	b = protowire.AppendTag(b, fieldLifecycleKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Kind))
	if r.Kind == lifecycleInvocationFinished {
		b = protowire.AppendTag(b, fieldLifecycleSuccess, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(r.Success))
		b = protowire.AppendTag(b, fieldLifecycleExitCode, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(uint32(r.ExitCode)))
		if r.ErrorMessage != "" {
			b = protowire.AppendTag(b, fieldLifecycleErrorMessage, protowire.BytesType)
			b = protowire.AppendString(b, r.ErrorMessage)
		}
	}
	return b
}

// streamRequest is one PublishBuildToolEventStream-equivalent frame: a
// numbered forward of one opaque build-event payload, or the terminating
// last_message marker (spec.md §4.8's "numbered stream request" and
// "On the subscribed event marked last_message...").
type streamRequest struct {
	BuildID      string
	InvocationID string
	SequenceNum  uint64
	Payload      []byte
	LastMessage  bool
}

const (
	fieldStreamBuildID      = protowire.Number(1)
	fieldStreamInvocationID = protowire.Number(2)
	fieldStreamSequence     = protowire.Number(3)
	fieldStreamPayload      = protowire.Number(4)
	fieldStreamLastMessage  = protowire.Number(5)
)

func (r *streamRequest) marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldStreamBuildID, protowire.BytesType)
	b = protowire.AppendString(b, r.BuildID)
	b = protowire.AppendTag(b, fieldStreamInvocationID, protowire.BytesType)
	b = protowire.AppendString(b, r.InvocationID)
	b = protowire.AppendTag(b, fieldStreamSequence, protowire.VarintType)
	b = protowire.AppendVarint(b, r.SequenceNum)
	b = protowire.AppendTag(b, fieldStreamPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, r.Payload)
	if r.LastMessage {
		b = protowire.AppendTag(b, fieldStreamLastMessage, protowire.VarintType)
		b = protowire.AppendVarint(b, boolVarint(true))
	}
	return b
}

func boolVarint(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// streamResponse is the collector's per-frame acknowledgement; the sink
// only needs to know it arrived; malformed acks are skipped, not fatal
// (spec.md §4.8: "receive acknowledgements from the server stream").
type streamResponse struct {
	SequenceNum uint64
}

func unmarshalStreamResponse(data []byte) (streamResponse, error) {
	var resp streamResponse
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return resp, fmt.Errorf("malformed ack: bad tag")
		}
		data = data[n:]
		switch {
		case num == 1 && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return resp, fmt.Errorf("malformed ack sequence_number")
			}
			resp.SequenceNum = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return resp, fmt.Errorf("malformed ack field %d", num)
			}
			data = data[n:]
		}
	}
	return resp, nil
}

// rawMessage adapts our hand-rolled wire structs to grpc's encoding.Codec
// interface (grpc.ForceCodec), since there is no generated proto.Message
// for this package-local envelope to round-trip through.
type rawMessage struct {
	bytes []byte
}

type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(*rawMessage)
	if !ok {
		return nil, fmt.Errorf("sink: rawCodec cannot marshal %T", v)
	}
	return m.bytes, nil
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*rawMessage)
	if !ok {
		return fmt.Errorf("sink: rawCodec cannot unmarshal into %T", v)
	}
	m.bytes = append([]byte(nil), data...)
	return nil
}

func (rawCodec) Name() string { return "axl.bes.raw" }
