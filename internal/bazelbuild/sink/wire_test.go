package sink

import (
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestLifecycleRequestMarshalProducesWellFormedFields(t *testing.T) {
	req := &lifecycleRequest{
		BuildID:      "build-1",
		InvocationID: "inv-1",
		Kind:         lifecycleInvocationFinished,
		Success:      true,
		ExitCode:     0,
	}
	data := req.marshal()
	if len(data) == 0 {
		t.Fatalf("marshal() returned no bytes")
	}
	if !containsSubslice(data, []byte("build-1")) || !containsSubslice(data, []byte("inv-1")) {
		t.Fatalf("marshal() output does not contain the build/invocation IDs")
	}

	// A generic field-by-field scan (as unmarshalStreamResponse performs for
	// unknown fields) must be able to walk every field without erroring,
	// even though lifecycleRequest is not a streamResponse.
	if _, err := unmarshalStreamResponse(data); err != nil {
		t.Fatalf("unmarshalStreamResponse() failed to walk a well-formed lifecycle frame: %v", err)
	}
}

func TestLifecycleRequestOmitsOutcomeFieldsForNonTerminalKinds(t *testing.T) {
	req := &lifecycleRequest{BuildID: "b", InvocationID: "i", Kind: lifecycleEnqueued, Success: true}
	data := req.marshal()
	// Success is only meaningful for lifecycleInvocationFinished; a
	// lifecycleEnqueued frame must not encode it even when the struct's
	// Success is set to true.
	tagOnly := protowire.AppendTag(nil, fieldLifecycleSuccess, protowire.VarintType)
	if containsSubslice(data, append(tagOnly, protowire.AppendVarint(nil, 1)...)) {
		t.Fatalf("lifecycleEnqueued frame unexpectedly encoded the success field")
	}
}

func TestStreamRequestMarshalContainsPayload(t *testing.T) {
	req := &streamRequest{
		BuildID:      "build-1",
		InvocationID: "inv-1",
		SequenceNum:  42,
		Payload:      []byte("hello"),
		LastMessage:  true,
	}
	data := req.marshal()
	if len(data) == 0 {
		t.Fatalf("marshal() returned no bytes")
	}
	if !containsSubslice(data, []byte("hello")) {
		t.Fatalf("marshal() output does not contain the payload bytes")
	}
}

func TestUnmarshalStreamResponseReadsSequenceNumber(t *testing.T) {
	var ack []byte
	ack = protowire.AppendTag(ack, protowire.Number(1), protowire.VarintType)
	ack = protowire.AppendVarint(ack, 7)
	resp, err := unmarshalStreamResponse(ack)
	if err != nil {
		t.Fatalf("unmarshalStreamResponse() error: %v", err)
	}
	if resp.SequenceNum != 7 {
		t.Fatalf("SequenceNum = %d; want 7", resp.SequenceNum)
	}
}

func TestUnmarshalStreamResponseRejectsMalformedTag(t *testing.T) {
	if _, err := unmarshalStreamResponse([]byte{0xff}); err == nil {
		t.Fatalf("unmarshalStreamResponse() on a malformed tag byte did not error")
	}
}

func TestRawCodecRoundTrip(t *testing.T) {
	var codec rawCodec
	in := &rawMessage{bytes: []byte("payload bytes")}

	encoded, err := codec.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}

	out := &rawMessage{}
	if err := codec.Unmarshal(encoded, out); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if string(out.bytes) != "payload bytes" {
		t.Fatalf("round trip = %q; want %q", out.bytes, "payload bytes")
	}
}

func TestRawCodecRejectsWrongType(t *testing.T) {
	var codec rawCodec
	if _, err := codec.Marshal("not a rawMessage"); err == nil {
		t.Fatalf("Marshal() accepted a non-*rawMessage value")
	}
	if err := codec.Unmarshal([]byte("x"), new(int)); err == nil {
		t.Fatalf("Unmarshal() accepted a non-*rawMessage target")
	}
}

func containsSubslice(haystack, needle []byte) bool {
	if len(needle) == 0 {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
