package bazelbuild

import (
	"errors"
	"io"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/axl-run/axl/internal/axlerr"
)

// lastMessageFieldNumber is BuildEvent.last_message (field 100) in Bazel's
// public build_event_stream.proto. Scanning for this one field directly
// (rather than depending on generated message types) is deliberate: the
// fan-out's job is to move framed bytes to subscribers, not to interpret
// build-event semantics (spec.md §1's non-goal).
const lastMessageFieldNumber = protowire.Number(100)

// RawEvent is one length-delimited frame off a build-event stream: the
// undecoded protobuf bytes plus whether this was the terminating message.
type RawEvent struct {
	Payload     []byte
	LastMessage bool
}

// frameReader decodes the varint-length-prefixed message stream spec.md
// §4.7 describes, growing a reusable buffer as needed.
type frameReader struct {
	r      io.Reader
	stream string
	buf    []byte
}

func newFrameReader(r io.Reader, streamName string) *frameReader {
	return &frameReader{r: r, stream: streamName, buf: make([]byte, 5*1024)}
}

// readVarint reads a base-128 varint one byte at a time, since the length
// prefix precedes a message of unknown size and protowire's decoder needs
// the whole buffer up front.
func readVarint(r io.Reader) (uint64, error) {
	var (
		result uint64
		shift  uint
		b      [1]byte
	)
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return 0, err
		}
		result |= uint64(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, errors.New("varint overflow")
		}
	}
}

// next reads one frame, returning axlerr.BrokenPipe when the underlying
// reader reports it (translated from the pipe/streaming-file read policy) or
// when the stream ends (EOF) while reading the length prefix, and
// axlerr.StreamDecodeError for anything else.
func (fr *frameReader) next() (RawEvent, error) {
	size, err := readVarint(fr.r)
	if err != nil {
		if isBrokenPipe(err) {
			return RawEvent{}, &axlerr.BrokenPipe{Stream: fr.stream}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return RawEvent{}, &axlerr.BrokenPipe{Stream: fr.stream}
		}
		return RawEvent{}, &axlerr.StreamDecodeError{Stream: fr.stream, Err: err}
	}

	if uint64(cap(fr.buf)) < size {
		fr.buf = make([]byte, size)
	}
	payload := fr.buf[:size]
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if isBrokenPipe(err) {
			return RawEvent{}, &axlerr.BrokenPipe{Stream: fr.stream}
		}
		return RawEvent{}, &axlerr.StreamDecodeError{Stream: fr.stream, Err: err}
	}

	frozen := make([]byte, size)
	copy(frozen, payload)

	return RawEvent{Payload: frozen, LastMessage: scanLastMessage(frozen)}, nil
}

func isBrokenPipe(err error) bool {
	var bp *axlerr.BrokenPipe
	return errors.As(err, &bp)
}

// scanLastMessage walks the top-level fields of a serialized BuildEvent
// looking for field 100 (last_message, a bool/varint), without depending on
// a generated protobuf message type.
func scanLastMessage(data []byte) bool {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return false
		}
		data = data[n:]

		var size int
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return false
			}
			if num == lastMessageFieldNumber {
				return v != 0
			}
			data = data[n:]
			continue
		case protowire.Fixed32Type:
			size = 4
		case protowire.Fixed64Type:
			size = 8
		case protowire.BytesType:
			_, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return false
			}
			data = data[n:]
			continue
		default:
			return false
		}
		if len(data) < size {
			return false
		}
		data = data[size:]
	}
	return false
}
