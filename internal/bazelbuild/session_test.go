package bazelbuild

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestFormatCommand(t *testing.T) {
	got := formatCommand([]string{"--bazelrc=x"}, "build", []string{"-c", "opt"}, []string{"//foo:bar"})
	want := "bazel --bazelrc=x build -c opt -- //foo:bar"
	if got != want {
		t.Fatalf("formatCommand() = %q; want %q", got, want)
	}
}

func TestPidParsesServerPidOutput(t *testing.T) {
	fake := writeFakeBuildTool(t, "echo 4242")
	pid, err := Pid(fake)
	if err != nil {
		t.Fatalf("Pid() error: %v", err)
	}
	if pid != 4242 {
		t.Fatalf("Pid() = %d; want 4242", pid)
	}
}

func TestPidRejectsNonNumericOutput(t *testing.T) {
	fake := writeFakeBuildTool(t, "echo not-a-pid")
	if _, err := Pid(fake); err == nil {
		t.Fatalf("Pid() with non-numeric output did not error")
	}
}

func TestPidPropagatesCommandFailure(t *testing.T) {
	fake := writeFakeBuildTool(t, "exit 1")
	if _, err := Pid(fake); err == nil {
		t.Fatalf("Pid() did not error when the build tool exited nonzero")
	}
}

func writeFakeBuildTool(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-bazel")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func TestPumpReaderBroadcastsFramesAndStopsOnLastMessage(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, "frame-one", false)
	writeFrame(&buf, "frame-two", true)

	b := NewBroadcaster[RawEvent]()
	sub := b.Subscribe()

	err := pumpReader(context.Background(), &buf, b, "test-stream")
	if err != nil {
		t.Fatalf("pumpReader() error: %v", err)
	}

	first, ok := sub.Recv()
	if !ok || !bytes.Contains(first.Payload, []byte("frame-one")) || first.LastMessage {
		t.Fatalf("first event = %+v, %v; want payload containing frame-one, last_message false", first, ok)
	}
	second, ok := sub.Recv()
	if !ok || !bytes.Contains(second.Payload, []byte("frame-two")) || !second.LastMessage {
		t.Fatalf("second event = %+v, %v; want payload containing frame-two, last_message true", second, ok)
	}
	if !sub.IsClosed() {
		t.Fatalf("broadcaster not closed after last_message frame")
	}
}

func TestPumpReaderStopsOnCanceledContext(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	b := NewBroadcaster[RawEvent]()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := pumpReader(ctx, r, b, "test-stream"); err != nil {
		t.Fatalf("pumpReader() with an already-canceled context returned an error: %v", err)
	}
}

func TestExitStatusNilProcessState(t *testing.T) {
	cmd := exec.Command("true")
	status := exitStatus(cmd)
	if status.Success || status.Code != nil {
		t.Fatalf("exitStatus(unstarted cmd) = %+v; want zero value", status)
	}
}

// writeFrame encodes a length-delimited frame matching the wire format
// frameReader.next expects: a varint size prefix followed by a serialized
// BuildEvent message carrying payload in field 1 and, when lastMessage is
// set, last_message (field 100).
func writeFrame(buf *bytes.Buffer, payload string, lastMessage bool) {
	var body []byte
	body = protowire.AppendTag(body, protowire.Number(1), protowire.BytesType)
	body = protowire.AppendString(body, payload)
	if lastMessage {
		body = protowire.AppendTag(body, lastMessageFieldNumber, protowire.VarintType)
		body = protowire.AppendVarint(body, 1)
	}
	writeVarint(buf, uint64(len(body)))
	buf.Write(body)
}

func writeVarint(buf *bytes.Buffer, v uint64) {
	for v >= 0x80 {
		buf.WriteByte(byte(v) | 0x80)
		v >>= 7
	}
	buf.WriteByte(byte(v))
}

func TestWriteFrameHelperMatchesFrameReader(t *testing.T) {
	var buf bytes.Buffer
	writeFrame(&buf, "x", true)
	fr := newFrameReader(&buf, "self-check")
	ev, err := fr.next()
	if err != nil || !bytes.Contains(ev.Payload, []byte("x")) || !ev.LastMessage {
		t.Fatalf("writeFrame helper is out of sync with frameReader: %+v, %v", ev, err)
	}
}
