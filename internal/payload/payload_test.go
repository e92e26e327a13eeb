package payload

import (
	"bytes"
	"io"
	"os"
	"testing"
)

func drainAll(t *testing.T, p *Payload, maxBody int) []Chunk {
	t.Helper()
	var chunks []Chunk
	for {
		c, err := p.DetachNextChunk(maxBody)
		if err != nil {
			t.Fatalf("detach: %v", err)
		}
		chunks = append(chunks, c)
		if c.Last {
			return chunks
		}
	}
}

func TestBytesOutgoingIncomingRoundTrip(t *testing.T) {
	src := []byte("the quick brown fox jumps over the lazy dog")
	out := NewOutgoingBytes(src)
	chunks := drainAll(t, out, 7)

	in := NewIncomingBytes(out.ID(), out.TotalSize())
	for _, c := range chunks {
		if err := in.AttachChunk(c); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}
	got, ok := in.AsBytes()
	if !ok {
		t.Fatal("expected bytes payload")
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("got %q want %q", got, src)
	}
	if in.Status() != StatusSuccess {
		t.Fatalf("expected success, got %v", in.Status())
	}
}

func TestZeroLengthBytesPayloadCompletesImmediately(t *testing.T) {
	out := NewOutgoingBytes(nil)
	c, err := out.DetachNextChunk(16)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Last || len(c.Body) != 0 || c.Offset != 0 {
		t.Fatalf("expected single empty last chunk, got %+v", c)
	}
	if out.Status() != StatusSuccess {
		t.Fatal("expected outgoing payload to finish immediately")
	}
}

func TestFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	srcPath := dir + "/src.bin"
	data := bytes.Repeat([]byte{0xAB}, 5000)
	if err := os.WriteFile(srcPath, data, 0o600); err != nil {
		t.Fatal(err)
	}
	srcF, err := os.Open(srcPath)
	if err != nil {
		t.Fatal(err)
	}
	defer srcF.Close()

	out := NewOutgoingFile(srcF, int64(len(data)))
	chunks := drainAll(t, out, 777)

	dstPath := dir + "/dst.bin"
	dstF, err := os.Create(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	defer dstF.Close()

	in := NewIncomingFile(out.ID(), out.TotalSize(), dstF)
	for _, c := range chunks {
		if err := in.AttachChunk(c); err != nil {
			t.Fatalf("attach: %v", err)
		}
	}

	got, err := os.ReadFile(dstPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("file contents mismatch after chunked transfer")
	}
}

func TestStreamRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("streamed-payload-bytes-"), 50)
	out := NewOutgoingStream(bytes.NewReader(data))
	in := NewIncomingStream(out.ID(), -1)

	done := make(chan []byte, 1)
	go func() {
		got, _ := io.ReadAll(in.AsStream())
		done <- got
	}()

	for {
		c, err := out.DetachNextChunk(31)
		if err != nil {
			t.Fatalf("detach: %v", err)
		}
		if err := in.AttachChunk(c); err != nil {
			t.Fatalf("attach: %v", err)
		}
		if c.Last {
			break
		}
	}

	got := <-done
	if !bytes.Equal(got, data) {
		t.Fatal("stream contents mismatch")
	}
}

func TestAttachChunkRejectsOffsetMismatch(t *testing.T) {
	in := NewIncomingBytes(GenerateID(), 10)
	err := in.AttachChunk(Chunk{Offset: 5, Body: []byte("x")})
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestAttachChunkRejectsOverrun(t *testing.T) {
	in := NewIncomingBytes(GenerateID(), 4)
	err := in.AttachChunk(Chunk{Offset: 0, Body: []byte("12345")})
	if _, ok := err.(*ProtocolError); !ok {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestCancelStopsFurtherDetach(t *testing.T) {
	out := NewOutgoingBytes(bytes.Repeat([]byte{1}, 100))
	if _, err := out.DetachNextChunk(10); err != nil {
		t.Fatal(err)
	}
	out.Cancel()
	if _, err := out.DetachNextChunk(10); err != ErrCanceled {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if out.Status() != StatusCanceled {
		t.Fatalf("expected canceled status, got %v", out.Status())
	}
}

func TestGenerateIDIsNeverZero(t *testing.T) {
	for i := 0; i < 1000; i++ {
		if GenerateID() == 0 {
			t.Fatal("GenerateID produced zero")
		}
	}
}
