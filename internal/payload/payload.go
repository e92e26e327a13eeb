// Package payload implements the InternalPayload: the framing-layer
// representation of an application payload as a lazy sequence of chunks.
// The BYTES/STREAM/FILE sum type is one struct with a Type tag and only the
// fields relevant to that tag populated.
package payload

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// ID is a payload's unique identifier: signed 64-bit, random.
type ID int64

// Type distinguishes the three payload shapes a Payload can carry.
type Type int

const (
	TypeUnknown Type = iota
	TypeBytes
	TypeStream
	TypeFile
)

func (t Type) String() string {
	switch t {
	case TypeBytes:
		return "BYTES"
	case TypeStream:
		return "STREAM"
	case TypeFile:
		return "FILE"
	default:
		return "UNKNOWN"
	}
}

// Status is the payload's terminal (or in-progress) completion state.
type Status int

const (
	StatusInProgress Status = iota
	StatusSuccess
	StatusCanceled
	StatusFailure
)

// Chunk is one unit exchanged between an InternalPayload and the endpoint
// reader/writer. Offset is the byte offset of Body within
// the payload; Last marks the final chunk.
type Chunk struct {
	Offset int64
	Body   []byte
	Last   bool
}

// ProtocolError reports a violation of the chunk protocol: an out-of-order
// offset, a chunk that overruns the declared total size, or an operation on
// a payload of the wrong shape.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("payload: protocol error: %s", e.Reason) }

// ErrCanceled is returned by DetachNextChunk once the payload has been
// canceled; the caller (the endpoint writer) must stop requesting chunks.
var ErrCanceled = fmt.Errorf("payload: canceled")

// Payload is a lazy, offset-tracked chunk source (outgoing) or sink
// (incoming) for exactly one of BYTES, STREAM, or FILE content.
type Payload struct {
	id        ID
	typ       Type
	totalSize int64 // -1 for an incoming/outgoing STREAM of unknown length

	mu     sync.Mutex
	offset int64
	status Status

	canceled atomic.Bool

	bytes []byte

	file *os.File

	streamSrc   io.Reader     // outgoing STREAM source
	streamSinkW *io.PipeWriter // incoming STREAM sink, written by AttachChunk
	streamSinkR *io.PipeReader // incoming STREAM sink, read by the application
}

// NewOutgoingBytes wraps an in-memory buffer as an outgoing BYTES payload.
func NewOutgoingBytes(data []byte) *Payload {
	return &Payload{id: GenerateID(), typ: TypeBytes, totalSize: int64(len(data)), bytes: data}
}

// NewOutgoingFile wraps an already-open, readable file as an outgoing FILE
// payload of the given total size.
func NewOutgoingFile(f *os.File, totalSize int64) *Payload {
	return &Payload{id: GenerateID(), typ: TypeFile, totalSize: totalSize, file: f}
}

// NewOutgoingBytesWithID is NewOutgoingBytes with an explicit id, used when
// fanning one logical payload out to several endpoints: every copy must
// carry the same id on the wire.
func NewOutgoingBytesWithID(id ID, data []byte) *Payload {
	return &Payload{id: id, typ: TypeBytes, totalSize: int64(len(data)), bytes: data}
}

// NewOutgoingFileWithID is NewOutgoingFile with an explicit id. The file
// handle may be shared between copies: chunking reads with ReadAt, so each
// copy tracks its own offset without seeking.
func NewOutgoingFileWithID(id ID, f *os.File, totalSize int64) (*Payload, error) {
	if f == nil {
		return nil, fmt.Errorf("payload: nil file handle")
	}
	return &Payload{id: id, typ: TypeFile, totalSize: totalSize, file: f}, nil
}

// NewOutgoingStream wraps an io.Reader producer as an outgoing STREAM
// payload. Total size is unknown ahead of time and reported as -1.
func NewOutgoingStream(r io.Reader) *Payload {
	return &Payload{id: GenerateID(), typ: TypeStream, totalSize: -1, streamSrc: r}
}

// NewIncomingBytes creates the receive-side accumulator for an incoming
// BYTES payload once its id/total-size are known from the first chunk.
func NewIncomingBytes(id ID, totalSize int64) *Payload {
	cap := totalSize
	if cap < 0 {
		cap = 0
	}
	return &Payload{id: id, typ: TypeBytes, totalSize: totalSize, bytes: make([]byte, 0, cap)}
}

// NewIncomingFile creates the receive-side sink for an incoming FILE
// payload; dst must already be open for writing at offset 0.
func NewIncomingFile(id ID, totalSize int64, dst *os.File) *Payload {
	return &Payload{id: id, typ: TypeFile, totalSize: totalSize, file: dst}
}

// NewIncomingStream creates the receive-side sink for an incoming STREAM
// payload. AsStream returns the reader end the application consumes from.
func NewIncomingStream(id ID, totalSize int64) *Payload {
	r, w := io.Pipe()
	return &Payload{id: id, typ: TypeStream, totalSize: totalSize, streamSinkW: w, streamSinkR: r}
}

func (p *Payload) ID() ID            { return p.id }
func (p *Payload) Type() Type        { return p.typ }
func (p *Payload) TotalSize() int64  { return p.totalSize }
func (p *Payload) IsCanceled() bool  { return p.canceled.Load() }

func (p *Payload) Offset() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.offset
}

func (p *Payload) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// AsBytes returns the accumulated (or source) byte buffer for a BYTES
// payload, and false for any other type.
func (p *Payload) AsBytes() ([]byte, bool) {
	if p.typ != TypeBytes {
		return nil, false
	}
	return p.bytes, true
}

// AsStream returns the reader the application consumes an incoming STREAM
// payload from, or nil for any other type or direction.
func (p *Payload) AsStream() io.Reader {
	if p.typ != TypeStream {
		return nil
	}
	return p.streamSinkR
}

// AsFile returns the underlying file handle for a FILE payload, or nil.
func (p *Payload) AsFile() *os.File {
	if p.typ != TypeFile {
		return nil
	}
	return p.file
}

// Cancel sets the payload's cancellation flag. The writer stops requesting
// further chunks after the one in flight; DetachNextChunk returns
// ErrCanceled on the next call.
func (p *Payload) Cancel() {
	p.canceled.Store(true)
	p.mu.Lock()
	if p.status == StatusInProgress {
		p.status = StatusCanceled
	}
	p.mu.Unlock()
	if p.typ == TypeStream && p.streamSinkW != nil {
		_ = p.streamSinkW.CloseWithError(ErrCanceled)
	}
}

// DetachNextChunk returns the next outgoing chunk of at most maxBodySize
// bytes from the current offset, advancing it. The final chunk carries
// Last=true. For STREAM payloads this blocks until the producer yields
// bytes or returns io.EOF.
func (p *Payload) DetachNextChunk(maxBodySize int) (Chunk, error) {
	if p.canceled.Load() {
		return Chunk{}, ErrCanceled
	}
	if maxBodySize <= 0 {
		return Chunk{}, &ProtocolError{Reason: "max body size must be positive"}
	}
	switch p.typ {
	case TypeBytes:
		return p.detachBytes(maxBodySize)
	case TypeFile:
		return p.detachFile(maxBodySize)
	case TypeStream:
		return p.detachStream(maxBodySize)
	default:
		return Chunk{}, &ProtocolError{Reason: "detach on payload of unknown type"}
	}
}

func (p *Payload) detachBytes(maxBodySize int) (Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := clampRemaining(p.offset, p.totalSize, maxBodySize)
	body := p.bytes[p.offset : p.offset+n]
	last := p.offset+n == p.totalSize
	c := Chunk{Offset: p.offset, Body: body, Last: last}
	p.offset += n
	if last {
		p.status = StatusSuccess
	}
	return c, nil
}

func (p *Payload) detachFile(maxBodySize int) (Chunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := clampRemaining(p.offset, p.totalSize, maxBodySize)
	buf := make([]byte, n)
	if n > 0 {
		if _, err := p.file.ReadAt(buf, p.offset); err != nil && err != io.EOF {
			return Chunk{}, fmt.Errorf("payload: read file chunk: %w", err)
		}
	}
	last := p.offset+n == p.totalSize
	c := Chunk{Offset: p.offset, Body: buf, Last: last}
	p.offset += n
	if last {
		p.status = StatusSuccess
	}
	return c, nil
}

func clampRemaining(offset, total int64, maxBodySize int) int64 {
	remaining := total - offset
	n := int64(maxBodySize)
	if n > remaining {
		n = remaining
	}
	if n < 0 {
		n = 0
	}
	return n
}

func (p *Payload) detachStream(maxBodySize int) (Chunk, error) {
	buf := make([]byte, maxBodySize)
	n, err := io.ReadFull(p.streamSrc, buf)
	last := false
	switch err {
	case nil:
	case io.EOF, io.ErrUnexpectedEOF:
		last = true
	default:
		return Chunk{}, fmt.Errorf("payload: stream read: %w", err)
	}

	p.mu.Lock()
	c := Chunk{Offset: p.offset, Body: buf[:n], Last: last}
	p.offset += int64(n)
	if last {
		p.status = StatusSuccess
	}
	p.mu.Unlock()
	return c, nil
}

// AttachChunk appends an incoming chunk at chunk.Offset, which must equal
// the payload's current offset. On the LAST chunk it finalizes the payload.
func (p *Payload) AttachChunk(c Chunk) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c.Offset != p.offset {
		return &ProtocolError{Reason: fmt.Sprintf("offset mismatch: expected %d, got %d", p.offset, c.Offset)}
	}
	if p.totalSize >= 0 && p.offset+int64(len(c.Body)) > p.totalSize {
		return &ProtocolError{Reason: "chunk body exceeds declared total size"}
	}

	switch p.typ {
	case TypeBytes:
		p.bytes = append(p.bytes, c.Body...)
	case TypeFile:
		if len(c.Body) > 0 {
			if _, err := p.file.WriteAt(c.Body, c.Offset); err != nil {
				return fmt.Errorf("payload: write file chunk: %w", err)
			}
		}
	case TypeStream:
		if len(c.Body) > 0 {
			if _, err := p.streamSinkW.Write(c.Body); err != nil {
				return fmt.Errorf("payload: write stream chunk: %w", err)
			}
		}
	default:
		return &ProtocolError{Reason: "attach on payload of unknown type"}
	}

	p.offset += int64(len(c.Body))
	if c.Last {
		p.status = StatusSuccess
		if p.typ == TypeStream {
			_ = p.streamSinkW.Close()
		}
	}
	return nil
}
