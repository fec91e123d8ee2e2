package stampline

import (
	"bytes"
	"io"
)

// Delimiter terminates every frame on the wire.
const Delimiter = '\n'

// Default framing limits.
const (
	// defaultReadSize is the number of bytes requested from the transport per read.
	defaultReadSize = 4096
	// defaultMaxFrameSize is the largest frame accepted without a delimiter (1MB).
	defaultMaxFrameSize = 1024 * 1024
)

// LineFramer reads newline-delimited frames from a byte stream.
//
// Bytes are accumulated in a private buffer until a delimiter is seen. Whatever
// follows the delimiter is kept and consumed by the next ReadFrame call, so the
// result does not depend on how the peer's bytes were split across reads.
// A LineFramer is owned by a single connection and is not safe for concurrent use.
type LineFramer struct {
	r        io.Reader
	buf      []byte
	chunk    []byte
	maxFrame int
}

// NewLineFramer returns a framer reading readSize bytes at a time from r and
// rejecting frames longer than maxFrame. Non-positive values select the defaults.
func NewLineFramer(r io.Reader, readSize, maxFrame int) *LineFramer {
	if readSize <= 0 {
		readSize = defaultReadSize
	}
	if maxFrame <= 0 {
		maxFrame = defaultMaxFrameSize
	}
	return &LineFramer{
		r:        r,
		chunk:    make([]byte, readSize),
		maxFrame: maxFrame,
	}
}

// ReadFrame returns the next frame without its delimiter.
//
// It fails with KindPrematureDisconnect if the stream ends before a delimiter,
// KindFrameTooLarge if a frame is longer than maxFrame, and
// KindIdleTimeout or KindTransportFailure for errors from the underlying reader.
func (f *LineFramer) ReadFrame() ([]byte, error) {
	scanned := 0
	for {
		if i := bytes.IndexByte(f.buf[scanned:], Delimiter); i >= 0 {
			end := scanned + i
			if end > f.maxFrame {
				f.buf = append(f.buf[:0], f.buf[end+1:]...)
				return nil, errFrameTooLarge()
			}
			frame := make([]byte, end)
			copy(frame, f.buf[:end])
			f.buf = append(f.buf[:0], f.buf[end+1:]...)
			return frame, nil
		}
		scanned = len(f.buf)

		if len(f.buf) > f.maxFrame {
			return nil, errFrameTooLarge()
		}

		n, err := f.r.Read(f.chunk)
		if n > 0 {
			f.buf = append(f.buf, f.chunk[:n]...)
		}
		if err == nil {
			continue
		}
		if n > 0 && bytes.IndexByte(f.chunk[:n], Delimiter) >= 0 {
			// deliver what arrived with the error; the error recurs on the next read
			continue
		}
		if isEOF(err) {
			partial := f.buf
			f.buf = nil
			e := newError(KindPrematureDisconnect, "Client disconnected before sending a complete message.", nil)
			e.Partial = partial
			return nil, e
		}
		return nil, transportError("read frame", err)
	}
}

// Buffered returns the bytes received after the last returned frame.
func (f *LineFramer) Buffered() []byte {
	return f.buf
}

func errFrameTooLarge() *Error {
	return newError(KindFrameTooLarge, "Message exceeds the maximum frame size.", nil)
}
