package extradata

import (
	"bufio"
	"io"
)

// Stream is a peekable sequential reader that tracks how many bytes have
// been consumed. Peeked bytes stay in the stream until read or discarded.
type Stream struct {
	br     *bufio.Reader
	offset int64
}

// NewStream wraps r. The buffer is always large enough to peek a header.
func NewStream(r io.Reader) *Stream {
	return &Stream{br: bufio.NewReader(r)}
}

// Peek returns the next n bytes without consuming them.
func (s *Stream) Peek(n int) ([]byte, error) {
	return s.br.Peek(n)
}

// Read implements io.Reader.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.br.Read(p)
	s.offset += int64(n)
	return n, err
}

// Discard skips the next n bytes.
func (s *Stream) Discard(n int64) (int64, error) {
	var total int64
	for n > 0 {
		chunk := n
		if chunk > 1<<30 {
			chunk = 1 << 30
		}
		d, err := s.br.Discard(int(chunk))
		total += int64(d)
		s.offset += int64(d)
		n -= int64(d)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Offset returns the number of bytes consumed so far.
func (s *Stream) Offset() int64 {
	return s.offset
}
