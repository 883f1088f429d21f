package extradata

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// Magic marks the start of an extra-data frame ("xemu" read as a
	// big-endian word).
	Magic uint32 = 0x78656d75

	// HeaderSize is the size of the frame header: magic (4) + payloadSize (4).
	HeaderSize = 8

	titleLenSize    = 8
	thumbHeaderSize = 24
)

// Errors for frame operations.
var (
	ErrFrameTooLarge  = errors.New("extradata: frame exceeds 4 GiB")
	ErrTruncatedFrame = errors.New("extradata: frame truncated")
)

var order = binary.NativeEndian

// Header is the fixed frame header.
type Header struct {
	Magic       uint32
	PayloadSize uint32
}

// FrameSize returns the total frame length including the header.
func (h Header) FrameSize() int64 {
	return HeaderSize + int64(h.PayloadSize)
}

func (h Header) marshal() []byte {
	var buf [HeaderSize]byte
	order.PutUint32(buf[0:4], h.Magic)
	order.PutUint32(buf[4:8], h.PayloadSize)
	return buf[:]
}

func parseHeader(b []byte) Header {
	return Header{
		Magic:       order.Uint32(b[0:4]),
		PayloadSize: order.Uint32(b[4:8]),
	}
}

// thumbHeader mirrors the on-wire thumbnail header.
type thumbHeader struct {
	Width    int32
	Height   int32
	Format   uint32
	Type     uint32
	ByteSize int64
}

// PeekHeader returns the header at the current position without consuming
// anything. ok is false when fewer than HeaderSize bytes remain or the magic
// does not match; err is set only for read failures other than end of stream.
func PeekHeader(s *Stream) (h Header, ok bool, err error) {
	b, err := s.Peek(HeaderSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Header{}, false, nil
		}
		return Header{}, false, err
	}
	h = parseHeader(b)
	return h, h.Magic == Magic, nil
}
