package extradata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
)

// Write appends a frame carrying title and an optional thumbnail to w.
//
// The header goes out first, so a write that fails part way leaves a frame
// whose declared size exceeds the bytes present; Read treats that as a
// truncated frame.
func Write(w io.Writer, title domain.UTF16String, thumb *domain.PixelBuffer) error {
	text, err := title.Decode()
	if err != nil {
		return fmt.Errorf("extradata: decode title: %w", err)
	}
	titleBytes := append([]byte(text), 0)

	payload := int64(titleLenSize + len(titleBytes))
	if thumb != nil {
		if err := thumb.Validate(); err != nil {
			return fmt.Errorf("extradata: thumbnail: %w", err)
		}
		payload += thumbHeaderSize + thumb.ByteSize
	}
	if payload > math.MaxUint32 {
		return ErrFrameTooLarge
	}

	hdr := Header{Magic: Magic, PayloadSize: uint32(payload)}
	if _, err := w.Write(hdr.marshal()); err != nil {
		return fmt.Errorf("extradata: write header: %w", err)
	}

	var lenBuf [titleLenSize]byte
	order.PutUint64(lenBuf[:], uint64(len(titleBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("extradata: write title length: %w", err)
	}
	if _, err := w.Write(titleBytes); err != nil {
		return fmt.Errorf("extradata: write title: %w", err)
	}

	if thumb == nil {
		return nil
	}

	th := thumbHeader{
		Width:    thumb.Width,
		Height:   thumb.Height,
		Format:   uint32(thumb.Format),
		Type:     uint32(thumb.Type),
		ByteSize: thumb.ByteSize,
	}
	if err := binary.Write(w, order, &th); err != nil {
		return fmt.Errorf("extradata: write thumbnail header: %w", err)
	}
	if _, err := w.Write(thumb.Pixels); err != nil {
		return fmt.Errorf("extradata: write thumbnail: %w", err)
	}
	return nil
}

// Result is the outcome of decoding one frame.
type Result struct {
	Extra domain.ExtraData

	// Found reports whether a frame header was recognised.
	Found bool

	// Truncated reports that the frame declared fields that could not be
	// read completely.
	Truncated bool
}

// Read decodes the frame at the current stream position. A missing or
// truncated frame is not an error; only read failures of the underlying
// stream are returned.
func Read(s *Stream) (domain.ExtraData, error) {
	res, err := Decode(s)
	return res.Extra, err
}

// Decode is Read with frame diagnostics.
func Decode(s *Stream) (Result, error) {
	var res Result

	hdr, ok, err := PeekHeader(s)
	if err != nil {
		return res, fmt.Errorf("extradata: peek header: %w", err)
	}
	if !ok {
		return res, nil
	}
	if _, err := s.Discard(HeaderSize); err != nil {
		return res, fmt.Errorf("extradata: consume header: %w", err)
	}
	res.Found = true

	d := &frameDecoder{
		r:        io.LimitReader(s, int64(hdr.PayloadSize)),
		limit:    hdr.FrameSize(),
		consumed: HeaderSize,
	}

	if err := d.decode(&res.Extra); err != nil {
		return Result{}, err
	}
	res.Truncated = d.truncated

	// Skip declared fields this codec does not know about.
	if rest := d.limit - d.consumed; rest > 0 {
		n, err := s.Discard(rest)
		if err != nil && !errors.Is(err, io.EOF) {
			return Result{}, fmt.Errorf("extradata: discard frame tail: %w", err)
		}
		if n < rest {
			res.Truncated = true
		}
	}
	return res, nil
}

// Skip consumes the frame at the current position, if any. Bytes that do
// not start with the frame magic are left in the stream and count as
// nothing to skip. It reports false only when the stream ends before a
// full header could be fetched.
func Skip(s *Stream) (bool, error) {
	b, err := s.Peek(HeaderSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, fmt.Errorf("extradata: peek header: %w", err)
	}
	hdr := parseHeader(b)
	if hdr.Magic != Magic {
		return true, nil
	}

	size := hdr.FrameSize()
	n, err := s.Discard(size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, fmt.Errorf("%w: skipped %d of %d bytes", ErrTruncatedFrame, n, size)
		}
		return false, fmt.Errorf("extradata: skip frame: %w", err)
	}
	return true, nil
}

type frameDecoder struct {
	r         io.Reader
	limit     int64
	consumed  int64
	truncated bool
}

func (d *frameDecoder) remaining() int64 {
	return d.limit - d.consumed
}

// present applies the declared-boundary rule to the bytes consumed so far.
func (d *frameDecoder) present() bool {
	return d.consumed <= d.limit
}

func (d *frameDecoder) decode(out *domain.ExtraData) error {
	var lenBuf [titleLenSize]byte
	ok, err := d.readFull(lenBuf[:])
	if err != nil || !ok {
		return err
	}

	titleLen := int64(order.Uint64(lenBuf[:]))
	if titleLen < 0 || titleLen > d.remaining() {
		d.truncated = true
		return nil
	}

	title, ok, err := d.readN(titleLen)
	if err != nil || !ok {
		return err
	}
	// Only the terminator is dropped; a NUL inside the text is kept.
	title = bytes.TrimSuffix(title, []byte{0})
	out.Title = string(title)
	out.TitlePresent = d.present()

	if d.remaining() == 0 {
		return nil
	}

	var thBuf [thumbHeaderSize]byte
	ok, err = d.readFull(thBuf[:])
	if err != nil || !ok {
		return err
	}
	var th thumbHeader
	if err := binary.Read(bytes.NewReader(thBuf[:]), order, &th); err != nil {
		return fmt.Errorf("extradata: parse thumbnail header: %w", err)
	}

	format, typ := domain.PixelFormat(th.Format), domain.PixelType(th.Type)
	want, err := domain.ExpectedByteSize(th.Width, th.Height, format, typ)
	if err != nil || want != th.ByteSize || th.ByteSize > d.remaining() {
		d.truncated = true
		return nil
	}

	pixels, ok, err := d.readN(th.ByteSize)
	if err != nil || !ok {
		return err
	}
	out.Thumbnail = &domain.PixelBuffer{
		Width:    th.Width,
		Height:   th.Height,
		Format:   format,
		Type:     typ,
		ByteSize: th.ByteSize,
		Pixels:   pixels,
	}
	out.ThumbnailPresent = d.present()
	return nil
}

// readFull fills buf. ok is false when the frame ended first.
func (d *frameDecoder) readFull(buf []byte) (bool, error) {
	n, err := io.ReadFull(d.r, buf)
	d.consumed += int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			d.truncated = true
			return false, nil
		}
		return false, fmt.Errorf("extradata: read frame: %w", err)
	}
	return true, nil
}

// readN reads exactly n bytes, growing the buffer as data arrives so a
// bogus declared length cannot force a large allocation up front.
func (d *frameDecoder) readN(n int64) ([]byte, bool, error) {
	var buf bytes.Buffer
	if n <= 64<<10 {
		buf.Grow(int(n))
	}
	got, err := buf.ReadFrom(io.LimitReader(d.r, n))
	d.consumed += got
	if err != nil {
		return nil, false, fmt.Errorf("extradata: read frame: %w", err)
	}
	if got != n {
		d.truncated = true
		return nil, false, nil
	}
	return buf.Bytes(), true, nil
}
