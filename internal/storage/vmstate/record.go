package vmstate

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
	"github.com/yndnr/vmsnap-go/internal/core/service"
)

// Magic bytes identify snapshot records.
var magicBytes = []byte("VMSNAP01")

const (
	headerVersion = 1

	// maxHeaderSize bounds the JSON header so a corrupt length cannot
	// trigger a huge allocation.
	maxHeaderSize = 64 << 10

	prefixFixedSize = 8 + 4 + 8
)

// Compression algorithms for the data block.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

var (
	ErrInvalidMagic      = errors.New("vmstate: invalid magic bytes")
	ErrChecksumMismatch  = errors.New("vmstate: checksum mismatch")
	ErrCorruptRecord     = errors.New("vmstate: corrupt record")
	ErrUnknownEngine     = errors.New("vmstate: unknown engine")
	ErrClosed            = errors.New("vmstate: engine closed")
	ErrRecordFinished    = errors.New("vmstate: record already committed or aborted")
	ErrUnsupportedFormat = errors.New("vmstate: unsupported record format")
)

type recordHeader struct {
	Version     int    `json:"version"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	CreatedAt   int64  `json:"created_at"`
	StateSize   int64  `json:"state_size"`
	Compression string `json:"compression,omitempty"`
	Encrypted   bool   `json:"encrypted"`
}

func (h *recordHeader) info() *domain.SnapshotInfo {
	return &domain.SnapshotInfo{
		ID:          h.ID,
		Name:        h.Name,
		CreatedAt:   h.CreatedAt,
		VMStateSize: h.StateSize,
	}
}

// layout locates the parts of a stored record.
type layout struct {
	header  recordHeader
	dataOff int64
	dataLen int64

	// frameOff is where the extra-data frame starts.
	frameOff int64
}

// codec turns machine state into a data block and back.
type codec struct {
	compression string
	sealer      *sealer
	enc         *zstd.Encoder
	dec         *zstd.Decoder
}

func newCodec(compression string, key []byte) (*codec, error) {
	c := &codec{compression: compression}
	switch compression {
	case "", CompressionNone:
		c.compression = CompressionNone
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderConcurrency(1), zstd.WithLowerEncoderMem(true))
		if err != nil {
			return nil, fmt.Errorf("vmstate: create zstd encoder: %w", err)
		}
		c.enc = enc
	default:
		return nil, fmt.Errorf("vmstate: unknown compression %q", compression)
	}

	// Decoding follows the header, so a decoder is always available.
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("vmstate: create zstd decoder: %w", err)
	}
	c.dec = dec

	if len(key) > 0 {
		s, err := newSealer(key)
		if err != nil {
			return nil, err
		}
		c.sealer = s
	}
	return c, nil
}

func (c *codec) close() {
	if c.enc != nil {
		_ = c.enc.Close()
	}
	c.dec.Close()
}

// encode captures the machine state and builds the record prefix.
func (c *codec) encode(name string, state service.StateSaver, now time.Time) (recordHeader, []byte, error) {
	var raw bytes.Buffer
	if err := state.SaveState(&raw); err != nil {
		return recordHeader{}, nil, fmt.Errorf("vmstate: save state: %w", err)
	}

	id, err := domain.GenerateSnapshotID(now)
	if err != nil {
		return recordHeader{}, nil, err
	}

	hdr := recordHeader{
		Version:     headerVersion,
		ID:          id,
		Name:        name,
		CreatedAt:   now.UnixMilli(),
		StateSize:   int64(raw.Len()),
		Compression: c.compression,
		Encrypted:   c.sealer != nil,
	}

	data := raw.Bytes()
	if c.enc != nil {
		data = c.enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	}
	if c.sealer != nil {
		data, err = c.sealer.seal(data, []byte(id))
		if err != nil {
			return recordHeader{}, nil, err
		}
	}

	prefix, err := marshalPrefix(hdr, data)
	if err != nil {
		return recordHeader{}, nil, err
	}
	return hdr, prefix, nil
}

// decode reverses encode for a stored data block.
func (c *codec) decode(hdr recordHeader, data []byte) ([]byte, error) {
	var err error
	if hdr.Encrypted {
		if c.sealer == nil {
			return nil, ErrKeyRequired
		}
		data, err = c.sealer.open(data, []byte(hdr.ID))
		if err != nil {
			return nil, err
		}
	}

	switch hdr.Compression {
	case "", CompressionNone:
	case CompressionZstd:
		if len(data) == 0 {
			break
		}
		data, err = c.dec.DecodeAll(data, make([]byte, 0, hdr.StateSize))
		if err != nil {
			return nil, fmt.Errorf("vmstate: decompress: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: compression %q", ErrUnsupportedFormat, hdr.Compression)
	}

	if int64(len(data)) != hdr.StateSize {
		return nil, fmt.Errorf("%w: state is %d bytes, header says %d", ErrCorruptRecord, len(data), hdr.StateSize)
	}
	return data, nil
}

func marshalPrefix(hdr recordHeader, data []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("vmstate: marshal header: %w", err)
	}

	buf := make([]byte, 0, prefixFixedSize+len(hdrJSON)+len(data))
	buf = append(buf, magicBytes...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(hdrJSON)))
	buf = append(buf, hdrJSON...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(len(data)))
	buf = append(buf, data...)
	return buf, nil
}

// parseLayout reads the record prefix from the first size bytes of r.
func parseLayout(r io.ReaderAt, size int64) (layout, error) {
	var l layout

	if size < int64(len(magicBytes))+4 {
		return l, ErrInvalidMagic
	}
	fixed := make([]byte, len(magicBytes)+4)
	if _, err := r.ReadAt(fixed, 0); err != nil {
		return l, fmt.Errorf("vmstate: read prefix: %w", err)
	}
	if !bytes.Equal(fixed[:len(magicBytes)], magicBytes) {
		return l, ErrInvalidMagic
	}

	hdrLen := int64(binary.BigEndian.Uint32(fixed[len(magicBytes):]))
	if hdrLen == 0 || hdrLen > maxHeaderSize {
		return l, fmt.Errorf("%w: header length %d", ErrCorruptRecord, hdrLen)
	}
	off := int64(len(fixed))
	if off+hdrLen+8 > size {
		return l, fmt.Errorf("%w: header exceeds record", ErrCorruptRecord)
	}

	hdrJSON := make([]byte, hdrLen+8)
	if _, err := r.ReadAt(hdrJSON, off); err != nil {
		return l, fmt.Errorf("vmstate: read header: %w", err)
	}
	if err := json.Unmarshal(hdrJSON[:hdrLen], &l.header); err != nil {
		return l, fmt.Errorf("%w: unmarshal header: %v", ErrCorruptRecord, err)
	}
	if l.header.Version != headerVersion {
		return l, fmt.Errorf("%w: version %d", ErrUnsupportedFormat, l.header.Version)
	}

	l.dataOff = off + hdrLen + 8
	dataLen := binary.BigEndian.Uint64(hdrJSON[hdrLen:])
	if dataLen > uint64(size-l.dataOff) {
		return l, fmt.Errorf("%w: data block exceeds record", ErrCorruptRecord)
	}
	l.dataLen = int64(dataLen)
	l.frameOff = l.dataOff + l.dataLen
	return l, nil
}

// readState decodes the machine state of a record.
func (c *codec) readState(r io.ReaderAt, l layout) ([]byte, error) {
	data := make([]byte, l.dataLen)
	if len(data) == 0 {
		return c.decode(l.header, data)
	}
	if _, err := r.ReadAt(data, l.dataOff); err != nil {
		return nil, fmt.Errorf("vmstate: read data: %w", err)
	}
	return c.decode(l.header, data)
}
