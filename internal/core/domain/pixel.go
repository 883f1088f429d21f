package domain

import (
	"fmt"
	"image"
	"image/color"
)

// PixelFormat identifies the channel layout of a pixel buffer.
// Values follow the OpenGL enums the framebuffer is read back with.
type PixelFormat uint32

// PixelType identifies the per-channel storage type of a pixel buffer.
type PixelType uint32

const (
	PixelFormatRGB  PixelFormat = 0x1907
	PixelFormatRGBA PixelFormat = 0x1908
	PixelFormatBGRA PixelFormat = 0x80E1

	PixelTypeUnsignedByte PixelType = 0x1401
)

// String returns the format name.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatRGB:
		return "rgb"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatBGRA:
		return "bgra"
	default:
		return fmt.Sprintf("format(0x%x)", uint32(f))
	}
}

// BytesPerPixel returns the pixel size for a format/type pair,
// or 0 if the pair is not supported.
func BytesPerPixel(format PixelFormat, typ PixelType) int64 {
	if typ != PixelTypeUnsignedByte {
		return 0
	}
	switch format {
	case PixelFormatRGB:
		return 3
	case PixelFormatRGBA, PixelFormatBGRA:
		return 4
	default:
		return 0
	}
}

// PixelBuffer is a raw image used as a snapshot thumbnail.
// Rows are stored top to bottom without padding.
//
// Pixels is owned by whichever value holds the buffer. Use Clone to hand a
// copy to another owner.
type PixelBuffer struct {
	Width    int32       `json:"width" yaml:"width"`
	Height   int32       `json:"height" yaml:"height"`
	Format   PixelFormat `json:"format" yaml:"format"`
	Type     PixelType   `json:"type" yaml:"type"`
	ByteSize int64       `json:"byte_size" yaml:"byte_size"`
	Pixels   []byte      `json:"-" yaml:"-"`
}

// NewPixelBuffer allocates a zeroed buffer for the given dimensions.
func NewPixelBuffer(width, height int32, format PixelFormat, typ PixelType) (*PixelBuffer, error) {
	size, err := ExpectedByteSize(width, height, format, typ)
	if err != nil {
		return nil, err
	}
	return &PixelBuffer{
		Width:    width,
		Height:   height,
		Format:   format,
		Type:     typ,
		ByteSize: size,
		Pixels:   make([]byte, size),
	}, nil
}

// ExpectedByteSize returns width*height*bytesPerPixel for valid inputs.
func ExpectedByteSize(width, height int32, format PixelFormat, typ PixelType) (int64, error) {
	bpp := BytesPerPixel(format, typ)
	if bpp == 0 {
		return 0, ErrInvalidPixelBuffer.WithDetails(fmt.Sprintf("unsupported pixel format %s/0x%x", format, uint32(typ)))
	}
	if width <= 0 || height <= 0 {
		return 0, ErrInvalidPixelBuffer.WithDetails(fmt.Sprintf("invalid dimensions %dx%d", width, height))
	}
	return int64(width) * int64(height) * bpp, nil
}

// Validate checks ByteSize against the dimensions, format and pixel slice.
func (p *PixelBuffer) Validate() error {
	want, err := ExpectedByteSize(p.Width, p.Height, p.Format, p.Type)
	if err != nil {
		return err
	}
	if p.ByteSize != want {
		return ErrInvalidPixelBuffer.WithDetails(fmt.Sprintf("byte size %d, want %d", p.ByteSize, want))
	}
	if int64(len(p.Pixels)) != p.ByteSize {
		return ErrInvalidPixelBuffer.WithDetails(fmt.Sprintf("have %d pixel bytes, want %d", len(p.Pixels), p.ByteSize))
	}
	return nil
}

// Clone returns a deep copy.
func (p *PixelBuffer) Clone() *PixelBuffer {
	if p == nil {
		return nil
	}
	out := *p
	out.Pixels = append([]byte(nil), p.Pixels...)
	return &out
}

// ToImage converts the buffer into an NRGBA image.
func (p *PixelBuffer) ToImage() (*image.NRGBA, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	w, h := int(p.Width), int(p.Height)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	bpp := int(BytesPerPixel(p.Format, p.Type))
	for y := 0; y < h; y++ {
		row := p.Pixels[y*w*bpp : (y+1)*w*bpp]
		for x := 0; x < w; x++ {
			px := row[x*bpp : (x+1)*bpp]
			var c color.NRGBA
			switch p.Format {
			case PixelFormatRGB:
				c = color.NRGBA{R: px[0], G: px[1], B: px[2], A: 0xff}
			case PixelFormatRGBA:
				c = color.NRGBA{R: px[0], G: px[1], B: px[2], A: px[3]}
			case PixelFormatBGRA:
				c = color.NRGBA{R: px[2], G: px[1], B: px[0], A: px[3]}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img, nil
}

// PixelBufferFromImage copies img into a new RGBA pixel buffer.
func PixelBufferFromImage(img image.Image) (*PixelBuffer, error) {
	b := img.Bounds()
	pb, err := NewPixelBuffer(int32(b.Dx()), int32(b.Dy()), PixelFormatRGBA, PixelTypeUnsignedByte)
	if err != nil {
		return nil, err
	}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			pb.Pixels[i+0] = c.R
			pb.Pixels[i+1] = c.G
			pb.Pixels[i+2] = c.B
			pb.Pixels[i+3] = c.A
			i += 4
		}
	}
	return pb, nil
}
