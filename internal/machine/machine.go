package machine

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"io"
	"sync"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
)

// Machine is a virtual machine whose whole state is its RAM image.
type Machine struct {
	mu      sync.RWMutex
	running bool
	ram     []byte
	fb      *domain.PixelBuffer
	title   string
}

// New creates a stopped machine holding ram.
func New(ram []byte) *Machine {
	return &Machine{ram: ram}
}

// IsRunning reports whether the machine is executing.
func (m *Machine) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Stop pauses execution.
func (m *Machine) Stop() {
	m.mu.Lock()
	m.running = false
	m.mu.Unlock()
}

// Start resumes execution.
func (m *Machine) Start() {
	m.mu.Lock()
	m.running = true
	m.mu.Unlock()
}

// RAM returns a copy of the RAM image.
func (m *Machine) RAM() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return bytes.Clone(m.ram)
}

// SaveState writes the RAM image to w.
func (m *Machine) SaveState(w io.Writer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := w.Write(m.ram); err != nil {
		return fmt.Errorf("machine: save state: %w", err)
	}
	return nil
}

// LoadState replaces the RAM image with the contents of r.
func (m *Machine) LoadState(r io.Reader) error {
	ram, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("machine: load state: %w", err)
	}
	m.mu.Lock()
	m.ram = ram
	m.mu.Unlock()
	return nil
}

// SetFramebuffer attaches a display. A nil buffer detaches it.
func (m *Machine) SetFramebuffer(pb *domain.PixelBuffer) error {
	if pb != nil {
		if err := pb.Validate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.fb = pb
	m.mu.Unlock()
	return nil
}

// CaptureFramebuffer returns a copy of the display, or
// domain.ErrNoRenderContext when no display is attached.
func (m *Machine) CaptureFramebuffer(ctx context.Context) (*domain.PixelBuffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.fb == nil {
		return nil, domain.ErrNoRenderContext
	}
	return m.fb.Clone(), nil
}

// SetTitle sets the guest window title.
func (m *Machine) SetTitle(title string) {
	m.mu.Lock()
	m.title = title
	m.mu.Unlock()
}

// GuestTitle returns the guest window title as UTF-16.
func (m *Machine) GuestTitle() domain.UTF16String {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return domain.EncodeUTF16(m.title)
}

// FromPNG decodes a PNG screenshot into an RGBA framebuffer.
func FromPNG(r io.Reader) (*domain.PixelBuffer, error) {
	img, err := png.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("machine: decode png: %w", err)
	}
	return domain.PixelBufferFromImage(img)
}

// EncodePNG writes pb as a PNG image.
func EncodePNG(w io.Writer, pb *domain.PixelBuffer) error {
	img, err := pb.ToImage()
	if err != nil {
		return err
	}
	return png.Encode(w, img)
}
