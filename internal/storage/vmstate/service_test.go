package vmstate

import (
	"context"
	"testing"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
	"github.com/yndnr/vmsnap-go/internal/core/service"
)

// testMachine is a minimal service.Machine backed by ramState.
type testMachine struct {
	ramState
	running bool
}

func (m *testMachine) IsRunning() bool { return m.running }
func (m *testMachine) Stop()           { m.running = false }
func (m *testMachine) Start()          { m.running = true }

type staticDisplay struct{ pb *domain.PixelBuffer }

func (d staticDisplay) CaptureFramebuffer(ctx context.Context) (*domain.PixelBuffer, error) {
	if d.pb == nil {
		return nil, domain.ErrNoRenderContext
	}
	return d.pb.Clone(), nil
}

type staticTitle string

func (t staticTitle) GuestTitle() domain.UTF16String { return domain.EncodeUTF16(string(t)) }

func TestSnapshotService_OverEngines(t *testing.T) {
	thumb, err := domain.NewPixelBuffer(2, 2, domain.PixelFormatRGBA, domain.PixelTypeUnsignedByte)
	if err != nil {
		t.Fatalf("NewPixelBuffer: %v", err)
	}
	copy(thumb.Pixels, []byte("0123456789abcdef"))

	for name, newEngine := range engineFactories() {
		t.Run(name, func(t *testing.T) {
			e := newEngine(t, Config{Compression: CompressionZstd, EncryptionKey: testKey()})
			m := &testMachine{ramState: ramState{data: []byte("guest ram")}, running: true}
			svc := service.NewSnapshotService(e, m,
				service.WithFramebuffer(staticDisplay{pb: thumb}),
				service.WithTitleSource(staticTitle("Halo")))
			ctx := context.Background()

			if _, err := svc.Save(ctx, "slot1"); err != nil {
				t.Fatalf("Save: %v", err)
			}
			if !m.running {
				t.Fatal("machine not resumed after save")
			}

			entry, err := svc.Get(ctx, "slot1")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if entry.Extra.Title != "Halo" || !entry.Extra.ThumbnailPresent {
				t.Fatalf("extra = %+v", entry.Extra)
			}
			if got := entry.Extra.Thumbnail; got.Width != 2 || got.Height != 2 || got.ByteSize != 16 {
				t.Fatalf("thumbnail = %dx%d (%d bytes)", got.Width, got.Height, got.ByteSize)
			}
			if string(entry.Extra.Thumbnail.Pixels) != "0123456789abcdef" {
				t.Fatalf("thumbnail pixels = %q", entry.Extra.Thumbnail.Pixels)
			}

			m.data = []byte("scribbled")
			if err := svc.Load(ctx, "slot1"); err != nil {
				t.Fatalf("Load: %v", err)
			}
			if string(m.data) != "guest ram" {
				t.Fatalf("state = %q, want %q", m.data, "guest ram")
			}

			if err := svc.Delete(ctx, "slot1"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			entries, err := svc.List(ctx)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(entries) != 0 {
				t.Fatalf("entries after delete = %+v", entries)
			}
		})
	}
}

func TestSnapshotService_NoRenderContextOverFileEngine(t *testing.T) {
	e := newTestFileEngine(t, Config{})
	svc := service.NewSnapshotService(e, &testMachine{},
		service.WithFramebuffer(staticDisplay{}),
		service.WithTitleSource(staticTitle("Halo")))
	ctx := context.Background()

	if _, err := svc.Save(ctx, "slot1"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	entry, err := svc.Get(ctx, "slot1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !entry.Extra.TitlePresent || entry.Extra.ThumbnailPresent {
		t.Fatalf("extra = %+v, want title only", entry.Extra)
	}
}
