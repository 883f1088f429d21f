package command

import (
	"context"
	"encoding/json"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
	"github.com/yndnr/vmsnap-go/internal/core/service"
	"github.com/yndnr/vmsnap-go/internal/machine"
	"github.com/yndnr/vmsnap-go/internal/storage/vmstate"
	"github.com/yndnr/vmsnap-go/internal/telemetry/logger"
	"github.com/yndnr/vmsnap-go/internal/telemetry/metric"
)

var metricsAddrRe = regexp.MustCompile(`metrics_addr=(\S+)`)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func scrape(t *testing.T, addr string) string {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/metrics")
	if err != nil {
		t.Fatalf("scrape: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	return string(body)
}

func TestWatch(t *testing.T) {
	dir := t.TempDir()
	state := writeFile(t, "ram.bin", []byte("0123456789"))
	mustRun(t, dir, "save", "--state", state, "--screenshot", writePNG(t, 2, 2), "slot1")

	ctx, cancel := context.WithTimeout(context.Background(), 2*commandTimeout)
	defer cancel()

	stderr := &syncBuffer{}
	errCh := make(chan error, 1)
	go func() {
		_, err := runContext(ctx, t, stderr, dir, "watch", "--metrics-addr", "127.0.0.1:0")
		errCh <- err
	}()

	var addr string
	ok := waitFor(t, 5*time.Second, func() bool {
		m := metricsAddrRe.FindStringSubmatch(stderr.String())
		if m == nil {
			return false
		}
		addr = m[1]
		return true
	})
	if !ok {
		cancel()
		t.Fatalf("watch did not report its metrics address:\n%s", stderr.String())
	}

	body := scrape(t, addr)
	for _, want := range []string{
		"vmsnap_store_snapshots 1",
		"vmsnap_store_thumbnails 1",
		"vmsnap_store_vm_state_bytes 10",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}

	// A snapshot written by another process shows up after invalidation.
	mustRun(t, dir, "save", "--state", state, "slot2")
	if !waitFor(t, 5*time.Second, func() bool {
		return strings.Contains(scrape(t, addr), "vmsnap_store_snapshots 2")
	}) {
		t.Errorf("watch did not pick up the new snapshot:\n%s", stderr.String())
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("watch returned error: %v", err)
		}
	case <-time.After(commandTimeout):
		t.Fatal("watch did not stop after cancellation")
	}
}

func TestWatch_RequiresFileEngine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := runContext(ctx, t, &syncBuffer{}, t.TempDir(), "--engine", "badger", "watch", "--metrics-addr", "127.0.0.1:0")
	if err == nil || !strings.Contains(err.Error(), "file") {
		t.Errorf("error = %v, want file engine requirement", err)
	}
}

func TestStoreStats(t *testing.T) {
	store, err := vmstate.NewInMemoryBadgerEngine(vmstate.Config{}, logger.Slog(logger.Discard()))
	if err != nil {
		t.Fatalf("NewInMemoryBadgerEngine() error = %v", err)
	}
	defer store.Close()

	m := machine.New([]byte("abcd"))
	pb, err := domain.NewPixelBuffer(1, 1, domain.PixelFormatRGBA, domain.PixelTypeUnsignedByte)
	if err != nil {
		t.Fatalf("NewPixelBuffer() error = %v", err)
	}
	svc := service.NewSnapshotService(store, m, service.WithFramebuffer(m), service.WithTitleSource(m))
	ctx := context.Background()

	if _, err := svc.Save(ctx, "plain"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := m.SetFramebuffer(pb); err != nil {
		t.Fatalf("SetFramebuffer() error = %v", err)
	}
	if _, err := svc.Save(ctx, "shot"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	s := storeStats(ctx, svc, logger.Discard())()
	if s.Snapshots != 2 || s.Thumbnails != 1 || s.VMStateBytes != 8 {
		t.Errorf("stats = %+v, want 2 snapshots, 1 thumbnail, 8 bytes", s)
	}
}

func TestWatchRouter(t *testing.T) {
	store, err := vmstate.NewInMemoryBadgerEngine(vmstate.Config{}, logger.Slog(logger.Discard()))
	if err != nil {
		t.Fatalf("NewInMemoryBadgerEngine() error = %v", err)
	}
	defer store.Close()

	m := machine.New([]byte("abcd"))
	m.SetTitle("Halo")
	pb, err := domain.NewPixelBuffer(4, 2, domain.PixelFormatRGBA, domain.PixelTypeUnsignedByte)
	if err != nil {
		t.Fatalf("NewPixelBuffer() error = %v", err)
	}
	if err := m.SetFramebuffer(pb); err != nil {
		t.Fatalf("SetFramebuffer() error = %v", err)
	}
	metrics := metric.NewRegistry()
	svc := service.NewSnapshotService(store, m,
		service.WithFramebuffer(m), service.WithTitleSource(m), service.WithMetrics(metrics))
	if _, err := svc.Save(context.Background(), "slot1"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	srv := httptest.NewServer(newWatchRouter(svc, metrics))
	defer srv.Close()

	get := func(path string) *http.Response {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	if resp := get("/health"); resp.StatusCode != http.StatusOK {
		t.Errorf("/health status = %d", resp.StatusCode)
	}

	resp := get("/snapshots")
	var views []snapshotView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		t.Fatalf("decode /snapshots: %v", err)
	}
	if len(views) != 1 || views[0].Name != "slot1" || views[0].Title != "Halo" {
		t.Errorf("/snapshots = %+v", views)
	}

	resp = get("/snapshots/slot1")
	var view snapshotView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		t.Fatalf("decode /snapshots/slot1: %v", err)
	}
	if view.Thumbnail == nil || view.Thumbnail.Width != 4 {
		t.Errorf("/snapshots/slot1 = %+v", view)
	}

	resp = get("/snapshots/missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("/snapshots/missing status = %d, want 404", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if body["code"] != domain.ErrSnapshotNotFound.Code {
		t.Errorf("error code = %q, want %q", body["code"], domain.ErrSnapshotNotFound.Code)
	}

	resp = get("/snapshots/slot1/thumbnail.png?width=2")
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Fatalf("thumbnail Content-Type = %q", ct)
	}
	img, err := png.Decode(resp.Body)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 2 || b.Dy() != 1 {
		t.Errorf("thumbnail size = %dx%d, want 2x1", b.Dx(), b.Dy())
	}

	resp = get("/metrics")
	data, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(data), "vmsnap_operations_total") {
		t.Error("/metrics should expose operation counters")
	}
}
