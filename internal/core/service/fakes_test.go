package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
)

// memEngine is an in-memory Engine that counts source calls.
type memEngine struct {
	mu      sync.Mutex
	records map[string]*memRecord
	seq     int64

	listCalls int
	openCalls int

	listErr  error
	openErr  error
	saveErr  error
	writeErr error
}

func newMemEngine() *memEngine {
	return &memEngine{records: make(map[string]*memRecord)}
}

type memRecord struct {
	engine  *memEngine
	info    domain.SnapshotInfo
	state   []byte
	extra   bytes.Buffer
	aborted bool
	done    bool
}

func (r *memRecord) Write(p []byte) (int, error) {
	if r.engine.writeErr != nil {
		return 0, r.engine.writeErr
	}
	return r.extra.Write(p)
}

func (r *memRecord) Info() *domain.SnapshotInfo {
	info := r.info
	return &info
}

func (r *memRecord) Commit() error {
	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	r.done = true
	r.engine.records[r.info.Name] = r
	return nil
}

func (r *memRecord) Abort() error {
	r.aborted = true
	return nil
}

func (e *memEngine) List(ctx context.Context) ([]*domain.SnapshotInfo, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listCalls++
	if e.listErr != nil {
		return nil, e.listErr
	}
	infos := make([]*domain.SnapshotInfo, 0, len(e.records))
	for _, r := range e.records {
		info := r.info
		infos = append(infos, &info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt < infos[j].CreatedAt })
	return infos, nil
}

func (e *memEngine) OpenState(ctx context.Context, info *domain.SnapshotInfo) (io.ReadCloser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openCalls++
	if e.openErr != nil {
		return nil, e.openErr
	}
	r, ok := e.records[info.Name]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return io.NopCloser(bytes.NewReader(r.extra.Bytes())), nil
}

func (e *memEngine) Save(ctx context.Context, name string, state StateSaver) (Record, error) {
	if e.saveErr != nil {
		return nil, e.saveErr
	}
	var buf bytes.Buffer
	if err := state.SaveState(&buf); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()

	id, err := domain.GenerateSnapshotID(time.UnixMilli(seq))
	if err != nil {
		return nil, err
	}
	return &memRecord{
		engine: e,
		info: domain.SnapshotInfo{
			ID:          id,
			Name:        name,
			CreatedAt:   seq,
			VMStateSize: int64(buf.Len()),
		},
		state: buf.Bytes(),
	}, nil
}

func (e *memEngine) Load(ctx context.Context, name string, state StateLoader) error {
	e.mu.Lock()
	r, ok := e.records[name]
	e.mu.Unlock()
	if !ok {
		return domain.ErrSnapshotNotFound
	}
	return state.LoadState(bytes.NewReader(r.state))
}

func (e *memEngine) Delete(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.records[name]; !ok {
		return domain.ErrSnapshotNotFound
	}
	delete(e.records, name)
	return nil
}

// fakeMachine records run-state transitions.
type fakeMachine struct {
	running bool
	ram     []byte
	loadErr error

	stops  int
	starts int
}

func (m *fakeMachine) IsRunning() bool { return m.running }

func (m *fakeMachine) Stop() {
	m.stops++
	m.running = false
}

func (m *fakeMachine) Start() {
	m.starts++
	m.running = true
}

func (m *fakeMachine) SaveState(w io.Writer) error {
	_, err := w.Write(m.ram)
	return err
}

func (m *fakeMachine) LoadState(r io.Reader) error {
	if m.loadErr != nil {
		return m.loadErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.ram = data
	return nil
}

type fakeDisplay struct {
	pb  *domain.PixelBuffer
	err error
}

func (d *fakeDisplay) CaptureFramebuffer(ctx context.Context) (*domain.PixelBuffer, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.pb.Clone(), nil
}

type fakeTitle string

func (t fakeTitle) GuestTitle() domain.UTF16String {
	return domain.EncodeUTF16(string(t))
}

var errInjected = errors.New("injected failure")

func rgbaThumbnail(w, h int32) *domain.PixelBuffer {
	pb, err := domain.NewPixelBuffer(w, h, domain.PixelFormatRGBA, domain.PixelTypeUnsignedByte)
	if err != nil {
		panic(err)
	}
	for i := range pb.Pixels {
		pb.Pixels[i] = byte(i * 7)
	}
	return pb
}
