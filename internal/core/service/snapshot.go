package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
	"github.com/yndnr/vmsnap-go/internal/storage/extradata"
	"github.com/yndnr/vmsnap-go/internal/telemetry/logger"
	"github.com/yndnr/vmsnap-go/internal/telemetry/metric"
)

// Operation names used in logs and metrics.
const (
	OpSave   = "savevm"
	OpLoad   = "loadvm"
	OpDelete = "delvm"
	OpList   = "listvm"
)

// SnapshotService saves, loads, deletes and lists snapshots, keeping the
// metadata cache consistent with every mutation it performs.
type SnapshotService struct {
	engine  Engine
	machine Machine
	display FramebufferSource
	titles  TitleSource
	metrics *metric.Registry
	cache   *SnapshotCache
}

// Option configures a SnapshotService.
type Option func(*SnapshotService)

// WithFramebuffer sets the display captured into thumbnails on save.
func WithFramebuffer(fb FramebufferSource) Option {
	return func(s *SnapshotService) { s.display = fb }
}

// WithTitleSource sets the source of the guest title stored on save.
func WithTitleSource(ts TitleSource) Option {
	return func(s *SnapshotService) { s.titles = ts }
}

// WithMetrics records operation and cache metrics into m.
func WithMetrics(m *metric.Registry) Option {
	return func(s *SnapshotService) { s.metrics = m }
}

// NewSnapshotService creates a SnapshotService.
func NewSnapshotService(engine Engine, machine Machine, opts ...Option) *SnapshotService {
	s := &SnapshotService{
		engine:  engine,
		machine: machine,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = NewSnapshotCache(engine, s.metrics)
	return s
}

// Cache returns the metadata cache.
func (s *SnapshotService) Cache() *SnapshotCache {
	return s.cache
}

// Save stores the machine state under name followed by the extra-data
// frame (guest title and, when available, a display thumbnail).
//
// A running machine is paused for the duration of the save and resumed
// afterwards, whatever the outcome.
func (s *SnapshotService) Save(ctx context.Context, name string) (info *domain.SnapshotInfo, err error) {
	start := time.Now()
	ctx = logger.WithSnapshot(logger.WithOperation(ctx, OpSave), name)
	log := logger.L(ctx)
	defer func() {
		s.metrics.ObserveOperation(OpSave, start, err)
		if err != nil {
			log.Error("savevm failed", "error", err)
		}
	}()

	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}

	if s.machine.IsRunning() {
		s.machine.Stop()
		defer s.machine.Start()
	}

	rec, err := s.engine.Save(ctx, name, s.machine)
	defer s.cache.Invalidate()
	if err != nil {
		return nil, fmt.Errorf("service: save vm state: %w", err)
	}

	thumb := s.capture(ctx)
	if err := extradata.Write(rec, s.title(), thumb); err != nil {
		if abortErr := rec.Abort(); abortErr != nil {
			log.Warn("abort snapshot record", "error", abortErr)
		}
		return nil, fmt.Errorf("service: write extra data: %w", err)
	}
	if err := rec.Commit(); err != nil {
		return nil, fmt.Errorf("service: commit snapshot: %w", err)
	}

	info = rec.Info()
	log.Info("snapshot saved",
		"id", info.ID,
		"vm_state_size", info.VMStateSize,
		"thumbnail", thumb != nil,
		"duration", time.Since(start))
	return info, nil
}

// Load restores the machine state stored under name. The machine is
// resumed only if it was running and the load succeeded.
func (s *SnapshotService) Load(ctx context.Context, name string) (err error) {
	start := time.Now()
	ctx = logger.WithSnapshot(logger.WithOperation(ctx, OpLoad), name)
	log := logger.L(ctx)
	defer func() {
		s.metrics.ObserveOperation(OpLoad, start, err)
	}()

	if err := domain.ValidateName(name); err != nil {
		log.Error("loadvm failed", "error", err)
		return err
	}

	wasRunning := s.machine.IsRunning()
	if wasRunning {
		s.machine.Stop()
	}

	if err := s.engine.Load(ctx, name, s.machine); err != nil {
		log.Error("loadvm failed", "error", err)
		return fmt.Errorf("service: load vm state: %w", err)
	}

	if wasRunning {
		s.machine.Start()
	}
	log.Info("snapshot loaded", "duration", time.Since(start))
	return nil
}

// Delete removes the snapshot stored under name.
func (s *SnapshotService) Delete(ctx context.Context, name string) (err error) {
	start := time.Now()
	ctx = logger.WithSnapshot(logger.WithOperation(ctx, OpDelete), name)
	log := logger.L(ctx)
	defer func() {
		s.metrics.ObserveOperation(OpDelete, start, err)
	}()

	if err := domain.ValidateName(name); err != nil {
		return err
	}

	err = s.engine.Delete(ctx, name)
	s.cache.Invalidate()
	if err != nil {
		log.Error("delvm failed", "error", err)
		return fmt.Errorf("service: delete snapshot: %w", err)
	}
	log.Info("snapshot deleted")
	return nil
}

// List returns every snapshot with its extra data.
func (s *SnapshotService) List(ctx context.Context) (entries []domain.Entry, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveOperation(OpList, start, err)
	}()

	return s.cache.List(logger.WithOperation(ctx, OpList))
}

// Get returns the entry of the snapshot stored under name.
func (s *SnapshotService) Get(ctx context.Context, name string) (*domain.Entry, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Info.Name == name {
			return &entries[i], nil
		}
	}
	return nil, domain.ErrSnapshotNotFound.WithDetails(name)
}

// Invalidate marks the metadata cache stale, for example after the
// store was changed by another process.
func (s *SnapshotService) Invalidate() {
	s.cache.Invalidate()
}

// capture grabs the current display. Failures are not fatal: the
// snapshot is saved without a thumbnail.
func (s *SnapshotService) capture(ctx context.Context) *domain.PixelBuffer {
	if s.display == nil {
		return nil
	}
	pb, err := s.display.CaptureFramebuffer(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNoRenderContext) {
			logger.L(ctx).Debug("framebuffer capture failed", "error", err)
		} else {
			logger.L(ctx).Debug("no render context, saving without thumbnail")
		}
		return nil
	}
	if err := pb.Validate(); err != nil {
		logger.L(ctx).Debug("discarding invalid framebuffer", "error", err)
		return nil
	}
	return pb
}

func (s *SnapshotService) title() domain.UTF16String {
	if s.titles == nil {
		return nil
	}
	return s.titles.GuestTitle()
}
