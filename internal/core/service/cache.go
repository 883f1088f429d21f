package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
	"github.com/yndnr/vmsnap-go/internal/storage/extradata"
	"github.com/yndnr/vmsnap-go/internal/telemetry/logger"
	"github.com/yndnr/vmsnap-go/internal/telemetry/metric"
)

// SnapshotCache keeps the decoded extra data of every snapshot in memory.
//
// The cache starts dirty. List serves cached entries while the cache is
// clean and non-empty; otherwise it re-enumerates the source and decodes
// every snapshot's frame. A failed rebuild leaves the previous entries in
// place and the cache dirty.
type SnapshotCache struct {
	source  SnapshotSource
	metrics *metric.Registry

	mu      sync.Mutex
	entries []domain.Entry
	dirty   atomic.Bool
}

// NewSnapshotCache creates a dirty cache over source. metrics may be nil.
func NewSnapshotCache(source SnapshotSource, metrics *metric.Registry) *SnapshotCache {
	c := &SnapshotCache{
		source:  source,
		metrics: metrics,
	}
	c.dirty.Store(true)
	return c
}

// List returns one entry per snapshot, in source order.
//
// The returned slice is a copy; the entries' thumbnails are shared with
// the cache and must be treated as read-only (use PixelBuffer.Clone).
func (c *SnapshotCache) List(ctx context.Context) ([]domain.Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty.Load() && len(c.entries) > 0 {
		c.metrics.RecordCacheHit()
		return slices.Clone(c.entries), nil
	}

	// Clear the flag first so an Invalidate racing with the rebuild
	// forces another one.
	c.dirty.Store(false)
	entries, err := c.rebuild(ctx)
	c.metrics.RecordCacheRefresh(err)
	if err != nil {
		c.dirty.Store(true)
		return nil, err
	}

	c.entries = entries
	logger.L(ctx).Debug("snapshot cache rebuilt", "entries", len(entries))
	return slices.Clone(entries), nil
}

// Invalidate marks the cache stale. It is safe to call from any goroutine.
func (c *SnapshotCache) Invalidate() {
	c.dirty.Store(true)
}

// Dirty reports whether the next List will rebuild the cache.
func (c *SnapshotCache) Dirty() bool {
	return c.dirty.Load()
}

func (c *SnapshotCache) rebuild(ctx context.Context) ([]domain.Entry, error) {
	infos, err := c.source.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: enumerate snapshots: %w", err)
	}

	entries := make([]domain.Entry, 0, len(infos))
	for _, info := range infos {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		extra, err := c.readExtra(ctx, info)
		if err != nil {
			return nil, fmt.Errorf("service: read extra data for %q: %w", info.Name, err)
		}
		entries = append(entries, domain.Entry{Info: *info, Extra: extra})
	}
	return entries, nil
}

func (c *SnapshotCache) readExtra(ctx context.Context, info *domain.SnapshotInfo) (domain.ExtraData, error) {
	rc, err := c.source.OpenState(ctx, info)
	if err != nil {
		return domain.ExtraData{}, err
	}
	defer rc.Close()

	res, err := extradata.Decode(extradata.NewStream(rc))
	if err != nil {
		return domain.ExtraData{}, err
	}

	switch {
	case !res.Found:
		c.metrics.RecordDecode(metric.DecodeAbsent)
	case res.Truncated:
		c.metrics.RecordDecode(metric.DecodeTruncated)
		logger.L(ctx).Debug("truncated extra data", "snapshot", info.Name,
			"title", res.Extra.TitlePresent, "thumbnail", res.Extra.ThumbnailPresent)
	default:
		c.metrics.RecordDecode(metric.DecodeComplete)
	}
	return res.Extra, nil
}
