package vmstate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
	"github.com/yndnr/vmsnap-go/internal/core/service"
	"github.com/yndnr/vmsnap-go/internal/storage/extradata"
)

// Key layout.
const (
	infoPrefix   = "snap/info/"
	recordPrefix = "snap/rec/"
)

// BadgerEngine stores snapshots in a Badger database. Each snapshot has
// an info key (JSON) and a record key (the full record bytes), written
// in one transaction on Commit.
type BadgerEngine struct {
	db     *badger.DB
	codec  *codec
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewBadgerEngine opens (or creates) a Badger database in cfg.Dir.
func NewBadgerEngine(cfg Config, logger *slog.Logger) (*BadgerEngine, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	opts.Logger = &badgerLogger{logger: logger}
	return openBadger(opts, cfg, logger)
}

// NewInMemoryBadgerEngine creates a Badger engine without disk storage.
func NewInMemoryBadgerEngine(cfg Config, logger *slog.Logger) (*BadgerEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = &badgerLogger{logger: logger}
	return openBadger(opts, cfg, logger)
}

func openBadger(opts badger.Options, cfg Config, logger *slog.Logger) (*BadgerEngine, error) {
	c, err := newCodec(cfg.Compression, cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	db, err := badger.Open(opts)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	logger.Info("badger engine started", "dir", cfg.Dir, "in_memory", opts.InMemory)

	return &BadgerEngine{
		db:     db,
		codec:  c,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Save captures state into a buffered record.
func (e *BadgerEngine) Save(ctx context.Context, name string, state service.StateSaver) (service.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	hdr, prefix, err := e.codec.encode(name, state, e.now())
	if err != nil {
		return nil, err
	}

	rec := &badgerRecord{engine: e, info: hdr.info()}
	rec.buf.Write(prefix)
	return rec, nil
}

// Load restores the state stored under name.
func (e *BadgerEngine) Load(ctx context.Context, name string, state service.StateLoader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateName(name); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	value, err := e.getLocked(recordPrefix + name)
	if err != nil {
		return err
	}

	r := bytes.NewReader(value)
	l, err := parseLayout(r, int64(len(value)))
	if err != nil {
		return err
	}
	raw, err := e.codec.readState(r, l)
	if err != nil {
		return err
	}
	if err := state.LoadState(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("vmstate: load state: %w", err)
	}

	s := extradata.NewStream(bytes.NewReader(value[l.frameOff:]))
	if _, err := extradata.Skip(s); err != nil {
		e.logger.Warn("skip extra data", "snapshot", name, "error", err)
	}
	return nil
}

// Delete removes both keys of name.
func (e *BadgerEngine) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateName(name); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	return e.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(infoPrefix + name)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrSnapshotNotFound.WithDetails(name)
			}
			return err
		}
		if err := txn.Delete([]byte(infoPrefix + name)); err != nil {
			return err
		}
		return txn.Delete([]byte(recordPrefix + name))
	})
}

// List scans the info keys, ordered by creation time then name.
func (e *BadgerEngine) List(ctx context.Context) ([]*domain.SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}

	var infos []*domain.SnapshotInfo
	err := e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(infoPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var info domain.SnapshotInfo
			if err := json.Unmarshal(value, &info); err != nil {
				e.logger.Warn("skipping corrupt snapshot info", "key", string(item.Key()), "error", err)
				continue
			}
			infos = append(infos, &info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: scan: %w", err)
	}

	sortInfos(infos)
	return infos, nil
}

// OpenState returns the bytes after the VM-state block of info.
func (e *BadgerEngine) OpenState(ctx context.Context, info *domain.SnapshotInfo) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	value, err := e.get(recordPrefix + info.Name)
	if err != nil {
		return nil, err
	}
	l, err := parseLayout(bytes.NewReader(value), int64(len(value)))
	if err != nil {
		return nil, err
	}
	if l.header.ID != info.ID {
		return nil, domain.ErrSnapshotNotFound.WithDetails(fmt.Sprintf("%s (id %s replaced)", info.Name, info.ID))
	}
	return io.NopCloser(bytes.NewReader(value[l.frameOff:])), nil
}

// Close closes the database.
func (e *BadgerEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.codec.close()

	e.logger.Info("shutting down badger engine")
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("badger: close db: %w", err)
	}
	return nil
}

func (e *BadgerEngine) get(key string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	return e.getLocked(key)
}

// getLocked reads key; e.mu must be held.
func (e *BadgerEngine) getLocked(key string) ([]byte, error) {
	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return domain.ErrSnapshotNotFound.WithDetails(key[len(recordPrefix):])
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// badgerRecord buffers a record until Commit.
type badgerRecord struct {
	engine   *BadgerEngine
	info     *domain.SnapshotInfo
	buf      bytes.Buffer
	finished bool
}

func (r *badgerRecord) Write(p []byte) (int, error) {
	if r.finished {
		return 0, ErrRecordFinished
	}
	return r.buf.Write(p)
}

func (r *badgerRecord) Info() *domain.SnapshotInfo {
	info := *r.info
	return &info
}

// Commit writes the info and record keys in one transaction.
func (r *badgerRecord) Commit() error {
	if r.finished {
		return ErrRecordFinished
	}
	r.finished = true

	infoJSON, err := json.Marshal(r.info)
	if err != nil {
		return fmt.Errorf("badger: marshal info: %w", err)
	}

	e := r.engine
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	return e.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(infoPrefix+r.info.Name), infoJSON); err != nil {
			return err
		}
		return txn.Set([]byte(recordPrefix+r.info.Name), r.buf.Bytes())
	})
}

// Abort drops the buffered record.
func (r *badgerRecord) Abort() error {
	if r.finished {
		return ErrRecordFinished
	}
	r.finished = true
	r.buf.Reset()
	return nil
}

// badgerLogger adapts slog.Logger to Badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
