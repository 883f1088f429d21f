package vmstate

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/vmsnap-go/internal/core/domain"
	"github.com/yndnr/vmsnap-go/internal/core/service"
	"github.com/yndnr/vmsnap-go/internal/storage/extradata"
)

const (
	// FileExtension is the suffix of committed snapshot files.
	FileExtension = ".vmsnap"

	tempPattern  = ".vmsnap-*.tmp"
	checksumSize = sha256.Size
)

// FileEngine stores one snapshot per file.
type FileEngine struct {
	dir    string
	codec  *codec
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewFileEngine creates a file engine rooted at cfg.Dir.
func NewFileEngine(cfg Config, logger *slog.Logger) (*FileEngine, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("vmstate: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("vmstate: create dir: %w", err)
	}

	c, err := newCodec(cfg.Compression, cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	return &FileEngine{
		dir:    cfg.Dir,
		codec:  c,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Dir returns the snapshot directory.
func (e *FileEngine) Dir() string {
	return e.dir
}

func (e *FileEngine) path(name string) string {
	return filepath.Join(e.dir, name+FileExtension)
}

// Save captures state into a new temporary snapshot file. The file
// replaces any snapshot of the same name on Commit.
func (e *FileEngine) Save(ctx context.Context, name string, state service.StateSaver) (service.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := domain.ValidateName(name); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	hdr, prefix, err := e.codec.encode(name, state, e.now())
	if err != nil {
		return nil, err
	}

	file, err := os.CreateTemp(e.dir, tempPattern)
	if err != nil {
		return nil, fmt.Errorf("vmstate: create temp file: %w", err)
	}

	rec := &fileRecord{
		engine:    e,
		info:      hdr.info(),
		file:      file,
		hash:      sha256.New(),
		finalPath: e.path(name),
	}
	rec.w = io.MultiWriter(file, rec.hash)

	if _, err := rec.w.Write(prefix); err != nil {
		_ = rec.Abort()
		return nil, fmt.Errorf("vmstate: write record: %w", err)
	}
	return rec, nil
}

// Load verifies the snapshot file of name and restores its state.
func (e *FileEngine) Load(ctx context.Context, name string, state service.StateLoader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateName(name); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	body, err := verifyChecksum(f)
	if err != nil {
		return err
	}
	l, err := parseLayout(f, body)
	if err != nil {
		return err
	}
	raw, err := e.codec.readState(f, l)
	if err != nil {
		return err
	}
	if err := state.LoadState(bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("vmstate: load state: %w", err)
	}

	s := extradata.NewStream(io.NewSectionReader(f, l.frameOff, body-l.frameOff))
	if _, err := extradata.Skip(s); err != nil {
		e.logger.Warn("skip extra data", "snapshot", name, "error", err)
	}
	return nil
}

// Delete removes the snapshot file of name.
func (e *FileEngine) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateName(name); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := os.Remove(e.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return domain.ErrSnapshotNotFound.WithDetails(name)
		}
		return fmt.Errorf("vmstate: delete: %w", err)
	}
	return nil
}

// List reads the header of every snapshot file, ordered by creation time
// then name. Files that are not valid records are skipped.
func (e *FileEngine) List(ctx context.Context) ([]*domain.SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	entries, err := os.ReadDir(e.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("vmstate: read dir: %w", err)
	}

	var infos []*domain.SnapshotInfo
	for _, ent := range entries {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), FileExtension) {
			continue
		}
		info, err := e.readInfo(filepath.Join(e.dir, ent.Name()))
		if err != nil {
			e.logger.Warn("skipping unreadable snapshot", "file", ent.Name(), "error", err)
			continue
		}
		infos = append(infos, info)
	}

	sortInfos(infos)
	return infos, nil
}

// OpenState returns the bytes after the VM-state block of info, up to
// the checksum trailer.
func (e *FileEngine) OpenState(ctx context.Context, info *domain.SnapshotInfo) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := e.open(info.Name)
	if err != nil {
		return nil, err
	}
	body, l, err := layoutOf(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	if l.header.ID != info.ID {
		f.Close()
		return nil, domain.ErrSnapshotNotFound.WithDetails(fmt.Sprintf("%s (id %s replaced)", info.Name, info.ID))
	}

	return &sectionCloser{
		Reader: io.NewSectionReader(f, l.frameOff, body-l.frameOff),
		Closer: f,
	}, nil
}

// Close releases the codec. The directory is left untouched.
func (e *FileEngine) Close() error {
	e.codec.close()
	return nil
}

func (e *FileEngine) open(name string) (*os.File, error) {
	f, err := os.Open(e.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, domain.ErrSnapshotNotFound.WithDetails(name)
		}
		return nil, fmt.Errorf("vmstate: open: %w", err)
	}
	return f, nil
}

func (e *FileEngine) readInfo(path string) (*domain.SnapshotInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	_, l, err := layoutOf(f)
	if err != nil {
		return nil, err
	}
	return l.header.info(), nil
}

// layoutOf parses the record prefix of a snapshot file. The returned
// body size excludes the checksum trailer.
func layoutOf(f *os.File) (int64, layout, error) {
	stat, err := f.Stat()
	if err != nil {
		return 0, layout{}, err
	}
	body := stat.Size() - checksumSize
	if body < int64(len(magicBytes)) {
		return 0, layout{}, ErrInvalidMagic
	}
	l, err := parseLayout(f, body)
	return body, l, err
}

// verifyChecksum checks the SHA-256 trailer and returns the body size.
func verifyChecksum(f *os.File) (int64, error) {
	stat, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if stat.Size() < int64(len(magicBytes))+checksumSize {
		return 0, ErrChecksumMismatch
	}

	body := stat.Size() - checksumSize
	expected := make([]byte, checksumSize)
	if _, err := io.ReadFull(io.NewSectionReader(f, body, checksumSize), expected); err != nil {
		return 0, err
	}
	h := sha256.New()
	if _, err := io.CopyN(h, io.NewSectionReader(f, 0, body), body); err != nil {
		return 0, err
	}
	if !bytes.Equal(h.Sum(nil), expected) {
		return 0, ErrChecksumMismatch
	}
	return body, nil
}

func sortInfos(infos []*domain.SnapshotInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt != infos[j].CreatedAt {
			return infos[i].CreatedAt < infos[j].CreatedAt
		}
		return infos[i].Name < infos[j].Name
	})
}

// fileRecord is a snapshot file being written.
type fileRecord struct {
	engine    *FileEngine
	info      *domain.SnapshotInfo
	file      *os.File
	hash      hash.Hash
	w         io.Writer
	finalPath string
	finished  bool
}

func (r *fileRecord) Write(p []byte) (int, error) {
	if r.finished {
		return 0, ErrRecordFinished
	}
	return r.w.Write(p)
}

func (r *fileRecord) Info() *domain.SnapshotInfo {
	info := *r.info
	return &info
}

// Commit appends the checksum trailer and moves the file into place.
func (r *fileRecord) Commit() error {
	if r.finished {
		return ErrRecordFinished
	}
	r.finished = true
	tempPath := r.file.Name()
	defer os.Remove(tempPath)

	if _, err := r.file.Write(r.hash.Sum(nil)); err != nil {
		r.file.Close()
		return fmt.Errorf("vmstate: write checksum: %w", err)
	}
	if err := r.file.Sync(); err != nil {
		r.file.Close()
		return fmt.Errorf("vmstate: sync: %w", err)
	}
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("vmstate: close: %w", err)
	}

	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	if err := os.Rename(tempPath, r.finalPath); err != nil {
		return fmt.Errorf("vmstate: rename: %w", err)
	}

	r.engine.logger.Debug("snapshot file committed", "path", r.finalPath, "id", r.info.ID)
	return nil
}

// Abort removes the temporary file.
func (r *fileRecord) Abort() error {
	if r.finished {
		return ErrRecordFinished
	}
	r.finished = true
	closeErr := r.file.Close()
	if err := os.Remove(r.file.Name()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("vmstate: remove temp file: %w", err)
	}
	return closeErr
}

type sectionCloser struct {
	io.Reader
	io.Closer
}
