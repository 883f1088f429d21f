package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// MaxNameLength bounds snapshot names, which double as storage keys.
const MaxNameLength = 128

// SnapshotInfo describes a saved VM state. It is owned by the VM-state
// engine and read-only once returned.
type SnapshotInfo struct {
	// ID is a ULID assigned when the snapshot is saved.
	ID string `json:"id" yaml:"id"`

	// Name is the user-facing snapshot name, unique within a store.
	Name string `json:"name" yaml:"name"`

	// CreatedAt is the save time in Unix milliseconds.
	CreatedAt int64 `json:"created_at" yaml:"created_at"`

	// VMStateSize is the size of the uncompressed VM state in bytes.
	VMStateSize int64 `json:"vm_state_size" yaml:"vm_state_size"`
}

// CreatedTime returns CreatedAt as a time.Time.
func (s *SnapshotInfo) CreatedTime() time.Time {
	return time.UnixMilli(s.CreatedAt)
}

// ExtraData is the application payload stored after a snapshot's VM state.
//
// The Present flags separate "field missing because the frame ended early"
// from "field intentionally empty". An absent field means no data and is
// never an error.
type ExtraData struct {
	Title            string       `json:"title,omitempty" yaml:"title,omitempty"`
	TitlePresent     bool         `json:"title_present" yaml:"title_present"`
	Thumbnail        *PixelBuffer `json:"-" yaml:"-"`
	ThumbnailPresent bool         `json:"thumbnail_present" yaml:"thumbnail_present"`
}

// Entry pairs a snapshot with its decoded extra data.
type Entry struct {
	Info  SnapshotInfo `json:"info" yaml:"info"`
	Extra ExtraData    `json:"extra" yaml:"extra"`
}

// GenerateSnapshotID generates a new snapshot ID using ULID.
func GenerateSnapshotID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", fmt.Errorf("generate ulid: %w", err)
	}
	return strings.ToLower(id.String()), nil
}

// ValidateName checks that name can be used as a snapshot name.
func ValidateName(name string) error {
	if name == "" {
		return ErrInvalidName.WithDetails("name is empty")
	}
	if len(name) > MaxNameLength {
		return ErrInvalidName.WithDetails(fmt.Sprintf("name exceeds %d bytes", MaxNameLength))
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`+"\x00") {
		return ErrInvalidName.WithDetails(fmt.Sprintf("name %q contains a path element", name))
	}
	return nil
}
