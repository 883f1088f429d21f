// Package service provides the snapshot services for vmsnap.
//
// Services orchestrate the VM-state engine, the running machine and the
// extra-data codec. They define interfaces for their collaborators,
// allowing for dependency injection and testability.
//
// This package contains:
//
//   - SnapshotCache: staleness-tracked cache of decoded snapshot metadata
//   - SnapshotService: save, load, delete and list operations
//   - RenderThumbnail: upload of a stored thumbnail into a draw target
//
// SnapshotService and SnapshotCache are safe for concurrent use. Engine
// and machine implementations are expected to serialize their own I/O.
package service
