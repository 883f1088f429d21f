// Package domain defines the core domain models for vmsnap.
//
// Domain models are pure value objects without any IO dependencies
// or framework coupling. This package contains:
//
//   - SnapshotInfo: identity and size of a saved VM state
//   - PixelBuffer: raw, dimensioned thumbnail image
//   - ExtraData: title and thumbnail decoded from a snapshot
//   - UTF16String: guest title text as read from the guest image
//   - Errors: domain-specific error definitions
package domain
