// Package vmstate stores VM-state records for vmsnap.
//
// Every snapshot is one record:
//
//	[magic:8 "VMSNAP01"]
//	[headerLen:4 BE][header JSON]
//	[dataLen:8 BE][data]
//	[extra-data frame]
//
// The header carries the snapshot identity and how the data block was
// encoded. The data block is the machine state, optionally compressed
// with zstd and optionally sealed with XChaCha20-Poly1305 (the snapshot
// ID is the additional data). Bytes written to an open record after the
// data block are stored verbatim; the snapshot service uses them for the
// extra-data frame.
//
// Two engines are provided:
//
//   - FileEngine: one <name>.vmsnap file per snapshot, written to a
//     temporary file and renamed on commit, with a SHA-256 trailer
//   - BadgerEngine: records in a Badger database under snap/ keys
//
// Watcher reports changes made to a FileEngine directory by other
// processes.
package vmstate
