// Package store defines the keyed-blob backend capability set (spec §4.1)
// that the ring engine is parameterized over, plus the wire records it
// persists. The one concrete backend shipped is store/bolt.
package store

import "os"

// LockMode selects the mode a Conn is locked in (spec §4.1/§4.2.7).
type LockMode int

const (
	// LockRead is a shared lock: any number of readers may hold it
	// concurrently.
	LockRead LockMode = iota
	// LockWrite is an exclusive lock over an existing file.
	LockWrite
	// LockWriteCreate is an exclusive lock taken while potentially
	// creating the file for the first time.
	LockWriteCreate
)

func (m LockMode) String() string {
	switch m {
	case LockRead:
		return "read"
	case LockWrite:
		return "write"
	case LockWriteCreate:
		return "write-create"
	default:
		return "unknown"
	}
}

// Backend opens files of one concrete on-disk format.
type Backend interface {
	// Open returns a Conn to path, creating a fresh superblock as part of
	// the same logical action if create is true and the file does not
	// already exist. Readers must reject files whose superblock magic
	// does not match Magic.
	Open(path string, perm os.FileMode, create bool) (Conn, error)
}

// Conn is one open backend descriptor (spec §4.1). All operations that
// touch persistent state must be called while the appropriate lock mode is
// held; writers require LockWrite or LockWriteCreate.
type Conn interface {
	// Close releases the descriptor and any locks still held.
	Close() error

	// Lock blocks, with bounded retries and a small backoff, until mode is
	// acquired. callerTag identifies the caller for diagnostics.
	Lock(mode LockMode, callerTag string) error

	// TryLock attempts to acquire mode once, failing immediately
	// (KindLocked) rather than retrying.
	TryLock(mode LockMode, callerTag string) error

	// Unlock releases whatever lock is currently held.
	Unlock() error

	ReadSuper() (*Superblock, error)
	WriteSuper(*Superblock) error

	ReadRingDir() (RingDir, error)
	WriteRingDir(RingDir) error

	ReadHeaders() (HeaderDict, error)
	WriteHeaders(HeaderDict) error

	ReadIndex(ringID int64) (Index, error)
	WriteIndex(ringID int64, idx Index) error
	RemoveIndex(ringID int64) error

	// AppendDataBlocks writes a contiguous run starting at startSeq and
	// returns the number of blocks actually written.
	AppendDataBlocks(ringID int64, startSeq int64, blocks []DataBlock) (int, error)

	// CommitAppend writes a contiguous run of data blocks starting at
	// startSeq and the ring's new index in one atomic commit, so a crash
	// between the two is structurally impossible rather than merely
	// tolerated on read. It returns the number of blocks actually written.
	CommitAppend(ringID int64, startSeq int64, blocks []DataBlock, idx Index) (int, error)

	// ReadDataBlocks returns up to n existing blocks starting at startSeq,
	// in order; missing blocks are silently skipped.
	ReadDataBlocks(ringID int64, startSeq int64, n int) ([]DataBlock, error)

	// ExpireDataBlocks best-effort removes the contiguous range
	// [fromSeq, toSeq] and returns the count actually removed.
	ExpireDataBlocks(ringID int64, fromSeq, toSeq int64) (int, error)

	// Checkpoint performs backend-defined compaction. It is invisible to
	// readers.
	Checkpoint() error

	// MarkDamaged writes a sentinel marking the file as having suffered a
	// partial write (spec §4.2.1 step 5 / §4.2.8: a failed Open-time ring
	// creation or an interrupted Destroy must leave a trace an operator can
	// find, since the superblock or ring directory may now be inconsistent).
	MarkDamaged() error

	// IsDamaged reports whether MarkDamaged has previously been called on
	// this file.
	IsDamaged() (bool, error)
}
