// Package journal implements a crash-safe, append-only transaction
// journal: a single pre-allocated file, reused cyclically (a rolling
// journal), that persists opaque record payloads so an external
// transaction manager can recover after a crash during commit or
// rollback.
//
// The file is divided into a fixed-size header (FixedHeaderSize bytes)
// followed by a record area. Every record is tagged with a 128-bit
// generation id; the header keeps the two most recent generation ids
// (previous and current) so a scanner can tell live records from stale
// bytes left behind by an earlier rollover without needing an index —
// readers always scan.
//
// The record area is a ring: the append position only ever wraps back to
// the front (FixedHeaderSize) when a write no longer fits before the
// declared end of the file. Rollover does not relocate the append
// position by itself — it mints a new generation id and, only if the
// record area is already exhausted, wraps the append position back to the
// front. This is what lets a previous generation's records stay readable
// after a rollover: they occupy the span the writer already moved past,
// and nothing overwrites them until the new generation's writes
// physically reach that span again.
//
// File is safe for one writer and any number of readers snapshotting a
// ReadAll iterator; it is not safe for concurrent writers, and the
// package does not attempt multi-process coordination beyond the
// exclusive lock taken at Open.
package journal

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// SyncPolicy controls when a File automatically forces (fsyncs) its
// writes, on top of whatever explicit Force calls a caller makes.
type SyncPolicy int

const (
	// SyncNever never forces automatically; the caller decides when a
	// durability point is needed by calling Force. This is the default.
	SyncNever SyncPolicy = iota
	// SyncAlways forces after every successful Write.
	SyncAlways
	// SyncOnRollover forces once a rollover completes, trading the
	// durability of the most recent pre-rollover writes for not forcing
	// on every single batch.
	SyncOnRollover
)

// openConfig holds Open's optional settings.
type openConfig struct {
	provider   BufferProvider
	syncPolicy SyncPolicy
}

// Option configures Open.
type Option func(*openConfig)

// WithBufferProvider overrides the BufferProvider used for write buffers,
// decoded record payloads, and scan buffers. The default is
// AllocatingProvider{}.
func WithBufferProvider(p BufferProvider) Option {
	return func(c *openConfig) { c.provider = p }
}

// WithSyncPolicy overrides when the journal automatically forces writes
// to disk. The default is SyncNever.
func WithSyncPolicy(p SyncPolicy) Option {
	return func(c *openConfig) { c.syncPolicy = p }
}

// File is one open, locked journal file.
type File struct {
	mu sync.Mutex

	file *os.File
	lock *flock.Flock
	path string

	previousGeneration Generation
	currentGeneration  Generation

	journalSize int64 // declared size; never shrinks
	appendPos   int64 // next byte offset to write at

	lastModified time.Time
	lastForced   time.Time

	provider   BufferProvider
	syncPolicy SyncPolicy
	closed     bool
}

// Open opens or creates the journal file at path, growing it to at least
// initialSize bytes. It acquires an exclusive OS-level lock for the
// lifetime of the returned File; a second Open of the same path (in this
// or another process) fails with ErrBusy until the first is closed.
//
// If the file is empty, a fresh header is written with two independently
// random generation ids and the append point starts at FixedHeaderSize.
// Otherwise the header is parsed (ErrBadMagic if it doesn't match) and the
// record area is scanned for the last record tagged with the current
// generation to discover where appending should resume.
func Open(path string, initialSize int64, opts ...Option) (*File, error) {
	cfg := &openConfig{provider: AllocatingProvider{}, syncPolicy: SyncNever}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.provider == nil {
		cfg.provider = AllocatingProvider{}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}

	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("journal: acquire lock: %w", err)
	}
	if !locked {
		return nil, ErrBusy
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("journal: open file: %w", err)
	}

	jf, err := openFile(f, lock, path, initialSize, cfg.provider, cfg.syncPolicy)
	if err != nil {
		f.Close()
		lock.Unlock()
		return nil, err
	}
	return jf, nil
}

// openFile does the open-time bookkeeping shared by every Open call. On
// any error the caller is responsible for closing f and releasing lock.
func openFile(f *os.File, lock *flock.Flock, path string, initialSize int64, provider BufferProvider, syncPolicy SyncPolicy) (*File, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("journal: stat: %w", err)
	}

	var previous, current Generation
	fresh := info.Size() == 0

	if fresh {
		previous = NewGeneration()
		current = NewGeneration()
		if err := writeHeader(f, previous, current); err != nil {
			return nil, err
		}
	} else {
		previous, current, err = readHeader(f)
		if err != nil {
			return nil, err
		}
	}

	size := initialSize
	if size < FixedHeaderSize {
		size = FixedHeaderSize
	}
	if info.Size() > size {
		size = info.Size()
	}
	if info.Size() < size {
		if err := f.Truncate(size); err != nil {
			return nil, fmt.Errorf("journal: grow to initial size: %w", err)
		}
	}

	jf := &File{
		file:               f,
		lock:               lock,
		path:               path,
		previousGeneration: previous,
		currentGeneration:  current,
		journalSize:        size,
		provider:           provider,
		syncPolicy:         syncPolicy,
	}

	if fresh {
		jf.appendPos = FixedHeaderSize
	} else {
		pos := findPositionAfterLastRecord(f, FixedHeaderSize, size, current, provider)
		if pos < FixedHeaderSize {
			pos = FixedHeaderSize
		}
		jf.appendPos = pos
	}

	now := time.Now()
	jf.lastModified = now
	jf.lastForced = now
	return jf, nil
}

// CreateEmptyRecord returns a new Record tagged with the journal's
// current generation id, ready for CreateEmptyPayload and Write. If the
// journal rolls over between creation and Write, the record is
// re-serialized under the generation active at write time.
func (f *File) CreateEmptyRecord() *Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Record{generation: f.currentGeneration, provider: f.provider}
}

// RemainingCapacity returns the number of bytes left in the record area
// before a write would need a Rollover.
func (f *File) RemainingCapacity() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.journalSize - f.appendPos
}

// Write serializes records into one contiguous buffer and issues a
// single write at the current append position. If the batch doesn't fit
// in the remaining capacity, no bytes are written and a
// *NeedsRolloverError is returned; the caller must call Rollover and
// retry. An empty batch writes zero bytes and leaves last-modified state
// untouched.
func (f *File) Write(records []*Record) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(records) == 0 {
		return 0, nil
	}

	required := RequiredBytes(records)
	remaining := f.journalSize - f.appendPos
	if required > remaining {
		return 0, &NeedsRolloverError{Remaining: remaining, Required: required}
	}

	buf := f.provider.Poll(int(required))
	buf = buf[:required]
	defer f.provider.Recycle(buf)

	off := int64(0)
	for _, rec := range records {
		sz := int64(recordSize(len(rec.payload)))
		encodeInto(buf[off:off+sz], f.currentGeneration, rec.payload)
		rec.generation = f.currentGeneration
		rec.crc32 = crc32.ChecksumIEEE(rec.payload)
		rec.valid = true
		off += sz
	}

	n, err := f.file.WriteAt(buf, f.appendPos)
	if err != nil {
		return 0, fmt.Errorf("journal: write: %w", err)
	}

	f.appendPos += int64(n)
	f.lastModified = time.Now()

	if f.syncPolicy == SyncAlways {
		if err := f.forceLocked(); err != nil {
			return int64(n), err
		}
	}
	return int64(n), nil
}

// Rollover ends the current generation and begins a new one: the outgoing
// current_generation becomes previous_generation and a fresh
// current_generation is minted and written to the header.
//
// The append position is left untouched unless the record area is
// already exhausted (no room remains before the declared end of the
// file), in which case it wraps back to FixedHeaderSize. This is the
// only place a wrap happens, and it is what keeps the outgoing
// generation's records — which occupy the span up to wherever the append
// position already is — readable until the new generation's writes
// physically reach and overwrite that span. Resetting the append
// position unconditionally would make the very next Write clobber the
// records Rollover is supposed to be preserving.
//
// Before any of that, the bytes from the append position to the end of the
// record area are overwritten with spaces (0x20), so stale framing left
// there by older generations cannot be mistaken for records.
func (f *File) Rollover() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.appendPos < f.journalSize {
		fill := bytes.Repeat([]byte{' '}, int(f.journalSize-f.appendPos))
		if _, err := f.file.WriteAt(fill, f.appendPos); err != nil {
			return fmt.Errorf("journal: rollover erase: %w", err)
		}
	}
	if f.appendPos >= f.journalSize {
		f.appendPos = FixedHeaderSize
	}

	f.previousGeneration = f.currentGeneration
	f.currentGeneration = NewGeneration()
	if err := writeHeader(f.file, f.previousGeneration, f.currentGeneration); err != nil {
		return err
	}

	f.lastModified = time.Now()
	if f.syncPolicy == SyncOnRollover {
		if err := f.forceLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Grow extends the journal's declared size to newSize, if larger than the
// current size. It never shrinks the file.
func (f *File) Grow(newSize int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.growLocked(newSize)
}

func (f *File) growLocked(newSize int64) error {
	if newSize <= f.journalSize {
		return nil
	}
	if err := f.file.Truncate(newSize); err != nil {
		return fmt.Errorf("journal: grow: %w", err)
	}
	f.journalSize = newSize
	return nil
}

// Force fsyncs the journal file if anything has been written since the
// last Force, and is a no-op otherwise so that repeated calls with no
// intervening writes don't spam the fsync syscall.
func (f *File) Force() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forceLocked()
}

func (f *File) forceLocked() error {
	if f.lastForced.Equal(f.lastModified) {
		return nil
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("journal: force: %w", err)
	}
	f.lastForced = f.lastModified
	return nil
}

// ReadAll returns an iterator over every record recoverable from the
// journal: a previous-generation pass over the record area followed by a
// current-generation pass over the same region. This is always a
// superset of what a crash recovery needs — records written before the
// last rollover that haven't yet been overwritten, followed by everything
// since. The end of the scanned region is snapshotted now, so the
// iterator won't race a concurrent Write that advances the append point.
func (f *File) ReadAll(includeInvalid bool) *RecordIterator {
	f.mu.Lock()
	end := f.appendPos
	previous := f.previousGeneration
	current := f.currentGeneration
	provider := f.provider
	src := f.file
	f.mu.Unlock()

	return &RecordIterator{
		scanners: []*Scanner{
			newScanner(src, FixedHeaderSize, end, previous, includeInvalid, provider),
			newScanner(src, FixedHeaderSize, end, current, includeInvalid, provider),
		},
	}
}

// RecordIterator concatenates a previous-generation scan pass with a
// current-generation scan pass over the same file region, replacing any
// source-specific sequence-concatenation utility with a two-element
// slice of Scanners walked in order.
type RecordIterator struct {
	scanners []*Scanner
	idx      int
}

// Next returns the next record in the iteration, or (nil, false) once
// both passes are exhausted.
func (it *RecordIterator) Next() (*Record, bool) {
	for it.idx < len(it.scanners) {
		if rec, ok := it.scanners[it.idx].Next(); ok {
			return rec, true
		}
		it.idx++
	}
	return nil, false
}

// Close forces any pending writes to disk, releases the exclusive lock,
// and closes the underlying file handle, in that order. It is idempotent:
// calling Close again after the first call is a no-op.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true

	forceErr := f.forceLocked()
	unlockErr := f.lock.Unlock()
	closeErr := f.file.Close()

	if forceErr != nil {
		return forceErr
	}
	if unlockErr != nil {
		return fmt.Errorf("journal: release lock: %w", unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("journal: close: %w", closeErr)
	}
	return nil
}
