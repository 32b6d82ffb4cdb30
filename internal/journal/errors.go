package journal

import (
	"errors"
	"fmt"
)

// Open-time fatal errors. Open returns one of these and leaves no file
// handle behind.
var (
	// ErrBusy is returned when the journal file's exclusive lock is held
	// by another process.
	ErrBusy = errors.New("journal: file is locked by another process")

	// ErrBadMagic is returned when the file header's magic banner doesn't
	// match the expected value.
	ErrBadMagic = errors.New("journal: bad magic header, not a journal file")
)

// Caller-misuse errors. These are programmer errors, not runtime
// conditions — fail fast with a clear diagnostic.
var (
	// ErrRecordTooLarge is returned when a payload would make a record
	// exceed MaxRecordSize.
	ErrRecordTooLarge = errors.New("journal: record exceeds max record size")

	// ErrInvalidSource is returned by DecodeRecord when caller-supplied
	// bytes are not exactly one well-formed record for the expected
	// generation.
	ErrInvalidSource = errors.New("journal: source bytes are not a valid record")

	// ErrNegativeSize is returned when a caller asks for a payload buffer
	// of negative size.
	ErrNegativeSize = errors.New("journal: payload size must be non-negative")
)

// NeedsRolloverError is returned by File.Write when the record area does
// not have enough remaining capacity for the batch. The caller must call
// Rollover explicitly and retry; Write never rolls over implicitly so that
// callers can flush or commit other metadata first.
type NeedsRolloverError struct {
	Remaining int64
	Required  int64
}

func (e *NeedsRolloverError) Error() string {
	return fmt.Sprintf("journal: needs rollover: %d bytes required, %d remaining", e.Required, e.Remaining)
}
