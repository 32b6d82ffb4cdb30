package journal

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/google/uuid"
)

// Generation is a 128-bit identifier stamped into every record written
// during one rollover cycle of the journal. It doubles as both a framing
// delimiter (it brackets the record on disk) and a live/stale marker: a
// scanner can tell live records (tagged with either of the file's two
// known generations) from stale bytes left over from an earlier cycle
// without touching an index.
type Generation [16]byte

// NewGeneration returns a fresh, uniformly random generation id.
func NewGeneration() Generation {
	return Generation(uuid.New())
}

// Zero reports whether g is the all-zero generation.
func (g Generation) Zero() bool {
	return g == Generation{}
}

// On-disk literal markers. An implementation reading this format back
// must recognize these exact byte sequences; they are not configurable.
var (
	recordPrefix      = []byte("\r\nLR[")
	recordSuffix      = []byte("][")
	recordTrailerMark = []byte("]-")
)

const (
	generationSize = 16
	lengthFieldSz  = 4
	crc32FieldSz   = 4
)

var (
	// recordHeaderSize and recordTrailerSize are derived from the marker
	// lengths rather than hardcoded, so a change to the marker constants
	// above can never desync the offset arithmetic below.
	recordHeaderSize  = len(recordPrefix) + generationSize + lengthFieldSz + crc32FieldSz + len(recordSuffix)
	recordTrailerSize = len(recordTrailerMark) + generationSize

	// recordLengthOffset and recordCRC32Offset are the byte offsets of
	// the LENGTH and CRC32 fields within a record, measured from the
	// start of the record (i.e. from the first byte of PREFIX).
	recordLengthOffset = len(recordPrefix) + generationSize
	recordCRC32Offset  = recordLengthOffset + lengthFieldSz

	// recordOverhead is the total framing overhead of one record,
	// excluding its payload.
	recordOverhead = recordHeaderSize + recordTrailerSize
)

// MaxRecordSize is the largest total on-disk size a single record may
// occupy, including framing overhead. Any length beyond this is treated
// as corruption at scan time and rejected at write time. This is an
// implementation choice (spec leaves it open); 64 MiB comfortably covers
// any single transaction-state blob this journal is meant to carry.
const MaxRecordSize = 64 * 1024 * 1024

// MaxPayloadSize is the largest payload a single record may carry.
var MaxPayloadSize = MaxRecordSize - recordOverhead

// FixedHeaderSize is the size, in bytes, of the journal file's own header
// region. The record area begins immediately after it.
const FixedHeaderSize = 1024

// magicBanner is the human-readable banner written at the start of every
// journal file's header. A byte-for-byte match is required to open a file;
// anything else fails with ErrBadMagic.
const magicBanner = "BTM-NTJ-[Version 1.0] Native Transaction Journal"

// File header layout within the first FixedHeaderSize bytes:
//
//	[0, magicFieldSize)                     magic banner, zero-padded
//	[magicFieldSize, +16)                   previous_generation
//	[magicFieldSize+16, +16)                current_generation
//	[..., FixedHeaderSize)                  reserved, zero-filled
const magicFieldSize = 128

const (
	previousGenOffset = magicFieldSize
	currentGenOffset  = magicFieldSize + generationSize
)

// Record is one logical entry in the journal: an opaque payload tagged
// with the generation id of the cycle it was written in, plus a CRC32 of
// the payload bytes and a derived validity flag set on decode.
type Record struct {
	generation Generation
	payload    []byte
	crc32      uint32
	valid      bool

	provider BufferProvider
}

// Generation returns the generation id the record is tagged with.
func (r *Record) Generation() Generation { return r.generation }

// Payload returns the record's opaque payload bytes.
func (r *Record) Payload() []byte { return r.payload }

// CRC32 returns the record's stored checksum (only meaningful once the
// record has been decoded; for a freshly created record this is 0 until
// Encode computes it).
func (r *Record) CRC32() uint32 { return r.crc32 }

// Valid reports whether the record's CRC32 was verified against its
// payload at decode time. Records produced by CreateEmptyRecord are not
// valid until encoded (by Encode or File.Write), which sets the flag.
func (r *Record) Valid() bool { return r.valid }

// CreateEmptyPayload allocates (via the record's buffer provider, if any)
// a writable payload buffer of exactly n bytes and attaches it to the
// record, returning it for the caller to fill in place. n must be
// non-negative and the resulting record must not exceed MaxRecordSize.
func (r *Record) CreateEmptyPayload(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeSize
	}
	if recordOverhead+n > MaxRecordSize {
		return nil, ErrRecordTooLarge
	}
	var buf []byte
	if r.provider != nil {
		buf = r.provider.Poll(n)[:n]
	} else {
		buf = make([]byte, n)
	}
	r.payload = buf
	return buf, nil
}

// Dispose returns the record's backing payload buffer to its buffer
// provider, if any. Records are safe to dispose any time after they have
// been written or consumed; disposing a record twice or one with no
// provider is a no-op.
func (r *Record) Dispose() {
	if r.provider != nil && r.payload != nil {
		r.provider.Recycle(r.payload)
	}
	r.payload = nil
}

// RequiredBytes returns the total number of bytes a batch of records will
// occupy once encoded, including per-record framing overhead.
func RequiredBytes(records []*Record) int64 {
	var total int64
	for _, r := range records {
		total += int64(recordOverhead + len(r.payload))
	}
	return total
}

// recordSize returns the total on-disk size of a record with the given
// payload length.
func recordSize(payloadLen int) int {
	return recordOverhead + payloadLen
}

// encodeInto serializes one record carrying payload into dst under the
// given target generation id, computing and patching the CRC32 over the
// payload bytes. dst must have exactly recordSize(len(payload)) bytes.
// This lets the journal gather many records into one contiguous write
// buffer with a single allocation instead of one syscall per record.
//
// Only target is written as the generation id, whatever generation the
// caller's Record was created under — so if the journal rolled over after
// the record was created but before it was written, the bytes on disk
// still reflect the generation active at write time.
func encodeInto(dst []byte, target Generation, payload []byte) {
	off := 0
	copy(dst[off:], recordPrefix)
	off += len(recordPrefix)

	copy(dst[off:], target[:])
	off += generationSize

	binary.BigEndian.PutUint32(dst[off:], uint32(len(payload)))
	off += lengthFieldSz

	// CRC32 field is patched below, once the payload has been copied in.
	crcOff := off
	off += crc32FieldSz

	copy(dst[off:], recordSuffix)
	off += len(recordSuffix)

	copy(dst[off:], payload)
	off += len(payload)

	copy(dst[off:], recordTrailerMark)
	off += len(recordTrailerMark)

	copy(dst[off:], target[:])

	checksum := crc32.ChecksumIEEE(payload)
	binary.BigEndian.PutUint32(dst[crcOff:], checksum)
}

// Encode serializes rec into a freshly allocated, exactly sized buffer,
// tagging the on-disk bytes with the generation id target regardless of
// what rec.generation currently holds. It returns the serialized bytes and
// updates rec's own generation/crc32/valid fields to match.
func Encode(rec *Record, target Generation) []byte {
	buf := make([]byte, recordSize(len(rec.payload)))
	encodeInto(buf, target, rec.payload)
	rec.generation = target
	rec.crc32 = crc32.ChecksumIEEE(rec.payload)
	rec.valid = true
	return buf
}
