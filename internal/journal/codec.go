package journal

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
)

// scanStatus is the tagged-sum-type replacement for the source's
// signed-integer status encoding (non-negative = length, negative =
// status ordinal). A proper enum is strictly clearer and changes no
// behavior.
type scanStatus int

const (
	// statusOk: a complete, CRC-checked-or-not record for expectedGen
	// was found. See scanResult.record.Valid() for whether its CRC
	// actually matched.
	statusOk scanStatus = iota
	// statusPartialRecord: a header matched but the buffer doesn't yet
	// hold the full record. Caller should compact and refill.
	statusPartialRecord
	// statusOtherGeneration: a complete, CRC-valid record was found but
	// belongs to a generation other than the one being scanned for.
	statusOtherGeneration
	// statusNoHeaderHere: no header at the current position.
	statusNoHeaderHere
	// statusNoHeaderInBuffer: the buffer was exhausted without finding a
	// header.
	statusNoHeaderInBuffer
)

// scanResult is the outcome of one scanNext call.
type scanResult struct {
	status   scanStatus
	record   *Record
	consumed int // bytes the caller should advance its scan position by
}

// scanNext looks for one record at the very start of source, tagged with
// expectedGen. It never searches forward past byte 0 itself — the caller
// (Scanner) advances its own position by result.consumed and calls again.
// provider, if non-nil, backs the payload buffer of any record returned
// with statusOk so that Record.Dispose() recycles it like any other
// buffer handed out by the provider.
//
// The algorithm uses the first bytes of PREFIX as a hook: if they don't
// match at all, nothing is here and the caller should advance by one byte
// (statusNoHeaderHere). Once PREFIX matches, header validation checks, in
// order: PREFIX fully present, LENGTH in [0, MaxRecordSize], SUFFIX
// present, at least length+trailer bytes remaining in the buffer,
// TRAILER_MARK present at the expected offset, and the closing generation
// id equal to the opening one. Only once all of those hold is the bytes
// run a candidate record.
//
// A candidate tagged with expectedGen is returned as-is (statusOk); its
// CRC32 is still computed and recorded on the Record so a caller scanning
// with include_invalid=false can filter out a candidate whose payload was
// corrupted without touching its framing. A candidate tagged with a
// different generation is only worth a fast skip: if its CRC verifies, it
// is live data from another cycle (statusOtherGeneration, skip past it
// without further work); if the CRC fails, the generation match was
// coincidental noise and the scanner resumes right after the candidate's
// PREFIX bytes rather than its entire (bogus) length.
func scanNext(source []byte, expectedGen Generation, provider BufferProvider) scanResult {
	prefixLen := len(recordPrefix)

	if len(source) == 0 {
		return scanResult{status: statusNoHeaderInBuffer}
	}

	availPrefix := prefixLen
	if len(source) < availPrefix {
		availPrefix = len(source)
	}
	if !bytes.Equal(source[:availPrefix], recordPrefix[:availPrefix]) {
		return scanResult{status: statusNoHeaderHere, consumed: 1}
	}
	if len(source) < recordHeaderSize {
		// The prefix matches as far as we can tell, but we don't yet have
		// enough bytes to validate the rest of the header.
		return scanResult{status: statusPartialRecord}
	}

	signedLength := int32(binary.BigEndian.Uint32(source[recordLengthOffset:]))
	if signedLength < 0 || int(signedLength) > MaxRecordSize {
		return scanResult{status: statusNoHeaderHere, consumed: 1}
	}
	length := int(signedLength)

	suffixOff := recordCRC32Offset + crc32FieldSz
	if !bytes.Equal(source[suffixOff:suffixOff+len(recordSuffix)], recordSuffix) {
		return scanResult{status: statusNoHeaderHere, consumed: 1}
	}

	total := recordHeaderSize + length + recordTrailerSize
	if len(source) < total {
		return scanResult{status: statusPartialRecord}
	}

	trailerMarkOff := recordHeaderSize + length
	if !bytes.Equal(source[trailerMarkOff:trailerMarkOff+len(recordTrailerMark)], recordTrailerMark) {
		return scanResult{status: statusNoHeaderHere, consumed: 1}
	}

	var openingGen Generation
	copy(openingGen[:], source[len(recordPrefix):len(recordPrefix)+generationSize])

	closingOff := trailerMarkOff + len(recordTrailerMark)
	if !bytes.Equal(openingGen[:], source[closingOff:closingOff+generationSize]) {
		return scanResult{status: statusNoHeaderHere, consumed: 1}
	}

	payload := source[recordHeaderSize : recordHeaderSize+length]
	storedCRC := binary.BigEndian.Uint32(source[recordCRC32Offset:])
	actualCRC := crc32.ChecksumIEEE(payload)
	crcValid := storedCRC == actualCRC

	if openingGen == expectedGen {
		rec := &Record{generation: openingGen, crc32: storedCRC, valid: crcValid, provider: provider}
		var payloadBuf []byte
		if provider != nil {
			payloadBuf = provider.Poll(length)[:length]
		} else {
			payloadBuf = make([]byte, length)
		}
		copy(payloadBuf, payload)
		rec.payload = payloadBuf
		return scanResult{status: statusOk, record: rec, consumed: total}
	}

	if crcValid {
		return scanResult{status: statusOtherGeneration, consumed: total}
	}
	return scanResult{status: statusNoHeaderHere, consumed: prefixLen}
}

// DecodeRecord strictly decodes a single record from buf, which must hold
// exactly one complete, well-framed record for expectedGen and nothing
// else. Unlike the tolerant Scanner (which skips corruption and foreign
// generations silently because it's built for forward-only recovery
// scanning), DecodeRecord is the lower-level entry point for a caller
// that already knows the exact byte range of one record — for example a
// repair tool re-validating a span findPositionAfterLastRecord pointed
// at — and wants an error instead of silent skipping when buf isn't
// exactly that.
//
// It returns ErrInvalidSource if buf is not framed as a record at all, is
// only a partial record, belongs to a different generation, or has
// trailing bytes after the record ends. A framed record for expectedGen
// whose CRC32 doesn't verify is still returned (with Record.Valid()
// false) rather than rejected, since corruption inside an otherwise
// well-framed record is a different condition than "not a record".
func DecodeRecord(buf []byte, expectedGen Generation, provider BufferProvider) (*Record, error) {
	res := scanNext(buf, expectedGen, provider)
	if res.status != statusOk {
		return nil, ErrInvalidSource
	}
	if res.consumed != len(buf) {
		return nil, ErrInvalidSource
	}
	return res.record, nil
}
