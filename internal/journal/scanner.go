package journal

import "io"

// scanRefillSize is how many bytes the scanner pulls from its source in
// one read when it needs more data. It is not a bound on record size —
// the working buffer grows as needed to hold a record spanning several
// refills.
const scanRefillSize = 64 * 1024

// Scanner produces a lazy sequence of records from a file region, for one
// generation id, tolerating partial and corrupt data along the way. It
// never returns an error: corruption is skipped, not raised, per the
// journal's propagation policy (writers must know about IO trouble,
// recovery scans must be able to skip damage without aborting).
type Scanner struct {
	src            io.ReaderAt
	pos            int64 // absolute offset just past the last record yielded (or the scan start, before the first)
	readCursor     int64 // absolute offset of the next unread byte from src
	end            int64 // exclusive end offset, snapshotted at construction
	expectedGen    Generation
	includeInvalid bool
	provider       BufferProvider
	buf            []byte
}

// newScanner returns a Scanner over the half-open byte range [start, end)
// of src, yielding only records tagged with gen. includeInvalid controls
// whether records whose CRC32 didn't verify are still yielded (with
// Record.Valid() == false) or silently dropped.
func newScanner(src io.ReaderAt, start, end int64, gen Generation, includeInvalid bool, provider BufferProvider) *Scanner {
	if provider == nil {
		provider = AllocatingProvider{}
	}
	return &Scanner{
		src:            src,
		pos:            start,
		readCursor:     start,
		end:            end,
		expectedGen:    gen,
		includeInvalid: includeInvalid,
		provider:       provider,
	}
}

// Pos returns the absolute file offset just past the last record yielded
// so far (or the scan's start offset, before the first call to Next).
func (s *Scanner) Pos() int64 { return s.pos }

// refill pulls up to scanRefillSize more bytes from src into the working
// buffer. It reports whether any bytes were read.
func (s *Scanner) refill() bool {
	if s.readCursor >= s.end {
		return false
	}
	want := int64(scanRefillSize)
	if remaining := s.end - s.readCursor; remaining < want {
		want = remaining
	}
	chunk := s.provider.Poll(int(want))[:want]
	defer s.provider.Recycle(chunk)
	n, err := s.src.ReadAt(chunk, s.readCursor)
	if n > 0 {
		s.buf = append(s.buf, chunk[:n]...)
		s.readCursor += int64(n)
	}
	if err != nil && err != io.EOF {
		// The scanner never surfaces IO errors (see package doc); treat
		// an unexpected read failure as end-of-data for this pass.
		s.readCursor = s.end
	}
	return n > 0
}

// Next advances the scan and returns the next matching record, or
// (nil, false) once the region is exhausted.
func (s *Scanner) Next() (*Record, bool) {
	for {
		res := scanNext(s.buf, s.expectedGen, s.provider)
		switch res.status {
		case statusOk:
			s.buf = s.buf[res.consumed:]
			s.pos += int64(res.consumed)
			if !s.includeInvalid && !res.record.Valid() {
				continue
			}
			return res.record, true
		case statusOtherGeneration, statusNoHeaderHere:
			s.buf = s.buf[res.consumed:]
			s.pos += int64(res.consumed)
			continue
		case statusPartialRecord, statusNoHeaderInBuffer:
			if !s.refill() {
				return nil, false
			}
			continue
		}
	}
}

// findPositionAfterLastRecord scans [recordAreaStart, recordAreaEnd) for
// records tagged with gen and returns the offset just past the last one
// found, used to discover the append point when a journal is opened. If
// none are found it returns recordAreaStart.
func findPositionAfterLastRecord(src io.ReaderAt, recordAreaStart, recordAreaEnd int64, gen Generation, provider BufferProvider) int64 {
	sc := newScanner(src, recordAreaStart, recordAreaEnd, gen, true, provider)
	last := recordAreaStart
	for {
		rec, ok := sc.Next()
		if !ok {
			break
		}
		last = sc.Pos()
		rec.Dispose()
	}
	return last
}
