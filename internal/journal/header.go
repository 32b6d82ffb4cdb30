package journal

import (
	"bytes"
	"fmt"
	"os"
)

// writeHeader serializes the file header — magic banner, previous and
// current generation ids, zero-padded to FixedHeaderSize — and writes it
// at offset 0.
func writeHeader(f *os.File, previous, current Generation) error {
	buf := make([]byte, FixedHeaderSize)
	copy(buf[:magicFieldSize], []byte(magicBanner))
	copy(buf[previousGenOffset:previousGenOffset+generationSize], previous[:])
	copy(buf[currentGenOffset:currentGenOffset+generationSize], current[:])
	if _, err := f.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("journal: write header: %w", err)
	}
	return nil
}

// readHeader reads and validates the file header at offset 0, returning
// the previous and current generation ids it finds.
func readHeader(f *os.File) (previous, current Generation, err error) {
	buf := make([]byte, FixedHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		return Generation{}, Generation{}, fmt.Errorf("journal: read header: %w", err)
	}

	magic := bytes.TrimRight(buf[:magicFieldSize], "\x00")
	if string(magic) != magicBanner {
		return Generation{}, Generation{}, ErrBadMagic
	}

	copy(previous[:], buf[previousGenOffset:previousGenOffset+generationSize])
	copy(current[:], buf[currentGenOffset:currentGenOffset+generationSize])
	return previous, current, nil
}
