package dataio

import (
	"encoding/binary"
	"errors"
	"io"
)

// readChunk is the number of values decoded per read.
const readChunk = 1 << 16

// ReadFloat64s decodes count little-endian float64 values from r.
func ReadFloat64s(r io.Reader, count int) ([]float64, error) {
	return readValues[float64](r, count)
}

// ReadUint64s decodes count little-endian uint64 values from r.
func ReadUint64s(r io.Reader, count int) ([]uint64, error) {
	return readValues[uint64](r, count)
}

// readValues grows its result with the bytes actually read, so a count
// taken from a corrupt header ends in io.ErrUnexpectedEOF rather than an
// allocation of that size.
func readValues[T float64 | uint64](r io.Reader, count int) ([]T, error) {
	out := make([]T, 0, min(count, readChunk))
	buf := make([]T, min(count, readChunk))
	for len(out) < count {
		chunk := buf[:min(count-len(out), readChunk)]
		if err := binary.Read(r, binary.LittleEndian, chunk); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}
