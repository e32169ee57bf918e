// Package dataio reads and writes raw point data and label files.
//
// Points are flat row-major []float64. Two on-disk formats exist: CSV
// with one point per line and no header, and a little-endian binary
// layout of two uint64 values (num_points, num_dims) followed by the
// float64 buffer. Either may carry a .zst or .lz4 compression suffix.
package dataio

import (
	"encoding/binary"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrUnsupportedFormat is returned for files that are neither .csv nor .bin.
	ErrUnsupportedFormat = errors.New("dataio: data file must be .csv or .bin")

	// ErrNoData is returned for a CSV file without any rows.
	ErrNoData = errors.New("dataio: no data rows")
)

// maxHeaderValue bounds num_points and num_dims read from a binary
// header so their product cannot overflow. Allocation follows the bytes
// actually present, not the header.
const maxHeaderValue = 1 << 40

// Load reads a .csv or .bin data file, dispatching on extension.
func Load(path string) (data []float64, n, dims int, err error) {
	switch BaseExt(path) {
	case ".csv":
		return LoadCSV(path)
	case ".bin":
		return LoadBinary(path)
	default:
		return nil, 0, 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

// LoadCSV reads comma-separated points. The first row fixes the
// dimensionality; extra columns on later rows are ignored and short rows
// are an error.
func LoadCSV(path string) (data []float64, n, dims int, err error) {
	rc, err := OpenReader(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("dataio: open %s: %w", path, err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.ReuseRecord = true

	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, 0, fmt.Errorf("dataio: read %s: %w", path, err)
		}
		if n == 0 {
			dims = len(rec)
		}
		if len(rec) < dims {
			return nil, 0, 0, fmt.Errorf("dataio: %s line %d: got %d values, want %d", path, line, len(rec), dims)
		}
		for _, field := range rec[:dims] {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, 0, 0, fmt.Errorf("dataio: %s line %d: %w", path, line, err)
			}
			data = append(data, v)
		}
		n++
	}
	if n == 0 {
		return nil, 0, 0, fmt.Errorf("%w: %s", ErrNoData, path)
	}
	return data, n, dims, nil
}

// LoadBinary reads the raw binary layout.
func LoadBinary(path string) (data []float64, n, dims int, err error) {
	rc, err := OpenReader(path)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("dataio: open %s: %w", path, err)
	}
	defer rc.Close()
	return ReadBinary(rc)
}

// ReadBinary decodes the raw binary layout from r.
func ReadBinary(r io.Reader) (data []float64, n, dims int, err error) {
	var header [2]uint64
	if err := binary.Read(r, binary.LittleEndian, header[:]); err != nil {
		return nil, 0, 0, fmt.Errorf("dataio: read header: %w", err)
	}
	if header[0] > maxHeaderValue || header[1] > maxHeaderValue || (header[0] > 0 && header[1] > maxHeaderValue/header[0]) {
		return nil, 0, 0, fmt.Errorf("dataio: implausible header %d x %d", header[0], header[1])
	}
	n, dims = int(header[0]), int(header[1])
	data, err = ReadFloat64s(r, n*dims)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("dataio: read points: %w", err)
	}
	return data, n, dims, nil
}

// WriteBinary writes n points of dims values in the raw binary layout.
func WriteBinary(path string, data []float64, n, dims int) error {
	wc, err := CreateWriter(path)
	if err != nil {
		return fmt.Errorf("dataio: create %s: %w", path, err)
	}
	if err := EncodeBinary(wc, data, n, dims); err != nil {
		wc.Close()
		return err
	}
	return wc.Close()
}

// EncodeBinary writes the raw binary layout to w.
func EncodeBinary(w io.Writer, data []float64, n, dims int) error {
	if len(data) < n*dims {
		return fmt.Errorf("dataio: have %d values, need %d", len(data), n*dims)
	}
	if err := binary.Write(w, binary.LittleEndian, [2]uint64{uint64(n), uint64(dims)}); err != nil {
		return fmt.Errorf("dataio: write header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, data[:n*dims]); err != nil {
		return fmt.Errorf("dataio: write points: %w", err)
	}
	return nil
}

// WriteCSV writes n points as CSV rows.
func WriteCSV(path string, data []float64, n, dims int) error {
	wc, err := CreateWriter(path)
	if err != nil {
		return fmt.Errorf("dataio: create %s: %w", path, err)
	}
	w := csv.NewWriter(wc)
	rec := make([]string, dims)
	for i := 0; i < n; i++ {
		for j := 0; j < dims; j++ {
			rec[j] = strconv.FormatFloat(data[i*dims+j], 'g', -1, 64)
		}
		if err := w.Write(rec); err != nil {
			wc.Close()
			return fmt.Errorf("dataio: write %s: %w", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		wc.Close()
		return fmt.Errorf("dataio: write %s: %w", path, err)
	}
	return wc.Close()
}

// ConvertCSVToBinary loads a CSV data file and writes it in the binary layout.
func ConvertCSVToBinary(csvPath, binPath string) (n, dims int, err error) {
	data, n, dims, err := LoadCSV(csvPath)
	if err != nil {
		return 0, 0, err
	}
	return n, dims, WriteBinary(binPath, data, n, dims)
}

// LabelsFileName is the name WriteLabels uses for the given parameters.
func LabelsFileName(radius, detailCeiling, descentLimit float64) string {
	return fmt.Sprintf("data_labels_%f_%f_%f.csv", radius, detailCeiling, descentLimit)
}

// WriteLabels writes one label per line into folder and returns the path.
func WriteLabels(folder string, radius, detailCeiling, descentLimit float64, labels []int) (string, error) {
	path := filepath.Join(folder, LabelsFileName(radius, detailCeiling, descentLimit))
	wc, err := CreateWriter(path)
	if err != nil {
		return "", fmt.Errorf("dataio: create %s: %w", path, err)
	}
	buf := make([]byte, 0, 16)
	for _, l := range labels {
		buf = strconv.AppendInt(buf[:0], int64(l), 10)
		buf = append(buf, '\n')
		if _, err := wc.Write(buf); err != nil {
			wc.Close()
			return "", fmt.Errorf("dataio: write %s: %w", path, err)
		}
	}
	return path, wc.Close()
}
