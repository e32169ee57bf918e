package dataio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression suffixes recognized by OpenReader and CreateWriter. The
// suffix goes after the format extension, e.g. "tree.bin.zst".
const (
	SuffixZstd = ".zst"
	SuffixLZ4  = ".lz4"
)

const bufferSize = 1 << 20

// BaseExt returns the format extension of path with any compression
// suffix stripped: "points.csv.zst" gives ".csv".
func BaseExt(path string) string {
	p := strings.ToLower(path)
	p = strings.TrimSuffix(p, SuffixZstd)
	p = strings.TrimSuffix(p, SuffixLZ4)
	return filepath.Ext(p)
}

type readCloser struct {
	io.Reader
	closers []func() error
}

func (r *readCloser) Close() error {
	var errs []error
	for _, c := range r.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// OpenReader opens path for buffered reading, decompressing on the fly
// when the name ends in .zst or .lz4.
func OpenReader(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewReaderSize(f, bufferSize)

	switch strings.ToLower(filepath.Ext(path)) {
	case SuffixZstd:
		dec, err := zstd.NewReader(buf)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create zstd reader: %w", err)
		}
		return &readCloser{Reader: dec, closers: []func() error{
			func() error { dec.Close(); return nil },
			f.Close,
		}}, nil
	case SuffixLZ4:
		return &readCloser{Reader: lz4.NewReader(buf), closers: []func() error{f.Close}}, nil
	default:
		return &readCloser{Reader: buf, closers: []func() error{f.Close}}, nil
	}
}

type writeCloser struct {
	io.Writer
	closers []func() error
}

// Close flushes every layer in order and stops at the first failure.
func (w *writeCloser) Close() error {
	for i, c := range w.closers {
		if err := c(); err != nil {
			for _, rest := range w.closers[i+1:] {
				rest()
			}
			return err
		}
	}
	return nil
}

// CreateWriter creates (or truncates) path for buffered writing,
// compressing when the name ends in .zst or .lz4. Close must be called
// to flush.
func CreateWriter(path string) (io.WriteCloser, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	buf := bufio.NewWriterSize(f, bufferSize)

	switch strings.ToLower(filepath.Ext(path)) {
	case SuffixZstd:
		enc, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		return &writeCloser{Writer: enc, closers: []func() error{enc.Close, buf.Flush, f.Close}}, nil
	case SuffixLZ4:
		zw := lz4.NewWriter(buf)
		return &writeCloser{Writer: zw, closers: []func() error{zw.Close, buf.Flush, f.Close}}, nil
	default:
		return &writeCloser{Writer: buf, closers: []func() error{buf.Flush, f.Close}}, nil
	}
}
