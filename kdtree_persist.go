package voroclust

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/TrevorS/voroclust/internal/dataio"
)

// emptyOrigin is the on-disk origin of a tree without points.
const emptyOrigin = math.MaxUint64

// maxPersistedValue bounds header sizes read back from disk so that
// num_points * num_dims cannot overflow.
const maxPersistedValue = 1 << 40

// WriteTo serializes the tree in little-endian fixed-width form: the
// header (num_points, num_dims, num_features, origin, height), the points
// in physical order, then the low and high child arrays and the
// physical->logical and logical->physical maps. A node without a child on
// one side references itself.
func (t *KDTree) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	origin := uint64(emptyOrigin)
	if t.origin != noChild {
		origin = uint64(t.origin)
	}
	header := [5]uint64{uint64(t.n), uint64(t.dims), uint64(t.dims), origin, uint64(t.height)}
	if err := binary.Write(cw, binary.LittleEndian, header[:]); err != nil {
		return cw.n, fmt.Errorf("voroclust: write tree header: %w", err)
	}
	if err := binary.Write(cw, binary.LittleEndian, t.points[:t.n*t.dims]); err != nil {
		return cw.n, fmt.Errorf("voroclust: write tree points: %w", err)
	}

	buf := make([]uint64, t.n)
	for _, arr := range [][]int{t.low, t.high, t.physToLogical, t.logicalToPhys} {
		for i := 0; i < t.n; i++ {
			v := arr[i]
			if v == noChild {
				v = i
			}
			buf[i] = uint64(v)
		}
		if err := binary.Write(cw, binary.LittleEndian, buf); err != nil {
			return cw.n, fmt.Errorf("voroclust: write tree links: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return cw.n, fmt.Errorf("voroclust: write tree: %w", err)
	}
	return cw.n, nil
}

// SaveFile writes the tree to path, compressed when the name ends in
// .zst or .lz4.
func (t *KDTree) SaveFile(path string) error {
	w, err := dataio.CreateWriter(path)
	if err != nil {
		return fmt.Errorf("voroclust: create tree file: %w", err)
	}
	if _, err := t.WriteTo(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("voroclust: close tree file: %w", err)
	}
	return nil
}

// ReadKDTree decodes a tree written by WriteTo. Truncated input yields an
// error wrapping io.ErrUnexpectedEOF; inconsistent contents an
// *ErrCorruptFile.
func ReadKDTree(r io.Reader) (*KDTree, error) {
	br := bufio.NewReader(r)

	var header [5]uint64
	if err := readFull(br, header[:]); err != nil {
		return nil, fmt.Errorf("voroclust: read tree header: %w", err)
	}
	n64, dims64, features, origin64, height64 := header[0], header[1], header[2], header[3], header[4]
	switch {
	case n64 > maxPersistedValue || dims64 > maxPersistedValue || (n64 > 0 && dims64 > maxPersistedValue/n64):
		return nil, corruptTree("implausible size %d x %d", n64, dims64)
	case dims64 == 0:
		return nil, corruptTree("zero dimensions")
	case features != dims64:
		return nil, corruptTree("num_features %d != num_dims %d", features, dims64)
	case height64 > n64:
		return nil, corruptTree("height %d exceeds %d points", height64, n64)
	case n64 == 0 && origin64 != emptyOrigin:
		return nil, corruptTree("empty tree with origin %d", origin64)
	case n64 > 0 && origin64 >= n64:
		return nil, corruptTree("origin %d out of range", origin64)
	}

	n, dims := int(n64), int(dims64)
	t := &KDTree{
		dims:   dims,
		n:      n,
		origin: noChild,
		height: int(height64),
	}
	if n > 0 {
		t.origin = int(origin64)
	}
	points, err := dataio.ReadFloat64s(br, n*dims)
	if err != nil {
		return nil, fmt.Errorf("voroclust: read tree points: %w", err)
	}
	t.points = points

	readLinks := func(name string, self bool) ([]int, error) {
		raw, err := dataio.ReadUint64s(br, n)
		if err != nil {
			return nil, fmt.Errorf("voroclust: read tree %s: %w", name, err)
		}
		out := make([]int, n)
		for i, v := range raw {
			if v >= n64 {
				return nil, corruptTree("%s[%d] = %d out of range", name, i, v)
			}
			out[i] = int(v)
			if self && out[i] == i {
				out[i] = noChild
			}
		}
		return out, nil
	}

	if t.low, err = readLinks("left", true); err != nil {
		return nil, err
	}
	if t.high, err = readLinks("right", true); err != nil {
		return nil, err
	}
	if t.physToLogical, err = readLinks("old", false); err != nil {
		return nil, err
	}
	if t.logicalToPhys, err = readLinks("new", false); err != nil {
		return nil, err
	}
	for p, l := range t.physToLogical {
		if t.logicalToPhys[l] != p {
			return nil, corruptTree("index maps disagree at %d", p)
		}
	}
	if err := t.checkShape(); err != nil {
		return nil, err
	}
	return t, nil
}

// checkShape walks the child links from the root and requires every node
// to be reached exactly once, with the deepest path matching the stored
// height.
func (t *KDTree) checkShape() error {
	if t.n == 0 {
		return nil
	}
	type frame struct{ node, depth int }
	seen := make([]bool, t.n)
	stack := []frame{{t.origin, 1}}
	reached, height := 0, 0
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[f.node] {
			return corruptTree("node %d reached twice", f.node)
		}
		seen[f.node] = true
		reached++
		height = max(height, f.depth)
		for _, c := range [2]int{t.low[f.node], t.high[f.node]} {
			if c != noChild {
				stack = append(stack, frame{c, f.depth + 1})
			}
		}
	}
	if reached != t.n {
		return corruptTree("%d of %d nodes reachable from origin", reached, t.n)
	}
	if height != t.height {
		return corruptTree("height %d, stored %d", height, t.height)
	}
	return nil
}

// LoadKDTreeFile reads a tree file written by SaveFile.
func LoadKDTreeFile(path string) (*KDTree, error) {
	r, err := dataio.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("voroclust: open tree file: %w", err)
	}
	defer r.Close()
	return ReadKDTree(r)
}

// WriteCSV dumps the points in logical order, one per line.
func (t *KDTree) WriteCSV(w io.Writer) error {
	bw := bufio.NewWriter(w)
	var buf []byte
	for i := 0; i < t.n; i++ {
		buf = buf[:0]
		for d, v := range t.Point(i) {
			if d > 0 {
				buf = append(buf, ',')
			}
			buf = strconv.AppendFloat(buf, v, 'g', -1, 64)
		}
		buf = append(buf, '\n')
		if _, err := bw.Write(buf); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func corruptTree(format string, args ...any) error {
	return &ErrCorruptFile{Kind: "tree", Reason: fmt.Sprintf(format, args...)}
}

// readFull reads a fixed-size value, turning a clean EOF part way through
// a file into io.ErrUnexpectedEOF.
func readFull(r io.Reader, data any) error {
	err := binary.Read(r, binary.LittleEndian, data)
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
