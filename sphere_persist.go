package voroclust

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/TrevorS/voroclust/internal/dataio"
)

// WriteSpheres serializes spheres as num_spheres followed by, per sphere,
// sphere_index, center_point_index, count and the interior indices. All
// values are little-endian uint64.
func WriteSpheres(w io.Writer, spheres []Sphere) error {
	bw := bufio.NewWriter(w)
	if err := binary.Write(bw, binary.LittleEndian, uint64(len(spheres))); err != nil {
		return fmt.Errorf("voroclust: write sphere count: %w", err)
	}
	var buf []uint64
	for i := range spheres {
		s := &spheres[i]
		buf = append(buf[:0], uint64(s.Index), uint64(s.Center), uint64(s.Count()))
		for _, p := range s.Interior {
			buf = append(buf, uint64(p))
		}
		if err := binary.Write(bw, binary.LittleEndian, buf); err != nil {
			return fmt.Errorf("voroclust: write sphere %d: %w", i, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("voroclust: write spheres: %w", err)
	}
	return nil
}

// ReadSpheres decodes a sphere file for a data set of n points. Every
// sphere must carry its own position as index and every point index must
// be below n.
func ReadSpheres(r io.Reader, n int) ([]Sphere, error) {
	br := bufio.NewReader(r)

	var num uint64
	if err := readFull(br, &num); err != nil {
		return nil, fmt.Errorf("voroclust: read sphere count: %w", err)
	}
	if num > uint64(n) {
		return nil, corruptSpheres("%d spheres for %d points", num, n)
	}

	spheres := make([]Sphere, num)
	var head [3]uint64
	for i := range spheres {
		if err := readFull(br, head[:]); err != nil {
			return nil, fmt.Errorf("voroclust: read sphere %d: %w", i, err)
		}
		index, center, count := head[0], head[1], head[2]
		switch {
		case index != uint64(i):
			return nil, corruptSpheres("sphere %d has index %d", i, index)
		case center >= uint64(n):
			return nil, corruptSpheres("sphere %d center %d out of range", i, center)
		case count > uint64(n):
			return nil, corruptSpheres("sphere %d count %d exceeds %d points", i, count, n)
		}

		raw, err := dataio.ReadUint64s(br, int(count))
		if err != nil {
			return nil, fmt.Errorf("voroclust: read sphere %d interior: %w", i, err)
		}
		interior := make([]int, count)
		for k, p := range raw {
			if p >= uint64(n) {
				return nil, corruptSpheres("sphere %d interior point %d out of range", i, p)
			}
			interior[k] = int(p)
		}
		spheres[i] = Sphere{Index: i, Center: int(center), Interior: interior}
	}
	return spheres, nil
}

func corruptSpheres(format string, args ...any) error {
	return &ErrCorruptFile{Kind: "sphere", Reason: fmt.Sprintf(format, args...)}
}
