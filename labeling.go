package voroclust

import (
	"context"

	"github.com/RoaringBitmap/roaring/v2"
)

// Point labels.
const (
	NoiseLabel      = -1
	UnresolvedLabel = -2
)

// labelMode selects which spheres may hand out labels.
type labelMode int

const (
	// labelActive: only enabled spheres of active clusters label points,
	// and unresolved points go to the nearest such center.
	labelActive labelMode = iota
	// labelAllEnabled: every enabled sphere labels points, with -1 for an
	// inactive cluster, and unresolved points go to the nearest enabled center.
	labelAllEnabled
)

// sphereLabel returns the label sphere i gives its points and whether it
// is eligible to give one at all.
func sphereLabel(g *SphereGraph, i int, mode labelMode) (int, bool) {
	if !g.Enabled(i) {
		return 0, false
	}
	id := g.ClusterID(i)
	if g.IsActive(id) {
		return id, true
	}
	if mode == labelActive {
		return 0, false
	}
	return NoiseLabel, true
}

// assignLabels computes labels for n points. Interiors of eligible
// spheres are labeled in sphere order, so a point inside several spheres
// takes the label of the last one. Points left over take the label of the
// nearest eligible center, or noise when there is none.
func assignLabels(ctx context.Context, data []float64, n, dims int, spheres []Sphere, g *SphereGraph, mode labelMode, workers int) ([]int, error) {
	labels := make([]int, n)
	for i := range labels {
		labels[i] = UnresolvedLabel
	}

	var eligible []int
	for i := range spheres {
		label, ok := sphereLabel(g, i, mode)
		if !ok {
			continue
		}
		eligible = append(eligible, i)
		for _, p := range spheres[i].Interior {
			labels[p] = label
		}
	}

	unresolved := roaring.New()
	for p, l := range labels {
		if l == UnresolvedLabel {
			unresolved.Add(uint32(p))
		}
	}
	if unresolved.IsEmpty() {
		return labels, nil
	}
	if err := resolveNearest(ctx, data, dims, spheres, g, eligible, mode, unresolved, labels, workers); err != nil {
		return nil, err
	}
	return labels, nil
}

// resolveNearest labels every point in unresolved from its nearest
// eligible center. Each goroutine writes a disjoint set of points.
func resolveNearest(ctx context.Context, data []float64, dims int, spheres []Sphere, g *SphereGraph, eligible []int, mode labelMode, unresolved *roaring.Bitmap, labels []int, workers int) error {
	points := unresolved.ToArray()
	if len(eligible) == 0 {
		for _, p := range points {
			labels[p] = NoiseLabel
		}
		return nil
	}

	centers := make([]int, len(eligible))
	eligibleLabels := make([]int, len(eligible))
	for k, i := range eligible {
		centers[k] = spheres[i].Center
		eligibleLabels[k], _ = sphereLabel(g, i, mode)
	}
	tree := NewKDTreeFromPoints(gatherRows(data, dims, centers), len(centers), dims)

	return parallelRanges(ctx, len(points), workers, func(ctx context.Context, start, end int) error {
		for k := start; k < end; k++ {
			if k%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			p := int(points[k])
			nearest, _, ok := tree.Nearest(row(data, dims, p))
			if !ok {
				labels[p] = NoiseLabel
				continue
			}
			labels[p] = eligibleLabels[nearest]
		}
		return nil
	})
}
