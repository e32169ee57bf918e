package voroclust

import (
	"context"
	"slices"
	"sync"
)

const (
	// serialPrefix is the number of shuffled candidates examined on the
	// calling goroutine before the pool is used.
	serialPrefix = 100

	// pointsPerJob is the number of candidates one pool job validates.
	pointsPerJob = 100
)

// Sphere is a ball of the cover radius around a data point.
type Sphere struct {
	// Index is the position in the density-ordered sphere list.
	Index int
	// Center is the data index of the center point.
	Center int
	// Interior lists, ascending, the data indices strictly inside the sphere.
	Interior []int
}

// Count returns the number of interior points.
func (s *Sphere) Count() int { return len(s.Interior) }

// SphereCoverBuilder greedily picks centers from the data so that no two
// are closer than the radius, then collects each sphere's interior.
type SphereCoverBuilder struct {
	data    []float64
	n       int
	dims    int
	radius  float64
	r2      float64
	index   SpatialIndex // optional index over data
	workers int

	balanceFactor float64
	selected      []int   // result of the last SelectCenters
	centers       *KDTree // selected centers, logical index = position in selected
}

// NewSphereCoverBuilder borrows data (n rows of dims values). index may be
// nil, in which case interiors are found through the center tree.
func NewSphereCoverBuilder(data []float64, n, dims int, radius float64, index SpatialIndex, workers int) (*SphereCoverBuilder, error) {
	if !(radius > 0) {
		return nil, configError("radius must be > 0, got %v", radius)
	}
	if dims <= 0 {
		return nil, configError("dimensions must be > 0, got %d", dims)
	}
	if index != nil && (index.NumPoints() != n || index.NumFeatures() != dims) {
		return nil, configError("index holds %d x %d points, data is %d x %d",
			index.NumPoints(), index.NumFeatures(), n, dims)
	}
	return &SphereCoverBuilder{
		data:          data,
		n:             n,
		dims:          dims,
		radius:        radius,
		r2:            radius * radius,
		index:         index,
		workers:       max(workers, 1),
		balanceFactor: DefaultBalanceFactor,
	}, nil
}

// Shuffle returns the candidate order for SelectCenters.
func (b *SphereCoverBuilder) Shuffle(rs RandomStream) []int {
	return shuffleIndices(b.n, rs)
}

// SelectCenters walks candidates in order and accepts every point whose
// squared distance to all previously accepted centers is >= r^2. It
// returns the accepted data indices in acceptance order.
//
// The result depends only on the order and the worker count: candidates
// are validated in parallel batches against the centers committed so
// far, and the calling goroutine then commits survivors in order,
// re-checking each one against those committed earlier in the batch.
// The next batch is only a slice of order, so the caller does not prepare
// it while the workers run; it waits for the batch and then commits.
func (b *SphereCoverBuilder) SelectCenters(ctx context.Context, order []int) ([]int, error) {
	b.centers = NewKDTree(b.dims)
	var accepted []int

	prefix := len(order)
	if b.workers >= 2 {
		prefix = min(serialPrefix, len(order))
	}
	for _, p := range order[:prefix] {
		accepted = b.tryCommit(p, accepted)
	}
	b.centers.maybeRebalance(b.balanceFactor)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if prefix == len(order) {
		b.selected = accepted
		return accepted, nil
	}

	jobWorkers := b.workers - 1
	pool := NewTaskPool(jobWorkers)
	defer pool.Close()

	batchSize := jobWorkers * pointsPerJob
	valid := make([]bool, batchSize)
	for start := prefix; start < len(order); start += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch := order[start:min(start+batchSize, len(order))]
		for off := 0; off < len(batch); off += pointsPerJob {
			sub := batch[off:min(off+pointsPerJob, len(batch))]
			flags := valid[off : off+len(sub)]
			if err := pool.Submit(func() {
				for k, p := range sub {
					flags[k] = b.farFromCenters(p)
				}
			}); err != nil {
				return nil, err
			}
		}
		pool.Wait()

		for k, p := range batch {
			if valid[k] {
				accepted = b.tryCommit(p, accepted)
			}
		}
		b.centers.maybeRebalance(b.balanceFactor)
	}
	b.selected = accepted
	return accepted, nil
}

// farFromCenters reports whether point p is at least the radius away from
// every committed center.
func (b *SphereCoverBuilder) farFromCenters(p int) bool {
	pt := row(b.data, b.dims, p)
	idx, _, ok := b.centers.Nearest(pt)
	if !ok {
		return true
	}
	return squaredDistance(pt, b.centers.Point(idx)) >= b.r2
}

func (b *SphereCoverBuilder) tryCommit(p int, accepted []int) []int {
	if !b.farFromCenters(p) {
		return accepted
	}
	b.centers.Insert(row(b.data, b.dims, p))
	return append(accepted, p)
}

// CountInterior builds one sphere per center and fills its interior, then
// orders the spheres by descending interior count (stable) and numbers
// them.
func (b *SphereCoverBuilder) CountInterior(ctx context.Context, centers []int) ([]Sphere, error) {
	spheres := make([]Sphere, len(centers))
	for i, c := range centers {
		spheres[i] = Sphere{Index: i, Center: c}
	}

	var err error
	if b.index != nil {
		err = b.interiorFromTree(ctx, spheres)
	} else {
		err = b.interiorFromCenters(ctx, spheres, centers)
	}
	if err != nil {
		return nil, err
	}

	slices.SortStableFunc(spheres, func(a, c Sphere) int {
		return c.Count() - a.Count()
	})
	for i := range spheres {
		spheres[i].Index = i
	}
	return spheres, nil
}

func (b *SphereCoverBuilder) interiorFromTree(ctx context.Context, spheres []Sphere) error {
	return parallelRanges(ctx, len(spheres), b.workers, func(ctx context.Context, start, end int) error {
		for i := start; i < end; i++ {
			if i%1024 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			in := b.index.Range(row(b.data, b.dims, spheres[i].Center), b.radius)
			slices.Sort(in)
			spheres[i].Interior = in
		}
		return nil
	})
}

// interiorFromCenters is used without a data tree. It fans out over the
// points and range-queries a tree of the centers for the spheres that
// contain each one. Each sphere's interior is guarded by its own mutex.
func (b *SphereCoverBuilder) interiorFromCenters(ctx context.Context, spheres []Sphere, centers []int) error {
	if b.centers == nil || !slices.Equal(b.selected, centers) {
		b.centers = NewKDTreeFromPoints(gatherRows(b.data, b.dims, centers), len(centers), b.dims)
	}
	locks := make([]sync.Mutex, len(spheres))

	err := parallelRanges(ctx, b.n, b.workers, func(ctx context.Context, start, end int) error {
		for p := start; p < end; p++ {
			if p%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			for _, s := range b.centers.Range(row(b.data, b.dims, p), b.radius) {
				locks[s].Lock()
				spheres[s].Interior = append(spheres[s].Interior, p)
				locks[s].Unlock()
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for i := range spheres {
		slices.Sort(spheres[i].Interior)
	}
	return nil
}

// gatherRows copies the listed rows of data into a new flat slice.
func gatherRows(data []float64, dims int, idx []int) []float64 {
	out := make([]float64, 0, len(idx)*dims)
	for _, i := range idx {
		out = append(out, row(data, dims, i)...)
	}
	return out
}
