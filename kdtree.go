package voroclust

import (
	"math"
	"slices"
)

// DefaultBalanceFactor is the height multiplier used by InsertBatch
// callers that have no preference.
const DefaultBalanceFactor = 1.5

// noChild marks a missing child or an empty tree.
const noChild = -1

// KDTree is a point-per-node k-d tree over flat row-major data.
//
// Every inserted point is a node. The split dimension is depth mod dims,
// points strictly greater than a node on its split dimension go to the
// high child and everything else (ties included) to the low child.
//
// Points are addressed by their logical index, which is their insertion
// order. After RebuildBalanced the points are physically stored in
// pre-order for locality; two permutation arrays translate between the
// logical and physical positions.
type KDTree struct {
	dims   int
	n      int
	points []float64 // physical order, n * dims

	low  []int // physical index of the low child, or noChild
	high []int // physical index of the high child, or noChild

	origin int // physical index of the root, or noChild
	height int

	physToLogical []int
	logicalToPhys []int
}

// NewKDTree returns an empty tree for points of the given dimensionality.
func NewKDTree(dims int) *KDTree {
	return &KDTree{dims: dims, origin: noChild}
}

// NewKDTreeFromPoints copies n points from flat row-major data and builds
// a balanced tree over them. Logical index i is row i of data.
func NewKDTreeFromPoints(data []float64, n, dims int) *KDTree {
	t := &KDTree{
		dims:          dims,
		n:             n,
		points:        slices.Clone(data[:n*dims]),
		low:           make([]int, n),
		high:          make([]int, n),
		origin:        noChild,
		physToLogical: make([]int, n),
		logicalToPhys: make([]int, n),
	}
	for i := 0; i < n; i++ {
		t.physToLogical[i] = i
		t.logicalToPhys[i] = i
	}
	t.RebuildBalanced()
	return t
}

func (t *KDTree) NumPoints() int   { return t.n }
func (t *KDTree) NumFeatures() int { return t.dims }

// Height returns the number of nodes on the longest root-to-leaf path.
func (t *KDTree) Height() int { return t.height }

// Point returns a view of the point with logical index i.
func (t *KDTree) Point(i int) []float64 {
	return t.physical(t.logicalToPhys[i])
}

func (t *KDTree) physical(p int) []float64 {
	return t.points[p*t.dims : (p+1)*t.dims]
}

func (t *KDTree) coord(p, dim int) float64 {
	return t.points[p*t.dims+dim]
}

// Insert adds one point without rebalancing and returns its logical index.
func (t *KDTree) Insert(point []float64) int {
	idx := t.appendPoint(point)
	t.insertNode(idx)
	return idx
}

// InsertBatch adds rows of flat points and rebuilds the tree if its
// height exceeds balanceFactor * ceil(log2(n+1)). balanceFactor <= 0
// disables the rebuild. It returns the logical index of the first point.
func (t *KDTree) InsertBatch(points []float64, balanceFactor float64) int {
	first := t.n
	count := len(points) / t.dims
	for i := 0; i < count; i++ {
		t.insertNode(t.appendPoint(row(points, t.dims, i)))
	}
	t.maybeRebalance(balanceFactor)
	return first
}

// maybeRebalance rebuilds when the height exceeds the bound. Data with
// many tied coordinates can stay above it after a rebuild, in which case
// every call rebuilds again.
func (t *KDTree) maybeRebalance(balanceFactor float64) {
	if balanceFactor <= 0 || t.n == 0 {
		return
	}
	limit := balanceFactor * math.Ceil(math.Log2(float64(t.n)+1))
	if float64(t.height) > limit {
		t.RebuildBalanced()
	}
}

// appendPoint stores a new point at physical index n. The next logical
// index is always n, so both maps get the identity entry.
func (t *KDTree) appendPoint(point []float64) int {
	idx := t.n
	t.points = append(t.points, point[:t.dims]...)
	t.low = append(t.low, noChild)
	t.high = append(t.high, noChild)
	t.physToLogical = append(t.physToLogical, idx)
	t.logicalToPhys = append(t.logicalToPhys, idx)
	t.n++
	return idx
}

// insertNode links physical node p into the tree by plain descent.
func (t *KDTree) insertNode(p int) {
	if t.origin == noChild {
		t.origin = p
		t.height = 1
		return
	}

	parent := t.origin
	dim := 0
	depth := 1
	for {
		depth++
		if t.coord(p, dim) > t.coord(parent, dim) {
			if t.high[parent] == noChild {
				t.high[parent] = p
				break
			}
			parent = t.high[parent]
		} else {
			if t.low[parent] == noChild {
				t.low[parent] = p
				break
			}
			parent = t.low[parent]
		}
		dim++
		if dim == t.dims {
			dim = 0
		}
	}
	if depth > t.height {
		t.height = depth
	}
}

// RebuildBalanced rebuilds the tree from medians so that, whatever the
// insertion history, its height is O(log n) when the split coordinates
// are distinct. Medians are linked by plain insertion, which sends ties
// low, so repeated coordinates deepen the tree; n identical points form a
// chain of height n. Query results are unchanged.
func (t *KDTree) RebuildBalanced() {
	t.restoreInsertionOrder()

	for i := 0; i < t.n; i++ {
		t.low[i] = noChild
		t.high[i] = noChild
	}
	t.origin = noChild
	t.height = 0
	if t.n == 0 {
		return
	}

	order := make([]int, t.n)
	for i := range order {
		order[i] = i
	}
	t.balance(t.n/2, 0, t.n-1, 0, order)
	t.reorderPreOrder()
}

// balance places the median of order[left:right+1] on dim at target,
// inserts it, then recurses on the upper and lower halves with the next
// dimension.
func (t *KDTree) balance(target, left, right, dim int, order []int) {
	t.selectMedian(target, left, right, dim, order)
	t.insertNode(order[target])

	dim++
	if dim == t.dims {
		dim = 0
	}

	if target+1 < right {
		t.balance((target+1+right)/2, target+1, right, dim, order)
	} else if right > target {
		t.insertNode(order[right])
	}

	if target > left+1 {
		t.balance((left+target-1)/2, left, target-1, dim, order)
	} else if left < target {
		t.insertNode(order[left])
	}
}

// selectMedian is a Hoare-partition quickselect: afterwards order[target]
// holds the element of rank target-left on dim, with no greater element
// before it and no smaller one after it.
func (t *KDTree) selectMedian(target, left, right, dim int, order []int) {
	for left < right {
		i, j := left, right
		pivot := t.coord(order[(left+right)/2], dim)
		for i <= j {
			for t.coord(order[i], dim) < pivot {
				i++
			}
			for t.coord(order[j], dim) > pivot {
				j--
			}
			if i <= j {
				order[i], order[j] = order[j], order[i]
				i++
				j--
			}
		}
		switch {
		case target <= j:
			right = j
		case target >= i:
			left = i
		default:
			return
		}
	}
}

// restoreInsertionOrder moves every point back to physical == logical.
// Child links are left stale; callers rebuild them.
func (t *KDTree) restoreInsertionOrder() {
	points := make([]float64, len(t.points))
	for p := 0; p < t.n; p++ {
		l := t.physToLogical[p]
		copy(points[l*t.dims:(l+1)*t.dims], t.physical(p))
	}
	for i := 0; i < t.n; i++ {
		t.physToLogical[i] = i
		t.logicalToPhys[i] = i
	}
	t.points = points
}

// reorderPreOrder stores the nodes in root, high, low pre-order.
// It assumes physical == logical on entry.
func (t *KDTree) reorderPreOrder() {
	order := t.preOrder()
	for p, l := range order {
		t.physToLogical[p] = l
		t.logicalToPhys[l] = p
	}

	points := make([]float64, len(t.points))
	low := make([]int, t.n)
	high := make([]int, t.n)
	for p, old := range order {
		copy(points[p*t.dims:(p+1)*t.dims], t.physical(old))
		low[p] = t.remap(t.low[old])
		high[p] = t.remap(t.high[old])
	}
	t.origin = t.logicalToPhys[t.origin]
	t.points, t.low, t.high = points, low, high
}

func (t *KDTree) remap(child int) int {
	if child == noChild {
		return noChild
	}
	return t.logicalToPhys[child]
}

func (t *KDTree) preOrder() []int {
	order := make([]int, 0, t.n)
	stack := []int{t.origin}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, node)
		// Low is pushed first so high is visited first.
		if t.low[node] != noChild {
			stack = append(stack, t.low[node])
		}
		if t.high[node] != noChild {
			stack = append(stack, t.high[node])
		}
	}
	return order
}

// Nearest returns the logical index of the point closest to query and
// its Euclidean distance. ok is false when the tree is empty. Ties keep
// the first point found.
func (t *KDTree) Nearest(query []float64) (index int, dist float64, ok bool) {
	if t.origin == noChild {
		return -1, math.Inf(1), false
	}
	best := noChild
	bestSq := math.Inf(1)
	t.nearest(t.origin, 0, query, &best, &bestSq)
	if best == noChild {
		// Only reachable with NaN coordinates in the query.
		return -1, math.Inf(1), false
	}
	return t.physToLogical[best], math.Sqrt(bestSq), true
}

func (t *KDTree) nearest(node, dim int, query []float64, best *int, bestSq *float64) {
	if d := squaredDistance(query, t.physical(node)); d < *bestSq {
		*best = node
		*bestSq = d
	}

	diff := query[dim] - t.coord(node, dim)
	near, far := t.low[node], t.high[node]
	if diff > 0 {
		near, far = far, near
	}

	next := dim + 1
	if next == t.dims {
		next = 0
	}
	if near != noChild {
		t.nearest(near, next, query, best, bestSq)
	}
	if far != noChild && diff*diff < *bestSq {
		t.nearest(far, next, query, best, bestSq)
	}
}

// Range returns the logical indices of all points whose squared distance
// to query is strictly less than radius*radius, in traversal order.
func (t *KDTree) Range(query []float64, radius float64) []int {
	if t.origin == noChild {
		return nil
	}
	var out []int
	t.rangeSearch(t.origin, 0, query, radius, radius*radius, &out)
	return out
}

func (t *KDTree) rangeSearch(node, dim int, query []float64, r, r2 float64, out *[]int) {
	if squaredDistance(t.physical(node), query) < r2 {
		*out = append(*out, t.physToLogical[node])
	}

	split := t.coord(node, dim)
	next := dim + 1
	if next == t.dims {
		next = 0
	}
	if t.high[node] != noChild && query[dim]+r > split {
		t.rangeSearch(t.high[node], next, query, r, r2, out)
	}
	if t.low[node] != noChild && query[dim]-r < split {
		t.rangeSearch(t.low[node], next, query, r, r2, out)
	}
}
