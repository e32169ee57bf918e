package voroclust

import (
	"context"
	"fmt"
	"math"
	"slices"
)

// riseTolerance is how much denser than a node a neighbor must be to
// count as rising ground during propagation.
const riseTolerance = 1.01

type sphereNode struct {
	neighbors []int
	visited   bool
	enabled   bool
	clusterID int
}

// SphereGraph connects spheres whose centers are closer than twice the
// radius and assigns cluster ids to them by density-ordered flood fill.
//
// Node i corresponds to sphere i of the cover. A node can be disabled,
// which marks it a border sphere: it keeps the cluster id of the pass that
// visited it but never labels points directly.
type SphereGraph struct {
	nodes []sphereNode

	clusterSizes []int // interior point sum per recorded cluster
	active       []bool

	violations int
	logger     *Logger
}

// NewSphereGraph returns an empty graph. A nil logger discards output.
func NewSphereGraph(logger *Logger) *SphereGraph {
	if logger == nil {
		logger = NoopLogger()
	}
	return &SphereGraph{logger: logger}
}

// AddNode appends an unconnected node and returns its index.
func (g *SphereGraph) AddNode() int {
	g.nodes = append(g.nodes, sphereNode{enabled: true, clusterID: -1})
	return len(g.nodes) - 1
}

// Connect adds an undirected edge. Self loops and repeated edges are ignored.
func (g *SphereGraph) Connect(i, j int) {
	if i == j {
		return
	}
	if !slices.Contains(g.nodes[i].neighbors, j) {
		g.nodes[i].neighbors = append(g.nodes[i].neighbors, j)
	}
	if !slices.Contains(g.nodes[j].neighbors, i) {
		g.nodes[j].neighbors = append(g.nodes[j].neighbors, i)
	}
}

// Connected reports whether j is a neighbor of i.
func (g *SphereGraph) Connected(i, j int) bool {
	return slices.Contains(g.nodes[i].neighbors, j)
}

// Components returns the number of connected components. Propagation
// never produces fewer clusters than this unless a component has no
// enabled node.
func (g *SphereGraph) Components() int {
	uf := newUnionFind(len(g.nodes))
	for i := range g.nodes {
		for _, j := range g.nodes[i].neighbors {
			uf.Union(i, j)
		}
	}
	return uf.Sets()
}

// BuildSphereGraph adds one node per sphere and connects every pair of
// centers with squared distance < 4r^2. Neighbor lists come out ascending.
func BuildSphereGraph(ctx context.Context, data []float64, dims int, spheres []Sphere, radius float64, workers int, logger *Logger) (*SphereGraph, error) {
	g := NewSphereGraph(logger)
	g.nodes = make([]sphereNode, len(spheres))
	for i := range g.nodes {
		g.nodes[i] = sphereNode{enabled: true, clusterID: -1}
	}
	if len(spheres) == 0 {
		return g, nil
	}

	centers := make([]int, len(spheres))
	for i := range spheres {
		centers[i] = spheres[i].Center
	}
	tree := NewKDTreeFromPoints(gatherRows(data, dims, centers), len(centers), dims)

	err := parallelRanges(ctx, len(spheres), workers, func(ctx context.Context, start, end int) error {
		for i := start; i < end; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			near := tree.Range(tree.Point(i), 2*radius)
			near = slices.DeleteFunc(near, func(j int) bool { return j == i })
			slices.Sort(near)
			g.nodes[i].neighbors = near
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Propagate assigns cluster ids by flood fill in sphere order, which is
// descending density.
//
// Each pass starts at the densest unvisited node and repeatedly expands
// the densest frontier node. A node is disabled when its count falls
// below descentLimit times the pass maximum, or when it is below
// detailCeiling times the maximum and an unvisited neighbor is more than
// 1% denser. Only enabled nodes grow the frontier. A pass without any
// enabled node is dropped and its id reused.
func (g *SphereGraph) Propagate(spheres []Sphere, detailCeiling, descentLimit float64) {
	for i := range g.nodes {
		g.nodes[i].visited = false
		g.nodes[i].enabled = true
		g.nodes[i].clusterID = -1
	}
	g.clusterSizes = g.clusterSizes[:0]
	g.active = g.active[:0]
	g.violations = 0

	cluster := 0
	var frontier []int
	for start := range g.nodes {
		if g.nodes[start].visited {
			continue
		}
		g.nodes[start].visited = true
		frontier = append(frontier[:0], start)
		maxCount := float64(spheres[start].Count())
		enabledNodes, pointSum := 0, 0

		for len(frontier) > 0 {
			best := 0
			for k := 1; k < len(frontier); k++ {
				if spheres[frontier[k]].Count() > spheres[frontier[best]].Count() {
					best = k
				}
			}
			id := frontier[best]
			frontier[best] = frontier[len(frontier)-1]
			frontier = frontier[:len(frontier)-1]

			node := &g.nodes[id]
			node.clusterID = cluster
			count := float64(spheres[id].Count())

			if count < descentLimit*maxCount {
				node.enabled = false
			} else {
				for _, nb := range node.neighbors {
					other := &g.nodes[nb]
					if other.visited {
						if other.enabled && other.clusterID >= 0 && other.clusterID != cluster {
							g.violations++
							g.logger.LogViolation(id, nb, cluster, other.clusterID)
						}
						continue
					}
					if count < detailCeiling*maxCount && float64(spheres[nb].Count()) > riseTolerance*count {
						node.enabled = false
						break
					}
				}
			}
			if !node.enabled {
				continue
			}

			enabledNodes++
			pointSum += spheres[id].Count()
			for _, nb := range node.neighbors {
				if !g.nodes[nb].visited {
					g.nodes[nb].visited = true
					frontier = append(frontier, nb)
				}
			}
		}

		if enabledNodes > 0 {
			g.clusterSizes = append(g.clusterSizes, pointSum)
			g.active = append(g.active, true)
			cluster++
		}
	}
}

// ActivateTopK activates the k largest clusters by point count and
// deactivates the rest. k <= 0 activates every cluster.
func (g *SphereGraph) ActivateTopK(k int) {
	if k <= 0 || k >= len(g.clusterSizes) {
		for c := range g.active {
			g.active[c] = true
		}
		return
	}
	order := make([]int, len(g.clusterSizes))
	for c := range order {
		order[c] = c
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return g.clusterSizes[b] - g.clusterSizes[a]
	})
	for rank, c := range order {
		g.active[c] = rank < k
	}
}

// ActivateByNoiseFraction deactivates the smallest clusters while their
// cumulative point count stays below floor(fraction * total). It stops at
// the first cluster that would reach that cutoff. A negative fraction is
// treated as zero.
func (g *SphereGraph) ActivateByNoiseFraction(fraction float64) {
	if fraction < 0 || math.IsNaN(fraction) {
		g.logger.Warn("noise fraction below zero, using 0", "fraction", fraction)
		fraction = 0
	}
	total := 0
	for c, size := range g.clusterSizes {
		total += size
		g.active[c] = true
	}
	cutoff := int(math.Floor(fraction * float64(total)))

	sum := 0
	for _, c := range g.clustersBySize() {
		if sum+g.clusterSizes[c] >= cutoff {
			break
		}
		sum += g.clusterSizes[c]
		g.active[c] = false
	}
}

// clustersBySize returns cluster ids in ascending size order, ties by id.
func (g *SphereGraph) clustersBySize() []int {
	order := make([]int, len(g.clusterSizes))
	for c := range order {
		order[c] = c
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return g.clusterSizes[a] - g.clusterSizes[b]
	})
	return order
}

func (g *SphereGraph) NumNodes() int    { return len(g.nodes) }
func (g *SphereGraph) NumClusters() int { return len(g.clusterSizes) }

// NumActiveClusters returns the number of clusters currently active.
func (g *SphereGraph) NumActiveClusters() int {
	n := 0
	for _, a := range g.active {
		if a {
			n++
		}
	}
	return n
}

// ClusterSizes returns the interior point sum of each cluster.
func (g *SphereGraph) ClusterSizes() []int { return slices.Clone(g.clusterSizes) }

// IsActive reports whether cluster c is active. Out-of-range ids are inactive.
func (g *SphereGraph) IsActive(c int) bool {
	return c >= 0 && c < len(g.active) && g.active[c]
}

// Violations returns the number of direct cluster contacts seen by the
// last Propagate.
func (g *SphereGraph) Violations() int { return g.violations }

func (g *SphereGraph) Enabled(i int) bool    { return g.nodes[i].enabled }
func (g *SphereGraph) Visited(i int) bool    { return g.nodes[i].visited }
func (g *SphereGraph) ClusterID(i int) int   { return g.nodes[i].clusterID }
func (g *SphereGraph) Neighbors(i int) []int { return g.nodes[i].neighbors }

// NodeField selects a per-node attribute for NodeMetadata.
type NodeField string

const (
	FieldVisited   NodeField = "visited"
	FieldEnabled   NodeField = "enabled"
	FieldClusterID NodeField = "cluster_id"
	FieldNeighbors NodeField = "neighbors"
)

// NodeMetadata returns field for every node. Booleans are reported as
// 0 or 1 and FieldNeighbors gives the neighbor count.
func (g *SphereGraph) NodeMetadata(field NodeField) ([]int, error) {
	switch field {
	case FieldVisited, FieldEnabled, FieldClusterID, FieldNeighbors:
	default:
		return nil, fmt.Errorf("voroclust: unknown node field %q", field)
	}
	out := make([]int, len(g.nodes))
	for i := range g.nodes {
		nd := &g.nodes[i]
		switch field {
		case FieldVisited:
			out[i] = boolToInt(nd.visited)
		case FieldEnabled:
			out[i] = boolToInt(nd.enabled)
		case FieldClusterID:
			out[i] = nd.clusterID
		case FieldNeighbors:
			out[i] = len(nd.neighbors)
		}
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
