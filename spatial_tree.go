package voroclust

// SpatialIndex is the read interface the sphere cover uses over the data
// set. Indices are the row numbers of the indexed points.
type SpatialIndex interface {
	// NumPoints returns the number of points in the index.
	NumPoints() int

	// NumFeatures returns the dimensionality of each point.
	NumFeatures() int

	// Nearest returns the point closest to query and its distance, or
	// ok == false for an empty index.
	Nearest(query []float64) (index int, dist float64, ok bool)

	// Range returns the points with distance to query strictly below
	// radius, in no particular order.
	Range(query []float64, radius float64) []int
}

var _ SpatialIndex = (*KDTree)(nil)
