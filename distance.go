package voroclust

import "math"

// squaredDistance returns the squared Euclidean distance between a and b.
// Sphere membership, center separation and graph adjacency are all
// decided on squared distances so no sqrt is taken on the hot paths.
func squaredDistance(a, b []float64) float64 {
	var sum float64
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// EuclideanDistance returns the L2 distance between a and b.
func EuclideanDistance(a, b []float64) float64 {
	return math.Sqrt(squaredDistance(a, b))
}

// row returns point i of flat row-major data with dims columns.
func row(data []float64, dims, i int) []float64 {
	return data[i*dims : (i+1)*dims]
}
