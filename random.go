package voroclust

import (
	"math/rand/v2"
	"time"
)

// RandomStream yields uniform variates in [0, 1).
type RandomStream interface {
	Float64() float64
}

// NewRandomStream returns a reproducible stream for seed >= 0 and a
// time-seeded one for seed < 0.
func NewRandomStream(seed int64) RandomStream {
	if seed < 0 {
		seed = timeSeed()
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)^0x9e3779b97f4a7c15))
}

func timeSeed() int64 {
	return time.Now().UnixNano() & (1<<63 - 1)
}

// shuffleIndices returns a permutation of 0..n-1 drawn from rs: for each
// i, j = floor(u*n) clamped to n-1 and positions i and j are swapped.
func shuffleIndices(n int, rs RandomStream) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	for i := 0; i < n; i++ {
		j := int(rs.Float64() * float64(n))
		if j >= n {
			j = n - 1
		}
		order[i], order[j] = order[j], order[i]
	}
	return order
}
