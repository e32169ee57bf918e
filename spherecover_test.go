package voroclust

import (
	"bytes"
	"context"
	"errors"
	"io"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildCover(t *testing.T, data []float64, n, dims int, radius float64, useTree bool, workers int, seed int64) []Sphere {
	t.Helper()
	var index SpatialIndex
	if useTree {
		index = NewKDTreeFromPoints(data, n, dims)
	}
	b, err := NewSphereCoverBuilder(data, n, dims, radius, index, workers)
	require.NoError(t, err)
	centers, err := b.SelectCenters(context.Background(), b.Shuffle(NewRandomStream(seed)))
	require.NoError(t, err)
	spheres, err := b.CountInterior(context.Background(), centers)
	require.NoError(t, err)
	return spheres
}

func TestSphereCover_CenterSeparation(t *testing.T) {
	n, dims, radius := 2000, 2, 6.0
	data := generateFlatData(n, dims)
	for _, workers := range []int{1, 2, 4} {
		spheres := buildCover(t, data, n, dims, radius, true, workers, 11)
		require.NotEmpty(t, spheres)
		for i := range spheres {
			for j := i + 1; j < len(spheres); j++ {
				a := row(data, dims, spheres[i].Center)
				b := row(data, dims, spheres[j].Center)
				assert.GreaterOrEqual(t, squaredDistance(a, b), radius*radius, "workers=%d spheres %d,%d", workers, i, j)
			}
		}
	}
}

func TestSphereCover_EveryPointCovered(t *testing.T) {
	// greedy selection leaves no point farther than r from all centers
	n, dims, radius := 1500, 3, 15.0
	data := generateFlatData(n, dims)
	spheres := buildCover(t, data, n, dims, radius, true, 3, 5)

	covered := make([]bool, n)
	for _, s := range spheres {
		for _, p := range s.Interior {
			covered[p] = true
		}
	}
	for p := 0; p < n; p++ {
		if covered[p] {
			continue
		}
		near := false
		for _, s := range spheres {
			if squaredDistance(row(data, dims, p), row(data, dims, s.Center)) <= radius*radius {
				near = true
				break
			}
		}
		assert.True(t, near, "point %d", p)
	}
}

func TestSphereCover_InteriorsMatchBruteForce(t *testing.T) {
	n, dims, radius := 800, 2, 8.0
	data := generateFlatData(n, dims)
	withTree := buildCover(t, data, n, dims, radius, true, 4, 9)
	without := buildCover(t, data, n, dims, radius, false, 4, 9)
	require.Equal(t, len(withTree), len(without))

	for i := range withTree {
		assert.Equal(t, withTree[i], without[i], "sphere %d", i)
		s := withTree[i]
		want := bruteRange(data, n, dims, row(data, dims, s.Center), radius)
		assert.Equal(t, want, s.Interior)
		assert.Contains(t, s.Interior, s.Center)
	}
}

func TestSphereCover_SortedByCount(t *testing.T) {
	n, dims := 1000, 2
	data := generateFlatData(n, dims)
	spheres := buildCover(t, data, n, dims, 10, true, 2, 1)
	for i := range spheres {
		assert.Equal(t, i, spheres[i].Index)
		if i > 0 {
			assert.GreaterOrEqual(t, spheres[i-1].Count(), spheres[i].Count())
		}
	}
}

func TestSphereCover_DeterministicForFixedSeed(t *testing.T) {
	n, dims := 1200, 2
	data := generateFlatData(n, dims)
	for _, workers := range []int{1, 3} {
		a := buildCover(t, data, n, dims, 5, true, workers, 42)
		b := buildCover(t, data, n, dims, 5, true, workers, 42)
		assert.Equal(t, a, b, "workers=%d", workers)
	}
}

func TestSphereCover_ParallelMatchesSerialOrder(t *testing.T) {
	// committing in order with an in-batch recheck gives the serial result
	n, dims := 1500, 2
	data := generateFlatData(n, dims)
	order := shuffleIndices(n, NewRandomStream(8))

	serial, err := NewSphereCoverBuilder(data, n, dims, 4, nil, 1)
	require.NoError(t, err)
	want, err := serial.SelectCenters(context.Background(), order)
	require.NoError(t, err)

	parallel, err := NewSphereCoverBuilder(data, n, dims, 4, nil, 5)
	require.NoError(t, err)
	got, err := parallel.SelectCenters(context.Background(), order)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSphereCover_DuplicatesCollapse(t *testing.T) {
	data := []float64{1, 1, 1, 1, 1, 1, 1, 1}
	spheres := buildCover(t, data, 4, 2, 0.5, true, 1, 0)
	require.Len(t, spheres, 1)
	assert.Equal(t, []int{0, 1, 2, 3}, spheres[0].Interior)
}

func TestSphereCover_SinglePoint(t *testing.T) {
	spheres := buildCover(t, []float64{3, 4}, 1, 2, 1, false, 4, 0)
	require.Len(t, spheres, 1)
	assert.Equal(t, 0, spheres[0].Center)
	assert.Equal(t, 1, spheres[0].Count())
}

func TestSphereCover_InvalidRadius(t *testing.T) {
	for _, r := range []float64{0, -1} {
		_, err := NewSphereCoverBuilder([]float64{0}, 1, 1, r, nil, 1)
		assert.ErrorIs(t, err, ErrInvalidConfig)
	}
}

func TestSphereCover_Cancelled(t *testing.T) {
	n, dims := 1000, 2
	data := generateFlatData(n, dims)
	b, err := NewSphereCoverBuilder(data, n, dims, 1, nil, 3)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = b.SelectCenters(ctx, b.Shuffle(NewRandomStream(1)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSpheres_WriteRead_RoundTrip(t *testing.T) {
	n, dims := 500, 2
	data := generateFlatData(n, dims)
	spheres := buildCover(t, data, n, dims, 9, true, 2, 4)

	var buf bytes.Buffer
	require.NoError(t, WriteSpheres(&buf, spheres))
	loaded, err := ReadSpheres(&buf, n)
	require.NoError(t, err)
	assert.Equal(t, spheres, loaded)
}

func TestSpheres_Read_Invalid(t *testing.T) {
	spheres := []Sphere{{Index: 0, Center: 2, Interior: []int{1, 2}}}
	var buf bytes.Buffer
	require.NoError(t, WriteSpheres(&buf, spheres))
	raw := buf.Bytes()

	// too few points for the stored indices
	_, err := ReadSpheres(bytes.NewReader(raw), 2)
	var corrupt *ErrCorruptFile
	require.True(t, errors.As(err, &corrupt))
	assert.Equal(t, "sphere", corrupt.Kind)

	_, err = ReadSpheres(bytes.NewReader(raw[:len(raw)-3]), 3)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	loaded, err := ReadSpheres(bytes.NewReader(raw), 3)
	require.NoError(t, err)
	assert.True(t, slices.Equal([]int{1, 2}, loaded[0].Interior))
}
