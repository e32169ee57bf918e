package voroclust

import (
	"bytes"
	"context"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TrevorS/voroclust/internal/dataio"
)

// blobs places sizes[i] points uniformly in the unit square offset by
// offsets[i].
func blobs(sizes []int, offsets [][2]float64) ([]float64, int) {
	rng := rand.New(rand.NewSource(42))
	var data []float64
	n := 0
	for b, size := range sizes {
		for i := 0; i < size; i++ {
			data = append(data, offsets[b][0]+rng.Float64(), offsets[b][1]+rng.Float64())
			n++
		}
	}
	return data, n
}

func lineData(n int) []float64 {
	data := make([]float64, n)
	for i := range data {
		data[i] = float64(i)
	}
	return data
}

func testConfig(radius float64) Config {
	cfg := DefaultConfig()
	cfg.Radius = radius
	cfg.Workers = 2
	return cfg
}

func TestVoroClust_LineSingleCluster(t *testing.T) {
	// evenly spaced cover of 0..9
	spheres := []Sphere{
		{Index: 0, Center: 1, Interior: []int{0, 1, 2}},
		{Index: 1, Center: 3, Interior: []int{2, 3, 4}},
		{Index: 2, Center: 5, Interior: []int{4, 5, 6}},
		{Index: 3, Center: 7, Interior: []int{6, 7, 8}},
		{Index: 4, Center: 9, Interior: []int{8, 9}},
	}
	path := filepath.Join(t.TempDir(), "spheres.bin")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, WriteSpheres(f, spheres))
	require.NoError(t, f.Close())

	v, err := New(lineData(10), 10, 1, testConfig(1.5))
	require.NoError(t, err)
	require.NoError(t, v.LoadSpheres(path))
	require.NoError(t, v.Execute(context.Background(), 1))

	assert.Equal(t, 1, v.NumClusters())
	assert.Equal(t, make([]int, 10), v.Labels())
}

func TestVoroClust_LineClustersFollowCoverGaps(t *testing.T) {
	// centers are 2 or 3 apart; a gap of 3 (= 2r) leaves the spheres
	// unconnected, so each connected run of centers is one cluster
	for seed := int64(0); seed < 25; seed++ {
		v, err := New(lineData(10), 10, 1, testConfig(1.5))
		require.NoError(t, err)
		require.NoError(t, v.Execute(context.Background(), seed))

		centers := make([]int, 0, len(v.Spheres()))
		for _, s := range v.Spheres() {
			centers = append(centers, s.Center)
		}
		slices.Sort(centers)
		runs := 1
		for i := 1; i < len(centers); i++ {
			gap := centers[i] - centers[i-1]
			require.GreaterOrEqual(t, gap, 2, "seed %d", seed)
			if gap >= 3 {
				runs++
			}
		}
		assert.Equal(t, runs, v.NumClusters(), "seed %d centers %v", seed, centers)
		for p, l := range v.Labels() {
			assert.GreaterOrEqual(t, l, 0, "seed %d point %d", seed, p)
		}
	}
}

func TestVoroClust_TwoBlobs(t *testing.T) {
	data, n := blobs([]int{50, 50}, [][2]float64{{0, 0}, {100, 100}})
	v, err := New(data, n, 2, testConfig(1))
	require.NoError(t, err)
	require.NoError(t, v.Execute(context.Background(), 3))

	assert.Equal(t, 2, v.NumClusters())
	require.NoError(t, v.LabelNoise(0))
	assert.Equal(t, 2, v.Graph().NumActiveClusters())

	labels := v.Labels()
	for p, l := range labels {
		assert.NotEqual(t, NoiseLabel, l, "point %d", p)
	}
	for p := 1; p < 50; p++ {
		assert.Equal(t, labels[0], labels[p])
		assert.Equal(t, labels[50], labels[50+p])
	}
	assert.NotEqual(t, labels[0], labels[50])
	assert.Zero(t, v.Stats().NoisePoints)
}

func TestVoroClust_TopKReresolves(t *testing.T) {
	data, n := blobs([]int{50, 30, 10}, [][2]float64{{0, 0}, {100, 0}, {0, 100}})
	v, err := New(data, n, 2, testConfig(2))
	require.NoError(t, err)
	require.NoError(t, v.Execute(context.Background(), 0))
	require.Equal(t, []int{50, 30, 10}, v.Graph().ClusterSizes())

	labels := v.Labels()
	assert.Equal(t, 0, labels[0])
	assert.Equal(t, 1, labels[50])
	assert.Equal(t, 2, labels[80])

	require.NoError(t, v.LabelByMaxClusters(1))
	assert.True(t, v.Graph().IsActive(0))
	assert.False(t, v.Graph().IsActive(1))
	assert.False(t, v.Graph().IsActive(2))
	for p, l := range v.Labels() {
		assert.Equal(t, 0, l, "point %d", p)
	}

	require.NoError(t, v.LabelNoise(0.2))
	labels = v.Labels()
	assert.Equal(t, 0, labels[0])
	assert.Equal(t, 1, labels[50])
	assert.Equal(t, NoiseLabel, labels[80])
	assert.Equal(t, 10, v.Stats().NoisePoints)
}

func TestVoroClust_DeterministicSeed(t *testing.T) {
	n, dims := 2000, 2
	data := generateFlatData(n, dims)
	run := func() ([]int, []Sphere) {
		v, err := New(data, n, dims, testConfig(4))
		require.NoError(t, err)
		require.NoError(t, v.Execute(context.Background(), 99))
		return v.Labels(), v.Spheres()
	}
	l1, s1 := run()
	l2, s2 := run()
	assert.Equal(t, l1, l2)
	assert.Equal(t, s1, s2)
}

func TestVoroClust_DataTreeAndCenterTreeAgree(t *testing.T) {
	n, dims := 1500, 3
	data := generateFlatData(n, dims)

	withTree, err := New(data, n, dims, testConfig(10))
	require.NoError(t, err)
	require.NotNil(t, withTree.DataTree())

	cfg := testConfig(10)
	cfg.DisableTree = true
	without, err := New(data, n, dims, cfg)
	require.NoError(t, err)
	assert.Nil(t, without.DataTree())

	require.NoError(t, withTree.Execute(context.Background(), 12))
	require.NoError(t, without.Execute(context.Background(), 12))
	assert.Equal(t, withTree.Spheres(), without.Spheres())
	assert.Equal(t, withTree.Labels(), without.Labels())
}

func TestVoroClust_NoUnresolvedLabels(t *testing.T) {
	n, dims := 2500, 2
	data := generateFlatData(n, dims)
	v, err := New(data, n, dims, testConfig(3))
	require.NoError(t, err)
	require.NoError(t, v.Execute(context.Background(), 2))

	check := func() {
		for p, l := range v.Labels() {
			require.NotEqual(t, UnresolvedLabel, l, "point %d", p)
		}
	}
	check()
	for _, k := range []int{1, 2, 5} {
		require.NoError(t, v.LabelByMaxClusters(k))
		check()
	}
	for _, f := range []float64{0, 0.1, 0.5, 1} {
		require.NoError(t, v.LabelNoise(f))
		check()
	}
}

func TestVoroClust_HighDimensionsDisableTree(t *testing.T) {
	n, dims := 40, MaxTreeDims+1
	data := generateFlatData(n, dims)
	v, err := New(data, n, dims, testConfig(50))
	require.NoError(t, err)
	assert.Nil(t, v.DataTree())
	assert.ErrorIs(t, v.WriteDataTree(filepath.Join(t.TempDir(), "tree.bin")), ErrNoDataTree)

	require.NoError(t, v.Execute(context.Background(), 1))
	assert.Len(t, v.Labels(), n)
}

func TestVoroClust_SpheresRoundTrip(t *testing.T) {
	n, dims := 1000, 2
	data := generateFlatData(n, dims)
	v, err := New(data, n, dims, testConfig(5))
	require.NoError(t, err)
	require.NoError(t, v.Execute(context.Background(), 8))

	path := filepath.Join(t.TempDir(), "spheres.bin.zst")
	require.NoError(t, v.WriteSpheres(path))
	assert.ErrorIs(t, v.LoadSpheres(path), ErrSpheresExist)

	// a fresh instance reuses the cover with another ceiling
	cfg := testConfig(5)
	cfg.DetailCeiling = 0.5
	w, err := New(data, n, dims, cfg)
	require.NoError(t, err)
	require.NoError(t, w.LoadSpheres(path))
	require.NoError(t, w.Execute(context.Background(), 1234))
	assert.Equal(t, v.Spheres(), w.Spheres())
	assert.Len(t, w.Labels(), n)
}

func TestVoroClust_DataTreeFile(t *testing.T) {
	n, dims := 500, 2
	data := generateFlatData(n, dims)
	v, err := New(data, n, dims, testConfig(5))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tree.bin.lz4")
	require.NoError(t, v.WriteDataTree(path))

	cfg := testConfig(5)
	cfg.TreePath = path
	w, err := New(data, n, dims, cfg)
	require.NoError(t, err)
	assert.Equal(t, v.DataTree().points, w.DataTree().points)

	// a tree for different data falls back to building
	other, err := New(data[:200], 100, dims, cfg)
	require.NoError(t, err)
	assert.Equal(t, 100, other.DataTree().NumPoints())

	cfg.TreePath = filepath.Join(t.TempDir(), "missing.bin")
	missing, err := New(data, n, dims, cfg)
	require.NoError(t, err)
	assert.Equal(t, n, missing.DataTree().NumPoints())
}

func TestVoroClust_NewFromFile(t *testing.T) {
	data, n := blobs([]int{30, 30}, [][2]float64{{0, 0}, {50, 50}})
	dir := t.TempDir()

	for _, name := range []string{"points.csv", "points.bin", "points.csv.zst", "points.bin.lz4"} {
		path := filepath.Join(dir, name)
		if dataio.BaseExt(path) == ".csv" {
			require.NoError(t, dataio.WriteCSV(path, data, n, 2))
		} else {
			require.NoError(t, dataio.WriteBinary(path, data, n, 2))
		}
		v, err := NewFromFile(path, testConfig(1))
		require.NoError(t, err, name)
		require.NoError(t, v.Execute(context.Background(), 0), name)
		assert.Equal(t, 2, v.NumClusters(), name)
	}

	_, err := NewFromFile(filepath.Join(dir, "points.txt"), testConfig(1))
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = NewFromFile(filepath.Join(dir, "absent.csv"), testConfig(1))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidConfig)
}

func TestVoroClust_InvalidConfig(t *testing.T) {
	data := []float64{0, 1, 2}
	tests := []struct {
		name string
		mod  func(*Config)
	}{
		{"zero radius", func(c *Config) { c.Radius = 0 }},
		{"negative radius", func(c *Config) { c.Radius = -2 }},
		{"ceiling above one", func(c *Config) { c.DetailCeiling = 1.5 }},
		{"negative limit", func(c *Config) { c.DescentLimit = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mod(&cfg)
			_, err := New(data, 3, 1, cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := New(data, 4, 1, DefaultConfig())
	assert.ErrorIs(t, err, ErrInvalidConfig, "short data")
}

func TestVoroClust_CeilingBelowLimitWarns(t *testing.T) {
	var logs bytes.Buffer
	cfg := DefaultConfig()
	cfg.DetailCeiling, cfg.DescentLimit = 0.2, 0.3
	cfg.Logger = NewLogger(slog.NewTextHandler(&logs, nil))
	_, err := New([]float64{0, 1}, 2, 1, cfg)
	require.NoError(t, err)
	assert.Contains(t, logs.String(), "detail ceiling should be greater than descent limit")
}

func TestVoroClust_NotExecuted(t *testing.T) {
	v, err := New([]float64{0, 1}, 2, 1, DefaultConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, v.LabelByMaxClusters(0), ErrNotExecuted)
	assert.ErrorIs(t, v.LabelNoise(0), ErrNotExecuted)
	assert.ErrorIs(t, v.WriteSpheres(filepath.Join(t.TempDir(), "s.bin")), ErrNotExecuted)
	assert.Nil(t, v.Labels())
	assert.Zero(t, v.NumClusters())
}

func TestVoroClust_Cancelled(t *testing.T) {
	n, dims := 2000, 2
	v, err := New(generateFlatData(n, dims), n, dims, testConfig(2))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, v.Execute(ctx, 1), context.Canceled)
	assert.Nil(t, v.Graph())
	assert.Nil(t, v.Spheres())
	assert.ErrorIs(t, v.LabelNoise(0), ErrNotExecuted)
}

func TestVoroClust_MetricsAndStats(t *testing.T) {
	data, n := blobs([]int{40, 20}, [][2]float64{{0, 0}, {30, 30}})
	m := &BasicMetricsCollector{}
	cfg := testConfig(2)
	cfg.Metrics = m
	v, err := New(data, n, 2, cfg)
	require.NoError(t, err)
	require.NoError(t, v.Execute(context.Background(), 6))

	assert.Equal(t, int64(1), m.Runs.Load())
	assert.Zero(t, m.RunErrors.Load())
	assert.Equal(t, int64(2), m.LastSpheres.Load())
	assert.Equal(t, int64(2), m.LastClusters.Load())

	s := v.Stats()
	assert.NotEmpty(t, s.RunID)
	assert.Equal(t, int64(6), s.Seed)
	assert.Equal(t, n, s.NumPoints)
	assert.Equal(t, 2, s.NumSpheres)
	assert.Equal(t, 2, s.NumEnabledSpheres)
	assert.Equal(t, 2, s.NumClusters)
	assert.InDelta(t, 30.0, s.MeanClusterSize, floatTol)
	assert.InDelta(t, 40.0, s.LargestClusterSize, floatTol)
	assert.InDelta(t, 30.0, s.MeanSphereCount, floatTol)
	for _, stage := range []string{StageShuffle, StageCover, StageInterior, StageGraph, StagePropagation, StageLabeling} {
		assert.Contains(t, s.Stages, stage)
	}
}

func TestVoroClust_EmptyData(t *testing.T) {
	v, err := New(nil, 0, 2, DefaultConfig())
	require.NoError(t, err)
	assert.ErrorIs(t, v.Execute(context.Background(), 1), ErrEmptyData)

	_, err = Cluster(context.Background(), nil, 1, DefaultConfig())
	assert.ErrorIs(t, err, ErrEmptyData)
}

func TestCluster(t *testing.T) {
	// the larger group is the denser sphere and gets id 0
	data := [][]float64{{0, 0}, {0.1, 0}, {0, 0.1}, {0.1, 0.1}, {20, 20}, {20.1, 20}, {20, 20.1}}
	labels, err := Cluster(context.Background(), data, 1, testConfig(1))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0, 0, 1, 1, 1}, labels)

	_, err = Cluster(context.Background(), [][]float64{{0, 0}, {1}}, 1, testConfig(1))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

// checkLabelSources asserts that every clustered point either lies within
// the radius of an enabled sphere of its cluster, or carries the label of
// its nearest eligible center. allEnabled selects the eligibility used by
// LabelNoise, where enabled spheres of inactive clusters also count.
func checkLabelSources(t *testing.T, v *VoroClust, radius float64, allEnabled bool) {
	t.Helper()
	g := v.Graph()
	spheres := v.Spheres()
	r2 := radius * radius

	var eligible []int
	for i := range spheres {
		if g.Enabled(i) && (allEnabled || g.IsActive(g.ClusterID(i))) {
			eligible = append(eligible, i)
		}
	}
	require.NotEmpty(t, eligible)

	labelOf := func(i int) int {
		if g.IsActive(g.ClusterID(i)) {
			return g.ClusterID(i)
		}
		return NoiseLabel
	}

	for p, label := range v.Labels() {
		if label < 0 {
			continue
		}
		pt := row(v.data, v.dims, p)
		inCluster := false
		best := math.Inf(1)
		for _, i := range eligible {
			d := squaredDistance(pt, row(v.data, v.dims, spheres[i].Center))
			if d < r2 && labelOf(i) == label {
				inCluster = true
				break
			}
			best = min(best, d)
		}
		if inCluster {
			continue
		}
		nearestHasLabel := false
		for _, i := range eligible {
			d := squaredDistance(pt, row(v.data, v.dims, spheres[i].Center))
			if d == best && labelOf(i) == label {
				nearestHasLabel = true
			}
		}
		assert.True(t, nearestHasLabel, "point %d label %d has no sphere or nearest center", p, label)
	}
}

func TestVoroClust_LabelsTraceToClusterSpheres(t *testing.T) {
	n, dims := 1200, 2
	radius := 4.0
	cfg := testConfig(radius)
	cfg.DetailCeiling = 0.6
	cfg.DescentLimit = 0.2
	v, err := New(generateFlatData(n, dims), n, dims, cfg)
	require.NoError(t, err)
	require.NoError(t, v.Execute(context.Background(), 9))

	for _, k := range []int{1, 3, 0} {
		require.NoError(t, v.LabelByMaxClusters(k))
		checkLabelSources(t, v, radius, false)
	}
	for _, f := range []float64{0, 0.1, 0.5} {
		require.NoError(t, v.LabelNoise(f))
		checkLabelSources(t, v, radius, true)
	}
}
