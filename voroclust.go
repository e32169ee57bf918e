package voroclust

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/TrevorS/voroclust/internal/dataio"
)

// MaxTreeDims is the highest dimensionality for which a k-d tree over the
// data is built. Above it interiors are found through a tree of the
// centers.
const MaxTreeDims = 100

// Config controls VoroClust behavior.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// Radius of every sphere in the cover. Larger values give fewer,
	// coarser spheres. Spheres are adjacent when their centers are closer
	// than twice the radius, so with LoadSpheres it must match the radius
	// the file was built with. Must be > 0. Default: 1.0.
	Radius float64

	// DetailCeiling is the fraction of a pass's densest sphere below which
	// a sphere stops the flood fill when a neighbor is denser than itself.
	// Higher values split clusters at shallower valleys. Must be in [0, 1].
	// Default: 0.85.
	DetailCeiling float64

	// DescentLimit is the fraction of a pass's densest sphere below which a
	// sphere is treated as border regardless of its neighbors. Must be in
	// [0, 1] and is expected to be below DetailCeiling. Default: 0.25.
	DescentLimit float64

	// Workers is the number of goroutines used by the parallel stages.
	// 0 or less means runtime.NumCPU(). Results for a fixed seed depend on
	// the worker count.
	Workers int

	// TreePath, if set, names a data tree file written by WriteDataTree.
	// A file that cannot be read or does not match the data is ignored and
	// the tree is built instead.
	TreePath string

	// BalanceFactor bounds the height of the center index during sphere
	// selection to BalanceFactor * ceil(log2(n+1)) before it is rebuilt.
	// Negative disables rebuilding. 0 means DefaultBalanceFactor.
	BalanceFactor float64

	// DisableTree skips the data tree; interiors are then found through the
	// center index. The tree is always skipped above MaxTreeDims.
	DisableTree bool

	// Logger receives stage timings and warnings. nil discards them.
	Logger *Logger

	// Metrics receives stage and run measurements. nil discards them.
	Metrics MetricsCollector
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		Radius:        1.0,
		DetailCeiling: 0.85,
		DescentLimit:  0.25,
		BalanceFactor: DefaultBalanceFactor,
	}
}

// validateConfig checks that cfg fields are valid and returns a descriptive error if not.
func validateConfig(cfg *Config) error {
	if !(cfg.Radius > 0) || math.IsInf(cfg.Radius, 1) {
		return configError("Radius must be a finite value > 0, got %v", cfg.Radius)
	}
	if !(cfg.DetailCeiling >= 0 && cfg.DetailCeiling <= 1) {
		return configError("DetailCeiling must be in [0, 1], got %v", cfg.DetailCeiling)
	}
	if !(cfg.DescentLimit >= 0 && cfg.DescentLimit <= 1) {
		return configError("DescentLimit must be in [0, 1], got %v", cfg.DescentLimit)
	}
	if math.IsNaN(cfg.BalanceFactor) {
		return configError("BalanceFactor must be a number")
	}
	return nil
}

// applyDefaults fills in zero-valued config fields with their defaults.
func applyDefaults(cfg *Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.BalanceFactor == 0 {
		cfg.BalanceFactor = DefaultBalanceFactor
	}
	if cfg.Logger == nil {
		cfg.Logger = NoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetricsCollector{}
	}
}

// Stats summarizes the last Execute and labeling call.
type Stats struct {
	RunID string
	Seed  int64

	NumPoints         int
	NumSpheres        int
	NumEnabledSpheres int
	NumComponents     int // connected components of the sphere graph
	NumClusters       int
	NumActiveClusters int

	// Violations counts direct contacts between clusters seen during
	// propagation. Non-zero values point at an inconsistent graph.
	Violations int

	MeanSphereCount    float64
	MeanClusterSize    float64
	LargestClusterSize float64
	NoisePoints        int

	Elapsed time.Duration
	Stages  map[string]time.Duration
}

// VoroClust clusters a point set by covering it with spheres and
// propagating density-ordered labels across the sphere graph.
//
// A VoroClust is not safe for concurrent use.
type VoroClust struct {
	data []float64
	n    int
	dims int
	cfg  Config

	tree    *KDTree
	spheres []Sphere
	loaded  bool
	graph   *SphereGraph
	labels  []int

	logger  *Logger
	metrics MetricsCollector
	stats   Stats
}

// New prepares data (n rows of dims values, borrowed, not copied) for
// clustering and builds the data tree unless disabled.
func New(data []float64, n, dims int, cfg Config) (*VoroClust, error) {
	applyDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	if n < 0 || (n > 0 && dims <= 0) {
		return nil, configError("invalid shape %d x %d", n, dims)
	}
	if len(data) < n*dims {
		return nil, configError("data has %d values, need %d x %d", len(data), n, dims)
	}

	v := &VoroClust{
		data:    data,
		n:       n,
		dims:    dims,
		cfg:     cfg,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if cfg.DetailCeiling <= cfg.DescentLimit {
		v.logger.Warn("detail ceiling should be greater than descent limit",
			"detail_ceiling", cfg.DetailCeiling, "descent_limit", cfg.DescentLimit)
	}

	switch {
	case n == 0:
	case cfg.DisableTree:
		v.logger.Info("data tree disabled")
	case dims > MaxTreeDims:
		v.logger.Info("data tree disabled for high dimensional data", "dims", dims, "max_dims", MaxTreeDims)
	default:
		v.tree = v.loadOrBuildTree()
	}
	return v, nil
}

// NewFromFile loads a .csv or .bin data file, optionally with a .zst or
// .lz4 suffix, and calls New.
func NewFromFile(path string, cfg Config) (*VoroClust, error) {
	data, n, dims, err := dataio.Load(path)
	if err != nil {
		if errors.Is(err, dataio.ErrUnsupportedFormat) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		return nil, fmt.Errorf("voroclust: load data: %w", err)
	}
	return New(data, n, dims, cfg)
}

func (v *VoroClust) loadOrBuildTree() *KDTree {
	if path := v.cfg.TreePath; path != "" {
		tree, err := LoadKDTreeFile(path)
		switch {
		case err != nil:
			v.logger.Warn("data tree file unreadable, building tree", "path", path, "error", err)
		case tree.NumPoints() != v.n || tree.NumFeatures() != v.dims:
			v.logger.Warn("data tree file does not match data, building tree", "path", path,
				"tree_points", tree.NumPoints(), "tree_dims", tree.NumFeatures())
		default:
			v.logger.Info("data tree loaded", "path", path, "height", tree.Height())
			return tree
		}
	}
	start := time.Now()
	tree := NewKDTreeFromPoints(v.data, v.n, v.dims)
	v.logger.Info("data tree built", "points", v.n, "height", tree.Height(), "seconds", time.Since(start).Seconds())
	return tree
}

// Execute builds the sphere cover (unless spheres were loaded), the sphere
// graph and the clusters, then labels every point with
// LabelByMaxClusters(0). A seed >= 0 makes the result reproducible for a
// fixed worker count; a negative seed is replaced by a time-derived one.
//
// On error, including cancellation of ctx, the previous state is kept.
func (v *VoroClust) Execute(ctx context.Context, seed int64) (err error) {
	if v.n == 0 {
		return ErrEmptyData
	}
	if seed < 0 {
		seed = timeSeed()
	}

	runID := uuid.NewString()
	log := v.logger.WithRun(runID)
	stages := make(map[string]time.Duration)
	start := time.Now()

	var spheres []Sphere
	var graph *SphereGraph
	defer func() {
		elapsed := time.Since(start)
		numClusters := 0
		if graph != nil && err == nil {
			numClusters = graph.NumClusters()
		}
		v.metrics.RecordRun(len(spheres), numClusters, elapsed, err)
		if err != nil {
			log.ErrorContext(ctx, "execute failed", "error", err, "seconds", elapsed.Seconds())
		}
	}()

	stage := func(name string, t time.Time, attrs ...any) {
		d := time.Since(t)
		stages[name] = d
		v.metrics.RecordStage(name, d)
		log.LogStage(ctx, name, d, attrs...)
	}

	log.InfoContext(ctx, "execute started", "points", v.n, "dims", v.dims, "seed", seed, "workers", v.cfg.Workers)

	if v.loaded {
		spheres = v.spheres
		log.InfoContext(ctx, "using loaded spheres", "spheres", len(spheres))
	} else {
		spheres, err = v.buildCover(ctx, seed, stage)
		if err != nil {
			return err
		}
	}

	t := time.Now()
	graph, err = BuildSphereGraph(ctx, v.data, v.dims, spheres, v.cfg.Radius, v.cfg.Workers, log)
	if err != nil {
		return err
	}
	stage(StageGraph, t, "spheres", len(spheres))

	t = time.Now()
	graph.Propagate(spheres, v.cfg.DetailCeiling, v.cfg.DescentLimit)
	stage(StagePropagation, t, "clusters", graph.NumClusters(), "violations", graph.Violations())

	graph.ActivateTopK(0)
	t = time.Now()
	labels, err := assignLabels(ctx, v.data, v.n, v.dims, spheres, graph, labelActive, v.cfg.Workers)
	if err != nil {
		return err
	}
	stage(StageLabeling, t)

	v.spheres, v.graph, v.labels = spheres, graph, labels
	v.stats = Stats{RunID: runID, Seed: seed, Stages: stages, NumComponents: graph.Components()}
	v.refreshStats()
	v.stats.Elapsed = time.Since(start)
	log.InfoContext(ctx, "execute finished",
		"spheres", len(spheres),
		"clusters", graph.NumClusters(),
		"seconds", v.stats.Elapsed.Seconds(),
	)
	return nil
}

func (v *VoroClust) buildCover(ctx context.Context, seed int64, stage func(string, time.Time, ...any)) ([]Sphere, error) {
	var index SpatialIndex
	if v.tree != nil {
		index = v.tree
	}
	b, err := NewSphereCoverBuilder(v.data, v.n, v.dims, v.cfg.Radius, index, v.cfg.Workers)
	if err != nil {
		return nil, err
	}
	b.balanceFactor = v.cfg.BalanceFactor

	t := time.Now()
	order := b.Shuffle(NewRandomStream(seed))
	stage(StageShuffle, t)

	t = time.Now()
	centers, err := b.SelectCenters(ctx, order)
	if err != nil {
		return nil, err
	}
	stage(StageCover, t, "centers", len(centers))

	t = time.Now()
	spheres, err := b.CountInterior(ctx, centers)
	if err != nil {
		return nil, err
	}
	stage(StageInterior, t)
	return spheres, nil
}

// LabelByMaxClusters relabels every point keeping only the k largest
// clusters; k == 0 keeps all. Points outside the kept clusters take the
// label of the nearest sphere of a kept cluster.
func (v *VoroClust) LabelByMaxClusters(k int) error {
	if v.graph == nil {
		return ErrNotExecuted
	}
	if k < 0 {
		return configError("max clusters must be >= 0, got %d", k)
	}
	v.graph.ActivateTopK(k)
	return v.relabel(labelActive)
}

// LabelNoise relabels every point after marking the smallest clusters,
// up to fraction of all clustered points, as noise (-1).
func (v *VoroClust) LabelNoise(fraction float64) error {
	if v.graph == nil {
		return ErrNotExecuted
	}
	v.graph.ActivateByNoiseFraction(fraction)
	return v.relabel(labelAllEnabled)
}

func (v *VoroClust) relabel(mode labelMode) error {
	start := time.Now()
	labels, err := assignLabels(context.Background(), v.data, v.n, v.dims, v.spheres, v.graph, mode, v.cfg.Workers)
	if err != nil {
		return err
	}
	d := time.Since(start)
	v.labels = labels
	v.metrics.RecordStage(StageLabeling, d)
	v.logger.LogStage(context.Background(), StageLabeling, d, "active_clusters", v.graph.NumActiveClusters())
	v.refreshStats()
	return nil
}

func (v *VoroClust) refreshStats() {
	s := &v.stats
	s.NumPoints = v.n
	s.NumSpheres = len(v.spheres)
	s.NumClusters = v.graph.NumClusters()
	s.NumActiveClusters = v.graph.NumActiveClusters()
	s.Violations = v.graph.Violations()

	s.NumEnabledSpheres = 0
	counts := make([]float64, len(v.spheres))
	for i := range v.spheres {
		counts[i] = float64(v.spheres[i].Count())
		if v.graph.Enabled(i) {
			s.NumEnabledSpheres++
		}
	}
	s.MeanSphereCount, s.MeanClusterSize, s.LargestClusterSize = 0, 0, 0
	if len(counts) > 0 {
		s.MeanSphereCount = stat.Mean(counts, nil)
	}
	if sizes := v.graph.ClusterSizes(); len(sizes) > 0 {
		fs := make([]float64, len(sizes))
		for i, size := range sizes {
			fs[i] = float64(size)
		}
		s.MeanClusterSize = stat.Mean(fs, nil)
		s.LargestClusterSize = floats.Max(fs)
	}

	s.NoisePoints = 0
	for _, l := range v.labels {
		if l == NoiseLabel {
			s.NoisePoints++
		}
	}
}

// LoadSpheres reads a sphere file written by WriteSpheres. It must be
// called before Execute, which then skips sphere selection.
func (v *VoroClust) LoadSpheres(path string) error {
	if v.spheres != nil {
		return ErrSpheresExist
	}
	r, err := dataio.OpenReader(path)
	if err != nil {
		return fmt.Errorf("voroclust: open sphere file: %w", err)
	}
	defer r.Close()

	spheres, err := ReadSpheres(r, v.n)
	if err != nil {
		return err
	}
	v.spheres = spheres
	v.loaded = true
	v.logger.Info("spheres loaded", "path", path, "spheres", len(spheres))
	return nil
}

// WriteSpheres saves the current sphere cover to path.
func (v *VoroClust) WriteSpheres(path string) error {
	if v.spheres == nil {
		return ErrNotExecuted
	}
	w, err := dataio.CreateWriter(path)
	if err != nil {
		return fmt.Errorf("voroclust: create sphere file: %w", err)
	}
	if err := WriteSpheres(w, v.spheres); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("voroclust: close sphere file: %w", err)
	}
	return nil
}

// WriteDataTree saves the data tree to path.
func (v *VoroClust) WriteDataTree(path string) error {
	if v.tree == nil {
		return ErrNoDataTree
	}
	return v.tree.SaveFile(path)
}

// Labels returns a copy of the current labels: a cluster id, or -1 for noise.
func (v *VoroClust) Labels() []int { return slices.Clone(v.labels) }

// Spheres returns the sphere cover. Callers must not modify it.
func (v *VoroClust) Spheres() []Sphere { return v.spheres }

// Graph returns the sphere graph of the last Execute, or nil.
func (v *VoroClust) Graph() *SphereGraph { return v.graph }

// DataTree returns the data tree, or nil when it is disabled.
func (v *VoroClust) DataTree() *KDTree { return v.tree }

// NumClusters returns the number of clusters found by the last Execute.
func (v *VoroClust) NumClusters() int {
	if v.graph == nil {
		return 0
	}
	return v.graph.NumClusters()
}

// Stats returns a summary of the last run.
func (v *VoroClust) Stats() Stats {
	s := v.stats
	s.Stages = make(map[string]time.Duration, len(v.stats.Stages))
	for k, d := range v.stats.Stages {
		s.Stages[k] = d
	}
	return s
}

// Cluster is a convenience wrapper: it flattens data, runs Execute with
// seed and returns the labels.
func Cluster(ctx context.Context, data [][]float64, seed int64, cfg Config) ([]int, error) {
	n := len(data)
	if n == 0 {
		return nil, ErrEmptyData
	}
	dims := len(data[0])
	flatData := make([]float64, n*dims)
	for i, row := range data {
		if len(row) != dims {
			return nil, configError("row %d has %d values, want %d", i, len(row), dims)
		}
		copy(flatData[i*dims:], row)
	}

	v, err := New(flatData, n, dims, cfg)
	if err != nil {
		return nil, err
	}
	if err := v.Execute(ctx, seed); err != nil {
		return nil, err
	}
	return v.labels, nil
}
