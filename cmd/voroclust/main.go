// Command voroclust clusters a point data file as described by a
// configuration file and writes one label per point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/TrevorS/voroclust"
	"github.com/TrevorS/voroclust/internal/config"
	"github.com/TrevorS/voroclust/internal/dataio"
)

const usage = `voroclust accepts one argument: a configuration file.
	example: voroclust path/to/config.in

A minimal configuration file is:
	DATA_FILE = path/to/input_file.csv
	OUTPUT_FOLDER = path/to/output/folder/
	RADIUS = .1
	NOISE_THRESHOLD = .01
	DETAIL_CEILING = .85
	DESCENT_LIMIT = .15

Files ending in .yaml or .yml take the same keys as a YAML mapping.

Valid parameters are:
	DATA_FILE             .csv (one point per row, no header) or .bin data file,
	                      optionally with a .zst or .lz4 suffix.
	OUTPUT_FOLDER         where the label file is written.
	RADIUS                radius of the spheres covering the data.
	NOISE_THRESHOLD       fraction of points labeled noise (-1) after clustering.
	MAX_CLUSTERS          keep only this many of the largest clusters.
	                      NOISE_THRESHOLD and MAX_CLUSTERS are mutually exclusive;
	                      the last one in the file is used.
	DETAIL_CEILING        value in [0, 1] controlling propagation.
	DESCENT_LIMIT         value in [0, 1] controlling propagation; should be
	                      below DETAIL_CEILING.
	FIXED_SEED            seed for sphere selection. Defaults to -1 (random).
	NUM_THREADS           worker count. Defaults to 1; below 1 uses every CPU.
	READ_DATA_TREE_FILE   load the data k-d tree from a .bin file.
	WRITE_DATA_TREE_FILE  save the data k-d tree to a .bin file.
	READ_SPHERE_FILE      load the sphere cover from a .bin file. The cover is
	                      the only step that depends on RADIUS, so a saved cover
	                      makes tuning DETAIL_CEILING and DESCENT_LIMIT cheap.
	WRITE_SPHERE_FILE     save the sphere cover to a .bin file.
	WRITE_DATA_BIN_FILE   convert the .csv DATA_FILE to .bin and exit without
	                      clustering.
	METRICS_FILE          write Prometheus text metrics for the run.
	LOG_LEVEL             debug, info, warn or error. Defaults to info.
	LOG_FORMAT            text or json. Defaults to text.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("voroclust", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() { fmt.Fprint(stdout, usage) }
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if fs.NArg() == 0 || slices.Contains(fs.Args(), "-h") {
		fs.Usage()
		return 0
	}

	cfg, err := config.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "voroclust: %v\n\n", err)
		fmt.Fprint(stderr, usage)
		return 1
	}

	logger := newLogger(cfg, stderr)
	for _, w := range cfg.Warnings {
		logger.Warn("config", "warning", w)
	}
	logger.Info("configuration loaded",
		"data_file", cfg.DataFile,
		"output_folder", cfg.OutputFolder,
		"radius", cfg.Radius,
		"detail_ceiling", cfg.DetailCeiling,
		"descent_limit", cfg.DescentLimit,
		"post_process", cfg.PostProcess.String(),
		"fixed_seed", cfg.FixedSeed,
		"num_threads", cfg.NumThreads,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, cfg, logger, stdout); err != nil {
		logger.Error("run failed", "error", err)
		return 1
	}
	return 0
}

func newLogger(cfg *config.Config, w io.Writer) *voroclust.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level()}
	if cfg.LogFormat == "json" {
		return voroclust.NewLogger(slog.NewJSONHandler(w, opts))
	}
	return voroclust.NewLogger(slog.NewTextHandler(w, opts))
}

func execute(ctx context.Context, cfg *config.Config, logger *voroclust.Logger, stdout io.Writer) error {
	if cfg.WriteDataBinFile != "" {
		n, dims, err := dataio.ConvertCSVToBinary(cfg.DataFile, cfg.WriteDataBinFile)
		if err != nil {
			return err
		}
		logger.Info("binary data file written", "from", cfg.DataFile, "to", cfg.WriteDataBinFile, "points", n, "dims", dims)
		return nil
	}

	metrics := newPromMetrics()
	vc := voroclust.DefaultConfig()
	vc.Radius = cfg.Radius
	vc.DetailCeiling = cfg.DetailCeiling
	vc.DescentLimit = cfg.DescentLimit
	vc.Workers = cfg.NumThreads
	vc.TreePath = cfg.ReadDataTreeFile
	vc.Logger = logger
	vc.Metrics = metrics

	v, err := voroclust.NewFromFile(cfg.DataFile, vc)
	if err != nil {
		return err
	}
	if cfg.ReadSphereFile != "" {
		if err := v.LoadSpheres(cfg.ReadSphereFile); err != nil {
			return err
		}
	}
	if cfg.WriteDataTreeFile != "" {
		switch err := v.WriteDataTree(cfg.WriteDataTreeFile); {
		case errors.Is(err, voroclust.ErrNoDataTree):
			logger.Warn("no data tree to write", "path", cfg.WriteDataTreeFile)
		case err != nil:
			return err
		}
	}

	if err := v.Execute(ctx, cfg.FixedSeed); err != nil {
		return err
	}

	switch cfg.PostProcess {
	case config.PostProcessNoise:
		err = v.LabelNoise(cfg.NoiseThreshold)
	case config.PostProcessMaxClusters:
		err = v.LabelByMaxClusters(cfg.MaxClusters)
	}
	if err != nil {
		return err
	}

	if cfg.OutputFolder != "" {
		if err := os.MkdirAll(cfg.OutputFolder, 0o755); err != nil {
			return fmt.Errorf("create output folder: %w", err)
		}
	}
	labelsPath, err := dataio.WriteLabels(cfg.OutputFolder, cfg.Radius, cfg.DetailCeiling, cfg.DescentLimit, v.Labels())
	if err != nil {
		return err
	}
	if cfg.WriteSphereFile != "" {
		if err := v.WriteSpheres(cfg.WriteSphereFile); err != nil {
			return err
		}
	}
	if cfg.MetricsFile != "" {
		if err := metrics.writeFile(cfg.MetricsFile); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}

	s := v.Stats()
	fmt.Fprintf(stdout, "run %s: %d points, %d spheres, %d clusters (%d active), %d noise, %.3fs\n",
		s.RunID, s.NumPoints, s.NumSpheres, s.NumClusters, s.NumActiveClusters, s.NoisePoints, s.Elapsed.Seconds())
	fmt.Fprintf(stdout, "labels written to %s\n", labelsPath)
	return nil
}
