// Package config loads the command line tool's run configuration.
//
// Two formats are accepted. Plain files hold one KEY = VALUE pair per
// line:
//
//	DATA_FILE = path/to/points.csv
//	OUTPUT_FOLDER = out/
//	RADIUS = .1
//	NOISE_THRESHOLD = .01
//	DETAIL_CEILING = .85
//	DESCENT_LIMIT = .15
//
// Files ending in .yaml or .yml hold the same keys as a YAML mapping.
// Blank lines and lines starting with # are skipped. Unknown keys and
// malformed lines are collected in Config.Warnings rather than failing
// the load.
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/TrevorS/voroclust/internal/dataio"
)

// ErrInvalid is wrapped by every error caused by the configuration's
// contents rather than by reading it.
var ErrInvalid = errors.New("config: invalid configuration")

// PostProcess selects the relabeling applied after clustering.
type PostProcess int

const (
	// PostProcessNone keeps the labels from clustering.
	PostProcessNone PostProcess = iota
	// PostProcessNoise labels the smallest clusters as noise.
	PostProcessNoise
	// PostProcessMaxClusters keeps only the largest clusters.
	PostProcessMaxClusters
)

func (p PostProcess) String() string {
	switch p {
	case PostProcessNoise:
		return "noise_threshold"
	case PostProcessMaxClusters:
		return "max_clusters"
	default:
		return "none"
	}
}

// Config is one run of the command line tool.
type Config struct {
	DataFile     string `validate:"required"`
	OutputFolder string

	Radius        float64 `validate:"gt=0"`
	DetailCeiling float64 `validate:"gte=0,lte=1"`
	DescentLimit  float64 `validate:"gte=0,lte=1"`

	// NOISE_THRESHOLD and MAX_CLUSTERS are mutually exclusive; the one
	// defined last decides PostProcess.
	PostProcess    PostProcess
	NoiseThreshold float64 `validate:"gte=0"`
	MaxClusters    int     `validate:"gte=0"`

	FixedSeed  int64
	NumThreads int

	ReadDataTreeFile  string `validate:"omitempty,binfile"`
	WriteDataTreeFile string `validate:"omitempty,binfile"`
	ReadSphereFile    string `validate:"omitempty,binfile"`
	WriteSphereFile   string `validate:"omitempty,binfile"`
	WriteDataBinFile  string `validate:"omitempty,binfile"`

	MetricsFile string
	LogLevel    string `validate:"oneof=debug info warn error"`
	LogFormat   string `validate:"oneof=text json"`

	// Warnings lists unknown keys and malformed lines seen while loading.
	Warnings []string
}

// Default returns the configuration used for keys a file leaves out.
func Default() Config {
	return Config{
		Radius:        1,
		DetailCeiling: 1,
		DescentLimit:  0,
		FixedSeed:     -1,
		NumThreads:    1,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// binfile: raw binary layout, optionally compressed
	v.RegisterValidation("binfile", func(fl validator.FieldLevel) bool {
		return dataio.BaseExt(fl.Field().String()) == ".bin"
	})
	return v
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = cfg.parseYAML(raw)
	default:
		err = cfg.parseKeyValue(raw)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parseKeyValue(raw []byte) error {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, ok := strings.Cut(text, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			c.warnf("line %d: invalid config line %q", line, text)
			continue
		}
		if err := c.set(key, value); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
	return sc.Err()
}

func (c *Config) parseYAML(raw []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: top level must be a mapping", ErrInvalid)
	}
	// walk the node rather than a map so the last of NOISE_THRESHOLD and
	// MAX_CLUSTERS in file order wins
	for i := 0; i+1 < len(root.Content); i += 2 {
		k, v := root.Content[i], root.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			c.warnf("line %d: %s must be a scalar", k.Line, k.Value)
			continue
		}
		if err := c.set(k.Value, v.Value); err != nil {
			return fmt.Errorf("line %d: %w", k.Line, err)
		}
	}
	return nil
}

// set applies one key. Keys are case sensitive.
func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "DATA_FILE":
		c.DataFile = value
	case "OUTPUT_FOLDER":
		c.OutputFolder = value
	case "RADIUS":
		c.Radius, err = parseFloat(key, value)
	case "NOISE_THRESHOLD":
		c.NoiseThreshold, err = parseFloat(key, value)
		c.PostProcess = PostProcessNoise
	case "MAX_CLUSTERS":
		c.MaxClusters, err = parseInt(key, value)
		c.PostProcess = PostProcessMaxClusters
	case "DETAIL_CEILING":
		c.DetailCeiling, err = parseFloat(key, value)
	case "DESCENT_LIMIT":
		c.DescentLimit, err = parseFloat(key, value)
	case "FIXED_SEED":
		var seed int
		seed, err = parseInt(key, value)
		c.FixedSeed = int64(seed)
	case "NUM_THREADS":
		c.NumThreads, err = parseInt(key, value)
	case "READ_DATA_TREE_FILE":
		c.ReadDataTreeFile = value
	case "WRITE_DATA_TREE_FILE":
		c.WriteDataTreeFile = value
	case "READ_SPHERE_FILE":
		c.ReadSphereFile = value
	case "WRITE_SPHERE_FILE":
		c.WriteSphereFile = value
	case "WRITE_DATA_BIN_FILE":
		c.WriteDataBinFile = value
	case "METRICS_FILE":
		c.MetricsFile = value
	case "LOG_LEVEL":
		c.LogLevel = strings.ToLower(value)
	case "LOG_FORMAT":
		c.LogFormat = strings.ToLower(value)
	default:
		c.warnf("invalid config parameter %q", key)
	}
	return err
}

func (c *Config) warnf(format string, args ...any) {
	c.Warnings = append(c.Warnings, fmt.Sprintf(format, args...))
}

func parseFloat(key, value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not a number", ErrInvalid, key, value)
	}
	return f, nil
}

func parseInt(key, value string) (int, error) {
	i, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %q is not an integer", ErrInvalid, key, value)
	}
	return i, nil
}

// Validate checks field ranges and cross-field rules.
func (c *Config) Validate() error {
	var msgs []string
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		for _, e := range verrs {
			msgs = append(msgs, formatFieldError(e))
		}
	}
	if c.WriteDataBinFile != "" && dataio.BaseExt(c.DataFile) != ".csv" {
		msgs = append(msgs, "WriteDataBinFile needs a .csv DataFile")
	}
	if len(msgs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
	}
	return nil
}

func formatFieldError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s, got %v", e.Field(), e.Param(), e.Value())
	case "gte", "lte":
		return fmt.Sprintf("%s must be in range, got %v", e.Field(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", e.Field(), e.Param())
	case "binfile":
		return fmt.Sprintf("%s must be a .bin file, got %q", e.Field(), e.Value())
	default:
		return fmt.Sprintf("%s is invalid", e.Field())
	}
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
