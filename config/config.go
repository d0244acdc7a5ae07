// Package config loads and validates the labelcam YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// ValidProviders lists the keypoint providers recognition can use.
var ValidProviders = []string{"orb", "sift"}

// Config is the root configuration.
type Config struct {
	LogLevel    LogLevel          `yaml:"log_level"`
	Input       string            `yaml:"input"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Tracking    TrackingConfig    `yaml:"tracking"`
	Database    DatabaseConfig    `yaml:"database"`
	Output      OutputConfig      `yaml:"output"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Stats       StatsConfig       `yaml:"stats"`
}

// RecognitionConfig tunes the background recognition.
type RecognitionConfig struct {
	// Period is the number of frames between recognition triggers.
	Period int `yaml:"period"`

	// Provider selects the keypoint provider: orb or sift.
	Provider string `yaml:"provider"`

	MaxKeypoints int     `yaml:"max_keypoints"`
	Ratio        float64 `yaml:"ratio"`
	MinMatches   int     `yaml:"min_matches"`
}

// TrackingConfig tunes the per-frame optical flow tracking.
type TrackingConfig struct {
	MaxFeatures   int     `yaml:"max_features"`
	MinFeatures   int     `yaml:"min_features"`
	Quality       float64 `yaml:"quality"`
	MinDistance   float64 `yaml:"min_distance"`
	SupportRadius float64 `yaml:"support_radius"`
	MinSupport    int     `yaml:"min_support"`
}

// DatabaseConfig names the descriptor database and where it comes from.
type DatabaseConfig struct {
	// Name of the database inside the store.
	Name string `yaml:"name"`

	// Images is the folder of sample images the database is built from when
	// the store does not hold it yet.
	Images string `yaml:"images"`

	// Path of the sqlite store file.
	Path string `yaml:"path"`

	TargetHeight int `yaml:"target_height"`
}

// OutputConfig controls painted frame output.
type OutputConfig struct {
	// JPGPath is the folder painted JPEG snapshots are written to. Empty disables snapshots.
	JPGPath string `yaml:"jpg_path"`

	// Every writes one snapshot per Every frames.
	Every int `yaml:"every"`

	StatusOverlay bool `yaml:"status_overlay"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// ListenAddr serves /metrics when set, e.g. ":9090".
	ListenAddr string `yaml:"listen_addr"`
}

// StatsConfig controls periodic pipeline statistics logging.
type StatsConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// Default returns the configuration used for fields a file leaves out.
func Default() *Config {
	return &Config{
		LogLevel: LogInfo,
		Input:    "0",
		Recognition: RecognitionConfig{
			Period:       50,
			Provider:     "orb",
			MaxKeypoints: 500,
			Ratio:        0.85,
			MinMatches:   10,
		},
		Tracking: TrackingConfig{
			MaxFeatures:   200,
			MinFeatures:   20,
			Quality:       0.01,
			MinDistance:   10,
			SupportRadius: 40,
			MinSupport:    1,
		},
		Database: DatabaseConfig{
			Name:         "Aragorn",
			Images:       "image_sample/clean/",
			Path:         "labelcam.db",
			TargetHeight: 480,
		},
		Output: OutputConfig{
			Every: 25,
		},
		Stats: StatsConfig{
			Interval: 10 * time.Second,
		},
	}
}

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default] and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.LogLevel != "" && !cfg.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: debug, info, warn, error", cfg.LogLevel))
	}
	if cfg.Input == "" {
		errs = append(errs, errors.New("input is required"))
	}

	rc := cfg.Recognition
	if rc.Period <= 0 {
		errs = append(errs, fmt.Errorf("recognition.period %d must be positive", rc.Period))
	}
	if !slices.Contains(ValidProviders, rc.Provider) {
		errs = append(errs, fmt.Errorf("recognition.provider %q is invalid; valid values: orb, sift", rc.Provider))
	}
	if rc.MaxKeypoints < 0 {
		errs = append(errs, fmt.Errorf("recognition.max_keypoints %d must not be negative", rc.MaxKeypoints))
	}
	if rc.Ratio <= 0 || rc.Ratio >= 1 {
		errs = append(errs, fmt.Errorf("recognition.ratio %.2f is out of range (0, 1)", rc.Ratio))
	}
	if rc.MinMatches < 4 {
		errs = append(errs, fmt.Errorf("recognition.min_matches %d is below 4", rc.MinMatches))
	}

	tc := cfg.Tracking
	if tc.MaxFeatures <= 0 {
		errs = append(errs, fmt.Errorf("tracking.max_features %d must be positive", tc.MaxFeatures))
	}
	if tc.MinFeatures < 0 || tc.MinFeatures > tc.MaxFeatures {
		errs = append(errs, fmt.Errorf("tracking.min_features %d is out of range [0, %d]", tc.MinFeatures, tc.MaxFeatures))
	}
	if tc.Quality <= 0 || tc.Quality >= 1 {
		errs = append(errs, fmt.Errorf("tracking.quality %.3f is out of range (0, 1)", tc.Quality))
	}
	if tc.MinDistance < 0 {
		errs = append(errs, fmt.Errorf("tracking.min_distance %.1f must not be negative", tc.MinDistance))
	}
	if tc.SupportRadius <= 0 {
		errs = append(errs, fmt.Errorf("tracking.support_radius %.1f must be positive", tc.SupportRadius))
	}
	if tc.MinSupport < 1 {
		errs = append(errs, fmt.Errorf("tracking.min_support %d must be at least 1", tc.MinSupport))
	}

	if cfg.Database.Name == "" {
		errs = append(errs, errors.New("database.name is required"))
	}
	if cfg.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if cfg.Database.TargetHeight <= 0 {
		errs = append(errs, fmt.Errorf("database.target_height %d must be positive", cfg.Database.TargetHeight))
	}

	if cfg.Output.JPGPath != "" && cfg.Output.Every <= 0 {
		errs = append(errs, fmt.Errorf("output.every %d must be positive when output.jpg_path is set", cfg.Output.Every))
	}
	if cfg.Stats.Interval < 0 {
		errs = append(errs, fmt.Errorf("stats.interval %s must not be negative", cfg.Stats.Interval))
	}

	return errors.Join(errs...)
}
