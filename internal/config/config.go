// Package config loads the pipeline and serving parameters.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/features"
	"github.com/danielpatrickdp/brakeguard/internal/forest"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

// #region types
type Config struct {
	Data     DataConfig     `yaml:"data"`
	Split    SplitConfig    `yaml:"split"`
	Features FeaturesConfig `yaml:"features"`
	Train    TrainConfig    `yaml:"train"`
	Evaluate EvaluateConfig `yaml:"evaluate"`
	Tracking TrackingConfig `yaml:"tracking"`
	Serve    ServeConfig    `yaml:"serve"`
	Log      LogConfig      `yaml:"log"`
}

type DataConfig struct {
	Generate    bool    `yaml:"generate"`
	NSamples    int     `yaml:"n_samples"`
	RandomState int64   `yaml:"random_state"`
	MissingRate float64 `yaml:"missing_rate"`
}

type SplitConfig struct {
	TestSize    float64 `yaml:"test_size"`
	RandomState int64   `yaml:"random_state"`
	Stratify    bool    `yaml:"stratify"`
}

type FeaturesConfig struct {
	ImputeStrategy string  `yaml:"impute_strategy"`
	FillValue      float64 `yaml:"fill_value"`
	Scale          bool    `yaml:"scale"`
}

type TrainConfig struct {
	NEstimators     int    `yaml:"n_estimators"`
	MaxDepth        int    `yaml:"max_depth"`
	MinSamplesSplit int    `yaml:"min_samples_split"`
	MinSamplesLeaf  int    `yaml:"min_samples_leaf"`
	MaxFeatures     string `yaml:"max_features"`
	ClassWeight     string `yaml:"class_weight"`
	Bootstrap       bool   `yaml:"bootstrap"`
	RandomState     int64  `yaml:"random_state"`
	Workers         int    `yaml:"workers"`
}

type EvaluateConfig struct {
	RunID       string  `yaml:"run_id"` // empty means the run trained in this invocation, else the latest finished
	MinAccuracy float64 `yaml:"min_accuracy"`
	MinAUC      float64 `yaml:"min_auc"`
}

type TrackingConfig struct {
	Backend      string   `yaml:"backend"` // sqlite | postgres
	URI          string   `yaml:"uri"`
	Experiment   string   `yaml:"experiment"`
	KafkaBrokers []string `yaml:"kafka_brokers"`
	KafkaTopic   string   `yaml:"kafka_topic"`
}

type ServeConfig struct {
	HTTPAddr    string        `yaml:"http_addr"`
	GRPCAddr    string        `yaml:"grpc_addr"`
	RunID       string        `yaml:"run_id"` // empty means latest finished run
	LoadTimeout time.Duration `yaml:"load_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// #endregion types

// #region defaults
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Data:     DataConfig{Generate: true, NSamples: 20000, RandomState: 42},
		Split:    SplitConfig{TestSize: 0.2, RandomState: 42, Stratify: true},
		Features: FeaturesConfig{ImputeStrategy: features.StrategyMedian, Scale: true},
		Train: TrainConfig{
			NEstimators:     100,
			MaxDepth:        10,
			MinSamplesSplit: 2,
			MinSamplesLeaf:  1,
			MaxFeatures:     forest.MaxFeaturesSqrt,
			ClassWeight:     forest.ClassWeightNone,
			Bootstrap:       true,
			RandomState:     42,
		},
		Tracking: TrackingConfig{
			Backend:    BackendSQLite,
			URI:        "brakeguard.db",
			Experiment: "brake-failure-exp",
			KafkaTopic: "brakeguard.runs",
		},
		Serve: ServeConfig{HTTPAddr: ":8080", GRPCAddr: ":9090", LoadTimeout: 30 * time.Second},
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// #endregion defaults

// #region load
// Load reads the params file at path over the defaults, applies BRAKEGUARD_* environment
// overrides and validates the result. An empty path uses defaults only.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fault.Configf("open params: %w", err)
		}
		defer f.Close()
		if err := Decode(f, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode reads YAML into cfg, keeping values for absent keys. Unknown keys are rejected.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fault.Configf("decode params: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Tracking.Backend = envOr("BRAKEGUARD_TRACKING_BACKEND", c.Tracking.Backend)
	c.Tracking.URI = envOr("BRAKEGUARD_TRACKING_URI", c.Tracking.URI)
	c.Tracking.Experiment = envOr("BRAKEGUARD_EXPERIMENT", c.Tracking.Experiment)
	c.Tracking.KafkaTopic = envOr("BRAKEGUARD_KAFKA_TOPIC", c.Tracking.KafkaTopic)
	if v := os.Getenv("BRAKEGUARD_KAFKA_BROKERS"); v != "" {
		c.Tracking.KafkaBrokers = splitList(v)
	}
	c.Serve.HTTPAddr = envOr("BRAKEGUARD_HTTP_ADDR", c.Serve.HTTPAddr)
	c.Serve.GRPCAddr = envOr("BRAKEGUARD_GRPC_ADDR", c.Serve.GRPCAddr)
	c.Serve.RunID = envOr("BRAKEGUARD_RUN_ID", c.Serve.RunID)
	c.Log.Level = envOr("BRAKEGUARD_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envOr("BRAKEGUARD_LOG_FORMAT", c.Log.Format)
	if v := os.Getenv("BRAKEGUARD_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fault.Configf("BRAKEGUARD_WORKERS: %w", err)
		}
		c.Train.Workers = n
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// #endregion load

// #region validate
// Validate reports the first invalid parameter as a config fault.
func (c Config) Validate() error {
	if c.Data.NSamples <= 0 {
		return fault.Configf("data.n_samples must be positive, got %d", c.Data.NSamples)
	}
	if c.Data.MissingRate < 0 || c.Data.MissingRate >= 1 {
		return fault.Configf("data.missing_rate must be in [0,1), got %v", c.Data.MissingRate)
	}
	if !(c.Split.TestSize > 0 && c.Split.TestSize < 1) {
		return fault.Configf("split.test_size must be in (0,1), got %v", c.Split.TestSize)
	}
	if !features.ValidStrategy(c.Features.ImputeStrategy) {
		return fault.Configf("features.impute_strategy %q is not one of mean, median, most_frequent, constant", c.Features.ImputeStrategy)
	}
	if err := c.ForestParams().Validate(); err != nil {
		return fmt.Errorf("train: %w", err)
	}
	if c.Evaluate.MinAccuracy < 0 || c.Evaluate.MinAccuracy > 1 || c.Evaluate.MinAUC < 0 || c.Evaluate.MinAUC > 1 {
		return fault.Configf("evaluate thresholds must be in [0,1]")
	}
	for _, id := range []string{c.Evaluate.RunID, c.Serve.RunID} {
		if id == "" {
			continue
		}
		if _, err := tracking.ParseRunID(id); err != nil {
			return err
		}
	}
	switch c.Tracking.Backend {
	case BackendSQLite, BackendPostgres:
	default:
		return fault.Configf("tracking.backend %q is not sqlite or postgres", c.Tracking.Backend)
	}
	if c.Tracking.URI == "" {
		return fault.Configf("tracking.uri is required")
	}
	if c.Tracking.Experiment == "" {
		return fault.Configf("tracking.experiment is required")
	}
	if len(c.Tracking.KafkaBrokers) > 0 && c.Tracking.KafkaTopic == "" {
		return fault.Configf("tracking.kafka_topic is required when brokers are set")
	}
	if c.Serve.LoadTimeout <= 0 {
		return fault.Configf("serve.load_timeout must be positive")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fault.Configf("log.format %q is not json or text", c.Log.Format)
	}
	return nil
}

// ForestParams maps the train section onto forest hyperparameters.
func (c Config) ForestParams() forest.Params {
	return forest.Params{
		NTrees:          c.Train.NEstimators,
		MaxDepth:        c.Train.MaxDepth,
		MinSamplesSplit: c.Train.MinSamplesSplit,
		MinSamplesLeaf:  c.Train.MinSamplesLeaf,
		MaxFeatures:     c.Train.MaxFeatures,
		ClassWeight:     c.Train.ClassWeight,
		Bootstrap:       c.Train.Bootstrap,
		Seed:            c.Train.RandomState,
		Workers:         c.Train.Workers,
	}
}

// #endregion validate
