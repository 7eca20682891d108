package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/brakeguard/internal/fault"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestDecodeKeepsUnsetDefaults(t *testing.T) {
	cfg := Default()
	in := `
data:
  n_samples: 1000
train:
  n_estimators: 10
serve:
  load_timeout: 5s
`
	require.NoError(t, Decode(strings.NewReader(in), &cfg))
	assert.Equal(t, 1000, cfg.Data.NSamples)
	assert.Equal(t, int64(42), cfg.Data.RandomState)
	assert.Equal(t, 10, cfg.Train.NEstimators)
	assert.Equal(t, 10, cfg.Train.MaxDepth)
	assert.Equal(t, 5*time.Second, cfg.Serve.LoadTimeout)
	assert.Equal(t, "median", cfg.Features.ImputeStrategy)
}

func TestDecodeRejectsUnknownKey(t *testing.T) {
	cfg := Default()
	err := Decode(strings.NewReader("train:\n  n_trees: 5\n"), &cfg)
	assert.True(t, fault.Is(err, fault.Config))
}

func TestLoadAppliesEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracking:\n  experiment: from-file\n"), 0o644))

	t.Setenv("BRAKEGUARD_TRACKING_URI", "/tmp/other.db")
	t.Setenv("BRAKEGUARD_KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("BRAKEGUARD_WORKERS", "3")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.Tracking.Experiment)
	assert.Equal(t, "/tmp/other.db", cfg.Tracking.URI)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Tracking.KafkaBrokers)
	assert.Equal(t, 3, cfg.Train.Workers)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, fault.Is(err, fault.Config))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"samples":   func(c *Config) { c.Data.NSamples = 0 },
		"test size": func(c *Config) { c.Split.TestSize = 1 },
		"strategy":  func(c *Config) { c.Features.ImputeStrategy = "knn" },
		"trees":     func(c *Config) { c.Train.NEstimators = 0 },
		"features":  func(c *Config) { c.Train.MaxFeatures = "half" },
		"backend":   func(c *Config) { c.Tracking.Backend = "mlflow" },
		"run id":    func(c *Config) { c.Serve.RunID = "not-a-uuid" },
		"threshold": func(c *Config) { c.Evaluate.MinAUC = 2 },
		"format":    func(c *Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.True(t, fault.Is(cfg.Validate(), fault.Config))
		})
	}
}
