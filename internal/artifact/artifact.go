// Package artifact defines the append-only artifact store contract and key layout.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"
)

// #region keys
const (
	RawData          = "data/raw"
	TrainData        = "data/train"
	TestData         = "data/test"
	FeatureTransform = "features/transform"
	TrainFeatures    = "features/train"
	TestFeatures     = "features/test"
	SplitLineage     = "data/lineage"     // versions one split stage read and wrote
	FeatureLineage   = "features/lineage" // SplitLineage plus the versions one features stage wrote
)

const (
	RunModel           = "model"
	RunTransform       = "transform"
	RunTrainMetrics    = "train_metrics"
	RunImportance      = "importance"
	RunTestMetrics     = "test_metrics"
	RunTestPredictions = "test_predictions"
)

// RunKey addresses an artifact owned by a training run.
func RunKey(runID, name string) string {
	return path.Join("runs", runID, name)
}

// ValidKey rejects empty keys and keys that would escape their namespace.
func ValidKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || path.Clean(key) != key || strings.Contains(key, "..") {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	return nil
}

// Lineage maps artifact keys to the versions a stage consumed or produced.
type Lineage map[string]int64

// With returns a copy of l with key set to the version of a.
func (l Lineage) With(a Artifact) Lineage {
	out := make(Lineage, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	out[a.Key] = a.Version
	return out
}

// Tags renders l as run tags.
func (l Lineage) Tags() map[string]string {
	tags := make(map[string]string, len(l))
	for k, v := range l {
		tags[k] = strconv.FormatInt(v, 10)
	}
	return tags
}

// #endregion keys

// #region store
// Artifact is one immutable version of a keyed blob.
type Artifact struct {
	Key       string
	Version   int64 // 1-based, per key
	Data      []byte
	Digest    string // hex sha256 of Data
	CreatedAt time.Time
}

// Store persists artifacts append-only: Put never replaces an existing version.
type Store interface {
	Put(ctx context.Context, key string, data []byte) (Artifact, error)
	// Get returns the newest version of key, or a not-found fault.
	Get(ctx context.Context, key string) (Artifact, error)
	GetVersion(ctx context.Context, key string, version int64) (Artifact, error)
	// Latest lists the newest version of every key under prefix, without data.
	Latest(ctx context.Context, prefix string) ([]Artifact, error)
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// #endregion store

// #region json
// PutJSON marshals v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) (Artifact, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Artifact{}, fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.Put(ctx, key, data)
}

// GetJSON reads the newest version of key into v.
func GetJSON(ctx context.Context, s Store, key string, v any) (Artifact, error) {
	a, err := s.Get(ctx, key)
	if err != nil {
		return Artifact{}, err
	}
	if err := json.Unmarshal(a.Data, v); err != nil {
		return Artifact{}, fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return a, nil
}

// #endregion json
