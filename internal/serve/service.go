// Package serve answers single-record predictions over HTTP and gRPC using one loaded run.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danielpatrickdp/brakeguard/internal/bundle"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/model"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

// #region state
// State is the service lifecycle: Uninitialized -> Loaded -> Serving, or Failed.
type State int32

const (
	Uninitialized State = iota
	Loaded
	Serving
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loaded:
		return "loaded"
	case Serving:
		return "serving"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// ErrNotReady is returned for requests that arrive before the service is serving.
var ErrNotReady = errors.New("model not ready")

// #endregion state

// #region service
// Service holds the loaded bundle. The bundle is never mutated after Load, so concurrent
// requests read it without locking.
type Service struct {
	state   atomic.Int32
	bundle  atomic.Pointer[bundle.Bundle]
	run     atomic.Pointer[tracking.Run]
	failure atomic.Pointer[string]

	mu       sync.Mutex
	watchers []func(State)

	logger  *slog.Logger
	metrics *PredictMetrics
}

// NewService returns an uninitialized service. A nil logger uses slog.Default.
func NewService(logger *slog.Logger, m *PredictMetrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if m == nil {
		m, _ = NewPredictMetrics(nil)
	}
	return &Service{logger: logger, metrics: m}
}

func (s *Service) State() State { return State(s.state.Load()) }

// Ready reports whether predictions are being served.
func (s *Service) Ready() bool { return s.State() == Serving }

// Run returns the loaded run, or nil before Load.
func (s *Service) Run() *tracking.Run { return s.run.Load() }

// Bundle returns the loaded bundle, or nil before Load.
func (s *Service) Bundle() *bundle.Bundle { return s.bundle.Load() }

// Failure returns the load failure message, if any.
func (s *Service) Failure() string {
	if p := s.failure.Load(); p != nil {
		return *p
	}
	return ""
}

// Watch registers fn to be called on every state change, and once immediately.
func (s *Service) Watch(fn func(State)) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
	fn(s.State())
}

func (s *Service) transition(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.mu.Lock()
	watchers := slices.Clone(s.watchers)
	s.mu.Unlock()
	for _, fn := range watchers {
		fn(to)
	}
	return true
}

// Load installs b. It is allowed once, from Uninitialized.
func (s *Service) Load(b *bundle.Bundle, run tracking.Run) error {
	if s.State() != Uninitialized {
		return fmt.Errorf("load: service is %s", s.State())
	}
	s.bundle.Store(b)
	s.run.Store(&run)
	if !s.transition(Uninitialized, Loaded) {
		return fmt.Errorf("load: service is %s", s.State())
	}
	s.logger.Info("model loaded", "run_id", string(b.RunID), "model_version", b.ModelVersion, "transform_version", b.TransformVersion)
	return nil
}

// Serve starts answering predictions.
func (s *Service) Serve() error {
	if !s.transition(Loaded, Serving) {
		return fmt.Errorf("serve: service is %s", s.State())
	}
	s.logger.Info("serving predictions")
	return nil
}

// Fail records a startup failure. Predictions stay unavailable.
func (s *Service) Fail(err error) {
	msg := err.Error()
	s.failure.Store(&msg)
	for {
		cur := s.State()
		if cur == Failed || s.transition(cur, Failed) {
			break
		}
	}
	s.logger.Error("service failed", "error", err)
}

// #endregion service

// #region predict
// Predict validates fields against the loaded feature set and scores them. Request problems
// are request faults; a panic inside scoring is converted to an error and never escapes.
func (s *Service) Predict(ctx context.Context, fields map[string]any) (pred model.Prediction, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("predict panic", "panic", r)
			err = fmt.Errorf("predict: internal error: %v", r)
		}
		s.metrics.record(ctx, outcome(err), time.Since(start))
	}()

	if !s.Ready() {
		return model.Prediction{}, ErrNotReady
	}
	b := s.bundle.Load()

	values, err := parseFields(b.Features(), fields)
	if err != nil {
		return model.Prediction{}, err
	}
	return b.Predict(values)
}

// parseFields requires exactly the expected names, each a finite number.
func parseFields(expected []string, fields map[string]any) (map[string]float64, error) {
	out := make(map[string]float64, len(expected))
	for _, name := range expected {
		raw, ok := fields[name]
		if !ok {
			return nil, fault.Requestf("missing field %q", name)
		}
		v, err := toFloat(raw)
		if err != nil {
			return nil, fault.Requestf("field %q: %w", name, err)
		}
		out[name] = v
	}
	if len(fields) != len(expected) {
		var extra []string
		for name := range fields {
			if !slices.Contains(expected, name) {
				extra = append(extra, name)
			}
		}
		slices.Sort(extra)
		return nil, fault.Requestf("unexpected field %q", extra[0])
	}
	return out, nil
}

func toFloat(raw any) (float64, error) {
	var v float64
	switch x := raw.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x.String())
		}
		v = f
	case float64:
		v = x
	case float32:
		v = float64(x)
	case int:
		v = float64(x)
	case int64:
		v = float64(x)
	case int32:
		v = float64(x)
	case nil:
		return 0, errors.New("value is null")
	default:
		return 0, fmt.Errorf("value of type %T is not a number", raw)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.New("value is not finite")
	}
	return v, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotReady):
		return "not_ready"
	case fault.Is(err, fault.Request):
		return "bad_request"
	default:
		return "error"
	}
}

// #endregion predict
