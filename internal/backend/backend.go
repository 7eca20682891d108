// Package backend opens the configured artifact store and run tracker.
package backend

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/config"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/pgstore"
	"github.com/danielpatrickdp/brakeguard/internal/state"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

type store interface {
	artifact.Store
	tracking.Tracker
	Close() error
}

// Backend is one database serving as both artifact store and tracker.
type Backend struct {
	Artifacts artifact.Store
	Tracker   tracking.Tracker
	closer    func() error
}

func (b *Backend) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}

// Open connects to the backend named by cfg.Backend.
func Open(ctx context.Context, cfg config.TrackingConfig) (*Backend, error) {
	var s store
	var err error
	switch cfg.Backend {
	case config.BackendSQLite:
		s, err = state.NewStore(cfg.URI)
	case config.BackendPostgres:
		s, err = pgstore.Open(ctx, cfg.URI)
	default:
		return nil, fault.Configf("unknown tracking backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	return &Backend{Artifacts: s, Tracker: s, closer: s.Close}, nil
}
