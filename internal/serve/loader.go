package serve

import (
	"context"
	"fmt"

	"github.com/danielpatrickdp/brakeguard/internal/artifact"
	"github.com/danielpatrickdp/brakeguard/internal/bundle"
	"github.com/danielpatrickdp/brakeguard/internal/fault"
	"github.com/danielpatrickdp/brakeguard/internal/tracking"
)

// LoadBundle resolves the run to serve and loads its bundle. An explicit runID must name an
// existing run; otherwise the newest finished run of experiment is used.
func LoadBundle(ctx context.Context, store artifact.Store, tracker tracking.Tracker, runID, experiment string) (*bundle.Bundle, tracking.Run, error) {
	var (
		run tracking.Run
		err error
	)
	if runID != "" {
		id, perr := tracking.ParseRunID(runID)
		if perr != nil {
			return nil, tracking.Run{}, perr
		}
		run, err = tracker.GetRun(ctx, id)
	} else {
		run, err = tracker.LatestRun(ctx, experiment)
	}
	if err != nil {
		return nil, tracking.Run{}, fmt.Errorf("resolve run: %w", err)
	}
	if run.Status != tracking.StatusFinished {
		return nil, tracking.Run{}, fault.NotFoundf("run %s is %s, not %s", run.ID, run.Status, tracking.StatusFinished)
	}

	b, err := bundle.Load(ctx, store, run.ID)
	if err != nil {
		return nil, tracking.Run{}, err
	}
	return b, run, nil
}
