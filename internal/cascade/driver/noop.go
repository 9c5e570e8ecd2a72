package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
)

// Noop acknowledges every action without touching the filesystem. It keeps
// the contract's skip semantics so dispatch-order experiments see realistic
// status mixes.
type Noop struct {
	Delay time.Duration
}

func NoopFactory() Factory {
	return Factory{
		Name: "noop",
		ConfigSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"delay": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
		New: func(env Env, cfg map[string]any) (Driver, error) {
			d := &Noop{}
			if raw, ok := cfg["delay"].(string); ok && strings.TrimSpace(raw) != "" {
				dur, err := time.ParseDuration(strings.TrimSpace(raw))
				if err != nil {
					return nil, fmt.Errorf("noop delay: %w", err)
				}
				d.Delay = dur
			}
			return d, nil
		},
	}
}

func (d *Noop) Init(ctx context.Context, reach catchment.Snapshot) Report {
	return d.ack(ctx, reach, false)
}

func (d *Noop) Run(ctx context.Context, reach catchment.Snapshot) Report {
	return d.ack(ctx, reach, true)
}

func (d *Noop) Cleanup(ctx context.Context, reach catchment.Snapshot) Report {
	return Report{ReachID: reach.ID, Status: StatusOK}
}

func (d *Noop) ack(ctx context.Context, reach catchment.Snapshot, timed bool) Report {
	if d.Delay > 0 {
		t := time.NewTimer(d.Delay)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ErrorReport(reach.ID, ctx.Err())
		}
	}
	if reach.Skip {
		return Report{ReachID: reach.ID, Status: StatusSkipReach}
	}
	rep := Report{ReachID: reach.ID, Status: StatusOK}
	if timed {
		rep.SolverTime = d.Delay
		rep.TotalTime = d.Delay
	}
	return rep
}
