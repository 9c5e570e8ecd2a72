package driver

import (
	"context"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
)

// Report is a driver's account of one action on one reach. Run reports
// carry timings and the sediment timestep the solver finished with; init
// and cleanup reports carry status only.
type Report struct {
	ReachID string
	Status  Status

	// Reason holds the failure detail when Status is StatusError.
	Reason string

	SolverTime       time.Duration
	TotalTime        time.Duration
	SedimentTimestep float64
}

// Driver runs the per-reach simulation lifecycle. Init renders the static
// solver inputs, Run invokes the solver, Cleanup removes transfer files the
// downstream side no longer needs. Each call receives a detached snapshot;
// drivers never see the catchment. Implementations must tolerate concurrent
// calls on distinct reaches.
type Driver interface {
	Init(ctx context.Context, reach catchment.Snapshot) Report
	Run(ctx context.Context, reach catchment.Snapshot) Report
	Cleanup(ctx context.Context, reach catchment.Snapshot) Report
}

// Env carries the run-scoped paths and policy a driver factory may use.
// The engine creates the directories before resolving the driver.
type Env struct {
	ExperimentDir string
	WorkDir       string
	OutputDir     string
	InputDir      string

	// Simulation horizon, closed on both ends.
	Start time.Time
	End   time.Time

	// Cleanup policy from the run config.
	KeepOriginalOutputs     bool
	DeleteUpstreamFluxFiles bool
}

// ErrorReport builds an Error report, used by workers when a driver call
// panics or cannot be dispatched.
func ErrorReport(reachID string, err error) Report {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Report{ReachID: reachID, Status: StatusError, Reason: reason}
}
