package toxswa

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
	"github.com/danshapiro/cascade/internal/cascade/runstate"
)

// invokeSolver runs one solver attempt for the reach and returns the wall
// time the solver took. The caller decides what a failure means: the
// numerical-failure sentinel on disk outranks the process exit code.
func (d *Driver) invokeSolver(ctx context.Context, reach catchment.Snapshot, timeStepSediment float64) (time.Duration, error) {
	base := "Reach" + reach.ID
	if err := runstate.WriteJSONAtomicFile(
		d.workFile(reach.ID, suffixInvocation),
		map[string]any{
			"call_id":           ulid.Make().String(),
			"command":           d.cfg.SolverCommand,
			"argv":              []string{d.cfg.SolverCommand, base},
			"working_dir":       d.env.WorkDir,
			"sediment_timestep": timeStepSediment,
		},
	); err != nil {
		return 0, err
	}

	cmd := exec.CommandContext(ctx, d.cfg.SolverCommand, base)
	cmd.Dir = d.env.WorkDir
	cmd.Stdin = strings.NewReader("")
	stdoutFile, err := os.Create(d.workFile(reach.ID, suffixStdout))
	if err != nil {
		return 0, err
	}
	stderrFile, err := os.Create(d.workFile(reach.ID, suffixStderr))
	if err != nil {
		_ = stdoutFile.Close()
		return 0, err
	}
	defer func() { _ = stdoutFile.Close(); _ = stderrFile.Close() }()
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	started := time.Now()
	runErr := cmd.Run()
	return time.Since(started), runErr
}
