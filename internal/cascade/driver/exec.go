package driver

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
	"github.com/danshapiro/cascade/internal/cascade/runstate"
)

// Exec invokes a configured command once per reach run, with the reach id
// appended as the final argument. It exists for harnesses and end-to-end
// tests that stand in a stub solver; init and cleanup are acknowledgements.
type Exec struct {
	env     Env
	command string
	args    []string
	timeout time.Duration
}

func ExecFactory() Factory {
	return Factory{
		Name: "exec",
		ConfigSchema: map[string]any{
			"type":     "object",
			"required": []any{"command"},
			"properties": map[string]any{
				"command": map[string]any{"type": "string", "minLength": 1},
				"args": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"timeout": map[string]any{"type": "string"},
			},
			"additionalProperties": false,
		},
		New: func(env Env, cfg map[string]any) (Driver, error) {
			d := &Exec{env: env}
			d.command, _ = cfg["command"].(string)
			if raw, ok := cfg["args"].([]any); ok {
				for _, a := range raw {
					s, _ := a.(string)
					d.args = append(d.args, s)
				}
			}
			if raw, ok := cfg["timeout"].(string); ok && strings.TrimSpace(raw) != "" {
				dur, err := time.ParseDuration(strings.TrimSpace(raw))
				if err != nil {
					return nil, fmt.Errorf("exec timeout: %w", err)
				}
				d.timeout = dur
			}
			return d, nil
		},
	}
}

func (d *Exec) Init(ctx context.Context, reach catchment.Snapshot) Report {
	if reach.Skip {
		return Report{ReachID: reach.ID, Status: StatusSkipReach}
	}
	return Report{ReachID: reach.ID, Status: StatusOK}
}

func (d *Exec) Run(ctx context.Context, reach catchment.Snapshot) Report {
	if reach.Skip {
		return Report{ReachID: reach.ID, Status: StatusSkipReach}
	}

	cctx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	callID := ulid.Make().String()
	args := append(append([]string{}, d.args...), reach.ID)
	if err := runstate.WriteJSONAtomicFile(
		filepath.Join(d.env.WorkDir, "Reach"+reach.ID+".invocation.json"),
		map[string]any{
			"call_id":     callID,
			"command":     d.command,
			"argv":        append([]string{d.command}, args...),
			"working_dir": d.env.WorkDir,
		},
	); err != nil {
		return ErrorReport(reach.ID, err)
	}

	cmd := exec.CommandContext(cctx, d.command, args...)
	cmd.Dir = d.env.WorkDir
	cmd.Stdin = strings.NewReader("")
	stdoutFile, err := os.Create(filepath.Join(d.env.WorkDir, "Reach"+reach.ID+".stdout.log"))
	if err != nil {
		return ErrorReport(reach.ID, err)
	}
	stderrFile, err := os.Create(filepath.Join(d.env.WorkDir, "Reach"+reach.ID+".stderr.log"))
	if err != nil {
		_ = stdoutFile.Close()
		return ErrorReport(reach.ID, err)
	}
	defer func() { _ = stdoutFile.Close(); _ = stderrFile.Close() }()
	cmd.Stdout = stdoutFile
	cmd.Stderr = stderrFile

	started := time.Now()
	runErr := cmd.Run()
	dur := time.Since(started)

	if cctx.Err() == context.DeadlineExceeded {
		return ErrorReport(reach.ID, fmt.Errorf("command timed out after %s", d.timeout))
	}
	if runErr != nil {
		return ErrorReport(reach.ID, fmt.Errorf("command %s: %w", d.command, runErr))
	}
	return Report{
		ReachID:    reach.ID,
		Status:     StatusOK,
		SolverTime: dur,
		TotalTime:  dur,
	}
}

func (d *Exec) Cleanup(ctx context.Context, reach catchment.Snapshot) Report {
	return Report{ReachID: reach.ID, Status: StatusOK}
}
