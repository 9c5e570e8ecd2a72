package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/runstate"
)

// runStatus prints a one-shot snapshot of an experiment directory, built
// from final.json, live.json, progress.ndjson and run.pid.
func runStatus(args []string, stdout io.Writer, stderr io.Writer) int {
	var experimentDir string
	var asJSON bool

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--experiment-dir":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--experiment-dir requires a value")
				return 1
			}
			experimentDir = args[i]
		case "--json":
			asJSON = true
		default:
			fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
			return 1
		}
	}

	if experimentDir == "" {
		fmt.Fprintln(stderr, "--experiment-dir is required")
		return 1
	}

	snapshot, err := runstate.LoadSnapshot(experimentDir)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snapshot); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	}

	fmt.Fprintf(stdout, "state=%s\n", snapshot.State)
	fmt.Fprintf(stdout, "run_id=%s\n", snapshot.RunID)
	fmt.Fprintf(stdout, "reach=%s\n", snapshot.LastReachID)
	fmt.Fprintf(stdout, "event=%s\n", snapshot.LastEvent)
	fmt.Fprintf(stdout, "completed=%d\n", snapshot.Completed)
	fmt.Fprintf(stdout, "failed=%d\n", snapshot.Failed)
	fmt.Fprintf(stdout, "pid=%d\n", snapshot.PID)
	fmt.Fprintf(stdout, "pid_alive=%t\n", snapshot.PIDAlive)
	if !snapshot.LastEventAt.IsZero() {
		fmt.Fprintf(stdout, "last_event_at=%s\n", snapshot.LastEventAt.UTC().Format(time.RFC3339Nano))
	}
	if snapshot.FailureReason != "" {
		fmt.Fprintf(stdout, "failure_reason=%s\n", snapshot.FailureReason)
	}
	return 0
}
