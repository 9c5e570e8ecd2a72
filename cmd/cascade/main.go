package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/danshapiro/cascade/internal/cascade/engine"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		os.Exit(runRun(os.Args[2:], os.Stdout, os.Stderr))
	case "validate":
		os.Exit(runValidate(os.Args[2:], os.Stdout, os.Stderr))
	case "status":
		os.Exit(runStatus(os.Args[2:], os.Stdout, os.Stderr))
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  cascade run --config <run.yaml> [--run-id <id>] [--workers <n>] [--experiments-root <dir>]")
	fmt.Fprintln(os.Stderr, "  cascade validate --config <run.yaml> [--experiments-root <dir>]")
	fmt.Fprintln(os.Stderr, "  cascade status --experiment-dir <dir> [--json]")
}

func runRun(args []string, stdout io.Writer, stderr io.Writer) int {
	var configPath string
	var runID string
	var experimentsRoot string
	workers := 0

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--config requires a value")
				return 1
			}
			configPath = args[i]
		case "--run-id":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--run-id requires a value")
				return 1
			}
			runID = args[i]
		case "--workers":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--workers requires a value")
				return 1
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				fmt.Fprintln(stderr, "--workers must be a positive integer")
				return 1
			}
			workers = n
		case "--experiments-root":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--experiments-root requires a value")
				return 1
			}
			experimentsRoot = args[i]
		default:
			fmt.Fprintf(stderr, "unknown arg: %s\n", args[i])
			return 1
		}
	}

	if configPath == "" {
		usage()
		return 1
	}

	cfg, err := engine.LoadRunConfigFile(configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	// No deadline: a catchment run against a real solver can take hours.
	ctx := context.Background()

	res, err := engine.Run(ctx, cfg, engine.RunOptions{
		RunID:           runID,
		ExperimentsRoot: experimentsRoot,
		Workers:         workers,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "run_id=%s\n", res.RunID)
	fmt.Fprintf(stdout, "experiment_dir=%s\n", res.ExperimentDir)
	fmt.Fprintf(stdout, "completed=%d\n", res.Completed)
	fmt.Fprintf(stdout, "failed=%d\n", res.Failed)
	fmt.Fprintf(stdout, "status=%s\n", res.FinalStatus)
	for _, w := range res.Warnings {
		fmt.Fprintf(stderr, "WARNING: %s\n", w)
	}

	if res.FinalStatus == engine.FinalSuccess {
		return 0
	}
	return 1
}
