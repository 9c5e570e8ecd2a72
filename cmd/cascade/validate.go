package main

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/danshapiro/cascade/internal/cascade/engine"
	"github.com/danshapiro/cascade/internal/cascade/validate"
)

// runValidate checks a run config and its reach table without executing
// anything: it loads the config, builds the catchment and prints every
// lint diagnostic. Exit 0 means no ERROR-severity finding.
func runValidate(args []string, stdout io.Writer, stderr io.Writer) int {
	var configPath string
	var experimentsRoot string

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--config":
			i++
			if i >= len(args) {
				fmt.Fprintln(stderr, "--config requires a value")
				return 1
			}
			configPath = args[i]
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
	cat, misses, err := engine.BuildCatchment(cfg)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	diags := validate.Validate(cat, validate.Config{
		Workers:         cfg.Scheduler.Workers,
		WorkDir:         filepath.Join(engine.ExperimentDir(experimentsRoot, cfg), "work"),
		SelectionMisses: misses,
	})
	if err := validate.ErrorFromDiagnostics(diags); err != nil {
		for _, d := range diags {
			fmt.Fprintf(stderr, "%s: %s (%s)\n", d.Severity, d.Message, d.Rule)
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "ok: %s\n", filepath.Base(configPath))
	for _, d := range diags {
		fmt.Fprintf(stdout, "%s: %s (%s)\n", d.Severity, d.Message, d.Rule)
	}
	return 0
}
