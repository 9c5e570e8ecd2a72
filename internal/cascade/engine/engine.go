// Package engine runs one catchment experiment end to end: it loads the
// run configuration and input tables, builds the reach graph, lints it,
// and drives the scheduler until every reach is terminal, leaving the
// run's artifacts in the experiment directory.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
	"github.com/danshapiro/cascade/internal/cascade/driver"
	"github.com/danshapiro/cascade/internal/cascade/heft"
	"github.com/danshapiro/cascade/internal/cascade/runstate"
	"github.com/danshapiro/cascade/internal/cascade/sched"
	"github.com/danshapiro/cascade/internal/cascade/tables"
	"github.com/danshapiro/cascade/internal/cascade/toxswa"
	"github.com/danshapiro/cascade/internal/cascade/validate"
)

// RunOptions carries the per-invocation knobs that live outside the config
// file.
type RunOptions struct {
	// RunID identifies the run; a fresh ULID is generated when empty.
	RunID string

	// ExperimentsRoot is the parent of experiment directories. Defaults
	// to $XDG_STATE_HOME/cascade/experiments.
	ExperimentsRoot string

	// Workers overrides scheduler.workers when > 0.
	Workers int

	// ProgressSink receives every progress event in-process, after it is
	// persisted. Optional.
	ProgressSink func(map[string]any)

	// Registry resolves driver.name. Defaults to the built-in registry.
	Registry *driver.Registry
}

func (o *RunOptions) applyDefaults() error {
	if o.RunID == "" {
		id, err := NewRunID()
		if err != nil {
			return err
		}
		o.RunID = id
	}
	if o.ExperimentsRoot == "" {
		o.ExperimentsRoot = defaultExperimentsRoot()
	}
	if o.Workers < 0 {
		return fmt.Errorf("worker override must be >= 0, got %d", o.Workers)
	}
	if o.Registry == nil {
		o.Registry = DefaultRegistry()
	}
	return nil
}

// Result is what Run hands back to the caller once the run is terminal.
type Result struct {
	RunID         string
	ExperimentDir string
	FinalStatus   FinalStatus
	Completed     int
	Failed        int
	FailedIDs     []string
	Warnings      []string
}

// Engine holds the state of one run. Build it through Run.
type Engine struct {
	Options RunOptions

	ExperimentDir string
	WorkDir       string
	OutputDir     string

	cfg      *RunConfigFile
	registry *driver.Registry
	workers  int

	warningsMu sync.Mutex
	Warnings   []string

	progressMu sync.Mutex

	summaryMu sync.Mutex
	timings   map[string]*reachTimings

	terminalPersisted bool
}

// NewRunID returns a fresh ULID string.
func NewRunID() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now()), ulid.DefaultEntropy())
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// DefaultRegistry returns the built-in driver registry: the production
// solver plus the exec and noop test drivers.
func DefaultRegistry() *driver.Registry {
	reg := driver.NewRegistry()
	for _, f := range []driver.Factory{toxswa.Factory(), driver.ExecFactory(), driver.NoopFactory()} {
		if err := reg.Register(f); err != nil {
			panic(fmt.Sprintf("register built-in driver: %v", err))
		}
	}
	return reg
}

func defaultExperimentsRoot() string {
	base := os.Getenv("XDG_STATE_HOME")
	if base == "" {
		home := os.Getenv("HOME")
		if home == "" {
			base = "."
		} else {
			base = filepath.Join(home, ".local", "state")
		}
	}
	return filepath.Join(base, "cascade", "experiments")
}

// Run executes one experiment. The config is defaulted and validated here
// so programmatic callers get the same checks as LoadRunConfigFile.
func Run(ctx context.Context, cfg *RunConfigFile, opts RunOptions) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("run config is nil")
	}
	applyConfigDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	e, err := newEngine(cfg, opts)
	if err != nil {
		return nil, err
	}
	return e.run(ctx)
}

func newEngine(cfg *RunConfigFile, opts RunOptions) (*Engine, error) {
	dir := filepath.Join(opts.ExperimentsRoot, cfg.Experiment.Name)
	e := &Engine{
		Options:       opts,
		ExperimentDir: dir,
		WorkDir:       filepath.Join(dir, "work"),
		OutputDir:     filepath.Join(dir, "output"),
		cfg:           cfg,
		registry:      opts.Registry,
		workers:       cfg.Scheduler.Workers,
	}
	if opts.Workers > 0 {
		e.workers = opts.Workers
	}
	for _, d := range []string{e.WorkDir, e.OutputDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) run(ctx context.Context) (res *Result, err error) {
	startedAt := time.Now().UTC()
	var cat *catchment.Catchment
	defer func() {
		if err == nil {
			return
		}
		fo := &FinalOutcome{
			Timestamp:     time.Now().UTC(),
			Status:        FinalFail,
			RunID:         e.Options.RunID,
			FailureReason: err.Error(),
		}
		if cat != nil {
			fo.Completed = cat.DoneCount()
			fo.FailedIDs = cat.FailedIDs()
			fo.Failed = len(fo.FailedIDs)
		}
		e.persistTerminalOutcome(fo)
		e.appendProgress(map[string]any{"event": "run_failed", "error": err.Error()})
	}()

	if err := e.writePIDFile(); err != nil {
		return nil, err
	}
	e.appendProgress(map[string]any{
		"event":      "run_start",
		"experiment": e.cfg.Experiment.Name,
		"driver":     e.cfg.Driver.Name,
		"workers":    e.workers,
	})
	_ = runstate.WriteJSONAtomicFile(filepath.Join(e.ExperimentDir, "run_config.json"), e.cfg)

	start, end, err := e.cfg.Horizon()
	if err != nil {
		return nil, err
	}

	built, misses, err := BuildCatchment(e.cfg)
	if err != nil {
		return nil, err
	}
	cat = built

	lintCfg := validate.Config{
		Workers:         e.workers,
		WorkDir:         e.WorkDir,
		SelectionMisses: misses,
	}
	diags := validate.Validate(cat, lintCfg)
	for _, d := range diags {
		switch d.Severity {
		case validate.SeverityWarning:
			e.Warn(d.Rule + ": " + d.Message)
		case validate.SeverityInfo:
			e.appendProgress(map[string]any{"event": "lint_info", "rule": d.Rule, "message": d.Message})
		}
	}
	if err := validate.ErrorFromDiagnostics(diags); err != nil {
		return nil, err
	}

	priorities, err := heft.Priorities(cat.DownstreamAdjacency())
	if err != nil {
		return nil, err
	}
	if err := writeDot(filepath.Join(e.ExperimentDir, "catchment.dot"), cat, priorities); err != nil {
		return nil, err
	}

	temps, err := tables.LoadTemperature(filepath.Join(e.cfg.Experiment.InputDir, e.cfg.Experiment.TemperatureFile))
	if err != nil {
		return nil, err
	}
	if err := tables.WriteMetFile(filepath.Join(e.WorkDir, "temperature.met"),
		windowTemperature(temps, start, end)); err != nil {
		return nil, err
	}

	env := driver.Env{
		ExperimentDir:           e.ExperimentDir,
		WorkDir:                 e.WorkDir,
		OutputDir:               e.OutputDir,
		InputDir:                e.cfg.Experiment.InputDir,
		Start:                   start,
		End:                     end,
		KeepOriginalOutputs:     e.cfg.Cleanup.KeepOriginalOutputs,
		DeleteUpstreamFluxFiles: *e.cfg.Cleanup.DeleteUpstreamFluxFiles,
	}
	drv, err := e.registry.Resolve(e.cfg.Driver.Name, env, e.cfg.Driver.Config)
	if err != nil {
		return nil, err
	}

	diagSink, err := sched.NewDiagnostics(filepath.Join(e.ExperimentDir, "diagnostics.csv"))
	if err != nil {
		return nil, err
	}
	defer diagSink.Close()

	scheduler, err := sched.New(cat, drv, sched.Config{
		Workers:       e.workers,
		StopGrace:     e.cfg.StopGrace(0),
		ExperimentDir: e.ExperimentDir,
		Progress:      e.schedulerEvent,
		Diagnostics:   diagSink,
	})
	if err != nil {
		return nil, err
	}
	if err := scheduler.Init(ctx); err != nil {
		return nil, err
	}
	if err := scheduler.Start(ctx); err != nil {
		return nil, err
	}

	if err := e.writeSummary(cat, priorities, startedAt); err != nil {
		return nil, err
	}

	failedIDs := cat.FailedIDs()
	if len(failedIDs) == 0 {
		removed, serr := e.scrubWorkDir()
		if serr != nil {
			e.Warn(fmt.Sprintf("scrub work dir: %v", serr))
		} else if removed > 0 {
			e.appendProgress(map[string]any{"event": "scrub_done", "removed": removed})
		}
	}

	final := &FinalOutcome{
		Timestamp: time.Now().UTC(),
		Status:    FinalSuccess,
		RunID:     e.Options.RunID,
		Completed: cat.DoneCount(),
		Failed:    len(failedIDs),
		FailedIDs: failedIDs,
	}
	if final.Failed > 0 {
		final.Status = FinalFail
		final.FailureReason = fmt.Sprintf("%d of %d reaches failed", final.Failed, cat.Len())
	}
	e.persistTerminalOutcome(final)
	e.appendProgress(map[string]any{
		"event":     "run_done",
		"status":    string(final.Status),
		"completed": final.Completed,
		"failed":    final.Failed,
	})

	return &Result{
		RunID:         e.Options.RunID,
		ExperimentDir: e.ExperimentDir,
		FinalStatus:   final.Status,
		Completed:     final.Completed,
		Failed:        final.Failed,
		FailedIDs:     failedIDs,
		Warnings:      e.warningsCopy(),
	}, nil
}

// Warn records a non-fatal problem on the run and in the progress feed.
func (e *Engine) Warn(msg string) {
	if e == nil {
		return
	}
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return
	}
	e.warningsMu.Lock()
	e.Warnings = append(e.Warnings, msg)
	e.warningsMu.Unlock()
	e.appendProgress(map[string]any{"event": "warning", "message": msg})
}

func (e *Engine) warningsCopy() []string {
	e.warningsMu.Lock()
	defer e.warningsMu.Unlock()
	if len(e.Warnings) == 0 {
		return nil
	}
	out := make([]string, len(e.Warnings))
	copy(out, e.Warnings)
	return out
}

// persistTerminalOutcome writes final.json exactly once per run.
func (e *Engine) persistTerminalOutcome(fo *FinalOutcome) {
	if e.terminalPersisted {
		return
	}
	e.terminalPersisted = true
	if err := fo.Save(e.ExperimentDir); err != nil {
		e.Warn(fmt.Sprintf("persist final outcome: %v", err))
	}
}

// BuildCatchment loads the reach table, applies the reach selection and
// finalizes the graph. The returned misses are selection patterns that
// matched no reach; the lint pass turns them into warnings.
func BuildCatchment(cfg *RunConfigFile) (*catchment.Catchment, []string, error) {
	rows, err := tables.LoadReachTable(filepath.Join(cfg.Experiment.InputDir, cfg.Experiment.ReachTable))
	if err != nil {
		return nil, nil, err
	}
	rows, misses, err := selectReaches(rows, cfg.Experiment.ReachSelection)
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("no reaches to run: table %s is empty after selection", cfg.Experiment.ReachTable)
	}
	cat := catchment.New()
	for _, row := range rows {
		if err := cat.AddReach(row.ID, row.Attributes, row.DownstreamIDs, row.HasLoading); err != nil {
			return nil, nil, err
		}
	}
	if err := cat.Finalize(); err != nil {
		return nil, nil, err
	}
	return cat, misses, nil
}

// ExperimentDir returns the directory Run would use for cfg under root.
// An empty root selects the default experiments root.
func ExperimentDir(root string, cfg *RunConfigFile) string {
	if root == "" {
		root = defaultExperimentsRoot()
	}
	return filepath.Join(root, cfg.Experiment.Name)
}

// selectReaches filters the table rows by the selection patterns. A plain
// id must name a reach in the table; a glob pattern may fall through, and
// comes back in misses for the lint pass to flag.
func selectReaches(rows []tables.ReachRow, patterns []string) ([]tables.ReachRow, []string, error) {
	if len(patterns) == 0 {
		return rows, nil, nil
	}
	keep := make(map[string]bool, len(rows))
	var misses []string
	for _, pat := range patterns {
		matched := false
		for _, row := range rows {
			ok, err := doublestar.Match(pat, row.ID)
			if err != nil {
				return nil, nil, fmt.Errorf("reach selection pattern %q: %w", pat, err)
			}
			if ok {
				keep[row.ID] = true
				matched = true
			}
		}
		if matched {
			continue
		}
		if strings.ContainsAny(pat, "*?[{") {
			misses = append(misses, pat)
			continue
		}
		return nil, nil, fmt.Errorf("reach selection names unknown reach %q", pat)
	}
	out := rows[:0:0]
	for _, row := range rows {
		if keep[row.ID] {
			out = append(out, row)
		}
	}
	return out, misses, nil
}

// windowTemperature clamps the daily series to the horizon, both days
// included.
func windowTemperature(rows []tables.TemperatureRow, start, end time.Time) []tables.TemperatureRow {
	out := rows[:0:0]
	for _, row := range rows {
		if row.Day.Before(start) || row.Day.After(end) {
			continue
		}
		out = append(out, row)
	}
	return out
}
