package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
	"github.com/danshapiro/cascade/internal/cascade/driver"
	"github.com/danshapiro/cascade/internal/cascade/heft"
)

// Config controls a Scheduler.
type Config struct {
	// Workers is the worker count. 1 selects the inline serial mode with
	// no worker goroutines.
	Workers int
	// StopGrace bounds the wait for workers to drain after stop commands
	// are enqueued. Defaults to 4 seconds.
	StopGrace time.Duration
	// ExperimentDir receives worker logs and panic captures.
	ExperimentDir string
	// Progress receives one event map per scheduler event. May be nil.
	Progress func(map[string]any)
	// Diagnostics records one row per run report. May be nil.
	Diagnostics *Diagnostics
}

// Scheduler dispatches reach commands to workers in upward-rank priority
// order and folds their reports back into the catchment state machine.
// Usage is New, then Init once, then Start once.
type Scheduler struct {
	cat      *catchment.Catchment
	drv      driver.Driver
	cfg      Config
	priority map[string]int
	stopPrio int

	queue   *CommandQueue
	reports chan Report
	workers []*worker
	wg      sync.WaitGroup
	running bool
	inited  bool
}

func New(cat *catchment.Catchment, drv driver.Driver, cfg Config) (*Scheduler, error) {
	if cat == nil || cat.Len() == 0 {
		return nil, fmt.Errorf("scheduler needs a finalized catchment with at least one reach")
	}
	if drv == nil {
		return nil, fmt.Errorf("scheduler needs a driver")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("worker count must be at least 1, got %d", cfg.Workers)
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 4 * time.Second
	}
	priority, err := heft.Priorities(cat.DownstreamAdjacency())
	if err != nil {
		return nil, fmt.Errorf("compute reach priorities: %w", err)
	}
	stopPrio := 0
	for _, p := range priority {
		if p >= stopPrio {
			stopPrio = p + 1
		}
	}
	s := &Scheduler{
		cat:      cat,
		drv:      drv,
		cfg:      cfg,
		priority: priority,
		stopPrio: stopPrio,
		queue:    NewCommandQueue(),
		reports:  make(chan Report, cat.Len()),
	}
	for i := 0; i < cfg.Workers; i++ {
		s.workers = append(s.workers, newWorker(i, drv, s.queue, s.reports, cfg.ExperimentDir))
	}
	return s, nil
}

// Priorities returns a copy of the computed reach priority map. Lower
// values are dispatched first.
func (s *Scheduler) Priorities() map[string]int {
	out := make(map[string]int, len(s.priority))
	for id, p := range s.priority {
		out[id] = p
	}
	return out
}

func (s *Scheduler) parallel() bool { return s.cfg.Workers > 1 }

// Init enqueues one init command per reach and blocks until every reach
// has reported. In parallel mode this also starts the worker goroutines.
// A reach whose init reports an error is failed before dispatch, which
// demotes everything waiting downstream of it.
func (s *Scheduler) Init(ctx context.Context) error {
	if s.inited {
		return fmt.Errorf("scheduler already initialized")
	}
	s.inited = true

	ids := s.cat.IDs()
	s.emit(map[string]any{
		"event":   "scheduler_init_start",
		"reaches": len(ids),
		"workers": s.cfg.Workers,
	})
	for _, id := range ids {
		snap, _ := s.cat.Snapshot(id)
		s.queue.Push(Command{Priority: s.priority[id], Action: ActionInit, Reach: snap})
	}

	if s.parallel() {
		s.running = true
		for _, w := range s.workers {
			s.wg.Add(1)
			go func(w *worker) {
				defer s.wg.Done()
				w.loop(ctx)
			}(w)
		}
	}

	failed := 0
	for n := 0; n < len(ids); n++ {
		rep, err := s.nextReport(ctx)
		if err != nil {
			s.shutdown()
			return err
		}
		s.emitReport(rep)
		if rep.Driver.Status == driver.StatusError {
			failed++
			if merr := s.cat.MarkFailed(rep.Driver.ReachID); merr != nil {
				s.shutdown()
				return merr
			}
		}
	}
	s.emit(map[string]any{"event": "scheduler_init_done", "failed": failed})
	return nil
}

// Start dispatches run and cleanup commands until every reach is in a
// terminal state, then stops the workers. Call after Init.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.inited {
		return fmt.Errorf("scheduler not initialized")
	}
	s.emit(map[string]any{"event": "scheduler_run_start"})
	s.refill()

	for !s.cat.Done() {
		rep, err := s.nextReport(ctx)
		if err != nil {
			s.shutdown()
			return err
		}
		if rep.Action == ActionRun && s.cfg.Diagnostics != nil {
			if derr := s.cfg.Diagnostics.Record(rep.Driver.ReachID, diagnosticsFields(rep)); derr != nil {
				s.emit(map[string]any{"event": "diagnostics_error", "error": derr.Error()})
			}
		}
		s.emitReport(rep)
		if err := s.apply(rep); err != nil {
			s.shutdown()
			return err
		}
		s.refill()
	}

	s.emit(map[string]any{
		"event":  "scheduler_done",
		"done":   s.cat.DoneCount(),
		"failed": len(s.cat.FailedIDs()),
	})
	return s.shutdown()
}

// nextReport yields the next worker report. Serial mode executes the next
// queued command inline instead of waiting on the channel.
func (s *Scheduler) nextReport(ctx context.Context) (Report, error) {
	if !s.parallel() {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		rep, ok := s.workers[0].step(ctx)
		if !ok {
			return Report{}, fmt.Errorf("command queue drained with reaches still pending")
		}
		return rep, nil
	}
	select {
	case rep := <-s.reports:
		return rep, nil
	case <-ctx.Done():
		return Report{}, ctx.Err()
	}
}

// apply folds one report into the state machine. An error status fails the
// reach regardless of phase; otherwise the reach advances from Running or
// Cleaning.
func (s *Scheduler) apply(rep Report) error {
	id := rep.Driver.ReachID
	if rep.Driver.Status == driver.StatusError {
		return s.cat.MarkFailed(id)
	}
	st, err := s.cat.State(id)
	if err != nil {
		return err
	}
	switch st {
	case catchment.StateRunning:
		return s.cat.MarkRunDone(id)
	case catchment.StateCleaning:
		return s.cat.MarkDone(id)
	default:
		return fmt.Errorf("report for reach %q arrived in unexpected state %s", id, st)
	}
}

// refill dispatches every startable run and every eligible cleanup.
func (s *Scheduler) refill() {
	for _, id := range s.cat.EligibleToStart() {
		if err := s.cat.MarkRunning(id); err != nil {
			continue
		}
		snap, _ := s.cat.Snapshot(id)
		s.dispatch(Command{Priority: s.priority[id], Action: ActionRun, Reach: snap})
	}
	for _, id := range s.cat.EligibleToClean() {
		if err := s.cat.MarkCleaning(id); err != nil {
			continue
		}
		snap, _ := s.cat.Snapshot(id)
		s.dispatch(Command{Priority: s.priority[id], Action: ActionCleanup, Reach: snap})
	}
}

func (s *Scheduler) dispatch(cmd Command) {
	s.queue.Push(cmd)
	s.emit(map[string]any{
		"event":    "reach_dispatch",
		"reach_id": cmd.Reach.ID,
		"action":   string(cmd.Action),
		"priority": cmd.Priority,
	})
}

// shutdown enqueues one stop command per worker at priorities after all
// reach work, then waits up to StopGrace for the goroutines to exit.
func (s *Scheduler) shutdown() error {
	if !s.parallel() || !s.running {
		return nil
	}
	s.running = false
	for i := range s.workers {
		s.queue.Push(Command{Priority: s.stopPrio + i, Action: ActionStop})
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.StopGrace):
		s.emit(map[string]any{"event": "worker_stop_timeout", "grace": s.cfg.StopGrace.String()})
	}
	s.queue.Close()
	return nil
}

func (s *Scheduler) emitReport(rep Report) {
	ev := map[string]any{
		"event":          "reach_report",
		"reach_id":       rep.Driver.ReachID,
		"action":         string(rep.Action),
		"status":         string(rep.Driver.Status),
		"status_message": rep.Driver.Status.Message(),
		"worker":         rep.WorkerID,
		"priority":       rep.Priority,
		"duration_ms":    rep.Ended.Sub(rep.Started).Milliseconds(),
	}
	if rep.Driver.Reason != "" {
		ev["failure_reason"] = rep.Driver.Reason
	}
	if rep.Action == ActionRun && rep.Driver.Status == driver.StatusOK {
		ev["solver_ms"] = rep.Driver.SolverTime.Milliseconds()
		ev["timestep_s"] = rep.Driver.SedimentTimestep
	}
	s.emit(ev)
}

func (s *Scheduler) emit(ev map[string]any) {
	if s.cfg.Progress == nil {
		return
	}
	s.cfg.Progress(ev)
}
