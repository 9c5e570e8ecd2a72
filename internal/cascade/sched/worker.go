package sched

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/driver"
)

// worker executes queued commands against the run's driver and reports
// each result back. In parallel mode every worker runs loop in its own
// goroutine and keeps a timestamped log file; in serial mode the scheduler
// calls step inline and no log is written.
type worker struct {
	id      int
	drv     driver.Driver
	queue   *CommandQueue
	reports chan<- Report
	expDir  string

	idle time.Duration
	log  *os.File
}

func newWorker(id int, drv driver.Driver, queue *CommandQueue, reports chan<- Report, expDir string) *worker {
	return &worker{id: id, drv: drv, queue: queue, reports: reports, expDir: expDir}
}

// loop pops and executes commands until a stop command arrives or the
// queue closes.
func (w *worker) loop(ctx context.Context) {
	logPath := filepath.Join(w.expDir, fmt.Sprintf("worker_%d.log", w.id))
	if f, err := os.Create(logPath); err == nil {
		w.log = f
		defer func() { _ = f.Close() }()
	}
	for {
		waitStart := time.Now()
		cmd, ok := w.queue.Pop()
		w.idle += time.Since(waitStart)
		if !ok || cmd.Action == ActionStop {
			w.logf("stopping, cumulative idle %s", w.idle.Round(time.Millisecond))
			return
		}
		rep := w.execute(ctx, cmd)
		select {
		case w.reports <- rep:
		case <-ctx.Done():
			return
		}
	}
}

// step executes exactly one queued command inline and returns its report.
// The second return is false when the queue closed or a stop command was
// popped.
func (w *worker) step(ctx context.Context) (Report, bool) {
	cmd, ok := w.queue.Pop()
	if !ok || cmd.Action == ActionStop {
		return Report{}, false
	}
	return w.execute(ctx, cmd), true
}

func (w *worker) execute(ctx context.Context, cmd Command) Report {
	started := time.Now()
	w.logf("%s reach %s (priority %d)", actionVerb(cmd.Action), cmd.Reach.ID, cmd.Priority)
	drep := w.invoke(ctx, cmd)
	w.logf("finished %s reach %s: %s", actionVerb(cmd.Action), cmd.Reach.ID, drep.Status.Message())
	return Report{
		WorkerID: w.id,
		Priority: cmd.Priority,
		Action:   cmd.Action,
		Started:  started,
		Ended:    time.Now(),
		Idle:     w.idle,
		Driver:   drep,
	}
}

// invoke dispatches to the driver. A panic inside the driver is captured
// to a file and converted into an error report so one reach cannot take
// down the whole run.
func (w *worker) invoke(ctx context.Context, cmd Command) (rep driver.Report) {
	defer func() {
		if r := recover(); r != nil {
			name := fmt.Sprintf("panic_%s_%s.txt", cmd.Action, cmd.Reach.ID)
			body := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
			_ = os.WriteFile(filepath.Join(w.expDir, name), []byte(body), 0o644)
			rep = driver.ErrorReport(cmd.Reach.ID, fmt.Errorf("%s panicked: %v", cmd.Action, r))
		}
	}()
	switch cmd.Action {
	case ActionInit:
		return w.drv.Init(ctx, cmd.Reach)
	case ActionRun:
		return w.drv.Run(ctx, cmd.Reach)
	case ActionCleanup:
		return w.drv.Cleanup(ctx, cmd.Reach)
	default:
		return driver.ErrorReport(cmd.Reach.ID, fmt.Errorf("unknown action %q", cmd.Action))
	}
}

func (w *worker) logf(format string, args ...any) {
	if w.log == nil {
		return
	}
	fmt.Fprintf(w.log, "%s: worker %d: %s\n",
		time.Now().Format("2006-01-02 15:04:05.000000"), w.id, fmt.Sprintf(format, args...))
}

func actionVerb(a Action) string {
	switch a {
	case ActionInit:
		return "initializing"
	case ActionRun:
		return "running"
	case ActionCleanup:
		return "cleaning up"
	default:
		return string(a)
	}
}
