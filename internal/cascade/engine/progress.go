package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/runstate"
)

// appendProgress records one event: a line in progress.ndjson, an atomic
// refresh of live.json, and a call to the in-process sink when one is set.
// Every event is stamped with ts and run_id. Failures to persist are
// swallowed; progress is an activity feed, not the record of truth.
func (e *Engine) appendProgress(ev map[string]any) {
	if e == nil || ev == nil {
		return
	}
	if _, ok := ev["ts"]; !ok {
		ev["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if _, ok := ev["run_id"]; !ok {
		ev["run_id"] = e.Options.RunID
	}

	e.progressMu.Lock()
	line, err := json.Marshal(ev)
	if err == nil {
		f, ferr := os.OpenFile(filepath.Join(e.ExperimentDir, "progress.ndjson"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if ferr == nil {
			_, _ = f.Write(append(line, '\n'))
			_ = f.Close()
		}
		_ = runstate.WriteFileAtomic(filepath.Join(e.ExperimentDir, "live.json"), line)
	}
	sink := e.Options.ProgressSink
	e.progressMu.Unlock()

	if sink != nil {
		sink(ev)
	}
}

// schedulerEvent is the scheduler's progress callback. Run reports are
// folded into the summary accumulator on the way through.
func (e *Engine) schedulerEvent(ev map[string]any) {
	e.recordReportEvent(ev)
	e.appendProgress(ev)
}

// writePIDFile drops the launcher pid next to the progress artifacts so
// status probes can tell a dead run from a slow one.
func (e *Engine) writePIDFile() error {
	pid := []byte(strconv.Itoa(os.Getpid()) + "\n")
	return os.WriteFile(filepath.Join(e.ExperimentDir, "run.pid"), pid, 0o644)
}
