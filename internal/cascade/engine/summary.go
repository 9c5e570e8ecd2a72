package engine

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
	"github.com/danshapiro/cascade/internal/cascade/runstate"
)

// reachSummary is one row of the aggregate completion report: the reach's
// final state plus the timings its reports carried.
type reachSummary struct {
	ReachID  string `json:"reach_id"`
	State    string `json:"state"`
	Priority int    `json:"priority"`
	Skip     bool   `json:"skip"`

	StatusMessage string `json:"status_message,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	InitMS    int64 `json:"init_ms"`
	RunMS     int64 `json:"run_ms"`
	CleanupMS int64 `json:"cleanup_ms"`

	// Run-phase solver detail; zero when the reach never ran.
	SolverMS  int64   `json:"solver_ms,omitempty"`
	TimestepS float64 `json:"timestep_s,omitempty"`
}

type runSummary struct {
	RunID      string         `json:"run_id"`
	Experiment string         `json:"experiment"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Workers    int            `json:"workers"`
	Reaches    []reachSummary `json:"reaches"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	FailedIDs  []string       `json:"failed_ids,omitempty"`
}

// recordReportEvent folds a scheduler reach_report event into the summary
// accumulator. Later reports for the same reach and action win; the run
// action keeps the last attempt's solver detail.
func (e *Engine) recordReportEvent(ev map[string]any) {
	if evString(ev["event"]) != "reach_report" {
		return
	}
	id := evString(ev["reach_id"])
	if id == "" {
		return
	}
	e.summaryMu.Lock()
	defer e.summaryMu.Unlock()
	if e.timings == nil {
		e.timings = map[string]*reachTimings{}
	}
	t := e.timings[id]
	if t == nil {
		t = &reachTimings{}
		e.timings[id] = t
	}
	ms := evInt64(ev["duration_ms"])
	switch evString(ev["action"]) {
	case "init":
		t.initMS = ms
	case "run":
		t.runMS = ms
		t.solverMS = evInt64(ev["solver_ms"])
		t.timestepS = evFloat(ev["timestep_s"])
		t.statusMessage = evString(ev["status_message"])
	case "cleanup":
		t.cleanupMS = ms
	}
	if reason := evString(ev["failure_reason"]); reason != "" {
		t.failureReason = reason
		t.statusMessage = evString(ev["status_message"])
	}
}

type reachTimings struct {
	initMS, runMS, cleanupMS int64
	solverMS                 int64
	timestepS                float64
	statusMessage            string
	failureReason            string
}

// writeSummary renders the aggregate completion report. Rows come out in
// dispatch priority order.
func (e *Engine) writeSummary(cat *catchment.Catchment, priorities map[string]int, startedAt time.Time) error {
	e.summaryMu.Lock()
	defer e.summaryMu.Unlock()

	snaps := cat.Snapshots()
	rows := make([]reachSummary, 0, len(snaps))
	for _, snap := range snaps {
		st, err := cat.State(snap.ID)
		if err != nil {
			return err
		}
		row := reachSummary{
			ReachID:  snap.ID,
			State:    string(st),
			Priority: priorities[snap.ID],
			Skip:     snap.Skip,
		}
		if t := e.timings[snap.ID]; t != nil {
			row.StatusMessage = t.statusMessage
			row.FailureReason = t.failureReason
			row.InitMS = t.initMS
			row.RunMS = t.runMS
			row.CleanupMS = t.cleanupMS
			row.SolverMS = t.solverMS
			row.TimestepS = t.timestepS
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Priority < rows[j].Priority })

	doc := runSummary{
		RunID:      e.Options.RunID,
		Experiment: e.cfg.Experiment.Name,
		StartedAt:  startedAt,
		FinishedAt: time.Now().UTC(),
		Workers:    e.workers,
		Reaches:    rows,
		Completed:  cat.DoneCount(),
		FailedIDs:  cat.FailedIDs(),
	}
	doc.Failed = len(doc.FailedIDs)
	return runstate.WriteJSONAtomicFile(filepath.Join(e.ExperimentDir, "summary.json"), doc)
}

func evString(v any) string {
	s, _ := v.(string)
	return s
}

func evInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func evFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	case int:
		return float64(t)
	default:
		return 0
	}
}
