package sched

import (
	"strconv"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/driver"
)

// Report is a worker's account of one executed command.
type Report struct {
	WorkerID int
	Priority int
	Action   Action
	Started  time.Time
	Ended    time.Time
	// Idle is the worker's cumulative time spent blocked on the queue,
	// measured up to the point this command was popped.
	Idle   time.Duration
	Driver driver.Report
}

const diagTimeLayout = "02-01-2006 15:04:05"

// diagnosticsFields flattens a run report into the diagnostics row order.
func diagnosticsFields(rep Report) []Field {
	return []Field{
		{Name: "worker", Value: strconv.Itoa(rep.WorkerID)},
		{Name: "priority", Value: strconv.Itoa(rep.Priority)},
		{Name: "action", Value: string(rep.Action)},
		{Name: "startTime", Value: rep.Started.Format(diagTimeLayout)},
		{Name: "endTime", Value: rep.Ended.Format(diagTimeLayout)},
		{Name: "status", Value: rep.Driver.Status.Message()},
		{Name: "runTimeSolver", Value: formatSeconds(rep.Driver.SolverTime)},
		{Name: "runTimeTotal", Value: formatSeconds(rep.Driver.TotalTime)},
		{Name: "timeStepSediment", Value: strconv.FormatFloat(rep.Driver.SedimentTimestep, 'g', -1, 64)},
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
