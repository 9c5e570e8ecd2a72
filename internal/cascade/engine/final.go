package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/runstate"
)

type FinalStatus string

const (
	FinalSuccess FinalStatus = "success"
	FinalFail    FinalStatus = "fail"
)

// FinalOutcome is the authoritative terminal record of a run, written once
// as final.json. Status probes trust it over every other artifact.
type FinalOutcome struct {
	Timestamp time.Time   `json:"timestamp"`
	Status    FinalStatus `json:"status"`

	RunID string `json:"run_id"`

	FailureReason string `json:"failure_reason,omitempty"`

	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	FailedIDs []string `json:"failed_ids,omitempty"`
}

func (fo *FinalOutcome) Save(experimentDir string) error {
	if fo == nil {
		return fmt.Errorf("final outcome is nil")
	}
	return runstate.WriteJSONAtomicFile(filepath.Join(experimentDir, "final.json"), fo)
}
