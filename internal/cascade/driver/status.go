package driver

import (
	"fmt"
	"strings"
)

// Status is the outcome a driver reports for one action on one reach.
type Status string

const (
	StatusOK        Status = "ok"
	StatusSkipReach Status = "skip_reach"
	StatusSkipExist Status = "skip_exist"
	StatusError     Status = "error"
)

// ParseStatus normalizes a serialized status. Accepts the spellings seen in
// run artifacts and driver configs.
func ParseStatus(s string) (Status, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	switch v {
	case "ok", "success":
		return StatusOK, nil
	case "skip_reach", "skipreach":
		return StatusSkipReach, nil
	case "skip_exist", "skipexist":
		return StatusSkipExist, nil
	case "error", "fail", "failure":
		return StatusError, nil
	default:
		return "", fmt.Errorf("unknown driver status %q", s)
	}
}

func (s Status) Valid() bool {
	_, err := ParseStatus(string(s))
	return err == nil
}

// Skipped reports whether the action finished without invoking the solver.
func (s Status) Skipped() bool {
	return s == StatusSkipReach || s == StatusSkipExist
}

// Message returns the human-readable form used in worker logs and summaries.
func (s Status) Message() string {
	switch s {
	case StatusOK:
		return "success"
	case StatusSkipReach:
		return "skipped: run not required"
	case StatusSkipExist:
		return "skipped: existing results found"
	case StatusError:
		return "error"
	default:
		return string(s)
	}
}
