package runstate

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/procutil"
)

type State string

const (
	StateUnknown State = "unknown"
	StateRunning State = "running"
	StateSuccess State = "success"
	StateFail    State = "fail"
)

// Snapshot is a compact view of an experiment directory: where the run is,
// whether it finished, and whether a launcher process is still alive.
type Snapshot struct {
	ExperimentDir string
	RunID         string
	State         State
	FailureReason string

	LastEvent   string
	LastEventAt time.Time
	LastReachID string

	Completed int
	Failed    int

	PID      int
	PIDAlive bool
}

type finalDoc struct {
	Status        string `json:"status"`
	RunID         string `json:"run_id"`
	FailureReason string `json:"failure_reason"`
	Completed     int    `json:"completed"`
	Failed        int    `json:"failed"`
}

// LoadSnapshot reads run artifacts in experimentDir and resolves the run
// state. A terminal final.json is authoritative; live.json and
// progress.ndjson are best-effort activity feeds and never override it.
func LoadSnapshot(experimentDir string) (*Snapshot, error) {
	dir := strings.TrimSpace(experimentDir)
	if dir == "" {
		return nil, fmt.Errorf("experiment dir is required")
	}

	s := &Snapshot{
		ExperimentDir: dir,
		State:         StateUnknown,
	}

	if err := applyFinal(s); err != nil {
		return nil, err
	}
	terminal := s.State == StateSuccess || s.State == StateFail

	if !terminal {
		if err := applyLiveOrProgress(s); err != nil {
			return nil, err
		}
	}

	if err := applyPIDFile(s, terminal); err != nil {
		return nil, err
	}
	if s.State == StateUnknown && s.PIDAlive {
		s.State = StateRunning
	}

	return s, nil
}

func applyFinal(s *Snapshot) error {
	path := filepath.Join(s.ExperimentDir, "final.json")
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	var doc finalDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	if rid := strings.TrimSpace(doc.RunID); rid != "" {
		s.RunID = rid
	}
	s.Completed = doc.Completed
	s.Failed = doc.Failed
	switch strings.ToLower(strings.TrimSpace(doc.Status)) {
	case string(StateSuccess):
		s.State = StateSuccess
	case string(StateFail):
		s.State = StateFail
		if reason := strings.TrimSpace(doc.FailureReason); reason != "" {
			s.FailureReason = reason
		}
	}
	return nil
}

func applyLiveOrProgress(s *Snapshot) error {
	live, found, err := readLiveEvent(filepath.Join(s.ExperimentDir, "live.json"))
	if err != nil {
		return err
	}
	if !found {
		live, found, err = readLastProgressEvent(filepath.Join(s.ExperimentDir, "progress.ndjson"))
		if err != nil {
			return err
		}
	}
	if !found {
		return nil
	}

	if rid := eventString(live["run_id"]); rid != "" && s.RunID == "" {
		s.RunID = rid
	}
	s.LastEvent = eventString(live["event"])
	s.LastReachID = eventString(live["reach_id"])
	if ts := parseEventTime(live["ts"]); !ts.IsZero() {
		s.LastEventAt = ts
	}
	if reason := eventString(live["failure_reason"]); reason != "" {
		s.FailureReason = reason
	}
	return nil
}

func applyPIDFile(s *Snapshot, terminalState bool) error {
	path := filepath.Join(s.ExperimentDir, "run.pid")
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	raw := strings.TrimSpace(string(b))
	if raw == "" {
		if terminalState {
			return nil
		}
		return fmt.Errorf("parse %s: empty pid", path)
	}
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		if terminalState {
			return nil
		}
		return fmt.Errorf("parse %s: invalid pid %q", path, raw)
	}
	s.PID = pid
	s.PIDAlive = procutil.PIDAlive(pid)
	return nil
}

func readLiveEvent(path string) (map[string]any, bool, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var ev map[string]any
	if err := json.Unmarshal(b, &ev); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return ev, true, nil
}

func readLastProgressEvent(path string) (map[string]any, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	last := ""
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			last = line
		}
	}
	if err := sc.Err(); err != nil {
		return nil, false, err
	}
	if last == "" {
		return nil, false, nil
	}

	var ev map[string]any
	if err := json.Unmarshal([]byte(last), &ev); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}
	return ev, true, nil
}

func eventString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func parseEventTime(v any) time.Time {
	raw := eventString(v)
	if raw == "" {
		return time.Time{}
	}
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts
	}
	return time.Time{}
}
