package runstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadSnapshotEmptyDir(t *testing.T) {
	dir := t.TempDir()
	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if s.State != StateUnknown {
		t.Fatalf("state = %s, want %s", s.State, StateUnknown)
	}
}

func TestLoadSnapshotFinalIsAuthoritative(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "final.json"),
		`{"status":"success","run_id":"01ARZ","completed":7,"failed":0}`)
	// A stale live.json must not override the terminal record.
	writeFile(t, filepath.Join(dir, "live.json"),
		`{"event":"reach_report","reach_id":"R9","ts":"2026-01-02T03:04:05Z"}`)

	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if s.State != StateSuccess {
		t.Fatalf("state = %s, want %s", s.State, StateSuccess)
	}
	if s.RunID != "01ARZ" {
		t.Fatalf("run id = %q, want 01ARZ", s.RunID)
	}
	if s.Completed != 7 || s.Failed != 0 {
		t.Fatalf("counts = %d/%d, want 7/0", s.Completed, s.Failed)
	}
	if s.LastReachID != "" {
		t.Fatalf("last reach = %q, want empty (live.json ignored on terminal)", s.LastReachID)
	}
}

func TestLoadSnapshotFailCarriesReason(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "final.json"),
		`{"status":"fail","run_id":"01BQX","failure_reason":"2 reaches failed","completed":5,"failed":2}`)

	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if s.State != StateFail {
		t.Fatalf("state = %s, want %s", s.State, StateFail)
	}
	if s.FailureReason != "2 reaches failed" {
		t.Fatalf("failure reason = %q", s.FailureReason)
	}
}

func TestLoadSnapshotLiveFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "live.json"),
		`{"event":"reach_report","run_id":"01CZZ","reach_id":"R3","ts":"2026-01-02T03:04:05Z"}`)

	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if s.LastEvent != "reach_report" {
		t.Fatalf("last event = %q", s.LastEvent)
	}
	if s.LastReachID != "R3" {
		t.Fatalf("last reach = %q, want R3", s.LastReachID)
	}
	if s.RunID != "01CZZ" {
		t.Fatalf("run id = %q, want 01CZZ", s.RunID)
	}
	if s.LastEventAt.IsZero() {
		t.Fatalf("last event time not parsed")
	}
}

func TestLoadSnapshotProgressFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "progress.ndjson"),
		`{"event":"run_start","run_id":"01DDD","ts":"2026-01-02T03:00:00Z"}`+"\n"+
			`{"event":"reach_dispatch","reach_id":"R1","ts":"2026-01-02T03:00:01Z"}`+"\n")

	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if s.LastEvent != "reach_dispatch" {
		t.Fatalf("last event = %q, want reach_dispatch (last line wins)", s.LastEvent)
	}
	if s.LastReachID != "R1" {
		t.Fatalf("last reach = %q, want R1", s.LastReachID)
	}
}

func TestLoadSnapshotPIDAliveMeansRunning(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "run.pid"), fmt.Sprintf("%d\n", os.Getpid()))

	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !s.PIDAlive {
		t.Fatalf("pid %d should be alive", os.Getpid())
	}
	if s.State != StateRunning {
		t.Fatalf("state = %s, want %s", s.State, StateRunning)
	}
}

func TestLoadSnapshotBadPIDAfterTerminalTolerated(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "final.json"), `{"status":"success","run_id":"01EEE"}`)
	writeFile(t, filepath.Join(dir, "run.pid"), "not-a-pid")

	s, err := LoadSnapshot(dir)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if s.State != StateSuccess {
		t.Fatalf("state = %s, want %s", s.State, StateSuccess)
	}
}

func TestWriteJSONAtomicFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "out.json")
	if err := WriteJSONAtomicFile(path, map[string]any{"a": 1}); err != nil {
		t.Fatalf("WriteJSONAtomicFile: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["a"].(float64) != 1 {
		t.Fatalf("round trip lost value: %v", got)
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp file left behind: %d entries", len(entries))
	}
}
