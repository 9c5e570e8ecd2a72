package catchment

import (
	"errors"
	"reflect"
	"testing"
)

func buildChain(t *testing.T, loaded map[string]bool, edges map[string][]string, ids ...string) *Catchment {
	t.Helper()
	c := New()
	for _, id := range ids {
		if err := c.AddReach(id, Attributes{Length: 100, Width: 2}, edges[id], loaded[id]); err != nil {
			t.Fatalf("AddReach(%s): %v", id, err)
		}
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return c
}

func mustState(t *testing.T, c *Catchment, id string, want State) {
	t.Helper()
	got, err := c.State(id)
	if err != nil {
		t.Fatalf("State(%s): %v", id, err)
	}
	if got != want {
		t.Fatalf("state of %s: got %s want %s", id, got, want)
	}
}

func TestAddReach_DuplicateID(t *testing.T) {
	c := New()
	if err := c.AddReach("A", Attributes{}, nil, true); err != nil {
		t.Fatalf("first add: %v", err)
	}
	err := c.AddReach("A", Attributes{}, nil, false)
	if err == nil {
		t.Fatalf("expected duplicate id error")
	}
	var topo *TopologyError
	if !errors.As(err, &topo) {
		t.Fatalf("expected TopologyError, got %T: %v", err, err)
	}
}

func TestFinalize_LinearChainEligibility(t *testing.T) {
	c := buildChain(t,
		map[string]bool{"A": true, "B": true, "C": true},
		map[string][]string{"A": {"B"}, "B": {"C"}},
		"A", "B", "C")

	if got := c.EligibleToStart(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("eligible to start: got %v want [A]", got)
	}
	mustState(t, c, "B", StateWaiting)
	mustState(t, c, "C", StateWaiting)

	// A runs: B becomes startable, nothing cleanable yet.
	if err := c.MarkRunning("A"); err != nil {
		t.Fatalf("MarkRunning(A): %v", err)
	}
	if err := c.MarkRunDone("A"); err != nil {
		t.Fatalf("MarkRunDone(A): %v", err)
	}
	if got := c.EligibleToStart(); !reflect.DeepEqual(got, []string{"B"}) {
		t.Fatalf("after A: eligible to start got %v want [B]", got)
	}
	if got := c.EligibleToClean(); len(got) != 0 {
		t.Fatalf("after A: eligible to clean got %v want none", got)
	}

	// B runs: A becomes cleanable (its only consumer finished), C startable.
	if err := c.MarkRunning("B"); err != nil {
		t.Fatalf("MarkRunning(B): %v", err)
	}
	if err := c.MarkRunDone("B"); err != nil {
		t.Fatalf("MarkRunDone(B): %v", err)
	}
	if got := c.EligibleToClean(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("after B: eligible to clean got %v want [A]", got)
	}
	if got := c.EligibleToStart(); !reflect.DeepEqual(got, []string{"C"}) {
		t.Fatalf("after B: eligible to start got %v want [C]", got)
	}

	// C runs: it is a leaf, so both B and C become cleanable.
	if err := c.MarkRunning("C"); err != nil {
		t.Fatalf("MarkRunning(C): %v", err)
	}
	if err := c.MarkRunDone("C"); err != nil {
		t.Fatalf("MarkRunDone(C): %v", err)
	}
	if got := c.EligibleToClean(); !reflect.DeepEqual(got, []string{"A", "B", "C"}) {
		t.Fatalf("after C: eligible to clean got %v want [A B C]", got)
	}

	for _, id := range []string{"A", "B", "C"} {
		if err := c.MarkCleaning(id); err != nil {
			t.Fatalf("MarkCleaning(%s): %v", id, err)
		}
		if err := c.MarkDone(id); err != nil {
			t.Fatalf("MarkDone(%s): %v", id, err)
		}
	}
	if !c.Done() {
		t.Fatalf("catchment not done after all reaches cleaned")
	}
	if got := c.DoneCount(); got != 3 {
		t.Fatalf("done count: got %d want 3", got)
	}
}

func TestFinalize_DiamondLoadingPropagation(t *testing.T) {
	// A -> {B, C} -> D, only B carries a direct loading.
	c := buildChain(t,
		map[string]bool{"B": true},
		map[string][]string{"A": {"B", "C"}, "B": {"D"}, "C": {"D"}},
		"A", "B", "C", "D")

	for id, wantSkip := range map[string]bool{"A": true, "B": false, "C": true, "D": false} {
		r, ok := c.Reach(id)
		if !ok {
			t.Fatalf("missing reach %s", id)
		}
		if got := r.Skip(); got != wantSkip {
			t.Fatalf("skip for %s: got %v want %v", id, got, wantSkip)
		}
	}

	// D is simulated, so both its parents must emit flux files. A's children
	// include B (simulated), so A emits too. D is a leaf: no file needed.
	for id, want := range map[string]bool{"A": true, "B": true, "C": true, "D": false} {
		r, _ := c.Reach(id)
		if got := r.MassOutflowFileNeeded; got != want {
			t.Fatalf("massOutflowFileNeeded for %s: got %v want %v", id, got, want)
		}
	}

	if got, want := c.Roots(), []string{"A"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("roots: got %v want %v", got, want)
	}
	if got, want := c.Leaves(), []string{"D"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("leaves: got %v want %v", got, want)
	}

	// D waits for both parents.
	if err := c.MarkRunning("A"); err != nil {
		t.Fatalf("MarkRunning(A): %v", err)
	}
	if err := c.MarkRunDone("A"); err != nil {
		t.Fatalf("MarkRunDone(A): %v", err)
	}
	if err := c.MarkRunning("B"); err != nil {
		t.Fatalf("MarkRunning(B): %v", err)
	}
	if err := c.MarkRunDone("B"); err != nil {
		t.Fatalf("MarkRunDone(B): %v", err)
	}
	mustState(t, c, "D", StateWaiting)
	if err := c.MarkRunning("C"); err != nil {
		t.Fatalf("MarkRunning(C): %v", err)
	}
	if err := c.MarkRunDone("C"); err != nil {
		t.Fatalf("MarkRunDone(C): %v", err)
	}
	mustState(t, c, "D", StateCanStart)
}

func TestMarkFailed_PropagatesToWaitingCone(t *testing.T) {
	c := buildChain(t,
		map[string]bool{"A": true, "B": true, "C": true},
		map[string][]string{"A": {"B"}, "B": {"C"}},
		"A", "B", "C")

	if err := c.MarkRunning("A"); err != nil {
		t.Fatalf("MarkRunning(A): %v", err)
	}
	if err := c.MarkRunDone("A"); err != nil {
		t.Fatalf("MarkRunDone(A): %v", err)
	}
	if err := c.MarkRunning("B"); err != nil {
		t.Fatalf("MarkRunning(B): %v", err)
	}
	if err := c.MarkFailed("B"); err != nil {
		t.Fatalf("MarkFailed(B): %v", err)
	}

	mustState(t, c, "B", StateError)
	mustState(t, c, "C", StateUpstreamError)
	if got, want := c.FailedIDs(), []string{"B", "C"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("failed ids: got %v want %v", got, want)
	}

	// B will never consume A's flux file, so A is free to clean up and the
	// catchment can still finish with completedCount = 1.
	if got := c.EligibleToClean(); !reflect.DeepEqual(got, []string{"A"}) {
		t.Fatalf("eligible to clean after failure: got %v want [A]", got)
	}
	if err := c.MarkCleaning("A"); err != nil {
		t.Fatalf("MarkCleaning(A): %v", err)
	}
	if err := c.MarkDone("A"); err != nil {
		t.Fatalf("MarkDone(A): %v", err)
	}
	if !c.Done() {
		t.Fatalf("catchment should be done: 1 done + 2 failed")
	}
	if got := c.DoneCount(); got != 1 {
		t.Fatalf("done count: got %d want 1", got)
	}
}

func TestMarkFailed_OnlyWaitingReachesDemoted(t *testing.T) {
	// A -> B, A -> C. C fails while B already ran: B keeps its state.
	c := buildChain(t,
		map[string]bool{"A": true},
		map[string][]string{"A": {"B", "C"}},
		"A", "B", "C")

	for _, id := range []string{"A"} {
		if err := c.MarkRunning(id); err != nil {
			t.Fatalf("MarkRunning(%s): %v", id, err)
		}
		if err := c.MarkRunDone(id); err != nil {
			t.Fatalf("MarkRunDone(%s): %v", id, err)
		}
	}
	if err := c.MarkRunning("B"); err != nil {
		t.Fatalf("MarkRunning(B): %v", err)
	}
	if err := c.MarkRunDone("B"); err != nil {
		t.Fatalf("MarkRunDone(B): %v", err)
	}
	if err := c.MarkRunning("C"); err != nil {
		t.Fatalf("MarkRunning(C): %v", err)
	}
	if err := c.MarkFailed("C"); err != nil {
		t.Fatalf("MarkFailed(C): %v", err)
	}

	mustState(t, c, "B", StateCanBeCleaned)
	mustState(t, c, "C", StateError)
	// A's consumers are B (ran) and C (failed): cleanable.
	got := c.EligibleToClean()
	if !reflect.DeepEqual(got, []string{"A", "B"}) {
		t.Fatalf("eligible to clean: got %v want [A B]", got)
	}
}

func TestFinalize_PrunesDanglingDownstream(t *testing.T) {
	c := New()
	if err := c.AddReach("X", Attributes{}, []string{"Y"}, true); err != nil {
		t.Fatalf("AddReach: %v", err)
	}
	if err := c.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	r, _ := c.Reach("X")
	if len(r.DownstreamIDs) != 0 {
		t.Fatalf("downstream of X not pruned: %v", r.DownstreamIDs)
	}
	if got, want := c.PrunedEdges(), []PrunedEdge{{From: "X", To: "Y"}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("pruned edges: got %v want %v", got, want)
	}
	if got, want := c.Leaves(), []string{"X"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("leaves: got %v want %v", got, want)
	}
}

func TestFinalize_RejectsCycle(t *testing.T) {
	c := New()
	if err := c.AddReach("A", Attributes{}, []string{"B"}, true); err != nil {
		t.Fatalf("AddReach(A): %v", err)
	}
	if err := c.AddReach("B", Attributes{}, []string{"A"}, false); err != nil {
		t.Fatalf("AddReach(B): %v", err)
	}
	err := c.Finalize()
	if err == nil {
		t.Fatalf("expected cycle error")
	}
	var topo *TopologyError
	if !errors.As(err, &topo) {
		t.Fatalf("expected TopologyError, got %T: %v", err, err)
	}
	if got := c.EligibleToStart(); len(got) != 0 {
		t.Fatalf("nothing may be eligible after a rejected finalize, got %v", got)
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	c := buildChain(t,
		map[string]bool{"A": true},
		map[string][]string{"A": {"B"}},
		"A", "B")
	before := c.EligibleToStart()
	if err := c.Finalize(); err != nil {
		t.Fatalf("second Finalize: %v", err)
	}
	after := c.EligibleToStart()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("finalize not idempotent: %v vs %v", before, after)
	}
	r, _ := c.Reach("B")
	if got, want := r.UpstreamIDs, []string{"A"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("upstream of B: got %v want %v (double reverse-link?)", got, want)
	}
}

func TestSingleReach_NoLoadingIsSkip(t *testing.T) {
	c := buildChain(t, map[string]bool{}, map[string][]string{}, "only")
	r, _ := c.Reach("only")
	if !r.Skip() {
		t.Fatalf("reach with no loading should be skip")
	}
	if r.MassOutflowFileNeeded {
		t.Fatalf("leaf must not need a flux file")
	}
	if got := c.EligibleToStart(); !reflect.DeepEqual(got, []string{"only"}) {
		t.Fatalf("eligible to start: got %v want [only]", got)
	}
}

func TestSnapshot_IsDetached(t *testing.T) {
	c := buildChain(t,
		map[string]bool{"A": true},
		map[string][]string{"A": {"B"}},
		"A", "B")
	snap, ok := c.Snapshot("A")
	if !ok {
		t.Fatalf("missing snapshot for A")
	}
	if snap.Skip {
		t.Fatalf("A has direct loading, snapshot must not be skip")
	}
	snap.DownstreamIDs[0] = "mutated"
	r, _ := c.Reach("A")
	if r.DownstreamIDs[0] != "B" {
		t.Fatalf("snapshot mutation leaked into catchment")
	}
}

func TestAttributes_Geometry(t *testing.T) {
	a := Attributes{Length: 100, Width: 2, BankSlope: 0.5}
	if got, want := a.CrossSectionArea(1), 2.5; got != want {
		t.Fatalf("cross section area: got %v want %v", got, want)
	}
	if got, want := a.WaterVolume(1), 250.0; got != want {
		t.Fatalf("water volume: got %v want %v", got, want)
	}
	if got, want := a.ResidenceTime(1, 0.5), 500.0; got != want {
		t.Fatalf("residence time: got %v want %v", got, want)
	}
}

func TestParseState_Aliases(t *testing.T) {
	cases := map[string]State{
		"waiting":        StateWaiting,
		"CanStart":       StateCanStart,
		"run_done":       StateRunDone,
		"RunDone":        StateRunDone,
		"can-be-cleaned": StateCanBeCleaned,
		"failed":         StateError,
		"UPSTREAM_ERROR": StateUpstreamError,
	}
	for in, want := range cases {
		got, err := ParseState(in)
		if err != nil {
			t.Fatalf("ParseState(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseState(%q): got %s want %s", in, got, want)
		}
	}
	if _, err := ParseState("bogus"); err == nil {
		t.Fatalf("expected error for unknown state")
	}
}
