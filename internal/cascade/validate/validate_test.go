package validate

import (
	"sort"
	"strings"
	"testing"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
)

func buildCatchment(t *testing.T, edges map[string][]string, loaded map[string]bool) *catchment.Catchment {
	t.Helper()
	ids := make([]string, 0, len(edges))
	for id := range edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	cat := catchment.New()
	for _, id := range ids {
		if err := cat.AddReach(id, catchment.Attributes{}, edges[id], loaded[id]); err != nil {
			t.Fatalf("AddReach(%s): %v", id, err)
		}
	}
	if err := cat.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	return cat
}

func rules(diags []Diagnostic) []string {
	out := make([]string, 0, len(diags))
	for _, d := range diags {
		out = append(out, d.Rule)
	}
	sort.Strings(out)
	return out
}

func TestValidateCleanCatchment(t *testing.T) {
	cat := buildCatchment(t,
		map[string][]string{"A": {"B"}, "B": nil},
		map[string]bool{"A": true})

	diags := Validate(cat, Config{Workers: 1, WorkDir: "/tmp/exp/work"})
	if len(diags) != 0 {
		t.Fatalf("clean catchment produced diagnostics: %v", rules(diags))
	}
	if err := ValidateOrError(cat, Config{Workers: 1, WorkDir: "/tmp/exp/work"}); err != nil {
		t.Fatalf("ValidateOrError: %v", err)
	}
}

func TestValidateWorkDirWhitespace(t *testing.T) {
	cat := buildCatchment(t,
		map[string][]string{"A": nil},
		map[string]bool{"A": true})

	cfg := Config{Workers: 1, WorkDir: "/tmp/my exp/work"}
	err := ValidateOrError(cat, cfg)
	if err == nil {
		t.Fatalf("whitespace workdir should fail validation")
	}
	if !strings.Contains(err.Error(), "workdir_whitespace") {
		t.Fatalf("err = %v, want workdir_whitespace rule", err)
	}
}

func TestValidatePrunedEdgeDiagnostics(t *testing.T) {
	cat := buildCatchment(t,
		map[string][]string{"A": {"B", "ghost"}, "B": nil},
		map[string]bool{"A": true})

	diags := Validate(cat, Config{Workers: 1, WorkDir: "/w"})

	var prune, escape *Diagnostic
	for i := range diags {
		switch diags[i].Rule {
		case "dangling_downstream":
			prune = &diags[i]
		case "loading_leaves_catchment":
			escape = &diags[i]
		}
	}
	if prune == nil {
		t.Fatalf("no dangling_downstream diagnostic in %v", rules(diags))
	}
	if prune.Severity != SeverityWarning || prune.ReachID != "A" {
		t.Fatalf("prune diagnostic = %+v", prune)
	}
	if !strings.Contains(prune.Message, "ghost") {
		t.Fatalf("prune message does not name the missing reach: %q", prune.Message)
	}
	// A carries loading and its ghost edge drops mass off the map.
	if escape == nil || escape.Severity != SeverityInfo {
		t.Fatalf("escape diagnostic = %+v", escape)
	}

	// Pruned edges never fail the run on their own.
	if err := ValidateOrError(cat, Config{Workers: 1, WorkDir: "/w"}); err != nil {
		t.Fatalf("ValidateOrError: %v", err)
	}
}

func TestValidateNoEscapeDiagnosticForSkippedReach(t *testing.T) {
	cat := buildCatchment(t,
		map[string][]string{"A": {"ghost"}},
		map[string]bool{})

	diags := Validate(cat, Config{Workers: 1, WorkDir: "/w"})
	for _, d := range diags {
		if d.Rule == "loading_leaves_catchment" {
			t.Fatalf("skipped reach produced an escape diagnostic: %+v", d)
		}
	}
}

func TestValidateWorkerCountInfo(t *testing.T) {
	cat := buildCatchment(t,
		map[string][]string{"A": nil, "B": nil},
		map[string]bool{"A": true, "B": true})

	diags := Validate(cat, Config{Workers: 8, WorkDir: "/w"})
	found := false
	for _, d := range diags {
		if d.Rule == "worker_count" && d.Severity == SeverityInfo {
			found = true
		}
	}
	if !found {
		t.Fatalf("8 workers on 2 reaches should produce worker_count info, got %v", rules(diags))
	}
}

func TestValidateSelectionMisses(t *testing.T) {
	cat := buildCatchment(t,
		map[string][]string{"A": nil},
		map[string]bool{"A": true})

	diags := Validate(cat, Config{Workers: 1, WorkDir: "/w", SelectionMisses: []string{"Z*"}})
	found := false
	for _, d := range diags {
		if d.Rule == "selection_no_match" && d.Severity == SeverityWarning &&
			strings.Contains(d.Message, "Z*") {
			found = true
		}
	}
	if !found {
		t.Fatalf("selection miss not reported: %v", diags)
	}
}

func TestValidateNothingToRun(t *testing.T) {
	cat := buildCatchment(t,
		map[string][]string{"A": {"B"}, "B": nil},
		map[string]bool{})

	diags := Validate(cat, Config{Workers: 1, WorkDir: "/w"})
	found := false
	for _, d := range diags {
		if d.Rule == "no_loaded_reach" && d.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Fatalf("all-skip catchment not flagged: %v", rules(diags))
	}
}

type stubRule struct{ fired bool }

func (r *stubRule) Name() string { return "stub" }

func (r *stubRule) Apply(cat *catchment.Catchment, cfg Config) []Diagnostic {
	r.fired = true
	return []Diagnostic{{Rule: r.Name(), Severity: SeverityError, Message: "always fails"}}
}

func TestValidateExtraRules(t *testing.T) {
	cat := buildCatchment(t,
		map[string][]string{"A": nil},
		map[string]bool{"A": true})

	rule := &stubRule{}
	err := ValidateOrError(cat, Config{Workers: 1, WorkDir: "/w"}, rule)
	if !rule.fired {
		t.Fatalf("extra rule was not applied")
	}
	if err == nil || !strings.Contains(err.Error(), "stub: always fails") {
		t.Fatalf("err = %v, want the stub rule's message", err)
	}
}

func TestValidateNilCatchment(t *testing.T) {
	diags := Validate(nil, Config{})
	if len(diags) != 1 || diags[0].Severity != SeverityError {
		t.Fatalf("nil catchment diagnostics = %v", diags)
	}
}
