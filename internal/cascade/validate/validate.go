// Package validate lints a finalized catchment and its run settings before
// any command is enqueued. Build-time failures (blank or duplicate reach
// ids, cycles) surface as errors from the catchment itself; the rules here
// cover everything a run would otherwise discover midway.
package validate

import (
	"fmt"
	"strings"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
)

type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

type Diagnostic struct {
	Rule     string   `json:"rule"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	ReachID  string   `json:"reach_id,omitempty"`
	Fix      string   `json:"fix,omitempty"`
}

// Config carries the run settings the lint rules inspect. The engine fills
// it from the run configuration after the catchment is finalized.
type Config struct {
	// Workers is the scheduler worker count.
	Workers int
	// WorkDir is the solver working directory.
	WorkDir string
	// SelectionMisses lists reach-selection patterns that matched nothing.
	SelectionMisses []string
}

// LintRule is the interface for custom lint rules passed to Validate.
type LintRule interface {
	Name() string
	Apply(cat *catchment.Catchment, cfg Config) []Diagnostic
}

// Validate runs all built-in lint rules and any extra rules against the
// catchment. Extra rules are appended after built-in rules.
func Validate(cat *catchment.Catchment, cfg Config, extraRules ...LintRule) []Diagnostic {
	var diags []Diagnostic
	if cat == nil {
		return []Diagnostic{{Rule: "catchment_nil", Severity: SeverityError, Message: "catchment is nil"}}
	}

	diags = append(diags, lintWorkDirPath(cfg)...)
	diags = append(diags, lintWorkerCount(cat, cfg)...)
	diags = append(diags, lintSelectionMisses(cfg)...)
	diags = append(diags, lintPrunedEdges(cat)...)
	diags = append(diags, lintEscapingLoadings(cat)...)
	diags = append(diags, lintNothingToRun(cat)...)

	for _, rule := range extraRules {
		if rule != nil {
			diags = append(diags, rule.Apply(cat, cfg)...)
		}
	}
	return diags
}

func ValidateOrError(cat *catchment.Catchment, cfg Config, extraRules ...LintRule) error {
	return ErrorFromDiagnostics(Validate(cat, cfg, extraRules...))
}

// ErrorFromDiagnostics folds the ERROR diagnostics into a single error,
// or nil when none carry that severity.
func ErrorFromDiagnostics(diags []Diagnostic) error {
	var errs []string
	for _, d := range diags {
		if d.Severity == SeverityError {
			errs = append(errs, d.Rule+": "+d.Message)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// lintWorkDirPath rejects working directories the solver's fixed-width
// input format cannot express.
func lintWorkDirPath(cfg Config) []Diagnostic {
	if !strings.ContainsAny(cfg.WorkDir, " \t") {
		return nil
	}
	return []Diagnostic{{
		Rule:     "workdir_whitespace",
		Severity: SeverityError,
		Message:  fmt.Sprintf("working directory %q contains whitespace; the solver cannot read paths with spaces", cfg.WorkDir),
		Fix:      "move the experiment under a whitespace-free path",
	}}
}

func lintWorkerCount(cat *catchment.Catchment, cfg Config) []Diagnostic {
	if cfg.Workers <= cat.Len() {
		return nil
	}
	return []Diagnostic{{
		Rule:     "worker_count",
		Severity: SeverityInfo,
		Message:  fmt.Sprintf("%d workers for %d reaches; extra workers will sit idle", cfg.Workers, cat.Len()),
	}}
}

func lintSelectionMisses(cfg Config) []Diagnostic {
	var diags []Diagnostic
	for _, pat := range cfg.SelectionMisses {
		diags = append(diags, Diagnostic{
			Rule:     "selection_no_match",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("reach selection pattern %q matched no reach", pat),
		})
	}
	return diags
}

// lintPrunedEdges reports downstream references that named reaches missing
// from the table. Finalize drops them; the run proceeds without the edge.
func lintPrunedEdges(cat *catchment.Catchment) []Diagnostic {
	var diags []Diagnostic
	for _, edge := range cat.PrunedEdges() {
		diags = append(diags, Diagnostic{
			Rule:     "dangling_downstream",
			Severity: SeverityWarning,
			Message:  fmt.Sprintf("reach %s names downstream reach %s which is not in the table; edge dropped", edge.From, edge.To),
			ReachID:  edge.From,
			Fix:      "add the missing reach to the table or clear the RchIDDwn entry",
		})
	}
	return diags
}

// lintEscapingLoadings flags loaded reaches whose outflow crossed a pruned
// edge: mass leaves the modeled catchment and no downstream reach sees it.
func lintEscapingLoadings(cat *catchment.Catchment) []Diagnostic {
	var diags []Diagnostic
	for _, edge := range cat.PrunedEdges() {
		r, ok := cat.Reach(edge.From)
		if !ok || r.Skip() {
			continue
		}
		diags = append(diags, Diagnostic{
			Rule:     "loading_leaves_catchment",
			Severity: SeverityInfo,
			Message:  fmt.Sprintf("reach %s carries loading but its outflow toward %s is not modeled", edge.From, edge.To),
			ReachID:  edge.From,
		})
	}
	return diags
}

// lintNothingToRun flags a catchment where every reach is skipped. The run
// would succeed trivially, producing only zero-valued outputs.
func lintNothingToRun(cat *catchment.Catchment) []Diagnostic {
	for _, snap := range cat.Snapshots() {
		if !snap.Skip {
			return nil
		}
	}
	return []Diagnostic{{
		Rule:     "no_loaded_reach",
		Severity: SeverityWarning,
		Message:  "no reach receives any loading; every reach will be skipped",
		Fix:      "check the Expsd column of the reach table",
	}}
}
