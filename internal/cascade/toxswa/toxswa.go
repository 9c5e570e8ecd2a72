// Package toxswa adapts the TOXSWA fate solver as a reach driver. Init
// renders the per-reach static solver inputs from templates, Run invokes
// the solver executable with a timestep-halving retry loop on numerical
// failure and harvests the outputs into a per-reach result table, Cleanup
// drops the upstream-flux file once nothing downstream can consume it.
package toxswa

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
	"github.com/danshapiro/cascade/internal/cascade/driver"
	"github.com/danshapiro/cascade/internal/cascade/tables"
)

// Config is the toxswa block of the run configuration. The registry
// validates it against the factory schema before New sees it.
type Config struct {
	// SolverCommand is the path of the solver launcher, invoked per
	// attempt with the reach file basename as its only argument.
	SolverCommand string `json:"solver_command"`
	// TemplateDir holds the txw/mfs/mfl/mfu template files.
	TemplateDir string `json:"template_dir"`
	// SubstanceFile names the substance table inside the input dir.
	SubstanceFile string `json:"substance_file"`
	// OutputVars selects the solver output variables harvested into the
	// result table. MasDwnWatLay is always carried: the downstream mass
	// flux is what couples the reaches.
	OutputVars []string `json:"output_vars"`

	// TimeStepDefault is the initial sediment timestep (s) of every run
	// attempt; TimeStepMin bounds the halving retry loop.
	TimeStepDefault float64 `json:"time_step_default"`
	TimeStepMin     float64 `json:"time_step_min"`

	// MassFlowTimestepParam scales the residence time into the mass-flux
	// bookkeeping step; MinMassFlowTimestep floors it (s).
	MassFlowTimestepParam float64 `json:"mass_flow_timestep_param"`
	MinMassFlowTimestep   float64 `json:"min_mass_flow_timestep"`

	// ScaleFactorDrift multiplies the drift loadings. Defaults to 1.
	ScaleFactorDrift float64 `json:"scale_factor_drift"`
}

// hydrologyTimeStep is the fixed step (s) of the input hydrology series.
const hydrologyTimeStep = 3600.0

var allowedOutputVars = map[string]bool{
	"MasWatLay": true, "MasDwnWatLay": true, "MasDrfWatLay": true,
	"MasSedInWatLay": true, "MasSedOutWatLay": true, "MasTraWatLay": true,
	"MasVolWatLay": true, "MasSed": true, "MasTraSed": true,
	"ConLiqWatTgtAvg": true, "ConLiqWatTgtAvgHrAvg": true,
	"ConLiqWatTgtAvgHrMax": true, "CntSorSedTgt": true, "DepWat": true,
	"VelWatFlw": true, "QBou": true, "CntSedTgt1": true,
	"MasDraWatLay": true, "MasRnfWatLay": true, "MasUpsWatLay": true,
	"MasForWatLay": true,
}

// Driver runs the solver for one experiment. It is shared across workers;
// all per-reach state lives in files partitioned by reach id, so no
// locking is needed.
type Driver struct {
	env        driver.Env
	cfg        Config
	substances []tables.Substance
}

func Factory() driver.Factory {
	num := func() map[string]any {
		return map[string]any{"type": "number", "exclusiveMinimum": 0}
	}
	return driver.Factory{
		Name: "toxswa",
		ConfigSchema: map[string]any{
			"type": "object",
			"required": []any{
				"solver_command", "template_dir", "substance_file",
				"time_step_default", "time_step_min",
				"mass_flow_timestep_param", "min_mass_flow_timestep",
			},
			"properties": map[string]any{
				"solver_command": map[string]any{"type": "string", "minLength": 1},
				"template_dir":   map[string]any{"type": "string", "minLength": 1},
				"substance_file": map[string]any{"type": "string", "minLength": 1},
				"output_vars": map[string]any{
					"type":     "array",
					"items":    map[string]any{"type": "string"},
					"minItems": 1,
				},
				"time_step_default":        num(),
				"time_step_min":            num(),
				"mass_flow_timestep_param": num(),
				"min_mass_flow_timestep":   num(),
				"scale_factor_drift":       num(),
			},
			"additionalProperties": false,
		},
		New: func(env driver.Env, cfg map[string]any) (driver.Driver, error) {
			return New(env, cfg)
		},
	}
}

func New(env driver.Env, raw map[string]any) (*Driver, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("decode toxswa config: %w", err)
	}
	if cfg.ScaleFactorDrift == 0 {
		cfg.ScaleFactorDrift = 1
	}
	if cfg.TimeStepMin > cfg.TimeStepDefault {
		return nil, fmt.Errorf("time_step_min %g exceeds time_step_default %g",
			cfg.TimeStepMin, cfg.TimeStepDefault)
	}
	if len(cfg.OutputVars) == 0 {
		cfg.OutputVars = []string{"ConLiqWatTgtAvg"}
	}
	hasDwn := false
	for _, v := range cfg.OutputVars {
		if !allowedOutputVars[v] {
			return nil, fmt.Errorf("output variable %q not recognized", v)
		}
		if v == "MasDwnWatLay" {
			hasDwn = true
		}
	}
	if !hasDwn {
		cfg.OutputVars = append(cfg.OutputVars, "MasDwnWatLay")
	}
	if strings.ContainsAny(env.WorkDir, " \t") {
		return nil, fmt.Errorf("work dir %q contains whitespace", env.WorkDir)
	}
	for _, dir := range []string{env.WorkDir, env.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	subs, err := tables.LoadSubstances(filepath.Join(env.InputDir, cfg.SubstanceFile))
	if err != nil {
		return nil, err
	}
	return &Driver{env: env, cfg: cfg, substances: subs}, nil
}

// Init renders the static per-reach inputs. Already-rendered files are
// left alone, so a restarted run only fills the gaps.
func (d *Driver) Init(ctx context.Context, reach catchment.Snapshot) driver.Report {
	if reach.Skip {
		return driver.Report{ReachID: reach.ID, Status: driver.StatusSkipReach}
	}
	match, err := d.stampMatches(reach)
	if err != nil {
		return driver.ErrorReport(reach.ID, err)
	}
	if match {
		return driver.Report{ReachID: reach.ID, Status: driver.StatusSkipExist}
	}
	if err := d.renderStaticInputs(reach); err != nil {
		return driver.ErrorReport(reach.ID, err)
	}
	return driver.Report{ReachID: reach.ID, Status: driver.StatusOK}
}

// Run invokes the solver for the reach. Skipped reaches still emit the
// artifacts their downstream expects: a zero-valued result table and,
// when needed, a zero-flux placeholder for the downstream consumer.
func (d *Driver) Run(ctx context.Context, reach catchment.Snapshot) driver.Report {
	rep := driver.Report{ReachID: reach.ID, Status: driver.StatusOK}
	if reach.Skip {
		if err := d.writeSkippedResult(reach); err != nil {
			return driver.ErrorReport(reach.ID, err)
		}
		rep.Status = driver.StatusSkipReach
	} else {
		match, err := d.stampMatches(reach)
		if err != nil {
			return driver.ErrorReport(reach.ID, err)
		}
		if match {
			rep.Status = driver.StatusSkipExist
		}
	}
	if rep.Status.Skipped() {
		if reach.MassOutflowFileNeeded && !fileExists(d.workFile(reach.ID, suffixMFU)) {
			if err := d.writeDummyMFU(reach); err != nil {
				return driver.ErrorReport(reach.ID, err)
			}
		}
		return rep
	}

	totalStart := time.Now()
	timeStep := d.cfg.TimeStepDefault
	for {
		if err := ctx.Err(); err != nil {
			return driver.ErrorReport(reach.ID, err)
		}
		if err := d.renderAttemptTXW(reach, timeStep); err != nil {
			return driver.ErrorReport(reach.ID, err)
		}
		// Clear any stale sentinel so detection reflects this attempt.
		_ = os.Remove(d.workFile(reach.ID, suffixErr))

		solverTime, runErr := d.invokeSolver(ctx, reach, timeStep)

		if fileExists(d.workFile(reach.ID, suffixErr)) {
			if timeStep/2 < d.cfg.TimeStepMin {
				return driver.ErrorReport(reach.ID, fmt.Errorf(
					"solver failed at sediment timestep %g s; halving again would cross the %g s minimum",
					timeStep, d.cfg.TimeStepMin))
			}
			timeStep /= 2
			continue
		}
		if runErr != nil {
			return driver.ErrorReport(reach.ID, fmt.Errorf("solver: %w", runErr))
		}
		if err := d.harvestOutputs(reach); err != nil {
			return driver.ErrorReport(reach.ID, err)
		}
		if err := d.writeStamp(reach); err != nil {
			return driver.ErrorReport(reach.ID, err)
		}
		rep.SolverTime = solverTime
		rep.TotalTime = time.Since(totalStart)
		rep.SedimentTimestep = timeStep
		return rep
	}
}

// Cleanup removes the reach's upstream-flux file when the run's cleanup
// policy allows it. Every downstream consumer has already run or failed
// by the time the scheduler dispatches cleanup.
func (d *Driver) Cleanup(ctx context.Context, reach catchment.Snapshot) driver.Report {
	if d.env.DeleteUpstreamFluxFiles {
		if err := os.Remove(d.workFile(reach.ID, suffixMFU)); err != nil && !os.IsNotExist(err) {
			return driver.ErrorReport(reach.ID, err)
		}
	}
	return driver.Report{ReachID: reach.ID, Status: driver.StatusOK}
}
