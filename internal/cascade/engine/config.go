package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/danshapiro/cascade/internal/cascade/tables"
)

// ExperimentConfig names the experiment and its inputs. All file fields
// are relative to InputDir; Start and End bound the simulated horizon in
// the daily table layout (02-Jan-2006), both days included.
type ExperimentConfig struct {
	Name            string   `json:"name" yaml:"name"`
	InputDir        string   `json:"input_dir" yaml:"input_dir"`
	ReachTable      string   `json:"reach_table,omitempty" yaml:"reach_table,omitempty"`
	TemperatureFile string   `json:"temperature_file,omitempty" yaml:"temperature_file,omitempty"`
	ReachSelection  []string `json:"reach_selection,omitempty" yaml:"reach_selection,omitempty"`
	Start           string   `json:"start" yaml:"start"`
	End             string   `json:"end" yaml:"end"`
}

type SchedulerSettings struct {
	Workers   int    `json:"workers,omitempty" yaml:"workers,omitempty"`
	StopGrace string `json:"stop_grace,omitempty" yaml:"stop_grace,omitempty"`
}

// DriverSelection picks the reach driver and carries its config block.
// The block is opaque here; the driver registry validates it against the
// factory's schema.
type DriverSelection struct {
	Name   string         `json:"name" yaml:"name"`
	Config map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
}

type ScrubConfig struct {
	PreserveGlobs []string `json:"preserve_globs,omitempty" yaml:"preserve_globs,omitempty"`
}

// CleanupConfig is the post-run file policy. DeleteUpstreamFluxFiles uses
// a pointer so an explicit false survives the defaults pass.
type CleanupConfig struct {
	KeepOriginalOutputs     bool        `json:"keep_original_outputs,omitempty" yaml:"keep_original_outputs,omitempty"`
	DeleteUpstreamFluxFiles *bool       `json:"delete_upstream_flux_files,omitempty" yaml:"delete_upstream_flux_files,omitempty"`
	Scrub                   ScrubConfig `json:"scrub,omitempty" yaml:"scrub,omitempty"`
}

// RunConfigFile is one experiment description, decoded strictly from YAML
// or JSON (by extension). Unknown fields are errors.
type RunConfigFile struct {
	Version    int               `json:"version" yaml:"version"`
	Experiment ExperimentConfig  `json:"experiment" yaml:"experiment"`
	Scheduler  SchedulerSettings `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`
	Driver     DriverSelection   `json:"driver" yaml:"driver"`
	Cleanup    CleanupConfig     `json:"cleanup,omitempty" yaml:"cleanup,omitempty"`
}

func LoadRunConfigFile(path string) (*RunConfigFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg RunConfigFile
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := decodeJSONStrict(b, &cfg); err != nil {
			return nil, err
		}
	default:
		if err := decodeYAMLStrict(b, &cfg); err != nil {
			return nil, err
		}
	}
	applyConfigDefaults(&cfg)
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeJSONStrict(b []byte, cfg *RunConfigFile) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("json: multiple top-level values are not allowed")
		}
		return err
	}
	return nil
}

func decodeYAMLStrict(b []byte, cfg *RunConfigFile) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return err
	}
	var trailing any
	if err := dec.Decode(&trailing); err != io.EOF {
		if err == nil {
			return fmt.Errorf("yaml: multiple documents are not allowed")
		}
		return err
	}
	return nil
}

func applyConfigDefaults(cfg *RunConfigFile) {
	if cfg == nil {
		return
	}
	if cfg.Version == 0 {
		cfg.Version = 1
	}
	cfg.Experiment.Name = strings.TrimSpace(cfg.Experiment.Name)
	cfg.Experiment.InputDir = strings.TrimSpace(cfg.Experiment.InputDir)
	cfg.Experiment.ReachTable = strings.TrimSpace(cfg.Experiment.ReachTable)
	if cfg.Experiment.ReachTable == "" {
		cfg.Experiment.ReachTable = "reaches.csv"
	}
	cfg.Experiment.TemperatureFile = strings.TrimSpace(cfg.Experiment.TemperatureFile)
	if cfg.Experiment.TemperatureFile == "" {
		cfg.Experiment.TemperatureFile = "temperature.csv"
	}
	cfg.Experiment.ReachSelection = trimNonEmpty(cfg.Experiment.ReachSelection)
	cfg.Experiment.Start = strings.TrimSpace(cfg.Experiment.Start)
	cfg.Experiment.End = strings.TrimSpace(cfg.Experiment.End)

	if cfg.Scheduler.Workers == 0 {
		cfg.Scheduler.Workers = 1
	}
	cfg.Scheduler.StopGrace = strings.TrimSpace(cfg.Scheduler.StopGrace)

	cfg.Driver.Name = strings.ToLower(strings.TrimSpace(cfg.Driver.Name))
	if cfg.Driver.Config == nil {
		cfg.Driver.Config = map[string]any{}
	}

	// Upstream-flux files are transfer scratch; dropping them once the
	// last consumer ran is the default the original pipeline shipped with.
	if cfg.Cleanup.DeleteUpstreamFluxFiles == nil {
		t := true
		cfg.Cleanup.DeleteUpstreamFluxFiles = &t
	}
	cfg.Cleanup.Scrub.PreserveGlobs = trimNonEmpty(cfg.Cleanup.Scrub.PreserveGlobs)
}

func validateConfig(cfg *RunConfigFile) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Version != 1 {
		return fmt.Errorf("unsupported config version: %d", cfg.Version)
	}
	if cfg.Experiment.Name == "" {
		return fmt.Errorf("experiment.name is required")
	}
	if strings.ContainsAny(cfg.Experiment.Name, `/\`) {
		return fmt.Errorf("experiment.name %q must not contain path separators", cfg.Experiment.Name)
	}
	if cfg.Experiment.InputDir == "" {
		return fmt.Errorf("experiment.input_dir is required")
	}
	if cfg.Experiment.Start == "" || cfg.Experiment.End == "" {
		return fmt.Errorf("experiment.start and experiment.end are required")
	}
	start, end, err := cfg.Horizon()
	if err != nil {
		return err
	}
	if end.Before(start) {
		return fmt.Errorf("experiment.end %s is before experiment.start %s",
			cfg.Experiment.End, cfg.Experiment.Start)
	}
	for _, pat := range cfg.Experiment.ReachSelection {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("experiment.reach_selection pattern %q is not a valid glob", pat)
		}
	}
	if cfg.Scheduler.Workers < 1 {
		return fmt.Errorf("scheduler.workers must be at least 1, got %d", cfg.Scheduler.Workers)
	}
	if cfg.Scheduler.StopGrace != "" {
		if parseDuration(cfg.Scheduler.StopGrace, -1) < 0 {
			return fmt.Errorf("scheduler.stop_grace %q is not a valid duration", cfg.Scheduler.StopGrace)
		}
	}
	if cfg.Driver.Name == "" {
		return fmt.Errorf("driver.name is required")
	}
	for _, pat := range cfg.Cleanup.Scrub.PreserveGlobs {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("cleanup.scrub.preserve_globs pattern %q is not a valid glob", pat)
		}
	}
	return nil
}

// Horizon returns the simulated interval, both endpoints included.
func (cfg *RunConfigFile) Horizon() (time.Time, time.Time, error) {
	start, err := time.Parse(tables.DateLayout, cfg.Experiment.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("experiment.start %q: want layout %s",
			cfg.Experiment.Start, tables.DateLayout)
	}
	end, err := time.Parse(tables.DateLayout, cfg.Experiment.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("experiment.end %q: want layout %s",
			cfg.Experiment.End, tables.DateLayout)
	}
	return start, end, nil
}

// StopGrace returns the parsed scheduler.stop_grace, or def when unset.
func (cfg *RunConfigFile) StopGrace(def time.Duration) time.Duration {
	return parseDuration(cfg.Scheduler.StopGrace, def)
}

// parseDuration accepts Go duration strings plus the config shorthands:
// bare integers mean seconds and a d suffix means days.
func parseDuration(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if strings.HasSuffix(s, "d") {
		if base, err := strconv.Atoi(strings.TrimSuffix(s, "d")); err == nil {
			return time.Duration(base) * 24 * time.Hour
		}
	}
	if base, err := strconv.Atoi(s); err == nil {
		return time.Duration(base) * time.Second
	}
	return def
}

func trimNonEmpty(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
