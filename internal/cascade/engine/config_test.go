package engine

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const yamlConfig = `version: 1
experiment:
  name: rummen-2015
  input_dir: /data/rummen
  start: 01-Apr-2015
  end: 30-Jun-2015
scheduler:
  workers: 4
  stop_grace: 10s
driver:
  name: toxswa
  config:
    solver_command: /opt/toxswa/run.sh
cleanup:
  keep_original_outputs: true
  scrub:
    preserve_globs:
      - "*.out"
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadRunConfigFileYAML(t *testing.T) {
	cfg, err := LoadRunConfigFile(writeConfig(t, "run.yaml", yamlConfig))
	if err != nil {
		t.Fatalf("LoadRunConfigFile: %v", err)
	}
	if cfg.Experiment.Name != "rummen-2015" {
		t.Fatalf("name = %q", cfg.Experiment.Name)
	}
	if cfg.Scheduler.Workers != 4 {
		t.Fatalf("workers = %d", cfg.Scheduler.Workers)
	}
	if got := cfg.StopGrace(0); got != 10*time.Second {
		t.Fatalf("stop grace = %s", got)
	}
	if cfg.Driver.Name != "toxswa" {
		t.Fatalf("driver = %q", cfg.Driver.Name)
	}
	if cmd, _ := cfg.Driver.Config["solver_command"].(string); cmd != "/opt/toxswa/run.sh" {
		t.Fatalf("driver config block = %v", cfg.Driver.Config)
	}
	if !cfg.Cleanup.KeepOriginalOutputs {
		t.Fatalf("keep_original_outputs lost")
	}

	// Defaults fill what the file left out.
	if cfg.Experiment.ReachTable != "reaches.csv" {
		t.Fatalf("reach table default = %q", cfg.Experiment.ReachTable)
	}
	if cfg.Experiment.TemperatureFile != "temperature.csv" {
		t.Fatalf("temperature default = %q", cfg.Experiment.TemperatureFile)
	}
	if cfg.Cleanup.DeleteUpstreamFluxFiles == nil || !*cfg.Cleanup.DeleteUpstreamFluxFiles {
		t.Fatalf("delete_upstream_flux_files should default to true")
	}

	start, end, err := cfg.Horizon()
	if err != nil {
		t.Fatalf("Horizon: %v", err)
	}
	if start.Month() != time.April || end.Month() != time.June {
		t.Fatalf("horizon = %s..%s", start, end)
	}
}

func TestLoadRunConfigFileJSON(t *testing.T) {
	body := `{
  "version": 1,
  "experiment": {"name": "e", "input_dir": "/in", "start": "01-Apr-2015", "end": "02-Apr-2015"},
  "driver": {"name": "noop"}
}`
	cfg, err := LoadRunConfigFile(writeConfig(t, "run.json", body))
	if err != nil {
		t.Fatalf("LoadRunConfigFile: %v", err)
	}
	if cfg.Scheduler.Workers != 1 {
		t.Fatalf("workers default = %d, want 1", cfg.Scheduler.Workers)
	}
}

func TestLoadRunConfigFileRejectsUnknownKeys(t *testing.T) {
	bad := strings.Replace(yamlConfig, "stop_grace:", "stop_graec:", 1)
	if _, err := LoadRunConfigFile(writeConfig(t, "run.yaml", bad)); err == nil {
		t.Fatalf("unknown key should be rejected")
	}

	badJSON := `{"version": 1, "experiment": {"nmae": "x"}}`
	if _, err := LoadRunConfigFile(writeConfig(t, "run.json", badJSON)); err == nil {
		t.Fatalf("unknown json key should be rejected")
	}
}

func TestLoadRunConfigFileRejectsTrailingDocuments(t *testing.T) {
	_, err := LoadRunConfigFile(writeConfig(t, "run.yaml", yamlConfig+"---\nversion: 2\n"))
	if err == nil || !strings.Contains(err.Error(), "multiple documents") {
		t.Fatalf("err = %v, want multiple documents rejection", err)
	}
}

func TestValidateConfigErrors(t *testing.T) {
	base := func() *RunConfigFile {
		cfg := &RunConfigFile{Version: 1}
		cfg.Experiment.Name = "e"
		cfg.Experiment.InputDir = "/in"
		cfg.Experiment.Start = "01-Apr-2015"
		cfg.Experiment.End = "02-Apr-2015"
		cfg.Driver.Name = "noop"
		applyConfigDefaults(cfg)
		return cfg
	}

	cases := []struct {
		name   string
		mutate func(*RunConfigFile)
		want   string
	}{
		{"missing name", func(c *RunConfigFile) { c.Experiment.Name = "" }, "experiment.name"},
		{"separator in name", func(c *RunConfigFile) { c.Experiment.Name = "a/b" }, "path separators"},
		{"missing input dir", func(c *RunConfigFile) { c.Experiment.InputDir = "" }, "experiment.input_dir"},
		{"missing horizon", func(c *RunConfigFile) { c.Experiment.Start = "" }, "experiment.start"},
		{"bad date", func(c *RunConfigFile) { c.Experiment.Start = "2015-04-01" }, "want layout"},
		{"inverted horizon", func(c *RunConfigFile) {
			c.Experiment.Start = "02-Apr-2015"
			c.Experiment.End = "01-Apr-2015"
		}, "before experiment.start"},
		{"zero workers", func(c *RunConfigFile) { c.Scheduler.Workers = -1 }, "scheduler.workers"},
		{"bad stop grace", func(c *RunConfigFile) { c.Scheduler.StopGrace = "soon" }, "stop_grace"},
		{"missing driver", func(c *RunConfigFile) { c.Driver.Name = "" }, "driver.name"},
		{"bad preserve glob", func(c *RunConfigFile) {
			c.Cleanup.Scrub.PreserveGlobs = []string{"[unclosed"}
		}, "preserve_globs"},
		{"bad selection glob", func(c *RunConfigFile) {
			c.Experiment.ReachSelection = []string{"[unclosed"}
		}, "reach_selection"},
		{"wrong version", func(c *RunConfigFile) { c.Version = 2 }, "unsupported config version"},
	}
	for _, tc := range cases {
		cfg := base()
		tc.mutate(cfg)
		err := validateConfig(cfg)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: err = %v, want mention of %q", tc.name, err, tc.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 7 * time.Second},
		{"90", 90 * time.Second},
		{"250ms", 250 * time.Millisecond},
		{"15m", 15 * time.Minute},
		{"2d", 48 * time.Hour},
		{"nonsense", 7 * time.Second},
	}
	for _, tc := range cases {
		if got := parseDuration(tc.in, 7*time.Second); got != tc.want {
			t.Fatalf("parseDuration(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}
