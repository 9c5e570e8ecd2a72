package toxswa

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
	"github.com/danshapiro/cascade/internal/cascade/tables"
)

// outputTable is the harvested result of one reach: one timestep/date pair
// per record plus one value series per (variable, substance) column.
type outputTable struct {
	timesteps []string
	dates     []string
	series    []outputSeries
}

type outputSeries struct {
	name   string
	values []string
}

// resultColumns returns the (variable, substance) column names in the
// order they appear in the result table.
func (d *Driver) resultColumns() []string {
	cols := make([]string, 0, len(d.substances)*len(d.cfg.OutputVars))
	for _, s := range d.substances {
		for _, v := range d.cfg.OutputVars {
			cols = append(cols, v+"_"+s.Name)
		}
	}
	return cols
}

// harvestOutputs turns the solver's .out listing into the per-reach result
// table. The raw listing is removed afterwards unless the run keeps
// original outputs.
func (d *Driver) harvestOutputs(reach catchment.Snapshot) error {
	table, err := d.collectOutput(reach)
	if err != nil {
		return err
	}
	if err := d.writeResult(reach.ID, table); err != nil {
		return err
	}
	if !d.env.KeepOriginalOutputs {
		if err := os.Remove(d.workFile(reach.ID, suffixOut)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// collectOutput scans the .out listing once and picks up every selected
// column. Data lines carry whitespace-separated timestep, date, variable
// name and value; comment lines open with an asterisk.
func (d *Driver) collectOutput(reach catchment.Snapshot) (*outputTable, error) {
	f, err := os.Open(d.workFile(reach.ID, suffixOut))
	if err != nil {
		return nil, fmt.Errorf("open solver output: %w", err)
	}
	defer f.Close()

	cols := d.resultColumns()
	idx := make(map[string]int, len(cols))
	table := &outputTable{series: make([]outputSeries, len(cols))}
	for i, c := range cols {
		idx[c] = i
		table.series[i].name = c
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			continue
		}
		i, ok := idx[fields[2]]
		if !ok {
			continue
		}
		if i == 0 {
			table.timesteps = append(table.timesteps, fields[0])
			table.dates = append(table.dates, fields[1])
		}
		table.series[i].values = append(table.series[i].values, fields[3])
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read solver output: %w", err)
	}
	n := len(table.timesteps)
	if n == 0 {
		return nil, fmt.Errorf("solver output has no %s records", cols[0])
	}
	for _, s := range table.series {
		if len(s.values) != n {
			return nil, fmt.Errorf("solver output: %s has %d records, want %d", s.name, len(s.values), n)
		}
	}
	return table, nil
}

func (d *Driver) writeResult(reachID string, table *outputTable) error {
	f, err := os.Create(d.resultPath(reachID))
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	header := append([]string{"timestep", "date_time"}, d.resultColumns()...)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return err
	}
	row := make([]string, len(header))
	for i := range table.timesteps {
		row = row[:0]
		row = append(row, table.timesteps[i], table.dates[i])
		for _, s := range table.series {
			row = append(row, s.values[i])
		}
		if err := w.Write(row); err != nil {
			_ = f.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// writeSkippedResult writes the zero-valued result table a skipped reach
// contributes, hourly across the horizon so downstream aggregation sees
// the same shape as a solver run.
func (d *Driver) writeSkippedResult(reach catchment.Snapshot) error {
	cols := d.resultColumns()
	table := &outputTable{series: make([]outputSeries, len(cols))}
	for i, c := range cols {
		table.series[i].name = c
	}
	end := d.env.End.Add(time.Hour)
	for ts := d.env.Start; !ts.After(end); ts = ts.Add(time.Hour) {
		days := math.Trunc(ts.Sub(d.env.Start).Hours()/24*1000) / 1000
		table.timesteps = append(table.timesteps, strconv.FormatFloat(days, 'f', 3, 64))
		table.dates = append(table.dates, ts.Format(tables.TimeLayout))
		for i := range table.series {
			table.series[i].values = append(table.series[i].values, "0")
		}
	}
	return d.writeResult(reach.ID, table)
}

// writeDummyMFU drops a zero-flux placeholder so the first downstream
// reach can still open an upstream flux file. Outlet reaches write
// nothing, and neither does a reach whose downstream consumer is itself
// not set up to run.
func (d *Driver) writeDummyMFU(reach catchment.Snapshot) error {
	if len(reach.DownstreamIDs) == 0 {
		return nil
	}
	if !fileExists(d.workFile(reach.DownstreamIDs[0], suffixMFS)) {
		return nil
	}
	tmpl, err := d.template(mfuTemplateFile)
	if err != nil {
		return err
	}
	content := strings.ReplaceAll(tmpl, "<ReachID>", "Reach"+reach.ID)
	content = strings.ReplaceAll(content, "<substanceName>", d.substances[0].Name)
	content += "\nNO_MASS_FLUX\n"
	return os.WriteFile(d.workFile(reach.ID, suffixMFU), []byte(content), 0o644)
}
