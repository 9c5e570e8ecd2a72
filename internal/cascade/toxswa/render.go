package toxswa

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
	"github.com/danshapiro/cascade/internal/cascade/tables"
)

// hydDateLayout is the two-digit-year stamp the solver reads in hydrology
// files; everywhere else the four-digit tables.TimeLayout applies.
const hydDateLayout = "02-Jan-06-15h04"

// window returns the reach's hourly hydrology records clamped to the
// simulation horizon. The solver needs the series to open at midnight and
// close on the first hour past the horizon, so a missing boundary hour is
// padded with a copy of the nearest record.
func (d *Driver) window(reach catchment.Snapshot) ([]tables.LoadingRow, error) {
	rows, err := tables.LoadLoadings(d.loadingsPath(reach.ID))
	if err != nil {
		return nil, err
	}
	lo, hi := d.env.Start, d.env.End.Add(time.Hour)
	out := rows[:0:0]
	for _, row := range rows {
		if row.Time.Before(lo) || row.Time.After(hi) {
			continue
		}
		out = append(out, row)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("reach %s: no hydrology records between %s and %s",
			reach.ID, lo.Format(tables.TimeLayout), hi.Format(tables.TimeLayout))
	}
	if first := out[0]; first.Time.Hour() == 1 {
		pad := first
		pad.Time = first.Time.Add(-time.Hour)
		out = append([]tables.LoadingRow{pad}, out...)
	}
	if last := out[len(out)-1]; last.Time.Hour() == 0 {
		pad := last
		pad.Time = last.Time.Add(time.Hour)
		out = append(out, pad)
	}
	return out, nil
}

// renderStaticInputs writes the per-reach files the solver reads: the
// filled txw template plus the hydrology, mass-flux-settings and
// lateral-entry series. Files already present are kept, so an interrupted
// run resumes where rendering stopped.
func (d *Driver) renderStaticInputs(reach catchment.Snapshot) error {
	rows, err := d.window(reach)
	if err != nil {
		return err
	}
	steps := []struct {
		suffix string
		write  func() error
	}{
		{suffixTXWTmp, func() error { return d.writeTXWTemplate(reach, rows) }},
		{suffixHyd, func() error { return d.writeHyd(reach, rows) }},
		{suffixMFS, func() error { return d.writeMFS(reach, rows) }},
		{suffixMFL, func() error { return d.writeMFL(reach, rows) }},
	}
	for _, s := range steps {
		if fileExists(d.workFile(reach.ID, s.suffix)) {
			continue
		}
		if err := s.write(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) writeHyd(reach catchment.Snapshot, rows []tables.LoadingRow) error {
	var b strings.Builder
	b.WriteString("*   Time   Date              QBou        DepWat\n")
	b.WriteString("*    (d)   (-)            (m3.s-1)          (m)\n")
	start := rows[0].Time
	for _, row := range rows {
		days := row.Time.Sub(start).Hours() / 24
		fmt.Fprintf(&b, "% 7.3f %s % 11.3e % 12.3e\n",
			days, row.Time.Format(hydDateLayout), row.Flow, row.Depth)
	}
	return os.WriteFile(d.workFile(reach.ID, suffixHyd), []byte(b.String()), 0o644)
}

func (d *Driver) writeMFS(reach catchment.Snapshot, rows []tables.LoadingRow) error {
	tmpl, err := d.template(mfsTemplateFile)
	if err != nil {
		return err
	}
	tmpl = strings.ReplaceAll(tmpl, "<upstreamReachIdList>", strings.Join(reach.UpstreamIDs, ", "))
	var b strings.Builder
	b.WriteString(tmpl)
	b.WriteString("\n")
	start := rows[0].Time
	for _, row := range rows {
		days := (row.Time.Sub(start) + time.Hour).Hours() / 24
		fmt.Fprintf(&b, "%5.3f %s %.6g\n",
			days, row.Time.Format(tables.TimeLayout),
			d.massFlowTimestep(reach.Attributes, row.Depth, row.Flow))
	}
	return os.WriteFile(d.workFile(reach.ID, suffixMFS), []byte(b.String()), 0o644)
}

func (d *Driver) writeMFL(reach catchment.Snapshot, rows []tables.LoadingRow) error {
	tmpl, err := d.template(mflTemplateFile)
	if err != nil {
		return err
	}
	var b strings.Builder
	b.WriteString(tmpl)
	b.WriteString("\n")
	start := rows[0].Time
	for _, row := range rows {
		days := (row.Time.Sub(start) + time.Hour).Hours() / 24
		// Lateral entries ride the drift pathway of the loadings table;
		// the lateral-entry series itself carries zeros.
		fmt.Fprintf(&b, "%5.3f %s %.9f\n", days, row.Time.Format(tables.TimeLayout), 0.0)
	}
	return os.WriteFile(d.workFile(reach.ID, suffixMFL), []byte(b.String()), 0o644)
}

// massFlowTimestep returns the mass-flux bookkeeping step (s) for one
// hydrology record: the scaled residence time clamped to
// [MinMassFlowTimestep, 3600] and snapped down so it divides the hourly
// hydrology step evenly.
func (d *Driver) massFlowTimestep(attrs catchment.Attributes, depth, flow float64) float64 {
	step := attrs.ResidenceTime(depth, flow) * d.cfg.MassFlowTimestepParam
	if step > hydrologyTimeStep || math.IsNaN(step) {
		step = hydrologyTimeStep
	}
	if step < d.cfg.MinMassFlowTimestep {
		step = d.cfg.MinMassFlowTimestep
	}
	return hydrologyTimeStep / math.Floor(hydrologyTimeStep/step)
}

// writeTXWTemplate fills every insertion point of the txw template except
// the two timestep markers, which stay for renderAttemptTXW to resolve on
// each solver attempt.
func (d *Driver) writeTXWTemplate(reach catchment.Snapshot, rows []tables.LoadingRow) error {
	raw, err := d.template(txwTemplateFile)
	if err != nil {
		return err
	}
	doc := &templateDoc{lines: strings.Split(raw, "\n")}

	doc.replace("<startDateSim>", d.env.Start.Format(tables.DateLayout))
	doc.replace("<endDateSim>", d.env.End.Format(tables.DateLayout))

	var drift []string
	for _, row := range rows {
		if row.Drift <= 0 {
			continue
		}
		drift = append(drift, fmt.Sprintf("%s Drift 0.0 0.0 %.6g",
			row.Time.Format(tables.TimeLayout), row.Drift*d.cfg.ScaleFactorDrift))
	}
	doc.insertAfter("table Loadings", drift...)

	var ups []string
	for _, id := range reach.UpstreamIDs {
		ups = append(ups, "Reach"+id)
	}
	doc.insertAfter("table ReachUp", ups...)

	downstream := "Outlet"
	if len(reach.DownstreamIDs) > 0 {
		downstream = "Reach" + reach.DownstreamIDs[0]
	}
	doc.replace("<downstreamReach>", downstream)

	minDepth := rows[0].Depth
	for _, row := range rows {
		if row.Depth < minDepth {
			minDepth = row.Depth
		}
	}
	doc.insertAfter("table WaterBody",
		" Len      NumSeg  WidWatSys  SloSidWatSys  DepWatDefPer",
		" (m)      (-)     (m)        (-)           (m)",
		fmt.Sprintf(" %-8s %-7d %-10s %-13s %s",
			formatFloat(reach.Attributes.Length), 1,
			formatFloat(reach.Attributes.Width),
			formatFloat(reach.Attributes.BankSlope),
			formatFloat(minDepth)))

	var names []string
	for _, s := range d.substances {
		names = append(names, s.Name)
	}
	doc.insertAfter("table compounds", names...)
	doc.replace("<substanceName>", d.substances[0].Name)

	var props []string
	for _, s := range d.substances {
		for _, p := range s.Params {
			props = append(props, fmt.Sprintf("%-15s%s_%s (%s)", p.Value, p.Key, s.Name, p.Unit))
		}
	}
	doc.replaceLine("<substanceProperties>", props...)

	var outs []string
	for _, v := range d.cfg.OutputVars {
		outs = append(outs, fmt.Sprintf("%-11s%s", "Yes", "print_"+v))
	}
	doc.replaceLine("<outputVariables>", outs...)

	if doc.err != nil {
		return fmt.Errorf("render %s: %w", txwTemplateFile, doc.err)
	}
	content := strings.Join(doc.lines, "\n") + "\n"
	return os.WriteFile(d.workFile(reach.ID, suffixTXWTmp), []byte(content), 0o644)
}

// renderAttemptTXW resolves the timestep markers of the rendered template
// into the file the solver actually reads. Called once per attempt with
// the sediment timestep of that attempt.
func (d *Driver) renderAttemptTXW(reach catchment.Snapshot, timeStepSediment float64) error {
	b, err := os.ReadFile(d.workFile(reach.ID, suffixTXWTmp))
	if err != nil {
		return fmt.Errorf("read rendered template: %w", err)
	}
	content := string(b)
	content = strings.ReplaceAll(content, "<MaxTimStpWat>", formatFloat(d.cfg.TimeStepDefault))
	content = strings.ReplaceAll(content, "<MaxTimStpSed>", formatFloat(timeStepSediment))
	return os.WriteFile(d.workFile(reach.ID, suffixTXW), []byte(content), 0o644)
}

func (d *Driver) template(name string) (string, error) {
	b, err := os.ReadFile(filepath.Join(d.cfg.TemplateDir, name))
	if err != nil {
		return "", fmt.Errorf("read solver template: %w", err)
	}
	return strings.TrimRight(string(b), "\n"), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// templateDoc edits template lines with a sticky error, so a render is a
// flat sequence of operations checked once at the end.
type templateDoc struct {
	lines []string
	err   error
}

func (t *templateDoc) find(marker string) int {
	if t.err != nil {
		return -1
	}
	for i, line := range t.lines {
		if strings.Contains(line, marker) {
			return i
		}
	}
	t.err = fmt.Errorf("no %q line", marker)
	return -1
}

// replace substitutes the marker in place on the line carrying it.
func (t *templateDoc) replace(marker, value string) {
	if i := t.find(marker); i >= 0 {
		t.lines[i] = strings.ReplaceAll(t.lines[i], marker, value)
	}
}

// insertAfter inserts rows directly below the line carrying the marker.
func (t *templateDoc) insertAfter(marker string, rows ...string) {
	i := t.find(marker)
	if i < 0 {
		return
	}
	out := make([]string, 0, len(t.lines)+len(rows))
	out = append(out, t.lines[:i+1]...)
	out = append(out, rows...)
	out = append(out, t.lines[i+1:]...)
	t.lines = out
}

// replaceLine swaps the whole line carrying the marker for the given rows.
func (t *templateDoc) replaceLine(marker string, rows ...string) {
	i := t.find(marker)
	if i < 0 {
		return
	}
	out := make([]string, 0, len(t.lines)+len(rows)-1)
	out = append(out, t.lines[:i]...)
	out = append(out, rows...)
	out = append(out, t.lines[i+1:]...)
	t.lines = out
}
