package tables

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// TimeLayout is the timestamp format of the hourly input tables.
const TimeLayout = "02-Jan-2006-15h04"

var loadingsHeader = []string{"Time", "QBou", "DepWat", "LoaDrf"}

// LoadingRow is one hourly hydrology and drift-loading record for a reach.
type LoadingRow struct {
	Time time.Time
	// Flow is the water inflow at the upstream boundary (m3/s).
	Flow float64
	// Depth is the water depth (m).
	Depth float64
	// Drift is the drift mass deposited on the reach this hour, per meter
	// of reach length (g/m). Zero outside application events.
	Drift float64
}

// LoadLoadings reads the hourly hydrology and loadings table of one reach.
func LoadLoadings(path string) ([]LoadingRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open loadings table: %w", err)
	}
	defer f.Close()
	rows, err := ParseLoadings(f)
	if err != nil {
		return nil, fmt.Errorf("loadings table %s: %w", path, err)
	}
	return rows, nil
}

// ParseLoadings parses and checks an hourly loadings table. Records must
// be exactly one hour apart.
func ParseLoadings(r io.Reader) ([]LoadingRow, error) {
	recs, err := readRecords(r, loadingsHeader)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no hydrology records")
	}
	rows := make([]LoadingRow, 0, len(recs))
	for i, rec := range recs {
		n := i + 1
		ts, err := time.Parse(TimeLayout, strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("record %d: bad Time %q, want layout %s", n, strings.TrimSpace(rec[0]), TimeLayout)
		}
		flow, err := parseFloat(rec[1], "QBou", n)
		if err != nil {
			return nil, err
		}
		depth, err := parseFloat(rec[2], "DepWat", n)
		if err != nil {
			return nil, err
		}
		drift, err := parseFloat(rec[3], "LoaDrf", n)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			if step := ts.Sub(rows[i-1].Time); step != time.Hour {
				return nil, fmt.Errorf("record %d: time step %s from previous record, want 1h", n, step)
			}
		}
		rows = append(rows, LoadingRow{Time: ts, Flow: flow, Depth: depth, Drift: drift})
	}
	return rows, nil
}
