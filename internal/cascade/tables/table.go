// Package tables parses the CSV input tables of a catchment experiment:
// the reach description table, the per-reach hourly hydrology and loadings
// tables, the substance table and the daily air temperature table.
//
// All tables share one shape: a fixed header row, a units row that is
// skipped, '#' comment lines and comma-separated records.
package tables

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	return cr
}

// readRecords consumes the header and units rows, enforcing the expected
// header, and returns the remaining data records.
func readRecords(r io.Reader, want []string) ([][]string, error) {
	cr := newReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing header row")
	}
	if err != nil {
		return nil, err
	}
	if err := checkHeader(header, want); err != nil {
		return nil, err
	}
	if _, err := cr.Read(); err == io.EOF {
		return nil, fmt.Errorf("missing units row")
	} else if err != nil {
		return nil, err
	}
	var recs [][]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
}

func checkHeader(got, want []string) error {
	if len(got) != len(want) {
		return fmt.Errorf("header has %d columns, want %d (%s)",
			len(got), len(want), strings.Join(want, ","))
	}
	for i, name := range want {
		if strings.TrimSpace(got[i]) != name {
			return fmt.Errorf("header column %d is %q, want %q", i+1, strings.TrimSpace(got[i]), name)
		}
	}
	return nil
}

func parseFloat(field, col string, record int) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
	if err != nil {
		return 0, fmt.Errorf("record %d: column %s: cannot parse %q as a number", record, col, field)
	}
	return v, nil
}

func parseBool(field, col string, record int) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(field)) {
	case "yes", "true", "1":
		return true, nil
	case "no", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("record %d: column %s: cannot parse %q as a boolean", record, col, field)
}
