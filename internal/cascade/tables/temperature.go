package tables

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// DateLayout is the day format of the daily temperature table.
const DateLayout = "02-Jan-2006"

var temperatureHeader = []string{"Time", "TemAir"}

// TemperatureRow is one daily air temperature record.
type TemperatureRow struct {
	Day     time.Time
	AirTemp float64
}

// LoadTemperature reads the daily air temperature table.
func LoadTemperature(path string) ([]TemperatureRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open temperature table: %w", err)
	}
	defer f.Close()
	rows, err := ParseTemperature(f)
	if err != nil {
		return nil, fmt.Errorf("temperature table %s: %w", path, err)
	}
	return rows, nil
}

// ParseTemperature parses and checks the daily temperature table. Records
// must be exactly one day apart.
func ParseTemperature(r io.Reader) ([]TemperatureRow, error) {
	recs, err := readRecords(r, temperatureHeader)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("no temperature records")
	}
	rows := make([]TemperatureRow, 0, len(recs))
	for i, rec := range recs {
		n := i + 1
		day, err := time.Parse(DateLayout, strings.TrimSpace(rec[0]))
		if err != nil {
			return nil, fmt.Errorf("record %d: bad Time %q, want layout %s", n, strings.TrimSpace(rec[0]), DateLayout)
		}
		temp, err := parseFloat(rec[1], "TemAir", n)
		if err != nil {
			return nil, err
		}
		if i > 0 {
			if step := day.Sub(rows[i-1].Day); step != 24*time.Hour {
				return nil, fmt.Errorf("record %d: time step %s from previous record, want 24h", n, step)
			}
		}
		rows = append(rows, TemperatureRow{Day: day, AirTemp: temp})
	}
	return rows, nil
}

// WriteMetFile renders the daily temperatures into the meteo work file the
// solver reads: a comment preamble, then one "day,temperature" line per
// record.
func WriteMetFile(path string, rows []TemperatureRow) error {
	if len(rows) == 0 {
		return fmt.Errorf("met file needs at least one temperature record")
	}
	var b strings.Builder
	b.WriteString("* Daily air temperature\n")
	b.WriteString("* Time, TemAir (C)\n")
	for _, row := range rows {
		fmt.Fprintf(&b, "%s,%7.2f\n", row.Day.Format(DateLayout), row.AirTemp)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write met file: %w", err)
	}
	return nil
}
