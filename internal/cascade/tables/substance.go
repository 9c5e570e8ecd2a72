package tables

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Substance carries one substance's solver parameters as ordered key/value
// pairs. Values are not interpreted here; the driver renders them into the
// solver input verbatim.
type Substance struct {
	Name   string
	Params []SubstanceParam
}

type SubstanceParam struct {
	Key   string
	Unit  string
	Value string
}

// LoadSubstances reads the substance parameter table.
func LoadSubstances(path string) ([]Substance, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open substance table: %w", err)
	}
	defer f.Close()
	subs, err := ParseSubstances(f)
	if err != nil {
		return nil, fmt.Errorf("substance table %s: %w", path, err)
	}
	return subs, nil
}

// ParseSubstances parses the substance table. The first column must be
// Name; every further column is a free-form parameter passed through to
// the driver.
func ParseSubstances(r io.Reader) ([]Substance, error) {
	cr := newReader(r)
	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing header row")
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(header[0]) != "Name" {
		return nil, fmt.Errorf("header column 1 is %q, want \"Name\"", strings.TrimSpace(header[0]))
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("substance table needs at least one parameter column")
	}
	units, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("missing units row")
	} else if err != nil {
		return nil, err
	}

	var subs []Substance
	seen := make(map[string]bool)
	n := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		n++
		name := strings.TrimSpace(rec[0])
		if name == "" {
			return nil, fmt.Errorf("record %d: blank substance name", n)
		}
		if seen[name] {
			return nil, fmt.Errorf("record %d: duplicate substance %q", n, name)
		}
		seen[name] = true
		params := make([]SubstanceParam, 0, len(header)-1)
		for i := 1; i < len(header); i++ {
			params = append(params, SubstanceParam{
				Key:   strings.TrimSpace(header[i]),
				Unit:  strings.TrimSpace(units[i]),
				Value: strings.TrimSpace(rec[i]),
			})
		}
		subs = append(subs, Substance{Name: name, Params: params})
	}
	if len(subs) == 0 {
		return nil, fmt.Errorf("no substance records")
	}
	return subs, nil
}
