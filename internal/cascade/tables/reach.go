package tables

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
)

var reachHeader = []string{
	"RchID", "RchIDDwn", "Len", "WidWatSys", "SloSidWatSys",
	"ConSus", "CntOmSusSol", "Rho", "ThetaSat", "CntOM", "X", "Y", "Expsd",
}

// ReachRow is one parsed record of the reach description table.
type ReachRow struct {
	ID            string
	DownstreamIDs []string
	Attributes    catchment.Attributes
	// HasLoading marks a reach that receives a direct loading over the
	// simulated horizon (Expsd column).
	HasLoading bool
}

// LoadReachTable reads the catchment's reach description table. RchIDDwn
// may name several downstream reaches separated by whitespace; "-" or an
// empty field marks an outlet.
func LoadReachTable(path string) ([]ReachRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open reach table: %w", err)
	}
	defer f.Close()
	rows, err := ParseReachTable(f)
	if err != nil {
		return nil, fmt.Errorf("reach table %s: %w", path, err)
	}
	return rows, nil
}

func ParseReachTable(r io.Reader) ([]ReachRow, error) {
	recs, err := readRecords(r, reachHeader)
	if err != nil {
		return nil, err
	}
	rows := make([]ReachRow, 0, len(recs))
	for i, rec := range recs {
		n := i + 1
		id := strings.TrimSpace(rec[0])
		if id == "" {
			return nil, fmt.Errorf("record %d: blank reach id", n)
		}
		row := ReachRow{ID: id, DownstreamIDs: splitDownstream(rec[1])}

		var ferr error
		assign := func(dst *float64, idx int, col string) {
			if ferr != nil {
				return
			}
			v, err := parseFloat(rec[idx], col, n)
			if err != nil {
				ferr = err
				return
			}
			*dst = v
		}
		assign(&row.Attributes.Length, 2, "Len")
		assign(&row.Attributes.Width, 3, "WidWatSys")
		assign(&row.Attributes.BankSlope, 4, "SloSidWatSys")
		assign(&row.Attributes.SuspendedSolids, 5, "ConSus")
		assign(&row.Attributes.OMSuspendedSolids, 6, "CntOmSusSol")
		assign(&row.Attributes.BulkDensity, 7, "Rho")
		assign(&row.Attributes.Porosity, 8, "ThetaSat")
		assign(&row.Attributes.OMSediment, 9, "CntOM")
		assign(&row.Attributes.X, 10, "X")
		assign(&row.Attributes.Y, 11, "Y")
		if ferr != nil {
			return nil, ferr
		}

		exposed, err := parseBool(rec[12], "Expsd", n)
		if err != nil {
			return nil, err
		}
		row.HasLoading = exposed
		rows = append(rows, row)
	}
	return rows, nil
}

func splitDownstream(field string) []string {
	field = strings.TrimSpace(field)
	if field == "" || field == "-" {
		return nil
	}
	return strings.Fields(field)
}
