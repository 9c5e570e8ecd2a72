package toxswa

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
	"github.com/danshapiro/cascade/internal/cascade/runstate"
	"github.com/danshapiro/cascade/internal/cascade/tables"
)

// stampDoc marks a reach whose results on disk are current. A run skips a
// reach when the recorded digest still matches and the result table exists.
type stampDoc struct {
	ReachID    string    `json:"reach_id"`
	Digest     string    `json:"digest"`
	ResultFile string    `json:"result_file"`
	WrittenAt  time.Time `json:"written_at"`
}

// fingerprint digests everything that determines a reach's results: the
// static snapshot, the driver configuration, the simulation horizon and
// the raw bytes of the loadings and substance tables.
func (d *Driver) fingerprint(reach catchment.Snapshot) (string, error) {
	h := blake3.New()
	if err := json.NewEncoder(h).Encode(map[string]any{
		"reach":  reach,
		"config": d.cfg,
		"start":  d.env.Start.Format(tables.TimeLayout),
		"end":    d.env.End.Format(tables.TimeLayout),
	}); err != nil {
		return "", err
	}
	for _, path := range []string{
		d.loadingsPath(reach.ID),
		filepath.Join(d.env.InputDir, d.cfg.SubstanceFile),
	} {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("fingerprint input: %w", err)
		}
		_, _ = h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// stampMatches reports whether the reach's results on disk are current.
// A missing or unparseable stamp reads as absent, never as an error.
func (d *Driver) stampMatches(reach catchment.Snapshot) (bool, error) {
	b, err := os.ReadFile(d.workFile(reach.ID, suffixStamp))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var doc stampDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return false, nil
	}
	digest, err := d.fingerprint(reach)
	if err != nil {
		return false, err
	}
	if doc.Digest != digest {
		return false, nil
	}
	return fileExists(filepath.Join(d.env.OutputDir, doc.ResultFile)), nil
}

func (d *Driver) writeStamp(reach catchment.Snapshot) error {
	digest, err := d.fingerprint(reach)
	if err != nil {
		return err
	}
	return runstate.WriteJSONAtomicFile(d.workFile(reach.ID, suffixStamp), stampDoc{
		ReachID:    reach.ID,
		Digest:     digest,
		ResultFile: reach.ID + ".csv",
		WrittenAt:  time.Now().UTC(),
	})
}
