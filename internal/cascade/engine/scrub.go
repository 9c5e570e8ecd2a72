package engine

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// scrubWorkDir caps the solver work directory after a clean run: files
// matching a preserve glob survive, everything else is scratch and goes.
// Completion stamps always survive so a later run can skip current
// reaches, and keep_original_outputs extends that to the raw solver
// output files. Glob patterns match the path relative to the work dir.
func (e *Engine) scrubWorkDir() (int, error) {
	preserve := []string{"*.stamp.json"}
	if e.cfg.Cleanup.KeepOriginalOutputs {
		preserve = append(preserve, "*.out")
	}
	preserve = append(preserve, e.cfg.Cleanup.Scrub.PreserveGlobs...)

	removed := 0
	err := filepath.WalkDir(e.WorkDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(e.WorkDir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		for _, pat := range preserve {
			if ok, _ := doublestar.Match(pat, rel); ok {
				return nil
			}
		}
		if err := os.Remove(path); err != nil {
			return err
		}
		removed++
		return nil
	})
	return removed, err
}
