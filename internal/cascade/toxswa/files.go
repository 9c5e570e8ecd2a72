package toxswa

import (
	"os"
	"path/filepath"
)

// Every per-reach work file shares the Reach<ID> basename the solver
// expects on its command line.
const (
	suffixHyd    = ".hyd"
	suffixTXWTmp = "_tmp.txw"
	suffixTXW    = ".txw"
	suffixMFS    = ".mfs"
	suffixMFL    = ".mfl"
	suffixMFU    = ".mfu"
	suffixOut    = ".out"
	suffixErr    = ".ERR"
	suffixStamp  = ".stamp.json"

	suffixInvocation = ".invocation.json"
	suffixStdout     = ".stdout.log"
	suffixStderr     = ".stderr.log"
)

// Template file names looked up under Config.TemplateDir.
const (
	txwTemplateFile = "txw_template.txw"
	mfsTemplateFile = "mfs_template.mfs"
	mflTemplateFile = "mfl_template.mfl"
	mfuTemplateFile = "mfu_template.mfu"
)

func (d *Driver) workFile(reachID, suffix string) string {
	return filepath.Join(d.env.WorkDir, "Reach"+reachID+suffix)
}

func (d *Driver) resultPath(reachID string) string {
	return filepath.Join(d.env.OutputDir, reachID+".csv")
}

func (d *Driver) loadingsPath(reachID string) string {
	return filepath.Join(d.env.InputDir, reachID+".csv")
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}
