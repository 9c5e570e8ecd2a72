package sched

import (
	"encoding/csv"
	"os"
	"sync"
)

// Field is one named diagnostics value. Rows preserve field order.
type Field struct {
	Name  string
	Value string
}

// Diagnostics appends one CSV row per completed run command. The column
// set is fixed by the first recorded row and the header is written lazily;
// every row is flushed immediately so an aborted run keeps everything
// recorded up to that point.
type Diagnostics struct {
	mu   sync.Mutex
	f    *os.File
	w    *csv.Writer
	cols []string
}

func NewDiagnostics(path string) (*Diagnostics, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &Diagnostics{f: f, w: csv.NewWriter(f)}, nil
}

func (d *Diagnostics) Record(reachID string, fields []Field) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cols == nil {
		d.cols = make([]string, 0, len(fields))
		for _, f := range fields {
			d.cols = append(d.cols, f.Name)
		}
		if err := d.w.Write(append([]string{"Reach"}, d.cols...)); err != nil {
			return err
		}
	}
	byName := make(map[string]string, len(fields))
	for _, f := range fields {
		byName[f.Name] = f.Value
	}
	row := make([]string, 0, len(d.cols)+1)
	row = append(row, reachID)
	for _, col := range d.cols {
		row = append(row, byName[col])
	}
	if err := d.w.Write(row); err != nil {
		return err
	}
	d.w.Flush()
	return d.w.Error()
}

func (d *Diagnostics) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.w.Flush()
	if err := d.w.Error(); err != nil {
		_ = d.f.Close()
		return err
	}
	return d.f.Close()
}
