package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
	"github.com/danshapiro/cascade/internal/cascade/runstate"
)

// renderDot serializes the finalized catchment as Graphviz text. Nodes
// carry the dispatch priority and skip flag; edges follow flow direction.
// The file is a debugging artifact, nothing reads it back.
func renderDot(cat *catchment.Catchment, priorities map[string]int) string {
	snaps := cat.Snapshots()
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })

	var b strings.Builder
	b.WriteString("digraph catchment {\n")
	b.WriteString("  rankdir=LR;\n")
	for _, snap := range snaps {
		fmt.Fprintf(&b, "  %q [priority=%d skip=%t", snap.ID, priorities[snap.ID], snap.Skip)
		if snap.HasDirectLoading {
			b.WriteString(" loading=direct")
		} else if snap.HasUpstreamLoading {
			b.WriteString(" loading=upstream")
		}
		b.WriteString("];\n")
	}
	for _, snap := range snaps {
		for _, down := range snap.DownstreamIDs {
			fmt.Fprintf(&b, "  %q -> %q;\n", snap.ID, down)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func writeDot(path string, cat *catchment.Catchment, priorities map[string]int) error {
	return runstate.WriteFileAtomic(path, []byte(renderDot(cat, priorities)))
}
