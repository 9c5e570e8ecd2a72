package catchment

// Attributes are the static geometry and sediment properties of a reach,
// immutable after construction. Units follow the reach table: lengths and
// widths in m, suspended solids in g/m3, bulk density in kg/m3, porosity in
// m3/m3, organic-matter contents in g/g.
type Attributes struct {
	Length            float64
	Width             float64
	BankSlope         float64
	SuspendedSolids   float64
	OMSuspendedSolids float64
	BulkDensity       float64
	Porosity          float64
	OMSediment        float64
	X                 float64
	Y                 float64
}

// CrossSectionArea returns the wetted cross-section area (m2) for a water
// depth, assuming a trapezoidal channel with the reach's bank slope.
func (a Attributes) CrossSectionArea(depth float64) float64 {
	return depth * (a.Width + depth*a.BankSlope)
}

// WaterVolume returns the water volume (m3) held by the reach at a depth.
func (a Attributes) WaterVolume(depth float64) float64 {
	return a.CrossSectionArea(depth) * a.Length
}

// ResidenceTime returns the mean water residence time (s) at a depth and
// flow rate (m3/s). Returns +Inf when the flow rate is zero.
func (a Attributes) ResidenceTime(depth, flowRate float64) float64 {
	return a.WaterVolume(depth) / flowRate
}

// Reach is a node in the catchment graph. The catchment owns all reaches;
// cross-references are by identifier only. Static fields must not be
// mutated after Finalize.
type Reach struct {
	ID string

	// DownstreamIDs is the ordered list of direct downstream reaches.
	// Dangling references are pruned during Finalize.
	DownstreamIDs []string
	// UpstreamIDs is populated during Finalize by reverse-linking.
	UpstreamIDs []string

	Attributes

	// HasDirectLoading marks a loading (spray drift, drainage, runoff)
	// applied to this reach directly over the horizon.
	HasDirectLoading bool
	// HasUpstreamLoading marks a direct loading on any ancestor. Computed
	// during Finalize by a forward pass from the roots.
	HasUpstreamLoading bool
	// MassOutflowFileNeeded is true when at least one direct downstream
	// reach is simulated, so this reach must emit an upstream-flux file
	// even if it is itself skipped.
	MassOutflowFileNeeded bool

	state State
}

// State returns the reach's current lifecycle state.
func (r *Reach) State() State { return r.state }

// Skip reports whether the reach needs no simulation: no loading reaches it
// directly or from upstream. Skipped reaches still produce zero-valued
// outputs for their consumers.
func (r *Reach) Skip() bool {
	return !(r.HasDirectLoading || r.HasUpstreamLoading)
}

// Snapshot is a value-type copy of a reach's static attributes, detached
// from the graph. Snapshots cross worker boundaries; they carry no state
// and no references back into the catchment.
type Snapshot struct {
	ID                    string
	DownstreamIDs         []string
	UpstreamIDs           []string
	Attributes            Attributes
	HasDirectLoading      bool
	HasUpstreamLoading    bool
	Skip                  bool
	MassOutflowFileNeeded bool
}

// Snapshot returns a detached copy of the reach's static data.
func (r *Reach) Snapshot() Snapshot {
	return Snapshot{
		ID:                    r.ID,
		DownstreamIDs:         append([]string{}, r.DownstreamIDs...),
		UpstreamIDs:           append([]string{}, r.UpstreamIDs...),
		Attributes:            r.Attributes,
		HasDirectLoading:      r.HasDirectLoading,
		HasUpstreamLoading:    r.HasUpstreamLoading,
		Skip:                  r.Skip(),
		MassOutflowFileNeeded: r.MassOutflowFileNeeded,
	}
}
