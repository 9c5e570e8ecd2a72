package catchment

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// TopologyError reports a fatal defect in the catchment graph, detected
// before any work is dispatched.
type TopologyError struct {
	Reason string
}

func (e *TopologyError) Error() string { return "topology error: " + e.Reason }

// PrunedEdge records a downstream reference that named a reach absent from
// the catchment and was removed during Finalize.
type PrunedEdge struct {
	From string
	To   string
}

// Catchment owns the reaches of one simulation and maintains the live
// eligibility indices the scheduler drains. All state mutation is
// serialized under a single lock; workers never touch the catchment.
type Catchment struct {
	mu      sync.Mutex
	reaches map[string]*Reach
	// ids is kept sorted; it fixes iteration order everywhere.
	ids       []string
	finalized bool

	canStart     map[string]struct{}
	canBeCleaned map[string]struct{}
	failed       map[string]struct{}
	doneCount    int

	roots  []string
	leaves []string
	pruned []PrunedEdge
}

// New returns an empty catchment.
func New() *Catchment {
	return &Catchment{
		reaches:      map[string]*Reach{},
		canStart:     map[string]struct{}{},
		canBeCleaned: map[string]struct{}{},
		failed:       map[string]struct{}{},
	}
}

// AddReach inserts a reach in the Waiting state. Downstream references may
// name reaches that are never added; they are pruned during Finalize.
func (c *Catchment) AddReach(id string, attrs Attributes, downstreamIDs []string, hasDirectLoading bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return fmt.Errorf("add reach %q: catchment already finalized", id)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("add reach: blank reach id")
	}
	if _, exists := c.reaches[id]; exists {
		return &TopologyError{Reason: fmt.Sprintf("duplicate reach id %q", id)}
	}
	ds := make([]string, 0, len(downstreamIDs))
	for _, d := range downstreamIDs {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		ds = append(ds, d)
	}
	c.reaches[id] = &Reach{
		ID:               id,
		DownstreamIDs:    ds,
		Attributes:       attrs,
		HasDirectLoading: hasDirectLoading,
		state:            StateWaiting,
	}
	c.ids = append(c.ids, id)
	sort.Strings(c.ids)
	return nil
}

// Finalize freezes the topology: prunes dangling downstream references,
// reverse-links upstream lists, rejects cycles, runs the forward pass that
// sets HasUpstreamLoading and the backward pass that sets
// MassOutflowFileNeeded, and seeds initial eligibility from the roots.
// Idempotent: a second call is a no-op.
func (c *Catchment) Finalize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finalized {
		return nil
	}
	if len(c.reaches) == 0 {
		return &TopologyError{Reason: "catchment has no reaches"}
	}

	for _, id := range c.ids {
		r := c.reaches[id]
		kept := r.DownstreamIDs[:0]
		for _, d := range r.DownstreamIDs {
			if _, ok := c.reaches[d]; ok {
				kept = append(kept, d)
				continue
			}
			c.pruned = append(c.pruned, PrunedEdge{From: id, To: d})
		}
		r.DownstreamIDs = kept
	}

	for _, id := range c.ids {
		for _, d := range c.reaches[id].DownstreamIDs {
			down := c.reaches[d]
			down.UpstreamIDs = append(down.UpstreamIDs, id)
		}
	}

	order, err := c.topoOrder()
	if err != nil {
		return err
	}

	// Forward pass in topological order: a reach has upstream loading when
	// any parent carries a direct or inherited loading.
	for _, id := range order {
		r := c.reaches[id]
		if !r.HasDirectLoading && !r.HasUpstreamLoading {
			continue
		}
		for _, d := range r.DownstreamIDs {
			c.reaches[d].HasUpstreamLoading = true
		}
	}

	for _, id := range c.ids {
		r := c.reaches[id]
		for _, d := range r.DownstreamIDs {
			if !c.reaches[d].Skip() {
				r.MassOutflowFileNeeded = true
				break
			}
		}
	}

	for _, id := range c.ids {
		r := c.reaches[id]
		if len(r.UpstreamIDs) == 0 {
			c.roots = append(c.roots, id)
		}
		if len(r.DownstreamIDs) == 0 {
			c.leaves = append(c.leaves, id)
		}
	}

	c.finalized = true

	for _, id := range c.roots {
		c.checkStart(c.reaches[id])
	}
	return nil
}

// topoOrder runs Kahn's algorithm over the downstream adjacency. A
// non-empty remainder means a cycle; the offending reach ids are reported.
func (c *Catchment) topoOrder() ([]string, error) {
	indeg := make(map[string]int, len(c.reaches))
	for _, id := range c.ids {
		for _, d := range c.reaches[id].DownstreamIDs {
			indeg[d]++
		}
	}
	queue := make([]string, 0, len(c.reaches))
	for _, id := range c.ids {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}
	order := make([]string, 0, len(c.reaches))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, d := range c.reaches[id].DownstreamIDs {
			indeg[d]--
			if indeg[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if len(order) != len(c.reaches) {
		var cyclic []string
		seen := map[string]struct{}{}
		for _, id := range order {
			seen[id] = struct{}{}
		}
		for _, id := range c.ids {
			if _, ok := seen[id]; !ok {
				cyclic = append(cyclic, id)
			}
		}
		return nil, &TopologyError{Reason: fmt.Sprintf("cycle detected among reaches %s", strings.Join(cyclic, ", "))}
	}
	return order, nil
}

// setState applies a state and maintains the eligibility indices. Caller
// holds mu.
func (c *Catchment) setState(r *Reach, s State) {
	r.state = s
	switch s {
	case StateCanStart:
		c.canStart[r.ID] = struct{}{}
	case StateRunning:
		delete(c.canStart, r.ID)
	case StateCanBeCleaned:
		c.canBeCleaned[r.ID] = struct{}{}
	case StateCleaning:
		delete(c.canBeCleaned, r.ID)
	case StateDone:
		c.doneCount++
	case StateError, StateUpstreamError:
		delete(c.canStart, r.ID)
		c.failed[r.ID] = struct{}{}
	}
}

// checkStart promotes a Waiting reach to CanStart once every upstream reach
// has completed its run, or to UpstreamError if any upstream failed.
// Idempotent. Caller holds mu.
func (c *Catchment) checkStart(r *Reach) {
	if r.state != StateWaiting {
		return
	}
	ready := true
	for _, u := range r.UpstreamIDs {
		switch c.reaches[u].state {
		case StateRunDone, StateDone:
		default:
			ready = false
		}
	}
	if ready {
		c.setState(r, StateCanStart)
		return
	}
	for _, u := range r.UpstreamIDs {
		if c.reaches[u].state.Failed() {
			c.failFrom(r)
			return
		}
	}
}

// checkClean promotes a RunDone reach to CanBeCleaned once no direct
// downstream reach can still consume its upstream-flux file: every child
// has either completed its own run or failed. Idempotent. Caller holds mu.
func (c *Catchment) checkClean(r *Reach) {
	if r.state != StateRunDone {
		return
	}
	for _, d := range r.DownstreamIDs {
		st := c.reaches[d].state
		if !st.PastRun() && !st.Failed() {
			return
		}
	}
	c.setState(r, StateCanBeCleaned)
}

// failFrom marks a reach UpstreamError and walks its downstream cone.
// Only Waiting reaches are demoted: anything further along has already
// consumed its inputs. Caller holds mu.
func (c *Catchment) failFrom(r *Reach) {
	c.setState(r, StateUpstreamError)
	c.propagateFailure(r)
}

// propagateFailure demotes the Waiting downstream cone of a failed reach to
// UpstreamError and re-checks cleanup eligibility around the newly failed
// set. Caller holds mu.
func (c *Catchment) propagateFailure(origin *Reach) {
	affected := []*Reach{origin}
	queue := []*Reach{origin}
	for len(queue) > 0 {
		r := queue[0]
		queue = queue[1:]
		for _, d := range r.DownstreamIDs {
			down := c.reaches[d]
			if down.state != StateWaiting {
				continue
			}
			c.setState(down, StateUpstreamError)
			affected = append(affected, down)
			queue = append(queue, down)
		}
	}
	// A parent of a failed reach may now be free to clean up: the failed
	// child will never read the flux file.
	for _, r := range affected {
		for _, u := range r.UpstreamIDs {
			c.checkClean(c.reaches[u])
		}
	}
}

// MarkRunning transitions a reach from CanStart to Running. The scheduler
// calls this when dispatching a run command.
func (c *Catchment) MarkRunning(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reaches[id]
	if !ok {
		return fmt.Errorf("mark running: unknown reach %q", id)
	}
	if r.state != StateCanStart {
		return fmt.Errorf("mark running: reach %q is %s, want %s", id, r.state, StateCanStart)
	}
	c.setState(r, StateRunning)
	return nil
}

// MarkCleaning transitions a reach from CanBeCleaned to Cleaning.
func (c *Catchment) MarkCleaning(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reaches[id]
	if !ok {
		return fmt.Errorf("mark cleaning: unknown reach %q", id)
	}
	if r.state != StateCanBeCleaned {
		return fmt.Errorf("mark cleaning: reach %q is %s, want %s", id, r.state, StateCanBeCleaned)
	}
	c.setState(r, StateCleaning)
	return nil
}

// MarkRunDone records a completed (or skipped) run and cascades the
// re-checks: the reach itself may be cleanable, each direct upstream may be
// cleanable, each direct downstream may be startable.
func (c *Catchment) MarkRunDone(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reaches[id]
	if !ok {
		return fmt.Errorf("mark run done: unknown reach %q", id)
	}
	if r.state != StateRunning {
		return fmt.Errorf("mark run done: reach %q is %s, want %s", id, r.state, StateRunning)
	}
	c.setState(r, StateRunDone)
	c.checkClean(r)
	for _, u := range r.UpstreamIDs {
		c.checkClean(c.reaches[u])
	}
	for _, d := range r.DownstreamIDs {
		c.checkStart(c.reaches[d])
	}
	return nil
}

// MarkDone records a completed cleanup.
func (c *Catchment) MarkDone(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reaches[id]
	if !ok {
		return fmt.Errorf("mark done: unknown reach %q", id)
	}
	if r.state != StateCleaning {
		return fmt.Errorf("mark done: reach %q is %s, want %s", id, r.state, StateCleaning)
	}
	c.setState(r, StateDone)
	return nil
}

// MarkFailed records a driver failure on a reach. Every transitive
// downstream reach that has not started becomes UpstreamError and is never
// dispatched. Failing an already-terminal reach is an error.
func (c *Catchment) MarkFailed(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reaches[id]
	if !ok {
		return fmt.Errorf("mark failed: unknown reach %q", id)
	}
	if r.state.Terminal() {
		return fmt.Errorf("mark failed: reach %q already terminal (%s)", id, r.state)
	}
	c.setState(r, StateError)
	c.propagateFailure(r)
	return nil
}

// State returns the current state of a reach.
func (c *Catchment) State(id string) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reaches[id]
	if !ok {
		return "", fmt.Errorf("unknown reach %q", id)
	}
	return r.state, nil
}

// Len returns the number of reaches.
func (c *Catchment) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reaches)
}

// IDs returns all reach ids in sorted order.
func (c *Catchment) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.ids...)
}

// Reach returns the reach for an id. The returned value is owned by the
// catchment; callers must treat it as read-only.
func (c *Catchment) Reach(id string) (*Reach, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reaches[id]
	return r, ok
}

// Snapshot returns a detached copy of a reach's static data.
func (c *Catchment) Snapshot(id string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reaches[id]
	if !ok {
		return Snapshot{}, false
	}
	return r.Snapshot(), true
}

// Snapshots returns detached copies of every reach, in id order.
func (c *Catchment) Snapshots() []Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Snapshot, 0, len(c.ids))
	for _, id := range c.ids {
		out = append(out, c.reaches[id].Snapshot())
	}
	return out
}

// EligibleToStart returns the ids currently in CanStart, sorted.
func (c *Catchment) EligibleToStart() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.canStart)
}

// EligibleToClean returns the ids currently in CanBeCleaned, sorted.
func (c *Catchment) EligibleToClean() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.canBeCleaned)
}

// FailedIDs returns the ids that ended in Error or UpstreamError, sorted.
func (c *Catchment) FailedIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedKeys(c.failed)
}

// DoneCount returns the number of reaches that reached Done.
func (c *Catchment) DoneCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneCount
}

// Done reports whether every reach is terminal: completed, failed, or
// demoted by an upstream failure.
func (c *Catchment) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.doneCount+len(c.failed) == len(c.reaches)
}

// Roots returns the ids with no upstream reach, sorted.
func (c *Catchment) Roots() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.roots...)
}

// Leaves returns the ids with no downstream reach, sorted.
func (c *Catchment) Leaves() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string{}, c.leaves...)
}

// PrunedEdges returns the dangling downstream references removed during
// Finalize.
func (c *Catchment) PrunedEdges() []PrunedEdge {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]PrunedEdge{}, c.pruned...)
}

// DownstreamAdjacency returns a copy of the child adjacency relation, for
// priority computation and exports.
func (c *Catchment) DownstreamAdjacency() map[string][]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	adj := make(map[string][]string, len(c.reaches))
	for _, id := range c.ids {
		adj[id] = append([]string{}, c.reaches[id].DownstreamIDs...)
	}
	return adj
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
