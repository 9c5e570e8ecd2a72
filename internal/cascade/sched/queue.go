package sched

import (
	"container/heap"
	"sync"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
)

// Action is the lifecycle step a command asks a worker to perform.
type Action string

const (
	ActionInit    Action = "init"
	ActionRun     Action = "run"
	ActionCleanup Action = "cleanup"
	ActionStop    Action = "stop"
)

// Command is one queued unit of work. Stop commands carry no reach and are
// enqueued at a priority after all reach work, so draining finishes first.
type Command struct {
	Priority int
	Action   Action
	Reach    catchment.Snapshot
}

// CommandQueue is an unbounded priority queue. Pop returns the lowest
// Priority value first, FIFO within equal priorities. Push never blocks;
// Pop blocks until an item arrives or the queue closes.
type CommandQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  cmdHeap
	seq    int
	closed bool
}

func NewCommandQueue() *CommandQueue {
	q := &CommandQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push enqueues a command. Returns false if the queue is closed.
func (q *CommandQueue) Push(cmd Command) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.seq++
	heap.Push(&q.items, queueItem{cmd: cmd, seq: q.seq})
	q.cond.Signal()
	return true
}

// Pop blocks until a command is available or the queue closes. The second
// return is false only when the queue is closed and drained.
func (q *CommandQueue) Pop() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return Command{}, false
	}
	item := heap.Pop(&q.items).(queueItem)
	return item.cmd, true
}

// Close wakes every blocked Pop. Commands already queued stay poppable.
func (q *CommandQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type queueItem struct {
	cmd Command
	seq int
}

type cmdHeap []queueItem

func (h cmdHeap) Len() int { return len(h) }

func (h cmdHeap) Less(i, j int) bool {
	if h[i].cmd.Priority != h[j].cmd.Priority {
		return h[i].cmd.Priority < h[j].cmd.Priority
	}
	return h[i].seq < h[j].seq
}

func (h cmdHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cmdHeap) Push(x any) { *h = append(*h, x.(queueItem)) }

func (h *cmdHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
