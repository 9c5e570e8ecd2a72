package sched

import (
	"testing"
	"time"

	"github.com/danshapiro/cascade/internal/cascade/catchment"
)

func reachCmd(id string, prio int, action Action) Command {
	return Command{Priority: prio, Action: action, Reach: catchment.Snapshot{ID: id}}
}

func TestCommandQueueOrdersByPriority(t *testing.T) {
	q := NewCommandQueue()
	q.Push(reachCmd("C", 2, ActionRun))
	q.Push(reachCmd("A", 0, ActionRun))
	q.Push(reachCmd("B", 1, ActionRun))

	want := []string{"A", "B", "C"}
	for _, id := range want {
		cmd, ok := q.Pop()
		if !ok {
			t.Fatalf("Pop returned closed queue")
		}
		if cmd.Reach.ID != id {
			t.Fatalf("popped %q, want %q", cmd.Reach.ID, id)
		}
	}
	if got := q.Len(); got != 0 {
		t.Fatalf("Len after draining = %d, want 0", got)
	}
}

func TestCommandQueueFIFOWithinPriority(t *testing.T) {
	q := NewCommandQueue()
	q.Push(reachCmd("first", 3, ActionRun))
	q.Push(reachCmd("second", 3, ActionRun))
	q.Push(reachCmd("third", 3, ActionRun))

	for _, want := range []string{"first", "second", "third"} {
		cmd, _ := q.Pop()
		if cmd.Reach.ID != want {
			t.Fatalf("popped %q, want %q", cmd.Reach.ID, want)
		}
	}
}

func TestCommandQueueStopSortsAfterWork(t *testing.T) {
	q := NewCommandQueue()
	q.Push(Command{Priority: 5, Action: ActionStop})
	q.Push(reachCmd("R1", 0, ActionRun))
	q.Push(reachCmd("R2", 4, ActionCleanup))

	order := []Action{ActionRun, ActionCleanup, ActionStop}
	for _, want := range order {
		cmd, _ := q.Pop()
		if cmd.Action != want {
			t.Fatalf("popped action %q, want %q", cmd.Action, want)
		}
	}
}

func TestCommandQueuePopBlocksUntilPush(t *testing.T) {
	q := NewCommandQueue()
	got := make(chan Command, 1)
	go func() {
		cmd, _ := q.Pop()
		got <- cmd
	}()

	select {
	case cmd := <-got:
		t.Fatalf("Pop returned %+v before anything was pushed", cmd)
	case <-time.After(20 * time.Millisecond):
	}

	q.Push(reachCmd("R9", 1, ActionRun))
	select {
	case cmd := <-got:
		if cmd.Reach.ID != "R9" {
			t.Fatalf("popped %q, want R9", cmd.Reach.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Pop did not wake after Push")
	}
}

func TestCommandQueueCloseWakesWaiters(t *testing.T) {
	q := NewCommandQueue()
	done := make(chan bool, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, ok := q.Pop()
			done <- ok
		}()
	}

	q.Close()
	for i := 0; i < 2; i++ {
		select {
		case ok := <-done:
			if ok {
				t.Fatalf("Pop on closed empty queue returned ok=true")
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("Pop still blocked after Close")
		}
	}

	if q.Push(reachCmd("late", 0, ActionRun)) {
		t.Fatalf("Push succeeded on closed queue")
	}
}

func TestCommandQueueDrainsAfterClose(t *testing.T) {
	q := NewCommandQueue()
	q.Push(reachCmd("R1", 0, ActionRun))
	q.Close()

	cmd, ok := q.Pop()
	if !ok || cmd.Reach.ID != "R1" {
		t.Fatalf("Pop after Close = (%q, %v), want (R1, true)", cmd.Reach.ID, ok)
	}
	if _, ok := q.Pop(); ok {
		t.Fatalf("Pop on drained closed queue returned ok=true")
	}
}
