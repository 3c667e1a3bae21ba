package reactor

import (
	"container/heap"
	"sync/atomic"
	"time"

	"github.com/YorickPeterse/inko/process"
)

// Timer is one timer-wheel entry: a wakeup for a suspended process at a
// deadline. Cancellation is lazy: a cancelled entry stays in the heap until
// it surfaces, then is pruned without firing.
type Timer struct {
	when      time.Time
	proc      *process.Process
	from      process.State
	timeout   bool
	cancelled atomic.Bool
}

// Cancel marks the entry cancelled. Safe to call from any thread, including
// after the timer fired (the fire/cancel race is resolved by the process
// state CAS).
func (t *Timer) Cancel() {
	t.cancelled.Store(true)
}

// fire wakes the parked process, if the entry still owns the wakeup.
//
// Returns false when the wakeup could not be delivered yet: timers are armed
// before the process publishes its waiting state, so a deadline can surface
// while the process is still transitioning. The caller re-queues such
// entries with a short delay until the CAS lands or the entry is cancelled.
func (t *Timer) fire(sched Scheduler) bool {
	if t.cancelled.Load() {
		return true
	}
	if !t.proc.TryTransition(t.from, process.StateRunnable) {
		return false
	}
	if t.timeout {
		t.proc.MarkTimedOut()
	}
	sched.Schedule(t.proc)
	return true
}

// timerHeap is a min-heap of timer entries ordered by deadline.
type timerHeap []*Timer

func (h timerHeap) Len() int           { return len(h) }
func (h timerHeap) Less(i, j int) bool { return h[i].when.Before(h[j].when) }
func (h timerHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *timerHeap) Push(x any) {
	*h = append(*h, x.(*Timer))
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return x
}

var _ heap.Interface = (*timerHeap)(nil)
