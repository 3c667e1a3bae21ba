package process

import (
	"sync/atomic"

	"github.com/YorickPeterse/inko/heap"
	"github.com/YorickPeterse/inko/object"
)

// Process is an isolated actor: a unique identifier, a private heap, a
// mailbox, and a stack of call frames. All mutable state is owned by the
// thread currently running the process; the state cell, flags, and mailbox
// are the only cross-thread touch points.
type Process struct {
	id    uint64
	state stateCell

	heap    *heap.Heap
	mailbox Mailbox

	// stack is the top call frame; nil once the process has finished.
	stack *Frame

	// Reductions is the remaining budget for the current scheduling quantum.
	// It decreases monotonically within a quantum and is reset on resumption.
	Reductions int

	// blocking routes the process to the blocking pool when set.
	blocking atomic.Bool

	// pinned prevents work-stealing migration and keeps the process on its
	// current worker until unpinned.
	pinned atomic.Bool

	// timedOut is set by the timer wheel when a waiting process is woken by
	// timeout rather than by the event it waited for.
	timedOut atomic.Bool

	// timer is the pending timer-wheel entry, if any. Owner-managed.
	timer Timer

	// workerHint is the worker the process last ran on; pinned processes
	// must be re-queued there. -1 until first scheduled.
	workerHint atomic.Int32
}

// Timer is the cancellation surface of a timer-wheel entry, implemented by
// the reactor.
type Timer interface {
	Cancel()
}

// New creates a process executing block in a single fresh frame, in state
// Runnable.
func New(id uint64, h *heap.Heap, block *object.BlockPayload) *Process {
	p := &Process{id: id, heap: h}
	p.stack = NewFrame(block.Code, block.Binding, nil)
	p.state.Store(StateRunnable)
	p.workerHint.Store(-1)
	return p
}

// SetWorkerHint records the worker currently running the process.
func (p *Process) SetWorkerHint(worker int32) { p.workerHint.Store(worker) }

// WorkerHint returns the last worker the process ran on, -1 if never run.
func (p *Process) WorkerHint() int32 { return p.workerHint.Load() }

// Identifier returns the globally unique process id.
func (p *Process) Identifier() uint64 { return p.id }

// Heap returns the process's private heap.
func (p *Process) Heap() *heap.Heap { return p.heap }

// Mailbox returns the process's mailbox.
func (p *Process) Mailbox() *Mailbox { return &p.mailbox }

// State returns the current lifecycle state.
func (p *Process) State() State { return p.state.Load() }

// SetState unconditionally stores a state. Reserved for the owning thread
// and for terminal transitions.
func (p *Process) SetState(s State) { p.state.Store(s) }

// TryTransition attempts a CAS state transition. Wake-ups race through this:
// exactly one caller wins the transition to Runnable, keeping the process in
// at most one queue.
func (p *Process) TryTransition(from, to State) bool {
	return p.state.TryTransition(from, to)
}

// Terminated reports whether the process has reached its terminal state.
func (p *Process) Terminated() bool { return p.State() == StateTerminated }

// Stack returns the top call frame, nil when the stack is empty.
func (p *Process) Stack() *Frame { return p.stack }

// PushFrame makes f the top frame.
func (p *Process) PushFrame(f *Frame) { p.stack = f }

// PopFrame pops the top frame, returning the new top.
func (p *Process) PopFrame() *Frame {
	if p.stack != nil {
		p.stack = p.stack.Parent
	}
	return p.stack
}

// Terminate drops all remaining frames without running deferred blocks and
// transitions to Terminated.
func (p *Process) Terminate() {
	p.stack = nil
	p.state.Store(StateTerminated)
}

// SetBlocking flips the blocking-pool flag, returning the previous value.
func (p *Process) SetBlocking(blocking bool) bool {
	return p.blocking.Swap(blocking)
}

// IsBlocking reports whether the process belongs on the blocking pool.
func (p *Process) IsBlocking() bool { return p.blocking.Load() }

// SetPinned flips the pinned flag, returning the previous value. Pinning
// nests by restoring the returned value on unpin: only the outermost unpin
// actually clears the flag.
func (p *Process) SetPinned(pinned bool) bool {
	return p.pinned.Swap(pinned)
}

// IsPinned reports whether the process is pinned to its worker.
func (p *Process) IsPinned() bool { return p.pinned.Load() }

// SetTimer records the pending timer-wheel entry.
func (p *Process) SetTimer(t Timer) { p.timer = t }

// CancelTimer cancels and clears any pending timer entry.
func (p *Process) CancelTimer() {
	if p.timer != nil {
		p.timer.Cancel()
		p.timer = nil
	}
}

// MarkTimedOut is called by the timer wheel when waking the process by
// timeout.
func (p *Process) MarkTimedOut() { p.timedOut.Store(true) }

// ConsumeTimedOut reads and clears the timed-out flag.
func (p *Process) ConsumeTimedOut() bool { return p.timedOut.Swap(false) }

// WalkRoots visits every GC root slot of the process: all frames up the call
// chain (registers, bindings, deferred blocks) and the mailbox contents.
func (p *Process) WalkRoots(fn func(*object.Value)) {
	for f := p.stack; f != nil; f = f.Parent {
		f.WalkReferences(fn)
	}
	p.mailbox.WalkReferences(fn)
}
