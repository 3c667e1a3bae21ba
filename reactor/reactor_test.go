package reactor

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/YorickPeterse/inko/bytecode"
	"github.com/YorickPeterse/inko/heap"
	"github.com/YorickPeterse/inko/object"
	"github.com/YorickPeterse/inko/process"
)

// chanSched records scheduled processes on a channel.
type chanSched struct {
	ch chan *process.Process
}

func (c *chanSched) Schedule(p *process.Process) { c.ch <- p }

func newProc(id uint64) *process.Process {
	code := &bytecode.CodeObject{Name: "test", File: "test.inko", Registers: 1}
	h := heap.New(heap.Config{}, nil, nil)
	return process.New(id, h, &object.BlockPayload{Code: code})
}

func startReactor(t *testing.T) (*Reactor, *chanSched) {
	t.Helper()
	sched := &chanSched{ch: make(chan *process.Process, 16)}
	r, err := New(sched, nil)
	if err != nil {
		t.Fatal(err)
	}
	r.Start()
	t.Cleanup(r.Stop)
	return r, sched
}

func TestReactor_TimerFiresWithinBound(t *testing.T) {
	t.Parallel()

	r, sched := startReactor(t)
	p := newProc(1)
	p.SetState(process.StateWaitingTimer)

	const d = 50 * time.Millisecond
	start := time.Now()
	r.ScheduleTimer(p, d, process.StateWaitingTimer, false)

	select {
	case woken := <-sched.ch:
		elapsed := time.Since(start)
		if woken != p {
			t.Fatal("wrong process woken")
		}
		if elapsed < d {
			t.Fatalf("timer fired after %v, before the %v deadline", elapsed, d)
		}
		if p.State() != process.StateRunnable {
			t.Fatalf("woken process state = %s, want Runnable", p.State())
		}
		if p.ConsumeTimedOut() {
			t.Fatal("plain suspension wake-up must not mark a timeout")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timer never fired")
	}
}

func TestReactor_ReceiveTimeoutMarksProcess(t *testing.T) {
	t.Parallel()

	r, sched := startReactor(t)
	p := newProc(1)
	p.SetState(process.StateWaitingMessage)

	r.ScheduleTimer(p, 20*time.Millisecond, process.StateWaitingMessage, true)

	select {
	case <-sched.ch:
		if !p.ConsumeTimedOut() {
			t.Fatal("receive-timeout wake-up must mark the process timed out")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout timer never fired")
	}
}

func TestReactor_CancelledTimerNeverFires(t *testing.T) {
	t.Parallel()

	r, sched := startReactor(t)
	p := newProc(1)
	p.SetState(process.StateWaitingTimer)

	timer := r.ScheduleTimer(p, 30*time.Millisecond, process.StateWaitingTimer, false)
	timer.Cancel()

	select {
	case <-sched.ch:
		t.Fatal("cancelled timer woke the process")
	case <-time.After(150 * time.Millisecond):
	}
	if p.State() != process.StateWaitingTimer {
		t.Fatal("cancelled timer changed the process state")
	}
}

// TestReactor_TimerRetriesUntilParked covers the arm-before-park window:
// the deadline may surface before the waiter has published its waiting
// state, in which case the wakeup retries until the CAS lands.
func TestReactor_TimerRetriesUntilParked(t *testing.T) {
	t.Parallel()

	r, sched := startReactor(t)
	p := newProc(1)
	p.SetState(process.StateRunning)

	r.ScheduleTimer(p, 20*time.Millisecond, process.StateWaitingMessage, true)

	// Let the deadline pass while the process is still "transitioning".
	time.Sleep(60 * time.Millisecond)
	select {
	case <-sched.ch:
		t.Fatal("timer fired against a process that had not parked")
	default:
	}

	p.SetState(process.StateWaitingMessage)

	select {
	case woken := <-sched.ch:
		if woken != p || !p.ConsumeTimedOut() {
			t.Fatal("late park did not receive the pending timeout")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timer gave up before the process parked")
	}
}

func TestReactor_FdReadinessWakesProcess(t *testing.T) {
	t.Parallel()

	r, sched := startReactor(t)

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	p := newProc(1)
	p.SetState(process.StateWaitingIO)
	if err := r.AwaitIO(p, fds[0], InterestRead); err != nil {
		t.Fatal(err)
	}

	// Nothing readable yet: no wake-up.
	select {
	case <-sched.ch:
		t.Fatal("process woken before readiness")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := unix.Write(fds[1], []byte("x")); err != nil {
		t.Fatal(err)
	}

	select {
	case woken := <-sched.ch:
		if woken != p {
			t.Fatal("wrong process woken by readiness")
		}
		if p.State() != process.StateRunnable {
			t.Fatalf("state = %s after readiness, want Runnable", p.State())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("readiness never woke the process")
	}
}

func TestReactor_WriteInterest(t *testing.T) {
	t.Parallel()

	r, sched := startReactor(t)

	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatal(err)
	}
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	// An empty pipe is immediately writable.
	p := newProc(1)
	p.SetState(process.StateWaitingIO)
	if err := r.AwaitIO(p, fds[1], InterestWrite); err != nil {
		t.Fatal(err)
	}

	select {
	case woken := <-sched.ch:
		if woken != p {
			t.Fatal("wrong process woken")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write readiness never delivered")
	}
}
