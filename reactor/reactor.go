// Package reactor implements the non-blocking I/O poller and the timer
// wheel. A dedicated goroutine owns the OS readiness object (epoll on
// Linux); processes waiting for fd readiness or timer expiry are parked in
// the reactor's structures and pushed back onto the scheduler when woken.
package reactor

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"

	"github.com/YorickPeterse/inko/process"
)

// Scheduler is the re-schedule hook: it must enqueue the process and unpark
// at least one worker.
type Scheduler interface {
	Schedule(p *process.Process)
}

// Interest is the readiness mask a process waits for.
type Interest uint8

const (
	// InterestRead waits for the descriptor to become readable.
	InterestRead Interest = 1 << iota
	// InterestWrite waits for the descriptor to become writable.
	InterestWrite
)

// registration parks one process on one fd+interest pair.
type registration struct {
	proc     *process.Process
	interest Interest
}

// Reactor owns the poller, the fd registration table, and the timer heap.
//
// Locking discipline: fd registrations are guarded by regMu and applied to
// the poller directly from the registering thread; the timer heap is owned
// by the reactor goroutine, with new entries staged through a mutex-guarded
// slice and an eventfd wake so the poll timeout is recomputed.
type Reactor struct {
	sched Scheduler
	log   *logiface.Logger[logiface.Event]

	// pollErrRate limits poll-failure warnings to avoid log storms when the
	// kernel misbehaves.
	pollErrRate *catrate.Limiter

	poller poller
	wakeFd int

	regMu sync.Mutex
	regs  map[int]*registration

	timerMu sync.Mutex
	staged  []*Timer
	timers  timerHeap

	stopped atomic.Bool
	done    chan struct{}
}

// New creates a reactor; Start launches the poll goroutine.
func New(sched Scheduler, log *logiface.Logger[logiface.Event]) (*Reactor, error) {
	r := &Reactor{
		sched: sched,
		log:   log,
		pollErrRate: catrate.NewLimiter(map[time.Duration]int{
			time.Minute: 5,
		}),
		regs: make(map[int]*registration),
		done: make(chan struct{}),
	}

	if err := r.poller.init(); err != nil {
		return nil, err
	}

	wakeFd, err := createWakeFd()
	if err != nil {
		_ = r.poller.close()
		return nil, err
	}
	r.wakeFd = wakeFd

	if err := r.poller.add(wakeFd, InterestRead, false); err != nil {
		_ = r.poller.close()
		_ = closeWakeFd(wakeFd)
		return nil, err
	}
	return r, nil
}

// Start launches the reactor goroutine.
func (r *Reactor) Start() {
	go r.run()
}

// Stop terminates the reactor goroutine and blocks until it exits.
func (r *Reactor) Stop() {
	if r.stopped.Swap(true) {
		return
	}
	r.wake()
	<-r.done
	_ = r.poller.close()
	_ = closeWakeFd(r.wakeFd)
}

// AwaitIO parks p until fd is ready for the given interest. The caller must
// have stored StateWaitingIO on p before calling; the process yields
// immediately after.
func (r *Reactor) AwaitIO(p *process.Process, fd int, interest Interest) error {
	r.regMu.Lock()
	r.regs[fd] = &registration{proc: p, interest: interest}
	r.regMu.Unlock()

	// One-shot: the registration is consumed on first readiness, matching
	// the park/wake cycle of the waiting process.
	if err := r.poller.add(fd, interest, true); err != nil {
		r.regMu.Lock()
		delete(r.regs, fd)
		r.regMu.Unlock()
		return err
	}
	return nil
}

// ScheduleTimer parks p until the duration elapses. The from state is the
// waiting state the wakeup must CAS away from; timeout marks the process as
// timed out when fired (receive_timeout), as opposed to a plain wakeup
// (suspend).
func (r *Reactor) ScheduleTimer(p *process.Process, d time.Duration, from process.State, timeout bool) *Timer {
	t := &Timer{
		when:    time.Now().Add(d),
		proc:    p,
		from:    from,
		timeout: timeout,
	}
	r.timerMu.Lock()
	r.staged = append(r.staged, t)
	r.timerMu.Unlock()
	r.wake()
	return t
}

// run is the reactor goroutine: poll for readiness with a timeout capped by
// the next timer deadline, dispatch readiness, fire due timers.
func (r *Reactor) run() {
	defer close(r.done)
	for {
		r.drainStaged()

		if r.stopped.Load() {
			return
		}

		n, events, err := r.poller.wait(r.nextTimeoutMs())
		if err != nil {
			if _, ok := r.pollErrRate.Allow("poll"); ok && r.log != nil {
				r.log.Warning().Err(err).Log("reactor poll failed")
			}
			continue
		}

		for i := 0; i < n; i++ {
			fd := int(events[i])
			if fd == r.wakeFd {
				drainWakeFd(fd)
				continue
			}
			r.ready(fd)
		}

		r.fireDueTimers()
	}
}

// ready wakes the process parked on fd. For one fd, readiness notifications
// arrive in kernel order; across fds no order is guaranteed.
func (r *Reactor) ready(fd int) {
	r.regMu.Lock()
	reg := r.regs[fd]
	delete(r.regs, fd)
	r.regMu.Unlock()

	if reg == nil {
		return
	}
	if reg.proc.TryTransition(process.StateWaitingIO, process.StateRunnable) {
		// A pending receive-timeout deadline on the same wait is superseded
		// by readiness; the entry is pruned lazily.
		reg.proc.CancelTimer()
		r.sched.Schedule(reg.proc)
	}
}

// drainStaged moves staged timer entries into the heap.
func (r *Reactor) drainStaged() {
	r.timerMu.Lock()
	staged := r.staged
	r.staged = nil
	r.timerMu.Unlock()
	for _, t := range staged {
		heap.Push(&r.timers, t)
	}
}

// fireDueTimers pops and fires every due entry, pruning cancelled ones.
func (r *Reactor) fireDueTimers() {
	now := time.Now()
	for len(r.timers) > 0 {
		next := r.timers[0]
		if next.cancelled.Load() {
			heap.Pop(&r.timers)
			continue
		}
		if next.when.After(now) {
			return
		}
		heap.Pop(&r.timers)
		if !next.fire(r.sched) {
			// The waiter has not parked yet; retry shortly.
			next.when = now.Add(time.Millisecond)
			heap.Push(&r.timers, next)
			return
		}
	}
}

// nextTimeoutMs computes the poll timeout: the delay to the first live timer
// entry, capped at ten seconds; ten seconds when no timers are pending.
func (r *Reactor) nextTimeoutMs() int {
	for len(r.timers) > 0 && r.timers[0].cancelled.Load() {
		heap.Pop(&r.timers)
	}
	if len(r.timers) == 0 {
		return 10_000
	}
	delay := time.Until(r.timers[0].when)
	if delay <= 0 {
		return 0
	}
	// Round up so a timer never fires observably early.
	ms := delay.Milliseconds()
	if delay%time.Millisecond != 0 {
		ms++
	}
	if ms > 10_000 {
		ms = 10_000
	}
	return int(ms)
}

// wake nudges the poll loop so it re-reads timers and the stopped flag.
func (r *Reactor) wake() {
	wakeWakeFd(r.wakeFd)
}
