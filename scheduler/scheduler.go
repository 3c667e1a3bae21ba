// Package scheduler implements the two worker pools that drive process
// execution: a primary pool for non-blocking work and a blocking pool for
// processes that have declared themselves blocking. Each worker owns a local
// FIFO deque; idle workers steal from random siblings, then fall back to the
// pool's shared injector queue, then park.
package scheduler

import (
	"github.com/joeycumines/logiface"

	"github.com/YorickPeterse/inko/process"
)

// Verdict is the outcome of one scheduling quantum.
//
// The worker must not re-read the process state to learn the outcome: a
// process that parked may be woken, re-run elsewhere, and yielded again
// before the original worker looks, so a state read can misreport ownership.
// The executor reports the outcome directly instead.
type Verdict uint8

const (
	// VerdictYielded means the quantum expired or the process yielded; it is
	// Runnable and this worker owns re-queueing it.
	VerdictYielded Verdict = iota
	// VerdictWaiting means the process parked; a wake-up re-schedules it.
	VerdictWaiting
	// VerdictTerminated means the process finished or panicked.
	VerdictTerminated
)

// Executor runs one process for one scheduling quantum. The machine's
// interpreter implements this.
type Executor interface {
	ExecuteProcess(p *process.Process) Verdict
}

// Config sizes the pools.
type Config struct {
	// PrimaryThreads is the primary pool size; defaults to GOMAXPROCS-ish
	// values upstream, must be >= 1 here.
	PrimaryThreads int
	// BlockingThreads is the blocking pool size.
	BlockingThreads int
}

// Scheduler owns the primary and blocking pools and routes processes between
// them based on the blocking flag.
type Scheduler struct {
	primary  *Pool
	blocking *Pool
}

// New creates a scheduler; Start launches the workers.
func New(cfg Config, exec Executor, log *logiface.Logger[logiface.Event]) *Scheduler {
	s := &Scheduler{}
	s.primary = newPool("primary", cfg.PrimaryThreads, exec, s, log)
	s.blocking = newPool("blocking", cfg.BlockingThreads, exec, s, log)
	return s
}

// Start launches all workers.
func (s *Scheduler) Start() {
	s.primary.start()
	s.blocking.start()
}

// Stop terminates all workers and blocks until they exit. Queued processes
// are abandoned; Stop is only called once process execution no longer
// matters.
func (s *Scheduler) Stop() {
	s.primary.stop()
	s.blocking.stop()
}

// Schedule enqueues a runnable process on the pool its blocking flag selects.
// The caller must have won the transition to StateRunnable.
func (s *Scheduler) Schedule(p *process.Process) {
	s.poolFor(p).schedule(p)
}

// Primary returns the primary pool.
func (s *Scheduler) Primary() *Pool { return s.primary }

// Blocking returns the blocking pool.
func (s *Scheduler) Blocking() *Pool { return s.blocking }

func (s *Scheduler) poolFor(p *process.Process) *Pool {
	if p.IsBlocking() {
		return s.blocking
	}
	return s.primary
}
