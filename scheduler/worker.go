package scheduler

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/YorickPeterse/inko/process"
)

// worker is one OS-thread-equivalent unit of the pool: a goroutine owning a
// local FIFO deque of ready processes.
type worker struct {
	pool *Pool
	id   int32

	mu    sync.Mutex
	deque []*process.Process

	// runs counts executed quanta, the worker-local observability hook for
	// pinning behaviour.
	runs atomic.Uint64
}

func (w *worker) run() {
	defer w.pool.wg.Done()
	for {
		p := w.next()
		if p == nil {
			return
		}
		w.runProcess(p)
	}
}

// next obtains the next runnable process: local deque first (round-robin
// order), then a steal from a random sibling, then the shared injector, then
// park until new work arrives.
func (w *worker) next() *process.Process {
	for {
		if w.pool.stopping.Load() {
			return nil
		}
		if p := w.popLocal(); p != nil {
			return p
		}
		if p := w.steal(); p != nil {
			return p
		}

		w.pool.mu.Lock()
		if p := w.pool.popInjectorLocked(); p != nil {
			w.pool.mu.Unlock()
			return p
		}
		if w.pool.stopped {
			w.pool.mu.Unlock()
			return nil
		}
		// Final deque re-check under the pool mutex: a pinned push that
		// completed before this point is visible here, and one racing with
		// the park serialises on the mutex before broadcasting.
		if w.hasLocal() {
			w.pool.mu.Unlock()
			continue
		}
		w.pool.parked++
		w.pool.cond.Wait()
		w.pool.parked--
		w.pool.mu.Unlock()
		// Re-check the local deque: a pinned process may have been pushed
		// directly while parked.
	}
}

// runProcess executes quanta until the process blocks, terminates, or must
// leave this worker. A pinned process is re-run immediately, so nothing else
// interleaves on this worker for the duration of the pinned section.
func (w *worker) runProcess(p *process.Process) {
	for {
		if !p.TryTransition(process.StateRunnable, process.StateRunning) {
			return
		}
		p.SetWorkerHint(w.id)
		w.runs.Add(1)

		if w.pool.exec.ExecuteProcess(p) != VerdictYielded {
			// Waiting (a wake-up re-schedules it) or terminated.
			return
		}
		if p.IsBlocking() != w.pool.isBlocking {
			// set_blocking flipped mid-quantum: migrate pools.
			w.pool.sched.Schedule(p)
			return
		}
		if p.IsPinned() && !w.pool.stopping.Load() {
			continue
		}
		// Quantum expired: back of the local deque, oldest work first.
		w.push(p)
		return
	}
}

func (w *worker) hasLocal() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.deque) > 0
}

func (w *worker) push(p *process.Process) {
	w.mu.Lock()
	w.deque = append(w.deque, p)
	w.mu.Unlock()
}

func (w *worker) popLocal() *process.Process {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.deque) == 0 {
		return nil
	}
	p := w.deque[0]
	copy(w.deque, w.deque[1:])
	w.deque = w.deque[:len(w.deque)-1]
	return p
}

// steal takes one process from the back of a sibling's deque. The victim
// order starts at a random sibling to spread contention. Pinned processes
// are never stolen.
func (w *worker) steal() *process.Process {
	workers := w.pool.workers
	if len(workers) < 2 {
		return nil
	}
	start := rand.IntN(len(workers))
	for i := 0; i < len(workers); i++ {
		victim := workers[(start+i)%len(workers)]
		if victim == w {
			continue
		}
		if p := victim.stealFrom(); p != nil {
			return p
		}
	}
	return nil
}

// stealFrom pops the newest non-pinned process from this worker's deque.
func (w *worker) stealFrom() *process.Process {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i := len(w.deque) - 1; i >= 0; i-- {
		p := w.deque[i]
		if p.IsPinned() {
			continue
		}
		w.deque = append(w.deque[:i], w.deque[i+1:]...)
		return p
	}
	return nil
}
