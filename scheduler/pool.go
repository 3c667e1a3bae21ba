package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/joeycumines/logiface"

	"github.com/YorickPeterse/inko/process"
)

// Pool is one set of worker threads sharing an injector queue.
//
// Locking discipline: the pool mutex guards the injector, the stopped flag,
// and parking (via the condition variable). Each worker's deque has its own
// mutex so stealing never contends with the injector.
type Pool struct {
	name       string
	isBlocking bool

	sched *Scheduler
	exec  Executor
	log   *logiface.Logger[logiface.Event]

	mu       sync.Mutex
	cond     *sync.Cond
	injector []*process.Process
	stopped  bool
	parked   int

	// stopping mirrors stopped for lock-free checks on the hot path.
	stopping atomic.Bool

	workers []*worker
	wg      sync.WaitGroup
}

func newPool(name string, size int, exec Executor, sched *Scheduler, log *logiface.Logger[logiface.Event]) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		name:       name,
		isBlocking: name == "blocking",
		sched:      sched,
		exec:       exec,
		log:        log,
	}
	p.cond = sync.NewCond(&p.mu)
	p.workers = make([]*worker, size)
	for i := range p.workers {
		p.workers[i] = &worker{pool: p, id: int32(i)}
	}
	return p
}

func (pl *Pool) start() {
	pl.wg.Add(len(pl.workers))
	for _, w := range pl.workers {
		go w.run()
	}
	if pl.log != nil {
		pl.log.Debug().Str("pool", pl.name).Int("workers", len(pl.workers)).Log("pool started")
	}
}

func (pl *Pool) stop() {
	pl.stopping.Store(true)
	pl.mu.Lock()
	pl.stopped = true
	pl.mu.Unlock()
	pl.cond.Broadcast()
	pl.wg.Wait()
	if pl.log != nil {
		pl.log.Debug().Str("pool", pl.name).Log("pool stopped")
	}
}

// schedule enqueues a runnable process. Pinned processes go straight to the
// deque of the worker they last ran on; everything else lands in the
// injector.
func (pl *Pool) schedule(p *process.Process) {
	if p.IsPinned() {
		if h := p.WorkerHint(); h >= 0 && int(h) < len(pl.workers) {
			pl.workers[h].push(p)
			// Serialise with the park path: a worker between its deque
			// re-check and cond.Wait holds the pool mutex, so acquiring it
			// here guarantees the broadcast is not lost.
			pl.mu.Lock()
			pl.mu.Unlock() //nolint:staticcheck // empty critical section is the point
			// Only the hinted worker can run it: wake everyone so that
			// worker leaves the parking lot regardless of which workers
			// happen to be parked.
			pl.cond.Broadcast()
			return
		}
	}

	pl.mu.Lock()
	pl.injector = append(pl.injector, p)
	mustWake := pl.parked > 0
	pl.mu.Unlock()
	if mustWake {
		pl.cond.Signal()
	}
}

// Size returns the number of workers.
func (pl *Pool) Size() int { return len(pl.workers) }

// WorkerRuns returns how many quanta worker i has executed. Used by tests
// observing pinned sections.
func (pl *Pool) WorkerRuns(i int) uint64 {
	return pl.workers[i].runs.Load()
}

// popInjectorLocked removes the oldest injected process. Caller holds the
// pool mutex.
func (pl *Pool) popInjectorLocked() *process.Process {
	if len(pl.injector) == 0 {
		return nil
	}
	p := pl.injector[0]
	copy(pl.injector, pl.injector[1:])
	pl.injector = pl.injector[:len(pl.injector)-1]
	return p
}
