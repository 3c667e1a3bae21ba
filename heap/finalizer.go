package heap

import (
	"sync"

	"github.com/joeycumines/logiface"

	"github.com/YorickPeterse/inko/object"
)

// finalizerBatch is the number of finalizers drained per wake-up.
const finalizerBatch = 64

// FinalizerQueue runs finalizers for unreachable resource-owning objects on
// a dedicated worker, keeping fd closes and similar syscalls off the
// collector's critical path.
//
// Enqueue is THREAD SAFE; many heaps share one queue.
type FinalizerQueue struct {
	mu      sync.Mutex
	pending []object.Finalizable

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	stopOnce sync.Once
	log      *logiface.Logger[logiface.Event]
}

// NewFinalizerQueue creates a queue; Start must be called before use.
func NewFinalizerQueue(log *logiface.Logger[logiface.Event]) *FinalizerQueue {
	return &FinalizerQueue{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		log:  log,
	}
}

// Start launches the worker goroutine.
func (q *FinalizerQueue) Start() {
	go q.run()
}

// Enqueue schedules a finalizer.
func (q *FinalizerQueue) Enqueue(fin object.Finalizable) {
	q.mu.Lock()
	q.pending = append(q.pending, fin)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Stop drains remaining finalizers and blocks until the worker exits.
func (q *FinalizerQueue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	<-q.done
}

func (q *FinalizerQueue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.wake:
			q.drain()
		case <-q.stop:
			q.drain()
			return
		}
	}
}

// drain runs pending finalizers in batches, releasing the lock while the
// finalizers themselves execute.
func (q *FinalizerQueue) drain() {
	for {
		q.mu.Lock()
		n := len(q.pending)
		if n == 0 {
			q.mu.Unlock()
			return
		}
		if n > finalizerBatch {
			n = finalizerBatch
		}
		batch := make([]object.Finalizable, n)
		copy(batch, q.pending[:n])
		copy(q.pending, q.pending[n:])
		q.pending = q.pending[:len(q.pending)-n]
		q.mu.Unlock()

		for _, fin := range batch {
			if err := fin.Finalize(); err != nil && q.log != nil {
				q.log.Warning().Err(err).Log("finalizer failed")
			}
		}
	}
}
