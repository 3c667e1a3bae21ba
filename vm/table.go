package vm

import (
	"sync"
	"sync/atomic"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/YorickPeterse/inko/process"
)

// ProcessTable maps process identifiers to handles with O(1) lookup.
//
// Identifiers are opaque, globally unique integers: they may be reused
// across program runs but never within one run. Handles outlive their table
// entry only as roots in live heaps.
type ProcessTable struct {
	mu      sync.RWMutex
	next    uint64
	entries map[uint64]*process.Process

	// live tracks ids between spawn and termination, so shutdown can assert
	// spawn/terminate symmetry.
	live mapset.Set[uint64]

	spawned    atomic.Uint64
	terminated atomic.Uint64
}

// NewProcessTable creates an empty table.
func NewProcessTable() *ProcessTable {
	return &ProcessTable{
		entries: make(map[uint64]*process.Process),
		live:    mapset.NewSet[uint64](),
	}
}

// Allocate reserves the next identifier, registers the process created by
// the callback, and returns it.
func (t *ProcessTable) Allocate(create func(id uint64) *process.Process) *process.Process {
	t.mu.Lock()
	id := t.next
	t.next++
	p := create(id)
	t.entries[id] = p
	t.mu.Unlock()

	t.live.Add(id)
	t.spawned.Add(1)
	return p
}

// Get returns the process for id, nil when unknown or already removed.
func (t *ProcessTable) Get(id uint64) *process.Process {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.entries[id]
}

// Remove deletes the terminated process's entry.
func (t *ProcessTable) Remove(p *process.Process) {
	t.mu.Lock()
	delete(t.entries, p.Identifier())
	t.mu.Unlock()

	t.live.Remove(p.Identifier())
	t.terminated.Add(1)
}

// Len returns the number of live entries.
func (t *ProcessTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Spawned returns the number of processes ever registered.
func (t *ProcessTable) Spawned() uint64 { return t.spawned.Load() }

// Terminated returns the number of processes removed.
func (t *ProcessTable) Terminated() uint64 { return t.terminated.Load() }

// LiveIDs returns the identifiers currently between spawn and termination.
func (t *ProcessTable) LiveIDs() []uint64 {
	return t.live.ToSlice()
}
