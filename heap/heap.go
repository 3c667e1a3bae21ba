package heap

import (
	"math/big"

	"github.com/joeycumines/logiface"

	"github.com/YorickPeterse/inko/object"
)

// Default collection thresholds, overridable via configuration.
const (
	DefaultYoungThreshold  = 8 * BlockSlots
	DefaultMatureThreshold = 16 * BlockSlots
	DefaultPromotionAge    = 4
)

// Config tunes a process heap.
type Config struct {
	// YoungThreshold is the number of young slot allocations that triggers a
	// young collection.
	YoungThreshold int
	// MatureThreshold is the mature occupancy (in slots) that triggers a
	// mature collection.
	MatureThreshold int
	// PromotionAge is the number of young collections an object survives
	// before promotion into the mature space.
	PromotionAge uint32
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.YoungThreshold <= 0 {
		c.YoungThreshold = DefaultYoungThreshold
	}
	if c.MatureThreshold <= 0 {
		c.MatureThreshold = DefaultMatureThreshold
	}
	if c.PromotionAge == 0 {
		c.PromotionAge = DefaultPromotionAge
	}
	return c
}

// Allocator is anything that can produce objects: process heaps, message
// arenas, and the permanent space.
type Allocator interface {
	Allocate(class *object.Class, payload object.Payload) *object.Object
}

// RootWalker exposes the GC roots of a process: call-stack registers and
// locals, mailbox contents, and in-flight values. The callback receives a
// pointer to each root slot so the collector can update moved references in
// place.
type RootWalker interface {
	WalkRoots(fn func(*object.Value))
}

// Stats counts collector activity.
type Stats struct {
	YoungCollections  uint64
	MatureCollections uint64
	YoungSurvivors    int
	Promoted          uint64
}

// Heap is a single process's private heap.
//
// Thread Safety: NOT thread-safe. A heap is only ever touched by the thread
// currently running its owning process; cross-process values arrive via
// message arenas, never by direct allocation.
type Heap struct {
	config Config

	young  blockList
	mature blockList

	// youngSinceGC counts young allocations since the last young collection.
	youngSinceGC int

	// remembered is the object-granular remembered set: mature objects that
	// held a young reference when last written. The Remembered header bit
	// deduplicates entries.
	remembered []*object.Object

	// finalizable tracks every live object whose class needs finalization;
	// dead entries are routed to the finalizer queue after each collection.
	finalizable []*object.Object

	finalizers *FinalizerQueue
	log        *logiface.Logger[logiface.Event]

	stats Stats
}

// New creates a heap. The finalizer queue and logger are optional.
func New(config Config, finalizers *FinalizerQueue, log *logiface.Logger[logiface.Event]) *Heap {
	return &Heap{
		config:     config.withDefaults(),
		finalizers: finalizers,
		log:        log,
	}
}

// Allocate creates a young object.
func (h *Heap) Allocate(class *object.Class, payload object.Payload) *object.Object {
	o := h.young.allocate()
	o.Init(class, object.GenYoung, payload)
	h.youngSinceGC++
	if o.NeedsFinalize() {
		h.finalizable = append(h.finalizable, o)
	}
	return o
}

// AllocateInt produces an integer value, boxing when outside the immediate
// range.
func (h *Heap) AllocateInt(class *object.Class, v int64) object.Value {
	if imm, ok := object.SmallInt(v); ok {
		return imm
	}
	return object.Boxed(h.Allocate(class, &object.BigIntPayload{Value: big.NewInt(v)}))
}

// AllocateBigInt boxes an arbitrary-precision integer, demoting to an
// immediate when it fits.
func (h *Heap) AllocateBigInt(class *object.Class, v *big.Int) object.Value {
	if v.IsInt64() {
		if imm, ok := object.SmallInt(v.Int64()); ok {
			return imm
		}
	}
	return object.Boxed(h.Allocate(class, &object.BigIntPayload{Value: v}))
}

// ShouldCollectYoung reports whether allocation pressure calls for a young
// collection. Checked by the interpreter at allocation safepoints.
func (h *Heap) ShouldCollectYoung() bool {
	return h.youngSinceGC >= h.config.YoungThreshold
}

// ShouldCollectMature reports whether mature occupancy exceeds the grow
// threshold.
func (h *Heap) ShouldCollectMature() bool {
	return h.mature.allocated >= h.config.MatureThreshold
}

// WriteBarrier records target in the remembered set when a young reference
// is written into a mature object. Must run on every attribute or payload
// store.
func (h *Heap) WriteBarrier(target *object.Object, value object.Value) {
	if target.Generation() != object.GenMature || target.Remembered() {
		return
	}
	obj := value.Object()
	if obj == nil || obj.Generation() != object.GenYoung {
		return
	}
	target.SetRemembered(true)
	h.remembered = append(h.remembered, target)
}

// RememberedLen returns the current remembered-set size.
func (h *Heap) RememberedLen() int { return len(h.remembered) }

// RememberedContains reports whether obj is recorded in the remembered set.
func (h *Heap) RememberedContains(obj *object.Object) bool {
	return obj.Remembered()
}

// Stats returns collector counters.
func (h *Heap) Stats() Stats { return h.stats }

// YoungAllocated returns the young-space occupancy in slots.
func (h *Heap) YoungAllocated() int { return h.young.allocated }

// MatureAllocated returns the mature-space occupancy in slots.
func (h *Heap) MatureAllocated() int { return h.mature.allocated }

// Destroy releases the heap with its owning process: every still-live
// finalizable object is routed to the finalizer queue.
func (h *Heap) Destroy() {
	for _, o := range h.finalizable {
		target := o
		if target.Forwarded() {
			target = target.ForwardedTo()
		}
		h.enqueueFinalizer(target)
	}
	h.finalizable = nil
	h.young.reset()
	h.mature.reset()
	h.remembered = nil
}

func (h *Heap) enqueueFinalizer(o *object.Object) {
	if h.finalizers == nil {
		return
	}
	if fin, ok := o.Payload().(object.Finalizable); ok {
		o.ClearFinalize()
		h.finalizers.Enqueue(fin)
	}
}
