package heap

import "github.com/YorickPeterse/inko/object"

// CollectYoung evacuates live young objects into a fresh semispace,
// promoting objects that have survived enough collections. Only the owning
// process is paused; the heap is private, so no other process can observe
// the move.
//
// Roots: the process's stack registers and locals, mailbox contents, and the
// remembered set (mature objects holding young references).
func (h *Heap) CollectYoung(roots RootWalker) {
	var to blockList
	var scan []*object.Object
	promoted := uint64(0)

	evacuate := func(slot *object.Value) {
		obj := slot.Object()
		if obj == nil || obj.Generation() != object.GenYoung {
			return
		}
		if obj.Forwarded() {
			*slot = object.Boxed(obj.ForwardedTo())
			return
		}

		age := obj.Age() + 1
		var dest *object.Object
		if age >= h.config.PromotionAge {
			dest = h.mature.allocate()
			promoted++
		} else {
			dest = to.allocate()
		}

		*dest = *obj
		dest.IncrementAge()
		if age >= h.config.PromotionAge {
			dest.SetGeneration(object.GenMature)
		}

		obj.Forward(dest)
		*slot = object.Boxed(dest)
		scan = append(scan, dest)
	}

	roots.WalkRoots(evacuate)

	// Remembered mature objects are roots for their young references. An
	// entry that no longer references anything young after the update drops
	// out of the set.
	oldRemembered := h.remembered
	h.remembered = nil
	for _, m := range oldRemembered {
		m.SetRemembered(false)
		hasYoung := false
		m.WalkReferences(func(slot *object.Value) {
			evacuate(slot)
			if o := slot.Object(); o != nil && o.Generation() == object.GenYoung {
				hasYoung = true
			}
		})
		if hasYoung {
			h.remember(m)
		}
	}

	// Cheney scan: newly evacuated objects may reference further young
	// objects. A promoted object that ends up referencing a survivor must
	// enter the remembered set, or the next young collection would miss it.
	for len(scan) > 0 {
		obj := scan[len(scan)-1]
		scan = scan[:len(scan)-1]

		hasYoung := false
		obj.WalkReferences(func(slot *object.Value) {
			evacuate(slot)
			if o := slot.Object(); o != nil && o.Generation() == object.GenYoung {
				hasYoung = true
			}
		})
		if obj.Generation() == object.GenMature && hasYoung {
			h.remember(obj)
		}
	}

	h.sweepFinalizable(func(o *object.Object) bool {
		// Young objects that were not evacuated are dead.
		return o.Generation() == object.GenYoung
	})

	h.young = to
	h.youngSinceGC = 0
	h.stats.YoungCollections++
	h.stats.YoungSurvivors = to.allocated
	h.stats.Promoted += promoted

	if h.log != nil {
		h.log.Debug().
			Int("survivors", to.allocated).
			Uint64("promoted", promoted).
			Int("remembered", len(h.remembered)).
			Log("young collection finished")
	}
}

// CollectMature compacts the mature space: a full trace from the roots
// evacuates live mature objects into fresh blocks, updating every reference
// (roots, young objects, remembered set). The remembered set is rebuilt from
// scratch during the trace.
func (h *Heap) CollectMature(roots RootWalker) {
	var newMature blockList
	var scan []*object.Object

	for _, m := range h.remembered {
		m.SetRemembered(false)
	}
	h.remembered = nil

	visit := func(slot *object.Value) {
		obj := slot.Object()
		if obj == nil {
			return
		}
		switch obj.Generation() {
		case object.GenMature:
			if obj.Forwarded() {
				*slot = object.Boxed(obj.ForwardedTo())
				return
			}
			dest := newMature.allocate()
			*dest = *obj
			obj.Forward(dest)
			*slot = object.Boxed(dest)
			scan = append(scan, dest)
		case object.GenYoung:
			if !obj.Marked() {
				obj.SetMarked(true)
				scan = append(scan, obj)
			}
		default:
			// Permanent and mailbox objects are not managed by this heap.
		}
	}

	roots.WalkRoots(visit)

	for len(scan) > 0 {
		obj := scan[len(scan)-1]
		scan = scan[:len(scan)-1]

		hasYoung := false
		obj.WalkReferences(func(slot *object.Value) {
			visit(slot)
			if o := slot.Object(); o != nil && o.Generation() == object.GenYoung {
				hasYoung = true
			}
		})
		if obj.Generation() == object.GenMature && hasYoung {
			h.remember(obj)
		}
	}

	h.sweepFinalizable(func(o *object.Object) bool {
		switch o.Generation() {
		case object.GenMature:
			return true // live mature entries were rewritten via forwarding
		case object.GenYoung:
			return !o.Marked()
		default:
			return false
		}
	})

	h.young.each(func(o *object.Object) { o.SetMarked(false) })

	h.mature = newMature
	h.stats.MatureCollections++

	if h.log != nil {
		h.log.Debug().
			Int("mature", newMature.allocated).
			Int("remembered", len(h.remembered)).
			Log("mature collection finished")
	}
}

// remember adds a mature object to the remembered set, deduplicated by the
// header bit.
func (h *Heap) remember(obj *object.Object) {
	if obj.Remembered() {
		return
	}
	obj.SetRemembered(true)
	h.remembered = append(h.remembered, obj)
}

// sweepFinalizable rewrites the finalizable list after a collection: moved
// entries follow their forwarding pointers, entries for which dead reports
// true are routed to the finalizer queue.
func (h *Heap) sweepFinalizable(dead func(*object.Object) bool) {
	live := h.finalizable[:0]
	for _, o := range h.finalizable {
		if o.Forwarded() {
			live = append(live, o.ForwardedTo())
			continue
		}
		if dead(o) {
			h.enqueueFinalizer(o)
			continue
		}
		live = append(live, o)
	}
	h.finalizable = live
}
