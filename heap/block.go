// Package heap implements the per-process generational heap: bump-allocated
// young semispaces with an evacuating collector, promoted mature blocks with
// mark-compact collection, an object-granular remembered set, the shared
// permanent space, and finalization plumbing.
package heap

import "github.com/YorickPeterse/inko/object"

// BlockSlots is the number of object slots per allocation block.
const BlockSlots = 1024

// block is a fixed-size array of object slots with a bump cursor. Objects
// are addressed by pointers into the slot array; evacuation copies slots
// between blocks and leaves a forwarding pointer behind.
type block struct {
	slots [BlockSlots]object.Object
	next  int
}

// allocate bumps out one slot, or returns nil when the block is full.
func (b *block) allocate() *object.Object {
	if b.next >= BlockSlots {
		return nil
	}
	o := &b.slots[b.next]
	b.next++
	return o
}

// each visits every allocated slot.
func (b *block) each(fn func(*object.Object)) {
	for i := 0; i < b.next; i++ {
		fn(&b.slots[i])
	}
}

// blockList is a growable sequence of blocks with bump allocation into the
// last one.
type blockList struct {
	blocks    []*block
	allocated int
}

// allocate returns a fresh slot, growing the list as needed.
func (l *blockList) allocate() *object.Object {
	if n := len(l.blocks); n > 0 {
		if o := l.blocks[n-1].allocate(); o != nil {
			l.allocated++
			return o
		}
	}
	l.blocks = append(l.blocks, &block{})
	l.allocated++
	return l.blocks[len(l.blocks)-1].allocate()
}

// each visits every allocated slot across all blocks.
func (l *blockList) each(fn func(*object.Object)) {
	for _, b := range l.blocks {
		b.each(fn)
	}
}

// reset drops all blocks.
func (l *blockList) reset() {
	l.blocks = nil
	l.allocated = 0
}
