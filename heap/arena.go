package heap

import "github.com/YorickPeterse/inko/object"

// Arena is a detached allocation space for one in-flight message. Senders
// deep-copy into an arena owned by the receiver's mailbox; the receiver
// copies out into its own young space on receive, after which the arena is
// dropped wholesale.
//
// Arena object graphs are closed: they reference only other arena objects
// and permanent objects, so no collector ever needs to trace into one.
type Arena struct {
	allocated int
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// Allocate creates an object in the arena.
func (a *Arena) Allocate(class *object.Class, payload object.Payload) *object.Object {
	o := &object.Object{}
	o.Init(class, object.GenMailbox, payload)
	a.allocated++
	return o
}

// Allocated returns the number of objects in the arena.
func (a *Arena) Allocated() int { return a.allocated }
