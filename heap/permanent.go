package heap

import (
	"math/big"
	"sync"

	"github.com/YorickPeterse/inko/object"
)

// PermanentSpace holds module singletons, literals, and interned strings.
// Permanent objects are never moved or collected and may be referenced from
// any process; allocation is locked, reads are lock-free once published.
type PermanentSpace struct {
	mu     sync.Mutex
	blocks blockList

	// strings dedups interned string literals by content.
	strings map[string]*object.Object
}

// NewPermanentSpace creates an empty permanent space.
func NewPermanentSpace() *PermanentSpace {
	return &PermanentSpace{strings: make(map[string]*object.Object)}
}

// Allocate creates a permanent object. THREAD SAFE.
func (s *PermanentSpace) Allocate(class *object.Class, payload object.Payload) *object.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.blocks.allocate()
	o.Init(class, object.GenPermanent, payload)
	return o
}

// InternString returns the canonical permanent object for a string literal.
func (s *PermanentSpace) InternString(class *object.Class, text string) *object.Object {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o := s.strings[text]; o != nil {
		return o
	}
	o := s.blocks.allocate()
	o.Init(class, object.GenPermanent, &object.StringPayload{Bytes: []byte(text)})
	s.strings[text] = o
	return o
}

// AllocateInt produces a permanent integer value, boxing when outside the
// immediate range.
func (s *PermanentSpace) AllocateInt(class *object.Class, v int64) object.Value {
	if imm, ok := object.SmallInt(v); ok {
		return imm
	}
	return object.Boxed(s.Allocate(class, &object.BigIntPayload{Value: big.NewInt(v)}))
}

// Allocated returns the permanent-space occupancy in slots.
func (s *PermanentSpace) Allocated() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks.allocated
}

// Release drops the permanent space en masse at VM exit.
func (s *PermanentSpace) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks.reset()
	s.strings = make(map[string]*object.Object)
}
