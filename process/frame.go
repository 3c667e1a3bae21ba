package process

import (
	"github.com/YorickPeterse/inko/bytecode"
	"github.com/YorickPeterse/inko/object"
)

// Frame is one call frame: a code reference, an instruction pointer, a
// register file, the binding chain for locals, and the deferred-block stack.
// Frames chain to their caller via Parent.
type Frame struct {
	Code    *bytecode.CodeObject
	IP      int
	Parent  *Frame
	Binding *object.Binding

	Registers []object.Value

	// ReturnRegister is the caller register receiving this frame's result.
	ReturnRegister uint16

	// DiscardReturn suppresses result delivery; used for deferred blocks,
	// whose results are meaningless to the frame that registered them.
	DiscardReturn bool

	// deferred is the stack of blocks to run when the frame exits normally
	// or unwinds through a caught throw. Panic and terminate skip it.
	deferred []object.Value

	// generator is set when the frame is the body of a generator.
	generator *Generator
}

// NewFrame creates a frame for code with a fresh binding chained to parent
// (the block's captured binding, not the caller frame's).
func NewFrame(code *bytecode.CodeObject, captured *object.Binding, parent *Frame) *Frame {
	return &Frame{
		Code:      code,
		Parent:    parent,
		Binding:   object.NewBinding(int(code.Locals), captured),
		Registers: make([]object.Value, code.Registers),
	}
}

// GetRegister reads a register; unset registers read as undefined.
func (f *Frame) GetRegister(i uint16) object.Value {
	v := f.Registers[i]
	if v.IsZero() {
		return object.Undefined()
	}
	return v
}

// SetRegister writes a register.
func (f *Frame) SetRegister(i uint16, v object.Value) {
	f.Registers[i] = v
}

// PushDeferred registers a block to run at frame exit.
func (f *Frame) PushDeferred(block object.Value) {
	f.deferred = append(f.deferred, block)
}

// PopDeferred removes and returns the most recently deferred block. Deferred
// blocks run latest-first.
func (f *Frame) PopDeferred() (object.Value, bool) {
	if len(f.deferred) == 0 {
		return object.Value{}, false
	}
	v := f.deferred[len(f.deferred)-1]
	f.deferred = f.deferred[:len(f.deferred)-1]
	return v, true
}

// HasDeferred reports whether any deferred blocks are pending.
func (f *Frame) HasDeferred() bool { return len(f.deferred) > 0 }

// Generator returns the generator owning this frame, nil for plain frames.
func (f *Frame) Generator() *Generator { return f.generator }

// WalkReferences visits every value slot in the frame: registers, the
// binding chain, and deferred blocks.
func (f *Frame) WalkReferences(fn func(*object.Value)) {
	for i := range f.Registers {
		if !f.Registers[i].IsZero() {
			fn(&f.Registers[i])
		}
	}
	if f.Binding != nil {
		f.Binding.WalkReferences(fn)
	}
	for i := range f.deferred {
		fn(&f.deferred[i])
	}
}
