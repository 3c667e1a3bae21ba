package object

import "github.com/YorickPeterse/inko/bytecode"

// Binding is one frame of captured locals, chained to its lexical parent.
// Blocks capture the binding active at their creation; SetParentLocal and
// GetParentLocal walk the chain by depth.
type Binding struct {
	locals []Value
	parent *Binding
}

// NewBinding creates a binding with capacity for count locals.
func NewBinding(count int, parent *Binding) *Binding {
	return &Binding{locals: make([]Value, count), parent: parent}
}

// Parent returns the enclosing binding, nil at the outermost frame.
func (b *Binding) Parent() *Binding { return b.parent }

// Len returns the number of local slots.
func (b *Binding) Len() int { return len(b.locals) }

// GetLocal reads a local slot. Unset slots read as the undefined singleton.
func (b *Binding) GetLocal(index int) Value {
	v := b.locals[index]
	if v.IsZero() {
		return Undefined()
	}
	return v
}

// SetLocal writes a local slot.
func (b *Binding) SetLocal(index int, value Value) {
	b.locals[index] = value
}

// LocalDefined reports whether a local slot has been assigned.
func (b *Binding) LocalDefined(index int) bool {
	return !b.locals[index].IsZero()
}

// AtDepth returns the binding depth levels up the chain, nil when the chain
// is shorter.
func (b *Binding) AtDepth(depth int) *Binding {
	cur := b
	for i := 0; i < depth && cur != nil; i++ {
		cur = cur.parent
	}
	return cur
}

// WalkReferences visits every local slot in the chain.
func (b *Binding) WalkReferences(fn func(*Value)) {
	for cur := b; cur != nil; cur = cur.parent {
		for i := range cur.locals {
			if !cur.locals[i].IsZero() {
				fn(&cur.locals[i])
			}
		}
	}
}

// BlockPayload packages a code reference, a captured binding chain, and an
// optional bound receiver. Blocks are first-class: closures, lambdas, and
// methods are all blocks.
type BlockPayload struct {
	Code     *bytecode.CodeObject
	Binding  *Binding
	Receiver Value
}

func (*BlockPayload) Kind() PayloadKind { return KindBlock }

func (p *BlockPayload) WalkReferences(fn func(*Value)) {
	if p.Binding != nil {
		p.Binding.WalkReferences(fn)
	}
	if !p.Receiver.IsZero() {
		fn(&p.Receiver)
	}
}
