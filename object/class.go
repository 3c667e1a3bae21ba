package object

import "sync"

// Class is the descriptor shared by all objects of one kind: a name, a parent
// link, a method table, and behavioural flags.
//
// Classes are permanent. The method table is mutable during image load and
// effectively frozen afterwards; the mutex makes late registration safe
// regardless.
type Class struct {
	name   string
	parent *Class

	mu      sync.RWMutex
	methods map[*Symbol]Value

	// attributes holds class-level attributes (module constants and the
	// like), consulted by attribute lookup after the receiver's own table.
	attributes AttributeTable

	needsFinalize bool
}

// NewClass creates a class with the given name and parent. A nil parent marks
// the root.
func NewClass(name string, parent *Class) *Class {
	return &Class{name: name, parent: parent}
}

// NewFinalizedClass creates a class whose instances require finalization
// (files, sockets, foreign resources).
func NewFinalizedClass(name string, parent *Class) *Class {
	c := NewClass(name, parent)
	c.needsFinalize = true
	return c
}

// Name returns the class name.
func (c *Class) Name() string { return c.name }

// Parent returns the parent class, nil at the root.
func (c *Class) Parent() *Class { return c.parent }

// NeedsFinalize reports whether instances require finalization.
func (c *Class) NeedsFinalize() bool { return c.needsFinalize }

// RegisterMethod binds a method (a block value) to name.
func (c *Class) RegisterMethod(name *Symbol, block Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.methods == nil {
		c.methods = make(map[*Symbol]Value)
	}
	c.methods[name] = block
}

// LookupMethod resolves name through the class chain.
func (c *Class) LookupMethod(name *Symbol) (Value, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		cur.mu.RLock()
		v, ok := cur.methods[name]
		cur.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return Value{}, false
}

// SetAttribute writes a class-level attribute.
func (c *Class) SetAttribute(name *Symbol, value Value) {
	c.attributes.Set(name, value)
}

// GetAttribute resolves a class-level attribute through the chain.
func (c *Class) GetAttribute(name *Symbol) (Value, bool) {
	for cur := c; cur != nil; cur = cur.parent {
		if v, ok := cur.attributes.Get(name); ok {
			return v, true
		}
	}
	return Value{}, false
}

// LookupAttribute resolves name against an object: the object's own table
// first, then class-level attributes walking parents to the root.
func LookupAttribute(obj *Object, name *Symbol) (Value, bool) {
	if obj != nil {
		if v, ok := obj.GetAttribute(name); ok {
			return v, true
		}
		if obj.class != nil {
			return obj.class.GetAttribute(name)
		}
	}
	return Value{}, false
}

// ClassPayload makes a class a first-class value, so prototype registers can
// hold it.
type ClassPayload struct {
	Class *Class
}

func (*ClassPayload) Kind() PayloadKind { return KindClass }
