package object

// Generation identifies the space an object lives in.
type Generation uint32

const (
	// GenYoung objects live in a process's young semispaces.
	GenYoung Generation = iota
	// GenMature objects have been promoted to the process's mature blocks.
	GenMature
	// GenPermanent objects are immortal and shared between processes.
	GenPermanent
	// GenMailbox objects live in a message arena awaiting receive.
	GenMailbox
)

// Header flag layout. The header packs generation, age, and the collector
// bits into one word. Headers are only touched by the owning process (or the
// machine, for permanent objects created at load time), so no atomics are
// needed.
const (
	headerGenMask  uint32 = 0b11
	headerAgeShift        = 2
	headerAgeMask  uint32 = 0b111 << headerAgeShift

	headerMarked     uint32 = 1 << 5
	headerForwarded  uint32 = 1 << 6
	headerFinalize   uint32 = 1 << 7
	headerRemembered uint32 = 1 << 8
)

// Object is a boxed VM value: a class reference, a header word, an optional
// attribute table, and an optional payload whose shape follows the class.
type Object struct {
	class      *Class
	header     uint32
	attributes *AttributeTable
	payload    Payload

	// forward is the forwarding pointer installed by the evacuating
	// collector; valid only while the Forwarded header bit is set.
	forward *Object
}

// Init prepares a freshly allocated object slot. It is called by the heap
// allocators; object construction never happens outside an allocator.
func (o *Object) Init(class *Class, gen Generation, payload Payload) {
	o.class = class
	o.header = uint32(gen)
	o.attributes = nil
	o.payload = payload
	o.forward = nil
	if class != nil && class.NeedsFinalize() {
		o.header |= headerFinalize
	}
}

// Class returns the object's class descriptor.
func (o *Object) Class() *Class { return o.class }

// Payload returns the payload, which may be nil for plain objects.
func (o *Object) Payload() Payload { return o.payload }

// SetPayload replaces the payload. Used by the collector when copying and by
// mutable payload operations.
func (o *Object) SetPayload(p Payload) { o.payload = p }

// Generation returns the object's current generation.
func (o *Object) Generation() Generation {
	return Generation(o.header & headerGenMask)
}

// SetGeneration rewrites the generation bits, preserving the other flags.
func (o *Object) SetGeneration(g Generation) {
	o.header = o.header&^headerGenMask | uint32(g)
}

// IsPermanent reports whether the object lives in the permanent space.
func (o *Object) IsPermanent() bool { return o.Generation() == GenPermanent }

// Age returns the number of young collections survived.
func (o *Object) Age() uint32 {
	return (o.header & headerAgeMask) >> headerAgeShift
}

// IncrementAge bumps the survival count, saturating at the field width.
func (o *Object) IncrementAge() {
	age := o.Age()
	if age < headerAgeMask>>headerAgeShift {
		o.header = o.header&^headerAgeMask | (age+1)<<headerAgeShift
	}
}

// Marked reports the mark bit.
func (o *Object) Marked() bool { return o.header&headerMarked != 0 }

// SetMarked sets or clears the mark bit.
func (o *Object) SetMarked(m bool) {
	if m {
		o.header |= headerMarked
	} else {
		o.header &^= headerMarked
	}
}

// Forwarded reports whether the object has been evacuated.
func (o *Object) Forwarded() bool { return o.header&headerForwarded != 0 }

// Forward installs a forwarding pointer to the object's new location.
func (o *Object) Forward(to *Object) {
	o.forward = to
	o.header |= headerForwarded
}

// ForwardedTo returns the forwarding target; valid only when Forwarded.
func (o *Object) ForwardedTo() *Object { return o.forward }

// NeedsFinalize reports whether the object requires finalization when it
// becomes unreachable.
func (o *Object) NeedsFinalize() bool { return o.header&headerFinalize != 0 }

// ClearFinalize drops the finalize bit, used once an object has been handed
// to the finalizer queue.
func (o *Object) ClearFinalize() { o.header &^= headerFinalize }

// Remembered reports whether the object is in the remembered set.
func (o *Object) Remembered() bool { return o.header&headerRemembered != 0 }

// SetRemembered sets or clears the remembered bit.
func (o *Object) SetRemembered(r bool) {
	if r {
		o.header |= headerRemembered
	} else {
		o.header &^= headerRemembered
	}
}

// Attributes returns the attribute table, or nil when no attribute was ever
// written.
func (o *Object) Attributes() *AttributeTable { return o.attributes }

// GetAttribute reads an attribute from the object itself, without walking the
// class chain.
func (o *Object) GetAttribute(name *Symbol) (Value, bool) {
	return o.attributes.Get(name)
}

// SetAttribute writes an attribute. The caller is responsible for invoking
// the heap write barrier.
func (o *Object) SetAttribute(name *Symbol, value Value) {
	if o.attributes == nil {
		o.attributes = &AttributeTable{}
	}
	o.attributes.Set(name, value)
}

// WalkReferences invokes fn with a pointer to every Value slot held directly
// by the object: attributes and payload references. The collector uses the
// pointers to update moved references in place.
func (o *Object) WalkReferences(fn func(*Value)) {
	o.attributes.Each(func(_ *Symbol, v *Value) { fn(v) })
	if w, ok := o.payload.(ReferenceWalker); ok {
		w.WalkReferences(fn)
	}
}
