package vm

import (
	"github.com/YorickPeterse/inko/heap"
	"github.com/YorickPeterse/inko/object"
)

// Kernel holds the built-in class hierarchy and its first-class wrappers.
// Everything here is permanent and shared by every process.
type Kernel struct {
	ObjectClass    *object.Class
	IntegerClass   *object.Class
	FloatClass     *object.Class
	StringClass    *object.Class
	ByteArrayClass *object.Class
	ArrayClass     *object.Class
	BlockClass     *object.Class
	BooleanClass   *object.Class
	NilClass       *object.Class
	ProcessClass   *object.Class
	GeneratorClass *object.Class
	FileClass      *object.Class
	SocketClass    *object.Class
	HasherClass    *object.Class
	ForeignClass   *object.Class
	TimeoutClass   *object.Class

	// classObjects wraps each class in a permanent object so prototypes are
	// first-class values.
	classObjects map[*object.Class]*object.Object
}

// newKernel builds the class hierarchy in the permanent space.
func newKernel(perm *heap.PermanentSpace) *Kernel {
	k := &Kernel{}
	root := object.NewClass("Object", nil)
	k.ObjectClass = root
	k.IntegerClass = object.NewClass("Integer", root)
	k.FloatClass = object.NewClass("Float", root)
	k.StringClass = object.NewClass("String", root)
	k.ByteArrayClass = object.NewClass("ByteArray", root)
	k.ArrayClass = object.NewClass("Array", root)
	k.BlockClass = object.NewClass("Block", root)
	k.BooleanClass = object.NewClass("Boolean", root)
	k.NilClass = object.NewClass("Nil", root)
	k.ProcessClass = object.NewClass("Process", root)
	k.GeneratorClass = object.NewClass("Generator", root)
	k.FileClass = object.NewFinalizedClass("File", root)
	k.SocketClass = object.NewFinalizedClass("Socket", root)
	k.HasherClass = object.NewClass("Hasher", root)
	k.ForeignClass = object.NewClass("ForeignFunction", root)
	k.TimeoutClass = object.NewClass("Timeout", root)

	k.classObjects = make(map[*object.Class]*object.Object)
	for _, c := range []*object.Class{
		k.ObjectClass, k.IntegerClass, k.FloatClass, k.StringClass,
		k.ByteArrayClass, k.ArrayClass, k.BlockClass, k.BooleanClass,
		k.NilClass, k.ProcessClass, k.GeneratorClass, k.FileClass,
		k.SocketClass, k.HasherClass, k.ForeignClass, k.TimeoutClass,
	} {
		k.classObjects[c] = perm.Allocate(c, &object.ClassPayload{Class: c})
	}
	return k
}

// ClassObject returns the permanent first-class wrapper for a class.
func (k *Kernel) ClassObject(c *object.Class) *object.Object {
	return k.classObjects[c]
}

// ClassOf resolves the class of any value, immediates included.
func (k *Kernel) ClassOf(v object.Value) *object.Class {
	if obj := v.Object(); obj != nil {
		if c := obj.Class(); c != nil {
			return c
		}
		return k.ObjectClass
	}
	switch {
	case v.IsSmallInt():
		return k.IntegerClass
	case v.IsBool():
		return k.BooleanClass
	case v.IsNil():
		return k.NilClass
	default:
		return k.ObjectClass
	}
}
