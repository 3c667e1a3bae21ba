package object

import (
	"hash/maphash"
	"math/big"

	"golang.org/x/sys/unix"
)

// PayloadKind discriminates payload variants.
type PayloadKind uint8

const (
	KindString PayloadKind = iota
	KindBytes
	KindFloat
	KindBigInt
	KindArray
	KindBlock
	KindProcess
	KindGenerator
	KindFile
	KindSocket
	KindHasher
	KindForeignFunction
	KindClass
)

// Payload is the optional value payload of a boxed object. The concrete shape
// is determined by the object's class kind.
type Payload interface {
	Kind() PayloadKind
}

// ReferenceWalker is implemented by payloads that hold Value references the
// collector must trace and update.
type ReferenceWalker interface {
	WalkReferences(fn func(*Value))
}

// Finalizable is implemented by payloads owning external resources that must
// be released when the object becomes unreachable.
type Finalizable interface {
	Finalize() error
}

// StringPayload holds immutable string bytes.
type StringPayload struct {
	Bytes []byte
}

func (*StringPayload) Kind() PayloadKind { return KindString }

func (p *StringPayload) String() string { return string(p.Bytes) }

// BytesPayload holds a mutable byte array.
type BytesPayload struct {
	Bytes []byte
}

func (*BytesPayload) Kind() PayloadKind { return KindBytes }

// FloatPayload boxes a float.
type FloatPayload struct {
	Value float64
}

func (*FloatPayload) Kind() PayloadKind { return KindFloat }

// BigIntPayload boxes an integer outside the immediate range.
type BigIntPayload struct {
	Value *big.Int
}

func (*BigIntPayload) Kind() PayloadKind { return KindBigInt }

// ArrayPayload holds an ordered collection of values.
type ArrayPayload struct {
	Values []Value
}

func (*ArrayPayload) Kind() PayloadKind { return KindArray }

func (p *ArrayPayload) WalkReferences(fn func(*Value)) {
	for i := range p.Values {
		fn(&p.Values[i])
	}
}

// ProcessHandle abstracts the process a handle payload points at, keeping
// this package free of a dependency on the process package.
type ProcessHandle interface {
	Identifier() uint64
}

// ProcessPayload holds a handle to a process. The handle is shared, never
// copied: process identity crosses heaps by reference.
type ProcessPayload struct {
	Handle ProcessHandle
}

func (*ProcessPayload) Kind() PayloadKind { return KindProcess }

// GeneratorState abstracts a suspendable execution context (defined by the
// process package) so generator objects can be traced and resumed.
type GeneratorState interface {
	ReferenceWalker
}

// GeneratorPayload holds a suspendable frame.
type GeneratorPayload struct {
	State GeneratorState
}

func (*GeneratorPayload) Kind() PayloadKind { return KindGenerator }

func (p *GeneratorPayload) WalkReferences(fn func(*Value)) {
	if p.State != nil {
		p.State.WalkReferences(fn)
	}
}

// FilePayload holds an open file descriptor.
type FilePayload struct {
	Fd   int
	Path string
}

func (*FilePayload) Kind() PayloadKind { return KindFile }

func (p *FilePayload) Finalize() error {
	if p.Fd < 0 {
		return nil
	}
	err := unix.Close(p.Fd)
	p.Fd = -1
	return err
}

// SocketPayload holds a non-blocking socket descriptor.
type SocketPayload struct {
	Fd int
}

func (*SocketPayload) Kind() PayloadKind { return KindSocket }

func (p *SocketPayload) Finalize() error {
	if p.Fd < 0 {
		return nil
	}
	err := unix.Close(p.Fd)
	p.Fd = -1
	return err
}

// HasherPayload is an incremental hasher exposed to programs.
type HasherPayload struct {
	Hash maphash.Hash
}

func (*HasherPayload) Kind() PayloadKind { return KindHasher }

// ForeignFunction is a registered host function callable via
// ExternalFunctionCall.
type ForeignFunction func(args []Value) (Value, error)

// ForeignFunctionPayload binds a name to a registered host function.
type ForeignFunctionPayload struct {
	Name string
	Fn   ForeignFunction
}

func (*ForeignFunctionPayload) Kind() PayloadKind { return KindForeignFunction }
