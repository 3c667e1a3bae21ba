package process

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/YorickPeterse/inko/heap"
	"github.com/YorickPeterse/inko/object"
)

// ErrUncopyable is returned when a value cannot cross a process boundary.
var ErrUncopyable = errors.New("process: value cannot be deep-copied")

// Copy deep-copies a value into the destination allocator.
//
// Immediates are returned as-is and permanent values are shared by
// reference, so Copy is a semantic identity on both. Mutable values produce
// a disjoint object graph. A per-copy identity map preserves sharing within
// one message: two references to the same object in the source graph
// reference one object in the copy.
func Copy(dst heap.Allocator, v object.Value) (object.Value, error) {
	c := &copier{dst: dst}
	return c.value(v)
}

type copier struct {
	dst  heap.Allocator
	seen map[*object.Object]*object.Object
}

func (c *copier) value(v object.Value) (object.Value, error) {
	obj := v.Object()
	if obj == nil || obj.IsPermanent() {
		return v, nil
	}

	if c.seen != nil {
		if copied, ok := c.seen[obj]; ok {
			return object.Boxed(copied), nil
		}
	} else {
		c.seen = make(map[*object.Object]*object.Object)
	}

	// Allocate before filling so cyclic references within the message graph
	// resolve to the copy.
	copied := c.dst.Allocate(obj.Class(), nil)
	c.seen[obj] = copied

	payload, err := c.payload(obj.Payload())
	if err != nil {
		return object.Value{}, err
	}
	copied.SetPayload(payload)

	if attrs := obj.Attributes(); attrs != nil {
		var copyErr error
		attrs.Each(func(key *object.Symbol, val *object.Value) {
			if copyErr != nil {
				return
			}
			cv, err := c.value(*val)
			if err != nil {
				copyErr = err
				return
			}
			copied.SetAttribute(key, cv)
		})
		if copyErr != nil {
			return object.Value{}, copyErr
		}
	}

	return object.Boxed(copied), nil
}

func (c *copier) payload(p object.Payload) (object.Payload, error) {
	switch p := p.(type) {
	case nil:
		return nil, nil
	case *object.StringPayload:
		// String bytes are immutable and may be shared by the copy.
		return &object.StringPayload{Bytes: p.Bytes}, nil
	case *object.BytesPayload:
		b := make([]byte, len(p.Bytes))
		copy(b, p.Bytes)
		return &object.BytesPayload{Bytes: b}, nil
	case *object.FloatPayload:
		return &object.FloatPayload{Value: p.Value}, nil
	case *object.BigIntPayload:
		return &object.BigIntPayload{Value: new(big.Int).Set(p.Value)}, nil
	case *object.ArrayPayload:
		values := make([]object.Value, len(p.Values))
		for i, v := range p.Values {
			cv, err := c.value(v)
			if err != nil {
				return nil, err
			}
			values[i] = cv
		}
		return &object.ArrayPayload{Values: values}, nil
	case *object.BlockPayload:
		binding, err := c.binding(p.Binding)
		if err != nil {
			return nil, err
		}
		out := &object.BlockPayload{Code: p.Code, Binding: binding}
		if !p.Receiver.IsZero() {
			if out.Receiver, err = c.value(p.Receiver); err != nil {
				return nil, err
			}
		}
		return out, nil
	case *object.ProcessPayload:
		// Process identity crosses heaps by reference.
		return &object.ProcessPayload{Handle: p.Handle}, nil
	case *object.ForeignFunctionPayload:
		return &object.ForeignFunctionPayload{Name: p.Name, Fn: p.Fn}, nil
	case *object.ClassPayload:
		return &object.ClassPayload{Class: p.Class}, nil
	default:
		return nil, fmt.Errorf("%w: payload kind %d", ErrUncopyable, p.Kind())
	}
}

// binding deep-copies a captured binding chain.
func (c *copier) binding(b *object.Binding) (*object.Binding, error) {
	if b == nil {
		return nil, nil
	}
	parent, err := c.binding(b.Parent())
	if err != nil {
		return nil, err
	}
	out := object.NewBinding(b.Len(), parent)
	for i := 0; i < b.Len(); i++ {
		if !b.LocalDefined(i) {
			continue
		}
		cv, err := c.value(b.GetLocal(i))
		if err != nil {
			return nil, err
		}
		out.SetLocal(i, cv)
	}
	return out, nil
}
