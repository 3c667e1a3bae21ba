package process

import "github.com/YorickPeterse/inko/object"

// GeneratorState enumerates the lifecycle of a generator context.
type GeneratorState uint8

const (
	// GeneratorCreated means the body has not run yet.
	GeneratorCreated GeneratorState = iota
	// GeneratorSuspended means the body is parked at a yield.
	GeneratorSuspended
	// GeneratorRunning means the body is on the resumer's stack.
	GeneratorRunning
	// GeneratorFinished means the body returned or threw.
	GeneratorFinished
)

// Generator is a restartable frame: an owned execution context holding the
// register file and instruction pointer of the generator's body. Resuming
// pushes the saved frame onto the resumer's stack; yielding stores a value
// and returns control at the single resumption point.
type Generator struct {
	frame   *Frame
	state   GeneratorState
	yielded object.Value
}

// NewGenerator captures a block body as a suspendable context.
func NewGenerator(block *object.BlockPayload) *Generator {
	g := &Generator{state: GeneratorCreated}
	g.frame = NewFrame(block.Code, block.Binding, nil)
	g.frame.generator = g
	return g
}

// Frame returns the generator's owned frame, nil once finished.
func (g *Generator) Frame() *Frame { return g.frame }

// State returns the generator lifecycle state.
func (g *Generator) State() GeneratorState { return g.state }

// SetState updates the lifecycle state.
func (g *Generator) SetState(s GeneratorState) { g.state = s }

// Yielded returns the most recently yielded value, undefined before the
// first yield and after finishing.
func (g *Generator) Yielded() object.Value {
	if g.yielded.IsZero() {
		return object.Undefined()
	}
	return g.yielded
}

// SetYielded stores a yielded value.
func (g *Generator) SetYielded(v object.Value) { g.yielded = v }

// Finish drops the owned frame and marks the generator done.
func (g *Generator) Finish() {
	g.state = GeneratorFinished
	g.frame = nil
	g.yielded = object.Value{}
}

// WalkReferences visits the generator's retained value slots: the suspended
// frame (a single frame; its caller chain belongs to the resumer) and the
// yielded value.
func (g *Generator) WalkReferences(fn func(*object.Value)) {
	if g.frame != nil && g.state != GeneratorRunning {
		g.frame.WalkReferences(fn)
	}
	if !g.yielded.IsZero() {
		fn(&g.yielded)
	}
}
