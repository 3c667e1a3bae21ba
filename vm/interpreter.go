package vm

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/sys/unix"

	"github.com/YorickPeterse/inko/bytecode"
	"github.com/YorickPeterse/inko/object"
	"github.com/YorickPeterse/inko/process"
	"github.com/YorickPeterse/inko/scheduler"
)

// stepResult tells the caller of the dispatch loop why control came back.
type stepResult uint8

const (
	// stepDone means execution reached the boundary frame (nested runs).
	stepDone stepResult = iota
	// stepYield means the process gave up its quantum; state is Runnable.
	stepYield
	// stepWait means the process parked; a wake-up will re-schedule it.
	stepWait
	// stepTerminated means the process finished, panicked, or the VM exited.
	stepTerminated
)

// ExecuteProcess runs one scheduling quantum of p. Implements
// scheduler.Executor.
func (m *Machine) ExecuteProcess(p *process.Process) (verdict scheduler.Verdict) {
	p.Reductions = m.config.Reductions

	defer func() {
		// A Go-level panic in a handler is a VM invariant violation; route
		// it through the unhandled-panic policy rather than crashing the
		// worker.
		if r := recover(); r != nil {
			m.panicProcess(p, fmt.Sprintf("runtime error: %v", r))
			verdict = scheduler.VerdictTerminated
		}
	}()

	switch m.runUntil(p, nil) {
	case stepYield:
		return scheduler.VerdictYielded
	case stepWait:
		return scheduler.VerdictWaiting
	default:
		return scheduler.VerdictTerminated
	}
}

// runUntil is the dispatch loop. It executes frames until the process
// yields, parks, terminates, or the frame stack pops back to boundary
// (nested execution of deferred blocks).
func (m *Machine) runUntil(p *process.Process, boundary *process.Frame) stepResult {
frames:
	for {
		f := p.Stack()
		if f == boundary {
			return stepDone
		}
		if f == nil {
			// Unreachable: returnFrom finishes the process when the last
			// frame pops.
			return stepTerminated
		}

		code := f.Code
		instructions := code.Instructions

		for {
			if f.IP >= len(instructions) {
				// Fall-through: implicit nil return.
				if !m.returnFrom(p, f, object.Nil()) {
					return stepTerminated
				}
				continue frames
			}

			ins := &instructions[f.IP]
			switch ins.Opcode {

			// ----- allocation -----

			case bytecode.OpAllocate:
				m.maybeCollect(p)
				class := m.classOperand(p, f, ins.Operand(1))
				obj := p.Heap().Allocate(class, nil)
				f.SetRegister(ins.Operand(0), object.Boxed(obj))
				f.IP++

			case bytecode.OpAllocatePermanent:
				class := m.classOperand(p, f, ins.Operand(1))
				obj := m.perm.Allocate(class, nil)
				f.SetRegister(ins.Operand(0), object.Boxed(obj))
				f.IP++

			case bytecode.OpAllocateArray:
				m.maybeCollect(p)
				start, count := ins.Operand(1), int(ins.Operand(2))
				values := make([]object.Value, count)
				for i := 0; i < count; i++ {
					values[i] = f.GetRegister(start + uint16(i))
				}
				obj := p.Heap().Allocate(m.kernel.ArrayClass, &object.ArrayPayload{Values: values})
				f.SetRegister(ins.Operand(0), object.Boxed(obj))
				f.IP++

			case bytecode.OpGeneratorAllocate:
				m.maybeCollect(p)
				block := m.blockOperand(p, f, ins.Operand(1))
				gen := process.NewGenerator(block)
				obj := p.Heap().Allocate(m.kernel.GeneratorClass, &object.GeneratorPayload{State: gen})
				f.SetRegister(ins.Operand(0), object.Boxed(obj))
				f.IP++

			// ----- literals and registers -----

			case bytecode.OpLoadString:
				f.SetRegister(ins.Operand(0), m.stringLits[ins.Operand(1)])
				f.IP++

			case bytecode.OpLoadInteger:
				f.SetRegister(ins.Operand(0), m.intLits[ins.Operand(1)])
				f.IP++

			case bytecode.OpLoadFloat:
				f.SetRegister(ins.Operand(0), m.floatLits[ins.Operand(1)])
				f.IP++

			case bytecode.OpLoadNil:
				f.SetRegister(ins.Operand(0), object.Nil())
				f.IP++

			case bytecode.OpLoadTrue:
				f.SetRegister(ins.Operand(0), object.True())
				f.IP++

			case bytecode.OpLoadFalse:
				f.SetRegister(ins.Operand(0), object.False())
				f.IP++

			case bytecode.OpLoadUndefined:
				f.SetRegister(ins.Operand(0), object.Undefined())
				f.IP++

			case bytecode.OpMoveRegister:
				f.SetRegister(ins.Operand(0), f.GetRegister(ins.Operand(1)))
				f.IP++

			// ----- locals -----

			case bytecode.OpSetLocal:
				f.Binding.SetLocal(int(ins.Operand(0)), f.GetRegister(ins.Operand(1)))
				f.IP++

			case bytecode.OpGetLocal:
				f.SetRegister(ins.Operand(0), f.Binding.GetLocal(int(ins.Operand(1))))
				f.IP++

			case bytecode.OpSetParentLocal:
				b := f.Binding.AtDepth(int(ins.Operand(1)) + 1)
				if b == nil {
					m.panicProcess(p, "parent binding depth out of range")
					return stepTerminated
				}
				b.SetLocal(int(ins.Operand(0)), f.GetRegister(ins.Operand(2)))
				f.IP++

			case bytecode.OpGetParentLocal:
				b := f.Binding.AtDepth(int(ins.Operand(1)) + 1)
				if b == nil {
					m.panicProcess(p, "parent binding depth out of range")
					return stepTerminated
				}
				f.SetRegister(ins.Operand(0), b.GetLocal(int(ins.Operand(2))))
				f.IP++

			case bytecode.OpLocalExists:
				f.SetRegister(ins.Operand(0), object.Bool(f.Binding.LocalDefined(int(ins.Operand(1)))))
				f.IP++

			// ----- globals and attributes -----

			case bytecode.OpGetGlobal:
				rt := m.moduleFor(code)
				if rt == nil || int(ins.Operand(1)) >= len(rt.globals) {
					m.panicProcess(p, "global slot out of range")
					return stepTerminated
				}
				rt.mu.Lock()
				v := rt.globals[ins.Operand(1)]
				rt.mu.Unlock()
				if v.IsZero() {
					v = object.Nil()
				}
				f.SetRegister(ins.Operand(0), v)
				f.IP++

			case bytecode.OpSetGlobal:
				rt := m.moduleFor(code)
				if rt == nil || int(ins.Operand(0)) >= len(rt.globals) {
					m.panicProcess(p, "global slot out of range")
					return stepTerminated
				}
				v := f.GetRegister(ins.Operand(1))
				// Module globals are shared between processes, so stored
				// values must be permanent.
				v, err := m.makeShareable(v)
				if err != nil {
					m.panicProcess(p, err.Error())
					return stepTerminated
				}
				rt.mu.Lock()
				rt.globals[ins.Operand(0)] = v
				rt.mu.Unlock()
				f.IP++

			case bytecode.OpSetAttribute:
				target := f.GetRegister(ins.Operand(0))
				obj := target.Object()
				if obj == nil {
					m.panicProcess(p, "attributes cannot be set on immediate values")
					return stepTerminated
				}
				name := m.symbolLits[ins.Operand(1)]
				v := f.GetRegister(ins.Operand(2))
				if obj.IsPermanent() {
					var err error
					if v, err = m.makeShareable(v); err != nil {
						m.panicProcess(p, err.Error())
						return stepTerminated
					}
				}
				obj.SetAttribute(name, v)
				p.Heap().WriteBarrier(obj, v)
				f.IP++

			case bytecode.OpGetAttribute:
				target := f.GetRegister(ins.Operand(1))
				name := m.symbolLits[ins.Operand(2)]
				v, ok := m.lookupAttribute(code, f.IP, target, name)
				if !ok {
					m.panicProcess(p, fmt.Sprintf("undefined attribute %q", name.Name()))
					return stepTerminated
				}
				f.SetRegister(ins.Operand(0), v)
				f.IP++

			case bytecode.OpGetPrototype:
				class := m.kernel.ClassOf(f.GetRegister(ins.Operand(1)))
				f.SetRegister(ins.Operand(0), object.Boxed(m.kernel.ClassObject(class)))
				f.IP++

			case bytecode.OpObjectEquals:
				a := f.GetRegister(ins.Operand(1))
				b := f.GetRegister(ins.Operand(2))
				f.SetRegister(ins.Operand(0), object.Bool(object.Equals(a, b)))
				f.IP++

			// ----- control flow -----

			case bytecode.OpGoto:
				target := int(ins.Operand(0))
				if target <= f.IP {
					// Loop back-edge: charge a reduction.
					p.Reductions--
					if p.Reductions <= 0 && boundary == nil {
						f.IP = target
						p.SetState(process.StateRunnable)
						return stepYield
					}
				}
				f.IP = target

			case bytecode.OpGotoIfTrue:
				if f.GetRegister(ins.Operand(1)).Truthy() {
					target := int(ins.Operand(0))
					if target <= f.IP {
						p.Reductions--
						if p.Reductions <= 0 && boundary == nil {
							f.IP = target
							p.SetState(process.StateRunnable)
							return stepYield
						}
					}
					f.IP = target
				} else {
					f.IP++
				}

			case bytecode.OpGotoIfFalse:
				if !f.GetRegister(ins.Operand(1)).Truthy() {
					target := int(ins.Operand(0))
					if target <= f.IP {
						p.Reductions--
						if p.Reductions <= 0 && boundary == nil {
							f.IP = target
							p.SetState(process.StateRunnable)
							return stepYield
						}
					}
					f.IP = target
				} else {
					f.IP++
				}

			case bytecode.OpReturn:
				if !m.returnFrom(p, f, f.GetRegister(ins.Operand(0))) {
					return stepTerminated
				}
				continue frames

			// ----- blocks and invocation -----

			case bytecode.OpSetBlock:
				m.maybeCollect(p)
				blockCode := m.image.Code[ins.Operand(1)]
				m.associateModule(blockCode, code)
				payload := &object.BlockPayload{Code: blockCode, Binding: f.Binding}
				obj := p.Heap().Allocate(m.kernel.BlockClass, payload)
				f.SetRegister(ins.Operand(0), object.Boxed(obj))
				f.IP++

			case bytecode.OpRunBlock, bytecode.OpRunBlockWithReceiver:
				if p.Reductions <= 0 && boundary == nil {
					// Budget exhausted: yield before the call, retry on
					// resumption with a fresh budget.
					p.SetState(process.StateRunnable)
					return stepYield
				}
				p.Reductions--
				m.maybeCollect(p)

				withReceiver := ins.Opcode == bytecode.OpRunBlockWithReceiver
				block := m.blockOperand(p, f, ins.Operand(1))

				var receiver object.Value
				argBase := 2
				if withReceiver {
					receiver = f.GetRegister(ins.Operand(2))
					argBase = 3
				} else if !block.Receiver.IsZero() {
					receiver = block.Receiver
				}

				argc := int(ins.Operand(argBase))
				args := make([]object.Value, argc)
				for i := 0; i < argc; i++ {
					args[i] = f.GetRegister(ins.Operand(argBase + 1 + i))
				}

				child := process.NewFrame(block.Code, block.Binding, f)
				child.ReturnRegister = ins.Operand(0)
				if err := m.bindArguments(p, child, block.Code, receiver, args); err != nil {
					m.panicProcess(p, err.Error())
					return stepTerminated
				}

				f.IP++
				p.PushFrame(child)
				continue frames

			case bytecode.OpTailCall:
				if p.Reductions <= 0 && boundary == nil {
					p.SetState(process.StateRunnable)
					return stepYield
				}
				p.Reductions--
				m.maybeCollect(p)

				if f.Generator() != nil {
					m.panicProcess(p, "tail calls cannot replace a generator frame")
					return stepTerminated
				}

				block := m.blockOperand(p, f, ins.Operand(0))
				argc := int(ins.Operand(1))
				args := make([]object.Value, argc)
				for i := 0; i < argc; i++ {
					args[i] = f.GetRegister(ins.Operand(2 + i))
				}

				m.runDeferred(p, f)

				child := process.NewFrame(block.Code, block.Binding, f.Parent)
				child.ReturnRegister = f.ReturnRegister
				child.DiscardReturn = f.DiscardReturn
				if err := m.bindArguments(p, child, block.Code, block.Receiver, args); err != nil {
					m.panicProcess(p, err.Error())
					return stepTerminated
				}

				p.PopFrame()
				p.PushFrame(child)
				continue frames

			case bytecode.OpExternalFunctionCall:
				name := m.image.Strings[ins.Operand(1)]
				fn, ok := m.foreignFunction(name)
				if !ok {
					m.panicProcess(p, fmt.Sprintf("undefined external function %q", name))
					return stepTerminated
				}
				argc := int(ins.Operand(2))
				args := make([]object.Value, argc)
				for i := 0; i < argc; i++ {
					args[i] = f.GetRegister(ins.Operand(3 + i))
				}
				result, err := fn.Fn(args)
				if err != nil {
					m.panicProcess(p, fmt.Sprintf("external function %q failed: %v", name, err))
					return stepTerminated
				}
				f.SetRegister(ins.Operand(0), result)
				f.IP++

			// ----- exceptions and deferred blocks -----

			case bytecode.OpThrow:
				switch m.throwValue(p, f.GetRegister(ins.Operand(0)), boundary) {
				case throwCaught:
					continue frames
				case throwPanicked:
					return stepTerminated
				}

			case bytecode.OpPanic:
				m.panicProcess(p, m.describeValue(f.GetRegister(ins.Operand(0))))
				return stepTerminated

			case bytecode.OpDefer:
				v := f.GetRegister(ins.Operand(0))
				if obj := v.Object(); obj == nil || obj.Payload() == nil || obj.Payload().Kind() != object.KindBlock {
					m.panicProcess(p, "deferred values must be blocks")
					return stepTerminated
				}
				f.PushDeferred(v)
				f.IP++

			// ----- integers and arrays -----

			case bytecode.OpIntegerAdd, bytecode.OpIntegerSub, bytecode.OpIntegerMul,
				bytecode.OpIntegerDiv, bytecode.OpIntegerMod,
				bytecode.OpIntegerSmaller, bytecode.OpIntegerGreater, bytecode.OpIntegerEquals:
				if !m.integerOp(p, f, ins) {
					return stepTerminated
				}
				f.IP++

			case bytecode.OpArrayAt:
				arr := m.arrayOperand(p, f, ins.Operand(1))
				idx, _ := object.IntValueOf(f.GetRegister(ins.Operand(2)))
				if idx < 0 || int(idx) >= len(arr.Values) {
					f.SetRegister(ins.Operand(0), object.Nil())
				} else {
					f.SetRegister(ins.Operand(0), arr.Values[idx])
				}
				f.IP++

			case bytecode.OpArraySet:
				arrObj := f.GetRegister(ins.Operand(1)).Object()
				arr := m.arrayOperand(p, f, ins.Operand(1))
				idx, _ := object.IntValueOf(f.GetRegister(ins.Operand(2)))
				v := f.GetRegister(ins.Operand(3))
				switch {
				case idx >= 0 && int(idx) < len(arr.Values):
					arr.Values[idx] = v
				case int(idx) == len(arr.Values):
					arr.Values = append(arr.Values, v)
				default:
					m.panicProcess(p, fmt.Sprintf("array index %d out of bounds", idx))
					return stepTerminated
				}
				p.Heap().WriteBarrier(arrObj, v)
				f.SetRegister(ins.Operand(0), v)
				f.IP++

			case bytecode.OpArrayLength:
				arr := m.arrayOperand(p, f, ins.Operand(1))
				n, _ := object.SmallInt(int64(len(arr.Values)))
				f.SetRegister(ins.Operand(0), n)
				f.IP++

			// ----- processes -----

			case bytecode.OpProcessSpawn:
				p.Reductions--
				m.maybeCollect(p)
				if res, ok := m.instrSpawn(p, f, ins.Operand(0), f.GetRegister(ins.Operand(1))); !ok {
					return res
				}
				f.IP++

			case bytecode.OpProcessSendMessage:
				if res, ok := m.instrSend(p, f, ins.Operand(0), ins.Operand(1)); !ok {
					return res
				}
				f.IP++

			case bytecode.OpProcessReceiveMessage:
				res, action := m.instrReceive(p, f, ins, boundary)
				switch action {
				case receiveGotMessage:
					f.IP++
				case receiveRetry:
					continue frames
				case receiveParked, receiveFailed:
					return res
				}

			case bytecode.OpProcessSuspendCurrent:
				if boundary != nil {
					m.panicProcess(p, "cannot suspend inside a deferred block")
					return stepTerminated
				}
				v := f.GetRegister(ins.Operand(0))
				f.IP++
				if v.IsNil() {
					p.SetState(process.StateRunnable)
					return stepYield
				}
				d, err := durationOf(v)
				if err != nil {
					m.panicProcess(p, err.Error())
					return stepTerminated
				}
				t := m.reactor.ScheduleTimer(p, d, process.StateSleeping, false)
				p.SetTimer(t)
				p.SetState(process.StateSleeping)
				return stepWait

			case bytecode.OpProcessTerminateCurrent:
				m.finishProcess(p, object.Nil())
				return stepTerminated

			case bytecode.OpProcessCurrent:
				m.maybeCollect(p)
				obj := p.Heap().Allocate(m.kernel.ProcessClass, &object.ProcessPayload{Handle: p})
				f.SetRegister(ins.Operand(0), object.Boxed(obj))
				f.IP++

			case bytecode.OpProcessIdentifier:
				target := m.processOperand(p, f, ins.Operand(1))
				id, _ := object.SmallInt(int64(target.Identifier()))
				f.SetRegister(ins.Operand(0), id)
				f.IP++

			case bytecode.OpProcessSetBlocking:
				flag := f.GetRegister(ins.Operand(1)).Truthy()
				prev := p.SetBlocking(flag)
				f.SetRegister(ins.Operand(0), object.Bool(prev))
				f.IP++
				if prev != flag && boundary == nil {
					// Pool migration: yield so the worker re-routes us.
					p.SetState(process.StateRunnable)
					return stepYield
				}

			case bytecode.OpProcessSetPinned:
				flag := f.GetRegister(ins.Operand(1)).Truthy()
				prev := p.SetPinned(flag)
				f.SetRegister(ins.Operand(0), object.Bool(prev))
				f.IP++

			// ----- generators -----

			case bytecode.OpGeneratorResume:
				gen := m.generatorOperand(p, f, ins.Operand(1))
				switch gen.State() {
				case process.GeneratorFinished:
					f.SetRegister(ins.Operand(0), object.False())
					f.IP++
				case process.GeneratorRunning:
					m.panicProcess(p, "generator is already running")
					return stepTerminated
				default:
					p.Reductions--
					gf := gen.Frame()
					gf.Parent = f
					gf.ReturnRegister = ins.Operand(0)
					gen.SetState(process.GeneratorRunning)
					f.IP++
					p.PushFrame(gf)
					continue frames
				}

			case bytecode.OpGeneratorValue:
				gen := m.generatorOperand(p, f, ins.Operand(1))
				f.SetRegister(ins.Operand(0), gen.Yielded())
				f.IP++

			case bytecode.OpGeneratorYield:
				gen := f.Generator()
				if gen == nil {
					m.panicProcess(p, "yield outside of a generator")
					return stepTerminated
				}
				gen.SetYielded(f.GetRegister(ins.Operand(0)))
				gen.SetState(process.GeneratorSuspended)
				f.IP++
				parent := f.Parent
				p.PopFrame()
				f.Parent = nil
				parent.SetRegister(f.ReturnRegister, object.True())
				continue frames

			// ----- files -----

			case bytecode.OpFileOpen, bytecode.OpFileRead, bytecode.OpFileWrite, bytecode.OpFileClose:
				res, action := m.instrFile(p, f, ins, boundary)
				switch action {
				case fileOK:
					f.IP++
				case fileThrown:
					continue frames
				case fileParked, fileFailed:
					return res
				}

			// ----- misc -----

			case bytecode.OpPlatform:
				f.SetRegister(ins.Operand(0), m.platformString)
				f.IP++

			case bytecode.OpExit:
				code, _ := object.IntValueOf(f.GetRegister(ins.Operand(0)))
				p.CancelTimer()
				p.Terminate()
				p.Heap().Destroy()
				m.table.Remove(p)
				m.exit(int(code))
				return stepTerminated

			default:
				m.panicProcess(p, fmt.Sprintf("unknown opcode %s", ins.Opcode))
				return stepTerminated
			}
		}
	}
}

// returnFrom runs the frame's deferred blocks, pops it, and delivers the
// return value. Returns false when the process finished (the last frame
// popped).
func (m *Machine) returnFrom(p *process.Process, f *process.Frame, value object.Value) bool {
	m.runDeferred(p, f)

	if gen := f.Generator(); gen != nil {
		// Generator body finished: the resumer observes false.
		gen.Finish()
		parent := f.Parent
		p.PopFrame()
		f.Parent = nil
		parent.SetRegister(f.ReturnRegister, object.False())
		return true
	}

	parent := f.Parent
	p.PopFrame()
	if parent == nil {
		m.finishProcess(p, value)
		return false
	}
	if !f.DiscardReturn {
		parent.SetRegister(f.ReturnRegister, value)
	}
	return true
}

// runDeferred executes the frame's deferred blocks, latest-first, via nested
// interpretation bounded at f. Suspension points inside deferred blocks are
// rejected, and reductions are not charged.
func (m *Machine) runDeferred(p *process.Process, f *process.Frame) {
	for {
		v, ok := f.PopDeferred()
		if !ok {
			return
		}
		payload, ok := v.Object().Payload().(*object.BlockPayload)
		if !ok {
			continue
		}
		child := process.NewFrame(payload.Code, payload.Binding, f)
		child.DiscardReturn = true
		p.PushFrame(child)
		if m.runUntil(p, f) != stepDone {
			// The deferred block panicked or exited the VM; the frame stack
			// is already torn down.
			return
		}
	}
}

// throwResult reports how a throw resolved.
type throwResult uint8

const (
	throwCaught throwResult = iota
	throwPanicked
)

// throwValue unwinds to the innermost catch entry covering a throwing
// instruction. Frames popped during unwinding run their deferred blocks;
// the handler frame's own deferred blocks stay pending. A throw with no
// handler terminates the process as a panic.
func (m *Machine) throwValue(p *process.Process, v object.Value, boundary *process.Frame) throwResult {
	var handler *process.Frame
	var entry *bytecode.CatchEntry

	top := true
	for f := p.Stack(); f != nil && f != boundary; f = f.Parent {
		// The top frame's IP is the throw site; caller IPs were advanced
		// past their call instruction when the callee was pushed.
		ip := f.IP
		if !top {
			ip--
		}
		top = false
		if e := f.Code.CatchEntryFor(ip); e != nil {
			handler = f
			entry = e
			break
		}
	}

	if handler == nil {
		m.panicProcess(p, fmt.Sprintf("unhandled throw: %s", m.describeValue(v)))
		return throwPanicked
	}

	for p.Stack() != handler {
		f := p.Stack()
		m.runDeferred(p, f)
		if gen := f.Generator(); gen != nil {
			// Throwable generators propagate to the resumer: the generator
			// dies, the unwind continues.
			gen.Finish()
		}
		p.PopFrame()
		f.Parent = nil
	}

	handler.SetRegister(entry.Register, v)
	handler.IP = int(entry.Jump)
	return throwCaught
}

// maybeCollect runs collections when allocation pressure demands, at
// allocation safepoints only. The process being collected is the one
// currently running on this worker, so only it pauses.
func (m *Machine) maybeCollect(p *process.Process) {
	h := p.Heap()
	if h.ShouldCollectYoung() {
		h.CollectYoung(p)
	}
	if h.ShouldCollectMature() {
		h.CollectMature(p)
	}
}

// bindArguments enforces arity and binds arguments (and the optional
// receiver) into the fresh frame's locals. The receiver, when present,
// occupies local 0 with declared arguments following; surplus arguments are
// collected into a rest array when the code declares one.
func (m *Machine) bindArguments(p *process.Process, f *process.Frame, code *bytecode.CodeObject, receiver object.Value, args []object.Value) error {
	base := 0
	if !receiver.IsZero() {
		f.Binding.SetLocal(0, receiver)
		base = 1
	}

	arity := int(code.Arity)
	required := int(code.RequiredArguments)

	if len(args) < required {
		return fmt.Errorf("block %q requires %d arguments, got %d", code.Name, required, len(args))
	}
	if len(args) > arity && !code.RestArgument {
		return fmt.Errorf("block %q accepts %d arguments, got %d", code.Name, arity, len(args))
	}

	declared := arity
	if code.RestArgument && declared > 0 {
		declared--
	}

	n := len(args)
	if n > declared {
		n = declared
	}
	for i := 0; i < n; i++ {
		f.Binding.SetLocal(base+i, args[i])
	}

	if code.RestArgument {
		rest := make([]object.Value, 0, len(args)-n)
		rest = append(rest, args[n:]...)
		obj := p.Heap().Allocate(m.kernel.ArrayClass, &object.ArrayPayload{Values: rest})
		f.Binding.SetLocal(base+declared, object.Boxed(obj))
	}
	return nil
}

// durationOf converts a timeout value: integers are milliseconds, floats are
// seconds.
func durationOf(v object.Value) (time.Duration, error) {
	if n, ok := object.IntValueOf(v); ok {
		if n < 0 {
			return 0, errors.New("durations cannot be negative")
		}
		return time.Duration(n) * time.Millisecond, nil
	}
	if obj := v.Object(); obj != nil {
		if fp, ok := obj.Payload().(*object.FloatPayload); ok {
			if fp.Value < 0 {
				return 0, errors.New("durations cannot be negative")
			}
			return time.Duration(fp.Value * float64(time.Second)), nil
		}
	}
	return 0, errors.New("durations must be integers or floats")
}

// makeShareable ensures a value may be referenced from shared structures
// (module globals, permanent objects): immediates and permanent objects pass
// through, anything else is deep-copied into the permanent space.
func (m *Machine) makeShareable(v object.Value) (object.Value, error) {
	if obj := v.Object(); obj != nil && !obj.IsPermanent() {
		return process.Copy(m.perm, v)
	}
	return v, nil
}

// lookupAttribute resolves an attribute read: the receiver's own table
// first, then the class chain through the per-site inline cache and the
// shared polymorphic cache.
func (m *Machine) lookupAttribute(code *bytecode.CodeObject, ip int, target object.Value, name *object.Symbol) (object.Value, bool) {
	if obj := target.Object(); obj != nil {
		if v, ok := obj.GetAttribute(name); ok {
			return v, true
		}
	}
	class := m.kernel.ClassOf(target)
	site := m.caches.siteCache(code, ip)
	return m.caches.lookupClassAttribute(site, class, name)
}

// integerOp executes one integer primitive. Values outside the immediate
// range route through math/big.
func (m *Machine) integerOp(p *process.Process, f *process.Frame, ins *bytecode.Instruction) bool {
	av := f.GetRegister(ins.Operand(1))
	bv := f.GetRegister(ins.Operand(2))

	ab, aok := object.BigOf(av)
	bb, bok := object.BigOf(bv)
	if !aok || !bok {
		m.panicProcess(p, "integer operations require integer operands")
		return false
	}

	switch ins.Opcode {
	case bytecode.OpIntegerSmaller:
		f.SetRegister(ins.Operand(0), object.Bool(ab.Cmp(bb) < 0))
		return true
	case bytecode.OpIntegerGreater:
		f.SetRegister(ins.Operand(0), object.Bool(ab.Cmp(bb) > 0))
		return true
	case bytecode.OpIntegerEquals:
		f.SetRegister(ins.Operand(0), object.Bool(ab.Cmp(bb) == 0))
		return true
	}

	result := new(big.Int)
	switch ins.Opcode {
	case bytecode.OpIntegerAdd:
		result.Add(ab, bb)
	case bytecode.OpIntegerSub:
		result.Sub(ab, bb)
	case bytecode.OpIntegerMul:
		result.Mul(ab, bb)
	case bytecode.OpIntegerDiv:
		if bb.Sign() == 0 {
			m.panicProcess(p, "integer division by zero")
			return false
		}
		result.Quo(ab, bb)
	case bytecode.OpIntegerMod:
		if bb.Sign() == 0 {
			m.panicProcess(p, "integer division by zero")
			return false
		}
		result.Rem(ab, bb)
	}

	m.maybeCollect(p)
	f.SetRegister(ins.Operand(0), p.Heap().AllocateBigInt(m.kernel.IntegerClass, result))
	return true
}

// describeValue renders a value for panic messages.
func (m *Machine) describeValue(v object.Value) string {
	switch {
	case v.IsNil():
		return "Nil"
	case v.IsUndefined():
		return "Undefined"
	case v.IsBool():
		return fmt.Sprintf("%t", v.Truthy())
	case v.IsSmallInt():
		return fmt.Sprintf("%d", v.SmallIntValue())
	}
	obj := v.Object()
	switch payload := obj.Payload().(type) {
	case *object.StringPayload:
		return payload.String()
	case *object.FloatPayload:
		return fmt.Sprintf("%g", payload.Value)
	case *object.BigIntPayload:
		return payload.Value.String()
	default:
		if c := obj.Class(); c != nil {
			return fmt.Sprintf("a %s", c.Name())
		}
		return "an Object"
	}
}

// ----- operand helpers -----
//
// Operand decoding failures are type/invariant violations and follow the
// panic policy; the helpers raise Go panics which ExecuteProcess converts.

func (m *Machine) classOperand(p *process.Process, f *process.Frame, r uint16) *object.Class {
	v := f.GetRegister(r)
	if v.IsNil() || v.IsUndefined() {
		return m.kernel.ObjectClass
	}
	if obj := v.Object(); obj != nil {
		if cp, ok := obj.Payload().(*object.ClassPayload); ok {
			return cp.Class
		}
	}
	panic("prototype register does not hold a class")
}

func (m *Machine) blockOperand(p *process.Process, f *process.Frame, r uint16) *object.BlockPayload {
	if obj := f.GetRegister(r).Object(); obj != nil {
		if bp, ok := obj.Payload().(*object.BlockPayload); ok {
			return bp
		}
	}
	panic("register does not hold a block")
}

func (m *Machine) arrayOperand(p *process.Process, f *process.Frame, r uint16) *object.ArrayPayload {
	if obj := f.GetRegister(r).Object(); obj != nil {
		if ap, ok := obj.Payload().(*object.ArrayPayload); ok {
			return ap
		}
	}
	panic("register does not hold an array")
}

func (m *Machine) processOperand(p *process.Process, f *process.Frame, r uint16) *process.Process {
	if obj := f.GetRegister(r).Object(); obj != nil {
		if pp, ok := obj.Payload().(*object.ProcessPayload); ok {
			if target, ok := pp.Handle.(*process.Process); ok {
				return target
			}
		}
	}
	panic("register does not hold a process")
}

func (m *Machine) generatorOperand(p *process.Process, f *process.Frame, r uint16) *process.Generator {
	if obj := f.GetRegister(r).Object(); obj != nil {
		if gp, ok := obj.Payload().(*object.GeneratorPayload); ok {
			if gen, ok := gp.State.(*process.Generator); ok {
				return gen
			}
		}
	}
	panic("register does not hold a generator")
}

// errnoOf extracts a syscall error number, for the thrown-integer I/O error
// convention.
func errnoOf(err error) (unix.Errno, bool) {
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
