package vm

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/YorickPeterse/inko/bytecode"
	"github.com/YorickPeterse/inko/heap"
	"github.com/YorickPeterse/inko/object"
	"github.com/YorickPeterse/inko/process"
	"github.com/YorickPeterse/inko/reactor"
)

// instrSpawn implements ProcessSpawn: a new process with a fresh heap and a
// single frame executing the block, pushed to the scheduler. The block is
// deep-copied into the child's heap, so no reference crosses the boundary.
func (m *Machine) instrSpawn(p *process.Process, f *process.Frame, dst uint16, blockVal object.Value) (stepResult, bool) {
	if obj := blockVal.Object(); obj == nil || obj.Payload() == nil || obj.Payload().Kind() != object.KindBlock {
		m.panicProcess(p, "spawn requires a block")
		return stepTerminated, false
	}

	childHeap := heap.New(m.config.heapConfig(), m.finalizers, m.log)

	copied, err := process.Copy(childHeap, blockVal)
	if err != nil {
		m.panicProcess(p, fmt.Sprintf("spawn block cannot be copied: %v", err))
		return stepTerminated, false
	}
	payload, ok := copied.Object().Payload().(*object.BlockPayload)
	if !ok {
		m.panicProcess(p, "spawn requires a block")
		return stepTerminated, false
	}

	child := m.table.Allocate(func(id uint64) *process.Process {
		return process.New(id, childHeap, payload)
	})

	handle := p.Heap().Allocate(m.kernel.ProcessClass, &object.ProcessPayload{Handle: child})
	f.SetRegister(dst, object.Boxed(handle))

	m.sched.Schedule(child)
	return 0, true
}

// instrSend implements ProcessSendMessage: deep-copy the message into an
// arena bound for the receiver's mailbox, then wake the receiver if it is
// blocked on receive. Sends to terminated processes are dropped.
func (m *Machine) instrSend(p *process.Process, f *process.Frame, procReg, msgReg uint16) (stepResult, bool) {
	target := m.processOperand(p, f, procReg)
	if target.Terminated() {
		return 0, true
	}

	arena := heap.NewArena()
	copied, err := process.Copy(arena, f.GetRegister(msgReg))
	if err != nil {
		m.panicProcess(p, fmt.Sprintf("message cannot be copied: %v", err))
		return stepTerminated, false
	}

	target.Mailbox().Push(copied)

	// Exactly one waker wins the transition; the receiver may also already
	// be runnable, in which case it will drain the mailbox on its own.
	if target.TryTransition(process.StateWaitingMessage, process.StateRunnable) {
		m.sched.Schedule(target)
	}
	return 0, true
}

// receiveAction tells the dispatch loop how a receive attempt resolved.
type receiveAction uint8

const (
	// receiveGotMessage: dst holds the message, advance.
	receiveGotMessage receiveAction = iota
	// receiveRetry: the frame changed (timeout throw was caught) or the
	// process won its state back; re-enter the dispatch loop.
	receiveRetry
	// receiveParked: the process is waiting; yield the worker.
	receiveParked
	// receiveFailed: the process panicked.
	receiveFailed
)

// instrReceive implements ProcessReceiveMessage: dequeue the head message,
// copying it from its arena into the local heap; when the mailbox is empty,
// park in WaitingMessage (arming a timer first when a timeout was given) and
// retry the same instruction on wake-up.
func (m *Machine) instrReceive(p *process.Process, f *process.Frame, ins *bytecode.Instruction, boundary *process.Frame) (stepResult, receiveAction) {
	dst := ins.Operand(0)

	m.maybeCollect(p)
	if msg, ok := p.Mailbox().Pop(); ok {
		p.CancelTimer()
		p.ConsumeTimedOut()
		v, err := process.Copy(p.Heap(), msg)
		if err != nil {
			// Deep-copy failure on receive panics the receiver.
			m.panicProcess(p, fmt.Sprintf("message cannot be received: %v", err))
			return stepTerminated, receiveFailed
		}
		f.SetRegister(dst, v)
		return 0, receiveGotMessage
	}

	if p.ConsumeTimedOut() {
		p.CancelTimer()
		switch m.throwValue(p, m.timeout, boundary) {
		case throwCaught:
			return 0, receiveRetry
		default:
			return stepTerminated, receiveFailed
		}
	}

	if boundary != nil {
		m.panicProcess(p, "cannot receive inside a deferred block")
		return stepTerminated, receiveFailed
	}

	// Arm the timeout before publishing the waiting state: once the state
	// is visible, another thread may schedule this process and the owning
	// worker must not touch it again.
	timeoutVal := f.GetRegister(ins.Operand(1))
	if !timeoutVal.IsNil() && !timeoutVal.IsUndefined() {
		d, err := durationOf(timeoutVal)
		if err != nil {
			m.panicProcess(p, err.Error())
			return stepTerminated, receiveFailed
		}
		t := m.reactor.ScheduleTimer(p, d, process.StateWaitingMessage, true)
		p.SetTimer(t)
	}

	p.SetState(process.StateWaitingMessage)

	// Lost-wakeup check: a sender may have pushed between the failed pop
	// and the state store, with its CAS failing against Running. Win the
	// state back and retry; losing means the sender's wake-up is already
	// in flight.
	if p.Mailbox().Len() > 0 {
		if p.TryTransition(process.StateWaitingMessage, process.StateRunning) {
			return 0, receiveRetry
		}
	}
	return stepWait, receiveParked
}

// fileAction tells the dispatch loop how a file instruction resolved.
type fileAction uint8

const (
	// fileOK: success, advance.
	fileOK fileAction = iota
	// fileThrown: an I/O error was thrown and caught; re-enter the loop.
	fileThrown
	// fileParked: the process waits for fd readiness.
	fileParked
	// fileFailed: the process panicked.
	fileFailed
)

// instrFile implements the file instructions. Errors are delivered as
// thrown integer codes (errno), which the standard library wraps; calls
// that would block on a non-blocking descriptor park the process in the
// reactor and retry on readiness.
func (m *Machine) instrFile(p *process.Process, f *process.Frame, ins *bytecode.Instruction, boundary *process.Frame) (stepResult, fileAction) {
	switch ins.Opcode {
	case bytecode.OpFileOpen:
		m.maybeCollect(p)
		pathVal := f.GetRegister(ins.Operand(1))
		pathObj := pathVal.Object()
		sp, ok := pathObj.Payload().(*object.StringPayload)
		if !ok {
			m.panicProcess(p, "file paths must be strings")
			return stepTerminated, fileFailed
		}
		mode := m.image.Strings[ins.Operand(2)]
		flags, perm, err := openFlags(mode)
		if err != nil {
			m.panicProcess(p, err.Error())
			return stepTerminated, fileFailed
		}
		fd, err := unix.Open(sp.String(), flags, perm)
		if err != nil {
			return m.throwErrno(p, err, boundary)
		}
		obj := p.Heap().Allocate(m.kernel.FileClass, &object.FilePayload{Fd: fd, Path: sp.String()})
		f.SetRegister(ins.Operand(0), object.Boxed(obj))
		return 0, fileOK

	case bytecode.OpFileRead:
		file := m.fileOperand(p, f, ins.Operand(1))
		size, _ := object.IntValueOf(f.GetRegister(ins.Operand(2)))
		if size <= 0 {
			size = 4096
		}
		buf := make([]byte, size)
		n, err := unix.Read(file.Fd, buf)
		if err != nil {
			if errno, ok := errnoOf(err); ok && errno == unix.EAGAIN {
				return m.parkForIO(p, file.Fd, reactor.InterestRead, boundary)
			}
			return m.throwErrno(p, err, boundary)
		}
		m.maybeCollect(p)
		obj := p.Heap().Allocate(m.kernel.ByteArrayClass, &object.BytesPayload{Bytes: buf[:n]})
		f.SetRegister(ins.Operand(0), object.Boxed(obj))
		return 0, fileOK

	case bytecode.OpFileWrite:
		file := m.fileOperand(p, f, ins.Operand(1))
		data, ok := byteOperand(f.GetRegister(ins.Operand(2)))
		if !ok {
			m.panicProcess(p, "file writes require strings or byte arrays")
			return stepTerminated, fileFailed
		}
		n, err := unix.Write(file.Fd, data)
		if err != nil {
			if errno, ok := errnoOf(err); ok && errno == unix.EAGAIN {
				return m.parkForIO(p, file.Fd, reactor.InterestWrite, boundary)
			}
			return m.throwErrno(p, err, boundary)
		}
		written, _ := object.SmallInt(int64(n))
		f.SetRegister(ins.Operand(0), written)
		return 0, fileOK

	case bytecode.OpFileClose:
		file := m.fileOperand(p, f, ins.Operand(0))
		_ = file.Finalize()
		return 0, fileOK
	}

	m.panicProcess(p, "unreachable file instruction")
	return stepTerminated, fileFailed
}

// parkForIO transitions to WaitingIO and registers the fd with the reactor.
// The instruction pointer is not advanced: the instruction retries on wake.
func (m *Machine) parkForIO(p *process.Process, fd int, interest reactor.Interest, boundary *process.Frame) (stepResult, fileAction) {
	if boundary != nil {
		m.panicProcess(p, "cannot block on I/O inside a deferred block")
		return stepTerminated, fileFailed
	}
	p.SetState(process.StateWaitingIO)
	if err := m.reactor.AwaitIO(p, fd, interest); err != nil {
		// Registration failed: win the state back and surface the error.
		if p.TryTransition(process.StateWaitingIO, process.StateRunning) {
			return m.throwErrno(p, err, boundary)
		}
		return stepWait, fileParked
	}
	return stepWait, fileParked
}

// throwErrno throws an I/O error as its integer code.
func (m *Machine) throwErrno(p *process.Process, err error, boundary *process.Frame) (stepResult, fileAction) {
	errno, ok := errnoOf(err)
	if !ok {
		m.panicProcess(p, err.Error())
		return stepTerminated, fileFailed
	}
	code, _ := object.SmallInt(int64(errno))
	switch m.throwValue(p, code, boundary) {
	case throwCaught:
		return 0, fileThrown
	default:
		return stepTerminated, fileFailed
	}
}

func (m *Machine) fileOperand(p *process.Process, f *process.Frame, r uint16) *object.FilePayload {
	if obj := f.GetRegister(r).Object(); obj != nil {
		if fp, ok := obj.Payload().(*object.FilePayload); ok {
			return fp
		}
	}
	panic("register does not hold a file")
}

// byteOperand extracts writable bytes from a string or byte array.
func byteOperand(v object.Value) ([]byte, bool) {
	obj := v.Object()
	if obj == nil {
		return nil, false
	}
	switch p := obj.Payload().(type) {
	case *object.StringPayload:
		return p.Bytes, true
	case *object.BytesPayload:
		return p.Bytes, true
	default:
		return nil, false
	}
}

// openFlags maps a mode string to open(2) flags.
func openFlags(mode string) (int, uint32, error) {
	switch mode {
	case "read":
		return unix.O_RDONLY, 0, nil
	case "write":
		return unix.O_WRONLY | unix.O_CREAT | unix.O_TRUNC, 0o644, nil
	case "append":
		return unix.O_WRONLY | unix.O_CREAT | unix.O_APPEND, 0o644, nil
	case "read+write":
		return unix.O_RDWR | unix.O_CREAT, 0o644, nil
	default:
		return 0, 0, fmt.Errorf("unknown file mode %q", mode)
	}
}
