package bytecode

import "fmt"

// Opcode identifies a single VM instruction.
//
// Operand meanings are documented per opcode. All operands are register
// indices unless stated otherwise; "lit" operands index one of the image
// literal tables, "ip" operands are absolute instruction offsets within the
// current code object.
type Opcode uint8

const (
	// OpAllocate allocates a young object: dst, prototype.
	OpAllocate Opcode = iota
	// OpAllocatePermanent allocates a permanent object: dst, prototype.
	OpAllocatePermanent
	// OpAllocateArray collects a register window into a new array:
	// dst, start, count.
	OpAllocateArray
	// OpGeneratorAllocate captures a block as a suspendable generator:
	// dst, block.
	OpGeneratorAllocate

	// OpLoadString loads a string literal: dst, lit.
	OpLoadString
	// OpLoadInteger loads an integer literal: dst, lit.
	OpLoadInteger
	// OpLoadFloat loads a float literal: dst, lit.
	OpLoadFloat
	// OpLoadNil stores the nil singleton: dst.
	OpLoadNil
	// OpLoadTrue stores the true singleton: dst.
	OpLoadTrue
	// OpLoadFalse stores the false singleton: dst.
	OpLoadFalse
	// OpLoadUndefined stores the undefined singleton: dst.
	OpLoadUndefined
	// OpMoveRegister copies a register: dst, src.
	OpMoveRegister

	// OpSetLocal writes a frame local: local, src.
	OpSetLocal
	// OpGetLocal reads a frame local: dst, local.
	OpGetLocal
	// OpSetParentLocal writes a local in an enclosing binding:
	// local, depth, src.
	OpSetParentLocal
	// OpGetParentLocal reads a local in an enclosing binding:
	// dst, depth, local.
	OpGetParentLocal
	// OpLocalExists tests whether a local has been assigned: dst, local.
	OpLocalExists

	// OpGetGlobal reads a module global: dst, global.
	OpGetGlobal
	// OpSetGlobal writes a module global: global, src.
	OpSetGlobal
	// OpSetAttribute writes an object attribute: target, name lit, src.
	OpSetAttribute
	// OpGetAttribute reads an attribute via the prototype chain:
	// dst, target, name lit.
	OpGetAttribute
	// OpGetPrototype reads the prototype of a value: dst, src.
	OpGetPrototype
	// OpObjectEquals compares two values per prototype semantics: dst, a, b.
	OpObjectEquals

	// OpGoto jumps unconditionally: ip.
	OpGoto
	// OpGotoIfTrue jumps when the condition is truthy: ip, cond.
	OpGotoIfTrue
	// OpGotoIfFalse jumps when the condition is falsy: ip, cond.
	OpGotoIfFalse
	// OpReturn returns from the current frame: src.
	OpReturn

	// OpSetBlock materialises a block closing over the current binding:
	// dst, code index.
	OpSetBlock
	// OpRunBlock invokes a block: dst, block, argc, args...
	OpRunBlock
	// OpRunBlockWithReceiver invokes a block with a bound receiver:
	// dst, block, receiver, argc, args...
	OpRunBlockWithReceiver
	// OpTailCall replaces the current frame with a block invocation:
	// block, argc, args...
	OpTailCall
	// OpExternalFunctionCall invokes a registered foreign function:
	// dst, name lit, argc, args...
	OpExternalFunctionCall

	// OpThrow raises a value, unwinding to the closest catch entry: src.
	OpThrow
	// OpPanic terminates the whole VM with a stack trace: src.
	OpPanic
	// OpDefer pushes a block onto the current frame's deferred stack: block.
	OpDefer

	// OpIntegerAdd..OpIntegerEquals are the integer primitives: dst, a, b.
	OpIntegerAdd
	OpIntegerSub
	OpIntegerMul
	OpIntegerDiv
	OpIntegerMod
	OpIntegerSmaller
	OpIntegerGreater
	OpIntegerEquals

	// OpArrayAt reads an array element: dst, array, index.
	OpArrayAt
	// OpArraySet writes an array element, growing by one when index equals
	// the current length: dst, array, index, value.
	OpArraySet
	// OpArrayLength reads the element count: dst, array.
	OpArrayLength

	// OpProcessSpawn spawns a new process executing a block: dst, block.
	OpProcessSpawn
	// OpProcessSendMessage deep-copies a message into another process's
	// mailbox: process, message.
	OpProcessSendMessage
	// OpProcessReceiveMessage dequeues the next message, suspending when the
	// mailbox is empty: dst, timeout (register holding nil, an integer
	// number of milliseconds, or a float number of seconds).
	OpProcessReceiveMessage
	// OpProcessSuspendCurrent suspends the running process: duration
	// (register holding nil for a bare yield, an integer number of
	// milliseconds, or a float number of seconds).
	OpProcessSuspendCurrent
	// OpProcessTerminateCurrent terminates the running process.
	OpProcessTerminateCurrent
	// OpProcessCurrent stores a handle to the running process: dst.
	OpProcessCurrent
	// OpProcessIdentifier reads a process identifier: dst, process.
	OpProcessIdentifier
	// OpProcessSetBlocking toggles blocking-pool residency, storing the
	// previous flag: dst, flag.
	OpProcessSetBlocking
	// OpProcessSetPinned toggles worker pinning, storing the previous flag:
	// dst, flag.
	OpProcessSetPinned

	// OpGeneratorResume resumes a generator until it yields or finishes,
	// storing true when a value was yielded: dst, generator.
	OpGeneratorResume
	// OpGeneratorValue reads the most recently yielded value: dst, generator.
	OpGeneratorValue
	// OpGeneratorYield suspends the generator frame with a value: src.
	OpGeneratorYield

	// OpFileOpen opens a file: dst, path, mode (lit index of mode string).
	OpFileOpen
	// OpFileRead reads up to size bytes: dst, file, size.
	OpFileRead
	// OpFileWrite writes a string or byte array: dst, file, src.
	OpFileWrite
	// OpFileClose closes a file: file.
	OpFileClose

	// OpPlatform stores the platform identifier string: dst.
	OpPlatform
	// OpExit terminates the VM with an explicit status: status.
	OpExit

	opcodeCount
)

var opcodeNames = [...]string{
	OpAllocate:                "Allocate",
	OpAllocatePermanent:       "AllocatePermanent",
	OpAllocateArray:           "AllocateArray",
	OpGeneratorAllocate:       "GeneratorAllocate",
	OpLoadString:              "LoadString",
	OpLoadInteger:             "LoadInteger",
	OpLoadFloat:               "LoadFloat",
	OpLoadNil:                 "LoadNil",
	OpLoadTrue:                "LoadTrue",
	OpLoadFalse:               "LoadFalse",
	OpLoadUndefined:           "LoadUndefined",
	OpMoveRegister:            "MoveRegister",
	OpSetLocal:                "SetLocal",
	OpGetLocal:                "GetLocal",
	OpSetParentLocal:          "SetParentLocal",
	OpGetParentLocal:          "GetParentLocal",
	OpLocalExists:             "LocalExists",
	OpGetGlobal:               "GetGlobal",
	OpSetGlobal:               "SetGlobal",
	OpSetAttribute:            "SetAttribute",
	OpGetAttribute:            "GetAttribute",
	OpGetPrototype:            "GetPrototype",
	OpObjectEquals:            "ObjectEquals",
	OpGoto:                    "Goto",
	OpGotoIfTrue:              "GotoIfTrue",
	OpGotoIfFalse:             "GotoIfFalse",
	OpReturn:                  "Return",
	OpSetBlock:                "SetBlock",
	OpRunBlock:                "RunBlock",
	OpRunBlockWithReceiver:    "RunBlockWithReceiver",
	OpTailCall:                "TailCall",
	OpExternalFunctionCall:    "ExternalFunctionCall",
	OpThrow:                   "Throw",
	OpPanic:                   "Panic",
	OpDefer:                   "Defer",
	OpIntegerAdd:              "IntegerAdd",
	OpIntegerSub:              "IntegerSub",
	OpIntegerMul:              "IntegerMul",
	OpIntegerDiv:              "IntegerDiv",
	OpIntegerMod:              "IntegerMod",
	OpIntegerSmaller:          "IntegerSmaller",
	OpIntegerGreater:          "IntegerGreater",
	OpIntegerEquals:           "IntegerEquals",
	OpArrayAt:                 "ArrayAt",
	OpArraySet:                "ArraySet",
	OpArrayLength:             "ArrayLength",
	OpProcessSpawn:            "ProcessSpawn",
	OpProcessSendMessage:      "ProcessSendMessage",
	OpProcessReceiveMessage:   "ProcessReceiveMessage",
	OpProcessSuspendCurrent:   "ProcessSuspendCurrent",
	OpProcessTerminateCurrent: "ProcessTerminateCurrent",
	OpProcessCurrent:          "ProcessCurrent",
	OpProcessIdentifier:       "ProcessIdentifier",
	OpProcessSetBlocking:      "ProcessSetBlocking",
	OpProcessSetPinned:        "ProcessSetPinned",
	OpGeneratorResume:         "GeneratorResume",
	OpGeneratorValue:          "GeneratorValue",
	OpGeneratorYield:          "GeneratorYield",
	OpFileOpen:                "FileOpen",
	OpFileRead:                "FileRead",
	OpFileWrite:               "FileWrite",
	OpFileClose:               "FileClose",
	OpPlatform:                "Platform",
	OpExit:                    "Exit",
}

// String returns the mnemonic for the opcode.
func (op Opcode) String() string {
	if int(op) < len(opcodeNames) && opcodeNames[op] != "" {
		return opcodeNames[op]
	}
	return fmt.Sprintf("Opcode(%d)", uint8(op))
}

// Valid reports whether the opcode is part of the instruction set.
func (op Opcode) Valid() bool {
	return op < opcodeCount
}
