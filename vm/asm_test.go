package vm

import (
	"github.com/YorickPeterse/inko/bytecode"
)

// asm builds bytecode images for tests, managing the literal pools.
type asm struct {
	img     *bytecode.Image
	strings map[string]uint16
	ints    map[int64]uint16
	floats  map[float64]uint16
}

func newASM() *asm {
	return &asm{
		img:     &bytecode.Image{Version: bytecode.ImageVersion},
		strings: make(map[string]uint16),
		ints:    make(map[int64]uint16),
		floats:  make(map[float64]uint16),
	}
}

func (a *asm) str(s string) uint16 {
	if i, ok := a.strings[s]; ok {
		return i
	}
	i := uint16(len(a.img.Strings))
	a.img.Strings = append(a.img.Strings, s)
	a.strings[s] = i
	return i
}

func (a *asm) int64(v int64) uint16 {
	if i, ok := a.ints[v]; ok {
		return i
	}
	i := uint16(len(a.img.Ints))
	a.img.Ints = append(a.img.Ints, v)
	a.ints[v] = i
	return i
}

func (a *asm) float(v float64) uint16 {
	if i, ok := a.floats[v]; ok {
		return i
	}
	i := uint16(len(a.img.Floats))
	a.img.Floats = append(a.img.Floats, v)
	a.floats[v] = i
	return i
}

// code registers a code object and returns its index for SetBlock operands.
func (a *asm) code(name string, locals, registers uint16, instructions []bytecode.Instruction, catch ...bytecode.CatchEntry) uint16 {
	return a.codeInFile("test.inko", name, locals, registers, instructions, catch...)
}

// codeInFile is code with an explicit file name, for trace assertions.
func (a *asm) codeInFile(file, name string, locals, registers uint16, instructions []bytecode.Instruction, catch ...bytecode.CatchEntry) uint16 {
	lines := make([]uint16, len(instructions))
	for i := range lines {
		lines[i] = uint16(i + 1)
	}
	c := &bytecode.CodeObject{
		Name:         name,
		File:         file,
		NameLiteral:  uint32(a.str(name)),
		FileLiteral:  uint32(a.str(file)),
		Line:         1,
		Locals:       locals,
		Registers:    registers,
		Instructions: instructions,
		CatchTable:   catch,
		LineTable:    lines,
	}
	a.img.Code = append(a.img.Code, c)
	return uint16(len(a.img.Code) - 1)
}

// build finalises the image with a single module whose body is mainCode.
func (a *asm) build(mainCode uint16, globals uint16) *bytecode.Image {
	a.img.Modules = []bytecode.Module{{
		NameLiteral:  uint32(a.str("main")),
		CodeIndex:    uint32(mainCode),
		GlobalsCount: globals,
	}}
	a.img.EntryModule = 0
	return a.img
}

// ins builds one instruction.
func ins(op bytecode.Opcode, operands ...uint16) bytecode.Instruction {
	return bytecode.Instruction{Opcode: op, Operands: operands}
}
