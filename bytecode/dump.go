package bytecode

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"

	"github.com/google/renameio/v2"
)

// Dump writes the image in the on-disk format.
//
// A loaded image dumps byte-for-byte identical to its source: field order and
// widths mirror Load exactly, and string/file references are emitted from the
// retained literal indices rather than the resolved strings.
func Dump(w io.Writer, img *Image) error {
	e := &encoder{w: w}

	e.bytes(imageMagic[:])
	e.u32(img.Version)

	e.u32(uint32(len(img.Strings)))
	for _, s := range img.Strings {
		e.str(s)
	}

	e.u32(uint32(len(img.Ints)))
	for _, v := range img.Ints {
		e.i64(v)
	}

	e.u32(uint32(len(img.Floats)))
	for _, v := range img.Floats {
		e.f64(v)
	}

	e.u32(uint32(len(img.Modules)))
	for _, m := range img.Modules {
		e.u32(m.NameLiteral)
		e.u32(m.CodeIndex)
		e.u16(m.GlobalsCount)
	}

	e.u32(uint32(len(img.Code)))
	for _, c := range img.Code {
		e.code(c)
	}

	e.u32(img.EntryModule)
	return e.err
}

// DumpFile atomically writes the image to path.
func DumpFile(path string, img *Image) error {
	t, err := renameio.TempFile("", path)
	if err != nil {
		return err
	}
	defer t.Cleanup()

	bw := bufio.NewWriter(t)
	if err := Dump(bw, img); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return t.CloseAtomicallyReplace()
}

func (e *encoder) code(c *CodeObject) {
	e.u32(c.NameLiteral)
	e.u32(c.FileLiteral)
	e.u16(c.Line)
	e.u8(c.Arity)
	e.u8(c.RequiredArguments)

	var flags uint8
	if c.RestArgument {
		flags |= 1
	}
	if c.Generator {
		flags |= 2
	}
	e.u8(flags)

	e.u16(c.Locals)
	e.u16(c.Registers)

	e.u32(uint32(len(c.Instructions)))
	for i := range c.Instructions {
		ins := &c.Instructions[i]
		e.u8(uint8(ins.Opcode))
		e.u8(uint8(len(ins.Operands)))
		for _, o := range ins.Operands {
			e.u16(o)
		}
	}

	e.u16(uint16(len(c.CatchTable)))
	for _, entry := range c.CatchTable {
		e.u16(entry.Start)
		e.u16(entry.End)
		e.u16(entry.Jump)
		e.u16(entry.Register)
	}

	e.u32(uint32(len(c.LineTable)))
	for _, l := range c.LineTable {
		e.u16(l)
	}
}

// encoder writes little-endian image fields, latching the first error.
type encoder struct {
	w   io.Writer
	err error
	buf [8]byte
}

func (e *encoder) bytes(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

func (e *encoder) u8(v uint8) {
	e.buf[0] = v
	e.bytes(e.buf[:1])
}

func (e *encoder) u16(v uint16) {
	binary.LittleEndian.PutUint16(e.buf[:2], v)
	e.bytes(e.buf[:2])
}

func (e *encoder) u32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:4], v)
	e.bytes(e.buf[:4])
}

func (e *encoder) i64(v int64) {
	binary.LittleEndian.PutUint64(e.buf[:8], uint64(v))
	e.bytes(e.buf[:8])
}

func (e *encoder) f64(v float64) {
	binary.LittleEndian.PutUint64(e.buf[:8], math.Float64bits(v))
	e.bytes(e.buf[:8])
}

func (e *encoder) str(s string) {
	e.u32(uint32(len(s)))
	e.bytes([]byte(s))
}
