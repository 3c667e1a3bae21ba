package bytecode

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

// Image format version understood by this VM.
const ImageVersion uint32 = 1

// imageMagic is the leading magic of every bytecode image.
var imageMagic = [4]byte{'i', 'n', 'k', 'o'}

// Standard errors.
var (
	ErrInvalidMagic       = errors.New("bytecode: invalid image magic")
	ErrVersionUnsupported = errors.New("bytecode: unsupported image version")
	ErrImageTruncated     = errors.New("bytecode: image truncated")
	ErrImageMalformed     = errors.New("bytecode: image malformed")
)

// Image is a fully loaded bytecode image.
//
// Literal tables are global to the image; instruction operands index into
// them. The image is immutable once loaded.
type Image struct {
	Version uint32

	Strings []string
	Ints    []int64
	Floats  []float64

	Modules []Module
	Code    []*CodeObject

	EntryModule uint32
}

// EntryCode returns the code object of the entry module.
func (img *Image) EntryCode() (*CodeObject, error) {
	if int(img.EntryModule) >= len(img.Modules) {
		return nil, fmt.Errorf("%w: entry module %d out of range", ErrImageMalformed, img.EntryModule)
	}
	idx := img.Modules[img.EntryModule].CodeIndex
	if int(idx) >= len(img.Code) {
		return nil, fmt.Errorf("%w: entry code object %d out of range", ErrImageMalformed, idx)
	}
	return img.Code[idx], nil
}

// LoadFile reads and parses a bytecode image from a file.
func LoadFile(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(bufio.NewReader(f))
}

// Load reads and parses a bytecode image.
func Load(r io.Reader) (*Image, error) {
	d := &decoder{r: r}

	var magic [4]byte
	d.bytes(magic[:])
	if d.err == nil && magic != imageMagic {
		return nil, ErrInvalidMagic
	}

	img := &Image{Version: d.u32()}
	if d.err == nil && img.Version != ImageVersion {
		return nil, fmt.Errorf("%w: version %d", ErrVersionUnsupported, img.Version)
	}

	img.Strings = make([]string, d.u32())
	for i := range img.Strings {
		img.Strings[i] = d.str()
	}

	img.Ints = make([]int64, d.u32())
	for i := range img.Ints {
		img.Ints[i] = d.i64()
	}

	img.Floats = make([]float64, d.u32())
	for i := range img.Floats {
		img.Floats[i] = d.f64()
	}

	img.Modules = make([]Module, d.u32())
	for i := range img.Modules {
		img.Modules[i] = Module{
			NameLiteral:  d.u32(),
			CodeIndex:    d.u32(),
			GlobalsCount: d.u16(),
		}
	}

	img.Code = make([]*CodeObject, d.u32())
	for i := range img.Code {
		img.Code[i] = d.code(img)
	}

	img.EntryModule = d.u32()

	if d.err != nil {
		return nil, d.err
	}
	return img, d.validate(img)
}

// code decodes a single code object.
func (d *decoder) code(img *Image) *CodeObject {
	c := &CodeObject{
		NameLiteral: d.u32(),
		FileLiteral: d.u32(),
		Line:        d.u16(),
	}
	c.Arity = d.u8()
	c.RequiredArguments = d.u8()

	flags := d.u8()
	c.RestArgument = flags&1 != 0
	c.Generator = flags&2 != 0

	c.Locals = d.u16()
	c.Registers = d.u16()

	c.Instructions = make([]Instruction, d.u32())
	for i := range c.Instructions {
		op := Opcode(d.u8())
		operands := make([]uint16, d.u8())
		for j := range operands {
			operands[j] = d.u16()
		}
		c.Instructions[i] = Instruction{Opcode: op, Operands: operands}
	}

	c.CatchTable = make([]CatchEntry, d.u16())
	for i := range c.CatchTable {
		c.CatchTable[i] = CatchEntry{
			Start:    d.u16(),
			End:      d.u16(),
			Jump:     d.u16(),
			Register: d.u16(),
		}
	}

	c.LineTable = make([]uint16, d.u32())
	for i := range c.LineTable {
		c.LineTable[i] = d.u16()
	}

	if d.err == nil {
		if int(c.NameLiteral) < len(img.Strings) {
			c.Name = img.Strings[c.NameLiteral]
		}
		if int(c.FileLiteral) < len(img.Strings) {
			c.File = img.Strings[c.FileLiteral]
		}
	}
	return c
}

// validate performs structural checks the interpreter relies on.
func (d *decoder) validate(img *Image) error {
	for _, m := range img.Modules {
		if int(m.CodeIndex) >= len(img.Code) {
			return fmt.Errorf("%w: module code index %d out of range", ErrImageMalformed, m.CodeIndex)
		}
		if int(m.NameLiteral) >= len(img.Strings) {
			return fmt.Errorf("%w: module name literal %d out of range", ErrImageMalformed, m.NameLiteral)
		}
	}
	if int(img.EntryModule) >= len(img.Modules) {
		return fmt.Errorf("%w: entry module %d out of range", ErrImageMalformed, img.EntryModule)
	}
	for _, c := range img.Code {
		if int(c.NameLiteral) >= len(img.Strings) || int(c.FileLiteral) >= len(img.Strings) {
			return fmt.Errorf("%w: code object literal out of range", ErrImageMalformed)
		}
		for i := range c.Instructions {
			if !c.Instructions[i].Opcode.Valid() {
				return fmt.Errorf("%w: unknown opcode %d", ErrImageMalformed, c.Instructions[i].Opcode)
			}
		}
		for _, e := range c.CatchTable {
			if int(e.Start) > len(c.Instructions) || int(e.End) > len(c.Instructions) || e.Start > e.End {
				return fmt.Errorf("%w: catch range [%d, %d) out of bounds", ErrImageMalformed, e.Start, e.End)
			}
			if int(e.Jump) >= len(c.Instructions) {
				return fmt.Errorf("%w: catch jump %d out of bounds", ErrImageMalformed, e.Jump)
			}
		}
	}
	return nil
}

// decoder reads little-endian image fields, latching the first error.
type decoder struct {
	r   io.Reader
	err error
	buf [8]byte
}

func (d *decoder) bytes(p []byte) {
	if d.err != nil {
		return
	}
	if _, err := io.ReadFull(d.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			err = ErrImageTruncated
		}
		d.err = err
	}
}

func (d *decoder) u8() uint8 {
	d.bytes(d.buf[:1])
	return d.buf[0]
}

func (d *decoder) u16() uint16 {
	d.bytes(d.buf[:2])
	return binary.LittleEndian.Uint16(d.buf[:2])
}

func (d *decoder) u32() uint32 {
	d.bytes(d.buf[:4])
	return binary.LittleEndian.Uint32(d.buf[:4])
}

func (d *decoder) i64() int64 {
	d.bytes(d.buf[:8])
	return int64(binary.LittleEndian.Uint64(d.buf[:8]))
}

func (d *decoder) f64() float64 {
	d.bytes(d.buf[:8])
	return math.Float64frombits(binary.LittleEndian.Uint64(d.buf[:8]))
}

func (d *decoder) str() string {
	n := d.u32()
	if d.err != nil {
		return ""
	}
	p := make([]byte, n)
	d.bytes(p)
	return string(p)
}
