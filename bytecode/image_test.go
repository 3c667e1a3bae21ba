package bytecode

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// testImage builds a representative image touching every serialized field.
func testImage() *Image {
	return &Image{
		Version: ImageVersion,
		Strings: []string{"main", "main.inko", "helper", "ping"},
		Ints:    []int64{0, 42, -7},
		Floats:  []float64{0.05, 3.14},
		Modules: []Module{
			{NameLiteral: 0, CodeIndex: 0, GlobalsCount: 2},
		},
		Code: []*CodeObject{
			{
				Name: "main", File: "main.inko",
				NameLiteral: 0, FileLiteral: 1,
				Line: 1, Arity: 0, RequiredArguments: 0,
				Locals: 2, Registers: 8,
				Instructions: []Instruction{
					{Opcode: OpLoadInteger, Operands: []uint16{0, 1}},
					{Opcode: OpReturn, Operands: []uint16{0}},
				},
				CatchTable: []CatchEntry{{Start: 0, End: 1, Jump: 1, Register: 3}},
				LineTable:  []uint16{2, 3},
			},
			{
				Name: "helper", File: "main.inko",
				NameLiteral: 2, FileLiteral: 1,
				Line: 10, Arity: 2, RequiredArguments: 1, RestArgument: true,
				Generator: true,
				Locals:    3, Registers: 4,
				Instructions: []Instruction{
					{Opcode: OpLoadNil, Operands: []uint16{0}},
					{Opcode: OpReturn, Operands: []uint16{0}},
				},
				LineTable: []uint16{11, 12},
			},
		},
		EntryModule: 0,
	}
}

func TestImage_RoundTrip(t *testing.T) {
	t.Parallel()

	img := testImage()

	var first bytes.Buffer
	require.NoError(t, Dump(&first, img))

	loaded, err := Load(bytes.NewReader(first.Bytes()))
	require.NoError(t, err)

	// load → emit must reproduce the image byte-for-byte.
	var second bytes.Buffer
	require.NoError(t, Dump(&second, loaded))
	require.True(t, bytes.Equal(first.Bytes(), second.Bytes()),
		"dumped image differs from its source")

	require.Equal(t, img.Strings, loaded.Strings)
	require.Equal(t, img.Ints, loaded.Ints)
	require.Equal(t, img.Floats, loaded.Floats)
	require.Equal(t, img.Modules, loaded.Modules)
	require.Equal(t, img.EntryModule, loaded.EntryModule)

	require.Len(t, loaded.Code, 2)
	require.Equal(t, "main", loaded.Code[0].Name)
	require.Equal(t, "main.inko", loaded.Code[0].File)
	require.True(t, loaded.Code[1].Generator)
	require.True(t, loaded.Code[1].RestArgument)
	require.Equal(t, img.Code[0].Instructions, loaded.Code[0].Instructions)
	require.Equal(t, img.Code[0].CatchTable, loaded.Code[0].CatchTable)
	require.Equal(t, img.Code[0].LineTable, loaded.Code[0].LineTable)
}

func TestImage_DumpFileRoundTrip(t *testing.T) {
	t.Parallel()

	img := testImage()
	path := filepath.Join(t.TempDir(), "program.ibi")
	require.NoError(t, DumpFile(path, img))

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, img.Strings, loaded.Strings)
}

func TestImage_LoadRejectsBadMagic(t *testing.T) {
	t.Parallel()

	_, err := Load(bytes.NewReader([]byte("nope....")))
	require.ErrorIs(t, err, ErrInvalidMagic)
}

func TestImage_LoadRejectsTruncation(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, testImage()))

	raw := buf.Bytes()
	_, err := Load(bytes.NewReader(raw[:len(raw)-3]))
	require.ErrorIs(t, err, ErrImageTruncated)
}

func TestImage_LoadRejectsUnknownVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	img := testImage()
	img.Version = 99
	require.NoError(t, Dump(&buf, img))

	_, err := Load(bytes.NewReader(buf.Bytes()))
	require.ErrorIs(t, err, ErrVersionUnsupported)
}

func TestCodeObject_CatchEntryFor(t *testing.T) {
	t.Parallel()

	code := &CodeObject{
		Instructions: make([]Instruction, 10),
		CatchTable: []CatchEntry{
			{Start: 0, End: 8, Jump: 9, Register: 0},
			{Start: 2, End: 5, Jump: 6, Register: 1},
		},
	}

	t.Run("innermost entry wins", func(t *testing.T) {
		t.Parallel()
		e := code.CatchEntryFor(3)
		require.NotNil(t, e)
		require.Equal(t, uint16(1), e.Register)
	})

	t.Run("outer range still covered", func(t *testing.T) {
		t.Parallel()
		e := code.CatchEntryFor(6)
		require.NotNil(t, e)
		require.Equal(t, uint16(0), e.Register)
	})

	t.Run("outside every range", func(t *testing.T) {
		t.Parallel()
		require.Nil(t, code.CatchEntryFor(9))
	})
}

func TestCodeObject_LineFor(t *testing.T) {
	t.Parallel()

	code := &CodeObject{Line: 7, LineTable: []uint16{1, 2}}
	require.Equal(t, uint16(2), code.LineFor(1))
	require.Equal(t, uint16(7), code.LineFor(5))
}
