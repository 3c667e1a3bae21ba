package vm

import (
	"fmt"
	"strings"

	"github.com/YorickPeterse/inko/process"
)

// formatStackTrace renders a process's call stack using the code objects'
// file and line tables, oldest frame first.
func formatStackTrace(p *process.Process) string {
	var frames []*process.Frame
	for f := p.Stack(); f != nil; f = f.Parent {
		frames = append(frames, f)
	}

	var b strings.Builder
	b.WriteString("Stack trace (the most recent call comes last):\n")
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		fmt.Fprintf(&b, "  %q, line %d, in %q\n",
			f.Code.File, f.Code.LineFor(f.IP), f.Code.Name)
	}
	return b.String()
}

// formatPanic renders the full panic report written to the error stream.
func formatPanic(p *process.Process, message string) string {
	var b strings.Builder
	b.WriteString(formatStackTrace(p))
	fmt.Fprintf(&b, "Process %d panicked: %s\n", p.Identifier(), message)
	return b.String()
}
