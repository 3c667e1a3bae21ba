// Command inko runs a bytecode image on the virtual machine.
//
// Usage:
//
//	inko IMAGE [ARGS...]
//
// The first positional argument is the path to the bytecode image; remaining
// arguments are forwarded to the program. Pool sizes, reductions, and heap
// thresholds are configured via the INKO_* environment variables.
package main

import (
	"fmt"
	"os"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	_ "go.uber.org/automaxprocs"

	"github.com/YorickPeterse/inko/bytecode"
	"github.com/YorickPeterse/inko/vm"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: inko IMAGE [ARGS...]")
		return 1
	}

	cfg, err := vm.ConfigFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	cfg.Arguments = os.Args[2:]

	img, err := bytecode.LoadFile(os.Args[1])
	if err != nil {
		fmt.Fprintf(os.Stderr, "inko: failed to load %s: %v\n", os.Args[1], err)
		return 1
	}

	log := newLogger()

	machine, err := vm.NewMachine(cfg, img, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "inko: %v\n", err)
		return 1
	}

	code, err := machine.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "inko: %v\n", err)
		return 1
	}
	return code
}

// newLogger builds the structured logger: JSON to stderr, warnings by
// default, verbose with INKO_LOG=debug.
func newLogger() *logiface.Logger[logiface.Event] {
	level := logiface.LevelWarning
	switch os.Getenv("INKO_LOG") {
	case "debug":
		level = logiface.LevelDebug
	case "info":
		level = logiface.LevelInformational
	}
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(os.Stderr)),
		stumpy.L.WithLevel(level),
	).Logger()
}
