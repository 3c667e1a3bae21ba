// Package vm ties the runtime together: the machine, the bytecode
// interpreter, the process table, panic handling, and shutdown.
package vm

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/YorickPeterse/inko/heap"
)

// Environment variables recognised by the VM.
const (
	EnvConcurrency     = "INKO_CONCURRENCY"
	EnvBlockingThreads = "INKO_BLOCKING_THREADS"
	EnvReductions      = "INKO_REDUCTIONS"
	EnvYoungThreshold  = "INKO_YOUNG_HEAP_THRESHOLD"
	EnvMatureThreshold = "INKO_MATURE_HEAP_THRESHOLD"
)

// DefaultReductions is the initial reduction budget per scheduling quantum.
const DefaultReductions = 1000

// Config tunes the machine.
type Config struct {
	// PrimaryThreads is the primary pool size; defaults to the logical CPU
	// count.
	PrimaryThreads int
	// BlockingThreads is the blocking pool size.
	BlockingThreads int
	// Reductions is the per-quantum reduction budget.
	Reductions int
	// YoungThreshold and MatureThreshold tune per-process heaps, in slots.
	YoungThreshold  int
	MatureThreshold int
	// Arguments are forwarded to the program via the environment interface.
	Arguments []string
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		PrimaryThreads:  runtime.NumCPU(),
		BlockingThreads: runtime.NumCPU(),
		Reductions:      DefaultReductions,
		YoungThreshold:  heap.DefaultYoungThreshold,
		MatureThreshold: heap.DefaultMatureThreshold,
	}
}

// ConfigFromEnv applies the INKO_* environment variables on top of the
// defaults.
func ConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	for _, v := range []struct {
		name   string
		target *int
	}{
		{EnvConcurrency, &cfg.PrimaryThreads},
		{EnvBlockingThreads, &cfg.BlockingThreads},
		{EnvReductions, &cfg.Reductions},
		{EnvYoungThreshold, &cfg.YoungThreshold},
		{EnvMatureThreshold, &cfg.MatureThreshold},
	} {
		raw := os.Getenv(v.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("vm: %s must be a positive integer, got %q", v.name, raw)
		}
		*v.target = n
	}
	return cfg, nil
}

// heapConfig derives the per-process heap configuration.
func (c Config) heapConfig() heap.Config {
	return heap.Config{
		YoungThreshold:  c.YoungThreshold,
		MatureThreshold: c.MatureThreshold,
	}
}
