package vm

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/YorickPeterse/inko/bytecode"
	"github.com/YorickPeterse/inko/heap"
	"github.com/YorickPeterse/inko/object"
	"github.com/YorickPeterse/inko/process"
)

// syncWriter serialises panic reports from concurrent workers.
type syncWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func (w *syncWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PrimaryThreads = 4
	cfg.BlockingThreads = 2
	return cfg
}

// runImage boots a machine for img and waits for it to exit.
func runImage(t *testing.T, cfg Config, img *bytecode.Image) (*Machine, int, string) {
	t.Helper()

	m, err := NewMachine(cfg, img, nil)
	require.NoError(t, err)

	out := &syncWriter{}
	m.SetErrorOutput(out)

	require.NoError(t, m.Start())

	done := make(chan int, 1)
	go func() { done <- m.Wait() }()
	select {
	case code := <-done:
		return m, code, out.String()
	case <-time.After(30 * time.Second):
		t.Fatal("machine did not exit")
		return nil, 0, ""
	}
}

// TestMachine_EchoPing is the echo scenario: a child receives a message and
// sends it back; the main process checks the round trip.
func TestMachine_EchoPing(t *testing.T) {
	t.Parallel()

	a := newASM()
	child := a.code("child", 0, 4, []bytecode.Instruction{
		ins(bytecode.OpLoadNil, 0),
		ins(bytecode.OpProcessReceiveMessage, 1, 0),
		ins(bytecode.OpGetParentLocal, 2, 0, 0),
		ins(bytecode.OpProcessSendMessage, 2, 1),
		ins(bytecode.OpLoadNil, 3),
		ins(bytecode.OpReturn, 3),
	})
	main := a.code("main", 2, 8, []bytecode.Instruction{
		ins(bytecode.OpProcessCurrent, 0),
		ins(bytecode.OpSetLocal, 0, 0),
		ins(bytecode.OpSetBlock, 1, child),
		ins(bytecode.OpProcessSpawn, 2, 1),
		ins(bytecode.OpLoadString, 3, a.str("ping")),
		ins(bytecode.OpProcessSendMessage, 2, 3),
		ins(bytecode.OpLoadNil, 4),
		ins(bytecode.OpProcessReceiveMessage, 5, 4),
		ins(bytecode.OpLoadString, 6, a.str("ping")),
		ins(bytecode.OpObjectEquals, 7, 5, 6),
		ins(bytecode.OpGotoIfTrue, 13, 7),
		ins(bytecode.OpLoadInteger, 6, a.int64(1)),
		ins(bytecode.OpReturn, 6),
		ins(bytecode.OpLoadInteger, 6, a.int64(0)),
		ins(bytecode.OpReturn, 6),
	})

	m, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
	require.Equal(t, m.Table().Spawned(), m.Table().Terminated())
}

// TestMachine_ReceiveTimeout: a receive with a 50ms timeout against a silent
// child throws the timeout value, which the catch table delivers.
func TestMachine_ReceiveTimeout(t *testing.T) {
	t.Parallel()

	a := newASM()
	silent := a.code("silent", 0, 2, []bytecode.Instruction{
		ins(bytecode.OpLoadNil, 0),
		ins(bytecode.OpProcessReceiveMessage, 1, 0),
		ins(bytecode.OpReturn, 1),
	})
	main := a.code("main", 0, 8, []bytecode.Instruction{
		ins(bytecode.OpSetBlock, 0, silent),          // 0
		ins(bytecode.OpProcessSpawn, 1, 0),           // 1
		ins(bytecode.OpLoadFloat, 2, a.float(0.05)),  // 2
		ins(bytecode.OpProcessReceiveMessage, 3, 2),  // 3: in try range
		ins(bytecode.OpLoadInteger, 4, a.int64(1)),   // 4: got a message: fail
		ins(bytecode.OpReturn, 4),                    // 5
		ins(bytecode.OpLoadString, 5, a.str("timeout")), // 6: handler
		ins(bytecode.OpObjectEquals, 6, 7, 5),        // 7
		ins(bytecode.OpGotoIfTrue, 11, 6),            // 8
		ins(bytecode.OpLoadInteger, 4, a.int64(1)),   // 9
		ins(bytecode.OpReturn, 4),                    // 10
		ins(bytecode.OpLoadInteger, 4, a.int64(0)),   // 11
		ins(bytecode.OpReturn, 4),                    // 12
	}, bytecode.CatchEntry{Start: 3, End: 4, Jump: 6, Register: 7})

	start := time.Now()
	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	elapsed := time.Since(start)

	require.Equal(t, 0, code)
	require.GreaterOrEqual(t, elapsed, 50*time.Millisecond,
		"receive_timeout returned before the deadline")
}

// TestMachine_ParallelFanOut spawns 1000 workers computing i*i; the main
// process sums the replies.
func TestMachine_ParallelFanOut(t *testing.T) {
	t.Parallel()

	const workers = 1000
	const wantSum = 332833500 // Σ i² for i ∈ 0..999

	a := newASM()
	worker := a.code("worker", 0, 4, []bytecode.Instruction{
		ins(bytecode.OpGetParentLocal, 0, 0, 1),
		ins(bytecode.OpIntegerMul, 1, 0, 0),
		ins(bytecode.OpGetParentLocal, 2, 0, 0),
		ins(bytecode.OpProcessSendMessage, 2, 1),
		ins(bytecode.OpLoadNil, 3),
		ins(bytecode.OpReturn, 3),
	})
	main := a.code("main", 3, 10, []bytecode.Instruction{
		ins(bytecode.OpProcessCurrent, 0),                  // 0
		ins(bytecode.OpSetLocal, 0, 0),                     // 1
		ins(bytecode.OpLoadInteger, 1, a.int64(0)),         // 2
		ins(bytecode.OpSetLocal, 1, 1),                     // 3: i = 0
		ins(bytecode.OpSetLocal, 2, 1),                     // 4: sum = 0
		ins(bytecode.OpGetLocal, 1, 1),                     // 5: spawn loop
		ins(bytecode.OpLoadInteger, 2, a.int64(workers)),   // 6
		ins(bytecode.OpIntegerSmaller, 3, 1, 2),            // 7
		ins(bytecode.OpGotoIfFalse, 15, 3),                 // 8
		ins(bytecode.OpSetBlock, 4, worker),                // 9
		ins(bytecode.OpProcessSpawn, 5, 4),                 // 10
		ins(bytecode.OpLoadInteger, 6, a.int64(1)),         // 11
		ins(bytecode.OpIntegerAdd, 1, 1, 6),                // 12
		ins(bytecode.OpSetLocal, 1, 1),                     // 13
		ins(bytecode.OpGoto, 5),                            // 14
		ins(bytecode.OpLoadInteger, 1, a.int64(0)),         // 15: receive loop
		ins(bytecode.OpSetLocal, 1, 1),                     // 16
		ins(bytecode.OpGetLocal, 1, 1),                     // 17
		ins(bytecode.OpLoadInteger, 2, a.int64(workers)),   // 18
		ins(bytecode.OpIntegerSmaller, 3, 1, 2),            // 19
		ins(bytecode.OpGotoIfFalse, 30, 3),                 // 20
		ins(bytecode.OpLoadNil, 6),                         // 21
		ins(bytecode.OpProcessReceiveMessage, 7, 6),        // 22
		ins(bytecode.OpGetLocal, 8, 2),                     // 23
		ins(bytecode.OpIntegerAdd, 8, 8, 7),                // 24
		ins(bytecode.OpSetLocal, 2, 8),                     // 25
		ins(bytecode.OpLoadInteger, 6, a.int64(1)),         // 26
		ins(bytecode.OpIntegerAdd, 1, 1, 6),                // 27
		ins(bytecode.OpSetLocal, 1, 1),                     // 28
		ins(bytecode.OpGoto, 17),                           // 29
		ins(bytecode.OpGetLocal, 8, 2),                     // 30
		ins(bytecode.OpLoadInteger, 2, a.int64(wantSum)),   // 31
		ins(bytecode.OpIntegerEquals, 3, 8, 2),             // 32
		ins(bytecode.OpGotoIfTrue, 36, 3),                  // 33
		ins(bytecode.OpLoadInteger, 9, a.int64(1)),         // 34
		ins(bytecode.OpReturn, 9),                          // 35
		ins(bytecode.OpLoadInteger, 9, a.int64(0)),         // 36
		ins(bytecode.OpReturn, 9),                          // 37
	})

	m, code, stderr := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code, "stderr: %s", stderr)

	// spawn/terminate symmetry at shutdown.
	require.Equal(t, uint64(workers+1), m.Table().Spawned())
	require.Equal(t, m.Table().Spawned(), m.Table().Terminated())
	require.Equal(t, 0, m.Table().Len())
	require.Empty(t, m.Table().LiveIDs())
}

// TestMachine_PinnedForeignCall pins the process, calls the registered
// foreign time function, and unpins via the matched previous value.
func TestMachine_PinnedForeignCall(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 0, 8, []bytecode.Instruction{
		ins(bytecode.OpLoadTrue, 0),                         // 0
		ins(bytecode.OpProcessSetPinned, 1, 0),              // 1: r1 = previous
		ins(bytecode.OpExternalFunctionCall, 2, a.str("time"), 0), // 2
		ins(bytecode.OpProcessSetPinned, 3, 1),              // 3: restore
		ins(bytecode.OpLoadInteger, 4, a.int64(0)),          // 4
		ins(bytecode.OpIntegerSmaller, 5, 2, 4),             // 5: time < 0?
		ins(bytecode.OpGotoIfFalse, 9, 5),                   // 6
		ins(bytecode.OpLoadInteger, 6, a.int64(1)),          // 7: negative: fail
		ins(bytecode.OpReturn, 6),                           // 8
		ins(bytecode.OpLoadInteger, 6, a.int64(0)),          // 9
		ins(bytecode.OpReturn, 6),                           // 10
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_Generator: a generator yielding 10 then 20 then returning
// produces (true, 10), (true, 20), false across three resumes.
func TestMachine_Generator(t *testing.T) {
	t.Parallel()

	a := newASM()
	gen := a.code("squares", 0, 4, []bytecode.Instruction{
		ins(bytecode.OpLoadInteger, 0, a.int64(10)),
		ins(bytecode.OpGeneratorYield, 0),
		ins(bytecode.OpLoadInteger, 1, a.int64(20)),
		ins(bytecode.OpGeneratorYield, 1),
		ins(bytecode.OpLoadNil, 2),
		ins(bytecode.OpReturn, 2),
	})
	main := a.code("main", 0, 8, []bytecode.Instruction{
		ins(bytecode.OpSetBlock, 0, gen),             // 0
		ins(bytecode.OpGeneratorAllocate, 1, 0),      // 1
		ins(bytecode.OpGeneratorResume, 2, 1),        // 2
		ins(bytecode.OpGotoIfFalse, 18, 2),           // 3
		ins(bytecode.OpGeneratorValue, 3, 1),         // 4
		ins(bytecode.OpLoadInteger, 4, a.int64(10)),  // 5
		ins(bytecode.OpIntegerEquals, 5, 3, 4),       // 6
		ins(bytecode.OpGotoIfFalse, 18, 5),           // 7
		ins(bytecode.OpGeneratorResume, 2, 1),        // 8
		ins(bytecode.OpGotoIfFalse, 18, 2),           // 9
		ins(bytecode.OpGeneratorValue, 3, 1),         // 10
		ins(bytecode.OpLoadInteger, 4, a.int64(20)),  // 11
		ins(bytecode.OpIntegerEquals, 5, 3, 4),       // 12
		ins(bytecode.OpGotoIfFalse, 18, 5),           // 13
		ins(bytecode.OpGeneratorResume, 2, 1),        // 14
		ins(bytecode.OpGotoIfTrue, 18, 2),            // 15: third resume: done
		ins(bytecode.OpLoadInteger, 6, a.int64(0)),   // 16
		ins(bytecode.OpReturn, 6),                    // 17
		ins(bytecode.OpLoadInteger, 6, a.int64(1)),   // 18
		ins(bytecode.OpReturn, 6),                    // 19
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_PanicInChild: a spawned process panics; the VM exits non-zero
// with a trace naming the child's file and line.
func TestMachine_PanicInChild(t *testing.T) {
	t.Parallel()

	a := newASM()
	child := a.codeInFile("child.inko", "child_panic", 0, 2, []bytecode.Instruction{
		ins(bytecode.OpLoadString, 0, a.str("boom")), // line 1
		ins(bytecode.OpPanic, 0),                     // line 2
	})
	main := a.code("main", 0, 4, []bytecode.Instruction{
		ins(bytecode.OpSetBlock, 0, child),
		ins(bytecode.OpProcessSpawn, 1, 0),
		ins(bytecode.OpLoadInteger, 2, a.int64(300)),
		ins(bytecode.OpProcessSuspendCurrent, 2),
		ins(bytecode.OpLoadInteger, 3, a.int64(0)),
		ins(bytecode.OpReturn, 3),
	})

	_, code, stderr := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, ExitPanic, code)
	require.Contains(t, stderr, "boom")
	require.Contains(t, stderr, "child.inko")
	require.Contains(t, stderr, "line 2")
	require.Contains(t, stderr, "child_panic")
}

// TestMachine_SendReceiveRoundTrip: a message sent to self arrives
// structurally equal to the input.
func TestMachine_SendReceiveRoundTrip(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 0, 12, []bytecode.Instruction{
		ins(bytecode.OpLoadInteger, 0, a.int64(1)),      // 0
		ins(bytecode.OpLoadString, 1, a.str("two")),     // 1
		ins(bytecode.OpAllocateArray, 2, 0, 2),          // 2: [1, "two"]
		ins(bytecode.OpProcessCurrent, 3),               // 3
		ins(bytecode.OpProcessSendMessage, 3, 2),        // 4
		ins(bytecode.OpLoadNil, 4),                      // 5
		ins(bytecode.OpProcessReceiveMessage, 5, 4),     // 6
		ins(bytecode.OpLoadInteger, 6, a.int64(0)),      // 7
		ins(bytecode.OpArrayAt, 7, 5, 6),                // 8
		ins(bytecode.OpLoadInteger, 8, a.int64(1)),      // 9
		ins(bytecode.OpIntegerEquals, 9, 7, 8),          // 10
		ins(bytecode.OpGotoIfFalse, 19, 9),              // 11
		ins(bytecode.OpArrayAt, 7, 5, 8),                // 12: element 1
		ins(bytecode.OpLoadString, 10, a.str("two")),    // 13
		ins(bytecode.OpObjectEquals, 9, 7, 10),          // 14
		ins(bytecode.OpGotoIfFalse, 19, 9),              // 15
		ins(bytecode.OpLoadInteger, 11, a.int64(0)),     // 16
		ins(bytecode.OpReturn, 11),                      // 17
		ins(bytecode.OpLoadNil, 11),                     // 18 (unreachable)
		ins(bytecode.OpLoadInteger, 11, a.int64(1)),     // 19
		ins(bytecode.OpReturn, 11),                      // 20
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_DeferredBlocks: a deferred block runs on normal return and is
// skipped by terminate.
func TestMachine_DeferredBlocks(t *testing.T) {
	t.Parallel()

	a := newASM()
	setG0 := a.code("set_g0", 0, 2, []bytecode.Instruction{
		ins(bytecode.OpLoadInteger, 0, a.int64(42)),
		ins(bytecode.OpSetGlobal, 0, 0),
		ins(bytecode.OpLoadNil, 1),
		ins(bytecode.OpReturn, 1),
	})
	withDefer := a.code("with_defer", 0, 2, []bytecode.Instruction{
		ins(bytecode.OpSetBlock, 0, setG0),
		ins(bytecode.OpDefer, 0),
		ins(bytecode.OpLoadNil, 1),
		ins(bytecode.OpReturn, 1),
	})
	setG1 := a.code("set_g1", 0, 2, []bytecode.Instruction{
		ins(bytecode.OpLoadInteger, 0, a.int64(7)),
		ins(bytecode.OpSetGlobal, 1, 0),
		ins(bytecode.OpLoadNil, 1),
		ins(bytecode.OpReturn, 1),
	})
	terminator := a.code("terminator", 0, 2, []bytecode.Instruction{
		ins(bytecode.OpSetBlock, 0, setG1),
		ins(bytecode.OpDefer, 0),
		// Terminate drops the frames without running deferred blocks.
		ins(bytecode.OpProcessTerminateCurrent),
	})
	main := a.code("main", 0, 10, []bytecode.Instruction{
		ins(bytecode.OpSetBlock, 0, withDefer),       // 0
		ins(bytecode.OpRunBlock, 1, 0, 0),            // 1
		ins(bytecode.OpGetGlobal, 2, 0),              // 2
		ins(bytecode.OpLoadInteger, 3, a.int64(42)),  // 3
		ins(bytecode.OpIntegerEquals, 4, 2, 3),       // 4
		ins(bytecode.OpGotoIfFalse, 16, 4),           // 5
		ins(bytecode.OpSetBlock, 5, terminator),      // 6
		ins(bytecode.OpProcessSpawn, 6, 5),           // 7
		ins(bytecode.OpLoadInteger, 7, a.int64(200)), // 8
		ins(bytecode.OpProcessSuspendCurrent, 7),     // 9
		ins(bytecode.OpGetGlobal, 2, 1),              // 10
		ins(bytecode.OpGotoIfTrue, 16, 2),            // 11: nil is falsy
		ins(bytecode.OpLoadInteger, 8, a.int64(0)),   // 12
		ins(bytecode.OpReturn, 8),                    // 13
		ins(bytecode.OpLoadNil, 8),                   // 14 (unreachable)
		ins(bytecode.OpLoadNil, 8),                   // 15 (unreachable)
		ins(bytecode.OpLoadInteger, 8, a.int64(1)),   // 16
		ins(bytecode.OpReturn, 8),                    // 17
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 2))
	require.Equal(t, 0, code)
}

// TestMachine_ThrowAcrossFrames: a throw in a callee lands in the
// caller's catch entry covering the call site.
func TestMachine_ThrowAcrossFrames(t *testing.T) {
	t.Parallel()

	a := newASM()
	thrower := a.code("thrower", 0, 2, []bytecode.Instruction{
		ins(bytecode.OpLoadString, 0, a.str("err")),
		ins(bytecode.OpThrow, 0),
	})
	main := a.code("main", 0, 8, []bytecode.Instruction{
		ins(bytecode.OpSetBlock, 0, thrower),        // 0
		ins(bytecode.OpRunBlock, 1, 0, 0),           // 1: in try range
		ins(bytecode.OpLoadInteger, 2, a.int64(1)),  // 2: no throw: fail
		ins(bytecode.OpReturn, 2),                   // 3
		ins(bytecode.OpLoadString, 3, a.str("err")), // 4: handler
		ins(bytecode.OpObjectEquals, 4, 5, 3),       // 5
		ins(bytecode.OpGotoIfFalse, 9, 4),           // 6
		ins(bytecode.OpLoadInteger, 6, a.int64(0)),  // 7
		ins(bytecode.OpReturn, 6),                   // 8
		ins(bytecode.OpLoadInteger, 6, a.int64(1)),  // 9
		ins(bytecode.OpReturn, 6),                   // 10
	}, bytecode.CatchEntry{Start: 1, End: 2, Jump: 4, Register: 5})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_UnhandledThrowPanics: a throw without a surrounding try
// terminates the process as a panic, and the VM with it.
func TestMachine_UnhandledThrowPanics(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 0, 2, []bytecode.Instruction{
		ins(bytecode.OpLoadString, 0, a.str("oops")),
		ins(bytecode.OpThrow, 0),
	})

	_, code, stderr := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, ExitPanic, code)
	require.Contains(t, stderr, "unhandled throw")
	require.Contains(t, stderr, "oops")
}

// TestMachine_ReductionExhaustionYields: a long loop under a tiny reduction
// budget must still finish, through repeated re-scheduling.
func TestMachine_ReductionExhaustionYields(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 0, 6, []bytecode.Instruction{
		ins(bytecode.OpLoadInteger, 0, a.int64(10000)), // 0
		ins(bytecode.OpLoadInteger, 1, a.int64(1)),     // 1
		ins(bytecode.OpLoadInteger, 2, a.int64(0)),     // 2
		ins(bytecode.OpIntegerGreater, 3, 0, 2),        // 3
		ins(bytecode.OpGotoIfFalse, 7, 3),              // 4
		ins(bytecode.OpIntegerSub, 0, 0, 1),            // 5
		ins(bytecode.OpGoto, 3),                        // 6
		ins(bytecode.OpLoadInteger, 4, a.int64(0)),     // 7
		ins(bytecode.OpReturn, 4),                      // 8
	})

	cfg := testConfig()
	cfg.Reductions = 10
	_, code, _ := runImage(t, cfg, a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_SetBlockingPair: matched set_blocking calls observe the
// previous flag and the process finishes normally on the primary pool.
func TestMachine_SetBlockingPair(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 0, 8, []bytecode.Instruction{
		ins(bytecode.OpLoadTrue, 0),                // 0
		ins(bytecode.OpProcessSetBlocking, 1, 0),   // 1: prev = false
		ins(bytecode.OpLoadFalse, 2),               // 2
		ins(bytecode.OpProcessSetBlocking, 3, 2),   // 3: prev = true
		ins(bytecode.OpGotoIfFalse, 8, 3),          // 4: second prev must be true
		ins(bytecode.OpGotoIfTrue, 8, 1),           // 5: first prev must be false
		ins(bytecode.OpLoadInteger, 4, a.int64(0)), // 6
		ins(bytecode.OpReturn, 4),                  // 7
		ins(bytecode.OpLoadInteger, 4, a.int64(1)), // 8
		ins(bytecode.OpReturn, 4),                  // 9
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_ExplicitExitCode: the Exit instruction sets the VM exit code.
func TestMachine_ExplicitExitCode(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 0, 2, []bytecode.Instruction{
		ins(bytecode.OpLoadInteger, 0, a.int64(3)),
		ins(bytecode.OpExit, 0),
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 3, code)
}

// TestMachine_MainReturnValueBecomesExitCode.
func TestMachine_MainReturnValueBecomesExitCode(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 0, 2, []bytecode.Instruction{
		ins(bytecode.OpLoadInteger, 0, a.int64(7)),
		ins(bytecode.OpReturn, 0),
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 7, code)
}

// TestMachine_PlatformString: the Platform instruction exposes the closed
// platform identifier.
func TestMachine_PlatformString(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 0, 6, []bytecode.Instruction{
		ins(bytecode.OpPlatform, 0),                      // 0
		ins(bytecode.OpLoadString, 1, a.str(Platform())), // 1
		ins(bytecode.OpObjectEquals, 2, 0, 1),            // 2
		ins(bytecode.OpGotoIfTrue, 6, 2),                 // 3
		ins(bytecode.OpLoadInteger, 3, a.int64(1)),       // 4
		ins(bytecode.OpReturn, 3),                        // 5
		ins(bytecode.OpLoadInteger, 3, a.int64(0)),       // 6
		ins(bytecode.OpReturn, 3),                        // 7
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_AllocationPressureCollects: a tight allocation loop under a
// small young threshold exercises the collector mid-interpretation.
func TestMachine_AllocationPressureCollects(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 1, 8, []bytecode.Instruction{
		ins(bytecode.OpLoadInteger, 0, a.int64(5000)), // 0
		ins(bytecode.OpLoadInteger, 1, a.int64(1)),    // 1
		ins(bytecode.OpLoadInteger, 2, a.int64(0)),    // 2
		ins(bytecode.OpIntegerGreater, 3, 0, 2),       // 3
		ins(bytecode.OpGotoIfFalse, 9, 3),             // 4
		ins(bytecode.OpAllocateArray, 4, 1, 2),        // 5: [1, 0]
		ins(bytecode.OpSetLocal, 0, 4),                // 6: keep the latest alive
		ins(bytecode.OpIntegerSub, 0, 0, 1),           // 7
		ins(bytecode.OpGoto, 3),                       // 8
		ins(bytecode.OpLoadInteger, 5, a.int64(0)),    // 9
		ins(bytecode.OpReturn, 5),                     // 10
	})

	cfg := testConfig()
	cfg.YoungThreshold = 256
	cfg.MatureThreshold = 2048
	_, code, _ := runImage(t, cfg, a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_FileWriteAndRead: synchronous file instructions write a file,
// read it back, and copy the bytes to a second file.
func TestMachine_FileWriteAndRead(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.txt")
	dst := filepath.Join(dir, "dst.txt")

	a := newASM()
	main := a.code("main", 0, 10, []bytecode.Instruction{
		// write "hello" to src
		ins(bytecode.OpLoadString, 0, a.str(src)),                 // 0
		ins(bytecode.OpFileOpen, 1, 0, a.str("write")),            // 1
		ins(bytecode.OpLoadString, 2, a.str("hello")),             // 2
		ins(bytecode.OpFileWrite, 3, 1, 2),                        // 3
		ins(bytecode.OpFileClose, 1),                              // 4
		// read it back
		ins(bytecode.OpFileOpen, 4, 0, a.str("read")),             // 5
		ins(bytecode.OpLoadInteger, 5, a.int64(100)),              // 6
		ins(bytecode.OpFileRead, 6, 4, 5),                         // 7
		ins(bytecode.OpFileClose, 4),                              // 8
		// copy the bytes to dst
		ins(bytecode.OpLoadString, 7, a.str(dst)),                 // 9
		ins(bytecode.OpFileOpen, 8, 7, a.str("write")),            // 10
		ins(bytecode.OpFileWrite, 9, 8, 6),                        // 11
		ins(bytecode.OpFileClose, 8),                              // 12
		ins(bytecode.OpLoadInteger, 9, a.int64(0)),                // 13
		ins(bytecode.OpReturn, 9),                                 // 14
	})

	_, code, stderr := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code, "stderr: %s", stderr)

	content, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(content))
}

// TestMachine_FileOpenErrorThrown: opening a missing file throws an integer
// errno the program can catch.
func TestMachine_FileOpenErrorThrown(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "missing.txt")

	a := newASM()
	main := a.code("main", 0, 8, []bytecode.Instruction{
		ins(bytecode.OpLoadString, 0, a.str(missing)),    // 0
		ins(bytecode.OpFileOpen, 1, 0, a.str("read")),    // 1: in try range
		ins(bytecode.OpLoadInteger, 2, a.int64(1)),       // 2: opened: fail
		ins(bytecode.OpReturn, 2),                        // 3
		ins(bytecode.OpLoadInteger, 3, a.int64(0)),       // 4: handler
		ins(bytecode.OpIntegerGreater, 4, 5, 3),          // 5: errno > 0
		ins(bytecode.OpGotoIfFalse, 8, 4),                // 6
		ins(bytecode.OpReturn, 3),                        // 7: exit 0
		ins(bytecode.OpLoadInteger, 2, a.int64(1)),       // 8
		ins(bytecode.OpReturn, 2),                        // 9
	}, bytecode.CatchEntry{Start: 1, End: 2, Jump: 4, Register: 5})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_ForeignArguments: the arguments foreign function exposes the
// forwarded CLI arguments.
func TestMachine_ForeignArguments(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 0, 8, []bytecode.Instruction{
		ins(bytecode.OpExternalFunctionCall, 0, a.str("arguments"), 0), // 0
		ins(bytecode.OpArrayLength, 1, 0),              // 1
		ins(bytecode.OpLoadInteger, 2, a.int64(2)),     // 2
		ins(bytecode.OpIntegerEquals, 3, 1, 2),         // 3
		ins(bytecode.OpGotoIfFalse, 10, 3),             // 4
		ins(bytecode.OpLoadInteger, 4, a.int64(0)),     // 5
		ins(bytecode.OpArrayAt, 5, 0, 4),               // 6
		ins(bytecode.OpLoadString, 6, a.str("alpha")),  // 7
		ins(bytecode.OpObjectEquals, 3, 5, 6),          // 8
		ins(bytecode.OpGotoIfTrue, 12, 3),              // 9
		ins(bytecode.OpLoadInteger, 7, a.int64(1)),     // 10
		ins(bytecode.OpReturn, 7),                      // 11
		ins(bytecode.OpLoadInteger, 7, a.int64(0)),     // 12
		ins(bytecode.OpReturn, 7),                      // 13
	})

	cfg := testConfig()
	cfg.Arguments = []string{"alpha", "beta"}
	_, code, _ := runImage(t, cfg, a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_AttributesAndPrototypes: attribute writes, prototype-chain
// reads, and the inline caches behind them.
func TestMachine_AttributesAndPrototypes(t *testing.T) {
	t.Parallel()

	a := newASM()
	main := a.code("main", 0, 10, []bytecode.Instruction{
		ins(bytecode.OpLoadNil, 0),                        // 0
		ins(bytecode.OpAllocate, 1, 0),                    // 1: plain object
		ins(bytecode.OpLoadInteger, 2, a.int64(5)),        // 2
		ins(bytecode.OpSetAttribute, 1, a.str("count"), 2), // 3
		ins(bytecode.OpGetAttribute, 3, 1, a.str("count")), // 4
		ins(bytecode.OpIntegerEquals, 4, 3, 2),            // 5
		ins(bytecode.OpGotoIfFalse, 12, 4),                // 6
		ins(bytecode.OpGetPrototype, 5, 2),                // 7: Integer class obj
		ins(bytecode.OpGetPrototype, 6, 3),                // 8
		ins(bytecode.OpObjectEquals, 4, 5, 6),             // 9
		ins(bytecode.OpGotoIfFalse, 12, 4),                // 10
		ins(bytecode.OpGoto, 14),                          // 11
		ins(bytecode.OpLoadInteger, 7, a.int64(1)),        // 12
		ins(bytecode.OpReturn, 7),                         // 13
		ins(bytecode.OpLoadInteger, 7, a.int64(0)),        // 14
		ins(bytecode.OpReturn, 7),                         // 15
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_BlockArguments: arguments passed to RunBlock are bound to the
// callee's first locals.
func TestMachine_BlockArguments(t *testing.T) {
	t.Parallel()

	a := newASM()
	adder := a.code("adder", 2, 4, []bytecode.Instruction{
		ins(bytecode.OpGetLocal, 0, 0),
		ins(bytecode.OpGetLocal, 1, 1),
		ins(bytecode.OpIntegerAdd, 2, 0, 1),
		ins(bytecode.OpReturn, 2),
	})
	// Declare the arity on the registered code object.
	a.img.Code[adder].Arity = 2
	a.img.Code[adder].RequiredArguments = 2

	main := a.code("main", 0, 10, []bytecode.Instruction{
		ins(bytecode.OpSetBlock, 0, adder),          // 0
		ins(bytecode.OpLoadInteger, 1, a.int64(2)),  // 1
		ins(bytecode.OpLoadInteger, 2, a.int64(3)),  // 2
		ins(bytecode.OpRunBlock, 3, 0, 2, 1, 2),     // 3: adder(2, 3)
		ins(bytecode.OpLoadInteger, 4, a.int64(5)),  // 4
		ins(bytecode.OpIntegerEquals, 5, 3, 4),      // 5
		ins(bytecode.OpGotoIfTrue, 8, 5),            // 6
		ins(bytecode.OpReturn, 4),                   // 7: exit 5 (failure marker)
		ins(bytecode.OpLoadInteger, 6, a.int64(0)),  // 8
		ins(bytecode.OpReturn, 6),                   // 9
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
}

// TestMachine_ArityMismatchPanics.
func TestMachine_ArityMismatchPanics(t *testing.T) {
	t.Parallel()

	a := newASM()
	needsOne := a.code("needs_one", 1, 2, []bytecode.Instruction{
		ins(bytecode.OpGetLocal, 0, 0),
		ins(bytecode.OpReturn, 0),
	})
	a.img.Code[needsOne].Arity = 1
	a.img.Code[needsOne].RequiredArguments = 1

	main := a.code("main", 0, 4, []bytecode.Instruction{
		ins(bytecode.OpSetBlock, 0, needsOne),
		ins(bytecode.OpRunBlock, 1, 0, 0), // no arguments: arity panic
		ins(bytecode.OpLoadInteger, 2, a.int64(0)),
		ins(bytecode.OpReturn, 2),
	})

	_, code, stderr := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, ExitPanic, code)
	require.Contains(t, stderr, "requires 1 arguments")
}

// TestMachine_BigIntegerOverflow: arithmetic leaving the immediate range
// boxes transparently and stays numerically correct.
func TestMachine_BigIntegerOverflow(t *testing.T) {
	t.Parallel()

	big1 := int64(3) << 60
	a := newASM()
	main := a.code("main", 0, 8, []bytecode.Instruction{
		ins(bytecode.OpLoadInteger, 0, a.int64(big1)),  // 0
		ins(bytecode.OpIntegerAdd, 1, 0, 0),            // 1: overflows 62 bits
		ins(bytecode.OpIntegerSub, 2, 1, 0),            // 2: back down
		ins(bytecode.OpIntegerEquals, 3, 2, 0),         // 3
		ins(bytecode.OpGotoIfTrue, 6, 3),               // 4
		ins(bytecode.OpReturn, 0),                      // 5 (non-zero exit)
		ins(bytecode.OpLoadInteger, 4, a.int64(0)),     // 6
		ins(bytecode.OpReturn, 4),                      // 7
	})

	_, code, _ := runImage(t, testConfig(), a.build(main, 0))
	require.Equal(t, 0, code)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvConcurrency, "3")
	t.Setenv(EnvReductions, "500")

	cfg, err := ConfigFromEnv()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.PrimaryThreads)
	require.Equal(t, 500, cfg.Reductions)

	t.Setenv(EnvBlockingThreads, "bogus")
	_, err = ConfigFromEnv()
	require.Error(t, err)
}

func TestPlatform_ClosedSet(t *testing.T) {
	t.Parallel()

	allowed := map[string]bool{
		"linux": true, "macos": true, "freebsd": true, "openbsd": true,
		"netbsd": true, "dragonfly": true, "bitrig": true, "android": true,
		"ios": true, "windows": true, "unix": true, "unknown": true,
	}
	require.True(t, allowed[Platform()], "platform %q outside the closed set", Platform())
}

func TestProcessTable_IdentifiersUniqueWithinRun(t *testing.T) {
	t.Parallel()

	table := NewProcessTable()
	code := &bytecode.CodeObject{Name: "t", File: "t.inko", Registers: 1}

	seen := make(map[uint64]bool)
	var procs []*process.Process
	for i := 0; i < 100; i++ {
		h := heap.New(heap.Config{}, nil, nil)
		p := table.Allocate(func(id uint64) *process.Process {
			return process.New(id, h, &object.BlockPayload{Code: code})
		})
		require.False(t, seen[p.Identifier()], "identifier reused within one run")
		seen[p.Identifier()] = true
		require.Same(t, p, table.Get(p.Identifier()))
		procs = append(procs, p)
	}

	require.Equal(t, uint64(100), table.Spawned())
	require.Len(t, table.LiveIDs(), 100)

	for _, p := range procs {
		table.Remove(p)
		require.Nil(t, table.Get(p.Identifier()))
	}
	require.Equal(t, uint64(100), table.Terminated())
	require.Equal(t, 0, table.Len())
	require.Empty(t, table.LiveIDs())
}
