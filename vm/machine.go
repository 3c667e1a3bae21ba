package vm

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/joeycumines/logiface"

	"github.com/YorickPeterse/inko/bytecode"
	"github.com/YorickPeterse/inko/heap"
	"github.com/YorickPeterse/inko/object"
	"github.com/YorickPeterse/inko/process"
	"github.com/YorickPeterse/inko/reactor"
	"github.com/YorickPeterse/inko/scheduler"
)

// Exit codes.
const (
	// ExitNormal is returned when the main process returns a non-integer
	// value; an integer return value becomes the exit code itself.
	ExitNormal = 0
	// ExitPanic is returned on an unhandled panic.
	ExitPanic = 1
)

// moduleRuntime is the runtime state of one loaded module: its body code and
// its global slots.
type moduleRuntime struct {
	name string
	code *bytecode.CodeObject

	mu      sync.Mutex
	globals []object.Value
}

// Machine is the virtual machine: it owns the shared subsystems (scheduler,
// reactor, process table, permanent space, finalizer queue) and implements
// the interpreter executed by scheduler workers.
type Machine struct {
	config Config
	log    *logiface.Logger[logiface.Event]
	image  *bytecode.Image

	perm       *heap.PermanentSpace
	finalizers *heap.FinalizerQueue
	sched      *scheduler.Scheduler
	reactor    *reactor.Reactor
	table      *ProcessTable
	kernel     *Kernel
	caches     *lookupCaches

	// Resolved literal pools, permanent, indexed as in the image.
	stringLits []object.Value
	intLits    []object.Value
	floatLits  []object.Value

	// symbolLits are the string literals interned as symbols, for attribute
	// name operands.
	symbolLits []*object.Symbol

	modules  []*moduleRuntime
	moduleMu sync.Mutex
	moduleOf map[*bytecode.CodeObject]*moduleRuntime

	foreignMu sync.RWMutex
	foreign   map[string]*object.Object

	// timeout is the distinguished value thrown by receive_timeout.
	timeout object.Value

	// platformString is the permanent platform identifier.
	platformString object.Value

	main *process.Process

	errOut   io.Writer
	exitOnce sync.Once
	exitCode int
	done     chan struct{}
}

// NewMachine builds a machine for a loaded image. The logger is optional.
func NewMachine(cfg Config, img *bytecode.Image, log *logiface.Logger[logiface.Event]) (*Machine, error) {
	if cfg.Reductions < 1 {
		cfg.Reductions = DefaultReductions
	}

	m := &Machine{
		config:   cfg,
		log:      log,
		image:    img,
		perm:     heap.NewPermanentSpace(),
		table:    NewProcessTable(),
		caches:   newLookupCaches(),
		moduleOf: make(map[*bytecode.CodeObject]*moduleRuntime),
		foreign:  make(map[string]*object.Object),
		errOut:   os.Stderr,
		done:     make(chan struct{}),
	}

	m.finalizers = heap.NewFinalizerQueue(log)
	m.kernel = newKernel(m.perm)
	m.sched = scheduler.New(scheduler.Config{
		PrimaryThreads:  cfg.PrimaryThreads,
		BlockingThreads: cfg.BlockingThreads,
	}, m, log)

	r, err := reactor.New(m.sched, log)
	if err != nil {
		return nil, err
	}
	m.reactor = r

	m.timeout = object.Boxed(m.perm.Allocate(
		m.kernel.TimeoutClass, &object.StringPayload{Bytes: []byte("timeout")}))
	m.platformString = object.Boxed(m.perm.InternString(m.kernel.StringClass, Platform()))

	m.resolveLiterals()
	m.loadModules()
	m.registerDefaultForeign()

	return m, nil
}

// resolveLiterals converts the image literal pools into permanent values.
func (m *Machine) resolveLiterals() {
	img := m.image
	m.stringLits = make([]object.Value, len(img.Strings))
	m.symbolLits = make([]*object.Symbol, len(img.Strings))
	for i, s := range img.Strings {
		m.stringLits[i] = object.Boxed(m.perm.InternString(m.kernel.StringClass, s))
		m.symbolLits[i] = object.Intern(s)
	}
	m.intLits = make([]object.Value, len(img.Ints))
	for i, v := range img.Ints {
		m.intLits[i] = m.perm.AllocateInt(m.kernel.IntegerClass, v)
	}
	m.floatLits = make([]object.Value, len(img.Floats))
	for i, v := range img.Floats {
		m.floatLits[i] = object.Boxed(m.perm.Allocate(
			m.kernel.FloatClass, &object.FloatPayload{Value: v}))
	}
}

// loadModules builds the runtime module table.
func (m *Machine) loadModules() {
	img := m.image
	m.modules = make([]*moduleRuntime, len(img.Modules))
	for i, mod := range img.Modules {
		rt := &moduleRuntime{
			name:    img.Strings[mod.NameLiteral],
			code:    img.Code[mod.CodeIndex],
			globals: make([]object.Value, mod.GlobalsCount),
		}
		m.modules[i] = rt
		m.moduleOf[rt.code] = rt
	}
}

// moduleFor resolves the module a code object belongs to. Blocks inherit the
// module of the code that created them (recorded by SetBlock).
func (m *Machine) moduleFor(code *bytecode.CodeObject) *moduleRuntime {
	m.moduleMu.Lock()
	defer m.moduleMu.Unlock()
	return m.moduleOf[code]
}

// associateModule records a block's code as belonging to its creator's
// module.
func (m *Machine) associateModule(child, parent *bytecode.CodeObject) {
	m.moduleMu.Lock()
	defer m.moduleMu.Unlock()
	if _, ok := m.moduleOf[child]; !ok {
		m.moduleOf[child] = m.moduleOf[parent]
	}
}

// RegisterForeign registers a host function callable from bytecode via
// ExternalFunctionCall.
func (m *Machine) RegisterForeign(name string, fn object.ForeignFunction) {
	obj := m.perm.Allocate(m.kernel.ForeignClass, &object.ForeignFunctionPayload{
		Name: name,
		Fn:   fn,
	})
	m.foreignMu.Lock()
	m.foreign[name] = obj
	m.foreignMu.Unlock()
}

// foreignFunction resolves a registered foreign function.
func (m *Machine) foreignFunction(name string) (*object.ForeignFunctionPayload, bool) {
	m.foreignMu.RLock()
	obj := m.foreign[name]
	m.foreignMu.RUnlock()
	if obj == nil {
		return nil, false
	}
	return obj.Payload().(*object.ForeignFunctionPayload), true
}

// registerDefaultForeign installs the built-in host functions.
func (m *Machine) registerDefaultForeign() {
	m.RegisterForeign("time", func([]object.Value) (object.Value, error) {
		v, _ := object.SmallInt(time.Now().Unix())
		return v, nil
	})
	m.RegisterForeign("cpu_count", func([]object.Value) (object.Value, error) {
		v, _ := object.SmallInt(int64(m.config.PrimaryThreads))
		return v, nil
	})

	// The program's arguments, as a permanent array of permanent strings.
	args := make([]object.Value, len(m.config.Arguments))
	for i, a := range m.config.Arguments {
		args[i] = object.Boxed(m.perm.InternString(m.kernel.StringClass, a))
	}
	argsObj := object.Boxed(m.perm.Allocate(
		m.kernel.ArrayClass, &object.ArrayPayload{Values: args}))
	m.RegisterForeign("arguments", func([]object.Value) (object.Value, error) {
		return argsObj, nil
	})
}

// Start boots the subsystems and spawns the main process from the image's
// entry module.
func (m *Machine) Start() error {
	entry, err := m.image.EntryCode()
	if err != nil {
		return err
	}

	m.finalizers.Start()
	m.sched.Start()
	m.reactor.Start()

	m.main = m.spawnProcess(&object.BlockPayload{Code: entry})
	m.sched.Schedule(m.main)

	if m.log != nil {
		m.log.Info().
			Int("primary", m.config.PrimaryThreads).
			Int("blocking", m.config.BlockingThreads).
			Int("reductions", m.config.Reductions).
			Log("machine started")
	}
	return nil
}

// Wait blocks until the machine exits, tears the subsystems down, and
// returns the exit code.
func (m *Machine) Wait() int {
	<-m.done

	m.sched.Stop()
	m.reactor.Stop()
	m.finalizers.Stop()

	if m.log != nil {
		m.log.Debug().
			Uint64("spawned", m.table.Spawned()).
			Uint64("terminated", m.table.Terminated()).
			Int("leaked", m.table.Len()).
			Log("machine stopped")
	}

	// Permanent objects are released en masse at process exit.
	m.perm.Release()
	return m.exitCode
}

// Run starts the machine and waits for it to exit.
func (m *Machine) Run() (int, error) {
	if err := m.Start(); err != nil {
		return ExitPanic, err
	}
	return m.Wait(), nil
}

// Table returns the process table.
func (m *Machine) Table() *ProcessTable { return m.table }

// Scheduler returns the scheduler.
func (m *Machine) Scheduler() *scheduler.Scheduler { return m.sched }

// TimeoutValue returns the distinguished value thrown by receive_timeout.
func (m *Machine) TimeoutValue() object.Value { return m.timeout }

// SetErrorOutput redirects the panic report stream (default: stderr).
func (m *Machine) SetErrorOutput(w io.Writer) { m.errOut = w }

// spawnProcess creates a process with a fresh heap executing block.
func (m *Machine) spawnProcess(block *object.BlockPayload) *process.Process {
	h := heap.New(m.config.heapConfig(), m.finalizers, m.log)
	return m.table.Allocate(func(id uint64) *process.Process {
		return process.New(id, h, block)
	})
}

// exit latches the exit code and releases Wait.
func (m *Machine) exit(code int) {
	m.exitOnce.Do(func() {
		m.exitCode = code
		close(m.done)
	})
}

// panicProcess implements the unhandled-panic policy: format a stack trace,
// print it to the error stream, terminate the process, and bring the whole
// VM down with a non-zero exit. Deferred blocks do not run.
func (m *Machine) panicProcess(p *process.Process, message string) {
	report := formatPanic(p, message)
	fmt.Fprint(m.errOut, report)

	if m.log != nil {
		m.log.Err().
			Uint64("process", p.Identifier()).
			Str("message", message).
			Log("process panicked")
	}

	p.CancelTimer()
	p.Terminate()
	p.Heap().Destroy()
	m.table.Remove(p)
	m.exit(ExitPanic)
}

// finishProcess handles normal completion: the last frame returned or the
// process executed ProcessTerminateCurrent.
func (m *Machine) finishProcess(p *process.Process, returned object.Value) {
	p.CancelTimer()
	p.Terminate()
	p.Heap().Destroy()
	m.table.Remove(p)

	if p == m.main {
		code := ExitNormal
		if n, ok := object.IntValueOf(returned); ok {
			code = int(n)
		}
		m.exit(code)
	}
}
