package object

import (
	"hash/maphash"
	"sync"
)

// Symbol is an interned attribute or method name. Symbols are permanent and
// compared by pointer; the hash is computed once at intern time.
type Symbol struct {
	name string
	hash uint64
}

// Name returns the symbol text.
func (s *Symbol) Name() string { return s.name }

// Hash returns the precomputed hash, used by attribute tables.
func (s *Symbol) Hash() uint64 { return s.hash }

func (s *Symbol) String() string { return s.name }

// SymbolPool interns names. The pool is one of the few documented globals:
// the process-shared interned-symbol pool, guarded by its own mutex.
type SymbolPool struct {
	mu      sync.RWMutex
	seed    maphash.Seed
	symbols map[string]*Symbol
}

// NewSymbolPool creates an empty pool with a fresh hash seed.
func NewSymbolPool() *SymbolPool {
	return &SymbolPool{
		seed:    maphash.MakeSeed(),
		symbols: make(map[string]*Symbol),
	}
}

// Intern returns the canonical symbol for name, creating it on first use.
// THREAD SAFE.
func (p *SymbolPool) Intern(name string) *Symbol {
	p.mu.RLock()
	sym := p.symbols[name]
	p.mu.RUnlock()
	if sym != nil {
		return sym
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if sym := p.symbols[name]; sym != nil {
		return sym
	}
	sym = &Symbol{name: name, hash: maphash.String(p.seed, name)}
	p.symbols[name] = sym
	return sym
}

// Size returns the number of interned symbols.
func (p *SymbolPool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.symbols)
}

// symbols is the global interned-symbol pool.
var symbols = NewSymbolPool()

// Intern interns name in the global pool.
func Intern(name string) *Symbol {
	return symbols.Intern(name)
}
