package vm

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/YorickPeterse/inko/bytecode"
	"github.com/YorickPeterse/inko/object"
)

// lookupCacheSize bounds the shared polymorphic lookup cache.
const lookupCacheSize = 1024

// inlineCache is the monomorphic per-call-site cache: one (class → value)
// pair per attribute-lookup instruction. Code objects are shared between
// processes, so the entry is swapped atomically.
type inlineCache struct {
	entry atomic.Pointer[cacheEntry]
}

type cacheEntry struct {
	class *object.Class
	value object.Value
}

// lookupKey keys the polymorphic fallback cache.
type lookupKey struct {
	class *object.Class
	name  *object.Symbol
}

// lookupCaches owns both cache tiers: per-instruction monomorphic caches and
// the shared LRU for megamorphic sites.
type lookupCaches struct {
	mu    sync.Mutex
	inline map[*bytecode.CodeObject][]inlineCache

	poly *lru.Cache[lookupKey, object.Value]
}

func newLookupCaches() *lookupCaches {
	poly, _ := lru.New[lookupKey, object.Value](lookupCacheSize)
	return &lookupCaches{
		inline: make(map[*bytecode.CodeObject][]inlineCache),
		poly:   poly,
	}
}

// siteCache returns the inline cache slot for one instruction of code.
func (c *lookupCaches) siteCache(code *bytecode.CodeObject, ip int) *inlineCache {
	c.mu.Lock()
	caches, ok := c.inline[code]
	if !ok {
		caches = make([]inlineCache, len(code.Instructions))
		c.inline[code] = caches
	}
	c.mu.Unlock()
	return &caches[ip]
}

// lookupClassAttribute resolves name against class with both cache tiers.
// Only class-level lookups are cached: per-object attribute tables are
// checked by the caller first and are never cacheable.
func (c *lookupCaches) lookupClassAttribute(site *inlineCache, class *object.Class, name *object.Symbol) (object.Value, bool) {
	if e := site.entry.Load(); e != nil && e.class == class {
		return e.value, true
	}

	key := lookupKey{class: class, name: name}
	if v, ok := c.poly.Get(key); ok {
		site.entry.Store(&cacheEntry{class: class, value: v})
		return v, true
	}

	v, ok := class.GetAttribute(name)
	if !ok {
		if v, ok = class.LookupMethod(name); !ok {
			return object.Value{}, false
		}
	}

	site.entry.Store(&cacheEntry{class: class, value: v})
	c.poly.Add(key, v)
	return v, true
}
