package runtime

import (
	"sync/atomic"
	"unsafe"

	"github.com/wavmgo/wavm/api"
)

// GlobalType describes a global import/export/definition: its value type and mutability.
type GlobalType struct {
	ValueType api.ValueType
	Mutable   bool
}

// Value is a tagged 128-bit-wide Wasm value: i32/i64/f32/f64 occupy Lo, v128 occupies both words,
// funcref/externref store a Reference in Lo.
type Value struct {
	Type   api.ValueType
	Lo, Hi uint64
}

func (v Value) words() [2]uint64 { return [2]uint64{v.Lo, v.Hi} }

// Global is a typed value cell. Immutable globals store their value
// inline; mutable globals are allocated a slot in every Context's ContextRuntimeData so compiled
// code can read and write them without an indirection through the Go heap.
type Global struct {
	object

	typ   GlobalType
	value Value // authoritative for immutable globals; for mutable globals holds the init value

	slot int // index into ContextRuntimeData.mutable_globals; -1 for immutable
}

// CreateGlobal allocates a Global in c. Mutable globals consume a slot from the compartment's
// shared mutable-globals bitset, so every Context in the compartment lays its slots out
// identically; immutable globals need no slot.
func CreateGlobal(c *Compartment, typ GlobalType, initial Value, debugName string) (*Global, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextGlobalID
	c.nextGlobalID++

	g := &Global{
		object: object{kind: ObjectKindGlobal, compartment: c, id: id, debugName: debugName},
		typ:    typ,
		value:  initial,
		slot:   -1,
	}
	if typ.Mutable {
		slot, ok := c.allocateMutableGlobalSlot()
		if !ok {
			return nil, ErrOutOfMemory
		}
		g.slot = slot
		c.initialContextMutableGlobals[slot] = initial.words()
	}
	c.globals[id] = g
	return g, nil
}

// Type returns the global's value type and mutability.
func (g *Global) Type() GlobalType { return g.typ }

// Get reads the global's current value. For a mutable global this reads the compartment's
// template slot, which holds the value most recently stored by Set (or initialize). A value
// written only into one Context's own slot, as compiled code does, is not reflected here.
func (g *Global) Get() Value {
	if !g.typ.Mutable {
		return g.value
	}
	g.compartment.mu.RLock()
	defer g.compartment.mu.RUnlock()
	words := g.compartment.initialContextMutableGlobals[g.slot]
	return Value{Type: g.typ.ValueType, Lo: words[0], Hi: words[1]}
}

// Set stores a new value into a mutable global, broadcasting it into every live Context's slot so
// the write is visible regardless of which Context subsequently reads it. Set on an immutable Global is a programming error detected by the
// caller (the module validator), not guarded here.
func (g *Global) Set(v Value) {
	g.compartment.mu.Lock()
	defer g.compartment.mu.Unlock()
	g.compartment.broadcastMutableGlobal(g.slot, v.words())
}

// initialize installs a value into a global created before the value could be computed (a
// deferred ref.func initializer). For a mutable global the value is also broadcast into the
// compartment's template and every live Context, exactly as Set does.
func (g *Global) initialize(v Value) {
	g.value = v
	if g.typ.Mutable {
		g.compartment.mu.Lock()
		g.compartment.broadcastMutableGlobal(g.slot, v.words())
		g.compartment.mu.Unlock()
	}
}

// writeToContext copies this global's current value into a freshly created Context's slot.
func (g *Global) writeToContext(ctxBase unsafe.Pointer) {
	if !g.typ.Mutable {
		return
	}
	*mutableGlobalSlot(ctxBase, g.slot) = g.compartment.initialContextMutableGlobals[g.slot]
}

// cloneInto is only ever called from Compartment.Clone, which has already copied c's entire
// mutableGlobalBits bitset into dst verbatim before cloning any Global -- so g.slot's bit is
// already marked used in dst, and reusing it here (rather than calling
// dst.allocateMutableGlobalSlot, which could never return it back) is what keeps the clone's
// slot layout identical to the source's.
func (g *Global) cloneInto(dst *Compartment, id int) *Global {
	cg := &Global{
		object: object{kind: ObjectKindGlobal, compartment: dst, id: id, debugName: g.debugName},
		typ:    g.typ,
		value:  g.Get(),
		slot:   -1,
	}
	if g.typ.Mutable {
		cg.slot = g.slot
		dst.initialContextMutableGlobals[g.slot] = cg.value.words()
	}
	return cg
}

// SetInContext stores a new low word directly into one Context's slot, the write compiled code
// performs itself through its binding-table offset; exposed so host code driving a single
// Context can mirror that fast path without re-taking the compartment lock.
func (g *Global) SetInContext(ctx *Context, newLo uint64) {
	if g.slot < 0 || ctx == nil {
		return
	}
	slot := mutableGlobalSlot(unsafe.Pointer(ctx.RuntimeDataBase()), g.slot)
	atomic.StoreUint64(&slot[0], newLo)
}
