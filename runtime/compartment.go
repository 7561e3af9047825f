package runtime

import (
	"fmt"
	"sync"
)

// Compartment is the isolation container: it owns every table, memory, global,
// instance, context, exception type, and foreign created within it, and assigns each a dense
// integer ID used both as a map key here and as an index into compartmentRuntimeData.
//
// All mutation of the ID maps (object creation/destruction) takes the exclusive side of mu;
// lookups take the shareable side.
type Compartment struct {
	mu sync.RWMutex

	debugName string
	data      *compartmentRuntimeData

	memories       map[int]*Memory
	tables         map[int]*Table
	globals        map[int]*Global
	instances      map[int]*Instance
	contexts       map[int]*Context
	exceptionTypes map[int]*ExceptionType
	foreigns       map[int]*Foreign

	nextMemoryID, nextTableID, nextGlobalID         int
	nextInstanceID, nextExceptionTypeID, nextForeignID int
	freeContextIDs                                  []int
	nextContextID                                   int

	// mutableGlobalBits is the dense allocation bitset selecting free slots in
	// ContextRuntimeData.mutable_globals, shared by every Context in this compartment.
	mutableGlobalBits []uint64

	// initialContextMutableGlobals is the template copied into every new Context's
	// mutable-globals array, and updated whenever a mutable Global is (re-)initialized.
	initialContextMutableGlobals [MaxMutableGlobals][2]uint64
}

// NewCompartment creates a Compartment with the given debug name, reserving its runtime-data
// region at the mask alignment and committing the pages up to the context array.
func NewCompartment(debugName string) (*Compartment, error) {
	c := &Compartment{
		debugName:      debugName,
		memories:       map[int]*Memory{},
		tables:         map[int]*Table{},
		globals:        map[int]*Global{},
		instances:      map[int]*Instance{},
		contexts:       map[int]*Context{},
		exceptionTypes: map[int]*ExceptionType{},
		foreigns:       map[int]*Foreign{},
		mutableGlobalBits: make([]uint64, (MaxMutableGlobals+63)/64),
	}
	data, err := newCompartmentRuntimeData(c)
	if err != nil {
		return nil, err
	}
	c.data = data
	return c, nil
}

// DebugName returns the name given at creation.
func (c *Compartment) DebugName() string { return c.debugName }

// Contains reports whether obj was created within c.
func (c *Compartment) Contains(obj Object) bool {
	return obj != nil && obj.CompartmentOf() == c
}

// Close tears down the compartment unconditionally, releasing its runtime-data region. Prefer
// TryCollect in embedders that must honor outstanding root references.
func (c *Compartment) Close() error {
	return c.data.close()
}

// TryCollect destroys every object owned by c in reverse dependency order (instances first,
// then tables/memories/globals/exception types/foreigns, then contexts), but only when no root
// reference to any owned object remains outstanding. It fails with ErrCompartmentHasReferences
// otherwise, leaving the compartment untouched.
func (c *Compartment) TryCollect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, set := range []interface{ rootCounts() []int64 }{
		instanceSet(c.instances), memorySet(c.memories), tableSet(c.tables),
		globalSet(c.globals), exceptionTypeSet(c.exceptionTypes), foreignSet(c.foreigns),
	} {
		for _, n := range set.rootCounts() {
			if n > 0 {
				return ErrCompartmentHasReferences
			}
		}
	}

	for _, inst := range c.instances {
		inst.destroyLocked()
	}
	for _, m := range c.memories {
		_ = m.closeLocked()
	}
	for _, t := range c.tables {
		_ = t.closeLocked()
	}
	for id := range c.contexts {
		_ = c.data.decommitContext(id)
	}
	c.memories = map[int]*Memory{}
	c.tables = map[int]*Table{}
	c.globals = map[int]*Global{}
	c.instances = map[int]*Instance{}
	c.contexts = map[int]*Context{}
	c.exceptionTypes = map[int]*ExceptionType{}
	c.foreigns = map[int]*Foreign{}
	return c.data.close()
}

// Remap looks up newCompartment's object table at obj's ID and returns the corresponding object.
// It fails with ErrInvalidArgument if no object with that ID and kind exists in newCompartment.
func (c *Compartment) Remap(obj Object, newCompartment *Compartment) (Object, error) {
	newCompartment.mu.RLock()
	defer newCompartment.mu.RUnlock()

	id := obj.ID()
	switch obj.Kind() {
	case ObjectKindMemory:
		if m, ok := newCompartment.memories[id]; ok {
			return m, nil
		}
	case ObjectKindTable:
		if t, ok := newCompartment.tables[id]; ok {
			return t, nil
		}
	case ObjectKindGlobal:
		if g, ok := newCompartment.globals[id]; ok {
			return g, nil
		}
	case ObjectKindInstance:
		if i, ok := newCompartment.instances[id]; ok {
			return i, nil
		}
	case ObjectKindExceptionType:
		if e, ok := newCompartment.exceptionTypes[id]; ok {
			return e, nil
		}
	case ObjectKindForeign:
		if f, ok := newCompartment.foreigns[id]; ok {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: no %s with id %d in compartment %q", ErrInvalidArgument, obj.Kind(), id, newCompartment.debugName)
}

// Clone produces a new compartment whose object IDs match c's: memories are cloned by copying
// committed contents, tables by copying their element arrays, globals by copying their initial
// value (and, if mutable, the shared initial-mutable-globals template); reference-typed initial
// values are remapped into the clone. Instances and contexts keep their source IDs and share a
// pinned copy of the originating JIT module (via Instance.Clone).
func (c *Compartment) Clone(debugName string) (*Compartment, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone, err := NewCompartment(debugName)
	if err != nil {
		return nil, err
	}
	clone.initialContextMutableGlobals = c.initialContextMutableGlobals
	clone.mutableGlobalBits = append([]uint64(nil), c.mutableGlobalBits...)

	for id, m := range c.memories {
		cm, err := m.cloneInto(clone, id)
		if err != nil {
			return nil, err
		}
		clone.memories[id] = cm
		if id >= clone.nextMemoryID {
			clone.nextMemoryID = id + 1
		}
	}
	for id, t := range c.tables {
		ct, err := t.cloneInto(clone, id)
		if err != nil {
			return nil, err
		}
		clone.tables[id] = ct
		if id >= clone.nextTableID {
			clone.nextTableID = id + 1
		}
	}
	for id, g := range c.globals {
		cg := g.cloneInto(clone, id)
		clone.globals[id] = cg
		if id >= clone.nextGlobalID {
			clone.nextGlobalID = id + 1
		}
	}
	for id, et := range c.exceptionTypes {
		clone.exceptionTypes[id] = et.cloneInto(clone, id)
		if id >= clone.nextExceptionTypeID {
			clone.nextExceptionTypeID = id + 1
		}
	}
	for id, f := range c.foreigns {
		clone.foreigns[id] = f.cloneInto(clone, id)
		if id >= clone.nextForeignID {
			clone.nextForeignID = id + 1
		}
	}
	for id, ctx := range c.contexts {
		cctx, err := clone.newContextWithID(id)
		if err != nil {
			return nil, err
		}
		cctx.debugName = ctx.debugName
	}
	// Instances are cloned last: they reference the already-cloned tables/memories/globals.
	for id, inst := range c.instances {
		ci, err := inst.cloneInto(clone, id)
		if err != nil {
			return nil, err
		}
		clone.instances[id] = ci
		if id >= clone.nextInstanceID {
			clone.nextInstanceID = id + 1
		}
	}
	return clone, nil
}

// MemoryByID returns the Memory with the given compartment-local id, or nil.
func (c *Compartment) MemoryByID(id int) *Memory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.memories[id]
}

// TableByID returns the Table with the given compartment-local id, or nil.
func (c *Compartment) TableByID(id int) *Table {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tables[id]
}

// GlobalByID returns the Global with the given compartment-local id, or nil.
func (c *Compartment) GlobalByID(id int) *Global {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.globals[id]
}

// InstanceByID returns the Instance with the given compartment-local id, or nil.
func (c *Compartment) InstanceByID(id int) *Instance {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instances[id]
}

// ExceptionTypeByID returns the ExceptionType with the given compartment-local id, or nil.
func (c *Compartment) ExceptionTypeByID(id int) *ExceptionType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exceptionTypes[id]
}

// allocateMutableGlobalSlot selects the smallest free bit in the dense allocation bitset.
func (c *Compartment) allocateMutableGlobalSlot() (int, bool) {
	for word := range c.mutableGlobalBits {
		if c.mutableGlobalBits[word] == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			idx := word*64 + bit
			if idx >= MaxMutableGlobals {
				return 0, false
			}
			if c.mutableGlobalBits[word]&(1<<uint(bit)) == 0 {
				c.mutableGlobalBits[word] |= 1 << uint(bit)
				return idx, true
			}
		}
	}
	return 0, false
}

func (c *Compartment) freeMutableGlobalSlot(idx int) {
	c.mutableGlobalBits[idx/64] &^= 1 << uint(idx%64)
}

func (c *Compartment) broadcastMutableGlobal(slot int, value [2]uint64) {
	c.initialContextMutableGlobals[slot] = value
	for _, ctx := range c.contexts {
		*mutableGlobalSlot(c.data.contextBase(ctx.id), slot) = value
	}
}

// --- rootCounts() adapters used by TryCollect to scan every owned kind uniformly. ---

type instanceSet map[int]*Instance

func (s instanceSet) rootCounts() []int64 {
	r := make([]int64, 0, len(s))
	for _, v := range s {
		r = append(r, v.rootCount())
	}
	return r
}

type memorySet map[int]*Memory

func (s memorySet) rootCounts() []int64 {
	r := make([]int64, 0, len(s))
	for _, v := range s {
		r = append(r, v.rootCount())
	}
	return r
}

type tableSet map[int]*Table

func (s tableSet) rootCounts() []int64 {
	r := make([]int64, 0, len(s))
	for _, v := range s {
		r = append(r, v.rootCount())
	}
	return r
}

type globalSet map[int]*Global

func (s globalSet) rootCounts() []int64 {
	r := make([]int64, 0, len(s))
	for _, v := range s {
		r = append(r, v.rootCount())
	}
	return r
}

type exceptionTypeSet map[int]*ExceptionType

func (s exceptionTypeSet) rootCounts() []int64 {
	r := make([]int64, 0, len(s))
	for _, v := range s {
		r = append(r, v.rootCount())
	}
	return r
}

type foreignSet map[int]*Foreign

func (s foreignSet) rootCounts() []int64 {
	r := make([]int64, 0, len(s))
	for _, v := range s {
		r = append(r, v.rootCount())
	}
	return r
}
