package runtime

import (
	"fmt"
	"unsafe"
)

// Context is per-thread execution state: a slot in its Compartment's runtime-data
// region holding the thunk scratch area, a back-pointer to this Context, and the mutable-global
// array. A goroutine must hold exactly one live Context per Compartment it calls into
// concurrently; Contexts are not safe to use from more than one goroutine at a time.
type Context struct {
	object
}

// NewContext allocates a fresh Context in c, committing its ContextRuntimeData page(s) and
// initializing its mutable-global slots from the compartment's current template.
func NewContext(c *Compartment, debugName string) (*Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx, err := c.newContextWithID(-1)
	if err != nil {
		return nil, err
	}
	ctx.debugName = debugName
	return ctx, nil
}

// newContextWithID allocates a Context, reusing a previously freed ID when id < 0, or exactly id
// when id >= 0 (used by Compartment.Clone to preserve the source compartment's ID assignment).
// Callers must already hold c.mu.
func (c *Compartment) newContextWithID(id int) (*Context, error) {
	if id < 0 {
		if n := len(c.freeContextIDs); n > 0 {
			id = c.freeContextIDs[n-1]
			c.freeContextIDs = c.freeContextIDs[:n-1]
		} else {
			id = c.nextContextID
			c.nextContextID++
		}
	} else if id >= c.nextContextID {
		c.nextContextID = id + 1
	}
	if id >= MaxContexts {
		return nil, fmt.Errorf("%w: compartment %q exceeded %d contexts", ErrOutOfMemory, c.debugName, MaxContexts)
	}

	if err := c.data.commitContext(id); err != nil {
		return nil, err
	}
	ctx := &Context{object: object{kind: ObjectKindContext, compartment: c, id: id}}
	base := c.data.contextBase(id)
	putContextBackPointer(base, ctx)
	for _, g := range c.globals {
		g.writeToContext(base)
	}
	c.contexts[id] = ctx
	return ctx, nil
}

// Close releases ctx's ContextRuntimeData slot, returning its ID to the free list for reuse.
func (ctx *Context) Close() error {
	c := ctx.compartment
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.data.decommitContext(ctx.id); err != nil {
		return err
	}
	delete(c.contexts, ctx.id)
	c.freeContextIDs = append(c.freeContextIDs, ctx.id)
	return nil
}

// RuntimeDataBase returns the address compiled code dereferences to reach this Context's thunk
// scratch area, back-pointer, and mutable globals -- the pointer every JIT-compiled function
// receives as its implicit first argument.
func (ctx *Context) RuntimeDataBase() uintptr {
	return uintptr(ctx.compartment.data.contextBase(ctx.id))
}

// ContextFromRuntimeDataBase recovers the Context that owns a runtime-data base pointer, the
// inverse of RuntimeDataBase. Used by the invoke package when unwinding to attribute a trap to a
// specific Context.
func ContextFromRuntimeDataBase(base uintptr) *Context {
	return contextBackPointer(unsafe.Pointer(base))
}
