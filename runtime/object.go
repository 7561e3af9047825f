package runtime

import "sync/atomic"

// ObjectKind discriminates the variants of Object. Modeling the object graph as a tagged sum
// instead of an inheritance hierarchy keeps downcasts to a single comparison.
type ObjectKind byte

const (
	ObjectKindFunction ObjectKind = iota
	ObjectKindTable
	ObjectKindMemory
	ObjectKindGlobal
	ObjectKindExceptionType
	ObjectKindException
	ObjectKindInstance
	ObjectKindContext
	ObjectKindCompartment
	ObjectKindForeign
)

// String implements fmt.Stringer.
func (k ObjectKind) String() string {
	switch k {
	case ObjectKindFunction:
		return "function"
	case ObjectKindTable:
		return "table"
	case ObjectKindMemory:
		return "memory"
	case ObjectKindGlobal:
		return "global"
	case ObjectKindExceptionType:
		return "exceptiontype"
	case ObjectKindException:
		return "exception"
	case ObjectKindInstance:
		return "instance"
	case ObjectKindContext:
		return "context"
	case ObjectKindCompartment:
		return "compartment"
	case ObjectKindForeign:
		return "foreign"
	}
	return "unknown"
}

// Finalizer is invoked with an object's userData when the object is destroyed.
type Finalizer func(userData interface{})

// object is the shared metadata embedded in every non-Function Object variant: kind, owning
// compartment, atomic root-reference count, debug name, and userData/finalizer. Functions embed
// their own variant (functionMutableData) because their bodies must stay in read-only pages once
// the owning JIT module marks its code section executable; see Function in instance.go.
type object struct {
	kind        ObjectKind
	compartment *Compartment
	id          int
	debugName   string

	rootRefs int64 // atomic

	userData interface{}
	finalize Finalizer
}

// Kind returns the ObjectKind discriminant.
func (o *object) Kind() ObjectKind { return o.kind }

// Compartment returns the compartment that owns this object. Never changes after construction.
func (o *object) CompartmentOf() *Compartment { return o.compartment }

// ID is this object's index into its compartment's per-kind table.
func (o *object) ID() int { return o.id }

// DebugName returns the human-readable name attached at creation, possibly empty.
func (o *object) DebugName() string { return o.debugName }

// UserData returns the opaque value attached by SetUserData, or nil.
func (o *object) UserData() interface{} { return o.userData }

// SetUserData attaches an opaque value and its finalizer, replacing any previous pair.
func (o *object) SetUserData(data interface{}, finalize Finalizer) {
	o.userData = data
	o.finalize = finalize
}

// addRoot atomically increments the root-reference count and returns the new value.
func (o *object) addRoot() int64 { return atomic.AddInt64(&o.rootRefs, 1) }

// releaseRoot atomically decrements the root-reference count and returns the new value.
func (o *object) releaseRoot() int64 { return atomic.AddInt64(&o.rootRefs, -1) }

// rootCount atomically reads the current root-reference count.
func (o *object) rootCount() int64 { return atomic.LoadInt64(&o.rootRefs) }

func (o *object) runFinalizer() {
	if o.finalize != nil {
		o.finalize(o.userData)
		o.finalize = nil
	}
}

// Object is the common interface satisfied by every compartment-owned entity.
type Object interface {
	Kind() ObjectKind
	CompartmentOf() *Compartment
	ID() int
	DebugName() string
	UserData() interface{}
	SetUserData(data interface{}, finalize Finalizer)
}
