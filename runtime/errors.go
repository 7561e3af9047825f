package runtime

import "errors"

// Sentinel errors returned by non-trap failure paths: instantiation validation, remap lookups,
// and reservation failures. These are ordinary Go errors, not Exceptions, because they are
// detected before any Wasm code starts running and have no call stack to capture.
var (
	// ErrInvalidArgument is returned when a Compartment.Remap target ID doesn't exist, when an
	// import's kind or type doesn't match its descriptor, or when a dropped segment is reused.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrOutOfMemory is returned when a virtual-address reservation or page commit fails, or when
	// a ResourceQuota denies the request.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrCompartmentHasReferences is returned by Compartment.TryCollect when root references remain.
	ErrCompartmentHasReferences = errors.New("compartment still has root references")
)
