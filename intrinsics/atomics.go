package intrinsics

import (
	"sync"
	"time"

	"github.com/wavmgo/wavm/invoke"
	"github.com/wavmgo/wavm/runtime"
)

// waitQueue is the process-wide table of waiter channels keyed by the absolute address of the
// memory location being waited on, backing the threads proposal's atomic.wait/atomic.notify.
// A native engine parks the OS thread directly; this Go
// implementation parks the goroutine on a channel instead, which is the idiomatic Go analogue of
// a futex wait queue.
var waitQueues = struct {
	mu sync.Mutex
	m  map[uintptr]*waitQueueEntry
}{m: map[uintptr]*waitQueueEntry{}}

type waitQueueEntry struct {
	waiters []chan struct{}
}

const (
	atomicsWaitOK        = 0
	atomicsWaitMismatch  = 1
	atomicsWaitTimedOut  = 2
)

// AtomicWait32 implements memory.atomic.wait32: blocks the calling goroutine until notified or
// timeoutNanos elapses (a negative value means wait forever), failing immediately with
// atomicsWaitMismatch if *expected does not match the current value at ptr.
func AtomicWait32(mem *runtime.Memory, offset uint64, expected uint32, timeoutNanos int64) uint32 {
	ptr, ok := mem.GetValidatedOffsetRange(offset, 4)
	if !ok {
		invoke.Throw(runtime.NewTrap("outOfBoundsMemoryAccess", offset, 4))
	}
	if offset%4 != 0 {
		invoke.Throw(runtime.NewTrap("misalignedAtomicMemoryAccess", offset))
	}
	return wait(ptr, timeoutNanos, func() bool { return loadU32(ptr) == expected })
}

// AtomicWait64 is AtomicWait32 for an 8-byte location.
func AtomicWait64(mem *runtime.Memory, offset uint64, expected uint64, timeoutNanos int64) uint32 {
	ptr, ok := mem.GetValidatedOffsetRange(offset, 8)
	if !ok {
		invoke.Throw(runtime.NewTrap("outOfBoundsMemoryAccess", offset, 8))
	}
	if offset%8 != 0 {
		invoke.Throw(runtime.NewTrap("misalignedAtomicMemoryAccess", offset))
	}
	return wait(ptr, timeoutNanos, func() bool { return loadU64(ptr) == expected })
}

// wait registers the calling goroutine's waiter channel in the same critical section that checks
// matches (the condition a caller wants re-checked once holding waitQueues.mu), so a concurrent
// AtomicNotify between the compare and the enqueue can never be lost: either it runs before this
// critical section (and matches observes the new value) or after the waiter is already enqueued
// (and AtomicNotify's own lock acquisition serializes behind it), never in the gap between them.
func wait(ptr uintptr, timeoutNanos int64, matches func() bool) uint32 {
	ch := make(chan struct{}, 1)

	waitQueues.mu.Lock()
	if !matches() {
		waitQueues.mu.Unlock()
		return atomicsWaitMismatch
	}
	e, ok := waitQueues.m[ptr]
	if !ok {
		e = &waitQueueEntry{}
		waitQueues.m[ptr] = e
	}
	e.waiters = append(e.waiters, ch)
	waitQueues.mu.Unlock()

	if timeoutNanos < 0 {
		<-ch
		return atomicsWaitOK
	}
	select {
	case <-ch:
		return atomicsWaitOK
	case <-time.After(time.Duration(timeoutNanos)):
		return atomicsWaitTimedOut
	}
}

// AtomicNotify implements memory.atomic.notify: wakes up to count waiters parked on ptr's address
// and returns how many were actually woken.
func AtomicNotify(mem *runtime.Memory, offset uint64, count uint32) uint32 {
	ptr, ok := mem.GetValidatedOffsetRange(offset, 4)
	if !ok {
		invoke.Throw(runtime.NewTrap("outOfBoundsMemoryAccess", offset, 4))
	}

	waitQueues.mu.Lock()
	defer waitQueues.mu.Unlock()
	e, ok := waitQueues.m[ptr]
	if !ok || len(e.waiters) == 0 {
		return 0
	}
	n := uint32(len(e.waiters))
	if count < n {
		n = count
	}
	woken := e.waiters[:n]
	e.waiters = e.waiters[n:]
	if len(e.waiters) == 0 {
		delete(waitQueues.m, ptr)
	}
	for _, ch := range woken {
		ch <- struct{}{}
	}
	return n
}

func loadU32(ptr uintptr) uint32 { return *(*uint32)(ptrOf(ptr)) }
func loadU64(ptr uintptr) uint64 { return *(*uint64)(ptrOf(ptr)) }
