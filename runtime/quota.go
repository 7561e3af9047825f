package runtime

import "sync"

// ResourceQuota caps the cumulative memory pages and table elements allocated across every
// object that shares it. A quota may be shared between objects created in different
// Compartments (e.g. to bound a whole embedder session), so it owns its own mutex rather than
// relying on any single Compartment's lock.
type ResourceQuota struct {
	mu sync.Mutex

	memoryPagesUsed, memoryPagesMax uint64
	tableElemsUsed, tableElemsMax   uint64
}

// NewResourceQuota returns a quota capping memory growth to maxMemoryPages pages and table
// growth to maxTableElems elements. A zero max means unlimited for that dimension.
func NewResourceQuota(maxMemoryPages, maxTableElems uint64) *ResourceQuota {
	return &ResourceQuota{memoryPagesMax: maxMemoryPages, tableElemsMax: maxTableElems}
}

// AllocateMemoryPages reserves delta additional pages against the quota, returning false
// (without mutating any state) if doing so would exceed the cap.
func (q *ResourceQuota) AllocateMemoryPages(delta uint64) bool {
	if q == nil {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.memoryPagesMax != 0 && q.memoryPagesUsed+delta > q.memoryPagesMax {
		return false
	}
	q.memoryPagesUsed += delta
	return true
}

// FreeMemoryPages returns delta pages to the quota.
func (q *ResourceQuota) FreeMemoryPages(delta uint64) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if delta > q.memoryPagesUsed {
		delta = q.memoryPagesUsed
	}
	q.memoryPagesUsed -= delta
}

// AllocateTableElems reserves delta additional elements against the quota.
func (q *ResourceQuota) AllocateTableElems(delta uint64) bool {
	if q == nil {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.tableElemsMax != 0 && q.tableElemsUsed+delta > q.tableElemsMax {
		return false
	}
	q.tableElemsUsed += delta
	return true
}

// FreeTableElems returns delta elements to the quota.
func (q *ResourceQuota) FreeTableElems(delta uint64) {
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if delta > q.tableElemsUsed {
		delta = q.tableElemsUsed
	}
	q.tableElemsUsed -= delta
}
