package runtime

import "sync"

// liveMemoryList is the process-wide, RW-mutex-guarded list of live Memory objects used for
// fault attribution: memories are discoverable by address alone.
// It is deliberately compartment-independent: a signal handler attributing a fault knows only an
// address, not which compartment raised it.
type liveMemoryList struct {
	mu   sync.RWMutex
	live []*Memory
}

var globalLiveMemories liveMemoryList

func (l *liveMemoryList) add(m *Memory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.live = append(l.live, m)
}

func (l *liveMemoryList) remove(m *Memory) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, v := range l.live {
		if v == m {
			l.live[i] = l.live[len(l.live)-1]
			l.live = l.live[:len(l.live)-1]
			return
		}
	}
}

func (l *liveMemoryList) find(addr uintptr) (*Memory, uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, m := range l.live {
		base := m.BaseAddress()
		if addr >= base && addr < base+uintptr(m.ReservedBytes()) {
			return m, uint64(addr - base), true
		}
	}
	return nil, 0, false
}

// liveTableList is the Table analogue of liveMemoryList.
type liveTableList struct {
	mu   sync.RWMutex
	live []*Table
}

var globalLiveTables liveTableList

func (l *liveTableList) add(t *Table) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.live = append(l.live, t)
}

func (l *liveTableList) remove(t *Table) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, v := range l.live {
		if v == t {
			l.live[i] = l.live[len(l.live)-1]
			l.live = l.live[:len(l.live)-1]
			return
		}
	}
}

func (l *liveTableList) find(addr uintptr) (*Table, uint64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, t := range l.live {
		base := t.BaseAddress()
		if addr >= base && addr < base+uintptr(t.ReservedBytes()) {
			return t, uint64(addr - base), true
		}
	}
	return nil, 0, false
}

// IsAddressOwnedByTable is the Table analogue of IsAddressOwnedByMemory.
func IsAddressOwnedByTable(p uintptr) (tbl *Table, offset uint64, ok bool) {
	return globalLiveTables.find(p)
}
