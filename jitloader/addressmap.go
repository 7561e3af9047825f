package jitloader

import "fmt"

// SourceMapping associates a code offset with a source location, letting a debugger or exception
// unwinder symbolicate a trap's instruction pointer back to the original text. Entries must be sorted by Offset ascending.
type SourceMapping struct {
	Offset int
	File   string
	Line   int
}

// SourceLocation resolves ip to a file/line pair via binary search over the module's SourceMap,
// or reports ok=false if ip falls outside any mapped range or the module carries no source map
// (e.g. it was loaded from a cache with debug info stripped).
func (lm *LoadedModule) SourceLocation(ip uintptr) (file string, line int, ok bool) {
	if len(lm.sourceMap) == 0 {
		return "", 0, false
	}
	off := int(ip - lm.Base)
	lo, hi := 0, len(lm.sourceMap)
	for lo < hi {
		mid := (lo + hi) / 2
		if lm.sourceMap[mid].Offset <= off {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return "", 0, false
	}
	m := lm.sourceMap[lo-1]
	return m.File, m.Line, true
}

// Symbolicate renders ip as "<module>:<function>+<offset> (<file>:<line>)" for diagnostics,
// falling back to progressively less specific forms as information is unavailable.
func (l *Loader) Symbolicate(ip uintptr) string {
	lm, ok := l.ModuleContainingAddress(ip)
	if !ok {
		return fmt.Sprintf("0x%x <unknown module>", ip)
	}
	sym, ok := lm.FunctionContainingAddress(ip)
	if !ok {
		return fmt.Sprintf("0x%x <%s+0x%x>", ip, lm.Module.DebugNameSafe(), ip-lm.Base)
	}
	s := fmt.Sprintf("%s+0x%x", sym.Name, int(ip-lm.Base)-sym.Offset)
	if file, line, ok := lm.SourceLocation(ip); ok {
		s += fmt.Sprintf(" (%s:%d)", file, line)
	}
	return s
}
