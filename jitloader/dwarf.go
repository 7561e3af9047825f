package jitloader

import "debug/dwarf"

// DebugInfo lazily resolves source locations from an embedded DWARF line table, used when a
// ModuleSpec's code was produced by a toolchain that emits standard DWARF debug sections (e.g.
// an ahead-of-time native compile) rather than the lightweight SourceMap of addressmap.go. It is
// standalone: LoadedModule.SourceLocation reads only the SourceMap and never consults a DebugInfo,
// so a caller that holds one queries it directly.
type DebugInfo struct {
	data *dwarf.Data
}

// NewDebugInfo wraps a *dwarf.Data obtained from the object file the code was linked from. Pass
// nil if no debug info is available; all lookups then report not-found.
func NewDebugInfo(data *dwarf.Data) *DebugInfo {
	return &DebugInfo{data: data}
}

// SourceLocation resolves a code offset (relative to the containing compile unit's low PC) to a
// file/line pair by scanning that unit's line table.
func (d *DebugInfo) SourceLocation(addr uint64) (file string, line int, ok bool) {
	if d == nil || d.data == nil {
		return "", 0, false
	}
	reader := d.data.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			return "", 0, false
		}
		if entry.Tag != dwarf.TagCompileUnit {
			continue
		}
		lr, err := d.data.LineReader(entry)
		if err != nil || lr == nil {
			continue
		}
		var le dwarf.LineEntry
		var prev dwarf.LineEntry
		have := false
		for {
			if err := lr.Next(&le); err != nil {
				break
			}
			if have && uint64(prev.Address) <= addr && addr < uint64(le.Address) {
				return prev.File.Name, prev.Line, true
			}
			prev = le
			have = true
		}
	}
}

