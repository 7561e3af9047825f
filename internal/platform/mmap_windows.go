//go:build windows

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

func pageSize() int {
	var info windows.SystemInfo
	windows.GetSystemInfo(&info)
	return int(info.PageSize)
}

func reserveAddressSpace(size uintptr) (unsafe.Pointer, error) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
	if err != nil {
		return nil, fmt.Errorf("reserve %d bytes of address space: %w", size, err)
	}
	return unsafe.Pointer(addr), nil
}

func releaseAddressSpace(addr unsafe.Pointer, _ uintptr) error {
	return windows.VirtualFree(uintptr(addr), 0, windows.MEM_RELEASE)
}

func commitPages(addr unsafe.Pointer, size uintptr) error {
	_, err := windows.VirtualAlloc(uintptr(addr), size, windows.MEM_COMMIT, windows.PAGE_READWRITE)
	return err
}

func decommitPages(addr unsafe.Pointer, size uintptr) error {
	return windows.VirtualFree(uintptr(addr), size, windows.MEM_DECOMMIT)
}

func mmapCodeSegment(code []byte) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(len(code)), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, fmt.Errorf("mmap code segment: %w", err)
	}
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), len(code))
	copy(b, code)
	return b, nil
}

func munmapCodeSegment(code []byte) error {
	return windows.VirtualFree(uintptr(unsafe.Pointer(&code[0])), 0, windows.MEM_RELEASE)
}

func mprotectRX(code []byte) error {
	var old uint32
	return windows.VirtualProtect(uintptr(unsafe.Pointer(&code[0])), uintptr(len(code)), windows.PAGE_EXECUTE_READ, &old)
}

func mprotectRWX(code []byte) error {
	var old uint32
	return windows.VirtualProtect(uintptr(unsafe.Pointer(&code[0])), uintptr(len(code)), windows.PAGE_EXECUTE_READWRITE, &old)
}
