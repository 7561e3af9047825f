//go:build linux || darwin

package platform

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

func pageSize() int { return unix.Getpagesize() }

func reserveAddressSpace(size uintptr) (unsafe.Pointer, error) {
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("reserve %d bytes of address space: %w", size, err)
	}
	return unsafe.Pointer(&b[0]), nil
}

func releaseAddressSpace(addr unsafe.Pointer, size uintptr) error {
	return unix.Munmap(unsafe.Slice((*byte)(addr), size))
}

func commitPages(addr unsafe.Pointer, size uintptr) error {
	return unix.Mprotect(unsafe.Slice((*byte)(addr), size), unix.PROT_READ|unix.PROT_WRITE)
}

func decommitPages(addr unsafe.Pointer, size uintptr) error {
	b := unsafe.Slice((*byte)(addr), size)
	// MADV_DONTNEED (used on every Unix host) lets the kernel drop the physical backing; the
	// range remains reserved (no-access) via the subsequent Mprotect.
	_ = unix.Madvise(b, unix.MADV_DONTNEED)
	return unix.Mprotect(b, unix.PROT_NONE)
}

func mmapCodeSegment(code []byte) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap code segment: %w", err)
	}
	copy(b, code)
	return b, nil
}

func munmapCodeSegment(code []byte) error {
	return unix.Munmap(code)
}

func mprotectRX(code []byte) error {
	return unix.Mprotect(code, unix.PROT_READ|unix.PROT_EXEC)
}

func mprotectRWX(code []byte) error {
	return unix.Mprotect(code, unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC)
}
