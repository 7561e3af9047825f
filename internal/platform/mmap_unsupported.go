//go:build !linux && !darwin && !windows

package platform

import (
	"errors"
	"unsafe"
)

var errUnsupported = errors.New("platform: virtual memory reservation unsupported on this OS")

func pageSize() int { return 4096 }

func reserveAddressSpace(uintptr) (unsafe.Pointer, error)        { return nil, errUnsupported }
func releaseAddressSpace(unsafe.Pointer, uintptr) error          { return errUnsupported }
func commitPages(unsafe.Pointer, uintptr) error                  { return errUnsupported }
func decommitPages(unsafe.Pointer, uintptr) error                { return errUnsupported }
func mmapCodeSegment(code []byte) ([]byte, error)                { return nil, errUnsupported }
func munmapCodeSegment([]byte) error                             { return errUnsupported }
func mprotectRX([]byte) error                                    { return errUnsupported }
func mprotectRWX([]byte) error                                   { return errUnsupported }
