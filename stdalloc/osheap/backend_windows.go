//go:build windows

package osheap

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// virtualAllocBackend commits private pages with VirtualAlloc.
type virtualAllocBackend struct{}

// VirtualAllocBackend returns the VirtualAlloc backend.
func VirtualAllocBackend() Backend { return virtualAllocBackend{} }

func (virtualAllocBackend) Name() string { return "virtualalloc" }

func (virtualAllocBackend) Map(size int) ([]byte, error) {
	addr, err := windows.VirtualAlloc(0, uintptr(size), windows.MEM_COMMIT|windows.MEM_RESERVE, windows.PAGE_READWRITE)
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil
}

func (virtualAllocBackend) Unmap(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualFree(uintptr(unsafe.Pointer(unsafe.SliceData(b))), 0, windows.MEM_RELEASE)
}
