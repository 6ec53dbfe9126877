//go:build windows

package osheap

func platformBackends() (Backend, Backend) {
	return VirtualAllocBackend(), GoBackend()
}

func lookupPlatform(name string) (Backend, bool) {
	if name == "virtualalloc" {
		return VirtualAllocBackend(), true
	}
	return nil, false
}
