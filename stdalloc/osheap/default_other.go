//go:build !unix && !windows

package osheap

func platformBackends() (Backend, Backend) {
	return GoBackend(), nil
}

func lookupPlatform(string) (Backend, bool) {
	return nil, false
}
