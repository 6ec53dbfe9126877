//go:build unix

package osheap

func platformBackends() (Backend, Backend) {
	return MmapBackend(), FileMapBackend("")
}

func lookupPlatform(name string) (Backend, bool) {
	switch name {
	case "mmap":
		return MmapBackend(), true
	case "filemap":
		return FileMapBackend(""), true
	}
	return nil, false
}
