package osheap

import "github.com/cockroachdb/errors"

// Backend maps and unmaps raw memory. One implementation exists per platform API.
type Backend interface {
	Name() string
	Map(size int) ([]byte, error)
	Unmap(b []byte) error
}

// ErrUnknownBackend is returned by BackendByName for names the platform lacks.
var ErrUnknownBackend = errors.New("osheap: unknown backend")

// goBackend serves blocks from the Go heap. It works everywhere and is the
// plain-malloc option.
type goBackend struct{}

// GoBackend returns the Go-heap backend.
func GoBackend() Backend { return goBackend{} }

func (goBackend) Name() string { return "go" }

func (goBackend) Map(size int) ([]byte, error) {
	if size <= 0 {
		return nil, errors.Newf("osheap: invalid size %d", size)
	}
	return make([]byte, size), nil
}

func (goBackend) Unmap([]byte) error { return nil }

// BackendByName resolves a configured backend name. "default" and "" return the
// platform's preferred pair; any single backend is returned with a nil fallback.
func BackendByName(name string) (primary, fallback Backend, err error) {
	switch name {
	case "", "default":
		primary, fallback = platformBackends()
		return primary, fallback, nil
	case "go":
		return GoBackend(), nil, nil
	}
	if b, ok := lookupPlatform(name); ok {
		return b, nil, nil
	}
	return nil, nil, errors.Wrapf(ErrUnknownBackend, "%q", name)
}
