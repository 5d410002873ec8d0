//go:build unix

package sys

import (
	"github.com/pkg/errors"
)

// Default returns the break-emulating mmap backend, falling back to Go memory
// when the address space reservation is refused.
func Default() OS {
	u, err := NewUnix(DefaultReserve)
	if err != nil {
		return NewGoMemory(DefaultGoReserve)
	}
	return u
}

// Open builds the named backend with a break reservation of reserve bytes.
func Open(backend string, reserve uint64) (OS, error) {
	switch backend {
	case BackendUnix:
		return NewUnix(reserve)
	case BackendGo:
		return NewGoMemory(reserve), nil
	default:
		return nil, errors.Wrap(ErrUnknownBackend, backend)
	}
}
