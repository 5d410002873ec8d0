//go:build !unix

package sys

import (
	"github.com/pkg/errors"
)

func Default() OS {
	return NewGoMemory(DefaultGoReserve)
}

func Open(backend string, reserve uint64) (OS, error) {
	switch backend {
	case BackendGo:
		return NewGoMemory(reserve), nil
	case BackendUnix:
		return nil, errors.Wrap(ErrUnknownBackend, "unix backend is not available on this platform")
	default:
		return nil, errors.Wrap(ErrUnknownBackend, backend)
	}
}
