package sys

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/flswld/osmem/mem"
)

const (
	DefaultReserve   = 1 * mem.GB
	DefaultGoReserve = 64 * mem.MB
	// DefaultGoMapLimit caps live GoMemory mappings well below the largest
	// slice the Go runtime can make.
	DefaultGoMapLimit = 4 * mem.GB
)

var (
	ErrNoMemory    = errors.New("out of memory")
	ErrInvalidSize = errors.New("invalid size")
)

// OS is the pair of memory primitives the allocator is built on: a single
// contiguous segment grown by Sbrk, and independent anonymous mappings.
type OS interface {
	// Sbrk grows the segment by increment bytes and returns the previous break.
	// Successive calls return contiguous addresses.
	Sbrk(increment uint64) (unsafe.Pointer, error)
	// Mmap returns a fresh zeroed private mapping of size bytes.
	Mmap(size uint64) (unsafe.Pointer, error)
	// Munmap releases a mapping previously returned by Mmap with the same size.
	Munmap(p unsafe.Pointer, size uint64) error
	PageSize() uint64
}

func roundUp(size uint64, page uint64) uint64 {
	return (size + page - 1) / page * page
}

const (
	BackendUnix = "unix"
	BackendGo   = "go"
)

var ErrUnknownBackend = errors.New("unknown backend")
