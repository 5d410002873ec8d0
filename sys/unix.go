//go:build unix

package sys

import (
	"math"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Unix emulates a program break inside one address space reservation and
// serves mappings with mmap(2). The real brk(2) is left to the Go runtime and
// libc.
type Unix struct {
	region    []byte
	brk       uint64
	committed uint64
	page      uint64
}

func NewUnix(reserve uint64) (*Unix, error) {
	if reserve == 0 {
		return nil, errors.Wrap(ErrInvalidSize, "reserve break region")
	}
	page := uint64(unix.Getpagesize())
	reserve = roundUp(reserve, page)
	if reserve > math.MaxInt || reserve == 0 {
		return nil, errors.Wrapf(ErrInvalidSize, "reserve break region of %d bytes", reserve)
	}
	region, err := unix.Mmap(-1, 0, int(reserve), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|mapNoReserve)
	if err != nil {
		return nil, errors.Wrapf(err, "reserve break region of %d bytes", reserve)
	}
	u := &Unix{
		region:    region,
		brk:       0,
		committed: 0,
		page:      page,
	}
	return u, nil
}

func (u *Unix) base() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(u.region))
}

func (u *Unix) Sbrk(increment uint64) (unsafe.Pointer, error) {
	if u.region == nil {
		return nil, errors.Wrap(ErrNoMemory, "sbrk on closed region")
	}
	if increment > uint64(len(u.region))-u.brk {
		return nil, errors.Wrapf(ErrNoMemory, "sbrk %d bytes with %d left", increment, uint64(len(u.region))-u.brk)
	}
	old := unsafe.Add(u.base(), u.brk)
	end := u.brk + increment
	need := roundUp(end, u.page)
	if need > u.committed {
		err := unix.Mprotect(u.region[u.committed:need], unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return nil, errors.Wrapf(err, "commit %d bytes of break region", need-u.committed)
		}
		u.committed = need
	}
	u.brk = end
	return old, nil
}

func (u *Unix) Mmap(size uint64) (unsafe.Pointer, error) {
	if size == 0 || size > math.MaxInt {
		return nil, errors.Wrapf(ErrInvalidSize, "mmap %d bytes", size)
	}
	b, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %d bytes", size)
	}
	return unsafe.Pointer(unsafe.SliceData(b)), nil
}

func (u *Unix) Munmap(p unsafe.Pointer, size uint64) error {
	if p == nil || size == 0 || size > math.MaxInt {
		return errors.Wrapf(ErrInvalidSize, "munmap %d bytes", size)
	}
	// x/sys/unix tracks live mappings by their last byte, so a slice rebuilt
	// with the original length resolves to the same mapping.
	err := unix.Munmap(unsafe.Slice((*byte)(p), size))
	if err != nil {
		return errors.Wrapf(err, "munmap %d bytes at %p", size, p)
	}
	return nil
}

func (u *Unix) PageSize() uint64 {
	return u.page
}

// Break returns the current end of the emulated segment.
func (u *Unix) Break() unsafe.Pointer {
	return unsafe.Add(u.base(), u.brk)
}

// Close drops the whole reservation. Every pointer obtained through Sbrk
// becomes invalid.
func (u *Unix) Close() error {
	if u.region == nil {
		return nil
	}
	err := unix.Munmap(u.region)
	if err != nil {
		return errors.Wrap(err, "release break region")
	}
	u.region = nil
	u.brk = 0
	u.committed = 0
	return nil
}
