package sys

import (
	"math"
	"os"
	"unsafe"

	"github.com/pkg/errors"
)

// GoMemory backs the break with a single Go byte slice and every mapping with
// its own slice, kept reachable until Munmap. Live mappings never exceed the
// map limit, DefaultGoMapLimit unless changed with SetMapLimit.
type GoMemory struct {
	segment  []byte
	brk      uint64
	mappings map[uintptr][]byte
	mapped   uint64
	mapLimit uint64
	page     uint64
}

func NewGoMemory(reserve uint64) *GoMemory {
	return &GoMemory{
		segment:  make([]byte, reserve),
		brk:      0,
		mappings: make(map[uintptr][]byte),
		mapped:   0,
		mapLimit: DefaultGoMapLimit,
		page:     uint64(os.Getpagesize()),
	}
}

func (g *GoMemory) SetMapLimit(limit uint64) {
	g.mapLimit = limit
}

func (g *GoMemory) Sbrk(increment uint64) (unsafe.Pointer, error) {
	if increment > uint64(len(g.segment))-g.brk {
		return nil, errors.Wrapf(ErrNoMemory, "sbrk %d bytes with %d left", increment, uint64(len(g.segment))-g.brk)
	}
	old := unsafe.Add(unsafe.Pointer(unsafe.SliceData(g.segment)), g.brk)
	g.brk += increment
	return old, nil
}

func (g *GoMemory) Mmap(size uint64) (unsafe.Pointer, error) {
	if size == 0 {
		return nil, errors.Wrap(ErrInvalidSize, "mmap")
	}
	if size > math.MaxInt || size > g.mapLimit-min(g.mapped, g.mapLimit) {
		return nil, errors.Wrapf(ErrNoMemory, "mmap %d bytes with %d of %d mapped", size, g.mapped, g.mapLimit)
	}
	b := make([]byte, size)
	p := unsafe.Pointer(unsafe.SliceData(b))
	g.mappings[uintptr(p)] = b
	g.mapped += size
	return p, nil
}

func (g *GoMemory) Munmap(p unsafe.Pointer, size uint64) error {
	b, exist := g.mappings[uintptr(p)]
	if !exist {
		return errors.Errorf("munmap %p: not mapped", p)
	}
	if uint64(len(b)) != size {
		return errors.Errorf("munmap %p: size %d does not match mapping of %d bytes", p, size, len(b))
	}
	delete(g.mappings, uintptr(p))
	g.mapped -= size
	return nil
}

func (g *GoMemory) PageSize() uint64 {
	return g.page
}

func (g *GoMemory) Break() unsafe.Pointer {
	return unsafe.Add(unsafe.Pointer(unsafe.SliceData(g.segment)), g.brk)
}

// Mapped returns the number of live mappings.
func (g *GoMemory) Mapped() int {
	return len(g.mappings)
}
