package osmem

import (
	"math"
	"math/bits"
	"unsafe"

	"github.com/flswld/osmem/block"
	"github.com/flswld/osmem/logger"
	"github.com/flswld/osmem/mem"
	"github.com/flswld/osmem/sys"
)

const (
	// MmapThreshold is the total block size (payload plus header) from which
	// Malloc serves a request with a dedicated mapping.
	MmapThreshold = 128 * mem.KB
	// InitialHeapSize is extended once, on the first heap request, and handed
	// out whole as a single record.
	InitialHeapSize = 128 * mem.KB
)

const maxRequest = math.MaxInt64 - block.HeaderSize - mem.ALIGNMENT

type Config struct {
	OS    sys.OS
	Debug bool
	Name  string
}

// Allocator serves Malloc, Calloc, Realloc and Free from a growing heap
// segment and from anonymous mappings. It is not safe for concurrent use and
// must not be re-entered; callers that share one across goroutines need their
// own locking.
type Allocator struct {
	name         string
	os           sys.OS
	debug        bool
	blocks       block.List
	preallocated bool
	allocSize    uint64
	counters     counters
}

func New(cfg *Config) *Allocator {
	if cfg == nil {
		cfg = new(Config)
	}
	a := &Allocator{
		name:  cfg.Name,
		os:    cfg.OS,
		debug: cfg.Debug,
	}
	if a.os == nil {
		a.os = sys.Default()
	}
	if a.name == "" {
		a.name = "osmem"
	}
	return a
}

func (a *Allocator) Name() string {
	return a.name
}

func (a *Allocator) OS() sys.OS {
	return a.os
}

func (a *Allocator) Blocks() *block.List {
	return &a.blocks
}

func (a *Allocator) GetAllocSize() uint64 {
	return a.allocSize
}

func (a *Allocator) Malloc(size uint64) unsafe.Pointer {
	a.counters.malloc++
	if size == 0 || size > maxRequest {
		return nil
	}
	p := a.obtain(size, MmapThreshold).Payload()
	if a.debug {
		logger.Debug("[%s] malloc size:%d ptr:%p", a.name, size, p)
	}
	return p
}

func (a *Allocator) Calloc(count uint64, size uint64) unsafe.Pointer {
	a.counters.calloc++
	if count == 0 || size == 0 {
		return nil
	}
	hi, total := bits.Mul64(count, size)
	if hi != 0 || total > maxRequest {
		return nil
	}
	b := a.obtain(total, a.os.PageSize())
	mem.MemZero(b.Payload(), b.Size())
	if a.debug {
		logger.Debug("[%s] calloc count:%d size:%d ptr:%p", a.name, count, size, b.Payload())
	}
	return b.Payload()
}

func (a *Allocator) Free(p unsafe.Pointer) bool {
	a.counters.free++
	if p == nil {
		return true
	}
	ok := a.release(block.FromPayload(p))
	if a.debug {
		logger.Debug("[%s] free ptr:%p ok:%v", a.name, p, ok)
	}
	return ok
}

func (a *Allocator) Realloc(p unsafe.Pointer, size uint64) unsafe.Pointer {
	a.counters.realloc++
	if p == nil {
		return a.Malloc(size)
	}
	if size == 0 {
		a.Free(p)
		return nil
	}
	if size > maxRequest {
		return nil
	}
	np := a.resize(block.FromPayload(p), size)
	if a.debug {
		logger.Debug("[%s] realloc ptr:%p size:%d new:%p", a.name, p, size, np)
	}
	return np
}

// obtain runs the placement policy for a request of size payload bytes. Blocks
// whose total size reaches threshold get their own mapping.
func (a *Allocator) obtain(size uint64, threshold uint64) *block.Block {
	payload := mem.Align(size)
	total := payload + block.HeaderSize
	if total >= threshold {
		return a.mapBlock(payload)
	}
	if !a.preallocated {
		b := block.At(a.sbrk(InitialHeapSize))
		a.blocks.InsertHeap(b, InitialHeapSize-block.HeaderSize)
		a.preallocated = true
		a.allocSize += InitialHeapSize
		return b
	}
	a.blocks.Coalesce()
	b := a.blocks.FindBest(payload)
	if b == nil {
		b = block.At(a.sbrk(total))
		a.blocks.InsertHeap(b, payload)
		a.allocSize += total
		return b
	}
	if b.Size() < payload {
		a.sbrk(payload - b.Size())
		b.SetSize(payload)
	}
	b.SetStatus(block.Allocated)
	a.allocSize += b.Size() + block.HeaderSize
	return b
}

func (a *Allocator) mapBlock(payload uint64) *block.Block {
	total := payload + block.HeaderSize
	p, err := a.os.Mmap(total)
	if err != nil {
		a.fatal("mmap", total, err)
	}
	a.counters.mmap++
	a.counters.mappedBytes += total
	b := block.At(p)
	a.blocks.InsertMapped(b, payload)
	a.allocSize += total
	return b
}

func (a *Allocator) sbrk(increment uint64) unsafe.Pointer {
	p, err := a.os.Sbrk(increment)
	if err != nil {
		a.fatal("sbrk", increment, err)
	}
	a.counters.sbrk++
	a.counters.heapBytes += increment
	return p
}

func (a *Allocator) munmap(b *block.Block) {
	total := b.Size() + block.HeaderSize
	err := a.os.Munmap(unsafe.Pointer(b), total)
	if err != nil {
		a.fatal("munmap", total, err)
	}
	a.counters.munmap++
	a.counters.mappedBytes -= total
}

func (a *Allocator) release(b *block.Block) bool {
	switch b.Status() {
	case block.Allocated:
		b.SetStatus(block.Free)
		a.allocSize -= b.Size() + block.HeaderSize
		return true
	case block.Mapped:
		a.allocSize -= b.Size() + block.HeaderSize
		a.blocks.Delete(b)
		a.munmap(b)
		return true
	default:
		return false
	}
}

func (a *Allocator) resize(b *block.Block, size uint64) unsafe.Pointer {
	payload := mem.Align(size)
	switch b.Status() {
	case block.Mapped:
		if payload+block.HeaderSize >= MmapThreshold && payload <= b.Size() {
			return b.Payload()
		}
		return a.move(b, b.Size(), size)
	case block.Allocated:
	default:
		return nil
	}
	old := b.Size()
	if b.Size() < payload {
		a.blocks.Absorb(b, payload)
	}
	if b.Size() < payload && b.IsHeapTail() {
		a.sbrk(payload - b.Size())
		b.SetSize(payload)
	}
	if b.Size() < payload {
		a.allocSize += b.Size() - old
		return a.move(b, old, size)
	}
	a.blocks.Split(b, payload)
	a.allocSize = a.allocSize - old + b.Size()
	return b.Payload()
}

// move copies the first min(old, size) bytes of b to a fresh block and
// releases b. old is the payload b held before any neighbour was absorbed.
func (a *Allocator) move(b *block.Block, old uint64, size uint64) unsafe.Pointer {
	nb := a.obtain(size, MmapThreshold)
	mem.MemCpy(nb.Payload(), b.Payload(), min(old, size))
	a.release(b)
	return nb.Payload()
}
