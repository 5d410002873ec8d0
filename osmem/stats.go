package osmem

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/dustin/go-humanize"

	"github.com/flswld/osmem/block"
)

type counters struct {
	malloc      uint64
	calloc      uint64
	realloc     uint64
	free        uint64
	sbrk        uint64
	mmap        uint64
	munmap      uint64
	heapBytes   uint64
	mappedBytes uint64
}

type Stats struct {
	MallocCalls  uint64
	CallocCalls  uint64
	ReallocCalls uint64
	FreeCalls    uint64

	SbrkCalls   uint64
	MmapCalls   uint64
	MunmapCalls uint64

	// HeapBytes is everything ever obtained through Sbrk; the heap never shrinks.
	HeapBytes uint64
	// MappedBytes counts live mappings, headers included.
	MappedBytes uint64
	// AllocatedBytes counts records handed out, headers included.
	AllocatedBytes uint64
	// FreeBytes is the payload of free heap records waiting for reuse.
	FreeBytes uint64

	FreeBlocks      int
	AllocatedBlocks int
	MappedBlocks    int
}

func (a *Allocator) Stats() Stats {
	s := Stats{
		MallocCalls:    a.counters.malloc,
		CallocCalls:    a.counters.calloc,
		ReallocCalls:   a.counters.realloc,
		FreeCalls:      a.counters.free,
		SbrkCalls:      a.counters.sbrk,
		MmapCalls:      a.counters.mmap,
		MunmapCalls:    a.counters.munmap,
		HeapBytes:      a.counters.heapBytes,
		MappedBytes:    a.counters.mappedBytes,
		AllocatedBytes: a.allocSize,
	}
	a.blocks.Walk(func(b *block.Block) bool {
		switch b.Status() {
		case block.Free:
			s.FreeBlocks++
			s.FreeBytes += b.Size()
		case block.Allocated:
			s.AllocatedBlocks++
		case block.Mapped:
			s.MappedBlocks++
		}
		return true
	})
	return s
}

// Dump writes one line per record followed by a summary.
func (a *Allocator) Dump(w io.Writer) {
	index := 0
	a.blocks.Walk(func(b *block.Block) bool {
		_, _ = fmt.Fprintf(w, "%4d %#014x %-9s %10d %s\n", index, uintptr(unsafe.Pointer(b)), b.Status(), b.Size(), humanize.IBytes(b.Size()))
		index++
		return true
	})
	s := a.Stats()
	_, _ = fmt.Fprintf(w, "heap: %s in %d sbrk calls, mapped: %s live, allocated: %s, free: %s in %d blocks\n",
		humanize.IBytes(s.HeapBytes), s.SbrkCalls,
		humanize.IBytes(s.MappedBytes),
		humanize.IBytes(s.AllocatedBytes),
		humanize.IBytes(s.FreeBytes), s.FreeBlocks)
}
