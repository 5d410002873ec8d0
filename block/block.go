package block

import (
	"unsafe"

	"github.com/flswld/osmem/mem"
)

type Status uint64

const (
	Free Status = iota
	Allocated
	Mapped
)

func (s Status) String() string {
	switch s {
	case Free:
		return "FREE"
	case Allocated:
		return "ALLOCATED"
	case Mapped:
		return "MAPPED"
	default:
		return "UNKNOWN"
	}
}

// Block is the header placed in front of every region the allocator manages.
// The payload starts HeaderSize bytes after the header.
type Block struct {
	size   uint64
	status Status
	next   *Block
	prev   *Block
}

const (
	HeaderSize = (uint64(unsafe.Sizeof(Block{})) + mem.ALIGNMENT - 1) &^ (mem.ALIGNMENT - 1)
	MinPayload = mem.ALIGNMENT
)

// At interprets the memory at p as a block header.
func At(p unsafe.Pointer) *Block {
	return (*Block)(p)
}

// FromPayload recovers the header of a pointer handed out to a caller.
func FromPayload(p unsafe.Pointer) *Block {
	return (*Block)(mem.Offset(p, -int64(HeaderSize)))
}

func (b *Block) Payload() unsafe.Pointer {
	return mem.Offset(unsafe.Pointer(b), int64(HeaderSize))
}

// End is the address right after the payload.
func (b *Block) End() uintptr {
	return uintptr(b.Payload()) + uintptr(b.size)
}

func (b *Block) Bytes() []byte {
	return mem.Bytes(b.Payload(), b.size)
}

func (b *Block) Size() uint64 {
	return b.size
}

func (b *Block) SetSize(size uint64) {
	b.size = size
}

func (b *Block) Status() Status {
	return b.status
}

func (b *Block) SetStatus(status Status) {
	b.status = status
}

func (b *Block) Next() *Block {
	return b.next
}

func (b *Block) Prev() *Block {
	return b.prev
}

// IsHeapTail reports whether b is the last record of the heap run, the only
// one that can grow in place by extending the break.
func (b *Block) IsHeapTail() bool {
	return b.status != Mapped && (b.next == nil || b.next.status == Mapped)
}
