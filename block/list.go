package block

import (
	"unsafe"

	"github.com/pkg/errors"

	"github.com/flswld/osmem/mem"
)

// List links every record the allocator has carved out. Heap records come
// first, in address order and back to back, followed by mapped records in
// insertion order.
type List struct {
	head *Block
}

func (l *List) Head() *Block {
	return l.head
}

// FindBest returns the first free heap record that either holds size bytes or
// is the heap tail, which the caller may grow by extending the break. A record
// with room to spare is split so that it holds exactly size bytes. The result
// may be smaller than size. Mapped records are never candidates.
func (l *List) FindBest(size uint64) *Block {
	for b := l.head; b != nil && b.status != Mapped; b = b.next {
		if b.status != Free {
			continue
		}
		if b.size >= size || b.IsHeapTail() {
			l.Split(b, size)
			return b
		}
	}
	return nil
}

// Split shrinks b to size bytes and turns the remainder into a free record
// linked right after it. Nothing happens unless the remainder can hold a
// header and a minimal payload.
func (l *List) Split(b *Block, size uint64) *Block {
	if b.size < size+MinPayload+HeaderSize {
		return nil
	}
	nb := At(mem.Offset(b.Payload(), int64(size)))
	nb.size = b.size - size - HeaderSize
	nb.status = Free
	nb.next = b.next
	nb.prev = b
	if nb.next != nil {
		nb.next.prev = nb
	}
	b.size = size
	b.next = nb
	return nb
}

// Coalesce merges every run of consecutive free records into its first record.
func (l *List) Coalesce() {
	for b := l.head; b != nil; b = b.next {
		if b.status != Free {
			continue
		}
		for nb := b.next; nb != nil && nb.status == Free; {
			b.size += nb.size + HeaderSize
			merged := nb
			nb = nb.next
			l.Delete(merged)
		}
	}
}

// Absorb merges the free records that directly follow b into b until it holds
// size bytes. It reports whether b is large enough afterwards.
func (l *List) Absorb(b *Block, size uint64) bool {
	for b.size < size {
		nb := b.next
		if nb == nil || nb.status != Free {
			break
		}
		b.size += nb.size + HeaderSize
		l.Delete(nb)
	}
	return b.size >= size
}

// InsertHeap registers a record obtained by extending the break. It goes
// before the first mapped record so the heap run stays contiguous.
func (l *List) InsertHeap(b *Block, size uint64) {
	b.status = Allocated
	b.size = size
	b.next = nil
	b.prev = nil
	if l.head == nil {
		l.head = b
		return
	}
	if l.head.status == Mapped {
		b.next = l.head
		l.head.prev = b
		l.head = b
		return
	}
	last := l.head
	for last.next != nil && last.next.status != Mapped {
		last = last.next
	}
	b.next = last.next
	b.prev = last
	if b.next != nil {
		b.next.prev = b
	}
	last.next = b
}

// InsertMapped registers a record obtained from mmap at the very end of the list.
func (l *List) InsertMapped(b *Block, size uint64) {
	b.status = Mapped
	b.size = size
	b.next = nil
	b.prev = nil
	if l.head == nil {
		l.head = b
		return
	}
	last := l.head
	for last.next != nil {
		last = last.next
	}
	last.next = b
	b.prev = last
}

func (l *List) Delete(b *Block) {
	if l.head == nil || b == nil {
		return
	}
	if b.prev == nil {
		if l.head != b {
			return
		}
		l.head = b.next
		if l.head != nil {
			l.head.prev = nil
		}
	} else {
		b.prev.next = b.next
		if b.next != nil {
			b.next.prev = b.prev
		}
	}
	b.next = nil
	b.prev = nil
}

// Walk visits records from the head until fn returns false.
func (l *List) Walk(fn func(b *Block) (next bool)) {
	for b := l.head; b != nil; b = b.next {
		if !fn(b) {
			return
		}
	}
}

func (l *List) Len() int {
	n := 0
	for b := l.head; b != nil; b = b.next {
		n++
	}
	return n
}

// Check verifies link symmetry, ordering and contiguity of the heap run.
func (l *List) Check() error {
	if l.head != nil && l.head.prev != nil {
		return errors.New("head has a previous record")
	}
	mapped := false
	index := 0
	for b := l.head; b != nil; b = b.next {
		if b.size%mem.ALIGNMENT != 0 {
			return errors.Errorf("record %d at %p: size %d not aligned", index, unsafe.Pointer(b), b.size)
		}
		switch b.status {
		case Free, Allocated:
			if mapped {
				return errors.Errorf("record %d at %p: %s record after a mapped record", index, unsafe.Pointer(b), b.status)
			}
		case Mapped:
			mapped = true
		default:
			return errors.Errorf("record %d at %p: bad status %d", index, unsafe.Pointer(b), uint64(b.status))
		}
		if b.next != nil {
			if b.next.prev != b {
				return errors.Errorf("record %d at %p: broken back link", index, unsafe.Pointer(b))
			}
			if b.status != Mapped && b.next.status != Mapped && b.End() != uintptr(unsafe.Pointer(b.next)) {
				return errors.Errorf("record %d at %p: heap gap before %p", index, unsafe.Pointer(b), unsafe.Pointer(b.next))
			}
		}
		index++
	}
	return nil
}
