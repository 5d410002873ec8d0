package trace

import (
	"encoding/binary"
	"fmt"
	"io"
	"runtime"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/flswld/osmem/block"
	"github.com/flswld/osmem/hashmap"
	"github.com/flswld/osmem/mem"
	"github.com/flswld/osmem/osmem"
	"github.com/flswld/osmem/sys"
)

type Outcome struct {
	Index  int
	Op     Op
	Addr   uintptr
	Status block.Status
	Moved  bool
	Null   bool
}

type Result struct {
	Name     string
	Outcomes []Outcome
	Stats    osmem.Stats
	Live     int
}

type pointer struct {
	p      unsafe.Pointer
	size   uint64
	fill   byte
	filled bool
}

// slot numbers trace ids in order of first use.
type slot uint32

func (s slot) GetHashCode() uint64 {
	var data [4]byte
	binary.LittleEndian.PutUint32(data[:], uint32(s))
	return hashmap.GetHashCode(data[:])
}

// bookReserve sizes the allocator holding the live table so that it cannot run
// out before the trace does.
func bookReserve(t *Trace) uint64 {
	return 2*osmem.InitialHeapSize + uint64(len(t.Ops))*mem.KB
}

// Replay runs the trace against a and checks payload contents on the way:
// calloc must hand out zeroes and realloc must keep the old prefix. Live
// pointers are tracked in a hash map served by a separate allocator, so the
// layout of a only reflects the trace. Ids whose call returned null stay
// tracked and their free is replayed as a free of null.
func Replay(a *osmem.Allocator, t *Trace) (*Result, error) {
	book := osmem.New(&osmem.Config{OS: sys.NewGoMemory(bookReserve(t)), Name: "replay"})
	live := hashmap.NewHashMap[slot, pointer](book)
	defer func() {
		live.Free()
		runtime.KeepAlive(book)
	}()
	ids := make(map[string]slot)
	r := &Result{Name: t.Name}
	for i, op := range t.Ops {
		id, exist := ids[op.ID]
		if !exist {
			id = slot(len(ids))
			ids[op.ID] = id
		}
		o := Outcome{Index: i, Op: op}
		var cur pointer
		switch op.Op {
		case OpMalloc:
			cur = pointer{p: a.Malloc(op.Size), size: op.Size}
		case OpCalloc:
			cur = pointer{p: a.Calloc(op.Count, op.Size), size: op.Count * op.Size}
			if cur.p != nil && !isFilled(cur.p, cur.size, 0) {
				return r, errors.Errorf("op %d: calloc %q returned dirty memory", i, op.ID)
			}
		case OpRealloc:
			old, ok := live.Get(id)
			cur = pointer{p: a.Realloc(old.p, op.Size), size: op.Size}
			if ok && old.p != nil && cur.p != nil {
				o.Moved = cur.p != old.p
				if old.filled {
					if !isFilled(cur.p, min(old.size, cur.size), old.fill) {
						return r, errors.Errorf("op %d: realloc %q lost content", i, op.ID)
					}
					cur.fill = old.fill
					cur.filled = true
					mem.MemSet(cur.p, cur.fill, cur.size)
				}
			}
		case OpFree:
			old, ok := live.Get(id)
			if !ok {
				return r, errors.Errorf("op %d: free of unknown id %q", i, op.ID)
			}
			if old.filled && !isFilled(old.p, old.size, old.fill) {
				return r, errors.Errorf("op %d: %q was overwritten before free", i, op.ID)
			}
			a.Free(old.p)
			o.Addr = uintptr(old.p)
			o.Null = old.p == nil
			live.Del(id)
			r.Outcomes = append(r.Outcomes, o)
			continue
		default:
			return r, errors.Errorf("op %d: unknown op %q", i, op.Op)
		}
		if cur.p == nil {
			o.Null = true
		} else {
			if op.Fill != nil {
				cur.fill = *op.Fill
				cur.filled = true
				mem.MemSet(cur.p, cur.fill, cur.size)
			}
			o.Addr = uintptr(cur.p)
			o.Status = block.FromPayload(cur.p).Status()
		}
		if !live.Set(id, cur) {
			return r, errors.Errorf("op %d: live table is full", i)
		}
		r.Outcomes = append(r.Outcomes, o)
	}
	r.Stats = a.Stats()
	live.For(func(_ slot, p pointer) (next bool) {
		if p.p != nil {
			r.Live++
		}
		return true
	})
	return r, nil
}

func isFilled(p unsafe.Pointer, size uint64, value byte) bool {
	for _, v := range mem.Bytes(p, size) {
		if v != value {
			return false
		}
	}
	return true
}

// Summary prints one line per op and the final statistics.
func (r *Result) Summary(w io.Writer) {
	_, _ = fmt.Fprintf(w, "trace %s: %d ops, %d live\n", r.Name, len(r.Outcomes), r.Live)
	for _, o := range r.Outcomes {
		switch {
		case o.Null:
			_, _ = fmt.Fprintf(w, "  %4d %-7s %-8s null\n", o.Index, o.Op.Op, o.Op.ID)
		case o.Op.Op == OpFree:
			_, _ = fmt.Fprintf(w, "  %4d %-7s %-8s %#014x\n", o.Index, o.Op.Op, o.Op.ID, o.Addr)
		default:
			moved := ""
			if o.Moved {
				moved = " moved"
			}
			_, _ = fmt.Fprintf(w, "  %4d %-7s %-8s %#014x %-9s %s%s\n", o.Index, o.Op.Op, o.Op.ID, o.Addr, o.Status, humanize.IBytes(requested(o.Op)), moved)
		}
	}
	s := r.Stats
	_, _ = fmt.Fprintf(w, "  sbrk: %d (%s), mmap: %d, munmap: %d, allocated: %s, free: %s\n",
		s.SbrkCalls, humanize.IBytes(s.HeapBytes), s.MmapCalls, s.MunmapCalls,
		humanize.IBytes(s.AllocatedBytes), humanize.IBytes(s.FreeBytes))
}

func requested(op Op) uint64 {
	if op.Op == OpCalloc {
		return op.Count * op.Size
	}
	return op.Size
}
