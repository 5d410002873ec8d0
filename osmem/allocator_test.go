package osmem

import (
	"bytes"
	"math"
	"math/rand"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/flswld/osmem/block"
	"github.com/flswld/osmem/mem"
	"github.com/flswld/osmem/sys"
)

const testReserve = 64 * mem.MB

type backend struct {
	name string
	new  func(t *testing.T) sys.OS
}

var backends = []backend{
	{"go", func(t *testing.T) sys.OS { return sys.NewGoMemory(testReserve) }},
	{"unix", newUnixOS},
}

func forEachBackend(t *testing.T, fn func(t *testing.T, a *Allocator)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			a := New(&Config{OS: b.new(t), Name: "test"})
			fn(t, a)
			require.NoError(t, a.Blocks().Check())
		})
	}
}

// warm consumes the initial reservation so later requests extend the break.
func warm(t *testing.T, a *Allocator) unsafe.Pointer {
	p := a.Malloc(1)
	require.NotNil(t, p)
	require.Equal(t, uint64(InitialHeapSize-block.HeaderSize), block.FromPayload(p).Size())
	return p
}

func fill(p unsafe.Pointer, size uint64, value byte) {
	mem.MemSet(p, value, size)
}

func requireFilled(t *testing.T, p unsafe.Pointer, size uint64, value byte) {
	require.Equal(t, bytes.Repeat([]byte{value}, int(size)), mem.Bytes(p, size))
}

func TestMallocZero(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		require.Nil(t, a.Malloc(0))
		require.Nil(t, a.Malloc(math.MaxUint64))
		require.Equal(t, 0, a.Blocks().Len())
		require.Equal(t, uint64(0), a.Stats().SbrkCalls)
	})
}

func TestCallocInvalid(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		require.Nil(t, a.Calloc(0, 8))
		require.Nil(t, a.Calloc(8, 0))
		require.Nil(t, a.Calloc(math.MaxUint64/2, 3))
		require.Equal(t, 0, a.Blocks().Len())
	})
}

func TestFirstMallocPreallocates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		p := a.Malloc(100)
		require.NotNil(t, p)
		b := block.FromPayload(p)
		require.Equal(t, block.Allocated, b.Status())
		require.Equal(t, uint64(InitialHeapSize-block.HeaderSize), b.Size())
		s := a.Stats()
		require.Equal(t, uint64(1), s.SbrkCalls)
		require.Equal(t, uint64(InitialHeapSize), s.HeapBytes)
		require.Equal(t, uint64(InitialHeapSize), a.GetAllocSize())
		require.Equal(t, uintptr(0), uintptr(p)%mem.ALIGNMENT)
	})
}

func TestReleaseThenMallocReusesAddress(t *testing.T) {
	for _, size := range []uint64{1, 7, 8, 100, 1000, 4000, 64 * mem.KB, MmapThreshold - block.HeaderSize - 8} {
		forEachBackend(t, func(t *testing.T, a *Allocator) {
			p := a.Malloc(size)
			a.Free(p)
			require.Equal(t, p, a.Malloc(size))
		})
		forEachBackend(t, func(t *testing.T, a *Allocator) {
			warm(t, a)
			q := a.Malloc(size)
			sbrk := a.Stats().SbrkCalls
			require.True(t, a.Free(q))
			require.Equal(t, q, a.Malloc(size))
			require.Equal(t, sbrk, a.Stats().SbrkCalls)
		})
	}
}

func TestMallocSplitsFreeBlock(t *testing.T) {
	for _, c := range []struct{ s1, s2 uint64 }{
		{8, 8},
		{64, 128},
		{1000, 24},
	} {
		forEachBackend(t, func(t *testing.T, a *Allocator) {
			warm(t, a)
			p := a.Malloc(c.s1 + c.s2 + block.HeaderSize)
			a.Malloc(8)
			a.Free(p)
			q := a.Malloc(c.s1)
			require.Equal(t, p, q)
			b := block.FromPayload(q)
			require.Equal(t, c.s1, b.Size())
			rest := b.Next()
			require.Equal(t, block.Free, rest.Status())
			require.Equal(t, c.s2, rest.Size())
			require.Equal(t, b.End(), uintptr(unsafe.Pointer(rest)))
		})
	}
}

func TestCoalesceBeforeSearch(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		pa := a.Malloc(100)
		pb := a.Malloc(100)
		a.Free(pa)
		a.Free(pb)
		require.Equal(t, pa, a.Malloc(150))
	})
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		warm(t, a)
		pa := a.Malloc(100)
		pb := a.Malloc(100)
		require.Equal(t, uintptr(pa)+104+uintptr(block.HeaderSize), uintptr(pb))
		a.Free(pa)
		a.Free(pb)
		sbrk := a.Stats().SbrkCalls
		pc := a.Malloc(150)
		require.Equal(t, pa, pc)
		require.Equal(t, sbrk, a.Stats().SbrkCalls)
		b := block.FromPayload(pc)
		require.Equal(t, uint64(152), b.Size())
		require.Equal(t, uint64(104+104+block.HeaderSize-152-block.HeaderSize), b.Next().Size())
	})
}

func TestGrowableTailExtendsByShortfall(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		warm(t, a)
		p := a.Malloc(64)
		a.Free(p)
		heap := a.Stats().HeapBytes
		q := a.Malloc(200)
		require.Equal(t, p, q)
		require.Equal(t, uint64(200), block.FromPayload(q).Size())
		require.Equal(t, heap+200-64, a.Stats().HeapBytes)
	})
}

func TestMappedBlocksAppendedAtTail(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		m1 := a.Malloc(MmapThreshold)
		h1 := a.Malloc(16)
		m2 := a.Malloc(2 * MmapThreshold)
		h2 := a.Malloc(16)
		var order []unsafe.Pointer
		a.Blocks().Walk(func(b *block.Block) bool {
			order = append(order, b.Payload())
			return true
		})
		require.Equal(t, []unsafe.Pointer{h1, h2, m1, m2}, order)
		require.Equal(t, uint64(2), a.Stats().MmapCalls)
		require.Equal(t, 2, a.Stats().MappedBlocks)
	})
}

func TestMmapThresholdBoundary(t *testing.T) {
	below := uint64(MmapThreshold - block.HeaderSize - mem.ALIGNMENT)
	exact := uint64(MmapThreshold - block.HeaderSize)
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		warm(t, a)
		require.Equal(t, block.Allocated, block.FromPayload(a.Malloc(below)).Status())
		require.Equal(t, block.Mapped, block.FromPayload(a.Malloc(below+1)).Status())
		require.Equal(t, block.Mapped, block.FromPayload(a.Malloc(exact)).Status())
		require.Equal(t, uint64(2), a.Stats().MmapCalls)
	})
}

func TestCallocThresholdIsPageSize(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		page := a.OS().PageSize()
		warm(t, a)
		below := a.Calloc(1, page-block.HeaderSize-mem.ALIGNMENT)
		require.Equal(t, block.Allocated, block.FromPayload(below).Status())
		exact := a.Calloc(1, page-block.HeaderSize)
		require.Equal(t, block.Mapped, block.FromPayload(exact).Status())
		require.Equal(t, block.Allocated, block.FromPayload(a.Malloc(page)).Status())
	})
}

func TestCallocZeroes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		// fresh initial reservation
		p := a.Calloc(10, 10)
		requireFilled(t, p, block.FromPayload(p).Size(), 0)
		fill(p, 100, 0xAB)

		// extension of the break
		q := a.Calloc(3, 24)
		requireFilled(t, q, 72, 0)

		// reused block
		fill(q, 72, 0xCD)
		a.Free(q)
		r := a.Calloc(9, 8)
		require.Equal(t, q, r)
		requireFilled(t, r, 72, 0)

		// mapping
		m := a.Calloc(4, 4096)
		require.Equal(t, block.Mapped, block.FromPayload(m).Status())
		requireFilled(t, m, 4*4096, 0)
	})
}

func TestFreeHeapKeepsRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		p := a.Malloc(32)
		require.True(t, a.Free(p))
		b := block.FromPayload(p)
		require.Equal(t, block.Free, b.Status())
		require.Equal(t, b, a.Blocks().Head())
		require.False(t, a.Free(p))
		require.True(t, a.Free(nil))
		require.Equal(t, uint64(0), a.GetAllocSize())
	})
}

func TestFreeMappedRemovesRecord(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		h := a.Malloc(8)
		m := a.Malloc(MmapThreshold * 2)
		fill(m, MmapThreshold*2, 0x11)
		bm := block.FromPayload(m)
		require.Equal(t, 2, a.Blocks().Len())
		require.True(t, a.Free(m))
		a.Blocks().Walk(func(b *block.Block) bool {
			require.NotEqual(t, uintptr(unsafe.Pointer(bm)), uintptr(unsafe.Pointer(b)))
			return true
		})
		require.Equal(t, 1, a.Blocks().Len())
		s := a.Stats()
		require.Equal(t, uint64(1), s.MunmapCalls)
		require.Equal(t, uint64(0), s.MappedBytes)
		require.Equal(t, block.FromPayload(h), a.Blocks().Head())
	})
}

func TestReallocNilAndZero(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		p := a.Realloc(nil, 40)
		require.NotNil(t, p)
		require.Equal(t, block.Allocated, block.FromPayload(p).Status())
		require.Nil(t, a.Realloc(p, 0))
		require.Equal(t, block.Free, block.FromPayload(p).Status())
	})
}

func TestReallocShrinkInPlace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		warm(t, a)
		p := a.Malloc(512)
		fill(p, 512, 0x5A)
		a.Malloc(8)
		q := a.Realloc(p, 100)
		require.Equal(t, p, q)
		requireFilled(t, q, 100, 0x5A)
		b := block.FromPayload(q)
		require.Equal(t, uint64(104), b.Size())
		require.Equal(t, block.Free, b.Next().Status())
		require.Equal(t, uint64(512-104-block.HeaderSize), b.Next().Size())
	})
}

func TestReallocGrowsHeapTailInPlace(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		warm(t, a)
		p := a.Malloc(64)
		fill(p, 64, 0x42)
		heap := a.Stats().HeapBytes
		q := a.Realloc(p, 4096)
		require.Equal(t, p, q)
		require.Equal(t, uint64(4096), block.FromPayload(q).Size())
		require.Equal(t, heap+4096-64, a.Stats().HeapBytes)
		requireFilled(t, q, 64, 0x42)
	})
}

func TestReallocAbsorbsFreeNeighbour(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		warm(t, a)
		p := a.Malloc(64)
		fill(p, 64, 0x42)
		n := a.Malloc(256)
		a.Malloc(8)
		a.Free(n)
		sbrk := a.Stats().SbrkCalls
		q := a.Realloc(p, 200)
		require.Equal(t, p, q)
		requireFilled(t, q, 64, 0x42)
		b := block.FromPayload(q)
		require.Equal(t, uint64(200), b.Size())
		require.Equal(t, block.Free, b.Next().Status())
		require.Equal(t, uint64(64+256-200), b.Next().Size())
		require.Equal(t, sbrk, a.Stats().SbrkCalls)
	})
}

func TestReallocMovesWhenBlocked(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		warm(t, a)
		p := a.Malloc(64)
		for i := uint64(0); i < 64; i++ {
			*(*byte)(mem.Offset(p, int64(i))) = byte(i)
		}
		a.Malloc(8)
		q := a.Realloc(p, 1024)
		require.NotEqual(t, p, q)
		for i := uint64(0); i < 64; i++ {
			require.Equal(t, byte(i), *(*byte)(mem.Offset(q, int64(i))))
		}
		require.Equal(t, block.Free, block.FromPayload(p).Status())
		require.Equal(t, block.Allocated, block.FromPayload(q).Status())
	})
}

func TestReallocMoveCopiesOnlyOldPayload(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		warm(t, a)
		p := a.Malloc(64)
		fill(p, 64, 0x42)
		n := a.Malloc(256)
		fill(n, 256, 0xEE)
		a.Malloc(8)
		a.Free(n)
		q := a.Realloc(p, 1024)
		require.NotEqual(t, p, q)
		requireFilled(t, q, 64, 0x42)
		// the absorbed neighbour is not carried over
		requireFilled(t, mem.Offset(q, 64), 1024-64, 0)
		require.Equal(t, block.Free, block.FromPayload(p).Status())
		require.Equal(t, uint64(64+block.HeaderSize+256), block.FromPayload(p).Size())
	})
}

func TestReallocMapped(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		p := a.Malloc(4 * MmapThreshold)
		fill(p, 4*MmapThreshold, 0x77)
		q := a.Realloc(p, 2*MmapThreshold)
		require.Equal(t, p, q)
		require.Equal(t, uint64(0), a.Stats().MunmapCalls)

		r := a.Realloc(q, 8*MmapThreshold)
		require.NotEqual(t, q, r)
		requireFilled(t, r, 4*MmapThreshold, 0x77)
		require.Equal(t, uint64(1), a.Stats().MunmapCalls)

		s := a.Realloc(r, 100)
		require.Equal(t, block.Allocated, block.FromPayload(s).Status())
		requireFilled(t, s, 100, 0x77)
		require.Equal(t, 1, a.Blocks().Len())
	})
}

func TestAllocSizeAccounting(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		warm(t, a)
		base := a.GetAllocSize()
		p := a.Malloc(100)
		require.Equal(t, base+104+block.HeaderSize, a.GetAllocSize())
		p = a.Realloc(p, 1000)
		require.Equal(t, base+1000+block.HeaderSize, a.GetAllocSize())
		m := a.Malloc(MmapThreshold)
		require.Equal(t, base+1000+2*block.HeaderSize+MmapThreshold, a.GetAllocSize())
		a.Free(m)
		a.Free(p)
		require.Equal(t, base, a.GetAllocSize())
		require.Equal(t, a.Stats().AllocatedBytes, a.GetAllocSize())
	})
}

func TestRandomWorkloadKeepsContent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, a *Allocator) {
		type live struct {
			p    unsafe.Pointer
			size uint64
			tag  byte
		}
		rnd := rand.New(rand.NewSource(1))
		var lives []live
		sizes := []uint64{1, 8, 24, 100, 1000, 4000, 20000, MmapThreshold + 1}
		for i := 0; i < 1000; i++ {
			switch op := rnd.Intn(4); {
			case op <= 1 || len(lives) == 0:
				size := sizes[rnd.Intn(len(sizes))]
				tag := byte(rnd.Intn(255) + 1)
				var p unsafe.Pointer
				if op == 0 {
					p = a.Malloc(size)
				} else {
					p = a.Calloc(1, size)
					requireFilled(t, p, size, 0)
				}
				fill(p, size, tag)
				lives = append(lives, live{p, size, tag})
			case op == 2:
				j := rnd.Intn(len(lives))
				requireFilled(t, lives[j].p, lives[j].size, lives[j].tag)
				require.True(t, a.Free(lives[j].p))
				lives = append(lives[:j], lives[j+1:]...)
			default:
				j := rnd.Intn(len(lives))
				l := lives[j]
				size := sizes[rnd.Intn(len(sizes))]
				p := a.Realloc(l.p, size)
				requireFilled(t, p, min(size, l.size), l.tag)
				fill(p, size, l.tag)
				lives[j] = live{p, size, l.tag}
			}
			require.NoError(t, a.Blocks().Check())
		}
		for _, l := range lives {
			requireFilled(t, l.p, l.size, l.tag)
			a.Free(l.p)
		}
		s := a.Stats()
		require.Equal(t, 0, s.MappedBlocks)
		require.Equal(t, 0, s.AllocatedBlocks)
		require.Equal(t, uint64(0), a.GetAllocSize())
	})
}

func TestDump(t *testing.T) {
	a := New(&Config{OS: sys.NewGoMemory(testReserve)})
	p := a.Malloc(10)
	a.Malloc(MmapThreshold)
	a.Free(p)
	buf := new(bytes.Buffer)
	a.Dump(buf)
	out := buf.String()
	require.Contains(t, out, "FREE")
	require.Contains(t, out, "MAPPED")
	require.Contains(t, out, "heap: 128 KiB in 1 sbrk calls")
	require.Equal(t, "osmem", a.Name())
}
