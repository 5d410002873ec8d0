package mem

import (
	"fmt"
	"io"
	"unsafe"
)

const (
	B  = 1
	KB = 1024 * B
	MB = 1024 * KB
	GB = 1024 * MB
)

const (
	ALIGNMENT = 8
)

var (
	DefaultLogWriter    io.Writer = nil
	MallocFreeFailPanic           = false
)

// Allocator hands out memory the Go garbage collector does not track.
type Allocator interface {
	Malloc(size uint64) unsafe.Pointer
	Calloc(count uint64, size uint64) unsafe.Pointer
	Realloc(p unsafe.Pointer, size uint64) unsafe.Pointer
	Free(p unsafe.Pointer) bool
	GetAllocSize() uint64
}

func MallocType[T any](allocator Allocator, size uint64) *T {
	p := (*T)(allocator.Malloc(size * SizeOf[T]()))
	if MallocFreeFailPanic && p == nil {
		panic("malloc fail")
	}
	if DefaultLogWriter != nil {
		_, _ = DefaultLogWriter.Write([]byte(fmt.Sprintf("[Malloc] allocator:%T size:%d ptr:%p\n", allocator, size*SizeOf[T](), p)))
	}
	return p
}

func CallocType[T any](allocator Allocator, size uint64) *T {
	p := (*T)(allocator.Calloc(size, SizeOf[T]()))
	if MallocFreeFailPanic && p == nil {
		panic("calloc fail")
	}
	if DefaultLogWriter != nil {
		_, _ = DefaultLogWriter.Write([]byte(fmt.Sprintf("[Calloc] allocator:%T size:%d ptr:%p\n", allocator, size*SizeOf[T](), p)))
	}
	return p
}

func ReallocType[T any](allocator Allocator, t *T, size uint64) *T {
	p := (*T)(allocator.Realloc(unsafe.Pointer(t), size*SizeOf[T]()))
	if MallocFreeFailPanic && p == nil && size != 0 {
		panic("realloc fail")
	}
	if DefaultLogWriter != nil {
		_, _ = DefaultLogWriter.Write([]byte(fmt.Sprintf("[Realloc] allocator:%T old:%p size:%d ptr:%p\n", allocator, unsafe.Pointer(t), size*SizeOf[T](), p)))
	}
	return p
}

func FreeType[T any](allocator Allocator, t *T) bool {
	ok := allocator.Free(unsafe.Pointer(t))
	if MallocFreeFailPanic && !ok {
		panic("free fail")
	}
	if DefaultLogWriter != nil {
		_, _ = DefaultLogWriter.Write([]byte(fmt.Sprintf("[Free] allocator:%T ptr:%p\n", allocator, unsafe.Pointer(t))))
	}
	return ok
}

func SizeOf[T any]() uint64 {
	var t T
	return uint64(unsafe.Sizeof(t))
}

// Align rounds size up to the next multiple of ALIGNMENT.
func Align(size uint64) uint64 {
	return (size + ALIGNMENT - 1) &^ (ALIGNMENT - 1)
}

func Offset(p unsafe.Pointer, offset int64) unsafe.Pointer {
	if offset > 0 {
		return unsafe.Pointer(uintptr(p) + uintptr(offset))
	} else if offset < 0 {
		return unsafe.Pointer(uintptr(p) - uintptr(-offset))
	} else {
		return p
	}
}

func OffsetType[T any](t *T, offset int64) *T {
	return (*T)(Offset(unsafe.Pointer(t), offset*int64(SizeOf[T]())))
}

//go:linkname memmove runtime.memmove
func memmove(to, from unsafe.Pointer, n uintptr)

func MemCpy(dst unsafe.Pointer, src unsafe.Pointer, size uint64) {
	memmove(dst, src, uintptr(size))
}

func MemCpyType[T any](dst *T, src *T, size uint64) {
	MemCpy(unsafe.Pointer(dst), unsafe.Pointer(src), size*SizeOf[T]())
}

func MemZero(p unsafe.Pointer, size uint64) {
	if p == nil || size == 0 {
		return
	}
	clear(unsafe.Slice((*byte)(p), size))
}

func MemSet(p unsafe.Pointer, value byte, size uint64) {
	if p == nil || size == 0 {
		return
	}
	b := unsafe.Slice((*byte)(p), size)
	for i := range b {
		b[i] = value
	}
}

// Bytes views size bytes at p as a slice without copying.
func Bytes(p unsafe.Pointer, size uint64) []byte {
	if p == nil {
		return nil
	}
	return unsafe.Slice((*byte)(p), size)
}
