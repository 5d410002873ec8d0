package list

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/flswld/osmem/mem"
)

const (
	initCap = 8
)

// ArrayList keeps both its header and its elements in allocator memory, so
// elements must not hold the only reference to Go heap objects.
type ArrayList[T any] struct {
	data      *T
	len       int
	cap       int
	allocator mem.Allocator
}

func NewArrayList[T any](allocator mem.Allocator) *ArrayList[T] {
	return NewArrayListWithCap[T](allocator, initCap)
}

func NewArrayListWithCap[T any](allocator mem.Allocator, cap int) *ArrayList[T] {
	if cap < initCap {
		cap = initCap
	}
	a := mem.MallocType[ArrayList[T]](allocator, 1)
	if a == nil {
		return nil
	}
	a.data = mem.MallocType[T](allocator, uint64(cap))
	if a.data == nil {
		mem.FreeType[ArrayList[T]](allocator, a)
		return nil
	}
	a.len = 0
	a.cap = cap
	a.allocator = allocator
	return a
}

// NewArrayListZeroed returns a list already holding n zero values, taken from
// Calloc in one piece.
func NewArrayListZeroed[T any](allocator mem.Allocator, n int) *ArrayList[T] {
	cap := max(n, initCap)
	a := mem.MallocType[ArrayList[T]](allocator, 1)
	if a == nil {
		return nil
	}
	a.data = mem.CallocType[T](allocator, uint64(cap))
	if a.data == nil {
		mem.FreeType[ArrayList[T]](allocator, a)
		return nil
	}
	a.len = n
	a.cap = cap
	a.allocator = allocator
	return a
}

func (a *ArrayList[T]) Cap() int {
	return a.cap
}

func (a *ArrayList[T]) Len() int {
	return a.len
}

func (a *ArrayList[T]) Add(value T) bool {
	if a.len >= a.cap {
		// realloc keeps the elements and grows in place when data is the heap tail
		data := mem.ReallocType[T](a.allocator, a.data, uint64(a.cap*2))
		if data == nil {
			return false
		}
		a.data = data
		a.cap *= 2
	}
	p := mem.OffsetType[T](a.data, int64(a.len))
	*p = value
	a.len++
	return true
}

func (a *ArrayList[T]) Set(index int, value T) {
	if index < 0 || index >= a.len {
		return
	}
	p := mem.OffsetType[T](a.data, int64(index))
	*p = value
}

func (a *ArrayList[T]) Get(index int) T {
	if index < 0 || index >= a.len {
		var t T
		return t
	}
	p := mem.OffsetType[T](a.data, int64(index))
	return *p
}

func (a *ArrayList[T]) For(fn func(index int, value T) (next bool)) {
	for index := 0; index < a.len; index++ {
		value := a.Get(index)
		next := fn(index, value)
		if !next {
			return
		}
	}
}

func (a *ArrayList[T]) Free() {
	allocator := a.allocator
	mem.FreeType[T](allocator, a.data)
	mem.FreeType[ArrayList[T]](allocator, a)
}

func (a *ArrayList[T]) MarshalJSON() ([]byte, error) {
	aa := make([]T, a.Len())
	a.For(func(index int, value T) (next bool) {
		aa[index] = value
		return true
	})
	data, err := json.Marshal(aa)
	return data, err
}

func (a *ArrayList[T]) UnmarshalJSON(data []byte) error {
	aa := make([]T, 0, initCap)
	err := json.Unmarshal(data, &aa)
	if err != nil {
		return err
	}
	for _, v := range aa {
		ok := a.Add(v)
		if !ok {
			return errors.New("overflow")
		}
	}
	return nil
}
