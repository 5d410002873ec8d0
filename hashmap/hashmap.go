package hashmap

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/flswld/osmem/list"
	"github.com/flswld/osmem/mem"
)

const (
	initBucketSize = 8
	growBucketLoad = 0.75
)

type MapKey interface {
	comparable
	GetHashCode() uint64
}

// HashMap is a chained hash map living entirely in allocator memory. The
// allocator must outlive the map.
type HashMap[K MapKey, V any] struct {
	bucket    *list.ArrayList[*entry[K, V]]
	load      int
	len       int
	allocator mem.Allocator
}

type entry[K MapKey, V any] struct {
	key   K
	value V
	prev  *entry[K, V]
	next  *entry[K, V]
}

func NewHashMap[K MapKey, V any](allocator mem.Allocator) *HashMap[K, V] {
	return NewHashMapWithCap[K, V](allocator, initBucketSize)
}

func NewHashMapWithCap[K MapKey, V any](allocator mem.Allocator, cap int) *HashMap[K, V] {
	if cap < initBucketSize {
		cap = initBucketSize
	}
	m := mem.MallocType[HashMap[K, V]](allocator, 1)
	if m == nil {
		return nil
	}
	m.bucket = list.NewArrayListZeroed[*entry[K, V]](allocator, cap)
	if m.bucket == nil {
		mem.FreeType[HashMap[K, V]](allocator, m)
		return nil
	}
	m.load = 0
	m.len = 0
	m.allocator = allocator
	return m
}

func bucketIndex[K MapKey](key K, n int) int {
	return int(key.GetHashCode() % uint64(n))
}

func (m *HashMap[K, V]) find(key K) *entry[K, V] {
	for e := m.bucket.Get(bucketIndex(key, m.bucket.Len())); e != nil; e = e.next {
		if e.key == key {
			return e
		}
	}
	return nil
}

// insert links a new entry for key at the tail of its chain in bucket. Chains
// are expected not to hold key yet.
func (m *HashMap[K, V]) insert(bucket *list.ArrayList[*entry[K, V]], key K, value V) (ne *entry[K, V], head bool) {
	ne = mem.MallocType[entry[K, V]](m.allocator, 1)
	if ne == nil {
		return nil, false
	}
	ne.key = key
	ne.value = value
	ne.prev = nil
	ne.next = nil
	i := bucketIndex(key, bucket.Len())
	e := bucket.Get(i)
	if e == nil {
		bucket.Set(i, ne)
		return ne, true
	}
	for e.next != nil {
		e = e.next
	}
	ne.prev = e
	e.next = ne
	return ne, false
}

func (m *HashMap[K, V]) Get(key K) (V, bool) {
	e := m.find(key)
	if e == nil {
		var v V
		return v, false
	}
	return e.value, true
}

func (m *HashMap[K, V]) Set(key K, value V) bool {
	e := m.find(key)
	if e != nil {
		e.value = value
		return true
	}
	ne, head := m.insert(m.bucket, key, value)
	if ne == nil {
		return false
	}
	m.len++
	if head {
		m.load++
	} else if float32(m.load)/float32(m.bucket.Len()) > growBucketLoad {
		m.Grow()
	}
	return true
}

// Grow rehashes into twice as many buckets. On allocation failure the map is
// left as it was.
func (m *HashMap[K, V]) Grow() {
	b := list.NewArrayListZeroed[*entry[K, V]](m.allocator, m.bucket.Len()*2)
	if b == nil {
		return
	}
	load := 0
	fail := false
	m.For(func(key K, value V) (next bool) {
		ne, head := m.insert(b, key, value)
		if ne == nil {
			fail = true
			return false
		}
		if head {
			load++
		}
		return true
	})
	if fail {
		freeChains(m.allocator, b)
		b.Free()
		return
	}
	freeChains(m.allocator, m.bucket)
	m.bucket.Free()
	m.bucket = b
	m.load = load
}

func (m *HashMap[K, V]) Del(key K) {
	e := m.find(key)
	if e == nil {
		return
	}
	if e.prev == nil {
		i := bucketIndex(key, m.bucket.Len())
		m.bucket.Set(i, e.next)
		if e.next == nil {
			m.load--
		}
	} else {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	mem.FreeType[entry[K, V]](m.allocator, e)
	m.len--
}

func (m *HashMap[K, V]) For(fn func(key K, value V) (next bool)) {
	m.bucket.For(func(index int, e *entry[K, V]) (next bool) {
		for e != nil {
			ne := e.next
			if !fn(e.key, e.value) {
				return false
			}
			e = ne
		}
		return true
	})
}

func (m *HashMap[K, V]) Len() int {
	return m.len
}

func freeChains[K MapKey, V any](allocator mem.Allocator, bucket *list.ArrayList[*entry[K, V]]) {
	bucket.For(func(index int, e *entry[K, V]) (next bool) {
		for e != nil {
			ee := e
			e = e.next
			mem.FreeType[entry[K, V]](allocator, ee)
		}
		bucket.Set(index, nil)
		return true
	})
}

func (m *HashMap[K, V]) Clear() {
	freeChains(m.allocator, m.bucket)
	m.load = 0
	m.len = 0
}

func (m *HashMap[K, V]) Free() {
	allocator := m.allocator
	m.Clear()
	m.bucket.Free()
	mem.FreeType[HashMap[K, V]](allocator, m)
}

func (m *HashMap[K, V]) MarshalJSON() ([]byte, error) {
	mm := make(map[K]V)
	m.For(func(key K, value V) (next bool) {
		mm[key] = value
		return true
	})
	data, err := json.Marshal(mm)
	return data, err
}

func (m *HashMap[K, V]) UnmarshalJSON(data []byte) error {
	mm := make(map[K]V)
	err := json.Unmarshal(data, &mm)
	if err != nil {
		return errors.Wrap(err, "unmarshal hashmap")
	}
	for k, v := range mm {
		ok := m.Set(k, v)
		if !ok {
			return errors.New("overflow")
		}
	}
	return nil
}

func GetHashCode(data []byte) uint64 {
	hashCode := uint64(0)
	for _, v := range data {
		hashCode = uint64(v) + 131*hashCode
	}
	return hashCode
}
