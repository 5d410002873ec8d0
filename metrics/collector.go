package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flswld/osmem/osmem"
)

const namespace = "osmem"

// Source is what the collector reads on every scrape.
type Source interface {
	Name() string
	Stats() osmem.Stats
}

var (
	callsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "calls_total"),
		"Calls to the public allocator operations.",
		[]string{"allocator", "op"},
		nil,
	)
	osCallsDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "os_calls_total"),
		"Successful calls to the OS memory primitives.",
		[]string{"allocator", "call"},
		nil,
	)
	heapBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "heap_bytes"),
		"Bytes obtained by extending the heap segment.",
		[]string{"allocator"},
		nil,
	)
	mappedBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "mapped_bytes"),
		"Bytes held in live anonymous mappings, headers included.",
		[]string{"allocator"},
		nil,
	)
	allocatedBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "allocated_bytes"),
		"Bytes handed out to callers, headers included.",
		[]string{"allocator"},
		nil,
	)
	freeBytesDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "free_bytes"),
		"Payload bytes of free heap blocks.",
		[]string{"allocator"},
		nil,
	)
	blocksDesc = prometheus.NewDesc(
		prometheus.BuildFQName(namespace, "", "blocks"),
		"Blocks in the list by status.",
		[]string{"allocator", "status"},
		nil,
	)
)

// Collector exports allocator statistics. The allocator is single threaded, so
// scrapes must not overlap with allocator calls.
type Collector struct {
	sources []Source
}

func NewCollector(sources ...Source) *Collector {
	return &Collector{sources: sources}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- callsDesc
	ch <- osCallsDesc
	ch <- heapBytesDesc
	ch <- mappedBytesDesc
	ch <- allocatedBytesDesc
	ch <- freeBytesDesc
	ch <- blocksDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, src := range c.sources {
		name := src.Name()
		s := src.Stats()
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(s.MallocCalls), name, "malloc")
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(s.CallocCalls), name, "calloc")
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(s.ReallocCalls), name, "realloc")
		ch <- prometheus.MustNewConstMetric(callsDesc, prometheus.CounterValue, float64(s.FreeCalls), name, "free")
		ch <- prometheus.MustNewConstMetric(osCallsDesc, prometheus.CounterValue, float64(s.SbrkCalls), name, "sbrk")
		ch <- prometheus.MustNewConstMetric(osCallsDesc, prometheus.CounterValue, float64(s.MmapCalls), name, "mmap")
		ch <- prometheus.MustNewConstMetric(osCallsDesc, prometheus.CounterValue, float64(s.MunmapCalls), name, "munmap")
		ch <- prometheus.MustNewConstMetric(heapBytesDesc, prometheus.GaugeValue, float64(s.HeapBytes), name)
		ch <- prometheus.MustNewConstMetric(mappedBytesDesc, prometheus.GaugeValue, float64(s.MappedBytes), name)
		ch <- prometheus.MustNewConstMetric(allocatedBytesDesc, prometheus.GaugeValue, float64(s.AllocatedBytes), name)
		ch <- prometheus.MustNewConstMetric(freeBytesDesc, prometheus.GaugeValue, float64(s.FreeBytes), name)
		ch <- prometheus.MustNewConstMetric(blocksDesc, prometheus.GaugeValue, float64(s.FreeBlocks), name, "free")
		ch <- prometheus.MustNewConstMetric(blocksDesc, prometheus.GaugeValue, float64(s.AllocatedBlocks), name, "allocated")
		ch <- prometheus.MustNewConstMetric(blocksDesc, prometheus.GaugeValue, float64(s.MappedBlocks), name, "mapped")
	}
}
