// Package typedmem is a typed allocation accounting facade: every
// allocation is tagged with a short, stable name identifying its
// owning subsystem, so a leak dump can blame the right caller. Go has
// no manual allocator to intercept, so this package is a no-op
// allocation facade that keeps per-tag counters; other components
// call Track/Untrack around their own make()/new() so the accounting
// survives even though the allocation itself needs no facade.
package typedmem

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is the live (blocks, bytes) count for one tag.
type Stats struct {
	LiveBlocks int64
	LiveBytes  int64
}

// Registry accounts for named allocations across the process. The
// zero value is ready to use; Default is the process-wide instance
// that components share unless a test constructs its own.
type Registry struct {
	mu   sync.Mutex
	tags map[string]*Stats
}

// Default is the shared registry used by components that don't need
// test isolation: a single process-wide accounting table.
var Default = NewRegistry()

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{tags: make(map[string]*Stats)}
}

// Track records a new allocation of size bytes under tag. Call it
// right after the real allocation (make, new, append growth) that
// this accounting describes.
func (r *Registry) Track(tag string, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.tags[tag]
	if s == nil {
		s = &Stats{}
		r.tags[tag] = s
	}
	s.LiveBlocks++
	s.LiveBytes += size
}

// Untrack reverses a prior Track for the same tag and size. Untracking
// a tag that was never tracked, or more times than it was tracked, is
// a caller bug; Untrack clamps at zero rather than going negative so a
// stray double-free doesn't corrupt the leak dump, but it is still a
// bug to be found by the leak dump showing a tag that never reached
// zero blocks at shutdown.
func (r *Registry) Untrack(tag string, size int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.tags[tag]
	if s == nil {
		return
	}
	if s.LiveBlocks > 0 {
		s.LiveBlocks--
	}
	s.LiveBytes -= size
	if s.LiveBytes < 0 {
		s.LiveBytes = 0
	}
}

// Stats returns a snapshot of the named tag's counters.
func (r *Registry) Stats(tag string) Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.tags[tag]; s != nil {
		return *s
	}
	return Stats{}
}

// Tags returns every tag with nonzero history, sorted, for leak dumps.
func (r *Registry) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, 0, len(r.tags))
	for t := range r.tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags
}

// LeakDump renders a human-readable report of every tag with live
// blocks, suitable for a test's t.Log on teardown.
func (r *Registry) LeakDump() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, 0, len(r.tags))
	for t := range r.tags {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	out := ""
	for _, t := range tags {
		s := r.tags[t]
		if s.LiveBlocks == 0 {
			continue
		}
		out += fmt.Sprintf("%s: %d blocks, %s\n", t, s.LiveBlocks, humanize.Bytes(uint64(s.LiveBytes)))
	}
	return out
}

// Describe implements prometheus.Collector.
func (r *Registry) Describe(ch chan<- *prometheus.Desc) {
	ch <- liveBlocksDesc
	ch <- liveBytesDesc
}

// Collect implements prometheus.Collector, exporting the live block
// and byte counts for every tracked tag.
func (r *Registry) Collect(ch chan<- prometheus.Metric) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for tag, s := range r.tags {
		ch <- prometheus.MustNewConstMetric(liveBlocksDesc, prometheus.GaugeValue, float64(s.LiveBlocks), tag)
		ch <- prometheus.MustNewConstMetric(liveBytesDesc, prometheus.GaugeValue, float64(s.LiveBytes), tag)
	}
}

var (
	liveBlocksDesc = prometheus.NewDesc("pdel_typedmem_live_blocks", "Live allocation count by owning tag.", []string{"tag"}, nil)
	liveBytesDesc  = prometheus.NewDesc("pdel_typedmem_live_bytes", "Live allocation bytes by owning tag.", []string{"tag"}, nil)
)
