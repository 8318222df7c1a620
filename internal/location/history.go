package location

import (
	"sync"

	"github.com/richxcame/driver-agent/pkg/geo"
)

// History keeps the most recent samples, oldest first.
type History struct {
	mu      sync.RWMutex
	samples []Sample
	size    int
}

// NewHistory creates a history bounded to size samples.
func NewHistory(size int) *History {
	if size <= 0 {
		size = 20
	}
	return &History{size: size, samples: make([]Sample, 0, size)}
}

// Add appends s, evicting the oldest sample when full.
func (h *History) Add(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) == h.size {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:h.size-1]
	}
	h.samples = append(h.samples, s)
}

// Last returns the newest sample.
func (h *History) Last() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// All returns a copy of the retained samples.
func (h *History) All() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Sample(nil), h.samples...)
}

// AverageSpeed smooths speed over the retained samples in m/s. Reported
// speeds are averaged; without any, speed is derived from the travelled path
// and elapsed time. Zero means unknown.
func (h *History) AverageSpeed() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var sum float64
	var n int
	for _, s := range h.samples {
		if s.Speed != nil && *s.Speed >= 0 {
			sum += *s.Speed
			n++
		}
	}
	if n > 0 {
		return sum / float64(n)
	}

	if len(h.samples) < 2 {
		return 0
	}
	first, last := h.samples[0], h.samples[len(h.samples)-1]
	elapsed := last.Timestamp.Sub(first.Timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	var path float64
	for i := 1; i < len(h.samples); i++ {
		path += geo.Between(h.samples[i-1].Point(), h.samples[i].Point())
	}
	return path / elapsed
}

// Len returns the number of retained samples.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.samples)
}

// Reset drops every sample.
func (h *History) Reset() {
	h.mu.Lock()
	h.samples = h.samples[:0]
	h.mu.Unlock()
}
