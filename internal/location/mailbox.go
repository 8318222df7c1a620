package location

import "sync"

// Mailbox is a single-slot, latest-wins hand-off between the sample source
// and the one goroutine that processes samples. A sample that has not been
// taken yet is replaced by the next one.
type Mailbox struct {
	mu    sync.Mutex
	slot  *Sample
	ready chan struct{}
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Put stores s and reports whether it replaced an unprocessed sample.
func (m *Mailbox) Put(s Sample) bool {
	m.mu.Lock()
	superseded := m.slot != nil
	m.slot = &s
	m.mu.Unlock()

	if superseded {
		samplesSupersededTotal.Inc()
	}
	select {
	case m.ready <- struct{}{}:
	default:
	}
	return superseded
}

// Ready is signalled after Put.
func (m *Mailbox) Ready() <-chan struct{} {
	return m.ready
}

// Take removes and returns the pending sample.
func (m *Mailbox) Take() (Sample, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.slot == nil {
		return Sample{}, false
	}
	s := *m.slot
	m.slot = nil
	return s, true
}
