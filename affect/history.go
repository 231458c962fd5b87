package affect

import "sync"

// History is a bounded FIFO of observations. Appends evict the oldest entry
// once capacity is reached; readers always receive copies.
type History[C comparable] struct {
	mu    sync.RWMutex
	buf   []Observation[C]
	start int
	n     int
}

// NewHistory returns an empty history holding at most capacity entries.
// A capacity below 1 is raised to 1.
func NewHistory[C comparable](capacity int) *History[C] {
	if capacity < 1 {
		capacity = 1
	}
	return &History[C]{buf: make([]Observation[C], capacity)}
}

// Append stores o as the newest entry.
func (h *History[C]) Append(o Observation[C]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = o
		h.n++
		return
	}
	h.buf[h.start] = o
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of stored observations.
func (h *History[C]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.n
}

// Cap returns the capacity.
func (h *History[C]) Cap() int {
	return len(h.buf)
}

// Recent returns the last k observations, oldest first.
func (h *History[C]) Recent(k int) []Observation[C] {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if k > h.n {
		k = h.n
	}
	if k <= 0 {
		return nil
	}
	out := make([]Observation[C], k)
	first := h.n - k
	for i := 0; i < k; i++ {
		out[i] = h.buf[(h.start+first+i)%len(h.buf)]
	}
	return out
}

// All returns a snapshot of every stored observation, oldest first.
func (h *History[C]) All() []Observation[C] {
	return h.Recent(h.Len())
}

// Last returns the newest observation.
func (h *History[C]) Last() (Observation[C], bool) {
	r := h.Recent(1)
	if len(r) == 0 {
		var zero Observation[C]
		return zero, false
	}
	return r[0], true
}

// Distribution returns the share of each category across the stored
// observations. An empty history yields an empty map.
func (h *History[C]) Distribution() map[C]float64 {
	all := h.All()
	out := make(map[C]float64, len(all))
	if len(all) == 0 {
		return out
	}
	for _, o := range all {
		out[o.Category]++
	}
	for c := range out {
		out[c] /= float64(len(all))
	}
	return out
}
