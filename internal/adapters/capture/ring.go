// Package capture provides the microphone capture stream used by a call.
package capture

import "sync"

// sampleRing keeps the most recent mono samples for speaking analysis.
type sampleRing struct {
	mu   sync.Mutex
	buf  []float64
	pos  int
	full bool
}

func newSampleRing(size int) *sampleRing {
	return &sampleRing{buf: make([]float64, size)}
}

func (r *sampleRing) Write(samples []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		r.buf[r.pos] = s
		r.pos++
		if r.pos == len(r.buf) {
			r.pos = 0
			r.full = true
		}
	}
}

// Latest copies up to len(dst) of the newest samples, oldest first.
func (r *sampleRing) Latest(dst []float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	have := r.pos
	if r.full {
		have = len(r.buf)
	}
	n := len(dst)
	if n > have {
		n = have
	}
	start := r.pos - n
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(start+i)%len(r.buf)]
	}
	return n
}
