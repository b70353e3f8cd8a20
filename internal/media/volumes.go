package media

import "sync"

// Volumes holds per-display-name output gain. It outlives any one session so
// the preference survives reconnects.
type Volumes struct {
	mu sync.RWMutex
	m  map[string]float64
}

func NewVolumes() *Volumes {
	return &Volumes{m: make(map[string]float64)}
}

func clamp(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Get returns the stored gain or 1.
func (v *Volumes) Get(name string) float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if g, ok := v.m[name]; ok {
		return g
	}
	return 1
}

func (v *Volumes) Set(name string, g float64) float64 {
	g = clamp(g)
	v.mu.Lock()
	v.m[name] = g
	v.mu.Unlock()
	return g
}
