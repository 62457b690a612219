package mcphost

import (
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/luna/internal/mcp"
)

// statsWindow is how many recent calls feed the latency and error figures.
const statsWindow = 100

type sample struct {
	ms     int64
	failed bool
}

// toolStats is a ring of the most recent call outcomes of one tool.
type toolStats struct {
	mu    sync.Mutex
	ring  []sample
	next  int
	total int
}

func newToolStats(size int) *toolStats {
	if size <= 0 {
		size = statsWindow
	}
	return &toolStats{ring: make([]sample, 0, size)}
}

func (s *toolStats) add(d time.Duration, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	smp := sample{ms: d.Milliseconds(), failed: failed}
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, smp)
	} else {
		s.ring[s.next] = smp
	}
	s.next = (s.next + 1) % cap(s.ring)
	s.total++
}

// health summarises the window. CallCount is the lifetime total.
func (s *toolStats) health(name, server string) mcp.ToolHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := mcp.ToolHealth{Name: name, Server: server, CallCount: s.total}
	n := len(s.ring)
	if n == 0 {
		return h
	}
	ms := make([]int64, n)
	failed := 0
	for i, smp := range s.ring {
		ms[i] = smp.ms
		if smp.failed {
			failed++
		}
	}
	slices.Sort(ms)
	h.MeasuredP50Ms = ms[n/2]
	h.MeasuredP99Ms = ms[int(float64(n-1)*0.99)]
	h.ErrorRate = float64(failed) / float64(n)
	return h
}
