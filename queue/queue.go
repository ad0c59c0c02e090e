package queue

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limit is a token bucket: Rate dispatches per second with bursts up to
// Burst. Zero Rate means unlimited.
type Limit struct {
	Rate  float64
	Burst int
}

func (l Limit) newLimiter() *rate.Limiter {
	burst := l.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(l.Rate), burst)
}

// Manager holds one bucket per organization. It is safe for concurrent
// use.
type Manager struct {
	mu        sync.Mutex
	def       Limit
	overrides map[string]Limit
	limiters  map[string]*rate.Limiter
}

// NewManager creates a Manager applying def to every organization without
// an override.
func NewManager(def Limit) *Manager {
	return &Manager{
		def:       def,
		overrides: make(map[string]Limit),
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Allow takes a token from orgID's bucket and reports whether one was
// available.
func (m *Manager) Allow(orgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.limiterLocked(orgID)
	if l == nil {
		return true
	}
	return l.Allow()
}

// Ready reports whether orgID's bucket holds a token without taking it.
// Callers check Ready before claiming work and call Allow once the claim
// is theirs.
func (m *Manager) Ready(orgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := m.limiterLocked(orgID)
	if l == nil {
		return true
	}
	return l.Tokens() >= 1
}

// limiterLocked returns orgID's bucket, or nil when it is unlimited.
func (m *Manager) limiterLocked(orgID string) *rate.Limiter {
	limit := m.limitLocked(orgID)
	if limit.Rate <= 0 {
		return nil
	}
	l, ok := m.limiters[orgID]
	if !ok {
		l = limit.newLimiter()
		m.limiters[orgID] = l
	}
	return l
}

func (m *Manager) limitLocked(orgID string) Limit {
	if l, ok := m.overrides[orgID]; ok {
		return l
	}
	return m.def
}
