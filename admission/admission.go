package admission

import (
	"sync"

	"golang.org/x/time/rate"
)

// Config limits runs of one workflow. An empty WorkflowID makes it a
// global limit shared by every run.
type Config struct {
	WorkflowID string

	// MaxConcurrency caps runs in flight. Zero means no cap.
	MaxConcurrency int

	// RateLimit is the sustained run starts per second. Zero disables
	// rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst size. Defaults to 1 when
	// RateLimit is set.
	RateBurst int
}

// gate is the runtime state behind one Config or OrgConfig.
type gate struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newGate(limit float64, burst, maxConcurrency int) *gate {
	g := &gate{maxConcurrency: maxConcurrency}
	if limit > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return g
}

// full reports whether the concurrency cap is reached.
func (g *gate) full() bool {
	return g != nil && g.maxConcurrency > 0 && g.active >= g.maxConcurrency
}

// take consumes a rate token.
func (g *gate) take() bool {
	return g == nil || g.limiter == nil || g.limiter.Allow()
}

func (g *gate) acquire() {
	if g != nil {
		g.active++
	}
}

func (g *gate) release() {
	if g != nil && g.active > 0 {
		g.active--
	}
}

// Manager enforces run admission limits. It is safe for concurrent use.
type Manager struct {
	mu         sync.Mutex
	global     *gate
	workflows  map[string]*gate
	orgs       map[string]*gate
	orgDefault *OrgConfig
}

// NewManager creates a Manager with the given workflow limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		workflows: make(map[string]*gate, len(configs)),
		orgs:      make(map[string]*gate),
	}
	for _, cfg := range configs {
		m.SetConfig(cfg)
	}
	return m
}

// Acquire admits a run of workflowID for orgID. It returns false when any
// applicable limit is exhausted. The caller must call Release once an
// admitted run returns.
func (m *Manager) Acquire(workflowID, orgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	gates := []*gate{m.global, m.workflows[workflowID], m.orgGate(orgID)}
	for _, g := range gates {
		if g.full() {
			return false
		}
	}
	// Tokens are taken only once every concurrency gate has room.
	for _, g := range gates {
		if !g.take() {
			return false
		}
	}
	for _, g := range gates {
		g.acquire()
	}
	return true
}

// Release frees the slot held by an admitted run.
func (m *Manager) Release(workflowID, orgID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.global.release()
	m.workflows[workflowID].release()
	if orgID != "" {
		m.orgs[orgID].release()
	}
}

// SetConfig installs or replaces a workflow limit. The active count
// survives reconfiguration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if cfg.WorkflowID == "" {
		if m.global != nil {
			g.active = m.global.active
		}
		m.global = g
		return
	}
	if existing := m.workflows[cfg.WorkflowID]; existing != nil {
		g.active = existing.active
	}
	m.workflows[cfg.WorkflowID] = g
}

// ActiveCount returns the runs in flight for a workflow. An empty
// workflowID reads the global counter.
func (m *Manager) ActiveCount(workflowID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	g := m.global
	if workflowID != "" {
		g = m.workflows[workflowID]
	}
	if g == nil {
		return 0
	}
	return g.active
}
