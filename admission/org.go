package admission

// OrgConfig limits runs started on behalf of one organization. An empty
// OrgID sets the template applied to organizations without their own
// entry.
type OrgConfig struct {
	OrgID string

	RateLimit      float64
	RateBurst      int
	MaxConcurrency int
}

// SetOrgConfig installs or replaces an organization limit. The active
// count survives reconfiguration. Setting the template does not touch
// organizations that already have state.
func (m *Manager) SetOrgConfig(cfg OrgConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if cfg.OrgID == "" {
		c := cfg
		m.orgDefault = &c
		return
	}
	g := newGate(cfg.RateLimit, cfg.RateBurst, cfg.MaxConcurrency)
	if existing := m.orgs[cfg.OrgID]; existing != nil {
		g.active = existing.active
	}
	m.orgs[cfg.OrgID] = g
}

// OrgActiveCount returns the runs in flight for an organization.
func (m *Manager) OrgActiveCount(orgID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.orgs[orgID]; g != nil {
		return g.active
	}
	return 0
}

// orgGate returns the gate for orgID, creating it from the template on
// first use. Callers hold m.mu.
func (m *Manager) orgGate(orgID string) *gate {
	if orgID == "" {
		return nil
	}
	if g := m.orgs[orgID]; g != nil {
		return g
	}
	if m.orgDefault == nil {
		return nil
	}
	d := m.orgDefault
	g := newGate(d.RateLimit, d.RateBurst, d.MaxConcurrency)
	m.orgs[orgID] = g
	return g
}
