package queue

// SetOrgLimit replaces the limit of one organization. The bucket starts
// full again.
func (m *Manager) SetOrgLimit(orgID string, l Limit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.overrides[orgID] = l
	delete(m.limiters, orgID)
}

// ClearOrgLimit drops the override of one organization.
func (m *Manager) ClearOrgLimit(orgID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.overrides, orgID)
	delete(m.limiters, orgID)
}

// OrgLimit returns the limit in effect for orgID.
func (m *Manager) OrgLimit(orgID string) Limit {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limitLocked(orgID)
}
