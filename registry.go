package telemetra

import "sync"

// SiteInfo locates a device within the fleet hierarchy.
type SiteInfo struct {
	SiteID string
	OrgID  string
}

// DeviceRegistry resolves devices to sites and organizations. The store
// consumes this read-only mapping from an external collaborator to scope
// queries and apply per-site retention overrides.
type DeviceRegistry interface {
	// Lookup returns site information for a device; ok is false for
	// unknown devices.
	Lookup(deviceID string) (info SiteInfo, ok bool)
}

// StaticRegistry is an in-memory DeviceRegistry, populated at startup or
// kept in sync by the caller.
type StaticRegistry struct {
	mu      sync.RWMutex
	devices map[string]SiteInfo
}

// NewStaticRegistry creates an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{devices: make(map[string]SiteInfo)}
}

// Register adds or updates a device mapping.
func (r *StaticRegistry) Register(deviceID string, info SiteInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[deviceID] = info
}

// Lookup implements DeviceRegistry.
func (r *StaticRegistry) Lookup(deviceID string) (SiteInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.devices[deviceID]
	return info, ok
}
