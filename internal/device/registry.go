// Package device tracks the platform's capture devices and resolves default
// selections. The registry is a query surface over the provider's current
// device set; every refresh fully replaces the prior snapshot.
package device

import (
	"sync"

	"go.uber.org/zap"

	"github.com/classmesh/classmedia/internal/capture"
	"github.com/classmesh/classmedia/internal/rtcerrors"
)

// Registry enumerates and caches the current device snapshot.
type Registry struct {
	provider capture.Provider
	log      *zap.Logger

	mu       sync.RWMutex
	snapshot []capture.Descriptor

	unsubscribe func()
}

// NewRegistry builds a registry and subscribes to device-change
// notifications so the snapshot follows hotplug events.
func NewRegistry(provider capture.Provider, log *zap.Logger) *Registry {
	r := &Registry{
		provider: provider,
		log:      log.Named("devices"),
	}
	r.unsubscribe = provider.OnDeviceChange(func() {
		if _, err := r.Refresh(); err != nil {
			r.log.Warn("device refresh after change notification failed", zap.Error(err))
		}
	})
	return r
}

// Refresh re-enumerates devices, replacing the snapshot.
func (r *Registry) Refresh() ([]capture.Descriptor, error) {
	devices, err := r.provider.EnumerateDevices()
	if err != nil {
		return nil, rtcerrors.Wrap(err, rtcerrors.KindMedia, rtcerrors.CodeEnumerationDenied, "device enumeration failed")
	}

	r.mu.Lock()
	r.snapshot = devices
	r.mu.Unlock()

	r.log.Debug("device snapshot refreshed", zap.Int("count", len(devices)))
	return devices, nil
}

// List returns the devices from the last refresh, refreshing first if the
// registry has never enumerated.
func (r *Registry) List() ([]capture.Descriptor, error) {
	r.mu.RLock()
	snap := r.snapshot
	r.mu.RUnlock()
	if snap != nil {
		out := make([]capture.Descriptor, len(snap))
		copy(out, snap)
		return out, nil
	}
	return r.Refresh()
}

// ResolveDefault returns the first device of the given kind, or ok=false when
// none is attached.
func (r *Registry) ResolveDefault(kind capture.DeviceKind) (capture.Descriptor, bool) {
	devices, err := r.List()
	if err != nil {
		return capture.Descriptor{}, false
	}
	for _, d := range devices {
		if d.Kind == kind {
			return d, true
		}
	}
	return capture.Descriptor{}, false
}

// Close cancels the device-change subscription.
func (r *Registry) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}
