package system

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/fedmesh/node/internal/corekit"
)

// Manager starts and stops registered services in registration order and
// unwinds them in reverse order on shutdown. It is the only place in the
// repository that owns the lifecycle of a Service.
type Manager struct {
	mu       sync.Mutex
	services []Service
	started  []Service
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a service to the manager. Registration order determines
// start order; services are stopped in the reverse order they were started.
func (m *Manager) Register(svc Service) {
	if svc == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services = append(m.services, svc)
}

// Start starts every registered service in order. If a service fails to
// start, every previously-started service is stopped (best-effort) before
// the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	for _, svc := range services {
		if err := svc.Start(ctx); err != nil {
			m.mu.Lock()
			started := append([]Service(nil), m.started...)
			m.mu.Unlock()
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].Stop(ctx)
			}
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.mu.Lock()
		m.started = append(m.started, svc)
		m.mu.Unlock()
	}
	return nil
}

// Stop stops every started service in reverse order, collecting (not
// aborting on) individual errors.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	started := append([]Service(nil), m.started...)
	m.started = nil
	m.mu.Unlock()

	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("stop %s: %w", started[i].Name(), err)
		}
	}
	return firstErr
}

// Descriptors returns the descriptors of every registered service that
// implements DescriptorProvider, sorted by layer then name.
func (m *Manager) Descriptors() []corekit.Descriptor {
	m.mu.Lock()
	services := append([]Service(nil), m.services...)
	m.mu.Unlock()

	var providers []DescriptorProvider
	for _, svc := range services {
		if p, ok := svc.(DescriptorProvider); ok {
			providers = append(providers, p)
		}
	}
	return CollectDescriptors(providers)
}

// CollectDescriptors extracts service descriptors, skipping nil entries, and
// sorts them for deterministic presentation (layer + name).
func CollectDescriptors(providers []DescriptorProvider) []corekit.Descriptor {
	var out []corekit.Descriptor
	for _, p := range providers {
		if p == nil {
			continue
		}
		out = append(out, p.Descriptor())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Layer == out[j].Layer {
			return out[i].Name < out[j].Name
		}
		return out[i].Layer < out[j].Layer
	})
	return out
}
