// Package registry implements the tagged-variant capability lookup design
// note: the core transfers an artifact's model/estimator Descriptor without
// ever interpreting its Spec bytes, deferring to whichever capability is
// registered under the Descriptor's Tag.
package registry

import (
	"fmt"
	"sync"

	"github.com/fedmesh/node/internal/domain/artifact"
)

// Capability is anything a task executor can run against a datasource:
// a model training routine or an estimator, keyed by tag. It is opaque to
// the core — only the task executor and the registered implementation
// understand Spec's contents.
type Capability interface {
	Kind() artifact.DescriptorKind
	Tag() string
}

// Registry is a concurrency-safe lookup of Capability by tag, scoped to
// either MODEL or ESTIMATOR descriptors.
type Registry struct {
	mu   sync.RWMutex
	byTag map[string]Capability
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{byTag: make(map[string]Capability)}
}

// Register adds a capability under its own tag, overwriting any prior
// registration for the same tag.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byTag[c.Tag()] = c
}

// Resolve looks up the capability for a descriptor's tag and checks its
// kind matches the descriptor's declared kind.
func (r *Registry) Resolve(d artifact.Descriptor) (Capability, error) {
	r.mu.RLock()
	c, ok := r.byTag[d.Tag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("registry: no capability registered for tag %q", d.Tag)
	}
	if c.Kind() != d.Kind {
		return nil, fmt.Errorf("registry: tag %q is registered as %s, descriptor declares %s", d.Tag, c.Kind(), d.Kind)
	}
	return c, nil
}

// Tags returns every registered tag, for diagnostics.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.byTag))
	for tag := range r.byTag {
		tags = append(tags, tag)
	}
	return tags
}
