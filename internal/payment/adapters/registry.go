package adapters

import (
	"sort"
	"strings"

	"github.com/smallbiznis/coursemart/internal/payment/domain"
)

// Registry holds the processors this deployment can talk to, keyed by name.
type Registry struct {
	processors map[string]domain.Processor
}

func NewRegistry(processors ...domain.Processor) *Registry {
	registry := &Registry{processors: map[string]domain.Processor{}}
	for _, processor := range processors {
		if processor == nil {
			continue
		}
		name := normalize(processor.Name())
		if name == "" {
			continue
		}
		registry.processors[name] = processor
	}
	return registry
}

func (r *Registry) ProviderExists(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.processors[normalize(provider)]
	return ok
}

func (r *Registry) Get(provider string) (domain.Processor, error) {
	if r == nil {
		return nil, domain.ErrUnsupportedProvider
	}
	processor, ok := r.processors[normalize(provider)]
	if !ok {
		return nil, domain.ErrUnsupportedProvider
	}
	return processor, nil
}

// Names returns the registered provider names in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
