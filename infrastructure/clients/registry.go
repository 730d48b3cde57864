package clients

import (
	"sort"

	"crosspost/domain/model"
	"crosspost/domain/repository"
)

// Registry resolves destination keys to publishers by platform prefix.
type Registry struct {
	publishers map[string]repository.IPublisher
}

func NewRegistry(publishers ...repository.IPublisher) *Registry {
	r := &Registry{publishers: make(map[string]repository.IPublisher, len(publishers))}
	for _, p := range publishers {
		if p != nil {
			r.publishers[p.Platform()] = p
		}
	}
	return r
}

func (r *Registry) For(key model.DestinationKey) (repository.IPublisher, bool) {
	p, ok := r.publishers[key.Platform()]
	return p, ok
}

func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
