package platform

// Registry maps a platform tag to its adapter. It is stateless after
// construction; adding a platform means registering one more adapter.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Platform()] = a
	}
	return r
}

func (r *Registry) Get(platformName string) (Adapter, bool) {
	a, ok := r.adapters[platformName]
	return a, ok
}

func (r *Registry) Platforms() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
