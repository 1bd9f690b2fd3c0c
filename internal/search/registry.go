package search

import (
	"slices"
	"sync"
)

// Registry holds the sources and embellishers consulted by new runs.
type Registry struct {
	mu           sync.RWMutex
	sources      []*sourceEntry
	embellishers []*embellisherEntry
}

type sourceEntry struct{ src Source }
type embellisherEntry struct{ emb Embellisher }

func NewRegistry() *Registry {
	return &Registry{}
}

// RegisterSource adds src and returns a func that removes this
// registration. Calling it more than once is harmless.
func (r *Registry) RegisterSource(src Source) (unregister func()) {
	entry := &sourceEntry{src: src}
	r.mu.Lock()
	r.sources = append(r.sources, entry)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.sources = slices.DeleteFunc(r.sources, func(e *sourceEntry) bool { return e == entry })
			r.mu.Unlock()
		})
	}
}

// RegisterEmbellisher adds emb after the already registered embellishers.
func (r *Registry) RegisterEmbellisher(emb Embellisher) (unregister func()) {
	entry := &embellisherEntry{emb: emb}
	r.mu.Lock()
	r.embellishers = append(r.embellishers, entry)
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			r.embellishers = slices.DeleteFunc(r.embellishers, func(e *embellisherEntry) bool { return e == entry })
			r.mu.Unlock()
		})
	}
}

// Snapshot copies the current registrations in registration order.
func (r *Registry) Snapshot() ([]Source, []Embellisher) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sources := make([]Source, 0, len(r.sources))
	for _, e := range r.sources {
		sources = append(sources, e.src)
	}
	embellishers := make([]Embellisher, 0, len(r.embellishers))
	for _, e := range r.embellishers {
		embellishers = append(embellishers, e.emb)
	}
	return sources, embellishers
}

// SourceNames lists registered source names in registration order.
func (r *Registry) SourceNames() []string {
	sources, _ := r.Snapshot()
	names := make([]string, 0, len(sources))
	for _, src := range sources {
		names = append(names, src.Name())
	}
	return names
}
