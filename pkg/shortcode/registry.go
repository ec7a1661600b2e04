package shortcode

import (
	"context"
	"sort"
)

// Shortcode computes the fragment for one invocation. Implementations may be
// called more than once for the same arguments, including concurrently.
type Shortcode interface {
	Render(ctx context.Context, args Args) (string, error)
}

// Func adapts a plain function to the Shortcode interface.
type Func func(ctx context.Context, args Args) (string, error)

// Render calls f.
func (f Func) Render(ctx context.Context, args Args) (string, error) {
	return f(ctx, args)
}

// TextFunc adapts a function that cannot fail.
type TextFunc func(args Args) string

// Render calls f.
func (f TextFunc) Render(_ context.Context, args Args) (string, error) {
	return f(args), nil
}

// RegistryBuilder collects shortcodes before the Registry is frozen.
type RegistryBuilder struct {
	entries map[string]Shortcode
}

// NewRegistryBuilder returns an empty builder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{entries: make(map[string]Shortcode)}
}

// Register maps name to sc. Registering a name again replaces the earlier entry.
func (b *RegistryBuilder) Register(name string, sc Shortcode) *RegistryBuilder {
	b.entries[name] = sc
	return b
}

// Build freezes the builder's contents into an immutable Registry. The builder
// may keep being used; later registrations do not affect built registries.
func (b *RegistryBuilder) Build() *Registry {
	entries := make(map[string]Shortcode, len(b.entries))
	for name, sc := range b.entries {
		entries[name] = sc
	}
	return &Registry{entries: entries}
}

// Registry maps display names to shortcodes. It is read-only after Build and
// needs no locking.
type Registry struct {
	entries map[string]Shortcode
}

// Lookup returns the shortcode registered under name.
func (r *Registry) Lookup(name string) (Shortcode, bool) {
	sc, ok := r.entries[name]
	return sc, ok
}

// Names returns the registered display names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered shortcodes.
func (r *Registry) Len() int {
	return len(r.entries)
}
