package etl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"docloader/internal/domain"
)

// ── Resolver ───────────────────────────────────────────────
// A Resolver turns one locator reference into a Container.
// Implementations live in etl/sources/, one file per reference scheme.

// ResolverSpec describes a resolver.
type ResolverSpec struct {
	Schemes []string `json:"schemes"`
	Label   string   `json:"label"`
}

// Resolver reads one reference into a Container.
type Resolver interface {
	// Spec returns the schemes the resolver handles.
	Spec() ResolverSpec

	// Resolve reads the referenced unit.
	Resolve(ctx context.Context, ref string) (*domain.Container, error)
}

// SchemeFile is the scheme of references without an explicit scheme.
const SchemeFile = "file"

// SchemeOf returns the scheme of a reference ("s3://b/k" → "s3").
func SchemeOf(ref string) string {
	if i := strings.Index(ref, "://"); i > 0 {
		return strings.ToLower(ref[:i])
	}
	return SchemeFile
}

// ── Resolver Registry ──────────────────────────────────────

// Registry maps reference schemes to resolvers.
type Registry struct {
	mu        sync.RWMutex
	resolvers map[string]Resolver
	now       func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: map[string]Resolver{}, now: time.Now}
}

// Register adds r under each of its schemes.
func (g *Registry) Register(r Resolver) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range r.Spec().Schemes {
		g.resolvers[s] = r
	}
}

// Get returns the resolver registered for scheme.
func (g *Registry) Get(scheme string) (Resolver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.resolvers[scheme]
	if !ok {
		return nil, fmt.Errorf("unknown locator scheme: %q", scheme)
	}
	return r, nil
}

// Schemes lists registered schemes, sorted.
func (g *Registry) Schemes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.resolvers))
	for s := range g.resolvers {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Resolve reads a locator's primary reference and merges its auxiliaries.
// Any failure makes the whole unit unreadable.
func (g *Registry) Resolve(ctx context.Context, loc domain.Locator) (*domain.Container, error) {
	primary, err := g.resolveRef(ctx, loc.Primary)
	if err != nil {
		return nil, err
	}
	aux := make([]*domain.Container, 0, len(loc.Auxiliary))
	for _, ref := range loc.Auxiliary {
		c, err := g.resolveRef(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("auxiliary: %w", err)
		}
		aux = append(aux, c)
	}
	merged, err := MergeAuxiliary(primary, aux)
	if err != nil {
		return nil, err
	}
	merged.SetProp(domain.PropLocator, loc.String())
	if merged.Prop(domain.PropLoadDate) == "" {
		merged.SetProp(domain.PropLoadDate, FormatDateTime(g.now()))
	}
	return merged, nil
}

func (g *Registry) resolveRef(ctx context.Context, ref string) (*domain.Container, error) {
	r, err := g.Get(SchemeOf(ref))
	if err != nil {
		return nil, err
	}
	c, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", ref, err)
	}
	return c, nil
}
