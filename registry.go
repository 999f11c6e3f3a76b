package orchestrator

import (
	"context"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
)

// ResolutionStrategy describes how the value of a field is produced. The set
// of strategies is closed: LocalStrategy, DelegateStrategy and
// ResolverStrategy.
type ResolutionStrategy interface {
	fmt.Stringer
	resolutionStrategy()
}

// LocalResolverFunc computes a field value without calling any service.
type LocalResolverFunc func(ctx context.Context, schema *ast.Schema, field *ast.Field, variables map[string]interface{}) (interface{}, error)

// LocalStrategy resolves a field inside the gateway.
type LocalStrategy struct {
	Name    string
	Resolve LocalResolverFunc
}

// DelegateStrategy forwards the field and its whole selection to the service
// owning it.
type DelegateStrategy struct {
	Service string
}

// ResolverStrategy resolves the field with a separate query built from a
// @resolver binding.
type ResolverStrategy struct {
	Context *FieldResolverContext
}

func (LocalStrategy) resolutionStrategy()    {}
func (DelegateStrategy) resolutionStrategy() {}
func (ResolverStrategy) resolutionStrategy() {}

func (s LocalStrategy) String() string {
	return fmt.Sprintf("local(%s)", s.Name)
}

func (s DelegateStrategy) String() string {
	return fmt.Sprintf("delegate(%s)", s.Service)
}

func (s ResolverStrategy) String() string {
	if s.Context == nil {
		return "resolver(<unbound>)"
	}
	return fmt.Sprintf("resolver(%s.%s)", s.Context.TargetService, s.Context.TargetFieldPath())
}

func sameStrategy(a, b ResolutionStrategy) bool {
	switch a := a.(type) {
	case LocalStrategy:
		b, ok := b.(LocalStrategy)
		return ok && a.Name == b.Name
	case DelegateStrategy:
		b, ok := b.(DelegateStrategy)
		return ok && a.Service == b.Service
	case ResolverStrategy:
		b, ok := b.(ResolverStrategy)
		return ok && a.Context == b.Context
	}
	return false
}

// CodeRegistry maps field coordinates to their resolution strategy.
type CodeRegistry struct {
	strategies map[FieldCoordinate]ResolutionStrategy
}

// NewCodeRegistry returns an empty registry.
func NewCodeRegistry() *CodeRegistry {
	return &CodeRegistry{strategies: make(map[FieldCoordinate]ResolutionStrategy)}
}

// Lookup returns the strategy registered for coord.
func (r *CodeRegistry) Lookup(coord FieldCoordinate) (ResolutionStrategy, bool) {
	s, ok := r.strategies[coord]
	return s, ok
}

// Register records s for coord. Registering the same strategy twice is a
// no-op, registering a different one fails with
// AmbiguousFieldResolutionError.
func (r *CodeRegistry) Register(coord FieldCoordinate, s ResolutionStrategy) error {
	if existing, ok := r.strategies[coord]; ok {
		if sameStrategy(existing, s) {
			return nil
		}
		return &AmbiguousFieldResolutionError{Coordinate: coord, Existing: existing, Incoming: s}
	}
	r.strategies[coord] = s
	return nil
}

// Override records s for coord, replacing any previous strategy.
func (r *CodeRegistry) Override(coord FieldCoordinate, s ResolutionStrategy) {
	r.strategies[coord] = s
}

func (r *CodeRegistry) remove(coord FieldCoordinate) {
	delete(r.strategies, coord)
}

// Len returns the number of registered coordinates.
func (r *CodeRegistry) Len() int {
	return len(r.strategies)
}

// Coordinates returns the registered coordinates in sorted order.
func (r *CodeRegistry) Coordinates() []FieldCoordinate {
	coords := make([]FieldCoordinate, 0, len(r.strategies))
	for c := range r.strategies {
		coords = append(coords, c)
	}
	sortCoordinates(coords)
	return coords
}

// ServiceFields returns the coordinates delegated to service.
func (r *CodeRegistry) ServiceFields(service string) []FieldCoordinate {
	var coords []FieldCoordinate
	for c, s := range r.strategies {
		if d, ok := s.(DelegateStrategy); ok && d.Service == service {
			coords = append(coords, c)
		}
	}
	sortCoordinates(coords)
	return coords
}

func (r *CodeRegistry) clone() *CodeRegistry {
	res := &CodeRegistry{strategies: make(map[FieldCoordinate]ResolutionStrategy, len(r.strategies))}
	for k, v := range r.strategies {
		res.strategies[k] = v
	}
	return res
}
