package orchestrator

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSchemaConflict is matched by errors raised when two services declare
	// incompatible definitions under the same name.
	ErrSchemaConflict = errors.New("schema conflict")
	// ErrAmbiguousFieldResolution is matched by errors raised when two
	// strategies claim the same field coordinate.
	ErrAmbiguousFieldResolution = errors.New("ambiguous field resolution")
	// ErrUnresolvedFieldResolverBinding is matched by errors raised when a
	// @resolver declaration cannot be bound.
	ErrUnresolvedFieldResolverBinding = errors.New("unresolved field resolver binding")
	// ErrCyclicFieldResolverBinding is matched by errors raised when
	// @resolver declarations depend on each other in a cycle.
	ErrCyclicFieldResolverBinding = errors.New("cyclic field resolver binding")
	// ErrDownstreamCallFailure is matched by errors raised when a call to a
	// service fails at execution time.
	ErrDownstreamCallFailure = errors.New("downstream call failure")
)

// SchemaConflictError is returned when a service declares a type, field or
// directive whose shape differs from the one already in the graph.
type SchemaConflictError struct {
	Kind            string
	Name            string
	ExistingService string
	IncomingService string
}

func (e *SchemaConflictError) Error() string {
	return fmt.Sprintf("conflicting %s %q: declared by %q and %q with different definitions", e.Kind, e.Name, e.ExistingService, e.IncomingService)
}

func (e *SchemaConflictError) Is(target error) bool {
	return target == ErrSchemaConflict
}

// AmbiguousFieldResolutionError is returned when a coordinate is claimed by
// a second, different strategy.
type AmbiguousFieldResolutionError struct {
	Coordinate FieldCoordinate
	Existing   ResolutionStrategy
	Incoming   ResolutionStrategy
}

func (e *AmbiguousFieldResolutionError) Error() string {
	return fmt.Sprintf("field %s is already resolved by %s, cannot also resolve it by %s", e.Coordinate, e.Existing, e.Incoming)
}

func (e *AmbiguousFieldResolutionError) Is(target error) bool {
	return target == ErrAmbiguousFieldResolution
}

// UnresolvedFieldResolverBindingError is returned for a @resolver
// declaration whose target cannot be bound.
type UnresolvedFieldResolverBindingError struct {
	Coordinate FieldCoordinate
	Target     string
	Reason     string
}

func (e *UnresolvedFieldResolverBindingError) Error() string {
	return fmt.Sprintf("cannot bind resolver for %s to %q: %s", e.Coordinate, e.Target, e.Reason)
}

func (e *UnresolvedFieldResolverBindingError) Is(target error) bool {
	return target == ErrUnresolvedFieldResolverBinding
}

// CyclicFieldResolverBindingError lists the coordinates forming a cycle,
// starting and ending with the same coordinate.
type CyclicFieldResolverBindingError struct {
	Cycle []FieldCoordinate
}

func (e *CyclicFieldResolverBindingError) Error() string {
	parts := make([]string, len(e.Cycle))
	for i, c := range e.Cycle {
		parts[i] = c.String()
	}
	return fmt.Sprintf("field resolvers depend on each other: %s", strings.Join(parts, " -> "))
}

func (e *CyclicFieldResolverBindingError) Is(target error) bool {
	return target == ErrCyclicFieldResolverBinding
}

// DownstreamCallError wraps a failure returned by a service.
type DownstreamCallError struct {
	Service string
	Timeout bool
	Err     error
}

func (e *DownstreamCallError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("call to service %q timed out", e.Service)
	}
	return fmt.Sprintf("call to service %q failed: %s", e.Service, e.Err)
}

func (e *DownstreamCallError) Is(target error) bool {
	return target == ErrDownstreamCallFailure
}

func (e *DownstreamCallError) Unwrap() error {
	return e.Err
}
