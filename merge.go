package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vektah/gqlparser/v2/ast"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MergeService folds the schema of svc into g and returns the resulting
// graph. The merge is all-or-nothing: on error g is left as it was and none
// of the service's definitions are kept.
func MergeService(g *RuntimeGraph, svc ServiceProvider) (*RuntimeGraph, error) {
	schema := svc.SchemaDocument()
	if schema == nil {
		return nil, fmt.Errorf("service %q has no schema", svc.ServiceName())
	}

	return g.Transform(func(b *GraphBuilder) error {
		m := &merger{
			builder: b,
			service: svc.ServiceName(),
			schema:  schema,
		}
		b.Service(svc)
		if err := m.mergeDirectives(); err != nil {
			return err
		}
		return m.mergeTypes()
	})
}

type merger struct {
	builder *GraphBuilder
	service string
	schema  *ast.Schema
}

func (m *merger) mergeDirectives() error {
	names := make([]string, 0, len(m.schema.Directives))
	for name := range m.schema.Directives {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := m.schema.Directives[name]
		if isBuiltinDirective(d) {
			continue
		}
		existing, ok := m.builder.directives[name]
		if !ok {
			m.builder.Directive(d)
			m.builder.typeOwners["@"+name] = m.service
			continue
		}
		if directiveShape(existing) != directiveShape(d) {
			return &SchemaConflictError{
				Kind:            "directive",
				Name:            "@" + name,
				ExistingService: m.builder.typeOwners["@"+name],
				IncomingService: m.service,
			}
		}
	}
	return nil
}

func (m *merger) mergeTypes() error {
	names := make([]string, 0, len(m.schema.Types))
	for name := range m.schema.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		def := m.schema.Types[name]
		if isBuiltinDefinition(def) {
			continue
		}
		if op, ok := rootOperation(m.schema, def); ok {
			if err := m.mergeRootType(op, def); err != nil {
				return err
			}
			continue
		}
		if _, ok := OperationForTypeName(name); ok {
			return &SchemaConflictError{
				Kind:            "type",
				Name:            name,
				ExistingService: internalServiceName,
				IncomingService: m.service,
			}
		}
		if err := m.mergeType(def); err != nil {
			return err
		}
	}
	return nil
}

// mergeRootType merges the fields of a service root object into the gateway
// root for op.
func (m *merger) mergeRootType(op Operation, def *ast.Definition) error {
	existing := m.builder.OperationType(op)
	root := *existing
	root.Fields = append(ast.FieldList(nil), existing.Fields...)
	typeName := op.TypeName()

	for _, f := range def.Fields {
		if isGraphQLBuiltinName(f.Name) {
			continue
		}
		coord := NewFieldCoordinate(typeName, f.Name)
		if current := root.Fields.ForName(f.Name); current != nil {
			if fieldShape(current) != fieldShape(f) {
				return &SchemaConflictError{
					Kind:            "field",
					Name:            coord.String(),
					ExistingService: m.fieldOwner(coord),
					IncomingService: m.service,
				}
			}
			if err := m.registerField(typeName, f); err != nil {
				return err
			}
			continue
		}
		root.Fields = append(root.Fields, f)
		if err := m.registerField(typeName, f); err != nil {
			return err
		}
	}

	m.builder.Operation(op, &root)
	return nil
}

func (m *merger) mergeType(def *ast.Definition) error {
	existing, ok := m.builder.LookupType(def.Name)
	switch {
	case !ok:
		m.builder.Type(def, m.service)
		return m.registerFields(def)
	case existing.Kind != def.Kind:
		return m.conflict(def)
	case isPlaceholder(def):
		return nil
	case isPlaceholder(existing):
		m.builder.Type(def, m.service)
		return m.registerFields(def)
	case typeShape(existing) == typeShape(def):
		return nil
	default:
		return m.conflict(def)
	}
}

func (m *merger) conflict(def *ast.Definition) error {
	return &SchemaConflictError{
		Kind:            strings.ToLower(string(def.Kind)),
		Name:            def.Name,
		ExistingService: m.builder.typeOwners[def.Name],
		IncomingService: m.service,
	}
}

func (m *merger) registerFields(def *ast.Definition) error {
	switch def.Kind {
	case ast.Interface, ast.Object:
		if def.Kind == ast.Interface {
			m.builder.HasInterfaceOrUnion(true)
		}
		if isPlaceholder(def) {
			return nil
		}
		for _, f := range def.Fields {
			if isGraphQLBuiltinName(f.Name) {
				continue
			}
			if err := m.registerField(def.Name, f); err != nil {
				return err
			}
		}
	case ast.Union:
		m.builder.HasInterfaceOrUnion(true)
	case ast.Enum, ast.Scalar, ast.InputObject:
	}
	return nil
}

func (m *merger) registerField(typeName string, f *ast.FieldDefinition) error {
	coord := NewFieldCoordinate(typeName, f.Name)
	if d := f.Directives.ForName(resolverDirectiveName); d != nil {
		m.builder.HasFieldResolverDefinition(true)
		if decl, ok := m.builder.fieldResolverDeclarations[coord]; ok {
			if decl.Service == m.service {
				return nil
			}
			return &AmbiguousFieldResolutionError{
				Coordinate: coord,
				Existing:   DelegateStrategy{Service: decl.Service},
				Incoming:   DelegateStrategy{Service: m.service},
			}
		}
		m.builder.FieldResolverDeclaration(&FieldResolverDeclaration{
			Coordinate: coord,
			Service:    m.service,
			Field:      f,
			Directive:  d,
		})
	}
	return m.builder.RegisterStrategy(coord, DelegateStrategy{Service: m.service})
}

func (m *merger) fieldOwner(coord FieldCoordinate) string {
	if s, ok := m.builder.Strategy(coord); ok {
		if d, ok := s.(DelegateStrategy); ok {
			return d.Service
		}
	}
	return m.builder.typeOwners[coord.TypeName]
}

// typeShape returns a canonical representation of def that ignores
// descriptions, source positions and declaration order.
func typeShape(def *ast.Definition) string {
	var sb strings.Builder
	sb.WriteString(string(def.Kind))
	sb.WriteString(" ")
	sb.WriteString(def.Name)

	interfaces := append([]string(nil), def.Interfaces...)
	sort.Strings(interfaces)
	sb.WriteString(" implements ")
	sb.WriteString(strings.Join(interfaces, "&"))

	members := append([]string(nil), def.Types...)
	sort.Strings(members)
	sb.WriteString(" = ")
	sb.WriteString(strings.Join(members, "|"))

	var fields []string
	for _, f := range def.Fields {
		if isGraphQLBuiltinName(f.Name) {
			continue
		}
		fields = append(fields, fieldShape(f))
	}
	sort.Strings(fields)
	sb.WriteString(" {")
	sb.WriteString(strings.Join(fields, " "))
	sb.WriteString("}")

	var values []string
	for _, v := range def.EnumValues {
		values = append(values, v.Name)
	}
	sort.Strings(values)
	sb.WriteString(" [")
	sb.WriteString(strings.Join(values, " "))
	sb.WriteString("]")

	return sb.String()
}

func fieldShape(f *ast.FieldDefinition) string {
	var sb strings.Builder
	sb.WriteString(f.Name)
	sb.WriteString(argumentsShape(f.Arguments))
	sb.WriteString(":")
	sb.WriteString(f.Type.String())
	if f.DefaultValue != nil {
		sb.WriteString("=")
		sb.WriteString(f.DefaultValue.String())
	}
	return sb.String()
}

func argumentsShape(args ast.ArgumentDefinitionList) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, 0, len(args))
	for _, a := range args {
		s := a.Name + ":" + a.Type.String()
		if a.DefaultValue != nil {
			s += "=" + a.DefaultValue.String()
		}
		parts = append(parts, s)
	}
	sort.Strings(parts)
	return "(" + strings.Join(parts, ",") + ")"
}

func directiveShape(d *ast.DirectiveDefinition) string {
	locations := make([]string, len(d.Locations))
	for i, l := range d.Locations {
		locations[i] = string(l)
	}
	sort.Strings(locations)
	return fmt.Sprintf("@%s%s repeatable=%t on %s", d.Name, argumentsShape(d.Arguments), d.IsRepeatable, strings.Join(locations, "|"))
}

type composeOptions struct {
	failFast bool
}

// ComposeOption configures Compose.
type ComposeOption func(*composeOptions)

// WithFailFast makes Compose stop at the first service that cannot be
// merged instead of skipping it.
func WithFailFast(failFast bool) ComposeOption {
	return func(o *composeOptions) {
		o.failFast = failFast
	}
}

// Compose merges every service into an empty graph, then binds the @resolver
// declarations. Services that cannot be merged are skipped, and bindings that
// cannot be resolved are dropped; the returned error joins those failures
// and the returned graph is usable. With WithFailFast(true) the first merge
// failure is returned with a nil graph.
func Compose(ctx context.Context, services []ServiceProvider, opts ...ComposeOption) (*RuntimeGraph, error) {
	var o composeOptions
	for _, opt := range opts {
		opt(&o)
	}

	sorted := append([]ServiceProvider(nil), services...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ServiceName() < sorted[j].ServiceName()
	})

	names := make([]string, len(sorted))
	for i, s := range sorted {
		names[i] = s.ServiceName()
	}
	start := time.Now()
	ctx, span := otel.Tracer(instrumentationName).Start(ctx, "Schema Composition",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.StringSlice("graphql.federation.services", names)),
	)
	defer span.End()

	var errs []error
	graph := EmptyGraph()
	for _, svc := range sorted {
		merged, err := MergeService(graph, svc)
		if err != nil {
			promMergeErrorCounter.WithLabelValues(svc.ServiceName()).Inc()
			err = fmt.Errorf("merging service %q: %w", svc.ServiceName(), err)
			span.RecordError(err)
			if o.failFast {
				span.SetStatus(codes.Error, err.Error())
				meters.recordComposition(ctx, start, len(errs)+1, 0, true)
				return nil, err
			}
			log.WithError(err).WithField("service", svc.ServiceName()).Warn("skipping service")
			errs = append(errs, err)
			continue
		}
		graph = merged
	}

	skipped := len(errs)
	graph, bindErrs := BindFieldResolvers(graph)
	promDroppedFieldResolvers.Set(float64(len(bindErrs)))
	for _, err := range bindErrs {
		span.RecordError(err)
		log.WithError(err).Warn("dropping field resolver")
		errs = append(errs, err)
	}
	meters.recordComposition(ctx, start, skipped, len(bindErrs), false)

	return graph, errors.Join(errs...)
}
