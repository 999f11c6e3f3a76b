package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// graphState holds every container shared by RuntimeGraph and GraphBuilder.
type graphState struct {
	services     map[string]ServiceProvider
	operationMap map[Operation]*ast.Definition
	types        map[string]*ast.Definition
	typeOwners   map[string]string
	directives   map[string]*ast.DirectiveDefinition
	codeRegistry *CodeRegistry

	fieldResolverDeclarations map[FieldCoordinate]*FieldResolverDeclaration
	fieldResolverContexts     []*FieldResolverContext

	hasInterfaceOrUnion        bool
	hasFieldResolverDefinition bool
}

func newGraphState() graphState {
	return graphState{
		services:                  make(map[string]ServiceProvider),
		operationMap:              make(map[Operation]*ast.Definition),
		types:                     make(map[string]*ast.Definition),
		typeOwners:                make(map[string]string),
		directives:                make(map[string]*ast.DirectiveDefinition),
		codeRegistry:              NewCodeRegistry(),
		fieldResolverDeclarations: make(map[FieldCoordinate]*FieldResolverDeclaration),
	}
}

// clone copies every container. Definitions are shared: they are never
// mutated once they are part of a graph.
func (s *graphState) clone() graphState {
	res := graphState{
		services:                   make(map[string]ServiceProvider, len(s.services)),
		operationMap:               make(map[Operation]*ast.Definition, len(s.operationMap)),
		types:                      make(map[string]*ast.Definition, len(s.types)),
		typeOwners:                 make(map[string]string, len(s.typeOwners)),
		directives:                 make(map[string]*ast.DirectiveDefinition, len(s.directives)),
		codeRegistry:               s.codeRegistry.clone(),
		fieldResolverDeclarations:  make(map[FieldCoordinate]*FieldResolverDeclaration, len(s.fieldResolverDeclarations)),
		fieldResolverContexts:      append([]*FieldResolverContext(nil), s.fieldResolverContexts...),
		hasInterfaceOrUnion:        s.hasInterfaceOrUnion,
		hasFieldResolverDefinition: s.hasFieldResolverDefinition,
	}
	for k, v := range s.services {
		res.services[k] = v
	}
	for k, v := range s.operationMap {
		res.operationMap[k] = v
	}
	for k, v := range s.types {
		res.types[k] = v
	}
	for k, v := range s.typeOwners {
		res.typeOwners[k] = v
	}
	for k, v := range s.directives {
		res.directives[k] = v
	}
	for k, v := range s.fieldResolverDeclarations {
		res.fieldResolverDeclarations[k] = v
	}
	return res
}

// RuntimeGraph is the merged representation of every service schema. A
// graph is a snapshot: it is only changed through Transform, except for
// AddType and RemoveType which are reserved to composition.
type RuntimeGraph struct {
	graphState

	mu          sync.RWMutex
	objectTypes map[string]*ast.Definition
	schema      *ast.Schema
}

// EmptyGraph returns a graph with an empty root object for every operation
// and no types.
func EmptyGraph() *RuntimeGraph {
	b := NewGraphBuilder()
	for _, op := range Operations() {
		root := op.TypeName()
		b.OverrideStrategy(NewFieldCoordinate(root, typenameFieldName), typenameStrategy(root))
	}
	b.OverrideStrategy(NewFieldCoordinate(queryObjectName, schemaFieldName), LocalStrategy{Name: schemaFieldName, Resolve: resolveSchemaField})
	b.OverrideStrategy(NewFieldCoordinate(queryObjectName, typeFieldName), LocalStrategy{Name: typeFieldName, Resolve: resolveTypeField})
	return b.Build()
}

// Transform derives a new graph by applying fn to a builder seeded from g.
// If fn fails the builder is discarded and g is left untouched.
func (g *RuntimeGraph) Transform(fn func(*GraphBuilder) error) (*RuntimeGraph, error) {
	b := NewGraphBuilderFrom(g)
	if err := fn(b); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

// HasType reports whether a type named name is part of the graph, root
// objects included.
func (g *RuntimeGraph) HasType(name string) bool {
	return g.Type(name) != nil
}

// Type returns the definition named name, or nil.
func (g *RuntimeGraph) Type(name string) *ast.Definition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if op, ok := OperationForTypeName(name); ok {
		return g.operationMap[op]
	}
	return g.types[name]
}

// TypeOf returns the definition of the named type wrapped by t.
func (g *RuntimeGraph) TypeOf(t *ast.Type) *ast.Definition {
	if t == nil {
		return nil
	}
	return g.Type(t.Name())
}

// TypeNames returns the names of all non-root types, sorted.
func (g *RuntimeGraph) TypeNames() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	names := make([]string, 0, len(g.types))
	for name := range g.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TypeOwner returns the service that introduced the type.
func (g *RuntimeGraph) TypeOwner(name string) string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.typeOwners[name]
}

// OperationType returns the root object for op.
func (g *RuntimeGraph) OperationType(op Operation) *ast.Definition {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.operationMap[op]
}

// Operation returns the operation whose root object is named typeName.
func (g *RuntimeGraph) Operation(typeName string) (Operation, bool) {
	return OperationForTypeName(typeName)
}

// IsOperationType reports whether name is one of the root objects.
func (g *RuntimeGraph) IsOperationType(name string) bool {
	_, ok := OperationForTypeName(name)
	return ok
}

// Directive returns the directive definition named name, or nil.
func (g *RuntimeGraph) Directive(name string) *ast.DirectiveDefinition {
	return g.directives[name]
}

// Directives returns the merged directive definitions sorted by name.
func (g *RuntimeGraph) Directives() []*ast.DirectiveDefinition {
	res := make([]*ast.DirectiveDefinition, 0, len(g.directives))
	for _, d := range g.directives {
		res = append(res, d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// CodeRegistry returns the field resolution registry. It must not be
// modified.
func (g *RuntimeGraph) CodeRegistry() *CodeRegistry {
	return g.codeRegistry
}

// Strategy returns the resolution strategy for coord.
func (g *RuntimeGraph) Strategy(coord FieldCoordinate) (ResolutionStrategy, bool) {
	return g.codeRegistry.Lookup(coord)
}

// FieldResolverContexts returns the bound @resolver stitches, dependencies
// first.
func (g *RuntimeGraph) FieldResolverContexts() []*FieldResolverContext {
	return g.fieldResolverContexts
}

// FieldResolverDeclarations returns the @resolver declarations recorded
// during merge, sorted by coordinate.
func (g *RuntimeGraph) FieldResolverDeclarations() []*FieldResolverDeclaration {
	coords := make([]FieldCoordinate, 0, len(g.fieldResolverDeclarations))
	for c := range g.fieldResolverDeclarations {
		coords = append(coords, c)
	}
	sortCoordinates(coords)
	res := make([]*FieldResolverDeclaration, len(coords))
	for i, c := range coords {
		res[i] = g.fieldResolverDeclarations[c]
	}
	return res
}

// Service returns the merged service named name.
func (g *RuntimeGraph) Service(name string) (ServiceProvider, bool) {
	s, ok := g.services[name]
	return s, ok
}

// Services returns the merged services sorted by name.
func (g *RuntimeGraph) Services() []ServiceProvider {
	names := make([]string, 0, len(g.services))
	for name := range g.services {
		names = append(names, name)
	}
	sort.Strings(names)
	res := make([]ServiceProvider, len(names))
	for i, name := range names {
		res[i] = g.services[name]
	}
	return res
}

// HasInterfaceOrUnion reports whether the graph has an interface or union.
func (g *RuntimeGraph) HasInterfaceOrUnion() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasInterfaceOrUnion
}

// HasFieldResolverDefinition reports whether a merged field carries @resolver.
func (g *RuntimeGraph) HasFieldResolverDefinition() bool {
	return g.hasFieldResolverDefinition
}

// RequiresTypenameInjection reports whether downstream queries must select
// __typename to disambiguate abstract types.
func (g *RuntimeGraph) RequiresTypenameInjection() bool {
	return g.HasInterfaceOrUnion()
}

// ObjectTypeDefinitionsByName returns every object type of the graph and
// the Query root. The index is cached until the next AddType or RemoveType;
// callers get their own copy of it.
func (g *RuntimeGraph) ObjectTypeDefinitionsByName() map[string]*ast.Definition {
	return copyDefinitions(g.objectTypeIndex())
}

func (g *RuntimeGraph) objectTypeIndex() map[string]*ast.Definition {
	g.mu.RLock()
	if g.objectTypes != nil {
		defer g.mu.RUnlock()
		return g.objectTypes
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.objectTypes != nil {
		return g.objectTypes
	}
	res := make(map[string]*ast.Definition)
	for name, def := range g.types {
		if def.Kind == ast.Object {
			res[name] = def
		}
	}
	query := g.operationMap[OperationQuery]
	res[query.Name] = query
	g.objectTypes = res
	return res
}

func copyDefinitions(defs map[string]*ast.Definition) map[string]*ast.Definition {
	res := make(map[string]*ast.Definition, len(defs))
	for k, v := range defs {
		res[k] = v
	}
	return res
}

// AddType adds or replaces a type definition. A definition named after a root
// object replaces that root.
func (g *RuntimeGraph) AddType(def *ast.Definition) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if op, ok := OperationForTypeName(def.Name); ok {
		g.operationMap[op] = def
	} else {
		g.types[def.Name] = def
	}
	g.invalidateLocked()
}

// RemoveType removes the type named name and the strategies of its fields.
// Root objects are reset to an empty object.
func (g *RuntimeGraph) RemoveType(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var def *ast.Definition
	if op, ok := OperationForTypeName(name); ok {
		def = g.operationMap[op]
		g.operationMap[op] = op.emptyRootType()
	} else {
		def = g.types[name]
		delete(g.types, name)
		delete(g.typeOwners, name)
	}
	if def != nil {
		for _, f := range def.Fields {
			g.codeRegistry.remove(NewFieldCoordinate(name, f.Name))
		}
	}
	g.invalidateLocked()
}

func (g *RuntimeGraph) invalidateLocked() {
	g.objectTypes = nil
	g.schema = nil
	g.hasInterfaceOrUnion = false
	for _, def := range g.types {
		if def.Kind == ast.Interface || def.Kind == ast.Union {
			g.hasInterfaceOrUnion = true
			break
		}
	}
}

var (
	preludeOnce sync.Once
	prelude     *ast.SchemaDocument
)

func preludeDocument() *ast.SchemaDocument {
	preludeOnce.Do(func() {
		doc, err := parser.ParseSchema(validator.Prelude)
		if err != nil {
			panic(err)
		}
		for _, def := range doc.Definitions {
			def.BuiltIn = true
		}
		prelude = doc
	})
	return prelude
}

// Schema returns the merged schema, with builtin types and an introspection
// capable Query root. The result is cached until the next AddType or
// RemoveType.
func (g *RuntimeGraph) Schema() *ast.Schema {
	g.mu.RLock()
	if g.schema != nil {
		defer g.mu.RUnlock()
		return g.schema
	}
	g.mu.RUnlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.schema != nil {
		return g.schema
	}

	schema := &ast.Schema{
		Types:         make(map[string]*ast.Definition),
		Directives:    make(map[string]*ast.DirectiveDefinition),
		PossibleTypes: make(map[string][]*ast.Definition),
		Implements:    make(map[string][]*ast.Definition),
	}
	doc := preludeDocument()
	for _, def := range doc.Definitions {
		schema.Types[def.Name] = def
	}
	for _, d := range doc.Directives {
		schema.Directives[d.Name] = d
	}
	for name, def := range g.types {
		schema.Types[name] = def
	}
	for name, d := range g.directives {
		schema.Directives[name] = d
	}

	for _, op := range Operations() {
		root := g.operationMap[op]
		if op != OperationQuery && len(root.Fields) == 0 {
			continue
		}
		if op == OperationQuery {
			root = withIntrospectionFields(root)
		}
		schema.Types[root.Name] = root
		switch op {
		case OperationQuery:
			schema.Query = root
		case OperationMutation:
			schema.Mutation = root
		case OperationSubscription:
			schema.Subscription = root
		}
	}

	names := make([]string, 0, len(schema.Types))
	for name := range schema.Types {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		def := schema.Types[name]
		switch def.Kind {
		case ast.Union:
			for _, member := range def.Types {
				if m, ok := schema.Types[member]; ok {
					schema.AddPossibleType(def.Name, m)
					schema.AddImplements(m.Name, def)
				}
			}
		case ast.Object:
			schema.AddPossibleType(def.Name, def)
			for _, i := range def.Interfaces {
				if iface, ok := schema.Types[i]; ok {
					schema.AddPossibleType(iface.Name, def)
					schema.AddImplements(def.Name, iface)
				}
			}
		case ast.Interface, ast.Enum, ast.Scalar, ast.InputObject:
		}
	}

	g.schema = schema
	return schema
}

func withIntrospectionFields(query *ast.Definition) *ast.Definition {
	res := *query
	res.Fields = append(ast.FieldList{}, query.Fields...)
	if res.Fields.ForName(schemaFieldName) == nil {
		res.Fields = append(res.Fields, &ast.FieldDefinition{
			Name: schemaFieldName,
			Type: ast.NonNullNamedType("__Schema", nil),
		})
	}
	if res.Fields.ForName(typeFieldName) == nil {
		res.Fields = append(res.Fields, &ast.FieldDefinition{
			Name: typeFieldName,
			Type: ast.NamedType("__Type", nil),
			Arguments: ast.ArgumentDefinitionList{
				{Name: "name", Type: ast.NonNullNamedType("String", nil)},
			},
		})
	}
	return &res
}

// GraphBuilder exclusively owns the containers of a graph under
// construction.
type GraphBuilder struct {
	graphState
}

// NewGraphBuilder returns an empty builder.
func NewGraphBuilder() *GraphBuilder {
	return &GraphBuilder{graphState: newGraphState()}
}

// NewGraphBuilderFrom returns a builder seeded with copies of g's
// containers.
func NewGraphBuilderFrom(g *RuntimeGraph) *GraphBuilder {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return &GraphBuilder{graphState: g.graphState.clone()}
}

// Build returns a snapshot of the builder. Missing root objects are replaced
// by empty ones.
func (b *GraphBuilder) Build() *RuntimeGraph {
	state := b.graphState.clone()
	for _, op := range Operations() {
		if state.operationMap[op] == nil {
			state.operationMap[op] = op.emptyRootType()
		}
	}
	return &RuntimeGraph{graphState: state}
}

// OperationMap replaces every root object.
func (b *GraphBuilder) OperationMap(m map[Operation]*ast.Definition) *GraphBuilder {
	b.operationMap = make(map[Operation]*ast.Definition, len(m))
	for k, v := range m {
		b.operationMap[k] = v
	}
	return b
}

// Operation sets the root object for op.
func (b *GraphBuilder) Operation(op Operation, def *ast.Definition) *GraphBuilder {
	b.operationMap[op] = def
	return b
}

func (b *GraphBuilder) Query(def *ast.Definition) *GraphBuilder {
	return b.Operation(OperationQuery, def)
}

func (b *GraphBuilder) Mutation(def *ast.Definition) *GraphBuilder {
	return b.Operation(OperationMutation, def)
}

func (b *GraphBuilder) Subscription(def *ast.Definition) *GraphBuilder {
	return b.Operation(OperationSubscription, def)
}

// OperationType returns the root object for op, or an empty one.
func (b *GraphBuilder) OperationType(op Operation) *ast.Definition {
	if def := b.operationMap[op]; def != nil {
		return def
	}
	return op.emptyRootType()
}

// Type adds or replaces def, owned by service.
func (b *GraphBuilder) Type(def *ast.Definition, service string) *GraphBuilder {
	b.types[def.Name] = def
	b.typeOwners[def.Name] = service
	return b
}

// Types adds or replaces every definition of defs.
func (b *GraphBuilder) Types(defs map[string]*ast.Definition) *GraphBuilder {
	for name, def := range defs {
		b.types[name] = def
	}
	return b
}

// LookupType returns the non-root type named name.
func (b *GraphBuilder) LookupType(name string) (*ast.Definition, bool) {
	def, ok := b.types[name]
	return def, ok
}

// Directive adds or replaces a directive definition.
func (b *GraphBuilder) Directive(d *ast.DirectiveDefinition) *GraphBuilder {
	b.directives[d.Name] = d
	return b
}

// Directives adds or replaces every directive definition of ds.
func (b *GraphBuilder) Directives(ds ...*ast.DirectiveDefinition) *GraphBuilder {
	for _, d := range ds {
		b.directives[d.Name] = d
	}
	return b
}

// Service records a merged service.
func (b *GraphBuilder) Service(s ServiceProvider) *GraphBuilder {
	b.services[s.ServiceName()] = s
	return b
}

// RegisterStrategy records s for coord, failing if another strategy already
// claims it.
func (b *GraphBuilder) RegisterStrategy(coord FieldCoordinate, s ResolutionStrategy) error {
	return b.codeRegistry.Register(coord, s)
}

// OverrideStrategy records s for coord, replacing any previous strategy.
func (b *GraphBuilder) OverrideStrategy(coord FieldCoordinate, s ResolutionStrategy) *GraphBuilder {
	b.codeRegistry.Override(coord, s)
	return b
}

// Strategy returns the strategy currently registered for coord.
func (b *GraphBuilder) Strategy(coord FieldCoordinate) (ResolutionStrategy, bool) {
	return b.codeRegistry.Lookup(coord)
}

func (b *GraphBuilder) HasInterfaceOrUnion(v bool) *GraphBuilder {
	b.hasInterfaceOrUnion = v
	return b
}

func (b *GraphBuilder) HasFieldResolverDefinition(v bool) *GraphBuilder {
	b.hasFieldResolverDefinition = v
	return b
}

// FieldResolverDeclaration records a @resolver declaration to bind later.
func (b *GraphBuilder) FieldResolverDeclaration(d *FieldResolverDeclaration) *GraphBuilder {
	b.fieldResolverDeclarations[d.Coordinate] = d
	return b
}

// FieldResolverContexts appends bound stitches.
func (b *GraphBuilder) FieldResolverContexts(ctxs ...*FieldResolverContext) *GraphBuilder {
	b.fieldResolverContexts = append(b.fieldResolverContexts, ctxs...)
	return b
}

// ClearFieldResolverContexts removes every bound stitch.
func (b *GraphBuilder) ClearFieldResolverContexts() *GraphBuilder {
	b.fieldResolverContexts = nil
	return b
}

func typenameStrategy(typeName string) LocalStrategy {
	return LocalStrategy{
		Name: typenameFieldName,
		Resolve: func(_ context.Context, _ *ast.Schema, _ *ast.Field, _ map[string]interface{}) (interface{}, error) {
			return typeName, nil
		},
	}
}
