package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// FieldResolverDeclaration is a field carrying @resolver, recorded at merge
// time and bound once every service is merged.
type FieldResolverDeclaration struct {
	Coordinate FieldCoordinate
	Service    string
	Field      *ast.FieldDefinition
	Directive  *ast.Directive
}

// ArgumentSource tells where the value of a resolver argument comes from.
type ArgumentSource int

const (
	// ArgumentLiteral is a constant written in the directive.
	ArgumentLiteral ArgumentSource = iota
	// ArgumentFromFieldArgument is an argument of the resolver field itself.
	ArgumentFromFieldArgument
	// ArgumentFromParentField is a field of the object declaring the
	// resolver field.
	ArgumentFromParentField
)

// ResolverArgument maps one argument of the target field.
type ResolverArgument struct {
	Name   string
	Value  string
	Source ArgumentSource
	Ref    string
	Type   *ast.Type
}

// FieldResolverContext is a bound @resolver stitch: the trigger field, the
// query to send to the target service and how to build its arguments.
type FieldResolverContext struct {
	Coordinate     FieldCoordinate
	Field          *ast.FieldDefinition
	SourceService  string
	TargetService  string
	TargetPath     []string
	TargetField    *ast.FieldDefinition
	Arguments      []ResolverArgument
	RequiredFields []string
	DependsOn      []FieldCoordinate
}

// TargetFieldPath returns the dotted path of the target field from Query.
func (c *FieldResolverContext) TargetFieldPath() string {
	return strings.Join(c.TargetPath, ".")
}

func (c *FieldResolverContext) dependOn(coord FieldCoordinate) {
	for _, d := range c.DependsOn {
		if d == coord {
			return
		}
	}
	c.DependsOn = append(c.DependsOn, coord)
}

func (c *FieldResolverContext) requireField(name string) {
	for _, f := range c.RequiredFields {
		if f == name {
			return
		}
	}
	c.RequiredFields = append(c.RequiredFields, name)
}

type resolverDirective struct {
	field     string
	service   string
	arguments []resolverDirectiveArgument
}

type resolverDirectiveArgument struct {
	name  string
	value string
}

func parseResolverDirective(d *ast.Directive) (resolverDirective, error) {
	var res resolverDirective

	field := d.Arguments.ForName("field")
	if field == nil || field.Value == nil || field.Value.Raw == "" {
		return res, fmt.Errorf("missing field argument")
	}
	res.field = field.Value.Raw

	if service := d.Arguments.ForName("service"); service != nil && service.Value != nil && service.Value.Kind != ast.NullValue {
		res.service = service.Value.Raw
	}

	args := d.Arguments.ForName("arguments")
	if args == nil || args.Value == nil || args.Value.Kind == ast.NullValue {
		return res, nil
	}
	var items ast.ChildValueList
	switch args.Value.Kind {
	case ast.ListValue:
		items = args.Value.Children
	case ast.ObjectValue:
		items = ast.ChildValueList{{Value: args.Value}}
	default:
		return res, fmt.Errorf("arguments must be a list of %s", resolverArgumentInputName)
	}
	for _, item := range items {
		if item.Value == nil || item.Value.Kind != ast.ObjectValue {
			return res, fmt.Errorf("arguments must be a list of %s", resolverArgumentInputName)
		}
		name := item.Value.Children.ForName("name")
		value := item.Value.Children.ForName("value")
		if name == nil || value == nil || name.Raw == "" {
			return res, fmt.Errorf("%s requires a name and a value", resolverArgumentInputName)
		}
		res.arguments = append(res.arguments, resolverDirectiveArgument{name: name.Raw, value: value.Raw})
	}
	return res, nil
}

// BindFieldResolvers binds every @resolver declaration of g. Declarations
// that cannot be bound, that depend on one that cannot be bound, or that
// form a cycle are dropped: their field resolves to null with an error. The
// returned errors describe every dropped declaration.
func BindFieldResolvers(g *RuntimeGraph) (*RuntimeGraph, []error) {
	declarations := g.FieldResolverDeclarations()
	if len(declarations) == 0 && len(g.fieldResolverContexts) == 0 {
		return g, nil
	}

	var errs []error
	failures := make(map[FieldCoordinate]error)
	bound := make(map[FieldCoordinate]*FieldResolverContext)
	for _, decl := range declarations {
		c, err := bindFieldResolver(g, decl)
		if err != nil {
			failures[decl.Coordinate] = err
			errs = append(errs, err)
			continue
		}
		bound[c.Coordinate] = c
	}

	ordered, orderErrs := orderFieldResolvers(bound)
	for coord, err := range orderErrs {
		failures[coord] = err
	}
	errs = append(errs, sortedErrors(orderErrs)...)

	res, err := g.Transform(func(b *GraphBuilder) error {
		b.ClearFieldResolverContexts().FieldResolverContexts(ordered...)
		for _, c := range ordered {
			b.OverrideStrategy(c.Coordinate, ResolverStrategy{Context: c})
		}
		for coord, err := range failures {
			b.OverrideStrategy(coord, unavailableFieldStrategy(coord, err))
		}
		return nil
	})
	if err != nil {
		return g, append(errs, err)
	}
	return res, errs
}

func unavailableFieldStrategy(coord FieldCoordinate, cause error) LocalStrategy {
	return LocalStrategy{
		Name: "unavailable:" + coord.String(),
		Resolve: func(context.Context, *ast.Schema, *ast.Field, map[string]interface{}) (interface{}, error) {
			return nil, fmt.Errorf("field %s is unavailable: %s", coord, cause)
		},
	}
}

func bindFieldResolver(g *RuntimeGraph, decl *FieldResolverDeclaration) (*FieldResolverContext, error) {
	fail := func(target, format string, args ...interface{}) error {
		return &UnresolvedFieldResolverBindingError{
			Coordinate: decl.Coordinate,
			Target:     target,
			Reason:     fmt.Sprintf(format, args...),
		}
	}

	parent := g.Type(decl.Coordinate.TypeName)
	if parent == nil || parent.Kind != ast.Object {
		return nil, fail("", "@%s is only supported on object fields", resolverDirectiveName)
	}

	directive, err := parseResolverDirective(decl.Directive)
	if err != nil {
		return nil, fail("", "%s", err)
	}

	path := strings.Split(directive.field, ".")
	for _, segment := range path {
		if segment == "" {
			return nil, fail(directive.field, "invalid field path")
		}
	}

	c := &FieldResolverContext{
		Coordinate:    decl.Coordinate,
		Field:         decl.Field,
		SourceService: decl.Service,
		TargetPath:    path,
	}

	current := g.OperationType(OperationQuery)
	for i, segment := range path {
		if current == nil || (current.Kind != ast.Object && current.Kind != ast.Interface) {
			return nil, fail(directive.field, "%q does not have fields", path[i-1])
		}
		f := current.Fields.ForName(segment)
		if f == nil {
			return nil, fail(directive.field, "field %q not found on %s", segment, current.Name)
		}
		coord := NewFieldCoordinate(current.Name, segment)
		if _, ok := g.fieldResolverDeclarations[coord]; ok {
			c.dependOn(coord)
		}
		if i == 0 {
			c.TargetService = owningService(g, coord)
		}
		c.TargetField = f
		if i < len(path)-1 {
			current = g.TypeOf(f.Type)
		}
	}

	if directive.service != "" {
		if _, ok := g.Service(directive.service); !ok {
			return nil, fail(directive.field, "unknown service %q", directive.service)
		}
		if directive.service != c.TargetService {
			return nil, fail(directive.field, "field is not owned by service %q", directive.service)
		}
	}
	if _, ok := g.Service(c.TargetService); !ok {
		return nil, fail(directive.field, "no service owns %s.%s", queryObjectName, path[0])
	}

	if decl.Field.Type.Name() != c.TargetField.Type.Name() || listDepth(decl.Field.Type) != listDepth(c.TargetField.Type) {
		return nil, fail(directive.field, "%s returns %s but the target returns %s", decl.Coordinate, decl.Field.Type, c.TargetField.Type)
	}

	mapped := make(map[string]bool)
	for _, a := range directive.arguments {
		targetArg := c.TargetField.Arguments.ForName(a.name)
		if targetArg == nil {
			return nil, fail(directive.field, "argument %q not found", a.name)
		}
		mapped[a.name] = true
		arg := ResolverArgument{Name: a.name, Value: a.value, Type: targetArg.Type}

		if !strings.HasPrefix(a.value, "$") {
			if err := validateLiteral(g, a.value, targetArg.Type); err != nil {
				return nil, fail(directive.field, "argument %q: %s", a.name, err)
			}
			arg.Source = ArgumentLiteral
			c.Arguments = append(c.Arguments, arg)
			continue
		}

		ref := strings.TrimPrefix(a.value, "$")
		arg.Ref = ref
		var sourceType *ast.Type
		if fieldArg := decl.Field.Arguments.ForName(ref); fieldArg != nil {
			arg.Source = ArgumentFromFieldArgument
			sourceType = fieldArg.Type
		} else if parentField := parent.Fields.ForName(ref); parentField != nil {
			if g.IsOperationType(parent.Name) {
				return nil, fail(directive.field, "argument %q: fields of %s can not be used as arguments", a.name, parent.Name)
			}
			arg.Source = ArgumentFromParentField
			sourceType = parentField.Type
			if def := g.TypeOf(parentField.Type); def != nil && def.Kind != ast.Scalar && def.Kind != ast.Enum {
				return nil, fail(directive.field, "argument %q: %s.%s is not a scalar or enum", a.name, parent.Name, ref)
			}
			parentCoord := NewFieldCoordinate(parent.Name, ref)
			if _, ok := g.fieldResolverDeclarations[parentCoord]; ok {
				c.dependOn(parentCoord)
			}
			c.requireField(ref)
		} else {
			return nil, fail(directive.field, "argument %q: no argument or field named %q on %s", a.name, ref, decl.Coordinate)
		}
		if !isAssignable(sourceType, targetArg.Type) {
			return nil, fail(directive.field, "argument %q: %s is not assignable to %s", a.name, sourceType, targetArg.Type)
		}
		c.Arguments = append(c.Arguments, arg)
	}

	for _, targetArg := range c.TargetField.Arguments {
		if targetArg.Type.NonNull && targetArg.DefaultValue == nil && !mapped[targetArg.Name] {
			return nil, fail(directive.field, "required argument %q is not mapped", targetArg.Name)
		}
	}

	return c, nil
}

func owningService(g *RuntimeGraph, coord FieldCoordinate) string {
	if decl, ok := g.fieldResolverDeclarations[coord]; ok {
		return decl.Service
	}
	if s, ok := g.Strategy(coord); ok {
		if d, ok := s.(DelegateStrategy); ok {
			return d.Service
		}
	}
	return ""
}

// isAssignable reports whether a value of type src can be passed where dst
// is expected. Nullability is not enforced: a null source value skips the
// downstream call.
func isAssignable(src, dst *ast.Type) bool {
	if listDepth(src) != listDepth(dst) {
		return false
	}
	s, d := src.Name(), dst.Name()
	if s == d {
		return true
	}
	switch d {
	case "ID":
		return s == "String" || s == "Int"
	case "String":
		return s == "ID"
	case "Float":
		return s == "Int"
	}
	return false
}

func validateLiteral(g *RuntimeGraph, value string, t *ast.Type) error {
	if listDepth(t) > 0 {
		return nil
	}
	var err error
	switch t.Name() {
	case "Int":
		_, err = strconv.ParseInt(value, 10, 64)
	case "Float":
		_, err = strconv.ParseFloat(value, 64)
	case "Boolean":
		_, err = strconv.ParseBool(value)
	case "String", "ID":
	default:
		def := g.TypeOf(t)
		if def == nil {
			return fmt.Errorf("unknown type %s", t.Name())
		}
		if def.Kind == ast.Enum && def.EnumValues.ForName(value) == nil {
			return fmt.Errorf("%q is not a value of %s", value, def.Name)
		}
	}
	if err != nil {
		return fmt.Errorf("%q is not a valid %s", value, t.Name())
	}
	return nil
}

// orderFieldResolvers drops bindings whose dependencies are missing or
// cyclic and returns the others with dependencies first.
func orderFieldResolvers(bound map[FieldCoordinate]*FieldResolverContext) ([]*FieldResolverContext, map[FieldCoordinate]error) {
	dropped := make(map[FieldCoordinate]error)

	dropUnresolvedDependents := func() {
		for changed := true; changed; {
			changed = false
			for _, coord := range sortedBindingCoordinates(bound) {
				for _, dep := range bound[coord].DependsOn {
					if _, ok := bound[dep]; ok {
						continue
					}
					dropped[coord] = &UnresolvedFieldResolverBindingError{
						Coordinate: coord,
						Target:     bound[coord].TargetFieldPath(),
						Reason:     fmt.Sprintf("depends on unavailable field resolver %s", dep),
					}
					delete(bound, coord)
					changed = true
					break
				}
			}
		}
	}

	dropUnresolvedDependents()
	for _, cycle := range findBindingCycles(bound) {
		err := &CyclicFieldResolverBindingError{Cycle: cycle}
		for _, coord := range cycle {
			dropped[coord] = err
			delete(bound, coord)
		}
	}
	dropUnresolvedDependents()

	var ordered []*FieldResolverContext
	visited := make(map[FieldCoordinate]bool)
	var visit func(coord FieldCoordinate)
	visit = func(coord FieldCoordinate) {
		if visited[coord] {
			return
		}
		visited[coord] = true
		c := bound[coord]
		for _, dep := range c.DependsOn {
			visit(dep)
		}
		ordered = append(ordered, c)
	}
	for _, coord := range sortedBindingCoordinates(bound) {
		visit(coord)
	}

	return ordered, dropped
}

// findBindingCycles runs a colouring depth-first search over the dependency
// edges and returns every cycle found, each closed by its first coordinate.
func findBindingCycles(bound map[FieldCoordinate]*FieldResolverContext) [][]FieldCoordinate {
	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[FieldCoordinate]int)
	var stack []FieldCoordinate
	var cycles [][]FieldCoordinate

	var visit func(coord FieldCoordinate)
	visit = func(coord FieldCoordinate) {
		state[coord] = inProgress
		stack = append(stack, coord)
		for _, dep := range bound[coord].DependsOn {
			if _, ok := bound[dep]; !ok {
				continue
			}
			switch state[dep] {
			case inProgress:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == dep {
						cycle := append([]FieldCoordinate(nil), stack[i:]...)
						cycles = append(cycles, append(cycle, dep))
						break
					}
				}
			case unvisited:
				visit(dep)
			}
		}
		stack = stack[:len(stack)-1]
		state[coord] = done
	}

	for _, coord := range sortedBindingCoordinates(bound) {
		if state[coord] == unvisited {
			visit(coord)
		}
	}
	return cycles
}

func sortedBindingCoordinates(bound map[FieldCoordinate]*FieldResolverContext) []FieldCoordinate {
	coords := make([]FieldCoordinate, 0, len(bound))
	for c := range bound {
		coords = append(coords, c)
	}
	sortCoordinates(coords)
	return coords
}

func sortedErrors(errs map[FieldCoordinate]error) []error {
	coords := make([]FieldCoordinate, 0, len(errs))
	for c := range errs {
		coords = append(coords, c)
	}
	sortCoordinates(coords)
	res := make([]error, 0, len(coords))
	seen := make(map[error]bool)
	for _, c := range coords {
		if seen[errs[c]] {
			continue
		}
		seen[errs[c]] = true
		res = append(res, errs[c])
	}
	return res
}
