package orchestrator

import (
	"encoding/json"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
)

// StepKind is the kind of work a QueryPlanStep performs.
type StepKind string

const (
	// StepDelegate sends a selection set to the service owning it.
	StepDelegate StepKind = "delegate"
	// StepResolver issues the query of a @resolver binding for every parent
	// object at the insertion point.
	StepResolver StepKind = "resolver"
	// StepLocal computes a field inside the gateway.
	StepLocal StepKind = "local"
)

// QueryPlanStep is a single execution step
type QueryPlanStep struct {
	Kind           StepKind
	ServiceName    string
	ParentType     string
	SelectionSet   ast.SelectionSet
	InsertionPoint []string
	// Field is the client field resolved by resolver and local steps.
	Field    *ast.Field
	Resolver *FieldResolverContext
	Local    *LocalStrategy
	// DependsOn lists sibling steps that must complete first.
	DependsOn []*QueryPlanStep
	// Provides is set when a sibling step reads the value of this step.
	Provides bool
	// Hidden steps resolve a field the client did not select.
	Hidden bool
	Then   []*QueryPlanStep
}

// MarshalJSON marshals the step the JSON
func (s *QueryPlanStep) MarshalJSON() ([]byte, error) {
	var field string
	if s.Field != nil {
		field = s.Field.Alias
	}
	var dependsOn []string
	for _, d := range s.DependsOn {
		dependsOn = append(dependsOn, d.Field.Alias)
	}
	return json.Marshal(&struct {
		Kind           StepKind
		ServiceName    string
		ParentType     string
		Field          string   `json:",omitempty"`
		SelectionSet   string   `json:",omitempty"`
		InsertionPoint []string `json:",omitempty"`
		DependsOn      []string `json:",omitempty"`
		Then           []*QueryPlanStep
	}{
		Kind:           s.Kind,
		ServiceName:    s.ServiceName,
		ParentType:     s.ParentType,
		Field:          field,
		SelectionSet:   formatSelectionSetSingleLine(nil, nil, s.SelectionSet),
		InsertionPoint: s.InsertionPoint,
		DependsOn:      dependsOn,
		Then:           s.Then,
	})
}

// QueryPlan is a query execution plan
type QueryPlan struct {
	Operation Operation
	RootSteps []*QueryPlanStep
}

// PlanningContext contains the necessary information used to plan a query.
type PlanningContext struct {
	Operation *ast.OperationDefinition
	Graph     *RuntimeGraph
}

// Plan returns a query plan from the given planning context. The operation
// must have been validated and its @skip and @include directives evaluated.
func Plan(ctx *PlanningContext) (*QueryPlan, error) {
	op, ok := OperationFromAST(ctx.Operation.Operation)
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", ctx.Operation.Operation)
	}
	if op == OperationSubscription {
		return nil, fmt.Errorf("subscriptions are not supported")
	}

	p := &planner{graph: ctx.Graph}
	root := ctx.Graph.OperationType(op)

	var steps []*QueryPlanStep
	var resolverSteps []*QueryPlanStep
	for _, f := range selectionSetToFields(ctx.Operation.SelectionSet) {
		coord := NewFieldCoordinate(root.Name, f.Name)
		strategy, ok := ctx.Graph.Strategy(coord)
		if !ok {
			return nil, fmt.Errorf("no resolution strategy for %s", coord)
		}

		switch s := strategy.(type) {
		case LocalStrategy:
			steps = append(steps, &QueryPlanStep{
				Kind:        StepLocal,
				ServiceName: internalServiceName,
				ParentType:  root.Name,
				Field:       f,
				Local:       &s,
			})
		case DelegateStrategy:
			step := delegateStepFor(steps, s.Service, op)
			if step == nil {
				step = &QueryPlanStep{
					Kind:        StepDelegate,
					ServiceName: s.Service,
					ParentType:  root.Name,
				}
				steps = append(steps, step)
			}
			field, children := p.extractField(f, nil)
			step.SelectionSet = append(step.SelectionSet, field)
			step.Then = append(step.Then, children...)
		case ResolverStrategy:
			step := &QueryPlanStep{
				Kind:         StepResolver,
				ServiceName:  s.Context.TargetService,
				ParentType:   root.Name,
				Field:        f,
				SelectionSet: f.SelectionSet,
				Resolver:     s.Context,
			}
			resolverSteps = append(resolverSteps, step)
			if op == OperationMutation {
				steps = append(steps, step)
			}
		}
	}

	if len(resolverSteps) > 0 {
		linked := p.linkDependencies(root, nil, resolverSteps)
		if op == OperationMutation {
			linked = linked[len(resolverSteps):]
		}
		steps = append(steps, linked...)
	}

	return &QueryPlan{
		Operation: op,
		RootSteps: steps,
	}, nil
}

// delegateStepFor returns the step a root field delegated to service joins.
// Query fields are coalesced per service; mutation fields only join the
// previous step so that they keep executing serially.
func delegateStepFor(steps []*QueryPlanStep, service string, op Operation) *QueryPlanStep {
	if op == OperationMutation {
		if len(steps) == 0 {
			return nil
		}
		last := steps[len(steps)-1]
		if last.Kind == StepDelegate && last.ServiceName == service {
			return last
		}
		return nil
	}
	for _, s := range steps {
		if s.Kind == StepDelegate && s.ServiceName == service {
			return s
		}
	}
	return nil
}

type planner struct {
	graph *RuntimeGraph
}

// extractField returns a copy of f whose selection set only contains what
// the delegated service resolves, along with the steps resolving the rest.
func (p *planner) extractField(f *ast.Field, path []string) (*ast.Field, []*QueryPlanStep) {
	if len(f.SelectionSet) == 0 || f.Definition == nil {
		return f, nil
	}
	childPath := append(append([]string(nil), path...), f.Alias)
	selectionSet, steps := p.extractSelectionSet(f.Definition.Type.Name(), f.SelectionSet, childPath)
	res := *f
	res.SelectionSet = selectionSet
	return &res, steps
}

func (p *planner) extractSelectionSet(typeName string, input ast.SelectionSet, path []string) (ast.SelectionSet, []*QueryPlanStep) {
	def := p.graph.Type(typeName)
	var result ast.SelectionSet
	var steps []*QueryPlanStep
	var resolverSteps []*QueryPlanStep
	injected := make(map[string]bool)

	inject := func(name, alias string) {
		if injected[alias] {
			return
		}
		injected[alias] = true
		field := &ast.Field{Alias: alias, Name: name}
		if def != nil {
			field.Definition = def.Fields.ForName(name)
			field.ObjectDefinition = def
		}
		result = append(result, field)
	}

	for _, selection := range input {
		switch selection := selection.(type) {
		case *ast.Field:
			if selection.Name == typenameFieldName {
				result = append(result, selection)
				continue
			}
			strategy, _ := p.graph.Strategy(NewFieldCoordinate(typeName, selection.Name))
			switch s := strategy.(type) {
			case ResolverStrategy:
				resolverSteps = append(resolverSteps, &QueryPlanStep{
					Kind:           StepResolver,
					ServiceName:    s.Context.TargetService,
					ParentType:     typeName,
					InsertionPoint: path,
					Field:          selection,
					SelectionSet:   selection.SelectionSet,
					Resolver:       s.Context,
				})
				for _, required := range s.Context.RequiredFields {
					if p.isStitched(typeName, required) {
						continue
					}
					inject(required, injectedFieldAlias(required))
				}
			case LocalStrategy:
				steps = append(steps, &QueryPlanStep{
					Kind:           StepLocal,
					ServiceName:    internalServiceName,
					ParentType:     typeName,
					InsertionPoint: path,
					Field:          selection,
					Local:          &s,
				})
			default:
				field, children := p.extractField(selection, path)
				result = append(result, field)
				steps = append(steps, children...)
			}
		case *ast.InlineFragment:
			typeCondition := selection.TypeCondition
			if typeCondition == "" {
				typeCondition = typeName
			}
			selectionSet, children := p.extractSelectionSet(typeCondition, selection.SelectionSet, path)
			fragment := *selection
			fragment.TypeCondition = typeCondition
			fragment.SelectionSet = selectionSet
			result = append(result, &fragment)
			steps = append(steps, children...)
		case *ast.FragmentSpread:
			typeCondition := selection.Definition.TypeCondition
			selectionSet, children := p.extractSelectionSet(typeCondition, selection.Definition.SelectionSet, path)
			result = append(result, &ast.InlineFragment{
				TypeCondition:    typeCondition,
				SelectionSet:     selectionSet,
				ObjectDefinition: selection.ObjectDefinition,
				Position:         selection.Position,
			})
			steps = append(steps, children...)
		}
	}

	if len(resolverSteps) > 0 {
		resolverSteps = p.linkDependencies(def, path, resolverSteps)
		for _, s := range resolverSteps {
			if !s.Hidden {
				continue
			}
			for _, required := range s.Resolver.RequiredFields {
				if !p.isStitched(typeName, required) {
					inject(required, injectedFieldAlias(required))
				}
			}
		}
	}

	// @resolver parents are resolved by type, so they need their typename
	// when selected through an abstract type.
	if p.graph.RequiresTypenameInjection() && isAbstract(def) {
		inject(typenameFieldName, injectedTypenameFieldAlias)
	}
	if len(result) == 0 {
		inject(typenameFieldName, injectedTypenameFieldAlias)
	}

	return result, append(steps, resolverSteps...)
}

func (p *planner) isStitched(typeName, fieldName string) bool {
	s, _ := p.graph.Strategy(NewFieldCoordinate(typeName, fieldName))
	_, ok := s.(ResolverStrategy)
	return ok
}

// linkDependencies records, for each resolver step, the sibling resolver
// steps producing its arguments. Dependencies the client did not select are
// added as hidden steps.
func (p *planner) linkDependencies(def *ast.Definition, path []string, steps []*QueryPlanStep) []*QueryPlanStep {
	byField := make(map[FieldCoordinate]*QueryPlanStep)
	for _, s := range steps {
		coord := NewFieldCoordinate(s.ParentType, s.Field.Name)
		if _, ok := byField[coord]; !ok {
			byField[coord] = s
		}
	}

	for i := 0; i < len(steps); i++ {
		step := steps[i]
		for _, arg := range step.Resolver.Arguments {
			if arg.Source != ArgumentFromParentField {
				continue
			}
			coord := NewFieldCoordinate(step.ParentType, arg.Ref)
			strategy, _ := p.graph.Strategy(coord)
			rs, ok := strategy.(ResolverStrategy)
			if !ok {
				continue
			}
			dep, ok := byField[coord]
			if !ok {
				var fieldDef *ast.FieldDefinition
				if def != nil {
					fieldDef = def.Fields.ForName(arg.Ref)
				}
				dep = &QueryPlanStep{
					Kind:           StepResolver,
					ServiceName:    rs.Context.TargetService,
					ParentType:     step.ParentType,
					InsertionPoint: path,
					Field: &ast.Field{
						Alias:      injectedFieldAlias(arg.Ref),
						Name:       arg.Ref,
						Definition: fieldDef,
					},
					Resolver: rs.Context,
					Hidden:   true,
				}
				byField[coord] = dep
				steps = append(steps, dep)
			}
			dep.Provides = true
			if !containsStep(step.DependsOn, dep) {
				step.DependsOn = append(step.DependsOn, dep)
			}
		}
	}
	return steps
}

func containsStep(steps []*QueryPlanStep, step *QueryPlanStep) bool {
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}
