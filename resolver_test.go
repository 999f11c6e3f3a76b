package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
)

const gadgetsSDL = `
	enum GadgetKind {
		JETPACK
		CAR
	}
	type Gadget {
		id: ID!
		name: String!
	}
	type Query {
		gadget(id: ID!): Gadget
		gadgets(kind: GadgetKind, limit: Int): [Gadget!]!
		label(text: String): String
	}`

func composeWithGizmos(t *testing.T, gizmosSDL string) (*RuntimeGraph, error) {
	t.Helper()
	return Compose(context.Background(), []ServiceProvider{
		staticService("gadgets", gadgetsSDL),
		staticService("gizmos", resolverDirectivesSDL+gizmosSDL),
	})
}

func TestBindFieldResolver(t *testing.T) {
	g, err := composeWithGizmos(t, `
		type Gadget @extends {
			id: ID!
		}
		type Gizmo {
			id: ID!
			gadgetId: ID
			gadget: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "$gadgetId" }])
		}
		type Query {
			gizmo: Gizmo
		}`)
	require.NoError(t, err)

	coord := NewFieldCoordinate("Gizmo", "gadget")
	s, ok := g.Strategy(coord)
	require.True(t, ok)
	assert.Equal(t, "resolver(gadgets.gadget)", s.String())

	contexts := g.FieldResolverContexts()
	require.Len(t, contexts, 1)
	c := contexts[0]
	assert.Same(t, c, s.(ResolverStrategy).Context)
	assert.Equal(t, coord, c.Coordinate)
	assert.Equal(t, "gizmos", c.SourceService)
	assert.Equal(t, "gadgets", c.TargetService)
	assert.Equal(t, []string{"gadget"}, c.TargetPath)
	assert.Equal(t, []string{"gadgetId"}, c.RequiredFields)
	assert.Empty(t, c.DependsOn)
	require.Len(t, c.Arguments, 1)
	assert.Equal(t, "id", c.Arguments[0].Name)
	assert.Equal(t, ArgumentFromParentField, c.Arguments[0].Source)
	assert.Equal(t, "gadgetId", c.Arguments[0].Ref)
	assert.Equal(t, "ID!", c.Arguments[0].Type.String())

	// the rest of the type is still delegated
	s, _ = g.Strategy(NewFieldCoordinate("Gizmo", "gadgetId"))
	assert.Equal(t, DelegateStrategy{Service: "gizmos"}, s)
}

func TestBindFieldResolverArgumentSources(t *testing.T) {
	g, err := composeWithGizmos(t, `
		type Gadget @extends {
			id: ID!
		}
		type Gizmo {
			id: ID!
			gadgets(max: Int): [Gadget!]! @resolver(field: "gadgets", arguments: [{ name: "kind", value: "JETPACK" }, { name: "limit", value: "$max" }])
		}
		type Query {
			gizmo: Gizmo
			jetpacks: [Gadget!]! @resolver(field: "gadgets", arguments: [{ name: "kind", value: "JETPACK" }])
			describe(text: String): String @resolver(field: "label", arguments: [{ name: "text", value: "$text" }], service: "gadgets")
		}`)
	require.NoError(t, err)

	s, _ := g.Strategy(NewFieldCoordinate("Gizmo", "gadgets"))
	c := s.(ResolverStrategy).Context
	require.Len(t, c.Arguments, 2)
	assert.Equal(t, ArgumentLiteral, c.Arguments[0].Source)
	assert.Equal(t, "JETPACK", c.Arguments[0].Value)
	assert.Equal(t, ArgumentFromFieldArgument, c.Arguments[1].Source)
	assert.Equal(t, "max", c.Arguments[1].Ref)
	assert.Empty(t, c.RequiredFields)

	s, _ = g.Strategy(NewFieldCoordinate("Query", "jetpacks"))
	assert.Equal(t, "resolver(gadgets.gadgets)", s.String())

	s, _ = g.Strategy(NewFieldCoordinate("Query", "describe"))
	c = s.(ResolverStrategy).Context
	assert.Equal(t, "gadgets", c.TargetService)
	require.Len(t, c.Arguments, 1)
	assert.Equal(t, ArgumentFromFieldArgument, c.Arguments[0].Source)
	assert.Equal(t, "text", c.Arguments[0].Ref)
}

func TestBindFieldResolverFailures(t *testing.T) {
	tests := []struct {
		name   string
		field  string
		sdl    string
		reason string
	}{
		{
			name: "unknown target field",
			sdl: `type Gizmo {
				id: ID!
				gadget: Gadget @resolver(field: "findGadget", arguments: [{ name: "id", value: "$id" }])
			}`,
			reason: `field "findGadget" not found on Query`,
		},
		{
			name: "unknown argument",
			sdl: `type Gizmo {
				id: ID!
				gadget: Gadget @resolver(field: "gadget", arguments: [{ name: "gadgetId", value: "$id" }])
			}`,
			reason: `argument "gadgetId" not found`,
		},
		{
			name: "unknown source",
			sdl: `type Gizmo {
				id: ID!
				gadget: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "$gadgetId" }])
			}`,
			reason: `argument "id": no argument or field named "gadgetId" on Gizmo.gadget`,
		},
		{
			name: "required argument not mapped",
			sdl: `type Gizmo {
				id: ID!
				gadget: Gadget @resolver(field: "gadget")
			}`,
			reason: `required argument "id" is not mapped`,
		},
		{
			name: "type mismatch",
			sdl: `type Gizmo {
				id: ID!
				gadget: [Gadget!] @resolver(field: "gadget", arguments: [{ name: "id", value: "$id" }])
			}`,
			reason: "Gizmo.gadget returns [Gadget!] but the target returns Gadget",
		},
		{
			name: "not assignable",
			sdl: `type Gizmo {
				id: ID!
				weight: Float
				gadget: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "$weight" }])
			}`,
			reason: `argument "id": Float is not assignable to ID!`,
		},
		{
			name:  "invalid literal",
			field: "gadgets",
			sdl: `type Gizmo {
				id: ID!
				gadgets: [Gadget!]! @resolver(field: "gadgets", arguments: [{ name: "limit", value: "ten" }])
			}`,
			reason: `argument "limit": "ten" is not a valid Int`,
		},
		{
			name:  "invalid enum literal",
			field: "gadgets",
			sdl: `type Gizmo {
				id: ID!
				gadgets: [Gadget!]! @resolver(field: "gadgets", arguments: [{ name: "kind", value: "BOAT" }])
			}`,
			reason: `argument "kind": "BOAT" is not a value of GadgetKind`,
		},
		{
			name: "unknown service",
			sdl: `type Gizmo {
				id: ID!
				gadget: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "$id" }], service: "widgets")
			}`,
			reason: `unknown service "widgets"`,
		},
		{
			name: "service does not own the target",
			sdl: `type Gizmo {
				id: ID!
				gadget: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "$id" }], service: "gizmos")
			}`,
			reason: `field is not owned by service "gizmos"`,
		},
		{
			name: "invalid path",
			sdl: `type Gizmo {
				id: ID!
				gadget: Gadget @resolver(field: "gadget..id", arguments: [{ name: "id", value: "$id" }])
			}`,
			reason: "invalid field path",
		},
		{
			name: "path through a scalar",
			sdl: `type Gizmo {
				id: ID!
				gadget: Gadget @resolver(field: "label.gadget")
			}`,
			reason: `"label" does not have fields`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := composeWithGizmos(t, tt.sdl+`
				type Gadget @extends {
					id: ID!
				}
				type Query {
					gizmo: Gizmo
				}`)
			require.NotNil(t, g)
			require.Error(t, err)
			field := tt.field
			if field == "" {
				field = "gadget"
			}
			coord := NewFieldCoordinate("Gizmo", field)
			assert.True(t, errors.Is(err, ErrUnresolvedFieldResolverBinding))

			var unresolved *UnresolvedFieldResolverBindingError
			require.ErrorAs(t, err, &unresolved)
			assert.Equal(t, coord, unresolved.Coordinate)
			assert.Equal(t, tt.reason, unresolved.Reason)

			assert.Empty(t, g.FieldResolverContexts())
			s, ok := g.Strategy(coord)
			require.True(t, ok)
			assert.IsType(t, LocalStrategy{}, s)
		})
	}
}

func TestBindFieldResolverRejectsRootParentFields(t *testing.T) {
	_, err := composeWithGizmos(t, `
		type Gadget @extends {
			id: ID!
		}
		type Query {
			defaultId: ID!
			gadget2: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "$defaultId" }])
		}`)
	var unresolved *UnresolvedFieldResolverBindingError
	require.ErrorAs(t, err, &unresolved)
	assert.Equal(t, `argument "id": fields of Query can not be used as arguments`, unresolved.Reason)
}

func TestBindFieldResolverCycles(t *testing.T) {
	t.Run("two fields", func(t *testing.T) {
		g, err := composeWithGizmos(t, `
			type Gizmo {
				id: ID!
				a: String @resolver(field: "label", arguments: [{ name: "text", value: "$b" }])
				b: String @resolver(field: "label", arguments: [{ name: "text", value: "$a" }])
			}
			type Query {
				gizmo: Gizmo
			}`)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCyclicFieldResolverBinding))

		var cyclic *CyclicFieldResolverBindingError
		require.ErrorAs(t, err, &cyclic)
		assert.Equal(t, []FieldCoordinate{
			NewFieldCoordinate("Gizmo", "a"),
			NewFieldCoordinate("Gizmo", "b"),
			NewFieldCoordinate("Gizmo", "a"),
		}, cyclic.Cycle)
		assert.Equal(t, "field resolvers depend on each other: Gizmo.a -> Gizmo.b -> Gizmo.a", cyclic.Error())

		assert.Empty(t, g.FieldResolverContexts())
		for _, name := range []string{"a", "b"} {
			s, _ := g.Strategy(NewFieldCoordinate("Gizmo", name))
			assert.IsType(t, LocalStrategy{}, s, name)
		}
	})

	t.Run("self reference", func(t *testing.T) {
		_, err := composeWithGizmos(t, `
			type Gizmo {
				id: ID!
				a: String @resolver(field: "label", arguments: [{ name: "text", value: "$a" }])
			}
			type Query {
				gizmo: Gizmo
			}`)
		var cyclic *CyclicFieldResolverBindingError
		require.ErrorAs(t, err, &cyclic)
		assert.Len(t, cyclic.Cycle, 2)
	})
}

func TestBindFieldResolverOrdering(t *testing.T) {
	g, err := composeWithGizmos(t, `
		type Gizmo {
			id: ID!
			a: String @resolver(field: "label", arguments: [{ name: "text", value: "$b" }])
			b: String @resolver(field: "label", arguments: [{ name: "text", value: "$id" }])
			c: String @resolver(field: "label", arguments: [{ name: "text", value: "$a" }])
		}
		type Query {
			gizmo: Gizmo
		}`)
	require.NoError(t, err)

	var order []string
	for _, c := range g.FieldResolverContexts() {
		order = append(order, c.Coordinate.String())
	}
	assert.Equal(t, []string{"Gizmo.b", "Gizmo.a", "Gizmo.c"}, order)

	s, _ := g.Strategy(NewFieldCoordinate("Gizmo", "c"))
	c := s.(ResolverStrategy).Context
	assert.Equal(t, []FieldCoordinate{NewFieldCoordinate("Gizmo", "a")}, c.DependsOn)
}

func TestBindFieldResolverDropsDependents(t *testing.T) {
	g, err := composeWithGizmos(t, `
		type Gizmo {
			id: ID!
			a: String @resolver(field: "missing")
			b: String @resolver(field: "label", arguments: [{ name: "text", value: "$a" }])
		}
		type Query {
			gizmo: Gizmo
		}`)
	require.Error(t, err)
	assert.Empty(t, g.FieldResolverContexts())
	assert.Contains(t, err.Error(), "depends on unavailable field resolver Gizmo.a")

	for _, name := range []string{"a", "b"} {
		s, _ := g.Strategy(NewFieldCoordinate("Gizmo", name))
		assert.IsType(t, LocalStrategy{}, s, name)
	}
}

func TestBindFieldResolversIsIdempotent(t *testing.T) {
	g, err := composeWithGizmos(t, `
		type Gadget @extends {
			id: ID!
		}
		type Gizmo {
			id: ID!
			gadget: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "$id" }])
		}
		type Query {
			gizmo: Gizmo
		}`)
	require.NoError(t, err)

	again, errs := BindFieldResolvers(g)
	assert.Empty(t, errs)
	assert.Len(t, again.FieldResolverContexts(), 1)
	assert.Len(t, g.FieldResolverContexts(), 1)
}

func TestIsAssignable(t *testing.T) {
	named := func(name string) *ast.Type { return ast.NamedType(name, nil) }
	nonNull := func(name string) *ast.Type { return ast.NonNullNamedType(name, nil) }

	tests := []struct {
		name     string
		src, dst *ast.Type
		ok       bool
	}{
		{"nullable to non-null", named("ID"), nonNull("ID"), true},
		{"string to id", nonNull("String"), named("ID"), true},
		{"int to id", named("Int"), named("ID"), true},
		{"id to string", named("ID"), named("String"), true},
		{"int to float", named("Int"), named("Float"), true},
		{"float to int", named("Float"), named("Int"), false},
		{"lists", ast.ListType(nonNull("ID"), nil), ast.NonNullListType(nonNull("ID"), nil), true},
		{"list to scalar", ast.ListType(named("ID"), nil), named("ID"), false},
		{"boolean to string", named("Boolean"), named("String"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, isAssignable(tt.src, tt.dst))
		})
	}
}
