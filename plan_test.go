package orchestrator

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/ast"
)

type PlanTestFixture struct {
	Services map[string]string
}

func (f *PlanTestFixture) Graph(t *testing.T) *RuntimeGraph {
	t.Helper()
	var services []ServiceProvider
	for name, sdl := range f.Services {
		services = append(services, staticService(name, resolverDirectivesSDL+sdl))
	}
	graph, err := Compose(context.Background(), services)
	require.NoError(t, err)
	return graph
}

func (f *PlanTestFixture) Plan(t *testing.T, query string) *QueryPlan {
	t.Helper()
	graph := f.Graph(t)
	doc := mustLoadQuery(t, graph.Schema(), query)
	plan, err := Plan(&PlanningContext{
		Operation: evaluateSkipAndInclude(nil, doc.Operations[0]),
		Graph:     graph,
	})
	require.NoError(t, err)
	return plan
}

func (f *PlanTestFixture) Check(t *testing.T, query, expectedJSON string) {
	t.Helper()
	plan := f.Plan(t, query)
	actual, err := json.Marshal(plan)
	require.NoError(t, err)
	assert.JSONEq(t, expectedJSON, string(actual))
}

var PlanTestFixture1 = &PlanTestFixture{
	Services: map[string]string{
		"gizmos": `
			type Gadget @extends {
				id: ID!
			}

			type Gizmo {
				id: ID!
				name: String!
				gadgetId: ID
				gadget: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "$gadgetId" }])
				title: String @resolver(field: "describe", arguments: [{ name: "text", value: "$name" }])
				summary: String @resolver(field: "describe", arguments: [{ name: "text", value: "$title" }])
			}

			type Query {
				gizmo(id: ID!): Gizmo
				gizmos: [Gizmo!]!
				featuredGadget: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "F1" }])
			}

			type Mutation {
				createGizmo(name: String!): Gizmo
				featuredGadget: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "F1" }])
			}`,
		"gadgets": `
			type Gadget {
				id: ID!
				name: String!
			}

			type Query {
				gadget(id: ID!): Gadget
				gadgetCount: Int!
				describe(text: String): String
			}

			type Mutation {
				createGadget(name: String!): Gadget
			}`,
	},
}

func TestQueryPlanSingleService(t *testing.T) {
	PlanTestFixture1.Check(t, `{ gizmo(id: "G1") { id name } }`, `
	  {
		"Operation": "QUERY",
		"RootSteps": [
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Query",
			"SelectionSet": "{ gizmo(id: \"G1\") { id name } }",
			"Then": null
		  }
		]
	  }
	`)
}

func TestQueryPlanCoalescesRootFields(t *testing.T) {
	PlanTestFixture1.Check(t, `{ gizmos { id } gadgetCount gizmo(id: "G1") { name } }`, `
	  {
		"Operation": "QUERY",
		"RootSteps": [
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Query",
			"SelectionSet": "{ gizmos { id } gizmo(id: \"G1\") { name } }",
			"Then": null
		  },
		  {
			"Kind": "delegate",
			"ServiceName": "gadgets",
			"ParentType": "Query",
			"SelectionSet": "{ gadgetCount }",
			"Then": null
		  }
		]
	  }
	`)
}

func TestQueryPlanStitchedField(t *testing.T) {
	PlanTestFixture1.Check(t, `{ gizmos { name gadget { name } } }`, `
	  {
		"Operation": "QUERY",
		"RootSteps": [
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Query",
			"SelectionSet": "{ gizmos { name _orch_gadgetId: gadgetId } }",
			"Then": [
			  {
				"Kind": "resolver",
				"ServiceName": "gadgets",
				"ParentType": "Gizmo",
				"Field": "gadget",
				"SelectionSet": "{ name }",
				"InsertionPoint": ["gizmos"],
				"Then": null
			  }
			]
		  }
		]
	  }
	`)
}

func TestQueryPlanStitchedFieldWithAlias(t *testing.T) {
	PlanTestFixture1.Check(t, `{ gizmo(id: "G1") { g: gadget { n: name } } }`, `
	  {
		"Operation": "QUERY",
		"RootSteps": [
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Query",
			"SelectionSet": "{ gizmo(id: \"G1\") { _orch_gadgetId: gadgetId } }",
			"Then": [
			  {
				"Kind": "resolver",
				"ServiceName": "gadgets",
				"ParentType": "Gizmo",
				"Field": "g",
				"SelectionSet": "{ n: name }",
				"InsertionPoint": ["gizmo"],
				"Then": null
			  }
			]
		  }
		]
	  }
	`)
}

func TestQueryPlanResolverDependencies(t *testing.T) {
	plan := PlanTestFixture1.Plan(t, `{ gizmos { summary } }`)
	require.Len(t, plan.RootSteps, 1)
	root := plan.RootSteps[0]
	assert.Equal(t, "{ gizmos { _orch_name: name } }", formatSelectionSetSingleLine(nil, nil, root.SelectionSet))

	require.Len(t, root.Then, 2)
	summary, title := root.Then[0], root.Then[1]

	assert.Equal(t, "summary", summary.Field.Alias)
	assert.False(t, summary.Hidden)
	assert.False(t, summary.Provides)
	assert.Equal(t, []*QueryPlanStep{title}, summary.DependsOn)

	assert.Equal(t, "_orch_title", title.Field.Alias)
	assert.Equal(t, "title", title.Field.Name)
	assert.True(t, title.Hidden)
	assert.True(t, title.Provides)
	assert.Equal(t, []string{"gizmos"}, title.InsertionPoint)
	assert.Equal(t, "describe", title.Resolver.TargetFieldPath())
}

func TestQueryPlanSelectedDependency(t *testing.T) {
	plan := PlanTestFixture1.Plan(t, `{ gizmos { title summary } }`)
	root := plan.RootSteps[0]
	require.Len(t, root.Then, 2)
	title, summary := root.Then[0], root.Then[1]
	assert.False(t, title.Hidden)
	assert.True(t, title.Provides)
	assert.Equal(t, []*QueryPlanStep{title}, summary.DependsOn)
}

func TestQueryPlanRootResolver(t *testing.T) {
	PlanTestFixture1.Check(t, `{ featuredGadget { name } gadgetCount }`, `
	  {
		"Operation": "QUERY",
		"RootSteps": [
		  {
			"Kind": "delegate",
			"ServiceName": "gadgets",
			"ParentType": "Query",
			"SelectionSet": "{ gadgetCount }",
			"Then": null
		  },
		  {
			"Kind": "resolver",
			"ServiceName": "gadgets",
			"ParentType": "Query",
			"Field": "featuredGadget",
			"SelectionSet": "{ name }",
			"Then": null
		  }
		]
	  }
	`)
}

func TestQueryPlanWithTypename(t *testing.T) {
	PlanTestFixture1.Check(t, `{ __typename gizmo(id: "G1") { __typename id } }`, `
	  {
		"Operation": "QUERY",
		"RootSteps": [
		  {
			"Kind": "local",
			"ServiceName": "__orchestrator",
			"ParentType": "Query",
			"Field": "__typename",
			"Then": null
		  },
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Query",
			"SelectionSet": "{ gizmo(id: \"G1\") { __typename id } }",
			"Then": null
		  }
		]
	  }
	`)
}

func TestQueryPlanOnlyStitchedFieldsInjectsTypename(t *testing.T) {
	fixture := &PlanTestFixture{
		Services: map[string]string{
			"gizmos": `
				type Gizmo {
					id: ID!
					label: String @resolver(field: "describe")
				}
				type Query {
					gizmo: Gizmo
				}`,
			"gadgets": `
				type Query {
					describe(text: String): String
				}`,
		},
	}
	plan := fixture.Plan(t, `{ gizmo { label } }`)
	assert.Equal(t, "{ gizmo { _orch__typename: __typename } }", formatSelectionSetSingleLine(nil, nil, plan.RootSteps[0].SelectionSet))
}

func TestQueryPlanInlineFragment(t *testing.T) {
	fixture := &PlanTestFixture{
		Services: map[string]string{
			"gizmos": `
				interface Thing {
					id: ID!
				}
				type Gizmo implements Thing {
					id: ID!
					name: String!
				}
				type Widget implements Thing {
					id: ID!
					size: Int
				}
				type Query {
					things: [Thing!]!
				}`,
		},
	}
	fixture.Check(t, `{ things { id ... on Gizmo { name } ... on Widget { size } } }`, `
	  {
		"Operation": "QUERY",
		"RootSteps": [
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Query",
			"SelectionSet": "{ things { id ... on Gizmo { name } ... on Widget { size } _orch__typename: __typename } }",
			"Then": null
		  }
		]
	  }
	`)
}

func TestQueryPlanFragmentSpread(t *testing.T) {
	PlanTestFixture1.Check(t, `
		query {
			gizmo(id: "G1") { ...GizmoFields }
		}
		fragment GizmoFields on Gizmo {
			id
			gadget { name }
		}`, `
	  {
		"Operation": "QUERY",
		"RootSteps": [
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Query",
			"SelectionSet": "{ gizmo(id: \"G1\") { ... on Gizmo { id _orch_gadgetId: gadgetId } } }",
			"Then": [
			  {
				"Kind": "resolver",
				"ServiceName": "gadgets",
				"ParentType": "Gizmo",
				"Field": "gadget",
				"SelectionSet": "{ name }",
				"InsertionPoint": ["gizmo"],
				"Then": null
			  }
			]
		  }
		]
	  }
	`)
}

func TestQueryPlanSkipDirective(t *testing.T) {
	PlanTestFixture1.Check(t, `{ gizmo(id: "G1") { id name @skip(if: true) } }`, `
	  {
		"Operation": "QUERY",
		"RootSteps": [
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Query",
			"SelectionSet": "{ gizmo(id: \"G1\") { id } }",
			"Then": null
		  }
		]
	  }
	`)
}

func TestQueryPlanSupportsMutations(t *testing.T) {
	PlanTestFixture1.Check(t, `
		mutation {
			first: createGizmo(name: "a") { id }
			second: createGizmo(name: "b") { id }
			createGadget(name: "c") { id }
			third: createGizmo(name: "d") { id }
		}`, `
	  {
		"Operation": "MUTATION",
		"RootSteps": [
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Mutation",
			"SelectionSet": "{ first: createGizmo(name: \"a\") { id } second: createGizmo(name: \"b\") { id } }",
			"Then": null
		  },
		  {
			"Kind": "delegate",
			"ServiceName": "gadgets",
			"ParentType": "Mutation",
			"SelectionSet": "{ createGadget(name: \"c\") { id } }",
			"Then": null
		  },
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Mutation",
			"SelectionSet": "{ third: createGizmo(name: \"d\") { id } }",
			"Then": null
		  }
		]
	  }
	`)
}

func TestQueryPlanKeepsMutationResolverFieldsInOrder(t *testing.T) {
	PlanTestFixture1.Check(t, `
		mutation {
			createGizmo(name: "a") { id }
			featuredGadget { name }
			createGadget(name: "b") { id }
		}`, `
	  {
		"Operation": "MUTATION",
		"RootSteps": [
		  {
			"Kind": "delegate",
			"ServiceName": "gizmos",
			"ParentType": "Mutation",
			"SelectionSet": "{ createGizmo(name: \"a\") { id } }",
			"Then": null
		  },
		  {
			"Kind": "resolver",
			"ServiceName": "gadgets",
			"ParentType": "Mutation",
			"Field": "featuredGadget",
			"SelectionSet": "{ name }",
			"Then": null
		  },
		  {
			"Kind": "delegate",
			"ServiceName": "gadgets",
			"ParentType": "Mutation",
			"SelectionSet": "{ createGadget(name: \"b\") { id } }",
			"Then": null
		  }
		]
	  }
	`)
}

func TestQueryPlanRejectsSubscriptions(t *testing.T) {
	_, err := Plan(&PlanningContext{
		Operation: &ast.OperationDefinition{Operation: ast.Subscription},
		Graph:     PlanTestFixture1.Graph(t),
	})
	assert.EqualError(t, err, "subscriptions are not supported")
}
