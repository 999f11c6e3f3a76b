package testsrv

import (
	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
)

type service struct {
	Name    string
	Version string
	Schema  string
}

type gizmo struct {
	IDField       string
	NameField     string
	GadgetIDField string
}

func (g gizmo) ID() graphql.ID {
	return graphql.ID(g.IDField)
}

func (g gizmo) Name() string {
	return g.NameField
}

func (g gizmo) GadgetID() graphql.ID {
	return graphql.ID(g.GadgetIDField)
}

// Gadget is never queried through the gateway, the field is stitched from
// the gadget service.
func (g gizmo) Gadget() *gadgetPlaceholder {
	return &gadgetPlaceholder{IDField: g.GadgetIDField}
}

type gadgetPlaceholder struct {
	IDField string
}

func (g gadgetPlaceholder) ID() graphql.ID {
	return graphql.ID(g.IDField)
}

var gizmos = []*gizmo{
	{
		IDField:       "GIZMO1",
		NameField:     "Gizmo #1",
		GadgetIDField: "JETPACK1",
	},
	{
		IDField:       "GIZMO2",
		NameField:     "Gizmo #2",
		GadgetIDField: "CAR1",
	},
	{
		IDField:       "GIZMO3",
		NameField:     "Gizmo #3",
		GadgetIDField: "JETPACK1",
	},
}

var gizmosMap = make(map[string]*gizmo)

func init() {
	for _, gizmo := range gizmos {
		gizmosMap[gizmo.IDField] = gizmo
	}
}

type gizmoServiceResolver struct {
	serviceField service
}

func (g *gizmoServiceResolver) Service() service {
	return g.serviceField
}

func (g *gizmoServiceResolver) Gizmo(args struct{ ID graphql.ID }) *gizmo {
	return gizmosMap[string(args.ID)]
}

func (g *gizmoServiceResolver) Gizmos() []*gizmo {
	return gizmos
}

const gizmoSchema = `
	directive @resolver(field: String!, arguments: [ResolverArgument!], service: String) on FIELD_DEFINITION
	directive @extends on OBJECT

	input ResolverArgument {
		name: String!
		value: String!
	}

	type Query {
		service: Service!
		gizmo(id: ID!): Gizmo
		gizmos: [Gizmo!]!
	}

	type Gizmo {
		id: ID!
		name: String!
		gadgetId: ID!
		gadget: Gadget @resolver(field: "gadget", arguments: [{ name: "id", value: "$gadgetId" }])
	}

	type Gadget @extends {
		id: ID!
	}

	type Service {
		name: String!
		version: String!
		schema: String!
	}`

// NewGizmoService returns a running service owning the Gizmo type. Gizmos
// get their gadget stitched from the gadget service.
func NewGizmoService() *Server {
	schema := graphql.MustParseSchema(gizmoSchema, &gizmoServiceResolver{
		serviceField: service{
			Name:    "gizmo-service",
			Version: "v0.0.1",
			Schema:  gizmoSchema,
		},
	}, graphql.UseFieldResolvers())

	return newServer(&relay.Handler{Schema: schema})
}
