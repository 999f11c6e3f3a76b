package testsrv

import (
	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
)

type gadget struct {
	IDField    string
	NameField  string
	KindField  string
	RangeField *string
}

func (g gadget) ID() graphql.ID {
	return graphql.ID(g.IDField)
}

func (g gadget) Name() string {
	return g.NameField
}

func (g gadget) Kind() string {
	return g.KindField
}

func (g gadget) Range() *string {
	return g.RangeField
}

func strPtr(s string) *string {
	return &s
}

var gadgetsMap = map[string]*gadget{
	"JETPACK1": {
		IDField:    "JETPACK1",
		NameField:  "Jetpack #1",
		KindField:  "JETPACK",
		RangeField: strPtr("500km"),
	},
	"CAR1": {
		IDField:   "CAR1",
		NameField: "Vanquish",
		KindField: "INVISIBLE_CAR",
	},
}

type gadgetServiceResolver struct {
	serviceField service
}

func (g *gadgetServiceResolver) Service() service {
	return g.serviceField
}

func (g *gadgetServiceResolver) Gadget(args struct{ ID graphql.ID }) *gadget {
	return gadgetsMap[string(args.ID)]
}

const gadgetSchema = `
	type Query {
		service: Service!
		gadget(id: ID!): Gadget
	}

	enum GadgetKind {
		JETPACK
		INVISIBLE_CAR
	}

	type Gadget {
		id: ID!
		name: String!
		kind: GadgetKind!
		range: String
	}

	type Service {
		name: String!
		version: String!
		schema: String!
	}`

// NewGadgetService returns a running service owning the Gadget type.
func NewGadgetService() *Server {
	schema := graphql.MustParseSchema(gadgetSchema, &gadgetServiceResolver{
		serviceField: service{
			Name:    "gadget-service",
			Version: "v0.0.1",
			Schema:  gadgetSchema,
		},
	}, graphql.UseFieldResolvers())

	return newServer(&relay.Handler{Schema: schema})
}
