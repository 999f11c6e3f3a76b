package plugins

import (
	"fmt"
	"net/http"

	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/movio/orchestrator"
)

func init() {
	orchestrator.RegisterPlugin(NewMetaPlugin())
}

const metaPluginServiceName = "orchestrator-meta"

var metaPluginSchema = `
type Service {
	name: String!
	version: String!
	schema: String!
}
type OrchestratorService {
	name: String!
	version: String!
	status: String!
	url: String!
}
type OrchestratorField {
	type: String!
	name: String!
	fieldType: String!
	strategy: String!
}
type OrchestratorMeta {
	services: [OrchestratorService!]!
	fields(type: String!): [OrchestratorField!]!
	droppedFieldResolvers: [String!]!
}
type Query {
	service: Service!
	orchestratorMeta: OrchestratorMeta!
}
`

type metaService struct {
	Name    string
	Version string
	Status  string
	URL     string
}

type metaField struct {
	Type      string
	Name      string
	FieldType string
	Strategy  string
}

type metaPluginResolver struct {
	Service struct {
		Name    string
		Version string
		Schema  string
	}
	executableSchema *orchestrator.ExecutableSchema
}

func newMetaPluginResolver() *metaPluginResolver {
	r := &metaPluginResolver{}
	r.Service.Name = metaPluginServiceName
	r.Service.Version = "latest"
	r.Service.Schema = metaPluginSchema
	return r
}

func (r *metaPluginResolver) OrchestratorMeta() *metaPluginResolver {
	return r
}

func (r *metaPluginResolver) Services() []metaService {
	var res []metaService
	for _, s := range r.executableSchema.ServiceStatuses() {
		res = append(res, metaService{
			Name:    s.Name,
			Version: s.Version,
			Status:  s.Status,
			URL:     s.URL,
		})
	}
	return res
}

// Fields returns the merged fields of the type and how each of them is
// resolved.
func (r *metaPluginResolver) Fields(args struct{ Type string }) []metaField {
	g := r.executableSchema.Graph()
	if g == nil {
		return nil
	}
	def := g.Type(args.Type)
	if def == nil {
		return nil
	}
	var res []metaField
	for _, f := range def.Fields {
		strategy := "unresolved"
		if s, ok := g.Strategy(orchestrator.NewFieldCoordinate(def.Name, f.Name)); ok {
			strategy = s.String()
		}
		res = append(res, metaField{
			Type:      def.Name,
			Name:      f.Name,
			FieldType: f.Type.String(),
			Strategy:  strategy,
		})
	}
	return res
}

// DroppedFieldResolvers returns the coordinates of the declared field
// resolvers that were dropped from the graph.
func (r *metaPluginResolver) DroppedFieldResolvers() []string {
	g := r.executableSchema.Graph()
	if g == nil {
		return []string{}
	}
	bound := make(map[orchestrator.FieldCoordinate]bool)
	for _, c := range g.FieldResolverContexts() {
		bound[c.Coordinate] = true
	}
	res := []string{}
	for _, d := range g.FieldResolverDeclarations() {
		if !bound[d.Coordinate] {
			res = append(res, d.Coordinate.String())
		}
	}
	return res
}

// MetaPlugin federates a service describing the gateway itself: the polled
// services and the resolution strategy of every field.
type MetaPlugin struct {
	orchestrator.BasePlugin
	resolver *metaPluginResolver
}

func NewMetaPlugin() *MetaPlugin {
	return &MetaPlugin{
		resolver: newMetaPluginResolver(),
	}
}

func (p *MetaPlugin) Init(s *orchestrator.ExecutableSchema) {
	p.resolver.executableSchema = s
}

func (p *MetaPlugin) ID() string {
	return "meta"
}

func (p *MetaPlugin) GraphqlQueryPath() (bool, string) {
	return true, "orchestrator-meta-plugin-query"
}

func (p *MetaPlugin) SetupPrivateMux(mux *http.ServeMux) {
	_, path := p.GraphqlQueryPath()
	s := graphql.MustParseSchema(metaPluginSchema, p.resolver, graphql.UseFieldResolvers())
	mux.Handle(fmt.Sprintf("/%s", path), &relay.Handler{Schema: s})
}
