package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

// ServiceProvider is a downstream service as seen by the gateway. A provider
// is treated as immutable once merged into a graph.
type ServiceProvider interface {
	// ServiceName returns the unique name of the service.
	ServiceName() string
	// SchemaDocument returns the schema contributed by the service.
	SchemaDocument() *ast.Schema
	// ExecuteQuery executes a query or mutation document and returns its
	// data. A GraphqlErrors error may be returned along with partial data,
	// any other error is a transport failure.
	ExecuteQuery(ctx context.Context, req *Request) (map[string]interface{}, error)
}

// Service is a federated service reached over HTTP.
type Service struct {
	ServiceURL   string
	Name         string
	Version      string
	SchemaSource string
	Schema       *ast.Schema
	Status       string

	mutex  sync.RWMutex
	client *GraphQLClient
	poller *GraphQLClient
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClient sets the client used to execute queries.
func WithClient(client *GraphQLClient) ServiceOption {
	return func(s *Service) {
		s.client = client
	}
}

// NewService returns a new Service.
func NewService(serviceURL string, opts ...ServiceOption) *Service {
	s := &Service{
		ServiceURL: serviceURL,
		client:     NewClient(WithUserAgent(GenerateUserAgent("query"))),
		poller:     NewClientWithoutKeepAlive(WithUserAgent(GenerateUserAgent("update"))),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServiceName returns the name reported by the service, or its URL if it
// was never reached.
func (s *Service) ServiceName() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if s.Name == "" {
		return s.ServiceURL
	}
	return s.Name
}

// SchemaDocument returns the last schema fetched from the service, without
// the polling field and type.
func (s *Service) SchemaDocument() *ast.Schema {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.Schema
}

// ExecuteQuery sends the request to the service.
func (s *Service) ExecuteQuery(ctx context.Context, req *Request) (map[string]interface{}, error) {
	data := map[string]interface{}{}
	err := s.client.Request(ctx, s.ServiceURL, req, &data)
	return data, err
}

// Update queries the service's schema, name and version and updates its status.
func (s *Service) Update(ctx context.Context) (bool, error) {
	req := NewRequest("query orchestratorServicePoll { service { name, version, schema} }").
		WithOperationName("orchestratorServicePoll")
	response := struct {
		Service struct {
			Name    string `json:"name"`
			Version string `json:"version"`
			Schema  string `json:"schema"`
		} `json:"service"`
	}{}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.poller.Request(ctx, s.ServiceURL, req, &response); err != nil {
		s.SchemaSource = ""
		s.Status = "Unreachable"
		return false, err
	}

	updated := response.Service.Schema != s.SchemaSource

	s.Name = response.Service.Name
	s.Version = response.Service.Version
	s.SchemaSource = response.Service.Schema

	schema, err := gqlparser.LoadSchema(&ast.Source{Name: s.ServiceURL, Input: response.Service.Schema})
	if err != nil {
		s.Status = "Schema error"
		return false, err
	}

	if err := ValidateSchema(schema); err != nil {
		s.Status = fmt.Sprintf("Invalid (%s)", err)
		return updated, err
	}

	s.Schema = stripServiceFields(schema)
	s.Status = "OK"
	return updated, nil
}

// stripServiceFields removes the polling field and type every service
// declares, so that they don't collide when merged.
func stripServiceFields(schema *ast.Schema) *ast.Schema {
	res := *schema
	res.Types = make(map[string]*ast.Definition, len(schema.Types))
	for name, def := range schema.Types {
		if name == serviceObjectName {
			continue
		}
		res.Types[name] = def
	}
	if schema.Query == nil {
		return &res
	}

	query := *schema.Query
	query.Fields = nil
	for _, f := range schema.Query.Fields {
		if f.Name == serviceRootFieldName {
			continue
		}
		query.Fields = append(query.Fields, f)
	}
	res.Query = &query
	res.Types[query.Name] = &query
	return &res
}

// StaticService is a provider with a fixed schema. It is used to check how a
// schema would merge without a running service.
type StaticService struct {
	Name   string
	Schema *ast.Schema
}

// NewStaticService returns a provider for schema, without the polling field
// and type.
func NewStaticService(name string, schema *ast.Schema) *StaticService {
	return &StaticService{
		Name:   name,
		Schema: stripServiceFields(schema),
	}
}

func (s *StaticService) ServiceName() string {
	return s.Name
}

func (s *StaticService) SchemaDocument() *ast.Schema {
	return s.Schema
}

func (s *StaticService) ExecuteQuery(ctx context.Context, req *Request) (map[string]interface{}, error) {
	return nil, fmt.Errorf("service %q can not execute queries", s.Name)
}
