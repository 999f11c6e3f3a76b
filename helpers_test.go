package orchestrator

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

const resolverDirectivesSDL = `
	directive @resolver(field: String!, arguments: [ResolverArgument!], service: String) on FIELD_DEFINITION
	directive @extends on OBJECT

	input ResolverArgument {
		name: String!
		value: String!
	}
`

type testResolverFunc func(parent, args map[string]interface{}) (interface{}, error)

// testService is an in-process service. Fields are read from the parent
// object unless a resolver is registered for "Type.field".
type testService struct {
	name      string
	schema    *ast.Schema
	resolvers map[string]testResolverFunc
	delay     time.Duration

	mu      sync.Mutex
	queries []string
}

func newTestService(name, sdl string, resolvers map[string]testResolverFunc) *testService {
	return &testService{
		name:      name,
		schema:    gqlparser.MustLoadSchema(&ast.Source{Name: name, Input: sdl}),
		resolvers: resolvers,
	}
}

func staticService(name, sdl string) *StaticService {
	return NewStaticService(name, gqlparser.MustLoadSchema(&ast.Source{Name: name, Input: sdl}))
}

func (s *testService) ServiceName() string {
	return s.name
}

func (s *testService) SchemaDocument() *ast.Schema {
	return s.schema
}

func (s *testService) ExecuteQuery(ctx context.Context, req *Request) (map[string]interface{}, error) {
	s.mu.Lock()
	s.queries = append(s.queries, req.Query)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	doc, errs := gqlparser.LoadQuery(s.schema, req.Query)
	if len(errs) > 0 {
		return nil, errs
	}
	op := doc.Operations[0]
	root := s.schema.Query
	if op.Operation == ast.Mutation {
		root = s.schema.Mutation
	}

	e := &testExecutor{service: s}
	data := e.object(nil, root, op.SelectionSet, nil)

	// go through JSON like a remote service would
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	res := make(map[string]interface{})
	if err := json.Unmarshal(b, &res); err != nil {
		return nil, err
	}
	if len(e.errs) > 0 {
		return res, e.errs
	}
	return res, nil
}

func (s *testService) receivedQueries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.queries...)
}

type testExecutor struct {
	service *testService
	errs    GraphqlErrors
}

func (e *testExecutor) object(path []interface{}, def *ast.Definition, selectionSet ast.SelectionSet, parent map[string]interface{}) map[string]interface{} {
	res := make(map[string]interface{})
	for _, f := range e.collect(def.Name, selectionSet) {
		if f.Name == typenameFieldName {
			res[f.Alias] = def.Name
			continue
		}
		fieldPath := append(append([]interface{}(nil), path...), f.Alias)

		var value interface{}
		if resolve, ok := e.service.resolvers[def.Name+"."+f.Name]; ok {
			v, err := resolve(parent, f.ArgumentMap(nil))
			if err != nil {
				e.errs = append(e.errs, GraphqlError{Message: err.Error(), Path: fieldPath})
				res[f.Alias] = nil
				continue
			}
			value = v
		} else if parent != nil {
			value = parent[f.Name]
		}
		res[f.Alias] = e.complete(fieldPath, f.Definition.Type, f.SelectionSet, value)
	}
	return res
}

func (e *testExecutor) complete(path []interface{}, t *ast.Type, selectionSet ast.SelectionSet, value interface{}) interface{} {
	if value == nil {
		return nil
	}
	if t.Elem != nil {
		items := value.([]interface{})
		res := make([]interface{}, len(items))
		for i, item := range items {
			res[i] = e.complete(append(append([]interface{}(nil), path...), i), t.Elem, selectionSet, item)
		}
		return res
	}
	def := e.service.schema.Types[t.Name()]
	if def.Kind == ast.Scalar || def.Kind == ast.Enum {
		return value
	}
	obj := value.(map[string]interface{})
	if isAbstract(def) {
		def = e.service.schema.Types[obj["__typename"].(string)]
	}
	return e.object(path, def, selectionSet, obj)
}

func (e *testExecutor) collect(typeName string, selectionSet ast.SelectionSet) []*ast.Field {
	var res []*ast.Field
	for _, selection := range selectionSet {
		switch selection := selection.(type) {
		case *ast.Field:
			res = append(res, selection)
		case *ast.InlineFragment:
			if e.applies(typeName, selection.TypeCondition) {
				res = append(res, e.collect(typeName, selection.SelectionSet)...)
			}
		case *ast.FragmentSpread:
			if e.applies(typeName, selection.Definition.TypeCondition) {
				res = append(res, e.collect(typeName, selection.Definition.SelectionSet)...)
			}
		}
	}
	return res
}

func (e *testExecutor) applies(typeName, typeCondition string) bool {
	if typeCondition == "" || typeCondition == typeName {
		return true
	}
	for _, def := range e.service.schema.PossibleTypes[typeCondition] {
		if def.Name == typeName {
			return true
		}
	}
	return false
}

func mustCompose(services ...ServiceProvider) *RuntimeGraph {
	graph, err := Compose(context.Background(), services, WithFailFast(true))
	if err != nil {
		panic(err)
	}
	return graph
}

func mustLoadQuery(t *testing.T, schema *ast.Schema, query string) *ast.QueryDocument {
	t.Helper()
	doc, errs := gqlparser.LoadQuery(schema, query)
	require.Empty(t, errs)
	return doc
}
