package plugins

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/movio/orchestrator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

func TestMetaPlugin(t *testing.T) {
	gizmos := orchestrator.NewStaticService("gizmos", gqlparser.MustLoadSchema(&ast.Source{Input: `
		type Gizmo { id: ID! name: String! }
		type Query { gizmo(id: ID!): Gizmo }`}))
	graph, err := orchestrator.Compose(context.Background(), []orchestrator.ServiceProvider{gizmos})
	require.NoError(t, err)

	es := orchestrator.NewExecutableSchema(nil, 50, nil)
	es.SetGraph(graph)

	p := NewMetaPlugin()
	p.Init(es)
	mux := http.NewServeMux()
	p.SetupPrivateMux(mux)

	_, path := p.GraphqlQueryPath()
	req := httptest.NewRequest(http.MethodPost, "/"+path, strings.NewReader(`{
		"query": "{ service { name } orchestratorMeta { fields(type: \"Gizmo\") { name fieldType strategy } droppedFieldResolvers } }"
	}`))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var res struct {
		Data struct {
			Service struct {
				Name string
			}
			OrchestratorMeta struct {
				Fields []struct {
					Name      string
					FieldType string
					Strategy  string
				}
				DroppedFieldResolvers []string
			}
		}
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))

	assert.Equal(t, metaPluginServiceName, res.Data.Service.Name)
	assert.Empty(t, res.Data.OrchestratorMeta.DroppedFieldResolvers)

	strategies := map[string]string{}
	for _, f := range res.Data.OrchestratorMeta.Fields {
		strategies[f.Name] = f.Strategy
	}
	assert.Equal(t, "delegate(gizmos)", strategies["id"])
	assert.Equal(t, "delegate(gizmos)", strategies["name"])
}

func TestMetaPluginSchemaIsValid(t *testing.T) {
	schema, err := gqlparser.LoadSchema(&ast.Source{Input: metaPluginSchema})
	require.NoError(t, err)
	assert.NoError(t, orchestrator.ValidateSchema(schema))
}
