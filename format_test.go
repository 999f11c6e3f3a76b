package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
)

func loadSchema(input string) *ast.Schema {
	return gqlparser.MustLoadSchema(&ast.Source{Name: "schema", Input: input})
}

const gizmoFormatSchema = `
	type Gizmo {
		name: String!
		weight: Float!
	}
	type Query {
		gizmo: Gizmo
	}`

func TestFormatSelectionSetVerySimple(t *testing.T) {
	schema := loadSchema(gizmoFormatSchema)
	selectionSet := []ast.Selection{
		&ast.Field{
			Alias:            "gizmo",
			Name:             "gizmo",
			Definition:       schema.Query.Fields.ForName("gizmo"),
			ObjectDefinition: schema.Query,
			SelectionSet: []ast.Selection{
				&ast.Field{
					Alias:            "name",
					Name:             "name",
					Definition:       schema.Types["Gizmo"].Fields.ForName("name"),
					ObjectDefinition: schema.Types["Gizmo"],
				},
				&ast.Field{
					Alias:            "weight",
					Name:             "weight",
					Definition:       schema.Types["Gizmo"].Fields.ForName("weight"),
					ObjectDefinition: schema.Types["Gizmo"],
				},
			},
		},
	}
	assert.Equal(t, `{ gizmo { name weight } }`, formatSelectionSetSingleLine(schema, nil, selectionSet))
}

func TestFormatSelectionSetEmpty(t *testing.T) {
	schema := loadSchema(gizmoFormatSchema)
	assert.Equal(t, "", formatSelectionSetSingleLine(schema, nil, nil))
}

func TestFormatSelectionSetWithAlias(t *testing.T) {
	schema := loadSchema(gizmoFormatSchema)
	query := gqlparser.MustLoadQuery(schema, `{ g: gizmo { n: name name __typename } }`)
	res := formatSelectionSetSingleLine(schema, nil, query.Operations[0].SelectionSet)
	assert.Equal(t, `{ g: gizmo { n: name name __typename } }`, res)
}

func TestFormatSelectionSetMultiline(t *testing.T) {
	schema := loadSchema(gizmoFormatSchema)
	query := gqlparser.MustLoadQuery(schema, `{ gizmo { name } }`)
	res := formatSelectionSet(schema, nil, query.Operations[0].SelectionSet)
	assert.Equal(t, "{\n  gizmo {\n    name\n  }\n}", res)
}

const movieFormatSchema = `
	enum Genre {
		ACTION
		COMEDY
	}

	type Movie {
		id: ID!
		genre: Genre
	}

	input SubObject {
		genre: Genre!
	}

	input SearchInput {
		genre: Genre
		genreList: [Genre!]
		stringList: [String!]
		intList: [Int!]
		subObject: SubObject
	}

	type Query {
		search(input: SearchInput!): [Movie!]
		moviesByIds(ids: [ID!]!): [Movie!]
	}`

func TestFormatSelectionSetWithObjectVariable(t *testing.T) {
	schema := loadSchema(movieFormatSchema)
	query := gqlparser.MustLoadQuery(schema, `query ($input: SearchInput!) {
		search(input: $input) { genre }
	}`)

	res := formatSelectionSetSingleLine(schema, map[string]interface{}{"input": map[string]interface{}{
		"genre":      "ACTION",
		"genreList":  []interface{}{"ACTION", "COMEDY"},
		"stringList": []interface{}{"abc", "123"},
		"intList":    []interface{}{123},
		"subObject": map[string]interface{}{
			"genre": "ACTION",
		},
	}}, query.Operations[0].SelectionSet)
	assert.Equal(t, `{ search(input: {genre: ACTION genreList: [ACTION, COMEDY] stringList: ["abc", "123"] intList: [123] subObject: {genre: ACTION}}) { genre } }`, res)
}

func TestFormatSelectionSetWithListContainingVariable(t *testing.T) {
	schema := loadSchema(movieFormatSchema)
	query := gqlparser.MustLoadQuery(schema, `query ($id: ID!) {
		moviesByIds(ids: [$id, "5678"]) { id }
	}`)

	res := formatSelectionSetSingleLine(schema, map[string]interface{}{"id": "1234"}, query.Operations[0].SelectionSet)
	assert.Equal(t, `{ moviesByIds(ids: ["1234","5678"]) { id } }`, res)
}

func TestFormatSelectionSetWithEnum(t *testing.T) {
	schema := loadSchema(movieFormatSchema)
	query := gqlparser.MustLoadQuery(schema, `{ search(input: { genre: ACTION }) { genre } }`)

	res := formatSelectionSetSingleLine(schema, nil, query.Operations[0].SelectionSet)
	assert.Equal(t, `{ search(input: {genre:ACTION}) { genre } }`, res)
}

func TestFormatSelectionSetWithEnumVariable(t *testing.T) {
	schema := loadSchema(movieFormatSchema)
	query := gqlparser.MustLoadQuery(schema, `query ($genre: Genre) {
		search(input: { genre: $genre }) { genre }
	}`)

	t.Run("with a value", func(t *testing.T) {
		res := formatSelectionSetSingleLine(schema, map[string]interface{}{"genre": "ACTION"}, query.Operations[0].SelectionSet)
		assert.Equal(t, `{ search(input: {genre:ACTION}) { genre } }`, res)
	})
	t.Run("with null", func(t *testing.T) {
		res := formatSelectionSetSingleLine(schema, map[string]interface{}{"genre": nil}, query.Operations[0].SelectionSet)
		assert.Equal(t, `{ search(input: {genre:null}) { genre } }`, res)
	})
}

func TestFormatSelectionSetInlineFragmentAndDirective(t *testing.T) {
	schema := loadSchema(`
		interface Readable {
			name: String!
		}
		type Gizmo implements Readable {
			name: String!
			weight: Float!
		}
		type Query {
			read: Readable
		}`)
	query := gqlparser.MustLoadQuery(schema, `{ read @skip(if: false) { ... on Gizmo { name weight } } }`)

	res := formatSelectionSetSingleLine(schema, nil, query.Operations[0].SelectionSet)
	assert.Equal(t, `{ read @skip(if: false) { ... on Gizmo { name weight } } }`, res)
}

func TestFormatSelectionSetFragmentSpread(t *testing.T) {
	schema := loadSchema(gizmoFormatSchema)
	query := gqlparser.MustLoadQuery(schema, `
		query {
			gizmo { ...GizmoFields }
		}
		fragment GizmoFields on Gizmo {
			name
		}`)

	res := formatSelectionSetSingleLine(schema, nil, query.Operations[0].SelectionSet)
	assert.Equal(t, `{ gizmo { ... on Gizmo { name } } }`, res)
}

func TestFormatDocument(t *testing.T) {
	schema := loadSchema(`
		type Movie {
			id: ID!
			title: String!
		}
		type Query {
			search(id: ID!): Movie
		}
		type Mutation {
			rate(id: ID!, stars: Int!): Movie
		}`)

	t.Run("query", func(t *testing.T) {
		query := gqlparser.MustLoadQuery(schema, `query ($id: ID!) { search(id: $id) { id title } }`)
		res := formatDocument(OperationQuery, "", schema, map[string]interface{}{"id": "123"}, query.Operations[0].SelectionSet)
		assert.Equal(t, "query {\n  search(id: \"123\") {\n    id\n    title\n  }\n}", res)
	})

	t.Run("with operation name", func(t *testing.T) {
		query := gqlparser.MustLoadQuery(schema, `query ($id: ID!) { search(id: $id) { id title } }`)
		res := formatDocument(OperationQuery, "search", schema, map[string]interface{}{"id": "123", "extra": "ignore"}, query.Operations[0].SelectionSet)
		assert.Equal(t, "query search {\n  search(id: \"123\") {\n    id\n    title\n  }\n}", res)
	})

	t.Run("mutation", func(t *testing.T) {
		query := gqlparser.MustLoadQuery(schema, `mutation { rate(id: "1", stars: 5) { id } }`)
		res := formatDocument(OperationMutation, "", schema, nil, query.Operations[0].SelectionSet)
		assert.Equal(t, "mutation {\n  rate(id: \"1\", stars: 5) {\n    id\n  }\n}", res)
	})
}

func TestFormatValue(t *testing.T) {
	schema := loadSchema(movieFormatSchema)

	tests := []struct {
		name     string
		typ      *ast.Type
		value    interface{}
		expected string
	}{
		{"null", ast.NamedType("ID", nil), nil, "null"},
		{"string id", ast.NonNullNamedType("ID", nil), "MOVIE1", `"MOVIE1"`},
		{"numeric id", ast.NonNullNamedType("ID", nil), float64(42), `"42"`},
		{"int", ast.NamedType("Int", nil), float64(3), "3"},
		{"boolean", ast.NamedType("Boolean", nil), true, "true"},
		{"enum", ast.NamedType("Genre", nil), "COMEDY", "COMEDY"},
		{"list of ids", ast.ListType(ast.NonNullNamedType("ID", nil), nil), []interface{}{"A", "B"}, `["A","B"]`},
		{"input object", ast.NamedType("SubObject", nil), map[string]interface{}{"genre": "ACTION"}, "{genre: ACTION}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, formatValue(schema, tt.typ, tt.value))
		})
	}
}

func TestFormatLiteral(t *testing.T) {
	schema := loadSchema(movieFormatSchema)

	assert.Equal(t, `"MOVIE1"`, formatLiteral(schema, ast.NonNullNamedType("ID", nil), "MOVIE1"))
	assert.Equal(t, `"with \"quotes\""`, formatLiteral(schema, ast.NamedType("String", nil), `with "quotes"`))
	assert.Equal(t, "10", formatLiteral(schema, ast.NamedType("Int", nil), "10"))
	assert.Equal(t, "false", formatLiteral(schema, ast.NamedType("Boolean", nil), "false"))
	assert.Equal(t, "ACTION", formatLiteral(schema, ast.NamedType("Genre", nil), "ACTION"))
}

func TestFormatSchema(t *testing.T) {
	schema := loadSchema(gizmoFormatSchema)
	res := formatSchema(schema)
	assert.Contains(t, res, "type Gizmo {")
	assert.Contains(t, res, "gizmo: Gizmo")
}
