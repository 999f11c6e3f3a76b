package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// resultShaper writes execution data as the client selected it: fields in
// selection order, fragments applied by typename, injected fields left out
// and null values bubbled up to the nearest nullable field.
type resultShaper struct {
	schema *ast.Schema
	errs   gqlerror.List
}

// shapeResponse returns the response data for the operation and the errors,
// including the ones raised by non-null violations. The data is null if a
// violation bubbled up to the root.
func shapeResponse(schema *ast.Schema, op *ast.OperationDefinition, data map[string]interface{}, errs gqlerror.List) (json.RawMessage, gqlerror.List) {
	s := &resultShaper{
		schema: schema,
		errs:   errs,
	}

	rootName := queryObjectName
	if o, ok := OperationFromAST(op.Operation); ok {
		rootName = o.TypeName()
	}

	res, ok := s.shapeObject(nil, rootName, op.SelectionSet, data)
	if !ok {
		return json.RawMessage("null"), s.errs
	}
	return res, s.errs
}

func (s *resultShaper) shapeObject(path ast.Path, typeName string, selectionSet ast.SelectionSet, obj map[string]interface{}) ([]byte, bool) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, field := range s.collectFields(typeName, selectionSet) {
		if i > 0 {
			buf.WriteString(",")
		}
		buf.WriteString(strconv.Quote(field.Alias))
		buf.WriteString(":")

		if field.Name == typenameFieldName {
			buf.WriteString(strconv.Quote(typeName))
			continue
		}

		fieldPath := extendPath(path, ast.PathName(field.Alias))
		fieldType := s.fieldType(typeName, field)
		if fieldType == nil {
			buf.WriteString("null")
			continue
		}
		value, ok := s.shapeValue(fieldPath, fieldType, field, obj[field.Alias])
		if !ok {
			return nil, false
		}
		buf.Write(value)
	}
	buf.WriteString("}")
	return buf.Bytes(), true
}

func (s *resultShaper) fieldType(typeName string, field *ast.Field) *ast.Type {
	if def := s.schema.Types[typeName]; def != nil {
		if f := def.Fields.ForName(field.Name); f != nil {
			return f.Type
		}
	}
	if field.Definition != nil {
		return field.Definition.Type
	}
	return nil
}

// shapeValue returns false if value is null, or contains a null that
// bubbles up, and t is non-null.
func (s *resultShaper) shapeValue(path ast.Path, t *ast.Type, field *ast.Field, value interface{}) ([]byte, bool) {
	if value == nil {
		if t.NonNull {
			s.nullError(path, field)
			return nil, false
		}
		return []byte("null"), true
	}

	if t.Elem != nil {
		items, ok := value.([]interface{})
		if !ok {
			return s.invalidValue(path, t, fmt.Errorf("expected a list, got %T", value))
		}
		var buf bytes.Buffer
		buf.WriteString("[")
		for i, item := range items {
			if i > 0 {
				buf.WriteString(",")
			}
			b, ok := s.shapeValue(extendPath(path, ast.PathIndex(i)), t.Elem, field, item)
			if !ok {
				return s.bubble(t)
			}
			buf.Write(b)
		}
		buf.WriteString("]")
		return buf.Bytes(), true
	}

	def := s.schema.Types[t.Name()]
	if def == nil || def.Kind == ast.Scalar || def.Kind == ast.Enum {
		b, err := json.Marshal(value)
		if err != nil {
			return s.invalidValue(path, t, err)
		}
		return b, true
	}

	obj, ok := value.(map[string]interface{})
	if !ok {
		return s.invalidValue(path, t, fmt.Errorf("expected an object, got %T", value))
	}
	typeName := def.Name
	if isAbstract(def) {
		if name, ok := obj[injectedTypenameFieldAlias].(string); ok {
			typeName = name
		}
	}
	b, ok := s.shapeObject(path, typeName, field.SelectionSet, obj)
	if !ok {
		return s.bubble(t)
	}
	return b, true
}

func (s *resultShaper) bubble(t *ast.Type) ([]byte, bool) {
	if t.NonNull {
		return nil, false
	}
	return []byte("null"), true
}

func (s *resultShaper) invalidValue(path ast.Path, t *ast.Type, err error) ([]byte, bool) {
	s.errs = append(s.errs, &gqlerror.Error{
		Message: fmt.Sprintf("invalid value for %s: %s", t, err),
		Path:    path,
	})
	return s.bubble(t)
}

// nullError records a non-null violation unless an error was already
// reported at or below path.
func (s *resultShaper) nullError(path ast.Path, field *ast.Field) {
	for _, e := range s.errs {
		if pathHasPrefix(e.Path, path) {
			return
		}
	}
	s.errs = append(s.errs, &gqlerror.Error{
		Message: fmt.Sprintf("got a null response for non-nullable field %q", field.Alias),
		Path:    path,
	})
}

func pathHasPrefix(path, prefix ast.Path) bool {
	if len(path) < len(prefix) {
		return false
	}
	for i := range prefix {
		if path[i] != prefix[i] {
			return false
		}
	}
	return true
}

// collectFields flattens the fragments of selectionSet that apply to
// typeName. Fields sharing a response name are merged.
func (s *resultShaper) collectFields(typeName string, selectionSet ast.SelectionSet) []*ast.Field {
	var res []*ast.Field
	byAlias := make(map[string]*ast.Field)

	var collect func(ss ast.SelectionSet)
	collect = func(ss ast.SelectionSet) {
		for _, selection := range ss {
			switch selection := selection.(type) {
			case *ast.Field:
				if existing, ok := byAlias[selection.Alias]; ok {
					existing.SelectionSet = append(existing.SelectionSet, selection.SelectionSet...)
					continue
				}
				f := *selection
				f.SelectionSet = append(ast.SelectionSet(nil), selection.SelectionSet...)
				byAlias[f.Alias] = &f
				res = append(res, &f)
			case *ast.InlineFragment:
				if s.fragmentApplies(typeName, selection.TypeCondition) {
					collect(selection.SelectionSet)
				}
			case *ast.FragmentSpread:
				if s.fragmentApplies(typeName, selection.Definition.TypeCondition) {
					collect(selection.Definition.SelectionSet)
				}
			}
		}
	}
	collect(selectionSet)
	return res
}

func (s *resultShaper) fragmentApplies(typeName, typeCondition string) bool {
	if typeCondition == "" || typeCondition == typeName {
		return true
	}
	for _, t := range s.schema.PossibleTypes[typeCondition] {
		if t.Name == typeName {
			return true
		}
	}
	return false
}
