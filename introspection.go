package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
)

// resolveSchemaField answers Query.__schema from the merged schema.
func resolveSchemaField(_ context.Context, schema *ast.Schema, field *ast.Field, variables map[string]interface{}) (interface{}, error) {
	return resolveSchema(schema, field.SelectionSet, variables), nil
}

// resolveTypeField answers Query.__type(name:) from the merged schema.
func resolveTypeField(_ context.Context, schema *ast.Schema, field *ast.Field, variables map[string]interface{}) (interface{}, error) {
	arg := field.Arguments.ForName("name")
	if arg == nil {
		return nil, fmt.Errorf("__type requires a name argument")
	}
	v, err := arg.Value.Value(variables)
	if err != nil {
		return nil, err
	}
	name, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("__type name must be a string")
	}
	if _, ok := schema.Types[name]; !ok {
		return nil, nil
	}
	return resolveType(schema, &ast.Type{NamedType: name}, field.SelectionSet, variables), nil
}

func resolveSchema(schema *ast.Schema, selectionSet ast.SelectionSet, variables map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	for _, f := range selectionSetToFields(selectionSet) {
		switch f.Name {
		case "types":
			names := make([]string, 0, len(schema.Types))
			for name := range schema.Types {
				names = append(names, name)
			}
			sort.Strings(names)
			types := []interface{}{}
			for _, name := range names {
				types = append(types, resolveType(schema, &ast.Type{NamedType: name}, f.SelectionSet, variables))
			}
			result[f.Alias] = types
		case "queryType":
			result[f.Alias] = resolveRootType(schema, schema.Query, f.SelectionSet, variables)
		case "mutationType":
			result[f.Alias] = resolveRootType(schema, schema.Mutation, f.SelectionSet, variables)
		case "subscriptionType":
			result[f.Alias] = resolveRootType(schema, schema.Subscription, f.SelectionSet, variables)
		case "directives":
			names := make([]string, 0, len(schema.Directives))
			for name := range schema.Directives {
				names = append(names, name)
			}
			sort.Strings(names)
			directives := []interface{}{}
			for _, name := range names {
				directives = append(directives, resolveDirective(schema, schema.Directives[name], f.SelectionSet, variables))
			}
			result[f.Alias] = directives
		case "description":
			result[f.Alias] = nil
		case typenameFieldName:
			result[f.Alias] = "__Schema"
		}
	}

	return result
}

func resolveRootType(schema *ast.Schema, def *ast.Definition, selectionSet ast.SelectionSet, variables map[string]interface{}) interface{} {
	if def == nil {
		return nil
	}
	return resolveType(schema, &ast.Type{NamedType: def.Name}, selectionSet, variables)
}

func resolveType(schema *ast.Schema, typ *ast.Type, selectionSet ast.SelectionSet, variables map[string]interface{}) interface{} {
	if typ == nil {
		return nil
	}

	result := make(map[string]interface{})

	// NON_NULL wraps LIST which wraps the named type, each level is exposed
	// through ofType
	if typ.NonNull {
		for _, f := range selectionSetToFields(selectionSet) {
			switch f.Name {
			case "kind":
				result[f.Alias] = "NON_NULL"
			case "ofType":
				result[f.Alias] = resolveType(schema, &ast.Type{
					NamedType: typ.NamedType,
					Elem:      typ.Elem,
				}, f.SelectionSet, variables)
			case typenameFieldName:
				result[f.Alias] = "__Type"
			default:
				result[f.Alias] = nil
			}
		}
		return result
	}

	if typ.Elem != nil {
		for _, f := range selectionSetToFields(selectionSet) {
			switch f.Name {
			case "kind":
				result[f.Alias] = "LIST"
			case "ofType":
				result[f.Alias] = resolveType(schema, typ.Elem, f.SelectionSet, variables)
			case typenameFieldName:
				result[f.Alias] = "__Type"
			default:
				result[f.Alias] = nil
			}
		}
		return result
	}

	namedType, ok := schema.Types[typ.NamedType]
	if !ok {
		return nil
	}
	for _, f := range selectionSetToFields(selectionSet) {
		switch f.Name {
		case "kind":
			result[f.Alias] = string(namedType.Kind)
		case "name":
			result[f.Alias] = namedType.Name
		case "description":
			result[f.Alias] = nullableString(namedType.Description)
		case "specifiedByURL":
			result[f.Alias] = nil
			if d := namedType.Directives.ForName("specifiedBy"); d != nil {
				if url := d.Arguments.ForName("url"); url != nil {
					result[f.Alias] = url.Value.Raw
				}
			}
		case "fields":
			if namedType.Kind != ast.Object && namedType.Kind != ast.Interface {
				result[f.Alias] = nil
				continue
			}
			includeDeprecated := includeDeprecatedArgument(f, variables)
			fields := []interface{}{}
			for _, fi := range namedType.Fields {
				if isGraphQLBuiltinName(fi.Name) {
					continue
				}
				if !includeDeprecated {
					if deprecated, _ := hasDeprecatedDirective(fi.Directives); deprecated {
						continue
					}
				}
				fields = append(fields, resolveField(schema, fi, f.SelectionSet, variables))
			}
			result[f.Alias] = fields
		case "interfaces":
			if namedType.Kind != ast.Object && namedType.Kind != ast.Interface {
				result[f.Alias] = nil
				continue
			}
			interfaces := []interface{}{}
			for _, i := range namedType.Interfaces {
				interfaces = append(interfaces, resolveType(schema, &ast.Type{NamedType: i}, f.SelectionSet, variables))
			}
			result[f.Alias] = interfaces
		case "possibleTypes":
			if namedType.Kind != ast.Interface && namedType.Kind != ast.Union {
				result[f.Alias] = nil
				continue
			}
			possible := append([]*ast.Definition(nil), schema.PossibleTypes[namedType.Name]...)
			sort.Slice(possible, func(i, j int) bool { return possible[i].Name < possible[j].Name })
			types := []interface{}{}
			for _, t := range possible {
				types = append(types, resolveType(schema, &ast.Type{NamedType: t.Name}, f.SelectionSet, variables))
			}
			result[f.Alias] = types
		case "enumValues":
			if namedType.Kind != ast.Enum {
				result[f.Alias] = nil
				continue
			}
			includeDeprecated := includeDeprecatedArgument(f, variables)
			enums := []interface{}{}
			for _, e := range namedType.EnumValues {
				if !includeDeprecated {
					if deprecated, _ := hasDeprecatedDirective(e.Directives); deprecated {
						continue
					}
				}
				enums = append(enums, resolveEnumValue(e, f.SelectionSet))
			}
			result[f.Alias] = enums
		case "inputFields":
			if namedType.Kind != ast.InputObject {
				result[f.Alias] = nil
				continue
			}
			inputFields := []interface{}{}
			for _, fi := range namedType.Fields {
				inputFields = append(inputFields, resolveInputField(schema, fi, f.SelectionSet, variables))
			}
			result[f.Alias] = inputFields
		case "ofType":
			result[f.Alias] = nil
		case "isOneOf":
			result[f.Alias] = namedType.Directives.ForName("oneOf") != nil
		case typenameFieldName:
			result[f.Alias] = "__Type"
		default:
			result[f.Alias] = nil
		}
	}

	return result
}

func includeDeprecatedArgument(f *ast.Field, variables map[string]interface{}) bool {
	arg := f.Arguments.ForName("includeDeprecated")
	if arg == nil {
		return false
	}
	v, err := arg.Value.Value(variables)
	if err != nil {
		return false
	}
	b, _ := v.(bool)
	return b
}

func resolveField(schema *ast.Schema, field *ast.FieldDefinition, selectionSet ast.SelectionSet, variables map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	deprecated, deprecatedReason := hasDeprecatedDirective(field.Directives)

	for _, f := range selectionSetToFields(selectionSet) {
		switch f.Name {
		case "name":
			result[f.Alias] = field.Name
		case "description":
			result[f.Alias] = nullableString(field.Description)
		case "args":
			args := []interface{}{}
			for _, arg := range field.Arguments {
				args = append(args, resolveInputValue(schema, arg, f.SelectionSet, variables))
			}
			result[f.Alias] = args
		case "type":
			result[f.Alias] = resolveType(schema, field.Type, f.SelectionSet, variables)
		case "isDeprecated":
			result[f.Alias] = deprecated
		case "deprecationReason":
			result[f.Alias] = deprecatedReason
		case typenameFieldName:
			result[f.Alias] = "__Field"
		}
	}

	return result
}

// resolveInputField exposes an input object field as an __InputValue.
func resolveInputField(schema *ast.Schema, field *ast.FieldDefinition, selectionSet ast.SelectionSet, variables map[string]interface{}) map[string]interface{} {
	return resolveInputValue(schema, &ast.ArgumentDefinition{
		Name:         field.Name,
		Description:  field.Description,
		DefaultValue: field.DefaultValue,
		Type:         field.Type,
		Directives:   field.Directives,
	}, selectionSet, variables)
}

func resolveInputValue(schema *ast.Schema, arg *ast.ArgumentDefinition, selectionSet ast.SelectionSet, variables map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	deprecated, deprecatedReason := hasDeprecatedDirective(arg.Directives)

	for _, f := range selectionSetToFields(selectionSet) {
		switch f.Name {
		case "name":
			result[f.Alias] = arg.Name
		case "description":
			result[f.Alias] = nullableString(arg.Description)
		case "type":
			result[f.Alias] = resolveType(schema, arg.Type, f.SelectionSet, variables)
		case "defaultValue":
			if arg.DefaultValue != nil {
				result[f.Alias] = arg.DefaultValue.String()
			} else {
				result[f.Alias] = nil
			}
		case "isDeprecated":
			result[f.Alias] = deprecated
		case "deprecationReason":
			result[f.Alias] = deprecatedReason
		case typenameFieldName:
			result[f.Alias] = "__InputValue"
		}
	}

	return result
}

func resolveEnumValue(enum *ast.EnumValueDefinition, selectionSet ast.SelectionSet) map[string]interface{} {
	result := make(map[string]interface{})

	deprecated, deprecatedReason := hasDeprecatedDirective(enum.Directives)

	for _, f := range selectionSetToFields(selectionSet) {
		switch f.Name {
		case "name":
			result[f.Alias] = enum.Name
		case "description":
			result[f.Alias] = nullableString(enum.Description)
		case "isDeprecated":
			result[f.Alias] = deprecated
		case "deprecationReason":
			result[f.Alias] = deprecatedReason
		case typenameFieldName:
			result[f.Alias] = "__EnumValue"
		}
	}

	return result
}

func resolveDirective(schema *ast.Schema, directive *ast.DirectiveDefinition, selectionSet ast.SelectionSet, variables map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{})

	for _, f := range selectionSetToFields(selectionSet) {
		switch f.Name {
		case "name":
			result[f.Alias] = directive.Name
		case "description":
			result[f.Alias] = nullableString(directive.Description)
		case "locations":
			locations := make([]interface{}, len(directive.Locations))
			for i, l := range directive.Locations {
				locations[i] = string(l)
			}
			result[f.Alias] = locations
		case "args":
			args := []interface{}{}
			for _, arg := range directive.Arguments {
				args = append(args, resolveInputValue(schema, arg, f.SelectionSet, variables))
			}
			result[f.Alias] = args
		case "isRepeatable":
			result[f.Alias] = directive.IsRepeatable
		case typenameFieldName:
			result[f.Alias] = "__Directive"
		}
	}

	return result
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func selectionSetToFields(selectionSet ast.SelectionSet) []*ast.Field {
	var result []*ast.Field
	for _, s := range selectionSet {
		switch s := s.(type) {
		case *ast.Field:
			result = append(result, s)
		case *ast.FragmentSpread:
			result = append(result, selectionSetToFields(s.Definition.SelectionSet)...)
		case *ast.InlineFragment:
			result = append(result, selectionSetToFields(s.SelectionSet)...)
		}
	}

	return result
}

func hasDeprecatedDirective(directives ast.DirectiveList) (bool, interface{}) {
	for _, d := range directives {
		if d.Name == "deprecated" {
			reason := "No longer supported"
			if reasonArg := d.Arguments.ForName("reason"); reasonArg != nil {
				reason = reasonArg.Value.Raw
			}
			return true, reason
		}
	}

	return false, nil
}
