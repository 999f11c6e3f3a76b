package orchestrator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// ValidateSchema checks that a service schema follows the conventions
// required to be composed by the gateway.
func ValidateSchema(schema *ast.Schema) error {
	if err := validateRootObjectNames(schema); err != nil {
		return err
	}
	if err := validateServiceQuery(schema); err != nil {
		return err
	}
	if err := validateServiceObject(schema); err != nil {
		return err
	}
	if err := validateResolverObjects(schema); err != nil {
		return err
	}
	if err := validatePlaceholderObjects(schema); err != nil {
		return err
	}
	if err := validateNamingConventions(schema); err != nil {
		return err
	}
	return nil
}

func validateServiceObject(schema *ast.Schema) error {
	for _, t := range schema.Types {
		if t.Name != serviceObjectName {
			continue
		}
		if t.Kind != ast.Object {
			return fmt.Errorf("the Service type must be an object")
		}
		if len(t.Fields) != 3 {
			return fmt.Errorf("the Service object should have exactly 3 fields")
		}
		for _, field := range t.Fields {
			switch field.Name {
			case "name", "version", "schema":
				if !isNonNullableTypeNamed(field.Type, "String") {
					return fmt.Errorf("the Service object should have a field called '%s' of type 'String!'", field.Name)
				}
			default:
				return fmt.Errorf("the Service object should not have a field called %s", field.Name)
			}
		}
		return nil
	}
	return fmt.Errorf("the Service object was not found")
}

func validateServiceQuery(schema *ast.Schema) error {
	if schema.Query == nil {
		return fmt.Errorf("the schema is missing a Query type")
	}
	for _, f := range schema.Query.Fields {
		if f.Name != serviceRootFieldName {
			continue
		}
		if len(f.Arguments) != 0 {
			return fmt.Errorf("the 'service' field of Query must take no arguments")
		}
		if !isNonNullableTypeNamed(f.Type, serviceObjectName) {
			return fmt.Errorf("the 'service' field of Query must be of type 'Service!'")
		}
		return nil
	}
	return fmt.Errorf("the Query type is missing the 'service' field")
}

func usesResolverDirective(schema *ast.Schema) bool {
	for _, t := range schema.Types {
		if t.Kind != ast.Object && t.Kind != ast.Interface {
			continue
		}
		for _, f := range t.Fields {
			if f.Directives.ForName(resolverDirectiveName) != nil {
				return true
			}
		}
	}
	return false
}

func validateResolverObjects(schema *ast.Schema) error {
	if !usesResolverDirective(schema) {
		return nil
	}
	if err := validateResolverDirective(schema); err != nil {
		return err
	}
	for _, t := range schema.Types {
		if t.Kind != ast.Object && t.Kind != ast.Interface {
			continue
		}
		for _, f := range t.Fields {
			d := f.Directives.ForName(resolverDirectiveName)
			if d == nil {
				continue
			}
			if t.Kind == ast.Interface {
				return fmt.Errorf("@resolver can not be used on interface field %s.%s", t.Name, f.Name)
			}
			if _, err := parseResolverDirective(d); err != nil {
				return fmt.Errorf("invalid @resolver on %s.%s: %w", t.Name, f.Name, err)
			}
		}
	}
	return nil
}

func validateResolverDirective(schema *ast.Schema) error {
	d, ok := schema.Directives[resolverDirectiveName]
	if !ok {
		return fmt.Errorf("@resolver directive not found")
	}
	if len(d.Locations) != 1 || d.Locations[0] != ast.LocationFieldDefinition {
		return fmt.Errorf("@resolver directive should have location FIELD_DEFINITION")
	}
	field := d.Arguments.ForName("field")
	if field == nil || !isNonNullableTypeNamed(field.Type, "String") {
		return fmt.Errorf("@resolver directive should have a 'field' argument of type 'String!'")
	}
	for _, a := range d.Arguments {
		switch a.Name {
		case "field", "service":
		case "arguments":
			if a.Type.Name() != resolverArgumentInputName {
				return fmt.Errorf("@resolver 'arguments' should be a list of %s", resolverArgumentInputName)
			}
			input, ok := schema.Types[resolverArgumentInputName]
			if !ok || input.Kind != ast.InputObject {
				return fmt.Errorf("the %s input type was not found", resolverArgumentInputName)
			}
			for _, n := range []string{"name", "value"} {
				if f := input.Fields.ForName(n); f == nil || !isNonNullableTypeNamed(f.Type, "String") {
					return fmt.Errorf("the %s input should have a field called '%s' of type 'String!'", resolverArgumentInputName, n)
				}
			}
		default:
			return fmt.Errorf("@resolver directive should not have an argument called %s", a.Name)
		}
	}
	return nil
}

func validatePlaceholderObjects(schema *ast.Schema) error {
	for _, t := range schema.Types {
		if t.Directives.ForName(placeholderDirectiveName) == nil {
			continue
		}
		if t.Kind != ast.Object {
			return fmt.Errorf("@%s can only be used on object types, %s is a %s", placeholderDirectiveName, t.Name, strings.ToLower(string(t.Kind)))
		}
		if _, ok := OperationForTypeName(t.Name); ok {
			return fmt.Errorf("@%s can not be used on the %s root type", placeholderDirectiveName, t.Name)
		}
	}
	return nil
}

func validateNamingConventions(schema *ast.Schema) error {
	for _, t := range schema.Types {
		if isGraphQLBuiltinName(t.Name) {
			continue
		}
		if t.Kind == ast.Object || t.Kind == ast.InputObject || t.Kind == ast.Interface {
			if !isPascalCase(t.Name) {
				return fmt.Errorf("type '%s' isn't PascalCase", t.Name)
			}

			for _, f := range t.Fields {
				if isGraphQLBuiltinName(f.Name) {
					continue
				}
				if strings.HasPrefix(f.Name, internalFieldPrefix) {
					return fmt.Errorf("field '%s.%s' uses the reserved prefix %s", t.Name, f.Name, internalFieldPrefix)
				}
				if !isCamelCase(f.Name) {
					return fmt.Errorf("field '%s.%s' isn't camelCase", t.Name, f.Name)
				}
				if t.Kind == ast.Object || t.Kind == ast.Interface {
					for _, a := range f.Arguments {
						if !isCamelCase(a.Name) {
							return fmt.Errorf("argument '%s' of field '%s.%s' isn't camelCase", a.Name, t.Name, f.Name)
						}
					}
				}
			}
		}
		if t.Kind == ast.Enum {
			if !isPascalCase(t.Name) {
				return fmt.Errorf("enum type '%s' isn't PascalCase", t.Name)
			}
			for _, v := range t.EnumValues {
				if !isAllCaps(v.Name) {
					return fmt.Errorf("enum value '%s.%s' isn't ALL_CAPS", t.Name, v.Name)
				}
			}
		}
		if t.Kind == ast.Union {
			if !isPascalCase(t.Name) {
				return fmt.Errorf("union type '%s' isn't PascalCase", t.Name)
			}
		}
	}
	return nil
}

func validateRootObjectNames(schema *ast.Schema) error {
	if q := schema.Query; q != nil && q.Name != queryObjectName {
		return fmt.Errorf("the schema Query type can not be renamed to %s", q.Name)
	}
	if m := schema.Mutation; m != nil && m.Name != mutationObjectName {
		return fmt.Errorf("the schema Mutation type can not be renamed to %s", m.Name)
	}
	if s := schema.Subscription; s != nil && s.Name != subscriptionObjectName {
		return fmt.Errorf("the schema Subscription type can not be renamed to %s", s.Name)
	}
	return nil
}

func isNonNullableTypeNamed(t *ast.Type, typename string) bool {
	return t.Name() == typename && t.NonNull && t.Elem == nil
}

var camelCaseRegexp = regexp.MustCompile(`^[a-z][A-Za-z0-9]*$`)

func isCamelCase(s string) bool {
	return camelCaseRegexp.MatchString(s)
}

var allCapsRegexp = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

func isAllCaps(s string) bool {
	return allCapsRegexp.MatchString(s)
}

var pascalCaseRegexp = regexp.MustCompile(`^[A-Z][A-Za-z0-9]*$`)

func isPascalCase(s string) bool {
	return pascalCaseRegexp.MatchString(s)
}
