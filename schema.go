package orchestrator

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

const (
	serviceObjectName    = "Service"
	serviceRootFieldName = "service"

	resolverDirectiveName      = "resolver"
	resolverArgumentInputName  = "ResolverArgument"
	placeholderDirectiveName   = "extends"
	typenameFieldName          = "__typename"
	schemaFieldName            = "__schema"
	typeFieldName              = "__type"
	internalServiceName        = "__orchestrator"
	internalFieldPrefix        = "_orch_"
	injectedTypenameFieldAlias = internalFieldPrefix + "_typename"
)

func isGraphQLBuiltinName(s string) bool {
	return strings.HasPrefix(s, "__")
}

func isBuiltinDefinition(def *ast.Definition) bool {
	return def.BuiltIn || isGraphQLBuiltinName(def.Name)
}

func isBuiltinDirective(d *ast.DirectiveDefinition) bool {
	if d.Position != nil && d.Position.Src != nil && d.Position.Src.BuiltIn {
		return true
	}
	switch d.Name {
	case "include", "skip", "deprecated", "specifiedBy", "oneOf", "defer":
		return true
	}
	return false
}

// isPlaceholder reports whether the definition only stands in for a type
// owned by another service.
func isPlaceholder(def *ast.Definition) bool {
	return def.Directives.ForName(placeholderDirectiveName) != nil
}

func injectedFieldAlias(name string) string {
	return internalFieldPrefix + name
}

func isInjectedField(alias string) bool {
	return strings.HasPrefix(alias, internalFieldPrefix)
}

// listDepth returns how many list wrappers surround the named type.
func listDepth(t *ast.Type) int {
	depth := 0
	for t != nil && t.Elem != nil {
		depth++
		t = t.Elem
	}
	return depth
}

func isAbstract(def *ast.Definition) bool {
	return def != nil && (def.Kind == ast.Interface || def.Kind == ast.Union)
}
