package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

func indentPrefix(sb *strings.Builder, level int, suffix ...string) {
	sb.WriteString("\n")
	for i := 0; i <= level; i++ {
		sb.WriteString("  ")
	}
	for _, str := range suffix {
		sb.WriteString(str)
	}
}

func formatSelectionSelectionSet(sb *strings.Builder, schema *ast.Schema, vars map[string]interface{}, level int, selectionSet ast.SelectionSet) {
	sb.WriteString(" {")
	formatSelection(sb, schema, vars, level+1, selectionSet)
	indentPrefix(sb, level, "}")
}

// formatSelection writes the selection set. Fragment spreads are written as
// inline fragments so that the result does not need fragment definitions.
func formatSelection(sb *strings.Builder, schema *ast.Schema, vars map[string]interface{}, level int, selectionSet ast.SelectionSet) {
	for _, selection := range selectionSet {
		indentPrefix(sb, level)
		switch selection := selection.(type) {
		case *ast.Field:
			if selection.Alias != "" && selection.Alias != selection.Name {
				sb.WriteString(selection.Alias)
				sb.WriteString(": ")
			}
			sb.WriteString(selection.Name)
			formatArgumentList(sb, schema, vars, selection.Arguments)
			formatDirectives(sb, schema, vars, selection.Directives)
			if len(selection.SelectionSet) > 0 {
				formatSelectionSelectionSet(sb, schema, vars, level, selection.SelectionSet)
			}
		case *ast.InlineFragment:
			sb.WriteString("...")
			if selection.TypeCondition != "" {
				fmt.Fprintf(sb, " on %s", selection.TypeCondition)
			}
			formatDirectives(sb, schema, vars, selection.Directives)
			formatSelectionSelectionSet(sb, schema, vars, level, selection.SelectionSet)
		case *ast.FragmentSpread:
			fmt.Fprintf(sb, "... on %s", selection.Definition.TypeCondition)
			formatDirectives(sb, schema, vars, selection.Directives)
			formatSelectionSelectionSet(sb, schema, vars, level, selection.Definition.SelectionSet)
		}
	}
}

func formatDirectives(sb *strings.Builder, schema *ast.Schema, vars map[string]interface{}, directives ast.DirectiveList) {
	for _, d := range directives {
		sb.WriteString(" @")
		sb.WriteString(d.Name)
		formatArgumentList(sb, schema, vars, d.Arguments)
	}
}

func formatArgumentList(sb *strings.Builder, schema *ast.Schema, vars map[string]interface{}, args ast.ArgumentList) {
	if len(args) > 0 {
		sb.WriteString("(")
		for i, arg := range args {
			if i != 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(sb, "%s: %s", arg.Name, formatArgument(schema, arg.Value, vars))
		}
		sb.WriteString(")")
	}
}

// formatSelectionSet returns the selection set as a document body, with
// variables replaced by their value.
func formatSelectionSet(schema *ast.Schema, vars map[string]interface{}, selection ast.SelectionSet) string {
	sb := strings.Builder{}

	sb.WriteString("{")
	formatSelection(&sb, schema, vars, 0, selection)
	sb.WriteString("\n}")

	return sb.String()
}

var multipleSpacesRegex = regexp.MustCompile(`\s+`)

func formatSelectionSetSingleLine(schema *ast.Schema, vars map[string]interface{}, selection ast.SelectionSet) string {
	if len(selection) == 0 {
		return ""
	}
	return multipleSpacesRegex.ReplaceAllString(formatSelectionSet(schema, vars, selection), " ")
}

// formatDocument returns a complete operation document.
func formatDocument(op Operation, operationName string, schema *ast.Schema, vars map[string]interface{}, selection ast.SelectionSet) string {
	keyword := "query"
	if op == OperationMutation {
		keyword = "mutation"
	}
	if operationName != "" {
		keyword += " " + operationName
	}
	return keyword + " " + formatSelectionSet(schema, vars, selection)
}

func formatArgument(schema *ast.Schema, v *ast.Value, vars map[string]interface{}) string {
	if schema == nil {
		// without a schema variables can't be expanded
		return v.String()
	}

	// this is a mix between v.String() and v.Raw(vars) as we need a string value with variables replaced

	if v == nil {
		return "<nil>"
	}
	switch v.Kind {
	case ast.Variable:
		return expandAndFormatVariable(schema, schema.Types[v.ExpectedType.Name()], vars[v.Raw])
	case ast.IntValue, ast.FloatValue, ast.EnumValue, ast.BooleanValue, ast.NullValue:
		return v.Raw
	case ast.StringValue, ast.BlockValue:
		return strconv.Quote(v.Raw)
	case ast.ListValue:
		var val []string
		for _, elem := range v.Children {
			val = append(val, formatArgument(schema, elem.Value, vars))
		}
		return "[" + strings.Join(val, ",") + "]"
	case ast.ObjectValue:
		var val []string
		for _, elem := range v.Children {
			val = append(val, elem.Name+":"+formatArgument(schema, elem.Value, vars))
		}
		return "{" + strings.Join(val, ",") + "}"
	default:
		panic(fmt.Errorf("unknown value kind %d", v.Kind))
	}
}

func expandAndFormatVariable(schema *ast.Schema, objectType *ast.Definition, v interface{}) string {
	if v == nil {
		return "null"
	}
	if objectType == nil {
		b, _ := json.Marshal(v)
		return string(b)
	}

	switch objectType.Kind {
	case ast.Scalar:
		b, _ := json.Marshal(v)
		return string(b)
	case ast.Enum:
		return fmt.Sprint(v)
	case ast.Object, ast.InputObject, ast.Interface, ast.Union:
		switch v := v.(type) {
		case map[string]interface{}:
			var fields []string
			for _, f := range objectType.Fields {
				value, ok := v[f.Name]
				if !ok {
					continue
				}

				// if it's a list we call recursively on every element
				if f.Type.Elem != nil && value != nil {
					if reflect.TypeOf(value).Kind() != reflect.Slice {
						fields = append(fields, fmt.Sprintf("%s: %s", f.Name, expandAndFormatVariable(schema, schema.Types[f.Type.Name()], value)))
						continue
					}
					s := reflect.ValueOf(value)
					elems := make([]string, 0, s.Len())
					for i := 0; i < s.Len(); i++ {
						elems = append(elems, expandAndFormatVariable(schema, schema.Types[f.Type.Name()], s.Index(i).Interface()))
					}
					fields = append(fields, fmt.Sprintf("%s: [%s]", f.Name, strings.Join(elems, ", ")))
					continue
				}

				fields = append(fields, fmt.Sprintf("%s: %s", f.Name, expandAndFormatVariable(schema, schema.Types[f.Type.Name()], value)))
			}
			return "{" + strings.Join(fields, " ") + "}"
		case []interface{}:
			var val []string
			for _, elem := range v {
				val = append(val, expandAndFormatVariable(schema, objectType, elem))
			}
			return "[" + strings.Join(val, ",") + "]"
		default:
			panic("unknown type " + reflect.TypeOf(v).String())
		}
	}

	return ""
}

// formatValue formats a value read from a response as a literal of type t.
func formatValue(schema *ast.Schema, t *ast.Type, v interface{}) string {
	if v == nil {
		return "null"
	}
	if t.Elem != nil {
		items, ok := v.([]interface{})
		if !ok {
			return formatValue(schema, t.Elem, v)
		}
		val := make([]string, len(items))
		for i, item := range items {
			val[i] = formatValue(schema, t.Elem, item)
		}
		return "[" + strings.Join(val, ",") + "]"
	}

	switch t.Name() {
	case "ID", "String":
		switch v := v.(type) {
		case string:
			return strconv.Quote(v)
		case float64:
			return strconv.Quote(strconv.FormatFloat(v, 'f', -1, 64))
		case json.Number:
			return strconv.Quote(v.String())
		default:
			return strconv.Quote(fmt.Sprint(v))
		}
	case "Int", "Float":
		switch v := v.(type) {
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case string:
			return v
		}
	}

	return expandAndFormatVariable(schema, schema.Types[t.Name()], v)
}

// formatLiteral formats a constant written in a @resolver directive as a
// literal of type t.
func formatLiteral(schema *ast.Schema, t *ast.Type, raw string) string {
	if t.Elem == nil {
		switch t.Name() {
		case "Int", "Float", "Boolean":
			return raw
		}
		if def := schema.Types[t.Name()]; def != nil && def.Kind == ast.Enum {
			return raw
		}
		return strconv.Quote(raw)
	}
	return raw
}

func formatSchema(schema *ast.Schema) string {
	buf := bytes.NewBufferString("")
	f := formatter.NewFormatter(buf)
	f.FormatSchema(schema)
	return buf.String()
}
