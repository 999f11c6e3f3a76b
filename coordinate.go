package orchestrator

import (
	"fmt"
	"sort"
	"strings"
)

// FieldCoordinate identifies a field by its owning type and name.
type FieldCoordinate struct {
	TypeName  string
	FieldName string
}

// NewFieldCoordinate returns the coordinate for typeName.fieldName.
func NewFieldCoordinate(typeName, fieldName string) FieldCoordinate {
	return FieldCoordinate{TypeName: typeName, FieldName: fieldName}
}

// ParseFieldCoordinate parses a coordinate in the "Type.field" form.
func ParseFieldCoordinate(s string) (FieldCoordinate, error) {
	typeName, fieldName, ok := strings.Cut(s, ".")
	if !ok || typeName == "" || fieldName == "" || strings.Contains(fieldName, ".") {
		return FieldCoordinate{}, fmt.Errorf("invalid field coordinate %q", s)
	}
	return NewFieldCoordinate(typeName, fieldName), nil
}

func (c FieldCoordinate) String() string {
	return c.TypeName + "." + c.FieldName
}

func sortCoordinates(coords []FieldCoordinate) {
	sort.Slice(coords, func(i, j int) bool {
		if coords[i].TypeName != coords[j].TypeName {
			return coords[i].TypeName < coords[j].TypeName
		}
		return coords[i].FieldName < coords[j].FieldName
	})
}
