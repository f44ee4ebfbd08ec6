// Package schema models the recursive column-type description that accompanies
// a query result and decides whether a result is worth rendering as a chart.
package schema

import (
	"sort"
	"strings"
)

// Kind is the type tag of a column.
type Kind string

// Column kinds reported by the query API.
const (
	KindString    Kind = "string"
	KindDouble    Kind = "double"
	KindLong      Kind = "long"
	KindBoolean   Kind = "boolean"
	KindTimestamp Kind = "timestamp"
	KindTimeframe Kind = "timeframe"
	KindDuration  Kind = "duration"
	KindIPAddress Kind = "ip_address"
	KindUID       Kind = "uid"
	KindBinary    Kind = "binary"
	KindArray     Kind = "array"
	KindRecord    Kind = "record"
	KindUndefined Kind = "undefined"
)

// ElementKey is the mapping name under which an array's element type is stored.
const ElementKey = "element"

// FieldType describes one column. Types is only populated for arrays and
// records: an array's element type lives under ElementKey of the first entry,
// a record's fields are the mappings of all entries.
type FieldType struct {
	Type  Kind               `json:"type"`
	Types []RangedFieldTypes `json:"types,omitempty"`
}

// RangedFieldTypes maps column names to types for a range of result rows.
// Ranges of sibling entries may overlap when a result mixes record shapes.
type RangedFieldTypes struct {
	IndexRange *[2]int              `json:"indexRange,omitempty"`
	Mappings   map[string]FieldType `json:"mappings"`
}

// Scalar builds a FieldType without nested types.
func Scalar(kind Kind) FieldType {
	return FieldType{Type: kind}
}

// ArrayOf builds an array FieldType with the given element type.
func ArrayOf(element FieldType) FieldType {
	return FieldType{
		Type:  KindArray,
		Types: []RangedFieldTypes{{Mappings: map[string]FieldType{ElementKey: element}}},
	}
}

// RecordOf builds a record FieldType with the given fields.
func RecordOf(fields map[string]FieldType) FieldType {
	return FieldType{
		Type:  KindRecord,
		Types: []RangedFieldTypes{{Mappings: fields}},
	}
}

// Element returns the element type of an array, if declared.
func (f FieldType) Element() (FieldType, bool) {
	if f.Type != KindArray || len(f.Types) == 0 {
		return FieldType{}, false
	}
	elem, ok := f.Types[0].Mappings[ElementKey]
	return elem, ok
}

// String renders the type in a compact form such as "array<double>".
func (f FieldType) String() string {
	switch f.Type {
	case KindArray:
		if elem, ok := f.Element(); ok {
			return "array<" + elem.String() + ">"
		}
		return string(KindArray)
	case KindRecord:
		names := make([]string, 0)
		for _, entry := range f.Types {
			for name, ft := range entry.Mappings {
				names = append(names, name+": "+ft.String())
			}
		}
		sort.Strings(names)
		return "record{" + strings.Join(names, ", ") + "}"
	default:
		if f.Type == "" {
			return string(KindUndefined)
		}
		return string(f.Type)
	}
}

// Column is a flattened top-level column with its rendered type.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// Columns lists the top-level columns across all entries, sorted by name.
// When the same name appears with different types the variants are joined with "|".
func Columns(types []RangedFieldTypes) []Column {
	variants := make(map[string][]string)
	for _, entry := range types {
		for name, ft := range entry.Mappings {
			rendered := ft.String()
			seen := false
			for _, v := range variants[name] {
				if v == rendered {
					seen = true
					break
				}
			}
			if !seen {
				variants[name] = append(variants[name], rendered)
			}
		}
	}

	columns := make([]Column, 0, len(variants))
	for name, vs := range variants {
		sort.Strings(vs)
		columns = append(columns, Column{Name: name, Type: strings.Join(vs, "|")})
	}
	sort.Slice(columns, func(i, j int) bool { return columns[i].Name < columns[j].Name })
	return columns
}
