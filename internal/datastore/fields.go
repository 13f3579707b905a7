package datastore

import (
	"github.com/catalogd/tabload/internal/detect"
)

// Column is one column of an existing resource table as the storage engine
// reports it.
type Column struct {
	Name string
	Type detect.FieldType
}

var sqlTypeByField = map[detect.FieldType]string{
	detect.TypeBool:      "boolean",
	detect.TypeInteger:   "bigint",
	detect.TypeDecimal:   "numeric",
	detect.TypeFloat:     "double precision",
	detect.TypeTimestamp: "timestamp without time zone",
	detect.TypeBinary:    "bytea",
	detect.TypeText:      "text",
}

var fieldBySQLType = map[string]detect.FieldType{
	"boolean":                     detect.TypeBool,
	"bigint":                      detect.TypeInteger,
	"integer":                     detect.TypeInteger,
	"numeric":                     detect.TypeDecimal,
	"double precision":            detect.TypeFloat,
	"real":                        detect.TypeFloat,
	"timestamp without time zone": detect.TypeTimestamp,
	"timestamp with time zone":    detect.TypeTimestamp,
	"bytea":                       detect.TypeBinary,
	"text":                        detect.TypeText,
}

// SQLType maps a field type to its storage engine column type.
func SQLType(t detect.FieldType) string {
	if s, ok := sqlTypeByField[t]; ok {
		return s
	}
	return "text"
}

// FieldsMatch reports whether the inferred field list is schema-equivalent
// to the existing table's columns. Reserved internal columns are ignored and
// order is disregarded: a match means the table can be truncated and
// reloaded in place.
func FieldsMatch(inferred []detect.Field, existing []Column) bool {
	want := map[string]detect.FieldType{}
	for _, f := range inferred {
		want[f.ID] = f.Type
	}

	have := map[string]detect.FieldType{}
	for _, c := range existing {
		if c.Name == ColumnRowID || c.Name == ColumnFullText {
			continue
		}
		have[c.Name] = c.Type
	}

	if len(want) != len(have) {
		return false
	}
	for name, t := range want {
		if have[name] != t {
			return false
		}
	}
	return true
}
