// Package ddl contains SQLite-specific helpers for generating DDL.
//
// It maps the logical column kinds of the warehouse model into SQLite column
// types. The mapping is intentionally simple and biased toward canonical
// affinities.
package ddl

import "strings"

// MapType maps a logical type string (e.g., "int", "bool", "date") into a
// SQLite column type.
//
// SQLite supports dynamic typing, so this mapping prefers canonical affinities:
//   - integer-ish types -> INTEGER (serial becomes a rowid alias via PRIMARY KEY)
//   - boolean          -> INTEGER (0/1)
//   - money/numeric    -> NUMERIC
//   - date/time        -> TEXT ("2006-01-02 15:04:05" / "2006-01-02")
//   - json             -> TEXT
//   - others           -> TEXT
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "serial", "int", "integer", "bigint":
		return "INTEGER"
	case "bool", "boolean":
		return "INTEGER" // 0/1
	case "float", "double", "real":
		return "REAL"
	case "numeric", "decimal", "money":
		return "NUMERIC"
	case "date", "timestamp", "datetime", "timestamptz":
		return "TEXT"
	case "blob", "bytes":
		return "BLOB"
	default:
		return "TEXT"
	}
}
