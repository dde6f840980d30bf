// Package ddl contains Postgres-specific helpers for generating DDL.
package ddl

import "strings"

// MapType normalizes a logical column kind into a Postgres SQL type.
//
//	"serial"             -> BIGSERIAL
//	"int"/"integer"      -> BIGINT
//	"bigint"             -> BIGINT
//	"money"              -> NUMERIC(12,2)
//	"numeric"            -> NUMERIC
//	"bool"/"boolean"     -> BOOLEAN
//	"date"               -> DATE
//	"timestamp"/"timestamptz" -> TIMESTAMPTZ
//	"json"/"jsonb"       -> JSONB
//	everything else      -> TEXT
func MapType(kind string) string {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "serial", "bigserial":
		return "BIGSERIAL"
	case "int", "integer":
		return "BIGINT"
	case "bigint":
		return "BIGINT"
	case "money":
		return "NUMERIC(12,2)"
	case "numeric", "decimal":
		return "NUMERIC"
	case "bool", "boolean":
		return "BOOLEAN"
	case "date":
		return "DATE"
	case "timestamp", "timestamptz":
		return "TIMESTAMPTZ"
	case "json", "jsonb":
		return "JSONB"
	default:
		return "TEXT"
	}
}
