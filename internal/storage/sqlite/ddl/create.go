package ddl

import (
	"context"
	"fmt"
	"strings"

	gddl "salesetl/internal/ddl"
)

// Dialect renders the generic model as SQLite DDL:
//   - Uses simple double-quoted identifiers: "table", "col".
//   - Emits CREATE TABLE / CREATE INDEX IF NOT EXISTS.
//   - Treats ColumnDef.Default as raw SQL.
//   - Renders PRIMARY KEY as a separate table constraint; a single INTEGER
//     primary key is a rowid alias and therefore auto-assigned.
var Dialect = gddl.Dialect{
	Name:        "sqlite ddl",
	Quote:       quoteIdent,
	MapType:     MapType,
	IfNotExists: true,
}

// Execer runs a single statement.
type Execer interface {
	Exec(ctx context.Context, sql string) error
}

// BuildCreateTableSQL returns a SQLite CREATE TABLE statement for the given
// table definition. The statement has the form:
//
//	CREATE TABLE IF NOT EXISTS "table" (
//	  "col1" TYPE [NOT NULL] [DEFAULT expr],
//	  "col2" TYPE,
//	  PRIMARY KEY ("pk1", "pk2")
//	);
func BuildCreateTableSQL(t gddl.TableDef) (string, error) {
	return Dialect.CreateTable(t)
}

// EnsureTable creates t and its indexes if they do not exist.
func EnsureTable(ctx context.Context, ex Execer, t gddl.TableDef) error {
	stmts, err := Dialect.Statements([]gddl.TableDef{t})
	if err != nil {
		return err
	}
	return execAll(ctx, ex, stmts)
}

// EnsureWarehouse creates every warehouse table and index if missing.
func EnsureWarehouse(ctx context.Context, ex Execer) error {
	stmts, err := Dialect.Statements(gddl.Warehouse())
	if err != nil {
		return err
	}
	return execAll(ctx, ex, stmts)
}

func execAll(ctx context.Context, ex Execer, stmts []string) error {
	for _, s := range stmts {
		if err := ex.Exec(ctx, s); err != nil {
			return fmt.Errorf("sqlite ddl: %w", err)
		}
	}
	return nil
}

func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
