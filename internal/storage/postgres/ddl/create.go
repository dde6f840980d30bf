package ddl

import (
	"context"
	"fmt"
	"strings"

	gddl "salesetl/internal/ddl"
)

// Dialect renders the generic model as Postgres DDL with double-quoted
// identifiers and IF NOT EXISTS on every statement.
var Dialect = gddl.Dialect{
	Name:        "postgres ddl",
	Quote:       quoteIdent,
	MapType:     MapType,
	IfNotExists: true,
}

// Execer runs a single statement.
type Execer interface {
	Exec(ctx context.Context, sql string) error
}

// BuildCreateTableSQL returns a Postgres CREATE TABLE IF NOT EXISTS statement
// for the given table definition.
func BuildCreateTableSQL(t gddl.TableDef) (string, error) {
	return Dialect.CreateTable(t)
}

// EnsureTable creates t and its indexes if they do not exist.
// It is idempotent and simply issues the statements via ex.Exec.
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
			return fmt.Errorf("postgres ddl: %w", err)
		}
	}
	return nil
}

// quoteIdent quotes a single identifier segment for Postgres, e.g.:
//
//	quoteIdent(`sku`)        => `"sku"`
//	quoteIdent(`weird"name`) => `"weird""name"`
func quoteIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
