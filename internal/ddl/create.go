// Package ddl defines a small, backend-agnostic model for SQL DDL and helpers
// to render CREATE TABLE / CREATE INDEX statements from that model.
//
// The zero Dialect renders plain SQL: identifiers are emitted as-is and no
// IF NOT EXISTS clause is added. Backend packages (internal/storage/postgres/ddl,
// internal/storage/sqlite/ddl) supply a Dialect with their own quoting and type
// mapping and render the warehouse tables declared in warehouse.go.
package ddl

import (
	"fmt"
	"strings"
)

// Dialect controls how a TableDef is rendered.
type Dialect struct {
	// Name prefixes error messages (e.g. "postgres ddl").
	Name string
	// Quote quotes an identifier; nil leaves identifiers untouched.
	Quote func(string) string
	// MapType fills SQLType from Kind; nil requires SQLType on every column.
	MapType TypeMapper
	// IfNotExists adds IF NOT EXISTS to every statement.
	IfNotExists bool
}

func (d Dialect) quote(id string) string {
	if d.Quote == nil {
		return id
	}
	parts := strings.Split(id, ".")
	for i, p := range parts {
		parts[i] = d.Quote(strings.TrimSpace(p))
	}
	return strings.Join(parts, ".")
}

func (d Dialect) errPrefix() string {
	if d.Name == "" {
		return "ddl"
	}
	return d.Name
}

func (d Dialect) ifNotExists() string {
	if d.IfNotExists {
		return "IF NOT EXISTS "
	}
	return ""
}

// BuildCreateTableSQL renders a generic CREATE TABLE statement from a TableDef
// using the zero Dialect.
//
// Rules:
//
//   - t.FQN must be non-empty; it is emitted verbatim as the table name.
//
//   - Each column must have a non-empty Name and SQLType.
//
//   - A column is rendered as:
//
//     <Name> <SQLType> [NOT NULL] [UNIQUE] [DEFAULT <Default>]
//
//     where NOT NULL is added when Nullable == false.
//
//   - Columns with PrimaryKey == true are collected and rendered as a separate
//     PRIMARY KEY (<col1>, <col2>, ...) clause at the end of the column list.
func BuildCreateTableSQL(t TableDef) (string, error) {
	return Dialect{}.CreateTable(t)
}

// CreateTable renders the CREATE TABLE statement of t in dialect d.
func (d Dialect) CreateTable(t TableDef) (string, error) {
	fqn := strings.TrimSpace(t.FQN)
	if fqn == "" {
		return "", fmt.Errorf("%s: table FQN must not be empty", d.errPrefix())
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("%s: at least one column is required", d.errPrefix())
	}
	if d.MapType != nil {
		t = t.Resolve(d.MapType)
	}

	cols := make([]string, 0, len(t.Columns)+1)
	pks := make([]string, 0, len(t.Columns))

	for _, c := range t.Columns {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return "", fmt.Errorf("%s: column with empty name in table %s", d.errPrefix(), fqn)
		}
		typ := strings.TrimSpace(c.SQLType)
		if typ == "" {
			return "", fmt.Errorf("%s: column %s missing SQLType", d.errPrefix(), name)
		}

		var sb strings.Builder
		sb.WriteString(d.quote(name))
		sb.WriteByte(' ')
		sb.WriteString(typ)

		if !c.Nullable {
			sb.WriteString(" NOT NULL")
		}
		if c.Unique {
			sb.WriteString(" UNIQUE")
		}
		if def := strings.TrimSpace(c.Default); def != "" {
			sb.WriteString(" DEFAULT ")
			// Default is emitted as raw SQL expression.
			sb.WriteString(def)
		}

		cols = append(cols, sb.String())

		if c.PrimaryKey {
			pks = append(pks, d.quote(name))
		}
	}

	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	return fmt.Sprintf(
		"CREATE TABLE %s%s (\n  %s\n);",
		d.ifNotExists(),
		d.quote(fqn),
		strings.Join(cols, ",\n  "),
	), nil
}

// CreateIndex renders one CREATE [UNIQUE] INDEX statement on table fqn.
func (d Dialect) CreateIndex(fqn string, idx IndexDef) (string, error) {
	if strings.TrimSpace(idx.Name) == "" {
		return "", fmt.Errorf("%s: index on %s has no name", d.errPrefix(), fqn)
	}
	if len(idx.Columns) == 0 {
		return "", fmt.Errorf("%s: index %s has no columns", d.errPrefix(), idx.Name)
	}
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = d.quote(c)
	}

	var sb strings.Builder
	sb.WriteString("CREATE ")
	if idx.Unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	sb.WriteString(d.ifNotExists())
	sb.WriteString(d.quote(idx.Name))
	sb.WriteString(" ON ")
	sb.WriteString(d.quote(strings.TrimSpace(fqn)))
	sb.WriteString(" (")
	sb.WriteString(strings.Join(cols, ", "))
	sb.WriteByte(')')
	if w := strings.TrimSpace(idx.Where); w != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(w)
	}
	sb.WriteByte(';')
	return sb.String(), nil
}

// Statements renders every table of tables followed by its indexes.
func (d Dialect) Statements(tables []TableDef) ([]string, error) {
	var out []string
	for _, t := range tables {
		stmt, err := d.CreateTable(t)
		if err != nil {
			return nil, err
		}
		out = append(out, stmt)
		for _, idx := range t.Indexes {
			s, err := d.CreateIndex(t.FQN, idx)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
	}
	return out, nil
}
