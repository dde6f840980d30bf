package ddl

// Logical column kinds. Backends map them to concrete SQL types.
const (
	KindSerial    = "serial"
	KindBigInt    = "bigint"
	KindInt       = "int"
	KindText      = "text"
	KindMoney     = "money"
	KindNumeric   = "numeric"
	KindBool      = "bool"
	KindDate      = "date"
	KindTimestamp = "timestamp"
	KindJSON      = "json"
)

// ColumnDef describes a single column in a table definition.
//
// Fields:
//   - Name: logical column name (unquoted; quoting/escaping happens at render time)
//   - Kind: logical type (KindSerial, KindText, ...); backends map it to SQLType
//   - SQLType: concrete SQL type; when set it wins over Kind
//   - Nullable: whether NULL is allowed
//   - PrimaryKey: whether the column is part of the primary key
//   - Unique: single-column UNIQUE constraint
//   - Default: raw default expression (e.g., 'anon', CURRENT_TIMESTAMP)
type ColumnDef struct {
	Name       string
	Kind       string
	SQLType    string
	Nullable   bool
	PrimaryKey bool
	Unique     bool
	Default    string
}

// IndexDef is a secondary index. Where, when set, makes it a partial index.
type IndexDef struct {
	Name    string
	Columns []string
	Unique  bool
	Where   string
}

// TableDef holds the fully-qualified table name (FQN), an ordered list of
// columns and its secondary indexes.
type TableDef struct {
	FQN     string
	Columns []ColumnDef
	Indexes []IndexDef
}

// TypeMapper resolves a logical kind into a backend SQL type.
type TypeMapper func(kind string) string

// Resolve returns a copy of t with every empty SQLType filled in from its
// Kind. Columns without a Kind are left untouched.
func (t TableDef) Resolve(mapType TypeMapper) TableDef {
	out := t
	out.Columns = make([]ColumnDef, len(t.Columns))
	for i, c := range t.Columns {
		if c.SQLType == "" && c.Kind != "" {
			c.SQLType = mapType(c.Kind)
		}
		out.Columns[i] = c
	}
	return out
}
