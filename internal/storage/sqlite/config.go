package sqlite

import (
	"strings"
)

// Config holds SQLite repository configuration derived from storage.Config.
type Config struct {
	// DSN is a SQLite connection string or file path, e.g.:
	//   "file:warehouse.db"
	//   "warehouse.db" (interpreted by the driver)
	DSN string
}

// defaultParams are appended to the DSN unless the caller already set them.
// Writers take the database lock at BEGIN (IMMEDIATE) so two runs never both
// observe "no current version" for the same natural key.
var defaultParams = []struct{ key, value string }{
	{"_txlock", "immediate"},
	{"_pragma", "busy_timeout(5000)"},
	{"_pragma", "foreign_keys(1)"},
}

// connString returns cfg.DSN with defaultParams merged in.
func (c Config) connString() string {
	dsn := strings.TrimSpace(c.DSN)
	var add []string
	for _, p := range defaultParams {
		needle := p.key + "="
		if p.key == "_pragma" {
			needle += strings.SplitN(p.value, "(", 2)[0]
		}
		if strings.Contains(dsn, needle) {
			continue
		}
		add = append(add, p.key+"="+p.value)
	}
	if len(add) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	return dsn + sep + strings.Join(add, "&")
}
