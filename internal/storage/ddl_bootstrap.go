package storage

import (
	"context"
	"fmt"
	"sync"
)

// DDLBootstrapper is a backend-specific function that renders the warehouse
// tables in its dialect and applies them via s.Exec. It must be idempotent.
//
// Backends (postgres, sqlite) register their implementation for their storage
// kind at init time.
type DDLBootstrapper func(ctx context.Context, s Store) error

var (
	ddlMu  sync.RWMutex
	ddlFns = map[string]DDLBootstrapper{}
)

// RegisterDDL registers (or replaces) a DDLBootstrapper for the given storage
// kind. It is typically called from backend packages' init() functions.
func RegisterDDL(kind string, fn DDLBootstrapper) {
	ddlMu.Lock()
	defer ddlMu.Unlock()
	ddlFns[kind] = fn
}

// EnsureSchema locates the DDLBootstrapper for kind and invokes it. Callers do
// not need to know which backend they are using; they simply pass the kind and
// the already-open Store.
func EnsureSchema(ctx context.Context, kind string, s Store) error {
	ddlMu.RLock()
	fn, ok := ddlFns[kind]
	ddlMu.RUnlock()
	if !ok {
		return fmt.Errorf("no DDL bootstrapper registered for storage.kind=%q", kind)
	}
	return fn(ctx, s)
}
