// Package postgres provides a Postgres-backed storage.Store implementation.
// This adapter wires the Postgres backend into the storage-agnostic factory by
// registering a constructor at init time. The CLI (cmd/salesetl) and other
// callers can then obtain a Store via storage.New(...) without importing this
// package directly.
//
// The adapter also registers a DDL bootstrapper so that callers can provision
// the warehouse based only on storage.Kind, without branching on the backend
// themselves.
package postgres

import (
	"context"
	"fmt"

	"salesetl/internal/storage"
	pgddl "salesetl/internal/storage/postgres/ddl"
)

// newRepository is a test hook that points to NewRepository by default.
// Tests may replace this variable to avoid real DB connections.
var newRepository = NewRepository

// wrappedRepo implements storage.Store by delegating to the concrete
// *postgres.Repository while providing a Close method that calls the close
// function returned by NewRepository.
type wrappedRepo struct {
	*Repository
	closeFn func()
}

// Ensure wrappedRepo satisfies storage.Store at compile time.
var _ storage.Store = (*wrappedRepo)(nil)

// Close implements storage.Store.Close.
func (w *wrappedRepo) Close() {
	if w.closeFn != nil {
		w.closeFn()
	}
}

// init registers the "postgres" backend with the storage factory and also
// registers a DDL bootstrapper for storage.Kind == "postgres".
//
// Typical usage:
//
//	store, err := storage.New(ctx, storage.Config{Kind: "postgres", DSN: dsn})
//	defer store.Close()
//
//	if err := storage.EnsureSchema(ctx, "postgres", store); err != nil {
//	    // handle DDL error
//	}
func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		r, closeFn, err := newRepository(ctx, Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
		if err != nil {
			return nil, err
		}
		return &wrappedRepo{Repository: r, closeFn: closeFn}, nil
	})

	storage.RegisterDDL("postgres", func(ctx context.Context, s storage.Store) error {
		if err := pgddl.EnsureWarehouse(ctx, s); err != nil {
			return fmt.Errorf("apply DDL: %w", err)
		}
		return nil
	})
}
