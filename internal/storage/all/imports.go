// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) causes the init functions of each concrete storage backend to run,
// which in turn register their factories and DDL bootstrappers with the
// storage package.
//
// In other words, importing this package makes the following storage kinds
// available at runtime:
//
//   - "postgres" (salesetl/internal/storage/postgres)
//   - "sqlite"   (salesetl/internal/storage/sqlite)
//
// Typical usage (in cmd/salesetl or a similar wiring layer):
//
//	import _ "salesetl/internal/storage/all" // enable all built-in backends
//
//	store, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DB.DSN})
//	if err != nil {
//	    // handle error
//	}
//	defer store.Close()
//
//	if cfg.Storage.DB.AutoCreateSchema {
//	    if err := storage.EnsureSchema(ctx, cfg.Storage.Kind, store); err != nil {
//	        // handle DDL error
//	    }
//	}
//
// If you want a binary that supports only a subset of backends, import the
// required backend packages directly instead of this package.
package all

import (
	_ "salesetl/internal/storage/postgres"
	_ "salesetl/internal/storage/sqlite"
)
