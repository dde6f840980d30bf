// Package dimension maintains the slowly-changing (type 2) dimensions of the
// sales warehouse and the calendar dimension.
//
// Every version of an entity is a row; at most one row per natural key is
// current, and the [valid_from, valid_to) intervals of a key are contiguous.
// Writers serialize on the natural key for the lifetime of the enclosing
// transaction.
package dimension

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"salesetl/internal/schema"
	"salesetl/internal/storage"
)

// Outcome reports what Upsert did.
type Outcome int

const (
	// Unchanged reused the current version.
	Unchanged Outcome = iota
	// Created inserted the first version of a key.
	Created
	// Versioned closed the current version and opened a new one.
	Versioned
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Versioned:
		return "versioned"
	default:
		return "unchanged"
	}
}

// numericTolerance absorbs decimal round-trips (NUMERIC(12,2) vs REAL).
const numericTolerance = 0.005

// Manager resolves and versions dimension rows. It holds no per-run state.
type Manager struct {
	now func() time.Time
}

// NewManager returns a Manager stamping versions with the wall clock.
func NewManager() *Manager { return &Manager{now: time.Now} }

// clock truncates to the second: timestamps are persisted at that precision.
func (m *Manager) clock() time.Time { return m.now().UTC().Truncate(time.Second) }

// ResolveCurrent returns the current version of key, or nil.
func (m *Manager) ResolveCurrent(ctx context.Context, r storage.DimensionReader, table schema.DimensionTable, key string) (*schema.DimensionRecord, error) {
	if key == "" {
		return nil, nil
	}
	rec, err := r.CurrentDimension(ctx, table, key)
	if err != nil {
		return nil, fmt.Errorf("resolve %s %q: %w", table.Name, key, err)
	}
	return rec, nil
}

// ResolveAt returns the version of key effective at the instant at, or nil.
func (m *Manager) ResolveAt(ctx context.Context, r storage.DimensionReader, table schema.DimensionTable, key string, at time.Time) (*schema.DimensionRecord, error) {
	if key == "" {
		return nil, nil
	}
	rec, err := r.DimensionAt(ctx, table, key, at.UTC())
	if err != nil {
		return nil, fmt.Errorf("resolve %s %q at %s: %w", table.Name, key, at.UTC().Format(schema.TimestampLayout), err)
	}
	return rec, nil
}

// Upsert makes attrs the current version of key inside tx:
//   - no current version: insert one (Created)
//   - all tracked attributes equal: return it untouched (Unchanged)
//   - otherwise: close it at now and insert a new current version (Versioned)
//
// Attributes not listed in table.Attributes are ignored. An empty key
// resolves to nil without touching the store.
func (m *Manager) Upsert(ctx context.Context, tx storage.DimensionWriter, table schema.DimensionTable, key string, attrs map[string]string) (*schema.DimensionRecord, Outcome, error) {
	if key == "" {
		return nil, Unchanged, nil
	}
	if err := tx.LockDimensionKey(ctx, table, key); err != nil {
		return nil, Unchanged, fmt.Errorf("lock %s %q: %w", table.Name, key, err)
	}
	cur, err := tx.CurrentDimension(ctx, table, key)
	if err != nil {
		return nil, Unchanged, fmt.Errorf("current %s %q: %w", table.Name, key, err)
	}
	if cur != nil && SameAttributes(table, cur.Attributes, attrs) {
		return cur, Unchanged, nil
	}

	now := m.clock()
	outcome := Created
	if cur != nil {
		if now.Before(cur.ValidFrom) {
			now = cur.ValidFrom
		}
		if err := tx.CloseDimension(ctx, table, cur.ID, now); err != nil {
			return nil, Unchanged, fmt.Errorf("close %s %q: %w", table.Name, key, err)
		}
		outcome = Versioned
	}

	rec := schema.DimensionRecord{
		NaturalKey: key,
		Attributes: make(map[string]string, len(table.Attributes)),
		IsCurrent:  true,
		ValidFrom:  now,
	}
	for _, a := range table.Attributes {
		rec.Attributes[a] = attrs[a]
	}
	id, err := tx.InsertDimension(ctx, table, rec)
	if err != nil {
		return nil, Unchanged, fmt.Errorf("insert %s %q: %w", table.Name, key, err)
	}
	rec.ID = id
	return &rec, outcome, nil
}

// SameAttributes reports whether next carries the same tracked attributes as
// stored: numeric ones within a cent, text ones exactly.
func SameAttributes(table schema.DimensionTable, stored, next map[string]string) bool {
	for _, a := range table.Attributes {
		s, n := stored[a], next[a]
		if s == n {
			continue
		}
		if !table.IsNumeric(a) {
			return false
		}
		sf, err1 := strconv.ParseFloat(s, 64)
		nf, err2 := strconv.ParseFloat(n, 64)
		if err1 != nil || err2 != nil || math.Abs(sf-nf) > numericTolerance {
			return false
		}
	}
	return true
}
