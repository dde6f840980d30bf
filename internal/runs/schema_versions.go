package runs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"salesetl/internal/schema"
	"salesetl/internal/storage"
)

// Fingerprint hashes the set of columns; order and duplicates do not matter.
func Fingerprint(columns []string) string {
	set := make([]string, 0, len(columns))
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		set = append(set, c)
	}
	sort.Strings(set)
	return fmt.Sprintf("%016x", xxh3.HashString(strings.Join(set, "\x1f")))
}

// RecordSchemaVersion registers columns as the layout of table and returns
// its version number. A new version is appended only when the column set
// differs from the latest one.
func (t *Tracker) RecordSchemaVersion(ctx context.Context, table string, columns []string) (int, error) {
	fp := Fingerprint(columns)
	latest, err := t.store.LatestSchemaVersion(ctx, table)
	if err != nil {
		return 0, fmt.Errorf("schema version of %s: %w", table, err)
	}
	if latest != nil && latest.Fingerprint == fp {
		return latest.Version, nil
	}
	next := 1
	if latest != nil {
		next = latest.Version + 1
	}
	v := schema.SchemaVersion{
		TableName:   table,
		Version:     next,
		Fingerprint: fp,
		Columns:     append([]string(nil), columns...),
		CreatedAt:   t.now().UTC(),
	}
	if err := t.store.InsertSchemaVersion(ctx, v); err != nil {
		// A concurrent run may have registered the same layout first.
		if errors.Is(err, storage.ErrConstraint) {
			if cur, rerr := t.store.LatestSchemaVersion(ctx, table); rerr == nil && cur != nil && cur.Fingerprint == fp {
				return cur.Version, nil
			}
		}
		return 0, fmt.Errorf("record schema version of %s: %w", table, err)
	}
	log.Printf("runs: schema evolution table=%s version=%d columns=%d", table, next, len(columns))
	return next, nil
}
