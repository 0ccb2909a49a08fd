package store

import (
	"context"
	"errors"
)

// Scope is the snapshot/restore rollback primitive (spec §9): on entry it
// records the current version of every declared table; on Rollback it
// restores each table to the version it captured. Scopes are re-entrant —
// nested scopes each capture their own version set and do not interfere
// with each other.
type Scope struct {
	tables    []VersionedTable
	versions  []int64
	committed bool
}

// BeginSnapshot opens a rollback scope over the given tables, recording
// each one's current version.
func BeginSnapshot(ctx context.Context, tables ...VersionedTable) (*Scope, error) {
	versions := make([]int64, len(tables))
	for i, t := range tables {
		v, err := t.CurrentVersion(ctx)
		if err != nil {
			return nil, err
		}
		versions[i] = v
	}
	return &Scope{tables: tables, versions: versions}, nil
}

// Commit marks the scope successful; Rollback becomes a no-op afterward.
func (s *Scope) Commit() {
	s.committed = true
}

// Rollback restores every table in the scope to the version captured at
// BeginSnapshot, unless Commit was already called. Errors from individual
// table restores are joined so a partial rollback is still reported in
// full rather than stopping at the first failure.
func (s *Scope) Rollback(ctx context.Context) error {
	if s.committed {
		return nil
	}
	var errs []error
	for i, t := range s.tables {
		if err := t.Restore(ctx, s.versions[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
