// Package migrate implements the migration gate (spec §4.8): on opening a
// store, it compares the schema version recorded in the settings row
// against the build's current version and decides whether the caller must
// run migrate() before the store is usable.
//
// Grounded on the teacher's internal/store schema_version table
// (sqlite_bm25.go tracks a single integer schema_version for its own FTS
// index); generalized here to a semver comparison against an ordered
// registry of upgrade steps, using Masterminds/semver/v3 (also used for
// version comparison elsewhere in the example pack) in place of the
// teacher's bare integer compare.
package migrate

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/ragcore/ragcore/internal/store"
)

// SettingsStore is the narrow persistence contract the gate needs: read and
// write the single stored schema version.
type SettingsStore interface {
	ReadSchemaVersion(ctx context.Context) (version string, found bool, err error)
	WriteSchemaVersion(ctx context.Context, version string) error
}

// ErrMigrationRequired is returned from Open when the stored version is
// older than the current build and at least one registered upgrade step
// must run before the store is safe to use (spec §4.8, §7).
type ErrMigrationRequired struct {
	StoredVersion  string
	CurrentVersion string
	PendingSteps   []string
}

func (e ErrMigrationRequired) Error() string {
	return fmt.Sprintf("migrate: store at version %s requires migration to %s (pending: %v)",
		e.StoredVersion, e.CurrentVersion, e.PendingSteps)
}

// Step is a single registered upgrade, identified by the schema version it
// brings the store to.
type Step struct {
	TargetVersion string
	Name          string
	// Tables lists the VersionedTables this step writes to; Gate wraps the
	// step's Apply in a snapshot/restore scope over exactly these tables.
	Tables []store.VersionedTable
	Apply  func(ctx context.Context) error
}

// Gate owns the ordered set of registered upgrade steps and the current
// build version they move the store toward.
type Gate struct {
	current  *semver.Version
	steps    []Step // kept sorted ascending by TargetVersion
	settings SettingsStore
	readOnly bool
}

// New builds a migration gate for the given current schema version and
// settings store. Steps may be registered afterward with Register.
func New(currentVersion string, settings SettingsStore, readOnly bool) (*Gate, error) {
	v, err := semver.NewVersion(currentVersion)
	if err != nil {
		return nil, fmt.Errorf("migrate: invalid current version %q: %w", currentVersion, err)
	}
	return &Gate{current: v, settings: settings, readOnly: readOnly}, nil
}

// Register adds an upgrade step to the gate, keeping steps sorted by
// ascending target version.
func (g *Gate) Register(step Step) error {
	if _, err := semver.NewVersion(step.TargetVersion); err != nil {
		return fmt.Errorf("migrate: invalid step target version %q: %w", step.TargetVersion, err)
	}
	g.steps = append(g.steps, step)
	sort.Slice(g.steps, func(i, j int) bool {
		vi, _ := semver.NewVersion(g.steps[i].TargetVersion)
		vj, _ := semver.NewVersion(g.steps[j].TargetVersion)
		return vi.LessThan(vj)
	})
	return nil
}

// Open runs the open-time version check (spec §4.8):
//   - missing (new DB): write the current version, no error.
//   - equal: proceed, no error.
//   - older, with registered steps targeting a version in (stored, current]:
//     fail with ErrMigrationRequired.
//   - older, with no applicable steps (a pure version bump): silently
//     update the stored version when writable, or leave it stale when
//     read-only; no error either way.
func (g *Gate) Open(ctx context.Context) error {
	storedRaw, found, err := g.settings.ReadSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("migrate: read stored version: %w", err)
	}
	if !found {
		if g.readOnly {
			return nil
		}
		return g.settings.WriteSchemaVersion(ctx, g.current.String())
	}

	stored, err := semver.NewVersion(storedRaw)
	if err != nil {
		return fmt.Errorf("migrate: invalid stored version %q: %w", storedRaw, err)
	}

	if stored.Equal(g.current) {
		return nil
	}
	if stored.GreaterThan(g.current) {
		return nil
	}

	pending := g.pendingSteps(stored)
	if len(pending) > 0 {
		names := make([]string, len(pending))
		for i, s := range pending {
			names[i] = s.Name
		}
		return ErrMigrationRequired{
			StoredVersion:  stored.String(),
			CurrentVersion: g.current.String(),
			PendingSteps:   names,
		}
	}

	// Pure version bump: no registered step applies between stored and
	// current, so there is nothing unsafe about the stored data.
	if g.readOnly {
		return nil
	}
	return g.settings.WriteSchemaVersion(ctx, g.current.String())
}

// pendingSteps returns registered steps whose target version is strictly
// greater than stored and at most the current build version.
func (g *Gate) pendingSteps(stored *semver.Version) []Step {
	var pending []Step
	for _, s := range g.steps {
		target, _ := semver.NewVersion(s.TargetVersion)
		if target.GreaterThan(stored) && !target.GreaterThan(g.current) {
			pending = append(pending, s)
		}
	}
	return pending
}

// Migrate runs every pending upgrade step in ascending target-version
// order, each wrapped in a snapshot/restore scope over the tables it
// declares. A step failure restores its tables and aborts immediately,
// leaving the stored version unchanged. Migrate refuses to run on a
// read-only store (spec §4.3, §4.8).
func (g *Gate) Migrate(ctx context.Context) error {
	if g.readOnly {
		return store.ErrReadOnly{Op: "migrate"}
	}

	storedRaw, found, err := g.settings.ReadSchemaVersion(ctx)
	if err != nil {
		return fmt.Errorf("migrate: read stored version: %w", err)
	}
	stored := g.current
	if found {
		stored, err = semver.NewVersion(storedRaw)
		if err != nil {
			return fmt.Errorf("migrate: invalid stored version %q: %w", storedRaw, err)
		}
	}

	for _, step := range g.pendingSteps(stored) {
		scope, err := store.BeginSnapshot(ctx, step.Tables...)
		if err != nil {
			return fmt.Errorf("migrate: snapshot before step %s: %w", step.Name, err)
		}
		if err := step.Apply(ctx); err != nil {
			if rbErr := scope.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("migrate: step %s failed (%w) and rollback failed: %v", step.Name, err, rbErr)
			}
			return fmt.Errorf("migrate: step %s failed, rolled back: %w", step.Name, err)
		}
		scope.Commit()
		stored, _ = semver.NewVersion(step.TargetVersion)
	}

	return g.settings.WriteSchemaVersion(ctx, g.current.String())
}
