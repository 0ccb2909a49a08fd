package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// settingsRowID is the fixed primary key of the Settings table's single row.
const settingsRowID = "settings"

// Engine is the versioned persistence layer (spec §4.3): the four tables,
// the content_fts full-text index, and the HNSW vector index, all backed by
// one WAL-mode SQLite connection. Grounded on sqlite_bm25.go's
// single-conn/WAL/pragma pattern, extended from one FTS5 table to the full
// schema.
type Engine struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string

	readOnly bool

	Documents *VersionedSQLTable[Document]
	Chunks    *VersionedSQLTable[Chunk]
	Settings  *VersionedSQLTable[Settings]
	MMAssets  *VersionedSQLTable[MMAsset]
}

// Open opens (or creates) a store at path. path="" opens an in-memory store,
// useful for tests. readOnly enforces ErrReadOnly on every mutating table
// operation and refuses migration (spec §4.3, §4.8).
func Open(ctx context.Context, path string, readOnly bool) (*Engine, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
		if readOnly {
			dsn += "&mode=ro"
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}

	// Single writer, as in sqlite_bm25.go: avoids lock contention against
	// the one SQLite file backing all four tables.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if !readOnly {
		pragmas := []string{
			"PRAGMA journal_mode = WAL",
			"PRAGMA busy_timeout = 5000",
			"PRAGMA synchronous = NORMAL",
			"PRAGMA cache_size = -65536",
			"PRAGMA temp_store = MEMORY",
		}
		for _, p := range pragmas {
			if _, err := db.ExecContext(ctx, p); err != nil {
				_ = db.Close()
				return nil, fmt.Errorf("store: set pragma %q: %w", p, err)
			}
		}
	}

	e := &Engine{db: db, path: path, readOnly: readOnly}

	e.Documents, err = NewVersionedSQLTable(ctx, db, "documents", func(d Document) string { return d.ID }, readOnly)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	e.Chunks, err = NewVersionedSQLTable(ctx, db, "chunks", func(c Chunk) string { return c.ID }, readOnly)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	e.Settings, err = NewVersionedSQLTable(ctx, db, "settings", func(Settings) string { return settingsRowID }, readOnly)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	e.MMAssets, err = NewVersionedSQLTable(ctx, db, "mm_assets", func(a MMAsset) string {
		return fmt.Sprintf("%s:%s:%d", a.DocumentID, a.DocItemRef, a.ItemIndex)
	}, readOnly)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := e.initFTSSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return e, nil
}

// ReadOnly reports whether this store refuses mutations.
func (e *Engine) ReadOnly() bool {
	return e.readOnly
}

// ReadSchemaVersion implements migrate.SettingsStore.
func (e *Engine) ReadSchemaVersion(ctx context.Context) (string, bool, error) {
	s, ok, err := e.Settings.Get(ctx, settingsRowID)
	if err != nil || !ok || s.SchemaVersion == "" {
		return "", false, err
	}
	return s.SchemaVersion, true, nil
}

// WriteSchemaVersion implements migrate.SettingsStore.
func (e *Engine) WriteSchemaVersion(ctx context.Context, version string) error {
	s, ok, err := e.Settings.Get(ctx, settingsRowID)
	if err != nil {
		return err
	}
	if !ok {
		s = Settings{}
	}
	s.SchemaVersion = version
	return e.Settings.Append(ctx, []Settings{s})
}

func (e *Engine) initFTSSchema(ctx context.Context) error {
	if e.readOnly {
		return nil
	}
	_, err := e.db.ExecContext(ctx, `
	CREATE VIRTUAL TABLE IF NOT EXISTS content_fts USING fts5(
		chunk_id UNINDEXED,
		content,
		tokenize='unicode61'
	);
	`)
	return err
}

// RebuildFTSIndex idempotently (re)creates content_fts from the chunks
// table's current live content, contextualized with headings (spec §3,
// §9: "content (raw) vs content_fts (headings+content)"). Called before
// any FTS/hybrid search so the index never drifts from the chunk table.
func (e *Engine) RebuildFTSIndex(ctx context.Context) error {
	if e.readOnly {
		return ErrReadOnly{Op: "rebuild_fts_index"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	chunks, err := e.Chunks.ListAll(ctx)
	if err != nil {
		return err
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM content_fts`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO content_fts(chunk_id, content) VALUES (?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.ContentFTS()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// EnsureVectorIndex builds vectors's ANN graph from current chunk
// embeddings, but only once the chunk count reaches ANNBuildThreshold
// (spec §4.3); below it, this is a no-op with a logged warning.
func (e *Engine) EnsureVectorIndex(ctx context.Context, vectors VectorStore) error {
	chunks, err := e.Chunks.ListAll(ctx)
	if err != nil {
		return err
	}
	if len(chunks) < ANNBuildThreshold {
		slog.Warn("store_ann_index_skipped",
			slog.Int("chunk_count", len(chunks)),
			slog.Int("threshold", ANNBuildThreshold))
		return nil
	}

	ids := make([]string, 0, len(chunks))
	vecs := make([][]float32, 0, len(chunks))
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			continue
		}
		ids = append(ids, c.ID)
		vecs = append(vecs, c.Embedding)
	}
	if len(ids) == 0 {
		return nil
	}
	return vectors.Add(ctx, ids, vecs)
}

// Vacuum runs Vacuum(retention) on every table (spec §4.3). retention=0
// shrinks every table's history down to just its current version.
func (e *Engine) Vacuum(ctx context.Context, retention time.Duration) error {
	for _, t := range []VersionedTable{e.Documents, e.Chunks, e.Settings, e.MMAssets} {
		if err := t.Vacuum(ctx, retention); err != nil {
			return err
		}
	}
	return nil
}

// History returns the version history of one of the four named tables,
// for the `history` CLI command (spec §6).
func (e *Engine) History(ctx context.Context, table string) ([]TableVersion, error) {
	switch strings.ToLower(table) {
	case "documents":
		return e.Documents.ListVersions(ctx)
	case "chunks":
		return e.Chunks.ListVersions(ctx)
	case "settings":
		return e.Settings.ListVersions(ctx)
	case "mm_assets":
		return e.MMAssets.ListVersions(ctx)
	default:
		return nil, fmt.Errorf("store: unknown table %q", table)
	}
}

// Close checkpoints the WAL and closes the underlying connection.
func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	if !e.readOnly {
		_, _ = e.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	}
	return e.db.Close()
}
