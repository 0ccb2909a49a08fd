// Package cmd provides the CLI commands for ragcore.
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ragcore/ragcore/internal/chunk"
	"github.com/ragcore/ragcore/internal/citation"
	"github.com/ragcore/ragcore/internal/embed"
	ragerrors "github.com/ragcore/ragcore/internal/errors"
	"github.com/ragcore/ragcore/internal/expand"
	"github.com/ragcore/ragcore/internal/migrate"
	"github.com/ragcore/ragcore/internal/output"
	"github.com/ragcore/ragcore/internal/ragclient"
	"github.com/ragcore/ragcore/internal/repository"
	"github.com/ragcore/ragcore/internal/search"
	"github.com/ragcore/ragcore/internal/store"
)

// rootFlags holds the persistent flags every subcommand shares.
var rootFlags struct {
	dataDir  string
	provider string
	model    string
	readOnly bool
}

// app bundles the opened collaborators a command needs. withApp builds one
// per command invocation and closes it when the command body returns.
// Grounded on the teacher's root.go profiling/logging setup-then-teardown
// pairing, generalized from package-level profiler state to a store+client
// handle.
type app struct {
	engine   *store.Engine
	bm25     store.BM25Index
	vectors  store.VectorStore
	embedder embed.Embedder
	gate     *migrate.Gate
	client   *ragclient.Client
	out      *output.Writer
}

var current *app

func ragclientRetry() ragerrors.RetryConfig { return ragerrors.DefaultRetryConfig() }

func vectorsPath(dataDir string) string { return filepath.Join(dataDir, "vectors.hnsw") }
func bm25Path(dataDir string) string    { return filepath.Join(dataDir, "bm25.db") }
func storePath(dataDir string) string   { return filepath.Join(dataDir, "ragcore.db") }

// openApp opens the store, BM25 index, vector store and embedder, runs the
// migration gate, and wires the full C11 client facade.
func openApp(ctx context.Context, w *output.Writer) (*app, error) {
	dataDir := rootFlags.dataDir

	engine, err := store.Open(ctx, storePath(dataDir), rootFlags.readOnly)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	gate, err := migrate.New(store.CurrentSchemaVersion, engine, rootFlags.readOnly)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("build migration gate: %w", err)
	}
	if err := gate.Open(ctx); err != nil {
		_ = engine.Close()
		return nil, err
	}

	embedder, err := embed.NewEmbedder(ctx, embed.ParseProvider(rootFlags.provider), rootFlags.model)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	bm25, err := store.NewSQLiteBM25Index(bm25Path(dataDir), store.DefaultBM25Config())
	if err != nil {
		_ = embedder.Close()
		_ = engine.Close()
		return nil, fmt.Errorf("open BM25 index: %w", err)
	}

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(embedder.Dimensions()))
	if err != nil {
		_ = bm25.Close()
		_ = embedder.Close()
		_ = engine.Close()
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if _, statErr := os.Stat(vectorsPath(dataDir)); statErr == nil {
		_ = vectors.Load(vectorsPath(dataDir))
	}

	docRepo := repository.New(engine, chunk.New(chunk.DefaultPolicy()), embedder, bm25, vectors, nil)
	hs := search.NewHybridSearch(bm25, vectors, engine, embedder.Embed, nil, search.DefaultConfig())
	chunkRepo := repository.NewChunkRepository(engine, hs)
	expander := expand.New(engine, engine)
	client := ragclient.New(docRepo, chunkRepo, expander, ragclientRetry())

	return &app{
		engine:   engine,
		bm25:     bm25,
		vectors:  vectors,
		embedder: embedder,
		gate:     gate,
		client:   client,
		out:      w,
	}, nil
}

// close persists the vector index and releases every opened collaborator.
func (a *app) close() error {
	if !rootFlags.readOnly {
		if err := os.MkdirAll(rootFlags.dataDir, 0o755); err == nil {
			_ = a.vectors.Save(vectorsPath(rootFlags.dataDir))
		}
	}
	_ = a.vectors.Close()
	_ = a.bm25.Close()
	_ = a.embedder.Close()
	return a.engine.Close()
}

// citations exposes the client's session citation registry.
func (a *app) citations() *citation.Registry { return a.client.Citations() }

// NewRootCmd builds the ragcore root command and its subcommand tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ragcore",
		Short: "RAG retrieval and indexing engine",
		Long: `ragcore ingests documents into a versioned store, indexes their chunks
for hybrid (BM25 + semantic) search, and serves context-expanded, cited
search results.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&rootFlags.dataDir, "data-dir", ".ragcore", "Directory holding the store, BM25 index and vector index")
	root.PersistentFlags().StringVar(&rootFlags.provider, "provider", "static", "Embedding provider: static, ollama, mlx")
	root.PersistentFlags().StringVar(&rootFlags.model, "model", "", "Embedding model name (provider-specific default if empty)")
	root.PersistentFlags().BoolVar(&rootFlags.readOnly, "read-only", false, "Open the store read-only; mutating commands fail")

	root.AddCommand(
		newInitCmd(),
		newAddCmd(),
		newSearchCmd(),
		newListCmd(),
		newGetCmd(),
		newDeleteCmd(),
		newRebuildCmd(),
		newVacuumCmd(),
		newMigrateCmd(),
		newHistoryCmd(),
	)

	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// withApp opens the app, runs fn, and always closes it afterward, folding a
// close error into the result only when fn itself succeeded.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	w := output.New(cmd.OutOrStdout())

	a, err := openApp(ctx, w)
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)
	closeErr := a.close()
	if runErr != nil {
		return runErr
	}
	return closeErr
}
