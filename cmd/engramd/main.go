// cmd/engramd is the entry point for the engram memory daemon. It wires the
// SQLite row store, the vector index, and the Ollama embedding client into a
// MemoryEngine, then runs the reconciler on a fixed interval until the
// process is signalled.
//
// Startup sequence:
//  1. Load configuration from environment variables (and optional YAML file).
//  2. Open the SQLite database and apply pending migrations.
//  3. Open the vector index; an initialization failure is logged once and
//     the process continues in index-disabled mode (brute-force search).
//  4. Create the Ollama embedder and the MemoryEngine with its worker pool.
//  5. Run periodic reconciliation until SIGINT / SIGTERM.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/engramdb/engram/internal/config"
	"github.com/engramdb/engram/internal/embed"
	"github.com/engramdb/engram/internal/engine"
	"github.com/engramdb/engram/internal/index"
	"github.com/engramdb/engram/internal/storage/sqlite"
)

func main() {
	log.SetPrefix("engramd: ")
	log.SetFlags(log.LstdFlags)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o700); err != nil {
		log.Fatalf("failed to create data directory for %q: %v", cfg.Database.Path, err)
	}

	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("failed to open database at %q: %v", cfg.Database.Path, err)
	}

	// The index is a best-effort accelerator. If it cannot be opened the
	// daemon runs without it for the lifetime of the process and semantic
	// search falls back to brute-force scans.
	var idx *index.Index
	if cfg.Index.Enabled {
		idx, err = index.Open(cfg.Index.Path, cfg.Embedding.Dimension)
		if err != nil {
			log.Printf("vector index unavailable, running in index-disabled mode: %v", err)
			idx = nil
		}
	} else {
		log.Printf("vector index disabled by configuration")
	}

	embedder := embed.NewOllamaEmbedder(embed.OllamaConfig{
		BaseURL:           cfg.Embedding.OllamaURL,
		Model:             cfg.Embedding.Model,
		Dimension:         cfg.Embedding.Dimension,
		Timeout:           cfg.Embedding.Timeout,
		RequestsPerSecond: cfg.Embedding.RatePerSec,
		Burst:             cfg.Embedding.Burst,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := embedder.HealthCheck(ctx); err != nil {
		log.Printf("embedding service unreachable, embeddings will be retried by reconciliation: %v", err)
	}

	eng := engine.New(store, embedder, idx, engine.Config{
		NumWorkers:       cfg.Engine.NumWorkers,
		QueueSize:        cfg.Engine.QueueSize,
		ShutdownTimeout:  cfg.Engine.ShutdownTimeout,
		EmbeddingVersion: cfg.Embedding.Version,
	})
	defer func() {
		if err := eng.Close(); err != nil {
			log.Printf("close engine: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received %v, shutting down", sig)
		cancel()
	}()

	runReconcileLoop(ctx, eng, cfg)
	log.Printf("shutdown complete")
}

// runReconcileLoop runs backfill, sync retry, and orphan cleanup passes on
// the configured interval until the context is cancelled. The first pass
// runs immediately so a restart heals divergence without waiting.
func runReconcileLoop(ctx context.Context, eng *engine.MemoryEngine, cfg *config.Config) {
	reconciler := engine.NewReconciler(eng)
	opts := engine.ReconcileOptions{BatchSize: cfg.Reconcile.BatchSize}

	runOnce := func() {
		if result, err := reconciler.BackfillEmbeddings(ctx, opts); err != nil {
			log.Printf("reconcile: backfill: %v", err)
		} else if result.Total > 0 {
			log.Printf("reconcile: backfill processed=%d failed=%d", result.Processed, result.Failed)
		}

		if eng.Index() == nil {
			return
		}

		if result, err := reconciler.RetryFailedVectorSyncs(ctx, opts); err != nil {
			log.Printf("reconcile: sync retry: %v", err)
		} else if result.Total > 0 {
			log.Printf("reconcile: sync succeeded=%d failed=%d", result.Succeeded, result.Failed)
		}

		if removed, err := reconciler.CleanupOrphanedEmbeddings(ctx); err != nil {
			log.Printf("reconcile: orphan cleanup: %v", err)
		} else if removed > 0 {
			log.Printf("reconcile: removed %d orphaned index entries", removed)
		}
	}

	runOnce()

	ticker := time.NewTicker(cfg.Reconcile.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
