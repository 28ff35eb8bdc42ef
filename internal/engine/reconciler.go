package engine

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/engramdb/engram/internal/storage"
)

// ReconcileOptions controls a reconciliation pass.
type ReconcileOptions struct {
	// BatchSize bounds how many entities are handled between progress
	// callbacks (default: 50).
	BatchSize int

	// OnProgress, when non-nil, is invoked after each batch with the number
	// of entities handled so far and the total.
	OnProgress func(current, total int)
}

func (o *ReconcileOptions) applyDefaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
}

// BackfillResult reports the outcome of a backfill pass.
type BackfillResult struct {
	Processed int
	Failed    int
	Total     int
}

// SyncResult reports the outcome of a vector-sync retry pass.
type SyncResult struct {
	Succeeded int
	Failed    int
	Total     int
}

// Reconciler heals divergence between the row store and the vector index:
// it backfills missing embeddings, retries failed index writes, and removes
// orphaned index entries. It runs out-of-band from the mutation path.
type Reconciler struct {
	engine *MemoryEngine
}

// NewReconciler creates a reconciler over the given engine.
func NewReconciler(engine *MemoryEngine) *Reconciler {
	return &Reconciler{engine: engine}
}

// BackfillEmbeddings generates and stores an embedding for every entity that
// lacks one. A failure on one entity is counted and logged but does not
// abort the pass.
func (r *Reconciler) BackfillEmbeddings(ctx context.Context, opts ReconcileOptions) (*BackfillResult, error) {
	opts.applyDefaults()
	runID := uuid.New().String()

	names, err := r.engine.store.ListEntitiesWithoutEmbedding(ctx)
	if err != nil {
		return nil, err
	}

	result := &BackfillResult{Total: len(names)}
	if len(names) == 0 {
		return result, nil
	}

	log.Printf("reconcile: backfill %s: %d entities without embeddings", runID, len(names))

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := r.engine.GenerateEmbedding(ctx, name); err != nil {
			result.Failed++
			log.Printf("reconcile: backfill %s: %q failed: %v", runID, name, err)
		} else {
			result.Processed++
		}

		handled := i + 1
		if handled%opts.BatchSize == 0 || handled == len(names) {
			if opts.OnProgress != nil {
				opts.OnProgress(handled, len(names))
			}
		}
	}

	log.Printf("reconcile: backfill %s done: processed=%d failed=%d total=%d",
		runID, result.Processed, result.Failed, result.Total)
	return result, nil
}

// RetryFailedVectorSyncs re-attempts the vector index write for every entity
// flagged needs_vector_sync that has a stored embedding, clearing the flag
// on success and leaving it set on failure.
func (r *Reconciler) RetryFailedVectorSyncs(ctx context.Context, opts ReconcileOptions) (*SyncResult, error) {
	opts.applyDefaults()

	if r.engine.index == nil {
		return nil, errors.New("reconcile: no vector index available")
	}

	names, err := r.engine.store.ListEntitiesNeedingSync(ctx)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Total: len(names)}
	if len(names) == 0 {
		return result, nil
	}

	runID := uuid.New().String()
	log.Printf("reconcile: sync %s: %d entities flagged", runID, len(names))

	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		if err := r.retrySync(ctx, name); err != nil {
			result.Failed++
			log.Printf("reconcile: sync %s: %q failed: %v", runID, name, err)
		} else {
			result.Succeeded++
		}

		handled := i + 1
		if handled%opts.BatchSize == 0 || handled == len(names) {
			if opts.OnProgress != nil {
				opts.OnProgress(handled, len(names))
			}
		}
	}

	log.Printf("reconcile: sync %s done: succeeded=%d failed=%d total=%d",
		runID, result.Succeeded, result.Failed, result.Total)
	return result, nil
}

func (r *Reconciler) retrySync(ctx context.Context, name string) error {
	vector, err := r.engine.store.GetEmbedding(ctx, name)
	if err != nil {
		return err
	}
	if err := r.engine.index.Insert(ctx, name, vector); err != nil {
		return err
	}
	return r.engine.store.SetNeedsVectorSync(ctx, name, false)
}

// CleanupOrphanedEmbeddings removes vector index entries whose entity row no
// longer exists and returns the count removed. Orphans arise when an index
// removal after a row deletion fails.
func (r *Reconciler) CleanupOrphanedEmbeddings(ctx context.Context) (int, error) {
	if r.engine.index == nil {
		return 0, errors.New("reconcile: no vector index available")
	}

	names, err := r.engine.index.ListNames(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return removed, err
		}

		_, err := r.engine.store.GetEntity(ctx, name)
		if err == nil {
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return removed, err
		}

		if derr := r.engine.index.Delete(ctx, name); derr != nil {
			log.Printf("reconcile: remove orphan %q: %v", name, derr)
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Printf("reconcile: removed %d orphaned index entries", removed)
	}
	return removed, nil
}
