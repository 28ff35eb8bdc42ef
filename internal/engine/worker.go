package engine

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
)

// embedJob is one queued embedding request.
type embedJob struct {
	ID   string
	Name string
}

// enqueueEmbedding queues a background embedding job without blocking. When
// the queue is full or no embedder is configured the job is dropped; the
// reconciler's backfill pass picks up any entity left without an embedding.
func (e *MemoryEngine) enqueueEmbedding(name string) {
	if e.embedder == nil {
		return
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return
	}

	job := embedJob{ID: uuid.New().String(), Name: name}
	select {
	case e.jobs <- job:
	default:
		log.Printf("engine: embedding queue full, dropping job for %q", name)
	}
}

func (e *MemoryEngine) startWorkers() {
	for i := 0; i < e.config.NumWorkers; i++ {
		e.wg.Add(1)
		go e.embedWorker(i)
	}
	log.Printf("engine: started %d embedding workers (queue=%d)", e.config.NumWorkers, e.config.QueueSize)
}

func (e *MemoryEngine) embedWorker(id int) {
	defer e.wg.Done()

	for job := range e.jobs {
		// Jobs outlive the request that queued them, so they run under a
		// fresh context bounded only by a generous per-job timeout.
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		if err := e.GenerateEmbedding(ctx, job.Name); err != nil {
			log.Printf("engine: worker %d: job %s for %q failed: %v", id, job.ID, job.Name, err)
		}
		cancel()
	}
}

// stopWorkers closes the job queue and waits for in-flight work, bounded by
// the configured shutdown timeout.
func (e *MemoryEngine) stopWorkers() {
	close(e.jobs)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Printf("engine: embedding workers drained")
	case <-time.After(e.config.ShutdownTimeout):
		log.Printf("engine: shutdown timeout after %v, abandoning in-flight embedding jobs", e.config.ShutdownTimeout)
	}
}
