package sqlite

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/engramdb/engram/internal/storage"
)

func TestStoreAndGetEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, "vec", "doc")

	want := []float32{0.25, -1.5, 3.0, 0}
	if err := store.StoreEmbedding(ctx, "vec", want, "test-model", 2); err != nil {
		t.Fatalf("StoreEmbedding() failed: %v", err)
	}

	got, err := store.GetEmbedding(ctx, "vec")
	if err != nil {
		t.Fatalf("GetEmbedding() failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("embedding length: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("embedding[%d]: got %v, want %v", i, got[i], want[i])
		}
	}

	// Provenance lands on the entity row.
	entity, err := store.GetEntity(ctx, "vec")
	if err != nil {
		t.Fatalf("GetEntity() failed: %v", err)
	}
	if entity.EmbeddingModel != "test-model" || entity.EmbeddingVersion != 2 {
		t.Errorf("provenance: got model=%q version=%d", entity.EmbeddingModel, entity.EmbeddingVersion)
	}
	if entity.EmbeddedAt == nil {
		t.Error("EmbeddedAt not set")
	}
	if entity.NeedsVectorSync {
		t.Error("NeedsVectorSync set after successful store")
	}
}

func TestStoreEmbeddingValidation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, "vec", "doc")

	cases := []struct {
		name      string
		entity    string
		embedding []float32
		model     string
	}{
		{"empty vector", "vec", nil, "m"},
		{"missing model", "vec", []float32{1}, ""},
		{"nan component", "vec", []float32{float32(math.NaN())}, "m"},
		{"inf component", "vec", []float32{float32(math.Inf(1))}, "m"},
	}
	for _, tc := range cases {
		err := store.StoreEmbedding(ctx, tc.entity, tc.embedding, tc.model, 1)
		if !errors.Is(err, storage.ErrInvalidInput) {
			t.Errorf("%s: got %v, want ErrInvalidInput", tc.name, err)
		}
	}

	err := store.StoreEmbedding(ctx, "ghost", []float32{1}, "m", 1)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing entity: got %v, want ErrNotFound", err)
	}
}

func TestGetEmbeddingAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, "bare", "doc")

	_, err := store.GetEmbedding(ctx, "bare")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("entity without embedding: got %v, want ErrNotFound", err)
	}

	_, err = store.GetEmbedding(ctx, "ghost")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing entity: got %v, want ErrNotFound", err)
	}
}

func TestNeedsVectorSyncLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, "synced", "doc")
	mustCreate(t, store, "stale", "doc")
	mustCreate(t, store, "bare", "doc")

	if err := store.StoreEmbedding(ctx, "synced", []float32{1}, "m", 1); err != nil {
		t.Fatalf("StoreEmbedding() failed: %v", err)
	}
	if err := store.StoreEmbedding(ctx, "stale", []float32{1}, "m", 1); err != nil {
		t.Fatalf("StoreEmbedding() failed: %v", err)
	}
	if err := store.SetNeedsVectorSync(ctx, "stale", true); err != nil {
		t.Fatalf("SetNeedsVectorSync() failed: %v", err)
	}

	needing, err := store.ListEntitiesNeedingSync(ctx)
	if err != nil {
		t.Fatalf("ListEntitiesNeedingSync() failed: %v", err)
	}
	if len(needing) != 1 || needing[0] != "stale" {
		t.Errorf("needing sync: got %v, want [stale]", needing)
	}

	missing, err := store.ListEntitiesWithoutEmbedding(ctx)
	if err != nil {
		t.Fatalf("ListEntitiesWithoutEmbedding() failed: %v", err)
	}
	if len(missing) != 1 || missing[0] != "bare" {
		t.Errorf("without embedding: got %v, want [bare]", missing)
	}

	// Clearing the flag empties the sync list.
	if err := store.SetNeedsVectorSync(ctx, "stale", false); err != nil {
		t.Fatalf("SetNeedsVectorSync(false) failed: %v", err)
	}
	needing, err = store.ListEntitiesNeedingSync(ctx)
	if err != nil {
		t.Fatalf("ListEntitiesNeedingSync() failed: %v", err)
	}
	if len(needing) != 0 {
		t.Errorf("needing sync after clear: got %v, want none", needing)
	}
}

func TestListEmbeddingsTypeFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustCreate(t, store, "svc", "service")
	mustCreate(t, store, "doc", "doc")

	if err := store.StoreEmbedding(ctx, "svc", []float32{1, 0}, "m", 1); err != nil {
		t.Fatalf("StoreEmbedding() failed: %v", err)
	}
	if err := store.StoreEmbedding(ctx, "doc", []float32{0, 1}, "m", 1); err != nil {
		t.Fatalf("StoreEmbedding() failed: %v", err)
	}

	all, err := store.ListEmbeddings(ctx, nil)
	if err != nil {
		t.Fatalf("ListEmbeddings() failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all embeddings: got %d, want 2", len(all))
	}

	filtered, err := store.ListEmbeddings(ctx, []string{"service"})
	if err != nil {
		t.Fatalf("ListEmbeddings(service) failed: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Name != "svc" {
		t.Errorf("filtered embeddings: got %v, want [svc]", filtered)
	}
	if len(filtered) == 1 && len(filtered[0].Embedding) != 2 {
		t.Errorf("filtered embedding vector: got %v", filtered[0].Embedding)
	}
}

func TestVectorSerializationRoundTrip(t *testing.T) {
	want := []float32{0, 1, -1, 0.5, float32(math.Pi)}

	blob := serializeVector(want)
	if len(blob) != len(want)*4 {
		t.Fatalf("blob length: got %d, want %d", len(blob), len(want)*4)
	}

	got, err := deserializeVector(blob)
	if err != nil {
		t.Fatalf("deserializeVector() failed: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("component %d: got %v, want %v", i, got[i], want[i])
		}
	}

	if _, err := deserializeVector([]byte{1, 2, 3}); err == nil {
		t.Error("deserializeVector accepted a misaligned blob")
	}
}
