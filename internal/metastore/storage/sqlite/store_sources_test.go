package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/recallkit/recallkit/internal/metastore/schema"
	"github.com/recallkit/recallkit/internal/metastore/storage"
)

func TestSourceRoundTripAndNameUniqueness(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateSource(ctx, storage.Source{
		ID:     "source-1",
		UserID: "user-1",
		Name:   "docs",
		EmbeddingConfig: &schema.EmbeddingConfig{
			EmbeddingModel: "text-embedding-ada-002",
			EmbeddingDim:   1536,
		},
		Description: "product docs",
	}); err != nil {
		t.Fatalf("create source: %v", err)
	}

	got, err := store.GetSourceByName(ctx, "user-1", "docs")
	if err != nil {
		t.Fatalf("get source by name: %v", err)
	}
	if got == nil || got.ID != "source-1" {
		t.Fatalf("source by name = %+v, want source-1", got)
	}
	if got.EmbeddingConfig == nil || got.EmbeddingConfig.EmbeddingDim != 1536 {
		t.Fatalf("embedding config = %+v, want dim 1536", got.EmbeddingConfig)
	}

	err = store.CreateSource(ctx, storage.Source{ID: "source-2", UserID: "user-1", Name: "docs"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate name err = %v, want ErrAlreadyExists", err)
	}
	if err := store.CreateSource(ctx, storage.Source{ID: "source-3", UserID: "user-2", Name: "docs"}); err != nil {
		t.Fatalf("same name for other user: %v", err)
	}
}

func TestAttachDetachSource(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateAgent(ctx, storage.Agent{ID: "agent-1", UserID: "user-1", Name: "helper"}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := store.CreateSource(ctx, storage.Source{ID: "source-1", UserID: "user-1", Name: "docs"}); err != nil {
		t.Fatalf("create source: %v", err)
	}

	if err := store.AttachSource(ctx, "user-1", "agent-1", "source-1"); err != nil {
		t.Fatalf("attach source: %v", err)
	}
	err = store.AttachSource(ctx, "user-1", "agent-1", "source-1")
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("repeat attach err = %v, want ErrAlreadyExists", err)
	}

	attached, err := store.ListAttachedSources(ctx, "agent-1")
	if err != nil {
		t.Fatalf("list attached sources: %v", err)
	}
	if len(attached) != 1 || attached[0].ID != "source-1" {
		t.Fatalf("attached = %+v, want [source-1]", attached)
	}

	agents, err := store.ListAttachedAgents(ctx, "source-1")
	if err != nil {
		t.Fatalf("list attached agents: %v", err)
	}
	if len(agents) != 1 || agents[0] != "agent-1" {
		t.Fatalf("attached agents = %v, want [agent-1]", agents)
	}

	if err := store.DetachSource(ctx, "user-1", "agent-1", "source-1"); err != nil {
		t.Fatalf("detach source: %v", err)
	}
	attached, err = store.ListAttachedSources(ctx, "agent-1")
	if err != nil {
		t.Fatalf("list after detach: %v", err)
	}
	if len(attached) != 0 {
		t.Fatalf("attached after detach = %+v, want none", attached)
	}

	// Detaching again is a no-op.
	if err := store.DetachSource(ctx, "user-1", "agent-1", "source-1"); err != nil {
		t.Fatalf("detach again: %v", err)
	}
}

func TestAttachDistinctPairsWithSeparatorInIDs(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateAgent(ctx, storage.Agent{ID: "a", UserID: "user-1", Name: "first"}); err != nil {
		t.Fatalf("create agent a: %v", err)
	}
	if err := store.CreateAgent(ctx, storage.Agent{ID: "a-s1", UserID: "user-1", Name: "second"}); err != nil {
		t.Fatalf("create agent a-s1: %v", err)
	}
	if err := store.CreateSource(ctx, storage.Source{ID: "s1-s2", UserID: "user-1", Name: "first"}); err != nil {
		t.Fatalf("create source s1-s2: %v", err)
	}
	if err := store.CreateSource(ctx, storage.Source{ID: "s2", UserID: "user-1", Name: "second"}); err != nil {
		t.Fatalf("create source s2: %v", err)
	}

	// The two pairs concatenate to the same string, but they are distinct
	// triples and both attaches must succeed.
	if err := store.AttachSource(ctx, "user-1", "a", "s1-s2"); err != nil {
		t.Fatalf("attach (a, s1-s2): %v", err)
	}
	if err := store.AttachSource(ctx, "user-1", "a-s1", "s2"); err != nil {
		t.Fatalf("attach (a-s1, s2): %v", err)
	}

	attached, err := store.ListAttachedSources(ctx, "a")
	if err != nil {
		t.Fatalf("list attached for a: %v", err)
	}
	if len(attached) != 1 || attached[0].ID != "s1-s2" {
		t.Fatalf("attached to a = %+v, want [s1-s2]", attached)
	}
	attached, err = store.ListAttachedSources(ctx, "a-s1")
	if err != nil {
		t.Fatalf("list attached for a-s1: %v", err)
	}
	if len(attached) != 1 || attached[0].ID != "s2" {
		t.Fatalf("attached to a-s1 = %+v, want [s2]", attached)
	}
}

func TestAttachSourceRequiresBothEndpoints(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateAgent(ctx, storage.Agent{ID: "agent-1", UserID: "user-1", Name: "helper"}); err != nil {
		t.Fatalf("create agent: %v", err)
	}

	if err := store.AttachSource(ctx, "user-1", "agent-1", "no-such-source"); err == nil {
		t.Fatalf("attach to missing source succeeded, want error")
	}
	if err := store.AttachSource(ctx, "user-1", "no-such-agent", "source-1"); err == nil {
		t.Fatalf("attach to missing agent succeeded, want error")
	}
}

func TestListAttachedToleratesDanglingMappings(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateAgent(ctx, storage.Agent{ID: "agent-1", UserID: "user-1", Name: "helper"}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := store.CreateSource(ctx, storage.Source{ID: "source-1", UserID: "user-1", Name: "docs"}); err != nil {
		t.Fatalf("create source: %v", err)
	}
	if err := store.AttachSource(ctx, "user-1", "agent-1", "source-1"); err != nil {
		t.Fatalf("attach source: %v", err)
	}

	// Remove the endpoints out from under the mapping; DeleteSource would
	// cascade, so this mimics an older database with dangling rows.
	if _, err := store.DB().Exec(`DELETE FROM sources WHERE id = 'source-1'`); err != nil {
		t.Fatalf("delete source row: %v", err)
	}
	if _, err := store.DB().Exec(`DELETE FROM agents WHERE id = 'agent-1'`); err != nil {
		t.Fatalf("delete agent row: %v", err)
	}

	attached, err := store.ListAttachedSources(ctx, "agent-1")
	if err != nil {
		t.Fatalf("list attached sources: %v", err)
	}
	if len(attached) != 0 {
		t.Fatalf("attached = %+v, want none", attached)
	}

	agents, err := store.ListAttachedAgents(ctx, "source-1")
	if err != nil {
		t.Fatalf("list attached agents: %v", err)
	}
	if len(agents) != 0 {
		t.Fatalf("attached agents = %v, want none", agents)
	}

	// The dangling mapping row itself stays in place.
	var mappings int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM agent_source_mappings`).Scan(&mappings); err != nil {
		t.Fatalf("count mappings: %v", err)
	}
	if mappings != 1 {
		t.Fatalf("mappings = %d, want 1", mappings)
	}
}

func TestDeleteSourceCascadesMappings(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateAgent(ctx, storage.Agent{ID: "agent-1", UserID: "user-1", Name: "helper"}); err != nil {
		t.Fatalf("create agent: %v", err)
	}
	if err := store.CreateSource(ctx, storage.Source{ID: "source-1", UserID: "user-1", Name: "docs"}); err != nil {
		t.Fatalf("create source: %v", err)
	}
	if err := store.AttachSource(ctx, "user-1", "agent-1", "source-1"); err != nil {
		t.Fatalf("attach source: %v", err)
	}

	if err := store.DeleteSource(ctx, "source-1"); err != nil {
		t.Fatalf("delete source: %v", err)
	}

	var mappings int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM agent_source_mappings WHERE source_id = 'source-1'`).Scan(&mappings); err != nil {
		t.Fatalf("count mappings: %v", err)
	}
	if mappings != 0 {
		t.Fatalf("mappings = %d, want 0", mappings)
	}
}
