package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

func TestTemplateBlockNameUniquePerUserAndLabel(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	base := storage.NewHumanBlock("block-1", "user-1", "default", "Name: Alice")
	base.Template = true
	if err := store.CreateBlock(ctx, base); err != nil {
		t.Fatalf("create template block: %v", err)
	}

	dup := storage.NewHumanBlock("block-2", "user-1", "default", "Name: Bob")
	dup.Template = true
	err = store.CreateBlock(ctx, dup)
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate template err = %v, want ErrAlreadyExists", err)
	}

	// Same name is fine under another label, user, or without the
	// template flag.
	otherLabel := storage.NewPersonaBlock("block-3", "user-1", "default", "Helpful assistant")
	otherLabel.Template = true
	if err := store.CreateBlock(ctx, otherLabel); err != nil {
		t.Fatalf("same name other label: %v", err)
	}
	otherUser := storage.NewHumanBlock("block-4", "user-2", "default", "Name: Carol")
	otherUser.Template = true
	if err := store.CreateBlock(ctx, otherUser); err != nil {
		t.Fatalf("same name other user: %v", err)
	}
	if err := store.CreateBlock(ctx, storage.NewHumanBlock("block-5", "user-1", "default", "scratch")); err != nil {
		t.Fatalf("non-template duplicate: %v", err)
	}
}

func TestUpsertBlockInsertsThenReplaces(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	record := storage.Block{
		ID:     "block-1",
		UserID: "user-1",
		Name:   "scratch",
		Value:  "v1",
		Label:  "notes",
		Limit:  2000,
	}
	if err := store.UpsertBlock(ctx, record); err != nil {
		t.Fatalf("upsert insert: %v", err)
	}

	record.Value = "v2"
	if err := store.UpsertBlock(ctx, record); err != nil {
		t.Fatalf("upsert replace: %v", err)
	}

	got, err := store.GetBlock(ctx, "block-1")
	if err != nil {
		t.Fatalf("get block: %v", err)
	}
	if got == nil || got.Value != "v2" {
		t.Fatalf("block = %+v, want value v2", got)
	}

	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM blocks`).Scan(&count); err != nil {
		t.Fatalf("count blocks: %v", err)
	}
	if count != 1 {
		t.Fatalf("blocks = %d, want 1", count)
	}
}

func TestListBlocksFilters(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	human := storage.NewHumanBlock("block-1", "user-1", "default", "Name: Alice")
	human.Template = true
	if err := store.CreateBlock(ctx, human); err != nil {
		t.Fatalf("create human block: %v", err)
	}
	persona := storage.NewPersonaBlock("block-2", "user-1", "default", "Helpful assistant")
	persona.Template = true
	if err := store.CreateBlock(ctx, persona); err != nil {
		t.Fatalf("create persona block: %v", err)
	}
	if err := store.CreateBlock(ctx, storage.NewHumanBlock("block-3", "user-1", "scratch", "wip")); err != nil {
		t.Fatalf("create scratch block: %v", err)
	}

	page, err := store.ListBlocks(ctx, storage.BlockFilter{UserID: "user-1", Label: storage.LabelHuman}, 10, "")
	if err != nil {
		t.Fatalf("list human blocks: %v", err)
	}
	if len(page.Blocks) != 2 {
		t.Fatalf("human blocks len = %d, want 2", len(page.Blocks))
	}

	page, err = store.ListBlocks(ctx, storage.BlockFilter{UserID: "user-1", TemplatesOnly: true}, 10, "")
	if err != nil {
		t.Fatalf("list template blocks: %v", err)
	}
	if len(page.Blocks) != 2 {
		t.Fatalf("template blocks len = %d, want 2", len(page.Blocks))
	}
	for _, block := range page.Blocks {
		if !block.Template {
			t.Fatalf("block %s is not a template", block.ID)
		}
	}

	page, err = store.ListBlocks(ctx, storage.BlockFilter{Name: "default", Label: storage.LabelPersona}, 10, "")
	if err != nil {
		t.Fatalf("list by name and label: %v", err)
	}
	if len(page.Blocks) != 1 || page.Blocks[0].ID != "block-2" {
		t.Fatalf("named persona blocks = %+v, want [block-2]", page.Blocks)
	}
}

func TestDeleteBlock(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreateBlock(ctx, storage.NewHumanBlock("block-1", "user-1", "default", "x")); err != nil {
		t.Fatalf("create block: %v", err)
	}
	if err := store.DeleteBlock(ctx, "block-1"); err != nil {
		t.Fatalf("delete block: %v", err)
	}
	got, err := store.GetBlock(ctx, "block-1")
	if err != nil {
		t.Fatalf("get deleted block: %v", err)
	}
	if got != nil {
		t.Fatalf("deleted block = %+v, want nil", got)
	}
}
