package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/recallkit/recallkit/internal/metastore/storage"
)

func TestPresetRoundTripAndDuplicateID(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreatePreset(ctx, storage.Preset{
		ID:          "preset-1",
		UserID:      "user-1",
		Name:        "default_chat",
		Description: "Default chat preset",
		System:      "You are a helpful assistant.",
		Human:       "Name: Alice",
		HumanName:   "basic",
		Persona:     "Helpful assistant",
		PersonaName: "sam",
		FunctionsSchema: []map[string]any{
			{"name": "send_message"},
			{"name": "archival_search"},
		},
	}); err != nil {
		t.Fatalf("create preset: %v", err)
	}

	err = store.CreatePreset(ctx, storage.Preset{ID: "preset-1", UserID: "user-1", Name: "other"})
	if !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("duplicate id err = %v, want ErrAlreadyExists", err)
	}

	got, err := store.GetPresetByName(ctx, "user-1", "default_chat")
	if err != nil {
		t.Fatalf("get preset by name: %v", err)
	}
	if got == nil || got.ID != "preset-1" {
		t.Fatalf("preset by name = %+v, want preset-1", got)
	}
	if len(got.FunctionsSchema) != 2 || got.FunctionsSchema[0]["name"] != "send_message" {
		t.Fatalf("functions schema = %v, want 2 entries", got.FunctionsSchema)
	}
}

func TestPresetSourcesReplaceSet(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreatePreset(ctx, storage.Preset{ID: "preset-1", UserID: "user-1", Name: "chat"}); err != nil {
		t.Fatalf("create preset: %v", err)
	}

	if err := store.SetPresetSources(ctx, "preset-1", []string{"source-1", "source-2"}); err != nil {
		t.Fatalf("set preset sources: %v", err)
	}
	sources, err := store.ListPresetSources(ctx, "preset-1")
	if err != nil {
		t.Fatalf("list preset sources: %v", err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %v, want 2", sources)
	}

	if err := store.SetPresetSources(ctx, "preset-1", []string{"source-3"}); err != nil {
		t.Fatalf("replace preset sources: %v", err)
	}
	sources, err = store.ListPresetSources(ctx, "preset-1")
	if err != nil {
		t.Fatalf("list replaced sources: %v", err)
	}
	if len(sources) != 1 || sources[0] != "source-3" {
		t.Fatalf("sources = %v, want [source-3]", sources)
	}

	if err := store.SetPresetSources(ctx, "no-such-preset", []string{"source-1"}); err == nil {
		t.Fatalf("set sources on missing preset succeeded, want error")
	}
}

func TestDeletePresetRemovesMappings(t *testing.T) {
	store, err := Open(t.TempDir() + "/metadata.db")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.CreatePreset(ctx, storage.Preset{ID: "preset-1", UserID: "user-1", Name: "chat"}); err != nil {
		t.Fatalf("create preset: %v", err)
	}
	if err := store.SetPresetSources(ctx, "preset-1", []string{"source-1"}); err != nil {
		t.Fatalf("set preset sources: %v", err)
	}

	if err := store.DeletePreset(ctx, "user-1", "chat"); err != nil {
		t.Fatalf("delete preset: %v", err)
	}

	got, err := store.GetPreset(ctx, "preset-1")
	if err != nil {
		t.Fatalf("get deleted preset: %v", err)
	}
	if got != nil {
		t.Fatalf("deleted preset = %+v, want nil", got)
	}
	var mappings int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM preset_source_mappings WHERE preset_id = 'preset-1'`).Scan(&mappings); err != nil {
		t.Fatalf("count mappings: %v", err)
	}
	if mappings != 0 {
		t.Fatalf("mappings = %d, want 0", mappings)
	}

	if err := store.DeletePreset(ctx, "user-1", "chat"); err != nil {
		t.Fatalf("delete missing preset: %v", err)
	}

	page, err := store.ListPresetsByUser(ctx, "user-1", 10, "")
	if err != nil {
		t.Fatalf("list presets: %v", err)
	}
	if len(page.Presets) != 0 {
		t.Fatalf("presets = %+v, want none", page.Presets)
	}
}
