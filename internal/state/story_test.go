// internal/state/story_test.go
package state

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/user/bedtime/internal/types"
)

func sampleStory(id string) *types.StoryRecord {
	return &types.StoryRecord{
		ID:   types.StoryID(id),
		Text: "Once upon a time.",
		Metadata: types.Metadata{
			Title:     "The Sleepy Whale",
			Prompt:    "a whale",
			Age:       6,
			Theme:     "ocean",
			Length:    types.LengthShort,
			Tags:      []string{"ocean", "early-reader", "age-6"},
			CreatedAt: time.Date(2024, 5, 1, 20, 0, 0, 0, time.UTC),
			OwnerID:   "u1",
		},
	}
}

// runStoreContract exercises the behaviour every StoryStore must share.
func runStoreContract(t *testing.T, store types.StoryStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound for missing story, got %v", err)
	}

	empty, err := store.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty list, got %d", len(empty))
	}

	if err := store.Put(ctx, sampleStory("01B")); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(ctx, sampleStory("01A")); err != nil {
		t.Fatal(err)
	}

	got, err := store.Get(ctx, "01B")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != "01B" || got.Text != "Once upon a time." || got.Metadata.Title != "The Sleepy Whale" {
		t.Errorf("unexpected record %+v", got)
	}
	if !got.Metadata.CreatedAt.Equal(sampleStory("").Metadata.CreatedAt) {
		t.Errorf("createdAt mismatch: %v", got.Metadata.CreatedAt)
	}

	tags := []string{"whales"}
	audio := "https://example/audio/01B.mp3"
	edited := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	err = store.Patch(ctx, "01B", types.StoryPatch{Tags: &tags, AudioURL: &audio, LastEdited: &edited})
	if err != nil {
		t.Fatal(err)
	}
	got, _ = store.Get(ctx, "01B")
	if !reflect.DeepEqual(got.Metadata.Tags, tags) {
		t.Errorf("tags not patched: %v", got.Metadata.Tags)
	}
	if got.Metadata.AudioURL != audio {
		t.Errorf("audio url not patched: %q", got.Metadata.AudioURL)
	}
	if got.Metadata.LastEdited == nil || !got.Metadata.LastEdited.Equal(edited) {
		t.Errorf("lastEdited not patched: %v", got.Metadata.LastEdited)
	}
	if got.Metadata.Title != "The Sleepy Whale" {
		t.Error("patch must leave other fields unchanged")
	}

	if err := store.Patch(ctx, "missing", types.StoryPatch{Tags: &tags}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound patching a missing story, got %v", err)
	}

	all, err := store.ListAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || all[0].ID != "01A" || all[1].ID != "01B" {
		t.Errorf("expected [01A 01B], got %d records", len(all))
	}

	if err := store.Delete(ctx, "01B"); err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(ctx, "01B"); err != nil {
		t.Errorf("second delete must succeed, got %v", err)
	}
	if _, err := store.Get(ctx, "01B"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestStoryStore(t *testing.T) {
	store := NewStoryStore(t.TempDir())
	defer store.Close()
	runStoreContract(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "db", "stories.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	runStoreContract(t, store)
}

func TestSQLiteStorePersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stories.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Put(context.Background(), sampleStory("01X")); err != nil {
		t.Fatal(err)
	}
	store.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if _, err := reopened.Get(context.Background(), "01X"); err != nil {
		t.Errorf("expected story to survive reopen, got %v", err)
	}
}

func TestStoryStoreRejectsTraversal(t *testing.T) {
	store := NewStoryStore(t.TempDir())
	for _, id := range []types.StoryID{"../escape", "a/b", ""} {
		rec := sampleStory(string(id))
		if err := store.Put(context.Background(), rec); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("id %q: expected ErrInvalidInput, got %v", id, err)
		}
	}
}

func TestStoryStoreJSONShape(t *testing.T) {
	dir := t.TempDir()
	store := NewStoryStore(dir)
	if err := store.Put(context.Background(), sampleStory("01S")); err != nil {
		t.Fatal(err)
	}
	raw, err := readFile(filepath.Join(dir, "stories", "01S.json"))
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"story"`, `"metadata"`, `"createdAt"`, `"userId"`} {
		if !contains(raw, key) {
			t.Errorf("stored document missing %s", key)
		}
	}
}
