// internal/state/story.go
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/user/bedtime/internal/types"
)

// StoryStore is a JSON-file-backed story store.
// Each story is stored at stories/<storyID>.json.
type StoryStore struct {
	root string
	mu   sync.RWMutex
}

// NewStoryStore creates a new file-backed StoryStore rooted at the given directory.
func NewStoryStore(root string) *StoryStore {
	return &StoryStore{root: root}
}

func (s *StoryStore) storiesDir() string {
	return filepath.Join(s.root, "stories")
}

func (s *StoryStore) storyPath(id types.StoryID) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	return filepath.Join(s.storiesDir(), string(id)+".json"), nil
}

// checkID rejects ids that could escape the store directory.
func checkID(id types.StoryID) error {
	v := string(id)
	if v == "" || strings.ContainsAny(v, `/\`) || strings.Contains(v, "..") {
		return fmt.Errorf("%w: bad story id %q", types.ErrInvalidInput, v)
	}
	return nil
}

// Get returns the story, or ErrNotFound.
func (s *StoryStore) Get(_ context.Context, id types.StoryID) (*types.StoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

// Put writes the whole record, replacing any existing one.
func (s *StoryStore) Put(_ context.Context, record *types.StoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(record)
}

// Patch applies a partial update to an existing story.
func (s *StoryStore) Patch(_ context.Context, id types.StoryID, patch types.StoryPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.read(id)
	if err != nil {
		return err
	}
	patch.Apply(rec)
	return s.write(rec)
}

// Delete removes the story. Deleting a missing story is not an error.
func (s *StoryStore) Delete(_ context.Context, id types.StoryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.storyPath(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove story file: %w", err)
	}
	return nil
}

// ListAll returns every story ordered by id.
func (s *StoryStore) ListAll(_ context.Context) ([]*types.StoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.storiesDir())
	if err != nil {
		if os.IsNotExist(err) {
			return []*types.StoryRecord{}, nil
		}
		return nil, fmt.Errorf("read stories dir: %w", err)
	}

	records := make([]*types.StoryRecord, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		rec, err := s.read(types.StoryID(strings.TrimSuffix(name, ".json")))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records, nil
}

// Close is a no-op for the file store.
func (s *StoryStore) Close() error { return nil }

func (s *StoryStore) read(id types.StoryID) (*types.StoryRecord, error) {
	path, err := s.storyPath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("story %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("read story file: %w", err)
	}

	var rec types.StoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal story: %w", err)
	}
	rec.ID = id
	return &rec, nil
}

func (s *StoryStore) write(record *types.StoryRecord) error {
	if record == nil {
		return errors.New("nil story record")
	}
	path, err := s.storyPath(record.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal story: %w", err)
	}

	if err := os.MkdirAll(s.storiesDir(), 0o755); err != nil {
		return fmt.Errorf("create stories dir: %w", err)
	}

	// Atomic write: write to temp file then rename
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp story file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp story file: %w", err)
	}
	return nil
}
