package state

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/user/bedtime/internal/types"
)

// DefaultFirestoreCollection holds one document per story.
const DefaultFirestoreCollection = "stories"

// FirestoreStore keeps stories in a Firestore collection keyed by story id.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore connects to projectID. FIRESTORE_EMULATOR_HOST is honoured
// by the client library.
func NewFirestoreStore(ctx context.Context, projectID, collection string) (*FirestoreStore, error) {
	if projectID == "" {
		return nil, fmt.Errorf("firestore project id is required")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore client: %w", err)
	}
	if collection == "" {
		collection = DefaultFirestoreCollection
	}
	return &FirestoreStore{client: client, collection: collection}, nil
}

func (s *FirestoreStore) doc(id types.StoryID) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(string(id))
}

// Get returns the story, or ErrNotFound.
func (s *FirestoreStore) Get(ctx context.Context, id types.StoryID) (*types.StoryRecord, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	snap, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("story %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	return decodeSnapshot(snap)
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*types.StoryRecord, error) {
	var rec types.StoryRecord
	if err := snap.DataTo(&rec); err != nil {
		return nil, fmt.Errorf("decode story %s: %w", snap.Ref.ID, err)
	}
	rec.ID = types.StoryID(snap.Ref.ID)
	return &rec, nil
}

// Put writes the whole record, replacing any existing one.
func (s *FirestoreStore) Put(ctx context.Context, record *types.StoryRecord) error {
	if err := checkID(record.ID); err != nil {
		return err
	}
	if _, err := s.doc(record.ID).Set(ctx, record); err != nil {
		return fmt.Errorf("set story: %w", err)
	}
	return nil
}

// Patch updates only the fields present in patch.
func (s *FirestoreStore) Patch(ctx context.Context, id types.StoryID, patch types.StoryPatch) error {
	if err := checkID(id); err != nil {
		return err
	}
	updates := firestoreUpdates(patch)
	if len(updates) == 0 {
		return nil
	}
	_, err := s.doc(id).Update(ctx, updates)
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("story %s: %w", id, types.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update story: %w", err)
	}
	return nil
}

// firestoreUpdates maps each set patch field to its document path.
func firestoreUpdates(p types.StoryPatch) []firestore.Update {
	var u []firestore.Update
	add := func(path string, v any) {
		u = append(u, firestore.Update{Path: path, Value: v})
	}
	if p.Text != nil {
		add("story", *p.Text)
	}
	if p.Title != nil {
		add("metadata.title", *p.Title)
	}
	if p.Prompt != nil {
		add("metadata.prompt", *p.Prompt)
	}
	if p.Age != nil {
		add("metadata.age", *p.Age)
	}
	if p.Theme != nil {
		add("metadata.theme", *p.Theme)
	}
	if p.Length != nil {
		add("metadata.length", string(*p.Length))
	}
	if p.Tags != nil {
		add("metadata.tags", *p.Tags)
	}
	if p.Categories != nil {
		add("metadata.categories", *p.Categories)
	}
	if p.LastEdited != nil {
		add("metadata.lastEdited", *p.LastEdited)
	}
	if p.EditInstructions != nil {
		add("metadata.editInstructions", *p.EditInstructions)
	}
	if p.LastTagUpdate != nil {
		add("metadata.lastTagUpdate", *p.LastTagUpdate)
	}
	if p.LastCategoryUpdate != nil {
		add("metadata.lastCategoryUpdate", *p.LastCategoryUpdate)
	}
	if p.AudioURL != nil {
		add("metadata.audioUrl", *p.AudioURL)
	}
	if p.VoiceID != nil {
		add("metadata.voiceId", *p.VoiceID)
	}
	if p.SpeakingRate != nil {
		add("metadata.speakingRate", *p.SpeakingRate)
	}
	return u
}

// Delete removes the story. Deleting a missing story is not an error.
func (s *FirestoreStore) Delete(ctx context.Context, id types.StoryID) error {
	if err := checkID(id); err != nil {
		return err
	}
	if _, err := s.doc(id).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("delete story: %w", err)
	}
	return nil
}

// ListAll returns every story in the collection.
func (s *FirestoreStore) ListAll(ctx context.Context) ([]*types.StoryRecord, error) {
	snaps, err := s.client.Collection(s.collection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	records := make([]*types.StoryRecord, 0, len(snaps))
	for _, snap := range snaps {
		rec, err := decodeSnapshot(snap)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close releases the client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
