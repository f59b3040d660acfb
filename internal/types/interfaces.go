// internal/types/interfaces.go
package types

import (
	"context"
	"io"
)

// StoryStore persists story documents. Get returns ErrNotFound when the
// story does not exist.
type StoryStore interface {
	Get(ctx context.Context, id StoryID) (*StoryRecord, error)
	Put(ctx context.Context, record *StoryRecord) error
	Patch(ctx context.Context, id StoryID, patch StoryPatch) error
	Delete(ctx context.Context, id StoryID) error
	ListAll(ctx context.Context) ([]*StoryRecord, error)
	Close() error
}

// ObjectStore holds binary assets addressed by key. Delete of a missing key
// is not an error.
type ObjectStore interface {
	Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}
