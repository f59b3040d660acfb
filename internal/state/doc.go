// Package state provides story and object storage implementations.
package state

import "github.com/user/bedtime/internal/types"

// Compile-time interface compliance checks.
var _ types.StoryStore = (*StoryStore)(nil)
var _ types.StoryStore = (*SQLiteStore)(nil)
var _ types.StoryStore = (*FirestoreStore)(nil)
var _ types.ObjectStore = (*BlobStore)(nil)
