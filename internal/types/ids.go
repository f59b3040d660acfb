// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

type StoryID string
type RequestID string
type ClientKey string

// NewStoryID returns a time-sortable story identifier.
func NewStoryID() StoryID {
	return StoryID(ulid.Make().String())
}

// NewRequestID returns a short request identifier of the form "req_a1b2c3d4".
func NewRequestID() RequestID {
	return RequestID("req_" + uuid.New().String()[:8])
}

func NewClientKey(parts ...string) ClientKey {
	return ClientKey(strings.Join(parts, ":"))
}
