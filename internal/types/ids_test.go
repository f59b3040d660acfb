// internal/types/ids_test.go
package types

import (
	"strings"
	"testing"
)

func TestNewStoryID(t *testing.T) {
	id := NewStoryID()
	if id == "" {
		t.Error("expected non-empty StoryID")
	}
	if len(string(id)) != 26 {
		t.Errorf("expected ULID format, got %s", id)
	}
	if other := NewStoryID(); other == id {
		t.Errorf("expected distinct ids, got %s twice", id)
	}
}

func TestNewRequestID(t *testing.T) {
	id := NewRequestID()
	if !strings.HasPrefix(string(id), "req_") {
		t.Errorf("expected req_ prefix, got %s", id)
	}
	if len(string(id)) != 12 {
		t.Errorf("expected 12 characters, got %d (%s)", len(id), id)
	}
}

func TestClientKeyFormat(t *testing.T) {
	key := NewClientKey("telegram", "123")
	expected := ClientKey("telegram:123")
	if key != expected {
		t.Errorf("expected %s, got %s", expected, key)
	}
}
