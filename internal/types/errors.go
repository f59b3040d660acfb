// internal/types/errors.go
package types

import "errors"

// Failure categories shared by every component. Wrap with fmt.Errorf("...: %w")
// and test with errors.Is. Persistence errors are never re-tagged.
var (
	ErrRateLimited         = errors.New("rate limited")
	ErrInvalidInput        = errors.New("invalid input")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrNotFound            = errors.New("not found")
)
