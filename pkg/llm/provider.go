package llm

import (
	"context"
	"time"
)

// Provider defines the interface for interacting with text-generation backends.
// Implementations handle protocol-specific details such as request formatting,
// authentication, and response parsing. One call is one bounded request: no
// retries happen inside a Provider.
type Provider interface {
	// Complete sends a single completion request for req.Model and returns the full response.
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// Config holds common configuration for LLM providers.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// ProviderFunc adapts an ordinary function to the Provider interface.
type ProviderFunc func(ctx context.Context, req *Request) (*Response, error)

// Complete calls f(ctx, req).
func (f ProviderFunc) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}
