// Package generate drives story text generation and revision across an
// ordered list of models, degrading to canned content when every model fails.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"

	"github.com/user/bedtime/internal/prompt"
	"github.com/user/bedtime/internal/types"
	"github.com/user/bedtime/pkg/llm"
)

// DefaultTemperature is the sampling temperature for generation and revision.
const DefaultTemperature = 0.7

// EditFailedNote is appended to the original text when no revision succeeded.
const EditFailedNote = "\n\n[Note: We couldn't apply your edits at this time. Please try again later.]"

// Orchestrator generates and revises story text.
type Orchestrator struct {
	provider    llm.Provider
	prompts     *prompt.Builder
	candidates  Candidates
	temperature float32
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTemperature overrides DefaultTemperature.
func WithTemperature(t float32) Option {
	return func(o *Orchestrator) {
		if t > 0 {
			o.temperature = t
		}
	}
}

// New creates an orchestrator. candidates.Models is fixed for the lifetime
// of the orchestrator.
func New(provider llm.Provider, prompts *prompt.Builder, candidates Candidates, opts ...Option) *Orchestrator {
	models := make([]string, len(candidates.Models))
	copy(models, candidates.Models)
	candidates.Models = models
	if candidates.Sticky == nil {
		candidates.Sticky = &Sticky{}
	}
	o := &Orchestrator{
		provider:    provider,
		prompts:     prompts,
		candidates:  candidates,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sticky exposes the shared last-success hint.
func (o *Orchestrator) Sticky() *Sticky {
	return o.candidates.Sticky
}

// Generate tries every model in declared order and returns the first
// non-blank story. When all fail, it returns FallbackStory. It never errors.
func (o *Orchestrator) Generate(ctx context.Context, req types.GenerationRequest) types.GeneratedContent {
	p := o.prompts.Story(req)
	maxTokens := req.Length.MaxTokens()

	for _, model := range o.candidates.Models {
		if ctx.Err() != nil {
			break
		}
		text, err := o.complete(ctx, model, p, maxTokens)
		if err != nil {
			slog.Warn("story generation failed", "model", model, "error", err)
			continue
		}
		o.candidates.Sticky.Set(model)
		slog.Info("story generated", "model", model, "chars", len(text))
		return types.GeneratedContent{Text: text, Model: model}
	}

	slog.Warn("all models failed, using fallback story", "age", req.Age, "theme", req.Theme)
	return types.GeneratedContent{Text: FallbackStory(req.Age, req.Theme), Fallback: true}
}

// Revise applies instructions to existing. It tries the sticky (or primary)
// model and then exactly one alternate. When both fail the original text is
// returned with EditFailedNote appended.
func (o *Orchestrator) Revise(ctx context.Context, existing, instructions string, req types.GenerationRequest) types.GeneratedContent {
	p := o.prompts.Edit(existing, instructions, req)
	maxTokens := req.Length.MaxTokens()

	first := o.candidates.Preferred()
	attempts := []string{first}
	if alt := o.candidates.Alternate(first); alt != "" && alt != first {
		attempts = append(attempts, alt)
	}

	for _, model := range attempts {
		if model == "" || ctx.Err() != nil {
			continue
		}
		text, err := o.complete(ctx, model, p, maxTokens)
		if err != nil {
			slog.Warn("story revision failed", "model", model, "error", err)
			continue
		}
		return types.GeneratedContent{Text: text, Model: model}
	}

	return types.GeneratedContent{Text: existing + EditFailedNote, Fallback: true}
}

func (o *Orchestrator) complete(ctx context.Context, model, p string, maxTokens int) (string, error) {
	resp, err := o.provider.Complete(ctx, llm.UserPrompt(model, p, maxTokens, o.temperature))
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrProviderUnavailable, err)
	}
	text := Clean(resp.Content)
	if text == "" {
		return "", fmt.Errorf("%w: empty output", types.ErrProviderUnavailable)
	}
	return text, nil
}

var htmlTag = regexp.MustCompile(`(?i)</?(p|br|h[1-6]|em|strong|b|i|ul|ol|li|div|span)\b[^>]*>`)

// Clean converts any HTML in model output to markdown and trims whitespace.
func Clean(s string) string {
	if htmlTag.MatchString(s) {
		md, err := htmltomarkdown.ConvertString(s)
		if err == nil {
			s = md
		}
	}
	return strings.TrimSpace(s)
}

// FallbackStory is the canned story returned when no model is usable.
func FallbackStory(age int, theme string) string {
	return fmt.Sprintf(`Once upon a time, there was a %d-year-old child who loved stories about %s.
They had many wonderful adventures and learned valuable lessons along the way.
Every night before bed, they would dream about new %s adventures.
And as they closed their eyes tonight, they knew tomorrow would bring new and exciting discoveries.
The End.`, age, theme, theme)
}
