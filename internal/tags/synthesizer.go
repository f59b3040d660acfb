// Package tags derives descriptive story tags and reconciles them with
// user edits.
package tags

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/user/bedtime/internal/generate"
	"github.com/user/bedtime/internal/prompt"
	"github.com/user/bedtime/pkg/llm"
)

const (
	// Temperature is the sampling temperature for tag extraction.
	Temperature = 0.2
	// MaxTokens bounds the tag reply.
	MaxTokens = 100
	// MaxModelTags caps how many model-suggested tags are kept.
	MaxModelTags = 8
)

// Synthesizer derives tags from story text.
type Synthesizer struct {
	provider   llm.Provider
	prompts    *prompt.Builder
	candidates generate.Candidates
}

// NewSynthesizer shares candidates (and its sticky hint) with the orchestrator.
func NewSynthesizer(provider llm.Provider, prompts *prompt.Builder, candidates generate.Candidates) *Synthesizer {
	return &Synthesizer{provider: provider, prompts: prompts, candidates: candidates}
}

// AgeCategory buckets an age into a reading-level tag.
func AgeCategory(age int) string {
	switch {
	case age <= 3:
		return "toddler"
	case age <= 5:
		return "preschool"
	case age <= 8:
		return "early-reader"
	case age <= 12:
		return "middle-grade"
	default:
		return "young-adult"
	}
}

// BaseTags are the deterministic tags derived from theme and age alone.
func BaseTags(age int, theme string) []string {
	return Normalize([]string{theme, AgeCategory(age), fmt.Sprintf("age-%d", age)})
}

// Derive returns the base tags plus up to MaxModelTags model-suggested tags.
// It asks the sticky (or primary) model about the story text first and, if
// that fails, one alternate model about the theme and age. It never errors.
func (s *Synthesizer) Derive(ctx context.Context, text string, age int, theme string) []string {
	base := BaseTags(age, theme)

	first := s.candidates.Preferred()
	if first == "" {
		return base
	}
	suggested, err := s.ask(ctx, first, s.prompts.Tags(text))
	if err != nil {
		slog.Warn("tag generation failed", "model", first, "error", err)
		alt := s.candidates.Alternate(first)
		if alt == "" {
			return base
		}
		suggested, err = s.ask(ctx, alt, s.prompts.ThemeTags(age, theme))
		if err != nil {
			slog.Warn("fallback tag generation failed", "model", alt, "error", err)
			return base
		}
	}
	return Union(base, suggested)
}

func (s *Synthesizer) ask(ctx context.Context, model, p string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	resp, err := s.provider.Complete(ctx, llm.UserPrompt(model, p, MaxTokens, Temperature))
	if err != nil {
		return nil, err
	}
	parsed := Parse(strings.TrimSpace(resp.Content))
	if len(parsed) == 0 {
		return nil, fmt.Errorf("no usable tags in reply %q", resp.Content)
	}
	if len(parsed) > MaxModelTags {
		parsed = parsed[:MaxModelTags]
	}
	return parsed, nil
}
