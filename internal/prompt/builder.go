// Package prompt renders the model prompts used for story generation, revision
// and tagging, keeping user-supplied text inside the model's context budget.
package prompt

import (
	"bytes"
	"log/slog"
	"text/template"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/bedtime/internal/types"
)

// TagExcerptChars bounds how much story text is sent for tag extraction.
const TagExcerptChars = 2000

// maxInstructionTokens caps edit instructions regardless of remaining budget.
const maxInstructionTokens = 512

// minPromptTokens is the floor kept for a user prompt once templates are counted.
const minPromptTokens = 64

// Builder renders prompts within a token budget.
type Builder struct {
	tokenizer        *tiktoken.Tiktoken
	maxContextTokens int
}

// New creates a builder for model with a context window of maxContextTokens.
// When no tokenizer can be loaded, token counts fall back to a four
// characters per token estimate.
func New(model string, maxContextTokens int) *Builder {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		// Gemini and other non-OpenAI models are counted with cl100k_base
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tokenizer unavailable, estimating token counts", "model", model, "error", err)
			enc = nil
		}
	}
	return &Builder{tokenizer: enc, maxContextTokens: maxContextTokens}
}

// NewEstimating creates a builder that never loads a tokenizer.
func NewEstimating(maxContextTokens int) *Builder {
	return &Builder{maxContextTokens: maxContextTokens}
}

// CountTokens returns the token count for text.
func (b *Builder) CountTokens(text string) int {
	if b.tokenizer == nil {
		return (utf8.RuneCountInString(text) + 3) / 4
	}
	return len(b.tokenizer.Encode(text, nil, nil))
}

// truncate cuts text to at most n tokens.
func (b *Builder) truncate(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if b.tokenizer == nil {
		runes := []rune(text)
		if len(runes) <= n*4 {
			return text
		}
		return string(runes[:n*4])
	}
	toks := b.tokenizer.Encode(text, nil, nil)
	if len(toks) <= n {
		return text
	}
	return b.tokenizer.Decode(toks[:n])
}

// inputBudget is what remains of the context window after reserving output.
func (b *Builder) inputBudget(outputTokens int) int {
	if b.maxContextTokens <= 0 {
		return 0
	}
	return b.maxContextTokens - outputTokens
}

// Story renders the combined generation prompt for req.
func (b *Builder) Story(req types.GenerationRequest) string {
	data := storyData{
		Age:    req.Age,
		Theme:  req.Theme,
		Length: string(req.Length),
		Prompt: req.Prompt,
	}
	if budget := b.inputBudget(req.Length.MaxTokens()); budget > 0 {
		frame := b.CountTokens(render(storyTemplate, storyData{Age: req.Age, Theme: req.Theme, Length: data.Length}))
		data.Prompt = b.truncate(data.Prompt, max(budget-frame, minPromptTokens))
	}
	return render(storyTemplate, data)
}

// Edit renders the revision prompt. The existing story is never truncated.
func (b *Builder) Edit(existing, instructions string, req types.GenerationRequest) string {
	limit := maxInstructionTokens
	if budget := b.inputBudget(req.Length.MaxTokens()); budget > 0 {
		frame := b.CountTokens(render(editTemplate, editData{
			Age: req.Age, Theme: req.Theme, Length: string(req.Length), Existing: existing,
		}))
		limit = min(limit, max(budget-frame, minPromptTokens))
	}
	return render(editTemplate, editData{
		Age:          req.Age,
		Theme:        req.Theme,
		Length:       string(req.Length),
		Instructions: b.truncate(instructions, limit),
		Existing:     existing,
	})
}

// Tags renders the tag-extraction prompt over the opening of text.
func (b *Builder) Tags(text string) string {
	return render(tagsTemplate, tagsData{Excerpt: Excerpt(text, TagExcerptChars)})
}

// ThemeTags renders the content-free tagging prompt used as the alternate.
func (b *Builder) ThemeTags(age int, theme string) string {
	return render(themeTagsTemplate, themeTagsData{Age: age, Theme: theme})
}

// Excerpt returns the first n characters of text.
func Excerpt(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}

func render(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		slog.Error("render prompt", "template", t.Name(), "error", err)
	}
	return buf.String()
}
