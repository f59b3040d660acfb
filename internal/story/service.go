// Package story composes generation, tagging, narration and persistence into
// the operations exposed by the HTTP API, the Telegram bot and the CLI.
package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/user/bedtime/internal/audio"
	"github.com/user/bedtime/internal/generate"
	"github.com/user/bedtime/internal/query"
	"github.com/user/bedtime/internal/tags"
	"github.com/user/bedtime/internal/types"
	"github.com/user/bedtime/pkg/tts"
)

// Service is safe for concurrent use.
type Service struct {
	stories  types.StoryStore
	gen      *generate.Orchestrator
	tagger   *tags.Synthesizer
	audio    *audio.Pipeline
	speech   tts.Synthesizer
	provider string
	now      func() time.Time
}

// Config wires a Service.
type Config struct {
	Stories   types.StoryStore
	Generator *generate.Orchestrator
	Tagger    *tags.Synthesizer
	Audio     *audio.Pipeline
	Speech    tts.Synthesizer
	// Provider is recorded on generated stories (e.g. "google").
	Provider string
}

// New creates a Service.
func New(cfg Config) *Service {
	return &Service{
		stories:  cfg.Stories,
		gen:      cfg.Generator,
		tagger:   cfg.Tagger,
		audio:    cfg.Audio,
		speech:   cfg.Speech,
		provider: cfg.Provider,
		now:      time.Now,
	}
}

// Result is the outcome of a generate or edit call.
type Result struct {
	Record   *types.StoryRecord
	Fallback bool
	Saved    bool
	// AudioError is set when requested narration failed after the text was stored.
	AudioError string
}

// GenerateInput is a story generation request.
type GenerateInput struct {
	types.GenerationRequest
	Title      string
	CustomTags []string
	Categories []string
	OwnerID    string
	Save       bool
}

// Generate writes a new story and derives its tags. The story is returned as
// a draft unless Save is set.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*Result, error) {
	length, err := types.ParseLengthClass(string(in.Length))
	if err != nil {
		return nil, err
	}
	in.Length = length
	if err := in.Validate(); err != nil {
		return nil, err
	}

	content := s.gen.Generate(ctx, in.GenerationRequest)
	derived := s.tagger.Derive(ctx, content.Text, in.Age, in.Theme)
	storyTags := derived
	if in.CustomTags != nil {
		storyTags = tags.Reconcile(derived, tags.Ops{Custom: in.CustomTags})
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = deriveTitle(content.Text, in.Theme)
	}

	rec := &types.StoryRecord{
		ID:   types.NewStoryID(),
		Text: content.Text,
		Metadata: types.Metadata{
			Title:      title,
			Prompt:     in.Prompt,
			Age:        in.Age,
			Theme:      in.Theme,
			Length:     in.Length,
			Tags:       storyTags,
			Categories: cleanCategories(in.Categories),
			CreatedAt:  s.now().UTC(),
			OwnerID:    in.OwnerID,
			Provider:   s.provider,
			Model:      content.Model,
		},
	}

	res := &Result{Record: rec, Fallback: content.Fallback}
	if in.Save {
		if err := s.stories.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("save story: %w", err)
		}
		res.Saved = true
	}
	slog.Info("story generated", "story_id", rec.ID, "model", content.Model, "fallback", content.Fallback, "saved", res.Saved)
	return res, nil
}

// Save persists a draft. A missing creation time is set to now.
func (s *Service) Save(ctx context.Context, rec *types.StoryRecord) error {
	if rec == nil || rec.ID == "" || strings.TrimSpace(rec.Text) == "" {
		return fmt.Errorf("%w: id, story and metadata are required", types.ErrInvalidInput)
	}
	if rec.Metadata.CreatedAt.IsZero() {
		rec.Metadata.CreatedAt = s.now().UTC()
	}
	if rec.Metadata.Length == "" {
		rec.Metadata.Length = types.LengthMedium
	}
	rec.Metadata.Tags = tags.Normalize(rec.Metadata.Tags)
	rec.Metadata.Categories = cleanCategories(rec.Metadata.Categories)
	if err := s.stories.Put(ctx, rec); err != nil {
		return fmt.Errorf("save story: %w", err)
	}
	return nil
}

// Get returns a stored story or ErrNotFound.
func (s *Service) Get(ctx context.Context, id types.StoryID) (*types.StoryRecord, error) {
	return s.stories.Get(ctx, id)
}

// EditInput describes a revision. Nil pointers keep stored values.
type EditInput struct {
	Instructions    string
	Tags            tags.Ops
	Categories      *[]string
	Title           *string
	Prompt          *string
	Age             *int
	Theme           *string
	Length          *types.LengthClass
	RegenerateAudio bool
	Voice           tts.VoiceSpec
}

// Edit revises a stored story, re-derives its tags and applies field and
// tag edits. When revision fails the stored text is left untouched.
func (s *Service) Edit(ctx context.Context, id types.StoryID, in EditInput) (*Result, error) {
	if strings.TrimSpace(in.Instructions) == "" {
		return nil, fmt.Errorf("%w: editInstructions is required", types.ErrInvalidInput)
	}
	rec, err := s.stories.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	req := types.GenerationRequest{
		Prompt: pick(in.Prompt, rec.Metadata.Prompt),
		Age:    pick(in.Age, rec.Metadata.Age),
		Theme:  pick(in.Theme, rec.Metadata.Theme),
		Length: pick(in.Length, rec.Metadata.Length),
	}
	if req.Length, err = types.ParseLengthClass(string(req.Length)); err != nil {
		return nil, err
	}
	if req.Age <= 0 {
		return nil, fmt.Errorf("%w: age must be positive", types.ErrInvalidInput)
	}

	content := s.gen.Revise(ctx, rec.Text, in.Instructions, req)

	tagSource := content.Text
	if content.Fallback {
		tagSource = rec.Text
	}
	derived := s.tagger.Derive(ctx, tagSource, req.Age, req.Theme)
	newTags := tags.Reconcile(derived, in.Tags)

	patch := types.StoryPatch{
		Title:      in.Title,
		Prompt:     in.Prompt,
		Age:        in.Age,
		Theme:      in.Theme,
		Length:     &req.Length,
		Tags:       &newTags,
		Categories: cleanCategoriesPtr(in.Categories),
	}
	if !content.Fallback {
		now := s.now().UTC()
		patch.Text = &content.Text
		patch.LastEdited = &now
		patch.EditInstructions = &in.Instructions
	}
	if err := s.stories.Patch(ctx, id, patch); err != nil {
		return nil, fmt.Errorf("update story: %w", err)
	}

	res := &Result{Fallback: content.Fallback, Saved: true}
	if in.RegenerateAudio && !content.Fallback {
		if _, err := s.narrate(ctx, content.Text, in.Voice, id); err != nil {
			slog.Warn("audio regeneration failed", "story_id", id, "error", err)
			res.AudioError = err.Error()
		}
	}

	updated, err := s.stories.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if content.Fallback {
		// callers see the notice; the stored text stays as it was
		updated.Text = content.Text
	}
	res.Record = updated
	return res, nil
}

// UpdateTags applies add/remove/replace edits to a story's stored tags.
func (s *Service) UpdateTags(ctx context.Context, id types.StoryID, ops tags.Ops) ([]string, error) {
	rec, err := s.stories.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	newTags := tags.Reconcile(rec.Metadata.Tags, ops)
	now := s.now().UTC()
	if err := s.stories.Patch(ctx, id, types.StoryPatch{Tags: &newTags, LastTagUpdate: &now}); err != nil {
		return nil, fmt.Errorf("update tags: %w", err)
	}
	return newTags, nil
}

// UpdateCategories replaces a story's categories. A nil slice is rejected.
func (s *Service) UpdateCategories(ctx context.Context, id types.StoryID, categories []string) ([]string, error) {
	if categories == nil {
		return nil, fmt.Errorf("%w: categories must be an array", types.ErrInvalidInput)
	}
	if _, err := s.stories.Get(ctx, id); err != nil {
		return nil, err
	}
	cats := cleanCategories(categories)
	now := s.now().UTC()
	if err := s.stories.Patch(ctx, id, types.StoryPatch{Categories: &cats, LastCategoryUpdate: &now}); err != nil {
		return nil, fmt.Errorf("update categories: %w", err)
	}
	return cats, nil
}

// Delete removes a story's audio and then the story itself.
func (s *Service) Delete(ctx context.Context, id types.StoryID) error {
	if _, err := s.stories.Get(ctx, id); err != nil {
		return err
	}
	if err := s.audio.DeleteAsset(ctx, id); err != nil {
		return err
	}
	if err := s.stories.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	slog.Info("story deleted", "story_id", id)
	return nil
}

// AudioInput is a narration request. Text may be empty when StoryID names a
// stored story.
type AudioInput struct {
	Text    string
	Voice   tts.VoiceSpec
	StoryID types.StoryID
}

// GenerateAudio narrates text and, when StoryID names a stored story,
// records the asset on it.
func (s *Service) GenerateAudio(ctx context.Context, in AudioInput) (string, error) {
	text := in.Text
	if strings.TrimSpace(text) == "" && in.StoryID != "" {
		rec, err := s.stories.Get(ctx, in.StoryID)
		if err != nil {
			return "", err
		}
		text = rec.Text
	}
	return s.narrate(ctx, text, in.Voice, in.StoryID)
}

func (s *Service) narrate(ctx context.Context, text string, voice tts.VoiceSpec, id types.StoryID) (string, error) {
	voice = voice.WithDefaults(s.audio.DefaultVoice())
	url, err := s.audio.Synthesize(ctx, text, voice, id)
	if err != nil {
		return "", err
	}
	if id == "" {
		return url, nil
	}
	patch := types.StoryPatch{AudioURL: &url, VoiceID: &voice.Name, SpeakingRate: &voice.SpeakingRate}
	err = s.stories.Patch(ctx, id, patch)
	switch {
	case errors.Is(err, types.ErrNotFound):
		// draft not saved yet; the caller keeps the url
	case err != nil:
		return "", fmt.Errorf("record audio url: %w", err)
	}
	return url, nil
}

// List runs a query over every stored story.
func (s *Service) List(ctx context.Context, f query.Filter) (query.Result, error) {
	if err := f.Validate(); err != nil {
		return query.Result{}, err
	}
	all, err := s.stories.ListAll(ctx)
	if err != nil {
		return query.Result{}, fmt.Errorf("list stories: %w", err)
	}
	return query.Run(all, f)
}

// Tags returns every tag in use.
func (s *Service) Tags(ctx context.Context) ([]string, error) {
	all, err := s.stories.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return query.AllTags(all), nil
}

// Categories returns every category in use.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	all, err := s.stories.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}
	return query.AllCategories(all), nil
}

// Count returns the number of stored stories.
func (s *Service) Count(ctx context.Context) (int, error) {
	all, err := s.stories.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// Voices lists speech voices for languageCode.
func (s *Service) Voices(ctx context.Context, languageCode string) ([]tts.Voice, error) {
	if s.speech == nil {
		return nil, fmt.Errorf("%w: speech backend not configured", types.ErrProviderUnavailable)
	}
	voices, err := s.speech.ListVoices(ctx, languageCode)
	if err != nil {
		return nil, fmt.Errorf("%w: list voices: %v", types.ErrProviderUnavailable, err)
	}
	return voices, nil
}

func pick[T any](override *T, stored T) T {
	if override != nil {
		return *override
	}
	return stored
}

// cleanCategories trims, drops empties and dedupes, keeping case.
func cleanCategories(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, c := range in {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func cleanCategoriesPtr(in *[]string) *[]string {
	if in == nil {
		return nil
	}
	c := cleanCategories(*in)
	return &c
}

// deriveTitle uses a short first line of the story, or "<Theme> Story".
func deriveTitle(text, theme string) string {
	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	first = strings.TrimSpace(strings.Trim(first, "#*_ "))
	if first != "" && len([]rune(first)) <= 80 && !strings.HasSuffix(first, ".") {
		return first
	}
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return "Bedtime Story"
	}
	r := []rune(theme)
	return strings.ToUpper(string(r[0])) + string(r[1:]) + " Story"
}
