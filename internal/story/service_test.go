package story

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/user/bedtime/internal/audio"
	"github.com/user/bedtime/internal/generate"
	"github.com/user/bedtime/internal/prompt"
	"github.com/user/bedtime/internal/query"
	"github.com/user/bedtime/internal/state"
	"github.com/user/bedtime/internal/tags"
	"github.com/user/bedtime/internal/types"
	"github.com/user/bedtime/pkg/llm"
	"github.com/user/bedtime/pkg/tts"
)

type fakeSpeech struct {
	SynthesizeFunc func(ctx context.Context, text string, voice tts.VoiceSpec) ([]byte, error)
	voices         []tts.Voice
}

func (f *fakeSpeech) Synthesize(ctx context.Context, text string, voice tts.VoiceSpec) ([]byte, error) {
	if f.SynthesizeFunc != nil {
		return f.SynthesizeFunc(ctx, text, voice)
	}
	return []byte("audio:" + text), nil
}

func (f *fakeSpeech) ListVoices(ctx context.Context, lang string) ([]tts.Voice, error) {
	return f.voices, nil
}

// storyModel answers story, edit and tag prompts with fixed text.
func storyModel(ctx context.Context, r *llm.Request) (*llm.Response, error) {
	p := r.Messages[0].Content
	switch {
	case strings.Contains(p, "comma-separated"):
		return &llm.Response{Content: "whales, moon"}, nil
	case strings.HasPrefix(p, "Edit the following"):
		return &llm.Response{Content: "Edited story."}, nil
	default:
		return &llm.Response{Content: "Generated story text."}, nil
	}
}

func downModel(ctx context.Context, r *llm.Request) (*llm.Response, error) {
	return nil, errors.New("backend down")
}

type fixture struct {
	svc     *Service
	stories *state.StoryStore
	blobs   *state.BlobStore
	speech  *fakeSpeech
	clock   time.Time
}

func newFixture(t *testing.T, model llm.ProviderFunc) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		stories: state.NewStoryStore(filepath.Join(dir, "data")),
		blobs:   state.NewBlobStore(filepath.Join(dir, "media"), "http://localhost:8484"),
		speech:  &fakeSpeech{},
		clock:   time.Date(2024, 6, 1, 19, 30, 0, 0, time.UTC),
	}
	candidates := generate.Candidates{Models: []string{"m1", "m2"}, Sticky: &generate.Sticky{}}
	prompts := prompt.NewEstimating(32000)
	f.svc = New(Config{
		Stories:   f.stories,
		Generator: generate.New(model, prompts, candidates),
		Tagger:    tags.NewSynthesizer(model, prompts, candidates),
		Audio:     audio.New(f.speech, f.blobs, audio.WithStager(audio.TempFileStager{Dir: filepath.Join(dir, "staging")})),
		Speech:    f.speech,
		Provider:  "google",
	})
	f.svc.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) seed(t *testing.T, id string) *types.StoryRecord {
	t.Helper()
	rec := &types.StoryRecord{
		ID:   types.StoryID(id),
		Text: "Original story.",
		Metadata: types.Metadata{
			Title:      "Moon Story",
			Prompt:     "the moon",
			Age:        6,
			Theme:      "space",
			Length:     types.LengthMedium,
			Tags:       []string{"space", "early-reader", "age-6"},
			Categories: []string{"favorites"},
			CreatedAt:  f.clock.Add(-time.Hour),
		},
	}
	if err := f.stories.Put(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	return rec
}

func TestGenerateDraft(t *testing.T) {
	f := newFixture(t, storyModel)
	res, err := f.svc.Generate(context.Background(), GenerateInput{
		GenerationRequest: types.GenerationRequest{Prompt: "whales", Age: 6, Theme: "Ocean"},
		CustomTags:        []string{"Favorite"},
		Categories:        []string{"bedtime", " bedtime "},
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := res.Record
	if rec.Text != "Generated story text." || res.Fallback || res.Saved {
		t.Errorf("unexpected result %+v", res)
	}
	want := []string{"ocean", "early-reader", "age-6", "whales", "moon", "favorite"}
	if !reflect.DeepEqual(rec.Metadata.Tags, want) {
		t.Errorf("tags = %v, want %v", rec.Metadata.Tags, want)
	}
	if !reflect.DeepEqual(rec.Metadata.Categories, []string{"bedtime"}) {
		t.Errorf("categories = %v", rec.Metadata.Categories)
	}
	if rec.Metadata.Length != types.LengthMedium || rec.Metadata.Provider != "google" || rec.Metadata.Model != "m1" {
		t.Errorf("unexpected metadata %+v", rec.Metadata)
	}
	if rec.Metadata.Title != "Ocean Story" {
		t.Errorf("unexpected derived title %q", rec.Metadata.Title)
	}
	if _, err := f.stories.Get(context.Background(), rec.ID); !errors.Is(err, types.ErrNotFound) {
		t.Error("a draft must not be persisted")
	}
}

func TestGenerateSave(t *testing.T) {
	f := newFixture(t, storyModel)
	res, err := f.svc.Generate(context.Background(), GenerateInput{
		GenerationRequest: types.GenerationRequest{Prompt: "p", Age: 4, Theme: "farm", Length: types.LengthShort},
		Title:             "Barn Night",
		OwnerID:           "u1",
		Save:              true,
	})
	if err != nil {
		t.Fatal(err)
	}
	stored, err := f.stories.Get(context.Background(), res.Record.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Metadata.Title != "Barn Night" || stored.Metadata.OwnerID != "u1" || !stored.Metadata.CreatedAt.Equal(f.clock) {
		t.Errorf("unexpected stored metadata %+v", stored.Metadata)
	}
}

func TestGenerateValidation(t *testing.T) {
	f := newFixture(t, storyModel)
	bad := []types.GenerationRequest{
		{Prompt: "", Age: 5, Theme: "t"},
		{Prompt: "p", Age: 0, Theme: "t"},
		{Prompt: "p", Age: 5, Theme: " "},
		{Prompt: "p", Age: 5, Theme: "t", Length: "epic"},
	}
	for _, req := range bad {
		if _, err := f.svc.Generate(context.Background(), GenerateInput{GenerationRequest: req}); !errors.Is(err, types.ErrInvalidInput) {
			t.Errorf("%+v: expected ErrInvalidInput, got %v", req, err)
		}
	}
}

func TestGenerateProviderDownStillReturnsStory(t *testing.T) {
	f := newFixture(t, downModel)
	res, err := f.svc.Generate(context.Background(), GenerateInput{
		GenerationRequest: types.GenerationRequest{Prompt: "p", Age: 6, Theme: "ocean"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fallback || !strings.Contains(res.Record.Text, "6-year-old") {
		t.Errorf("expected fallback story, got %+v", res)
	}
	if !reflect.DeepEqual(res.Record.Metadata.Tags, tags.BaseTags(6, "ocean")) {
		t.Errorf("expected base tags, got %v", res.Record.Metadata.Tags)
	}
}

func TestSave(t *testing.T) {
	f := newFixture(t, storyModel)
	rec := &types.StoryRecord{ID: "01S", Text: "A story", Metadata: types.Metadata{Tags: []string{"A", "a"}}}
	if err := f.svc.Save(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	stored, _ := f.stories.Get(context.Background(), "01S")
	if !stored.Metadata.CreatedAt.Equal(f.clock) {
		t.Errorf("expected createdAt set, got %v", stored.Metadata.CreatedAt)
	}
	if !reflect.DeepEqual(stored.Metadata.Tags, []string{"a"}) {
		t.Errorf("expected normalized tags, got %v", stored.Metadata.Tags)
	}
	if err := f.svc.Save(context.Background(), &types.StoryRecord{ID: "x"}); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for empty story, got %v", err)
	}
}

func TestEdit(t *testing.T) {
	f := newFixture(t, storyModel)
	f.seed(t, "01E")
	title := "New Title"
	cats := []string{"calm"}

	res, err := f.svc.Edit(context.Background(), "01E", EditInput{
		Instructions: "add a cat",
		Tags:         tags.Ops{Add: []string{"Cats"}, Remove: []string{"moon"}},
		Title:        &title,
		Categories:   &cats,
	})
	if err != nil {
		t.Fatal(err)
	}
	rec := res.Record
	if rec.Text != "Edited story." || res.Fallback {
		t.Errorf("unexpected edit result %+v", res)
	}
	wantTags := []string{"space", "early-reader", "age-6", "whales", "cats"}
	if !reflect.DeepEqual(rec.Metadata.Tags, wantTags) {
		t.Errorf("tags = %v, want %v", rec.Metadata.Tags, wantTags)
	}
	if rec.Metadata.Title != "New Title" || !reflect.DeepEqual(rec.Metadata.Categories, cats) {
		t.Errorf("fields not applied: %+v", rec.Metadata)
	}
	if rec.Metadata.LastEdited == nil || rec.Metadata.EditInstructions != "add a cat" {
		t.Error("expected lastEdited and editInstructions")
	}
	if rec.Metadata.Prompt != "the moon" {
		t.Error("unset fields must be preserved")
	}
}

func TestEditRevisionFailureKeepsStoredText(t *testing.T) {
	f := newFixture(t, downModel)
	f.seed(t, "01F")

	res, err := f.svc.Edit(context.Background(), "01F", EditInput{Instructions: "shorter"})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fallback || res.Record.Text != "Original story."+generate.EditFailedNote {
		t.Errorf("unexpected result %+v", res)
	}
	stored, _ := f.stories.Get(context.Background(), "01F")
	if stored.Text != "Original story." {
		t.Errorf("stored text must be untouched, got %q", stored.Text)
	}
	if stored.Metadata.LastEdited != nil {
		t.Error("lastEdited must not be set when revision failed")
	}
}

func TestEditErrors(t *testing.T) {
	f := newFixture(t, storyModel)
	f.seed(t, "01G")
	if _, err := f.svc.Edit(context.Background(), "01G", EditInput{}); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := f.svc.Edit(context.Background(), "nope", EditInput{Instructions: "x"}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestEditRegeneratesAudio(t *testing.T) {
	f := newFixture(t, storyModel)
	f.seed(t, "01H")
	res, err := f.svc.Edit(context.Background(), "01H", EditInput{Instructions: "x", RegenerateAudio: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.Metadata.AudioURL != "http://localhost:8484/media/audio/01H.mp3" {
		t.Errorf("unexpected audio url %q", res.Record.Metadata.AudioURL)
	}
	data, err := os.ReadFile(filepath.Join(f.blobs.Root(), "audio", "01H.mp3"))
	if err != nil || string(data) != "audio:Edited story." {
		t.Errorf("expected narration of the edited text, got %q (%v)", data, err)
	}
}

func TestUpdateTags(t *testing.T) {
	f := newFixture(t, storyModel)
	f.seed(t, "01T")
	got, err := f.svc.UpdateTags(context.Background(), "01T", tags.Ops{Add: []string{"Stars"}, Remove: []string{"age-6"}})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"space", "early-reader", "stars"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("tags = %v, want %v", got, want)
	}
	stored, _ := f.stories.Get(context.Background(), "01T")
	if stored.Metadata.LastTagUpdate == nil || !reflect.DeepEqual(stored.Metadata.Tags, want) {
		t.Errorf("tags not stored: %+v", stored.Metadata)
	}

	again, _ := f.svc.UpdateTags(context.Background(), "01T", tags.Ops{Add: []string{"Stars"}, Remove: []string{"age-6"}})
	if !reflect.DeepEqual(again, want) {
		t.Errorf("repeating the same edit must be a no-op, got %v", again)
	}

	replaced, _ := f.svc.UpdateTags(context.Background(), "01T", tags.Ops{Replace: []string{"Only"}})
	if !reflect.DeepEqual(replaced, []string{"only"}) {
		t.Errorf("replace = %v", replaced)
	}
}

func TestUpdateCategories(t *testing.T) {
	f := newFixture(t, storyModel)
	f.seed(t, "01C")
	got, err := f.svc.UpdateCategories(context.Background(), "01C", []string{"Calm", "calm", ""})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"Calm", "calm"}) {
		t.Errorf("categories = %v", got)
	}
	if _, err := f.svc.UpdateCategories(context.Background(), "01C", nil); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput for nil categories, got %v", err)
	}
	if _, err := f.svc.UpdateCategories(context.Background(), "nope", []string{}); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesAudio(t *testing.T) {
	f := newFixture(t, storyModel)
	f.seed(t, "01D")
	if _, err := f.svc.GenerateAudio(context.Background(), AudioInput{StoryID: "01D"}); err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Delete(context.Background(), "01D"); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(f.blobs.Root(), "audio", "01D.mp3")); !os.IsNotExist(err) {
		t.Error("audio asset should be removed with the story")
	}
	if err := f.svc.Delete(context.Background(), "01D"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestGenerateAudio(t *testing.T) {
	f := newFixture(t, storyModel)
	f.seed(t, "01A")

	url, err := f.svc.GenerateAudio(context.Background(), AudioInput{
		Text:    "Custom text",
		Voice:   tts.VoiceSpec{Name: "en-GB-Wavenet-A", SpeakingRate: 0.9},
		StoryID: "01A",
	})
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := f.stories.Get(context.Background(), "01A")
	if stored.Metadata.AudioURL != url || stored.Metadata.VoiceID != "en-GB-Wavenet-A" || stored.Metadata.SpeakingRate != 0.9 {
		t.Errorf("audio fields not recorded: %+v", stored.Metadata)
	}

	// unsaved draft: url returned, nothing to patch
	draftURL, err := f.svc.GenerateAudio(context.Background(), AudioInput{Text: "Draft", StoryID: "draft1"})
	if err != nil || !strings.HasSuffix(draftURL, "/audio/draft1.mp3") {
		t.Errorf("unexpected draft result %q %v", draftURL, err)
	}

	if _, err := f.svc.GenerateAudio(context.Background(), AudioInput{}); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGenerateAudioSpeechFailure(t *testing.T) {
	f := newFixture(t, storyModel)
	f.speech.SynthesizeFunc = func(ctx context.Context, text string, voice tts.VoiceSpec) ([]byte, error) {
		return nil, errors.New("quota")
	}
	_, err := f.svc.GenerateAudio(context.Background(), AudioInput{Text: "x"})
	if !errors.Is(err, types.ErrProviderUnavailable) {
		t.Errorf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestListTagsCategories(t *testing.T) {
	f := newFixture(t, storyModel)
	f.seed(t, "01A")
	b := f.seed(t, "01B")
	b.Metadata.Tags = []string{"dragons"}
	b.Metadata.Categories = []string{"adventure"}
	f.stories.Put(context.Background(), b)

	res, err := f.svc.List(context.Background(), query.Filter{Tags: []string{"dragons"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Total != 1 || res.Stories[0].ID != "01B" {
		t.Errorf("unexpected list result %+v", res)
	}
	if _, err := f.svc.List(context.Background(), query.Filter{Page: -1}); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}

	allTags, _ := f.svc.Tags(context.Background())
	if !reflect.DeepEqual(allTags, []string{"age-6", "dragons", "early-reader", "space"}) {
		t.Errorf("tags = %v", allTags)
	}
	cats, _ := f.svc.Categories(context.Background())
	if !reflect.DeepEqual(cats, []string{"adventure", "favorites"}) {
		t.Errorf("categories = %v", cats)
	}
	if n, _ := f.svc.Count(context.Background()); n != 2 {
		t.Errorf("count = %d", n)
	}
}

func TestVoices(t *testing.T) {
	f := newFixture(t, storyModel)
	f.speech.voices = []tts.Voice{{Name: "en-US-Wavenet-D"}}
	voices, err := f.svc.Voices(context.Background(), "en-US")
	if err != nil || len(voices) != 1 {
		t.Errorf("unexpected voices %v %v", voices, err)
	}
}

func TestDeriveTitle(t *testing.T) {
	if got := deriveTitle("# The Sleepy Owl\n\nOnce upon a time.", "owls"); got != "The Sleepy Owl" {
		t.Errorf("got %q", got)
	}
	if got := deriveTitle("Once upon a time, there was an owl.", "owls"); got != "Owls Story" {
		t.Errorf("got %q", got)
	}
}
