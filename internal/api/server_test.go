package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/bedtime/internal/audio"
	"github.com/user/bedtime/internal/generate"
	"github.com/user/bedtime/internal/prompt"
	"github.com/user/bedtime/internal/ratelimit"
	"github.com/user/bedtime/internal/state"
	"github.com/user/bedtime/internal/story"
	"github.com/user/bedtime/internal/tags"
	"github.com/user/bedtime/internal/types"
	"github.com/user/bedtime/pkg/llm"
	"github.com/user/bedtime/pkg/tts"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockSpeech struct {
	voices   []tts.Voice
	voiceErr error
}

func (m *mockSpeech) Synthesize(ctx context.Context, text string, voice tts.VoiceSpec) ([]byte, error) {
	return []byte("mp3:" + text), nil
}

func (m *mockSpeech) ListVoices(ctx context.Context, lang string) ([]tts.Voice, error) {
	return m.voices, m.voiceErr
}

func mockModel(ctx context.Context, r *llm.Request) (*llm.Response, error) {
	p := r.Messages[0].Content
	switch {
	case strings.Contains(p, "comma-separated"):
		return &llm.Response{Content: "stars, owl"}, nil
	case strings.HasPrefix(p, "Edit the following"):
		return &llm.Response{Content: "The owl slept."}, nil
	default:
		return &llm.Response{Content: "The owl watched the stars."}, nil
	}
}

type testEnv struct {
	srv     *Server
	stories *state.StoryStore
	speech  *mockSpeech
	media   string
}

func setupServer(t *testing.T, rules map[ratelimit.Class]ratelimit.Rule) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		stories: state.NewStoryStore(filepath.Join(dir, "data")),
		speech:  &mockSpeech{},
		media:   filepath.Join(dir, "media"),
	}
	blobs := state.NewBlobStore(env.media, "http://example.test")
	candidates := generate.Candidates{Models: []string{"primary", "secondary"}, Sticky: &generate.Sticky{}}
	prompts := prompt.NewEstimating(32000)
	svc := story.New(story.Config{
		Stories:   env.stories,
		Generator: generate.New(llm.ProviderFunc(mockModel), prompts, candidates),
		Tagger:    tags.NewSynthesizer(llm.ProviderFunc(mockModel), prompts, candidates),
		Audio:     audio.New(env.speech, blobs, audio.WithStager(audio.TempFileStager{Dir: filepath.Join(dir, "tmp")})),
		Speech:    env.speech,
		Provider:  "google",
	})
	env.srv = NewServer(svc, ratelimit.New(rules, nil), Options{MediaRoot: env.media, LLMConfigured: true})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, id, owner string, age int, tagList ...string) {
	t.Helper()
	rec := &types.StoryRecord{
		ID:   types.StoryID(id),
		Text: "Stored story " + id,
		Metadata: types.Metadata{
			Title:     "Story " + id,
			Prompt:    "owls",
			Age:       age,
			Theme:     "night",
			Length:    types.LengthMedium,
			Tags:      tagList,
			CreatedAt: time.Date(2024, 1, age, 0, 0, 0, 0, time.UTC),
			OwnerID:   owner,
		},
	}
	if err := e.stories.Put(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func TestHealthEndpoint(t *testing.T) {
	env := setupServer(t, nil)
	env.seed(t, "01A", "", 5)

	w := env.do(t, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}
	var resp struct {
		Status        string `json:"status"`
		Stories       int    `json:"stories"`
		LLMConfigured bool   `json:"llmConfigured"`
		TTSConfigured bool   `json:"ttsConfigured"`
	}
	decode(t, w, &resp)
	if resp.Status != "ok" || resp.Stories != 1 || !resp.LLMConfigured || resp.TTSConfigured {
		t.Errorf("unexpected health %+v", resp)
	}
}

func TestGenerateStoryDraftAndSave(t *testing.T) {
	env := setupServer(t, nil)

	w := env.do(t, http.MethodPost, "/api/generate-story", `{"prompt":"an owl","age":5,"theme":"Night","customTags":["Cozy"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var draft struct {
		ID       string         `json:"id"`
		Story    string         `json:"story"`
		Metadata types.Metadata `json:"metadata"`
		Saved    bool           `json:"saved"`
	}
	decode(t, w, &draft)
	if draft.Story != "The owl watched the stars." || draft.Saved {
		t.Errorf("unexpected draft %+v", draft)
	}
	want := []string{"night", "preschool", "age-5", "stars", "owl", "cozy"}
	if !reflect.DeepEqual(draft.Metadata.Tags, want) {
		t.Errorf("tags = %v, want %v", draft.Metadata.Tags, want)
	}
	if w := env.do(t, http.MethodGet, "/api/story/"+draft.ID, ""); w.Code != http.StatusNotFound {
		t.Errorf("draft must not be stored yet, got %d", w.Code)
	}

	body, _ := json.Marshal(map[string]any{"id": draft.ID, "story": draft.Story, "metadata": draft.Metadata})
	if w := env.do(t, http.MethodPost, "/api/save-story", string(body)); w.Code != http.StatusOK {
		t.Fatalf("save: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodGet, "/api/story/"+draft.ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected saved story, got %d", w.Code)
	}
}

func TestGenerateStoryValidation(t *testing.T) {
	env := setupServer(t, nil)
	cases := []string{
		`{"prompt":"x","theme":"night"}`,
		`{"prompt":"x","age":5}`,
		`{"prompt":"x","age":5,"theme":"night","length":"epic"}`,
		`not json`,
	}
	for _, body := range cases {
		w := env.do(t, http.MethodPost, "/api/generate-story", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
			continue
		}
		var resp map[string]string
		decode(t, w, &resp)
		if resp["error"] != "invalid_input" || resp["message"] == "" {
			t.Errorf("unexpected error body %v", resp)
		}
	}
}

func TestGenerateStoryRateLimited(t *testing.T) {
	env := setupServer(t, map[ratelimit.Class]ratelimit.Rule{
		ratelimit.General:    {Limit: 30, Window: time.Minute},
		ratelimit.Generation: {Limit: 1, Window: time.Minute},
	})
	body := `{"prompt":"x","age":5,"theme":"night"}`
	if w := env.do(t, http.MethodPost, "/api/generate-story", body); w.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w.Code)
	}
	w := env.do(t, http.MethodPost, "/api/generate-story", body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("expected Retry-After 60, got %q", w.Header().Get("Retry-After"))
	}
}

func TestListStories(t *testing.T) {
	env := setupServer(t, nil)
	env.seed(t, "01A", "u1", 3, "owl")
	env.seed(t, "01B", "u2", 7, "owl", "moon")
	env.seed(t, "01C", "u1", 9, "moon")

	w := env.do(t, http.MethodGet, "/api/stories?tags=owl&sortBy=age&sortOrder=asc", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var res struct {
		Stories []types.StoryRecord `json:"stories"`
		Total   int                 `json:"total"`
		Limit   int                 `json:"limit"`
	}
	decode(t, w, &res)
	if res.Total != 2 || res.Stories[0].ID != "01A" || res.Stories[1].ID != "01B" || res.Limit != 10 {
		t.Errorf("unexpected listing %+v", res)
	}

	for _, q := range []string{"page=0", "limit=0", "limit=abc", "sortBy=color", "ageMin=9&ageMax=3", "limit=500"} {
		if w := env.do(t, http.MethodGet, "/api/stories?"+q, ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, w.Code)
		}
	}
}

func TestUserStories(t *testing.T) {
	env := setupServer(t, nil)
	env.seed(t, "01A", "u1", 3)
	env.seed(t, "01B", "u2", 4)

	if w := env.do(t, http.MethodGet, "/api/user-stories", ""); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without owner header, got %d", w.Code)
	}
	w := env.do(t, http.MethodGet, "/api/user-stories", "", "X-User-ID", "u2")
	var res struct {
		Stories []types.StoryRecord `json:"stories"`
	}
	decode(t, w, &res)
	if len(res.Stories) != 1 || res.Stories[0].ID != "01B" {
		t.Errorf("unexpected user stories %+v", res.Stories)
	}
}

func TestEditStory(t *testing.T) {
	env := setupServer(t, nil)
	env.seed(t, "01E", "", 6, "night")

	w := env.do(t, http.MethodPut, "/api/story/01E", `{"editInstructions":"make it sleepier","addTags":["Sleepy"],"categories":["calm"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Story    string         `json:"story"`
		Metadata types.Metadata `json:"metadata"`
	}
	decode(t, w, &resp)
	if resp.Story != "The owl slept." {
		t.Errorf("unexpected story %q", resp.Story)
	}
	want := []string{"night", "early-reader", "age-6", "stars", "owl", "sleepy"}
	if !reflect.DeepEqual(resp.Metadata.Tags, want) {
		t.Errorf("tags = %v, want %v", resp.Metadata.Tags, want)
	}
	if !reflect.DeepEqual(resp.Metadata.Categories, []string{"calm"}) {
		t.Errorf("categories = %v", resp.Metadata.Categories)
	}

	if w := env.do(t, http.MethodPut, "/api/story/01E", `{"addTags":["x"]}`); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without instructions, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPut, "/api/story/missing", `{"editInstructions":"x"}`); w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestPatchTagsAndCategories(t *testing.T) {
	env := setupServer(t, nil)
	env.seed(t, "01P", "", 6, "owl", "moon")

	w := env.do(t, http.MethodPatch, "/api/story/01P/tags", `{"addTags":["Stars"],"removeTags":["moon"]}`)
	var tagResp struct {
		Tags []string `json:"tags"`
	}
	decode(t, w, &tagResp)
	if !reflect.DeepEqual(tagResp.Tags, []string{"owl", "stars"}) {
		t.Errorf("tags = %v", tagResp.Tags)
	}

	w = env.do(t, http.MethodPatch, "/api/story/01P/categories", `{"categories":["Bedtime"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	for _, body := range []string{`{}`, `{"categories":"Bedtime"}`} {
		if w := env.do(t, http.MethodPatch, "/api/story/01P/categories", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}

	w = env.do(t, http.MethodGet, "/api/categories", "")
	var catResp struct {
		Categories []string `json:"categories"`
	}
	decode(t, w, &catResp)
	if !reflect.DeepEqual(catResp.Categories, []string{"Bedtime"}) {
		t.Errorf("categories = %v", catResp.Categories)
	}

	w = env.do(t, http.MethodGet, "/api/tags", "")
	decode(t, w, &tagResp)
	if !reflect.DeepEqual(tagResp.Tags, []string{"owl", "stars"}) {
		t.Errorf("all tags = %v", tagResp.Tags)
	}
}

func TestAudioAndDelete(t *testing.T) {
	env := setupServer(t, nil)
	env.seed(t, "01D", "", 6)

	w := env.do(t, http.MethodPost, "/api/generate-audio", `{"storyId":"01D","voiceId":"en-US-Wavenet-F","speakingRate":0.8}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var audioResp struct {
		AudioURL string `json:"audioUrl"`
	}
	decode(t, w, &audioResp)
	if audioResp.AudioURL != "http://example.test/media/audio/01D.mp3" {
		t.Errorf("unexpected url %q", audioResp.AudioURL)
	}

	w = env.do(t, http.MethodGet, "/media/audio/01D.mp3", "")
	if w.Code != http.StatusOK || w.Body.String() != "mp3:Stored story 01D" {
		t.Errorf("media not served: %d %q", w.Code, w.Body.String())
	}

	rec, _ := env.stories.Get(context.Background(), "01D")
	if rec.Metadata.VoiceID != "en-US-Wavenet-F" || rec.Metadata.SpeakingRate != 0.8 {
		t.Errorf("voice not recorded: %+v", rec.Metadata)
	}

	if w := env.do(t, http.MethodDelete, "/api/story/01D", ""); w.Code != http.StatusOK {
		t.Fatalf("delete: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/media/audio/01D.mp3", ""); w.Code != http.StatusNotFound {
		t.Errorf("audio should be gone, got %d", w.Code)
	}
	if w := env.do(t, http.MethodDelete, "/api/story/01D", ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", w.Code)
	}
}

func TestGenerateAudioValidation(t *testing.T) {
	env := setupServer(t, nil)
	for _, body := range []string{`{}`, `{"text":"hi","audioEncoding":"FLAC"}`, `{"text":"hi","speakingRate":9}`} {
		if w := env.do(t, http.MethodPost, "/api/generate-audio", body); w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}

func TestListVoices(t *testing.T) {
	env := setupServer(t, nil)
	env.speech.voices = []tts.Voice{{Name: "en-US-Wavenet-D", LanguageCode: "en-US"}}

	w := env.do(t, http.MethodGet, "/api/list-voices?languageCode=en-US", "")
	var resp struct {
		Voices []tts.Voice `json:"voices"`
	}
	decode(t, w, &resp)
	if len(resp.Voices) != 1 || resp.Voices[0].Name != "en-US-Wavenet-D" {
		t.Errorf("unexpected voices %+v", resp.Voices)
	}

	env.speech.voiceErr = errors.New("quota exceeded")
	if w := env.do(t, http.MethodGet, "/api/list-voices", ""); w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		types.ErrInvalidInput:                          http.StatusBadRequest,
		types.ErrNotFound:                              http.StatusNotFound,
		types.ErrRateLimited:                           http.StatusTooManyRequests,
		types.ErrProviderUnavailable:                   http.StatusBadGateway,
		errors.New("disk full"):                        http.StatusInternalServerError,
		errors.Join(errors.New("x"), types.ErrNotFound): http.StatusNotFound,
	}
	for err, want := range cases {
		if got, _ := statusFor(err); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
