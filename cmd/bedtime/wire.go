package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/user/bedtime/internal/audio"
	"github.com/user/bedtime/internal/config"
	"github.com/user/bedtime/internal/generate"
	"github.com/user/bedtime/internal/prompt"
	"github.com/user/bedtime/internal/ratelimit"
	"github.com/user/bedtime/internal/state"
	"github.com/user/bedtime/internal/story"
	"github.com/user/bedtime/internal/tags"
	"github.com/user/bedtime/internal/types"
	"github.com/user/bedtime/pkg/llm"
	"github.com/user/bedtime/pkg/llm/openai"
	"github.com/user/bedtime/pkg/llm/responses"
	"github.com/user/bedtime/pkg/tts"
	"github.com/user/bedtime/pkg/tts/google"
)

// app holds the wired service and the resources behind it.
type app struct {
	cfg     *config.Config
	stories types.StoryStore
	blobs   *state.BlobStore
	service *story.Service
}

func (a *app) Close() error {
	return a.stories.Close()
}

// openStore selects the story store for cfg.Store.Driver.
func openStore(ctx context.Context, cfg *config.Config) (types.StoryStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return state.NewSQLiteStore(cfg.StorePath())
	case "firestore":
		return state.NewFirestoreStore(ctx, cfg.Store.FirestoreProject, cfg.Store.FirestoreCollection)
	default:
		return state.NewStoryStore(cfg.StorePath()), nil
	}
}

// newProvider selects the text backend for cfg.LLM.Provider.
func newProvider(cfg *config.Config) llm.Provider {
	lc := &llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
		Timeout: time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
	}
	if cfg.LLM.Provider == "responses" {
		return responses.New(lc)
	}
	return openai.New(lc)
}

func newSpeech(cfg *config.Config) *google.Client {
	return google.New(&tts.Config{
		BaseURL: cfg.TTS.BaseURL,
		APIKey:  cfg.TTS.APIKey,
		Timeout: time.Duration(cfg.TTS.TimeoutSeconds) * time.Second,
	})
}

// defaultVoice is the configured narration voice.
func defaultVoice(cfg *config.Config) (tts.VoiceSpec, error) {
	enc, err := tts.ParseEncoding(cfg.TTS.Encoding)
	if err != nil {
		return tts.VoiceSpec{}, fmt.Errorf("tts.encoding: %w", err)
	}
	return tts.VoiceSpec{
		LanguageCode: cfg.TTS.LanguageCode,
		Name:         cfg.TTS.Voice,
		Encoding:     enc,
		SpeakingRate: cfg.TTS.SpeakingRate,
		Pitch:        cfg.TTS.Pitch,
	}.WithDefaults(tts.DefaultVoice()), nil
}

func newLimiter(cfg *config.Config) *ratelimit.Limiter {
	window := cfg.RateWindow()
	return ratelimit.New(map[ratelimit.Class]ratelimit.Rule{
		ratelimit.General:    {Limit: cfg.RateLimit.General, Window: window},
		ratelimit.Generation: {Limit: cfg.RateLimit.Generation, Window: window},
	}, nil)
}

// buildApp wires every component from cfg.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	voice, err := defaultVoice(cfg)
	if err != nil {
		return nil, err
	}

	stories, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open story store: %w", err)
	}
	blobs := state.NewBlobStore(cfg.MediaDir(), cfg.HTTP.PublicURL)

	provider := newProvider(cfg)
	prompts := prompt.New(cfg.LLM.Models[0], cfg.LLM.MaxContextTokens)
	candidates := generate.Candidates{Models: cfg.LLM.Models, Sticky: &generate.Sticky{}}
	speech := newSpeech(cfg)

	stagingDir := cfg.TTS.StagingDir
	if stagingDir == "" {
		stagingDir = filepath.Join(cfg.DataDir, "staging")
	}

	svc := story.New(story.Config{
		Stories:   stories,
		Generator: generate.New(provider, prompts, candidates, generate.WithTemperature(cfg.LLM.Temperature)),
		Tagger:    tags.NewSynthesizer(provider, prompts, candidates),
		Audio: audio.New(speech, blobs,
			audio.WithStager(audio.TempFileStager{Dir: stagingDir}),
			audio.WithMaxConcurrent(cfg.TTS.MaxConcurrent),
			audio.WithDefaultVoice(voice),
		),
		Speech:   speech,
		Provider: cfg.LLM.Provider,
	})

	slog.Debug("components wired",
		"store_driver", cfg.Store.Driver,
		"llm_provider", cfg.LLM.Provider,
		"models", cfg.LLM.Models,
		"media_dir", cfg.MediaDir(),
	)
	return &app{cfg: cfg, stories: stories, blobs: blobs, service: svc}, nil
}
