// Package audio narrates story text and stores the result as a durable asset.
package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/user/bedtime/internal/types"
	"github.com/user/bedtime/pkg/tts"
)

// KeyPrefix is the object-store prefix for every audio asset.
const KeyPrefix = "audio/"

// Pipeline synthesizes, stages, uploads and cleans up audio. It never
// touches story persistence.
type Pipeline struct {
	speech  tts.Synthesizer
	objects types.ObjectStore
	stager  Stager
	slots   *semaphore.Weighted
	voice   tts.VoiceSpec
	now     func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStager replaces the default temp-file stager.
func WithStager(s Stager) Option {
	return func(p *Pipeline) { p.stager = s }
}

// WithMaxConcurrent bounds simultaneous speech backend calls.
func WithMaxConcurrent(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.slots = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithDefaultVoice sets the voice used for unset VoiceSpec fields.
func WithDefaultVoice(v tts.VoiceSpec) Option {
	return func(p *Pipeline) { p.voice = v.WithDefaults(tts.DefaultVoice()) }
}

// New creates a pipeline.
func New(speech tts.Synthesizer, objects types.ObjectStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		speech:  speech,
		objects: objects,
		stager:  TempFileStager{},
		slots:   semaphore.NewWeighted(2),
		voice:   tts.DefaultVoice(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// DefaultVoice returns the voice applied to unset fields.
func (p *Pipeline) DefaultVoice() tts.VoiceSpec {
	return p.voice
}

// Key returns the object key for a story's audio. Without a story id the
// key is derived from the current time.
func Key(id types.StoryID, enc tts.Encoding, now time.Time) string {
	if id == "" {
		return KeyPrefix + "temp-" + strconv.FormatInt(now.UnixMilli(), 10) + enc.Extension()
	}
	return KeyPrefix + string(id) + enc.Extension()
}

// IsTempKey reports whether key was produced for audio without a story.
func IsTempKey(key string) bool {
	return strings.HasPrefix(key, KeyPrefix+"temp-")
}

// StoryIDFromKey returns the story id a non-temp audio key belongs to.
func StoryIDFromKey(key string) (types.StoryID, bool) {
	if !strings.HasPrefix(key, KeyPrefix) || IsTempKey(key) {
		return "", false
	}
	name := strings.TrimPrefix(key, KeyPrefix)
	for _, enc := range tts.Encodings {
		if strings.HasSuffix(name, enc.Extension()) {
			return types.StoryID(strings.TrimSuffix(name, enc.Extension())), true
		}
	}
	return "", false
}

// Synthesize narrates text and returns the asset's durable URL. Re-running
// it for the same story overwrites the previous asset.
func (p *Pipeline) Synthesize(ctx context.Context, text string, voice tts.VoiceSpec, id types.StoryID) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: text is required", types.ErrInvalidInput)
	}
	voice = voice.WithDefaults(p.voice)

	data, err := p.speak(ctx, text, voice)
	if err != nil {
		return "", err
	}

	staged, err := p.stager.Stage(data, voice.Encoding.Extension())
	if err != nil {
		return "", fmt.Errorf("%w: stage audio: %v", types.ErrProviderUnavailable, err)
	}
	defer func() {
		if err := staged.Release(); err != nil {
			slog.Warn("release staged audio", "story_id", id, "error", err)
		}
	}()

	key := Key(id, voice.Encoding, p.now())
	url, err := p.upload(ctx, staged, key, voice.Encoding.ContentType())
	if err != nil {
		return "", err
	}
	slog.Info("audio stored", "story_id", id, "key", key, "bytes", len(data))

	// A story keeps one asset: drop copies left in other encodings.
	if id != "" {
		if err := p.deleteKeys(ctx, id, voice.Encoding); err != nil {
			slog.Warn("remove superseded audio", "story_id", id, "error", err)
		}
	}
	return url, nil
}

func (p *Pipeline) speak(ctx context.Context, text string, voice tts.VoiceSpec) ([]byte, error) {
	if err := p.slots.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrProviderUnavailable, err)
	}
	defer p.slots.Release(1)

	data, err := p.speech.Synthesize(ctx, text, voice)
	if err != nil {
		return nil, fmt.Errorf("%w: synthesize speech: %v", types.ErrProviderUnavailable, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: speech backend returned no audio", types.ErrProviderUnavailable)
	}
	return data, nil
}

func (p *Pipeline) upload(ctx context.Context, staged Staged, key, contentType string) (string, error) {
	r, err := staged.Open()
	if err != nil {
		return "", fmt.Errorf("%w: open staged audio: %v", types.ErrProviderUnavailable, err)
	}
	defer r.Close()

	url, err := p.objects.Upload(ctx, key, r, contentType)
	if err != nil {
		return "", fmt.Errorf("%w: upload audio: %v", types.ErrProviderUnavailable, err)
	}
	if url == "" {
		return "", fmt.Errorf("%w: upload returned no url", types.ErrProviderUnavailable)
	}
	return url, nil
}

// DeleteAsset removes a story's audio for every known encoding. Missing
// assets are not errors.
func (p *Pipeline) DeleteAsset(ctx context.Context, id types.StoryID) error {
	if id == "" {
		return fmt.Errorf("%w: story id is required", types.ErrInvalidInput)
	}
	return p.deleteKeys(ctx, id, "")
}

// deleteKeys removes id's asset in every encoding except keep.
func (p *Pipeline) deleteKeys(ctx context.Context, id types.StoryID, keep tts.Encoding) error {
	var errs []error
	for _, enc := range tts.Encodings {
		if enc == keep {
			continue
		}
		if err := p.objects.Delete(ctx, Key(id, enc, time.Time{})); err != nil && !errors.Is(err, types.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("delete audio for %s: %w", id, err)
	}
	return nil
}

// DeleteKey removes a single asset by key.
func (p *Pipeline) DeleteKey(ctx context.Context, key string) error {
	if err := p.objects.Delete(ctx, key); err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	return nil
}
