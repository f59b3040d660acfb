package story

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/user/bedtime/internal/audio"
	"github.com/user/bedtime/internal/state"
	"github.com/user/bedtime/internal/types"
	"github.com/user/bedtime/pkg/tts"
)

// AssetLister enumerates stored objects.
type AssetLister interface {
	List(ctx context.Context, prefix string) ([]state.BlobInfo, error)
}

// SweepAudio removes audio assets older than retention that are temporary or
// whose story does not exist. It returns how many assets were removed.
func (s *Service) SweepAudio(ctx context.Context, objects AssetLister, retention time.Duration) (int, error) {
	infos, err := objects.List(ctx, audio.KeyPrefix)
	if err != nil {
		return 0, err
	}
	all, err := s.stories.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stories: %w", err)
	}
	live := make(map[types.StoryID]bool, len(all))
	for _, rec := range all {
		live[rec.ID] = true
	}

	cutoff := s.now().Add(-retention)
	removed := 0
	var errs []error
	for _, info := range infos {
		// Fresh assets may belong to a draft that is saved later.
		if !info.ModTime.Before(cutoff) {
			continue
		}
		orphan := audio.IsTempKey(info.Key)
		if id, ok := audio.StoryIDFromKey(info.Key); ok {
			orphan = !live[id]
		}
		if !orphan {
			continue
		}
		if err := s.audio.DeleteKey(ctx, info.Key); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", info.Key, err))
			continue
		}
		removed++
		slog.Debug("orphaned audio removed", "key", info.Key)
	}
	return removed, errors.Join(errs...)
}

// BackfillAudio narrates every stored story that has no audio yet, running
// at most workers narrations at once. It returns how many stories gained audio.
func (s *Service) BackfillAudio(ctx context.Context, voice tts.VoiceSpec, workers int) (int, error) {
	all, err := s.stories.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("list stories: %w", err)
	}
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	var done atomic.Int32
	var failed atomic.Int32
	for _, rec := range all {
		if rec.Metadata.AudioURL != "" {
			continue
		}
		g.Go(func() error {
			if _, err := s.narrate(gctx, rec.Text, voice, rec.ID); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				slog.Warn("backfill narration failed", "story_id", rec.ID, "error", err)
				return nil
			}
			done.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(done.Load()), err
	}
	if n := failed.Load(); n > 0 {
		return int(done.Load()), fmt.Errorf("%d stories could not be narrated", n)
	}
	return int(done.Load()), nil
}
