package youtube

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ytdigest/storage"
)

// DefaultShortMaxDuration is the longest clip treated as a short.
const DefaultShortMaxDuration = 60 * time.Second

// Source is the channel adapter used by the monitor. It prefers the Data API
// and falls back to the Atom feed when the key is missing or out of quota.
type Source struct {
	api    *APILister
	rss    *RSSLister
	pages  *PageResolver
	logger *slog.Logger
	now    func() time.Time

	// ShortMaxDuration drops clips at or under this length.
	ShortMaxDuration time.Duration
}

// NewSource wires the listers. api may be nil when no key is configured.
func NewSource(api *APILister, rss *RSSLister, pages *PageResolver) *Source {
	return &Source{
		api:              api,
		rss:              rss,
		pages:            pages,
		logger:           slog.Default().With(slog.String("component", "youtube")),
		now:              time.Now,
		ShortMaxDuration: DefaultShortMaxDuration,
	}
}

// ListRecentVideos returns non-short uploads from the last window, newest
// first. Failures are logged and yield an empty list.
func (s *Source) ListRecentVideos(ctx context.Context, channelID string, window time.Duration) []storage.VideoMetadata {
	since := s.now().Add(-window)
	log := s.logger.With(slog.String("channel_id", channelID))

	videos, source, err := s.listRecent(ctx, channelID, since)
	if err != nil {
		log.Warn("youtube: listing failed", slog.String("source", source), slog.Any("err", err))
		return []storage.VideoMetadata{}
	}

	out := make([]storage.VideoMetadata, 0, len(videos))
	skipped := 0
	for _, v := range videos {
		if v.IsShort(s.ShortMaxDuration) {
			skipped++
			continue
		}
		out = append(out, v.Metadata())
	}
	log.Debug("youtube: listed recent videos",
		slog.String("source", source),
		slog.Int("count", len(out)),
		slog.Int("shorts_skipped", skipped))
	return out
}

func (s *Source) listRecent(ctx context.Context, channelID string, since time.Time) ([]VideoInfo, string, error) {
	if s.api != nil {
		videos, err := s.api.ListRecent(ctx, channelID, since)
		if err == nil {
			sortNewestFirst(videos)
			return videos, "api", nil
		}
		if !IsQuotaError(err) {
			return nil, "api", err
		}
		s.api.markQuotaExhausted()
		s.logger.Info("youtube: api quota unavailable, using feed",
			slog.String("channel_id", channelID), slog.Any("err", err))
	}

	videos, err := s.rss.ListRecent(ctx, channelID, since)
	return videos, "rss", err
}

// ResolveChannel resolves a handle, URL or channel id. The API is tried
// first; the channel page is read when the API is unavailable or fails.
// The feed supplies the latest upload when the API did not.
func (s *Source) ResolveChannel(ctx context.Context, input string) (*Channel, error) {
	ref, err := ParseChannelRef(input)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(slog.String("ref", ref.String()))

	var ch *Channel
	if s.api != nil {
		ch, err = s.api.ResolveChannel(ctx, ref)
		if err != nil {
			log.Warn("youtube: api resolve failed, reading channel page", slog.Any("err", err))
		}
	}
	if ch == nil {
		if ch, err = s.pages.Resolve(ctx, ref); err != nil {
			return nil, fmt.Errorf("resolve channel %s: %w", ref, err)
		}
	}

	if ch.LatestVideoID == "" {
		name, latest, err := s.rss.Latest(ctx, ch.ID)
		switch {
		case err != nil:
			log.Warn("youtube: feed lookup failed", slog.String("channel_id", ch.ID), slog.Any("err", err))
		default:
			ch.LatestVideoID = latest
			if ch.Name == "" || ch.Name == ref.Query() {
				if name != "" {
					ch.Name = name
				}
			}
		}
	}
	return ch, nil
}

// LookupVideo returns a video's title and channel, from the Data API when a
// key is configured and from oEmbed otherwise or on quota exhaustion.
func (s *Source) LookupVideo(ctx context.Context, videoID string) (*VideoInfo, error) {
	if s.api != nil {
		v, err := s.api.GetVideo(ctx, videoID)
		if err == nil {
			return v, nil
		}
		if !IsQuotaError(err) {
			return nil, err
		}
		s.logger.Info("youtube: api unavailable for video lookup, using oembed", slog.String("video_id", videoID), slog.Any("err", err))
	}
	return s.pages.Video(ctx, videoID)
}

// IsNotFound reports whether err means the channel or video does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrChannelNotFound) || errors.Is(err, ErrVideoNotFound)
}
