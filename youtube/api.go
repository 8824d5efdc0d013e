package youtube

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"ytdigest/internal/retry"
)

// Quota costs of the Data API calls used here.
const (
	searchQuotaCost   = 100
	listQuotaCost     = 1
	defaultDailyQuota = 10000
)

// APILister lists uploads and resolves channels through the YouTube Data API v3.
// It keeps a local estimate of the daily quota and reports ErrQuotaExceeded
// once the estimate falls under the reserve, so callers can fall back early.
type APILister struct {
	service *youtube.Service
	logger  *slog.Logger

	// MaxResults caps search results per listing call.
	MaxResults int64
	// RetryConfig applies to transient (5xx, network) errors only.
	RetryConfig retry.Config

	mu             sync.Mutex
	quotaReserve   int
	estimatedQuota int
	lastQuotaReset time.Time
	quotaExhausted bool
	now            func() time.Time
}

// NewAPILister creates a Data API lister. When hc is non-nil requests go
// through it with the key attached per request; extra options such as
// option.WithEndpoint are passed to the service.
func NewAPILister(ctx context.Context, apiKey string, hc *http.Client, quotaReserve int, opts ...option.ClientOption) (*APILister, error) {
	if apiKey == "" {
		return nil, ErrNoAPIKey
	}

	if hc != nil {
		keyed := &http.Client{
			Timeout:   hc.Timeout,
			Transport: &transport.APIKey{Key: apiKey, Transport: hc.Transport},
		}
		opts = append([]option.ClientOption{option.WithHTTPClient(keyed)}, opts...)
	} else {
		opts = append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	}

	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}

	cfg := retry.DefaultConfig()
	cfg.MaxRetries = 2
	return &APILister{
		service:        service,
		logger:         slog.Default().With(slog.String("component", "youtube.api")),
		MaxResults:     10,
		RetryConfig:    cfg,
		quotaReserve:   quotaReserve,
		estimatedQuota: defaultDailyQuota,
		lastQuotaReset: time.Now(),
		now:            time.Now,
	}, nil
}

// ListRecent returns uploads published after since, newest first, with
// duration and caption availability filled from contentDetails.
func (a *APILister) ListRecent(ctx context.Context, channelID string, since time.Time) ([]VideoInfo, error) {
	if err := a.checkQuota(searchQuotaCost + listQuotaCost); err != nil {
		return nil, &ListerError{Source: "api", Channel: channelID, Err: err}
	}

	var videos []VideoInfo
	err := retry.Do(ctx, a.RetryConfig, apiErrorClassifier, func(ctx context.Context) error {
		resp, err := a.service.Search.List([]string{"id", "snippet"}).
			ChannelId(channelID).
			PublishedAfter(since.UTC().Format(time.RFC3339)).
			Order("date").
			Type("video").
			MaxResults(a.MaxResults).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		a.trackQuotaUsage(searchQuotaCost)

		videos = videos[:0]
		for _, item := range resp.Items {
			if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
				continue
			}
			v := VideoInfo{
				ID:          item.Id.VideoId,
				Title:       html.UnescapeString(item.Snippet.Title),
				ChannelID:   channelID,
				ChannelName: html.UnescapeString(item.Snippet.ChannelTitle),
			}
			if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
				v.Published = t
			}
			videos = append(videos, v)
		}
		return nil
	})
	if err != nil {
		return nil, &ListerError{Source: "api", Channel: channelID, Err: err}
	}
	if len(videos) == 0 {
		return videos, nil
	}

	if err := a.fillDetails(ctx, videos); err != nil {
		return nil, &ListerError{Source: "api", Channel: channelID, Err: err}
	}
	return videos, nil
}

// fillDetails batches a videos.list call for contentDetails.
func (a *APILister) fillDetails(ctx context.Context, videos []VideoInfo) error {
	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}

	return retry.Do(ctx, a.RetryConfig, apiErrorClassifier, func(ctx context.Context) error {
		resp, err := a.service.Videos.List([]string{"contentDetails"}).
			Id(ids...).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		a.trackQuotaUsage(listQuotaCost)

		details := make(map[string]*youtube.VideoContentDetails, len(resp.Items))
		for _, item := range resp.Items {
			details[item.Id] = item.ContentDetails
		}
		for i := range videos {
			cd := details[videos[i].ID]
			if cd == nil {
				continue
			}
			if d, err := ParseISODuration(cd.Duration); err == nil {
				videos[i].Duration = d
			}
			videos[i].HasCaption = boolPtr(cd.Caption == "true")
		}
		return nil
	})
}

// GetVideo returns one video's snippet and contentDetails.
func (a *APILister) GetVideo(ctx context.Context, videoID string) (*VideoInfo, error) {
	if err := a.checkQuota(listQuotaCost); err != nil {
		return nil, &ListerError{Source: "api", Channel: videoID, Err: err}
	}

	var v *VideoInfo
	err := retry.Do(ctx, a.RetryConfig, apiErrorClassifier, func(ctx context.Context) error {
		resp, err := a.service.Videos.List([]string{"snippet", "contentDetails"}).
			Id(videoID).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		a.trackQuotaUsage(listQuotaCost)

		if len(resp.Items) == 0 || resp.Items[0].Snippet == nil {
			return ErrVideoNotFound
		}
		item := resp.Items[0]
		v = &VideoInfo{
			ID:          videoID,
			Title:       html.UnescapeString(item.Snippet.Title),
			ChannelID:   item.Snippet.ChannelId,
			ChannelName: html.UnescapeString(item.Snippet.ChannelTitle),
		}
		if t, err := time.Parse(time.RFC3339, item.Snippet.PublishedAt); err == nil {
			v.Published = t
		}
		if cd := item.ContentDetails; cd != nil {
			if d, err := ParseISODuration(cd.Duration); err == nil {
				v.Duration = d
			}
			v.HasCaption = boolPtr(cd.Caption == "true")
		}
		return nil
	})
	if err != nil {
		return nil, &ListerError{Source: "api", Channel: videoID, Err: err}
	}
	return v, nil
}

// ResolveChannel resolves a normalized channel reference to its id, name and
// newest upload.
func (a *APILister) ResolveChannel(ctx context.Context, ref ChannelRef) (*Channel, error) {
	if err := a.checkQuota(searchQuotaCost); err != nil {
		return nil, &ListerError{Source: "api", Channel: ref.String(), Err: err}
	}

	ch := &Channel{}
	err := retry.Do(ctx, a.RetryConfig, apiErrorClassifier, func(ctx context.Context) error {
		if ref.Kind == RefChannelID {
			resp, err := a.service.Channels.List([]string{"snippet"}).Id(ref.Value).Context(ctx).Do()
			if err != nil {
				return err
			}
			a.trackQuotaUsage(listQuotaCost)
			if len(resp.Items) == 0 {
				return ErrChannelNotFound
			}
			ch.ID = resp.Items[0].Id
			if resp.Items[0].Snippet != nil {
				ch.Name = resp.Items[0].Snippet.Title
			}
			return nil
		}

		resp, err := a.service.Search.List([]string{"id", "snippet"}).
			Q(ref.Query()).
			Type("channel").
			MaxResults(1).
			Context(ctx).
			Do()
		if err != nil {
			return err
		}
		a.trackQuotaUsage(searchQuotaCost)
		if len(resp.Items) == 0 || resp.Items[0].Id == nil {
			return ErrChannelNotFound
		}
		ch.ID = resp.Items[0].Id.ChannelId
		if resp.Items[0].Snippet != nil {
			ch.Name = html.UnescapeString(resp.Items[0].Snippet.Title)
		}
		return nil
	})
	if err != nil {
		return nil, &ListerError{Source: "api", Channel: ref.String(), Err: err}
	}

	latest, err := a.latestVideo(ctx, ch.ID)
	if err != nil {
		a.logger.Warn("youtube: latest video lookup failed",
			slog.String("channel_id", ch.ID), slog.Any("err", err))
	}
	ch.LatestVideoID = latest
	return ch, nil
}

func (a *APILister) latestVideo(ctx context.Context, channelID string) (string, error) {
	resp, err := a.service.Search.List([]string{"id"}).
		ChannelId(channelID).
		Order("date").
		Type("video").
		MaxResults(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", err
	}
	a.trackQuotaUsage(searchQuotaCost)
	if len(resp.Items) == 0 || resp.Items[0].Id == nil {
		return "", nil
	}
	return resp.Items[0].Id.VideoId, nil
}

// checkQuota fails fast once the local estimate says the call would dip into the reserve.
func (a *APILister) checkQuota(cost int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resetQuotaIfNewDay()
	if a.quotaExhausted || a.estimatedQuota-cost < a.quotaReserve {
		a.quotaExhausted = true
		return ErrQuotaExceeded
	}
	return nil
}

// trackQuotaUsage updates the estimated quota and checks if we've exhausted it.
func (a *APILister) trackQuotaUsage(units int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resetQuotaIfNewDay()
	a.estimatedQuota -= units

	if a.estimatedQuota < a.quotaReserve && !a.quotaExhausted {
		a.logger.Warn("youtube: quota exhausted",
			slog.Int("remaining", a.estimatedQuota), slog.Int("reserve", a.quotaReserve))
		a.quotaExhausted = true
	}
}

// resetQuotaIfNewDay restores the estimate after 24h. Callers hold a.mu.
func (a *APILister) resetQuotaIfNewDay() {
	if a.now().Sub(a.lastQuotaReset) > 24*time.Hour {
		a.estimatedQuota = defaultDailyQuota
		a.lastQuotaReset = a.now()
		a.quotaExhausted = false
		a.logger.Info("youtube: quota reset (new day)")
	}
}

// markQuotaExhausted records a quota answer from the server.
func (a *APILister) markQuotaExhausted() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.quotaExhausted = true
}

// GetEstimatedQuota returns the estimated remaining quota units.
func (a *APILister) GetEstimatedQuota() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.estimatedQuota
}

// quotaReasons are googleapi error reasons that mean the key cannot serve
// requests right now.
var quotaReasons = map[string]bool{
	"quotaExceeded":       true,
	"dailyLimitExceeded":  true,
	"rateLimitExceeded":   true,
	"forbidden":           true,
	"keyInvalid":          true,
	"accessNotConfigured": true,
}

// IsQuotaError reports whether err is a quota or authorization failure of
// the Data API, the class of errors that triggers the feed fallback.
func IsQuotaError(err error) bool {
	if errors.Is(err, ErrQuotaExceeded) || errors.Is(err, ErrNoAPIKey) {
		return true
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	if gerr.Code == http.StatusForbidden || gerr.Code == http.StatusTooManyRequests {
		return true
	}
	for _, item := range gerr.Errors {
		if quotaReasons[item.Reason] {
			return true
		}
	}
	return strings.Contains(strings.ToLower(gerr.Message), "quota")
}

// apiErrorClassifier retries server and network errors. Quota, auth and
// not-found answers are final.
func apiErrorClassifier(err error) bool {
	if !retry.IsRetryable(err) {
		return false
	}
	if errors.Is(err, ErrChannelNotFound) || errors.Is(err, ErrVideoNotFound) || errors.Is(err, ErrInvalidURL) {
		return false
	}
	if IsQuotaError(err) {
		return false
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code >= 500
	}
	return true
}
