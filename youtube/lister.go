// Package youtube discovers channels and their recent uploads, extracts
// caption text and downloads audio for summarization.
package youtube

import (
	"errors"
	"strings"
	"time"

	"ytdigest/storage"
)

// Sentinel errors for channel and video operations.
var (
	ErrChannelNotFound   = errors.New("youtube: channel not found")
	ErrVideoNotFound     = errors.New("youtube: video not found")
	ErrRateLimited       = errors.New("youtube: rate limited")
	ErrQuotaExceeded     = errors.New("youtube: api quota exceeded")
	ErrNetworkTimeout    = errors.New("youtube: network timeout")
	ErrInvalidURL        = errors.New("youtube: invalid URL")
	ErrNoAPIKey          = errors.New("youtube: api key not configured")
	ErrYtdlpNotInstalled = errors.New("youtube: yt-dlp not installed")
)

// Channel is a resolved channel.
type Channel struct {
	ID   string
	Name string
	// LatestVideoID is the newest upload at resolution time. It seeds the
	// watermark so that registering a channel does not flood the user.
	LatestVideoID string
}

// VideoInfo contains metadata about a YouTube video.
type VideoInfo struct {
	// ID is the YouTube video ID (e.g., "dQw4w9WgXcQ").
	ID string `json:"id"`

	// Title is the video title.
	Title string `json:"title"`

	// ChannelID is the YouTube channel ID (e.g., "UCuAXFkgsw1L7xaCfnd5JJOw").
	ChannelID string `json:"channel_id"`

	// ChannelName is the display name of the channel.
	ChannelName string `json:"channel_name"`

	// Published is when the video was published.
	Published time.Time `json:"published"`

	// Duration is the video length. Zero when the source does not report it (RSS).
	Duration time.Duration `json:"duration,omitempty"`

	// HasCaption is nil when unknown.
	HasCaption *bool `json:"has_caption,omitempty"`
}

// VideoURL returns the full YouTube URL for this video.
func (v VideoInfo) VideoURL() string {
	return WatchURL(v.ID)
}

// IsShort reports whether the video is a short clip: a known duration at or
// under max, or a title tagged #shorts.
func (v VideoInfo) IsShort(max time.Duration) bool {
	if v.Duration > 0 && v.Duration <= max {
		return true
	}
	return strings.Contains(strings.ToLower(v.Title), "#shorts")
}

// Metadata converts to the cached representation.
func (v VideoInfo) Metadata() storage.VideoMetadata {
	return storage.VideoMetadata{
		ID:          v.ID,
		Title:       v.Title,
		ChannelID:   v.ChannelID,
		ChannelName: v.ChannelName,
		PublishedAt: v.Published,
		Duration:    int(v.Duration / time.Second),
		HasCaption:  v.HasCaption,
	}
}

// WatchURL returns the watch page URL for a video id.
func WatchURL(videoID string) string {
	return "https://www.youtube.com/watch?v=" + videoID
}

// ListerError wraps listing errors with context about what failed.
// Use errors.As() to extract this error type and get operation details:
//
//	var listerErr *youtube.ListerError
//	if errors.As(err, &listerErr) {
//		fmt.Printf("Failed to list from %s: %v\n", listerErr.Source, listerErr.Err)
//	}
type ListerError struct {
	// Source indicates which lister produced the error ("rss", "api", "scrape").
	Source string
	// Channel is the channel URL or ID that was being listed.
	Channel string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the listing error.
func (e *ListerError) Error() string {
	return "youtube: " + e.Source + " listing " + e.Channel + ": " + e.Err.Error()
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *ListerError) Unwrap() error { return e.Err }

func boolPtr(b bool) *bool { return &b }
