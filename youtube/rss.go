package youtube

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	httpclient "ytdigest/http"
)

const rssFeedURL = "https://www.youtube.com/feeds/videos.xml"

// RSSLister reads a channel's public Atom feed. The feed needs no API key
// but carries only the 15 most recent uploads and no duration or caption data.
type RSSLister struct {
	client  *httpclient.Client
	baseURL string
}

// NewRSSLister creates a feed lister on the shared HTTP client.
func NewRSSLister(client *httpclient.Client) *RSSLister {
	return &RSSLister{client: client, baseURL: rssFeedURL}
}

// ListRecent returns feed entries published at or after since, newest first.
// Caption availability is unknown in the feed and reported as true so the
// transcript path is attempted first.
func (r *RSSLister) ListRecent(ctx context.Context, channelID string, since time.Time) ([]VideoInfo, error) {
	feed, err := r.fetch(ctx, channelID)
	if err != nil {
		return nil, err
	}

	videos := feedToVideoInfo(feed, channelID)
	filtered := videos[:0]
	for _, v := range videos {
		if !v.Published.Before(since) {
			v.HasCaption = boolPtr(true)
			filtered = append(filtered, v)
		}
	}
	sortNewestFirst(filtered)
	return filtered, nil
}

// Latest returns the channel title and the newest entry's id.
func (r *RSSLister) Latest(ctx context.Context, channelID string) (string, string, error) {
	feed, err := r.fetch(ctx, channelID)
	if err != nil {
		return "", "", err
	}
	videos := feedToVideoInfo(feed, channelID)
	sortNewestFirst(videos)

	name := feed.Author.Name
	if name == "" {
		name = feed.Title
	}
	if len(videos) == 0 {
		return name, "", nil
	}
	return name, videos[0].ID, nil
}

func (r *RSSLister) fetch(ctx context.Context, channelID string) (*atomFeed, error) {
	if !channelIDRegex.MatchString(channelID) {
		return nil, &ListerError{Source: "rss", Channel: channelID, Err: ErrInvalidURL}
	}

	feedURL := r.baseURL + "?channel_id=" + url.QueryEscape(channelID)
	resp, err := r.client.Get(ctx, feedURL)
	if err != nil {
		return nil, &ListerError{Source: "rss", Channel: channelID, Err: classifyHTTPError(ctx, err)}
	}

	feed, err := parseAtomFeed(resp.Body)
	if err != nil {
		return nil, &ListerError{Source: "rss", Channel: channelID, Err: err}
	}
	return feed, nil
}

// classifyHTTPError maps transport errors to package sentinels.
func classifyHTTPError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrNetworkTimeout, err)
	}
	var rl *httpclient.RateLimitError
	if errors.As(err, &rl) && !rl.IsBotDetection {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	if httpclient.StatusCode(err) == 404 {
		return fmt.Errorf("%w: %v", ErrChannelNotFound, err)
	}
	return err
}

// atomFeed represents a YouTube Atom feed structure.
type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Author  atomAuthor  `xml:"author"`
	Entries []atomEntry `xml:"entry"`
}

type atomAuthor struct {
	Name string `xml:"name"`
	URI  string `xml:"uri"`
}

type atomEntry struct {
	ID        string    `xml:"id"`
	VideoID   string    `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string    `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Title     string    `xml:"title"`
	Published time.Time `xml:"published"`
	Updated   time.Time `xml:"updated"`
}

// parseAtomFeed parses YouTube's Atom XML feed.
func parseAtomFeed(data []byte) (*atomFeed, error) {
	var feed atomFeed
	if err := xml.Unmarshal(data, &feed); err != nil {
		return nil, fmt.Errorf("parse atom feed: %w", err)
	}
	return &feed, nil
}

// feedToVideoInfo converts feed entries, skipping entries without a video id.
func feedToVideoInfo(feed *atomFeed, channelID string) []VideoInfo {
	videos := make([]VideoInfo, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if entry.VideoID == "" {
			continue
		}
		videos = append(videos, VideoInfo{
			ID:          entry.VideoID,
			Title:       entry.Title,
			ChannelID:   channelID,
			ChannelName: feed.Author.Name,
			Published:   entry.Published,
		})
	}
	return videos
}

func sortNewestFirst(videos []VideoInfo) {
	sort.SliceStable(videos, func(i, j int) bool {
		return videos[i].Published.After(videos[j].Published)
	})
}
