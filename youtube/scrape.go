package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"

	httpclient "ytdigest/http"
)

var (
	pageChannelIDRegex  = regexp.MustCompile(`"channelId":"(UC[a-zA-Z0-9_-]{22})"`)
	pageIdentifierRegex = regexp.MustCompile(`<meta itemprop="(?:identifier|channelId)" content="(UC[a-zA-Z0-9_-]{22})"`)
	pageTitleRegex      = regexp.MustCompile(`<meta property="og:title" content="([^"]*)"`)
)

// PageResolver resolves channels without an API key by reading the public
// channel page.
type PageResolver struct {
	client *httpclient.Client
	// pageURL overrides ChannelRef.PageURL, for tests.
	pageURL func(ChannelRef) string
	// oembedURL is the oEmbed endpoint used by Video.
	oembedURL string
}

// oembedEndpoint describes any public video by URL without an API key.
const oembedEndpoint = "https://www.youtube.com/oembed"

// NewPageResolver creates a scrape resolver on the shared HTTP client.
func NewPageResolver(client *httpclient.Client) *PageResolver {
	return &PageResolver{client: client, pageURL: ChannelRef.PageURL, oembedURL: oembedEndpoint}
}

// Resolve returns the channel id and display name found on the channel page.
func (p *PageResolver) Resolve(ctx context.Context, ref ChannelRef) (*Channel, error) {
	resp, err := p.client.Do(ctx, "GET", p.pageURL(ref), nil, map[string]string{
		"Accept-Language": "en-US,en;q=0.9",
		// Skips the EU consent interstitial.
		"Cookie": "CONSENT=YES+1",
	})
	if err != nil {
		return nil, &ListerError{Source: "scrape", Channel: ref.String(), Err: classifyHTTPError(ctx, err)}
	}

	ch := parseChannelPage(resp.Body)
	if ch.ID == "" {
		if ref.Kind == RefChannelID {
			ch.ID = ref.Value
		} else {
			return nil, &ListerError{Source: "scrape", Channel: ref.String(), Err: ErrChannelNotFound}
		}
	}
	if ch.Name == "" {
		ch.Name = ref.Query()
	}
	return ch, nil
}

// parseChannelPage extracts the channel id and og:title from page HTML.
// The itemprop identifier wins over the first embedded channelId, which on
// some layouts belongs to a featured channel.
func parseChannelPage(body []byte) *Channel {
	ch := &Channel{}
	if m := pageIdentifierRegex.FindSubmatch(body); m != nil {
		ch.ID = string(m[1])
	} else if m := pageChannelIDRegex.FindSubmatch(body); m != nil {
		ch.ID = string(m[1])
	}
	if m := pageTitleRegex.FindSubmatch(body); m != nil {
		ch.Name = html.UnescapeString(string(m[1]))
	}
	return ch
}

type oembedResponse struct {
	Title      string `json:"title"`
	AuthorName string `json:"author_name"`
	AuthorURL  string `json:"author_url"`
}

// Video reads a video's title and channel name from the oEmbed endpoint.
// Publish time, duration and the channel id are not available there.
func (p *PageResolver) Video(ctx context.Context, videoID string) (*VideoInfo, error) {
	q := url.Values{"url": {WatchURL(videoID)}, "format": {"json"}}
	resp, err := p.client.Get(ctx, p.oembedURL+"?"+q.Encode())
	if err != nil {
		switch httpclient.StatusCode(err) {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound:
			// Private, removed and malformed ids.
			err = fmt.Errorf("%w: %v", ErrVideoNotFound, err)
		default:
			err = classifyHTTPError(ctx, err)
		}
		return nil, &ListerError{Source: "oembed", Channel: videoID, Err: err}
	}
	var o oembedResponse
	if err := json.Unmarshal(resp.Body, &o); err != nil || o.Title == "" {
		return nil, &ListerError{Source: "oembed", Channel: videoID, Err: ErrVideoNotFound}
	}
	return &VideoInfo{ID: videoID, Title: o.Title, ChannelName: o.AuthorName}, nil
}
