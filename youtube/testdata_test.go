package youtube

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	httpclient "ytdigest/http"
	"ytdigest/internal/retry"
)

const testChannelID = "UCuAXFkgsw1L7xaCfnd5JJOw"

// sampleAtomFeed has three entries: two inside a 48h window ending
// 2025-01-03T12:00Z and one older.
const sampleAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/">
  <title>Test Channel</title>
  <author>
    <name>Test Uploader</name>
    <uri>https://www.youtube.com/channel/UCuAXFkgsw1L7xaCfnd5JJOw</uri>
  </author>
  <entry>
    <id>yt:video:vidNewest01</id>
    <yt:videoId>vidNewest01</yt:videoId>
    <yt:channelId>UCuAXFkgsw1L7xaCfnd5JJOw</yt:channelId>
    <title>Newest upload</title>
    <published>2025-01-03T10:00:00+00:00</published>
    <updated>2025-01-03T10:05:00+00:00</updated>
  </entry>
  <entry>
    <id>yt:video:vidOlderA02</id>
    <yt:videoId>vidOlderA02</yt:videoId>
    <yt:channelId>UCuAXFkgsw1L7xaCfnd5JJOw</yt:channelId>
    <title>Tuesday upload</title>
    <published>2025-01-01T12:00:00+00:00</published>
    <updated>2025-01-01T12:00:00+00:00</updated>
  </entry>
  <entry>
    <id>yt:video:vidAncient3</id>
    <yt:videoId>vidAncient3</yt:videoId>
    <yt:channelId>UCuAXFkgsw1L7xaCfnd5JJOw</yt:channelId>
    <title>Old upload</title>
    <published>2024-12-20T08:00:00+00:00</published>
    <updated>2024-12-20T08:00:00+00:00</updated>
  </entry>
</feed>`

const sampleEmptyAtomFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns="http://www.w3.org/2005/Atom" xmlns:yt="http://www.youtube.com/xml/schemas/2015">
  <title>Quiet Channel</title>
  <author><name>Quiet Uploader</name></author>
</feed>`

// newTestClient returns an HTTP client without retries or rate limits.
func newTestClient(t *testing.T) *httpclient.Client {
	t.Helper()
	cfg := httpclient.DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.Retry = retry.NoRetry()
	cfg.RateLimiter = httpclient.RateLimiterConfig{}
	c := httpclient.New(cfg)
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return ts
}
