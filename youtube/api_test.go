package youtube

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"ytdigest/internal/retry"
)

const searchResponse = `{
  "items": [
    {"id": {"kind": "youtube#video", "videoId": "vidLong0001"},
     "snippet": {"title": "Deep dive &amp; Q&amp;A", "channelTitle": "Test Channel", "publishedAt": "2025-01-03T10:00:00Z"}},
    {"id": {"kind": "youtube#video", "videoId": "vidShort002"},
     "snippet": {"title": "Quick tip", "channelTitle": "Test Channel", "publishedAt": "2025-01-03T09:00:00Z"}},
    {"id": {"kind": "youtube#video", "videoId": "vidTagged03"},
     "snippet": {"title": "Look at this #shorts", "channelTitle": "Test Channel", "publishedAt": "2025-01-03T08:00:00Z"}}
  ]
}`

const videosResponse = `{
  "items": [
    {"id": "vidLong0001", "contentDetails": {"duration": "PT12M7S", "caption": "true"}},
    {"id": "vidShort002", "contentDetails": {"duration": "PT45S", "caption": "false"}},
    {"id": "vidTagged03", "contentDetails": {"duration": "PT2M", "caption": "false"}}
  ]
}`

const quotaResponse = `{
  "error": {
    "code": 403,
    "message": "The request cannot be completed because you have exceeded your quota.",
    "errors": [{"message": "quota", "domain": "youtube.quota", "reason": "quotaExceeded"}]
  }
}`

// newAPITestLister points a Data API lister at a local server.
func newAPITestLister(t *testing.T, h http.HandlerFunc) (*APILister, *int32) {
	t.Helper()
	var calls int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		h(w, r)
	})
	lister, err := NewAPILister(context.Background(), "test-key", nil, 0, option.WithEndpoint(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewAPILister() failed: %v", err)
	}
	lister.RetryConfig = retry.NoRetry()
	return lister, &calls
}

func dataAPIHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/search"):
		w.Write([]byte(searchResponse))
	case strings.HasSuffix(r.URL.Path, "/videos"):
		w.Write([]byte(videosResponse))
	default:
		http.NotFound(w, r)
	}
}

func TestNewAPILister(t *testing.T) {
	tests := []struct {
		name    string
		apiKey  string
		wantErr bool
	}{
		{"empty key", "", true},
		{"valid key", "test-api-key-12345", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lister, err := NewAPILister(context.Background(), tt.apiKey, nil, 0)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewAPILister() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrNoAPIKey) {
				t.Errorf("NewAPILister() error = %v, want ErrNoAPIKey", err)
			}
			if !tt.wantErr && lister == nil {
				t.Errorf("NewAPILister() returned nil lister for valid key")
			}
		})
	}
}

func TestAPIListerListRecent(t *testing.T) {
	var gotKey, gotOrder string
	lister, _ := newAPITestLister(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/search") {
			gotKey = r.URL.Query().Get("key")
			gotOrder = r.URL.Query().Get("order")
		}
		dataAPIHandler(w, r)
	})

	videos, err := lister.ListRecent(context.Background(), testChannelID, time.Now().Add(-48*time.Hour))
	if err != nil {
		t.Fatalf("ListRecent() error: %v", err)
	}
	if gotKey != "test-key" {
		t.Errorf("key param = %q, want test-key", gotKey)
	}
	if gotOrder != "date" {
		t.Errorf("order param = %q, want date", gotOrder)
	}
	if len(videos) != 3 {
		t.Fatalf("ListRecent() returned %d videos, want 3", len(videos))
	}
	first := videos[0]
	if first.Title != "Deep dive & Q&A" {
		t.Errorf("title not unescaped: %q", first.Title)
	}
	if first.Duration != 12*time.Minute+7*time.Second {
		t.Errorf("duration = %v", first.Duration)
	}
	if first.HasCaption == nil || !*first.HasCaption {
		t.Error("first video should report captions")
	}
	if videos[1].HasCaption == nil || *videos[1].HasCaption {
		t.Error("second video should report no captions")
	}
	// search (100) + videos.list (1)
	if got := lister.GetEstimatedQuota(); got != 10000-101 {
		t.Errorf("estimated quota = %d, want %d", got, 10000-101)
	}
}

func TestAPIListerQuotaTracking(t *testing.T) {
	lister, err := NewAPILister(context.Background(), "test-key", nil, 1000)
	if err != nil {
		t.Fatalf("NewAPILister() failed: %v", err)
	}

	if initial := lister.GetEstimatedQuota(); initial != 10000 {
		t.Errorf("initial quota = %d, want 10000", initial)
	}

	lister.trackQuotaUsage(1000)
	if quota := lister.GetEstimatedQuota(); quota != 9000 {
		t.Errorf("after 1000 units usage, quota = %d, want 9000", quota)
	}
	if err := lister.checkQuota(searchQuotaCost); err != nil {
		t.Errorf("checkQuota() at 9000 with reserve 1000 = %v, want nil", err)
	}

	lister.trackQuotaUsage(8200)
	if quota := lister.GetEstimatedQuota(); quota != 800 {
		t.Errorf("after 8200 units usage, quota = %d, want 800", quota)
	}
	if err := lister.checkQuota(listQuotaCost); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("checkQuota() below reserve = %v, want ErrQuotaExceeded", err)
	}
}

func TestAPIListerQuotaReset(t *testing.T) {
	lister, err := NewAPILister(context.Background(), "test-key", nil, 0)
	if err != nil {
		t.Fatalf("NewAPILister() failed: %v", err)
	}

	lister.trackQuotaUsage(11000)
	if err := lister.checkQuota(1); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("checkQuota() after overuse = %v, want ErrQuotaExceeded", err)
	}

	lister.mu.Lock()
	lister.lastQuotaReset = time.Now().Add(-25 * time.Hour)
	lister.mu.Unlock()

	lister.trackQuotaUsage(1)
	if err := lister.checkQuota(1); err != nil {
		t.Errorf("checkQuota() after reset = %v, want nil", err)
	}
	if quota := lister.GetEstimatedQuota(); quota != 9999 {
		t.Errorf("after reset and 1 unit usage, quota = %d, want 9999", quota)
	}
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"local estimate", ErrQuotaExceeded, true},
		{"no key", ErrNoAPIKey, true},
		{"wrapped", &ListerError{Source: "api", Channel: "x", Err: ErrQuotaExceeded}, true},
		{"forbidden", &googleapi.Error{Code: 403}, true},
		{"too many", &googleapi.Error{Code: 429}, true},
		{"reason", &googleapi.Error{Code: 400, Errors: []googleapi.ErrorItem{{Reason: "keyInvalid"}}}, true},
		{"message", &googleapi.Error{Code: 400, Message: "Daily Quota used up"}, true},
		{"server", &googleapi.Error{Code: 500}, false},
		{"not found", ErrChannelNotFound, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuotaError(tt.err); got != tt.want {
				t.Errorf("IsQuotaError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAPIErrorClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"channel not found", ErrChannelNotFound, false},
		{"invalid URL", ErrInvalidURL, false},
		{"quota exceeded", &googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "quotaExceeded"}}}, false},
		{"server error", &googleapi.Error{Code: 503}, true},
		{"bad request", &googleapi.Error{Code: 400}, false},
		{"timeout", context.DeadlineExceeded, false},
		{"network error", errors.New("connection reset by peer"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := apiErrorClassifier(tt.err); got != tt.want {
				t.Errorf("apiErrorClassifier() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAPIListerResolveChannel(t *testing.T) {
	lister, _ := newAPITestLister(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/channels"):
			w.Write([]byte(`{"items": [{"id": "` + testChannelID + `", "snippet": {"title": "Test Channel"}}]}`))
		case strings.HasSuffix(r.URL.Path, "/search") && r.URL.Query().Get("type") == "channel":
			if r.URL.Query().Get("q") != "@testhandle" {
				w.Write([]byte(`{"items": []}`))
				return
			}
			w.Write([]byte(`{"items": [{"id": {"kind": "youtube#channel", "channelId": "` + testChannelID + `"}, "snippet": {"title": "Handle &amp; Co"}}]}`))
		case strings.HasSuffix(r.URL.Path, "/search"):
			w.Write([]byte(`{"items": [{"id": {"kind": "youtube#video", "videoId": "vidNewest01"}}]}`))
		default:
			http.NotFound(w, r)
		}
	})

	tests := []struct {
		name     string
		ref      ChannelRef
		wantName string
		wantErr  error
	}{
		{"by id", ChannelRef{RefChannelID, testChannelID}, "Test Channel", nil},
		{"by handle", ChannelRef{RefHandle, "testhandle"}, "Handle & Co", nil},
		{"unknown handle", ChannelRef{RefHandle, "nobody"}, "", ErrChannelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch, err := lister.ResolveChannel(context.Background(), tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveChannel() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveChannel() error: %v", err)
			}
			if ch.ID != testChannelID || ch.Name != tt.wantName || ch.LatestVideoID != "vidNewest01" {
				t.Errorf("ResolveChannel() = %+v", ch)
			}
		})
	}
}

func TestAPIListerGetVideo(t *testing.T) {
	lister, _ := newAPITestLister(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/videos") || r.URL.Query().Get("id") != "vidLong0001" {
			w.Write([]byte(`{"items": []}`))
			return
		}
		w.Write([]byte(`{"items": [{"id": "vidLong0001",
  "snippet": {"title": "Deep dive &amp; Q&amp;A", "channelId": "` + testChannelID + `", "channelTitle": "Test Channel", "publishedAt": "2025-01-03T10:00:00Z"},
  "contentDetails": {"duration": "PT12M7S", "caption": "true"}}]}`))
	})

	v, err := lister.GetVideo(context.Background(), "vidLong0001")
	if err != nil {
		t.Fatalf("GetVideo() error: %v", err)
	}
	if v.Title != "Deep dive & Q&A" || v.ChannelName != "Test Channel" || v.ChannelID != testChannelID {
		t.Errorf("GetVideo() = %+v", v)
	}
	if v.Duration != 12*time.Minute+7*time.Second {
		t.Errorf("Duration = %v, want 12m7s", v.Duration)
	}
	if v.HasCaption == nil || !*v.HasCaption {
		t.Errorf("HasCaption = %v, want true", v.HasCaption)
	}

	if _, err := lister.GetVideo(context.Background(), "gone0000000"); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("GetVideo(unknown) error = %v, want ErrVideoNotFound", err)
	}
}
