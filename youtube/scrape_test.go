package youtube

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

const channelPageHTML = `<!DOCTYPE html><html><head>
<meta property="og:title" content="Test &amp; Channel">
<meta itemprop="identifier" content="UCuAXFkgsw1L7xaCfnd5JJOw">
</head><body><script>var ytInitialData = {"channelId":"UCfeaturedXXXXXXXXXXXXXX"};</script></body></html>`

func TestParseChannelPage(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantID   string
		wantName string
	}{
		{"identifier wins", channelPageHTML, testChannelID, "Test & Channel"},
		{"embedded id only", `<script>{"channelId":"UCuAXFkgsw1L7xaCfnd5JJOw"}</script>`, testChannelID, ""},
		{"nothing", `<html></html>`, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := parseChannelPage([]byte(tt.body))
			if ch.ID != tt.wantID || ch.Name != tt.wantName {
				t.Errorf("parseChannelPage() = %+v, want id %q name %q", ch, tt.wantID, tt.wantName)
			}
		})
	}
}

func TestPageResolverResolve(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		ref      ChannelRef
		wantID   string
		wantName string
		wantErr  error
	}{
		{"handle page", http.StatusOK, channelPageHTML, ChannelRef{RefHandle, "testhandle"}, testChannelID, "Test & Channel", nil},
		{"id page without markers", http.StatusOK, `<html></html>`, ChannelRef{RefChannelID, testChannelID}, testChannelID, testChannelID, nil},
		{"handle page without markers", http.StatusOK, `<html></html>`, ChannelRef{RefHandle, "testhandle"}, "", "", ErrChannelNotFound},
		{"missing page", http.StatusNotFound, "", ChannelRef{RefHandle, "gone"}, "", "", ErrChannelNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotCookie string
			srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				gotCookie = r.Header.Get("Cookie")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			p := NewPageResolver(newTestClient(t))
			p.pageURL = func(ChannelRef) string { return srv.URL }

			ch, err := p.Resolve(context.Background(), tt.ref)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error: %v", err)
			}
			if gotCookie != "CONSENT=YES+1" {
				t.Errorf("Cookie header = %q", gotCookie)
			}
			if ch.ID != tt.wantID || ch.Name != tt.wantName {
				t.Errorf("Resolve() = %+v, want id %q name %q", ch, tt.wantID, tt.wantName)
			}
		})
	}
}
