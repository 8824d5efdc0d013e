package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	httpclient "ytdigest/http"
)

// TranscriptNotAvailable is returned in place of text when a video has no
// usable captions. Callers compare against it to choose the audio path.
const TranscriptNotAvailable = "Transcript not available: captions are missing or disabled for this video."

const (
	watchPageURL     = "https://www.youtube.com/watch?v="
	innertubePlayer  = "https://www.youtube.com/youtubei/v1/player?prettyPrint=false"
	androidVersion   = "20.10.38"
	androidUserAgent = "com.google.android.youtube/" + androidVersion + " (Linux; U; Android 11) gzip"
	playerMarker     = "ytInitialPlayerResponse = "
	maxWatchPageSize = 6 << 20
)

var errNoCaptions = errors.New("youtube: no caption tracks")

// TranscriptError records which stage of the caption lookup failed.
type TranscriptError struct {
	VideoID string
	// Stage is "watch", "player" or "captions".
	Stage string
	Err   error
}

func (e *TranscriptError) Error() string {
	return fmt.Sprintf("youtube: transcript %s for %s: %v", e.Stage, e.VideoID, e.Err)
}

func (e *TranscriptError) Unwrap() error { return e.Err }

// TranscriptFetcher reads caption tracks from the watch page, falling back to
// the ANDROID player endpoint, and picks one by language priority.
type TranscriptFetcher struct {
	client *httpclient.Client
	logger *slog.Logger

	// Language is the preferred caption language.
	Language string
	// ForeignLanguages are tried, in order, when Language has no track.
	ForeignLanguages []string

	watchURL  string
	playerURL string
}

// NewTranscriptFetcher creates a fetcher preferring lang, then foreign.
func NewTranscriptFetcher(client *httpclient.Client, lang string, foreign []string) *TranscriptFetcher {
	if lang == "" {
		lang = "ko"
	}
	if len(foreign) == 0 {
		foreign = []string{"en"}
	}
	return &TranscriptFetcher{
		client:           client,
		logger:           slog.Default().With(slog.String("component", "youtube.transcript")),
		Language:         lang,
		ForeignLanguages: foreign,
		watchURL:         watchPageURL,
		playerURL:        innertubePlayer,
	}
}

// GetTranscript returns the caption text for videoID, or TranscriptNotAvailable.
// Lookup failures are logged and reported as TranscriptNotAvailable; only
// context cancellation is returned as an error.
func (f *TranscriptFetcher) GetTranscript(ctx context.Context, videoID string) (string, error) {
	log := f.logger.With(slog.String("video_id", videoID))

	tracks, err := f.watchPageTracks(ctx, videoID)
	if err != nil || len(tracks) == 0 {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Debug("youtube: watch page has no tracks, trying player", slog.Any("err", err))
		tracks, err = f.playerTracks(ctx, videoID)
	}
	if err != nil || len(tracks) == 0 {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Info("youtube: no captions", slog.Any("err", err))
		return TranscriptNotAvailable, nil
	}

	choice, ok := selectTrack(tracks, f.Language, f.ForeignLanguages)
	if !ok {
		log.Info("youtube: every caption track needs a PoToken")
		return TranscriptNotAvailable, nil
	}

	text, err := f.fetchCaptions(ctx, choice)
	if err != nil || strings.TrimSpace(text) == "" {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		log.Warn("youtube: caption download failed",
			slog.String("lang", choice.track.LanguageCode), slog.Any("err", err))
		return TranscriptNotAvailable, nil
	}

	log.Debug("youtube: transcript fetched",
		slog.String("lang", choice.track.LanguageCode),
		slog.String("kind", choice.track.Kind),
		slog.String("translated_to", choice.translateTo),
		slog.Int("chars", len(text)))
	return text, nil
}

type captionTrack struct {
	BaseURL        string `json:"baseUrl"`
	LanguageCode   string `json:"languageCode"`
	Kind           string `json:"kind"` // "asr" = auto-generated
	IsTranslatable bool   `json:"isTranslatable"`
}

type playerResponse struct {
	Captions *struct {
		PlayerCaptionsTracklistRenderer struct {
			CaptionTracks []captionTrack `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
	PlayabilityStatus *struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
}

func (p *playerResponse) tracks() ([]captionTrack, error) {
	if p.Captions == nil {
		if p.PlayabilityStatus != nil && p.PlayabilityStatus.Reason != "" {
			return nil, fmt.Errorf("%w: %s", errNoCaptions, p.PlayabilityStatus.Reason)
		}
		return nil, errNoCaptions
	}
	return p.Captions.PlayerCaptionsTracklistRenderer.CaptionTracks, nil
}

func (f *TranscriptFetcher) watchPageTracks(ctx context.Context, videoID string) ([]captionTrack, error) {
	resp, err := f.client.Do(ctx, "GET", f.watchURL+url.QueryEscape(videoID), nil, map[string]string{
		"Accept-Language": "en-US,en;q=0.9",
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Cookie":          "CONSENT=YES+1",
	})
	if err != nil {
		return nil, &TranscriptError{VideoID: videoID, Stage: "watch", Err: err}
	}

	body := resp.Body
	if len(body) > maxWatchPageSize {
		body = body[:maxWatchPageSize]
	}
	player, err := extractPlayerResponse(body)
	if err != nil {
		return nil, &TranscriptError{VideoID: videoID, Stage: "watch", Err: err}
	}
	tracks, err := player.tracks()
	if err != nil {
		return nil, &TranscriptError{VideoID: videoID, Stage: "watch", Err: err}
	}
	return tracks, nil
}

// extractPlayerResponse decodes the JSON object assigned to
// ytInitialPlayerResponse in watch page HTML.
func extractPlayerResponse(page []byte) (*playerResponse, error) {
	idx := bytes.Index(page, []byte(playerMarker))
	if idx < 0 {
		return nil, errors.New("ytInitialPlayerResponse not found")
	}
	// The decoder stops after the first complete value, ignoring the script tail.
	var p playerResponse
	if err := json.NewDecoder(bytes.NewReader(page[idx+len(playerMarker):])).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode ytInitialPlayerResponse: %w", err)
	}
	return &p, nil
}

type playerRequest struct {
	VideoID        string        `json:"videoId"`
	Context        playerContext `json:"context"`
	RacyCheckOk    bool          `json:"racyCheckOk"`
	ContentCheckOk bool          `json:"contentCheckOk"`
}

type playerContext struct {
	Client playerClient `json:"client"`
}

type playerClient struct {
	ClientName        string `json:"clientName"`
	ClientVersion     string `json:"clientVersion"`
	AndroidSdkVersion int    `json:"androidSdkVersion,omitempty"`
	Hl                string `json:"hl,omitempty"`
	Gl                string `json:"gl,omitempty"`
}

func (f *TranscriptFetcher) playerTracks(ctx context.Context, videoID string) ([]captionTrack, error) {
	body, err := json.Marshal(playerRequest{
		VideoID: videoID,
		Context: playerContext{Client: playerClient{
			ClientName:        "ANDROID",
			ClientVersion:     androidVersion,
			AndroidSdkVersion: 30,
			Hl:                f.Language,
		}},
		RacyCheckOk:    true,
		ContentCheckOk: true,
	})
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(ctx, "POST", f.playerURL, body, map[string]string{
		"Content-Type":             "application/json",
		"User-Agent":               androidUserAgent,
		"X-Youtube-Client-Name":    "3",
		"X-Youtube-Client-Version": androidVersion,
	})
	if err != nil {
		return nil, &TranscriptError{VideoID: videoID, Stage: "player", Err: err}
	}

	var p playerResponse
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		return nil, &TranscriptError{VideoID: videoID, Stage: "player", Err: err}
	}
	tracks, err := p.tracks()
	if err != nil {
		return nil, &TranscriptError{VideoID: videoID, Stage: "player", Err: err}
	}
	return tracks, nil
}

// trackChoice is a selected track plus an optional translation target.
type trackChoice struct {
	track       captionTrack
	translateTo string
}

// needsPoToken reports whether a caption URL only works in a browser session.
func needsPoToken(baseURL string) bool {
	return strings.Contains(baseURL, "&exp=xpe")
}

func langMatches(code, want string) bool {
	return code == want || strings.HasPrefix(code, want+"-")
}

// selectTrack applies the caption priority: native manual, native ASR,
// foreign translated into native, then foreign verbatim. Within the foreign
// tiers, listed languages come first and manual tracks before ASR.
func selectTrack(tracks []captionTrack, native string, foreign []string) (trackChoice, bool) {
	usable := make([]captionTrack, 0, len(tracks))
	for _, t := range tracks {
		if t.BaseURL != "" && !needsPoToken(t.BaseURL) {
			usable = append(usable, t)
		}
	}
	if len(usable) == 0 {
		return trackChoice{}, false
	}

	find := func(pred func(captionTrack) bool) (captionTrack, bool) {
		for _, t := range usable {
			if pred(t) {
				return t, true
			}
		}
		return captionTrack{}, false
	}

	if t, ok := find(func(t captionTrack) bool { return langMatches(t.LanguageCode, native) && t.Kind != "asr" }); ok {
		return trackChoice{track: t}, true
	}
	if t, ok := find(func(t captionTrack) bool { return langMatches(t.LanguageCode, native) }); ok {
		return trackChoice{track: t}, true
	}

	// Foreign candidates in preference order.
	var ordered []captionTrack
	for _, lang := range foreign {
		for _, asr := range []bool{false, true} {
			for _, t := range usable {
				if langMatches(t.LanguageCode, lang) && (t.Kind == "asr") == asr {
					ordered = append(ordered, t)
				}
			}
		}
	}
	ordered = append(ordered, usable...)

	for _, t := range ordered {
		if t.IsTranslatable {
			return trackChoice{track: t, translateTo: native}, true
		}
	}
	return trackChoice{track: ordered[0]}, true
}

func (f *TranscriptFetcher) fetchCaptions(ctx context.Context, choice trackChoice) (string, error) {
	u, err := url.Parse(choice.track.BaseURL)
	if err != nil {
		return "", &TranscriptError{Stage: "captions", Err: err}
	}
	q := u.Query()
	q.Set("fmt", "json3")
	if choice.translateTo != "" {
		q.Set("tlang", choice.translateTo)
	}
	u.RawQuery = q.Encode()

	resp, err := f.client.Get(ctx, u.String())
	if err != nil {
		return "", &TranscriptError{Stage: "captions", Err: err}
	}
	return parseJSON3(resp.Body)
}

// parseJSON3 joins the text segments of a json3 caption document.
func parseJSON3(data []byte) (string, error) {
	var doc struct {
		Events []struct {
			Segs []struct {
				UTF8 string `json:"utf8"`
			} `json:"segs"`
		} `json:"events"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("parse json3: %w", err)
	}

	var sb strings.Builder
	for _, ev := range doc.Events {
		var line strings.Builder
		for _, seg := range ev.Segs {
			line.WriteString(seg.UTF8)
		}
		text := strings.Join(strings.Fields(line.String()), " ")
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String(), nil
}
