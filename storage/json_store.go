package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	settingsFile   = "settings.json"
	summariesFile  = "summaries.json"
	schedulerFile  = "scheduler_state.json"
	videoCacheDir  = "video_cache"
	legacyIDLength = 11
	// legacyDateLayout is the naive local timestamp older records carry in
	// "date" instead of "created_at".
	legacyDateLayout = "2006-01-02 15:04:05"
)

// JSONStore keeps each document in its own JSON file under a data directory.
// Every read goes to disk and every write rewrites the whole document, so two
// processes saving from stale snapshots resolve last-write-wins.
type JSONStore struct {
	dir      string
	loc      *time.Location
	now      func() time.Time
	logger   *slog.Logger
	defaults UserSettings
}

// Option configures a JSONStore.
type Option func(*JSONStore)

// WithLocation sets the zone used to derive a summary's calendar date.
func WithLocation(loc *time.Location) Option {
	return func(s *JSONStore) { s.loc = loc }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *JSONStore) { s.now = now }
}

// WithDefaultSettings sets the settings written when no document exists yet.
func WithDefaultSettings(us UserSettings) Option {
	return func(s *JSONStore) { s.defaults = us }
}

// WithLogger sets the logger used for migration notices.
func WithLogger(l *slog.Logger) Option {
	return func(s *JSONStore) { s.logger = l }
}

// NewJSONStore creates the data directory if needed and returns a store rooted there.
func NewJSONStore(dir string, opts ...Option) (*JSONStore, error) {
	if dir == "" {
		return nil, &StorageError{Op: "open", Entity: "store", Err: ErrInvalidInput}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", ID: dir, Err: err}
	}
	s := &JSONStore{
		dir:      dir,
		loc:      time.Local,
		now:      time.Now,
		logger:   slog.Default(),
		defaults: DefaultSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the data directory.
func (s *JSONStore) Dir() string { return s.dir }

func (s *JSONStore) path(name string) string { return filepath.Join(s.dir, name) }

// --- settings document ---

// settingsJSON mirrors UserSettings with an optional NotificationEnabled so
// documents written before the field existed default to enabled.
type settingsJSON struct {
	NotificationTime    string   `json:"notification_time"`
	TargetPlatform      Platform `json:"target_platform"`
	TelegramToken       string   `json:"telegram_token,omitempty"`
	TelegramChatID      string   `json:"telegram_chat_id,omitempty"`
	NotificationEnabled *bool    `json:"notification_enabled"`
}

type settingsDocJSON struct {
	Settings      settingsJSON    `json:"settings"`
	Subscriptions []*Subscription `json:"subscriptions"`
}

// LoadSettings reads settings.json. A missing file is created with defaults.
func (s *JSONStore) LoadSettings(ctx context.Context) (*SettingsDocument, error) {
	path := s.path(settingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			doc := &SettingsDocument{Settings: s.defaults, Subscriptions: []*Subscription{}}
			// Save immediately to catch permission errors early
			if err := s.SaveSettings(ctx, doc); err != nil {
				return nil, err
			}
			return doc, nil
		}
		return nil, &StorageError{Op: "read", Entity: "settings", Err: err}
	}

	var raw settingsDocJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &StorageError{Op: "read", Entity: "settings", Err: fmt.Errorf("%w: %v", ErrStorageCorrupt, err)}
	}
	return decodeSettings(raw)
}

func decodeSettings(raw settingsDocJSON) (*SettingsDocument, error) {
	def := DefaultSettings()
	doc := &SettingsDocument{
		Settings: UserSettings{
			NotificationTime:    raw.Settings.NotificationTime,
			TargetPlatform:      raw.Settings.TargetPlatform,
			TelegramToken:       raw.Settings.TelegramToken,
			TelegramChatID:      raw.Settings.TelegramChatID,
			NotificationEnabled: def.NotificationEnabled,
		},
		Subscriptions: make([]*Subscription, 0, len(raw.Subscriptions)),
	}
	if raw.Settings.NotificationEnabled != nil {
		doc.Settings.NotificationEnabled = *raw.Settings.NotificationEnabled
	}
	if doc.Settings.NotificationTime == "" {
		doc.Settings.NotificationTime = def.NotificationTime
	}
	if doc.Settings.TargetPlatform == "" {
		doc.Settings.TargetPlatform = def.TargetPlatform
	}

	seen := make(map[string]bool, len(raw.Subscriptions))
	for _, sub := range raw.Subscriptions {
		if sub == nil || sub.ChannelID == "" {
			return nil, &StorageError{Op: "read", Entity: "subscription", Err: ErrStorageCorrupt}
		}
		if seen[sub.ChannelID] {
			return nil, &StorageError{Op: "read", Entity: "subscription", ID: sub.ChannelID, Err: ErrStorageCorrupt}
		}
		seen[sub.ChannelID] = true
		sub.Tags = NormalizeTags(sub.Tags)
		doc.Subscriptions = append(doc.Subscriptions, sub)
	}
	return doc, nil
}

// SaveSettings atomically rewrites settings.json.
func (s *JSONStore) SaveSettings(ctx context.Context, doc *SettingsDocument) error {
	if doc == nil {
		return &StorageError{Op: "write", Entity: "settings", Err: ErrInvalidInput}
	}
	if doc.Subscriptions == nil {
		doc.Subscriptions = []*Subscription{}
	}
	if err := writeJSONFile(s.path(settingsFile), doc); err != nil {
		return &StorageError{Op: "write", Entity: "settings", Err: err}
	}
	return nil
}

// RemoveSubscription deletes a subscription, saves the document and drops the
// channel's cached video list. Archived summaries are kept.
func (s *JSONStore) RemoveSubscription(ctx context.Context, channelID string) error {
	doc, err := s.LoadSettings(ctx)
	if err != nil {
		return err
	}
	if err := doc.RemoveSubscription(channelID); err != nil {
		return err
	}
	if err := s.SaveSettings(ctx, doc); err != nil {
		return err
	}
	return s.DeleteVideos(ctx, channelID)
}

// --- summary archive ---

// LoadSummaryIndex reads summaries.json. A missing file yields an empty map.
// Legacy entries holding a bare content string are migrated to full records
// and the document is rewritten once.
func (s *JSONStore) LoadSummaryIndex(ctx context.Context) (map[string]SummaryRecord, error) {
	data, err := os.ReadFile(s.path(summariesFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]SummaryRecord), nil
		}
		return nil, &StorageError{Op: "read", Entity: "summary", Err: err}
	}

	index, migrated, err := decodeSummaryIndex(data, s.loc)
	if err != nil {
		return nil, err
	}
	if migrated > 0 {
		s.logger.Info("storage: migrated legacy summary entries", slog.Int("count", migrated))
		if err := s.saveSummaryIndex(index); err != nil {
			return nil, err
		}
	}
	return index, nil
}

// legacyRecord holds the fields older documents used for a record.
type legacyRecord struct {
	Date string `json:"date"`
}

// decodeSummaryIndex parses the archive. Bare strings and records dated by
// "date" are upgraded and counted as migrated; loc interprets legacy dates.
func decodeSummaryIndex(data []byte, loc *time.Location) (map[string]SummaryRecord, int, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, 0, &StorageError{Op: "read", Entity: "summary", Err: fmt.Errorf("%w: %v", ErrStorageCorrupt, err)}
	}

	index := make(map[string]SummaryRecord, len(raw))
	migrated := 0
	for key, value := range raw {
		value = bytes.TrimSpace(value)
		if len(value) == 0 {
			return nil, 0, &StorageError{Op: "read", Entity: "summary", ID: key, Err: ErrStorageCorrupt}
		}
		switch value[0] {
		case '"':
			var content string
			if err := json.Unmarshal(value, &content); err != nil {
				return nil, 0, &StorageError{Op: "migrate", Entity: "summary", ID: key, Err: ErrStorageCorrupt}
			}
			videoID, tags := splitCacheKey(key)
			index[key] = SummaryRecord{Content: content, VideoID: videoID, Tags: tags}
			migrated++
		case '{':
			var rec SummaryRecord
			if err := json.Unmarshal(value, &rec); err != nil {
				return nil, 0, &StorageError{Op: "read", Entity: "summary", ID: key, Err: ErrStorageCorrupt}
			}
			if rec.VideoID == "" {
				rec.VideoID, _ = splitCacheKey(key)
			}
			if rec.Tags == nil {
				rec.Tags = []string{}
			}
			if rec.CreatedAt.IsZero() {
				var old legacyRecord
				if err := json.Unmarshal(value, &old); err == nil && old.Date != "" {
					created, err := time.ParseInLocation(legacyDateLayout, old.Date, loc)
					if err != nil {
						return nil, 0, &StorageError{Op: "migrate", Entity: "summary", ID: key, Err: fmt.Errorf("%w: date %q", ErrStorageCorrupt, old.Date)}
					}
					rec.CreatedAt = created
					migrated++
				}
			}
			index[key] = rec
		default:
			return nil, 0, &StorageError{Op: "read", Entity: "summary", ID: key, Err: ErrStorageCorrupt}
		}
	}
	return index, migrated, nil
}

// splitCacheKey recovers the video id and tags from a CacheKey. Briefing keys
// and standard 11-character video ids split exactly; anything else splits at
// the last underscore.
func splitCacheKey(key string) (string, []string) {
	var id, rest string
	switch {
	case strings.HasPrefix(key, BriefingPrefix):
		i := strings.LastIndex(key, "_")
		id, rest = key[:i], key[i+1:]
	case len(key) > legacyIDLength && key[legacyIDLength] == '_':
		id, rest = key[:legacyIDLength], key[legacyIDLength+1:]
	default:
		i := strings.LastIndex(key, "_")
		if i < 0 {
			return key, []string{}
		}
		id, rest = key[:i], key[i+1:]
	}
	if rest == "" || rest == "none" {
		return id, []string{}
	}
	return id, strings.Split(rest, ",")
}

func (s *JSONStore) saveSummaryIndex(index map[string]SummaryRecord) error {
	if err := writeJSONFile(s.path(summariesFile), index); err != nil {
		return &StorageError{Op: "write", Entity: "summary", Err: err}
	}
	return nil
}

// UpsertSummary writes the record for (videoID, tags), replacing any existing
// entry, and persists the full index.
func (s *JSONStore) UpsertSummary(ctx context.Context, videoID string, tags []string, content, title, channelName string) error {
	return s.UpsertRecord(ctx, SummaryRecord{
		Content:     content,
		Title:       title,
		ChannelName: channelName,
		VideoID:     videoID,
		Tags:        tags,
	})
}

// UpsertRecord stores rec under CacheKey(rec.VideoID, rec.Tags). Tags are
// normalized and CreatedAt is set to the store clock.
func (s *JSONStore) UpsertRecord(ctx context.Context, rec SummaryRecord) error {
	if rec.VideoID == "" {
		return &StorageError{Op: "write", Entity: "summary", Err: ErrInvalidInput}
	}
	index, err := s.LoadSummaryIndex(ctx)
	if err != nil {
		return err
	}
	rec.Tags = NormalizeTags(rec.Tags)
	rec.CreatedAt = s.now()
	index[CacheKey(rec.VideoID, rec.Tags)] = rec
	return s.saveSummaryIndex(index)
}

// GetSummary returns the cached content for (videoID, tags).
func (s *JSONStore) GetSummary(ctx context.Context, videoID string, tags []string) (string, bool, error) {
	index, err := s.LoadSummaryIndex(ctx)
	if err != nil {
		return "", false, err
	}
	rec, ok := index[CacheKey(videoID, tags)]
	if !ok {
		return "", false, nil
	}
	return rec.Content, true, nil
}

// GetSummariesForDate returns the per-video records whose creation date, in
// the store's zone, equals date. Briefings are excluded. The result is ordered
// by creation time.
func (s *JSONStore) GetSummariesForDate(ctx context.Context, date string) ([]SummaryRecord, error) {
	index, err := s.LoadSummaryIndex(ctx)
	if err != nil {
		return nil, err
	}
	var out []SummaryRecord
	for key, rec := range index {
		if strings.HasPrefix(key, BriefingPrefix) {
			continue
		}
		if rec.CreatedAt.IsZero() {
			continue
		}
		if rec.CreatedAt.In(s.loc).Format(time.DateOnly) == date {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VideoID < out[j].VideoID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// --- scheduler state ---

// LoadSchedulerState returns the persisted marker, or a zero state if absent.
func (s *JSONStore) LoadSchedulerState(ctx context.Context) (SchedulerState, error) {
	var st SchedulerState
	data, err := os.ReadFile(s.path(schedulerFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, &StorageError{Op: "read", Entity: "scheduler_state", Err: err}
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, &StorageError{Op: "read", Entity: "scheduler_state", Err: ErrStorageCorrupt}
	}
	return st, nil
}

// SaveSchedulerState persists the marker.
func (s *JSONStore) SaveSchedulerState(ctx context.Context, st SchedulerState) error {
	st.UpdatedAt = s.now()
	if err := writeJSONFile(s.path(schedulerFile), st); err != nil {
		return &StorageError{Op: "write", Entity: "scheduler_state", Err: err}
	}
	return nil
}

// --- video cache ---

type videoCacheEntry struct {
	ChannelID string          `json:"channel_id"`
	FetchedAt time.Time       `json:"fetched_at"`
	Videos    []VideoMetadata `json:"videos"`
}

func (s *JSONStore) videoCachePath(channelID string) (string, error) {
	if channelID == "" || strings.ContainsAny(channelID, `/\.`) {
		return "", &StorageError{Op: "read", Entity: "video_cache", ID: channelID, Err: ErrInvalidInput}
	}
	return filepath.Join(s.dir, videoCacheDir, channelID+".json"), nil
}

// PutVideos replaces the cached video list for a channel.
func (s *JSONStore) PutVideos(ctx context.Context, channelID string, videos []VideoMetadata) error {
	path, err := s.videoCachePath(channelID)
	if err != nil {
		return err
	}
	if videos == nil {
		videos = []VideoMetadata{}
	}
	entry := videoCacheEntry{ChannelID: channelID, FetchedAt: s.now(), Videos: videos}
	if err := writeJSONFile(path, entry); err != nil {
		return &StorageError{Op: "write", Entity: "video_cache", ID: channelID, Err: err}
	}
	return nil
}

// GetVideos returns the cached list for a channel, or ErrNotFound.
func (s *JSONStore) GetVideos(ctx context.Context, channelID string) ([]VideoMetadata, time.Time, error) {
	path, err := s.videoCachePath(channelID)
	if err != nil {
		return nil, time.Time{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, time.Time{}, &StorageError{Op: "read", Entity: "video_cache", ID: channelID, Err: ErrNotFound}
		}
		return nil, time.Time{}, &StorageError{Op: "read", Entity: "video_cache", ID: channelID, Err: err}
	}
	var entry videoCacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, time.Time{}, &StorageError{Op: "read", Entity: "video_cache", ID: channelID, Err: ErrStorageCorrupt}
	}
	return entry.Videos, entry.FetchedAt, nil
}

// DeleteVideos removes the cached list for a channel. A missing entry is not an error.
func (s *JSONStore) DeleteVideos(ctx context.Context, channelID string) error {
	path, err := s.videoCachePath(channelID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &StorageError{Op: "delete", Entity: "video_cache", ID: channelID, Err: err}
	}
	return nil
}
