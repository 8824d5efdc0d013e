package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, opts ...Option) *JSONStore {
	t.Helper()
	store, err := NewJSONStore(t.TempDir(), append([]Option{WithLocation(time.UTC)}, opts...)...)
	if err != nil {
		t.Fatalf("NewJSONStore() error = %v", err)
	}
	return store
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func TestLoadSettings_CreatesMissingDocument(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, err := store.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if doc.Settings.NotificationTime != DefaultNotificationTime {
		t.Errorf("NotificationTime = %q, want %q", doc.Settings.NotificationTime, DefaultNotificationTime)
	}
	if !doc.Settings.NotificationEnabled {
		t.Error("NotificationEnabled = false, want true by default")
	}
	if len(doc.Subscriptions) != 0 {
		t.Errorf("got %d subscriptions, want 0", len(doc.Subscriptions))
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), settingsFile)); err != nil {
		t.Errorf("settings file was not created: %v", err)
	}
}

func TestLoadSettings_SeedsConfiguredDefaults(t *testing.T) {
	seed := DefaultSettings()
	seed.NotificationTime = "07:15"
	seed.TelegramToken = "tok"
	store := newTestStore(t, WithDefaultSettings(seed))

	doc, err := store.LoadSettings(context.Background())
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if doc.Settings.NotificationTime != "07:15" || doc.Settings.TelegramToken != "tok" {
		t.Errorf("Settings = %+v, want seeded values", doc.Settings)
	}
}

func TestLoadSettings_DefaultsForOlderDocuments(t *testing.T) {
	store := newTestStore(t)
	legacy := `{"settings":{"telegram_token":"tok","telegram_chat_id":"42"},"subscriptions":[{"channel_id":"UC1","channel_name":"One","tags":[" go ","go",""],"is_active":true}]}`
	if err := os.WriteFile(filepath.Join(store.Dir(), settingsFile), []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	doc, err := store.LoadSettings(context.Background())
	if err != nil {
		t.Fatalf("LoadSettings() error = %v", err)
	}
	if !doc.Settings.NotificationEnabled {
		t.Error("missing notification_enabled should default to true")
	}
	if doc.Settings.NotificationTime != DefaultNotificationTime {
		t.Errorf("NotificationTime = %q, want default", doc.Settings.NotificationTime)
	}
	if doc.Settings.TargetPlatform != PlatformTelegram {
		t.Errorf("TargetPlatform = %q, want telegram", doc.Settings.TargetPlatform)
	}
	sub := doc.Subscription("UC1")
	if sub == nil {
		t.Fatal("subscription UC1 missing")
	}
	if len(sub.Tags) != 1 || sub.Tags[0] != "go" {
		t.Errorf("Tags = %v, want [go]", sub.Tags)
	}
}

func TestLoadSettings_RejectsDuplicateChannels(t *testing.T) {
	store := newTestStore(t)
	dup := `{"settings":{},"subscriptions":[{"channel_id":"UC1"},{"channel_id":"UC1"}]}`
	if err := os.WriteFile(filepath.Join(store.Dir(), settingsFile), []byte(dup), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := store.LoadSettings(context.Background())
	if !errors.Is(err, ErrStorageCorrupt) {
		t.Errorf("LoadSettings() error = %v, want ErrStorageCorrupt", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, err := store.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	doc.Settings.NotificationEnabled = false
	doc.Settings.NotificationTime = "21:30"
	if _, err := doc.AddSubscription(Subscription{ChannelID: "UC1", ChannelName: "One", Tags: []string{"ai"}, IsActive: true}); err != nil {
		t.Fatalf("AddSubscription() error = %v", err)
	}
	if _, err := doc.AddSubscription(Subscription{ChannelID: "UC1"}); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate AddSubscription() error = %v, want ErrAlreadyExists", err)
	}
	if err := store.SaveSettings(ctx, doc); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	reloaded, err := store.LoadSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Settings.NotificationEnabled {
		t.Error("explicit notification_enabled=false was not kept")
	}
	if reloaded.Settings.NotificationTime != "21:30" {
		t.Errorf("NotificationTime = %q, want 21:30", reloaded.Settings.NotificationTime)
	}
	if got := len(reloaded.ActiveSubscriptions()); got != 1 {
		t.Errorf("ActiveSubscriptions() = %d, want 1", got)
	}
}

func TestRemoveSubscription_CascadesVideoCache(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc, _ := store.LoadSettings(ctx)
	doc.AddSubscription(Subscription{ChannelID: "UC1", IsActive: true})
	if err := store.SaveSettings(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if err := store.PutVideos(ctx, "UC1", []VideoMetadata{{ID: "v1"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertSummary(ctx, "v1", nil, "kept", "T", "One"); err != nil {
		t.Fatal(err)
	}

	if err := store.RemoveSubscription(ctx, "UC1"); err != nil {
		t.Fatalf("RemoveSubscription() error = %v", err)
	}

	if _, _, err := store.GetVideos(ctx, "UC1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetVideos() after removal error = %v, want ErrNotFound", err)
	}
	if got, ok, _ := store.GetSummary(ctx, "v1", nil); !ok || got != "kept" {
		t.Errorf("summary should survive subscription removal, got %q ok=%v", got, ok)
	}
	if err := store.RemoveSubscription(ctx, "UC1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RemoveSubscription() error = %v, want ErrNotFound", err)
	}
}

func TestLoadSummaryIndex_MissingIsEmpty(t *testing.T) {
	store := newTestStore(t)
	index, err := store.LoadSummaryIndex(context.Background())
	if err != nil {
		t.Fatalf("LoadSummaryIndex() error = %v", err)
	}
	if len(index) != 0 {
		t.Errorf("got %d records, want 0", len(index))
	}
}

func TestLoadSummaryIndex_MigratesLegacyStrings(t *testing.T) {
	store := newTestStore(t)
	legacy := `{
  "dQw4w9WgXcQ_a,b": "old content",
  "abc_def_123_none": "odd id",
  "xyzxyzxyz12_go": {"content": "new", "video_id": "xyzxyzxyz12", "tags": ["go"], "created_at": "2025-01-01T10:00:00Z"}
}`
	path := filepath.Join(store.Dir(), summariesFile)
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	index, err := store.LoadSummaryIndex(context.Background())
	if err != nil {
		t.Fatalf("LoadSummaryIndex() error = %v", err)
	}

	rec := index["dQw4w9WgXcQ_a,b"]
	if rec.Content != "old content" || rec.VideoID != "dQw4w9WgXcQ" {
		t.Errorf("migrated record = %+v", rec)
	}
	if len(rec.Tags) != 2 || rec.Tags[0] != "a" || rec.Tags[1] != "b" {
		t.Errorf("migrated tags = %v, want [a b]", rec.Tags)
	}
	if got := index["abc_def_123_none"].VideoID; got != "abc_def_123" {
		t.Errorf("odd id VideoID = %q, want abc_def_123", got)
	}
	if got := index["xyzxyzxyz12_go"].Content; got != "new" {
		t.Errorf("object record Content = %q, want new", got)
	}

	// The document is rewritten, so a second load sees only objects.
	data, _ := os.ReadFile(path)
	index2, migrated, err := decodeSummaryIndex(data, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if migrated != 0 {
		t.Errorf("second decode migrated %d entries, want 0", migrated)
	}
	if len(index2) != 3 {
		t.Errorf("rewritten index has %d entries, want 3", len(index2))
	}
}

func TestLoadSummaryIndex_MigratesLegacyDate(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	store, err := NewJSONStore(t.TempDir(), WithLocation(kst))
	if err != nil {
		t.Fatal(err)
	}
	legacy := `{
  "dQw4w9WgXcQ_go": {"content": "old", "title": "T", "channel_name": "C", "video_id": "dQw4w9WgXcQ", "tags": ["go"], "date": "2025-01-02 08:30:00"}
}`
	path := filepath.Join(store.Dir(), summariesFile)
	if err := os.WriteFile(path, []byte(legacy), 0644); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetSummariesForDate(context.Background(), "2025-01-02")
	if err != nil {
		t.Fatalf("GetSummariesForDate() error = %v", err)
	}
	if len(got) != 1 || got[0].Content != "old" {
		t.Fatalf("GetSummariesForDate() = %+v, want the legacy record", got)
	}
	want := time.Date(2025, 1, 2, 8, 30, 0, 0, kst)
	if !got[0].CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, want)
	}

	// The rewritten document carries created_at.
	data, _ := os.ReadFile(path)
	if _, migrated, err := decodeSummaryIndex(data, kst); err != nil || migrated != 0 {
		t.Errorf("second decode migrated = %d, err = %v; want 0, nil", migrated, err)
	}
}

func TestLoadSummaryIndex_RejectsBadLegacyDate(t *testing.T) {
	_, _, err := decodeSummaryIndex([]byte(`{"v_none": {"content": "x", "date": "yesterday"}}`), time.UTC)
	if !errors.Is(err, ErrStorageCorrupt) {
		t.Errorf("decodeSummaryIndex() error = %v, want ErrStorageCorrupt", err)
	}
}

func TestLoadSummaryIndex_RejectsUnknownShapes(t *testing.T) {
	store := newTestStore(t)
	if err := os.WriteFile(filepath.Join(store.Dir(), summariesFile), []byte(`{"v_none": 42}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.LoadSummaryIndex(context.Background()); !errors.Is(err, ErrStorageCorrupt) {
		t.Errorf("LoadSummaryIndex() error = %v, want ErrStorageCorrupt", err)
	}
}

func TestUpsertSummary_TagOrderHitsSameEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertSummary(ctx, "vid", []string{"b", "a"}, "first", "Title", "Chan"); err != nil {
		t.Fatalf("UpsertSummary() error = %v", err)
	}
	got, ok, err := store.GetSummary(ctx, "vid", []string{"a", "b"})
	if err != nil || !ok {
		t.Fatalf("GetSummary() = %q, %v, %v", got, ok, err)
	}
	if got != "first" {
		t.Errorf("GetSummary() = %q, want first", got)
	}

	// Overwrite replaces rather than appends.
	if err := store.UpsertSummary(ctx, "vid", []string{"a", "b"}, "second", "Title", "Chan"); err != nil {
		t.Fatal(err)
	}
	index, _ := store.LoadSummaryIndex(ctx)
	if len(index) != 1 {
		t.Errorf("index has %d entries, want 1", len(index))
	}
	if index["vid_a,b"].Content != "second" {
		t.Errorf("record content = %q, want second", index["vid_a,b"].Content)
	}

	if _, ok, _ := store.GetSummary(ctx, "vid", []string{"a"}); ok {
		t.Error("a different tag set must not hit the cache")
	}
}

func TestUpsertRecord_KeepsModel(t *testing.T) {
	ts := time.Date(2025, 1, 2, 8, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(fixedClock(ts)))
	ctx := context.Background()

	rec := SummaryRecord{VideoID: "vid", Tags: []string{" go ", "go"}, Content: "c", Model: "gemini-2.5-flash"}
	if err := store.UpsertRecord(ctx, rec); err != nil {
		t.Fatalf("UpsertRecord() error = %v", err)
	}
	index, err := store.LoadSummaryIndex(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got, ok := index["vid_go"]
	if !ok {
		t.Fatalf("index keys = %v, want vid_go", index)
	}
	if got.Model != "gemini-2.5-flash" || !got.CreatedAt.Equal(ts) {
		t.Errorf("record = %+v", got)
	}
	if len(got.Tags) != 1 {
		t.Errorf("Tags = %v, want [go]", got.Tags)
	}

	if err := store.UpsertRecord(ctx, SummaryRecord{Content: "x"}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("UpsertRecord(no id) error = %v, want ErrInvalidInput", err)
	}
}

func TestSettingsDocument_SetTagsAndActive(t *testing.T) {
	doc := &SettingsDocument{Settings: DefaultSettings()}
	if _, err := doc.AddSubscription(Subscription{ChannelID: "UC1", IsActive: true, Tags: []string{"a"}}); err != nil {
		t.Fatal(err)
	}
	if _, err := doc.AddSubscription(Subscription{ChannelID: "UC2", IsActive: true, Tags: []string{"b", "a"}}); err != nil {
		t.Fatal(err)
	}

	if err := doc.SetTags("UC1", []string{"x", " ", "x"}); err != nil {
		t.Fatalf("SetTags() error = %v", err)
	}
	if got := doc.Subscription("UC1").Tags; len(got) != 1 || got[0] != "x" {
		t.Errorf("Tags = %v, want [x]", got)
	}
	if err := doc.SetActive("UC2", false); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	if got := doc.ActiveSubscriptions(); len(got) != 1 || got[0].ChannelID != "UC1" {
		t.Errorf("ActiveSubscriptions() = %v", got)
	}
	if got := doc.ActiveTags(); len(got) != 1 || got[0] != "x" {
		t.Errorf("ActiveTags() = %v, want [x]", got)
	}

	if err := doc.SetTags("UCmissing", nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetTags(missing) error = %v, want ErrNotFound", err)
	}
	if err := doc.SetActive("UCmissing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetActive(missing) error = %v, want ErrNotFound", err)
	}
}

func TestGetSummariesForDate(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	write := func(ts time.Time, videoID string, tags []string) {
		t.Helper()
		s, err := NewJSONStore(dir, WithLocation(time.UTC), WithClock(fixedClock(ts)))
		if err != nil {
			t.Fatal(err)
		}
		if err := s.UpsertSummary(ctx, videoID, tags, "c-"+videoID, "t", "ch"); err != nil {
			t.Fatal(err)
		}
	}

	day := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	write(day.Add(9*time.Hour), "v1", []string{"go"})
	write(day.Add(23*time.Hour+59*time.Minute), "v2", nil)
	write(day.Add(10*time.Hour), "v3", []string{"x", "y"})
	write(day.Add(-time.Minute), "v0", nil)
	write(day.Add(24*time.Hour), "v4", nil)
	write(day.Add(12*time.Hour), BriefingID("2025-01-01"), []string{BriefingTag})

	store, _ := NewJSONStore(dir, WithLocation(time.UTC))
	got, err := store.GetSummariesForDate(ctx, "2025-01-01")
	if err != nil {
		t.Fatalf("GetSummariesForDate() error = %v", err)
	}

	want := []string{"v1", "v3", "v2"}
	if len(got) != len(want) {
		t.Fatalf("got %d records, want %d: %+v", len(got), len(want), got)
	}
	for i, id := range want {
		if got[i].VideoID != id {
			t.Errorf("record %d VideoID = %q, want %q", i, got[i].VideoID, id)
		}
	}
}

func TestSchedulerStateRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	st, err := store.LoadSchedulerState(ctx)
	if err != nil {
		t.Fatalf("LoadSchedulerState() error = %v", err)
	}
	if st.LastRunDate != "" {
		t.Errorf("LastRunDate = %q, want empty", st.LastRunDate)
	}

	if err := store.SaveSchedulerState(ctx, SchedulerState{LastRunDate: "2025-01-02"}); err != nil {
		t.Fatal(err)
	}
	st, err = store.LoadSchedulerState(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.LastRunDate != "2025-01-02" {
		t.Errorf("LastRunDate = %q, want 2025-01-02", st.LastRunDate)
	}
}

func TestVideoCache(t *testing.T) {
	ts := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	store := newTestStore(t, WithClock(fixedClock(ts)))
	ctx := context.Background()

	yes := true
	videos := []VideoMetadata{{ID: "v1", Title: "One", Duration: 300, HasCaption: &yes}, {ID: "v2"}}
	if err := store.PutVideos(ctx, "UC1", videos); err != nil {
		t.Fatalf("PutVideos() error = %v", err)
	}

	got, fetched, err := store.GetVideos(ctx, "UC1")
	if err != nil {
		t.Fatalf("GetVideos() error = %v", err)
	}
	if !fetched.Equal(ts) {
		t.Errorf("fetched = %v, want %v", fetched, ts)
	}
	if len(got) != 2 || got[0].HasCaption == nil || !*got[0].HasCaption || got[1].HasCaption != nil {
		t.Errorf("GetVideos() = %+v", got)
	}

	if err := store.PutVideos(ctx, "../escape", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("PutVideos() with path separator error = %v, want ErrInvalidInput", err)
	}
}

func TestCacheKey(t *testing.T) {
	tests := []struct {
		name string
		tags []string
		want string
	}{
		{"no tags", nil, "vid_none"},
		{"empty tags", []string{"", " "}, "vid_none"},
		{"sorted", []string{"a", "b"}, "vid_a,b"},
		{"unsorted", []string{"b", "a"}, "vid_a,b"},
		{"duplicates", []string{"b", "a", "b"}, "vid_a,b"},
		{"briefing", []string{BriefingTag}, "vid_briefing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CacheKey("vid", tt.tags); got != tt.want {
				t.Errorf("CacheKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSplitCacheKey(t *testing.T) {
	id, tags := splitCacheKey("BRIEFING_2025-01-01_briefing")
	if id != "BRIEFING_2025-01-01" || len(tags) != 1 || tags[0] != "briefing" {
		t.Errorf("splitCacheKey(briefing) = %q, %v", id, tags)
	}
	id, tags = splitCacheKey("a_b-c_d-e_f_none")
	if id != "a_b-c_d-e_f" || len(tags) != 0 {
		t.Errorf("splitCacheKey(11-char id) = %q, %v", id, tags)
	}
}
