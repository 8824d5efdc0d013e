package storage

import (
	"slices"
	"strings"
	"time"
)

// Platform names the messaging endpoint a digest is delivered to.
type Platform string

// Supported platforms. Only PlatformTelegram has a sender.
const (
	PlatformTelegram Platform = "telegram"
	PlatformSlack    Platform = "slack"
	PlatformDiscord  Platform = "discord"
)

// DefaultNotificationTime is the wall-clock time of the daily sweep.
const DefaultNotificationTime = "09:00"

// BriefingPrefix marks synthetic summary ids for daily digests.
const BriefingPrefix = "BRIEFING_"

// BriefingTag is the tag set under which briefings are cached.
const BriefingTag = "briefing"

// Subscription is a channel the user follows.
type Subscription struct {
	// ChannelID is the YouTube channel ID (UC...), unique per document.
	ChannelID string `json:"channel_id"`
	// ChannelName is the display name captured at registration.
	ChannelName string `json:"channel_name"`
	// Tags are interest keywords. Order is kept for display only.
	Tags []string `json:"tags"`
	// LastProcessedVideo is the watermark: the newest delivered video id.
	LastProcessedVideo string `json:"last_processed_video,omitempty"`
	// IsActive toggles the subscription in sweeps.
	IsActive bool `json:"is_active"`
	// CreatedAt is when the subscription was registered.
	CreatedAt time.Time `json:"created_at"`
}

// UserSettings is the singleton notification configuration.
type UserSettings struct {
	// NotificationTime is the daily "HH:MM" trigger.
	NotificationTime string `json:"notification_time"`
	// TargetPlatform selects the sender.
	TargetPlatform Platform `json:"target_platform"`
	// TelegramToken is the bot token.
	TelegramToken string `json:"telegram_token,omitempty"`
	// TelegramChatID is the destination chat.
	TelegramChatID string `json:"telegram_chat_id,omitempty"`
	// NotificationEnabled gates sending. Disabled sweeps summarize without delivering.
	NotificationEnabled bool `json:"notification_enabled"`
}

// DefaultSettings returns the settings used when no document exists.
func DefaultSettings() UserSettings {
	return UserSettings{
		NotificationTime:    DefaultNotificationTime,
		TargetPlatform:      PlatformTelegram,
		NotificationEnabled: true,
	}
}

// HasTelegramCredentials reports whether both token and chat id are set.
func (s UserSettings) HasTelegramCredentials() bool {
	return strings.TrimSpace(s.TelegramToken) != "" && strings.TrimSpace(s.TelegramChatID) != ""
}

// SettingsDocument is the on-disk shape of settings.json.
type SettingsDocument struct {
	Settings      UserSettings    `json:"settings"`
	Subscriptions []*Subscription `json:"subscriptions"`
}

// Subscription returns the subscription for channelID, or nil.
func (d *SettingsDocument) Subscription(channelID string) *Subscription {
	for _, s := range d.Subscriptions {
		if s.ChannelID == channelID {
			return s
		}
	}
	return nil
}

// ActiveSubscriptions returns the subscriptions with IsActive set, in document order.
func (d *SettingsDocument) ActiveSubscriptions() []*Subscription {
	var out []*Subscription
	for _, s := range d.Subscriptions {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out
}

// AddSubscription registers a new active subscription.
func (d *SettingsDocument) AddSubscription(sub Subscription) (*Subscription, error) {
	if sub.ChannelID == "" {
		return nil, &StorageError{Op: "create", Entity: "subscription", Err: ErrInvalidInput}
	}
	if d.Subscription(sub.ChannelID) != nil {
		return nil, &StorageError{Op: "create", Entity: "subscription", ID: sub.ChannelID, Err: ErrAlreadyExists}
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	sub.Tags = NormalizeTags(sub.Tags)
	s := &sub
	d.Subscriptions = append(d.Subscriptions, s)
	return s, nil
}

// RemoveSubscription deletes the subscription for channelID.
func (d *SettingsDocument) RemoveSubscription(channelID string) error {
	for i, s := range d.Subscriptions {
		if s.ChannelID == channelID {
			d.Subscriptions = slices.Delete(d.Subscriptions, i, i+1)
			return nil
		}
	}
	return &StorageError{Op: "delete", Entity: "subscription", ID: channelID, Err: ErrNotFound}
}

// SetTags replaces the tags of channelID's subscription.
func (d *SettingsDocument) SetTags(channelID string, tags []string) error {
	s := d.Subscription(channelID)
	if s == nil {
		return &StorageError{Op: "update", Entity: "subscription", ID: channelID, Err: ErrNotFound}
	}
	s.Tags = NormalizeTags(tags)
	return nil
}

// SetActive toggles channelID's subscription in sweeps.
func (d *SettingsDocument) SetActive(channelID string, active bool) error {
	s := d.Subscription(channelID)
	if s == nil {
		return &StorageError{Op: "update", Entity: "subscription", ID: channelID, Err: ErrNotFound}
	}
	s.IsActive = active
	return nil
}

// ActiveTags returns the union of tags over active subscriptions, normalized.
func (d *SettingsDocument) ActiveTags() []string {
	var all []string
	for _, s := range d.ActiveSubscriptions() {
		all = append(all, s.Tags...)
	}
	return NormalizeTags(all)
}

// VideoMetadata is one fetched upload. It is cached, not archived.
type VideoMetadata struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	// Duration in seconds. Zero means unknown.
	Duration int `json:"duration"`
	// HasCaption is tri-state: nil means unknown.
	HasCaption *bool `json:"has_caption,omitempty"`
}

// SummaryRecord is one archived summary.
type SummaryRecord struct {
	Content     string    `json:"content"`
	Title       string    `json:"title,omitempty"`
	ChannelName string    `json:"channel_name,omitempty"`
	VideoID     string    `json:"video_id"`
	Tags        []string  `json:"tags"`
	// Model names the model that produced Content, when known.
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsBriefing reports whether the record is a daily digest.
func (r SummaryRecord) IsBriefing() bool {
	return strings.HasPrefix(r.VideoID, BriefingPrefix)
}

// BriefingID returns the synthetic video id for the digest of date (YYYY-MM-DD).
func BriefingID(date string) string {
	return BriefingPrefix + date
}

// SchedulerState is persisted so that a restart does not run the daily sweep twice.
type SchedulerState struct {
	LastRunDate string    `json:"last_run_date,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}
