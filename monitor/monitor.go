// Package monitor runs the sweep that turns new uploads on subscribed
// channels into delivered summaries.
//
// Per subscription a sweep fetches recent videos, selects the ones newer
// than the watermark and inside the freshness horizon, and processes them
// oldest first. A summary is archived and the watermark moved only after
// the notification was delivered, so an undelivered video is retried by the
// next sweep. A delivered Failed result still moves the watermark but is
// never archived, so the watermark can pass videos with no cache entry.
// Settings are saved once at the end of the sweep.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"ytdigest/notify"
	"ytdigest/storage"
	"ytdigest/summarizer"
	"ytdigest/youtube"
)

// ErrSweepInProgress is returned when Sweep is called while another sweep runs.
var ErrSweepInProgress = errors.New("monitor: sweep already in progress")

// Defaults for Config.
const (
	DefaultLookbackWindow   = 48 * time.Hour
	DefaultFreshnessHorizon = 24 * time.Hour
	DefaultSendInterval     = 2 * time.Second
)

// Source lists a channel's recent uploads, newest first.
type Source interface {
	ListRecentVideos(ctx context.Context, channelID string, window time.Duration) []storage.VideoMetadata
}

// Notifier delivers a message and reports whether it arrived.
type Notifier interface {
	SendMessage(ctx context.Context, settings storage.UserSettings, text string) bool
}

// Summarizer resolves per-video summaries and the daily briefing.
type Summarizer interface {
	Summarize(ctx context.Context, videoID string, keywords []string) (summarizer.Result, summarizer.Source)
	GenerateBriefing(ctx context.Context, summaries []storage.SummaryRecord, keywords []string) summarizer.Result
}

// Store is the state the monitor reads and commits.
type Store interface {
	storage.SettingsStore
	UpsertRecord(ctx context.Context, rec storage.SummaryRecord) error
	GetSummariesForDate(ctx context.Context, date string) ([]storage.SummaryRecord, error)
	PutVideos(ctx context.Context, channelID string, videos []storage.VideoMetadata) error
}

// History receives delivery and check rows. It never gates state.
type History interface {
	RecordDelivery(ctx context.Context, d storage.Delivery) error
	RecordCheck(ctx context.Context, channelID string, videoIDs []string) error
}

// Config tunes a Monitor. Zero fields take the package defaults.
type Config struct {
	LookbackWindow   time.Duration
	FreshnessHorizon time.Duration
	// SendInterval is the minimum spacing between two sends.
	SendInterval time.Duration
	// Location is the zone of the briefing date. Defaults to time.Local.
	Location *time.Location
}

// SweepOptions selects optional sweep stages.
type SweepOptions struct {
	// Briefing generates and sends the daily digest after per-video work.
	Briefing bool
}

// Monitor runs sweeps. A Monitor is safe for concurrent use; overlapping
// sweeps are rejected.
type Monitor struct {
	source  Source
	summary Summarizer
	notify  Notifier
	store   Store
	history History

	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time

	running atomic.Bool
}

// New creates a Monitor. history may be nil.
func New(source Source, sum Summarizer, notifier Notifier, store Store, history History, cfg Config) *Monitor {
	if cfg.LookbackWindow <= 0 {
		cfg.LookbackWindow = DefaultLookbackWindow
	}
	if cfg.FreshnessHorizon <= 0 {
		cfg.FreshnessHorizon = DefaultFreshnessHorizon
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	limit := rate.Inf
	if cfg.SendInterval > 0 {
		limit = rate.Every(cfg.SendInterval)
	}
	return &Monitor{
		source:  source,
		summary: sum,
		notify:  notifier,
		store:   store,
		history: history,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  slog.Default().With(slog.String("component", "monitor")),
		now:     time.Now,
	}
}

// Sweep runs one pass over every active subscription. The report is returned
// even when err is non-nil.
func (m *Monitor) Sweep(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	if !m.running.CompareAndSwap(false, true) {
		return SweepReport{}, ErrSweepInProgress
	}
	defer m.running.Store(false)

	rep := SweepReport{SweepID: uuid.NewString(), Started: m.now()}
	log := m.logger.With(slog.String("sweep_id", rep.SweepID))
	log.Info("monitor: sweep started", slog.Bool("briefing", opts.Briefing))

	doc, err := m.store.LoadSettings(ctx)
	if err != nil {
		rep.Finished = m.now()
		return rep, fmt.Errorf("load settings: %w", err)
	}

	dirty := false
	for _, sub := range doc.ActiveSubscriptions() {
		if ctx.Err() != nil {
			break
		}
		if m.sweepChannel(ctx, log, rep.SweepID, doc.Settings, sub, &rep) {
			dirty = true
			rep.WatermarksAdvanced++
		}
	}

	if dirty {
		// Watermarks already delivered must survive a cancelled sweep.
		if err := m.store.SaveSettings(context.WithoutCancel(ctx), doc); err != nil {
			log.Error("monitor: saving settings failed", slog.Any("err", err))
			rep.SaveErr = err
		}
	}

	if opts.Briefing && ctx.Err() == nil {
		m.briefing(ctx, log, rep.SweepID, doc, &rep)
	}

	rep.Finished = m.now()
	if err := ctx.Err(); err != nil {
		log.Warn("monitor: sweep interrupted", slog.Any("report", rep))
		return rep, err
	}
	log.Info("monitor: sweep finished", slog.Any("report", rep))
	return rep, nil
}

// sweepChannel processes one subscription and reports whether its watermark moved.
func (m *Monitor) sweepChannel(ctx context.Context, log *slog.Logger, sweepID string, settings storage.UserSettings, sub *storage.Subscription, rep *SweepReport) bool {
	log = log.With(slog.String("channel_id", sub.ChannelID), slog.String("channel", sub.ChannelName))

	videos := m.source.ListRecentVideos(ctx, sub.ChannelID, m.cfg.LookbackWindow)
	rep.ChannelsChecked++
	m.recordCheck(ctx, log, sub.ChannelID, videos)
	if len(videos) == 0 {
		return false
	}
	if err := m.store.PutVideos(ctx, sub.ChannelID, videos); err != nil {
		log.Warn("monitor: video cache refresh failed", slog.Any("err", err))
	}

	candidates := SelectNew(videos, sub.LastProcessedVideo, m.now(), m.cfg.FreshnessHorizon)
	if len(candidates) == 0 {
		log.Debug("monitor: no new videos")
		return false
	}
	rep.NewVideos += len(candidates)
	log.Info("monitor: new videos", slog.Int("count", len(candidates)))

	advanced := false
	for _, v := range candidates {
		if ctx.Err() != nil {
			return advanced
		}
		vlog := log.With(slog.String("video_id", v.ID))

		res, src := m.summary.Summarize(ctx, v.ID, sub.Tags)
		vlog.Debug("monitor: summary resolved", slog.String("source", string(src)), slog.Bool("ok", res.OK()))

		if !settings.NotificationEnabled {
			rep.Skipped++
			if m.archive(ctx, vlog, sub, v, res, src) {
				rep.Cached++
			}
			m.recordDelivery(ctx, vlog, storage.Delivery{
				SweepID: sweepID, ChannelID: sub.ChannelID, VideoID: v.ID,
				Kind: storage.KindVideo, Status: storage.StatusSkipped, SummaryOK: res.OK(),
			})
			continue
		}

		if err := m.limiter.Wait(ctx); err != nil {
			return advanced
		}
		text := notify.FormatVideo(notify.VideoMessage{
			ChannelName: channelName(sub, v),
			Title:       v.Title,
			Duration:    v.Duration,
			Summary:     res.Display(),
			URL:         youtube.WatchURL(v.ID),
		})
		if !m.notify.SendMessage(ctx, settings, text) {
			rep.Failed++
			m.recordDelivery(ctx, vlog, storage.Delivery{
				SweepID: sweepID, ChannelID: sub.ChannelID, VideoID: v.ID,
				Kind: storage.KindVideo, Status: storage.StatusFailed, SummaryOK: res.OK(),
			})
			vlog.Warn("monitor: delivery failed, stopping channel")
			return advanced
		}
		rep.Sent++
		m.recordDelivery(ctx, vlog, storage.Delivery{
			SweepID: sweepID, ChannelID: sub.ChannelID, VideoID: v.ID,
			Kind: storage.KindVideo, Status: storage.StatusSent, SummaryOK: res.OK(),
		})

		if m.archive(ctx, vlog, sub, v, res, src) {
			rep.Cached++
		}
		sub.LastProcessedVideo = v.ID
		advanced = true
	}
	return advanced
}

// archive stores a freshly generated Ok summary. Failed results and cache
// hits are not written.
func (m *Monitor) archive(ctx context.Context, log *slog.Logger, sub *storage.Subscription, v storage.VideoMetadata, res summarizer.Result, src summarizer.Source) bool {
	if !res.OK() || src == summarizer.SourceCache {
		return false
	}
	err := m.store.UpsertRecord(ctx, storage.SummaryRecord{
		Content:     res.Text(),
		Title:       v.Title,
		ChannelName: channelName(sub, v),
		VideoID:     v.ID,
		Tags:        sub.Tags,
		Model:       res.Model(),
	})
	if err != nil {
		log.Error("monitor: archiving summary failed", slog.Any("err", err))
		return false
	}
	return true
}

func (m *Monitor) briefing(ctx context.Context, log *slog.Logger, sweepID string, doc *storage.SettingsDocument, rep *SweepReport) {
	date := m.now().In(m.cfg.Location).Format(time.DateOnly)
	log = log.With(slog.String("date", date))

	records, err := m.store.GetSummariesForDate(ctx, date)
	if err != nil {
		log.Error("monitor: loading today's summaries failed", slog.Any("err", err))
		return
	}
	if len(records) == 0 {
		log.Info("monitor: no summaries today, briefing skipped")
		return
	}

	res := m.summary.GenerateBriefing(ctx, records, doc.ActiveTags())
	id := storage.BriefingID(date)
	delivery := storage.Delivery{SweepID: sweepID, VideoID: id, Kind: storage.KindBriefing, SummaryOK: res.OK()}

	if doc.Settings.NotificationEnabled {
		if err := m.limiter.Wait(ctx); err != nil {
			return
		}
		if !m.notify.SendMessage(ctx, doc.Settings, notify.FormatBriefing(date, res.Display())) {
			delivery.Status = storage.StatusFailed
			m.recordDelivery(ctx, log, delivery)
			log.Warn("monitor: briefing delivery failed")
			return
		}
		delivery.Status = storage.StatusSent
		rep.BriefingSent = true
	} else {
		delivery.Status = storage.StatusSkipped
	}
	m.recordDelivery(ctx, log, delivery)

	if !res.OK() {
		return
	}
	err = m.store.UpsertRecord(ctx, storage.SummaryRecord{
		Content:     res.Text(),
		Title:       date + " daily briefing",
		ChannelName: "System",
		VideoID:     id,
		Tags:        []string{storage.BriefingTag},
		Model:       res.Model(),
	})
	if err != nil {
		log.Error("monitor: archiving briefing failed", slog.Any("err", err))
		return
	}
	rep.BriefingCached = true
}

func (m *Monitor) recordDelivery(ctx context.Context, log *slog.Logger, d storage.Delivery) {
	if m.history == nil {
		return
	}
	if err := m.history.RecordDelivery(context.WithoutCancel(ctx), d); err != nil {
		log.Warn("monitor: delivery log write failed", slog.Any("err", err))
	}
}

func (m *Monitor) recordCheck(ctx context.Context, log *slog.Logger, channelID string, videos []storage.VideoMetadata) {
	if m.history == nil {
		return
	}
	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	if err := m.history.RecordCheck(context.WithoutCancel(ctx), channelID, ids); err != nil {
		log.Warn("monitor: channel check write failed", slog.Any("err", err))
	}
}

func channelName(sub *storage.Subscription, v storage.VideoMetadata) string {
	if sub.ChannelName != "" {
		return sub.ChannelName
	}
	return v.ChannelName
}
