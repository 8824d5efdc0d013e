package monitor

import (
	"log/slog"
	"time"
)

// SweepReport summarizes one sweep.
type SweepReport struct {
	SweepID  string
	Started  time.Time
	Finished time.Time

	// ChannelsChecked counts active subscriptions whose videos were fetched.
	ChannelsChecked int
	// NewVideos counts candidates selected across all channels.
	NewVideos int
	Sent      int
	// Failed counts deliveries that were attempted and rejected.
	Failed int
	// Skipped counts videos summarized while notifications were disabled.
	Skipped int
	// Cached counts summaries written to the archive.
	Cached int
	// WatermarksAdvanced counts subscriptions whose watermark moved.
	WatermarksAdvanced int

	BriefingSent   bool
	BriefingCached bool

	// SaveErr is set when the settings document could not be written back.
	SaveErr error
}

// Duration returns how long the sweep ran.
func (r SweepReport) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// LogValue implements slog.LogValuer.
func (r SweepReport) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("sweep_id", r.SweepID),
		slog.Int("channels", r.ChannelsChecked),
		slog.Int("new", r.NewVideos),
		slog.Int("sent", r.Sent),
		slog.Int("failed", r.Failed),
		slog.Int("skipped", r.Skipped),
		slog.Int("cached", r.Cached),
		slog.Int("watermarks", r.WatermarksAdvanced),
		slog.Bool("briefing_sent", r.BriefingSent),
		slog.Duration("duration", r.Duration()),
	}
	if r.SaveErr != nil {
		attrs = append(attrs, slog.Any("save_err", r.SaveErr))
	}
	return slog.GroupValue(attrs...)
}
