// Package scheduler triggers the daily sweep at the configured notification
// time, or at the first tick after it when that moment was missed. The last
// completed run date is persisted so a restart on the same day does not
// sweep twice.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"ytdigest/monitor"
	"ytdigest/storage"
)

// TickSpec is how often the notification time is compared against the clock.
const TickSpec = "@every 1m"

// Sweeper runs a monitoring sweep.
type Sweeper interface {
	Sweep(ctx context.Context, opts monitor.SweepOptions) (monitor.SweepReport, error)
}

// StateStore provides the notification time and the run marker.
type StateStore interface {
	LoadSettings(ctx context.Context) (*storage.SettingsDocument, error)
	LoadSchedulerState(ctx context.Context) (storage.SchedulerState, error)
	SaveSchedulerState(ctx context.Context, st storage.SchedulerState) error
}

// Scheduler runs one briefing sweep per calendar day.
type Scheduler struct {
	sweeper  Sweeper
	store    StateStore
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a scheduler that interprets notification times in loc.
func New(sweeper Sweeper, store StateStore, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	return &Scheduler{
		sweeper:  sweeper,
		store:    store,
		location: loc,
		logger:   slog.Default().With(slog.String("component", "scheduler")),
		now:      time.Now,
	}
}

// Tick runs the daily sweep once now has reached the notification time and
// no sweep has completed today. A sweep that fails or collides with a running
// one leaves the day open, so later ticks the same day try again. It reports
// whether today's sweep completed on this tick.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (bool, error) {
	doc, err := s.store.LoadSettings(ctx)
	if err != nil {
		return false, fmt.Errorf("load settings: %w", err)
	}
	at, err := time.Parse("15:04", strings.TrimSpace(doc.Settings.NotificationTime))
	if err != nil {
		return false, fmt.Errorf("invalid notification time %q: %w", doc.Settings.NotificationTime, err)
	}
	local := now.In(s.location)
	if minuteOfDay(local) < minuteOfDay(at) {
		return false, nil
	}

	today := local.Format(time.DateOnly)
	st, err := s.store.LoadSchedulerState(ctx)
	if err != nil {
		return false, fmt.Errorf("load scheduler state: %w", err)
	}
	if st.LastRunDate == today {
		return false, nil
	}

	s.logger.Info("scheduler: daily sweep triggered", slog.String("date", today))
	rep, err := s.sweeper.Sweep(ctx, monitor.SweepOptions{Briefing: true})
	switch {
	case errors.Is(err, monitor.ErrSweepInProgress):
		s.logger.Warn("scheduler: sweep already running, will retry next tick")
		return false, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	case err != nil:
		return false, fmt.Errorf("daily sweep: %w", err)
	}

	st.LastRunDate = today
	if err := s.store.SaveSchedulerState(ctx, st); err != nil {
		return false, fmt.Errorf("save scheduler state: %w", err)
	}
	s.logger.Info("scheduler: daily sweep done", slog.Any("report", rep))
	return true, nil
}

func minuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// Run ticks every minute until ctx is cancelled, then waits for a running
// sweep to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	cronLog := cron.PrintfLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug))
	c := cron.New(
		cron.WithLocation(s.location),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)
	if _, err := c.AddFunc(TickSpec, func() {
		if _, err := s.Tick(ctx, s.now()); err != nil && ctx.Err() == nil {
			s.logger.Error("scheduler: tick failed", slog.Any("err", err))
		}
	}); err != nil {
		return fmt.Errorf("add cron job: %w", err)
	}

	s.logger.Info("scheduler: started", slog.String("tz", s.location.String()))
	c.Start()
	<-ctx.Done()

	s.logger.Info("scheduler: stopping")
	<-c.Stop().Done()
	return nil
}
