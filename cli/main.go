package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"ytdigest/config"
	httpclient "ytdigest/http"
	"ytdigest/internal/retry"
	"ytdigest/monitor"
	"ytdigest/notify"
	"ytdigest/scheduler"
	"ytdigest/storage"
	"ytdigest/summarizer"
	"ytdigest/youtube"
)

func main() {
	command := "run"
	var args []string
	if len(os.Args) > 1 {
		command = os.Args[1]
		args = os.Args[2:]
	}

	switch command {
	case "run":
		cmdRun(args)
	case "once":
		cmdOnce(args)
	case "add":
		cmdAdd(args)
	case "remove":
		cmdRemove(args)
	case "list":
		cmdList(args)
	case "tags":
		cmdTags(args)
	case "toggle":
		cmdToggle(args)
	case "settings":
		cmdSettings(args)
	case "summarize":
		cmdSummarize(args)
	case "history":
		cmdHistory(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `ytdigest - YouTube channel digests on Telegram

Usage:
  ytdigest [run]                              Run the daily scheduler until interrupted
  ytdigest once                               Run one sweep with the daily briefing now
  ytdigest add <handle|url> [--tags a,b]      Subscribe to a channel
  ytdigest remove <channel-id>                Unsubscribe
  ytdigest list                               List subscriptions
  ytdigest tags <channel-id> <a,b>            Replace a subscription's tags
  ytdigest toggle <channel-id>                Pause or resume a subscription
  ytdigest settings [flags]                   Show or change notification settings
  ytdigest summarize <video-id> [flags]       Summarize one video and archive it
  ytdigest history [--limit N]                Show recent deliveries
  ytdigest help                               Show this help message

Configuration is read from $YTDIGEST_CONFIG, ./ytdigest.yaml or
~/.config/ytdigest/ytdigest.yaml, then .env and the environment
(YOUTUBE_API_KEY, GEMINI_API_KEY, TELEGRAM_BOT_TOKEN, TELEGRAM_CHAT_ID).

For help on specific command: ytdigest <command> -h
`)
}

// app holds the wired components shared by the commands.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	http     *httpclient.Client
	store    *storage.JSONStore
	history  *storage.DeliveryLog
	source   *youtube.Source
	pipeline *summarizer.Pipeline
	telegram *notify.Telegram
	monitor  *monitor.Monitor
}

func mustApp(ctx context.Context) *app {
	cfg, err := config.Load(config.GetConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	setupLogger(cfg.Log)

	a, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return a
}

func setupLogger(lc config.LogConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(lc.Format, "json") {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	hcfg := httpclient.DefaultConfig()
	hcfg.Timeout = cfg.HTTP.Timeout
	if cfg.HTTP.UserAgent != "" {
		hcfg.UserAgent = cfg.HTTP.UserAgent
	}
	hcfg.Retry = retry.Config{
		MaxRetries:     cfg.Retry.MaxRetries,
		InitialBackoff: cfg.Retry.InitialBackoff,
		MaxBackoff:     cfg.Retry.MaxBackoff,
		Multiplier:     cfg.Retry.BackoffMultiplier,
		JitterFraction: 0.2,
	}
	hc := httpclient.New(hcfg)

	seed := storage.DefaultSettings()
	seed.NotificationTime = cfg.Monitor.NotificationTime
	store, err := storage.NewJSONStore(cfg.DataDir, storage.WithLocation(loc), storage.WithDefaultSettings(seed))
	if err != nil {
		return nil, err
	}
	if err := seedCredentials(ctx, store, cfg.Telegram); err != nil {
		return nil, err
	}
	history, err := storage.OpenDeliveryLog(filepath.Join(cfg.DataDir, "deliveries.db"))
	if err != nil {
		return nil, fmt.Errorf("open delivery log: %w", err)
	}

	var api *youtube.APILister
	if cfg.YouTube.APIKey != "" {
		api, err = youtube.NewAPILister(ctx, cfg.YouTube.APIKey, hc.StdClient(), cfg.YouTube.QuotaReserve)
		if err != nil {
			slog.Warn("youtube: data api unavailable, using feed only", slog.Any("err", err))
			api = nil
		}
	}
	source := youtube.NewSource(api, youtube.NewRSSLister(hc), youtube.NewPageResolver(hc))
	source.ShortMaxDuration = cfg.YouTube.ShortMaxDuration

	audio := youtube.NewAudioDownloader()
	audio.YtdlpPath = cfg.YouTube.YtdlpPath
	audio.AudioQuality = cfg.YouTube.AudioQuality
	extractor := youtube.NewExtractor(
		youtube.NewTranscriptFetcher(hc, cfg.YouTube.Language, cfg.YouTube.ForeignLanguages),
		audio,
	)

	gemini := summarizer.NewGeminiClient(hc, cfg.Gemini.APIKey)
	text := summarizer.NewOpenAIGenerator(cfg.Gemini.APIKey, summarizer.WithHTTPClient(hc.StdClient()))
	chain := summarizer.NewChain(summarizer.NewBackend(text, gemini), cfg.Gemini.Models...)
	engine := summarizer.New(chain, gemini)
	engine.Language = cfg.Gemini.Language
	engine.MaxInputRunes = cfg.Gemini.MaxInputRunes
	pipeline := summarizer.NewPipeline(store, extractor, engine)

	telegram := notify.NewTelegram(hc.StdClient())
	mon := monitor.New(source, pipeline, telegram, store, history, monitor.Config{
		LookbackWindow:   cfg.Monitor.LookbackWindow,
		FreshnessHorizon: cfg.Monitor.FreshnessHorizon,
		SendInterval:     cfg.Monitor.SendInterval,
		Location:         loc,
	})

	return &app{
		cfg:      cfg,
		loc:      loc,
		http:     hc,
		store:    store,
		history:  history,
		source:   source,
		pipeline: pipeline,
		telegram: telegram,
		monitor:  mon,
	}, nil
}

// seedCredentials copies configured Telegram credentials into stored
// settings that have none.
func seedCredentials(ctx context.Context, store *storage.JSONStore, tc config.TelegramConfig) error {
	if tc.BotToken == "" && tc.ChatID == "" {
		return nil
	}
	doc, err := store.LoadSettings(ctx)
	if err != nil {
		return err
	}
	changed := false
	if doc.Settings.TelegramToken == "" && tc.BotToken != "" {
		doc.Settings.TelegramToken = tc.BotToken
		changed = true
	}
	if doc.Settings.TelegramChatID == "" && tc.ChatID != "" {
		doc.Settings.TelegramChatID = tc.ChatID
		changed = true
	}
	if !changed {
		return nil
	}
	return store.SaveSettings(ctx, doc)
}

func (a *app) Close() {
	if err := a.history.Close(); err != nil {
		slog.Warn("closing delivery log failed", slog.Any("err", err))
	}
	a.http.Close()
}

// parseInterleaved parses flags that may follow positional arguments and
// returns the positionals.
func parseInterleaved(fs *flag.FlagSet, args []string) []string {
	var positional []string
	for {
		fs.Parse(args)
		args = fs.Args()
		if len(args) == 0 {
			return positional
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func requireArgs(fs *flag.FlagSet, argv []string, n int, what string) {
	if len(argv) < n {
		fmt.Fprintf(os.Stderr, "Error: missing %s\n", what)
		fs.Usage()
		os.Exit(1)
	}
}

func usage(fs *flag.FlagSet, synopsis string) {
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ytdigest %s\n", synopsis)
		hasFlags := false
		fs.VisitAll(func(*flag.Flag) { hasFlags = true })
		if hasFlags {
			fmt.Fprintf(os.Stderr, "\nFlags:\n")
			fs.PrintDefaults()
		}
	}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	usage(fs, "run")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := mustApp(ctx)
	defer a.Close()

	sched := scheduler.New(a.monitor, a.store, a.loc)
	if err := sched.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdOnce(args []string) {
	fs := flag.NewFlagSet("once", flag.ExitOnError)
	noBriefing := fs.Bool("no-briefing", false, "Skip the daily briefing")
	usage(fs, "once [flags]")
	fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := mustApp(ctx)
	defer a.Close()

	rep, err := a.monitor.Sweep(ctx, monitor.SweepOptions{Briefing: !*noBriefing})
	fmt.Printf("Sweep %s: %d channels, %d new, %d sent, %d failed, %d cached, briefing sent: %v\n",
		rep.SweepID, rep.ChannelsChecked, rep.NewVideos, rep.Sent, rep.Failed, rep.Cached, rep.BriefingSent)
	if rep.SaveErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: settings not saved: %v\n", rep.SaveErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func cmdAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	tags := fs.String("tags", "", "Comma-separated interest keywords")
	usage(fs, "add <handle|url> [--tags a,b]")
	argv := parseInterleaved(fs, args)
	requireArgs(fs, argv, 1, "channel handle or URL")

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	a := mustApp(ctx)
	defer a.Close()

	ch, err := a.source.ResolveChannel(ctx, argv[0])
	if err != nil {
		if youtube.IsNotFound(err) {
			fmt.Fprintf(os.Stderr, "Error: channel %q not found\n", argv[0])
		} else {
			fmt.Fprintf(os.Stderr, "Error resolving channel: %v\n", err)
		}
		os.Exit(1)
	}

	doc, err := a.store.LoadSettings(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading settings: %v\n", err)
		os.Exit(1)
	}
	sub, err := doc.AddSubscription(storage.Subscription{
		ChannelID:          ch.ID,
		ChannelName:        ch.Name,
		Tags:               storage.ParseTags(*tags),
		LastProcessedVideo: ch.LatestVideoID,
		IsActive:           true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			fmt.Fprintf(os.Stderr, "Error: already subscribed to %s\n", ch.ID)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	if err := a.store.SaveSettings(ctx, doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving settings: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Subscribed to %s (%s)\n", sub.ChannelName, sub.ChannelID)
	if len(sub.Tags) > 0 {
		fmt.Printf("Tags: %s\n", strings.Join(sub.Tags, ", "))
	}
}

func cmdRemove(args []string) {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	usage(fs, "remove <channel-id>")
	fs.Parse(args)
	argv := fs.Args()
	requireArgs(fs, argv, 1, "channel-id")

	ctx := context.Background()
	a := mustApp(ctx)
	defer a.Close()

	if err := a.store.RemoveSubscription(ctx, argv[0]); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: no subscription for %s\n", argv[0])
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	fmt.Printf("Removed %s\n", argv[0])
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	usage(fs, "list")
	fs.Parse(args)

	ctx := context.Background()
	a := mustApp(ctx)
	defer a.Close()

	doc, err := a.store.LoadSettings(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading settings: %v\n", err)
		os.Exit(1)
	}
	if len(doc.Subscriptions) == 0 {
		fmt.Println("No subscriptions.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL ID\tNAME\tTAGS\tACTIVE\tLAST VIDEO")
	for _, s := range doc.Subscriptions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
			s.ChannelID,
			truncate(s.ChannelName, 40),
			strings.Join(s.Tags, ","),
			s.IsActive,
			s.LastProcessedVideo,
		)
	}
	w.Flush()
}

// updateSubscription loads settings, applies fn and saves.
func updateSubscription(channelID string, fn func(*storage.SettingsDocument) error) *storage.Subscription {
	ctx := context.Background()
	a := mustApp(ctx)
	defer a.Close()

	doc, err := a.store.LoadSettings(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading settings: %v\n", err)
		os.Exit(1)
	}
	if err := fn(doc); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			fmt.Fprintf(os.Stderr, "Error: no subscription for %s\n", channelID)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	if err := a.store.SaveSettings(ctx, doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving settings: %v\n", err)
		os.Exit(1)
	}
	return doc.Subscription(channelID)
}

func cmdTags(args []string) {
	fs := flag.NewFlagSet("tags", flag.ExitOnError)
	usage(fs, "tags <channel-id> <a,b>")
	fs.Parse(args)
	argv := fs.Args()
	requireArgs(fs, argv, 2, "channel-id or tags")

	sub := updateSubscription(argv[0], func(doc *storage.SettingsDocument) error {
		return doc.SetTags(argv[0], storage.ParseTags(argv[1]))
	})
	fmt.Printf("Tags for %s: %s\n", sub.ChannelName, strings.Join(sub.Tags, ", "))
}

func cmdToggle(args []string) {
	fs := flag.NewFlagSet("toggle", flag.ExitOnError)
	usage(fs, "toggle <channel-id>")
	fs.Parse(args)
	argv := fs.Args()
	requireArgs(fs, argv, 1, "channel-id")

	sub := updateSubscription(argv[0], func(doc *storage.SettingsDocument) error {
		s := doc.Subscription(argv[0])
		if s == nil {
			return storage.ErrNotFound
		}
		return doc.SetActive(argv[0], !s.IsActive)
	})
	state := "paused"
	if sub.IsActive {
		state = "active"
	}
	fmt.Printf("%s is now %s\n", sub.ChannelName, state)
}

func cmdSettings(args []string) {
	fs := flag.NewFlagSet("settings", flag.ExitOnError)
	notifyAt := fs.String("time", "", "Daily notification time (HH:MM)")
	token := fs.String("token", "", "Telegram bot token")
	chat := fs.String("chat", "", "Telegram chat id")
	enabled := fs.Bool("enabled", true, "Send notifications")
	test := fs.Bool("test", false, "Send a test message after saving")
	usage(fs, "settings [flags]")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a := mustApp(ctx)
	defer a.Close()

	doc, err := a.store.LoadSettings(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading settings: %v\n", err)
		os.Exit(1)
	}

	changed := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "time":
			if !config.ValidNotificationTime(*notifyAt) {
				fmt.Fprintf(os.Stderr, "Error: --time must be HH:MM (00:00-23:59), got %q\n", *notifyAt)
				os.Exit(1)
			}
			doc.Settings.NotificationTime = *notifyAt
		case "token":
			doc.Settings.TelegramToken = strings.TrimSpace(*token)
		case "chat":
			doc.Settings.TelegramChatID = strings.TrimSpace(*chat)
		case "enabled":
			doc.Settings.NotificationEnabled = *enabled
		default:
			return
		}
		changed = true
	})
	if changed {
		if err := a.store.SaveSettings(ctx, doc); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving settings: %v\n", err)
			os.Exit(1)
		}
	}

	s := doc.Settings
	fmt.Printf("Notification time: %s (%s)\n", s.NotificationTime, a.loc)
	fmt.Printf("Platform:          %s\n", s.TargetPlatform)
	fmt.Printf("Telegram token:    %s\n", mask(s.TelegramToken))
	fmt.Printf("Telegram chat:     %s\n", s.TelegramChatID)
	fmt.Printf("Enabled:           %v\n", s.NotificationEnabled)

	if *test {
		if !a.telegram.SendTest(ctx, s) {
			fmt.Fprintf(os.Stderr, "Error: test message was not delivered\n")
			os.Exit(1)
		}
		fmt.Println("Test message sent.")
	}
}

func cmdSummarize(args []string) {
	fs := flag.NewFlagSet("summarize", flag.ExitOnError)
	tags := fs.String("tags", "", "Comma-separated interest keywords")
	title := fs.String("title", "", "Video title for the archive (looked up when empty)")
	channel := fs.String("channel", "", "Channel name for the archive (looked up when empty)")
	usage(fs, "summarize <video-id> [--tags a,b] [--title T] [--channel C]")
	argv := parseInterleaved(fs, args)
	requireArgs(fs, argv, 1, "video-id")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a := mustApp(ctx)
	defer a.Close()

	videoID := argv[0]
	keywords := storage.ParseTags(*tags)

	fmt.Fprintf(os.Stderr, "Summarizing %s...\n", videoID)
	res, src := a.pipeline.Summarize(ctx, videoID, keywords)
	fmt.Fprintf(os.Stderr, "Source: %s\n\n", src)
	fmt.Println(res.Display())

	if !res.OK() {
		os.Exit(1)
	}
	if src == summarizer.SourceCache {
		return
	}
	if *title == "" || *channel == "" {
		v, err := a.source.LookupVideo(ctx, videoID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: video details unavailable: %v\n", err)
		} else {
			if *title == "" {
				*title = v.Title
			}
			if *channel == "" {
				*channel = v.ChannelName
			}
		}
	}
	err := a.store.UpsertRecord(ctx, storage.SummaryRecord{
		Content:     res.Text(),
		Title:       *title,
		ChannelName: *channel,
		VideoID:     videoID,
		Tags:        keywords,
		Model:       res.Model(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: summary not archived: %v\n", err)
	}
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of deliveries to show")
	usage(fs, "history [--limit N]")
	fs.Parse(args)

	ctx := context.Background()
	a := mustApp(ctx)
	defer a.Close()

	deliveries, err := a.history.RecentDeliveries(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading history: %v\n", err)
		os.Exit(1)
	}
	if len(deliveries) == 0 {
		fmt.Println("No deliveries yet.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tKIND\tSTATUS\tCHANNEL\tVIDEO\tSUMMARY OK")
	for _, d := range deliveries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\n",
			d.CreatedAt.In(a.loc).Format("2006-01-02 15:04"),
			d.Kind,
			d.Status,
			d.ChannelID,
			d.VideoID,
			d.SummaryOK,
		)
	}
	w.Flush()
}

func mask(secret string) string {
	if secret == "" {
		return "(not set)"
	}
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "…" + secret[len(secret)-4:]
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
