// Package ytdigest watches YouTube channels, summarizes new uploads with
// Gemini and delivers the summaries to Telegram, followed by a daily
// briefing that synthesizes the day's summaries.
//
// Overview
//
// Once a day, at the configured notification time, a sweep:
//
//   - lists recent uploads of every active subscription (Data API, falling
//     back to the channel feed when the quota runs out)
//   - selects videos newer than the subscription's watermark and inside the
//     freshness horizon, oldest first
//   - summarizes each from its captions, or from its audio when no
//     captions exist, weighting the subscription's tags
//   - sends one Telegram message per video and advances the watermark only
//     after a successful delivery
//   - sends a briefing over everything summarized today
//
// The command line lives in cli/:
//
//	ytdigest add @channelhandle --tags go,databases
//	ytdigest settings --time 08:30 --token $TOKEN --chat $CHAT --test
//	ytdigest run
//
// Configuration
//
// Settings are loaded in this order, later sources winning:
//
//  1. Defaults
//  2. ytdigest.yaml ($YTDIGEST_CONFIG, ./ytdigest.yaml or ~/.config/ytdigest/ytdigest.yaml)
//  3. A .env file in the working directory
//  4. Environment variables
//
// Credentials come from YOUTUBE_API_KEY, GEMINI_API_KEY, TELEGRAM_BOT_TOKEN
// and TELEGRAM_CHAT_ID.
//
// State
//
// Subscriptions and notification settings live in data/settings.json, the
// summary archive in data/summaries.json and the scheduler marker in
// data/scheduler_state.json. Delivery history is kept in a SQLite database
// next to them.
//
// Sub-packages
//
//   - youtube: channel resolution, video listing, captions and audio
//   - summarizer: Gemini model chain, prompts and the cache-first pipeline
//   - notify: Telegram delivery and message formatting
//   - monitor: the sweep
//   - scheduler: daily triggering
//   - storage: JSON documents and delivery history
//   - config: configuration loading
//
// Dependencies
//
// Audio fallback requires yt-dlp and ffmpeg in PATH, or yt-dlp at the path
// set by YTDIGEST_YTDLP_PATH.
package ytdigest
