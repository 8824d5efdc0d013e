// Package notify delivers digests to messaging platforms.
package notify

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ytdigest/storage"
)

// MaxMessageRunes is Telegram's limit on message text.
const MaxMessageRunes = 4096

// Telegram sends messages through the Bot API. Bots are created lazily per
// token and reused.
type Telegram struct {
	client   *http.Client
	endpoint string
	logger   *slog.Logger

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

// NewTelegram creates a sender using hc for Bot API calls. A nil hc uses
// http.DefaultClient.
func NewTelegram(hc *http.Client) *Telegram {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Telegram{
		client:   hc,
		endpoint: tgbotapi.APIEndpoint,
		logger:   slog.Default().With(slog.String("component", "notify.telegram")),
		bots:     make(map[string]*tgbotapi.BotAPI),
	}
}

func (t *Telegram) bot(token string) (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	b, err := tgbotapi.NewBotAPIWithClient(token, t.endpoint, t.client)
	if err != nil {
		return nil, err
	}
	t.bots[token] = b
	return b, nil
}

// SendMessage sends text to the chat in settings, as Markdown first and as
// plain text if Telegram rejects the markup. It reports whether a message
// was delivered.
func (t *Telegram) SendMessage(ctx context.Context, settings storage.UserSettings, text string) bool {
	if !settings.HasTelegramCredentials() {
		t.logger.Warn("notify: telegram token or chat id not configured")
		return false
	}
	chat := strings.TrimSpace(settings.TelegramChatID)
	if ctx.Err() != nil {
		return false
	}

	bot, err := t.bot(strings.TrimSpace(settings.TelegramToken))
	if err != nil {
		t.logger.Error("notify: telegram bot init failed", slog.Any("err", err))
		return false
	}

	text = truncateRunes(text, MaxMessageRunes)

	msg := newMessage(chat, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err = bot.Send(msg); err == nil {
		return true
	}
	t.logger.Info("notify: markdown send failed, retrying as plain text", slog.Any("err", err))

	if ctx.Err() != nil {
		return false
	}
	msg.ParseMode = ""
	if _, err := bot.Send(msg); err != nil {
		t.logger.Error("notify: telegram send failed", slog.String("chat_id", chat), slog.Any("err", err))
		return false
	}
	return true
}

// newMessage addresses a numeric chat id directly and anything else, such
// as "@channel", by channel username.
func newMessage(chat, text string) tgbotapi.MessageConfig {
	if id, err := strconv.ParseInt(chat, 10, 64); err == nil {
		return tgbotapi.NewMessage(id, text)
	}
	return tgbotapi.NewMessageToChannel(chat, text)
}

// SendTest sends a short message confirming the configuration works.
func (t *Telegram) SendTest(ctx context.Context, settings storage.UserSettings) bool {
	return t.SendMessage(ctx, settings, "🚀 ytdigest notifications are active.")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
