package notify

import (
	"fmt"
	"strings"
)

// VideoMessage is the data rendered into a per-video notification.
type VideoMessage struct {
	ChannelName string
	Title       string
	// Duration in seconds; zero renders as unknown.
	Duration int
	Summary  string
	URL      string
}

// FormatVideo renders a per-video notification in Telegram Markdown.
func FormatVideo(m VideoMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔔 *New summary: %s*\n\n", m.ChannelName)
	fmt.Fprintf(&b, "📌 *Title:* %s\n", m.Title)
	fmt.Fprintf(&b, "⏱ *Length:* %s\n\n", FormatDuration(m.Duration))
	b.WriteString(m.Summary)
	fmt.Fprintf(&b, "\n\n🔗 [Watch](%s)", m.URL)
	return b.String()
}

// FormatBriefing renders the daily digest for date (YYYY-MM-DD).
func FormatBriefing(date, briefing string) string {
	return fmt.Sprintf("📅 *Daily briefing (%s)*\n\n%s", date, briefing)
}

// FormatDuration renders seconds as m:ss, or h:mm:ss from an hour up.
func FormatDuration(seconds int) string {
	if seconds <= 0 {
		return "unknown"
	}
	h, m, s := seconds/3600, (seconds%3600)/60, seconds%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
