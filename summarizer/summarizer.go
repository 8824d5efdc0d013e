// Package summarizer turns transcripts, audio and earlier summaries into
// short texts with Gemini models.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"ytdigest/storage"
)

// Engine is the summarization capability used by the pipeline and monitor.
type Engine interface {
	SummarizeText(ctx context.Context, text string, keywords []string) Result
	SummarizeAudio(ctx context.Context, path string, keywords []string) Result
	GenerateBriefing(ctx context.Context, summaries []storage.SummaryRecord, keywords []string) Result
}

// FileStore holds uploaded attachments.
type FileStore interface {
	Upload(ctx context.Context, path, mimeType string) (*RemoteFile, error)
	GetFile(ctx context.Context, name string) (*RemoteFile, error)
	DeleteFile(ctx context.Context, name string) error
}

// Defaults for Summarizer.
const (
	DefaultMaxInputRunes = 10000
	DefaultPollInterval  = time.Second
	DefaultPollAttempts  = 30
	DefaultLanguage      = "Korean"

	minInputChars = 10
)

// Summarizer implements Engine over a model Chain. Audio goes through the
// FileStore and is deleted remotely once answered.
type Summarizer struct {
	chain  *Chain
	files  FileStore
	logger *slog.Logger

	// Language is the output language named in prompts.
	Language string
	// MaxInputRunes truncates transcripts before prompting.
	MaxInputRunes int
	// PollInterval and PollAttempts bound the wait for an ACTIVE upload.
	PollInterval time.Duration
	PollAttempts int
}

// New creates a Summarizer. files may be nil when audio is not used.
func New(chain *Chain, files FileStore) *Summarizer {
	return &Summarizer{
		chain:         chain,
		files:         files,
		logger:        slog.Default().With(slog.String("component", "summarizer")),
		Language:      DefaultLanguage,
		MaxInputRunes: DefaultMaxInputRunes,
		PollInterval:  DefaultPollInterval,
		PollAttempts:  DefaultPollAttempts,
	}
}

// SummarizeText summarizes a transcript, weighting the keywords.
func (s *Summarizer) SummarizeText(ctx context.Context, text string, keywords []string) Result {
	text = strings.TrimSpace(text)
	if len([]rune(text)) < minInputChars {
		return Ok(InsufficientContent, "")
	}
	if r := []rune(text); s.MaxInputRunes > 0 && len(r) > s.MaxInputRunes {
		text = string(r[:s.MaxInputRunes])
	}
	return s.chain.Generate(ctx, Request{Prompt: textPrompt(text, keywords, s.Language)})
}

// SummarizeAudio uploads the file, waits for it to become ACTIVE and
// summarizes it.
func (s *Summarizer) SummarizeAudio(ctx context.Context, path string, keywords []string) Result {
	if s.files == nil {
		return Failed("audio summaries are not configured")
	}
	if _, err := os.Stat(path); err != nil {
		return Failed(fmt.Sprintf("audio file not found: %v", err))
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}

	file, err := s.files.Upload(ctx, path, mimeType)
	if err != nil {
		return Failed(fmt.Sprintf("audio upload failed: %v", err))
	}
	defer func() {
		// The remote copy is removed even when ctx is done.
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		if err := s.files.DeleteFile(dctx, file.Name); err != nil {
			s.logger.Warn("summarizer: remote file not deleted", slog.String("file", file.Name), slog.Any("err", err))
		}
	}()

	active, err := s.waitActive(ctx, file)
	if err != nil {
		return Failed(err.Error())
	}
	if active.MIMEType == "" {
		active.MIMEType = mimeType
	}

	return s.chain.Generate(ctx, Request{
		Prompt: audioPrompt(keywords, s.Language),
		Files:  []File{{Name: active.Name, URI: active.URI, MIMEType: active.MIMEType}},
	})
}

func (s *Summarizer) waitActive(ctx context.Context, file *RemoteFile) (*RemoteFile, error) {
	current := file
	for attempt := 0; attempt < s.PollAttempts; attempt++ {
		switch current.State {
		case FileStateActive:
			return current, nil
		case FileStateFailed:
			return nil, fmt.Errorf("audio processing failed for %s", file.Name)
		}

		timer := time.NewTimer(s.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		next, err := s.files.GetFile(ctx, file.Name)
		if err != nil {
			s.logger.Debug("summarizer: file state poll failed", slog.String("file", file.Name), slog.Any("err", err))
			continue
		}
		current = next
	}
	if current.State == FileStateActive {
		return current, nil
	}
	return nil, fmt.Errorf("audio processing timed out after %d checks (state %s)", s.PollAttempts, current.State)
}

// GenerateBriefing writes one digest over the day's summaries.
func (s *Summarizer) GenerateBriefing(ctx context.Context, summaries []storage.SummaryRecord, keywords []string) Result {
	if len(summaries) == 0 {
		return Ok(NoBriefingContent, "")
	}
	return s.chain.Generate(ctx, Request{Prompt: briefingPrompt(summaries, keywords, s.Language)})
}

func keywordList(keywords []string, fallback string) string {
	if len(keywords) == 0 {
		return fallback
	}
	return strings.Join(keywords, ", ")
}

func textPrompt(text string, keywords []string, lang string) string {
	return fmt.Sprintf(`You summarize YouTube videos. Summarize the transcript below, focusing on anything related to [%s].

Rules:
1. Write in %s.
2. Group the summary into paragraphs by topic.
3. Start every line with a bullet ("- ").
4. For long material keep the key events and facts.

Transcript:
%s`, keywordList(keywords, "the whole video"), lang, text)
}

func audioPrompt(keywords []string, lang string) string {
	return fmt.Sprintf("Analyze the attached audio and summarize it in three lines, focusing on [%s]. Write in %s.",
		keywordList(keywords, "the whole video"), lang)
}

// BriefingContext renders summaries as numbered blocks for the briefing prompt.
func BriefingContext(summaries []storage.SummaryRecord) string {
	blocks := make([]string, 0, len(summaries))
	for i, rec := range summaries {
		title := rec.Title
		if title == "" {
			title = rec.VideoID
		}
		channel := rec.ChannelName
		if channel == "" {
			channel = "unknown channel"
		}
		blocks = append(blocks, fmt.Sprintf("[%d] %s (%s)\n%s", i+1, title, channel, rec.Content))
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

func briefingPrompt(summaries []storage.SummaryRecord, keywords []string, lang string) string {
	return fmt.Sprintf(`You are a trend analyst. From the video summaries below, write today's daily briefing.
Interest keywords: [%s]

Rules:
1. Write in %s.
2. Open with one sentence naming today's main trend.
3. Group the details by issue.
4. End each issue with the numbers of the videos that support it, e.g. [1], [2].
5. Close with one sentence on what this means for the reader.

Summaries:
%s`, keywordList(keywords, "tech trends"), lang, BriefingContext(summaries))
}
