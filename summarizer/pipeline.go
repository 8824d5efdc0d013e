package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"ytdigest/storage"
	"ytdigest/youtube"
)

// Extractor supplies video content: captions first, audio as a fallback.
type Extractor interface {
	GetTranscript(ctx context.Context, videoID string) (string, error)
	DownloadAudio(ctx context.Context, videoID string) (*youtube.AudioFile, error)
}

// Cache is the read side of the summary archive.
type Cache interface {
	GetSummary(ctx context.Context, videoID string, tags []string) (string, bool, error)
}

// Source says where a pipeline result came from.
type Source string

const (
	SourceCache      Source = "cache"
	SourceTranscript Source = "transcript"
	SourceAudio      Source = "audio"
)

// Pipeline resolves a video's summary: cache, then transcript, then audio.
type Pipeline struct {
	cache     Cache
	extractor Extractor
	engine    Engine
	logger    *slog.Logger
}

// NewPipeline wires the pipeline. cache may be nil.
func NewPipeline(cache Cache, extractor Extractor, engine Engine) *Pipeline {
	return &Pipeline{
		cache:     cache,
		extractor: extractor,
		engine:    engine,
		logger:    slog.Default().With(slog.String("component", "summarizer.pipeline")),
	}
}

// Summarize returns the summary for videoID under keywords. A cache hit is
// returned verbatim without touching the extractor.
func (p *Pipeline) Summarize(ctx context.Context, videoID string, keywords []string) (Result, Source) {
	log := p.logger.With(slog.String("video_id", videoID))

	if p.cache != nil {
		text, ok, err := p.cache.GetSummary(ctx, videoID, keywords)
		switch {
		case err != nil:
			log.Warn("summarizer: cache lookup failed", slog.Any("err", err))
		case ok:
			log.Debug("summarizer: cache hit")
			return Ok(text, ""), SourceCache
		}
	}

	transcript, err := p.extractor.GetTranscript(ctx, videoID)
	if err != nil {
		return Failed(fmt.Sprintf("transcript lookup failed: %v", err)), SourceTranscript
	}
	if transcript != youtube.TranscriptNotAvailable {
		res := p.engine.SummarizeText(ctx, transcript, keywords)
		if !isErrorSummary(res) {
			return res, SourceTranscript
		}
		log.Info("summarizer: transcript summary unusable, trying audio", slog.String("result", res.Display()))
	}

	audio, err := p.extractor.DownloadAudio(ctx, videoID)
	if err != nil {
		return Failed(fmt.Sprintf("audio download failed: %v", err)), SourceAudio
	}
	defer func() {
		if err := audio.Cleanup(); err != nil {
			log.Warn("summarizer: audio cleanup failed", slog.Any("err", err))
		}
	}()
	return p.engine.SummarizeAudio(ctx, audio.Path, keywords), SourceAudio
}

// GenerateBriefing passes through to the engine.
func (p *Pipeline) GenerateBriefing(ctx context.Context, summaries []storage.SummaryRecord, keywords []string) Result {
	return p.engine.GenerateBriefing(ctx, summaries, keywords)
}

var errorSummaryMarkers = []string{
	"transcript not available",
	"no transcript",
	"captions are missing",
}

// isErrorSummary reports whether a text result should give way to the
// audio path.
func isErrorSummary(r Result) bool {
	if !r.OK() {
		return true
	}
	if r.Text() == InsufficientContent {
		return true
	}
	lower := strings.ToLower(r.Text())
	for _, m := range errorSummaryMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
