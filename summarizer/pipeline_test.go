package summarizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ytdigest/storage"
	"ytdigest/youtube"
)

type fakeCache struct {
	entries map[string]string
	err     error
}

func (c *fakeCache) GetSummary(_ context.Context, videoID string, tags []string) (string, bool, error) {
	if c.err != nil {
		return "", false, c.err
	}
	text, ok := c.entries[storage.CacheKey(videoID, tags)]
	return text, ok, nil
}

type fakeExtractor struct {
	transcript    string
	transcriptErr error
	audioErr      error
	dir           string

	transcriptCalls int
	audioCalls      int
	lastAudio       *youtube.AudioFile
}

func (e *fakeExtractor) GetTranscript(context.Context, string) (string, error) {
	e.transcriptCalls++
	return e.transcript, e.transcriptErr
}

// DownloadAudio creates a real temp file so the test can watch Cleanup remove it.
func (e *fakeExtractor) DownloadAudio(_ context.Context, videoID string) (*youtube.AudioFile, error) {
	e.audioCalls++
	if e.audioErr != nil {
		return nil, e.audioErr
	}
	dir, err := os.MkdirTemp(e.dir, "audio-")
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, videoID+".mp3")
	if err := os.WriteFile(path, []byte("ID3"), 0o644); err != nil {
		return nil, err
	}
	e.lastAudio = youtube.NewAudioFile(path, dir)
	return e.lastAudio, nil
}

type fakeEngine struct {
	text      Result
	audio     Result
	textCalls int
	audioPath string
}

func (e *fakeEngine) SummarizeText(context.Context, string, []string) Result {
	e.textCalls++
	return e.text
}

func (e *fakeEngine) SummarizeAudio(_ context.Context, path string, _ []string) Result {
	e.audioPath = path
	if _, err := os.Stat(path); err != nil {
		return Failed("audio missing during summarize")
	}
	return e.audio
}

func (e *fakeEngine) GenerateBriefing(context.Context, []storage.SummaryRecord, []string) Result {
	return Ok(NoBriefingContent, "")
}

func TestPipelineCacheHit(t *testing.T) {
	cache := &fakeCache{entries: map[string]string{storage.CacheKey("vid", []string{"b", "a"}): "cached text"}}
	ex := &fakeExtractor{}
	eng := &fakeEngine{}

	res, src := NewPipeline(cache, ex, eng).Summarize(context.Background(), "vid", []string{"a", "b"})
	assert.Equal(t, SourceCache, src)
	assert.True(t, res.OK())
	assert.Equal(t, "cached text", res.Text())
	assert.Zero(t, ex.transcriptCalls)
	assert.Zero(t, eng.textCalls)
}

func TestPipelineTranscriptPath(t *testing.T) {
	ex := &fakeExtractor{transcript: "a long enough transcript"}
	eng := &fakeEngine{text: Ok("- from captions", "m1")}

	res, src := NewPipeline(&fakeCache{err: errors.New("disk gone")}, ex, eng).Summarize(context.Background(), "vid", nil)
	assert.Equal(t, SourceTranscript, src)
	assert.Equal(t, "- from captions", res.Text())
	assert.Zero(t, ex.audioCalls)
}

func TestPipelineAudioFallback(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		text       Result
		wantText   int
	}{
		{"no captions", youtube.TranscriptNotAvailable, Result{}, 0},
		{"text summary failed", "a long enough transcript", Failed("all models exhausted"), 1},
		{"text too short", "short", Ok(InsufficientContent, ""), 1},
		{"model says no transcript", "a long enough transcript", Ok("No transcript was provided.", "m1"), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ex := &fakeExtractor{transcript: tt.transcript, dir: t.TempDir()}
			eng := &fakeEngine{text: tt.text, audio: Ok("- from audio", "m2")}

			res, src := NewPipeline(nil, ex, eng).Summarize(context.Background(), "vid", nil)
			assert.Equal(t, SourceAudio, src)
			require.True(t, res.OK(), res.Display())
			assert.Equal(t, "- from audio", res.Text())
			assert.Equal(t, tt.wantText, eng.textCalls)

			_, err := os.Stat(eng.audioPath)
			assert.True(t, os.IsNotExist(err), "audio file should be removed after summarizing")
		})
	}
}

func TestPipelineAudioFailureStillRemovesFile(t *testing.T) {
	ex := &fakeExtractor{transcript: youtube.TranscriptNotAvailable, dir: t.TempDir()}
	eng := &fakeEngine{audio: Failed("processing failed")}

	res, src := NewPipeline(nil, ex, eng).Summarize(context.Background(), "vid", nil)
	assert.Equal(t, SourceAudio, src)
	assert.False(t, res.OK())
	assert.Equal(t, "processing failed", res.Reason())
	require.NotEmpty(t, eng.audioPath)

	_, err := os.Stat(eng.audioPath)
	assert.True(t, os.IsNotExist(err), "audio file should be removed when summarizing fails")
	_, err = os.Stat(filepath.Dir(eng.audioPath))
	assert.True(t, os.IsNotExist(err), "audio temp dir should be removed when summarizing fails")
}

func TestPipelineAudioDownloadFails(t *testing.T) {
	ex := &fakeExtractor{transcript: youtube.TranscriptNotAvailable, audioErr: youtube.ErrYtdlpNotInstalled}
	res, src := NewPipeline(nil, ex, &fakeEngine{}).Summarize(context.Background(), "vid", nil)

	assert.Equal(t, SourceAudio, src)
	assert.False(t, res.OK())
	assert.Contains(t, res.Reason(), "yt-dlp not installed")
}

func TestPipelineTranscriptCancelled(t *testing.T) {
	ex := &fakeExtractor{transcriptErr: context.Canceled}
	res, _ := NewPipeline(nil, ex, &fakeEngine{}).Summarize(context.Background(), "vid", nil)

	assert.False(t, res.OK())
	assert.Zero(t, ex.audioCalls)
}
