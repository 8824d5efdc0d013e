package youtube

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// AudioFile is an extracted audio track in a private temp directory.
type AudioFile struct {
	// Path is the mp3 written by yt-dlp.
	Path string
	dir  string
}

// NewAudioFile wraps a file at path owned by dir. Cleanup removes dir.
func NewAudioFile(path, dir string) *AudioFile {
	return &AudioFile{Path: path, dir: dir}
}

// Cleanup removes the file and its directory. It is safe to call twice.
func (a *AudioFile) Cleanup() error {
	if a == nil || a.dir == "" {
		return nil
	}
	dir := a.dir
	a.dir = ""
	return os.RemoveAll(dir)
}

// AudioDownloader extracts audio with yt-dlp.
type AudioDownloader struct {
	// YtdlpPath is the yt-dlp executable. Defaults to "yt-dlp" from PATH.
	YtdlpPath string
	// TempDir is the parent for per-download directories. Defaults to os.TempDir.
	TempDir string
	// AudioQuality is the mp3 bitrate in kbps; 192 if unset.
	AudioQuality int
}

// NewAudioDownloader creates a downloader using yt-dlp from PATH.
func NewAudioDownloader() *AudioDownloader {
	return &AudioDownloader{YtdlpPath: "yt-dlp", AudioQuality: 192}
}

// DownloadAudio extracts the audio of videoID as mp3. The caller must call
// Cleanup on the result.
func (d *AudioDownloader) DownloadAudio(ctx context.Context, videoID string) (*AudioFile, error) {
	ytdlp := d.YtdlpPath
	if ytdlp == "" {
		ytdlp = "yt-dlp"
	}
	ytdlpPath, err := exec.LookPath(ytdlp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrYtdlpNotInstalled, err)
	}

	dir, err := os.MkdirTemp(d.TempDir, "ytdigest-audio-")
	if err != nil {
		return nil, fmt.Errorf("create audio directory: %w", err)
	}
	audio := &AudioFile{dir: dir}

	quality := d.AudioQuality
	if quality <= 0 {
		quality = 192
	}
	args := []string{
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
		"--no-warnings",
		"--no-playlist",
		"--print", "after_move:filepath",
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", "mp3",
		"--audio-quality", strconv.Itoa(quality),
		"--", videoID,
	}

	cmd := exec.CommandContext(ctx, ytdlpPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		audio.Cleanup()
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("download audio %s: %w: %s", videoID, err, msg)
		}
		return nil, fmt.Errorf("download audio %s: %w", videoID, err)
	}

	audio.Path = printedPath(stdout.String(), dir)
	if audio.Path == "" {
		audio.Path = findAudio(dir)
	}
	if audio.Path == "" {
		audio.Cleanup()
		return nil, fmt.Errorf("download audio %s: yt-dlp produced no file", videoID)
	}
	return audio, nil
}

// printedPath returns the last output line naming a file inside dir.
func printedPath(out, dir string) string {
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" || !strings.HasPrefix(line, dir) {
			continue
		}
		if _, err := os.Stat(line); err == nil {
			return line
		}
	}
	return ""
}

func findAudio(dir string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.mp3"))
	if len(matches) == 0 {
		return ""
	}
	return matches[0]
}
