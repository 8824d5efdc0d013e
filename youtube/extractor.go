package youtube

// Extractor bundles caption lookup and audio download for a video.
type Extractor struct {
	*TranscriptFetcher
	*AudioDownloader
}

// NewExtractor combines a transcript fetcher and an audio downloader.
func NewExtractor(t *TranscriptFetcher, a *AudioDownloader) *Extractor {
	return &Extractor{TranscriptFetcher: t, AudioDownloader: a}
}
