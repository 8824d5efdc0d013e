package monitor

import (
	"slices"
	"time"

	"ytdigest/storage"
)

// SelectNew walks videos, which must be ordered newest first, and returns the
// ones to notify about, oldest first. The walk stops at the watermark video or
// at the first video published before now-horizon, whichever comes first. A
// video published exactly at now-horizon is still selected.
func SelectNew(videos []storage.VideoMetadata, watermark string, now time.Time, horizon time.Duration) []storage.VideoMetadata {
	cutoff := now.Add(-horizon)
	var picked []storage.VideoMetadata
	for _, v := range videos {
		if watermark != "" && v.ID == watermark {
			break
		}
		if v.PublishedAt.Before(cutoff) {
			break
		}
		picked = append(picked, v)
	}
	slices.Reverse(picked)
	return picked
}
