package storage

import (
	"slices"
	"strings"
)

// CacheKey builds the summary archive key for a video under a tag set:
// the video id, an underscore, then the sorted tags joined by commas,
// or "none" when there are no tags. Tag order never changes the key.
func CacheKey(videoID string, tags []string) string {
	norm := NormalizeTags(tags)
	if len(norm) == 0 {
		return videoID + "_none"
	}
	sorted := slices.Clone(norm)
	slices.Sort(sorted)
	return videoID + "_" + strings.Join(sorted, ",")
}

// NormalizeTags trims whitespace, drops empty entries and removes duplicates,
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// ParseTags splits a comma-separated tag list.
func ParseTags(s string) []string {
	return NormalizeTags(strings.Split(s, ","))
}
