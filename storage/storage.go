// Package storage persists ytdigest state: the settings/subscriptions
// document, the summary archive, per-channel video caches, the scheduler
// marker and the delivery history.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("storage: not found")
	// ErrAlreadyExists indicates the entity already exists in storage.
	ErrAlreadyExists = errors.New("storage: already exists")
	// ErrInvalidInput indicates invalid or malformed input was provided.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates data corruption was detected.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract this error type and get operation details:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("read", "write", "lock", "migrate").
	Op string
	// Entity is the entity type ("settings", "summary", "subscription", etc.).
	Entity string
	// ID is the entity ID if applicable.
	ID string
	// Err is the underlying error that occurred.
	Err error
}

// Error returns a string representation of the storage error.
func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StorageError) Unwrap() error { return e.Err }

// SettingsStore owns the settings/subscriptions document.
// Mutations are held in memory until SaveSettings is called.
type SettingsStore interface {
	// LoadSettings returns the current document, creating it with defaults if absent.
	LoadSettings(ctx context.Context) (*SettingsDocument, error)
	// SaveSettings rewrites the whole document.
	SaveSettings(ctx context.Context, doc *SettingsDocument) error
}

// SummaryStore owns the summary archive document.
type SummaryStore interface {
	// LoadSummaryIndex returns every record keyed by CacheKey.
	LoadSummaryIndex(ctx context.Context) (map[string]SummaryRecord, error)
	// UpsertSummary writes or overwrites the record for (videoID, tags) and persists the index.
	UpsertSummary(ctx context.Context, videoID string, tags []string, content, title, channelName string) error
	// UpsertRecord is UpsertSummary taking a whole record.
	UpsertRecord(ctx context.Context, rec SummaryRecord) error
	// GetSummary returns the cached content for (videoID, tags).
	GetSummary(ctx context.Context, videoID string, tags []string) (string, bool, error)
	// GetSummariesForDate returns the per-video records created on date (YYYY-MM-DD).
	GetSummariesForDate(ctx context.Context, date string) ([]SummaryRecord, error)
}

// VideoCache holds the last fetched video list per channel.
type VideoCache interface {
	// PutVideos replaces the cached list for a channel.
	PutVideos(ctx context.Context, channelID string, videos []VideoMetadata) error
	// GetVideos returns the cached list and when it was fetched.
	GetVideos(ctx context.Context, channelID string) ([]VideoMetadata, time.Time, error)
	// DeleteVideos drops the cached list for a channel.
	DeleteVideos(ctx context.Context, channelID string) error
}
