package ytdigest

import (
	"ytdigest/internal/retry"
	"ytdigest/monitor"
	"ytdigest/storage"
	"ytdigest/youtube"
)

// Error handling types exported for library users.
//
// Using errors.Is() for sentinel errors:
//
//	if errors.Is(err, ytdigest.ErrChannelNotFound) {
//		fmt.Println("Channel not found")
//	}
//
// Using errors.As() for wrapped errors:
//
//	var listerErr *ytdigest.ListerError
//	if errors.As(err, &listerErr) {
//		fmt.Printf("Listing failed for %s: %v\n", listerErr.Channel, listerErr.Err)
//	}

// Type aliases for convenient error handling.
type (
	// ListerError wraps errors during video listing.
	ListerError = youtube.ListerError
	// TranscriptError wraps errors during transcript extraction.
	TranscriptError = youtube.TranscriptError
	// RetryableError wraps errors that occurred after retries were exhausted.
	RetryableError = retry.RetryableError
	// StorageError wraps errors during storage operations.
	StorageError = storage.StorageError
)

// Sentinel errors exported from sub-packages.
var (
	ErrChannelNotFound   = youtube.ErrChannelNotFound
	ErrRateLimited       = youtube.ErrRateLimited
	ErrQuotaExceeded     = youtube.ErrQuotaExceeded
	ErrNetworkTimeout    = youtube.ErrNetworkTimeout
	ErrInvalidURL        = youtube.ErrInvalidURL
	ErrNoAPIKey          = youtube.ErrNoAPIKey
	ErrYtdlpNotInstalled = youtube.ErrYtdlpNotInstalled
	ErrVideoNotFound     = youtube.ErrVideoNotFound

	// Storage errors
	ErrNotFound       = storage.ErrNotFound
	ErrAlreadyExists  = storage.ErrAlreadyExists
	ErrInvalidInput   = storage.ErrInvalidInput
	ErrStorageCorrupt = storage.ErrStorageCorrupt
	ErrLockTimeout    = storage.ErrLockTimeout

	// ErrSweepInProgress is returned when a sweep overlaps a running one.
	ErrSweepInProgress = monitor.ErrSweepInProgress
)

// IsRetryable determines if an error should be retried.
// It returns false for permanent errors like ErrChannelNotFound.
func IsRetryable(err error) bool {
	return retry.IsRetryable(err)
}
