package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Lifecycle errors
	ErrNotInitialized = fmt.Errorf("player not initialized")
	ErrNotBound       = fmt.Errorf("session not bound")
	ErrReleased       = fmt.Errorf("already released")

	// Configuration errors
	ErrMissingConfig     = fmt.Errorf("configuration not found")
	ErrInvalidConfig     = fmt.Errorf("invalid configuration")
	ErrMissingPassphrase = fmt.Errorf("missing database passphrase")

	// Storage errors
	ErrTrackNotFound    = fmt.Errorf("track not found")
	ErrDownloadNotFound = fmt.Errorf("download not found")

	// Network and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrUnexpectedStatus   = fmt.Errorf("unexpected HTTP status")

	// Download errors
	ErrDownloadCancelled = fmt.Errorf("download cancelled")
	ErrSchedulerClosed   = fmt.Errorf("download scheduler closed")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
