// Package errs holds the failure taxonomy shared by the processing packages.
// Callers match with errors.Is; producers wrap with context.
package errs

import (
	"github.com/pkg/errors"
)

var (
	ErrSourceNotFound    = errors.New("source not found")
	ErrSourceUnreadable  = errors.New("source unreadable")
	ErrDetectorFailure   = errors.New("detector failure")
	ErrWrite             = errors.New("write error")
	ErrJobAlreadyRunning = errors.New("job already running")

	// ErrCancelled marks a requested stop. It is a terminal state, not a failure.
	ErrCancelled = errors.New("cancelled")
)

// Message maps a terminal outcome to the category shown to the user.
func Message(err error) string {
	switch {
	case err == nil:
		return "Processing completed"
	case errors.Is(err, ErrCancelled):
		return "Processing stopped"
	case errors.Is(err, ErrSourceNotFound):
		return "Media file not found"
	case errors.Is(err, ErrSourceUnreadable):
		return "Could not read media file"
	case errors.Is(err, ErrDetectorFailure):
		return "Detection failed"
	case errors.Is(err, ErrWrite):
		return "Could not save output"
	case errors.Is(err, ErrJobAlreadyRunning):
		return "Processing already in progress"
	default:
		return "Processing failed"
	}
}
