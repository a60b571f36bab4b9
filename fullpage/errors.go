package fullpage

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/pagesnap/fullpage/internal/capture"
	"github.com/hazyhaar/pagesnap/fullpage/internal/probe"
	"github.com/hazyhaar/pagesnap/fullpage/internal/store"
)

// ErrTabNotFound is returned for an unknown or already closed tab.
type ErrTabNotFound struct {
	TabID string
}

func (e *ErrTabNotFound) Error() string {
	return fmt.Sprintf("fullpage: tab not found: %s", e.TabID)
}

// ErrCaptureInProgress rejects a second full-page capture on a busy tab.
type ErrCaptureInProgress struct {
	TabID string
}

func (e *ErrCaptureInProgress) Error() string {
	return fmt.Sprintf("fullpage: capture already in progress on tab %s", e.TabID)
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("fullpage: service closed")

// Re-exported so callers outside the module can match with errors.Is/As.
var ErrRateLimited = capture.ErrRateLimited

type (
	ErrGeometryUnavailable = probe.ErrGeometryUnavailable
	ErrNotFound            = store.ErrNotFound
)

// IsNotFound reports whether err means no screenshot is stored.
func IsNotFound(err error) bool { return store.IsNotFound(err) }
