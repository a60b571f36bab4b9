// CLAUDE:SUMMARY In-process callback sink delivering capture events via Go function calls.
package sink

import (
	"context"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// ProgressFunc is called for each progress event.
type ProgressFunc func(ctx context.Context, p shot.Progress) error

// ResultFunc is called once per successful capture.
type ResultFunc func(ctx context.Context, r *shot.Result) error

// ErrorFunc is called once per failed capture.
type ErrorFunc func(ctx context.Context, f shot.Failure) error

// Callback delivers events in-process with no serialization.
type Callback struct {
	onProgress ProgressFunc
	onResult   ResultFunc
	onError    ErrorFunc
}

// NewCallback creates a Callback sink. Any handler may be nil.
func NewCallback(onProgress ProgressFunc, onResult ResultFunc, onError ErrorFunc) *Callback {
	return &Callback{onProgress: onProgress, onResult: onResult, onError: onError}
}

func (c *Callback) SendProgress(ctx context.Context, p shot.Progress) error {
	if c.onProgress != nil {
		return c.onProgress(ctx, p)
	}
	return nil
}

func (c *Callback) SendResult(ctx context.Context, r *shot.Result) error {
	if c.onResult != nil {
		return c.onResult(ctx, r)
	}
	return nil
}

func (c *Callback) SendError(ctx context.Context, f shot.Failure) error {
	if c.onError != nil {
		return c.onError(ctx, f)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
