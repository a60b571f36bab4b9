// Package sink delivers capture progress and terminal events to consumers.
package sink

import (
	"context"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Event types, named after the messages consumers subscribe to.
const (
	TypeProgress = "progressUpdate"
	TypeResult   = "screenshotCaptured"
	TypeError    = "captureError"
)

// Sink is the output interface. A capture emits any number of progress
// events followed by exactly one of SendResult or SendError.
type Sink interface {
	SendProgress(ctx context.Context, p shot.Progress) error
	SendResult(ctx context.Context, r *shot.Result) error
	SendError(ctx context.Context, f shot.Failure) error
	Close() error
}

// Envelope is the serialized form of every event.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
