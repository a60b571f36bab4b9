package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Router fans events out to every sink. A failing sink does not stop the
// others; the first error is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router. Nil sinks are ignored.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{logger: logger}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Add registers another sink.
func (r *Router) Add(s Sink) { r.sinks = append(r.sinks, s) }

func (r *Router) SendProgress(ctx context.Context, p shot.Progress) error {
	return r.each("progress", func(s Sink) error { return s.SendProgress(ctx, p) })
}

func (r *Router) SendResult(ctx context.Context, res *shot.Result) error {
	return r.each("result", func(s Sink) error { return s.SendResult(ctx, res) })
}

func (r *Router) SendError(ctx context.Context, f shot.Failure) error {
	return r.each("error", func(s Sink) error { return s.SendError(ctx, f) })
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Router) each(kind string, fn func(Sink) error) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := fn(s); err != nil {
			r.logger.Warn("sink: send failed", "kind", kind, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
