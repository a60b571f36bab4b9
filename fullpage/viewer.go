package fullpage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/hazyhaar/pagesnap/connectivity"
	"github.com/hazyhaar/pagesnap/fullpage/internal/viewer"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
	"github.com/hazyhaar/pagesnap/urlguard"
)

// Handler returns the HTTP viewer. Actions registered on router are
// reachable under /api/actions/{action}; router may be nil.
func (s *Service) Handler(router *connectivity.Router) http.Handler {
	return viewer.New(viewer.Config{
		Backend:  viewerBackend{s},
		Events:   s.events,
		Actions:  router,
		Metrics:  s.metrics,
		Basename: s.cfg.Output.Basename,
		MaxBody:  s.cfg.Server.MaxBody,
		Logger:   s.logger,
	})
}

// ViewerURL is the viewer path showing r.
func ViewerURL(r *shot.Result) string { return viewer.ViewerURL(r, false) }

type viewerBackend struct{ s *Service }

func (b viewerBackend) Latest(ctx context.Context) (*shot.Result, error) {
	return b.s.Latest(ctx)
}

func (b viewerBackend) Screenshot(ctx context.Context, tabID string) (*shot.Result, error) {
	return b.s.Screenshot(ctx, tabID)
}

func (b viewerBackend) Capture(ctx context.Context, req viewer.CaptureRequest) (*shot.Result, error) {
	o, err := captureRequest{Format: req.Format, Quality: req.Quality, KeepStickies: req.KeepStickies}.options()
	if err != nil {
		return nil, err
	}
	var r *shot.Result
	if req.TabID != "" {
		r, err = b.s.CaptureFullPage(ctx, req.TabID, o)
	} else {
		if err := b.s.checkTarget(ctx, req.URL); err != nil {
			return nil, viewerError(err)
		}
		r, err = b.s.CaptureURL(ctx, req.URL, o)
	}
	return r, viewerError(err)
}

func (b viewerBackend) KeepAlive(tabID string) error {
	return viewerError(b.s.KeepAlive(tabID))
}

// viewerError tags service errors with the viewer's status sentinels.
func viewerError(err error) error {
	var (
		notFound *ErrTabNotFound
		busy     *ErrCaptureInProgress
	)
	switch {
	case err == nil:
		return nil
	case errors.As(err, &notFound):
		return fmt.Errorf("%w: %w", viewer.ErrUnknownTab, err)
	case errors.As(err, &busy):
		return fmt.Errorf("%w: %w", viewer.ErrBusy, err)
	case urlguard.IsRejected(err):
		return fmt.Errorf("%w: %w", viewer.ErrRejected, err)
	}
	return err
}
