// CLAUDE:SUMMARY Registers the capture message actions (capture, stitch, store/get handoff, progress/result/error relays, keepAlive) on a connectivity Router.
package fullpage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"time"

	"github.com/hazyhaar/pagesnap/connectivity"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// RegisterConnectivity registers the capture actions on a connectivity Router.
//
// Registered actions:
//
//	captureVisibleArea             viewport of an open tab, as a data URL
//	captureFullPage                full-page capture of an open tab
//	captureFullPageFromBackground  open a URL (or reuse a tab), capture, close
//	processCaptures                stitch data URLs taken elsewhere
//	storeBlobUrl, getBlobUrl       latest screenshot handoff
//	storeScreenshot, getScreenshot per-tab screenshot handoff
//	progressUpdate, screenshotCaptured, captureError
//	                               relay events to the sinks
//	keepAlive                      postpone idle reaping of a tab
func (s *Service) RegisterConnectivity(router *connectivity.Router) {
	reg := func(action string, h connectivity.Handler) {
		router.RegisterLocal(action, connectivity.Chain(
			connectivity.Recovery(s.logger),
			connectivity.Logging(s.logger, action),
		)(h))
	}
	reg("captureVisibleArea", s.handleCaptureVisible)
	reg("captureFullPage", s.handleCaptureFullPage)
	reg("captureFullPageFromBackground", s.handleCaptureFromBackground)
	reg("processCaptures", s.handleProcessCaptures)
	reg("storeBlobUrl", s.handleStoreBlobURL)
	reg("getBlobUrl", s.handleGetBlobURL)
	reg("storeScreenshot", s.handleStoreScreenshot)
	reg("getScreenshot", s.handleGetScreenshot)
	reg("progressUpdate", s.handleProgressUpdate)
	reg("screenshotCaptured", s.handleScreenshotCaptured)
	reg("captureError", s.handleCaptureError)
	reg("keepAlive", s.handleKeepAlive)
}

// Dimensions describes a stored image before and after scaling.
type Dimensions struct {
	OriginalWidth  int `json:"originalWidth"`
	OriginalHeight int `json:"originalHeight"`
	FinalWidth     int `json:"finalWidth"`
	FinalHeight    int `json:"finalHeight"`
	ImageSize      int `json:"imageSize,omitempty"`
}

// Screenshot is the handoff payload returned by getBlobUrl and getScreenshot.
type Screenshot struct {
	ID         string      `json:"id,omitempty"`
	DataURL    string      `json:"dataUrl"`
	HasGaps    bool        `json:"hasGaps"`
	Scaled     bool        `json:"scaled"`
	Quality    int         `json:"quality,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
	CapturedAt time.Time   `json:"capturedAt"`
}

func screenshotOf(r *shot.Result) Screenshot {
	return Screenshot{
		ID:      r.ID,
		DataURL: shot.EncodeDataURL(r.Format, r.Image),
		HasGaps: r.HasGaps,
		Scaled:  r.Scaled,
		Quality: r.Quality,
		Dimensions: &Dimensions{
			OriginalWidth:  r.Original.Width,
			OriginalHeight: r.Original.Height,
			FinalWidth:     r.Width,
			FinalHeight:    r.Height,
			ImageSize:      len(r.Image),
		},
		CapturedAt: r.CapturedAt,
	}
}

type captureRequest struct {
	TabID        string  `json:"tabId"`
	URL          string  `json:"url"`
	Format       string  `json:"format"`
	Quality      float64 `json:"quality"`
	MaxDimension int     `json:"maxDimension"`
	KeepStickies bool    `json:"keepStickies"`
}

func (req captureRequest) options() (CaptureOptions, error) {
	o := CaptureOptions{Quality: req.Quality, MaxDimension: req.MaxDimension, KeepStickies: req.KeepStickies}
	if req.Format != "" {
		f, err := shot.ParseFormat(req.Format)
		if err != nil {
			return o, err
		}
		o.Format = f
	}
	return o, nil
}

func decode(payload []byte, v any) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (s *Service) handleCaptureVisible(ctx context.Context, payload []byte) ([]byte, error) {
	var req captureRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	o, err := req.options()
	if err != nil {
		return nil, err
	}
	img, f, err := s.CaptureVisible(ctx, req.TabID, o)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]string{"dataUrl": shot.EncodeDataURL(f, img)})
}

func (s *Service) handleCaptureFullPage(ctx context.Context, payload []byte) ([]byte, error) {
	var req captureRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	o, err := req.options()
	if err != nil {
		return nil, err
	}
	r, err := s.CaptureFullPage(ctx, req.TabID, o)
	if err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

func (s *Service) handleCaptureFromBackground(ctx context.Context, payload []byte) ([]byte, error) {
	var req captureRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	o, err := req.options()
	if err != nil {
		return nil, err
	}
	var r *shot.Result
	switch {
	case req.TabID != "":
		r, err = s.CaptureFullPage(ctx, req.TabID, o)
	case req.URL != "":
		if err := s.checkTarget(ctx, req.URL); err != nil {
			return nil, err
		}
		r, err = s.CaptureURL(ctx, req.URL, o)
	default:
		return nil, fmt.Errorf("fullpage: tabId or url required")
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

func (s *Service) handleProcessCaptures(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		captureRequest
		Captures        []string `json:"captures"`
		ScrollPositions []int    `json:"scrollPositions"`
		Dimensions      struct {
			Width            int     `json:"width"`
			Height           int     `json:"height"`
			WindowWidth      int     `json:"windowWidth"`
			WindowHeight     int     `json:"windowHeight"`
			DevicePixelRatio float64 `json:"devicePixelRatio"`
		} `json:"dimensions"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	o, err := req.options()
	if err != nil {
		return nil, err
	}
	d := req.Dimensions
	g := shot.Geometry{
		PageWidth:        d.Width,
		PageHeight:       d.Height,
		ViewportWidth:    d.WindowWidth,
		ViewportHeight:   d.WindowHeight,
		DevicePixelRatio: d.DevicePixelRatio,
	}
	r, err := s.ProcessCaptures(ctx, req.TabID, req.Captures, req.ScrollPositions, g, o)
	if err != nil {
		return nil, err
	}
	return json.Marshal(r)
}

type storeRequest struct {
	TabID      string      `json:"tabId"`
	DataURL    string      `json:"dataUrl"`
	Blob       []byte      `json:"blob"` // base64 in JSON
	HasGaps    bool        `json:"hasGaps"`
	Scaled     bool        `json:"scaled"`
	Quality    int         `json:"quality"`
	Dimensions *Dimensions `json:"dimensions"`
}

// result builds a stored result from a handoff request. The binary blob
// wins; the data URL is kept as the fallback.
func (s *Service) result(req storeRequest) (*shot.Result, string, error) {
	if len(req.Blob) == 0 && req.DataURL == "" {
		return nil, "", fmt.Errorf("fullpage: dataUrl or blob required")
	}
	r := &shot.Result{
		ID:         s.newID(),
		TabID:      req.TabID,
		HasGaps:    req.HasGaps,
		Scaled:     req.Scaled,
		Quality:    req.Quality,
		CapturedAt: s.now(),
	}

	img := req.Blob
	if req.DataURL != "" {
		f, data, err := shot.DecodeDataURL(req.DataURL)
		if err != nil {
			return nil, "", err
		}
		r.Format = f
		if len(img) == 0 {
			img = data
		}
	}
	if cfg, name, err := image.DecodeConfig(bytes.NewReader(img)); err == nil {
		r.Width, r.Height = cfg.Width, cfg.Height
		if r.Format == "" {
			if f, err := shot.ParseFormat(name); err == nil {
				r.Format = f
			}
		}
	} else if len(req.Blob) > 0 && req.DataURL == "" {
		return nil, "", fmt.Errorf("fullpage: blob is not an image: %w", err)
	}
	if req.Dimensions != nil {
		r.Original = shot.Size{Width: req.Dimensions.OriginalWidth, Height: req.Dimensions.OriginalHeight}
		if req.Dimensions.FinalWidth > 0 {
			r.Width, r.Height = req.Dimensions.FinalWidth, req.Dimensions.FinalHeight
		}
	}
	if r.Original == (shot.Size{}) {
		r.Original = shot.Size{Width: r.Width, Height: r.Height}
	}

	// Without a blob only the text form is stored; it is decoded on read.
	if len(req.Blob) > 0 {
		r.Image = req.Blob
	}
	return r, req.DataURL, nil
}

func (s *Service) handleStoreBlobURL(ctx context.Context, payload []byte) ([]byte, error) {
	var req storeRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	r, dataURL, err := s.result(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutLatest(ctx, r, dataURL); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]bool{"success": true})
}

func (s *Service) handleGetBlobURL(ctx context.Context, _ []byte) ([]byte, error) {
	r, err := s.store.Latest(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(screenshotOf(r))
}

func (s *Service) handleStoreScreenshot(ctx context.Context, payload []byte) ([]byte, error) {
	var req storeRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.TabID == "" {
		return nil, fmt.Errorf("fullpage: tabId required")
	}
	r, dataURL, err := s.result(req)
	if err != nil {
		return nil, err
	}
	if err := s.store.PutTab(ctx, req.TabID, r, dataURL); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]bool{"success": true})
}

func (s *Service) handleGetScreenshot(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		TabID string `json:"tabId"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	r, err := s.store.Tab(ctx, req.TabID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(screenshotOf(r))
}

func (s *Service) handleProgressUpdate(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		TabID    string `json:"tabId"`
		Progress int    `json:"progress"`
		Message  string `json:"message"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	msg := req.Message
	if msg == "" {
		msg = fmt.Sprintf("Capturing: %d%%", req.Progress)
	}
	s.sinks.SendProgress(ctx, shot.Progress{TabID: req.TabID, Percent: req.Progress, Message: msg})
	return json.Marshal(map[string]bool{"success": true})
}

// handleScreenshotCaptured stores a finished capture announced by another
// component and relays it as a result event.
func (s *Service) handleScreenshotCaptured(ctx context.Context, payload []byte) ([]byte, error) {
	var req storeRequest
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	r, dataURL, err := s.result(req)
	if err != nil {
		return nil, err
	}
	s.keep(ctx, r, dataURL)
	if err := s.sinks.SendResult(ctx, r); err != nil {
		s.logger.Warn("fullpage: result not delivered", "id", r.ID, "error", err)
	}
	return json.Marshal(map[string]any{"success": true, "id": r.ID})
}

func (s *Service) handleCaptureError(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		TabID    string `json:"tabId"`
		Error    string `json:"error"`
		Progress int    `json:"progress"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.Error == "" {
		req.Error = "unknown capture error"
	}
	s.sinks.SendError(ctx, shot.Failure{TabID: req.TabID, Percent: req.Progress, Message: req.Error})
	return json.Marshal(map[string]bool{"success": true})
}

func (s *Service) handleKeepAlive(_ context.Context, payload []byte) ([]byte, error) {
	var req struct {
		TabID string `json:"tabId"`
	}
	if err := decode(payload, &req); err != nil {
		return nil, err
	}
	if req.TabID != "" {
		if err := s.KeepAlive(req.TabID); err != nil {
			return nil, err
		}
	}
	return json.Marshal(map[string]bool{"alive": true})
}
