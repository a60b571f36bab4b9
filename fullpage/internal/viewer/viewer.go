// CLAUDE:SUMMARY HTTP surface for stored screenshots: HTML viewer, image download, capture trigger, keepalive, action bridge, metrics summary and server-sent capture events.
// Package viewer serves stored screenshots over HTTP.
//
//	GET  /viewer?useBlobUrl=&hasGaps=&scaled=&quality=&timestamp=&tab=
//	GET  /screenshot/latest           image bytes (?download=1 to save)
//	GET  /screenshot/{tabID}
//	POST /api/capture                 {"url"|"tab_id", "format", "quality", "keep_stickies"}
//	POST /api/keepalive/{tabID}
//	POST /api/actions/{action}        connectivity action bridge
//	GET  /api/events                  server-sent capture events
//	GET  /api/stats?since=24h         capture metrics summary
//	GET  /healthz
package viewer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pagesnap/connectivity"
	"github.com/hazyhaar/pagesnap/fullpage/internal/sink"
	"github.com/hazyhaar/pagesnap/fullpage/internal/store"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
	"github.com/hazyhaar/pagesnap/observability"
	"github.com/hazyhaar/pagesnap/shield"
)

var (
	// ErrUnknownTab maps to 404.
	ErrUnknownTab = errors.New("viewer: unknown tab")
	// ErrBusy maps to 409.
	ErrBusy = errors.New("viewer: capture in progress")
	// ErrRejected maps to 400.
	ErrRejected = errors.New("viewer: request rejected")
)

// CaptureRequest is the body of POST /api/capture.
type CaptureRequest struct {
	URL          string  `json:"url"`
	TabID        string  `json:"tab_id"`
	Format       string  `json:"format"`
	Quality      float64 `json:"quality"`
	KeepStickies bool    `json:"keep_stickies"`
}

// Backend is what the viewer needs from the capture service.
type Backend interface {
	Latest(ctx context.Context) (*shot.Result, error)
	Screenshot(ctx context.Context, tabID string) (*shot.Result, error)
	Capture(ctx context.Context, req CaptureRequest) (*shot.Result, error)
	KeepAlive(tabID string) error
}

// Config wires a Server. Only Backend is required.
type Config struct {
	Backend Backend
	Events  *sink.Broadcast
	Actions *connectivity.Router
	Metrics *observability.MetricsManager

	// Basename prefixes download filenames. Default: full_page_screenshot.
	Basename string
	MaxBody  int64
	Logger   *slog.Logger
	// Heartbeat is the idle interval between SSE keepalive comments.
	Heartbeat time.Duration
}

// Server is an http.Handler.
type Server struct {
	cfg    Config
	router chi.Router
}

// New builds the router.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 64 << 20
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	s := &Server{cfg: cfg}

	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(cfg.Logger, cfg.MaxBody) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/viewer?useBlobUrl=true", http.StatusFound)
	})
	r.Get("/viewer", s.handleViewer)
	r.Get("/screenshot/latest", s.handleImage)
	r.Get("/screenshot/{tabID}", s.handleImage)

	r.Route("/api", func(r chi.Router) {
		r.Post("/capture", s.handleCapture)
		r.Post("/keepalive/{tabID}", s.handleKeepAlive)
		r.Post("/actions/{action}", s.handleAction)
		r.Get("/events", s.handleEvents)
		r.Get("/stats", s.handleStats)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// load returns the tab screenshot, or the latest one when tabID is empty.
func (s *Server) load(ctx context.Context, tabID string) (*shot.Result, error) {
	if tabID == "" {
		return s.cfg.Backend.Latest(ctx)
	}
	return s.cfg.Backend.Screenshot(ctx, tabID)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	res, err := s.load(r.Context(), chi.URLParam(r, "tabID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", res.Format.MIME())
	h.Set("Content-Length", strconv.Itoa(len(res.Image)))
	h.Set("Cache-Control", "no-store")
	if r.URL.Query().Get("download") == "1" {
		name := shot.Filename(s.cfg.Basename, res.Format, capturedAt(r, res))
		h.Set("Content-Disposition", `attachment; filename="`+name+`"`)
	}
	w.WriteHeader(http.StatusOK)
	w.Write(res.Image)
}

// capturedAt honours the timestamp query parameter (unix milliseconds).
func capturedAt(r *http.Request, res *shot.Result) time.Time {
	if ms, err := strconv.ParseInt(r.URL.Query().Get("timestamp"), 10, 64); err == nil && ms > 0 {
		return time.UnixMilli(ms)
	}
	return res.CapturedAt
}

type captureResponse struct {
	*shot.Result
	Viewer string `json:"viewer"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.URL == "" && req.TabID == "" {
		writeError(w, http.StatusBadRequest, errors.New("url or tab_id required"))
		return
	}

	res, err := s.cfg.Backend.Capture(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, captureResponse{Result: res, Viewer: ViewerURL(res, req.URL == "")})
}

// ViewerURL links to the viewer page for res. A capture made on a caller's
// tab points at the tab slot; the others at the latest slot.
func ViewerURL(res *shot.Result, byTab bool) string {
	q := url.Values{}
	if byTab && res.TabID != "" {
		q.Set("tab", res.TabID)
	} else {
		q.Set("useBlobUrl", "true")
	}
	q.Set("hasGaps", strconv.FormatBool(res.HasGaps))
	q.Set("scaled", strconv.FormatBool(res.Scaled))
	if res.Quality > 0 {
		q.Set("quality", strconv.Itoa(res.Quality))
	}
	q.Set("timestamp", strconv.FormatInt(res.CapturedAt.UnixMilli(), 10))
	return "/viewer?" + q.Encode()
}

func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Backend.KeepAlive(chi.URLParam(r, "tabID")); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"alive": true})
}

func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Actions == nil {
		writeError(w, http.StatusNotFound, errors.New("actions disabled"))
		return
	}
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	resp, err := s.cfg.Actions.Call(r.Context(), chi.URLParam(r, "action"), payload)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(resp)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Metrics == nil {
		writeError(w, http.StatusNotFound, errors.New("metrics disabled"))
		return
	}
	since := 24 * time.Hour
	if v := r.URL.Query().Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("since: want a positive duration such as 24h"))
			return
		}
		since = d
	}
	s.cfg.Metrics.Flush()
	stats, err := s.cfg.Metrics.Summarize(r.Context(), time.Now().Add(-since),
		observability.MetricCaptureDurationMs,
		observability.MetricCaptureSegments,
		observability.MetricSegmentsFailed,
		observability.MetricCaptureRetries,
		observability.MetricCaptureBytes,
		observability.MetricCaptureErrors,
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"since": since.String(), "metrics": stats})
}

// fail maps err to a status code and logs server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	var unknownAction *connectivity.ErrActionNotFound
	code := http.StatusInternalServerError
	switch {
	case store.IsNotFound(err), errors.Is(err, ErrUnknownTab), errors.As(err, &unknownAction):
		code = http.StatusNotFound
	case errors.Is(err, ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, ErrRejected):
		code = http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		code = 499
	}
	if code >= http.StatusInternalServerError {
		shield.GetLogger(r.Context()).Error("viewer: request failed", "error", err)
	}
	writeError(w, code, err)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
