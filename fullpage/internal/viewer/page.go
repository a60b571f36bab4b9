package viewer

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hazyhaar/pagesnap/fullpage/internal/store"
	"github.com/hazyhaar/pagesnap/fullpage/shot"
	"github.com/hazyhaar/pagesnap/shield"
)

var pageTmpl = template.Must(template.New("viewer").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 0; background: #f3f3f3; color: #222; }
header { position: sticky; top: 0; background: #fff; padding: 12px 20px; border-bottom: 1px solid #ddd; display: flex; gap: 16px; align-items: center; }
header .message { flex: 1; }
.button { background: #1a73e8; color: #fff; padding: 8px 16px; border-radius: 4px; text-decoration: none; }
.banner { padding: 10px 20px; }
.warning { background: #fff4e5; border-bottom: 1px solid #f0c36d; }
.notice { background: #e8f0fe; border-bottom: 1px solid #aecbfa; }
.error { background: #fce8e6; border-bottom: 1px solid #f28b82; }
main { padding: 20px; text-align: center; }
main img { max-width: 100%; box-shadow: 0 1px 4px rgba(0,0,0,.2); background: #fff; }
dl { display: inline-grid; grid-template-columns: auto auto; gap: 4px 12px; text-align: left; font-size: 13px; color: #555; }
</style>
</head>
<body>
{{- if .Error}}
<div class="banner error" id="errorMessage">{{.Error}}</div>
{{- else}}
<header>
  <span class="message" id="successMessage">Your screenshot is ready ({{.Size}}). Click the Download button to save it to your computer.</span>
  <a class="button" id="downloadBtn" href="{{.DownloadURL}}">Download</a>
</header>
{{- if .HasGaps}}
<div class="banner warning" id="warningBanner">Some parts of the page could not be captured. The screenshot may contain blank areas.</div>
{{- end}}
{{- if .Scaled}}
<div class="banner notice" id="scaledBanner">The page was too large for a single image and was scaled down from {{.Original}}.</div>
{{- end}}
<main>
  <dl>
    <dt>Dimensions</dt><dd>{{.Dimensions}}</dd>
    <dt>Format</dt><dd>{{.Format}}{{if .Quality}} (quality {{.Quality}}){{end}}</dd>
    <dt>Captured</dt><dd>{{.Captured}}</dd>
    {{- if .URL}}<dt>Page</dt><dd>{{.URL}}</dd>{{end}}
  </dl>
  <p><img id="screenshotImg" src="{{.ImageURL}}" alt="Full page screenshot"></p>
</main>
{{- end}}
</body>
</html>
`))

type pageData struct {
	Title       string
	Error       string
	Size        string
	ImageURL    string
	DownloadURL string
	HasGaps     bool
	Scaled      bool
	Original    string
	Dimensions  string
	Format      shot.Format
	Quality     int
	Captured    string
	URL         string
}

// handleViewer renders the screenshot page. The query flags come from the
// capture that opened the viewer; the stored result can only add to them.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tabID := q.Get("tab")
	if q.Get("useBlobUrl") == "true" {
		tabID = ""
	}

	res, err := s.load(r.Context(), tabID)
	if err != nil {
		code := http.StatusInternalServerError
		msg := "The screenshot could not be loaded."
		if store.IsNotFound(err) {
			code = http.StatusNotFound
			msg = "No screenshot data available. Take a capture first."
		} else {
			shield.GetLogger(r.Context()).Error("viewer: load screenshot", "tab", tabID, "error", err)
		}
		s.render(w, code, pageData{Title: "Screenshot", Error: msg})
		return
	}

	at := capturedAt(r, res)
	imageURL := "/screenshot/latest"
	if tabID != "" {
		imageURL = "/screenshot/" + url.PathEscape(tabID)
	}
	dl := url.Values{"download": {"1"}}
	if ts := q.Get("timestamp"); ts != "" {
		dl.Set("timestamp", ts)
	}

	d := pageData{
		Title:       "Screenshot - " + at.Local().Format(time.DateTime),
		Size:        humanize.Bytes(uint64(len(res.Image))),
		ImageURL:    imageURL,
		DownloadURL: imageURL + "?" + dl.Encode(),
		HasGaps:     res.HasGaps || flag(q.Get("hasGaps")),
		Scaled:      res.Scaled || flag(q.Get("scaled")),
		Dimensions:  fmt.Sprintf("%d x %d", res.Width, res.Height),
		Format:      res.Format,
		Quality:     res.Quality,
		Captured:    humanize.Time(at),
		URL:         res.URL,
	}
	if v, err := strconv.Atoi(q.Get("quality")); err == nil && v > 0 {
		d.Quality = v
	}
	if !res.Format.Lossy() {
		d.Quality = 0
	}
	if res.Original.Width > 0 {
		d.Original = fmt.Sprintf("%d x %d", res.Original.Width, res.Original.Height)
	}
	s.render(w, http.StatusOK, d)
}

func (s *Server) render(w http.ResponseWriter, code int, d pageData) {
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, d); err != nil {
		s.cfg.Logger.Error("viewer: render", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	w.Write(buf.Bytes())
}

func flag(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}
