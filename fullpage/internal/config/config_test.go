package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	c := Default()
	if c.Browser.Driver != "rod" || c.Browser.ViewportWidth != 1280 || c.Browser.ViewportHeight != 800 {
		t.Errorf("browser = %+v", c.Browser)
	}
	if c.Capture.Format != "png" || c.Capture.Settle != 400*time.Millisecond || c.Capture.MaxRetries != 3 {
		t.Errorf("capture = %+v", c.Capture)
	}
	if c.Capture.MaxPerSecond != 0 {
		t.Errorf("throttle enabled by default: %v", c.Capture.MaxPerSecond)
	}
	if !strings.HasSuffix(c.Store.Path, filepath.Join("pagesnap", "pagesnap.db")) {
		t.Errorf("store path = %s", c.Store.Path)
	}
	if c.Output.Basename != "full_page_screenshot" || c.Tabs.IdleTimeout != 5*time.Minute {
		t.Errorf("output = %+v, tabs = %+v", c.Output, c.Tabs)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := write(t, `
browser:
  driver: chromedp
  viewport_height: 1000
capture:
  format: jpeg
  quality: 85
  settle: 250ms
  max_per_second: 2
  overlap: 50
sticky:
  no_stylesheet_fallback: true
server:
  allow_private_targets: true
sinks:
  - type: webhook
    url: http://hook.test/events
`)
	c, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Browser.Driver != "chromedp" || c.Browser.ViewportHeight != 1000 || c.Browser.ViewportWidth != 1280 {
		t.Errorf("browser = %+v", c.Browser)
	}
	if c.Capture.Format != "jpeg" || c.Capture.Quality != 85 || c.Capture.Settle != 250*time.Millisecond ||
		c.Capture.MaxPerSecond != 2 || c.Capture.Overlap != 50 {
		t.Errorf("capture = %+v", c.Capture)
	}
	if !c.Server.AllowPrivateTargets || c.Server.Addr != "127.0.0.1:8088" {
		t.Errorf("server = %+v", c.Server)
	}
	if !c.Sticky.NoStylesheetFallback || len(c.Sinks) != 1 {
		t.Errorf("sticky = %+v, sinks = %+v", c.Sticky, c.Sinks)
	}
}

func TestLoadFileInvalid(t *testing.T) {
	cases := map[string]string{
		"driver":  "browser:\n  driver: firefox\n",
		"format":  "capture:\n  format: gif\n",
		"quality": "capture:\n  quality: 150\n",
		"overlap": "capture:\n  overlap: 900\n",
		"sink":    "sinks:\n  - type: webhook\n",
		"yaml":    "capture: [\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := LoadFile(write(t, body)); err == nil {
				t.Error("invalid config accepted")
			}
		})
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing explicit file accepted")
	}
}
