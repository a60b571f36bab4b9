// CLAUDE:SUMMARY Page/Driver contracts shared by the rod and chromedp backends; scripts exchange one JSON argument and one JSON result.
// Package browser drives Chrome for the capture pipeline. Everything the
// pipeline does in the page goes through Page: named scripts that take one
// JSON argument and return one JSON string, plus viewport captures.
package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Script is an in-page function. Source must be a function expression
// taking a single string (the JSON-encoded argument, possibly empty) and
// returning JSON.stringify of its result.
type Script struct {
	Name   string
	Source string
}

// Page is one browser tab as seen by the pipeline.
type Page interface {
	ID() string
	URL() string
	// Eval runs s with arg marshalled to JSON and decodes the JSON result
	// into out. out may be nil.
	Eval(ctx context.Context, s Script, arg any, out any) error
	// Capture returns the visible viewport encoded as opts.Format.
	Capture(ctx context.Context, opts shot.CaptureOptions) ([]byte, error)
	// HTML returns document.documentElement.outerHTML.
	HTML(ctx context.Context) ([]byte, error)
	Close() error
}

// Driver opens pages on a running browser.
type Driver interface {
	Start(ctx context.Context) error
	Open(ctx context.Context, pageURL, tabID string) (Page, error)
	Close() error
}

// StealthLevel controls the browser automation mode.
type StealthLevel int

const (
	LevelPlain    StealthLevel = 0 // headless, no stealth patches
	LevelHeadless StealthLevel = 1 // headless + stealth
	LevelHeadful  StealthLevel = 2 // headful under Xvfb + stealth
)

// ParseStealth maps the config spelling to a level.
func ParseStealth(s string) StealthLevel {
	switch s {
	case "plain", "0":
		return LevelPlain
	case "headful", "2":
		return LevelHeadful
	}
	return LevelHeadless
}

// Config configures both drivers.
type Config struct {
	// Driver selects the backend: "rod" (default) or "chromedp".
	Driver string

	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome.
	RemoteURL string

	// MemoryLimit in bytes. Recycle Chrome when exceeded. Default: 1GB.
	MemoryLimit int64

	// RecycleInterval is the maximum lifetime of a Chrome process. Default: 4h.
	RecycleInterval time.Duration

	// ResourceBlocking lists resource types to block (fonts, media).
	ResourceBlocking []string

	Stealth StealthLevel

	// XvfbDisplay for headful mode. Default: ":99".
	XvfbDisplay string

	ViewportWidth     int     // Default: 1280.
	ViewportHeight    int     // Default: 800.
	DeviceScaleFactor float64 // Default: 1.

	// NavigateTimeout bounds navigation + load. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Driver == "" {
		c.Driver = "rod"
	}
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.XvfbDisplay == "" {
		c.XvfbDisplay = ":99"
	}
	if c.ViewportWidth <= 0 {
		c.ViewportWidth = 1280
	}
	if c.ViewportHeight <= 0 {
		c.ViewportHeight = 800
	}
	if c.DeviceScaleFactor <= 0 {
		c.DeviceScaleFactor = 1
	}
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New returns the driver named by cfg.Driver. Call Start before Open.
func New(cfg Config) (Driver, error) {
	cfg.defaults()
	switch cfg.Driver {
	case "rod":
		return NewManager(cfg), nil
	case "chromedp":
		return NewChromedp(cfg), nil
	}
	return nil, fmt.Errorf("browser: unknown driver %q", cfg.Driver)
}

// ErrNoBrowser is returned by Open before Start or after Close.
var ErrNoBrowser = errors.New("browser: no active browser")

// ScriptError wraps a failure inside an in-page script.
type ScriptError struct {
	Script string
	Err    error
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("browser: script %s: %v", e.Script, e.Err)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// EncodeArg renders arg as the JSON string handed to a script.
func EncodeArg(arg any) (string, error) {
	if arg == nil {
		return "", nil
	}
	data, err := json.Marshal(arg)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeResult unmarshals a script's JSON result into out.
func DecodeResult(s Script, raw string, out any) error {
	if out == nil || raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return &ScriptError{Script: s.Name, Err: fmt.Errorf("decode result: %w", err)}
	}
	return nil
}

const outerHTMLScript = `() => document.documentElement.outerHTML`
