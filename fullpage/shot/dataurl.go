package shot

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

// EncodeDataURL renders img as a base64 data URL.
func EncodeDataURL(f Format, img []byte) string {
	return "data:" + f.MIME() + ";base64," + base64.StdEncoding.EncodeToString(img)
}

// DecodeDataURL parses a base64 data URL produced by a browser capture.
func DecodeDataURL(s string) (Format, []byte, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return "", nil, fmt.Errorf("shot: not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("shot: data URL has no payload")
	}
	mime, enc, _ := strings.Cut(meta, ";")
	if enc != "base64" {
		return "", nil, fmt.Errorf("shot: data URL is not base64")
	}

	var f Format
	switch mime {
	case "image/png":
		f = FormatPNG
	case "image/jpeg":
		f = FormatJPEG
	case "image/webp":
		f = FormatWebP
	default:
		return "", nil, fmt.Errorf("shot: unsupported media type %q", mime)
	}

	img, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("shot: decode data URL: %w", err)
	}
	return f, img, nil
}

// Filename builds "<base>_<timestamp>.<ext>" where the timestamp is the UTC
// ISO-8601 form of t with ':' replaced by '-' and fractional seconds dropped,
// e.g. full_page_screenshot_2024-05-01T10-20-30.png.
func Filename(base string, f Format, t time.Time) string {
	if base == "" {
		base = "full_page_screenshot"
	}
	ts := strings.ReplaceAll(t.UTC().Format("2006-01-02T15:04:05"), ":", "-")
	return base + "_" + ts + "." + f.Ext()
}
