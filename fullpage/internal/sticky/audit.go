package sticky

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/hazyhaar/pagesnap/fullpage/shot"
)

// Audit checks each selector against a serialized DOM and sets Unique when
// it matches exactly one element. Non-unique selectors are kept: hiding the
// first match is still better than nothing.
func Audit(page []byte, records []shot.StickyRecord, logger *slog.Logger) ([]shot.StickyRecord, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return records, fmt.Errorf("sticky: audit parse: %w", err)
	}
	doc := goquery.NewDocumentFromNode(root)

	out := make([]shot.StickyRecord, len(records))
	for i, r := range records {
		out[i] = r
		sel, err := cascadia.Compile(r.Selector)
		if err != nil {
			logger.Debug("sticky: selector not auditable", "selector", r.Selector, "error", err)
			continue
		}
		n := doc.FindMatcher(sel).Length()
		out[i].Unique = n == 1
		if n != 1 {
			logger.Info("sticky: ambiguous selector", "selector", r.Selector, "matches", n)
		}
	}
	return out, nil
}
