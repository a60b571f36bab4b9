package pagetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/hazyhaar/pagesnap/fullpage/internal/browser"
)

// Driver is a browser.Driver handing out fake pages.
type Driver struct {
	// NewPage builds the page for a URL. Default: a 1000x3000 page in a
	// 1000x1000 viewport.
	NewPage func(url string) *Page

	mu      sync.Mutex
	started bool
	closed  bool
	pages   map[string]*Page
	opened  []string
	// OpenErr is returned by every Open when set.
	OpenErr error
}

// NewDriver returns a Driver using newPage, or the default page when nil.
func NewDriver(newPage func(url string) *Page) *Driver {
	return &Driver{NewPage: newPage, pages: make(map[string]*Page)}
}

func (d *Driver) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	return nil
}

// Open implements browser.Driver.
func (d *Driver) Open(_ context.Context, url, tabID string) (browser.Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || d.closed {
		return nil, browser.ErrNoBrowser
	}
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	var p *Page
	if d.NewPage != nil {
		p = d.NewPage(url)
	} else {
		p = New(1000, 3000, 1000, 1000)
	}
	p.id, p.url = tabID, url
	d.pages[tabID] = p
	d.opened = append(d.opened, tabID)
	return p, nil
}

// Page returns the page opened under tabID.
func (d *Driver) Page(tabID string) (*Page, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pages[tabID]
	if !ok {
		return nil, fmt.Errorf("pagetest: no page %q", tabID)
	}
	return p, nil
}

// Opened lists tab IDs in open order.
func (d *Driver) Opened() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.opened...)
}

func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Closed reports whether Close was called.
func (d *Driver) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
