// CLAUDE:SUMMARY Vets page URLs received from remote callers: http(s) only, no private or loopback targets.
// Package urlguard vets URLs before a browser tab is pointed at them.
//
// A capture server reachable over the network would otherwise let any
// caller render internal hosts (metadata endpoints, admin panels) and read
// them back as images.
package urlguard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

var (
	// ErrUnsafeScheme is returned for anything but http and https.
	ErrUnsafeScheme = errors.New("urlguard: only http and https URLs can be captured")
	// ErrPrivateTarget is returned when the host is, or resolves to, a
	// private, loopback or link-local address.
	ErrPrivateTarget = errors.New("urlguard: URL targets a private or loopback address")
)

// Guard checks URLs. The zero value rejects private targets and resolves
// hostnames with net.DefaultResolver.
type Guard struct {
	// AllowPrivate skips the address check; the scheme is still checked.
	AllowPrivate bool
	// Lookup resolves a hostname. Nil uses net.DefaultResolver.
	Lookup func(ctx context.Context, host string) ([]string, error)
}

// Check returns nil when rawURL may be opened.
//
// A hostname that does not resolve is let through: the browser fails the
// navigation anyway, and refusing would turn DNS hiccups into errors.
func (g *Guard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("urlguard: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: %q", ErrUnsafeScheme, u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("urlguard: URL has no host")
	}
	if g.AllowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if IsPrivate(ip) {
			return fmt.Errorf("%w: %s", ErrPrivateTarget, host)
		}
		return nil
	}
	if strings.EqualFold(host, "localhost") || strings.HasSuffix(strings.ToLower(host), ".localhost") {
		return fmt.Errorf("%w: %s", ErrPrivateTarget, host)
	}

	lookup := g.Lookup
	if lookup == nil {
		lookup = net.DefaultResolver.LookupHost
	}
	addrs, err := lookup(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && IsPrivate(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateTarget, host, a)
		}
	}
	return nil
}

// IsPrivate reports loopback, RFC 1918, RFC 4193, link-local and
// unspecified addresses.
func IsPrivate(ip net.IP) bool {
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// IsRejected reports whether err came from a Guard refusing a URL.
func IsRejected(err error) bool {
	return errors.Is(err, ErrUnsafeScheme) || errors.Is(err, ErrPrivateTarget)
}
