package urlguard

import (
	"context"
	"errors"
	"net"
	"testing"
)

func fakeLookup(table map[string][]string) func(context.Context, string) ([]string, error) {
	return func(_ context.Context, host string) ([]string, error) {
		if addrs, ok := table[host]; ok {
			return addrs, nil
		}
		return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
	}
}

func TestCheck(t *testing.T) {
	g := &Guard{Lookup: fakeLookup(map[string][]string{
		"example.com":   {"93.184.216.34"},
		"intranet.corp": {"10.1.2.3"},
		"mixed.corp":    {"93.184.216.34", "192.168.0.7"},
	})}

	tests := []struct {
		url     string
		wantErr error
	}{
		{"https://example.com/page", nil},
		{"http://example.com:8080/", nil},
		{"https://unresolvable.test/", nil},
		{"ftp://example.com/file", ErrUnsafeScheme},
		{"file:///etc/passwd", ErrUnsafeScheme},
		{"javascript:alert(1)", ErrUnsafeScheme},
		{"http://127.0.0.1/admin", ErrPrivateTarget},
		{"http://[::1]/", ErrPrivateTarget},
		{"http://169.254.169.254/latest/meta-data", ErrPrivateTarget},
		{"http://localhost:3000/", ErrPrivateTarget},
		{"http://app.localhost/", ErrPrivateTarget},
		{"https://intranet.corp/", ErrPrivateTarget},
		{"https://mixed.corp/", ErrPrivateTarget},
	}
	for _, tt := range tests {
		err := g.Check(context.Background(), tt.url)
		if tt.wantErr == nil {
			if err != nil {
				t.Errorf("Check(%q) = %v, want nil", tt.url, err)
			}
			continue
		}
		if !errors.Is(err, tt.wantErr) {
			t.Errorf("Check(%q) = %v, want %v", tt.url, err, tt.wantErr)
		}
		if !IsRejected(err) {
			t.Errorf("IsRejected(%v) = false", err)
		}
	}
}

func TestCheckAllowPrivate(t *testing.T) {
	g := &Guard{AllowPrivate: true, Lookup: func(context.Context, string) ([]string, error) {
		t.Fatal("lookup called with AllowPrivate")
		return nil, nil
	}}
	if err := g.Check(context.Background(), "http://localhost:3000/"); err != nil {
		t.Fatalf("localhost: %v", err)
	}
	if err := g.Check(context.Background(), "http://intranet.corp/"); err != nil {
		t.Fatalf("hostname: %v", err)
	}
	if err := g.Check(context.Background(), "file:///tmp/x.html"); !errors.Is(err, ErrUnsafeScheme) {
		t.Fatalf("scheme still checked: %v", err)
	}
}

func TestCheckMissingHost(t *testing.T) {
	var g Guard
	if err := g.Check(context.Background(), "http:///path"); err == nil || IsRejected(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestIsPrivate(t *testing.T) {
	for _, tt := range []struct {
		ip   string
		want bool
	}{
		{"10.0.0.1", true},
		{"172.16.5.4", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"fd00::1", true},
		{"0.0.0.0", true},
		{"8.8.8.8", false},
		{"2606:4700::1111", false},
	} {
		if got := IsPrivate(net.ParseIP(tt.ip)); got != tt.want {
			t.Errorf("IsPrivate(%s) = %v, want %v", tt.ip, got, tt.want)
		}
	}
}
