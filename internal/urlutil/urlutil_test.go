package urlutil

import (
	"errors"
	"net/url"
	"testing"
)

func TestBlocklist(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		bl := NewBlocklist([]string{"skiresort.info"})
		if bl == nil {
			t.Fatalf("expected blocklist to be created")
		}
		if !bl.Matches("skiresort.info") || !bl.Matches("www.skiresort.info") {
			t.Fatalf("expected skiresort.info to be blocked")
		}
		if bl.Matches("de.skiresort.info") {
			t.Fatalf("did not expect subdomains to match exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		bl := NewBlocklist([]string{"*.ru", ".example.org"})
		cases := []struct {
			host    string
			blocked bool
		}{
			{"example.ru", true},
			{"sub.domain.ru", true},
			{"ru", true},
			{"a.example.org", true},
			{"example.com", false},
		}
		for _, tc := range cases {
			if got := bl.Matches(tc.host); got != tc.blocked {
				t.Fatalf("host %q blocked=%v, want %v", tc.host, got, tc.blocked)
			}
		}
	})

	t.Run("nil blocklist", func(t *testing.T) {
		bl := NewBlocklist([]string{" ", ""})
		if bl != nil {
			t.Fatalf("expected nil for empty patterns")
		}
		if bl.Matches("anything") {
			t.Fatalf("nil blocklist should never block")
		}
	})
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"HTTPS://Example.COM:443/Resorts?b=2&a=1#map": "https://example.com/Resorts?a=1&b=2",
		"http://example.com:80":                       "http://example.com/",
		"https://user:pw@example.com/x":               "https://example.com/x",
	}
	for in, want := range cases {
		got, err := Normalize(in)
		if err != nil {
			t.Fatalf("Normalize(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}

	for _, bad := range []string{"mailto:info@example.com", "/relative/path", "ftp://example.com/x"} {
		if _, err := Normalize(bad); !errors.Is(err, ErrNotHTTP) {
			t.Fatalf("Normalize(%q) error = %v, want ErrNotHTTP", bad, err)
		}
	}
}

func TestResolveAndHost(t *testing.T) {
	base, _ := url.Parse("https://www.onthesnow.com/europe/ski-resorts")
	got, err := Resolve(base, "../alps/zermatt/ski-resort.html#top")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != "https://www.onthesnow.com/alps/zermatt/ski-resort.html" {
		t.Fatalf("Resolve = %q", got)
	}
	if h := Host(got); h != "onthesnow.com" {
		t.Fatalf("Host = %q, want onthesnow.com", h)
	}
}
