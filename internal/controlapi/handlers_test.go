package controlapi

import "testing"

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		origin  string
		allowed []string
		host    string
		want    bool
	}{
		{"empty origin allowed", "", nil, "example.com", true},
		{"localhost allowed by default", "http://localhost:3000", nil, "example.com:8080", true},
		{"non-local denied by default", "http://evil.example", nil, "example.com:8080", false},
		{"allowlist permits exact origin", "https://dash.example.com", []string{"https://dash.example.com"}, "example.com", true},
		{"allowlist denies everything else", "https://other.example.com", []string{"https://dash.example.com"}, "example.com", false},
		{"same host allowed when no allowlist", "http://example.com", nil, "example.com:8080", true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := isOriginAllowed(tc.origin, tc.allowed, tc.host)
			if got != tc.want {
				t.Errorf("isOriginAllowed(%q, %v, %q) = %v, want %v", tc.origin, tc.allowed, tc.host, got, tc.want)
			}
		})
	}
}

func TestParseMarketPath(t *testing.T) {
	t.Parallel()
	mmID, action, ok := parseMarketPath("/api/markets/mm-1/pause")
	if !ok || mmID != "mm-1" || action != "pause" {
		t.Fatalf("got mmID=%q action=%q ok=%v", mmID, action, ok)
	}

	if _, _, ok := parseMarketPath("/api/markets/mm-1"); ok {
		t.Fatal("expected missing action to fail parse")
	}
	if _, _, ok := parseMarketPath("/api/markets/"); ok {
		t.Fatal("expected empty path to fail parse")
	}
}
