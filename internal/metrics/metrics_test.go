package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"amap https", "https://RestAPI.amap.com/v5/place/text", "restapi.amap.com"},
		{"no scheme", "restapi.amap.com/v5", "restapi.amap.com"},
		{"host with port", "localhost:8080", "localhost"},
		{"ip address", "192.168.1.1", "192.168.1.1"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestObserveHelpersInitializeLazily(t *testing.T) {
	before := 0.0
	if upstreamRetriesTotal != nil {
		before = testutil.ToFloat64(upstreamRetriesTotal.WithLabelValues("rate_limited"))
	}

	ObserveRetry("rate_limited")
	ObserveUpstreamRequest("ok", 20*time.Millisecond)
	ObserveRegion("complete", 42)
	ObservePageCache("hit")

	if got := testutil.ToFloat64(upstreamRetriesTotal.WithLabelValues("rate_limited")); got != before+1 {
		t.Errorf("expected retry counter %f, got %f", before+1, got)
	}
	if testutil.CollectAndCount(regionRecords) != 1 {
		t.Error("expected region histogram to be collected")
	}
}

// Fuzz test for SanitizeSite.
func FuzzSanitizeSite(f *testing.F) {
	testcases := []string{"https://restapi.amap.com", "http://localhost:3000", "ftp://example.com"}
	for _, tc := range testcases {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		sanitized := SanitizeSite(orig)
		if sanitized == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
