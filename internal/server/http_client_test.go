package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/any-hub/imgcache/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if NewUpstreamClient(nil).Timeout != 30*time.Second {
		t.Fatalf("nil config should fall back to 30s")
	}
}

func TestUpstreamClientStopsRedirectLoops(t *testing.T) {
	var hits int
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer upstream.Close()

	resp, err := NewUpstreamClient(nil).Get(upstream.URL)
	if err != nil {
		t.Fatalf("redirect loop should return the last response, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if hits != maxRedirects {
		t.Fatalf("expected %d requests, got %d", maxRedirects, hits)
	}
}
