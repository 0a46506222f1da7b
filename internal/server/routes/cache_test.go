package routes

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/config"
	"github.com/any-hub/imgcache/internal/server"
)

func TestGroupsEndpointListsConfiguredGroups(t *testing.T) {
	app, _ := newRoutesApp(t)

	resp := doRequest(t, app, "GET", "/-/groups")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var payload struct {
		Groups []groupPayload `json:"groups"`
	}
	decodeBody(t, resp, &payload)
	if len(payload.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(payload.Groups))
	}
	if payload.Groups[0].Name != "Images" || payload.Groups[0].MaxAgeSeconds != int64(120*time.Hour/time.Second) {
		t.Fatalf("unexpected first group %+v", payload.Groups[0])
	}
	if payload.Groups[1].Width != 32 {
		t.Fatalf("expected width 32, got %d", payload.Groups[1].Width)
	}
}

func TestEntryEndpointReportsState(t *testing.T) {
	app, registry := newRoutesApp(t)
	route, _ := registry.Lookup("Images")

	resp := doRequest(t, app, "GET", "/-/cache/Images/entry?key=k1")
	var missing entryPayload
	decodeBody(t, resp, &missing)
	if missing.Exists || missing.LastWrite != nil {
		t.Fatalf("entry should be absent: %+v", missing)
	}
	if missing.Path != route.Cache.PathFor("k1") || missing.EncodedKey != route.Cache.KeyEncode("k1") {
		t.Fatalf("path/encoded key mismatch: %+v", missing)
	}

	if err := route.Cache.Write("k1", []byte("v")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	resp = doRequest(t, app, "GET", "/-/cache/Images/entry?key=k1")
	var present entryPayload
	decodeBody(t, resp, &present)
	if !present.Exists || present.LastWrite == nil {
		t.Fatalf("entry should be present: %+v", present)
	}

	resp = doRequest(t, app, "DELETE", "/-/cache/Images/entry?key=k1")
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	if route.Cache.Exists("k1") {
		t.Fatalf("entry should be removed")
	}
}

func TestEntryEndpointRequiresKey(t *testing.T) {
	app, _ := newRoutesApp(t)
	if resp := doRequest(t, app, "GET", "/-/cache/Images/entry"); resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if resp := doRequest(t, app, "GET", "/-/cache/nope/entry?key=k"); resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSweepEndpointRemovesExpired(t *testing.T) {
	app, registry := newRoutesApp(t)
	route, _ := registry.Lookup("thumbs")

	if err := route.Cache.Write("old", []byte("v")); err != nil {
		t.Fatalf("write error: %v", err)
	}
	stale := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(route.Cache.PathFor("old"), stale, stale); err != nil {
		t.Fatalf("chtimes error: %v", err)
	}
	if err := route.Cache.Write("new", []byte("v")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	resp := doRequest(t, app, "POST", "/-/cache/thumbs/sweep")
	var payload struct {
		Removed int `json:"removed"`
	}
	decodeBody(t, resp, &payload)
	if payload.Removed != 1 {
		t.Fatalf("expected 1 removal, got %d", payload.Removed)
	}
	if route.Cache.Exists("old") || !route.Cache.Exists("new") {
		t.Fatalf("only the stale entry should be removed")
	}
}

func TestClearEndpointIsIdempotent(t *testing.T) {
	app, registry := newRoutesApp(t)
	route, _ := registry.Lookup("Images")
	if err := route.Cache.Write("k", []byte("v")); err != nil {
		t.Fatalf("write error: %v", err)
	}

	for i := 0; i < 2; i++ {
		resp := doRequest(t, app, "DELETE", "/-/cache/Images")
		if resp.StatusCode != fiber.StatusNoContent {
			t.Fatalf("clear #%d: expected 204, got %d", i+1, resp.StatusCode)
		}
	}
	if route.Cache.Exists("k") {
		t.Fatalf("entries should be gone after clear")
	}
}

func TestVersionEndpoint(t *testing.T) {
	app, _ := newRoutesApp(t)
	resp := doRequest(t, app, "GET", "/-/version")
	var payload map[string]string
	decodeBody(t, resp, &payload)
	if payload["version"] == "" {
		t.Fatalf("version should be reported")
	}
}

func newRoutesApp(t *testing.T) (*fiber.App, *server.GroupRegistry) {
	t.Helper()
	cfg := &config.Config{
		Global: config.GlobalConfig{
			StoragePath: t.TempDir(),
			MaxAge:      config.Duration(120 * time.Hour),
			MaxAttempts: 1,
		},
		Groups: []config.GroupConfig{
			{Name: "Images"},
			{Name: "thumbs", MaxAge: config.Duration(time.Hour), Width: 32, Height: 32},
		},
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	registry, err := server.NewGroupRegistry(cfg, server.RegistryOptions{Logger: logger})
	if err != nil {
		t.Fatalf("registry error: %v", err)
	}
	app := fiber.New()
	RegisterCacheRoutes(app, registry, logger)
	return app, registry
}

func doRequest(t *testing.T, app *fiber.App, method, target string) *http.Response {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, target, nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, target any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}
