package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pidash/internal/command"
	"pidash/internal/config"
	"pidash/internal/sysstats"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{
		Port:          "0",
		StateDir:      t.TempDir(),
		QuoteInterval: time.Millisecond,
	}

	s, err := NewServer(cfg)
	require.NoError(t, err)

	// Canned command output so stats collection never spawns real processes.
	s.Stats = sysstats.NewCollector(command.NewRunnerWithExecutor(
		func(ctx context.Context, argv []string) ([]byte, error) {
			switch argv[len(argv)-1] {
			case "/proc/uptime":
				return []byte("12345.67 45678.90\n"), nil
			case "/proc/loadavg":
				return []byte("0.52 0.58 0.59 1/345 6789\n"), nil
			default:
				return []byte(""), nil
			}
		}))

	t.Cleanup(func() { s.Store.Close() })
	return s
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestSecurityHeadersApplied(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/health", nil)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("Content-Security-Policy"))
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodPost, "/api/stats", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestProfileLifecycle(t *testing.T) {
	s := newTestServer(t)
	routes := s.Routes()

	rec := doJSON(t, routes, http.MethodPost, "/api/profiles", map[string]any{"name": "Alice"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[map[string]any](t, rec)
	id := created["id"].(string)
	require.NotEmpty(t, id)

	// First profile becomes active automatically.
	rec = doJSON(t, routes, http.MethodGet, "/api/profiles/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, decode[map[string]string](t, rec)["active"])

	rec = doJSON(t, routes, http.MethodGet, "/api/profiles", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 1)

	rec = doJSON(t, routes, http.MethodGet, "/api/profiles/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice", decode[map[string]any](t, rec)["name"])

	rec = doJSON(t, routes, http.MethodPut, "/api/profiles/"+id, map[string]any{"name": "Alice B"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Alice B", decode[map[string]any](t, rec)["name"])

	rec = doJSON(t, routes, http.MethodDelete, "/api/profiles/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, routes, http.MethodGet, "/api/profiles/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doJSON(t, routes, http.MethodGet, "/api/profiles/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[map[string]string](t, rec)["active"])
}

func TestProfileValidation(t *testing.T) {
	s := newTestServer(t)
	routes := s.Routes()

	rec := doJSON(t, routes, http.MethodPost, "/api/profiles", map[string]any{"name": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/profiles", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	routes.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rec = doJSON(t, routes, http.MethodGet, "/api/profiles/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestActiveProfileSwitch(t *testing.T) {
	s := newTestServer(t)
	routes := s.Routes()

	recA := doJSON(t, routes, http.MethodPost, "/api/profiles", map[string]any{"name": "A"})
	recB := doJSON(t, routes, http.MethodPost, "/api/profiles", map[string]any{"name": "B"})
	idA := decode[map[string]any](t, recA)["id"].(string)
	idB := decode[map[string]any](t, recB)["id"].(string)

	rec := doJSON(t, routes, http.MethodPost, "/api/profiles/active", map[string]string{"id": idB})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, routes, http.MethodGet, "/api/profiles/active", nil)
	assert.Equal(t, idB, decode[map[string]string](t, rec)["active"])

	rec = doJSON(t, routes, http.MethodPost, "/api/profiles/active", map[string]string{"id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, routes, http.MethodPost, "/api/profiles/active", map[string]string{"id": "deadbeef-dead-beef-dead-beefdeadbeef"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Switching back works and survives the failed attempts above.
	rec = doJSON(t, routes, http.MethodPost, "/api/profiles/active", map[string]string{"id": idA})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(t, routes, http.MethodGet, "/api/profiles/active", nil)
	assert.Equal(t, idA, decode[map[string]string](t, rec)["active"])
}

func TestFinancialFallsBackToSynthetic(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/financial", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["synthetic"])
	assert.Len(t, body["quotes"], 5)
}

func TestMeshtasticNotConfigured(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/meshtastic", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "not_configured", decode[map[string]any](t, rec)["status"])
}

func TestPiholeDegradesToErrorPayload(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/pihole", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "error", body["status"])
}

func TestConfigIsMasked(t *testing.T) {
	s := newTestServer(t)
	s.Cfg.PiholePassword = "supersecret"

	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "supersecret")

	body := decode[map[string]config.SettingEntry](t, rec)
	assert.True(t, body["pihole_password"].Configured)
}

func TestSpotifyStatusUnconfigured(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/spotify/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, false, body["authenticated"])
	assert.Equal(t, false, body["configured"])
}

func TestSpotifyLoginWithoutProfile(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/spotify/login", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStats(t *testing.T) {
	s := newTestServer(t)
	rec := doJSON(t, s.Routes(), http.MethodGet, "/api/stats", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, 12345.67, body["uptime_seconds"])
}

func TestWebSocketReceivesSnapshot(t *testing.T) {
	s := newTestServer(t)
	go s.Hub.Run()
	defer s.Hub.Close()

	ts := httptest.NewServer(s.Routes())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the register a moment to land, then force a push.
	time.Sleep(50 * time.Millisecond)
	s.Hub.pushOnce()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var payload map[string]any
	require.NoError(t, json.Unmarshal(msg, &payload))
	assert.Equal(t, "snapshot", payload["type"])
	assert.Contains(t, payload, "stats")
	assert.Contains(t, payload, "meshtastic")
}
