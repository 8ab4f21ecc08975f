package spotify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"pidash/internal/types"
)

// do proxies one authenticated call to the Spotify Web API, refreshing the
// token first if needed. A 401 from the API demotes the in-memory session.
func (m *Manager) do(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error) {
	token, err := m.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := m.apiURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, types.Err(types.ErrExternalService, err, "")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, types.Err(types.ErrExternalService, err, "spotify request %s failed", path)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return json.RawMessage(`{}`), nil
	case resp.StatusCode == http.StatusUnauthorized:
		m.mu.Lock()
		m.bundle = nil
		m.mu.Unlock()
		return nil, types.Err(types.ErrAuthExpired, nil, "spotify rejected the session")
	case resp.StatusCode >= 400:
		return nil, types.Err(types.ErrExternalService, nil, "spotify %s returned %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.Err(types.ErrExternalService, err, "")
	}
	if len(body) == 0 {
		return json.RawMessage(`{}`), nil
	}
	return body, nil
}

func (m *Manager) CurrentTrack(ctx context.Context) (json.RawMessage, error) {
	return m.do(ctx, http.MethodGet, "/me/player/currently-playing", nil)
}

func (m *Manager) Play(ctx context.Context) (json.RawMessage, error) {
	return m.do(ctx, http.MethodPut, "/me/player/play", nil)
}

func (m *Manager) Pause(ctx context.Context) (json.RawMessage, error) {
	return m.do(ctx, http.MethodPut, "/me/player/pause", nil)
}

func (m *Manager) Next(ctx context.Context) (json.RawMessage, error) {
	return m.do(ctx, http.MethodPost, "/me/player/next", nil)
}

func (m *Manager) Previous(ctx context.Context) (json.RawMessage, error) {
	return m.do(ctx, http.MethodPost, "/me/player/previous", nil)
}

func (m *Manager) Playlists(ctx context.Context) (json.RawMessage, error) {
	q := url.Values{}
	q.Set("limit", "20")
	return m.do(ctx, http.MethodGet, "/me/playlists", q)
}

func (m *Manager) Search(ctx context.Context, query string) (json.RawMessage, error) {
	if query == "" {
		return nil, types.Err(types.ErrValidation, nil, "empty search query")
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("type", "track,album,artist")
	q.Set("limit", "10")
	return m.do(ctx, http.MethodGet, "/search", q)
}

func (m *Manager) Devices(ctx context.Context) (json.RawMessage, error) {
	return m.do(ctx, http.MethodGet, "/me/player/devices", nil)
}
