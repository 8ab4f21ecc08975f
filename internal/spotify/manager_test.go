package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pidash/internal/config"
	"pidash/internal/profile"
	"pidash/internal/types"
)

type tokenStub struct {
	srv      *httptest.Server
	refreshes int
	exchanges int
	lastForm  url.Values
}

func newTokenStub(t *testing.T) *tokenStub {
	t.Helper()
	stub := &tokenStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		stub.lastForm = r.PostForm

		switch r.PostForm.Get("grant_type") {
		case "authorization_code":
			stub.exchanges++
			if r.PostForm.Get("code") == "bad-code" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		case "refresh_token":
			stub.refreshes++
			if r.PostForm.Get("refresh_token") == "dead-refresh" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
		default:
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func newTestManager(t *testing.T, stub *tokenStub) (*Manager, profile.Store, *profile.Profile) {
	t.Helper()
	store, err := profile.NewFileStore(t.TempDir(), "")
	require.NoError(t, err)

	p := &profile.Profile{ID: uuid.New().String(), Name: "Kiosk", CreatedAt: time.Now()}
	require.NoError(t, store.SaveProfile(p))
	require.NoError(t, store.SetActive(p.ID))

	m := NewManager(&config.Config{
		SpotifyClientID:    "client-123",
		SpotifyRedirectURI: "http://localhost:8090/api/spotify/callback",
	}, store)
	if stub != nil {
		m.tokenURL = stub.srv.URL
	}
	return m, store, p
}

func stateFromAuthURL(t *testing.T, authURL string) string {
	t.Helper()
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestBeginLoginBuildsPKCEAuthURL(t *testing.T) {
	m, _, p := newTestManager(t, nil)

	authURL, err := m.BeginLogin(p.ID)
	require.NoError(t, err)

	u, err := url.Parse(authURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "client-123", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.NotEmpty(t, q.Get("code_challenge"))
	assert.NotEmpty(t, q.Get("state"))
	assert.NotContains(t, authURL, "code_verifier", "verifier never leaves the process")
}

func TestBeginLoginUnconfigured(t *testing.T) {
	store, err := profile.NewFileStore(t.TempDir(), "")
	require.NoError(t, err)
	m := NewManager(&config.Config{}, store)

	_, err = m.BeginLogin("whatever")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrConfigurationMissing))
}

func TestSecondLoginSupersedesFirst(t *testing.T) {
	stub := newTokenStub(t)
	m, _, p := newTestManager(t, stub)

	first, err := m.BeginLogin(p.ID)
	require.NoError(t, err)
	firstState := stateFromAuthURL(t, first)

	_, err = m.BeginLogin(p.ID)
	require.NoError(t, err)

	// the first challenge is gone; exchanging its code fails as expired
	err = m.HandleCallback(context.Background(), "auth-code", firstState, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAuthExpired))
	assert.Equal(t, 0, stub.exchanges, "superseded challenge must not reach the token endpoint")
}

func TestLoginsForDifferentProfilesCoexist(t *testing.T) {
	stub := newTokenStub(t)
	m, store, p1 := newTestManager(t, stub)

	p2 := &profile.Profile{ID: uuid.New().String(), Name: "Other", CreatedAt: time.Now()}
	require.NoError(t, store.SaveProfile(p2))

	url1, err := m.BeginLogin(p1.ID)
	require.NoError(t, err)
	_, err = m.BeginLogin(p2.ID)
	require.NoError(t, err)

	// p2's login did not invalidate p1's challenge
	err = m.HandleCallback(context.Background(), "auth-code", stateFromAuthURL(t, url1), "")
	require.NoError(t, err)
	assert.Equal(t, 1, stub.exchanges)
}

func TestCallbackPersistsBundle(t *testing.T) {
	stub := newTokenStub(t)
	m, store, p := newTestManager(t, stub)

	authURL, err := m.BeginLogin(p.ID)
	require.NoError(t, err)
	state := stateFromAuthURL(t, authURL)

	require.NoError(t, m.HandleCallback(context.Background(), "auth-code", state, ""))
	assert.NotEmpty(t, stub.lastForm.Get("code_verifier"))

	bundle, err := store.LoadToken(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", bundle.AccessToken)
	assert.Equal(t, "fresh-refresh", bundle.RefreshToken)

	st := m.Status()
	assert.True(t, st.Authenticated)
	assert.Equal(t, p.ID, st.ProfileID)
}

func TestCallbackChallengeConsumedOnFailureToo(t *testing.T) {
	stub := newTokenStub(t)
	m, _, p := newTestManager(t, stub)

	authURL, err := m.BeginLogin(p.ID)
	require.NoError(t, err)
	state := stateFromAuthURL(t, authURL)

	err = m.HandleCallback(context.Background(), "bad-code", state, "")
	require.Error(t, err)

	// replaying the same state fails as expired, not as a second exchange
	err = m.HandleCallback(context.Background(), "auth-code", state, "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAuthExpired))
	assert.Equal(t, 1, stub.exchanges)
}

func TestRefreshOnlyWithinWindow(t *testing.T) {
	stub := newTokenStub(t)
	m, store, p := newTestManager(t, stub)

	now := time.Now()
	m.now = func() time.Time { return now }

	// distant expiry: zero refreshes
	require.NoError(t, store.SaveToken(p.ID, &profile.TokenBundle{
		AccessToken: "live-access", RefreshToken: "live-refresh", ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, m.SwitchProfile(p.ID))

	token, err := m.accessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "live-access", token)
	assert.Equal(t, 0, stub.refreshes)

	// expiry within 60s: exactly one refresh before the bearer is handed out
	now = now.Add(time.Hour - 30*time.Second)
	token, err = m.accessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-access", token)
	assert.Equal(t, 1, stub.refreshes)

	// and the refreshed bundle was persisted
	bundle, err := store.LoadToken(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh", bundle.RefreshToken)
}

func TestConcurrentRefreshIsSerialized(t *testing.T) {
	// The endpoint rotates refresh tokens: a consumed token is rejected on
	// reuse. Concurrent callers inside the refresh window must share a
	// single refresh instead of racing each other with the stale token.
	var (
		mu        sync.Mutex
		refreshes int
		valid     = map[string]bool{"seed-refresh": true}
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))

		mu.Lock()
		refreshes++
		rt := r.PostForm.Get("refresh_token")
		if !valid[rt] {
			mu.Unlock()
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		delete(valid, rt)
		next := fmt.Sprintf("rotated-%d", refreshes)
		valid[next] = true
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": next,
			"expires_in":    3600,
		})
	}))
	defer srv.Close()

	m, store, p := newTestManager(t, nil)
	m.tokenURL = srv.URL

	require.NoError(t, store.SaveToken(p.ID, &profile.TokenBundle{
		AccessToken: "stale", RefreshToken: "seed-refresh", ExpiresAt: time.Now().Add(10 * time.Second),
	}))
	require.NoError(t, m.SwitchProfile(p.ID))

	const callers = 8
	tokens := make([]string, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.accessToken(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh-access", tokens[i])
	}

	mu.Lock()
	assert.Equal(t, 1, refreshes, "concurrent callers share one refresh")
	mu.Unlock()
	assert.True(t, m.Status().Authenticated, "no spurious demotion after a successful refresh")
}

func TestRefreshFailureDemotesSession(t *testing.T) {
	stub := newTokenStub(t)
	m, store, p := newTestManager(t, stub)

	require.NoError(t, store.SaveToken(p.ID, &profile.TokenBundle{
		AccessToken: "stale", RefreshToken: "dead-refresh", ExpiresAt: time.Now().Add(10 * time.Second),
	}))
	require.NoError(t, m.SwitchProfile(p.ID))

	_, err := m.accessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAuthExpired))
	assert.False(t, m.Status().Authenticated, "refresh failure demotes to unauthenticated")
}

func TestSwitchProfileNeverReturnsPriorToken(t *testing.T) {
	stub := newTokenStub(t)
	m, store, a := newTestManager(t, stub)

	b := &profile.Profile{ID: uuid.New().String(), Name: "B", CreatedAt: time.Now()}
	require.NoError(t, store.SaveProfile(b))

	require.NoError(t, store.SaveToken(a.ID, &profile.TokenBundle{
		AccessToken: "token-A", RefreshToken: "r-A", ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, m.SwitchProfile(a.ID))
	require.True(t, m.Status().Authenticated)

	require.NoError(t, m.SwitchProfile(b.ID))

	st := m.Status()
	assert.Equal(t, b.ID, st.ProfileID)
	assert.False(t, st.Authenticated, "B has no token; A's must not leak")

	_, err := m.accessToken(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAuthExpired))
}

func TestLogoutClearsActiveProfileOnly(t *testing.T) {
	stub := newTokenStub(t)
	m, store, a := newTestManager(t, stub)

	b := &profile.Profile{ID: uuid.New().String(), Name: "B", CreatedAt: time.Now()}
	require.NoError(t, store.SaveProfile(b))
	require.NoError(t, store.SaveToken(b.ID, &profile.TokenBundle{
		AccessToken: "token-B", RefreshToken: "r-B", ExpiresAt: time.Now().Add(time.Hour),
	}))

	require.NoError(t, store.SaveToken(a.ID, &profile.TokenBundle{
		AccessToken: "token-A", RefreshToken: "r-A", ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, m.SwitchProfile(a.ID))

	require.NoError(t, m.Logout())
	assert.False(t, m.Status().Authenticated)

	_, err := store.LoadToken(a.ID)
	assert.True(t, errors.Is(err, types.ErrNotFound))

	// B's persisted bundle is untouched
	bundle, err := store.LoadToken(b.ID)
	require.NoError(t, err)
	assert.Equal(t, "token-B", bundle.AccessToken)
}

func TestLoginQRReturnsPNG(t *testing.T) {
	m, _, p := newTestManager(t, nil)

	png, err := m.LoginQR(p.ID)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.True(t, strings.HasPrefix(string(png[1:4]), "PNG"))
}

func TestProxyAttachesBearerAndDemotesOn401(t *testing.T) {
	stub := newTokenStub(t)
	m, store, p := newTestManager(t, stub)

	var gotAuth string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if r.URL.Path == "/me/player/devices" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"is_playing":true}`))
	}))
	defer api.Close()
	m.apiURL = api.URL

	require.NoError(t, store.SaveToken(p.ID, &profile.TokenBundle{
		AccessToken: "live-access", RefreshToken: "live-refresh", ExpiresAt: time.Now().Add(time.Hour),
	}))
	require.NoError(t, m.SwitchProfile(p.ID))

	body, err := m.CurrentTrack(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer live-access", gotAuth)
	assert.JSONEq(t, `{"is_playing":true}`, string(body))

	_, err = m.Devices(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrAuthExpired))
	assert.False(t, m.Status().Authenticated)
}

func TestPKCEChallengeDerivation(t *testing.T) {
	v, err := newVerifier()
	require.NoError(t, err)
	assert.Len(t, v, 43)

	// RFC 7636 appendix B vector
	assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM",
		challengeS256("dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"))
}
