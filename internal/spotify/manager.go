// Package spotify manages the OAuth2 Authorization-Code-with-PKCE session for
// the music panel: login initiation, the callback exchange, token refresh,
// and the bearer-attaching API proxy. Token bundles are persisted per profile
// through the profile store; the process keeps at most one bundle in memory,
// the one belonging to the active profile.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"

	"pidash/internal/config"
	"pidash/internal/constants"
	"pidash/internal/profile"
	"pidash/internal/types"
)

type Manager struct {
	clientID    string
	redirectURI string
	store       profile.Store
	client      *http.Client

	authURL  string
	tokenURL string
	apiURL   string

	now func() time.Time

	mu       sync.Mutex
	pending  map[string]*pkceChallenge // state -> challenge
	activeID string
	bundle   *profile.TokenBundle

	refreshMu sync.Mutex // serializes token refreshes, never held with mu
}

func NewManager(cfg *config.Config, store profile.Store) *Manager {
	m := &Manager{
		clientID:    cfg.SpotifyClientID,
		redirectURI: cfg.SpotifyRedirectURI,
		store:       store,
		client:      &http.Client{Timeout: constants.UpstreamTimeout},
		authURL:     constants.SpotifyAuthURL,
		tokenURL:    constants.SpotifyTokenURL,
		apiURL:      constants.SpotifyAPIURL,
		now:         time.Now,
		pending:     make(map[string]*pkceChallenge),
	}

	// restore the active profile's bundle across restarts
	if active, err := store.GetActive(); err == nil && active != "" {
		m.activeID = active
		if bundle, err := store.LoadToken(active); err == nil {
			m.bundle = bundle
			log.Printf("🎵 Restored Spotify session for profile %s", active)
		}
	}

	return m
}

// BeginLogin issues a PKCE challenge for the profile and returns the
// authorization URL. A new login for the same profile supersedes that
// profile's outstanding challenge; other profiles' challenges are untouched.
func (m *Manager) BeginLogin(profileID string) (string, error) {
	if m.clientID == "" {
		return "", types.Err(types.ErrConfigurationMissing, nil, "spotify client id not set")
	}
	if _, err := m.store.GetProfile(profileID); err != nil {
		return "", err
	}

	verifier, err := newVerifier()
	if err != nil {
		return "", err
	}
	state := uuid.New().String()

	m.mu.Lock()
	for s, ch := range m.pending {
		if ch.profileID == profileID {
			delete(m.pending, s)
		}
	}
	m.pending[state] = &pkceChallenge{
		profileID: profileID,
		verifier:  verifier,
		issuedAt:  m.now(),
	}
	m.mu.Unlock()

	q := url.Values{}
	q.Set("client_id", m.clientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", m.redirectURI)
	q.Set("code_challenge_method", "S256")
	q.Set("code_challenge", challengeS256(verifier))
	q.Set("scope", constants.SpotifyScopes)
	q.Set("state", state)

	return m.authURL + "?" + q.Encode(), nil
}

// LoginQR renders the authorization URL as a PNG so a phone can finish the
// login for a kiosk that has no keyboard.
func (m *Manager) LoginQR(profileID string) ([]byte, error) {
	authURL, err := m.BeginLogin(profileID)
	if err != nil {
		return nil, err
	}
	return qrcode.Encode(authURL, qrcode.Medium, 256)
}

// HandleCallback exchanges the authorization code for a token bundle and
// persists it under the initiating profile. The challenge is consumed
// whether or not the exchange succeeds.
func (m *Manager) HandleCallback(ctx context.Context, code, state, errParam string) error {
	m.mu.Lock()
	ch, ok := m.pending[state]
	if ok {
		delete(m.pending, state)
	}
	m.mu.Unlock()

	if errParam != "" {
		return types.Err(types.ErrValidation, nil, "authorization denied: %s", errParam)
	}
	if !ok {
		return types.Err(types.ErrAuthExpired, nil, "login session expired")
	}
	if m.now().Sub(ch.issuedAt) > constants.ChallengeLifetime {
		return types.Err(types.ErrAuthExpired, nil, "login challenge expired")
	}
	if code == "" {
		return types.Err(types.ErrValidation, nil, "missing authorization code")
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.redirectURI)
	form.Set("client_id", m.clientID)
	form.Set("code_verifier", ch.verifier)

	bundle, err := m.tokenRequest(ctx, form)
	if err != nil {
		return err
	}

	if err := m.store.SaveToken(ch.profileID, bundle); err != nil {
		return err
	}

	m.mu.Lock()
	if ch.profileID == m.activeID {
		m.bundle = bundle
	}
	m.mu.Unlock()

	log.Printf("🎵 Spotify login complete for profile %s", ch.profileID)
	return nil
}

func (m *Manager) tokenRequest(ctx context.Context, form url.Values) (*profile.TokenBundle, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, types.Err(types.ErrExternalService, err, "")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, types.Err(types.ErrExternalService, err, "token request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.Err(types.ErrAuthExpired, nil, "token endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		ExpiresIn    int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, types.Err(types.ErrExternalService, err, "bad token payload")
	}
	if body.AccessToken == "" {
		return nil, types.Err(types.ErrAuthExpired, nil, "token payload missing access token")
	}

	return &profile.TokenBundle{
		AccessToken:  body.AccessToken,
		RefreshToken: body.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(body.ExpiresIn) * time.Second),
	}, nil
}

// accessToken hands out a bearer token fit for one outbound call, refreshing
// first when expiry is close. A failed refresh demotes the session; the next
// poll from the frontend is the only retry.
func (m *Manager) accessToken(ctx context.Context) (string, error) {
	m.mu.Lock()
	bundle := m.bundle
	m.mu.Unlock()

	if bundle == nil {
		return "", types.Err(types.ErrAuthExpired, nil, "no spotify session, login required")
	}

	if m.now().Add(constants.TokenRefreshWindow).Before(bundle.ExpiresAt) {
		return bundle.AccessToken, nil
	}

	// Refreshes are serialized. The endpoint rotates refresh tokens, so a
	// second concurrent refresh would submit an already-consumed token and
	// demote a session that was just renewed.
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	m.mu.Lock()
	bundle = m.bundle
	active := m.activeID
	m.mu.Unlock()

	if bundle == nil {
		return "", types.Err(types.ErrAuthExpired, nil, "no spotify session, login required")
	}
	if m.now().Add(constants.TokenRefreshWindow).Before(bundle.ExpiresAt) {
		// another caller refreshed while we waited for the lock
		return bundle.AccessToken, nil
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", bundle.RefreshToken)
	form.Set("client_id", m.clientID)

	fresh, err := m.tokenRequest(ctx, form)
	if err != nil {
		m.mu.Lock()
		m.bundle = nil
		m.mu.Unlock()
		log.Printf("🎵 Spotify token refresh failed, session demoted: %v", err)
		return "", types.Err(types.ErrAuthExpired, err, "token refresh failed, login required")
	}
	if fresh.RefreshToken == "" {
		// the endpoint may omit the refresh token when it is not rotated
		fresh.RefreshToken = bundle.RefreshToken
	}

	if err := m.store.SaveToken(active, fresh); err != nil {
		log.Printf("⚠️  Failed to persist refreshed token: %v", err)
	}

	m.mu.Lock()
	m.bundle = fresh
	m.mu.Unlock()

	return fresh.AccessToken, nil
}

// SwitchProfile makes profileID the active profile and swaps its token
// bundle into memory. The prior profile's bundle is dropped from memory;
// its persisted file is untouched.
func (m *Manager) SwitchProfile(profileID string) error {
	if err := m.store.SetActive(profileID); err != nil {
		return err
	}

	bundle, err := m.store.LoadToken(profileID)
	if err != nil {
		bundle = nil // profile simply has no session yet
	}

	m.mu.Lock()
	m.activeID = profileID
	m.bundle = bundle
	m.mu.Unlock()

	return nil
}

// Logout clears the active profile's session from memory and disk. Other
// profiles keep their bundles.
func (m *Manager) Logout() error {
	m.mu.Lock()
	active := m.activeID
	m.bundle = nil
	m.mu.Unlock()

	if active == "" {
		return nil
	}
	if err := m.store.DeleteToken(active); err != nil && !errors.Is(err, types.ErrNotFound) {
		return err
	}
	return nil
}

type Status struct {
	Authenticated bool      `json:"authenticated"`
	ProfileID     string    `json:"profile_id,omitempty"`
	ExpiresAt     time.Time `json:"expires_at,omitempty"`
	Configured    bool      `json:"configured"`
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Status{Configured: m.clientID != "", ProfileID: m.activeID}
	if m.bundle != nil {
		st.Authenticated = true
		st.ExpiresAt = m.bundle.ExpiresAt
	}
	return st
}
