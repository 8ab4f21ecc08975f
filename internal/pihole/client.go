// Package pihole talks to a Pi-hole appliance's session-authenticated API.
// Sessions are cheap and never persisted: each fetch cycle authenticates,
// pulls the two stat endpoints, and releases the session again. Any failure
// degrades to an error payload carrying a direct link to the native UI.
package pihole

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"pidash/internal/config"
	"pidash/internal/constants"
	"pidash/internal/types"
)

const sidHeader = "X-FTL-SID"

type Domain struct {
	Domain string `json:"domain"`
	Count  int64  `json:"count"`
}

type Stats struct {
	Status         string   `json:"status"`
	TotalQueries   int64    `json:"total_queries"`
	BlockedQueries int64    `json:"blocked_queries"`
	PercentBlocked float64  `json:"percent_blocked"`
	DomainsOnList  int64    `json:"domains_on_list"`
	TopBlocked     []Domain `json:"top_blocked"`
}

type session struct {
	sid  string
	csrf string
}

type Client struct {
	baseURL  string
	password string
	client   *http.Client
}

func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(cfg.PiholeURL, "/"),
		password: cfg.PiholePassword,
		client:   &http.Client{Timeout: constants.UpstreamTimeout},
	}
}

// Fetch returns either Stats or a types.ErrorPayload. The caller can encode
// the result as-is; a dead appliance becomes a link, never a 500.
func (c *Client) Fetch(ctx context.Context) any {
	stats, err := c.fetch(ctx)
	if err != nil {
		log.Printf("🕳 Pi-hole fetch failed: %v", err)
		return types.NewErrorPayload("Pi-hole unreachable", c.fallbackURL())
	}
	return stats
}

func (c *Client) fallbackURL() string {
	if c.baseURL == "" {
		return ""
	}
	return c.baseURL + "/admin"
}

func (c *Client) fetch(ctx context.Context) (*Stats, error) {
	if c.baseURL == "" || c.password == "" {
		return nil, types.Err(types.ErrConfigurationMissing, nil, "pihole url/password not set")
	}

	sess, err := c.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	defer c.logout(ctx, sess)

	summary, err := c.summary(ctx, sess)
	if err != nil {
		return nil, err
	}
	top, err := c.topBlocked(ctx, sess)
	if err != nil {
		return nil, err
	}

	return &Stats{
		Status:         "ok",
		TotalQueries:   summary.Queries.Total,
		BlockedQueries: summary.Queries.Blocked,
		PercentBlocked: summary.Queries.PercentBlocked,
		DomainsOnList:  summary.Gravity.DomainsBeingBlocked,
		TopBlocked:     top,
	}, nil
}

func (c *Client) authenticate(ctx context.Context) (*session, error) {
	body, _ := json.Marshal(map[string]string{"password": c.password})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth", bytes.NewReader(body))
	if err != nil {
		return nil, types.Err(types.ErrExternalService, err, "")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.Err(types.ErrExternalService, err, "pihole auth request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, types.Err(types.ErrAuthExpired, nil, "pihole rejected credentials (%d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, types.Err(types.ErrExternalService, nil, "pihole auth returned %d", resp.StatusCode)
	}

	var auth struct {
		Session struct {
			Valid bool   `json:"valid"`
			SID   string `json:"sid"`
			CSRF  string `json:"csrf"`
		} `json:"session"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return nil, types.Err(types.ErrExternalService, err, "bad pihole auth payload")
	}
	if !auth.Session.Valid || auth.Session.SID == "" {
		return nil, types.Err(types.ErrAuthExpired, nil, "pihole session invalid")
	}

	return &session{sid: auth.Session.SID, csrf: auth.Session.CSRF}, nil
}

// logout releases the session slot; Pi-hole only keeps a handful open.
func (c *Client) logout(ctx context.Context, sess *session) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/auth", nil)
	if err != nil {
		return
	}
	req.Header.Set(sidHeader, sess.sid)
	resp, err := c.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

type summaryPayload struct {
	Queries struct {
		Total          int64   `json:"total"`
		Blocked        int64   `json:"blocked"`
		PercentBlocked float64 `json:"percent_blocked"`
	} `json:"queries"`
	Gravity struct {
		DomainsBeingBlocked int64 `json:"domains_being_blocked"`
	} `json:"gravity"`
}

func (c *Client) summary(ctx context.Context, sess *session) (*summaryPayload, error) {
	var payload summaryPayload
	if err := c.getJSON(ctx, sess, "/api/stats/summary", &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

func (c *Client) topBlocked(ctx context.Context, sess *session) ([]Domain, error) {
	var payload struct {
		Domains []Domain `json:"domains"`
	}
	q := url.Values{}
	q.Set("blocked", "true")
	q.Set("count", "10")
	if err := c.getJSON(ctx, sess, "/api/stats/top_domains?"+q.Encode(), &payload); err != nil {
		return nil, err
	}
	return payload.Domains, nil
}

func (c *Client) getJSON(ctx context.Context, sess *session, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return types.Err(types.ErrExternalService, err, "")
	}
	req.Header.Set(sidHeader, sess.sid)

	resp, err := c.client.Do(req)
	if err != nil {
		return types.Err(types.ErrExternalService, err, "pihole request %s failed", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return types.Err(types.ErrAuthExpired, nil, "pihole session rejected on %s", path)
	}
	if resp.StatusCode != http.StatusOK {
		return types.Err(types.ErrExternalService, nil, "pihole %s returned %d", path, resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
