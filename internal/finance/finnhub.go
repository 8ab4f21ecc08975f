package finance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"pidash/internal/constants"
	"pidash/internal/types"
)

// FinnhubFetcher pulls quotes from the finnhub.io REST API.
type FinnhubFetcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewFinnhubFetcher(baseURL, apiKey string) *FinnhubFetcher {
	return &FinnhubFetcher{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: constants.UpstreamTimeout},
	}
}

func (f *FinnhubFetcher) Quote(ctx context.Context, symbol string) (float64, float64, float64, error) {
	if f.apiKey == "" {
		return 0, 0, 0, types.Err(types.ErrConfigurationMissing, nil, "no quote API key")
	}

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("token", f.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return 0, 0, 0, types.Err(types.ErrExternalService, err, "")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, 0, 0, types.Err(types.ErrExternalService, err, "quote request for %s failed", symbol)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, 0, 0, types.Err(types.ErrExternalService, nil, "quote upstream returned %d for %s", resp.StatusCode, symbol)
	}

	var body struct {
		Current       float64 `json:"c"`
		Change        float64 `json:"d"`
		ChangePercent float64 `json:"dp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, 0, 0, types.Err(types.ErrExternalService, err, "bad quote payload for %s", symbol)
	}

	if body.Current == 0 {
		return 0, 0, 0, fmt.Errorf("empty quote for %s", symbol)
	}
	return body.Current, body.Change, body.ChangePercent, nil
}
