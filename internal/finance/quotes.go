// Package finance serves the market panel: five instruments behind one
// 30-minute cache, filled under a strict upstream call budget. Without a
// credential (or on any upstream failure) the whole set degrades to synthetic
// prices, so the panel always has something to draw.
package finance

import (
	"context"
	"math/rand"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"pidash/internal/cache"
	"pidash/internal/config"
	"pidash/internal/constants"
)

type Instrument struct {
	Symbol string
	Label  string
	Base   float64 // anchor for synthetic prices
}

// The three index ETFs stand in for their indices; the upstream free tier has
// no direct index quotes.
var instruments = []Instrument{
	{Symbol: "SPY", Label: "S&P 500", Base: 560.0},
	{Symbol: "QQQ", Label: "NASDAQ", Base: 480.0},
	{Symbol: "DIA", Label: "Dow Jones", Base: 420.0},
	{Symbol: "GLD", Label: "Gold", Base: 215.0},
	{Symbol: "OANDA:EUR_USD", Label: "EUR/USD", Base: 1.08},
}

type Quote struct {
	Symbol        string  `json:"symbol"`
	Label         string  `json:"label"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

type QuoteSet struct {
	Quotes    []Quote   `json:"quotes"`
	Synthetic bool      `json:"synthetic"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetcher retrieves one instrument quote from the upstream.
type Fetcher interface {
	Quote(ctx context.Context, symbol string) (price, change, changePct float64, err error)
}

// waiter is the rate-limit seam; *rate.Limiter satisfies it and tests can
// count waits without real wall-clock delays.
type waiter interface {
	Wait(ctx context.Context) error
}

const cacheKey = "quotes"

type Service struct {
	fetcher    Fetcher
	configured bool
	limiter    waiter
	cache      *cache.TTL[string, QuoteSet]
	sf         singleflight.Group
	now        func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewService(cfg *config.Config) *Service {
	return &Service{
		fetcher:    NewFinnhubFetcher(cfg.QuoteAPIURL, cfg.QuoteAPIKey),
		configured: cfg.QuoteAPIKey != "",
		limiter:    rate.NewLimiter(rate.Every(cfg.QuoteInterval), 1),
		cache:      cache.NewTTL[string, QuoteSet](),
		now:        time.Now,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Get returns the cached quote set, filling the cache on a miss. A fill is
// single-flighted so concurrent panel loads trigger at most one fetch
// sequence. Get never fails: the synthetic fallback needs no network.
func (s *Service) Get(ctx context.Context) QuoteSet {
	if set, ok := s.cache.Get(cacheKey); ok {
		return set
	}

	v, _, _ := s.sf.Do(cacheKey, func() (any, error) {
		if set, ok := s.cache.Get(cacheKey); ok {
			return set, nil
		}
		// A serialized fill takes close to a minute, longer than any single
		// caller is willing to wait. It runs on its own budget, detached
		// from the caller's deadline: an impatient caller aborting the fill
		// would otherwise cache a synthetic set for the whole TTL.
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), constants.QuoteFillBudget)
		defer cancel()
		set := s.fetchAll(fillCtx)
		s.cache.Set(cacheKey, set, constants.QuoteTTL)
		return set, nil
	})
	return v.(QuoteSet)
}

// fetchAll issues the five upstream calls sequentially through the limiter.
// This is throttling, not fan-out: the upstream budget is per-minute and a
// parallel burst would blow it.
func (s *Service) fetchAll(ctx context.Context) QuoteSet {
	if !s.configured {
		return s.synthetic()
	}

	quotes := make([]Quote, 0, len(instruments))
	for _, inst := range instruments {
		if err := s.limiter.Wait(ctx); err != nil {
			log.Printf("💹 Quote fetch aborted: %v", err)
			return s.synthetic()
		}
		price, change, pct, err := s.fetcher.Quote(ctx, inst.Symbol)
		if err != nil || price == 0 {
			log.Printf("💹 Quote for %s unavailable, serving synthetic data: %v", inst.Symbol, err)
			return s.synthetic()
		}
		quotes = append(quotes, Quote{
			Symbol:        inst.Symbol,
			Label:         inst.Label,
			Price:         price,
			Change:        change,
			ChangePercent: pct,
		})
	}

	return QuoteSet{Quotes: quotes, FetchedAt: s.now()}
}

// synthetic perturbs each base price by a bounded pseudorandom percentage.
func (s *Service) synthetic() QuoteSet {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	quotes := make([]Quote, 0, len(instruments))
	for _, inst := range instruments {
		jitter := (s.rng.Float64()*2 - 1) * constants.QuoteJitterBound
		quotes = append(quotes, Quote{
			Symbol:        inst.Symbol,
			Label:         inst.Label,
			Price:         inst.Base * (1 + jitter),
			Change:        inst.Base * jitter,
			ChangePercent: jitter * 100,
		})
	}
	return QuoteSet{Quotes: quotes, Synthetic: true, FetchedAt: s.now()}
}
