package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/you/flash-arb/internal/config"
	"go.uber.org/zap"
)

// Quote is a spot price with the source that produced it. Source is
// "cached" when served within TTL and "cached-fallback" when every live
// source failed.
type Quote struct {
	PriceUSD float64
	Source   string
}

type source struct {
	name    string
	url     string
	timeout time.Duration
	parse   func([]byte) (float64, error)
}

// Feed fetches the native-asset spot price from an ordered list of
// independent HTTP sources, independent of the RPC provider pool.
type Feed struct {
	sources []source
	minSane float64
	maxSane float64
	ttl     time.Duration

	mu       sync.Mutex
	cached   float64
	cachedAt time.Time

	httpc *http.Client
	log   *zap.Logger
	now   func() time.Time
}

const defaultPrice = 2400.0

func New(cfg *config.Config, log *zap.Logger) *Feed {
	f := &Feed{
		minSane: cfg.PriceFeeds.MinSaneUSD,
		maxSane: cfg.PriceFeeds.MaxSaneUSD,
		ttl:     cfg.PriceTTL(),
		cached:  defaultPrice,
		httpc:   &http.Client{Timeout: 10 * time.Second},
		log:     log,
		now:     time.Now,
	}
	for _, s := range cfg.PriceFeeds.Sources {
		f.sources = append(f.sources, source{
			name:    s.Name,
			url:     s.URL,
			timeout: time.Duration(s.TimeoutMs) * time.Millisecond,
			parse:   parserFor(s.Name),
		})
	}
	if len(f.sources) == 0 {
		f.sources = defaultSources()
	}
	return f
}

func defaultSources() []source {
	return []source{
		{
			name:    "Binance",
			url:     "https://api.binance.com/api/v3/ticker/price?symbol=ETHUSDT",
			timeout: 4 * time.Second,
			parse:   parseBinance,
		},
		{
			name:    "CoinGecko",
			url:     "https://api.coingecko.com/api/v3/simple/price?ids=ethereum&vs_currencies=usd",
			timeout: 4 * time.Second,
			parse:   parseCoinGecko,
		},
	}
}

func parserFor(name string) func([]byte) (float64, error) {
	switch strings.ToLower(name) {
	case "coingecko":
		return parseCoinGecko
	default:
		return parseBinance
	}
}

func parseBinance(b []byte) (float64, error) {
	var r struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(r.Price, 64)
}

func parseCoinGecko(b []byte) (float64, error) {
	var r struct {
		Ethereum struct {
			USD float64 `json:"usd"`
		} `json:"ethereum"`
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return 0, err
	}
	if r.Ethereum.USD == 0 {
		return 0, fmt.Errorf("empty coingecko price")
	}
	return r.Ethereum.USD, nil
}

// NativePrice returns the first sane price from the source list, caching it
// for the TTL. When every source fails the last cached value is returned
// tagged "cached-fallback".
func (f *Feed) NativePrice(ctx context.Context) Quote {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.now()
	if now.Sub(f.cachedAt) < f.ttl {
		return Quote{PriceUSD: f.cached, Source: "cached"}
	}

	for _, s := range f.sources {
		price, err := f.fetch(ctx, s)
		if err != nil {
			f.log.Warn("price source failed", zap.String("source", s.name), zap.Error(err))
			continue
		}
		if price < f.minSane || price > f.maxSane {
			f.log.Warn("price outside sanity range",
				zap.String("source", s.name), zap.Float64("price", price))
			continue
		}
		f.cached = price
		f.cachedAt = now
		return Quote{PriceUSD: price, Source: s.name}
	}

	return Quote{PriceUSD: f.cached, Source: "cached-fallback"}
}

func (f *Feed) fetch(ctx context.Context, s source) (float64, error) {
	timeout := s.timeout
	if timeout == 0 {
		timeout = 4 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := f.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("http %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return 0, err
	}
	return s.parse(body)
}

// SetLive pushes a streamed price into the cache; used by the WS streamer
// to keep NativePrice serving without REST round-trips.
func (f *Feed) SetLive(price float64) {
	if price < f.minSane || price > f.maxSane {
		return
	}
	f.mu.Lock()
	f.cached = price
	f.cachedAt = f.now()
	f.mu.Unlock()
}
