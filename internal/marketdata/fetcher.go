package marketdata

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/metrics"
	"github.com/you/flash-arb/internal/pricefeed"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

const routerABI = `[
 {"inputs":[{"internalType":"uint256","name":"amountIn","type":"uint256"},{"internalType":"address[]","name":"path","type":"address[]"}],"name":"getAmountsOut","outputs":[{"internalType":"uint256[]","name":"amounts","type":"uint256[]"}],"stateMutability":"view","type":"function"}
]`

// rpcPool is the slice of the provider pool the fetcher needs.
type rpcPool interface {
	CallContract(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	GasPriceGwei(ctx context.Context) (float64, error)
}

// Fetcher obtains everything a scan cycle reads from the outside world:
// native-asset spot price, network fee price and per-pair router quotes.
type Fetcher struct {
	cfg  *config.Config
	pool rpcPool
	feed *pricefeed.Feed
	rabi abi.ABI
	log  *zap.Logger

	uniswap   common.Address
	sushiswap common.Address

	gasCached   float64
	gasCachedAt time.Time

	quoteCache map[string]types.QuotePair

	now func() time.Time
}

func NewFetcher(cfg *config.Config, pool rpcPool, feed *pricefeed.Feed, log *zap.Logger) (*Fetcher, error) {
	rabi, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, fmt.Errorf("parse router abi: %w", err)
	}
	return &Fetcher{
		cfg:        cfg,
		pool:       pool,
		feed:       feed,
		rabi:       rabi,
		log:        log,
		uniswap:    common.HexToAddress(cfg.Routers.Uniswap),
		sushiswap:  common.HexToAddress(cfg.Routers.Sushiswap),
		quoteCache: make(map[string]types.QuotePair, 8),
		now:        time.Now,
	}, nil
}

// NativePrice goes to the price feeds, never through the provider pool.
func (f *Fetcher) NativePrice(ctx context.Context) pricefeed.Quote {
	q := f.feed.NativePrice(ctx)
	metrics.EthPriceUSD.Set(q.PriceUSD)
	return q
}

// GasPriceGwei returns the current fee estimate, cached with its own TTL.
// On failure the configured fallback constant is returned.
func (f *Fetcher) GasPriceGwei(ctx context.Context) float64 {
	if f.now().Sub(f.gasCachedAt) < f.cfg.GasTTL() && f.gasCached > 0 {
		return f.gasCached
	}
	gwei, err := f.pool.GasPriceGwei(ctx)
	if err != nil {
		f.log.Warn("gas price fetch failed", zap.Error(err))
		if f.gasCached > 0 {
			return f.gasCached
		}
		return f.cfg.Chain.FallbackGasGwei
	}
	f.gasCached = gwei
	f.gasCachedAt = f.now()
	metrics.GasPriceGwei.Set(gwei)
	return gwei
}

// RouterQuotes quotes the same 1-base-token notional on both routers in
// parallel and derives the spread. Each branch fails independently; a
// failed branch surfaces as missing data, not as an aborted scan. On total
// failure the last cached tuple is returned if present, else
// ErrQuoteUnavailable.
func (f *Fetcher) RouterQuotes(ctx context.Context, pair types.PairSpec) (types.QuotePair, error) {
	key := pair.Name + "-" + f.cfg.Routers.Uniswap + "-" + f.cfg.Routers.Sushiswap
	now := f.now()

	if cached, ok := f.quoteCache[key]; ok && now.Sub(cached.CapturedAt) < f.cfg.QuoteTTL() {
		return cached, nil
	}

	inputAmount := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil) // 1 base token
	path := []common.Address{pair.BaseAddress(), pair.QuoteAddress()}
	data, err := f.rabi.Pack("getAmountsOut", inputAmount, path)
	if err != nil {
		return types.QuotePair{}, fmt.Errorf("pack getAmountsOut: %w", err)
	}

	var (
		wg     sync.WaitGroup
		prices [2]float64
		errs   [2]error
	)
	for i, router := range []common.Address{f.uniswap, f.sushiswap} {
		wg.Add(1)
		go func(i int, router common.Address) {
			defer wg.Done()
			prices[i], errs[i] = f.quoteOne(ctx, router, data, pair.QuoteDecimals)
		}(i, router)
	}
	wg.Wait()

	if errs[0] != nil || errs[1] != nil {
		for i, e := range errs {
			if e != nil {
				f.log.Warn("router quote failed",
					zap.String("pair", pair.Name), zap.Int("router", i+1), zap.Error(e))
			}
		}
		if cached, ok := f.quoteCache[key]; ok {
			f.log.Debug("serving stale router quotes",
				zap.String("pair", pair.Name),
				zap.Duration("age", now.Sub(cached.CapturedAt)))
			cached.FromCache = true
			return cached, nil
		}
		return types.QuotePair{}, types.ErrQuoteUnavailable
	}

	qp := types.QuotePair{
		Pair:       pair.Name,
		Router1:    "Uniswap",
		Router2:    "Sushiswap",
		Price1:     prices[0],
		Price2:     prices[1],
		SpreadPct:  spreadPct(prices[0], prices[1]),
		CapturedAt: now,
	}
	f.quoteCache[key] = qp
	metrics.SpreadPct.WithLabelValues(pair.Name).Set(qp.SpreadPct)
	return qp, nil
}

func (f *Fetcher) quoteOne(ctx context.Context, router common.Address, callData []byte, quoteDecimals int) (float64, error) {
	raw, err := f.pool.CallContract(ctx, router, callData)
	if err != nil {
		return 0, err
	}
	outs, err := f.rabi.Methods["getAmountsOut"].Outputs.Unpack(raw)
	if err != nil || len(outs) == 0 {
		return 0, fmt.Errorf("decode getAmountsOut: %w", err)
	}
	amounts, ok := outs[0].([]*big.Int)
	if !ok || len(amounts) < 2 {
		return 0, fmt.Errorf("bad amounts length")
	}
	price := toFloat(amounts[len(amounts)-1], quoteDecimals)
	if price <= 0 {
		return 0, fmt.Errorf("zero quote")
	}
	return price, nil
}

func spreadPct(p1, p2 float64) float64 {
	hi := math.Max(p1, p2)
	if hi == 0 {
		return 0
	}
	return math.Abs(p1-p2) / hi * 100
}

// toFloat converts a scaled integer amount to a float using token decimals.
func toFloat(x *big.Int, decimals int) float64 {
	if x == nil {
		return 0
	}
	f := new(big.Float).SetInt(x)
	f.Quo(f, big.NewFloat(math.Pow10(decimals)))
	val, _ := f.Float64()
	return val
}
