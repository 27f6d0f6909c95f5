package marketdata

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/pricefeed"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

const (
	uniAddr   = "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"
	sushiAddr = "0xd9e1cE17f2641f24aE83637ab66a2cca9C378B9F"
)

type fakePool struct {
	// quote output per router address, in quote-token units
	outputs map[common.Address]*big.Int
	errs    map[common.Address]error
	calls   map[common.Address]int

	gasGwei float64
	gasErr  error
	gasHits int
}

func (f *fakePool) CallContract(_ context.Context, to common.Address, _ []byte) ([]byte, error) {
	if f.calls == nil {
		f.calls = make(map[common.Address]int)
	}
	f.calls[to]++
	if err := f.errs[to]; err != nil {
		return nil, err
	}
	out := f.outputs[to]
	amounts := []*big.Int{new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil), out}
	rabi, err := abi.JSON(strings.NewReader(routerABI))
	if err != nil {
		return nil, err
	}
	return rabi.Methods["getAmountsOut"].Outputs.Pack(amounts)
}

func (f *fakePool) GasPriceGwei(context.Context) (float64, error) {
	f.gasHits++
	return f.gasGwei, f.gasErr
}

func fetcherConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Routers.Uniswap = uniAddr
	cfg.Routers.Sushiswap = sushiAddr
	cfg.Timing.QuoteTTLMs = 12_000
	cfg.Chain.GasTTLMs = 30_000
	cfg.Chain.FallbackGasGwei = 1.0
	return cfg
}

func newTestFetcher(t *testing.T, pool *fakePool) *Fetcher {
	t.Helper()
	cfg := fetcherConfig()
	f, err := NewFetcher(cfg, pool, pricefeed.New(cfg, zap.NewNop()), zap.NewNop())
	require.NoError(t, err)
	return f
}

func usdcOut(price float64) *big.Int {
	return big.NewInt(int64(price * 1e6))
}

func wethUSDC() types.PairSpec {
	return types.PairSpec{
		Name:          "WETH/USDC",
		BaseAddr:      "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2",
		QuoteAddr:     "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
		QuoteDecimals: 6,
	}
}

func TestRouterQuotes_BothRoutersQuoted(t *testing.T) {
	pool := &fakePool{outputs: map[common.Address]*big.Int{
		common.HexToAddress(uniAddr):   usdcOut(2412),
		common.HexToAddress(sushiAddr): usdcOut(2400),
	}}
	f := newTestFetcher(t, pool)

	qp, err := f.RouterQuotes(context.Background(), wethUSDC())
	require.NoError(t, err)

	assert.InDelta(t, 2412.0, qp.Price1, 1e-6)
	assert.InDelta(t, 2400.0, qp.Price2, 1e-6)
	assert.InDelta(t, 12.0/2412.0*100, qp.SpreadPct, 1e-6)
	assert.False(t, qp.FromCache)
}

func TestRouterQuotes_CachedWithinTTL(t *testing.T) {
	pool := &fakePool{outputs: map[common.Address]*big.Int{
		common.HexToAddress(uniAddr):   usdcOut(2412),
		common.HexToAddress(sushiAddr): usdcOut(2400),
	}}
	f := newTestFetcher(t, pool)
	now := time.Now()
	f.now = func() time.Time { return now }

	_, err := f.RouterQuotes(context.Background(), wethUSDC())
	require.NoError(t, err)

	now = now.Add(11 * time.Second)
	_, err = f.RouterQuotes(context.Background(), wethUSDC())
	require.NoError(t, err)
	assert.Equal(t, 1, pool.calls[common.HexToAddress(uniAddr)])

	now = now.Add(2 * time.Second)
	_, err = f.RouterQuotes(context.Background(), wethUSDC())
	require.NoError(t, err)
	assert.Equal(t, 2, pool.calls[common.HexToAddress(uniAddr)])
}

func TestRouterQuotes_PartialFailureServesStaleCache(t *testing.T) {
	uni := common.HexToAddress(uniAddr)
	pool := &fakePool{outputs: map[common.Address]*big.Int{
		uni:                            usdcOut(2412),
		common.HexToAddress(sushiAddr): usdcOut(2400),
	}}
	f := newTestFetcher(t, pool)
	now := time.Now()
	f.now = func() time.Time { return now }

	first, err := f.RouterQuotes(context.Background(), wethUSDC())
	require.NoError(t, err)

	// One branch starts failing after the cache expires.
	pool.errs = map[common.Address]error{uni: errors.New("rate limited")}
	now = now.Add(time.Minute)

	stale, err := f.RouterQuotes(context.Background(), wethUSDC())
	require.NoError(t, err)
	assert.True(t, stale.FromCache)
	assert.Equal(t, first.SpreadPct, stale.SpreadPct)
}

func TestRouterQuotes_TotalFailureNoCache(t *testing.T) {
	boom := errors.New("no providers")
	pool := &fakePool{errs: map[common.Address]error{
		common.HexToAddress(uniAddr):   boom,
		common.HexToAddress(sushiAddr): boom,
	}}
	f := newTestFetcher(t, pool)

	_, err := f.RouterQuotes(context.Background(), wethUSDC())
	assert.ErrorIs(t, err, types.ErrQuoteUnavailable)
}

func TestGasPriceGwei_CachesAndFallsBack(t *testing.T) {
	pool := &fakePool{gasGwei: 0.8}
	f := newTestFetcher(t, pool)
	now := time.Now()
	f.now = func() time.Time { return now }

	assert.Equal(t, 0.8, f.GasPriceGwei(context.Background()))
	assert.Equal(t, 0.8, f.GasPriceGwei(context.Background()))
	assert.Equal(t, 1, pool.gasHits, "second read must hit the cache")

	// After expiry a failing fetch serves the last cached value.
	now = now.Add(time.Minute)
	pool.gasErr = errors.New("rpc down")
	assert.Equal(t, 0.8, f.GasPriceGwei(context.Background()))
}

func TestGasPriceGwei_ConfigFallbackWithoutCache(t *testing.T) {
	pool := &fakePool{gasErr: errors.New("rpc down")}
	f := newTestFetcher(t, pool)

	assert.Equal(t, 1.0, f.GasPriceGwei(context.Background()))
}
