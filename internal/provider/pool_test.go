package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

func rpcOK(result string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": 1, "result": result})
	}
}

func newTestPool(t *testing.T, urls []string, maxReq int) *Pool {
	t.Helper()
	cfg := &config.Config{}
	for i, u := range urls {
		cfg.Providers = append(cfg.Providers, config.ProviderCfg{
			Name:        string(rune('A' + i)),
			URL:         u,
			MaxRequests: maxReq,
			WindowMs:    60_000,
		})
	}
	cfg.Timing.RPCCacheTTLMs = 15_000
	return NewPool(cfg, zap.NewNop())
}

func TestRequest_CachesWithinTTL(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		rpcOK("0x1")(w, r)
	}))
	defer srv.Close()

	p := newTestPool(t, []string{srv.URL}, 100)
	now := time.Now()
	p.now = func() time.Time { return now }

	_, err := p.Request(context.Background(), "eth_gasPrice")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// t + TTL - ε: served from cache
	now = now.Add(p.cacheTTL - time.Millisecond)
	_, err = p.Request(context.Background(), "eth_gasPrice")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	// t + TTL + ε: fresh fetch
	now = now.Add(2 * time.Millisecond)
	_, err = p.Request(context.Background(), "eth_gasPrice")
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRequest_DistinctParamsDistinctCacheKeys(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		rpcOK("0x1")(w, r)
	}))
	defer srv.Close()

	p := newTestPool(t, []string{srv.URL}, 100)
	_, _ = p.Request(context.Background(), "eth_call", "a")
	_, _ = p.Request(context.Background(), "eth_call", "b")
	assert.Equal(t, 2, calls)
}

func TestRequest_RateBudgetExhaustionFailsOver(t *testing.T) {
	callsA, callsB := 0, 0
	srvA := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callsA++
		rpcOK("0xa")(w, r)
	}))
	defer srvA.Close()
	srvB := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callsB++
		rpcOK("0xb")(w, r)
	}))
	defer srvB.Close()

	p := newTestPool(t, []string{srvA.URL, srvB.URL}, 2)
	p.cacheTTL = 0 // force network on every request

	for i := 0; i < 4; i++ {
		_, err := p.Request(context.Background(), "eth_blockNumber", i)
		require.NoError(t, err)
	}
	// A takes its budget of 2 then is never selected again within the
	// window, even though it has no backoff set; B serves the rest.
	assert.Equal(t, 2, callsA)
	assert.Equal(t, 2, callsB)
}

func TestRequest_NoProviderAvailable(t *testing.T) {
	srv := httptest.NewServer(rpcOK("0x1"))
	defer srv.Close()

	p := newTestPool(t, []string{srv.URL}, 1)
	p.cacheTTL = 0

	_, err := p.Request(context.Background(), "eth_blockNumber", 1)
	require.NoError(t, err)

	_, err = p.Request(context.Background(), "eth_blockNumber", 2)
	assert.ErrorIs(t, err, types.ErrNoProviderAvailable)
	assert.Equal(t, 0, p.Available())
}

func TestRequest_WindowResetRestoresBudget(t *testing.T) {
	srv := httptest.NewServer(rpcOK("0x1"))
	defer srv.Close()

	p := newTestPool(t, []string{srv.URL}, 1)
	p.cacheTTL = 0
	now := time.Now()
	p.now = func() time.Time { return now }

	_, err := p.Request(context.Background(), "eth_blockNumber", 1)
	require.NoError(t, err)
	_, err = p.Request(context.Background(), "eth_blockNumber", 2)
	assert.ErrorIs(t, err, types.ErrNoProviderAvailable)

	now = now.Add(61 * time.Second)
	_, err = p.Request(context.Background(), "eth_blockNumber", 3)
	assert.NoError(t, err)
}

func TestRequest_RateLimitedBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := newTestPool(t, []string{srv.URL}, 100)
	now := time.Now()
	p.now = func() time.Time { return now }

	_, err := p.Request(context.Background(), "eth_gasPrice")
	require.Error(t, err)

	// endpoint now in long backoff
	_, err = p.Request(context.Background(), "eth_gasPrice")
	assert.ErrorIs(t, err, types.ErrNoProviderAvailable)

	// still unavailable just before backoff expiry
	now = now.Add(rateLimitBackoff - time.Second)
	assert.Equal(t, 0, p.Available())

	// backoff elapsed and window rolled: eligible again
	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, p.Available())
}

func TestRequest_ConsecutiveErrorsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := newTestPool(t, []string{srv.URL}, 100)
	p.cacheTTL = 0
	now := time.Now()
	p.now = func() time.Time { return now }

	// first two failures leave the endpoint eligible
	for i := 0; i < 2; i++ {
		_, err := p.Request(context.Background(), "eth_gasPrice", i)
		require.Error(t, err)
		assert.NotErrorIs(t, err, types.ErrNoProviderAvailable)
	}
	// third consecutive error trips the short backoff
	_, err := p.Request(context.Background(), "eth_gasPrice", 2)
	require.Error(t, err)
	_, err = p.Request(context.Background(), "eth_gasPrice", 3)
	assert.ErrorIs(t, err, types.ErrNoProviderAvailable)
}

func TestRequest_SuccessResetsConsecutiveErrors(t *testing.T) {
	fail := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		rpcOK("0x1")(w, r)
	}))
	defer srv.Close()

	p := newTestPool(t, []string{srv.URL}, 100)
	p.cacheTTL = 0

	_, _ = p.Request(context.Background(), "eth_gasPrice", 0)
	_, _ = p.Request(context.Background(), "eth_gasPrice", 1)
	fail = false
	_, err := p.Request(context.Background(), "eth_gasPrice", 2)
	require.NoError(t, err)

	fail = true
	// two more failures must not trip the threshold after the reset
	_, _ = p.Request(context.Background(), "eth_gasPrice", 3)
	_, err = p.Request(context.Background(), "eth_gasPrice", 4)
	require.Error(t, err)
	assert.NotErrorIs(t, err, types.ErrNoProviderAvailable)
	assert.Equal(t, 1, p.Available())
}

func TestStatus(t *testing.T) {
	srv := httptest.NewServer(rpcOK("0x1"))
	defer srv.Close()

	p := newTestPool(t, []string{srv.URL}, 10)
	p.cacheTTL = 0
	_, _ = p.Request(context.Background(), "eth_blockNumber", 1)

	st := p.Status()
	require.Len(t, st, 1)
	assert.True(t, st[0].Available)
	assert.Equal(t, 1, st[0].Requests)
	assert.InDelta(t, 10.0, st[0].UsagePct, 0.01)
}
