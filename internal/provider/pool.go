package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/you/flash-arb/internal/config"
	"github.com/you/flash-arb/internal/types"
	"go.uber.org/zap"
)

const (
	rateLimitBackoff = 60 * time.Second
	errorBackoff     = 30 * time.Second
	maxConsecutive   = 3
)

// Endpoint is one upstream JSON-RPC provider with its own rate budget.
// Created once at startup, mutated on every attempt, never destroyed.
type Endpoint struct {
	Name        string
	URL         string
	MaxRequests int
	Window      time.Duration

	requests     int
	lastReset    time.Time
	available    bool
	consecErrors int
	backoffUntil time.Time
}

// EndpointStatus is a read-only snapshot for the status stream.
type EndpointStatus struct {
	Name         string
	Available    bool
	Requests     int
	MaxRequests  int
	UsagePct     float64
	BackoffUntil time.Time
}

type cacheEntry struct {
	value      json.RawMessage
	capturedAt time.Time
}

// Pool routes JSON-RPC requests across endpoints with transparent failover
// and response caching. Not safe for concurrent use; the scan loop is the
// single caller.
type Pool struct {
	endpoints []*Endpoint
	current   int

	cache    map[string]cacheEntry
	cacheTTL time.Duration

	httpc *http.Client
	log   *zap.Logger
	now   func() time.Time
}

func NewPool(cfg *config.Config, log *zap.Logger) *Pool {
	eps := make([]*Endpoint, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		window := time.Duration(p.WindowMs) * time.Millisecond
		if window == 0 {
			window = time.Minute
		}
		maxReq := p.MaxRequests
		if maxReq == 0 {
			maxReq = 60
		}
		eps = append(eps, &Endpoint{
			Name:        p.Name,
			URL:         p.URL,
			MaxRequests: maxReq,
			Window:      window,
			lastReset:   time.Now(),
			available:   true,
		})
	}
	return &Pool{
		endpoints: eps,
		cache:     make(map[string]cacheEntry, 64),
		cacheTTL:  cfg.RPCCacheTTL(),
		httpc:     &http.Client{Timeout: 5 * time.Second},
		log:       log,
		now:       time.Now,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// resetCounters restores budgets whose window has elapsed. Checked lazily
// on every selection, independent of request activity.
func (p *Pool) resetCounters() {
	now := p.now()
	for _, ep := range p.endpoints {
		if now.Sub(ep.lastReset) > ep.Window {
			ep.requests = 0
			ep.lastReset = now
			if ep.backoffUntil.Before(now) {
				ep.available = true
				ep.consecErrors = 0
			}
		}
	}
}

func (ep *Endpoint) eligible(now time.Time) bool {
	return ep.available && ep.requests < ep.MaxRequests && now.After(ep.backoffUntil)
}

// pick prefers the last-used endpoint while its budget lasts, then scans
// all endpoints in configured order.
func (p *Pool) pick() *Endpoint {
	p.resetCounters()
	now := p.now()

	if cur := p.endpoints[p.current]; cur.eligible(now) {
		return cur
	}
	for i, ep := range p.endpoints {
		if ep.eligible(now) {
			p.current = i
			return ep
		}
	}
	return nil
}

func cacheKey(method string, params []any) string {
	b, _ := json.Marshal(params)
	return method + "-" + string(b)
}

// Request performs one logical JSON-RPC call: cache, endpoint selection,
// budget accounting and backoff on failure.
func (p *Pool) Request(ctx context.Context, method string, params ...any) (json.RawMessage, error) {
	key := cacheKey(method, params)
	if ce, ok := p.cache[key]; ok && p.now().Sub(ce.capturedAt) < p.cacheTTL {
		return ce.value, nil
	}

	ep := p.pick()
	if ep == nil {
		return nil, types.ErrNoProviderAvailable
	}

	result, err := p.do(ctx, ep, method, params)
	if err != nil {
		ep.consecErrors++
		if isRateLimited(err) {
			p.log.Warn("provider rate limited", zap.String("provider", ep.Name))
			ep.available = false
			ep.backoffUntil = p.now().Add(rateLimitBackoff)
		} else if ep.consecErrors >= maxConsecutive {
			p.log.Warn("provider disabled after consecutive errors",
				zap.String("provider", ep.Name),
				zap.Int("errors", ep.consecErrors))
			ep.available = false
			ep.backoffUntil = p.now().Add(errorBackoff)
		}
		return nil, err
	}

	ep.requests++
	ep.consecErrors = 0
	p.cache[key] = cacheEntry{value: result, capturedAt: p.now()}
	return result, nil
}

func (p *Pool) do(ctx context.Context, ep *Endpoint, method string, params []any) (json.RawMessage, error) {
	if params == nil {
		params = []any{}
	}
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ep.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: too many requests", ep.Name)
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: http %d: %s", ep.Name, resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", ep.Name, err)
	}
	if rr.Error != nil {
		return nil, fmt.Errorf("%s: %w", ep.Name, rr.Error)
	}
	return rr.Result, nil
}

func isRateLimited(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit")
}

// Available reports how many endpoints could serve a request right now.
func (p *Pool) Available() int {
	p.resetCounters()
	now := p.now()
	n := 0
	for _, ep := range p.endpoints {
		if ep.eligible(now) {
			n++
		}
	}
	return n
}

func (p *Pool) Status() []EndpointStatus {
	p.resetCounters()
	now := p.now()
	out := make([]EndpointStatus, 0, len(p.endpoints))
	for _, ep := range p.endpoints {
		st := EndpointStatus{
			Name:        ep.Name,
			Available:   ep.eligible(now),
			Requests:    ep.requests,
			MaxRequests: ep.MaxRequests,
			UsagePct:    float64(ep.requests) / float64(ep.MaxRequests) * 100,
		}
		if ep.backoffUntil.After(now) {
			st.BackoffUntil = ep.backoffUntil
		}
		out = append(out, st)
	}
	return out
}
