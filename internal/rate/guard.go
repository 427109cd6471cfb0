package rate

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	API     string
	Reason  string
	RetryAt time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.API, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.API, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	window   time.Duration
	tokens   float64
	last     time.Time
}

type cacheEntry struct {
	status  int
	header  http.Header
	body    []byte
	expires time.Time
}

// Guard enforces rate limits for one API.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu         sync.Mutex
	buckets    map[Window]*bucket
	remaining  int
	resetAt    time.Time
	hasHeaders bool
	cooldown   time.Time
	cache      map[string]cacheEntry
}

func NewGuard(decl Declaration) *Guard {
	g := &Guard{
		decl:    decl,
		now:     time.Now,
		buckets: make(map[Window]*bucket),
		cache:   make(map[string]cacheEntry),
	}
	for window, limit := range decl.Limits() {
		g.buckets[window] = &bucket{
			capacity: limit,
			window:   window.Duration(),
			tokens:   float64(limit),
		}
	}
	return g
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	return NewGuard(decl).Wrap(base)
}

func (g *Guard) Wrap(base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: g}
	return &client
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		blockedTotal.WithLabelValues(rt.guard.decl.Name(), decision.Reason).Inc()
		if cached := rt.guard.cachedResponse(req); cached != nil {
			return cached, nil
		}
		return nil, RateLimitError{
			API:     rt.guard.decl.Name(),
			Reason:  decision.Reason,
			RetryAt: decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}

	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return rt.guard.maybeCacheResponse(req, resp)
}

// ShouldCall consumes budget for one request if any is left.
func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Reason: "cooldown", RetryAt: g.cooldown}
	}

	headerBudget := g.hasHeaders && now.Before(g.resetAt)
	if headerBudget && g.remaining <= g.decl.budgetFloor {
		return Decision{Reason: "budget", RetryAt: g.resetAt}
	}

	for _, b := range g.buckets {
		if b.capacity <= 0 {
			return Decision{Reason: "disabled"}
		}
		b.refill(now)
		if b.tokens < 1 {
			return Decision{Reason: "budget", RetryAt: b.last.Add(b.window / time.Duration(b.capacity))}
		}
	}

	// Budget is only spent once every limit agrees.
	for _, b := range g.buckets {
		b.tokens--
	}
	if headerBudget {
		g.remaining--
	}
	return Decision{Allowed: true}
}

// RecordResponse updates the guard from a response's status and headers.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	api := g.decl.Name()
	now := g.now()
	cfg := g.decl.Headers()
	lastStatusGauge.WithLabelValues(api).Set(float64(status))

	if retryAfter := headerInt(headers, cfg.RetryAfter); retryAfter > 0 {
		g.cooldown = now.Add(time.Duration(retryAfter) * time.Second)
		retryAfterGauge.WithLabelValues(api).Set(float64(retryAfter))
	} else if status == http.StatusTooManyRequests {
		g.cooldown = now.Add(time.Second)
		retryAfterGauge.WithLabelValues(api).Set(1)
	}

	remaining := headerInt(headers, cfg.Remaining)
	if remaining < 0 {
		return
	}
	g.remaining = remaining
	g.hasHeaders = true
	g.resetAt = resetTime(now, headerInt(headers, cfg.Reset))
	remainingGauge.WithLabelValues(api).Set(float64(remaining))
}

func (g *Guard) cachedResponse(req *http.Request) *http.Response {
	if g.decl.CacheTTL() <= 0 || req.Method != http.MethodGet {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	entry, ok := g.cache[cacheKey(req)]
	if !ok || g.now().After(entry.expires) {
		return nil
	}
	return cloneResponse(req, entry.status, entry.header, entry.body)
}

func (g *Guard) maybeCacheResponse(req *http.Request, resp *http.Response) (*http.Response, error) {
	if g.decl.CacheTTL() <= 0 || req.Method != http.MethodGet || resp.StatusCode >= 300 {
		return resp, nil
	}
	buf, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	clone := cloneResponse(req, resp.StatusCode, resp.Header, buf)

	g.mu.Lock()
	g.cache[cacheKey(req)] = cacheEntry{
		status:  resp.StatusCode,
		header:  clone.Header.Clone(),
		body:    buf,
		expires: g.now().Add(g.decl.CacheTTL()),
	}
	g.mu.Unlock()

	return clone, nil
}

func (b *bucket) refill(now time.Time) {
	if b.last.IsZero() {
		b.last = now
	}
	elapsed := now.Sub(b.last).Seconds()
	refillRate := float64(b.capacity) / b.window.Seconds()
	b.tokens = min(float64(b.capacity), b.tokens+elapsed*refillRate)
	b.last = now
}

// resetTime accepts either epoch seconds or seconds from now.
func resetTime(now time.Time, value int) time.Time {
	switch {
	case value <= 0:
		return now.Add(time.Minute)
	case value > 1_000_000_000:
		return time.Unix(int64(value), 0)
	default:
		return now.Add(time.Duration(value) * time.Second)
	}
}

func headerInt(h http.Header, key string) int {
	if key == "" {
		return -1
	}
	val := h.Get(key)
	if val == "" {
		return -1
	}
	out, err := strconv.Atoi(val)
	if err != nil {
		return -1
	}
	return out
}

func cacheKey(req *http.Request) string {
	return req.Method + " " + req.URL.String()
}

func cloneResponse(req *http.Request, status int, header http.Header, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     header.Clone(),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Request:    req,
	}
}
