package rate

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fixedClock(start time.Time) (func() time.Time, func(time.Duration)) {
	now := start
	return func() time.Time { return now }, func(d time.Duration) { now = now.Add(d) }
}

func TestGuardBucketRefills(t *testing.T) {
	g := NewGuard(API("test").MaxRequestsPer(Second, 2))
	clock, advance := fixedClock(time.Unix(1_700_000_000, 0))
	g.now = clock

	for i := 0; i < 2; i++ {
		if d := g.ShouldCall(); !d.Allowed {
			t.Fatalf("call %d blocked: %s", i, d.Reason)
		}
	}
	if d := g.ShouldCall(); d.Allowed || d.Reason != "budget" {
		t.Fatalf("expected budget block, got %+v", d)
	}

	advance(600 * time.Millisecond)
	if d := g.ShouldCall(); !d.Allowed {
		t.Fatalf("expected refill after 600ms, got %+v", d)
	}
}

func TestGuardRetryAfterCooldown(t *testing.T) {
	g := NewGuard(API("test").ReadHeaders(ParticleHeaders()))
	clock, advance := fixedClock(time.Unix(1_700_000_000, 0))
	g.now = clock

	header := http.Header{}
	header.Set("Retry-After", "5")
	g.RecordResponse(http.StatusTooManyRequests, header)

	d := g.ShouldCall()
	if d.Allowed || d.Reason != "cooldown" {
		t.Fatalf("expected cooldown, got %+v", d)
	}
	if !d.RetryAt.Equal(clock().Add(5 * time.Second)) {
		t.Fatalf("unexpected retry at %s", d.RetryAt)
	}

	advance(6 * time.Second)
	if d := g.ShouldCall(); !d.Allowed {
		t.Fatalf("expected call allowed after cooldown, got %+v", d)
	}
}

func TestGuardHeaderBudget(t *testing.T) {
	g := NewGuard(API("test").ReadHeaders(ParticleHeaders()).BudgetFloor(1))
	clock, advance := fixedClock(time.Unix(1_700_000_000, 0))
	g.now = clock

	header := http.Header{}
	header.Set("X-RateLimit-Remaining", "2")
	header.Set("X-RateLimit-Reset", "30")
	g.RecordResponse(http.StatusOK, header)

	if d := g.ShouldCall(); !d.Allowed {
		t.Fatalf("expected first call allowed, got %+v", d)
	}
	d := g.ShouldCall()
	if d.Allowed || d.Reason != "budget" {
		t.Fatalf("expected budget floor block, got %+v", d)
	}

	advance(31 * time.Second)
	if d := g.ShouldCall(); !d.Allowed {
		t.Fatalf("expected call allowed after reset, got %+v", d)
	}
}

func TestWrapHTTPServesCacheWhenBlocked(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = io.WriteString(w, `[{"id":"abc"}]`)
	}))
	defer server.Close()

	guard := NewGuard(API("test").MaxRequestsPer(Minute, 1).CacheFor(time.Minute))
	client := guard.Wrap(nil)

	for i := 0; i < 2; i++ {
		resp, err := client.Get(server.URL + "/v1/devices")
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != `[{"id":"abc"}]` {
			t.Fatalf("unexpected body %q", body)
		}
	}
	if hits != 1 {
		t.Fatalf("expected 1 upstream hit, got %d", hits)
	}

	_, err := client.Post(server.URL+"/v1/devices", "application/json", nil)
	var rateErr RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rateErr.API != "test" {
		t.Fatalf("unexpected api %q", rateErr.API)
	}
}

func TestGuardBucketDenialKeepsHeaderBudget(t *testing.T) {
	g := NewGuard(API("test").MaxRequestsPer(Minute, 1).ReadHeaders(ParticleHeaders()))
	clock, _ := fixedClock(time.Unix(1_700_000_000, 0))
	g.now = clock

	header := http.Header{}
	header.Set("X-RateLimit-Remaining", "5")
	header.Set("X-RateLimit-Reset", "60")
	g.RecordResponse(http.StatusOK, header)

	if d := g.ShouldCall(); !d.Allowed {
		t.Fatalf("expected first call allowed, got %+v", d)
	}
	for i := 1; i < 4; i++ {
		if d := g.ShouldCall(); d.Allowed {
			t.Fatalf("call %d: expected bucket block", i)
		}
	}
	if g.remaining != 4 {
		t.Fatalf("blocked calls spent header budget: remaining %d", g.remaining)
	}
}

type failingBody struct {
	closed bool
}

func (b *failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func (b *failingBody) Close() error {
	b.closed = true
	return nil
}

type stubTransport struct {
	body *failingBody
}

func (s stubTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: s.body, Request: req}, nil
}

func TestWrapHTTPClosesBodyOnReadError(t *testing.T) {
	body := &failingBody{}
	guard := NewGuard(API("test").CacheFor(time.Minute))
	client := guard.Wrap(&http.Client{Transport: stubTransport{body: body}})

	if _, err := client.Get("http://particle.invalid/v1/devices"); err == nil {
		t.Fatalf("expected read error")
	}
	if !body.closed {
		t.Fatalf("response body was not closed")
	}
}
