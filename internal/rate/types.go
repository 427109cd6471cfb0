package rate

import "time"

// Window represents an API rate-limit bucket.
type Window int

const (
	Second Window = iota
	Minute
)

func (w Window) String() string {
	switch w {
	case Second:
		return "second"
	case Minute:
		return "minute"
	default:
		return "unknown"
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case Second:
		return time.Second
	default:
		return time.Minute
	}
}

// Headers names the response headers that report remaining budget.
type Headers struct {
	Limit      string
	Remaining  string
	Reset      string
	RetryAfter string
}

// ParticleHeaders returns the header mapping used by the Particle cloud API.
func ParticleHeaders() Headers {
	return Headers{
		Limit:      "X-RateLimit-Limit",
		Remaining:  "X-RateLimit-Remaining",
		Reset:      "X-RateLimit-Reset",
		RetryAfter: "Retry-After",
	}
}

// Declaration defines an API's rate limits and header mapping.
type Declaration struct {
	api         string
	limits      map[Window]int
	budgetFloor int
	cacheTTL    time.Duration
	headers     Headers
}

// API creates a new declaration for the named API.
func API(name string) Declaration {
	return Declaration{api: name}
}

func (d Declaration) Name() string {
	return d.api
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

// BudgetFloor keeps floor requests of the header-reported budget in reserve.
func (d Declaration) BudgetFloor(floor int) Declaration {
	d.budgetFloor = floor
	return d
}

// CacheFor serves identical GET responses from memory for ttl while the
// budget is exhausted.
func (d Declaration) CacheFor(ttl time.Duration) Declaration {
	d.cacheTTL = ttl
	return d
}

func (d Declaration) ReadHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

func (d Declaration) Limits() map[Window]int { return d.limits }

func (d Declaration) CacheTTL() time.Duration { return d.cacheTTL }

func (d Declaration) Headers() Headers { return d.headers }
