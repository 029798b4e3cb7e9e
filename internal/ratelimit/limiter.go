package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"gatekeeper/internal/clock"
	"gatekeeper/internal/model"
)

type Scope string

const (
	ScopeIP  Scope = "ip"
	ScopeOrg Scope = "org"
)

// Limits configures both scopes. The organization limit applies only to
// requests that name an organization.
type Limits struct {
	Window time.Duration
	IPMax  uint
	OrgMax uint
}

// DefaultLimits is 100 requests per IP and 1000 per organization every 15 minutes.
var DefaultLimits = Limits{
	Window: 15 * time.Minute,
	IPMax:  100,
	OrgMax: 1000,
}

// Decision is the outcome of one admission check. Scope, Limit and Remaining
// describe the most constrained scope evaluated.
type Decision struct {
	Allowed    bool
	Scope      Scope
	Limit      uint
	Remaining  uint
	RetryAfter time.Duration
}

// RetryAfterSeconds rounds RetryAfter up to whole seconds, never below 1 for
// a denial.
func (d Decision) RetryAfterSeconds() int {
	if d.Allowed {
		return 0
	}
	secs := int(math.Ceil(d.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

type Limiter struct {
	store  Store
	limits Limits
	clock  clock.Clock
}

func NewLimiter(store Store, limits Limits, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Limiter{store: store, limits: limits, clock: clk}
}

func (l *Limiter) Limits() Limits { return l.limits }

// Admit counts the request against the IP scope and, when orgID is not
// empty, the organization scope. Both counters are hit even if the first one
// already denies. On a store error the decision covers the scopes evaluated
// before the failure; a scope that could not be evaluated does not deny.
func (l *Limiter) Admit(ctx context.Context, ip, orgID string) (Decision, error) {
	now := l.clock.Now()

	ipCounter, err := l.store.Hit(ctx, model.IPKey(ip), l.limits.Window, now)
	if err != nil {
		return Decision{Allowed: true}, fmt.Errorf("admit ip %s: %w", ip, err)
	}
	dec := l.evaluate(ScopeIP, l.limits.IPMax, ipCounter, now)

	if orgID == "" {
		return dec, nil
	}

	orgCounter, err := l.store.Hit(ctx, model.OrgKey(orgID), l.limits.Window, now)
	if err != nil {
		return dec, fmt.Errorf("admit org %s: %w", orgID, err)
	}
	orgDec := l.evaluate(ScopeOrg, l.limits.OrgMax, orgCounter, now)

	switch {
	case !dec.Allowed && !orgDec.Allowed:
		if orgDec.RetryAfter > dec.RetryAfter {
			dec.RetryAfter = orgDec.RetryAfter
		}
	case !orgDec.Allowed:
		dec = orgDec
	case dec.Allowed && orgDec.Remaining < dec.Remaining:
		dec = orgDec
	}
	return dec, nil
}

func (l *Limiter) evaluate(scope Scope, max uint, counter model.RateCounter, now time.Time) Decision {
	if counter.Count > max {
		return Decision{
			Allowed:    false,
			Scope:      scope,
			Limit:      max,
			RetryAfter: counter.Remaining(now, l.limits.Window),
		}
	}
	return Decision{
		Allowed:   true,
		Scope:     scope,
		Limit:     max,
		Remaining: max - counter.Count,
	}
}
