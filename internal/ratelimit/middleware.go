package ratelimit

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// OrgFunc extracts an organization id from a request without failing.
type OrgFunc func(r *http.Request) string

// Recorder receives one event per admission decision.
type Recorder interface {
	RateLimitDecision(scope string, allowed bool)
}

type Options struct {
	Limiter  *Limiter
	OrgFn    OrgFunc
	Logger   *slog.Logger
	Recorder Recorder
}

var denyMessages = map[Scope]string{
	ScopeIP:  "Too many requests from this IP, please try again later.",
	ScopeOrg: "Too many requests for this organization, please try again later.",
}

// Middleware rejects requests over either limit with 429. A store failure
// is logged and the request is let through unless a scope evaluated before
// the failure already denied it.
func Middleware(opts Options) gin.HandlerFunc {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "ratelimit")
	denyLog := &rate.Sometimes{First: 10, Interval: 10 * time.Second}

	return func(c *gin.Context) {
		var orgID string
		if opts.OrgFn != nil {
			orgID = opts.OrgFn(c.Request)
		}
		ip := c.ClientIP()

		dec, err := opts.Limiter.Admit(c.Request.Context(), ip, orgID)
		if err != nil {
			if dec.Allowed {
				log.Error("Rate limit store failed, admitting request", "error", err, "ip", ip)
				c.Next()
				return
			}
			log.Error("Rate limit store failed after a denial", "error", err, "ip", ip)
		}
		if opts.Recorder != nil {
			opts.Recorder.RateLimitDecision(string(dec.Scope), dec.Allowed)
		}

		c.Header("X-RateLimit-Limit", strconv.FormatUint(uint64(dec.Limit), 10))
		c.Header("X-RateLimit-Remaining", strconv.FormatUint(uint64(dec.Remaining), 10))

		if !dec.Allowed {
			retryAfter := dec.RetryAfterSeconds()
			denyLog.Do(func() {
				log.Warn("Rate limit exceeded", "scope", dec.Scope, "ip", ip, "org_id", orgID, "retry_after", retryAfter)
			})
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"message":    denyMessages[dec.Scope],
				"retryAfter": retryAfter,
			})
			return
		}

		c.Next()
	}
}
