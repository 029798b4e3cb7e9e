package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/tenancy"

	"github.com/gin-gonic/gin"
)

// Upstream forwards admitted requests to the business service.
type Upstream struct {
	reverseProxy *httputil.ReverseProxy
	targetURL    *url.URL
	logger       *slog.Logger
}

type contextKey string

const callerContextKey = contextKey("caller")

type caller struct {
	orgID       string
	serviceName string
}

// New creates an Upstream for target. The request path is appended to the
// target's path.
func New(target string, logger *slog.Logger) (*Upstream, error) {
	targetURL, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if targetURL.Scheme == "" || targetURL.Host == "" {
		return nil, fmt.Errorf("invalid upstream url %q: scheme and host are required", target)
	}
	if logger == nil {
		logger = slog.Default()
	}

	u := &Upstream{
		targetURL: targetURL,
		logger:    logger.With("component", "proxy"),
	}
	u.reverseProxy = &httputil.ReverseProxy{
		Director: u.direct,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrAbortHandler) {
				u.logger.Warn("Client disconnected", "error", err)
				return
			}
			u.logger.Error("Upstream error", "error", err, "path", r.URL.Path)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "Bad gateway"})
		},
	}
	return u, nil
}

func (u *Upstream) direct(req *http.Request) {
	req.URL.Scheme = u.targetURL.Scheme
	req.URL.Host = u.targetURL.Host
	req.Host = u.targetURL.Host
	req.URL.Path = strings.TrimSuffix(u.targetURL.Path, "/") + req.URL.Path
	req.URL.RawPath = ""

	// The upstream trusts these headers; the bearer token stays here.
	req.Header.Del("Authorization")
	if c, ok := req.Context().Value(callerContextKey).(caller); ok {
		req.Header.Set(tenancy.HeaderName, c.orgID)
		req.Header.Set("X-Service-Name", c.serviceName)
	}
}

// Handler dispatches the request with the tenant and service resolved by the
// gatekeeping middlewares.
func (u *Upstream) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		who := caller{orgID: tenancy.OrgID(c)}
		if claims, ok := auth.Claims(c); ok {
			who.serviceName = claims.ServiceName
		}
		ctx, cancel := context.WithCancel(context.WithValue(c.Request.Context(), callerContextKey, who))
		defer cancel()
		u.reverseProxy.ServeHTTP(c.Writer, c.Request.WithContext(ctx))
	}
}

// Unavailable answers every request with 503; used when no upstream is configured.
func Unavailable() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Upstream not configured"})
	}
}
