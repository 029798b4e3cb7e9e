package api

import (
	"log/slog"
	"net/http"
	"strings"

	"gatekeeper/internal/auth"
	"gatekeeper/internal/config"
	"gatekeeper/internal/metrics"
	"gatekeeper/internal/proxy"
	"gatekeeper/internal/ratelimit"
	"gatekeeper/internal/tenancy"

	"github.com/gin-gonic/gin"
)

const permissionContextKey = "gatekeeper.required_permission"

// Dependencies are the collaborators SetupRoutes wires into the pipeline.
// Metrics and Upstream may be nil.
type Dependencies struct {
	Config   *config.Config
	Limiter  *ratelimit.Limiter
	Tokens   TokenService
	Gate     *auth.Gate
	Upstream gin.HandlerFunc
	Metrics  *metrics.Recorder
	Logger   *slog.Logger
}

// SetupRoutes installs the request pipeline on router:
// CORS pre-flight, rate limiting, route match, tenant resolution,
// authorization, dispatch.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	var (
		rateRecorder ratelimit.Recorder
		apiRecorder  Recorder
	)
	if deps.Metrics != nil {
		rateRecorder = deps.Metrics
		apiRecorder = deps.Metrics
	}

	router.Use(CORS(deps.Config.CORS))
	router.Use(ratelimit.Middleware(ratelimit.Options{
		Limiter:  deps.Limiter,
		OrgFn:    tenancy.Peek,
		Logger:   deps.Logger,
		Recorder: rateRecorder,
	}))

	handler := NewHandler(deps.Tokens, deps.Gate, deps.Logger, apiRecorder)

	router.GET("/health", handler.HealthHandler)
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/token", tenancy.Middleware(), handler.IssueTokenHandler)
		authGroup.GET("/validate", handler.ValidateHandler)
		authGroup.POST("/revoke", handler.RevokeHandler)
		authGroup.GET("/info", handler.InfoHandler)
	}

	dispatch := deps.Upstream
	if dispatch == nil {
		dispatch = proxy.Unavailable()
	}
	apiGroup := router.Group("/api")
	apiGroup.Use(RouteGuard(deps.Config.Routes), tenancy.Middleware(), deps.Gate.Require(requiredPermission))
	apiGroup.Any("/*path", dispatch)
}

// RouteGuard picks the rule with the longest matching prefix and records
// the permission the method needs. Paths without a rule get 404.
func RouteGuard(rules []config.RouteRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		rule, ok := matchRule(rules, c.Request.URL.Path)
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "Not found"})
			return
		}
		permission := rule.WritePermission
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead {
			permission = rule.ReadPermission
		}
		c.Set(permissionContextKey, permission)
		c.Next()
	}
}

func matchRule(rules []config.RouteRule, path string) (config.RouteRule, bool) {
	var best config.RouteRule
	found := false
	for _, rule := range rules {
		prefix := strings.TrimSuffix(rule.Prefix, "/")
		if path != prefix && !strings.HasPrefix(path, prefix+"/") {
			continue
		}
		if !found || len(prefix) > len(strings.TrimSuffix(best.Prefix, "/")) {
			best = rule
			found = true
		}
	}
	return best, found
}

func requiredPermission(c *gin.Context) string {
	return c.GetString(permissionContextKey)
}
