// Package tenancy resolves the organization a request acts for. There is no
// default tenant: a tenant-scoped request without an organization id is
// rejected before it reaches any data.
package tenancy

import (
	"net/http"
	"strings"

	"gatekeeper/internal/apperr"

	"github.com/gin-gonic/gin"
)

const (
	HeaderName = "x-org-id"
	QueryParam = "orgId"

	// ContextKey holds the resolved organization id in the gin context.
	ContextKey = "gatekeeper.org_id"
)

// Peek returns the organization id named by the request, header first then
// query parameter, or "" when there is none.
func Peek(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(HeaderName)); v != "" {
		return v
	}
	return strings.TrimSpace(r.URL.Query().Get(QueryParam))
}

// Resolve returns the request's organization id or apperr.ErrMissingOrganization.
func Resolve(r *http.Request) (string, error) {
	orgID := Peek(r)
	if orgID == "" {
		return "", apperr.ErrMissingOrganization
	}
	return orgID, nil
}

// Middleware rejects requests without an organization id with 400 and
// stores the id for downstream handlers.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := Resolve(c.Request)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":    apperr.Message(err),
				"required": "x-org-id header or orgId query parameter",
			})
			return
		}
		c.Set(ContextKey, orgID)
		c.Next()
	}
}

// OrgID returns the organization id stored by Middleware, or the one set by
// the authorization gate when it overrides it from token claims.
func OrgID(c *gin.Context) string {
	return c.GetString(ContextKey)
}

// SetOrgID replaces the organization id for downstream handlers.
func SetOrgID(c *gin.Context, orgID string) {
	c.Set(ContextKey, orgID)
}
