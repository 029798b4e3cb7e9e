package auth

import (
	"log/slog"
	"strings"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/model"
	"gatekeeper/internal/tenancy"
	"gatekeeper/internal/token"

	"github.com/gin-gonic/gin"
)

const (
	claimsContextKey = "gatekeeper.claims"
	tokenContextKey  = "gatekeeper.token"
)

// Verifier checks a raw bearer token.
type Verifier interface {
	Verify(token string) (*model.TokenClaims, error)
}

// Recorder receives the kind of every rejected authorization.
type Recorder interface {
	AuthFailure(kind string)
}

// Gate authenticates bearer tokens and checks their permission scope.
type Gate struct {
	verifier Verifier
	logger   *slog.Logger
	recorder Recorder
}

func NewGate(verifier Verifier, logger *slog.Logger, recorder Recorder) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{verifier: verifier, logger: logger.With("component", "auth"), recorder: recorder}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	parts := strings.Split(strings.TrimSpace(header), " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", apperr.ErrMissingCredential
	}
	return parts[1], nil
}

// Authenticate parses the Authorization header and verifies the token. It
// returns the raw token alongside its claims.
func (g *Gate) Authenticate(header string) (string, *model.TokenClaims, error) {
	raw, err := BearerToken(header)
	if err != nil {
		return "", nil, err
	}
	claims, err := g.verifier.Verify(raw)
	if err != nil {
		return "", nil, err
	}
	return raw, claims, nil
}

// Authorize reports whether claims satisfy required. An empty requirement
// accepts any valid token.
func Authorize(claims *model.TokenClaims, required string) error {
	if required == "" {
		if claims == nil {
			return apperr.ErrInvalidToken
		}
		return nil
	}
	if !token.HasPermission(claims, required) {
		return apperr.ErrInsufficientPermission
	}
	return nil
}

// RequirePermission admits requests whose token grants required.
func (g *Gate) RequirePermission(required string) gin.HandlerFunc {
	return g.Require(func(*gin.Context) string { return required })
}

// Require admits requests whose token grants the permission returned by
// permissionFn. The organization id in the context is replaced with the one
// from the token, whatever the client sent.
func (g *Gate) Require(permissionFn func(c *gin.Context) string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, claims, err := g.Authenticate(c.GetHeader("Authorization"))
		if err == nil {
			err = Authorize(claims, permissionFn(c))
		}
		if err != nil {
			g.reject(c, err)
			return
		}

		if supplied := tenancy.OrgID(c); supplied != "" && supplied != claims.OrganizationID {
			g.logger.Debug("Tenant header overridden by token", "supplied", supplied, "organization_id", claims.OrganizationID)
		}
		tenancy.SetOrgID(c, claims.OrganizationID)
		c.Set(claimsContextKey, claims)
		c.Set(tokenContextKey, raw)
		c.Next()
	}
}

func (g *Gate) reject(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	if g.recorder != nil {
		g.recorder.AuthFailure(kind.String())
	}
	g.logger.Debug("Request rejected", "kind", kind.String(), "path", c.Request.URL.Path)
	apperr.Abort(c, err)
}

// Claims returns the verified claims stored by the gate.
func Claims(c *gin.Context) (*model.TokenClaims, bool) {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*model.TokenClaims)
	return claims, ok
}

// Token returns the raw bearer token stored by the gate.
func Token(c *gin.Context) string {
	return c.GetString(tokenContextKey)
}
