package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/auth"
	"gatekeeper/internal/model"
	"gatekeeper/internal/tenancy"

	"github.com/gin-gonic/gin"
)

// TokenService is the part of token.Service the auth endpoints use.
type TokenService interface {
	Issue(ctx context.Context, orgID, serviceName string, permissions []string, ttl time.Duration) (string, time.Time, error)
	Verify(token string) (*model.TokenClaims, error)
	IsRevoked(ctx context.Context, token string) (bool, error)
	Revoke(ctx context.Context, token string) error
}

// Recorder counts token lifecycle events.
type Recorder interface {
	TokenIssued()
	TokenRevoked()
}

type TokenRequest struct {
	ServiceName string   `json:"service_name" binding:"required"`
	Permissions []string `json:"permissions" binding:"omitempty,dive,required"`
	ExpiresIn   int      `json:"expires_in" binding:"omitempty,min=1"`
}

type RevokeRequest struct {
	Token string `json:"token" binding:"required"`
}

type Handler struct {
	tokens   TokenService
	gate     *auth.Gate
	logger   *slog.Logger
	recorder Recorder
}

func NewHandler(tokens TokenService, gate *auth.Gate, logger *slog.Logger, recorder Recorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{tokens: tokens, gate: gate, logger: logger.With("component", "api"), recorder: recorder}
}

func (h *Handler) HealthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// IssueTokenHandler serves POST /auth/token for the resolved tenant.
func (h *Handler) IssueTokenHandler(c *gin.Context) {
	var req TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	orgID := tenancy.OrgID(c)
	ttl := time.Duration(req.ExpiresIn) * time.Second
	tok, expiresAt, err := h.tokens.Issue(c.Request.Context(), orgID, req.ServiceName, req.Permissions, ttl)
	if err != nil {
		h.fail(c, "Failed to issue token", err)
		return
	}
	if h.recorder != nil {
		h.recorder.TokenIssued()
	}

	claims, err := h.tokens.Verify(tok)
	if err != nil {
		h.fail(c, "Issued token failed verification", err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"token":           tok,
		"expires_at":      expiresAt.UTC(),
		"organization_id": orgID,
		"permissions":     claims.Permissions,
	})
}

// ValidateHandler serves GET /auth/validate. Unlike the gate, it also
// requires the token to still be present in the revocation index.
func (h *Handler) ValidateHandler(c *gin.Context) {
	raw, claims, err := h.gate.Authenticate(c.GetHeader("Authorization"))
	if err != nil {
		c.JSON(apperr.Status(err), gin.H{"valid": false, "error": apperr.Message(err)})
		return
	}

	revoked, err := h.tokens.IsRevoked(c.Request.Context(), raw)
	if err != nil {
		h.fail(c, "Failed to check token revocation", err)
		return
	}
	if revoked {
		c.JSON(http.StatusUnauthorized, gin.H{"valid": false, "error": "Token not found in store"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"valid":           true,
		"organization_id": claims.OrganizationID,
		"permissions":     claims.Permissions,
		"expires_at":      claims.ExpiresAtTime(),
		"service_name":    claims.ServiceName,
	})
}

// RevokeHandler serves POST /auth/revoke.
func (h *Handler) RevokeHandler(c *gin.Context) {
	var req RevokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	if err := h.tokens.Revoke(c.Request.Context(), req.Token); err != nil {
		h.fail(c, "Failed to revoke token", err)
		return
	}
	if h.recorder != nil {
		h.recorder.TokenRevoked()
	}
	c.JSON(http.StatusOK, gin.H{"message": "Token revoked"})
}

// InfoHandler serves GET /auth/info with the decoded claims of the
// presented token.
func (h *Handler) InfoHandler(c *gin.Context) {
	_, claims, err := h.gate.Authenticate(c.GetHeader("Authorization"))
	if err != nil {
		apperr.Abort(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"organization_id": claims.OrganizationID,
		"service_name":    claims.ServiceName,
		"permissions":     claims.Permissions,
		"issued_at":       claims.IssuedAtTime(),
		"expires_at":      claims.ExpiresAtTime(),
		"issuer":          claims.Issuer,
		"audience":        claims.Audience,
		"jti":             claims.ID,
	})
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		h.logger.Error(msg, "error", err, "path", c.Request.URL.Path)
	}
	apperr.Abort(c, err)
}
