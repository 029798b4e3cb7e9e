// Package token issues and checks the signed bearer tokens services present
// to gatekeeper.
//
// Verification is two-tier. Verify checks only the token itself (signature,
// issuer, audience, expiry). IsRevoked consults the revocation index and is
// called explicitly where revocation matters.
package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"gatekeeper/internal/apperr"
	"gatekeeper/internal/clock"
	"gatekeeper/internal/model"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Wildcard grants every permission.
const Wildcard = "*"

var DefaultPermissions = []string{"automations:run", "messages:send"}

const DefaultTTL = time.Hour

type Config struct {
	Secret             []byte
	Issuer             string
	Audience           string
	DefaultTTL         time.Duration
	MaxTTL             time.Duration
	DefaultPermissions []string
}

type Service struct {
	cfg    Config
	index  RevocationIndex
	clock  clock.Clock
	logger *slog.Logger
}

func NewService(cfg Config, index RevocationIndex, clk clock.Clock, logger *slog.Logger) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token signing secret is empty")
	}
	if index == nil {
		return nil, errors.New("token revocation index is nil")
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultTTL
	}
	if len(cfg.DefaultPermissions) == 0 {
		cfg.DefaultPermissions = DefaultPermissions
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:    cfg,
		index:  index,
		clock:  clk,
		logger: logger.With("component", "token"),
	}, nil
}

// Issue signs a token for serviceName in organization orgID. Nil or empty
// permissions and a zero ttl take the configured defaults.
func (s *Service) Issue(ctx context.Context, orgID, serviceName string, permissions []string, ttl time.Duration) (string, time.Time, error) {
	if orgID == "" {
		return "", time.Time{}, apperr.ErrMissingOrganization
	}
	if serviceName == "" {
		return "", time.Time{}, apperr.New(apperr.KindBadRequest, "service_name is required")
	}
	if ttl < 0 {
		return "", time.Time{}, apperr.New(apperr.KindBadRequest, "expires_in must be positive")
	}
	if ttl == 0 {
		ttl = s.cfg.DefaultTTL
	}
	if s.cfg.MaxTTL > 0 && ttl > s.cfg.MaxTTL {
		return "", time.Time{}, apperr.New(apperr.KindBadRequest, fmt.Sprintf("expires_in must not exceed %d seconds", int(s.cfg.MaxTTL.Seconds())))
	}
	if len(permissions) == 0 {
		permissions = s.cfg.DefaultPermissions
	}

	// Claims carry whole seconds, so the returned expiry matches exp exactly.
	now := s.clock.Now().Truncate(time.Second)
	expiresAt := now.Add(ttl)
	claims := &model.TokenClaims{
		OrganizationID: orgID,
		ServiceName:    serviceName,
		Permissions:    slices.Clone(permissions),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.cfg.Issuer,
			Subject:   serviceName,
			Audience:  jwt.ClaimStrings{s.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	if err := s.index.Save(ctx, model.NewTokenRecord(signed, claims)); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store token record: %w", err)
	}

	s.logger.Info("Token issued", "organization_id", orgID, "service_name", serviceName, "jti", claims.ID, "expires_at", expiresAt)
	return signed, expiresAt, nil
}

// Verify checks the token's signature, issuer, audience and expiry. It does
// not consult the revocation index. Every failure is apperr.ErrInvalidToken.
func (s *Service) Verify(token string) (*model.TokenClaims, error) {
	claims := &model.TokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.cfg.Secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithAudience(s.cfg.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		s.logger.Debug("Token rejected", "error", err)
		return nil, apperr.ErrInvalidToken
	}
	if !parsed.Valid || claims.OrganizationID == "" || claims.ServiceName == "" {
		s.logger.Debug("Token rejected", "error", "missing organization or service claim")
		return nil, apperr.ErrInvalidToken
	}
	return claims, nil
}

// IsRevoked reports whether the token has no record in the revocation index.
func (s *Service) IsRevoked(ctx context.Context, token string) (bool, error) {
	exists, err := s.index.Exists(ctx, token)
	if err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return !exists, nil
}

// Revoke removes the token's record. Unknown or already revoked tokens yield
// apperr.ErrTokenNotFound.
func (s *Service) Revoke(ctx context.Context, token string) error {
	if err := s.index.Delete(ctx, token); err != nil {
		if apperr.KindOf(err) == apperr.KindTokenNotFound {
			return err
		}
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	s.logger.Info("Token revoked")
	return nil
}

// HasPermission reports whether claims grant required, directly or through
// the wildcard.
func HasPermission(claims *model.TokenClaims, required string) bool {
	if claims == nil {
		return false
	}
	for _, p := range claims.Permissions {
		if p == required || p == Wildcard {
			return true
		}
	}
	return false
}
