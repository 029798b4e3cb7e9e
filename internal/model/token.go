package model

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims is the payload of a service bearer token.
type TokenClaims struct {
	OrganizationID string   `json:"organization_id"`
	ServiceName    string   `json:"service_name"`
	Permissions    []string `json:"permissions"`
	jwt.RegisteredClaims
}

// IssuedAtTime returns the iat claim in UTC, or the zero time.
func (c *TokenClaims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time.UTC()
}

// ExpiresAtTime returns the exp claim in UTC, or the zero time.
func (c *TokenClaims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time.UTC()
}

// TokenRecord is the server-side shadow of an issued token. Its presence in
// the revocation index means the token has not been revoked.
type TokenRecord struct {
	ID             uint      `gorm:"primarykey" json:"-"`
	TokenHash      string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"token_hash"`
	Token          string    `gorm:"-" json:"-"`
	OrganizationID string    `gorm:"type:varchar(255);index;not null" json:"organization_id"`
	ServiceName    string    `gorm:"type:varchar(255);not null" json:"service_name"`
	Permissions    []string  `gorm:"serializer:json" json:"permissions"`
	IssuedAt       time.Time `json:"issued_at"`
	ExpiresAt      time.Time `gorm:"index" json:"expires_at"`
}

// NewTokenRecord builds the record for a freshly signed token.
func NewTokenRecord(token string, claims *TokenClaims) TokenRecord {
	return TokenRecord{
		TokenHash:      HashToken(token),
		Token:          token,
		OrganizationID: claims.OrganizationID,
		ServiceName:    claims.ServiceName,
		Permissions:    claims.Permissions,
		IssuedAt:       claims.IssuedAtTime(),
		ExpiresAt:      claims.ExpiresAtTime(),
	}
}

// HashToken returns the index key for a raw token string.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
