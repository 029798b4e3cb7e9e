// Package apperr defines the error kinds a gated request can be rejected with
// and how each kind is surfaced over HTTP.
package apperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindMissingOrganization
	KindRateLimitExceeded
	KindMissingCredential
	KindInvalidToken
	KindInsufficientPermission
	KindTokenNotFound
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindMissingOrganization:
		return "MissingOrganization"
	case KindRateLimitExceeded:
		return "RateLimitExceeded"
	case KindMissingCredential:
		return "MissingCredential"
	case KindInvalidToken:
		return "InvalidToken"
	case KindInsufficientPermission:
		return "InsufficientPermission"
	case KindTokenNotFound:
		return "TokenNotFound"
	default:
		return "Internal"
	}
}

// Status maps a kind to the HTTP status the client sees.
func (k Kind) Status() int {
	switch k {
	case KindBadRequest, KindMissingOrganization:
		return http.StatusBadRequest
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindMissingCredential, KindInvalidToken:
		return http.StatusUnauthorized
	case KindInsufficientPermission:
		return http.StatusForbidden
	case KindTokenNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Message is safe to show to the caller.
type Error struct {
	Kind    Kind
	Message string
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrMissingOrganization    = New(KindMissingOrganization, "Missing organization ID")
	ErrRateLimitExceeded      = New(KindRateLimitExceeded, "Rate limit exceeded")
	ErrMissingCredential      = New(KindMissingCredential, "Missing or malformed bearer token")
	ErrInvalidToken           = New(KindInvalidToken, "Invalid token")
	ErrInsufficientPermission = New(KindInsufficientPermission, "Insufficient permissions")
	ErrTokenNotFound          = New(KindTokenNotFound, "Token not found")
)

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Status returns the HTTP status for err.
func Status(err error) int {
	return KindOf(err).Status()
}

// Message returns the caller-facing message for err. Unclassified errors
// never leak their text.
func Message(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}

// Abort stops the gin chain and writes err as {"error": message}.
func Abort(c *gin.Context, err error) {
	c.AbortWithStatusJSON(Status(err), gin.H{"error": Message(err)})
}
