package platform

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind string

const (
	KindAuthExchange    ErrorKind = "auth_exchange"
	KindRefresh         ErrorKind = "refresh"
	KindRateLimit       ErrorKind = "rate_limit"
	KindContentRejected ErrorKind = "content_rejected"
	KindNetwork         ErrorKind = "network"
)

// Error carries the platform's own error text so it is never swallowed
// before it reaches the user.
type Error struct {
	Platform string
	Kind     ErrorKind
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Platform, e.Kind, e.Message)
}

func newError(platformName string, kind ErrorKind, format string, args ...any) *Error {
	return &Error{Platform: platformName, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// statusError classifies a non-2xx publish response by status code.
func statusError(platformName string, status int, body string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return newError(platformName, KindRateLimit, "rate limited (status %d): %s", status, body)
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return newError(platformName, KindContentRejected, "content rejected (status %d): %s", status, body)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return newError(platformName, KindAuthExchange, "unauthorized (status %d): %s", status, body)
	default:
		return newError(platformName, KindNetwork, "unexpected status %d: %s", status, body)
	}
}

// refreshStatusError classifies a failed refresh response. Only an
// active rejection of the credential (401/403) invalidates the stored
// account; anything else keeps its usual classification so a flaky
// upstream never forces a reconnect.
func refreshStatusError(platformName string, status int, body string) *Error {
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		return newError(platformName, KindRefresh, "token refresh rejected (status %d): %s", status, body)
	}
	return statusError(platformName, status, body)
}

// IsKind reports whether err is a platform Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == kind
}
