package resilience

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"

	oai "github.com/openai/openai-go"
)

// Class is the outcome of classifying a provider error.
type Class int

const (
	// ClassFatal errors abort the fallback chain: bad credentials, malformed
	// requests, missing permissions, or anything unrecognised.
	ClassFatal Class = iota

	// ClassRecoverable errors move on to the next model in the chain.
	ClassRecoverable
)

func (c Class) String() string {
	if c == ClassRecoverable {
		return "recoverable"
	}
	return "fatal"
}

// Substring tables used when an error carries no structured status. These are
// brittle by nature: provider wording changes silently break them, so the
// structured checks in Classify always run first.
var (
	fatalMarkers = []string{
		"authentication",
		"invalid_api_key",
		"invalid api key",
		"unauthorized",
		"permission_denied",
		"permission denied",
		"forbidden",
		"malformed",
	}
	recoverableMarkers = []string{
		"quota",
		"rate limit",
		"rate_limit",
		"ratelimit",
		"too many requests",
		"model not found",
		"model_not_found",
		"not found",
		"service unavailable",
		"service_unavailable",
		"unavailable",
		"overloaded",
		"capacity",
		"timeout",
		"timed out",
	}
)

// Classify decides whether err justifies trying the next model.
//
// Order: circuit-open and deadline errors, then the HTTP status of an
// *openai.Error, then net.Error timeouts, then case-insensitive substring
// matching on the error text.
func Classify(err error) Class {
	if err == nil {
		return ClassFatal
	}
	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, context.DeadlineExceeded) {
		return ClassRecoverable
	}
	if errors.Is(err, context.Canceled) {
		return ClassFatal
	}

	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		if c, ok := classifyStatus(apiErr.StatusCode); ok {
			return c
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRecoverable
	}

	return classifyText(err.Error())
}

// IsRecoverable reports whether Classify(err) is ClassRecoverable.
func IsRecoverable(err error) bool {
	return Classify(err) == ClassRecoverable
}

func classifyStatus(code int) (Class, bool) {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusNotFound,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return ClassRecoverable, true
	case http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusBadRequest,
		http.StatusUnprocessableEntity:
		return ClassFatal, true
	}
	return ClassFatal, false
}

func classifyText(msg string) Class {
	lower := strings.ToLower(msg)
	for _, m := range fatalMarkers {
		if strings.Contains(lower, m) {
			return ClassFatal
		}
	}
	for _, m := range recoverableMarkers {
		if strings.Contains(lower, m) {
			return ClassRecoverable
		}
	}
	return ClassFatal
}
