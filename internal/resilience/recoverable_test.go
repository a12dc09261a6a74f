package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	oai "github.com/openai/openai-go"
)

// apiError builds an SDK error complete enough for its Error method.
func apiError(code int) *oai.Error {
	return &oai.Error{
		StatusCode: code,
		Request:    httptest.NewRequest(http.MethodPost, "https://api.mistral.ai/v1/chat/completions", nil),
		Response:   &http.Response{StatusCode: code},
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassFatal},
		{"quota", errors.New("quota_exceeded"), ClassRecoverable},
		{"insufficient quota", errors.New("Insufficient_Quota for org"), ClassRecoverable},
		{"rate limit", errors.New("Rate Limit reached"), ClassRecoverable},
		{"model not found", errors.New("model_not_found: mistral-medium"), ClassRecoverable},
		{"unavailable", errors.New("Service Unavailable"), ClassRecoverable},
		{"timeout text", errors.New("request timeout"), ClassRecoverable},
		{"authentication", errors.New("authentication_failed"), ClassFatal},
		{"invalid key", errors.New("invalid_api_key provided"), ClassFatal},
		{"permission", errors.New("permission_denied"), ClassFatal},
		{"malformed", errors.New("malformed_request"), ClassFatal},
		{"unknown", errors.New("something odd"), ClassFatal},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), ClassRecoverable},
		{"canceled", context.Canceled, ClassFatal},
		{"circuit open", fmt.Errorf("m: %w", ErrCircuitOpen), ClassRecoverable},
		{"net timeout", fmt.Errorf("post: %w", timeoutErr{}), ClassRecoverable},
		{"api 429", fmt.Errorf("openai: %w", apiError(http.StatusTooManyRequests)), ClassRecoverable},
		{"api 503", apiError(http.StatusServiceUnavailable), ClassRecoverable},
		{"api 401", apiError(http.StatusUnauthorized), ClassFatal},
		{"api 400", apiError(http.StatusBadRequest), ClassFatal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsRecoverable(t *testing.T) {
	t.Parallel()
	if !IsRecoverable(errors.New("rate limit")) {
		t.Error("rate limit should be recoverable")
	}
	if IsRecoverable(errors.New("authentication_failed")) {
		t.Error("authentication failure should not be recoverable")
	}
}
