// Package agenterr implements the structured error system shared by every
// component of the agentic core: a typed Kind, HTTP-status-derived
// classification, retryability, Retry-After extraction, and user-facing
// message templates. Grounded on original_source/src/my_cli/core/client/errors.py.
package agenterr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the neutral error classification surfaced to callers (spec §6.4).
type Kind string

const (
	KindAuthentication    Kind = "Authentication"
	KindAuthorization     Kind = "Authorization"
	KindQuotaExceeded     Kind = "QuotaExceeded"
	KindModelUnavailable  Kind = "ModelUnavailable"
	KindInvalidRequest    Kind = "InvalidRequest"
	KindServer            Kind = "Server"
	KindNetwork           Kind = "Network"
	KindTimeout           Kind = "Timeout"
	KindTokenLimitExceeded Kind = "TokenLimitExceeded"
	KindFunctionCalling   Kind = "FunctionCalling"
	KindContentFilter     Kind = "ContentFilter"
	KindConfiguration     Kind = "Configuration"
	KindGeneric           Kind = "Generic"
)

// Error is the structured error value threaded through the Retry Engine,
// Provider Adapter, and Turn Engine.
type Error struct {
	KindVal Kind
	Message string
	Status  int            // HTTP status, 0 if not applicable
	Code    string
	Details map[string]any
	Cause   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Status != 0 {
		fmt.Fprintf(&b, " (Status: %d)", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (Code: %s)", e.Code)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// Kind returns the error's classification.
func (e *Error) Kind() Kind { return e.KindVal }

// New constructs an Error of the given kind with details initialized empty.
func New(kind Kind, message string, opts ...Option) *Error {
	e := &Error{KindVal: kind, Message: message, Details: map[string]any{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Option customizes a constructed Error.
type Option func(*Error)

func WithStatus(status int) Option { return func(e *Error) { e.Status = status } }
func WithCode(code string) Option  { return func(e *Error) { e.Code = code } }
func WithCause(cause error) Option { return func(e *Error) { e.Cause = cause } }
func WithDetail(key string, value any) Option {
	return func(e *Error) {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		e.Details[key] = value
	}
}

// Authentication, Authorization, QuotaExceeded, ModelUnavailable, etc. are
// convenience constructors mirroring the Python subclasses in errors.py.

func Authentication(message string, opts ...Option) *Error {
	if message == "" {
		message = "Authentication failed"
	}
	return New(KindAuthentication, message, append([]Option{WithStatus(401), WithCode("AUTHENTICATION_ERROR")}, opts...)...)
}

func Authorization(message string, opts ...Option) *Error {
	if message == "" {
		message = "Authorization failed"
	}
	return New(KindAuthorization, message, append([]Option{WithStatus(403), WithCode("AUTHORIZATION_ERROR")}, opts...)...)
}

func QuotaExceeded(message string, retryAfterSeconds int, opts ...Option) *Error {
	if message == "" {
		message = "API quota exceeded"
	}
	base := []Option{WithStatus(429), WithCode("QUOTA_EXCEEDED")}
	if retryAfterSeconds > 0 {
		base = append(base, WithDetail("retry_after", retryAfterSeconds))
	}
	return New(KindQuotaExceeded, message, append(base, opts...)...)
}

func ModelUnavailable(message, model string, opts ...Option) *Error {
	if message == "" {
		message = "Model unavailable"
	}
	base := []Option{WithStatus(404), WithCode("MODEL_UNAVAILABLE")}
	if model != "" {
		base = append(base, WithDetail("model", model))
	}
	return New(KindModelUnavailable, message, append(base, opts...)...)
}

func InvalidRequest(message string, opts ...Option) *Error {
	if message == "" {
		message = "Invalid request"
	}
	return New(KindInvalidRequest, message, append([]Option{WithStatus(400), WithCode("INVALID_REQUEST")}, opts...)...)
}

func Server(message string, status int, opts ...Option) *Error {
	if message == "" {
		message = "Server error"
	}
	if status == 0 {
		status = 500
	}
	return New(KindServer, message, append([]Option{WithStatus(status), WithCode("SERVER_ERROR")}, opts...)...)
}

func Network(message string, opts ...Option) *Error {
	if message == "" {
		message = "Network error"
	}
	return New(KindNetwork, message, append([]Option{WithCode("NETWORK_ERROR")}, opts...)...)
}

func Timeout(message string, opts ...Option) *Error {
	if message == "" {
		message = "Request timeout"
	}
	return New(KindTimeout, message, append([]Option{WithCode("TIMEOUT_ERROR")}, opts...)...)
}

func TokenLimitExceeded(message string, current, max int, opts ...Option) *Error {
	if message == "" {
		message = "Token limit exceeded"
	}
	base := []Option{WithStatus(400), WithCode("TOKEN_LIMIT_EXCEEDED")}
	if current > 0 {
		base = append(base, WithDetail("current_tokens", current))
	}
	if max > 0 {
		base = append(base, WithDetail("max_tokens", max))
	}
	return New(KindTokenLimitExceeded, message, append(base, opts...)...)
}

func FunctionCalling(message, functionName string, opts ...Option) *Error {
	if message == "" {
		message = "Function calling error"
	}
	base := []Option{WithCode("FUNCTION_CALLING_ERROR")}
	if functionName != "" {
		base = append(base, WithDetail("function_name", functionName))
	}
	return New(KindFunctionCalling, message, append(base, opts...)...)
}

func ContentFilter(message string, opts ...Option) *Error {
	if message == "" {
		message = "Content filtered"
	}
	return New(KindContentFilter, message, append([]Option{WithStatus(400), WithCode("CONTENT_FILTERED")}, opts...)...)
}

func Configuration(message, field string, opts ...Option) *Error {
	if message == "" {
		message = "Configuration error"
	}
	base := []Option{WithCode("CONFIGURATION_ERROR")}
	if field != "" {
		base = append(base, WithDetail("config_field", field))
	}
	return New(KindConfiguration, message, append(base, opts...)...)
}

// Generic wraps an arbitrary error with no specific classification.
func Generic(message string, opts ...Option) *Error {
	return New(KindGeneric, message, opts...)
}

// HTTPStatusError is the interface an HTTP client error may implement so
// Classify can recover a status code without depending on a specific HTTP
// client library.
type HTTPStatusError interface {
	StatusCode() int
}

// Classify turns an arbitrary error into a structured *Error, following
// errors.py's classify_error: an *Error passes through unchanged; otherwise
// status code (if recoverable) then message-content heuristics decide the
// Kind.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return existing
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	status := 0
	if se, ok := err.(HTTPStatusError); ok {
		status = se.StatusCode()
	}

	switch status {
	case 401:
		return Authentication(msg, WithCause(err))
	case 403:
		return Authorization(msg, WithCause(err))
	case 429:
		return QuotaExceeded(msg, 0, WithCause(err))
	case 404:
		return ModelUnavailable(msg, "", WithCause(err))
	case 400:
		if strings.Contains(lower, "token") && strings.Contains(lower, "limit") {
			return TokenLimitExceeded(msg, 0, 0, WithCause(err))
		}
		if strings.Contains(lower, "filter") || strings.Contains(lower, "safety") {
			return ContentFilter(msg, WithCause(err))
		}
		return InvalidRequest(msg, WithCause(err))
	}
	if status >= 500 && status < 600 {
		return Server(msg, status, WithCause(err))
	}

	switch {
	case strings.Contains(lower, "auth") || strings.Contains(lower, "unauthorized"):
		return Authentication(msg, WithCause(err))
	case strings.Contains(lower, "quota") || strings.Contains(lower, "rate limit"):
		return QuotaExceeded(msg, 0, WithCause(err))
	case strings.Contains(lower, "timeout"):
		return Timeout(msg, WithCause(err))
	case strings.Contains(lower, "network") || strings.Contains(lower, "connection"):
		return Network(msg, WithCause(err))
	case strings.Contains(lower, "model") && (strings.Contains(lower, "not found") || strings.Contains(lower, "unavailable")):
		return ModelUnavailable(msg, "", WithCause(err))
	case strings.Contains(lower, "token") && strings.Contains(lower, "limit"):
		return TokenLimitExceeded(msg, 0, 0, WithCause(err))
	case strings.Contains(lower, "function") || strings.Contains(lower, "tool"):
		return FunctionCalling(msg, "", WithCause(err))
	case strings.Contains(lower, "config"):
		return Configuration(msg, "", WithCause(err))
	}

	return Generic(msg, WithCause(err))
}

// IsRetryable reports whether the Retry Engine should attempt this error
// again, per spec §4.2 step 2-3: QuotaExceeded, Server, Network, Timeout
// are retryable, as is any other error whose message mentions
// "temporary", "retry" or "transient" or whose Status is 429 or 5xx;
// everything else is not.
func IsRetryable(err *Error) bool {
	if err == nil {
		return false
	}
	switch err.KindVal {
	case KindQuotaExceeded, KindServer, KindNetwork, KindTimeout:
		return true
	}
	lower := strings.ToLower(err.Message)
	if strings.Contains(lower, "temporary") || strings.Contains(lower, "retry") || strings.Contains(lower, "transient") {
		return true
	}
	if err.Status == 429 || (err.Status >= 500 && err.Status < 600) {
		return true
	}
	return false
}

// RetryDelaySeconds extracts a Retry-After style delay if the error carries
// one in Details["retry_after"]; no other Details key is consulted.
func RetryDelaySeconds(err *Error) (int, bool) {
	if err == nil || err.Details == nil {
		return 0, false
	}
	if v, ok := err.Details["retry_after"]; ok {
		switch n := v.(type) {
		case int:
			return n, true
		case int64:
			return int(n), true
		case float64:
			return int(n), true
		case string:
			if n, convErr := strconv.Atoi(strings.TrimSpace(n)); convErr == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// UserMessage renders a fixed, human-friendly template per error kind,
// ported from errors.py's create_user_friendly_message.
func UserMessage(err *Error) string {
	if err == nil {
		return ""
	}
	switch err.KindVal {
	case KindAuthentication:
		if authType, _ := err.Details["auth_type"].(string); strings.Contains(strings.ToLower(authType), "api_key") {
			return "Authentication failed. Please check your API key."
		}
		return "Authentication failed. Please check your credentials."
	case KindAuthorization:
		return "You don't have permission to access this resource. Please check your account permissions."
	case KindQuotaExceeded:
		if retryAfter, ok := RetryDelaySeconds(err); ok {
			return fmt.Sprintf("API quota exceeded. Please try again in %d seconds.", retryAfter)
		}
		return "API quota exceeded. Please try again later or check your quota limits."
	case KindModelUnavailable:
		if model, _ := err.Details["model"].(string); model != "" {
			return fmt.Sprintf("The model '%s' is not available. Please try a different model.", model)
		}
		return "The requested model is not available. Please try a different model."
	case KindTokenLimitExceeded:
		return "The request contains too many tokens. Please try with a shorter prompt or reduce the conversation history."
	case KindNetwork:
		return "Network error occurred. Please check your internet connection and try again."
	case KindTimeout:
		return "The request timed out. Please try again."
	case KindContentFilter:
		return "Content was filtered by safety systems. Please modify your request and try again."
	case KindServer:
		return "A server error occurred. Please try again later."
	default:
		return fmt.Sprintf("An error occurred: %s", err.Message)
	}
}
