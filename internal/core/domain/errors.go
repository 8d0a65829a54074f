package domain

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// CircularAliasError is returned when chained alias resolution revisits
// a target or exceeds the hop bound.
type CircularAliasError struct {
	Model string
	Path  []string
}

func (e *CircularAliasError) Error() string {
	return fmt.Sprintf("circular alias chain for %q: %s", e.Model, strings.Join(e.Path, " -> "))
}

// ProviderNotConfiguredError is returned when a requested provider is
// absent from the registry.
type ProviderNotConfiguredError struct {
	Provider string
}

func (e *ProviderNotConfiguredError) Error() string {
	return fmt.Sprintf("provider %q not configured", e.Provider)
}

// MissingClientKeyError is returned when a passthrough provider is used
// without a client-supplied key.
type MissingClientKeyError struct {
	Provider string
}

func (e *MissingClientKeyError) Error() string {
	return fmt.Sprintf("provider %q requires a client-supplied api key", e.Provider)
}

// AllKeysExhaustedError is returned when the rotation exclusion set
// covers every configured credential for a provider.
type AllKeysExhaustedError struct {
	Provider string
	KeyCount int
}

func (e *AllKeysExhaustedError) Error() string {
	return fmt.Sprintf("all %d api keys exhausted for provider %q", e.KeyCount, e.Provider)
}

// ConfigurationError is fatal at startup and never raised at request
// time.
type ConfigurationError struct {
	Provider string
	Detail   string
}

func (e *ConfigurationError) Error() string {
	if e.Provider == "" {
		return "configuration error: " + e.Detail
	}
	return fmt.Sprintf("configuration error for provider %q: %s", e.Provider, e.Detail)
}

// Problem implements RFC 9457
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`

	Log error `json:"-"`
}

func (p *Problem) Error() string {
	return fmt.Sprintf("[%d] %s: %s", p.Status, p.Title, p.Detail)
}

func (p *Problem) MarshalJSON() ([]byte, error) {
	type Alias Problem

	data := make(map[string]interface{})

	for k, v := range p.Extensions {
		data[k] = v
	}

	stdJSON, _ := json.Marshal(Alias(*p))
	_ = json.Unmarshal(stdJSON, &data)

	return json.Marshal(data)
}

// NewProblem creates a generic Problem
func NewProblem(status int, title, detail string) *Problem {
	return &Problem{
		Type:       "about:blank", // Default as per RFC
		Title:      title,
		Status:     status,
		Detail:     detail,
		Extensions: make(map[string]interface{}),
	}
}

// ValidationError creates a rich validation error
func ValidationError(validationErrors map[string]string) *Problem {
	p := NewProblem(
		http.StatusBadRequest,
		"Validation Error",
		"One or more fields failed validation",
	)
	p.Extensions["errors"] = validationErrors
	return p
}

// Error defines a standard error shape for the API
type Error struct {
	// HTTP Status Code (e.g., 400, 429, 500)
	Code int
	// Safe message for the client
	Message string
	// Original error for internal logging
	Log error
}

// Error implements standard error interface
func (e *Error) Error() string {
	return e.Message
}

// BadRequestError creates a standard error for a bad request
func BadRequestError(msg string) *Error {
	return &Error{Code: http.StatusBadRequest, Message: msg}
}

// NotFoundError creates a standard 404 error
func NotFoundError(msg string) *Error {
	return &Error{Code: http.StatusNotFound, Message: msg}
}

// UnauthorizedError creates a 401 unauthed error
func UnauthorizedError(msg string) *Error {
	return &Error{Code: http.StatusUnauthorized, Message: msg}
}

// RateLimitError creates standard 429 rate limit error
func RateLimitError(msg string) *Error {
	return &Error{Code: http.StatusTooManyRequests, Message: msg}
}

// ProviderError creates 502 gateway error for upstream failures
func ProviderError(msg string, err error) *Error {
	return &Error{Code: http.StatusBadGateway, Message: msg, Log: err}
}

// InternalError creates a standard error for any internal server error
func InternalError(msg string, err error) *Error {
	return &Error{Code: http.StatusInternalServerError, Message: msg, Log: err}
}
