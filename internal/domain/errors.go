package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized          = errors.New("unauthorized")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrModelNotFound         = errors.New("model not found")
	ErrProviderNotConfigured = errors.New("provider not configured")
	ErrNoProviders           = errors.New("no credentialed provider available")
	ErrProjectNotFound       = errors.New("project not found")
	ErrAccountNotFound       = errors.New("account not found")
	ErrCircuitBreakerOpen    = errors.New("circuit breaker open")
	ErrDuplicateUsageEvent   = errors.New("usage event already recorded")
)

// ProviderError is returned when a provider answers with a non-2xx status.
type ProviderError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s error: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

// NotConfiguredError names the provider whose credential is missing.
type NotConfiguredError struct {
	Provider Provider
}

func (e *NotConfiguredError) Error() string {
	return fmt.Sprintf("provider %s not configured", e.Provider)
}

func (e *NotConfiguredError) Unwrap() error {
	return ErrProviderNotConfigured
}
