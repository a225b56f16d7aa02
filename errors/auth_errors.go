// api/errors/auth_errors.go
package errors

import "errors"

var (
	ErrAlreadyExists    = errors.New("rule already exists")
	ErrQueueFull        = errors.New("request queue full")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrStoreUnavailable = errors.New("policy store unavailable")
	ErrEngineReleased   = errors.New("policy engine released")
	ErrTenantNotSet     = errors.New("tenant not set")
	ErrInvalidTenant    = errors.New("invalid tenant")
	ErrInvalidRule      = errors.New("invalid rule data")
	ErrInternalServer   = errors.New("internal server error")
)
