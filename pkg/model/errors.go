package model

import "errors"

var (
	// ErrInvalidPolicy is returned for malformed or non-monotonic threshold configuration.
	ErrInvalidPolicy = errors.New("invalid policy")

	// ErrInvalidRequest marks malformed operation arguments other than usage amounts.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidUsage is returned when a report would leave usage negative or non-finite.
	ErrInvalidUsage = errors.New("invalid usage")

	// ErrPolicyNotFound means the tenant has no policy and no default is configured.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrTenantRequired is returned when an operation is called with an empty tenant id.
	ErrTenantRequired = errors.New("tenant id required")
)
