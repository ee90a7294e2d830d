package kv

import "errors"

// Errors returned by the shared store client. Callers in the traffic-control
// layer treat every one of them as a backing-store failure.
var (
	ErrNotFound                = errors.New("key not found")
	ErrEmptyConnectionURL      = errors.New("empty redis connection URL")
	ErrFailedToParseConnString = errors.New("failed to parse redis connection string")
	ErrNotReady                = errors.New("redis did not become ready within the given time period")
	ErrHealthcheckFailed       = errors.New("redis healthcheck failed")
)
