package core

import "time"

// RateLimitInfo describes the state of one rate-limit window after a decision.
// It maps directly onto the X-RateLimit-* response headers.
type RateLimitInfo struct {
	Window     string        `json:"window" yaml:"window"`
	Limit      int           `json:"limit" yaml:"limit"`
	Remaining  int           `json:"remaining" yaml:"remaining"`
	Reset      time.Time     `json:"reset" yaml:"reset"`
	RetryAfter time.Duration `json:"retry_after" yaml:"retry_after"`
}

// RateLimitWindowStatus is a read-only view of a window used by admin tooling.
type RateLimitWindowStatus struct {
	Window string `json:"window" yaml:"window"`
	Key    string `json:"key" yaml:"key"`
	Limit  int    `json:"limit" yaml:"limit"`
	Count  int    `json:"count" yaml:"count"`
}
