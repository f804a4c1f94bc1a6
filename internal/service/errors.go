package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidPhone rejects input that is not a full E.164 number.
var ErrInvalidPhone = errors.New("phone number must be in E.164 format")

// IPBlacklistedError denies a request from a blocked IP or a blocked
// network type. Handlers map it to 403.
type IPBlacklistedError struct {
	IP     string
	Reason string
}

func (e *IPBlacklistedError) Error() string {
	return fmt.Sprintf("ip %s is blocked: %s", e.IP, e.Reason)
}

// TooManyRequestsError denies a request that overran a rate limit.
// Handlers map it to 429 with a Retry-After header.
type TooManyRequestsError struct {
	RetryAfter time.Duration
}

func (e *TooManyRequestsError) Error() string {
	return fmt.Sprintf("too many requests, retry in %s", e.RetryAfter)
}
