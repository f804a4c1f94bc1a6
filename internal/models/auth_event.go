package models

import "time"

// Auth event types emitted by the login front door.
const (
	EventCodeRequested     = "code_requested"
	EventSMSDispatchFailed = "sms_dispatch_failed"
	EventIPBlocked         = "ip_blocked"
	EventRateLimited       = "rate_limited"
	EventLoginFailed       = "login_failed"
	EventLoginSuccess      = "login_success"
)

// AuthEvent is the security/audit record fanned out to the event stream
// and the analytics sinks. Emission is best-effort and must never block
// or fail an authentication flow.
type AuthEvent struct {
	EventBucket int       `db:"event_bucket" json:"event_bucket"`
	EventDate   string    `db:"event_date" json:"event_date"`
	EventTime   time.Time `db:"event_time" json:"event_time"`
	EventType   string    `db:"event_type" json:"event_type"`
	PhoneNumber string    `db:"phone_number" json:"phone_number"`
	IPAddress   string    `db:"ip_address" json:"ip_address"`
	UserID      string    `db:"user_id" json:"user_id,omitempty"`
	Details     string    `db:"details" json:"details,omitempty"`
}
