package models

import "time"

// PhoneCode is one issued verification code. Rows are history, not a
// mutable slot: several codes may be live for a phone at once, and
// validity is decided by CreatedAt at login time, never by a flag.
// Provider fields are filled in once by the asynchronous delivery
// callback and untouched otherwise.
type PhoneCode struct {
	PhoneNumber       string    `db:"phone_number"`
	Code              string    `db:"code"`
	CreatedAt         time.Time `db:"created_at"`
	SmsProvider       string    `db:"sms_provider"`
	ProviderMessageID string    `db:"provider_message_id"`
	ProviderStatus    string    `db:"provider_status"`
}
