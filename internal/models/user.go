package models

import "time"

// User is a wallet account holder, created on first successful login.
// Carrier metadata is populated lazily, at most once; its absence never
// affects authentication.
type User struct {
	UserBucket        int        `db:"user_bucket"`
	UserID            string     `db:"user_id"`
	PhoneNumber       string     `db:"phone_number"`
	CarrierName       string     `db:"carrier_name"`
	CarrierType       string     `db:"carrier_type"`
	CountryCode       string     `db:"country_code"`
	MobileCountryCode string     `db:"mobile_country_code"`
	MobileNetworkCode string     `db:"mobile_network_code"`
	DeviceTokens      []string   `db:"device_tokens"`
	CreatedAt         time.Time  `db:"created_at"`
	LastLogin         *time.Time `db:"last_login"`
}

// HasCarrier reports whether carrier metadata was already fetched, so
// later logins skip the lookup.
func (u *User) HasCarrier() bool {
	return u.CountryCode != "" || u.CarrierName != ""
}
