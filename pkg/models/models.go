package models

import (
	"time"
)

// OTP is a single live one-time code issued against a phone number.
// At most one exists per phone at any time; issuing a new one
// overwrites the previous record.
type OTP struct {
	Phone     string    `json:"phone"`
	Code      string    `json:"code"`
	Attempts  int       `json:"attempts"`
	CreatedAt time.Time `json:"created_at"`
}

// RateCounter tracks OTP requests against a phone within a rolling window.
// The window decision is made on LastRequest, not on the store TTL.
type RateCounter struct {
	Count       int       `json:"count"`
	LastRequest time.Time `json:"last_request"`
}

// Customer is the subset of the commerce platform's customer record
// that the reset flow needs.
type Customer struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	HasAccount bool   `json:"has_account"`
}

// Address is a shipping or billing address on an order.
type Address struct {
	CountryCode string `json:"country_code"`
}

// Region is a commerce region with its member countries.
type Region struct {
	ID        string   `json:"id"`
	Countries []string `json:"countries"`
}

// Cart references a checkout cart owned by the commerce API.
type Cart struct {
	ID          string     `json:"id"`
	Email       string     `json:"email"`
	RegionID    string     `json:"region_id"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Order is the commerce API's order record produced by completing a cart.
type Order struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	CreatedAt       time.Time `json:"created_at"`
	ShippingAddress *Address  `json:"shipping_address"`
	BillingAddress  *Address  `json:"billing_address"`
}
