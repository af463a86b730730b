/**
 * @description
 * This file defines the core domain models for the credit-service.
 * It includes the Account struct that maps to the accounts table and the
 * plan tags an account can carry.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Plan tags. The plan is informational: it never gates a debit on its own,
// entitlements are always expressed as credits in the ledger.
const (
	PlanFree = "free"
	PlanPro  = "pro-monthly"
)

// Account represents a credit-holding account. Balance is the only mutable
// field in normal operation and must never be persisted below zero.
type Account struct {
	ID                uuid.UUID `json:"id"`
	Balance           int64     `json:"balance"`
	Plan              string    `json:"plan"`
	PaymentCustomerID *string   `json:"payment_customer_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// IsSubscriber reports whether the account is on a paid recurring plan.
func (a *Account) IsSubscriber() bool {
	return a != nil && a.Plan == PlanPro
}
