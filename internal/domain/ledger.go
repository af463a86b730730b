/**
 * @description
 * This file defines the append-only credit ledger model. Every balance
 * mutation writes exactly one LedgerEntry in the same database transaction,
 * so the sum of deltas for an account always equals its current balance.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Ledger entry reasons. ExternalRef carries the upstream correlation id
// (e.g. a checkout session id) used as the idempotency guard for credits.
const (
	ReasonSignupBonus      = "signup_bonus"
	ReasonUsageGenerate    = "usage:generate"
	ReasonPurchaseCheckout = "purchase:checkout"
	ReasonRefundGenerate   = "refund:generate"
	ReasonAdjustManual     = "adjust:manual"
)

// LedgerEntry is one immutable row of the credit ledger. Delta is negative
// for spends and positive for grants/purchases.
type LedgerEntry struct {
	ID          uuid.UUID `json:"id"`
	AccountID   uuid.UUID `json:"account_id"`
	Delta       int64     `json:"delta"`
	Reason      string    `json:"reason"`
	ExternalRef *string   `json:"ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
