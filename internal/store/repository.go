/**
 * @description
 * This file defines the Repository interface consumed by the application
 * service, along with the sentinel errors the data layer can surface.
 * Keeping the interface here lets the service layer be tested against an
 * in-memory fake while the PostgreSQL implementation lives alongside it.
 */
package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/themutherfvcker/credit-service/internal/domain"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
)

// Repository defines the database operations the credit-service needs.
type Repository interface {
	// EnsureAccount provisions the account bound to identityKey, granting
	// initialGrant credits exactly once. Safe under concurrent first contact:
	// all callers observe the same single account and signup ledger entry.
	EnsureAccount(ctx context.Context, identityKey string, initialGrant int64) (*domain.Account, error)

	FindAccountByIdentity(ctx context.Context, identityKey string) (*domain.Account, error)
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByPaymentCustomerID(ctx context.Context, customerID string) (*domain.Account, error)

	// SetPaymentCustomerID attaches the payment provider's customer record to
	// an account. The reference is written at most once; later calls with a
	// different id are ignored.
	SetPaymentCustomerID(ctx context.Context, accountID uuid.UUID, customerID string) error
	UpdatePlan(ctx context.Context, accountID uuid.UUID, plan string) error

	// Debit atomically spends amount credits, failing with
	// ErrInsufficientCredits when the balance cannot cover it. An optional
	// idempotency key makes retries of a timed-out debit safe: a replay is a
	// no-op returning the current balance with replayed set, so callers can
	// tell a fresh charge from a repeat.
	Debit(ctx context.Context, accountID uuid.UUID, amount int64, reason string, idempotencyKey *string) (balance int64, replayed bool, err error)

	// Credit atomically grants amount credits. When externalRef is set and a
	// ledger entry with the same (account, ref, reason) already exists the
	// call is a no-op returning the unchanged balance, so at-least-once
	// webhook delivery never double-credits.
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason string, externalRef *string) (int64, error)

	// HasLedgerEntry reports whether an entry with the exact
	// (externalRef, reason) pair exists on the account.
	HasLedgerEntry(ctx context.Context, accountID uuid.UUID, externalRef, reason string) (bool, error)

	// ListLedgerEntries returns up to limit entries, most recent first.
	ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerEntry, error)
}
