/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. All balance mutations run inside a single transaction that
 * pairs the guarded accounts update with the ledger append, so the
 * balance-never-negative and balance-equals-ledger-sum invariants hold at
 * every committed state.
 *
 * Expected schema (bootstrapped idempotently at startup):
 *   accounts(id, balance, plan, payment_customer_id, created_at, updated_at)
 *   account_identities(identity_key PK, account_id)
 *   credit_ledger(id, account_id, delta, reason, external_ref, created_at)
 *     with a partial unique index on (account_id, external_ref, reason)
 *     where external_ref IS NOT NULL.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/themutherfvcker/credit-service/internal/domain"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const accountColumns = `id, balance, plan, payment_customer_id, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var account domain.Account
	err := row.Scan(
		&account.ID,
		&account.Balance,
		&account.Plan,
		&account.PaymentCustomerID,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindAccountByIdentity resolves an account through the identity mapping table.
func (r *PostgresRepository) FindAccountByIdentity(ctx context.Context, identityKey string) (*domain.Account, error) {
	query := `
		SELECT a.id, a.balance, a.plan, a.payment_customer_id, a.created_at, a.updated_at
		FROM accounts a
		JOIN account_identities ai ON ai.account_id = a.id
		WHERE ai.identity_key = $1
	`
	return scanAccount(r.db.QueryRow(ctx, query, identityKey))
}

// FindAccountByID retrieves an account by its primary key.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, accountID))
}

// FindAccountByPaymentCustomerID retrieves the account holding a payment customer reference.
func (r *PostgresRepository) FindAccountByPaymentCustomerID(ctx context.Context, customerID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE payment_customer_id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, customerID))
}

// EnsureAccount provisions the account for an identity key, exactly once.
// The identity row's primary key is the arbiter under concurrent first
// contact: the loser of the ON CONFLICT race rolls its account back and
// reads the winner's row.
func (r *PostgresRepository) EnsureAccount(ctx context.Context, identityKey string, initialGrant int64) (*domain.Account, error) {
	identityKey = strings.TrimSpace(identityKey)
	if identityKey == "" {
		return nil, errors.New("identity key cannot be empty")
	}
	if initialGrant < 0 {
		return nil, errors.New("initial grant cannot be negative")
	}

	if account, err := r.FindAccountByIdentity(ctx, identityKey); err == nil {
		return account, nil
	} else if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	accountID := uuid.New()
	createQuery := `
		INSERT INTO accounts (id, balance, plan)
		VALUES ($1, $2, $3)
		RETURNING ` + accountColumns
	account, err := scanAccount(tx.QueryRow(ctx, createQuery, accountID, initialGrant, domain.PlanFree))
	if err != nil {
		return nil, err
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO account_identities (identity_key, account_id)
		VALUES ($1, $2)
		ON CONFLICT (identity_key) DO NOTHING`,
		identityKey, accountID)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		// A concurrent first contact won the race. Discard our account and
		// return the one already bound to the identity.
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			return nil, rbErr
		}
		return r.FindAccountByIdentity(ctx, identityKey)
	}

	if initialGrant > 0 {
		_, err = tx.Exec(ctx, `
			INSERT INTO credit_ledger (id, account_id, delta, reason)
			VALUES ($1, $2, $3, $4)`,
			uuid.New(), accountID, initialGrant, domain.ReasonSignupBonus)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

// Debit spends credits inside one transaction: a conditional decrement
// guarded on sufficient balance, then the ledger append. The guard and the
// decrement are the same statement, so no interleaving of concurrent debits
// can drive the balance below zero.
func (r *PostgresRepository) Debit(ctx context.Context, accountID uuid.UUID, amount int64, reason string, idempotencyKey *string) (int64, bool, error) {
	if amount <= 0 {
		return 0, false, errors.New("debit amount must be positive")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance - $1, updated_at = NOW()
		WHERE id = $2 AND balance >= $1
		RETURNING balance`,
		amount, accountID).Scan(&balance)
	if err != nil {
		if err != pgx.ErrNoRows {
			return 0, false, err
		}
		// Zero rows means either the account does not exist or it cannot
		// cover the amount. Fail closed on the former so identity bugs
		// surface instead of silently minting accounts.
		var exists bool
		if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); checkErr != nil {
			return 0, false, checkErr
		}
		if !exists {
			return 0, false, ErrAccountNotFound
		}
		return 0, false, ErrInsufficientCredits
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_ledger (id, account_id, delta, reason, external_ref)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), accountID, -amount, reason, idempotencyKey)
	if err != nil {
		if isUniqueViolation(err) {
			// Retried debit: the first attempt already committed. Roll the
			// decrement back and report the balance as it stands.
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return 0, false, rbErr
			}
			current, balErr := r.currentBalance(ctx, accountID)
			if balErr != nil {
				return 0, false, balErr
			}
			return current, true, nil
		}
		return 0, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, false, err
	}
	return balance, false, nil
}

// Credit grants credits inside one transaction. The ledger append runs
// first: a unique violation on (account, ref, reason) identifies a webhook
// replay, which is treated as a successful no-op.
func (r *PostgresRepository) Credit(ctx context.Context, accountID uuid.UUID, amount int64, reason string, externalRef *string) (int64, error) {
	if amount <= 0 {
		return 0, errors.New("credit amount must be positive")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO credit_ledger (id, account_id, delta, reason, external_ref)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), accountID, amount, reason, externalRef)
	if err != nil {
		if isUniqueViolation(err) {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				return 0, rbErr
			}
			return r.currentBalance(ctx, accountID)
		}
		if isForeignKeyViolation(err) {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}

	var balance int64
	err = tx.QueryRow(ctx, `
		UPDATE accounts
		SET balance = balance + $1, updated_at = NOW()
		WHERE id = $2
		RETURNING balance`,
		amount, accountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}

// SetPaymentCustomerID writes the payment customer reference at most once.
func (r *PostgresRepository) SetPaymentCustomerID(ctx context.Context, accountID uuid.UUID, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return errors.New("payment customer id cannot be empty")
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts
		SET payment_customer_id = $1, updated_at = NOW()
		WHERE id = $2 AND (payment_customer_id IS NULL OR payment_customer_id = $1)`,
		customerID, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Either the account is missing or a different customer reference is
		// already on file; the first write wins in both readings.
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAccountNotFound
		}
	}
	return nil
}

// UpdatePlan sets the informational plan tag on an account.
func (r *PostgresRepository) UpdatePlan(ctx context.Context, accountID uuid.UUID, plan string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE accounts SET plan = $1, updated_at = NOW() WHERE id = $2`,
		plan, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// HasLedgerEntry reports whether a ledger row with the exact reference and
// reason exists on the account.
func (r *PostgresRepository) HasLedgerEntry(ctx context.Context, accountID uuid.UUID, externalRef, reason string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credit_ledger
			WHERE account_id = $1 AND external_ref = $2 AND reason = $3
		)`,
		accountID, externalRef, reason).Scan(&exists)
	return exists, err
}

// ListLedgerEntries returns a bounded, most-recent-first page of the ledger.
func (r *PostgresRepository) ListLedgerEntries(ctx context.Context, accountID uuid.UUID, limit int) ([]domain.LedgerEntry, error) {
	limit = clampHistoryLimit(limit)

	rows, err := r.db.Query(ctx, `
		SELECT id, account_id, delta, reason, external_ref, created_at
		FROM credit_ledger
		WHERE account_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		var entry domain.LedgerEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.AccountID,
			&entry.Delta,
			&entry.Reason,
			&entry.ExternalRef,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *PostgresRepository) currentBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
