// Package store persists the escrow ledger. All mutations go through Tx,
// obtained from Store.InTx, so every ledger operation is one transaction.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/tradeguard/internal/domain"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("unique constraint conflict")
)

// IsTransient reports whether err is worth retrying with the same
// idempotency key. Constraint violations, scan failures and other bugs are
// not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return pgTransient(err) || sqliteTransient(err)
}

// Store opens transactions against the backing database.
type Store interface {
	// InTx runs fn in a single transaction. A non-nil error from fn rolls
	// the transaction back; otherwise it is committed.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
	Close()
}

// Tx is the set of row operations available inside a transaction. Methods
// taking lock=true hold the row until commit (SELECT ... FOR UPDATE on
// Postgres); callers lock reserves before splits and wallets in id order.
type Tx interface {
	CreateWallet(ctx context.Context, w *domain.Wallet) error
	GetWallet(ctx context.Context, id uuid.UUID, lock bool) (domain.Wallet, error)
	GetWalletByUser(ctx context.Context, userID string, lock bool) (domain.Wallet, error)
	UpdateWallet(ctx context.Context, w *domain.Wallet) error

	AppendTransaction(ctx context.Context, t *domain.WalletTransaction) error
	ListTransactions(ctx context.Context, walletID uuid.UUID, limit int) ([]domain.WalletTransaction, error)

	// LockKey serializes transactions on an arbitrary key until commit.
	LockKey(ctx context.Context, key string) error

	InsertReserve(ctx context.Context, r *domain.Reserve) error
	GetReserve(ctx context.Context, id uuid.UUID, lock bool) (domain.Reserve, error)
	// GetReserveByOrder looks a reserve up by its external id, which is
	// unique per reserve kind.
	GetReserveByOrder(ctx context.Context, kind domain.ReserveKind, orderID string, lock bool) (domain.Reserve, error)
	UpdateReserve(ctx context.Context, r *domain.Reserve) error
	ListExpiredReserves(ctx context.Context, now time.Time, limit int) ([]domain.Reserve, error)

	InsertSplits(ctx context.Context, splits []domain.EscrowSplit) error
	GetSplit(ctx context.Context, id uuid.UUID, lock bool) (domain.EscrowSplit, error)
	ListSplits(ctx context.Context, reserveID uuid.UUID, lock bool) ([]domain.EscrowSplit, error)
	UpdateSplit(ctx context.Context, s *domain.EscrowSplit) error

	InsertRevenue(ctx context.Context, r *domain.PlatformRevenue) error
	ListRevenue(ctx context.Context, reserveID uuid.UUID) ([]domain.PlatformRevenue, error)

	InsertPayout(ctx context.Context, p *domain.Payout) error
	// ListPayouts returns a wallet's payouts oldest first. An empty status
	// matches every status.
	ListPayouts(ctx context.Context, walletID uuid.UUID, status domain.PayoutStatus, lock bool) ([]domain.Payout, error)
	ListWithdrawalPayouts(ctx context.Context, withdrawalID uuid.UUID, lock bool) ([]domain.Payout, error)
	UpdatePayout(ctx context.Context, p *domain.Payout) error

	InsertWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error
	GetWithdrawal(ctx context.Context, id uuid.UUID, lock bool) (domain.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error
	ListWithdrawals(ctx context.Context, status domain.WithdrawalStatus, limit int) ([]domain.WithdrawalRequest, error)

	GetIdempotency(ctx context.Context, scope, key string) (domain.IdempotencyRecord, error)
	PutIdempotency(ctx context.Context, rec *domain.IdempotencyRecord) error
}
