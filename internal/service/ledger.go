package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

const (
	defaultTxLimit = 50
	maxTxLimit     = 500
)

// posting is one balance mutation on one sub-balance.
type posting struct {
	account domain.Account
	amount  int64
	typ     domain.TxType
	ref     string
}

// ownerInitiated reports whether a posting type moves money at the wallet
// owner's request. Only those are blocked on suspended wallets; escrow
// settlement always completes.
func ownerInitiated(t domain.TxType) bool {
	switch t {
	case domain.TxDeposit, domain.TxTransfer, domain.TxHold, domain.TxPayout:
		return true
	}
	return false
}

// credit and debit are the only balance mutators. w must have been read
// with lock=true in the current transaction.
func (s *Service) credit(ctx context.Context, tx store.Tx, w *domain.Wallet, p posting) error {
	if err := s.checkPosting(w, p); err != nil {
		return err
	}
	w.Credit(p.account, p.amount)
	return s.persistPosting(ctx, tx, w, domain.Credit, p)
}

func (s *Service) debit(ctx context.Context, tx store.Tx, w *domain.Wallet, p posting) error {
	if err := s.checkPosting(w, p); err != nil {
		return err
	}
	if available := w.Balance(p.account); available < p.amount {
		return domain.WithMetadata(domain.CodeInsufficientFunds,
			fmt.Sprintf("insufficient %s balance", p.account),
			map[string]string{
				"account":   string(p.account),
				"available": strconv.FormatInt(available, 10),
				"required":  strconv.FormatInt(p.amount, 10),
			})
	}
	w.Debit(p.account, p.amount)
	return s.persistPosting(ctx, tx, w, domain.Debit, p)
}

func (s *Service) checkPosting(w *domain.Wallet, p posting) error {
	if p.amount <= 0 {
		return domain.Errorf(domain.CodeInvalidArgument, "amount must be positive, got %d", p.amount)
	}
	if !p.account.Valid() {
		return domain.Errorf(domain.CodeInvalidArgument, "unknown account %q", p.account)
	}
	if w.Status == domain.WalletSuspended && ownerInitiated(p.typ) {
		return domain.Errorf(domain.CodeWalletSuspended, "wallet of user %s is suspended", w.UserID)
	}
	return nil
}

func (s *Service) persistPosting(ctx context.Context, tx store.Tx, w *domain.Wallet, dir domain.Direction, p posting) error {
	if !w.Reconciled() {
		return fmt.Errorf("wallet %s fails reconciliation after %s %s", w.ID, dir, p.typ)
	}
	now := s.clock()
	w.UpdatedAt = now
	if err := tx.UpdateWallet(ctx, w); err != nil {
		return fmt.Errorf("wallet update failed: %w", err)
	}
	if err := tx.AppendTransaction(ctx, &domain.WalletTransaction{
		ID:          uuid.New(),
		WalletID:    w.ID,
		Type:        p.typ,
		Account:     p.account,
		Direction:   dir,
		Amount:      p.amount,
		ReferenceID: p.ref,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("transaction append failed: %w", err)
	}
	return nil
}

// lockWallets locks the given wallets in id order and returns them keyed by
// id. Duplicates are locked once.
func lockWallets(ctx context.Context, tx store.Tx, ids ...uuid.UUID) (map[uuid.UUID]*domain.Wallet, error) {
	sorted := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i][:], sorted[j][:]) < 0
	})

	out := make(map[uuid.UUID]*domain.Wallet, len(sorted))
	for _, id := range sorted {
		w, err := tx.GetWallet(ctx, id, true)
		if err != nil {
			return nil, missing(err, "wallet %s not found", id)
		}
		out[id] = &w
	}
	return out, nil
}

func walletByUser(ctx context.Context, tx store.Tx, userID string, lock bool) (domain.Wallet, error) {
	w, err := tx.GetWalletByUser(ctx, userID, lock)
	if err != nil {
		return w, missing(err, "wallet for user %s not found", userID)
	}
	return w, nil
}

func balanceOf(w domain.Wallet) domain.BalanceResponse {
	return domain.BalanceResponse{
		UserID:  w.UserID,
		Trading: w.TradingBalance,
		Savings: w.SavingsBalance,
		Reserve: w.ReserveBalance,
		Total:   w.Total(),
		Status:  w.Status,
	}
}

// OpenWallet returns the user's wallet, creating an empty one on first use.
func (s *Service) OpenWallet(ctx context.Context, actor domain.Actor, req domain.OpenWalletRequest) (domain.Wallet, error) {
	if req.UserID == "" {
		return domain.Wallet{}, domain.Errorf(domain.CodeInvalidArgument, "user_id is required")
	}
	if !actor.CanActFor(req.UserID) {
		return domain.Wallet{}, forbidden(actor)
	}

	var out domain.Wallet
	err := s.run(ctx, "open_wallet", func(tx store.Tx) error {
		if err := tx.LockKey(ctx, "wallet:"+req.UserID); err != nil {
			return err
		}
		w, err := tx.GetWalletByUser(ctx, req.UserID, false)
		if err == nil {
			out = w
			return nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := s.clock()
		out = domain.Wallet{
			ID:        uuid.New(),
			UserID:    req.UserID,
			Status:    domain.WalletActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.CreateWallet(ctx, &out)
	})
	return out, err
}

func (s *Service) GetWalletBalance(ctx context.Context, actor domain.Actor, userID string) (domain.BalanceResponse, error) {
	if !actor.CanActFor(userID) {
		return domain.BalanceResponse{}, forbidden(actor)
	}
	var out domain.BalanceResponse
	err := s.run(ctx, "get_balance", func(tx store.Tx) error {
		w, err := walletByUser(ctx, tx, userID, false)
		if err != nil {
			return err
		}
		out = balanceOf(w)
		return nil
	})
	return out, err
}

// ListTransactions returns the most recent postings on the user's wallet,
// newest first.
func (s *Service) ListTransactions(ctx context.Context, actor domain.Actor, userID string, limit int) ([]domain.WalletTransaction, error) {
	if !actor.CanActFor(userID) {
		return nil, forbidden(actor)
	}
	if limit <= 0 {
		limit = defaultTxLimit
	}
	if limit > maxTxLimit {
		limit = maxTxLimit
	}

	var out []domain.WalletTransaction
	err := s.run(ctx, "list_transactions", func(tx store.Tx) error {
		w, err := walletByUser(ctx, tx, userID, false)
		if err != nil {
			return err
		}
		out, err = tx.ListTransactions(ctx, w.ID, limit)
		return err
	})
	return out, err
}

// SetWalletStatus suspends or reactivates a wallet. Admin only.
func (s *Service) SetWalletStatus(ctx context.Context, actor domain.Actor, req domain.WalletStatusRequest) (domain.BalanceResponse, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.BalanceResponse{}, forbidden(actor)
	}
	if req.Status != domain.WalletActive && req.Status != domain.WalletSuspended {
		return domain.BalanceResponse{}, domain.Errorf(domain.CodeInvalidArgument, "unknown wallet status %q", req.Status)
	}

	var out domain.BalanceResponse
	err := s.run(ctx, "set_wallet_status", func(tx store.Tx) error {
		w, err := walletByUser(ctx, tx, req.UserID, true)
		if err != nil {
			return err
		}
		if w.Status != req.Status {
			w.Status = req.Status
			w.UpdatedAt = s.clock()
			if err := tx.UpdateWallet(ctx, &w); err != nil {
				return err
			}
			s.logger.Info().Str("user_id", w.UserID).Str("status", string(w.Status)).Str("actor", actor.ID).Msg("wallet status changed")
		}
		out = balanceOf(w)
		return nil
	})
	return out, err
}
