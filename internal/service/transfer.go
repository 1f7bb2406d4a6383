package service

import (
	"context"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

// Deposit credits the trading balance after an external top-up. The
// gateway side of the top-up is stubbed; reference is its receipt.
func (s *Service) Deposit(ctx context.Context, actor domain.Actor, req domain.DepositRequest, idempotencyKey string) (domain.BalanceResponse, error) {
	if !actor.CanActFor(req.UserID) {
		return domain.BalanceResponse{}, forbidden(actor)
	}
	if req.Amount <= 0 {
		return domain.BalanceResponse{}, domain.Errorf(domain.CodeInvalidArgument, "amount must be positive, got %d", req.Amount)
	}

	var out domain.BalanceResponse
	err := s.run(ctx, "deposit", func(tx store.Tx) error {
		var err error
		out, err = idempotent(ctx, tx, "deposit:"+req.UserID, idempotencyKey, req, s.clock(), func() (domain.BalanceResponse, error) {
			w, err := walletByUser(ctx, tx, req.UserID, true)
			if err != nil {
				return domain.BalanceResponse{}, err
			}
			if err := s.credit(ctx, tx, &w, posting{
				account: domain.AccountTrading,
				amount:  req.Amount,
				typ:     domain.TxDeposit,
				ref:     req.Reference,
			}); err != nil {
				return domain.BalanceResponse{}, err
			}
			return balanceOf(w), nil
		})
		return err
	})
	return out, err
}

// TransferInternal moves funds between the trading and savings balances
// of one wallet as a debit/credit pair.
func (s *Service) TransferInternal(ctx context.Context, actor domain.Actor, req domain.TransferRequest, idempotencyKey string) (domain.BalanceResponse, error) {
	if !actor.CanActFor(req.UserID) {
		return domain.BalanceResponse{}, forbidden(actor)
	}
	if req.From == req.To {
		return domain.BalanceResponse{}, domain.Errorf(domain.CodeSameAccount, "cannot transfer from %s to itself", req.From)
	}
	if !transferable(req.From) || !transferable(req.To) {
		return domain.BalanceResponse{}, domain.Errorf(domain.CodeInvalidArgument, "transfers are limited to trading and savings")
	}
	if req.Amount <= 0 {
		return domain.BalanceResponse{}, domain.Errorf(domain.CodeInvalidArgument, "amount must be positive, got %d", req.Amount)
	}

	var out domain.BalanceResponse
	err := s.run(ctx, "transfer", func(tx store.Tx) error {
		var err error
		out, err = idempotent(ctx, tx, "transfer:"+req.UserID, idempotencyKey, req, s.clock(), func() (domain.BalanceResponse, error) {
			w, err := walletByUser(ctx, tx, req.UserID, true)
			if err != nil {
				return domain.BalanceResponse{}, err
			}
			ref := "transfer:" + string(req.From) + "->" + string(req.To)
			if err := s.debit(ctx, tx, &w, posting{account: req.From, amount: req.Amount, typ: domain.TxTransfer, ref: ref}); err != nil {
				return domain.BalanceResponse{}, err
			}
			if err := s.credit(ctx, tx, &w, posting{account: req.To, amount: req.Amount, typ: domain.TxTransfer, ref: ref}); err != nil {
				return domain.BalanceResponse{}, err
			}
			return balanceOf(w), nil
		})
		return err
	})
	return out, err
}

// The reserve sub-balance is only moved by holds, releases and refunds.
func transferable(a domain.Account) bool {
	return a == domain.AccountTrading || a == domain.AccountSavings
}
