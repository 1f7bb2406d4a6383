package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

// HoldReserve moves amount from the buyer's trading balance into escrow for
// one order. Repeating the same hold while it is still held returns the
// existing reserve without a second debit.
func (s *Service) HoldReserve(ctx context.Context, actor domain.Actor, req domain.HoldReserveRequest) (domain.Reserve, error) {
	if req.OrderID == "" {
		return domain.Reserve{}, domain.Errorf(domain.CodeInvalidArgument, "order_id is required")
	}
	return s.hold(ctx, actor, "hold_reserve", domain.ReserveOrder, req.OrderID, req.BuyerID, req.Amount, s.settings.HoldTTL)
}

// HoldBoost holds a fee-for-time boost. Cancelling early refunds the unused
// time less the cancellation retention.
func (s *Service) HoldBoost(ctx context.Context, actor domain.Actor, req domain.HoldBoostRequest) (domain.Reserve, error) {
	if req.BoostID == "" {
		return domain.Reserve{}, domain.Errorf(domain.CodeInvalidArgument, "boost_id is required")
	}
	if req.DurationSeconds <= 0 {
		return domain.Reserve{}, domain.Errorf(domain.CodeInvalidArgument, "duration_seconds must be positive")
	}
	return s.hold(ctx, actor, "hold_boost", domain.ReserveBoost, req.BoostID, req.BuyerID, req.Amount,
		time.Duration(req.DurationSeconds)*time.Second)
}

func (s *Service) hold(ctx context.Context, actor domain.Actor, op string, kind domain.ReserveKind, orderID, buyerID string, amount int64, ttl time.Duration) (domain.Reserve, error) {
	if !actor.CanActFor(buyerID) {
		return domain.Reserve{}, forbidden(actor)
	}
	if amount <= 0 {
		return domain.Reserve{}, domain.Errorf(domain.CodeInvalidArgument, "amount must be positive, got %d", amount)
	}

	var out domain.Reserve
	err := s.run(ctx, op, func(tx store.Tx) error {
		if err := tx.LockKey(ctx, "reserve:"+string(kind)+":"+orderID); err != nil {
			return err
		}
		existing, err := tx.GetReserveByOrder(ctx, kind, orderID, true)
		switch {
		case err == nil:
			buyer, err := walletByUser(ctx, tx, buyerID, false)
			if err != nil {
				return err
			}
			if existing.Status == domain.ReserveHeld &&
				existing.BuyerWalletID == buyer.ID && existing.Amount == amount {
				out = existing
				return nil
			}
			return domain.WithMetadata(domain.CodeDuplicateReserve,
				"a reserve already exists for order "+orderID,
				map[string]string{
					"reserve_id": existing.ID.String(),
					"status":     string(existing.Status),
				})
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		buyer, err := walletByUser(ctx, tx, buyerID, true)
		if err != nil {
			return err
		}

		now := s.clock()
		r := domain.Reserve{
			ID:            uuid.New(),
			OrderID:       orderID,
			Kind:          kind,
			BuyerWalletID: buyer.ID,
			Amount:        amount,
			Status:        domain.ReserveHeld,
			CreatedAt:     now,
			ExpiresAt:     now.Add(ttl),
			UpdatedAt:     now,
		}

		ref := r.ID.String()
		if err := s.debit(ctx, tx, &buyer, posting{account: domain.AccountTrading, amount: amount, typ: domain.TxHold, ref: ref}); err != nil {
			return err
		}
		if err := s.credit(ctx, tx, &buyer, posting{account: domain.AccountReserve, amount: amount, typ: domain.TxHold, ref: ref}); err != nil {
			return err
		}
		if err := tx.InsertReserve(ctx, &r); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return domain.Errorf(domain.CodeDuplicateReserve, "a reserve already exists for order %s", orderID)
			}
			return err
		}
		out = r
		s.logger.Info().
			Str("reserve_id", r.ID.String()).
			Str("order_id", orderID).
			Str("kind", string(kind)).
			Int64("amount", amount).
			Msg("funds held in escrow")
		return nil
	})
	return out, err
}

// GetReserve returns a reserve and its splits. Visible to the buyer, any
// payee of the reserve and privileged actors.
func (s *Service) GetReserve(ctx context.Context, actor domain.Actor, reserveID uuid.UUID) (domain.ReserveDetail, error) {
	var out domain.ReserveDetail
	err := s.run(ctx, "get_reserve", func(tx store.Tx) error {
		r, err := tx.GetReserve(ctx, reserveID, false)
		if err != nil {
			return missing(err, "reserve %s not found", reserveID)
		}
		splits, err := tx.ListSplits(ctx, reserveID, false)
		if err != nil {
			return err
		}
		if !actor.Privileged() {
			ok, err := participates(ctx, tx, actor, r, splits)
			if err != nil {
				return err
			}
			if !ok {
				return forbidden(actor)
			}
		}
		out = domain.ReserveDetail{Reserve: r, Splits: splits}
		return nil
	})
	return out, err
}

// participates reports whether actor is the buyer or a payee of r.
func participates(ctx context.Context, tx store.Tx, actor domain.Actor, r domain.Reserve, splits []domain.EscrowSplit) (bool, error) {
	ok, err := isBuyer(ctx, tx, actor, r)
	if err != nil || ok {
		return ok, err
	}
	for _, sp := range splits {
		w, err := tx.GetWallet(ctx, sp.PayeeWalletID, false)
		if err != nil {
			return false, missing(err, "wallet %s not found", sp.PayeeWalletID)
		}
		if w.UserID == actor.ID {
			return true, nil
		}
	}
	return false, nil
}

func isBuyer(ctx context.Context, tx store.Tx, actor domain.Actor, r domain.Reserve) (bool, error) {
	buyer, err := tx.GetWallet(ctx, r.BuyerWalletID, false)
	if err != nil {
		return false, missing(err, "wallet %s not found", r.BuyerWalletID)
	}
	return actor.ID != "" && buyer.UserID == actor.ID, nil
}

func amountMetadata(expected, actual int64) map[string]string {
	return map[string]string{
		"expected": strconv.FormatInt(expected, 10),
		"actual":   strconv.FormatInt(actual, 10),
	}
}
