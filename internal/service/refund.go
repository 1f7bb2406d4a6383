package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

// RefundReserve returns escrowed funds to the buyer. Order reserves refund
// in full; boosts refund the unused time less the cancellation retention.
// Refunding an already refunded reserve returns the stored outcome.
//
// Buyers may cancel boosts and order reserves that have not been split yet;
// anything later needs a service or admin actor.
func (s *Service) RefundReserve(ctx context.Context, actor domain.Actor, req domain.RefundReserveRequest) (domain.RefundReserveResponse, error) {
	var out domain.RefundReserveResponse
	var refundedNow bool
	var kind domain.ReserveKind
	err := s.run(ctx, "refund_reserve", func(tx store.Tx) error {
		r, err := tx.GetReserve(ctx, req.ReserveID, true)
		if err != nil {
			return missing(err, "reserve %s not found", req.ReserveID)
		}
		kind = r.Kind
		if r.Status == domain.ReserveRefunded {
			out = refundResponse(r)
			return nil
		}

		if !actor.Privileged() {
			ok, err := isBuyer(ctx, tx, actor, r)
			if err != nil {
				return err
			}
			if !ok {
				return forbidden(actor)
			}
			if r.Kind == domain.ReserveOrder {
				splits, err := tx.ListSplits(ctx, r.ID, false)
				if err != nil {
					return err
				}
				if len(splits) > 0 {
					return forbidden(actor)
				}
			}
		}

		out, err = s.refundLocked(ctx, tx, &r, req.Reason, s.clock())
		refundedNow = err == nil
		return err
	})
	if err == nil && refundedNow {
		refundedAmount.WithLabelValues(string(kind)).Add(float64(out.RefundedAmount))
	}
	return out, err
}

// refundLocked refunds a locked, non-terminal reserve. It fails once any
// split has been released.
func (s *Service) refundLocked(ctx context.Context, tx store.Tx, r *domain.Reserve, reason string, now time.Time) (domain.RefundReserveResponse, error) {
	if r.Status == domain.ReserveReleased {
		return domain.RefundReserveResponse{}, invalidTransition("reserve %s has been released", r.ID)
	}
	splits, err := tx.ListSplits(ctx, r.ID, true)
	if err != nil {
		return domain.RefundReserveResponse{}, err
	}
	for _, sp := range splits {
		if sp.Status == domain.SplitReleased {
			return domain.RefundReserveResponse{}, invalidTransition("split %s of reserve %s has already been released", sp.ID, r.ID)
		}
	}

	wallets, err := lockWallets(ctx, tx, r.BuyerWalletID)
	if err != nil {
		return domain.RefundReserveResponse{}, err
	}
	buyer := wallets[r.BuyerWalletID]

	outstanding := r.Outstanding()
	refund, retained := s.settings.Refunds.RefundAmount(*r, now)
	ref := r.ID.String()

	if outstanding > 0 {
		if err := s.debit(ctx, tx, buyer, posting{account: domain.AccountReserve, amount: outstanding, typ: domain.TxRefund, ref: ref}); err != nil {
			return domain.RefundReserveResponse{}, err
		}
	}
	if refund > 0 {
		if err := s.credit(ctx, tx, buyer, posting{account: domain.AccountTrading, amount: refund, typ: domain.TxRefund, ref: ref}); err != nil {
			return domain.RefundReserveResponse{}, err
		}
	}
	if retained > 0 {
		if err := tx.InsertRevenue(ctx, &domain.PlatformRevenue{
			ID:        uuid.New(),
			ReserveID: r.ID,
			Kind:      domain.RevenueCancellationFee,
			Amount:    retained,
			CreatedAt: now,
		}); err != nil {
			return domain.RefundReserveResponse{}, fmt.Errorf("revenue insert failed: %w", err)
		}
	}

	r.RefundedAmount = refund
	r.Status = domain.ReserveRefunded
	r.UpdatedAt = now
	if err := tx.UpdateReserve(ctx, r); err != nil {
		return domain.RefundReserveResponse{}, err
	}

	s.logger.Info().
		Str("reserve_id", r.ID.String()).
		Str("kind", string(r.Kind)).
		Int64("refunded", refund).
		Int64("retained", retained).
		Str("reason", reason).
		Msg("reserve refunded")
	return domain.RefundReserveResponse{
		ReserveID:      r.ID,
		Status:         r.Status,
		RefundedAmount: refund,
		RetainedAmount: retained,
	}, nil
}

func refundResponse(r domain.Reserve) domain.RefundReserveResponse {
	return domain.RefundReserveResponse{
		ReserveID:      r.ID,
		Status:         r.Status,
		RefundedAmount: r.RefundedAmount,
		RetainedAmount: r.Amount - r.RefundedAmount - r.ReleasedAmount,
	}
}
