package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

// RaiseDispute freezes a whole order reserve: the reserve and every held
// split become disputed and no release is possible until an admin resolves
// it. Raising it again returns the current state.
func (s *Service) RaiseDispute(ctx context.Context, actor domain.Actor, reserveID uuid.UUID, req domain.DisputeRequest) (domain.ReserveDetail, error) {
	if req.Reason == "" {
		return domain.ReserveDetail{}, domain.Errorf(domain.CodeInvalidArgument, "reason is required")
	}

	var out domain.ReserveDetail
	err := s.run(ctx, "raise_dispute", func(tx store.Tx) error {
		r, err := tx.GetReserve(ctx, reserveID, true)
		if err != nil {
			return missing(err, "reserve %s not found", reserveID)
		}
		splits, err := tx.ListSplits(ctx, r.ID, true)
		if err != nil {
			return err
		}
		if err := s.authorizeParticipant(ctx, tx, actor, r, splits); err != nil {
			return err
		}
		if r.Kind != domain.ReserveOrder {
			return invalidTransition("reserve %s is a %s reserve and cannot be disputed", r.ID, r.Kind)
		}
		if r.Status.Terminal() {
			return invalidTransition("reserve %s is already %s", r.ID, r.Status)
		}

		if r.Status != domain.ReserveDisputed {
			now := s.clock()
			for i := range splits {
				if splits[i].Status != domain.SplitHeld {
					continue
				}
				splits[i].Status = domain.SplitDisputed
				if err := tx.UpdateSplit(ctx, &splits[i]); err != nil {
					return err
				}
			}
			r.Status = domain.ReserveDisputed
			r.DisputeReason = req.Reason
			r.UpdatedAt = now
			if err := tx.UpdateReserve(ctx, &r); err != nil {
				return err
			}
			s.logger.Warn().Str("reserve_id", r.ID.String()).Str("actor", actor.ID).Str("reason", req.Reason).Msg("reserve disputed")
		}
		out = domain.ReserveDetail{Reserve: r, Splits: splits}
		return nil
	})
	return out, err
}

// RaiseSplitDispute disputes one payee's split. The reserve moves to
// disputed as well, which blocks releases of its other splits.
func (s *Service) RaiseSplitDispute(ctx context.Context, actor domain.Actor, splitID uuid.UUID, req domain.DisputeRequest) (domain.EscrowSplit, error) {
	if req.Reason == "" {
		return domain.EscrowSplit{}, domain.Errorf(domain.CodeInvalidArgument, "reason is required")
	}

	var out domain.EscrowSplit
	err := s.run(ctx, "raise_split_dispute", func(tx store.Tx) error {
		peek, err := tx.GetSplit(ctx, splitID, false)
		if err != nil {
			return missing(err, "split %s not found", splitID)
		}
		r, err := tx.GetReserve(ctx, peek.ReserveID, true)
		if err != nil {
			return missing(err, "reserve %s not found", peek.ReserveID)
		}
		sp, err := tx.GetSplit(ctx, splitID, true)
		if err != nil {
			return missing(err, "split %s not found", splitID)
		}
		if err := s.authorizeParticipant(ctx, tx, actor, r, []domain.EscrowSplit{sp}); err != nil {
			return err
		}

		switch {
		case sp.Status == domain.SplitReleased:
			return invalidTransition("split %s has already been released", sp.ID)
		case r.Status.Terminal():
			return invalidTransition("reserve %s is already %s", r.ID, r.Status)
		case sp.Status == domain.SplitDisputed:
			out = sp
			return nil
		}

		now := s.clock()
		sp.Status = domain.SplitDisputed
		if err := tx.UpdateSplit(ctx, &sp); err != nil {
			return err
		}
		if r.Status == domain.ReserveHeld {
			r.Status = domain.ReserveDisputed
			r.DisputeReason = req.Reason
		}
		r.UpdatedAt = now
		if err := tx.UpdateReserve(ctx, &r); err != nil {
			return err
		}
		s.logger.Warn().Str("split_id", sp.ID.String()).Str("actor", actor.ID).Str("reason", req.Reason).Msg("split disputed")
		out = sp
		return nil
	})
	return out, err
}

// ResolveDispute adjudicates a disputed reserve. OutcomeRelease pays every
// unreleased split with method manual; OutcomeRefund refunds the buyer,
// which is only possible while no split has been released. Admin only.
func (s *Service) ResolveDispute(ctx context.Context, actor domain.Actor, req domain.ResolveDisputeRequest) (domain.ResolveDisputeResponse, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.ResolveDisputeResponse{}, forbidden(actor)
	}
	if req.Outcome != domain.OutcomeRelease && req.Outcome != domain.OutcomeRefund {
		return domain.ResolveDisputeResponse{}, domain.Errorf(domain.CodeInvalidArgument, "unknown outcome %q", req.Outcome)
	}

	var out domain.ResolveDisputeResponse
	var gross int64
	var kind domain.ReserveKind
	err := s.run(ctx, "resolve_dispute", func(tx store.Tx) error {
		r, err := tx.GetReserve(ctx, req.ReserveID, true)
		if err != nil {
			return missing(err, "reserve %s not found", req.ReserveID)
		}
		if r.Status != domain.ReserveDisputed {
			return invalidTransition("reserve %s is %s, not disputed", r.ID, r.Status)
		}
		kind = r.Kind
		now := s.clock()

		if req.Outcome == domain.OutcomeRefund {
			refund, err := s.refundLocked(ctx, tx, &r, "dispute resolved: "+req.Notes, now)
			if err != nil {
				return err
			}
			out = domain.ResolveDisputeResponse{ReserveID: r.ID, Status: r.Status, Refund: &refund}
			return nil
		}

		splits, err := tx.ListSplits(ctx, r.ID, true)
		if err != nil {
			return err
		}
		if len(splits) == 0 {
			return invalidTransition("reserve %s has no splits to release", r.ID)
		}
		ids := []uuid.UUID{r.BuyerWalletID}
		for _, sp := range splits {
			ids = append(ids, sp.PayeeWalletID)
		}
		wallets, err := lockWallets(ctx, tx, ids...)
		if err != nil {
			return err
		}

		var releases []domain.ReleaseSplitResponse
		for i := range splits {
			if splits[i].Status == domain.SplitReleased {
				continue
			}
			rel, err := s.releaseLocked(ctx, tx, &r, &splits[i], domain.ReleaseManual, wallets, now)
			if err != nil {
				return err
			}
			gross += splits[i].GrossAmount
			releases = append(releases, rel)
		}
		if err := s.settleReserve(ctx, tx, &r, now); err != nil {
			return err
		}
		out = domain.ResolveDisputeResponse{ReserveID: r.ID, Status: r.Status, Releases: releases}
		return nil
	})
	if err != nil {
		return out, err
	}

	if out.Refund != nil {
		refundedAmount.WithLabelValues(string(kind)).Add(float64(out.Refund.RefundedAmount))
	} else {
		releasesTotal.WithLabelValues(string(domain.ReleaseManual)).Add(float64(len(out.Releases)))
		releasedAmount.Add(float64(gross))
	}
	s.logger.Info().
		Str("reserve_id", req.ReserveID.String()).
		Str("outcome", string(req.Outcome)).
		Str("actor", actor.ID).
		Str("notes", req.Notes).
		Msg("dispute resolved")
	return out, nil
}

func (s *Service) authorizeParticipant(ctx context.Context, tx store.Tx, actor domain.Actor, r domain.Reserve, splits []domain.EscrowSplit) error {
	if actor.Privileged() {
		return nil
	}
	ok, err := participates(ctx, tx, actor, r, splits)
	if err != nil {
		return err
	}
	if !ok {
		return forbidden(actor)
	}
	return nil
}
