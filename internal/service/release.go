package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/policy"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

// releaseContext is what the read phase of a release collects before trust
// signals are fetched outside any transaction.
type releaseContext struct {
	split    domain.EscrowSplit
	reserve  domain.Reserve
	buyerID  string
	payeeID  string
	released bool
}

// ReleaseSplit pays one split out of escrow once delivery is confirmed and
// the release policy is satisfied. Releasing an already released split
// returns the original outcome.
func (s *Service) ReleaseSplit(ctx context.Context, actor domain.Actor, req domain.ReleaseSplitRequest) (domain.ReleaseSplitResponse, error) {
	const op = "release_split"

	var rc releaseContext
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		rc, err = s.loadRelease(ctx, tx, actor, req.SplitID)
		return err
	})
	if err != nil {
		return domain.ReleaseSplitResponse{}, s.finish(op, err)
	}
	if rc.released {
		return releaseResponse(rc.split), s.finish(op, nil)
	}
	if err := releasable(rc.reserve, rc.split); err != nil {
		return domain.ReleaseSplitResponse{}, s.finish(op, err)
	}
	if !req.DeliveryConfirmed {
		return domain.ReleaseSplitResponse{}, s.finish(op,
			domain.Errorf(domain.CodeDeliveryNotConfirmed, "delivery of split %s has not been confirmed", rc.split.ID))
	}

	signals, err := s.reputation.Signals(ctx, rc.buyerID, rc.payeeID)
	if err != nil {
		return domain.ReleaseSplitResponse{}, s.finish(op, domain.Unavailable("reputation service unavailable", err))
	}
	method, err := s.settings.Thresholds.Decide(signals, verifyProof(rc.reserve, req.Proof))
	if err != nil {
		return domain.ReleaseSplitResponse{}, s.finish(op, err)
	}

	var out domain.ReleaseSplitResponse
	var releasedNow bool
	err = s.run(ctx, op, func(tx store.Tx) error {
		r, err := tx.GetReserve(ctx, rc.reserve.ID, true)
		if err != nil {
			return missing(err, "reserve %s not found", rc.reserve.ID)
		}
		sp, err := tx.GetSplit(ctx, req.SplitID, true)
		if err != nil {
			return missing(err, "split %s not found", req.SplitID)
		}
		if sp.Status == domain.SplitReleased {
			out = releaseResponse(sp)
			return nil
		}
		if err := releasable(r, sp); err != nil {
			return err
		}

		wallets, err := lockWallets(ctx, tx, r.BuyerWalletID, sp.PayeeWalletID)
		if err != nil {
			return err
		}
		now := s.clock()
		if out, err = s.releaseLocked(ctx, tx, &r, &sp, method, wallets, now); err != nil {
			return err
		}
		releasedNow = true
		return s.settleReserve(ctx, tx, &r, now)
	})
	if err == nil && releasedNow {
		releasesTotal.WithLabelValues(string(method)).Inc()
		releasedAmount.Add(float64(rc.split.GrossAmount))
		s.logger.Info().
			Str("split_id", out.SplitID.String()).
			Str("method", string(method)).
			Int64("net_payout", out.NetPayout).
			Msg("split released")
	}
	return out, err
}

func (s *Service) loadRelease(ctx context.Context, tx store.Tx, actor domain.Actor, splitID uuid.UUID) (releaseContext, error) {
	var rc releaseContext
	sp, err := tx.GetSplit(ctx, splitID, false)
	if err != nil {
		return rc, missing(err, "split %s not found", splitID)
	}
	r, err := tx.GetReserve(ctx, sp.ReserveID, false)
	if err != nil {
		return rc, missing(err, "reserve %s not found", sp.ReserveID)
	}
	buyer, err := tx.GetWallet(ctx, r.BuyerWalletID, false)
	if err != nil {
		return rc, missing(err, "wallet %s not found", r.BuyerWalletID)
	}
	payee, err := tx.GetWallet(ctx, sp.PayeeWalletID, false)
	if err != nil {
		return rc, missing(err, "wallet %s not found", sp.PayeeWalletID)
	}
	if !actor.Privileged() && actor.ID != buyer.UserID {
		return rc, forbidden(actor)
	}
	return releaseContext{
		split:    sp,
		reserve:  r,
		buyerID:  buyer.UserID,
		payeeID:  payee.UserID,
		released: sp.Status == domain.SplitReleased,
	}, nil
}

// releasable rejects releases blocked by a dispute or a refund.
func releasable(r domain.Reserve, sp domain.EscrowSplit) error {
	switch {
	case r.Status == domain.ReserveRefunded:
		return invalidTransition("reserve %s has been refunded", r.ID)
	case r.Status == domain.ReserveDisputed:
		return invalidTransition("reserve %s is under dispute", r.ID)
	case sp.Status == domain.SplitDisputed:
		return invalidTransition("split %s is under dispute", sp.ID)
	case sp.Status != domain.SplitHeld:
		return invalidTransition("split %s is %s", sp.ID, sp.Status)
	}
	return nil
}

// verifyProof checks the supplied delivery proof against the hashes issued
// with the splits.
func verifyProof(r domain.Reserve, proof *domain.Proof) policy.Evidence {
	var ev policy.Evidence
	if proof == nil {
		return ev
	}
	if proof.OTP != "" && r.OTPHash != "" {
		ev.OTPVerified = bcrypt.CompareHashAndPassword([]byte(r.OTPHash), []byte(proof.OTP)) == nil
	}
	if proof.QRToken != "" && r.QRHash != "" {
		ev.QRVerified = bcrypt.CompareHashAndPassword([]byte(r.QRHash), []byte(proof.QRToken)) == nil
	}
	return ev
}

// releaseLocked moves one split's gross amount out of the buyer's reserve:
// the net payout to the payee, the platform fee to platform revenue. The
// reserve, the split and both wallets must already be locked.
func (s *Service) releaseLocked(ctx context.Context, tx store.Tx, r *domain.Reserve, sp *domain.EscrowSplit, method domain.ReleaseMethod, wallets map[uuid.UUID]*domain.Wallet, now time.Time) (domain.ReleaseSplitResponse, error) {
	buyer, payee := wallets[r.BuyerWalletID], wallets[sp.PayeeWalletID]
	if buyer == nil || payee == nil {
		return domain.ReleaseSplitResponse{}, fmt.Errorf("release of split %s without locked wallets", sp.ID)
	}
	ref := sp.ID.String()

	if err := s.debit(ctx, tx, buyer, posting{account: domain.AccountReserve, amount: sp.GrossAmount, typ: domain.TxRelease, ref: ref}); err != nil {
		return domain.ReleaseSplitResponse{}, err
	}
	if sp.NetPayout > 0 {
		if err := s.credit(ctx, tx, payee, posting{account: domain.AccountTrading, amount: sp.NetPayout, typ: domain.TxRelease, ref: ref}); err != nil {
			return domain.ReleaseSplitResponse{}, err
		}
		if err := tx.InsertPayout(ctx, &domain.Payout{
			ID:            uuid.New(),
			PayeeWalletID: sp.PayeeWalletID,
			SplitID:       &sp.ID,
			Amount:        sp.NetPayout,
			Status:        domain.PayoutAvailable,
			CreatedAt:     now,
		}); err != nil {
			return domain.ReleaseSplitResponse{}, fmt.Errorf("payout insert failed: %w", err)
		}
	}
	if sp.PlatformFee > 0 {
		if err := tx.InsertRevenue(ctx, &domain.PlatformRevenue{
			ID:        uuid.New(),
			ReserveID: r.ID,
			SplitID:   &sp.ID,
			Kind:      domain.RevenuePlatformFee,
			Amount:    sp.PlatformFee,
			CreatedAt: now,
		}); err != nil {
			return domain.ReleaseSplitResponse{}, fmt.Errorf("revenue insert failed: %w", err)
		}
	}

	released := now
	sp.Status = domain.SplitReleased
	sp.ReleaseMethod = method
	sp.ReleasedAt = &released
	if err := tx.UpdateSplit(ctx, sp); err != nil {
		return domain.ReleaseSplitResponse{}, err
	}
	r.ReleasedAmount += sp.GrossAmount
	return releaseResponse(*sp), nil
}

// settleReserve persists r, marking it released once every split is.
func (s *Service) settleReserve(ctx context.Context, tx store.Tx, r *domain.Reserve, now time.Time) error {
	splits, err := tx.ListSplits(ctx, r.ID, false)
	if err != nil {
		return err
	}
	all := len(splits) > 0
	for _, sp := range splits {
		if sp.Status != domain.SplitReleased {
			all = false
			break
		}
	}
	if all {
		r.Status = domain.ReserveReleased
	}
	r.UpdatedAt = now
	return tx.UpdateReserve(ctx, r)
}

func releaseResponse(sp domain.EscrowSplit) domain.ReleaseSplitResponse {
	out := domain.ReleaseSplitResponse{
		SplitID:       sp.ID,
		Status:        sp.Status,
		ReleaseMethod: sp.ReleaseMethod,
		NetPayout:     sp.NetPayout,
	}
	if sp.ReleasedAt != nil {
		out.ReleasedAt = *sp.ReleasedAt
	}
	return out
}
