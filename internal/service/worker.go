package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

const expiredReason = "expired"

// ExpiryResult counts what one expiry sweep did.
type ExpiryResult struct {
	Refunded  int
	Consumed  int
	Escalated int
}

// ExpireReserves settles up to limit held reserves past their expiry:
// order reserves are refunded in full, or escalated to disputed when some
// split was already released; boosts are consumed into platform revenue.
func (s *Service) ExpireReserves(ctx context.Context, limit int) (ExpiryResult, error) {
	var res ExpiryResult
	var expired []domain.Reserve
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		expired, err = tx.ListExpiredReserves(ctx, s.clock(), limit)
		return err
	})
	if err != nil {
		return res, s.finish("expire_reserves", err)
	}

	for _, candidate := range expired {
		var outcome string
		var refunded int64
		err := s.run(ctx, "expire_reserve", func(tx store.Tx) error {
			r, err := tx.GetReserve(ctx, candidate.ID, true)
			if err != nil {
				return missing(err, "reserve %s not found", candidate.ID)
			}
			now := s.clock()
			if r.Status != domain.ReserveHeld || r.ExpiresAt.After(now) {
				return nil
			}
			if r.Kind == domain.ReserveBoost {
				outcome = "consumed"
				return s.consumeBoost(ctx, tx, &r, now)
			}

			splits, err := tx.ListSplits(ctx, r.ID, true)
			if err != nil {
				return err
			}
			for _, sp := range splits {
				if sp.Status == domain.SplitReleased {
					outcome = "escalated"
					return s.escalate(ctx, tx, &r, splits, now)
				}
			}
			refund, err := s.refundLocked(ctx, tx, &r, expiredReason, now)
			if err != nil {
				return err
			}
			outcome = "refunded"
			refunded = refund.RefundedAmount
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			continue
		}
		switch outcome {
		case "refunded":
			res.Refunded++
			refundedAmount.WithLabelValues(string(domain.ReserveOrder)).Add(float64(refunded))
		case "consumed":
			res.Consumed++
		case "escalated":
			res.Escalated++
		}
	}
	return res, nil
}

// consumeBoost moves a fully elapsed boost into platform revenue.
func (s *Service) consumeBoost(ctx context.Context, tx store.Tx, r *domain.Reserve, now time.Time) error {
	wallets, err := lockWallets(ctx, tx, r.BuyerWalletID)
	if err != nil {
		return err
	}
	outstanding := r.Outstanding()
	if outstanding > 0 {
		if err := s.debit(ctx, tx, wallets[r.BuyerWalletID], posting{
			account: domain.AccountReserve,
			amount:  outstanding,
			typ:     domain.TxRelease,
			ref:     r.ID.String(),
		}); err != nil {
			return err
		}
		if err := tx.InsertRevenue(ctx, &domain.PlatformRevenue{
			ID:        uuid.New(),
			ReserveID: r.ID,
			Kind:      domain.RevenueBoostConsumed,
			Amount:    outstanding,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("revenue insert failed: %w", err)
		}
	}
	r.ReleasedAmount += outstanding
	r.Status = domain.ReserveReleased
	r.UpdatedAt = now
	if err := tx.UpdateReserve(ctx, r); err != nil {
		return err
	}
	s.logger.Info().Str("reserve_id", r.ID.String()).Int64("amount", outstanding).Msg("boost consumed")
	return nil
}

// escalate parks a partially released, expired order reserve for admin
// adjudication. Refunds are no longer possible for it.
func (s *Service) escalate(ctx context.Context, tx store.Tx, r *domain.Reserve, splits []domain.EscrowSplit, now time.Time) error {
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
	r.DisputeReason = "expired with unreleased splits"
	r.UpdatedAt = now
	if err := tx.UpdateReserve(ctx, r); err != nil {
		return err
	}
	s.logger.Warn().Str("reserve_id", r.ID.String()).Msg("expired reserve escalated for adjudication")
	return nil
}

// Worker runs the periodic expiry sweep and withdrawal dispatch.
type Worker struct {
	svc      *Service
	interval time.Duration
	batch    int
	logger   zerolog.Logger
}

func NewWorker(svc *Service, interval time.Duration, logger zerolog.Logger) *Worker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Worker{
		svc:      svc,
		interval: interval,
		batch:    100,
		logger:   logger.With().Str("component", "worker").Logger(),
	}
}

// Run ticks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info().Dur("interval", w.interval).Msg("worker started")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.RunOnce(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Worker) RunOnce(ctx context.Context) {
	res, err := w.svc.ExpireReserves(ctx, w.batch)
	if err != nil {
		w.logger.Error().Err(err).Msg("expiry sweep failed")
	} else if res.Refunded+res.Consumed+res.Escalated > 0 {
		w.logger.Info().
			Int("refunded", res.Refunded).
			Int("consumed", res.Consumed).
			Int("escalated", res.Escalated).
			Msg("expired reserves settled")
	}

	n, err := w.svc.DispatchWithdrawals(ctx, w.batch)
	if err != nil {
		w.logger.Error().Err(err).Msg("withdrawal dispatch failed")
	} else if n > 0 {
		w.logger.Info().Int("dispatched", n).Msg("withdrawals dispatched")
	}
}
