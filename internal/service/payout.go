package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/gateway"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

// RequestWithdrawal cashes out released funds. Available payouts are
// consumed whole, oldest first; whatever the last one covers beyond the
// requested amount comes back as a new available change payout.
func (s *Service) RequestWithdrawal(ctx context.Context, actor domain.Actor, req domain.WithdrawalRequestInput, idempotencyKey string) (domain.WithdrawalResponse, error) {
	if !actor.CanActFor(req.PayeeID) {
		return domain.WithdrawalResponse{}, forbidden(actor)
	}
	if req.Amount < s.settings.MinWithdrawal {
		return domain.WithdrawalResponse{}, s.finish("request_withdrawal", domain.WithMetadata(domain.CodeBelowMinimum,
			fmt.Sprintf("withdrawals must be at least %d", s.settings.MinWithdrawal),
			map[string]string{
				"minimum":   strconv.FormatInt(s.settings.MinWithdrawal, 10),
				"requested": strconv.FormatInt(req.Amount, 10),
			}))
	}

	var out domain.WithdrawalResponse
	err := s.run(ctx, "request_withdrawal", func(tx store.Tx) error {
		var err error
		out, err = idempotent(ctx, tx, "withdrawal:"+req.PayeeID, idempotencyKey, req, s.clock(), func() (domain.WithdrawalResponse, error) {
			return s.requestWithdrawal(ctx, tx, req)
		})
		return err
	})
	return out, err
}

func (s *Service) requestWithdrawal(ctx context.Context, tx store.Tx, req domain.WithdrawalRequestInput) (domain.WithdrawalResponse, error) {
	wallet, err := walletByUser(ctx, tx, req.PayeeID, true)
	if err != nil {
		return domain.WithdrawalResponse{}, err
	}
	available, err := tx.ListPayouts(ctx, wallet.ID, domain.PayoutAvailable, true)
	if err != nil {
		return domain.WithdrawalResponse{}, err
	}

	var total int64
	for _, p := range available {
		total += p.Amount
	}
	if total < req.Amount {
		return domain.WithdrawalResponse{}, domain.WithMetadata(domain.CodeInsufficientBalance,
			"available payouts do not cover the withdrawal",
			map[string]string{
				"available": strconv.FormatInt(total, 10),
				"required":  strconv.FormatInt(req.Amount, 10),
			})
	}

	now := s.clock()
	w := domain.WithdrawalRequest{
		ID:            uuid.New(),
		PayeeID:       req.PayeeID,
		PayeeWalletID: wallet.ID,
		Amount:        req.Amount,
		Method:        req.Method,
		Destination:   req.Destination,
		Status:        domain.WithdrawalPending,
		RequestedAt:   now,
		UpdatedAt:     now,
	}

	var consumed []domain.Payout
	for _, p := range available {
		if w.CoveredAmount >= req.Amount {
			break
		}
		consumed = append(consumed, p)
		w.CoveredAmount += p.Amount
	}

	if err := s.debit(ctx, tx, &wallet, posting{account: domain.AccountTrading, amount: req.Amount, typ: domain.TxPayout, ref: w.ID.String()}); err != nil {
		return domain.WithdrawalResponse{}, err
	}
	if err := tx.InsertWithdrawal(ctx, &w); err != nil {
		return domain.WithdrawalResponse{}, fmt.Errorf("withdrawal insert failed: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(consumed))
	for i := range consumed {
		consumed[i].Status = domain.PayoutProcessing
		consumed[i].WithdrawalID = &w.ID
		if err := tx.UpdatePayout(ctx, &consumed[i]); err != nil {
			return domain.WithdrawalResponse{}, err
		}
		ids = append(ids, consumed[i].ID)
	}
	if change := w.CoveredAmount - req.Amount; change > 0 {
		if err := tx.InsertPayout(ctx, &domain.Payout{
			ID:            uuid.New(),
			PayeeWalletID: wallet.ID,
			Amount:        change,
			Status:        domain.PayoutAvailable,
			CreatedAt:     now,
		}); err != nil {
			return domain.WithdrawalResponse{}, fmt.Errorf("change payout insert failed: %w", err)
		}
	}

	s.logger.Info().
		Str("withdrawal_id", w.ID.String()).
		Str("payee_id", w.PayeeID).
		Int64("amount", w.Amount).
		Int64("covered", w.CoveredAmount).
		Msg("withdrawal requested")
	return domain.WithdrawalResponse{
		WithdrawalID: w.ID,
		Status:       w.Status,
		Amount:       w.Amount,
		PayoutIDs:    ids,
	}, nil
}

// DispatchWithdrawals submits up to limit pending withdrawals to the payment
// gateway and marks the accepted ones processing. Gateway calls happen
// outside any transaction; the withdrawal id is the gateway idempotency
// key, so a crash between submit and mark resubmits harmlessly.
func (s *Service) DispatchWithdrawals(ctx context.Context, limit int) (int, error) {
	var pending []domain.WithdrawalRequest
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		var err error
		pending, err = tx.ListWithdrawals(ctx, domain.WithdrawalPending, limit)
		return err
	})
	if err != nil {
		return 0, s.finish("dispatch_withdrawals", err)
	}

	dispatched := 0
	for _, w := range pending {
		ref, err := s.gateway.Submit(ctx, gateway.Submission{
			WithdrawalID: w.ID,
			Amount:       w.Amount,
			Method:       w.Method,
			Destination:  w.Destination,
		})
		if err != nil {
			withdrawalsDispatched.WithLabelValues("failed").Inc()
			s.logger.Error().Err(err).Str("withdrawal_id", w.ID.String()).Msg("gateway submission failed")
			if ctx.Err() != nil {
				return dispatched, ctx.Err()
			}
			continue
		}

		err = s.run(ctx, "mark_withdrawal_processing", func(tx store.Tx) error {
			cur, err := tx.GetWithdrawal(ctx, w.ID, true)
			if err != nil {
				return missing(err, "withdrawal %s not found", w.ID)
			}
			if cur.Status != domain.WithdrawalPending {
				return nil
			}
			cur.Status = domain.WithdrawalProcessing
			cur.GatewayReference = ref
			cur.UpdatedAt = s.clock()
			return tx.UpdateWithdrawal(ctx, &cur)
		})
		if err != nil {
			withdrawalsDispatched.WithLabelValues("failed").Inc()
			continue
		}
		withdrawalsDispatched.WithLabelValues("submitted").Inc()
		dispatched++
	}
	return dispatched, nil
}

// ConfirmSettlement applies the gateway's final answer. Success marks the
// withdrawal and its payouts paid. Rejection reverses the consumed payouts,
// re-issues the withdrawn amount as one available payout and credits the
// payee's trading balance back. Repeating the same answer is a no-op.
func (s *Service) ConfirmSettlement(ctx context.Context, actor domain.Actor, req domain.SettlementRequest) (domain.WithdrawalRequest, error) {
	if !actor.Privileged() {
		return domain.WithdrawalRequest{}, forbidden(actor)
	}

	var out domain.WithdrawalRequest
	err := s.run(ctx, "confirm_settlement", func(tx store.Tx) error {
		peek, err := tx.GetWithdrawal(ctx, req.WithdrawalID, false)
		if err != nil {
			return missing(err, "withdrawal %s not found", req.WithdrawalID)
		}
		wallets, err := lockWallets(ctx, tx, peek.PayeeWalletID)
		if err != nil {
			return err
		}
		wallet := wallets[peek.PayeeWalletID]

		w, err := tx.GetWithdrawal(ctx, req.WithdrawalID, true)
		if err != nil {
			return missing(err, "withdrawal %s not found", req.WithdrawalID)
		}
		target := domain.WithdrawalRejected
		if req.Success {
			target = domain.WithdrawalPaid
		}
		switch w.Status {
		case target:
			out = w
			return nil
		case domain.WithdrawalPaid, domain.WithdrawalRejected:
			return invalidTransition("withdrawal %s is already %s", w.ID, w.Status)
		}
		if w.GatewayReference != "" && req.Reference != "" && w.GatewayReference != req.Reference {
			return domain.WithMetadata(domain.CodeInvalidArgument, "settlement reference does not match the submission",
				map[string]string{"expected": w.GatewayReference, "actual": req.Reference})
		}

		payouts, err := tx.ListWithdrawalPayouts(ctx, w.ID, true)
		if err != nil {
			return err
		}
		now := s.clock()

		if req.Success {
			for i := range payouts {
				payouts[i].Status = domain.PayoutPaid
				if err := tx.UpdatePayout(ctx, &payouts[i]); err != nil {
					return err
				}
			}
		} else {
			for i := range payouts {
				payouts[i].Status = domain.PayoutReversed
				if err := tx.UpdatePayout(ctx, &payouts[i]); err != nil {
					return err
				}
			}
			if err := tx.InsertPayout(ctx, &domain.Payout{
				ID:            uuid.New(),
				PayeeWalletID: w.PayeeWalletID,
				Amount:        w.Amount,
				Status:        domain.PayoutAvailable,
				CreatedAt:     now,
			}); err != nil {
				return fmt.Errorf("payout reissue failed: %w", err)
			}
			if err := s.credit(ctx, tx, wallet, posting{account: domain.AccountTrading, amount: w.Amount, typ: domain.TxRefund, ref: w.ID.String()}); err != nil {
				return err
			}
			w.FailureReason = req.Reason
		}

		if w.GatewayReference == "" {
			w.GatewayReference = req.Reference
		}
		w.Status = target
		w.UpdatedAt = now
		if err := tx.UpdateWithdrawal(ctx, &w); err != nil {
			return err
		}
		s.logger.Info().
			Str("withdrawal_id", w.ID.String()).
			Str("status", string(w.Status)).
			Str("reference", w.GatewayReference).
			Msg("withdrawal settled")
		out = w
		return nil
	})
	return out, err
}

// ListPayouts returns every payout record of the payee, oldest first.
func (s *Service) ListPayouts(ctx context.Context, actor domain.Actor, payeeID string) ([]domain.Payout, error) {
	if !actor.CanActFor(payeeID) {
		return nil, forbidden(actor)
	}
	var out []domain.Payout
	err := s.run(ctx, "list_payouts", func(tx store.Tx) error {
		w, err := walletByUser(ctx, tx, payeeID, false)
		if err != nil {
			return err
		}
		out, err = tx.ListPayouts(ctx, w.ID, "", false)
		return err
	})
	return out, err
}

func (s *Service) GetWithdrawal(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.WithdrawalRequest, error) {
	var out domain.WithdrawalRequest
	err := s.run(ctx, "get_withdrawal", func(tx store.Tx) error {
		w, err := tx.GetWithdrawal(ctx, id, false)
		if err != nil {
			return missing(err, "withdrawal %s not found", id)
		}
		if !actor.CanActFor(w.PayeeID) {
			return forbidden(actor)
		}
		out = w
		return nil
	})
	return out, err
}
