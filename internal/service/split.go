package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"math/big"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

const maxShares = 64

// deliveryProofs are issued once per reserve when its splits are created.
type deliveryProofs struct {
	otp, qrToken    string
	otpHash, qrHash string
}

func (s *Service) newDeliveryProofs() (deliveryProofs, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return deliveryProofs{}, fmt.Errorf("generate otp: %w", err)
	}
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return deliveryProofs{}, fmt.Errorf("generate qr token: %w", err)
	}

	p := deliveryProofs{
		otp:     fmt.Sprintf("%06d", n.Int64()),
		qrToken: base64.RawURLEncoding.EncodeToString(raw),
	}
	otpHash, err := bcrypt.GenerateFromPassword([]byte(p.otp), s.settings.ProofCost)
	if err != nil {
		return deliveryProofs{}, fmt.Errorf("hash otp: %w", err)
	}
	qrHash, err := bcrypt.GenerateFromPassword([]byte(p.qrToken), s.settings.ProofCost)
	if err != nil {
		return deliveryProofs{}, fmt.Errorf("hash qr token: %w", err)
	}
	p.otpHash, p.qrHash = string(otpHash), string(qrHash)
	return p, nil
}

// CreateSplits divides a held order reserve among its payees. The gross
// shares must add up to the reserve amount exactly. The response carries
// the delivery OTP and QR token in plaintext; a replay with identical
// shares returns the splits without them.
func (s *Service) CreateSplits(ctx context.Context, actor domain.Actor, req domain.CreateSplitsRequest) (domain.CreateSplitsResponse, error) {
	if len(req.Shares) == 0 || len(req.Shares) > maxShares {
		return domain.CreateSplitsResponse{}, domain.Errorf(domain.CodeInvalidArgument, "between 1 and %d shares are required", maxShares)
	}
	var total int64
	for i, sh := range req.Shares {
		if sh.GrossAmount <= 0 {
			return domain.CreateSplitsResponse{}, domain.Errorf(domain.CodeInvalidArgument, "share %d: gross amount must be positive", i)
		}
		if sh.DeliveryFee < 0 || sh.DeliveryFee > sh.GrossAmount {
			return domain.CreateSplitsResponse{}, domain.Errorf(domain.CodeInvalidArgument, "share %d: delivery fee must be between 0 and the gross amount", i)
		}
		if sh.GrossAmount > math.MaxInt64-total {
			return domain.CreateSplitsResponse{}, domain.Errorf(domain.CodeInvalidArgument, "share %d: gross amounts overflow", i)
		}
		total += sh.GrossAmount
	}

	proofs, err := s.newDeliveryProofs()
	if err != nil {
		return domain.CreateSplitsResponse{}, s.finish("create_splits", err)
	}

	var out domain.CreateSplitsResponse
	err = s.run(ctx, "create_splits", func(tx store.Tx) error {
		r, err := tx.GetReserve(ctx, req.ReserveID, true)
		if err != nil {
			return missing(err, "reserve %s not found", req.ReserveID)
		}
		if !actor.Privileged() {
			ok, err := isBuyer(ctx, tx, actor, r)
			if err != nil {
				return err
			}
			if !ok {
				return forbidden(actor)
			}
		}

		existing, err := tx.ListSplits(ctx, r.ID, true)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			if sameShares(existing, req.Shares) {
				out = splitsResponse(existing)
				return nil
			}
			return invalidTransition("reserve %s already has splits", r.ID)
		}
		if r.Kind != domain.ReserveOrder {
			return invalidTransition("reserve %s is a %s reserve and cannot be split", r.ID, r.Kind)
		}
		if r.Status != domain.ReserveHeld {
			return invalidTransition("reserve %s is %s, splits require held", r.ID, r.Status)
		}
		if total != r.Amount {
			return domain.WithMetadata(domain.CodeSplitMismatch,
				"split gross amounts do not add up to the reserve amount",
				amountMetadata(r.Amount, total))
		}

		now := s.clock()
		splits := make([]domain.EscrowSplit, 0, len(req.Shares))
		for _, sh := range req.Shares {
			if _, err := tx.GetWallet(ctx, sh.PayeeWalletID, false); err != nil {
				return missing(err, "payee wallet %s not found", sh.PayeeWalletID)
			}
			net, fee := s.settings.Fees.Net(sh.GrossAmount)
			splits = append(splits, domain.EscrowSplit{
				ID:            uuid.New(),
				ReserveID:     r.ID,
				PayeeWalletID: sh.PayeeWalletID,
				GrossAmount:   sh.GrossAmount,
				PlatformFee:   fee,
				DeliveryFee:   sh.DeliveryFee,
				NetPayout:     net,
				Status:        domain.SplitHeld,
				CreatedAt:     now,
			})
		}
		if err := tx.InsertSplits(ctx, splits); err != nil {
			return fmt.Errorf("split insert failed: %w", err)
		}

		r.OTPHash, r.QRHash = proofs.otpHash, proofs.qrHash
		r.UpdatedAt = now
		if err := tx.UpdateReserve(ctx, &r); err != nil {
			return err
		}

		out = splitsResponse(splits)
		out.DeliveryOTP = proofs.otp
		out.QRToken = proofs.qrToken
		s.logger.Info().Str("reserve_id", r.ID.String()).Int("splits", len(splits)).Msg("escrow splits created")
		return nil
	})
	return out, err
}

func sameShares(existing []domain.EscrowSplit, shares []domain.Share) bool {
	if len(existing) != len(shares) {
		return false
	}
	for i, sp := range existing {
		sh := shares[i]
		if sp.PayeeWalletID != sh.PayeeWalletID || sp.GrossAmount != sh.GrossAmount || sp.DeliveryFee != sh.DeliveryFee {
			return false
		}
	}
	return true
}

func splitsResponse(splits []domain.EscrowSplit) domain.CreateSplitsResponse {
	ids := make([]uuid.UUID, len(splits))
	for i, sp := range splits {
		ids[i] = sp.ID
	}
	return domain.CreateSplitsResponse{SplitIDs: ids, Splits: splits}
}
