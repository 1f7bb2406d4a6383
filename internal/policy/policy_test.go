package policy

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/tradeguard/internal/domain"
)

func TestPlatformFee(t *testing.T) {
	fees := FeeSchedule{Rate: DefaultFeeRate}
	tests := []struct {
		gross, fee, net int64
	}{
		{2300, 115, 2185},
		{200, 10, 190},
		{2500, 125, 2375},
		{10, 1, 9},  // 0.5 rounds away from zero
		{9, 0, 9},   // 0.45 rounds down
		{30, 2, 28}, // 1.5 rounds up
		{1, 0, 1},
	}
	for _, tt := range tests {
		net, fee := fees.Net(tt.gross)
		if fee != tt.fee || net != tt.net {
			t.Fatalf("gross %d: expected fee %d net %d, got fee %d net %d", tt.gross, tt.fee, tt.net, fee, net)
		}
		if net+fee != tt.gross {
			t.Fatalf("gross %d: net+fee %d does not add up", tt.gross, net+fee)
		}
	}
}

func TestNewFeeScheduleRejectsOutOfRange(t *testing.T) {
	if _, err := NewFeeSchedule(DefaultFeeRate.Neg()); err == nil {
		t.Fatal("expected error for negative rate")
	}
	if _, err := NewFeeSchedule(decimal.NewFromInt(1)); err == nil {
		t.Fatal("expected error for rate >= 1")
	}
}

func TestDecide(t *testing.T) {
	th := DefaultThresholds
	tests := []struct {
		name     string
		signals  TrustSignals
		evidence Evidence
		method   domain.ReleaseMethod
		proof    RequiredProof
	}{
		{"trusted buyer reliable seller", TrustSignals{4.8, 97, false}, Evidence{}, domain.ReleaseAutomatic, ""},
		{"boundary automatic", TrustSignals{4.5, 95, false}, Evidence{}, domain.ReleaseAutomatic, ""},
		{"trusted buyer with disputes", TrustSignals{4.8, 97, true}, Evidence{}, "", ProofQR},
		{"trusted buyer unreliable seller", TrustSignals{4.8, 80, false}, Evidence{}, "", ProofOTP},
		{"mid trust no otp", TrustSignals{4.2, 99, false}, Evidence{}, "", ProofOTP},
		{"mid trust with otp", TrustSignals{4.2, 99, false}, Evidence{OTPVerified: true}, domain.ReleaseOTPVerified, ""},
		{"mid trust with qr", TrustSignals{4.0, 99, false}, Evidence{QRVerified: true}, domain.ReleaseQRVerified, ""},
		{"low trust no proof", TrustSignals{3.2, 99, false}, Evidence{}, "", ProofQR},
		{"low trust otp only", TrustSignals{3.2, 99, false}, Evidence{OTPVerified: true}, "", ProofQR},
		{"low trust with qr", TrustSignals{3.2, 99, false}, Evidence{QRVerified: true}, domain.ReleaseQRVerified, ""},
		{"disputes with qr", TrustSignals{4.6, 99, true}, Evidence{QRVerified: true}, domain.ReleaseQRVerified, ""},
		{"qr satisfies the otp tier", TrustSignals{4.2, 99, false}, Evidence{QRVerified: true}, domain.ReleaseQRVerified, ""},
		{"otp preferred when both supplied", TrustSignals{4.2, 99, false}, Evidence{OTPVerified: true, QRVerified: true}, domain.ReleaseOTPVerified, ""},
		{"trusted buyer unreliable seller with otp", TrustSignals{4.8, 80, false}, Evidence{OTPVerified: true}, domain.ReleaseOTPVerified, ""},
		{"trusted buyer unreliable seller with qr", TrustSignals{4.8, 80, false}, Evidence{QRVerified: true}, domain.ReleaseQRVerified, ""},
		{"boundary reliability just below", TrustSignals{4.5, 94.9, false}, Evidence{}, "", ProofOTP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			method, err := th.Decide(tt.signals, tt.evidence)
			if tt.proof != "" {
				if !errors.Is(err, domain.ErrVerificationRequired) {
					t.Fatalf("expected verification required, got %v", err)
				}
				var de *domain.Error
				if !errors.As(err, &de) || de.Metadata["required_proof"] != string(tt.proof) {
					t.Fatalf("expected required proof %q, got %v", tt.proof, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decide: %v", err)
			}
			if method != tt.method {
				t.Fatalf("expected method %q, got %q", tt.method, method)
			}
		})
	}
}

func TestRefundAmountOrderIsFull(t *testing.T) {
	p := RefundPolicy{CancellationRetention: DefaultCancellationRetention}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := domain.Reserve{
		ID:        uuid.New(),
		Kind:      domain.ReserveOrder,
		Amount:    2500,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(time.Hour),
	}
	refund, retained := p.RefundAmount(r, now)
	if refund != 2500 || retained != 0 {
		t.Fatalf("expected full refund, got refund %d retained %d", refund, retained)
	}
}

func TestRefundAmountBoostProrated(t *testing.T) {
	p := RefundPolicy{CancellationRetention: DefaultCancellationRetention}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := domain.Reserve{
		Kind:      domain.ReserveBoost,
		Amount:    1000,
		CreatedAt: start,
		ExpiresAt: start.Add(10 * 24 * time.Hour),
	}

	tests := []struct {
		elapsed  time.Duration
		refund   int64
		retained int64
	}{
		{0, 800, 200},
		{5 * 24 * time.Hour, 400, 600},
		{7*24*time.Hour + 12*time.Hour, 200, 800},
		{10 * 24 * time.Hour, 0, 1000},
		{11 * 24 * time.Hour, 0, 1000},
	}
	for _, tt := range tests {
		refund, retained := p.RefundAmount(r, start.Add(tt.elapsed))
		if refund != tt.refund || retained != tt.retained {
			t.Fatalf("elapsed %s: expected %d/%d, got %d/%d", tt.elapsed, tt.refund, tt.retained, refund, retained)
		}
	}
}

func TestRefundAmountBoostRoundsDown(t *testing.T) {
	p := RefundPolicy{CancellationRetention: DefaultCancellationRetention}
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	r := domain.Reserve{
		Kind:      domain.ReserveBoost,
		Amount:    999,
		CreatedAt: start,
		ExpiresAt: start.Add(3 * time.Hour),
	}
	// 999 * 2/3 * 0.8 = 532.8
	refund, retained := p.RefundAmount(r, start.Add(time.Hour))
	if refund != 532 || retained != 467 {
		t.Fatalf("expected 532/467, got %d/%d", refund, retained)
	}
}
