package service

import (
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/punchamoorthee/tradeguard/internal/domain"
)

func TestCreateSplitsComputesFees(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	r, resp, seller, driver := f.order("O1")

	f.expectBalance("buyer", 2500, 0, 2500)
	if len(resp.Splits) != 2 || len(resp.SplitIDs) != 2 {
		t.Fatalf("expected two splits, got %+v", resp)
	}
	s0, s1 := resp.Splits[0], resp.Splits[1]
	if s0.PayeeWalletID != seller.ID || s0.PlatformFee != 115 || s0.NetPayout != 2185 {
		t.Fatalf("unexpected seller split %+v", s0)
	}
	if s1.PayeeWalletID != driver.ID || s1.PlatformFee != 10 || s1.NetPayout != 190 || s1.DeliveryFee != 200 {
		t.Fatalf("unexpected driver split %+v", s1)
	}
	var gross int64
	for _, sp := range resp.Splits {
		gross += sp.GrossAmount
		if sp.NetPayout+sp.PlatformFee != sp.GrossAmount {
			t.Fatalf("split %s does not add up", sp.ID)
		}
	}
	if gross != r.Amount {
		t.Fatalf("expected gross %d, got %d", r.Amount, gross)
	}
	if len(resp.DeliveryOTP) != 6 || resp.QRToken == "" {
		t.Fatalf("expected delivery proofs, got otp %q qr %q", resp.DeliveryOTP, resp.QRToken)
	}

	replay := f.split(r.ID,
		domain.Share{PayeeWalletID: seller.ID, GrossAmount: 2300},
		domain.Share{PayeeWalletID: driver.ID, GrossAmount: 200, DeliveryFee: 200},
	)
	if replay.SplitIDs[0] != resp.SplitIDs[0] || replay.SplitIDs[1] != resp.SplitIDs[1] {
		t.Fatal("expected replay to return the existing splits")
	}
	if replay.DeliveryOTP != "" || replay.QRToken != "" {
		t.Fatal("delivery proofs must only be returned once")
	}

	_, err := f.svc.CreateSplits(f.ctx, checkout, domain.CreateSplitsRequest{ReserveID: r.ID, Shares: []domain.Share{
		{PayeeWalletID: seller.ID, GrossAmount: 2500},
	}})
	expectCode(t, err, domain.CodeInvalidStateTransition)
}

func TestCreateSplitsRejectsMismatch(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	seller := f.fund("seller", 0)
	r := f.hold("O1", "buyer", 2500)

	_, err := f.svc.CreateSplits(f.ctx, checkout, domain.CreateSplitsRequest{ReserveID: r.ID, Shares: []domain.Share{
		{PayeeWalletID: seller.ID, GrossAmount: 2400},
	}})
	de := expectCode(t, err, domain.CodeSplitMismatch)
	if de.Metadata["expected"] != "2500" || de.Metadata["actual"] != "2400" {
		t.Fatalf("unexpected metadata %v", de.Metadata)
	}

	_, err = f.svc.CreateSplits(f.ctx, checkout, domain.CreateSplitsRequest{ReserveID: r.ID, Shares: []domain.Share{
		{PayeeWalletID: seller.ID, GrossAmount: 2500, DeliveryFee: 2600},
	}})
	expectCode(t, err, domain.CodeInvalidArgument)

	_, err = f.svc.CreateSplits(f.ctx, checkout, domain.CreateSplitsRequest{ReserveID: r.ID, Shares: []domain.Share{
		{PayeeWalletID: uuid.New(), GrossAmount: 2500},
	}})
	expectCode(t, err, domain.CodeNotFound)
}

func TestCreateSplitsRejectsBoost(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	seller := f.fund("seller", 0)
	r, err := f.svc.HoldBoost(f.ctx, checkout, domain.HoldBoostRequest{BoostID: "B1", BuyerID: "buyer", Amount: 500, DurationSeconds: 3600})
	if err != nil {
		t.Fatalf("hold boost: %v", err)
	}
	_, err = f.svc.CreateSplits(f.ctx, checkout, domain.CreateSplitsRequest{ReserveID: r.ID, Shares: []domain.Share{
		{PayeeWalletID: seller.ID, GrossAmount: 500},
	}})
	expectCode(t, err, domain.CodeInvalidStateTransition)
}

func TestReleaseAutomaticForTrustedParties(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	f.rep.SetBuyer("buyer", 4.8, false)
	f.rep.SetSeller("seller", 97)
	r, resp, _, _ := f.order("O1")

	rel, err := f.release(resp.SplitIDs[0], nil)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if rel.ReleaseMethod != domain.ReleaseAutomatic || rel.Status != domain.SplitReleased || rel.NetPayout != 2185 {
		t.Fatalf("unexpected release %+v", rel)
	}
	f.expectBalance("seller", 2185, 0, 0)
	f.expectBalance("buyer", 2500, 0, 200)

	again, err := f.release(resp.SplitIDs[0], nil)
	if err != nil {
		t.Fatalf("repeat release: %v", err)
	}
	if again.SplitID != rel.SplitID || again.ReleaseMethod != rel.ReleaseMethod || !again.ReleasedAt.Equal(rel.ReleasedAt) {
		t.Fatalf("expected the original outcome, got %+v", again)
	}
	f.expectBalance("seller", 2185, 0, 0)

	rev := f.revenue(r.ID)
	if len(rev) != 1 || rev[0].Kind != domain.RevenuePlatformFee || rev[0].Amount != 115 {
		t.Fatalf("expected a 115 platform fee, got %+v", rev)
	}
	payouts, err := f.svc.ListPayouts(f.ctx, user("seller"), "seller")
	if err != nil {
		t.Fatalf("list payouts: %v", err)
	}
	if len(payouts) != 1 || payouts[0].Amount != 2185 || payouts[0].Status != domain.PayoutAvailable {
		t.Fatalf("unexpected payouts %+v", payouts)
	}
	f.expectReconciled("buyer", "seller", "driver")
}

func TestReleaseAllSplitsReleasesReserve(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	r, resp, _, _ := f.order("O1")

	for _, id := range resp.SplitIDs {
		if _, err := f.release(id, nil); err != nil {
			t.Fatalf("release %s: %v", id, err)
		}
	}
	detail, err := f.svc.GetReserve(f.ctx, user("buyer"), r.ID)
	if err != nil {
		t.Fatalf("get reserve: %v", err)
	}
	if detail.Reserve.Status != domain.ReserveReleased || detail.Reserve.ReleasedAmount != 2500 {
		t.Fatalf("expected released reserve, got %+v", detail.Reserve)
	}
	f.expectBalance("buyer", 2500, 0, 0)
	f.expectBalance("seller", 2185, 0, 0)
	f.expectBalance("driver", 190, 0, 0)

	_, err = f.svc.RefundReserve(f.ctx, checkout, domain.RefundReserveRequest{ReserveID: r.ID, Reason: "late"})
	expectCode(t, err, domain.CodeInvalidStateTransition)
}

func TestReleaseLowTrustRequiresQR(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	f.rep.SetBuyer("buyer", 3.2, false)
	_, resp, _, _ := f.order("O1")
	splitID := resp.SplitIDs[0]

	_, err := f.release(splitID, nil)
	de := expectCode(t, err, domain.CodeVerificationRequired)
	if de.Metadata["required_proof"] != "qr" {
		t.Fatalf("expected qr proof, got %v", de.Metadata)
	}

	_, err = f.release(splitID, &domain.Proof{OTP: resp.DeliveryOTP})
	expectCode(t, err, domain.CodeVerificationRequired)

	_, err = f.release(splitID, &domain.Proof{QRToken: "forged"})
	expectCode(t, err, domain.CodeVerificationRequired)
	f.expectBalance("seller", 0, 0, 0)

	rel, err := f.release(splitID, &domain.Proof{QRToken: resp.QRToken})
	if err != nil {
		t.Fatalf("release with qr: %v", err)
	}
	if rel.ReleaseMethod != domain.ReleaseQRVerified {
		t.Fatalf("expected qr_verified, got %s", rel.ReleaseMethod)
	}
}

func TestReleaseMidTrustRequiresOTP(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	f.rep.SetBuyer("buyer", 4.2, false)
	_, resp, _, _ := f.order("O1")

	_, err := f.release(resp.SplitIDs[1], nil)
	de := expectCode(t, err, domain.CodeVerificationRequired)
	if de.Metadata["required_proof"] != "otp" {
		t.Fatalf("expected otp proof, got %v", de.Metadata)
	}

	wrong := "000000"
	if resp.DeliveryOTP == wrong {
		wrong = "111111"
	}
	_, err = f.release(resp.SplitIDs[1], &domain.Proof{OTP: wrong})
	expectCode(t, err, domain.CodeVerificationRequired)

	rel, err := f.release(resp.SplitIDs[1], &domain.Proof{OTP: resp.DeliveryOTP})
	if err != nil {
		t.Fatalf("release with otp: %v", err)
	}
	if rel.ReleaseMethod != domain.ReleaseOTPVerified || rel.NetPayout != 190 {
		t.Fatalf("unexpected release %+v", rel)
	}
}

func TestReleaseRequiresDeliveryConfirmation(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	_, resp, _, _ := f.order("O1")

	_, err := f.svc.ReleaseSplit(f.ctx, checkout, domain.ReleaseSplitRequest{SplitID: resp.SplitIDs[0]})
	expectCode(t, err, domain.CodeDeliveryNotConfirmed)

	_, err = f.svc.ReleaseSplit(f.ctx, user("seller"), domain.ReleaseSplitRequest{SplitID: resp.SplitIDs[0], DeliveryConfirmed: true})
	expectCode(t, err, domain.CodeForbidden)

	_, err = f.release(uuid.New(), nil)
	expectCode(t, err, domain.CodeNotFound)
}

func TestRefundAfterPartialReleaseFails(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	r, resp, _, _ := f.order("O1")

	if _, err := f.release(resp.SplitIDs[1], nil); err != nil {
		t.Fatalf("release: %v", err)
	}
	_, err := f.svc.RefundReserve(f.ctx, checkout, domain.RefundReserveRequest{ReserveID: r.ID, Reason: "cancel"})
	expectCode(t, err, domain.CodeInvalidStateTransition)
	f.expectBalance("buyer", 2500, 0, 2300)
}

func TestReleaseAfterRefundFails(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	r, resp, _, _ := f.order("O1")

	if _, err := f.svc.RefundReserve(f.ctx, checkout, domain.RefundReserveRequest{ReserveID: r.ID, Reason: "cancel"}); err != nil {
		t.Fatalf("refund: %v", err)
	}
	_, err := f.release(resp.SplitIDs[0], nil)
	expectCode(t, err, domain.CodeInvalidStateTransition)
	f.expectBalance("seller", 0, 0, 0)
	f.expectBalance("buyer", 5000, 0, 0)
}

func TestReputationOutageIsRetryable(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	_, resp, _, _ := f.order("O1")

	f.svc.reputation = failingProvider{}
	_, err := f.release(resp.SplitIDs[0], nil)
	de := expectCode(t, err, domain.CodeUnavailable)
	if !de.Retryable() {
		t.Fatal("expected a retryable error")
	}
}

func TestCreateSplitsRejectsOverflow(t *testing.T) {
	f := newFixture(t)
	f.fund("buyer", 5000)
	seller := f.fund("seller", 0)
	driver := f.fund("driver", 0)
	r := f.hold("O1", "buyer", 2500)

	tests := []struct {
		name   string
		shares []domain.Share
	}{
		{"wraps to the reserve amount", []domain.Share{
			{PayeeWalletID: seller.ID, GrossAmount: math.MaxInt64},
			{PayeeWalletID: driver.ID, GrossAmount: math.MaxInt64},
			{PayeeWalletID: seller.ID, GrossAmount: 2502},
		}},
		{"max plus one", []domain.Share{
			{PayeeWalletID: seller.ID, GrossAmount: math.MaxInt64},
			{PayeeWalletID: driver.ID, GrossAmount: 1},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateSplits(f.ctx, checkout, domain.CreateSplitsRequest{ReserveID: r.ID, Shares: tt.shares})
			expectCode(t, err, domain.CodeInvalidArgument)
		})
	}

	detail, err := f.svc.GetReserve(f.ctx, admin, r.ID)
	if err != nil {
		t.Fatalf("get reserve: %v", err)
	}
	if len(detail.Splits) != 0 {
		t.Fatalf("expected no splits, got %+v", detail.Splits)
	}
	f.expectBalance("buyer", 2500, 0, 2500)
	f.expectBalance("seller", 0, 0, 0)
}
