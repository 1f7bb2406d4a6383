package policy

import (
	"github.com/punchamoorthee/tradeguard/internal/domain"
)

// TrustSignals are the reputation inputs for one buyer/payee pair.
type TrustSignals struct {
	BuyerTrustScore   float64 `json:"buyer_trust_score"`
	SellerReliability float64 `json:"seller_reliability"`
	HasDisputes       bool    `json:"has_disputes"`
}

// Evidence is the delivery proof that was supplied and checked.
type Evidence struct {
	OTPVerified bool
	QRVerified  bool
}

// RequiredProof names the proof a caller must supply.
type RequiredProof string

const (
	ProofNone RequiredProof = ""
	ProofOTP  RequiredProof = "otp"
	ProofQR   RequiredProof = "qr"
)

// ReleaseThresholds tune the release decision table.
type ReleaseThresholds struct {
	AutoTrust       float64 `yaml:"auto_trust" env:"AUTO_TRUST"`
	AutoReliability float64 `yaml:"auto_reliability" env:"AUTO_RELIABILITY"`
	OTPTrust        float64 `yaml:"otp_trust" env:"OTP_TRUST"`
}

var DefaultThresholds = ReleaseThresholds{
	AutoTrust:       4.5,
	AutoReliability: 95,
	OTPTrust:        4.0,
}

// Required returns the tier of proof the signals demand. Buyers with high
// trust but a payee below the reliability bar fall into the OTP tier.
func (t ReleaseThresholds) Required(s TrustSignals) RequiredProof {
	switch {
	case s.HasDisputes || s.BuyerTrustScore < t.OTPTrust:
		return ProofQR
	case s.BuyerTrustScore >= t.AutoTrust && s.SellerReliability >= t.AutoReliability:
		return ProofNone
	default:
		return ProofOTP
	}
}

// Decide picks the release method or reports the missing proof. A verified
// QR scan satisfies the OTP tier as well.
func (t ReleaseThresholds) Decide(s TrustSignals, ev Evidence) (domain.ReleaseMethod, error) {
	required := t.Required(s)
	switch required {
	case ProofNone:
		return domain.ReleaseAutomatic, nil
	case ProofOTP:
		if ev.OTPVerified {
			return domain.ReleaseOTPVerified, nil
		}
		if ev.QRVerified {
			return domain.ReleaseQRVerified, nil
		}
	case ProofQR:
		if ev.QRVerified {
			return domain.ReleaseQRVerified, nil
		}
	}
	return "", VerificationRequired(required)
}

// VerificationRequired builds the error naming the missing proof.
func VerificationRequired(proof RequiredProof) error {
	msg := "delivery OTP required to release funds"
	if proof == ProofQR {
		msg = "QR scan confirmation required to release funds"
	}
	return domain.WithMetadata(domain.CodeVerificationRequired, msg, map[string]string{
		"required_proof": string(proof),
	})
}
