package domain

import (
	"time"

	"github.com/google/uuid"
)

// OpenWalletRequest creates the wallet for a user if it does not exist.
type OpenWalletRequest struct {
	UserID string `json:"user_id" validate:"required,max=128"`
}

// DepositRequest credits a trading balance after an external top-up.
type DepositRequest struct {
	UserID    string `json:"user_id" validate:"required,max=128"`
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"required,max=128"`
}

// TransferRequest moves funds between two sub-balances of one wallet.
type TransferRequest struct {
	UserID string  `json:"user_id" validate:"required,max=128"`
	From   Account `json:"from" validate:"required,oneof=trading savings"`
	To     Account `json:"to" validate:"required,oneof=trading savings"`
	Amount int64   `json:"amount" validate:"required,gt=0"`
}

type WalletStatusRequest struct {
	UserID string       `json:"user_id" validate:"required,max=128"`
	Status WalletStatus `json:"status" validate:"required,oneof=active suspended"`
}

// BalanceResponse is the answer to GetWalletBalance.
type BalanceResponse struct {
	UserID  string       `json:"user_id"`
	Trading int64        `json:"trading"`
	Savings int64        `json:"savings"`
	Reserve int64        `json:"reserve"`
	Total   int64        `json:"total"`
	Status  WalletStatus `json:"status"`
}

// HoldReserveRequest holds buyer funds for an order. OrderID doubles as
// the idempotency key.
type HoldReserveRequest struct {
	OrderID string `json:"order_id" validate:"required,max=128"`
	BuyerID string `json:"buyer_id" validate:"required,max=128"`
	Amount  int64  `json:"amount" validate:"required,gt=0"`
}

// HoldBoostRequest holds a fee-for-time promotional boost.
type HoldBoostRequest struct {
	BoostID         string `json:"boost_id" validate:"required,max=128"`
	BuyerID         string `json:"buyer_id" validate:"required,max=128"`
	Amount          int64  `json:"amount" validate:"required,gt=0"`
	DurationSeconds int64  `json:"duration_seconds" validate:"required,gt=0"`
}

type ReserveResponse struct {
	ReserveID uuid.UUID     `json:"reserve_id"`
	OrderID   string        `json:"order_id"`
	Status    ReserveStatus `json:"status"`
	Amount    int64         `json:"amount"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Share is one payee's gross entitlement within a reserve. DeliveryFee is a
// component of GrossAmount, not an addition to it.
type Share struct {
	PayeeWalletID uuid.UUID `json:"payee_wallet_id" validate:"required"`
	GrossAmount   int64     `json:"gross_amount" validate:"required,gt=0"`
	DeliveryFee   int64     `json:"delivery_fee" validate:"gte=0,ltefield=GrossAmount"`
}

type CreateSplitsRequest struct {
	ReserveID uuid.UUID `json:"reserve_id" validate:"required"`
	Shares    []Share   `json:"shares" validate:"required,min=1,max=64,dive"`
}

// CreateSplitsResponse returns the delivery proofs in plaintext. They are
// only ever returned by the call that created the splits.
type CreateSplitsResponse struct {
	SplitIDs    []uuid.UUID   `json:"split_ids"`
	Splits      []EscrowSplit `json:"splits"`
	DeliveryOTP string        `json:"delivery_otp,omitempty"`
	QRToken     string        `json:"qr_token,omitempty"`
}

// Proof is the delivery evidence supplied at release time.
type Proof struct {
	OTP     string `json:"otp,omitempty" validate:"omitempty,numeric,len=6"`
	QRToken string `json:"qr_token,omitempty" validate:"omitempty,max=128"`
}

type ReleaseSplitRequest struct {
	SplitID           uuid.UUID `json:"split_id" validate:"required"`
	DeliveryConfirmed bool      `json:"delivery_confirmed"`
	Proof             *Proof    `json:"proof,omitempty"`
}

type ReleaseSplitResponse struct {
	SplitID       uuid.UUID     `json:"split_id"`
	Status        SplitStatus   `json:"status"`
	ReleaseMethod ReleaseMethod `json:"release_method"`
	NetPayout     int64         `json:"net_payout"`
	ReleasedAt    time.Time     `json:"released_at"`
}

type RefundReserveRequest struct {
	ReserveID uuid.UUID `json:"reserve_id" validate:"required"`
	Reason    string    `json:"reason" validate:"required,max=512"`
}

type RefundReserveResponse struct {
	ReserveID      uuid.UUID     `json:"reserve_id"`
	Status         ReserveStatus `json:"status"`
	RefundedAmount int64         `json:"refunded_amount"`
	RetainedAmount int64         `json:"retained_amount"`
}

type DisputeRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

type DisputeOutcome string

const (
	OutcomeRelease DisputeOutcome = "release"
	OutcomeRefund  DisputeOutcome = "refund"
)

type ResolveDisputeRequest struct {
	ReserveID uuid.UUID      `json:"reserve_id" validate:"required"`
	Outcome   DisputeOutcome `json:"outcome" validate:"required,oneof=release refund"`
	Notes     string         `json:"notes" validate:"max=1024"`
}

type ResolveDisputeResponse struct {
	ReserveID uuid.UUID              `json:"reserve_id"`
	Status    ReserveStatus          `json:"status"`
	Releases  []ReleaseSplitResponse `json:"releases,omitempty"`
	Refund    *RefundReserveResponse `json:"refund,omitempty"`
}

// ReserveDetail is a reserve with its splits.
type ReserveDetail struct {
	Reserve Reserve       `json:"reserve"`
	Splits  []EscrowSplit `json:"splits"`
}

type WithdrawalRequestInput struct {
	PayeeID     string `json:"payee_id" validate:"required,max=128"`
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Method      string `json:"method" validate:"required,oneof=mpesa bank card"`
	Destination string `json:"destination" validate:"required,max=128"`
}

type WithdrawalResponse struct {
	WithdrawalID uuid.UUID        `json:"withdrawal_id"`
	Status       WithdrawalStatus `json:"status"`
	Amount       int64            `json:"amount"`
	PayoutIDs    []uuid.UUID      `json:"payout_ids"`
}

// SettlementRequest is the external gateway callback for a withdrawal.
type SettlementRequest struct {
	WithdrawalID uuid.UUID `json:"withdrawal_id" validate:"required"`
	Reference    string    `json:"reference" validate:"required,max=128"`
	Success      bool      `json:"success"`
	Reason       string    `json:"reason" validate:"max=512"`
}
