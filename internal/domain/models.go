package domain

import (
	"time"

	"github.com/google/uuid"
)

// Account names one of the three sub-balances held by a wallet.
type Account string

const (
	AccountTrading Account = "trading"
	AccountSavings Account = "savings"
	AccountReserve Account = "reserve"
)

func (a Account) Valid() bool {
	switch a {
	case AccountTrading, AccountSavings, AccountReserve:
		return true
	}
	return false
}

type WalletStatus string

const (
	WalletActive    WalletStatus = "active"
	WalletSuspended WalletStatus = "suspended"
)

// Wallet is the per-user balance sheet. Every mutation must keep
// Trading+Savings+Reserve equal to TotalEarned-TotalSpent.
type Wallet struct {
	ID             uuid.UUID    `json:"id"`
	UserID         string       `json:"user_id"`
	TradingBalance int64        `json:"trading_balance"`
	SavingsBalance int64        `json:"savings_balance"`
	ReserveBalance int64        `json:"reserve_balance"`
	TotalEarned    int64        `json:"total_earned"`
	TotalSpent     int64        `json:"total_spent"`
	Status         WalletStatus `json:"status"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// Balance returns the sub-balance for account.
func (w *Wallet) Balance(a Account) int64 {
	switch a {
	case AccountTrading:
		return w.TradingBalance
	case AccountSavings:
		return w.SavingsBalance
	case AccountReserve:
		return w.ReserveBalance
	}
	return 0
}

func (w *Wallet) adjust(a Account, delta int64) {
	switch a {
	case AccountTrading:
		w.TradingBalance += delta
	case AccountSavings:
		w.SavingsBalance += delta
	case AccountReserve:
		w.ReserveBalance += delta
	}
}

// Credit adds amount to account and records it as earned.
func (w *Wallet) Credit(a Account, amount int64) {
	w.adjust(a, amount)
	w.TotalEarned += amount
}

// Debit removes amount from account and records it as spent. Callers
// check the balance first; Debit itself does not guard.
func (w *Wallet) Debit(a Account, amount int64) {
	w.adjust(a, -amount)
	w.TotalSpent += amount
}

// Total is the sum of all sub-balances.
func (w *Wallet) Total() int64 {
	return w.TradingBalance + w.SavingsBalance + w.ReserveBalance
}

// Reconciled reports whether the balance sheet is consistent.
func (w *Wallet) Reconciled() bool {
	if w.TradingBalance < 0 || w.SavingsBalance < 0 || w.ReserveBalance < 0 {
		return false
	}
	return w.Total() == w.TotalEarned-w.TotalSpent
}

type ReserveKind string

const (
	ReserveOrder ReserveKind = "order"
	// ReserveBoost is a fee-for-time hold refunded pro rata on cancellation.
	ReserveBoost ReserveKind = "boost"
)

type ReserveStatus string

const (
	ReserveHeld     ReserveStatus = "held"
	ReserveReleased ReserveStatus = "released"
	ReserveRefunded ReserveStatus = "refunded"
	ReserveDisputed ReserveStatus = "disputed"
)

// Terminal reports whether no further transition is allowed.
func (s ReserveStatus) Terminal() bool {
	return s == ReserveReleased || s == ReserveRefunded
}

// Reserve holds buyer funds against one order.
type Reserve struct {
	ID             uuid.UUID     `json:"id"`
	OrderID        string        `json:"order_id"`
	Kind           ReserveKind   `json:"kind"`
	BuyerWalletID  uuid.UUID     `json:"buyer_wallet_id"`
	Amount         int64         `json:"amount"`
	ReleasedAmount int64         `json:"released_amount"`
	RefundedAmount int64         `json:"refunded_amount"`
	Status         ReserveStatus `json:"status"`
	DisputeReason  string        `json:"dispute_reason,omitempty"`
	OTPHash        string        `json:"-"`
	QRHash         string        `json:"-"`
	CreatedAt      time.Time     `json:"created_at"`
	ExpiresAt      time.Time     `json:"expires_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Outstanding is the part of the reserve not yet released or refunded.
func (r *Reserve) Outstanding() int64 {
	return r.Amount - r.ReleasedAmount - r.RefundedAmount
}

type SplitStatus string

const (
	SplitHeld     SplitStatus = "held"
	SplitDisputed SplitStatus = "disputed"
	SplitReleased SplitStatus = "released"
)

type ReleaseMethod string

const (
	ReleaseAutomatic   ReleaseMethod = "automatic"
	ReleaseOTPVerified ReleaseMethod = "otp_verified"
	ReleaseQRVerified  ReleaseMethod = "qr_verified"
	ReleaseManual      ReleaseMethod = "manual"
)

// EscrowSplit is one payee's share of a reserve.
type EscrowSplit struct {
	ID            uuid.UUID     `json:"id"`
	ReserveID     uuid.UUID     `json:"reserve_id"`
	PayeeWalletID uuid.UUID     `json:"payee_wallet_id"`
	GrossAmount   int64         `json:"gross_amount"`
	PlatformFee   int64         `json:"platform_fee"`
	DeliveryFee   int64         `json:"delivery_fee"`
	NetPayout     int64         `json:"net_payout"`
	Status        SplitStatus   `json:"status"`
	ReleaseMethod ReleaseMethod `json:"release_method,omitempty"`
	ReleasedAt    *time.Time    `json:"released_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
	TxHold       TxType = "hold"
	TxRelease    TxType = "release"
	TxRefund     TxType = "refund"
	TxTransfer   TxType = "transfer"
	TxPayout     TxType = "payout"
)

type Direction string

const (
	Credit Direction = "credit"
	Debit  Direction = "debit"
)

// WalletTransaction is the append-only audit record of one balance mutation.
type WalletTransaction struct {
	ID          uuid.UUID `json:"id"`
	WalletID    uuid.UUID `json:"wallet_id"`
	Type        TxType    `json:"type"`
	Account     Account   `json:"account"`
	Direction   Direction `json:"direction"`
	Amount      int64     `json:"amount"`
	ReferenceID string    `json:"reference_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type RevenueKind string

const (
	RevenuePlatformFee     RevenueKind = "platform_fee"
	RevenueCancellationFee RevenueKind = "cancellation_fee"
	RevenueBoostConsumed   RevenueKind = "boost_consumed"
)

// PlatformRevenue records money retained by the platform rather than
// credited to any user wallet.
type PlatformRevenue struct {
	ID        uuid.UUID   `json:"id"`
	ReserveID uuid.UUID   `json:"reserve_id"`
	SplitID   *uuid.UUID  `json:"split_id,omitempty"`
	Kind      RevenueKind `json:"kind"`
	Amount    int64       `json:"amount"`
	CreatedAt time.Time   `json:"created_at"`
}

type PayoutStatus string

const (
	PayoutAvailable  PayoutStatus = "available"
	PayoutProcessing PayoutStatus = "processing"
	PayoutPaid       PayoutStatus = "paid"
	// PayoutReversed marks records consumed by a rejected withdrawal; the
	// withdrawn amount is re-issued as a fresh available payout.
	PayoutReversed PayoutStatus = "reversed"
)

// Payout is a released amount owed to a payee and not yet withdrawn.
type Payout struct {
	ID            uuid.UUID    `json:"id"`
	PayeeWalletID uuid.UUID    `json:"payee_wallet_id"`
	SplitID       *uuid.UUID   `json:"split_id,omitempty"`
	Amount        int64        `json:"amount"`
	Status        PayoutStatus `json:"status"`
	WithdrawalID  *uuid.UUID   `json:"withdrawal_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalPaid       WithdrawalStatus = "paid"
	WithdrawalRejected   WithdrawalStatus = "rejected"
)

// WithdrawalRequest is a payee-initiated cash-out.
type WithdrawalRequest struct {
	ID               uuid.UUID        `json:"id"`
	PayeeID          string           `json:"payee_id"`
	PayeeWalletID    uuid.UUID        `json:"payee_wallet_id"`
	Amount           int64            `json:"amount"`
	CoveredAmount    int64            `json:"covered_amount"`
	Method           string           `json:"method"`
	Destination      string           `json:"destination"`
	Status           WithdrawalStatus `json:"status"`
	GatewayReference string           `json:"gateway_reference,omitempty"`
	FailureReason    string           `json:"failure_reason,omitempty"`
	RequestedAt      time.Time        `json:"requested_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// IdempotencyRecord stores the response of a completed keyed request.
type IdempotencyRecord struct {
	Key          string
	Scope        string
	RequestHash  string
	ResponseBody []byte
	CreatedAt    time.Time
}
