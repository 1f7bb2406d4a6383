// Package service implements the escrow ledger operations. Each exported
// operation runs inside one store transaction and takes the acting
// principal explicitly.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/gateway"
	"github.com/punchamoorthee/tradeguard/internal/policy"
	"github.com/punchamoorthee/tradeguard/internal/reputation"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

// Settings are the tunable money and timing rules.
type Settings struct {
	Fees          policy.FeeSchedule
	Thresholds    policy.ReleaseThresholds
	Refunds       policy.RefundPolicy
	HoldTTL       time.Duration
	MinWithdrawal int64
	// ProofCost is the bcrypt cost for delivery OTP and QR hashes.
	ProofCost int
}

func DefaultSettings() Settings {
	return Settings{
		Fees:          policy.FeeSchedule{Rate: policy.DefaultFeeRate},
		Thresholds:    policy.DefaultThresholds,
		Refunds:       policy.RefundPolicy{CancellationRetention: policy.DefaultCancellationRetention},
		HoldTTL:       7 * 24 * time.Hour,
		MinWithdrawal: 100,
		ProofCost:     bcrypt.DefaultCost,
	}
}

type Service struct {
	store      store.Store
	reputation reputation.Provider
	gateway    gateway.Gateway
	logger     zerolog.Logger
	settings   Settings
	now        func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, rep reputation.Provider, gw gateway.Gateway, logger zerolog.Logger, settings Settings, opts ...Option) *Service {
	s := &Service{
		store:      st,
		reputation: rep,
		gateway:    gw,
		logger:     logger,
		settings:   settings,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().UTC()
}

// run executes fn in one transaction. Ledger errors pass through. Transient
// store errors become a retryable UNAVAILABLE and everything else INTERNAL.
func (s *Service) run(ctx context.Context, op string, fn func(tx store.Tx) error) error {
	err := s.store.InTx(ctx, fn)
	return s.finish(op, err)
}

func (s *Service) finish(op string, err error) error {
	if err == nil {
		ledgerOps.WithLabelValues(op, "ok").Inc()
		return nil
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		if store.IsTransient(err) {
			de = domain.Unavailable(op+" failed, retry with the same key", err)
		} else {
			de = domain.Internal(op+" failed", err)
		}
	}
	ledgerOps.WithLabelValues(op, string(de.Code)).Inc()

	if de.Retryable() || de.Code == domain.CodeInternal {
		s.logger.Error().Err(err).Str("op", op).Msg("ledger operation failed")
	} else {
		s.logger.Warn().Str("op", op).Str("code", string(de.Code)).Msg(de.Error())
	}
	return de
}

// missing turns store.ErrNotFound into a NOT_FOUND ledger error.
func missing(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNotFound) {
		return domain.Errorf(domain.CodeNotFound, format, args...)
	}
	return err
}

func forbidden(actor domain.Actor) error {
	return domain.Errorf(domain.CodeForbidden, "actor %q may not perform this operation", actor.ID)
}

func invalidTransition(format string, args ...any) error {
	return domain.Errorf(domain.CodeInvalidStateTransition, format, args...)
}
