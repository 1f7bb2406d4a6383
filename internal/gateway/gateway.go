// Package gateway submits withdrawals to the payment provider. Only a stub
// exists; real M-Pesa, bank and card rails plug in behind Gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrRejected = errors.New("gateway rejected submission")

// Submission is one payout instruction. WithdrawalID doubles as the
// provider idempotency key: resubmitting it returns the first reference.
type Submission struct {
	WithdrawalID uuid.UUID
	Amount       int64
	Method       string
	Destination  string
}

type Gateway interface {
	Submit(ctx context.Context, s Submission) (reference string, err error)
}

// Stub accepts every submission and issues a synthetic reference.
type Stub struct {
	mu     sync.Mutex
	refs   map[uuid.UUID]string
	logger zerolog.Logger

	// Reject, when set, is consulted before accepting a submission.
	Reject func(Submission) bool
}

func NewStub(logger zerolog.Logger) *Stub {
	return &Stub{
		refs:   make(map[uuid.UUID]string),
		logger: logger,
	}
}

func (s *Stub) Submit(ctx context.Context, sub Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ref, ok := s.refs[sub.WithdrawalID]; ok {
		return ref, nil
	}
	if s.Reject != nil && s.Reject(sub) {
		s.logger.Warn().Str("withdrawal_id", sub.WithdrawalID.String()).Msg("stub gateway rejected submission")
		return "", fmt.Errorf("%w: %s", ErrRejected, sub.WithdrawalID)
	}

	ref := fmt.Sprintf("%s-%s", strings.ToUpper(sub.Method), strings.ToUpper(sub.WithdrawalID.String()[:8]))
	s.refs[sub.WithdrawalID] = ref
	s.logger.Info().
		Str("withdrawal_id", sub.WithdrawalID.String()).
		Int64("amount", sub.Amount).
		Str("method", sub.Method).
		Str("reference", ref).
		Msg("stub gateway accepted submission")
	return ref, nil
}

// Submitted returns the number of distinct withdrawals accepted.
func (s *Stub) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.refs)
}
