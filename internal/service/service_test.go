package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

// brokenStore fails every transaction with err.
type brokenStore struct {
	store.Store
	err error
}

func (b brokenStore) InTx(context.Context, func(store.Tx) error) error {
	return b.err
}

func TestStoreFailuresAreClassified(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      domain.Code
		retryable bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, domain.CodeUnavailable, true},
		{"deadlock", fmt.Errorf("update wallet: %w", &pgconn.PgError{Code: "40P01"}), domain.CodeUnavailable, true},
		{"deadline", context.DeadlineExceeded, domain.CodeUnavailable, true},
		{"check violation", &pgconn.PgError{Code: "23514"}, domain.CodeInternal, false},
		{"plain error", errors.New("check constraint failed"), domain.CodeInternal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.svc.store = brokenStore{Store: f.store, err: tt.err}

			_, err := f.svc.OpenWallet(f.ctx, checkout, domain.OpenWalletRequest{UserID: "buyer"})
			de := expectCode(t, err, tt.code)
			if de.Retryable() != tt.retryable {
				t.Fatalf("expected retryable=%v for %v", tt.retryable, tt.err)
			}
			if !errors.Is(err, tt.err) {
				t.Fatalf("expected cause %v to be kept, got %v", tt.err, err)
			}
		})
	}
}

func TestLedgerErrorsPassThrough(t *testing.T) {
	f := newFixture(t)
	want := domain.Errorf(domain.CodeInsufficientFunds, "short")
	f.svc.store = brokenStore{Store: f.store, err: want}

	_, err := f.svc.OpenWallet(f.ctx, checkout, domain.OpenWalletRequest{UserID: "buyer"})
	de := expectCode(t, err, domain.CodeInsufficientFunds)
	if de != want {
		t.Fatalf("expected the original error, got %v", err)
	}
}
