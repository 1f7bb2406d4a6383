package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/gateway"
	"github.com/punchamoorthee/tradeguard/internal/policy"
	"github.com/punchamoorthee/tradeguard/internal/reputation"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

var (
	admin    = domain.Actor{ID: "admin-1", Role: domain.RoleAdmin}
	checkout = domain.Actor{ID: "checkout", Role: domain.RoleService}
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	svc   *Service
	store *store.SQLiteStore
	rep   *reputation.Static
	gw    *gateway.Stub
	clock *testClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	st, err := store.OpenSQLite(ctx, filepath.Join(t.TempDir(), "tradeguard.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)

	rep := reputation.NewStatic(policy.TrustSignals{BuyerTrustScore: 4.8, SellerReliability: 97})
	gw := gateway.NewStub(zerolog.Nop())
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	settings := DefaultSettings()
	settings.ProofCost = bcrypt.MinCost
	svc := New(st, rep, gw, zerolog.Nop(), settings, WithClock(clock.Now))

	return &fixture{t: t, ctx: ctx, svc: svc, store: st, rep: rep, gw: gw, clock: clock}
}

type failingProvider struct{}

func (failingProvider) Signals(context.Context, string, string) (policy.TrustSignals, error) {
	return policy.TrustSignals{}, errors.New("connection refused")
}

func user(id string) domain.Actor {
	return domain.Actor{ID: id, Role: domain.RoleUser}
}

// fund opens a wallet for userID and deposits amount into trading.
func (f *fixture) fund(userID string, amount int64) domain.Wallet {
	f.t.Helper()
	w, err := f.svc.OpenWallet(f.ctx, user(userID), domain.OpenWalletRequest{UserID: userID})
	if err != nil {
		f.t.Fatalf("open wallet %s: %v", userID, err)
	}
	if amount > 0 {
		if _, err := f.svc.Deposit(f.ctx, user(userID), domain.DepositRequest{
			UserID: userID, Amount: amount, Reference: "topup-" + userID,
		}, ""); err != nil {
			f.t.Fatalf("deposit %s: %v", userID, err)
		}
	}
	return w
}

func (f *fixture) balance(userID string) domain.BalanceResponse {
	f.t.Helper()
	b, err := f.svc.GetWalletBalance(f.ctx, admin, userID)
	if err != nil {
		f.t.Fatalf("balance %s: %v", userID, err)
	}
	return b
}

func (f *fixture) expectBalance(userID string, trading, savings, reserve int64) {
	f.t.Helper()
	b := f.balance(userID)
	if b.Trading != trading || b.Savings != savings || b.Reserve != reserve {
		f.t.Fatalf("%s: expected trading/savings/reserve %d/%d/%d, got %d/%d/%d",
			userID, trading, savings, reserve, b.Trading, b.Savings, b.Reserve)
	}
}

// expectReconciled checks the balance sheet invariant straight from the store.
func (f *fixture) expectReconciled(userIDs ...string) {
	f.t.Helper()
	err := f.store.InTx(f.ctx, func(tx store.Tx) error {
		for _, id := range userIDs {
			w, err := tx.GetWalletByUser(f.ctx, id, false)
			if err != nil {
				return err
			}
			if !w.Reconciled() {
				f.t.Errorf("wallet %s not reconciled: %+v", id, w)
			}
		}
		return nil
	})
	if err != nil {
		f.t.Fatalf("reconcile: %v", err)
	}
}

func (f *fixture) hold(orderID, buyer string, amount int64) domain.Reserve {
	f.t.Helper()
	r, err := f.svc.HoldReserve(f.ctx, checkout, domain.HoldReserveRequest{OrderID: orderID, BuyerID: buyer, Amount: amount})
	if err != nil {
		f.t.Fatalf("hold %s: %v", orderID, err)
	}
	return r
}

func (f *fixture) split(reserveID uuid.UUID, shares ...domain.Share) domain.CreateSplitsResponse {
	f.t.Helper()
	resp, err := f.svc.CreateSplits(f.ctx, checkout, domain.CreateSplitsRequest{ReserveID: reserveID, Shares: shares})
	if err != nil {
		f.t.Fatalf("create splits: %v", err)
	}
	return resp
}

// order runs the standard checkout: buyer holds 2500, seller gets 2300 and
// the driver 200.
func (f *fixture) order(orderID string) (domain.Reserve, domain.CreateSplitsResponse, domain.Wallet, domain.Wallet) {
	f.t.Helper()
	seller := f.fund("seller", 0)
	driver := f.fund("driver", 0)
	r := f.hold(orderID, "buyer", 2500)
	resp := f.split(r.ID,
		domain.Share{PayeeWalletID: seller.ID, GrossAmount: 2300},
		domain.Share{PayeeWalletID: driver.ID, GrossAmount: 200, DeliveryFee: 200},
	)
	return r, resp, seller, driver
}

func (f *fixture) release(splitID uuid.UUID, proof *domain.Proof) (domain.ReleaseSplitResponse, error) {
	return f.svc.ReleaseSplit(f.ctx, checkout, domain.ReleaseSplitRequest{
		SplitID:           splitID,
		DeliveryConfirmed: true,
		Proof:             proof,
	})
}

func (f *fixture) revenue(reserveID uuid.UUID) []domain.PlatformRevenue {
	f.t.Helper()
	var out []domain.PlatformRevenue
	err := f.store.InTx(f.ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.ListRevenue(f.ctx, reserveID)
		return err
	})
	if err != nil {
		f.t.Fatalf("list revenue: %v", err)
	}
	return out
}

func expectCode(t *testing.T, err error, code domain.Code) *domain.Error {
	t.Helper()
	var de *domain.Error
	if !errors.As(err, &de) {
		t.Fatalf("expected %s, got %v", code, err)
	}
	if de.Code != code {
		t.Fatalf("expected %s, got %s: %v", code, de.Code, err)
	}
	return de
}
