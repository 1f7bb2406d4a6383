package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/gateway"
	"github.com/punchamoorthee/tradeguard/internal/policy"
	"github.com/punchamoorthee/tradeguard/internal/reputation"
	"github.com/punchamoorthee/tradeguard/internal/service"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

var checkout = domain.Actor{ID: "checkout", Role: domain.RoleService}

type downProvider struct{}

func (downProvider) Signals(context.Context, string, string) (policy.TrustSignals, error) {
	return policy.TrustSignals{}, errors.New("dial tcp: connection refused")
}

func newTestServer(t *testing.T, rep reputation.Provider) http.Handler {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(st.Close)

	settings := service.DefaultSettings()
	settings.ProofCost = bcrypt.MinCost
	svc := service.New(st, rep, gateway.NewStub(zerolog.Nop()), zerolog.Nop(), settings)
	return NewHandler(svc, st, NewAuthenticator(""), zerolog.Nop()).Router()
}

func trusted() reputation.Provider {
	return reputation.NewStatic(policy.TrustSignals{BuyerTrustScore: 4.8, SellerReliability: 97})
}

type call struct {
	method, path string
	actor        domain.Actor
	body         any
	key          string
}

func do(t *testing.T, h http.Handler, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		if err := json.NewEncoder(&buf).Encode(c.body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.actor.ID != "" {
		req.Header.Set("X-Actor-ID", c.actor.ID)
		req.Header.Set("X-Actor-Role", string(c.actor.Role))
	}
	if c.key != "" {
		req.Header.Set("Idempotency-Key", c.key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func owner(id string) domain.Actor {
	return domain.Actor{ID: id, Role: domain.RoleUser}
}

func openWallet(t *testing.T, h http.Handler, userID string, deposit int64) domain.Wallet {
	t.Helper()
	rec := do(t, h, call{method: http.MethodPost, path: "/api/v1/wallets", actor: owner(userID)})
	expectStatus(t, rec, http.StatusCreated)
	w := decodeBody[domain.Wallet](t, rec)
	if deposit > 0 {
		rec = do(t, h, call{
			method: http.MethodPost, path: "/api/v1/wallets/" + userID + "/deposits", actor: owner(userID),
			body: map[string]any{"amount": deposit, "reference": "topup"}, key: "topup-" + userID,
		})
		expectStatus(t, rec, http.StatusOK)
	}
	return w
}

func TestHealthAndReady(t *testing.T) {
	h := newTestServer(t, trusted())
	expectStatus(t, do(t, h, call{method: http.MethodGet, path: "/health"}), http.StatusOK)
	expectStatus(t, do(t, h, call{method: http.MethodGet, path: "/ready"}), http.StatusOK)
	expectStatus(t, do(t, h, call{method: http.MethodGet, path: "/metrics"}), http.StatusOK)
}

func TestAPIRequiresActor(t *testing.T) {
	h := newTestServer(t, trusted())
	rec := do(t, h, call{method: http.MethodGet, path: "/api/v1/wallets/alice/balance"})
	expectStatus(t, rec, http.StatusUnauthorized)
	if env := decodeBody[errorEnvelope](t, rec); env.Error.Code != "UNAUTHENTICATED" {
		t.Fatalf("unexpected error %+v", env)
	}
}

func TestCheckoutFlow(t *testing.T) {
	h := newTestServer(t, trusted())
	openWallet(t, h, "buyer", 5000)
	seller := openWallet(t, h, "seller", 0)
	driver := openWallet(t, h, "driver", 0)

	rec := do(t, h, call{method: http.MethodPost, path: "/api/v1/reserves", actor: checkout,
		body: domain.HoldReserveRequest{OrderID: "O1", BuyerID: "buyer", Amount: 2500}})
	expectStatus(t, rec, http.StatusCreated)
	reserve := decodeBody[domain.ReserveResponse](t, rec)
	if rec.Header().Get("Location") != "/api/v1/reserves/"+reserve.ReserveID.String() {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}

	rec = do(t, h, call{method: http.MethodPost, path: "/api/v1/reserves/" + reserve.ReserveID.String() + "/splits", actor: checkout,
		body: map[string]any{"shares": []domain.Share{
			{PayeeWalletID: seller.ID, GrossAmount: 2300},
			{PayeeWalletID: driver.ID, GrossAmount: 200, DeliveryFee: 200},
		}}})
	expectStatus(t, rec, http.StatusCreated)
	splits := decodeBody[domain.CreateSplitsResponse](t, rec)
	if len(splits.SplitIDs) != 2 || splits.DeliveryOTP == "" {
		t.Fatalf("unexpected splits %+v", splits)
	}

	rec = do(t, h, call{method: http.MethodPost, path: "/api/v1/splits/" + splits.SplitIDs[0].String() + "/release", actor: checkout,
		body: map[string]any{"delivery_confirmed": true}})
	expectStatus(t, rec, http.StatusOK)
	rel := decodeBody[domain.ReleaseSplitResponse](t, rec)
	if rel.ReleaseMethod != domain.ReleaseAutomatic || rel.NetPayout != 2185 {
		t.Fatalf("unexpected release %+v", rel)
	}

	rec = do(t, h, call{method: http.MethodGet, path: "/api/v1/wallets/seller/balance", actor: owner("seller")})
	expectStatus(t, rec, http.StatusOK)
	if b := decodeBody[domain.BalanceResponse](t, rec); b.Trading != 2185 {
		t.Fatalf("expected seller trading 2185, got %+v", b)
	}

	rec = do(t, h, call{method: http.MethodGet, path: "/api/v1/reserves/" + reserve.ReserveID.String(), actor: owner("buyer")})
	expectStatus(t, rec, http.StatusOK)
	detail := decodeBody[domain.ReserveDetail](t, rec)
	if detail.Reserve.ReleasedAmount != 2300 || len(detail.Splits) != 2 {
		t.Fatalf("unexpected reserve detail %+v", detail)
	}
}

func TestErrorEnvelope(t *testing.T) {
	h := newTestServer(t, trusted())
	openWallet(t, h, "buyer", 1000)

	rec := do(t, h, call{method: http.MethodPost, path: "/api/v1/wallets/buyer/deposits", actor: owner("buyer"),
		body: map[string]any{"amount": 10, "reference": "r"}})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = do(t, h, call{method: http.MethodPost, path: "/api/v1/reserves", actor: checkout,
		body: domain.HoldReserveRequest{OrderID: "O1", BuyerID: "buyer", Amount: 5000}})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	env := decodeBody[errorEnvelope](t, rec)
	if env.Error.Code != string(domain.CodeInsufficientFunds) || env.Error.Metadata["available"] != "1000" {
		t.Fatalf("unexpected error %+v", env)
	}

	rec = do(t, h, call{method: http.MethodPost, path: "/api/v1/reserves", actor: checkout,
		body: map[string]any{"order_id": "O2", "buyer_id": "buyer", "amount": -5}})
	expectStatus(t, rec, http.StatusBadRequest)
	env = decodeBody[errorEnvelope](t, rec)
	if env.Error.Metadata["amount"] != "gt" {
		t.Fatalf("expected amount validation failure, got %+v", env)
	}

	rec = do(t, h, call{method: http.MethodGet, path: "/api/v1/reserves/not-a-uuid", actor: checkout})
	expectStatus(t, rec, http.StatusBadRequest)

	rec = do(t, h, call{method: http.MethodGet, path: "/api/v1/wallets/buyer/balance", actor: owner("mallory")})
	expectStatus(t, rec, http.StatusForbidden)

	rec = do(t, h, call{method: http.MethodPost, path: "/api/v1/withdrawals", actor: owner("buyer"), key: "w1",
		body: domain.WithdrawalRequestInput{PayeeID: "buyer", Amount: 150, Method: "mpesa", Destination: "+254700000001"}})
	expectStatus(t, rec, http.StatusUnprocessableEntity)
	env = decodeBody[errorEnvelope](t, rec)
	if env.Error.Code != string(domain.CodeInsufficientBalance) || env.Error.Metadata["required"] != "150" {
		t.Fatalf("unexpected error %+v", env)
	}
}

func TestReputationOutageIsServiceUnavailable(t *testing.T) {
	h := newTestServer(t, downProvider{})
	openWallet(t, h, "buyer", 1000)
	seller := openWallet(t, h, "seller", 0)

	rec := do(t, h, call{method: http.MethodPost, path: "/api/v1/reserves", actor: checkout,
		body: domain.HoldReserveRequest{OrderID: "O1", BuyerID: "buyer", Amount: 500}})
	expectStatus(t, rec, http.StatusCreated)
	reserve := decodeBody[domain.ReserveResponse](t, rec)
	rec = do(t, h, call{method: http.MethodPost, path: "/api/v1/reserves/" + reserve.ReserveID.String() + "/splits", actor: checkout,
		body: map[string]any{"shares": []domain.Share{{PayeeWalletID: seller.ID, GrossAmount: 500}}}})
	expectStatus(t, rec, http.StatusCreated)
	splits := decodeBody[domain.CreateSplitsResponse](t, rec)

	rec = do(t, h, call{method: http.MethodPost, path: "/api/v1/splits/" + splits.SplitIDs[0].String() + "/release", actor: checkout,
		body: map[string]any{"delivery_confirmed": true}})
	expectStatus(t, rec, http.StatusServiceUnavailable)
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		code domain.Code
		want int
	}{
		{domain.CodeNotFound, http.StatusNotFound},
		{domain.CodeInvalidArgument, http.StatusBadRequest},
		{domain.CodeForbidden, http.StatusForbidden},
		{domain.CodeWalletSuspended, http.StatusForbidden},
		{domain.CodeDuplicateReserve, http.StatusConflict},
		{domain.CodeInvalidStateTransition, http.StatusConflict},
		{domain.CodeVerificationRequired, http.StatusUnprocessableEntity},
		{domain.CodeIdempotencyMismatch, http.StatusUnprocessableEntity},
		{domain.CodeUnavailable, http.StatusServiceUnavailable},
		{domain.CodeInternal, http.StatusInternalServerError},
		{"", http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.code); got != tc.want {
			t.Fatalf("%q: expected %d, got %d", tc.code, tc.want, got)
		}
	}
}

func TestBearerTokens(t *testing.T) {
	auth := NewAuthenticator("s3cret")
	good, err := IssueToken("s3cret", domain.Actor{ID: "seller", Role: domain.RoleUser}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	forged, err := IssueToken("other", domain.Actor{ID: "seller", Role: domain.RoleAdmin}, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expired, err := IssueToken("s3cret", domain.Actor{ID: "seller", Role: domain.RoleUser}, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := []struct {
		name   string
		header string
		ok     bool
	}{
		{"valid", "Bearer " + good, true},
		{"wrong secret", "Bearer " + forged, false},
		{"expired", "Bearer " + expired, false},
		{"no scheme", good, false},
		{"missing", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			// Headers are ignored once a secret is configured.
			req.Header.Set("X-Actor-ID", "admin")
			req.Header.Set("X-Actor-Role", "admin")

			actor, err := auth.Resolve(req)
			if tc.ok {
				if err != nil || actor.ID != "seller" || actor.Role != domain.RoleUser {
					t.Fatalf("expected seller, got %+v, %v", actor, err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected rejection, got %+v", actor)
			}
		})
	}
}
