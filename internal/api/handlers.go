package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/tradeguard/internal/domain"
)

func (h *Handler) OpenWalletHandler(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r.Context())
	var req domain.OpenWalletRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	if req.UserID == "" {
		req.UserID = actor.ID
	}
	if !h.check(w, req) {
		return
	}
	wallet, err := h.svc.OpenWallet(r.Context(), actor, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, wallet)
}

func (h *Handler) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := h.svc.GetWalletBalance(r.Context(), actorFrom(r.Context()), mux.Vars(r)["userId"])
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondWithError(w, http.StatusBadRequest, string(domain.CodeInvalidArgument), "limit must be a positive integer", nil)
			return
		}
		limit = n
	}
	txs, err := h.svc.ListTransactions(r.Context(), actorFrom(r.Context()), mux.Vars(r)["userId"], limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if txs == nil {
		txs = []domain.WalletTransaction{}
	}
	respondWithJSON(w, http.StatusOK, txs)
}

func (h *Handler) DepositHandler(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req domain.DepositRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	req.UserID = mux.Vars(r)["userId"]
	if !h.check(w, req) {
		return
	}
	resp, err := h.svc.Deposit(r.Context(), actorFrom(r.Context()), req, key)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) TransferHandler(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req domain.TransferRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	req.UserID = mux.Vars(r)["userId"]
	if !h.check(w, req) {
		return
	}
	resp, err := h.svc.TransferInternal(r.Context(), actorFrom(r.Context()), req, key)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) SetWalletStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.WalletStatusRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	req.UserID = mux.Vars(r)["userId"]
	if !h.check(w, req) {
		return
	}
	resp, err := h.svc.SetWalletStatus(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) HoldReserveHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.HoldReserveRequest
	if !h.decode(w, r, &req, false) || !h.check(w, req) {
		return
	}
	res, err := h.svc.HoldReserve(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/reserves/%s", res.ID))
	respondWithJSON(w, http.StatusCreated, reserveResponse(res))
}

func (h *Handler) HoldBoostHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.HoldBoostRequest
	if !h.decode(w, r, &req, false) || !h.check(w, req) {
		return
	}
	res, err := h.svc.HoldBoost(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/reserves/%s", res.ID))
	respondWithJSON(w, http.StatusCreated, reserveResponse(res))
}

func reserveResponse(r domain.Reserve) domain.ReserveResponse {
	return domain.ReserveResponse{
		ReserveID: r.ID,
		OrderID:   r.OrderID,
		Status:    r.Status,
		Amount:    r.Amount,
		ExpiresAt: r.ExpiresAt,
	}
}

func (h *Handler) GetReserveHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.svc.GetReserve(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, detail)
}

func (h *Handler) CreateSplitsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req domain.CreateSplitsRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	req.ReserveID = id
	if !h.check(w, req) {
		return
	}
	resp, err := h.svc.CreateSplits(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, resp)
}

func (h *Handler) RefundReserveHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req domain.RefundReserveRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	req.ReserveID = id
	if !h.check(w, req) {
		return
	}
	resp, err := h.svc.RefundReserve(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) RaiseDisputeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req domain.DisputeRequest
	if !h.decode(w, r, &req, false) || !h.check(w, req) {
		return
	}
	detail, err := h.svc.RaiseDispute(r.Context(), actorFrom(r.Context()), id, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, detail)
}

func (h *Handler) ResolveDisputeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req domain.ResolveDisputeRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	req.ReserveID = id
	if !h.check(w, req) {
		return
	}
	resp, err := h.svc.ResolveDispute(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) ReleaseSplitHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req domain.ReleaseSplitRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	req.SplitID = id
	if !h.check(w, req) {
		return
	}
	resp, err := h.svc.ReleaseSplit(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) RaiseSplitDisputeHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req domain.DisputeRequest
	if !h.decode(w, r, &req, false) || !h.check(w, req) {
		return
	}
	sp, err := h.svc.RaiseSplitDispute(r.Context(), actorFrom(r.Context()), id, req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, sp)
}

func (h *Handler) RequestWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	key, ok := idempotencyKey(w, r)
	if !ok {
		return
	}
	var req domain.WithdrawalRequestInput
	if !h.decode(w, r, &req, false) || !h.check(w, req) {
		return
	}
	resp, err := h.svc.RequestWithdrawal(r.Context(), actorFrom(r.Context()), req, key)
	if err != nil {
		h.fail(w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/v1/withdrawals/%s", resp.WithdrawalID))
	respondWithJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetWithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	wr, err := h.svc.GetWithdrawal(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wr)
}

func (h *Handler) ConfirmSettlementHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}
	var req domain.SettlementRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	req.WithdrawalID = id
	if !h.check(w, req) {
		return
	}
	wr, err := h.svc.ConfirmSettlement(r.Context(), actorFrom(r.Context()), req)
	if err != nil {
		h.fail(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, wr)
}

func (h *Handler) ListPayoutsHandler(w http.ResponseWriter, r *http.Request) {
	payouts, err := h.svc.ListPayouts(r.Context(), actorFrom(r.Context()), mux.Vars(r)["userId"])
	if err != nil {
		h.fail(w, err)
		return
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	respondWithJSON(w, http.StatusOK, payouts)
}
