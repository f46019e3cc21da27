package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

func withCustomer(r *http.Request, req order.PlaceOrderRequest) order.PlaceOrderRequest {
	c := customer(r)
	req.UserID = c.UserID
	req.Premium = c.Premium
	req.Email = c.Email
	if req.Address.Email != "" {
		req.Email = req.Address.Email
	}
	return req
}

func (h *Handler) quote(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlaceOrder(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q, err := h.orders.Quote(r.Context(), withCustomer(r, req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeQuote(q))
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlaceOrder(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.orders.PlaceOrder(r.Context(), withCustomer(r, req))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodePlaceResult(res))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), chi.URLParam(r, "orderID"), customer(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) verifyIntent(w http.ResponseWriter, r *http.Request) {
	v, err := decodeVerification(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.VerifyIntent(r.Context(), chi.URLParam(r, "orderID"), customer(r).UserID, v)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) requestRefund(w http.ResponseWriter, r *http.Request) {
	body, err := decodeRefund(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.RequestRefund(r.Context(), order.RefundRequest{
		OrderID: chi.URLParam(r, "orderID"),
		UserID:  customer(r).UserID,
		Fault:   body.fault,
		Payout:  body.payout,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}
