package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/carrier"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
)

func (h *Handler) carrierWebhook(w http.ResponseWriter, r *http.Request) {
	u, err := decodeCarrierUpdate(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status, ok := carrier.ParseStatus(u.status)
	if !ok {
		zctx.From(r.Context()).Warn("Unmapped carrier status",
			zap.String("order_id", u.orderID),
			zap.String("raw", u.status),
		)
		status = shipment.Status(u.status)
	}
	o, err := h.orders.ApplyCarrierStatus(r.Context(), u.orderID, status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) retryDispatch(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.RetryDispatch(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) syncCarrier(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.SyncCarrierStatus(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) createCoupon(w http.ResponseWriter, r *http.Request) {
	rule, err := decodeCouponRule(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := h.coupons.Create(r.Context(), rule)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeCoupon(created))
}
