package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/gateway/stripe"
)

func sessionID(r *http.Request) (string, error) {
	id := r.URL.Query().Get("session_id")
	if id == "" {
		return "", badRequest("session_id is required")
	}
	return id, nil
}

func (h *Handler) checkoutSuccess(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.VerifyCheckout(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) checkoutCancel(w http.ResponseWriter, r *http.Request) {
	id, err := sessionID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.CancelCheckout(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(o))
}

func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := readBody(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ev, err := h.webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		zctx.From(r.Context()).Warn("Webhook rejected", zap.Error(err))
		writeProblem(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
		return
	}

	lg := zctx.From(r.Context()).With(zap.String("session_id", ev.Result.SessionID))
	switch ev.Kind {
	case stripe.WebhookCompleted:
		_, err = h.orders.VerifyCheckout(r.Context(), ev.Result.SessionID)
	case stripe.WebhookExpired:
		_, err = h.orders.ExpireCheckout(r.Context(), ev.Result)
	}
	switch {
	case err == nil:
	case errors.Is(err, order.ErrNotFound):
		// Sessions of other integrations on the same account.
		lg.Info("Webhook for unknown session ignored")
	case order.KindOf(err) == order.KindExternal || order.KindOf(err) == order.KindInternal:
		// Answer with an error so the gateway redelivers.
		writeError(w, r, err)
		return
	default:
		lg.Warn("Webhook not applied", zap.Error(err))
	}

	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("received", func(e *jx.Encoder) { e.Bool(true) })
	})
	writeJSON(w, http.StatusOK, e.Bytes())
}
