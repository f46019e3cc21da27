package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("invalid request")

func badRequest(msg string) error {
	return errors.Wrap(errBadRequest, msg)
}

// writeError maps err onto a status code and a {"code","message"} body.
// Internal errors are logged and answered with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	msg := err.Error()

	if errors.Is(err, errBadRequest) {
		status, code = http.StatusBadRequest, "invalid_request"
	} else {
		switch order.KindOf(err) {
		case order.KindValidation:
			status, code = http.StatusUnprocessableEntity, "validation_failed"
		case order.KindNotFound:
			status, code = http.StatusNotFound, "not_found"
		case order.KindForbidden:
			status, code = http.StatusForbidden, "forbidden"
		case order.KindConsistency:
			status, code = http.StatusConflict, "conflict"
		case order.KindExternal:
			status, code = http.StatusBadGateway, "upstream_unavailable"
		}
	}

	lg := zctx.From(r.Context())
	switch {
	case status >= http.StatusInternalServerError:
		lg.Error("Request failed", zap.Int("status", status), zap.Error(err))
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	default:
		lg.Debug("Request rejected", zap.Int("status", status), zap.Error(err))
	}
	writeProblem(w, status, code, msg)
}

func writeProblem(w http.ResponseWriter, status int, code, msg string) {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(code) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msg) })
	})
	writeJSON(w, status, e.Bytes())
}

func writeJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
