package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cafe-orders/internal/domain/order"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Code    int      `json:"code"`
	Kind    string   `json:"kind,omitempty"`
	Message string   `json:"message"`
	Fields  []string `json:"fields,omitempty"`
	Items   []string `json:"items,omitempty"`
	Reason  string   `json:"reason,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusOf(kind order.Kind) int {
	switch kind {
	case order.KindValidation:
		return http.StatusBadRequest
	case order.KindNotFound:
		return http.StatusNotFound
	case order.KindItemsUnavailable, order.KindCouponIneligible:
		return http.StatusUnprocessableEntity
	case order.KindCalculationMismatch:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps domain errors to responses. Anything unclassified is
// logged and reported as a generic failure.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var oe *order.Error
	if !errors.As(err, &oe) {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Code:    http.StatusInternalServerError,
			Kind:    string(order.KindTransactionFailure),
			Message: "internal error",
		})
		return
	}

	status := statusOf(oe.Kind)
	msg := oe.Message
	if status == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		msg = "order could not be saved"
	}
	writeJSON(w, status, errorResponse{
		Code:    status,
		Kind:    string(oe.Kind),
		Message: msg,
		Fields:  oe.Fields,
		Items:   oe.Items,
		Reason:  string(oe.Reason),
	})
}

// decodeBody reads a JSON body into dst. Failures are reported as
// validation errors.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return &order.Error{Kind: order.KindValidation, Message: "malformed request body", Err: err}
	}
	return nil
}
