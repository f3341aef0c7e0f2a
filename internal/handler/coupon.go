package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/cafe-orders/internal/domain/coupon"
	"github.com/xenking/cafe-orders/internal/domain/order"
)

type validateCouponRequest struct {
	Code     string           `json:"code"`
	Subtotal decimal.Decimal  `json:"subtotal"`
	Items    []order.CartLine `json:"items,omitempty"`
}

type couponView struct {
	Code          string   `json:"code"`
	DiscountType  string   `json:"discountType"`
	DiscountValue float64  `json:"discountValue"`
	MinOrderValue float64  `json:"minOrderValue"`
	MaxDiscount   *float64 `json:"maxDiscount"`
}

type validateCouponResponse struct {
	Valid          bool        `json:"valid"`
	Coupon         *couponView `json:"coupon,omitempty"`
	DiscountAmount *float64    `json:"discountAmount,omitempty"`
	Error          string      `json:"error,omitempty"`
	Reason         string      `json:"reason,omitempty"`
	Items          []string    `json:"items,omitempty"`
}

// ValidateCoupon handles POST /cafes/{cafeID}/coupons/validate. It only
// reads the coupon; redemption happens when the order is written.
func (h *Handler) ValidateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ctx := r.Context()
	cafeID := chi.URLParam(r, "cafeID")

	subtotal := req.Subtotal
	if len(req.Items) > 0 {
		ap, err := h.orders.Quote(ctx, cafeID, order.QuoteRequest{Items: req.Items})
		if err != nil {
			// A cart that cannot be priced makes the coupon invalid for it.
			var oe *order.Error
			if errors.As(err, &oe) && (oe.Kind == order.KindItemsUnavailable || oe.Kind == order.KindValidation) {
				writeJSON(w, http.StatusOK, validateCouponResponse{
					Error:  oe.Message,
					Reason: string(oe.Kind),
					Items:  oe.Items,
				})
				return
			}
			writeError(w, r, err)
			return
		}
		subtotal = ap.Quote.Subtotal
	}

	res, err := h.coupons.Validate(ctx, cafeID, req.Code, subtotal)
	if err != nil {
		var ie *coupon.IneligibleError
		if !errors.As(err, &ie) {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, validateCouponResponse{
			Error:  ie.Error(),
			Reason: string(ie.Reason),
		})
		return
	}

	c := res.Coupon
	view := &couponView{
		Code:          c.Code,
		DiscountType:  string(c.DiscountType),
		DiscountValue: c.DiscountValue.InexactFloat64(),
		MinOrderValue: c.MinOrderValue.InexactFloat64(),
	}
	if c.MaxDiscount != nil {
		v := c.MaxDiscount.InexactFloat64()
		view.MaxDiscount = &v
	}
	amount := money(res.DiscountAmount)
	writeJSON(w, http.StatusOK, validateCouponResponse{
		Valid:          true,
		Coupon:         view,
		DiscountAmount: &amount,
	})
}
