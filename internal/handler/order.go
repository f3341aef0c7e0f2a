package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/cafe-orders/internal/domain/order"
)

type placeOrderResponse struct {
	ID          string  `json:"id"`
	OrderNumber string  `json:"orderNumber"`
	Status      string  `json:"status"`
	Total       float64 `json:"total"`
}

// PlaceOrder handles POST /cafes/{cafeID}/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var sub order.Submission
	if err := decodeBody(r, &sub); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), chi.URLParam(r, "cafeID"), &sub)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, placeOrderResponse{
		ID:          o.ID,
		OrderNumber: o.OrderNumber,
		Status:      string(o.Status),
		Total:       money(o.Total),
	})
}

type quoteRequest struct {
	Items      []order.CartLine `json:"items"`
	OrderType  order.Type       `json:"orderType"`
	CouponCode string           `json:"couponCode,omitempty"`
}

type quoteLine struct {
	MenuItemID string  `json:"menuItemId"`
	Name       string  `json:"name"`
	Price      float64 `json:"price"`
	Quantity   int     `json:"quantity"`
	Subtotal   float64 `json:"subtotal"`
}

type quoteResponse struct {
	Items              []quoteLine `json:"items"`
	Subtotal           float64     `json:"subtotal"`
	DiscountAmount     float64     `json:"discountAmount"`
	DiscountedSubtotal float64     `json:"discountedSubtotal"`
	Tax                float64     `json:"tax"`
	DeliveryCharge     float64     `json:"deliveryCharge"`
	Total              float64     `json:"total"`
	CouponCode         string      `json:"couponCode,omitempty"`
}

// Quote handles POST /cafes/{cafeID}/quote.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ap, err := h.orders.Quote(r.Context(), chi.URLParam(r, "cafeID"), order.QuoteRequest{
		Items:      req.Items,
		OrderType:  req.OrderType,
		CouponCode: req.CouponCode,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	lines := make([]quoteLine, len(ap.Lines))
	for i, l := range ap.Lines {
		lines[i] = quoteLine{
			MenuItemID: l.MenuItemID,
			Name:       l.Name,
			Price:      l.Price.InexactFloat64(),
			Quantity:   l.Quantity,
			Subtotal:   l.Subtotal.InexactFloat64(),
		}
	}
	resp := quoteResponse{
		Items:              lines,
		Subtotal:           money(ap.Quote.Subtotal),
		DiscountAmount:     money(ap.Quote.DiscountAmount),
		DiscountedSubtotal: money(ap.Quote.DiscountedSubtotal),
		Tax:                money(ap.Quote.Tax),
		DeliveryCharge:     money(ap.Quote.DeliveryCharge),
		Total:              money(ap.Quote.Total),
	}
	if ap.Coupon != nil {
		resp.CouponCode = ap.Coupon.Code
	}
	writeJSON(w, http.StatusOK, resp)
}

type updateStatusRequest struct {
	Status order.Status `json:"status"`
}

type updateStatusResponse struct {
	ID          string `json:"id"`
	OrderNumber string `json:"orderNumber"`
	Status      string `json:"status"`
}

// UpdateStatus handles PATCH /cafes/{cafeID}/orders/{orderID}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ch, err := h.orders.UpdateStatus(r.Context(), chi.URLParam(r, "cafeID"), chi.URLParam(r, "orderID"), req.Status)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updateStatusResponse{
		ID:          ch.OrderID,
		OrderNumber: ch.OrderNumber,
		Status:      string(ch.Status),
	})
}

// money rounds a figure for display. Stored values keep full precision.
func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
