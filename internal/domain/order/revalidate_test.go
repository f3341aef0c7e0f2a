package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/cafe-orders/internal/domain/coupon"
	"github.com/xenking/cafe-orders/internal/domain/menu"
	"github.com/xenking/cafe-orders/internal/domain/pricing"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, d(want).Equal(got), append([]any{"want %s, got %s", want, got}, msgAndArgs...)...)
}

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func testMenu() map[string]menu.Item {
	return menu.Index([]menu.Item{
		{ID: "m1", CafeID: "cafe-1", Name: "Masala Dosa", Price: d("100"), IsVeg: true, IsAvailable: true},
		{ID: "m2", CafeID: "cafe-1", Name: "Filter Coffee Pot", Price: d("150"), IsAvailable: true},
		{ID: "m3", CafeID: "cafe-1", Name: "Seasonal Special", Price: d("90"), IsAvailable: false},
	})
}

func testPricing() pricing.Config {
	return pricing.Config{
		TaxEnabled:      true,
		TaxRate:         d("18"),
		DeliveryEnabled: true,
		DeliveryCharge:  d("40"),
	}
}

// scenarioSubmission is the cart [100 x2, 150 x1] at a table, figures as
// a correct client computes them without a coupon.
func scenarioSubmission() *Submission {
	return &Submission{
		Items: []CartLine{
			{MenuItemID: "m1", Quantity: 2, Price: d("100"), Name: "Masala Dosa"},
			{MenuItemID: "m2", Quantity: 1, Price: d("150"), Name: "Filter Coffee Pot"},
		},
		CustomerName:   "Asha",
		CustomerPhone:  "+919800000001",
		OrderType:      TypeDineIn,
		TableNumber:    "7",
		PaymentMethod:  PaymentCash,
		Subtotal:       d("350"),
		Tax:            d("63"),
		DeliveryCharge: decimal.Zero,
		Total:          d("413"),
	}
}

func fixedCoupon(value string) *coupon.Coupon {
	return &coupon.Coupon{
		ID:            "cp1",
		CafeID:        "cafe-1",
		Code:          "FLAT50",
		DiscountType:  coupon.DiscountFixed,
		DiscountValue: d(value),
		MinOrderValue: decimal.Zero,
		IsActive:      true,
		ValidFrom:     testNow.Add(-time.Hour),
	}
}

func newTestRevalidator() *Revalidator {
	r := NewRevalidator()
	r.now = func() time.Time { return testNow }
	return r
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var oe *Error
	require.ErrorAs(t, err, &oe)
	require.Equal(t, kind, oe.Kind, oe.Error())
	return oe
}

func TestRevalidate_ScenarioA(t *testing.T) {
	ap, err := newTestRevalidator().Revalidate(scenarioSubmission(), testMenu(), testPricing(), nil)
	require.NoError(t, err)

	assertDecimal(t, "350", ap.Quote.Subtotal)
	assertDecimal(t, "63", ap.Quote.Tax)
	assertDecimal(t, "0", ap.Quote.DeliveryCharge)
	assertDecimal(t, "413", ap.Quote.Total)
	assert.Nil(t, ap.Coupon)
	require.Len(t, ap.Lines, 2)
	assertDecimal(t, "200", ap.Lines[0].Subtotal)
}

func TestRevalidate_ScenarioB(t *testing.T) {
	sub := scenarioSubmission()
	sub.CouponCode = "flat50"
	sub.Tax = d("54")
	sub.Total = d("354")

	ap, err := newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), fixedCoupon("50"))
	require.NoError(t, err)

	assertDecimal(t, "50", ap.Quote.DiscountAmount)
	assertDecimal(t, "300", ap.Quote.DiscountedSubtotal)
	assertDecimal(t, "54", ap.Quote.Tax)
	assertDecimal(t, "354", ap.Quote.Total)
	require.NotNil(t, ap.Coupon)
	assert.Equal(t, "cp1", ap.Coupon.ID)
}

func TestPrice_ScenarioC(t *testing.T) {
	c := fixedCoupon("20")
	c.DiscountType = coupon.DiscountPercentage

	ap, err := newTestRevalidator().Price(scenarioSubmission().Items, testMenu(), testPricing(), TypeTakeaway, "FLAT50", c)
	require.NoError(t, err)

	assertDecimal(t, "70", ap.Quote.DiscountAmount)
	assertDecimal(t, "280", ap.Quote.DiscountedSubtotal)
}

func TestRevalidate_ScenarioD(t *testing.T) {
	sub := scenarioSubmission()
	sub.OrderType = TypeDelivery
	sub.TableNumber = ""

	_, err := newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), nil)
	oe := requireKind(t, err, KindValidation)
	assert.Equal(t, []string{"deliveryAddress"}, oe.Fields)
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Submission)
		fields []string
	}{
		{
			name:   "dine in without table",
			mutate: func(s *Submission) { s.TableNumber = "" },
			fields: []string{"tableNumber"},
		},
		{
			name:   "online without reference",
			mutate: func(s *Submission) { s.PaymentMethod = PaymentOnline },
			fields: []string{"paymentReference"},
		},
		{
			name:   "empty cart",
			mutate: func(s *Submission) { s.Items = nil },
			fields: []string{"items"},
		},
		{
			name:   "zero quantity",
			mutate: func(s *Submission) { s.Items[1].Quantity = 0 },
			fields: []string{"items[1].quantity"},
		},
		{
			name:   "unknown order type",
			mutate: func(s *Submission) { s.OrderType = "DRIVE_THRU" },
			fields: []string{"orderType"},
		},
		{
			name:   "unknown payment method",
			mutate: func(s *Submission) { s.PaymentMethod = "CHEQUE" },
			fields: []string{"paymentMethod"},
		},
		{
			name:   "missing customer",
			mutate: func(s *Submission) { s.CustomerName, s.CustomerPhone = "", "" },
			fields: []string{"customerName", "customerPhone"},
		},
		{
			name:   "bad email",
			mutate: func(s *Submission) { s.CustomerEmail = "asha-at-example" },
			fields: []string{"customerEmail"},
		},
	}

	r := newTestRevalidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := scenarioSubmission()
			tt.mutate(sub)

			oe := requireKind(t, r.Check(sub), KindValidation)
			assert.Equal(t, tt.fields, oe.Fields)
			assert.NotEmpty(t, oe.Message)
		})
	}

	t.Run("takeaway needs neither table nor address", func(t *testing.T) {
		sub := scenarioSubmission()
		sub.OrderType = TypeTakeaway
		sub.TableNumber = ""
		require.NoError(t, r.Check(sub))
	})

	t.Run("online with reference", func(t *testing.T) {
		sub := scenarioSubmission()
		sub.PaymentMethod = PaymentOnline
		sub.PaymentReference = "pay_123"
		require.NoError(t, r.Check(sub))
	})

	t.Run("nil submission", func(t *testing.T) {
		requireKind(t, r.Check(nil), KindValidation)
	})
}

func TestRevalidate_ItemsUnavailable(t *testing.T) {
	tests := []struct {
		name  string
		lines []CartLine
		items []string
	}{
		{
			name:  "unknown item",
			lines: []CartLine{{MenuItemID: "m1", Quantity: 1}, {MenuItemID: "nope", Quantity: 1}},
			items: []string{"nope"},
		},
		{
			name:  "unavailable item",
			lines: []CartLine{{MenuItemID: "m3", Quantity: 1}},
			items: []string{"m3"},
		},
		{
			name:  "duplicate line",
			lines: []CartLine{{MenuItemID: "m1", Quantity: 1}, {MenuItemID: "m2", Quantity: 1}, {MenuItemID: "m1", Quantity: 2}},
			items: []string{"m1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := scenarioSubmission()
			sub.Items = tt.lines

			_, err := newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), nil)
			oe := requireKind(t, err, KindItemsUnavailable)
			assert.Equal(t, tt.items, oe.Items)
		})
	}
}

func TestRevalidate_Tolerance(t *testing.T) {
	tests := []struct {
		name   string
		total  string
		fields []string
	}{
		{name: "exact", total: "413"},
		{name: "drift below tolerance", total: "413.99"},
		{name: "drift at tolerance", total: "412"},
		{name: "just over tolerance", total: "414.01", fields: []string{"total"}},
		{name: "tampered", total: "13", fields: []string{"total"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := scenarioSubmission()
			sub.Total = d(tt.total)

			ap, err := newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), nil)
			if tt.fields == nil {
				require.NoError(t, err)
				assertDecimal(t, "413", ap.Quote.Total, "server total wins")
				return
			}
			oe := requireKind(t, err, KindCalculationMismatch)
			assert.Equal(t, tt.fields, oe.Fields)
		})
	}
}

func TestRevalidate_TamperedDeliveryCharge(t *testing.T) {
	sub := scenarioSubmission()
	sub.OrderType = TypeDelivery
	sub.TableNumber = ""
	sub.DeliveryAddress = "12 MG Road"
	// Subtotal and tax are right; the client dropped the delivery charge.
	sub.DeliveryCharge = decimal.Zero
	sub.Total = d("413")

	_, err := newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), nil)
	oe := requireKind(t, err, KindCalculationMismatch)
	assert.Equal(t, []string{"deliveryCharge", "total"}, oe.Fields)

	sub.DeliveryCharge = d("40")
	sub.Total = d("453")
	_, err = newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), nil)
	require.NoError(t, err)
}

func TestRevalidate_IgnoresClientPrice(t *testing.T) {
	sub := scenarioSubmission()
	sub.Items[0].Price = d("1")
	sub.Items[0].Name = "Free Dosa"

	ap, err := newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), nil)
	require.NoError(t, err)
	assertDecimal(t, "100", ap.Lines[0].Price)
	assert.Equal(t, "Masala Dosa", ap.Lines[0].Name)
	assertDecimal(t, "350", ap.Quote.Subtotal)

	// Figures computed from the tampered price are rejected.
	sub.Subtotal = d("152")
	sub.Tax = d("27.36")
	sub.Total = d("179.36")
	_, err = newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), nil)
	oe := requireKind(t, err, KindCalculationMismatch)
	assert.Equal(t, []string{"subtotal", "tax", "total"}, oe.Fields)
}

func TestRevalidate_CouponIneligible(t *testing.T) {
	t.Run("below minimum", func(t *testing.T) {
		c := fixedCoupon("50")
		c.MinOrderValue = d("500")
		sub := scenarioSubmission()
		sub.CouponCode = "FLAT50"

		_, err := newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), c)
		oe := requireKind(t, err, KindCouponIneligible)
		assert.Equal(t, coupon.ReasonBelowMinimum, oe.Reason)
		assert.Contains(t, oe.Message, "below minimum")
	})

	t.Run("unknown code", func(t *testing.T) {
		sub := scenarioSubmission()
		sub.CouponCode = "NOPE"

		_, err := newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), nil)
		oe := requireKind(t, err, KindCouponIneligible)
		assert.Equal(t, coupon.ReasonInvalidCode, oe.Reason)
	})

	t.Run("exhausted", func(t *testing.T) {
		c := fixedCoupon("50")
		limit := 1
		c.UsageLimit = &limit
		c.UsedCount = 1
		sub := scenarioSubmission()
		sub.CouponCode = "FLAT50"

		_, err := newTestRevalidator().Revalidate(sub, testMenu(), testPricing(), c)
		oe := requireKind(t, err, KindCouponIneligible)
		assert.Equal(t, coupon.ReasonExhausted, oe.Reason)
	})
}

func TestRevalidate_TaxDisabled(t *testing.T) {
	cfg := testPricing()
	cfg.TaxEnabled = false
	sub := scenarioSubmission()
	sub.Tax = decimal.Zero
	sub.Total = d("350")

	ap, err := newTestRevalidator().Revalidate(sub, testMenu(), cfg, nil)
	require.NoError(t, err)
	assertDecimal(t, "0", ap.Quote.Tax)
}
