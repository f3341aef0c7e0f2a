package realtime

import (
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelName(t *testing.T) {
	assert.Equal(t, "cafe-42-orders", ChannelName("42"))
}

func TestOrderCreated_Wire(t *testing.T) {
	ev := &OrderCreated{
		ID:           "o1",
		OrderNumber:  "ORD123456ABC",
		CustomerName: "Asha",
		Total:        decimal.RequireFromString("413.5"),
		OrderType:    "DELIVERY",
		Status:       "PENDING",
		CreatedAt:    time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC),
	}

	payload := Marshal(ev)
	assert.JSONEq(t, `{
		"id": "o1",
		"orderNumber": "ORD123456ABC",
		"customerName": "Asha",
		"total": 413.5,
		"orderType": "DELIVERY",
		"status": "PENDING",
		"createdAt": "2025-06-15T12:00:00Z"
	}`, string(payload))

	got, err := Decode(NameOrderCreated, payload)
	require.NoError(t, err)
	created, ok := got.(*OrderCreated)
	require.True(t, ok)
	assert.True(t, ev.Total.Equal(created.Total))
	assert.True(t, ev.CreatedAt.Equal(created.CreatedAt))
	assert.Equal(t, ev.OrderNumber, created.OrderNumber)
}

func TestOrderStatusUpdated_Wire(t *testing.T) {
	ev := &OrderStatusUpdated{OrderID: "o1", Status: "READY", OrderNumber: "ORD123456ABC"}

	payload := Marshal(ev)
	assert.JSONEq(t, `{"orderId":"o1","status":"READY","orderNumber":"ORD123456ABC"}`, string(payload))

	got, err := Decode(NameOrderStatusUpdated, payload)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestDecode_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		event   string
		payload string
		missing []string
	}{
		{
			name:    "status update without order number",
			event:   NameOrderStatusUpdated,
			payload: `{"orderId":"o1","status":"READY"}`,
			missing: []string{"orderNumber"},
		},
		{
			name:    "status update with empty id",
			event:   NameOrderStatusUpdated,
			payload: `{"orderId":"","status":"READY","orderNumber":"ORD1"}`,
			missing: []string{"orderId"},
		},
		{
			name:    "status update with numeric status",
			event:   NameOrderStatusUpdated,
			payload: `{"orderId":"o1","status":3,"orderNumber":"ORD1"}`,
			missing: []string{"status"},
		},
		{
			name:    "created without total and createdAt",
			event:   NameOrderCreated,
			payload: `{"id":"o1","orderNumber":"ORD1","customerName":"A","orderType":"TAKEAWAY","status":"PENDING"}`,
			missing: []string{"total", "createdAt"},
		},
		{
			name:    "created with null total",
			event:   NameOrderCreated,
			payload: `{"id":"o1","orderNumber":"ORD1","customerName":"A","total":null,"orderType":"TAKEAWAY","status":"PENDING","createdAt":"2025-06-15T12:00:00Z"}`,
			missing: []string{"total"},
		},
		{
			name:    "not an object",
			event:   NameOrderCreated,
			payload: `[1,2,3]`,
		},
		{
			name:    "status update with trailing data",
			event:   NameOrderStatusUpdated,
			payload: `{"orderId":"a","status":"b","orderNumber":"c"}garbage`,
		},
		{
			name:    "created followed by a second object",
			event:   NameOrderCreated,
			payload: `{"id":"o1","orderNumber":"ORD1","customerName":"A","total":1,"orderType":"TAKEAWAY","status":"PENDING","createdAt":"2025-06-15T12:00:00Z"}{}`,
		},
		{
			name:    "bad timestamp",
			event:   NameOrderCreated,
			payload: `{"id":"o1","orderNumber":"ORD1","customerName":"A","total":1,"orderType":"TAKEAWAY","status":"PENDING","createdAt":"yesterday"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.event, []byte(tt.payload))
			var me *MalformedError
			require.ErrorAs(t, err, &me)
			// Compared directly: a nil pointer inside the interface is not nil.
			require.True(t, ev == nil, "got %#v", ev)
			if tt.missing != nil {
				assert.Equal(t, tt.missing, me.Missing)
			}
		})
	}
}

func TestDecode_UnknownEvent(t *testing.T) {
	_, err := Decode("order-deleted", []byte(`{}`))
	require.True(t, errors.Is(err, ErrUnknownEvent))
}

func TestDecode_TotalAsString(t *testing.T) {
	got, err := Decode(NameOrderCreated, []byte(`{"id":"o1","orderNumber":"ORD1","customerName":"A","total":"99.90","orderType":"TAKEAWAY","status":"PENDING","createdAt":"2025-06-15T12:00:00Z","extra":{"a":1}}`))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("99.9").Equal(got.(*OrderCreated).Total))
}

func TestDecode_TrailingWhitespace(t *testing.T) {
	got, err := Decode(NameOrderStatusUpdated, []byte("{\"orderId\":\"o1\",\"status\":\"READY\",\"orderNumber\":\"ORD1\"}\n"))
	require.NoError(t, err)
	assert.Equal(t, &OrderStatusUpdated{OrderID: "o1", Status: "READY", OrderNumber: "ORD1"}, got)
}
