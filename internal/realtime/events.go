// Package realtime distributes order lifecycle events over a per-cafe
// pub-sub channel.
package realtime

import (
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Event names on the wire.
const (
	NameOrderCreated       = "order-created"
	NameOrderStatusUpdated = "order-status-updated"
)

// ChannelName returns the cafe's event channel. There is one channel per
// cafe, shared by all of its orders.
func ChannelName(cafeID string) string {
	return "cafe-" + cafeID + "-orders"
}

// Event is one of *OrderCreated or *OrderStatusUpdated.
type Event interface {
	Name() string
	Encode(e *jx.Encoder)
	isEvent()
}

// OrderCreated is published after an order is committed.
type OrderCreated struct {
	ID           string
	OrderNumber  string
	CustomerName string
	Total        decimal.Decimal
	OrderType    string
	Status       string
	CreatedAt    time.Time
}

// OrderStatusUpdated is published after an order changes status.
type OrderStatusUpdated struct {
	OrderID     string
	Status      string
	OrderNumber string
}

func (*OrderCreated) Name() string       { return NameOrderCreated }
func (*OrderStatusUpdated) Name() string { return NameOrderStatusUpdated }
func (*OrderCreated) isEvent()           {}
func (*OrderStatusUpdated) isEvent()     {}

// Encode writes the event payload.
func (ev *OrderCreated) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("id")
	e.Str(ev.ID)
	e.FieldStart("orderNumber")
	e.Str(ev.OrderNumber)
	e.FieldStart("customerName")
	e.Str(ev.CustomerName)
	e.FieldStart("total")
	e.Num(jx.Num(ev.Total.String()))
	e.FieldStart("orderType")
	e.Str(ev.OrderType)
	e.FieldStart("status")
	e.Str(ev.Status)
	e.FieldStart("createdAt")
	e.Str(ev.CreatedAt.UTC().Format(time.RFC3339Nano))
	e.ObjEnd()
}

// Encode writes the event payload.
func (ev *OrderStatusUpdated) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("orderId")
	e.Str(ev.OrderID)
	e.FieldStart("status")
	e.Str(ev.Status)
	e.FieldStart("orderNumber")
	e.Str(ev.OrderNumber)
	e.ObjEnd()
}

// Marshal returns the JSON payload of ev.
func Marshal(ev Event) []byte {
	var e jx.Encoder
	ev.Encode(&e)
	return e.Bytes()
}

// ErrUnknownEvent is returned by Decode for names outside the union.
var ErrUnknownEvent = errors.New("unknown event")

// MalformedError reports a payload that does not match its event schema.
type MalformedError struct {
	Event   string
	Missing []string
	Err     error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return "malformed " + e.Event + ": " + e.Err.Error()
	}
	return "malformed " + e.Event + ": missing " + strings.Join(e.Missing, ", ")
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Decode parses and validates a payload received under name. Every field of
// the event is required; strings must be non-empty.
func Decode(name string, payload []byte) (Event, error) {
	switch name {
	case NameOrderCreated:
		ev, err := decodeOrderCreated(payload)
		if err != nil {
			return nil, err
		}
		return ev, nil
	case NameOrderStatusUpdated:
		ev, err := decodeOrderStatusUpdated(payload)
		if err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, errors.Wrapf(ErrUnknownEvent, "%q", name)
	}
}

// decodeObject reads payload as exactly one JSON object.
func decodeObject(payload []byte, f func(d *jx.Decoder, key string) error) error {
	d := jx.DecodeBytes(payload)
	if err := d.Obj(f); err != nil {
		return err
	}
	if d.Next() != jx.Invalid {
		return errors.New("unexpected data after object")
	}
	return nil
}

type fieldSet struct {
	names []string
	seen  map[string]bool
}

func newFieldSet(names ...string) *fieldSet {
	return &fieldSet{names: names, seen: make(map[string]bool, len(names))}
}

func (f *fieldSet) mark(name string) { f.seen[name] = true }

func (f *fieldSet) missing() []string {
	var out []string
	for _, n := range f.names {
		if !f.seen[n] {
			out = append(out, n)
		}
	}
	return out
}

// str reads a non-empty string, marking the field present.
func str(d *jx.Decoder, fs *fieldSet, key string, dst *string) error {
	if d.Next() != jx.String {
		return d.Skip()
	}
	v, err := d.Str()
	if err != nil {
		return errors.Wrap(err, key)
	}
	if v != "" {
		*dst = v
		fs.mark(key)
	}
	return nil
}

func decodeOrderCreated(payload []byte) (*OrderCreated, error) {
	var (
		ev OrderCreated
		fs = newFieldSet("id", "orderNumber", "customerName", "total", "orderType", "status", "createdAt")
	)
	err := decodeObject(payload, func(d *jx.Decoder, key string) error {
		switch key {
		case "id":
			return str(d, fs, key, &ev.ID)
		case "orderNumber":
			return str(d, fs, key, &ev.OrderNumber)
		case "customerName":
			return str(d, fs, key, &ev.CustomerName)
		case "orderType":
			return str(d, fs, key, &ev.OrderType)
		case "status":
			return str(d, fs, key, &ev.Status)
		case "total":
			var raw string
			switch d.Next() {
			case jx.Number:
				n, err := d.Num()
				if err != nil {
					return errors.Wrap(err, key)
				}
				raw = n.String()
			case jx.String:
				s, err := d.Str()
				if err != nil {
					return errors.Wrap(err, key)
				}
				raw = s
			default:
				return d.Skip()
			}
			v, err := decimal.NewFromString(raw)
			if err != nil {
				return errors.Wrap(err, key)
			}
			ev.Total = v
			fs.mark(key)
			return nil
		case "createdAt":
			var s string
			if err := str(d, newFieldSet(), key, &s); err != nil || s == "" {
				return err
			}
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return errors.Wrap(err, key)
			}
			ev.CreatedAt = t
			fs.mark(key)
			return nil
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, &MalformedError{Event: NameOrderCreated, Err: err}
	}
	if m := fs.missing(); len(m) > 0 {
		return nil, &MalformedError{Event: NameOrderCreated, Missing: m}
	}
	return &ev, nil
}

func decodeOrderStatusUpdated(payload []byte) (*OrderStatusUpdated, error) {
	var (
		ev OrderStatusUpdated
		fs = newFieldSet("orderId", "status", "orderNumber")
	)
	err := decodeObject(payload, func(d *jx.Decoder, key string) error {
		switch key {
		case "orderId":
			return str(d, fs, key, &ev.OrderID)
		case "status":
			return str(d, fs, key, &ev.Status)
		case "orderNumber":
			return str(d, fs, key, &ev.OrderNumber)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, &MalformedError{Event: NameOrderStatusUpdated, Err: err}
	}
	if m := fs.missing(); len(m) > 0 {
		return nil, &MalformedError{Event: NameOrderStatusUpdated, Missing: m}
	}
	return &ev, nil
}
