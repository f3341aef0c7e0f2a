package order

import (
	"context"
	"slices"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/cafe-orders/internal/domain/cafe"
	"github.com/xenking/cafe-orders/internal/domain/coupon"
	"github.com/xenking/cafe-orders/internal/domain/menu"
	"github.com/xenking/cafe-orders/internal/realtime"
)

// Notifier publishes events out of band. It must not block or fail.
type Notifier interface {
	Dispatch(ctx context.Context, cafeID string, ev realtime.Event)
}

// Params holds the Service dependencies.
type Params struct {
	Cafes   cafe.Repository
	Menu    menu.Repository
	Coupons coupon.Repository
	Orders  Repository
	Store   Store
	Notify  Notifier

	Revalidator *Revalidator
	Writer      *Writer

	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Service places orders and changes their status.
type Service struct {
	cafes    cafe.Repository
	menu     menu.Repository
	coupons  coupon.Repository
	orders   Repository
	notify   Notifier
	reval    *Revalidator
	writer   *Writer
	tracer   trace.Tracer
	placed   metric.Int64Counter
	rejected metric.Int64Counter
}

// NewService creates an order Service.
func NewService(p Params) (*Service, error) {
	if p.Revalidator == nil {
		p.Revalidator = NewRevalidator()
	}
	if p.Writer == nil {
		p.Writer = NewWriter(p.Store, nil)
	}
	meter := p.MeterProvider.Meter("cafe-orders/order")
	placed, err := meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders committed"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	rejected, err := meter.Int64Counter("orders.rejected",
		metric.WithDescription("Order submissions rejected, by kind"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	return &Service{
		cafes:    p.Cafes,
		menu:     p.Menu,
		coupons:  p.Coupons,
		orders:   p.Orders,
		notify:   p.Notify,
		reval:    p.Revalidator,
		writer:   p.Writer,
		tracer:   p.TracerProvider.Tracer("cafe-orders/order"),
		placed:   placed,
		rejected: rejected,
	}, nil
}

// PlaceOrder revalidates sub against server prices, persists it and
// announces it on the cafe channel. A nil error means the order is
// committed, whatever happens to the announcement.
func (s *Service) PlaceOrder(ctx context.Context, cafeID string, sub *Submission) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.Place", trace.WithAttributes(attribute.String("cafe.id", cafeID)))
	defer span.End()

	o, err := s.placeOrder(ctx, cafeID, sub)
	if err != nil {
		kind := KindOf(err)
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", string(kind))))
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		zctx.From(ctx).Info("Order rejected", zap.String("cafe_id", cafeID), zap.Error(err))
		return nil, err
	}

	s.placed.Add(ctx, 1)
	span.SetAttributes(attribute.String("order.number", o.OrderNumber))
	zctx.From(ctx).Info("Order placed",
		zap.String("cafe_id", cafeID),
		zap.String("order_id", o.ID),
		zap.String("order_number", o.OrderNumber),
		zap.Stringer("total", o.Total),
	)

	s.notify.Dispatch(ctx, cafeID, &realtime.OrderCreated{
		ID:           o.ID,
		OrderNumber:  o.OrderNumber,
		CustomerName: o.CustomerName,
		Total:        o.Total,
		OrderType:    string(o.OrderType),
		Status:       string(o.Status),
		CreatedAt:    o.CreatedAt,
	})
	return o, nil
}

func (s *Service) placeOrder(ctx context.Context, cafeID string, sub *Submission) (*Order, error) {
	if err := s.reval.Check(sub); err != nil {
		return nil, err
	}

	c, err := s.cafes.FindByID(ctx, cafeID)
	if err != nil {
		return nil, lookupError(err, cafe.ErrNotFound, "cafe")
	}

	ap, err := s.price(ctx, cafeID, c, sub.Items, sub.OrderType, sub.CouponCode)
	if err != nil {
		return nil, err
	}
	if err := compare(sub, ap.Quote); err != nil {
		return nil, err
	}

	return s.writer.Write(ctx, cafeID, sub, ap)
}

// QuoteRequest asks for the server figures of a cart.
type QuoteRequest struct {
	Items      []CartLine
	OrderType  Type
	CouponCode string
}

// Quote prices a cart with server prices without persisting anything.
func (s *Service) Quote(ctx context.Context, cafeID string, req QuoteRequest) (*Approved, error) {
	ctx, span := s.tracer.Start(ctx, "order.Quote")
	defer span.End()

	if len(req.Items) == 0 {
		return nil, &Error{Kind: KindValidation, Message: "items is required", Fields: []string{"items"}}
	}
	for _, l := range req.Items {
		if l.Quantity <= 0 {
			return nil, &Error{Kind: KindValidation, Message: "quantity must be greater than 0", Fields: []string{"items.quantity"}}
		}
	}

	c, err := s.cafes.FindByID(ctx, cafeID)
	if err != nil {
		return nil, lookupError(err, cafe.ErrNotFound, "cafe")
	}
	return s.price(ctx, cafeID, c, req.Items, req.OrderType, req.CouponCode)
}

func (s *Service) price(
	ctx context.Context,
	cafeID string,
	c *cafe.Cafe,
	lines []CartLine,
	orderType Type,
	code string,
) (*Approved, error) {
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		ids = append(ids, l.MenuItemID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	items, err := s.menu.FindItems(ctx, cafeID, ids, true)
	if err != nil {
		return nil, errors.Wrap(err, "find menu items")
	}

	var cp *coupon.Coupon
	if code = coupon.NormalizeCode(code); code != "" {
		cp, err = s.coupons.FindByCode(ctx, cafeID, code)
		if err != nil && !errors.Is(err, coupon.ErrNotFound) {
			return nil, errors.Wrap(err, "find coupon")
		}
	}

	return s.reval.Price(lines, menu.Index(items), c.Pricing, orderType, code, cp)
}

// UpdateStatus changes the order status and announces it on the cafe channel.
func (s *Service) UpdateStatus(ctx context.Context, cafeID, orderID string, status Status) (*StatusChange, error) {
	if !status.Valid() {
		return nil, &Error{Kind: KindValidation, Message: "unknown status " + string(status), Fields: []string{"status"}}
	}

	ch, err := s.orders.UpdateStatus(ctx, cafeID, orderID, status)
	if err != nil {
		return nil, lookupError(err, ErrNotFound, "order")
	}

	zctx.From(ctx).Info("Order status updated",
		zap.String("cafe_id", cafeID),
		zap.String("order_id", ch.OrderID),
		zap.String("status", string(ch.Status)),
	)
	s.notify.Dispatch(ctx, cafeID, &realtime.OrderStatusUpdated{
		OrderID:     ch.OrderID,
		Status:      string(ch.Status),
		OrderNumber: ch.OrderNumber,
	})
	return ch, nil
}

func lookupError(err, notFound error, what string) error {
	if errors.Is(err, notFound) {
		return &Error{Kind: KindNotFound, Message: what + " not found", Err: err}
	}
	return errors.Wrapf(err, "find %s", what)
}
