package handler

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/cafe-orders/internal/realtime"
)

const (
	frameBuffer    = 32
	stateEventName = "state"
)

type frame struct {
	event string
	data  []byte
}

func eventFrame(ev realtime.Event) frame {
	return frame{event: ev.Name(), data: realtime.Marshal(ev)}
}

func stateFrame(s realtime.State, terminal bool) frame {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("state")
	e.Str(s.String())
	e.FieldStart("terminal")
	e.Bool(terminal)
	e.ObjEnd()
	return frame{event: stateEventName, data: e.Bytes()}
}

func writeFrame(w io.Writer, f frame) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.event, f.data)
	return err
}

// CafeEvents handles GET /cafes/{cafeID}/events, streaming every order
// event of the cafe to a dashboard.
func (h *Handler) CafeEvents(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, func(ch *realtime.Channel, push func(frame)) func() {
		return realtime.Feed(ch, func(ev realtime.Event) {
			push(eventFrame(ev))
		})
	})
}

// TrackOrder handles GET /cafes/{cafeID}/orders/{orderID}/events, streaming
// status updates of a single order.
func (h *Handler) TrackOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	h.stream(w, r, func(ch *realtime.Channel, push func(frame)) func() {
		return realtime.TrackOrder(ch, orderID, func(u *realtime.OrderStatusUpdated) {
			push(eventFrame(u))
		})
	})
}

// stream opens a channel for the request's cafe and relays frames as
// server-sent events until the client leaves or the channel gives up.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, bind func(*realtime.Channel, func(frame)) (unbind func())) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	frames := make(chan frame, frameBuffer)
	push := func(f frame) {
		select {
		case frames <- f:
		default:
			lg.Warn("Dropped frame for slow client", zap.String("event", f.event))
		}
	}

	opts := h.cfg.Realtime
	opts.Logger = lg
	ch, err := realtime.Open(ctx, h.subscriber, chi.URLParam(r, "cafeID"), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer func() { _ = ch.Close() }()

	gone := make(chan struct{})
	var once sync.Once
	unbindState := ch.OnState(func(s realtime.State, terminal bool) {
		if terminal {
			once.Do(func() { close(gone) })
			return
		}
		push(stateFrame(s, false))
	})
	defer unbindState()
	defer bind(ch, push)()
	if ch.Terminal() {
		once.Do(func() { close(gone) })
	} else {
		push(stateFrame(ch.State(), false))
	}

	rc := http.NewResponseController(w)
	// Streams outlive the server write timeout.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		lg.Debug("Write deadline not cleared", zap.Error(err))
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		lg.Warn("Streaming unsupported", zap.Error(err))
		return
	}

	var heartbeat <-chan time.Time
	if h.cfg.Heartbeat > 0 {
		t := time.NewTicker(h.cfg.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-h.closing:
			return
		case <-gone:
			_ = writeFrame(w, stateFrame(realtime.StateDisconnected, true))
			_ = rc.Flush()
			return
		case f := <-frames:
			err = writeFrame(w, f)
		case <-heartbeat:
			_, err = io.WriteString(w, ": ping\n\n")
		}
		if err == nil {
			err = rc.Flush()
		}
		if err != nil {
			lg.Debug("Stream closed", zap.Error(err))
			return
		}
	}
}
