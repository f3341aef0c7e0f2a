package realtime

// Feed binds f to every order event of the channel. It is what a dashboard
// listing all orders uses.
func Feed(ch *Channel, f EventFunc) (unbind func()) {
	return ch.OnEvent(f)
}

// TrackOrder binds f to status updates of a single order. Events for other
// orders of the cafe are ignored.
func TrackOrder(ch *Channel, orderID string, f func(*OrderStatusUpdated)) (unbind func()) {
	return ch.OnEvent(func(ev Event) {
		u, ok := ev.(*OrderStatusUpdated)
		if !ok || u.OrderID != orderID {
			return
		}
		f(u)
	})
}
