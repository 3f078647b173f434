package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/pkg/logger"
)

var subscriberFailures = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "cartengine_checkout_subscriber_failures_total",
	Help: "Post-checkout subscribers that returned an error or panicked.",
}, []string{"subscriber"})

// OrderCheckedOut is delivered to subscribers once the checkout transaction
// has committed.
type OrderCheckedOut struct {
	CartID          uuid.UUID
	Order           *domain.Order
	Items           []*domain.LineItem
	Adjustments     []*domain.Adjustment
	Payment         *domain.Payment
	DeliveryAddress *domain.DeliveryAddress
}

// Subscriber reacts to a completed checkout. A map[string]any result is
// merged into the checkout response body; nil is ignored.
type Subscriber func(ctx context.Context, evt OrderCheckedOut) (any, error)

type subscription struct {
	name string
	fn   Subscriber
}

// Notifier fans an OrderCheckedOut out to its subscribers in registration
// order. A failing subscriber never affects the order or other subscribers.
type Notifier struct {
	subs   []subscription
	logger *slog.Logger
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// Subscribe adds fn under name. Call it during startup only.
func (n *Notifier) Subscribe(name string, fn Subscriber) {
	n.subs = append(n.subs, subscription{name: name, fn: fn})
}

// Notify runs every subscriber and returns the merged response extras.
// Later subscribers overwrite keys set by earlier ones.
func (n *Notifier) Notify(ctx context.Context, evt OrderCheckedOut) map[string]any {
	extra := map[string]any{}
	log := logger.WithContext(ctx, n.logger).With(slog.String("order_id", evt.Order.ID.String()))

	for _, sub := range n.subs {
		result, err := n.call(ctx, sub, evt)
		if err != nil {
			subscriberFailures.WithLabelValues(sub.name).Inc()
			log.ErrorContext(ctx, "checkout subscriber failed",
				slog.String("subscriber", sub.name),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch v := result.(type) {
		case nil:
		case map[string]any:
			for k, val := range v {
				extra[k] = val
			}
		default:
			log.WarnContext(ctx, "checkout subscriber returned unexpected result",
				slog.String("subscriber", sub.name),
				slog.String("type", fmt.Sprintf("%T", result)),
			)
		}
	}
	return extra
}

func (n *Notifier) call(ctx context.Context, sub subscription, evt OrderCheckedOut) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return sub.fn(ctx, evt)
}
