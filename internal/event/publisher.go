package event

import (
	"context"
	"fmt"

	"github.com/utafrali/cartengine/internal/domain"
	pkgkafka "github.com/utafrali/cartengine/pkg/kafka"
	"github.com/utafrali/cartengine/pkg/logger"
)

// Kafka topics written by the engine.
var (
	TopicOrderCheckedOut  = pkgkafka.Topic("order", "checked_out")
	TopicInvoiceRequested = pkgkafka.Topic("notification", "invoice_requested")
)

// Aggregate types and the source recorded on every event.
const (
	AggregateTypeOrder = "order"
	SourceCartEngine   = "cart-engine"
)

// Publisher writes an event to a topic. *kafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// OrderCheckedOutData is the payload of an order.checked_out event.
type OrderCheckedOutData struct {
	OrderID           string      `json:"order_id"`
	InvoiceID         string      `json:"invoice_id"`
	CartID            string      `json:"cart_id"`
	UserID            *string     `json:"user_id,omitempty"`
	GuestEmail        string      `json:"guest_email,omitempty"`
	GrandTotal        string      `json:"grand_total"`
	PaymentID         string      `json:"payment_id,omitempty"`
	PaymentMethodType string      `json:"payment_method_type,omitempty"`
	DeliveryAddress   []string    `json:"delivery_address,omitempty"`
	Items             []EntryData `json:"items"`
	Adjustments       []EntryData `json:"adjustments"`
}

// EntryData describes one frozen line item or adjustment.
type EntryData struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Total string `json:"total"`
}

// OrderCheckedOutPublisher returns a subscriber that publishes every
// checkout to TopicOrderCheckedOut.
func OrderCheckedOutPublisher(pub Publisher) Subscriber {
	return func(ctx context.Context, evt OrderCheckedOut) (any, error) {
		data := OrderCheckedOutData{
			OrderID:     evt.Order.ID.String(),
			InvoiceID:   evt.Order.InvoiceID(),
			CartID:      evt.CartID.String(),
			UserID:      evt.Order.UserID,
			GuestEmail:  evt.Order.GuestEmail,
			GrandTotal:  domain.FormatMoney(evt.Order.GrandTotal),
			Items:       make([]EntryData, 0, len(evt.Items)),
			Adjustments: make([]EntryData, 0, len(evt.Adjustments)),
		}
		if evt.Payment != nil {
			data.PaymentID = evt.Payment.ID.String()
			data.PaymentMethodType = evt.Payment.Type
		}
		if evt.DeliveryAddress != nil {
			data.DeliveryAddress = evt.DeliveryAddress.Data.Lines()
		}
		subtotal := domain.Zero
		for _, it := range evt.Items {
			subtotal = subtotal.Add(it.Total())
			data.Items = append(data.Items, EntryData{ID: it.ID.String(), Type: it.Type, Total: domain.FormatMoney(it.Total())})
		}
		for _, a := range evt.Adjustments {
			data.Adjustments = append(data.Adjustments, EntryData{ID: a.ID.String(), Type: a.Type, Total: domain.FormatMoney(a.Total(subtotal))})
		}

		e, err := pkgkafka.NewEvent(TopicOrderCheckedOut, data.OrderID, AggregateTypeOrder, SourceCartEngine, data)
		if err != nil {
			return nil, fmt.Errorf("create order.checked_out event: %w", err)
		}
		if id := logger.CorrelationIDFromContext(ctx); id != "" {
			e.WithCorrelationID(id)
		}

		if err := pub.Publish(ctx, TopicOrderCheckedOut, e); err != nil {
			return nil, fmt.Errorf("publish order.checked_out event: %w", err)
		}
		return nil, nil
	}
}
