package event

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/pkg/httpclient"
	pkgkafka "github.com/utafrali/cartengine/pkg/kafka"
	"github.com/utafrali/cartengine/pkg/logger"
)

// InvoiceEmailKey is the response body key set by InvoiceEmailSubscriber.
const InvoiceEmailKey = "invoice_email"

// UserEmailLookup resolves the email address of a registered user.
type UserEmailLookup interface {
	EmailFor(ctx context.Context, userID string) (string, error)
}

// InvoiceRequestedData is the payload of a notification.invoice_requested
// event, consumed by the notification service.
type InvoiceRequestedData struct {
	OrderID    string `json:"order_id"`
	InvoiceID  string `json:"invoice_id"`
	Recipient  string `json:"recipient"`
	GrandTotal string `json:"grand_total"`
}

// InvoiceEmailSubscriber requests an invoice email for every order and
// reports the recipient under InvoiceEmailKey, or nil when the order has
// nobody to send it to. users may be nil, in which case only guest orders
// get an invoice.
func InvoiceEmailSubscriber(pub Publisher, users UserEmailLookup) Subscriber {
	return func(ctx context.Context, evt OrderCheckedOut) (any, error) {
		recipient, err := recipientFor(ctx, evt.Order, users)
		if err != nil {
			return nil, err
		}
		if recipient == "" {
			return map[string]any{InvoiceEmailKey: nil}, nil
		}

		data := InvoiceRequestedData{
			OrderID:    evt.Order.ID.String(),
			InvoiceID:  evt.Order.InvoiceID(),
			Recipient:  recipient,
			GrandTotal: domain.FormatMoney(evt.Order.GrandTotal),
		}
		e, err := pkgkafka.NewEvent(TopicInvoiceRequested, data.OrderID, AggregateTypeOrder, SourceCartEngine, data)
		if err != nil {
			return nil, fmt.Errorf("create invoice_requested event: %w", err)
		}
		if id := logger.CorrelationIDFromContext(ctx); id != "" {
			e.WithCorrelationID(id)
		}
		if err := pub.Publish(ctx, TopicInvoiceRequested, e); err != nil {
			return nil, fmt.Errorf("publish invoice_requested event: %w", err)
		}

		return map[string]any{InvoiceEmailKey: recipient}, nil
	}
}

func recipientFor(ctx context.Context, o *domain.Order, users UserEmailLookup) (string, error) {
	if o.GuestEmail != "" {
		return o.GuestEmail, nil
	}
	if o.UserID == nil || users == nil {
		return "", nil
	}
	email, err := users.EmailFor(ctx, *o.UserID)
	if err != nil {
		return "", fmt.Errorf("look up email of user %s: %w", *o.UserID, err)
	}
	return email, nil
}

// UserServiceClient looks emails up in the user service over HTTP.
type UserServiceClient struct {
	client  httpclient.Doer
	baseURL string
}

// NewUserServiceClient creates a client for the user service at baseURL.
func NewUserServiceClient(client httpclient.Doer, baseURL string) *UserServiceClient {
	return &UserServiceClient{client: client, baseURL: baseURL}
}

// EmailFor fetches GET /api/v1/users/{id} and returns its email.
func (c *UserServiceClient) EmailFor(ctx context.Context, userID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/users/"+url.PathEscape(userID), nil)
	if err != nil {
		return "", fmt.Errorf("create user request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return "", fmt.Errorf("call user service: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", httpclient.ParseResponseError(resp, "user-service")
	}
	defer resp.Body.Close()

	var body struct {
		Data struct {
			Email string `json:"email"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode user response: %w", err)
	}
	return body.Data.Email, nil
}
