package variants

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/pkg/httpclient"
)

// TagGatewayCard is the registry tag of GatewayCard.
const TagGatewayCard = "gateway_card"

var gatewayChargeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "cartengine_gateway_charge_duration_seconds",
	Help:    "Latency of card gateway charge calls.",
	Buckets: prometheus.DefBuckets,
}, []string{"outcome"})

// ChargeInput is the body of a gateway charge request.
type ChargeInput struct {
	Amount    string `json:"amount"`
	CardToken string `json:"card_token"`
	OrderID   string `json:"order_id"`
	InvoiceID string `json:"invoice_id"`
}

// ChargeResult is the gateway's answer to a successful charge.
type ChargeResult struct {
	ChargeID string `json:"charge_id"`
	Last4    string `json:"last4,omitempty"`
	Brand    string `json:"brand,omitempty"`
}

// CardGateway charges tokenized cards through an HTTP payment gateway.
type CardGateway struct {
	client  httpclient.Doer
	baseURL string
}

// NewCardGateway creates a gateway client. client is normally a
// circuit-breaker-wrapped httpclient.Client.
func NewCardGateway(client httpclient.Doer, baseURL string) *CardGateway {
	return &CardGateway{client: client, baseURL: baseURL}
}

// Charge posts a charge keyed by the order ID, so a retried request never
// charges twice. Declines come back as *domain.PaymentError.
func (g *CardGateway) Charge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	start := time.Now()
	result, err := g.charge(ctx, in)

	outcome := "success"
	switch err.(type) {
	case nil:
	case *domain.PaymentError:
		outcome = "declined"
	default:
		outcome = "error"
	}
	gatewayChargeDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return result, err
}

func (g *CardGateway) charge(ctx context.Context, in ChargeInput) (*ChargeResult, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal charge: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/charges", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpclient.IdempotencyKeyHeader, in.OrderID)

	resp, err := g.client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("call card gateway: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusPaymentRequired, resp.StatusCode == http.StatusUnprocessableEntity:
		body, raw, ok := httpclient.ReadErrorBody(resp)
		if !ok {
			return nil, &domain.PaymentError{Message: "The card was declined.", Info: string(raw)}
		}
		var info any = body.Message
		if len(body.Info) > 0 {
			info = body.Info
		}
		return nil, &domain.PaymentError{Message: body.Message, Info: info}
	case resp.StatusCode >= 300:
		// Anything else is a fault between us and the gateway. Its body can
		// carry credentials or internals, so only the status is kept.
		_, _, _ = httpclient.ReadErrorBody(resp)
		return nil, fmt.Errorf("card gateway status %d", resp.StatusCode)
	}
	defer resp.Body.Close()

	var result ChargeResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode charge result: %w", err)
	}
	return &result, nil
}

// GatewayCard is a card tokenized by the gateway. A card that is not
// reusable is deactivated after its first successful charge.
type GatewayCard struct {
	CardToken string `json:"card_token" validate:"required"`
	Reusable  bool   `json:"reusable"`

	gateway *CardGateway
}

// MakePayment charges req.Amount to the card.
func (c *GatewayCard) MakePayment(ctx context.Context, req domain.ChargeRequest) (*domain.Payment, error) {
	if c.gateway == nil {
		return nil, &domain.PaymentError{
			Message: "Card payments are currently unavailable.",
			Info:    "no card gateway configured",
		}
	}
	result, err := c.gateway.Charge(ctx, ChargeInput{
		Amount:    domain.FormatMoney(req.Amount),
		CardToken: c.CardToken,
		OrderID:   req.Order.ID.String(),
		InvoiceID: req.Order.InvoiceID(),
	})
	if err != nil {
		return nil, err
	}
	if !c.Reusable {
		req.Method.Deactivate()
	}
	return domain.NewPayment(req, result), nil
}
