package variants

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/utafrali/cartengine/internal/domain"
	"github.com/utafrali/cartengine/internal/event"
	"github.com/utafrali/cartengine/pkg/httpclient"
	"github.com/utafrali/cartengine/pkg/logger"
)

// TagProductItem is the registry tag of ProductItem.
const TagProductItem = "product_line_item"

// CodeOutOfStock is reported by ProductItem when stock runs short.
const CodeOutOfStock = "out_of_stock"

// StockChecker is the inventory port used by ProductItem and
// StockSubscriber. Decrement calls sharing a key are applied once.
type StockChecker interface {
	InStock(ctx context.Context, productID, variantID string, quantity int) (bool, error)
	Decrement(ctx context.Context, productID, variantID string, quantity int, key string) error
}

// ProductItem is a quantity of one catalogue product at a fixed unit price.
type ProductItem struct {
	ProductID string          `json:"product_id" validate:"required"`
	VariantID string          `json:"variant_id,omitempty"`
	Name      string          `json:"name" validate:"required,max=255"`
	UnitPrice decimal.Decimal `json:"unit_price" validate:"gte=0"`
	Quantity  int             `json:"quantity" validate:"gte=1,lte=999"`

	stock  StockChecker
	logger *slog.Logger
}

// Total is quantity times unit price.
func (p *ProductItem) Total() decimal.Decimal {
	return domain.RoundMoney(p.UnitPrice.Mul(decimal.NewFromInt(int64(p.Quantity))))
}

// CheckComplete confirms stock at checkout time. Browsing never calls the
// inventory service.
func (p *ProductItem) CheckComplete(ctx context.Context, forCheckout bool) domain.ErrorSet {
	if !forCheckout || p.stock == nil {
		return nil
	}
	ok, err := p.stock.InStock(ctx, p.ProductID, p.VariantID, p.Quantity)
	if err != nil {
		p.log(ctx).WarnContext(ctx, "stock check failed",
			slog.String("product_id", p.ProductID),
			slog.String("error", err.Error()),
		)
		return domain.ErrorSet{domain.FieldError(CodeOutOfStock, fmt.Sprintf("Stock for %s could not be confirmed.", p.Name), "items")}
	}
	if !ok {
		return domain.ErrorSet{domain.FieldError(CodeOutOfStock, fmt.Sprintf("There are not enough %s in stock.", p.Name), "items")}
	}
	return nil
}

func (p *ProductItem) log(ctx context.Context) *slog.Logger {
	if p.logger != nil {
		return logger.WithContext(ctx, p.logger)
	}
	return logger.FromContext(ctx)
}

// StockSubscriber decrements inventory for every product line of a placed
// order. It runs once the checkout has committed, so a declined or rolled
// back checkout never touches stock. Lines are keyed by order and item ID.
func StockSubscriber(stock StockChecker) event.Subscriber {
	return func(ctx context.Context, evt event.OrderCheckedOut) (any, error) {
		var errs []error
		for _, it := range evt.Items {
			p, ok := it.Data.(*ProductItem)
			if !ok {
				continue
			}
			key := evt.Order.ID.String() + ":" + it.ID.String()
			if err := stock.Decrement(ctx, p.ProductID, p.VariantID, p.Quantity, key); err != nil {
				errs = append(errs, fmt.Errorf("decrement %s x%d: %w", p.ProductID, p.Quantity, err))
			}
		}
		return nil, errors.Join(errs...)
	}
}

// InventoryClient implements StockChecker against the inventory service.
type InventoryClient struct {
	client  httpclient.Doer
	baseURL string
}

// NewInventoryClient creates an inventory client for the service at baseURL.
func NewInventoryClient(client httpclient.Doer, baseURL string) *InventoryClient {
	return &InventoryClient{client: client, baseURL: baseURL}
}

type stockItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id"`
	Quantity  int    `json:"quantity"`
}

// InStock calls POST /api/v1/inventory/check for one item.
func (c *InventoryClient) InStock(ctx context.Context, productID, variantID string, quantity int) (bool, error) {
	payload, err := json.Marshal(map[string]any{
		"items": []stockItem{{ProductID: productID, VariantID: variantID, Quantity: quantity}},
	})
	if err != nil {
		return false, fmt.Errorf("marshal stock check: %w", err)
	}

	var body struct {
		Data struct {
			AllAvailable bool `json:"all_available"`
		} `json:"data"`
	}
	if err := c.send(ctx, http.MethodPost, "/api/v1/inventory/check", payload, "", &body); err != nil {
		return false, err
	}
	return body.Data.AllAvailable, nil
}

// Decrement calls PUT /api/v1/inventory/{product}/variants/{variant} with a
// negative delta. key is sent as the Idempotency-Key, which also makes the
// request safe to retry.
func (c *InventoryClient) Decrement(ctx context.Context, productID, variantID string, quantity int, key string) error {
	payload, err := json.Marshal(map[string]any{"delta": -quantity, "reason": "order"})
	if err != nil {
		return fmt.Errorf("marshal stock adjustment: %w", err)
	}
	path := "/api/v1/inventory/" + url.PathEscape(productID) + "/variants/" + url.PathEscape(variantID)
	return c.send(ctx, http.MethodPut, path, payload, key, nil)
}

func (c *InventoryClient) send(ctx context.Context, method, path string, payload []byte, key string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create inventory request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(httpclient.IdempotencyKeyHeader, key)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := c.client.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("call inventory service: %w", err)
	}
	if resp.StatusCode >= 300 {
		return httpclient.ParseResponseError(resp, "inventory-service")
	}
	defer resp.Body.Close()

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode inventory response: %w", err)
	}
	return nil
}
